// Package critique implements the CritiqueSpec model of spec.md §3.2: five
// weighted dimension scores, a composite, and the verdict rules a reviewer
// agent's output must satisfy before the Task Board will accept it.
package critique

import "fmt"

// Verdict is the reviewer's overall judgement.
type Verdict string

const (
	LGTM       Verdict = "LGTM"
	NeedsWork  Verdict = "NEEDS_WORK"
	maxItems           = 3
	lgtmFloor          = 8
	failCeiling        = 5
)

// Dimension names and their composite weights, spec.md §3.2.
const (
	DimAccuracy     = "accuracy"
	DimCompleteness = "completeness"
	DimTechnical    = "technical"
	DimCalibration  = "calibration"
	DimEfficiency   = "efficiency"
)

var weights = map[string]float64{
	DimAccuracy:     0.30,
	DimCompleteness: 0.20,
	DimTechnical:    0.20,
	DimCalibration:  0.20,
	DimEfficiency:   0.10,
}

var dimensionOrder = []string{DimAccuracy, DimCompleteness, DimTechnical, DimCalibration, DimEfficiency}

// Item is one actionable fix tied to the dimension that triggered it.
type Item struct {
	Dimension string `json:"dimension"`
	Note      string `json:"note"`
}

// Scores holds the five raw [1,10] integer dimension scores.
type Scores struct {
	Accuracy     int `json:"accuracy"`
	Completeness int `json:"completeness"`
	Technical    int `json:"technical"`
	Calibration  int `json:"calibration"`
	Efficiency   int `json:"efficiency"`
}

func (s Scores) byDimension() map[string]int {
	return map[string]int{
		DimAccuracy:     s.Accuracy,
		DimCompleteness: s.Completeness,
		DimTechnical:    s.Technical,
		DimCalibration:  s.Calibration,
		DimEfficiency:   s.Efficiency,
	}
}

// Spec is a complete critique: dimension scores, derived composite and
// verdict, up to three items, and the reviewer's confidence.
type Spec struct {
	Scores     Scores  `json:"scores"`
	Composite  float64 `json:"composite"`
	Verdict    Verdict `json:"verdict"`
	Items      []Item  `json:"items"`
	Confidence float64 `json:"confidence"`
}

// New validates raw dimension scores and confidence, computes the
// composite, and derives the verdict per spec.md §3.2's rules:
//
//	all dims >= 8  -> LGTM, items must be empty
//	any dim  <  5  -> NEEDS_WORK, with an item for every failing dimension
//
// items beyond the first three of the caller-supplied list are dropped,
// but every dimension below the fail ceiling must be represented among the
// kept items or New returns an error — a truncated critique that hides a
// failing dimension is invalid.
func New(s Scores, confidence float64, items []Item) (Spec, error) {
	if confidence < 0 || confidence > 1 {
		return Spec{}, fmt.Errorf("critique: confidence %v out of [0,1]", confidence)
	}
	byDim := s.byDimension()
	for dim, v := range byDim {
		if v < 1 || v > 10 {
			return Spec{}, fmt.Errorf("critique: dimension %s score %d out of [1,10]", dim, v)
		}
	}

	composite := Composite(s)

	allHigh := true
	var failing []string
	for _, dim := range dimensionOrder {
		v := byDim[dim]
		if v < lgtmFloor {
			allHigh = false
		}
		if v < failCeiling {
			failing = append(failing, dim)
		}
	}

	verdict := NeedsWork
	if allHigh {
		verdict = LGTM
		items = nil
	}

	if verdict == NeedsWork {
		covered := make(map[string]bool, len(items))
		kept := items
		if len(kept) > maxItems {
			kept = kept[:maxItems]
		}
		for _, it := range kept {
			covered[it.Dimension] = true
		}
		for _, dim := range failing {
			if !covered[dim] {
				return Spec{}, fmt.Errorf("critique: dimension %s scored below %d but has no item", dim, failCeiling)
			}
		}
		items = kept
	}

	return Spec{
		Scores:     s,
		Composite:  composite,
		Verdict:    verdict,
		Items:      items,
		Confidence: confidence,
	}, nil
}

// Composite returns the weighted sum of dimension scores. Exported
// separately so callers (and the idempotence-law test in §8) can verify it
// independently of verdict derivation.
func Composite(s Scores) float64 {
	byDim := s.byDimension()
	var total float64
	for dim, w := range weights {
		total += float64(byDim[dim]) * w
	}
	return total
}
