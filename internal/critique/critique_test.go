package critique_test

import (
	"testing"

	"github.com/loomwork/loom/internal/critique"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_AllHighIsLGTM(t *testing.T) {
	s, err := critique.New(critique.Scores{
		Accuracy: 9, Completeness: 8, Technical: 9, Calibration: 8, Efficiency: 10,
	}, 0.9, nil)
	require.NoError(t, err)
	assert.Equal(t, critique.LGTM, s.Verdict)
	assert.Empty(t, s.Items)
}

func TestNew_LowDimensionRequiresItem(t *testing.T) {
	_, err := critique.New(critique.Scores{
		Accuracy: 4, Completeness: 7, Technical: 7, Calibration: 7, Efficiency: 7,
	}, 0.5, nil)
	assert.Error(t, err)

	s, err := critique.New(critique.Scores{
		Accuracy: 4, Completeness: 7, Technical: 7, Calibration: 7, Efficiency: 7,
	}, 0.5, []critique.Item{{Dimension: critique.DimAccuracy, Note: "fix the math"}})
	require.NoError(t, err)
	assert.Equal(t, critique.NeedsWork, s.Verdict)
	assert.Len(t, s.Items, 1)
}

func TestNew_TruncatesToThreeItems(t *testing.T) {
	items := []critique.Item{
		{Dimension: critique.DimAccuracy, Note: "a"},
		{Dimension: critique.DimCompleteness, Note: "b"},
		{Dimension: critique.DimTechnical, Note: "c"},
		{Dimension: critique.DimCalibration, Note: "d"},
	}
	s, err := critique.New(critique.Scores{
		Accuracy: 4, Completeness: 4, Technical: 4, Calibration: 7, Efficiency: 7,
	}, 0.5, items)
	require.NoError(t, err)
	assert.Len(t, s.Items, 3)
}

func TestComposite_WeightedSum(t *testing.T) {
	s := critique.Scores{Accuracy: 10, Completeness: 10, Technical: 10, Calibration: 10, Efficiency: 10}
	assert.InDelta(t, 10.0, critique.Composite(s), 1e-9)

	s2 := critique.Scores{Accuracy: 10, Completeness: 5, Technical: 5, Calibration: 5, Efficiency: 5}
	want := 10*0.30 + 5*0.20 + 5*0.20 + 5*0.20 + 5*0.10
	assert.InDelta(t, want, critique.Composite(s2), 1e-9)
}

func TestNew_OutOfRangeScore(t *testing.T) {
	_, err := critique.New(critique.Scores{Accuracy: 11, Completeness: 5, Technical: 5, Calibration: 5, Efficiency: 5}, 0.5, nil)
	assert.Error(t, err)
}

func TestNew_ConfidenceOutOfRange(t *testing.T) {
	_, err := critique.New(critique.Scores{Accuracy: 9, Completeness: 9, Technical: 9, Calibration: 9, Efficiency: 9}, 1.5, nil)
	assert.Error(t, err)
}
