// Package subtask implements the SubTaskSpec model of spec.md §3.3 and the
// sub-task extraction rules of §4.7: parsing a Planner's free-text result
// into structured tickets, in either the modern JSON-block format or the
// legacy "TASK: / COMPLEXITY:" line format.
package subtask

import (
	"encoding/json"
	"regexp"
	"strings"
)

// OutputFormat is the SubTaskSpec.output_format enum.
type OutputFormat string

const (
	FormatText         OutputFormat = "text"
	FormatMarkdownTable OutputFormat = "markdown_table"
	FormatJSON          OutputFormat = "json"
	FormatCode          OutputFormat = "code"
	FormatFile          OutputFormat = "file"
)

// Complexity gates the critique stage per spec.md §3.1.
type Complexity string

const (
	Simple  Complexity = "simple"
	Normal  Complexity = "normal"
	Complex Complexity = "complex"
)

// A2AHint carries optional external-delegation metadata (agent-to-agent
// handoff); the core treats it as opaque pass-through.
type A2AHint struct {
	Target string            `json:"target,omitempty"`
	Extra  map[string]string `json:"extra,omitempty"`
}

// Spec is a structured ticket produced by the Planner and consumed by the
// Executor, serializable to/from a task's description field.
type Spec struct {
	Objective     string            `json:"objective"`
	Constraints   []string          `json:"constraints,omitempty"`
	Input         map[string]string `json:"input,omitempty"`
	OutputFormat  OutputFormat      `json:"output_format,omitempty"`
	ToolHint      []string          `json:"tool_hint,omitempty"`
	Complexity    Complexity        `json:"complexity,omitempty"`
	ParentIntent  string            `json:"parent_intent,omitempty"`
	A2AHint       *A2AHint          `json:"a2a_hint,omitempty"`
	RequiredRole  string            `json:"required_role,omitempty"`
}

// Serialize renders the spec to its on-disk (task description) form: a
// fenced JSON block, so round-tripping through Parse is the identity
// transform spec.md §8 requires.
func Serialize(s Spec) (string, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", err
	}
	return "```subtask\n" + string(data) + "\n```", nil
}

// Parse decodes a single SubTaskSpec previously produced by Serialize.
func Parse(description string) (Spec, bool) {
	body := strings.TrimSpace(description)
	body = strings.TrimPrefix(body, "```subtask")
	body = strings.TrimPrefix(body, "```json")
	body = strings.TrimSuffix(body, "```")
	body = strings.TrimSpace(body)

	var s Spec
	if err := json.Unmarshal([]byte(body), &s); err != nil {
		return Spec{}, false
	}
	if s.Objective == "" {
		return Spec{}, false
	}
	if s.OutputFormat == "" {
		s.OutputFormat = FormatText
	}
	if s.Complexity == "" {
		s.Complexity = Normal
	}
	return s, true
}

const maxSubtasks = 3

// legacyTaskLine and legacyComplexityLine match the two lines of one
// "TASK: ... COMPLEXITY: ..." record in the planner's free-text output, e.g.:
//
//	TASK: implement the CSV parser
//	COMPLEXITY: normal
var legacyTaskLine = regexp.MustCompile(`(?im)^\s*TASK:\s*(.+)$`)
var legacyComplexityLine = regexp.MustCompile(`(?im)^\s*COMPLEXITY:\s*(\w+)`)

// reviewSignal keywords infer required_role = review when present in the
// objective text; everything else defaults to "implement".
var reviewSignal = regexp.MustCompile(`(?i)\b(review|audit|verify)\b`)

// ParseResult is the outcome of extracting sub-tasks from a planner result:
// the accepted specs (capped at three) plus an optional merge note recorded
// on the first spec when extras were dropped.
type ParseResult struct {
	Specs     []Spec
	MergeNote string
}

// Extract parses a Planner's free-text result into at most three
// SubTaskSpecs, preferring modern fenced ```subtask blocks and falling back
// to the legacy TASK:/COMPLEXITY: line format. parentIntent is stamped onto
// every extracted spec.
func Extract(plannerResult, parentIntent string) ParseResult {
	var specs []Spec

	for _, block := range fencedSubtaskBlocks(plannerResult) {
		if s, ok := Parse(block); ok {
			specs = append(specs, s)
		}
	}

	if len(specs) == 0 {
		specs = extractLegacy(plannerResult)
	}

	for i := range specs {
		specs[i].ParentIntent = parentIntent
		if specs[i].RequiredRole == "" {
			specs[i].RequiredRole = inferRole(specs[i].Objective)
		}
	}

	result := ParseResult{Specs: specs}
	if len(specs) > maxSubtasks {
		result.Specs = specs[:maxSubtasks]
		result.MergeNote = "MERGE_NOTE: additional sub-tasks were merged; excess specs dropped"
	}
	return result
}

func fencedSubtaskBlocks(text string) []string {
	var blocks []string
	lines := strings.Split(text, "\n")
	var cur []string
	inBlock := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !inBlock && (trimmed == "```subtask" || trimmed == "```json") {
			inBlock = true
			cur = []string{trimmed}
			continue
		}
		if inBlock {
			cur = append(cur, line)
			if trimmed == "```" {
				inBlock = false
				blocks = append(blocks, strings.Join(cur, "\n"))
				cur = nil
			}
		}
	}
	return blocks
}

func extractLegacy(text string) []Spec {
	taskMatches := legacyTaskLine.FindAllStringSubmatchIndex(text, -1)
	if len(taskMatches) == 0 {
		return nil
	}

	var specs []Spec
	for i, m := range taskMatches {
		objective := strings.TrimSpace(text[m[2]:m[3]])

		// Search the slice of text up to the next TASK: line (or EOF) for a
		// COMPLEXITY: tag belonging to this entry.
		end := len(text)
		if i+1 < len(taskMatches) {
			end = taskMatches[i+1][0]
		}
		segment := text[m[1]:end]

		complexity := Normal
		if cm := legacyComplexityLine.FindStringSubmatch(segment); cm != nil {
			switch strings.ToLower(cm[1]) {
			case "simple":
				complexity = Simple
			case "complex":
				complexity = Complex
			default:
				complexity = Normal
			}
		}

		specs = append(specs, Spec{
			Objective:    objective,
			Complexity:   complexity,
			OutputFormat: FormatText,
		})
	}
	return specs
}

func inferRole(objective string) string {
	if reviewSignal.MatchString(objective) {
		return "review"
	}
	return "implement"
}
