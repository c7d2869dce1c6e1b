package worker

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/loomwork/loom/internal/critique"
)

// toolCall is one parsed invocation request from a model response.
type toolCall struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params"`
}

// parseToolCalls extracts fenced ```tool_call JSON blocks from text, per
// spec.md §4.8's "parse tool calls from the model response" step. Mirrors
// internal/subtask's fenced-block convention for the planner's sub-task
// output.
func parseToolCalls(text string) []toolCall {
	var calls []toolCall
	for _, block := range fencedBlocks(text, "tool_call") {
		var c toolCall
		if err := json.Unmarshal([]byte(block), &c); err == nil && c.Name != "" {
			calls = append(calls, c)
		}
	}
	return calls
}

// critiqueResponse is the wire shape a reviewer's model call must produce.
type critiqueResponse struct {
	Scores     critique.Scores `json:"scores"`
	Confidence float64         `json:"confidence"`
	Items      []critique.Item `json:"items"`
}

// parseCritique extracts a fenced ```critique JSON block and validates it
// into a critique.Spec via critique.New.
func parseCritique(text string) (critique.Spec, error) {
	blocks := fencedBlocks(text, "critique")
	if len(blocks) == 0 {
		return critique.Spec{}, fmt.Errorf("worker: no critique block in reviewer response")
	}
	var resp critiqueResponse
	if err := json.Unmarshal([]byte(blocks[0]), &resp); err != nil {
		return critique.Spec{}, fmt.Errorf("worker: parsing critique block: %w", err)
	}
	return critique.New(resp.Scores, resp.Confidence, resp.Items)
}

// fencedBlocks returns the inner body of every ```<tag> ... ``` block in
// text, tag excluded.
func fencedBlocks(text, tag string) []string {
	var blocks []string
	fence := "```" + tag
	var cur []string
	inBlock := false
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case !inBlock && trimmed == fence:
			inBlock = true
		case inBlock && trimmed == "```":
			blocks = append(blocks, strings.Join(cur, "\n"))
			cur = nil
			inBlock = false
		case inBlock:
			cur = append(cur, line)
		}
	}
	return blocks
}
