package subtask_test

import (
	"testing"

	"github.com/loomwork/loom/internal/subtask"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeParse_RoundTrip(t *testing.T) {
	s := subtask.Spec{
		Objective:    "implement the CSV parser",
		Constraints:  []string{"no external deps"},
		OutputFormat: subtask.FormatCode,
		Complexity:   subtask.Complex,
		ParentIntent: "build me a CSV tool",
	}
	text, err := subtask.Serialize(s)
	require.NoError(t, err)

	got, ok := subtask.Parse(text)
	require.True(t, ok)
	assert.Equal(t, s, got)
}

func TestParse_RejectsMissingObjective(t *testing.T) {
	_, ok := subtask.Parse("```subtask\n{}\n```")
	assert.False(t, ok)
}

func TestExtract_ModernBlocksCappedAtThree(t *testing.T) {
	mk := func(obj string) string {
		text, _ := subtask.Serialize(subtask.Spec{Objective: obj})
		return text
	}
	planner := mk("one") + "\n" + mk("two") + "\n" + mk("three") + "\n" + mk("four")

	result := subtask.Extract(planner, "original ask")
	assert.Len(t, result.Specs, 3)
	assert.NotEmpty(t, result.MergeNote)
	for _, s := range result.Specs {
		assert.Equal(t, "original ask", s.ParentIntent)
	}
}

func TestExtract_LegacyFormat(t *testing.T) {
	planner := "Plan:\nTASK: implement the parser\nCOMPLEXITY: complex\n\nTASK: review the parser\nCOMPLEXITY: simple\n"
	result := subtask.Extract(planner, "parse csv")
	require.Len(t, result.Specs, 2)
	assert.Equal(t, "implement the parser", result.Specs[0].Objective)
	assert.Equal(t, subtask.Complex, result.Specs[0].Complexity)
	assert.Equal(t, "implement", result.Specs[0].RequiredRole)

	assert.Equal(t, "review the parser", result.Specs[1].Objective)
	assert.Equal(t, subtask.Simple, result.Specs[1].Complexity)
	assert.Equal(t, "review", result.Specs[1].RequiredRole)
}

func TestExtract_NoMatchesReturnsEmpty(t *testing.T) {
	result := subtask.Extract("just a plain answer, no sub-tasks here", "q")
	assert.Empty(t, result.Specs)
	assert.Empty(t, result.MergeNote)
}
