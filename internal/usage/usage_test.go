package usage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomwork/loom/internal/resilience"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_RecordAndSummary(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Record(resilience.UsageRecord{Provider: "openai", Model: "gpt-4", Success: true, LatencyMS: 120, Timestamp: 1}))
	require.NoError(t, s.Record(resilience.UsageRecord{Provider: "openai", Model: "gpt-4", Success: false, Retries: 2, LatencyMS: 80, Timestamp: 2}))
	require.NoError(t, s.Record(resilience.UsageRecord{Provider: "anthropic", Model: "claude", Success: true, FailoverUsed: true, LatencyMS: 200, Timestamp: 3}))

	sum, err := s.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.TotalCalls)
	assert.Equal(t, 2, sum.Successes)
	assert.Equal(t, 1, sum.Failures)
	assert.Equal(t, 2, sum.RetryCount)
	assert.Equal(t, 1, sum.FailoverCount)
	assert.Equal(t, 2, sum.ByModel["gpt-4"].Calls)
	assert.Equal(t, 1, sum.ByModel["claude"].Successes)
}

func TestStore_EpisodeRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordEpisode(ctx, "coder-1", "task-1", `{"outcome":"ok"}`, 10))
	require.NoError(t, s.RecordEpisode(ctx, "coder-1", "task-2", `{"outcome":"fail"}`, 20))
	require.NoError(t, s.RecordEpisode(ctx, "reviewer-1", "task-3", `{"outcome":"ok"}`, 15))

	episodes, err := s.EpisodesForAgent(ctx, "coder-1", 10)
	require.NoError(t, err)
	require.Len(t, episodes, 2)
	assert.Equal(t, "task-2", episodes[0].TaskID) // most recent first
}
