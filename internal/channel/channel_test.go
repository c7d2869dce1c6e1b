package channel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannel_StatusPartialComplete(t *testing.T) {
	c := New()
	sink := NewRecordingSink()
	c.Register("t1", sink)

	require.NoError(t, c.Status(context.Background(), "t1", PhaseExecuting, "coder", ""))
	require.NoError(t, c.Partial(context.Background(), "t1", "working..."))
	require.NoError(t, c.Complete(context.Background(), "t1", "done", []string{"out.txt"}))

	require.Len(t, sink.Events, 3)
	assert.Equal(t, KindStatus, sink.Events[0].Kind)
	assert.Equal(t, KindPartial, sink.Events[1].Kind)
	assert.Equal(t, KindComplete, sink.Events[2].Kind)
	assert.Equal(t, []string{"out.txt"}, sink.Events[2].Files)
}

func TestChannel_CompleteUnregistersSink(t *testing.T) {
	c := New()
	sink := NewRecordingSink()
	c.Register("t1", sink)
	require.NoError(t, c.Complete(context.Background(), "t1", "done", nil))

	// A second complete call against the now-unregistered task is a no-op,
	// not an error.
	require.NoError(t, c.Complete(context.Background(), "t1", "done again", nil))
	assert.Len(t, sink.Events, 1)
}

func TestChannel_NoSinkIsNoop(t *testing.T) {
	c := New()
	assert.NoError(t, c.Status(context.Background(), "missing", PhasePlanning, "", ""))
	assert.NoError(t, c.SendFile(context.Background(), "missing", "a", "b"))
	assert.NoError(t, c.DeliverText(context.Background(), "missing", "x"))
}

func TestChannel_SendFileAndDeliverText(t *testing.T) {
	c := New()
	sink := NewRecordingSink()
	c.Register("t1", sink)
	require.NoError(t, c.SendFile(context.Background(), "t1", "/tmp/a.txt", "caption"))
	require.NoError(t, c.DeliverText(context.Background(), "t1", "hello"))
	assert.Equal(t, [][2]string{{"/tmp/a.txt", "caption"}}, sink.Files)
	assert.Equal(t, []string{"hello"}, sink.Texts)
}
