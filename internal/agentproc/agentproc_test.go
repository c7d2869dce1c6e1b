package agentproc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLaunch_RunsAndExitsCleanly(t *testing.T) {
	h, err := Launch(context.Background(), Spec{AgentID: "a1", Command: "true"})
	require.NoError(t, err)
	assert.NoError(t, h.Wait())
}

func TestLaunch_NonZeroExitReportedAsError(t *testing.T) {
	h, err := Launch(context.Background(), Spec{AgentID: "a1", Command: "false"})
	require.NoError(t, err)
	assert.Error(t, h.Wait())
}

func TestHandle_TerminateStopsLongRunningProcess(t *testing.T) {
	h, err := Launch(context.Background(), Spec{AgentID: "a1", Command: "sleep", Args: []string{"30"}})
	require.NoError(t, err)

	require.NoError(t, h.Terminate())

	done := make(chan error, 1)
	go func() { done <- h.Wait() }()

	select {
	case <-time.After(2 * time.Second):
		t.Fatal("process did not exit after SIGTERM")
	case <-done:
	}
}

func TestHandle_KillStopsUncooperativeProcess(t *testing.T) {
	h, err := Launch(context.Background(), Spec{AgentID: "a1", Command: "sleep", Args: []string{"30"}})
	require.NoError(t, err)

	require.NoError(t, h.Kill())
	err = h.Wait()
	assert.Error(t, err)
}

func TestManager_TrackUntrackKillAll(t *testing.T) {
	m := NewManager()
	h, err := Launch(context.Background(), Spec{AgentID: "a1", Command: "sleep", Args: []string{"30"}})
	require.NoError(t, err)
	m.Track(h)
	assert.Equal(t, 1, m.Count())

	got, ok := m.Get("a1")
	require.True(t, ok)
	assert.Same(t, h, got)

	require.NoError(t, m.KillAll())
	_ = h.Wait()

	m.Untrack("a1")
	assert.Equal(t, 0, m.Count())
}

func TestHandle_ExitedIsNonBlocking(t *testing.T) {
	h, err := Launch(context.Background(), Spec{AgentID: "a1", Command: "true"})
	require.NoError(t, err)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if exited, _ := h.Exited(); exited {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("process never reported as exited")
}
