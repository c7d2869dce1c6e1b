package orchestrator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomwork/loom/internal/board"
	"github.com/loomwork/loom/internal/channel"
	"github.com/loomwork/loom/internal/critique"
	"github.com/loomwork/loom/internal/mailbox"
	"github.com/loomwork/loom/internal/router"
	"github.com/loomwork/loom/internal/wakeup"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *board.Board, *mailbox.Store) {
	t.Helper()
	dir := t.TempDir()
	b := board.New(filepath.Join(dir, "task_board.json"), nil)
	mb := mailbox.New(filepath.Join(dir, "mailboxes"), nil)
	wb := wakeup.New(filepath.Join(dir, "task_signals"))
	ch := channel.New()
	agentsByRole := map[string][]string{"review": {"reviewer-1"}}
	o := New(b, mb, wb, ch, agentsByRole, "planner-1", nil)
	return o, b, mb
}

func TestSubmit_ShortInputIsSimpleDirectAnswer(t *testing.T) {
	o, b, _ := newTestOrchestrator(t)
	id, err := o.Submit("hi", board.Provenance{Channel: "cli"})
	require.NoError(t, err)

	task, err := b.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "planner", task.RequiredRole)
	assert.Equal(t, "simple", string(task.Complexity))
	assert.Equal(t, router.DirectAnswer, router.Classify(task.Description))
}

func TestSubmit_MultiStepIsPipeline(t *testing.T) {
	o, b, _ := newTestOrchestrator(t)
	id, err := o.Submit("first research the topic and then write a report", board.Provenance{})
	require.NoError(t, err)

	task, err := b.Get(id)
	require.NoError(t, err)
	assert.NotEqual(t, "simple", string(task.Complexity))
}

func TestExtractSubtasks_CreatesChildren(t *testing.T) {
	o, b, _ := newTestOrchestrator(t)
	parent, err := b.Create(board.CreateOptions{Description: "plan it", RequiredRole: "planner"})
	require.NoError(t, err)

	plannerResult := "TASK: implement the parser\nCOMPLEXITY: normal\n\nTASK: review the parser\nCOMPLEXITY: normal\n"
	_, err = b.ClaimNext("planner-1", 0, "planner")
	require.NoError(t, err)
	_, err = b.SubmitForReview(parent.ID, "planner-1", plannerResult)
	require.NoError(t, err)

	parent, err = b.Get(parent.ID)
	require.NoError(t, err)
	parent.Result = plannerResult

	n, err := o.ExtractSubtasks(parent)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	children, err := b.ListChildren(parent.ID)
	require.NoError(t, err)
	assert.Len(t, children, 2)
}

func TestRequestCritique_SendsMailboxMessage(t *testing.T) {
	o, b, mb := newTestOrchestrator(t)
	task, err := b.Create(board.CreateOptions{Description: "implement x", RequiredRole: "implement"})
	require.NoError(t, err)

	require.NoError(t, o.RequestCritique(task))

	msgs, err := mb.Read("reviewer-1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, mailbox.CritiqueReq, msgs[0].Type)
}

func TestTryCloseOut_TriggersSynthesisWhenChildrenComplete(t *testing.T) {
	o, b, mb := newTestOrchestrator(t)
	parent, err := b.Create(board.CreateOptions{Description: "plan it", RequiredRole: "planner"})
	require.NoError(t, err)
	_, err = b.ClaimNext("planner-1", 0, "planner")
	require.NoError(t, err)

	child, err := b.Create(board.CreateOptions{Description: "do it", RequiredRole: "implement", ParentID: parent.ID, Complexity: "simple"})
	require.NoError(t, err)
	_, err = b.ClaimNext("coder-1", 0, "implement")
	require.NoError(t, err)
	_, err = b.Complete(child.ID, "coder-1", "done")
	require.NoError(t, err)

	require.NoError(t, o.TryCloseOut(parent.ID))

	parent, err = b.Get(parent.ID)
	require.NoError(t, err)
	assert.Equal(t, board.Synthesizing, parent.Status)

	msgs, err := mb.Read("planner-1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, mailbox.SynthesisReq, msgs[0].Type)
}

func TestCompleteSynthesis_CompletesParent(t *testing.T) {
	o, b, _ := newTestOrchestrator(t)
	parent, err := b.Create(board.CreateOptions{Description: "plan it", RequiredRole: "planner"})
	require.NoError(t, err)
	_, err = b.ClaimNext("planner-1", 0, "planner")
	require.NoError(t, err)
	_, err = b.BeginSynthesis(parent.ID, "planner-1")
	require.NoError(t, err)

	task, err := o.CompleteSynthesis(parent.ID, "planner-1", "final answer")
	require.NoError(t, err)
	assert.Equal(t, board.Completed, task.Status)
	assert.Equal(t, "final answer", task.Result)
}

func TestApplyCritique_NeedsWorkSendsToCritique(t *testing.T) {
	o, b, _ := newTestOrchestrator(t)
	task, err := b.Create(board.CreateOptions{Description: "implement x", RequiredRole: "implement"})
	require.NoError(t, err)
	_, err = b.ClaimNext("coder-1", 0, "implement")
	require.NoError(t, err)
	_, err = b.SubmitForReview(task.ID, "coder-1", "v1")
	require.NoError(t, err)

	needsWork, err := critique.New(critique.Scores{Accuracy: 4, Completeness: 7, Technical: 7, Calibration: 7, Efficiency: 7}, 0.8,
		[]critique.Item{{Dimension: critique.DimAccuracy, Note: "fix it"}})
	require.NoError(t, err)

	got, err := o.ApplyCritique(task.ID, needsWork)
	require.NoError(t, err)
	assert.Equal(t, board.CritiqueStat, got.Status)
}

func TestCancel_CancelsDescendants(t *testing.T) {
	o, b, _ := newTestOrchestrator(t)
	parent, err := b.Create(board.CreateOptions{Description: "plan it", RequiredRole: "planner"})
	require.NoError(t, err)
	_, err = b.Create(board.CreateOptions{Description: "child", RequiredRole: "implement", ParentID: parent.ID})
	require.NoError(t, err)

	n, err := o.Cancel(parent.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)
}

func TestWait_ReturnsResultOnCompletion(t *testing.T) {
	o, b, _ := newTestOrchestrator(t)
	task, err := b.Create(board.CreateOptions{Description: "hi", RequiredRole: "planner", Complexity: "simple"})
	require.NoError(t, err)
	_, err = b.ClaimNext("planner-1", 0, "planner")
	require.NoError(t, err)
	_, err = b.Complete(task.ID, "planner-1", "hello back")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	result, err := o.Wait(ctx, task.ID, 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello back", result)
}
