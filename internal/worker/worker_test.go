package worker

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomwork/loom/internal/board"
	"github.com/loomwork/loom/internal/channel"
	"github.com/loomwork/loom/internal/contextbus"
	"github.com/loomwork/loom/internal/critique"
	"github.com/loomwork/loom/internal/llm"
	"github.com/loomwork/loom/internal/mailbox"
	"github.com/loomwork/loom/internal/orchestrator"
	"github.com/loomwork/loom/internal/resilience"
	"github.com/loomwork/loom/internal/tool"
	"github.com/loomwork/loom/internal/wakeup"
)

// scriptedProvider returns the next response in its script on each Chat
// call, cycling on the last entry, matching internal/resilience's own
// fakeProvider test double.
type scriptedProvider struct {
	mu     sync.Mutex
	calls  int
	script []string
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := p.calls
	if idx >= len(p.script) {
		idx = len(p.script) - 1
	}
	p.calls++
	return llm.ChatResult{Text: p.script[idx]}, nil
}

func (p *scriptedProvider) Embed(ctx context.Context, texts []string, model string) ([][]float64, error) {
	return nil, llm.ErrUnsupported
}

func newTestClient(script ...string) *resilience.Client {
	entry := &resilience.ProviderEntry{Provider: &scriptedProvider{script: script}}
	router := resilience.NewRouter([]*resilience.ProviderEntry{entry}, resilience.StrategyPreference, "")
	breakers := resilience.NewBreakerRegistry(resilience.DefaultBreakerConfig(), nil)
	retry := resilience.RetryConfig{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Jitter: 0}
	return resilience.NewClient(router, breakers, retry, nil, nil, nil)
}

type testHarness struct {
	board   *board.Board
	mailbox *mailbox.Store
	wakeup  *wakeup.Bus
	bus     *contextbus.Bus
	orch    *orchestrator.Orchestrator
	tools   *tool.Dispatcher
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	dir := t.TempDir()
	b := board.New(filepath.Join(dir, "task_board.json"), nil)
	mb := mailbox.New(filepath.Join(dir, "mailboxes"), nil)
	wb := wakeup.New(filepath.Join(dir, "task_signals"))
	cb := contextbus.New(filepath.Join(dir, "context_bus.json"), nil)
	ch := channel.New()
	orch := orchestrator.New(b, mb, wb, ch, map[string][]string{"review": {"reviewer-1"}}, "planner-1", nil)
	return &testHarness{board: b, mailbox: mb, wakeup: wb, bus: cb, orch: orch, tools: tool.NewDispatcher()}
}

func newWorker(h *testHarness, def Definition, client *resilience.Client) *Worker {
	return New(def, h.board, h.mailbox, h.wakeup, h.bus, h.orch, client, h.tools, nil, nil)
}

func TestTryClaimAndExecute_SimpleTaskCompletes(t *testing.T) {
	h := newHarness(t)
	_, err := h.board.Create(board.CreateOptions{Description: "say hi", RequiredRole: "implement", Complexity: "simple"})
	require.NoError(t, err)

	w := newWorker(h, Definition{AgentID: "coder-1", Role: "implement", Model: "m", MaxIdleCycles: 1}, newTestClient("hello there"))

	claimed, err := w.tryClaimAndExecute(context.Background())
	require.NoError(t, err)
	assert.True(t, claimed)

	tasks, err := h.board.ListByAgent("coder-1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, board.Completed, tasks[0].Status)
	assert.Equal(t, "hello there", tasks[0].Result)
}

func TestTryClaimAndExecute_NormalTaskGoesToReviewAndNotifiesReviewer(t *testing.T) {
	h := newHarness(t)
	_, err := h.board.Create(board.CreateOptions{Description: "build the thing", RequiredRole: "implement", Complexity: "normal"})
	require.NoError(t, err)

	w := newWorker(h, Definition{AgentID: "coder-1", Role: "implement", Model: "m"}, newTestClient("built it"))

	claimed, err := w.tryClaimAndExecute(context.Background())
	require.NoError(t, err)
	assert.True(t, claimed)

	tasks, err := h.board.ListByAgent("coder-1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, board.Review, tasks[0].Status)

	msgs, err := h.mailbox.Read("reviewer-1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, mailbox.CritiqueReq, msgs[0].Type)
}

func TestTryClaimAndExecute_ToolCallRoundTrips(t *testing.T) {
	h := newHarness(t)
	var gotParams map[string]any
	h.tools.Register(tool.Schema{Name: "echo", Description: "echoes input"}, func(ctx context.Context, params map[string]any) (any, error) {
		gotParams = params
		return "echoed", nil
	})

	_, err := h.board.Create(board.CreateOptions{Description: "use the echo tool", RequiredRole: "implement", Complexity: "simple"})
	require.NoError(t, err)

	toolCallResponse := "```tool_call\n{\"name\":\"echo\",\"params\":{\"msg\":\"hi\"}}\n```"
	w := newWorker(h, Definition{AgentID: "coder-1", Role: "implement", Model: "m"}, newTestClient(toolCallResponse, "final answer"))

	claimed, err := w.tryClaimAndExecute(context.Background())
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, "hi", gotParams["msg"])

	tasks, err := h.board.ListByAgent("coder-1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "final answer", tasks[0].Result)
}

func TestHandleCritiqueRequest_LGTMCompletesTask(t *testing.T) {
	h := newHarness(t)
	task, err := h.board.Create(board.CreateOptions{Description: "do work", RequiredRole: "implement", Complexity: "normal"})
	require.NoError(t, err)
	_, err = h.board.ClaimNext("coder-1", 0, "implement")
	require.NoError(t, err)
	_, err = h.board.SubmitForReview(task.ID, "coder-1", "v1")
	require.NoError(t, err)

	lgtm := "```critique\n{\"scores\":{\"accuracy\":9,\"completeness\":9,\"technical\":9,\"calibration\":9,\"efficiency\":9},\"confidence\":0.9,\"items\":[]}\n```"
	w := newWorker(h, Definition{AgentID: "reviewer-1", Role: "review", Model: "m"}, newTestClient(lgtm))

	msg := mailbox.Message{Type: mailbox.CritiqueReq, Content: map[string]any{
		"task_id": task.ID, "description": task.Description, "result": "v1",
	}}
	require.NoError(t, w.handleCritiqueRequest(context.Background(), msg))

	got, err := h.board.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, board.Completed, got.Status)
}

func TestHandleCritiqueRequest_NeedsWorkNotifiesExecutor(t *testing.T) {
	h := newHarness(t)
	task, err := h.board.Create(board.CreateOptions{Description: "do work", RequiredRole: "implement", Complexity: "normal"})
	require.NoError(t, err)
	_, err = h.board.ClaimNext("coder-1", 0, "implement")
	require.NoError(t, err)
	_, err = h.board.SubmitForReview(task.ID, "coder-1", "v1")
	require.NoError(t, err)

	needsWork := "```critique\n{\"scores\":{\"accuracy\":2,\"completeness\":9,\"technical\":9,\"calibration\":9,\"efficiency\":9}," +
		"\"confidence\":0.9,\"items\":[{\"dimension\":\"accuracy\",\"note\":\"wrong\"}]}\n```"
	w := newWorker(h, Definition{AgentID: "reviewer-1", Role: "review", Model: "m"}, newTestClient(needsWork))

	msg := mailbox.Message{Type: mailbox.CritiqueReq, Content: map[string]any{
		"task_id": task.ID, "description": task.Description, "result": "v1",
	}}
	require.NoError(t, w.handleCritiqueRequest(context.Background(), msg))

	got, err := h.board.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, board.CritiqueStat, got.Status)
}

func TestTryReviseCritique_RevisionCompletesAtRoundCap(t *testing.T) {
	h := newHarness(t)
	task, err := h.board.Create(board.CreateOptions{Description: "do work", RequiredRole: "implement", Complexity: "normal"})
	require.NoError(t, err)
	_, err = h.board.ClaimNext("coder-1", 0, "implement")
	require.NoError(t, err)
	_, err = h.board.SubmitForReview(task.ID, "coder-1", "v1")
	require.NoError(t, err)
	needsWork, err := critique.New(
		critique.Scores{Accuracy: 2, Completeness: 9, Technical: 9, Calibration: 9, Efficiency: 9},
		0.9,
		[]critique.Item{{Dimension: critique.DimAccuracy, Note: "wrong"}},
	)
	require.NoError(t, err)
	_, err = h.board.AddCritique(task.ID, needsWork)
	require.NoError(t, err)

	w := newWorker(h, Definition{AgentID: "coder-1", Role: "implement", Model: "m"}, newTestClient("v2"))
	revised, err := w.tryReviseCritique(context.Background())
	require.NoError(t, err)
	assert.True(t, revised)

	got, err := h.board.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, board.Completed, got.Status) // critique_round is 1, so resubmission completes
	assert.Equal(t, "v2", got.Result)
}

func TestPlannerRole_ExtractsSubtasks(t *testing.T) {
	h := newHarness(t)
	_, err := h.board.Create(board.CreateOptions{Description: "plan a report", RequiredRole: "planner", Complexity: "normal"})
	require.NoError(t, err)

	plan := "TASK: research the topic\nCOMPLEXITY: normal\n\nTASK: write the report\nCOMPLEXITY: normal\n"
	w := newWorker(h, Definition{AgentID: "planner-1", Role: "planner", Model: "m"}, newTestClient(plan))

	claimed, err := w.tryClaimAndExecute(context.Background())
	require.NoError(t, err)
	assert.True(t, claimed)

	tasks, err := h.board.ListByAgent("planner-1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, board.Claimed, tasks[0].Status) // parent stays claimed pending synthesis

	children, err := h.board.ListChildren(tasks[0].ID)
	require.NoError(t, err)
	assert.Len(t, children, 2)
}

func TestTick_ShutdownMessageStopsLoop(t *testing.T) {
	h := newHarness(t)
	w := newWorker(h, Definition{AgentID: "coder-1", Role: "implement", Model: "m"}, newTestClient("unused"))

	require.NoError(t, h.mailbox.Send("coder-1", "orchestrator", mailbox.Shutdown, nil))
	_, shutdown, err := w.tick(context.Background())
	require.NoError(t, err)
	assert.True(t, shutdown)
}
