// Package worker implements the Agent Worker Loop (spec.md §4.8): the
// per-tick sequence a single agent process runs — mailbox scan, critique
// revision, regular claim-and-execute, idle backoff — plus a background
// stale-claim sweep. Grounded on core/worker.py's tick() priority order and
// the teacher's QAChannel-style polling idiom for the idle path.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loomwork/loom/internal/board"
	"github.com/loomwork/loom/internal/contextbus"
	"github.com/loomwork/loom/internal/llm"
	"github.com/loomwork/loom/internal/mailbox"
	"github.com/loomwork/loom/internal/orchestrator"
	"github.com/loomwork/loom/internal/resilience"
	"github.com/loomwork/loom/internal/tool"
	"github.com/loomwork/loom/internal/usage"
	"github.com/loomwork/loom/internal/wakeup"
)

const (
	maxToolIterations = 20
	minIdleBackoff     = 1 * time.Second
	maxIdleBackoff     = 5 * time.Second
	staleSweepEvery    = 30 * time.Second
)

// Definition fixes one worker's identity, model choice, and prompt
// material, generalized from the loaded configuration's agents[*] entry.
type Definition struct {
	AgentID            string
	Role               string
	Model              string
	Reputation         int
	SystemPrompt       string
	Skills             []string
	PromptBudgetTokens int
	MaxIdleCycles      int
}

// Worker drives one agent's tick loop against the shared board, mailbox,
// wakeup bus, context bus, orchestrator, resilient model client, tool
// dispatcher, and usage ledger.
type Worker struct {
	def Definition

	board    *board.Board
	mailbox  *mailbox.Store
	wakeup   *wakeup.Bus
	bus      *contextbus.Bus
	orch     *orchestrator.Orchestrator
	client   *resilience.Client
	tools    *tool.Dispatcher
	episodes *usage.Store

	log *slog.Logger
}

// New builds a Worker. episodes may be nil, in which case episode
// persistence is skipped.
func New(def Definition, b *board.Board, mb *mailbox.Store, wb *wakeup.Bus, cb *contextbus.Bus, orch *orchestrator.Orchestrator, client *resilience.Client, tools *tool.Dispatcher, episodes *usage.Store, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		def: def, board: b, mailbox: mb, wakeup: wb, bus: cb,
		orch: orch, client: client, tools: tools, episodes: episodes, log: log,
	}
}

// Run drives the tick loop and the background stale-claim sweep until ctx
// is cancelled, a shutdown message arrives, or max idle cycles elapse.
func (w *Worker) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return w.loop(gctx)
	})
	g.Go(func() error {
		return w.staleSweepLoop(gctx)
	})
	return g.Wait()
}

func (w *Worker) loop(ctx context.Context) error {
	idleCycles := 0
	backoff := minIdleBackoff
	maxIdle := w.def.MaxIdleCycles
	if maxIdle <= 0 {
		maxIdle = 30
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		didWork, shutdown, err := w.tick(ctx)
		if shutdown {
			w.log.Info("worker: shutdown received", "agent_id", w.def.AgentID)
			return nil
		}
		if err != nil {
			w.log.Warn("worker: tick error", "agent_id", w.def.AgentID, "error", err)
		}
		if didWork {
			idleCycles = 0
			backoff = minIdleBackoff
			continue
		}

		idleCycles++
		if idleCycles >= maxIdle {
			w.log.Info("worker: exiting after max idle cycles", "agent_id", w.def.AgentID, "cycles", idleCycles)
			return nil
		}
		if !w.wakeup.Wait(w.def.AgentID, backoff) {
			backoff *= 2
			if backoff > maxIdleBackoff {
				backoff = maxIdleBackoff
			}
		}
	}
}

// tick runs one iteration of spec.md §4.8's priority-ordered steps 1-3.
func (w *Worker) tick(ctx context.Context) (didWork, shutdown bool, err error) {
	msgs, mErr := w.mailbox.Read(w.def.AgentID)
	if mErr != nil {
		return false, false, fmt.Errorf("worker: mailbox scan: %w", mErr)
	}
	if mailbox.HasShutdown(msgs) {
		return false, true, nil
	}

	for _, m := range msgs {
		switch m.Type {
		case mailbox.CritiqueReq:
			didWork = true
			if e := w.handleCritiqueRequest(ctx, m); e != nil {
				w.log.Warn("worker: critique request failed", "agent_id", w.def.AgentID, "error", e)
			}
		case mailbox.SynthesisReq:
			didWork = true
			if e := w.handleSynthesisRequest(ctx, m); e != nil {
				w.log.Warn("worker: synthesis request failed", "agent_id", w.def.AgentID, "error", e)
			}
		}
	}

	revised, rErr := w.tryReviseCritique(ctx)
	if rErr != nil {
		w.log.Warn("worker: critique revision failed", "agent_id", w.def.AgentID, "error", rErr)
	} else if revised {
		didWork = true
	}

	claimed, cErr := w.tryClaimAndExecute(ctx)
	if cErr != nil {
		w.log.Warn("worker: task execution failed", "agent_id", w.def.AgentID, "error", cErr)
	} else if claimed {
		didWork = true
	}

	return didWork, false, nil
}

func (w *Worker) staleSweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(staleSweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := w.board.RecoverStale()
			if err != nil {
				w.log.Warn("worker: stale sweep failed", "error", err)
				continue
			}
			if n > 0 {
				w.wakeup.NotifyAll()
			}
		}
	}
}

// handleCritiqueRequest runs a synchronous critique against the task named
// in the message payload, per spec.md §4.8 step 1.
func (w *Worker) handleCritiqueRequest(ctx context.Context, m mailbox.Message) error {
	payload, ok := m.Content.(map[string]any)
	if !ok {
		return fmt.Errorf("worker: malformed critique_request payload")
	}
	taskID, _ := payload["task_id"].(string)
	description, _ := payload["description"].(string)
	result, _ := payload["result"].(string)
	if taskID == "" {
		return fmt.Errorf("worker: critique_request missing task_id")
	}

	prompt := buildCritiquePrompt(description, result)
	text, err := w.runToolLoop(ctx, taskID, w.buildSystemPrompt(), prompt, maxToolIterations)
	if err != nil {
		return fmt.Errorf("worker: critique call: %w", err)
	}

	spec, err := parseCritique(text)
	if err != nil {
		return fmt.Errorf("worker: parsing critique: %w", err)
	}

	task, err := w.orch.ApplyCritique(taskID, spec)
	if err != nil {
		return fmt.Errorf("worker: applying critique: %w", err)
	}
	if task.Status == board.CritiqueStat {
		w.wakeup.Notify(task.AgentID)
	}
	return nil
}

// handleSynthesisRequest runs the planner's close-out synthesis prompt,
// capped at orchestrator.MaxSynthesisRounds tool-loop iterations per
// spec.md §4.7.
func (w *Worker) handleSynthesisRequest(ctx context.Context, m mailbox.Message) error {
	payload, ok := m.Content.(map[string]any)
	if !ok {
		return fmt.Errorf("worker: malformed synthesis_request payload")
	}
	taskID, _ := payload["task_id"].(string)
	prompt, _ := payload["prompt"].(string)
	if taskID == "" {
		return fmt.Errorf("worker: synthesis_request missing task_id")
	}

	text, err := w.runToolLoop(ctx, taskID, w.buildSystemPrompt(), prompt, orchestrator.MaxSynthesisRounds)
	if err != nil {
		return fmt.Errorf("worker: synthesis call: %w", err)
	}
	_, err = w.orch.CompleteSynthesis(taskID, w.def.AgentID, text)
	return err
}

// tryReviseCritique implements spec.md §4.8 step 2: reclaim an owned
// critique-status task, revise it, and resubmit for review.
func (w *Worker) tryReviseCritique(ctx context.Context) (bool, error) {
	owned, err := w.board.ListByAgent(w.def.AgentID)
	if err != nil {
		return false, fmt.Errorf("worker: listing owned tasks: %w", err)
	}
	var pending *board.Task
	for _, t := range owned {
		if t.Status == board.CritiqueStat {
			pending = t
			break
		}
	}
	if pending == nil {
		return false, nil
	}

	task, err := w.board.ClaimCritique(pending.ID, w.def.AgentID)
	if err != nil {
		return false, fmt.Errorf("worker: claim_critique: %w", err)
	}

	text, err := w.runToolLoop(ctx, task.ID, w.buildSystemPrompt(), buildRevisionPrompt(task), maxToolIterations)
	if err != nil {
		_, _ = w.board.Fail(task.ID, err.Error())
		return true, fmt.Errorf("worker: revision call: %w", err)
	}

	updated, err := w.board.SubmitForReview(task.ID, w.def.AgentID, text)
	if err != nil {
		return true, fmt.Errorf("worker: submit_for_review: %w", err)
	}
	switch updated.Status {
	case board.Review:
		_ = w.orch.RequestCritique(updated)
	case board.Completed:
		if updated.ParentID != "" {
			_ = w.orch.TryCloseOut(updated.ParentID)
		}
	}
	return true, nil
}

// tryClaimAndExecute implements spec.md §4.8 step 3.
func (w *Worker) tryClaimAndExecute(ctx context.Context) (bool, error) {
	task, err := w.board.ClaimNext(w.def.AgentID, w.def.Reputation, w.def.Role)
	if err != nil {
		return false, fmt.Errorf("worker: claim_next: %w", err)
	}
	if task == nil {
		return false, nil
	}

	text, err := w.runToolLoop(ctx, task.ID, w.buildSystemPrompt(), task.Description, maxToolIterations)
	if err != nil {
		_, _ = w.board.Fail(task.ID, err.Error())
		return true, fmt.Errorf("worker: task %s: %w", task.ID, err)
	}

	if err := w.finishTask(task, text); err != nil {
		return true, fmt.Errorf("worker: finishing task %s: %w", task.ID, err)
	}

	if w.episodes != nil {
		payload, _ := json.Marshal(map[string]string{"description": task.Description, "result": text})
		if err := w.episodes.RecordEpisode(ctx, w.def.AgentID, task.ID, string(payload), nowSeconds()); err != nil {
			w.log.Warn("worker: recording episode", "task_id", task.ID, "error", err)
		}
	}
	return true, nil
}

// finishTask dispatches a claimed task's result per spec.md §4.8 step 3's
// role split: planners extract sub-tasks, implementers submit for review
// or complete directly.
func (w *Worker) finishTask(task *board.Task, text string) error {
	if isPlannerRole(task.RequiredRole) {
		if task.Complexity == "simple" {
			_, err := w.board.Complete(task.ID, w.def.AgentID, text)
			return err
		}
		draft := *task
		draft.Result = text
		n, err := w.orch.ExtractSubtasks(&draft)
		if err != nil {
			return err
		}
		if n == 0 {
			// Planner produced no decomposition for a non-simple task; there
			// is nothing further to wait on, so fail it rather than leave it
			// claimed forever.
			_, err := w.board.Fail(task.ID, "planner produced no sub-tasks")
			return err
		}
		return nil
	}

	if task.Complexity == "simple" {
		_, err := w.board.Complete(task.ID, w.def.AgentID, text)
		return err
	}
	updated, err := w.board.SubmitForReview(task.ID, w.def.AgentID, text)
	if err != nil {
		return err
	}
	switch updated.Status {
	case board.Review:
		return w.orch.RequestCritique(updated)
	case board.Completed:
		if updated.ParentID != "" {
			return w.orch.TryCloseOut(updated.ParentID)
		}
	}
	return nil
}

func isPlannerRole(role string) bool {
	r := strings.ToLower(strings.TrimSpace(role))
	return r == "planner" || r == "plan"
}

// runToolLoop drives the model/tool conversation for one task, per spec.md
// §4.8's "parse tool calls, execute via the Tool Dispatcher, re-feed
// results" step, capped at maxIterations and cancellable between rounds.
func (w *Worker) runToolLoop(ctx context.Context, taskID, systemPrompt, userPrompt string, maxIterations int) (string, error) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: userPrompt},
	}

	for i := 0; i < maxIterations; i++ {
		if cancelled, err := w.board.IsCancelled(taskID); err == nil && cancelled {
			return "", fmt.Errorf("worker: task %s cancelled", taskID)
		}

		result, err := w.client.Chat(ctx, llm.ChatRequest{
			Messages: messages,
			Model:    w.def.Model,
			Tools:    schemasAsToolSchema(w.tools.Schemas()),
		})
		if err != nil {
			return "", err
		}

		calls := parseToolCalls(result.Text)
		if len(calls) == 0 {
			return result.Text, nil
		}

		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: result.Text})
		for _, c := range calls {
			out := w.tools.Invoke(ctx, c.Name, c.Params)
			messages = append(messages, llm.Message{Role: llm.RoleTool, Content: formatToolResult(c.Name, out)})
		}
	}
	return "", fmt.Errorf("worker: exceeded %d tool-loop iterations for task %s", maxIterations, taskID)
}

func schemasAsToolSchema(schemas []tool.Schema) []llm.ToolSchema {
	out := make([]llm.ToolSchema, 0, len(schemas))
	for _, s := range schemas {
		out = append(out, llm.ToolSchema{
			"name":        s.Name,
			"description": s.Description,
			"parameters":  s.Parameters,
		})
	}
	return out
}

func formatToolResult(name string, r tool.Result) string {
	if r.Err != nil {
		return fmt.Sprintf(`{"tool":%q,"error":{"kind":%q,"message":%q}}`, name, r.Err.Kind, r.Err.Message)
	}
	value, err := json.Marshal(r.Value)
	if err != nil {
		value = []byte("null")
	}
	return fmt.Sprintf(`{"tool":%q,"ok":true,"value":%s}`, name, value)
}

// buildSystemPrompt assembles role + skills + tools manifest + context-bus
// snapshot, truncated to the configured prompt budget, per spec.md §4.8
// step 3. Memory recall and user-profile inputs are out of this module's
// scope (spec.md §1's explicit non-goals for the skill/memory loader).
func (w *Worker) buildSystemPrompt() string {
	var b strings.Builder
	b.WriteString(w.def.SystemPrompt)

	if len(w.def.Skills) > 0 {
		fmt.Fprintf(&b, "\n\nSkills: %s", strings.Join(w.def.Skills, ", "))
	}

	if schemas := w.tools.Schemas(); len(schemas) > 0 {
		b.WriteString("\n\nAvailable tools:\n")
		for _, s := range schemas {
			fmt.Fprintf(&b, "- %s: %s\n", s.Name, s.Description)
		}
	}

	if w.bus != nil {
		if snap, err := w.bus.SnapshotForAgent(w.def.AgentID, contextbus.Long); err == nil && len(snap) > 0 {
			b.WriteString("\nShared context:\n")
			for k, e := range snap {
				fmt.Fprintf(&b, "- %s: %s\n", k, e.Value)
			}
		}
	}

	return truncateToBudget(b.String(), w.def.PromptBudgetTokens)
}

func truncateToBudget(s string, tokens int) string {
	if tokens <= 0 {
		return s
	}
	limit := tokens * 4 // rough chars-per-token estimate; no tokenizer dependency in scope
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}

func buildCritiquePrompt(description, result string) string {
	return fmt.Sprintf("Review the following work against its task description.\n\nTask:\n%s\n\nResult:\n%s\n\n"+
		"Respond with a fenced ```critique JSON block: {\"scores\":{\"accuracy\":1-10,\"completeness\":1-10,"+
		"\"technical\":1-10,\"calibration\":1-10,\"efficiency\":1-10},\"confidence\":0-1,\"items\":[{\"dimension\":...,\"note\":...}]}.",
		description, result)
}

func buildRevisionPrompt(t *board.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Revise your previous result for: %s\n\nPrevious result:\n%s\n\nCritique:\n", t.Description, t.Result)
	if t.Critique != nil {
		for _, item := range t.Critique.Items {
			fmt.Fprintf(&b, "- [%s] %s\n", item.Dimension, item.Note)
		}
	}
	return b.String()
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
