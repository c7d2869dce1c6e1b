// Package orchestrator implements the Orchestrator (spec.md §4.7): the
// task-lifecycle owner that classifies incoming requests, extracts
// sub-tasks from planner output, routes critique requests, synthesizes
// planner close-outs, and cascades cancellation. Grounded on
// core/orchestrator.py's submit/wait/collect_results flow and the
// teacher's QAChannel for the non-blocking wait pattern.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loomwork/loom/internal/board"
	"github.com/loomwork/loom/internal/channel"
	"github.com/loomwork/loom/internal/critique"
	"github.com/loomwork/loom/internal/mailbox"
	"github.com/loomwork/loom/internal/router"
	"github.com/loomwork/loom/internal/subtask"
	"github.com/loomwork/loom/internal/wakeup"
)

const (
	waitPollInterval  = 2 * time.Second
	progressInterval  = 30 * time.Second
	defaultWaitTimeout = 600 * time.Second
)

// MaxSynthesisRounds caps the planner's secondary tool-loop during
// synthesis, per spec.md §4.7 ("a secondary tool-loop is allowed during
// synthesis, capped at 3 rounds"). Exported for internal/worker to enforce.
const MaxSynthesisRounds = 3

// Orchestrator owns task submission, sub-task extraction, critique
// routing, planner close-out synthesis, and cancellation cascades.
type Orchestrator struct {
	board   *board.Board
	mailbox *mailbox.Store
	wakeup  *wakeup.Bus
	channel *channel.Channel

	// agentsByRole maps a required_role to the agent ids capable of filling
	// it, per the configured agent roster; plannerAgent names the primary
	// planner (used for synthesis routing).
	agentsByRole map[string][]string
	plannerAgent string

	log *slog.Logger
}

// New builds an Orchestrator. agentsByRole and plannerAgent come from the
// loaded configuration's agent roster.
func New(b *board.Board, mb *mailbox.Store, wb *wakeup.Bus, ch *channel.Channel, agentsByRole map[string][]string, plannerAgent string, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		board:        b,
		mailbox:      mb,
		wakeup:       wb,
		channel:      ch,
		agentsByRole: agentsByRole,
		plannerAgent: plannerAgent,
		log:          log,
	}
}

// Submit classifies user_text, creates the root task (planner pipeline or a
// simple direct-answer task per spec.md §4.6's router), and returns
// immediately without blocking.
func (o *Orchestrator) Submit(userText string, source board.Provenance) (string, error) {
	source.OriginalText = userText

	route := router.Classify(userText)

	opts := board.CreateOptions{
		Description:  userText,
		RequiredRole: "planner",
		Source:       source,
	}
	if route == router.DirectAnswer {
		opts.Complexity = subtask.Simple
	} else {
		opts.Complexity = subtask.Normal
	}

	task, err := o.board.Create(opts)
	if err != nil {
		return "", fmt.Errorf("orchestrator: submit: %w", err)
	}

	o.wakeup.NotifyAll()
	o.log.Info("orchestrator: task submitted", "task_id", task.ID, "route", route)
	return task.ID, nil
}

// Wait polls taskID every ~2s until it reaches a terminal state or timeout
// elapses (default 600s), emitting progress notifications to the channel
// every ~30s. On cancellation of the wait's own context, it cancels the
// task's descendants before returning; the task itself is left as it is.
func (o *Orchestrator) Wait(ctx context.Context, taskID string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = defaultWaitTimeout
	}
	deadline := time.Now().Add(timeout)

	pollTicker := time.NewTicker(waitPollInterval)
	defer pollTicker.Stop()
	lastProgress := time.Now()

	for {
		task, err := o.board.Get(taskID)
		if err != nil {
			return "", fmt.Errorf("orchestrator: wait: %w", err)
		}
		if task.Status.IsTerminal() {
			return task.Result, terminalError(task)
		}

		if time.Now().After(deadline) {
			_, _ = o.board.Fail(taskID, "timeout")
			o.CancelDescendants(taskID)
			return "", fmt.Errorf("orchestrator: task %s timed out after %s", taskID, timeout)
		}

		select {
		case <-ctx.Done():
			o.CancelDescendants(taskID)
			return "", ctx.Err()
		case <-pollTicker.C:
			if time.Since(lastProgress) >= progressInterval {
				_ = o.channel.Status(ctx, taskID, phaseFor(task.Status), task.AgentID, "")
				lastProgress = time.Now()
			}
		}
	}
}

func terminalError(t *board.Task) error {
	switch t.Status {
	case board.Failed:
		return fmt.Errorf("orchestrator: task %s failed", t.ID)
	case board.Cancelled:
		return fmt.Errorf("orchestrator: task %s cancelled", t.ID)
	default:
		return nil
	}
}

func phaseFor(s board.Status) channel.Phase {
	switch s {
	case board.Claimed, board.CritiqueStat:
		return channel.PhaseExecuting
	case board.Review:
		return channel.PhaseCritiquing
	case board.Synthesizing:
		return channel.PhaseSynthesizing
	default:
		return channel.PhasePlanning
	}
}

// ExtractSubtasks parses plannerTask.Result for sub-task blocks and
// registers each as a child task on the board, per spec.md §4.7's
// sub-task extraction. It is a no-op (not an error) if no sub-task blocks
// are present, since not every planner result produces a pipeline.
func (o *Orchestrator) ExtractSubtasks(plannerTask *board.Task) (int, error) {
	extraction := subtask.Extract(plannerTask.Result, plannerTask.Description)
	if len(extraction.Specs) == 0 {
		return 0, nil
	}

	for i, spec := range extraction.Specs {
		desc, err := subtask.Serialize(spec)
		if err != nil {
			return i, fmt.Errorf("orchestrator: serializing sub-task %d: %w", i, err)
		}
		if i == 0 && extraction.MergeNote != "" {
			desc = desc + "\n\n" + extraction.MergeNote
		}

		_, err = o.board.Create(board.CreateOptions{
			Description:  desc,
			RequiredRole: spec.RequiredRole,
			ParentID:     plannerTask.ID,
			Complexity:   spec.Complexity,
			Source:       plannerTask.Source,
		})
		if err != nil {
			return i, fmt.Errorf("orchestrator: creating sub-task %d: %w", i, err)
		}
	}

	o.wakeup.NotifyAll()
	o.log.Info("orchestrator: extracted sub-tasks", "parent_id", plannerTask.ID, "count", len(extraction.Specs))
	return len(extraction.Specs), nil
}

// RequestCritique notifies every configured reviewer agent that task is
// ready for review. The actual review claim still flows through board's
// normal role-matched ClaimNext, so this is advisory: it wakes reviewers
// promptly rather than waiting for their next idle poll.
func (o *Orchestrator) RequestCritique(task *board.Task) error {
	reviewers := o.agentsByRole["review"]
	if len(reviewers) == 0 {
		o.log.Warn("orchestrator: no reviewer agents configured", "task_id", task.ID)
		return nil
	}

	payload := map[string]any{
		"task_id":     task.ID,
		"description": task.Description,
		"result":      task.Result,
	}
	for _, reviewer := range reviewers {
		if err := o.mailbox.Send(reviewer, "orchestrator", mailbox.CritiqueReq, payload); err != nil {
			return fmt.Errorf("orchestrator: notifying reviewer %s: %w", reviewer, err)
		}
		o.wakeup.Notify(reviewer)
	}
	return nil
}

// ApplyCritique records a reviewer's verdict on taskID via the board, per
// spec.md §4.7: NEEDS_WORK at critique_round 0 drives one revision round;
// at critique_round >= 1 the task force-completes with its latest result
// (enforced inside board.AddCritique, not here).
func (o *Orchestrator) ApplyCritique(taskID string, c critique.Spec) (*board.Task, error) {
	task, err := o.board.AddCritique(taskID, c)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: applying critique: %w", err)
	}
	if task.Status == board.Completed && task.ParentID != "" {
		if err := o.TryCloseOut(task.ParentID); err != nil {
			o.log.Warn("orchestrator: close-out check after critique", "parent_id", task.ParentID, "error", err)
		}
	}
	return task, nil
}

// TryCloseOut checks whether every child of parentID has completed and, if
// so, transitions parentID to synthesizing and hands the planner a
// synthesis prompt built from spec.md §4.7's close-out contents: original
// user text, ordered sub-task results with attribution, and critique
// items. It is a no-op if parentID has no children or they are not all
// done yet.
func (o *Orchestrator) TryCloseOut(parentID string) error {
	children, err := o.board.ListChildren(parentID)
	if err != nil {
		return fmt.Errorf("orchestrator: listing children: %w", err)
	}
	if len(children) == 0 {
		return nil
	}

	allDone, err := o.board.ChildrenAllCompleted(parentID)
	if err != nil {
		return fmt.Errorf("orchestrator: checking children: %w", err)
	}
	if !allDone {
		return nil
	}

	parent, err := o.board.Get(parentID)
	if err != nil {
		return fmt.Errorf("orchestrator: fetching parent: %w", err)
	}
	if parent.Status != board.Claimed {
		return nil // already synthesizing or terminal; avoid double-triggering
	}

	prompt := o.buildCloseOutPrompt(parent, children)

	if _, err := o.board.BeginSynthesis(parentID, parent.AgentID); err != nil {
		return fmt.Errorf("orchestrator: beginning synthesis: %w", err)
	}

	if err := o.mailbox.Send(parent.AgentID, "orchestrator", mailbox.SynthesisReq, map[string]any{
		"task_id": parentID,
		"prompt":  prompt,
	}); err != nil {
		return fmt.Errorf("orchestrator: notifying planner for synthesis: %w", err)
	}
	o.wakeup.Notify(parent.AgentID)
	o.log.Info("orchestrator: close-out synthesis requested", "parent_id", parentID, "children", len(children))
	return nil
}

// buildCloseOutPrompt assembles the synthesis prompt per spec.md §4.7:
// original user text, ordered sub-task results with attribution, and
// critique items.
func (o *Orchestrator) buildCloseOutPrompt(parent *board.Task, children []*board.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Original request:\n%s\n\n", parent.Source.OriginalText)
	b.WriteString("Sub-task results:\n")
	for _, c := range children {
		fmt.Fprintf(&b, "- [%s] (%s): %s\n", c.ID, c.RequiredRole, c.Result)
		if c.Critique != nil && len(c.Critique.Items) > 0 {
			for _, item := range c.Critique.Items {
				fmt.Fprintf(&b, "    critique(%s): %s\n", item.Dimension, item.Note)
			}
		}
	}
	return b.String()
}

// CompleteSynthesis records the planner's synthesized close-out as the
// parent task's final result.
func (o *Orchestrator) CompleteSynthesis(parentID, agentID, result string) (*board.Task, error) {
	task, err := o.board.CompleteSynthesis(parentID, agentID, result)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: completing synthesis: %w", err)
	}
	return task, nil
}

// Cancel transitively cancels taskID and every non-terminal descendant, per
// spec.md §4.7.
func (o *Orchestrator) Cancel(taskID string) (int, error) {
	n, err := o.board.CancelTree(taskID)
	if err != nil {
		return 0, fmt.Errorf("orchestrator: cancel: %w", err)
	}
	o.wakeup.NotifyAll()
	return n, nil
}

// CancelDescendants cancels every non-terminal descendant of taskID without
// touching taskID itself — used when a task fails locally (e.g. timeout)
// but its own terminal status is set by the caller.
func (o *Orchestrator) CancelDescendants(taskID string) {
	children, err := o.board.ListChildren(taskID)
	if err != nil {
		return
	}
	for _, c := range children {
		if !c.Status.IsTerminal() {
			_, _ = o.board.CancelTree(c.ID)
		}
	}
	o.wakeup.NotifyAll()
}
