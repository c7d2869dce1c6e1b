package board

import (
	"sort"

	"github.com/loomwork/loom/internal/critique"
)

// ClaimNext atomically grabs the next available unblocked, role-matching
// task for agentID, per spec.md §4.1's claim-selection rule: iterate
// pending tasks in insertion (FIFO) order and accept the first candidate
// that satisfies role, blockers, reputation, and restricted-claim checks.
// Returns (nil, nil) if nothing is currently claimable.
func (b *Board) ClaimNext(agentID string, reputation int, agentRole string) (*Task, error) {
	var claimed *Task
	err := b.mutate(func(doc *document) error {
		completed := make(map[string]bool)
		for id, t := range doc.Tasks {
			if t.Status == Completed {
				completed[id] = true
			}
		}

		candidates := make([]*Task, 0, len(doc.Tasks))
		for _, t := range doc.Tasks {
			if t.Status == Pending {
				candidates = append(candidates, t)
			}
		}
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].Seq < candidates[j].Seq })

		restricted := b.isRestricted(agentID)
		for _, t := range candidates {
			if reputation < t.MinReputation {
				continue
			}
			blocked := false
			for _, dep := range t.BlockedBy {
				if !completed[dep] {
					blocked = true
					break
				}
			}
			if blocked {
				continue
			}
			if t.RequiredRole != "" && !roleMatches(t.RequiredRole, agentID, agentRole) {
				continue
			}
			if restricted && !isReviewRole(t.RequiredRole) {
				continue
			}

			t.Status = Claimed
			t.AgentID = agentID
			t.ClaimedAt = nowSeconds()
			claimed = t
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if claimed == nil {
		return nil, nil
	}
	cp := *claimed
	return &cp, nil
}

// SubmitForReview moves a claimed task to review and stores its result.
// Simple tasks cannot submit for review (they use Complete instead, per
// §4.1's "reject if complexity=simple" side effect). A task claimed out of
// critique (critique_round >= 1) force-completes instead of re-entering
// review, capping rework at one round.
func (b *Board) SubmitForReview(taskID, agentID, result string) (*Task, error) {
	var out *Task
	err := b.mutate(func(doc *document) error {
		t, ok := doc.Tasks[taskID]
		if !ok {
			return ErrNotFound
		}
		if t.Status != Claimed {
			return ErrInvalidTransition
		}
		if t.AgentID != agentID {
			return ErrNotOwner
		}
		if t.Complexity == "simple" {
			return ErrInvalidTransition
		}

		t.Result = result
		if t.CritiqueRound >= 1 {
			t.Status = Completed
			t.CompletedAt = nowSeconds()
		} else {
			t.Status = Review
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	cp := *out
	return &cp, nil
}

// Complete transitions a claimed simple task straight to completed,
// per §4.1's "permitted only for simple" rule.
func (b *Board) Complete(taskID, agentID, result string) (*Task, error) {
	var out *Task
	err := b.mutate(func(doc *document) error {
		t, ok := doc.Tasks[taskID]
		if !ok {
			return ErrNotFound
		}
		if t.Status != Claimed {
			return ErrInvalidTransition
		}
		if t.AgentID != agentID {
			return ErrNotOwner
		}
		if t.Complexity != "simple" {
			return ErrInvalidTransition
		}
		if result != "" {
			t.Result = result
		}
		t.Status = Completed
		t.CompletedAt = nowSeconds()
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	cp := *out
	return &cp, nil
}

// AddCritique applies a reviewer's verdict to a task in review. LGTM
// completes the task; NEEDS_WORK sends it to the critique status and bumps
// critique_round. Reapplying the same LGTM verdict to an already-completed
// task is a benign no-op, per spec.md §8's idempotence law.
func (b *Board) AddCritique(taskID string, c critique.Spec) (*Task, error) {
	var out *Task
	err := b.mutate(func(doc *document) error {
		t, ok := doc.Tasks[taskID]
		if !ok {
			return ErrNotFound
		}
		if t.Status == Completed {
			out = t
			return nil
		}
		if t.Status != Review {
			return ErrInvalidTransition
		}

		critCopy := c
		t.Critique = &critCopy
		if c.Verdict == critique.LGTM {
			t.Status = Completed
			t.CompletedAt = nowSeconds()
		} else {
			t.Status = CritiqueStat
			t.CritiqueRound++
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	cp := *out
	return &cp, nil
}

// ClaimCritique lets the original executor reclaim a task sent back for
// revision. Per spec.md §9's resolved Open Question, ownership is strict:
// only the agent recorded as agent_id may reclaim it.
func (b *Board) ClaimCritique(taskID, agentID string) (*Task, error) {
	var out *Task
	err := b.mutate(func(doc *document) error {
		t, ok := doc.Tasks[taskID]
		if !ok {
			return ErrNotFound
		}
		if t.Status != CritiqueStat {
			return ErrInvalidTransition
		}
		if t.AgentID != agentID {
			return ErrNotOwner
		}
		t.Status = Claimed
		t.ClaimedAt = nowSeconds()
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	cp := *out
	return &cp, nil
}

// Cancel moves any non-terminal task to cancelled.
func (b *Board) Cancel(taskID string) (*Task, error) {
	var out *Task
	err := b.mutate(func(doc *document) error {
		t, ok := doc.Tasks[taskID]
		if !ok {
			return ErrNotFound
		}
		if t.Status.IsTerminal() {
			return ErrTerminal
		}
		t.Status = Cancelled
		t.CompletedAt = nowSeconds()
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	cp := *out
	return &cp, nil
}

// CancelTree cancels rootID and every descendant reachable by parent_id,
// transitively, skipping tasks already terminal. Returns the number of
// tasks actually cancelled. Grounded on spec.md §4.7's cooperative
// cancellation cascade.
func (b *Board) CancelTree(rootID string) (int, error) {
	count := 0
	err := b.mutate(func(doc *document) error {
		childrenOf := make(map[string][]string)
		for id, t := range doc.Tasks {
			childrenOf[t.ParentID] = append(childrenOf[t.ParentID], id)
		}

		queue := []string{rootID}
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			t, ok := doc.Tasks[id]
			if !ok {
				continue
			}
			if !t.Status.IsTerminal() {
				t.Status = Cancelled
				t.CompletedAt = nowSeconds()
				count++
			}
			queue = append(queue, childrenOf[id]...)
		}
		return nil
	})
	return count, err
}

// Pause moves a pending or claimed task to paused, releasing any claim.
func (b *Board) Pause(taskID string) (*Task, error) {
	var out *Task
	err := b.mutate(func(doc *document) error {
		t, ok := doc.Tasks[taskID]
		if !ok {
			return ErrNotFound
		}
		if t.Status != Pending && t.Status != Claimed {
			return ErrInvalidTransition
		}
		t.Status = Paused
		t.AgentID = ""
		t.ClaimedAt = 0
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	cp := *out
	return &cp, nil
}

// Resume moves a paused task back to pending.
func (b *Board) Resume(taskID string) (*Task, error) {
	var out *Task
	err := b.mutate(func(doc *document) error {
		t, ok := doc.Tasks[taskID]
		if !ok {
			return ErrNotFound
		}
		if t.Status != Paused {
			return ErrInvalidTransition
		}
		t.Status = Pending
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	cp := *out
	return &cp, nil
}

// Fail moves any non-terminal task to failed, appending a failed:<reason>
// evolution flag.
func (b *Board) Fail(taskID, reason string) (*Task, error) {
	var out *Task
	err := b.mutate(func(doc *document) error {
		t, ok := doc.Tasks[taskID]
		if !ok {
			return ErrNotFound
		}
		if t.Status.IsTerminal() {
			return ErrTerminal
		}
		t.Status = Failed
		t.CompletedAt = nowSeconds()
		t.EvolutionFlags = append(t.EvolutionFlags, "failed:"+reason)
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	cp := *out
	return &cp, nil
}

// Retry resets a failed or cancelled task back to pending for re-execution.
func (b *Board) Retry(taskID string) (*Task, error) {
	var out *Task
	err := b.mutate(func(doc *document) error {
		t, ok := doc.Tasks[taskID]
		if !ok {
			return ErrNotFound
		}
		if t.Status != Failed && t.Status != Cancelled {
			return ErrInvalidTransition
		}
		t.Status = Pending
		t.AgentID = ""
		t.ClaimedAt = 0
		t.CompletedAt = 0
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	cp := *out
	return &cp, nil
}

// BeginSynthesis transitions a planner's root task from claimed to
// synthesizing once its children have all reached a terminal state, per
// spec.md §9's resolution of the synthesizing Open Question: persisted for
// observability rather than an orchestrator-only in-memory flag.
func (b *Board) BeginSynthesis(taskID, agentID string) (*Task, error) {
	var out *Task
	err := b.mutate(func(doc *document) error {
		t, ok := doc.Tasks[taskID]
		if !ok {
			return ErrNotFound
		}
		if t.Status != Claimed {
			return ErrInvalidTransition
		}
		if t.AgentID != agentID {
			return ErrNotOwner
		}
		t.Status = Synthesizing
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	cp := *out
	return &cp, nil
}

// CompleteSynthesis stores the planner's close-out text and completes the
// parent task.
func (b *Board) CompleteSynthesis(taskID, agentID, result string) (*Task, error) {
	var out *Task
	err := b.mutate(func(doc *document) error {
		t, ok := doc.Tasks[taskID]
		if !ok {
			return ErrNotFound
		}
		if t.Status != Synthesizing {
			return ErrInvalidTransition
		}
		if t.AgentID != agentID {
			return ErrNotOwner
		}
		t.Result = result
		t.Status = Completed
		t.CompletedAt = nowSeconds()
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	cp := *out
	return &cp, nil
}

// ChildrenAllCompleted reports whether every task whose parent_id is
// parentID has reached completed. Used by the orchestrator to decide when
// close-out synthesis is ready to run.
func (b *Board) ChildrenAllCompleted(parentID string) (bool, error) {
	doc, err := b.readDoc()
	if err != nil {
		return false, err
	}
	found := false
	for _, t := range doc.Tasks {
		if t.ParentID != parentID {
			continue
		}
		found = true
		if t.Status != Completed {
			return false, nil
		}
	}
	return found, nil
}
