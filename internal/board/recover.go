package board

// RecoverStale sweeps for stuck claims and stale reviews, per spec.md
// §4.1's stale-recovery rules and the glossary's "Stale recovery" entry:
// tasks claimed longer than 180s return to pending with a
// timeout_recovered:claimed flag; tasks stuck in review longer than 300s
// force-complete with their existing result. The board has no dedicated
// "entered review" timestamp in spec.md §3.1, so review staleness is
// measured from the same claimed_at that predates it — a conservative
// proxy, not a separate field. Returns the number of tasks recovered.
// Running it twice in a row recovers zero the second time, satisfying the
// idempotence law of spec.md §8.
func (b *Board) RecoverStale() (int, error) {
	count := 0
	err := b.mutate(func(doc *document) error {
		now := nowSeconds()

		hasChildren := make(map[string]bool)
		for _, t := range doc.Tasks {
			if t.ParentID != "" {
				hasChildren[t.ParentID] = true
			}
		}

		for _, t := range doc.Tasks {
			switch t.Status {
			case Claimed:
				// A planner root stays Claimed for the whole pipeline once it
				// has extracted sub-tasks (finishTask never advances it
				// further; synthesis completes it once children finish). If
				// such a root goes stale mid-pipeline, recovering it to
				// pending would let a re-claim re-run extraction and create
				// duplicate children — so a claimed task that already has
				// children is left alone; only its own claim, not its
				// children's progress, is what would need recovering, and
				// none of the children's own claims are affected by this.
				if hasChildren[t.ID] {
					continue
				}
				if t.ClaimedAt > 0 && now-t.ClaimedAt > b.claimedTimeout {
					t.Status = Pending
					t.AgentID = ""
					t.ClaimedAt = 0
					t.EvolutionFlags = append(t.EvolutionFlags, "timeout_recovered:claimed")
					count++
				}
			case Review:
				if t.ClaimedAt > 0 && now-t.ClaimedAt > b.reviewTimeout {
					t.Status = Completed
					t.CompletedAt = now
					t.EvolutionFlags = append(t.EvolutionFlags, "timeout_recovered:review")
					count++
				}
			}
		}
		return nil
	})
	return count, err
}
