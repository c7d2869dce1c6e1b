package board

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/loomwork/loom/internal/docstore"
	"github.com/loomwork/loom/internal/filelock"
)

// Board is the file-backed task store of spec.md §4.1. All mutations go
// through mutate, which serializes on a sibling lockfile, re-reads the
// whole document, validates, writes, and releases — per the atomicity
// rule of §4.1 and the shared-resource policy of §5.
type Board struct {
	path       string
	lock       *filelock.Lock
	restricted map[string]bool
	log        *slog.Logger

	claimedTimeout float64 // seconds; default 180
	reviewTimeout  float64 // seconds; default 300
}

// New opens (or initializes) a board backed by the JSON document at path,
// with its lockfile beside it, named after the data file's base name without
// extension, dot-prefixed, per spec.md §6.4's naming convention
// (task_board.json / .task_board.lock).
func New(path string, log *slog.Logger) *Board {
	if log == nil {
		log = slog.Default()
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return &Board{
		path:           path,
		lock:           filelock.New(filepath.Join(filepath.Dir(path), "."+base+".lock")),
		restricted:     make(map[string]bool),
		log:            log,
		claimedTimeout: 180,
		reviewTimeout:  300,
	}
}

// SetStaleTimeouts overrides the default 180s/300s stale-claim and
// stale-review windows. Zero values leave the corresponding default in
// place; primarily useful for tests and for wiring configured overrides.
func (b *Board) SetStaleTimeouts(claimed, review float64) {
	if claimed > 0 {
		b.claimedTimeout = claimed
	}
	if review > 0 {
		b.reviewTimeout = review
	}
}

func (b *Board) readDoc() (*document, error) {
	doc := &document{Tasks: make(map[string]*Task)}
	if err := docstore.Read(b.path, doc); err != nil {
		return nil, fmt.Errorf("board: read %s: %w", b.path, err)
	}
	if doc.Tasks == nil {
		doc.Tasks = make(map[string]*Task)
	}
	return doc, nil
}

// mutate runs fn under the board's exclusive file lock with a freshly
// re-read document, then persists whatever fn left behind (unless fn
// returns an error, in which case nothing is written).
func (b *Board) mutate(fn func(doc *document) error) error {
	return b.lock.With(func() error {
		doc, err := b.readDoc()
		if err != nil {
			return err
		}
		if err := fn(doc); err != nil {
			return err
		}
		return docstore.Write(b.path, doc)
	})
}

// Create adds a new pending task, rejecting a blocked_by set that would
// introduce a dependency cycle (spec.md §3.1, §4.1).
func (b *Board) Create(opts CreateOptions) (*Task, error) {
	var created *Task
	err := b.mutate(func(doc *document) error {
		if err := checkAcyclic(doc.Tasks, "candidate", opts.BlockedBy); err != nil {
			return err
		}
		t := &Task{
			ID:            uuid.NewString(),
			Description:   opts.Description,
			Status:        Pending,
			RequiredRole:  opts.RequiredRole,
			ParentID:      opts.ParentID,
			BlockedBy:     append([]string(nil), opts.BlockedBy...),
			MinReputation: opts.MinReputation,
			Complexity:    opts.Complexity,
			Source:        opts.Source,
			CreatedAt:     nowSeconds(),
			Seq:           doc.NextSeq,
		}
		doc.NextSeq++
		doc.Tasks[t.ID] = t
		created = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Get returns a snapshot of one task. Reads take no lock per spec.md §4.1's
// "readers snapshot under shared/no lock" rule; callers tolerate eventual
// consistency between snapshots.
func (b *Board) Get(taskID string) (*Task, error) {
	doc, err := b.readDoc()
	if err != nil {
		return nil, err
	}
	t, ok := doc.Tasks[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// ListByAgent returns every task currently or previously owned by agentID.
func (b *Board) ListByAgent(agentID string) ([]*Task, error) {
	doc, err := b.readDoc()
	if err != nil {
		return nil, err
	}
	var out []*Task
	for _, t := range doc.Tasks {
		if t.AgentID == agentID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ListChildren returns every task whose parent_id is parentID.
func (b *Board) ListChildren(parentID string) ([]*Task, error) {
	doc, err := b.readDoc()
	if err != nil {
		return nil, err
	}
	var out []*Task
	for _, t := range doc.Tasks {
		if t.ParentID == parentID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ListPending returns every task currently in Pending status, for the Lazy
// Runtime's pending-role scan (spec.md §4.5).
func (b *Board) ListPending() ([]*Task, error) {
	doc, err := b.readDoc()
	if err != nil {
		return nil, err
	}
	var out []*Task
	for _, t := range doc.Tasks {
		if t.Status == Pending {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

// PendingCount returns the number of tasks currently pending.
func (b *Board) PendingCount() (int, error) {
	doc, err := b.readDoc()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, t := range doc.Tasks {
		if t.Status == Pending {
			n++
		}
	}
	return n, nil
}

// IsCancelled reports whether taskID has been cancelled, for a worker's
// cooperative cancellation check (spec.md §4.7, §5).
func (b *Board) IsCancelled(taskID string) (bool, error) {
	t, err := b.Get(taskID)
	if err != nil {
		return false, err
	}
	return t.Status == Cancelled, nil
}

// CollectResults aggregates result text across the whole board: every task
// with a non-empty result is considered, whatever its status, and tasks
// outside rootTaskID's tree are not filtered out. Non-planner results are
// joined in insertion order, falling back to a planner-held task's result
// (which one, when several exist, is not defined), falling back to the
// root task's result. Grounded on core/task_board.py:collect_results.
func (b *Board) CollectResults(rootTaskID string) (string, error) {
	doc, err := b.readDoc()
	if err != nil {
		return "", err
	}

	type seqResult struct {
		seq    int64
		result string
	}
	var plannerResult string
	var havePlanner bool
	var execResults []seqResult

	for _, t := range doc.Tasks {
		if t.Result == "" {
			continue
		}
		if roleMatches("planner", t.AgentID, "") {
			plannerResult = t.Result
			havePlanner = true
			continue
		}
		execResults = append(execResults, seqResult{t.Seq, t.Result})
	}

	if len(execResults) > 0 {
		// stable sort by insertion order
		for i := 1; i < len(execResults); i++ {
			for j := i; j > 0 && execResults[j].seq < execResults[j-1].seq; j-- {
				execResults[j], execResults[j-1] = execResults[j-1], execResults[j]
			}
		}
		joined := execResults[0].result
		for _, r := range execResults[1:] {
			joined += "\n\n---\n\n" + r.result
		}
		return joined, nil
	}

	if havePlanner {
		return plannerResult, nil
	}

	if root, ok := doc.Tasks[rootTaskID]; ok && root.Result != "" {
		return root.Result, nil
	}
	return "", nil
}
