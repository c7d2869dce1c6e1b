// Package runtime implements the Lazy Runtime (spec.md §4.5): an on-demand
// process supervisor that launches always-on agents at startup and the rest
// only when the board shows matching pending work, shutting idle agents
// down gracefully. Grounded on the teacher's internal/backend.ProcessManager
// for subprocess lifecycle and core/runtime/lazy.py for the two-cadence
// monitor loop (Supplemented Feature #3).
package runtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loomwork/loom/internal/agentproc"
	"github.com/loomwork/loom/internal/board"
	"github.com/loomwork/loom/internal/mailbox"
	"github.com/loomwork/loom/internal/wakeup"
)

// AgentDefinition is the static configuration of one registerable agent.
type AgentDefinition struct {
	ID       string
	Role     string
	Command  string
	Args     []string
	Env      []string
	AlwaysOn bool
}

const (
	scanInterval      = 2 * time.Second
	idleSweepEvery     = 30 // ticks of scanInterval, i.e. ~60s per spec.md §4.5
	defaultGracePeriod = 5 * time.Second
	killAfter          = 3 * time.Second
)

// state tracks one registered agent's runtime bookkeeping.
type state struct {
	def            AgentDefinition
	lastActivityTs time.Time
}

// Runtime is the Lazy Runtime (C5) monitor and launcher.
type Runtime struct {
	mu    sync.Mutex
	defs  map[string]*state
	procs *agentproc.Manager

	board   *board.Board
	mailbox *mailbox.Store
	wakeup  *wakeup.Bus

	idleShutdown time.Duration
	gracePeriod  time.Duration
	log          *slog.Logger

	tick int
}

// New builds a Runtime over defs. idleShutdown is spec.md §4.5's
// idle_shutdown_seconds.
func New(defs []AgentDefinition, b *board.Board, mb *mailbox.Store, wb *wakeup.Bus, idleShutdown time.Duration, log *slog.Logger) *Runtime {
	if log == nil {
		log = slog.Default()
	}
	m := make(map[string]*state, len(defs))
	for _, d := range defs {
		m[d.ID] = &state{def: d}
		wb.Register(d.ID)
	}
	return &Runtime{
		defs:         m,
		procs:        agentproc.NewManager(),
		board:        b,
		mailbox:      mb,
		wakeup:       wb,
		idleShutdown: idleShutdown,
		gracePeriod:  defaultGracePeriod,
		log:          log,
	}
}

// Start launches every always_on agent and begins the background monitor
// loop, returning once always_on agents have been launched. The monitor
// runs until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	alwaysOn := make([]string, 0)
	for id, st := range r.defs {
		if st.def.AlwaysOn {
			alwaysOn = append(alwaysOn, id)
		}
	}
	r.mu.Unlock()

	for _, id := range alwaysOn {
		if err := r.EnsureRunning(ctx, id); err != nil {
			return err
		}
	}

	go r.monitorLoop(ctx)
	return nil
}

// EnsureRunning is idempotent: if agentID is alive, it refreshes its
// activity timestamp; otherwise it launches the process.
func (r *Runtime) EnsureRunning(ctx context.Context, agentID string) error {
	r.mu.Lock()
	st, ok := r.defs[agentID]
	r.mu.Unlock()
	if !ok {
		r.log.Warn("runtime: ensure_running on unregistered agent", "agent_id", agentID)
		return nil
	}

	if h, alive := r.procs.Get(agentID); alive {
		if exited, _ := h.Exited(); !exited {
			r.touch(agentID)
			return nil
		}
		r.procs.Untrack(agentID)
	}

	h, err := agentproc.Launch(ctx, agentproc.Spec{AgentID: agentID, Command: st.def.Command, Args: st.def.Args, Env: st.def.Env})
	if err != nil {
		r.log.Error("runtime: launch failed", "agent_id", agentID, "error", err)
		return err
	}
	r.procs.Track(h)
	r.touch(agentID)
	r.log.Info("runtime: launched agent", "agent_id", agentID, "pid", h.PID())
	return nil
}

func (r *Runtime) touch(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.defs[agentID]; ok {
		st.lastActivityTs = time.Now()
	}
}

// monitorLoop ticks at scanInterval, scanning for pending work every tick
// and sweeping idle agents roughly every idleSweepEvery ticks — one loop,
// two cadences, per Supplemented Feature #3, avoiding a second ticker.
func (r *Runtime) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.scanPendingRoles(ctx)
			r.tick++
			if r.tick%idleSweepEvery == 0 {
				r.sweepIdle(ctx)
			}
		}
	}
}

func (r *Runtime) scanPendingRoles(ctx context.Context) {
	pending, err := r.board.ListPending()
	if err != nil {
		r.log.Warn("runtime: listing pending tasks", "error", err)
		return
	}

	seen := make(map[string]bool)
	for _, t := range pending {
		if t.RequiredRole == "" || seen[t.RequiredRole] {
			continue
		}
		seen[t.RequiredRole] = true

		for _, id := range r.candidatesForRole(t.RequiredRole) {
			if err := r.EnsureRunning(ctx, id); err != nil {
				r.log.Warn("runtime: ensure_running failed during scan", "agent_id", id, "error", err)
			}
		}
	}
}

func (r *Runtime) candidatesForRole(role string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for id, st := range r.defs {
		if st.def.Role == role {
			out = append(out, id)
		}
	}
	return out
}

func (r *Runtime) sweepIdle(ctx context.Context) {
	r.mu.Lock()
	candidates := make([]*state, 0)
	for _, st := range r.defs {
		if !st.def.AlwaysOn {
			candidates = append(candidates, st)
		}
	}
	r.mu.Unlock()

	for _, st := range candidates {
		id := st.def.ID
		h, alive := r.procs.Get(id)
		if !alive {
			continue
		}
		if exited, _ := h.Exited(); exited {
			r.procs.Untrack(id)
			continue
		}
		if time.Since(st.lastActivityTs) <= r.idleShutdown {
			continue
		}
		if r.hasActiveClaim(id) {
			continue
		}
		go r.shutdownAgent(ctx, id, h)
	}
}

func (r *Runtime) hasActiveClaim(agentID string) bool {
	tasks, err := r.board.ListByAgent(agentID)
	if err != nil {
		r.log.Warn("runtime: checking active claim", "agent_id", agentID, "error", err)
		return true // fail safe: don't shut down an agent we can't verify is idle
	}
	for _, t := range tasks {
		switch t.Status {
		case board.Claimed, board.Review, board.CritiqueStat, board.Synthesizing:
			return true
		}
	}
	return false
}

// shutdownAgent signals graceful shutdown via mailbox, then escalates to
// SIGTERM and finally SIGKILL per spec.md §4.5's grace windows.
func (r *Runtime) shutdownAgent(ctx context.Context, agentID string, h *agentproc.Handle) {
	if err := r.mailbox.Send(agentID, "runtime", mailbox.Shutdown, nil); err != nil {
		r.log.Warn("runtime: sending shutdown message", "agent_id", agentID, "error", err)
	}
	r.wakeup.Notify(agentID)

	exited := waitChan(h)

	select {
	case <-exited:
		r.procs.Untrack(agentID)
		r.log.Info("runtime: agent exited gracefully", "agent_id", agentID)
		return
	case <-time.After(r.gracePeriod):
	}

	if err := h.Terminate(); err != nil {
		r.log.Warn("runtime: sigterm failed", "agent_id", agentID, "error", err)
	}

	select {
	case <-exited:
		r.procs.Untrack(agentID)
		r.log.Info("runtime: agent exited after sigterm", "agent_id", agentID)
		return
	case <-time.After(killAfter):
	}

	if err := h.Kill(); err != nil {
		r.log.Error("runtime: sigkill failed", "agent_id", agentID, "error", err)
	}
	r.procs.Untrack(agentID)
	r.log.Warn("runtime: agent force-killed", "agent_id", agentID)
}

func waitChan(h *agentproc.Handle) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		h.Wait()
		close(ch)
	}()
	return ch
}

// Shutdown terminates every tracked agent subprocess immediately, for
// supervisor exit.
func (r *Runtime) Shutdown() error {
	return r.procs.KillAll()
}
