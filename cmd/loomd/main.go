// Command loomd is the supervisor daemon: it hosts the task board, context
// bus, mailbox, wakeup bus, and orchestrator (spec.md §2), and either runs
// every configured agent's worker loop in-process ("runtime.mode:
// in_process") or launches them as subprocesses via the Lazy Runtime
// ("process"/"lazy"). Re-invoking this same binary with the hidden "worker"
// subcommand is how the Lazy Runtime's subprocess mode gives each agent its
// own OS process, mirroring the teacher's cmd/orchestrator entrypoint but
// without an embedded TUI — cmd/loom is the separate dashboard binary.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/loomwork/loom/internal/api"
	"github.com/loomwork/loom/internal/board"
	"github.com/loomwork/loom/internal/channel"
	"github.com/loomwork/loom/internal/config"
	"github.com/loomwork/loom/internal/contextbus"
	"github.com/loomwork/loom/internal/llm"
	"github.com/loomwork/loom/internal/llm/cliprovider"
	"github.com/loomwork/loom/internal/mailbox"
	"github.com/loomwork/loom/internal/orchestrator"
	"github.com/loomwork/loom/internal/resilience"
	"github.com/loomwork/loom/internal/runtime"
	"github.com/loomwork/loom/internal/tool"
	"github.com/loomwork/loom/internal/usage"
	"github.com/loomwork/loom/internal/wakeup"
	"github.com/loomwork/loom/internal/worker"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "worker" {
		if err := runWorker(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "loomd worker: %v\n", err)
			os.Exit(1)
		}
		return
	}
	if len(os.Args) > 1 && os.Args[1] == "submit" {
		if err := runSubmit(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "loomd submit: %v\n", err)
			os.Exit(1)
		}
		return
	}
	if err := runServe(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "loomd: %v\n", err)
		os.Exit(1)
	}
}

// paths computes the persisted-state layout of spec.md §6.4, relative to
// one data directory.
type paths struct{ dir string }

func (p paths) boardFile() string      { return filepath.Join(p.dir, "task_board.json") }
func (p paths) contextBusFile() string { return filepath.Join(p.dir, "context_bus.json") }
func (p paths) mailboxDir() string     { return filepath.Join(p.dir, "mailboxes") }
func (p paths) signalDir() string      { return filepath.Join(p.dir, "task_signals") }
func (p paths) usageDB() string        { return filepath.Join(p.dir, "usage.db") }
func (p paths) logsDir() string        { return filepath.Join(p.dir, "logs") }
func (p paths) agentLogFile(agentID string) string {
	return filepath.Join(p.logsDir(), agentID+".log")
}

func newLogger(w *os.File, jsonFormat bool) *slog.Logger {
	if jsonFormat {
		return slog.New(slog.NewJSONHandler(w, nil))
	}
	return slog.New(slog.NewTextHandler(w, nil))
}

// buildProvider constructs the one concrete llm.Provider adapter this
// module ships: internal/llm/cliprovider, driven by an external
// command-line coding tool. Every other adapter type is out of this
// module's scope per spec.md §1 — the LLM capability is consumed
// abstractly, and an operator who needs an HTTP-SDK-backed provider
// registers it here.
func buildProvider(name string, cfg config.ProviderConfig) (llm.Provider, error) {
	switch cfg.Type {
	case "cli", "":
		if cfg.Command == "" {
			return nil, fmt.Errorf("provider %q: type \"cli\" requires command", name)
		}
		return cliprovider.New(cliprovider.Config{Name: name, Command: cfg.Command, Args: cfg.Args}), nil
	default:
		return nil, fmt.Errorf("provider %q: unknown adapter type %q (only \"cli\" ships with this module)", name, cfg.Type)
	}
}

func buildRouter(cfg *config.Config) (*resilience.Router, error) {
	entries := make([]*resilience.ProviderEntry, 0, len(cfg.ProviderRouter.Providers))
	for name, pc := range cfg.ProviderRouter.Providers {
		p, err := buildProvider(name, pc)
		if err != nil {
			return nil, err
		}
		entries = append(entries, &resilience.ProviderEntry{
			Provider:       p,
			FallbackModels: pc.FallbackModels,
			Priority:       pc.Priority,
			CostPer1k:      pc.CostPer1k,
			CredentialKeys: len(pc.APIKeyEnv),
		})
	}
	strategy := resilience.Strategy(cfg.ProviderRouter.Strategy)
	if strategy == "" {
		strategy = resilience.StrategyPreference
	}
	return resilience.NewRouter(entries, strategy, cfg.ProviderRouter.Preferred), nil
}

func retryConfig(cfg *config.Config) resilience.RetryConfig {
	rc := resilience.DefaultRetryConfig()
	if cfg.Resilience.BaseDelay > 0 {
		rc.BaseDelay = time.Duration(cfg.Resilience.BaseDelay * float64(time.Second))
	}
	if cfg.Resilience.MaxDelay > 0 {
		rc.MaxDelay = time.Duration(cfg.Resilience.MaxDelay * float64(time.Second))
	}
	if cfg.Resilience.Jitter > 0 {
		rc.Jitter = time.Duration(cfg.Resilience.Jitter * float64(time.Second))
	}
	return rc
}

func breakerConfig(cfg *config.Config) resilience.BreakerConfig {
	bc := resilience.DefaultBreakerConfig()
	if cfg.Resilience.CircuitBreakerThreshold > 0 {
		bc.Threshold = cfg.Resilience.CircuitBreakerThreshold
	}
	if cfg.Resilience.CircuitBreakerCooldown > 0 {
		bc.Cooldown = time.Duration(cfg.Resilience.CircuitBreakerCooldown * float64(time.Second))
	}
	return bc
}

// agentsByRole groups configured agent ids by role, for the orchestrator's
// critique/synthesis routing.
func agentsByRole(agents map[string]config.AgentConfig) map[string][]string {
	out := make(map[string][]string)
	for id, a := range agents {
		out[a.Role] = append(out[a.Role], id)
	}
	return out
}

func findPlanner(agents map[string]config.AgentConfig) string {
	for id, a := range agents {
		if a.Role == "planner" {
			return id
		}
	}
	return ""
}

// selfWorkerSpec builds the subprocess launch spec for an agent under
// "process"/"lazy" runtime mode: re-invoke this same binary in worker mode
// unless the operator overrode Command/Args in config (e.g. to run an
// entirely different executable per agent).
func selfWorkerSpec(agentID string, ac config.AgentConfig, p paths, globalConfig, projectConfig string) (command string, args []string, err error) {
	if ac.Command != "" {
		return ac.Command, ac.Args, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return "", nil, fmt.Errorf("resolving self executable: %w", err)
	}
	return exe, []string{
		"worker",
		"--agent-id", agentID,
		"--data-dir", p.dir,
		"--config", globalConfig,
		"--project-config", projectConfig,
	}, nil
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("loomd", flag.ExitOnError)
	dataDir := fs.String("data-dir", ".", "directory holding task_board.json and friends (spec.md §6.4)")
	globalConfig := fs.String("config", "", "global config path; empty resolves via XDG")
	projectConfig := fs.String("project-config", "", "project config path; empty tries .loom/config.json|.yaml")
	httpAddr := fs.String("http-addr", "127.0.0.1:7787", "admin HTTP surface listen address")
	jsonLogs := fs.Bool("json-logs", false, "emit structured JSON logs instead of text")
	if err := fs.Parse(args); err != nil {
		return err
	}

	log := newLogger(os.Stdout, *jsonLogs)

	cfg, err := loadConfig(*globalConfig, *projectConfig)
	if err != nil {
		return err
	}

	p := paths{dir: *dataDir}
	if err := os.MkdirAll(p.logsDir(), 0o755); err != nil {
		return fmt.Errorf("creating logs dir: %w", err)
	}

	b := board.New(p.boardFile(), log)
	mb := mailbox.New(p.mailboxDir(), log)
	wb := wakeup.New(p.signalDir())
	cb := contextbus.New(p.contextBusFile(), log)
	ch := channel.New()

	orch := orchestrator.New(b, mb, wb, ch, agentsByRole(cfg.Agents), findPlanner(cfg.Agents), log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := usage.Open(ctx, p.usageDB())
	if err != nil {
		return fmt.Errorf("opening usage ledger: %w", err)
	}
	defer store.Close()

	apiServer := api.New(b, cfg.Agents, store, log)
	httpServer := &http.Server{Addr: *httpAddr, Handler: apiServer.Router()}
	go func() {
		log.Info("loomd: admin http surface listening", "addr", *httpAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("loomd: admin http surface exited", "error", err)
		}
	}()

	idleShutdown := time.Duration(cfg.Runtime.IdleShutdown * float64(time.Second))
	if idleShutdown <= 0 {
		idleShutdown = 600 * time.Second
	}

	switch cfg.Runtime.Mode {
	case "in_process":
		return runInProcess(ctx, cfg, b, mb, wb, cb, orch, store, log)
	default: // "process" and "lazy" both use the subprocess-based Lazy Runtime
		return runLazy(ctx, cfg, p, *globalConfig, *projectConfig, b, mb, wb, idleShutdown, log, httpServer)
	}
}

// runInProcess drives every configured agent's worker.Worker as a goroutine
// in this process, per spec.md §6.5's runtime.mode="in_process" — useful
// for single-binary deployments and local development where the subprocess
// isolation of "lazy"/"process" mode isn't wanted.
func runInProcess(ctx context.Context, cfg *config.Config, b *board.Board, mb *mailbox.Store, wb *wakeup.Bus, cb *contextbus.Bus, orch *orchestrator.Orchestrator, store *usage.Store, log *slog.Logger) error {
	router, err := buildRouter(cfg)
	if err != nil {
		return err
	}
	breakers := resilience.NewBreakerRegistry(breakerConfig(cfg), nil)
	client := resilience.NewClient(router, breakers, retryConfig(cfg), store, nil, log)
	tools := tool.NewDispatcher()

	errCh := make(chan error, len(cfg.Agents))
	running := 0
	for id, ac := range cfg.Agents {
		wb.Register(id)
		def := worker.Definition{
			AgentID:            id,
			Role:               ac.Role,
			Model:              ac.Model,
			Reputation:         0,
			SystemPrompt:       ac.SystemPrompt,
			Skills:             ac.Skills,
			PromptBudgetTokens: cfg.Compaction.PromptBudgetTokens,
			MaxIdleCycles:      cfg.MaxIdleCycles,
		}
		w := worker.New(def, b, mb, wb, cb, orch, client, tools, store, log.With("agent_id", id))
		running++
		go func() {
			errCh <- w.Run(ctx)
		}()
	}

	log.Info("loomd: running in_process", "agents", running)
	<-ctx.Done()
	log.Info("loomd: shutdown signal received")
	for i := 0; i < running; i++ {
		<-errCh
	}
	return nil
}

// runLazy drives the Lazy Runtime (C5): agents run as subprocesses,
// launched on demand and self-invoking this binary's "worker" mode.
func runLazy(ctx context.Context, cfg *config.Config, p paths, globalConfig, projectConfig string, b *board.Board, mb *mailbox.Store, wb *wakeup.Bus, idleShutdown time.Duration, log *slog.Logger, httpServer *http.Server) error {
	alwaysOn := make(map[string]bool, len(cfg.Runtime.AlwaysOn))
	for _, id := range cfg.Runtime.AlwaysOn {
		alwaysOn[id] = true
	}

	defs := make([]runtime.AgentDefinition, 0, len(cfg.Agents))
	for id, ac := range cfg.Agents {
		command, cmdArgs, err := selfWorkerSpec(id, ac, p, globalConfig, projectConfig)
		if err != nil {
			return err
		}
		defs = append(defs, runtime.AgentDefinition{
			ID:       id,
			Role:     ac.Role,
			Command:  command,
			Args:     cmdArgs,
			AlwaysOn: ac.AlwaysOn || alwaysOn[id],
		})
	}

	rt := runtime.New(defs, b, mb, wb, idleShutdown, log)
	if err := rt.Start(ctx); err != nil {
		return fmt.Errorf("starting lazy runtime: %w", err)
	}

	log.Info("loomd: running lazy runtime", "agents", len(defs))
	<-ctx.Done()
	log.Info("loomd: shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	if err := rt.Shutdown(); err != nil {
		log.Warn("loomd: runtime shutdown reported errors", "error", err)
	}
	return nil
}

// runWorker is the hidden entrypoint the Lazy Runtime self-invokes for
// each agent subprocess (spec.md §4.5: "the child process is given its
// agent definition, the board/bus/mailbox handles (via paths)").
func runWorker(args []string) error {
	fs := flag.NewFlagSet("loomd worker", flag.ExitOnError)
	agentID := fs.String("agent-id", "", "agent id to run (required)")
	dataDir := fs.String("data-dir", ".", "shared data directory")
	globalConfig := fs.String("config", "", "global config path")
	projectConfig := fs.String("project-config", "", "project config path")
	jsonLogs := fs.Bool("json-logs", true, "emit structured JSON logs")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *agentID == "" {
		return fmt.Errorf("--agent-id is required")
	}

	p := paths{dir: *dataDir}
	if err := os.MkdirAll(p.logsDir(), 0o755); err != nil {
		return fmt.Errorf("creating logs dir: %w", err)
	}
	logFile, err := os.OpenFile(p.agentLogFile(*agentID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening agent log: %w", err)
	}
	defer logFile.Close()
	log := newLogger(logFile, *jsonLogs).With("agent_id", *agentID)

	cfg, err := loadConfig(*globalConfig, *projectConfig)
	if err != nil {
		return err
	}
	ac, ok := cfg.Agents[*agentID]
	if !ok {
		return fmt.Errorf("agent %q not present in configuration", *agentID)
	}

	b := board.New(p.boardFile(), log)
	mb := mailbox.New(p.mailboxDir(), log)
	wb := wakeup.New(p.signalDir())
	cb := contextbus.New(p.contextBusFile(), log)
	ch := channel.New()
	orch := orchestrator.New(b, mb, wb, ch, agentsByRole(cfg.Agents), findPlanner(cfg.Agents), log)

	router, err := buildRouter(cfg)
	if err != nil {
		return err
	}
	breakers := resilience.NewBreakerRegistry(breakerConfig(cfg), nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := usage.Open(ctx, p.usageDB())
	if err != nil {
		return fmt.Errorf("opening usage ledger: %w", err)
	}
	defer store.Close()

	client := resilience.NewClient(router, breakers, retryConfig(cfg), store, nil, log)
	tools := tool.NewDispatcher()

	def := worker.Definition{
		AgentID:            *agentID,
		Role:               ac.Role,
		Model:              ac.Model,
		SystemPrompt:       ac.SystemPrompt,
		Skills:             ac.Skills,
		PromptBudgetTokens: cfg.Compaction.PromptBudgetTokens,
		MaxIdleCycles:      cfg.MaxIdleCycles,
	}
	w := worker.New(def, b, mb, wb, cb, orch, client, tools, store, log)
	return w.Run(ctx)
}

// runSubmit is a thin operator convenience wrapping orchestrator.Submit
// (spec.md §6.2's entry point for external collaborators) against the
// board files directly, without standing up the full daemon. It classifies
// and enqueues a task, then optionally blocks for the result.
func runSubmit(args []string) error {
	fs := flag.NewFlagSet("loomd submit", flag.ExitOnError)
	dataDir := fs.String("data-dir", ".", "shared data directory")
	wait := fs.Duration("wait", 0, "block for this long for a result; 0 to enqueue and return immediately")
	if err := fs.Parse(args); err != nil {
		return err
	}
	text := strings.Join(fs.Args(), " ")
	if text == "" {
		return fmt.Errorf("usage: loomd submit [--wait=30s] <task text>")
	}

	p := paths{dir: *dataDir}
	log := newLogger(os.Stderr, false)
	b := board.New(p.boardFile(), log)
	mb := mailbox.New(p.mailboxDir(), log)
	wb := wakeup.New(p.signalDir())
	ch := channel.New()
	orch := orchestrator.New(b, mb, wb, ch, nil, "", log)

	taskID, err := orch.Submit(text, board.Provenance{Channel: "cli"})
	if err != nil {
		return err
	}
	fmt.Println(taskID)

	if *wait <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), *wait)
	defer cancel()
	result, err := orch.Wait(ctx, taskID, *wait)
	if err != nil {
		return err
	}
	fmt.Println(result)
	return nil
}

func loadConfig(globalPath, projectPath string) (*config.Config, error) {
	if globalPath == "" && projectPath == "" {
		return config.LoadDefault()
	}
	return config.Load(globalPath, projectPath)
}
