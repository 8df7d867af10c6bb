// Package main provides the CLI entry point for agentcored, the coding-agent
// harness daemon.
//
// agentcored wires together the Event Bus, Message & Session Store, Provider
// Port, Stream Reducer, Tool Registry & Runner, Agent FSM, Conversation
// Repair, Context Manager, and Session Supervision into one long-running
// process: on startup it resumes every catalogued session under a
// rest_for_one supervisor tree, and keeps them live until a shutdown signal
// or a config-file change triggers a graceful restart.
//
// # Basic Usage
//
// Start the daemon:
//
//	agentcored serve --config agentcore.toml
//
// Validate a config file without starting anything:
//
//	agentcored config validate --config agentcore.toml
//
// Print the config file's JSON Schema:
//
//	agentcored config schema
//
// # Environment Variables
//
//   - AGENTCORE_TRANSPORT_ADDR: overrides server.transport_addr
//   - AGENTCORE_METRICS_ADDR: overrides server.metrics_addr
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY, GEMINI_API_KEY: provider credentials
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/opencoreharness/agentcore/internal/approval"
	"github.com/opencoreharness/agentcore/internal/config"
	"github.com/opencoreharness/agentcore/internal/eventbus"
	"github.com/opencoreharness/agentcore/internal/fsm"
	"github.com/opencoreharness/agentcore/internal/jobs"
	"github.com/opencoreharness/agentcore/internal/message"
	"github.com/opencoreharness/agentcore/internal/multiagent"
	"github.com/opencoreharness/agentcore/internal/observability"
	"github.com/opencoreharness/agentcore/internal/provider"
	"github.com/opencoreharness/agentcore/internal/provider/anthropic"
	"github.com/opencoreharness/agentcore/internal/provider/gemini"
	"github.com/opencoreharness/agentcore/internal/provider/mock"
	"github.com/opencoreharness/agentcore/internal/provider/openai"
	"github.com/opencoreharness/agentcore/internal/restart"
	"github.com/opencoreharness/agentcore/internal/session"
	"github.com/opencoreharness/agentcore/internal/session/sqlitestore"
	"github.com/opencoreharness/agentcore/internal/supervisor"
	"github.com/opencoreharness/agentcore/internal/tools"
	"github.com/opencoreharness/agentcore/internal/tools/exec"
	"github.com/opencoreharness/agentcore/internal/tools/files"
	"github.com/opencoreharness/agentcore/internal/tools/schema"
	"github.com/opencoreharness/agentcore/internal/tools/subagent"
	"github.com/opencoreharness/agentcore/internal/trace"
	"github.com/opencoreharness/agentcore/internal/transport"
	"github.com/opencoreharness/agentcore/pkg/agentapi"
)

// Build information, populated by ldflags during release builds.
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD)"
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRootCmd assembles the command tree. Kept separate from main so tests
// can exercise it without calling os.Exit.
func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "agentcored",
		Short: "agentcored - coding-agent harness daemon",
		Long: `agentcored runs the coding-agent harness: a provider-agnostic Agent FSM
that drives tool-using conversations under supervision, with crash recovery,
conversation repair, and context compaction built in.`,
		Version: fmt.Sprintf("%s (%s)", version, commit),
	}

	root.AddCommand(buildServeCmd(), buildConfigCmd())
	return root
}

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agentcored daemon",
		Long: `Start the agentcored daemon: load configuration, resume every catalogued
session under supervision, and serve until SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "agentcore.toml", "Path to TOML configuration file")
	return cmd
}

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
	}
	cmd.AddCommand(buildConfigValidateCmd(), buildConfigSchemaCmd())
	return cmd
}

func buildConfigValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a config file without starting the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(configPath); err != nil {
				return err
			}
			fmt.Println("config is valid")
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "agentcore.toml", "Path to TOML configuration file")
	return cmd
}

func buildConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the config file's JSON Schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			schemaJSON, err := config.JSONSchema()
			if err != nil {
				return err
			}
			fmt.Println(string(schemaJSON))
			return nil
		},
	}
}

// daemon holds the long-lived collaborators runServe wires together, so
// helper constructors can take one argument instead of a dozen.
type daemon struct {
	cfg      *config.Config
	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   *trace.Tracer
	bus      *eventbus.Bus
	provider provider.Provider
	registry *tools.Registry
	runner   *tools.Runner
	catalog  *sqlitestore.Store
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	logger.Info(ctx, "starting agentcored", "version", version, "commit", commit, "config", configPath)

	tracer, shutdownTracer := trace.NewTracer(trace.Config{
		ServiceName:    cfg.Observability.Tracing.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Observability.Tracing.Environment,
		Endpoint:       cfg.Observability.Tracing.Endpoint,
		SamplingRate:   cfg.Observability.Tracing.SamplingRate,
		Attributes:     cfg.Observability.Tracing.Attributes,
		EnableInsecure: cfg.Observability.Tracing.Insecure,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Warn(ctx, "tracer shutdown failed", "error", err)
		}
	}()

	metrics := observability.NewMetrics()

	llm, err := buildProvider(cfg)
	if err != nil {
		return fmt.Errorf("build provider: %w", err)
	}

	registry, err := buildRegistry(cfg)
	if err != nil {
		return fmt.Errorf("build tool registry: %w", err)
	}

	bus := eventbus.New()
	runner := buildRunner(cfg, registry, bus)

	var catalog *sqlitestore.Store
	if cfg.Session.Backend == "sqlite" {
		catalog, err = sqlitestore.Open(ctx, cfg.Session.SQLitePath)
		if err != nil {
			return fmt.Errorf("open session catalog: %w", err)
		}
		defer catalog.Close()
	}

	d := &daemon{
		cfg: cfg, logger: logger, metrics: metrics, tracer: tracer,
		bus: bus, provider: llm, registry: registry, runner: runner, catalog: catalog,
	}

	router := buildRouter(cfg, registry, d)
	if cfg.Tools.Subagent.Enabled {
		spawnManager := subagent.NewManager(router, subagentDispatch(d, router), cfg.Tools.Subagent.MaxActive)
		registry.Register(subagent.NewSpawnTool(spawnManager))
		registry.Register(subagent.NewStatusTool(spawnManager))
		registry.Register(subagent.NewCancelTool(spawnManager))
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsServer := startMetricsServer(cfg.Server.MetricsAddr, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	core, err := buildCore(cfg, d)
	if err != nil {
		return fmt.Errorf("build core: %w", err)
	}
	transportServer := startTransportServer(cfg.Server.TransportAddr, core, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = transportServer.Shutdown(shutdownCtx)
	}()

	var watchdogSweep *cron.Cron
	if cfg.FSM.Watchdog.Enabled && catalog != nil {
		watchdogSweep = startWatchdog(cfg, catalog, logger)
		defer watchdogSweep.Stop()
	}

	var watcher *restart.ConfigWatcher
	if cfg.Restart.WatchConfigFile {
		watcher = restart.NewConfigWatcher(configPath, cfg.Restart.Debounce, func() {
			logger.Warn(ctx, "config file changed, stopping for restart", "path", configPath)
			_ = restart.WriteSentinel(cfg.Restart.StateDir, restart.SentinelPayload{
				Kind:   restart.KindConfigApply,
				Status: restart.StatusOK,
				Ts:     time.Now().Unix(),
			})
			stop()
		})
		if err := watcher.Start(ctx); err != nil {
			logger.Warn(ctx, "config watcher failed to start", "error", err)
		} else {
			defer watcher.Close()
		}
	}

	children, err := resumeSessions(d)
	if err != nil {
		return fmt.Errorf("resume sessions: %w", err)
	}
	logger.Info(ctx, "resumed sessions", "count", len(children))

	sup := supervisor.New(supervisor.RestartPolicy{
		MaxRestarts: cfg.Supervisor.Backoff.MaxRetries,
		BaseDelay:   cfg.Supervisor.Backoff.Initial,
	}, func(r supervisor.CrashReport) {
		metrics.RecordError("supervisor", r.Child)
		logger.Warn(ctx, "session crashed", "child", r.Child, "attempt", r.Attempt, "restarted", r.Restarted, "error", r.Err)
	}, children...)

	runErr := sup.Run(ctx)

	logger.Info(ctx, "agentcored stopped")
	return runErr
}

// buildProvider constructs the configured default Provider, wrapped with the
// configured rate limit, and — when cfg.Provider.FallbackChain names further
// providers — composed into a provider.Failover chain so a turn survives
// one backend's outage instead of surfacing it straight to the FSM.
func buildProvider(cfg *config.Config) (provider.Provider, error) {
	p, err := newNamedProvider(cfg, cfg.Provider.DefaultProvider)
	if err != nil {
		return nil, err
	}

	if len(cfg.Provider.FallbackChain) == 0 {
		return p, nil
	}

	failover := provider.NewFailover(p)
	for _, name := range cfg.Provider.FallbackChain {
		if name == cfg.Provider.DefaultProvider {
			continue
		}
		fp, err := newNamedProvider(cfg, name)
		if err != nil {
			return nil, fmt.Errorf("fallback provider %q: %w", name, err)
		}
		failover.AddProvider(fp)
	}
	return failover, nil
}

// newNamedProvider constructs one configured Provider by name, wrapped with
// the configured rate limit.
func newNamedProvider(cfg *config.Config, name string) (provider.Provider, error) {
	creds := cfg.Provider.Providers[name]

	var p provider.Provider
	var err error
	switch name {
	case "anthropic":
		p, err = anthropic.New(anthropic.Config{
			APIKey:       creds.APIKey,
			BaseURL:      creds.BaseURL,
			MaxRetries:   cfg.Provider.Retry.MaxAttempts,
			RetryDelay:   cfg.Provider.Retry.InitialDelay,
			DefaultModel: creds.DefaultModel,
		})
	case "openai":
		p, err = openai.New(openai.Config{
			APIKey:     creds.APIKey,
			BaseURL:    creds.BaseURL,
			MaxRetries: cfg.Provider.Retry.MaxAttempts,
			RetryDelay: cfg.Provider.Retry.InitialDelay,
		})
	case "gemini":
		p, err = gemini.New(context.Background(), gemini.Config{
			APIKey:       creds.APIKey,
			DefaultModel: creds.DefaultModel,
		})
	case "mock":
		p = mock.New()
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Provider.RateLimit.Enabled {
		p = provider.WithRateLimit(p, cfg.Provider.RateLimit.RequestsPerSecond, cfg.Provider.RateLimit.Burst)
	}
	return p, nil
}

// buildRegistry constructs the built-in file/exec tool set, gated by
// cfg.Tools.Execution.
func buildRegistry(cfg *config.Config) (*tools.Registry, error) {
	workspace, err := filepath.Abs(".")
	if err != nil {
		return nil, err
	}

	registry := tools.NewRegistry()
	filesCfg := files.Config{Workspace: workspace}
	registry.Register(files.NewReadTool(filesCfg))
	registry.Register(files.NewWriteTool(filesCfg))
	registry.Register(files.NewEditTool(filesCfg))
	registry.Register(files.NewApplyPatchTool(filesCfg))

	execManager := exec.NewManager(workspace)
	registry.Register(exec.NewExecTool("exec", execManager))
	registry.Register(exec.NewProcessTool(execManager))

	if cfg.Tools.Workflow.Enabled {
		registry.Register(tools.NewWorkflowTool(tools.WorkflowConfig{
			Name:           cfg.Tools.Workflow.Name,
			ExecPath:       cfg.Tools.Workflow.ExecPath,
			WorkDir:        workspace,
			Timeout:        cfg.Tools.Workflow.Timeout,
			MaxStdoutBytes: cfg.Tools.Workflow.MaxStdoutBytes,
		}))
	}

	return registry, nil
}

// buildRunner wires a Runner's optional approval/schema/async-job hooks
// from cfg.Tools.
func buildRunner(cfg *config.Config, registry *tools.Registry, bus *eventbus.Bus) *tools.Runner {
	runner := tools.NewRunner(registry, bus)

	if cfg.Tools.Approval.Enabled {
		runner.Approval = approval.New(cfg.Tools.Approval.Patterns, nil)
	}
	if cfg.Tools.Schema.Enabled {
		runner.Validator = schema.NewValidator()
	}
	if len(cfg.Tools.Jobs.AsyncTools) > 0 {
		runner.Jobs = jobs.NewMemoryStore()
	}
	return runner
}

// buildRouter registers one multiagent.AgentProfile per configured
// sub-agent capability, scoped to its allowed tools.
func buildRouter(cfg *config.Config, registry *tools.Registry, d *daemon) *multiagent.Router {
	router := multiagent.NewRouter(multiagent.Config{})
	for capability, allowedTools := range cfg.Tools.Subagent.Capabilities {
		router.Register(multiagent.AgentProfile{
			ID:           capability,
			Name:         capability,
			Capabilities: []string{capability},
			AllowedTools: allowedTools,
		})
	}
	return router
}

// subagentDispatch runs a delegated task to completion in a fresh,
// unsupervised session scoped to the matched profile's allowed tools, and
// returns the sub-agent's final assistant reply.
func subagentDispatch(d *daemon, router *multiagent.Router) subagent.Dispatch {
	return func(ctx context.Context, profileID, task string) (string, error) {
		profile, _ := router.Profile(profileID)

		subRegistry := d.registry
		if len(profile.AllowedTools) > 0 {
			subRegistry = tools.NewRegistry()
			for _, name := range profile.AllowedTools {
				if t, ok := d.registry.Get(name); ok {
					subRegistry.Register(t)
				}
			}
		}

		subSess := session.New(uuid.NewString(), nil)
		agent := fsm.New(fsm.Config{
			Provider: d.provider,
			Registry: subRegistry,
			Bus:      d.bus,
			Runner:   tools.NewRunner(subRegistry, d.bus),
		}, subSess)

		if err := agent.Prompt(ctx, task); err != nil {
			return "", err
		}

		path, err := subSess.GetPath()
		if err != nil {
			return "", err
		}
		for i := len(path) - 1; i >= 0; i-- {
			if path[i].Role == message.RoleAssistant {
				return path[i].Content, nil
			}
		}
		return "", nil
	}
}

// resumeSessions loads every session catalogued in d.catalog (if any) and
// wraps each in a supervisor.SessionServer, ready to run under a
// Supervisor. With no catalog configured, agentcored starts with no
// resident sessions; pkg/agentapi's CreateSession is how new ones are
// added at runtime.
func resumeSessions(d *daemon) ([]supervisor.Child, error) {
	if d.catalog == nil {
		return nil, nil
	}

	records, err := d.catalog.List(context.Background())
	if err != nil {
		return nil, err
	}

	children := make([]supervisor.Child, 0, len(records))
	for _, rec := range records {
		persist, err := session.AppendLogWriter(rec.LogPath)
		if err != nil {
			d.logger.Warn(context.Background(), "failed to open session log", "session", rec.ID, "error", err)
			continue
		}
		sess, err := session.Load(rec.ID, rec.LogPath, persist)
		if err != nil {
			d.logger.Warn(context.Background(), "failed to load session", "session", rec.ID, "error", err)
			continue
		}

		newAgent := func(sess *session.Session) *fsm.Agent {
			return fsm.New(fsm.Config{
				Provider:       d.provider,
				Registry:       d.registry,
				Bus:            d.bus,
				Runner:         d.runner,
				MaxRetries:     d.cfg.FSM.MaxTurnRetries,
				RetryBaseDelay: d.cfg.FSM.RetryBackoff,
			}, sess)
		}
		children = append(children, supervisor.NewSessionServer(sess, d.bus, newAgent))
	}
	return children, nil
}

// buildCore assembles a pkg/agentapi.Core sharing d's already-constructed
// collaborators, so the JSON-RPC transport and the daemon's own resumed
// sessions run against the same Provider, Registry, Bus, and catalog.
func buildCore(cfg *config.Config, d *daemon) (*agentapi.Core, error) {
	autoSave := !cfg.Session.DisableAutoSave
	return agentapi.NewCore(agentapi.Config{
		Providers:       map[string]provider.Provider{cfg.Provider.DefaultProvider: d.provider},
		DefaultProvider: cfg.Provider.DefaultProvider,
		BaseRegistry:    d.registry,
		Bus:             d.bus,
		Approval:        d.runner.Approval,
		Validator:       d.runner.Validator,
		Jobs:            d.runner.Jobs,
		Catalog:         d.catalog,
		LogDir:          cfg.Session.LogDir,
		RestartPolicy: supervisor.RestartPolicy{
			MaxRestarts: cfg.Supervisor.Backoff.MaxRetries,
			BaseDelay:   cfg.Supervisor.Backoff.Initial,
		},
		OnCrash: func(r supervisor.CrashReport) {
			d.metrics.RecordError("supervisor", r.Child)
			d.logger.Warn(context.Background(), "session crashed", "child", r.Child, "attempt", r.Attempt, "restarted", r.Restarted, "error", r.Err)
		},
		Features:                agentapi.FeatureFlags{SubAgents: true, Skills: true, MCP: true, Debug: true},
		MaxSessions:             cfg.Session.MaxSessions,
		AutoSave:                &autoSave,
		StreamStallTimeout:      cfg.FSM.StreamStallTimeout,
		RetryMaxAttempts:        cfg.FSM.MaxTurnRetries,
		RetryBaseDelay:          cfg.FSM.RetryBackoff,
		DefaultContextWindow:    cfg.FSM.DefaultContextWindow,
		KeepRecentTokensDefault: cfg.FSM.KeepRecentTokensDefault,
	})
}

// startTransportServer serves the JSON-RPC/websocket transport (§6.1) on
// addr; the caller is responsible for calling Shutdown.
func startTransportServer(addr string, core *agentapi.Core, logger *observability.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/", transport.New(core))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn(context.Background(), "transport server stopped", "error", err)
		}
	}()
	return srv
}

// startMetricsServer serves Prometheus metrics on addr; the caller is
// responsible for calling Shutdown.
func startMetricsServer(addr string, logger *observability.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn(context.Background(), "metrics server stopped", "error", err)
		}
	}()
	return srv
}

// startWatchdog schedules a periodic sweep for sessions whose catalog row
// hasn't been touched in cfg.FSM.Watchdog.StuckAfter, logging a warning for
// each so an operator can investigate a turn that never reached idle.
func startWatchdog(cfg *config.Config, catalog *sqlitestore.Store, logger *observability.Logger) *cron.Cron {
	c := cron.New()
	_, err := c.AddFunc(cfg.FSM.Watchdog.Schedule, func() {
		ctx := context.Background()
		records, err := catalog.List(ctx)
		if err != nil {
			logger.Warn(ctx, "watchdog: failed to list sessions", "error", err)
			return
		}
		cutoff := time.Now().Add(-cfg.FSM.Watchdog.StuckAfter)
		for _, rec := range records {
			if rec.UpdatedAt.Before(cutoff) {
				logger.Warn(ctx, "watchdog: session has not progressed", "session", rec.ID, "updated_at", rec.UpdatedAt)
			}
		}
	})
	if err != nil {
		logger.Warn(context.Background(), "watchdog: invalid schedule", "schedule", cfg.FSM.Watchdog.Schedule, "error", err)
		return c
	}
	c.Start()
	return c
}
