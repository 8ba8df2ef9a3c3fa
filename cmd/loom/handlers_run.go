package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loomrun/loom/internal/agent"
	"github.com/loomrun/loom/internal/bus"
	"github.com/loomrun/loom/internal/channel"
	"github.com/loomrun/loom/internal/config"
	"github.com/loomrun/loom/internal/eventstore"
	"github.com/loomrun/loom/internal/observability"
	"github.com/loomrun/loom/internal/policy"
	"github.com/loomrun/loom/internal/ratelimit"
	"github.com/loomrun/loom/internal/recovery"
	"github.com/loomrun/loom/internal/runtime"
	"github.com/loomrun/loom/internal/tools"
	"github.com/loomrun/loom/pkg/models"
)

// runRun wires every component named in SPEC_FULL.md's CLI entrypoint
// section, starts the channel adapters and the agent loop, and blocks
// until a shutdown signal arrives. It returns errInterrupted (not a real
// error) when the shutdown was signal-triggered, so main can map that to
// exit code 130 instead of 1.
func runRun(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logLevel := cfg.Observability.LogLevel
	if debug {
		logLevel = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  logLevel,
		Format: cfg.Observability.LogFormat,
	})
	slog.SetDefault(logger)

	serviceName := cfg.Observability.ServiceName
	if serviceName == "" {
		serviceName = "loom"
	}

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
	} else {
		metrics = observability.NewMetrics(nil)
	}

	var tracer *observability.Tracer
	if cfg.Observability.TracingEnabled {
		tracer, err = observability.NewTracer(observability.TraceConfig{
			ServiceName:    serviceName,
			ServiceVersion: version,
			Environment:    "production",
		})
		if err != nil {
			return fmt.Errorf("initialize tracer: %w", err)
		}
	}

	store, err := buildStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}
	if err := store.Initialize(ctx); err != nil {
		return fmt.Errorf("storage init: %w", err)
	}
	defer store.Close()

	eventLogPath := cfg.Replay.EventLogDir
	if eventLogPath == "" {
		eventLogPath = "data/events"
	}
	events, err := eventstore.New(filepath.Join(eventLogPath, "events.jsonl"), eventstore.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("initialize event log: %w", err)
	}

	checkpointDir := cfg.Replay.CheckpointDir
	if checkpointDir == "" {
		checkpointDir = "data/checkpoints"
	}
	recoveryMgr, err := recovery.New(checkpointDir)
	if err != nil {
		return fmt.Errorf("initialize recovery manager: %w", err)
	}

	policyEngine := policy.NewEngine()

	workspace := cfg.Tools.WorkspaceFS
	if workspace == "" {
		workspace = "."
	}
	toolRegistry := tools.NewRegistry()
	if err := registerBuiltinTools(toolRegistry, cfg.Tools, workspace); err != nil {
		return fmt.Errorf("register tools: %w", err)
	}

	rt := runtime.New(toolRegistry, policyEngine, events)

	prov, err := buildProvider(cfg.Provider)
	if err != nil {
		return fmt.Errorf("initialize provider: %w", err)
	}

	var outboundLimiter *ratelimit.Outbound
	if cfg.RateLimit.MaxPerWindow > 0 {
		mode := ratelimit.Strict
		if cfg.RateLimit.Mode == "lenient" {
			mode = ratelimit.Lenient
		}
		perMinute := cfg.RateLimit.MaxPerWindow
		outboundLimiter = ratelimit.NewOutbound(perMinute, perMinute*60, mode)
	}

	busOpts := []bus.Option{bus.WithLogger(logger)}
	if outboundLimiter != nil {
		busOpts = append(busOpts, bus.WithOutboundRateLimit(outboundLimiter))
	}
	msgBus := bus.New(256, busOpts...)

	channels := channel.NewRegistry()
	if err := registerChannels(channels, cfg.Channels, msgBus, logger); err != nil {
		return fmt.Errorf("initialize channels: %w", err)
	}
	if len(channels.All()) == 0 {
		return fmt.Errorf("no channel is enabled in configuration")
	}

	loopConfig := agent.Config{
		MaxIterations:           cfg.Agent.MaxIterations,
		MaxToolCallsPerMessage:  cfg.Agent.MaxToolCallsPerMessage,
		ContextWindow:           cfg.Agent.ContextWindow,
		ContextCharBudget:       cfg.Agent.ContextCharBudget,
		ToolTimeoutSeconds:      int(cfg.Agent.ToolTimeout.Seconds()),
		ProviderMaxRetries:      cfg.Provider.MaxRetries,
		ProviderRetryDelay:      cfg.Provider.RetryDelay,
		WorkspacePath:           workspace,
		Engine:                  cfg.Agent.RuntimeEngine,
		DefaultModel:            cfg.Provider.DefaultModel,
		SystemPrompt:            "You are Loom, a multi-channel agent runtime. Use the available tools when they help answer the user's request.",
	}

	loop, err := agent.New(agent.Deps{
		Bus:      msgBus,
		Provider: prov,
		Runtime:  rt,
		Policy:   policyEngine,
		Tools:    toolRegistry,
		Storage:  store,
		Events:   events,
		Recovery: recoveryMgr,
		Metrics:  metrics,
		Tracer:   tracer,
		Logger:   logger,
		Config:   loopConfig,
	})
	if err != nil {
		return fmt.Errorf("initialize agent loop: %w", err)
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := resumeActiveRuns(runCtx, recoveryMgr, msgBus, logger); err != nil {
		logger.Warn("error resuming active runs", "error", err)
	}

	if err := channels.StartAll(runCtx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}

	errCh := make(chan error, 2)
	loopDone := make(chan struct{})
	go func() {
		errCh <- loop.Run(runCtx)
		close(loopDone)
	}()
	go func() {
		errCh <- channels.Dispatch(runCtx, msgBus.ConsumeOutbound, func(msg models.OutboundMessage, err error) {
			logger.Warn("outbound delivery failed", "channel", msg.Channel, "chat_id", msg.ChatID, "error", err)
		})
	}()

	logger.Info("loom runtime started",
		"version", version,
		"provider", cfg.Provider.Default,
		"channels", len(channels.All()),
	)

	var runErr error
	select {
	case <-runCtx.Done():
	case runErr = <-errCh:
	}

	logger.Info("shutdown signal received, stopping channels")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := channels.StopAll(shutdownCtx); err != nil {
		logger.Warn("error stopping channels", "error", err)
	}

	stop()
	select {
	case <-loopDone:
	case <-shutdownCtx.Done():
		logger.Warn("in-flight turns did not finish before the shutdown timeout")
	}

	if tracer != nil {
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("error shutting down tracer", "error", err)
		}
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return errInterrupted
}

// resumeActiveRuns re-publishes a synthesized continuation message for
// every checkpoint an interrupted run left behind, so the agent loop picks
// each one back up at its last recorded stage instead of losing it
// silently. Republished messages carry the recovery_resume/recovery_run_id
// metadata that processMessage reads to stamp RunStarted's
// recovery_resume_from field.
func resumeActiveRuns(ctx context.Context, mgr *recovery.Manager, msgBus *bus.Bus, logger *slog.Logger) error {
	checkpoints, err := mgr.ListActive(0)
	if err != nil {
		return fmt.Errorf("list active checkpoints: %w", err)
	}

	for _, checkpoint := range checkpoints {
		resumeMsg, err := mgr.BuildResumeMessage(checkpoint.RunID)
		if err != nil {
			logger.Warn("failed to build resume message", "run_id", checkpoint.RunID, "error", err)
			continue
		}
		if resumeMsg == nil {
			continue
		}
		if err := msgBus.PublishInbound(ctx, *resumeMsg); err != nil {
			logger.Warn("failed to republish resume message", "run_id", checkpoint.RunID, "error", err)
			continue
		}
		logger.Info("republished resume message for interrupted run", "run_id", checkpoint.RunID, "stage", checkpoint.Stage)
	}
	return nil
}
