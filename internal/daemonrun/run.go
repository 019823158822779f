package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"narrate/internal/artifact"
	"narrate/internal/assembly"
	"narrate/internal/config"
	"narrate/internal/daemon"
	"narrate/internal/logging"
	"narrate/internal/media"
	"narrate/internal/media/probe"
	"narrate/internal/media/segment"
	"narrate/internal/notifications"
	"narrate/internal/preflight"
	"narrate/internal/statusbus"
	"narrate/internal/store"
	"narrate/internal/synthesis"
	"narrate/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// StopWorker terminates the synthesis worker when the daemon exits.
	// Otherwise the worker keeps running and is adopted on the next start.
	StopWorker bool
}

// Run starts the narrate daemon and blocks until a signal arrives or a
// client requests shutdown over the API.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("narrate-%s.log", runID))
	level := opts.LogLevel
	if strings.TrimSpace(level) == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", logPath},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.DaemonLogPath(), logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update narrate.log link: %v\n", err)
	}
	logDependencySnapshot(logger, cfg)

	pidPath := cfg.DaemonPIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		logger.Error("open job status store", logging.Error(err))
		return err
	}

	rt, err := build(cfg, st, logger)
	if err != nil {
		_ = st.Close()
		return err
	}
	defer rt.transport.Close()

	if err := rt.daemon.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check that no other daemon holds the lock and the API bind address is free"),
		)
		_ = rt.daemon.Close()
		return err
	}

	group, groupCtx := errgroup.WithContext(signalCtx)
	group.Go(func() error {
		select {
		case <-groupCtx.Done():
			logger.Info("shutdown signal received",
				logging.String(logging.FieldEventType, "daemon_signal"))
		case <-rt.daemon.ShutdownRequested():
			logger.Info("shutdown requested over api",
				logging.String(logging.FieldEventType, "daemon_stop_requested"))
		}
		return nil
	})
	waitErr := group.Wait()

	logger.Info("narrate daemon shutting down",
		logging.String(logging.FieldEventType, "daemon_stopping"))
	closeErr := rt.daemon.Close()
	if opts.StopWorker && rt.worker != nil {
		stopCtx, stopCancel := context.WithTimeout(context.WithoutCancel(cmdCtx), cfg.ShutdownTimeout())
		if err := rt.worker.Stop(stopCtx); err != nil {
			logging.WarnWithContext(logger, "synthesis worker did not stop cleanly", "worker_stop_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "worker process may still be running"),
			)
		}
		stopCancel()
	}
	return errors.Join(waitErr, closeErr)
}

type runtime struct {
	daemon    *daemon.Daemon
	worker    *synthesis.Worker
	transport synthesis.Transport
}

// build wires every component the daemon owns around an open store.
func build(cfg *config.Config, st *store.Store, logger *slog.Logger) (*runtime, error) {
	hub := statusbus.NewHub(cfg.Workflow.StatusBuffer)
	notifier := notifications.NewService(cfg)

	artifacts, err := artifact.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open artifact store: %w", err)
	}

	transport, err := synthesis.NewTransport(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open synthesis transport: %w", err)
	}
	worker := synthesis.NewWorker(synthesis.WorkerOptionsFromConfig(cfg), logger)
	channel := synthesis.NewChannel(transport, worker, synthesis.OptionsFromConfig(cfg), logger)

	frame := media.Frame{Width: cfg.Video.Width, Height: cfg.Video.Height, FPS: cfg.Video.FPS}
	mediaProbe := probe.New(cfg.FFmpegBinary(), cfg.FFprobeBinary(), frame, probe.WithLogger(logger))
	encoder := segment.NewEncoder(cfg.FFmpegBinary(), segment.Profile{
		Frame:        frame,
		CRF:          cfg.Video.CRF,
		Preset:       cfg.Video.Preset,
		AudioBitrate: cfg.Video.AudioBitrate,
	}, segment.WithLogger(logger))

	orchestrator, err := assembly.New(assembly.Dependencies{
		Store:     st,
		Probe:     mediaProbe,
		Encoder:   encoder,
		Artifacts: artifacts,
		Hub:       hub,
		Notifier:  notifier,
		Logger:    logger,
	}, assembly.Options{
		WorkDir: cfg.Paths.WorkDir,
		LockDir: filepath.Join(cfg.Paths.DataDir, "locks"),
	})
	if err != nil {
		_ = transport.Close()
		return nil, fmt.Errorf("create orchestrator: %w", err)
	}

	manager, err := workflow.NewManager(cfg, workflow.Dependencies{
		Store:        st,
		Orchestrator: orchestrator,
		Synthesizer:  channel,
		Worker:       worker,
		Probe:        mediaProbe,
		Artifacts:    artifacts,
		Hub:          hub,
		Notifier:     notifier,
		Logger:       logger,
	})
	if err != nil {
		_ = transport.Close()
		return nil, fmt.Errorf("create workflow manager: %w", err)
	}

	d, err := daemon.New(cfg, daemon.Dependencies{
		Store:     st,
		Workflow:  manager,
		Hub:       hub,
		Artifacts: artifacts,
		Notifier:  notifier,
		Logger:    logger,
	})
	if err != nil {
		_ = transport.Close()
		return nil, fmt.Errorf("create daemon: %w", err)
	}
	return &runtime{daemon: d, worker: worker, transport: transport}, nil
}

func ensureCurrentLogPointer(current, target string) error {
	if current == "" || target == "" {
		return nil
	}
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	statuses := preflight.CheckSystemDeps(cfg)
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.String("synthesis_transport", cfg.Synthesis.Transport),
		logging.String("storage_backend", cfg.Storage.Backend),
		logging.Bool("notifications_enabled", strings.TrimSpace(cfg.Notifications.NtfyTopic) != ""),
	}
	for _, status := range statuses {
		key := strings.ToLower(strings.ReplaceAll(status.Name, " ", "_"))
		attrs = append(attrs,
			logging.Bool(key+"_available", status.Available),
			logging.String(key+"_binary", status.Resolved),
		)
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
}
