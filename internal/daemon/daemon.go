package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"narrate/internal/artifact"
	"narrate/internal/config"
	"narrate/internal/deps"
	"narrate/internal/logging"
	"narrate/internal/notifications"
	"narrate/internal/preflight"
	"narrate/internal/staging"
	"narrate/internal/statusbus"
	"narrate/internal/store"
	"narrate/internal/workflow"
)

// Dependencies wires a Daemon.
type Dependencies struct {
	Store     *store.Store
	Workflow  *workflow.Manager
	Hub       *statusbus.Hub
	Artifacts artifact.Store
	Notifier  notifications.Service
	Logger    *slog.Logger
}

// Daemon coordinates the background services and enforces single-instance execution.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *store.Store
	workflow  *workflow.Manager
	hub       *statusbus.Hub
	artifacts artifact.Store
	notifier  notifications.Service
	logPath   string

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	mu      sync.Mutex
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc

	depsMu       sync.RWMutex
	dependencies []deps.Status

	shutdownOnce sync.Once
	shutdown     chan struct{}
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	DatabasePath string
	LockFilePath string
	LogPath      string
	Transport    string
	Storage      string
	Workflow     workflow.StatusSummary
	Dependencies []deps.Status
	WorkDirs     []staging.DirInfo
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, d Dependencies) (*Daemon, error) {
	if cfg == nil || d.Store == nil || d.Workflow == nil || d.Hub == nil || d.Artifacts == nil {
		return nil, errors.New("daemon requires config, store, workflow manager, status hub and artifact store")
	}
	logger := d.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	notifier := d.Notifier
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	daemon := &Daemon{
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "daemon"),
		store:     d.Store,
		workflow:  d.Workflow,
		hub:       d.Hub,
		artifacts: d.Artifacts,
		notifier:  notifier,
		logPath:   cfg.DaemonLogPath(),
		lockPath:  cfg.DaemonLockPath(),
		lock:      flock.New(cfg.DaemonLockPath()),
		shutdown:  make(chan struct{}),
	}
	api, err := newAPIServer(cfg, daemon, logger)
	if err != nil {
		return nil, err
	}
	daemon.api = api
	return daemon, nil
}

// Start acquires the daemon lock, repairs state left by a previous process
// and launches the workflow manager and API server.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	if err := os.MkdirAll(filepath.Dir(d.lockPath), 0o755); err != nil {
		return fmt.Errorf("ensure lock directory: %w", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another narrate daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	d.prepare(d.ctx)

	if err := d.workflow.Start(d.ctx); err != nil {
		d.abortStart()
		return fmt.Errorf("start workflow: %w", err)
	}
	if err := d.api.start(d.ctx); err != nil {
		d.workflow.Stop()
		d.abortStart()
		return err
	}

	d.running.Store(true)
	d.logger.Info("narrate daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.String("api", d.APIAddress()),
	)
	return nil
}

func (d *Daemon) abortStart() {
	_ = d.lock.Unlock()
	d.cancel()
	d.ctx = nil
	d.cancel = nil
}

// prepare runs the start-up maintenance steps. Failures are logged; none of
// them keeps the daemon from serving.
func (d *Daemon) prepare(ctx context.Context) {
	if err := d.cfg.EnsureDirectories(); err != nil {
		logging.WarnWithContext(d.logger, "failed to create directories", "directory_setup_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check paths in the config file"),
			logging.String(logging.FieldImpact, "runs or uploads may fail"),
		)
	}

	if recovered, err := d.workflow.Recover(ctx); err != nil {
		logging.WarnWithContext(d.logger, "failed to recover interrupted runs", "recovery_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "projects may stay in generating until reset"),
		)
	} else if recovered > 0 {
		d.logger.Info("recovered interrupted runs", logging.Int("projects", recovered))
	}

	maxAge := time.Duration(d.cfg.Workflow.StaleWorkDirAge) * time.Second
	if maxAge > 0 {
		result := staging.CleanStale(ctx, d.cfg.Paths.WorkDir, maxAge, d.logger)
		if len(result.Removed) > 0 {
			d.logger.Info("stale run directories removed", logging.Int("count", len(result.Removed)))
		}
	}
	d.cleanOrphanedMedia(ctx)

	for _, result := range preflight.RunAll(ctx, d.cfg) {
		if result.Passed {
			continue
		}
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldImpact, "related operations will fail until fixed"),
		)
	}

	statuses := preflight.CheckSystemDeps(d.cfg)
	d.depsMu.Lock()
	d.dependencies = statuses
	d.depsMu.Unlock()
	for _, missing := range deps.Missing(statuses) {
		logging.WarnWithContext(d.logger, "required dependency missing", "dependency_missing",
			logging.String("dependency", missing.Name),
			logging.String("command", missing.Command),
			logging.String(logging.FieldErrorHint, missing.Description),
			logging.String(logging.FieldImpact, "video generation will fail"),
		)
	}
}

func (d *Daemon) cleanOrphanedMedia(ctx context.Context) {
	projects, err := d.store.ListProjects(ctx)
	if err != nil {
		d.logger.Warn("skip media cleanup", logging.Error(err))
		return
	}
	referenced := make(map[string]struct{})
	for _, project := range projects {
		items, err := d.store.ListItems(ctx, project.ID)
		if err != nil {
			d.logger.Warn("skip media cleanup", logging.Error(err))
			return
		}
		for _, item := range items {
			for _, path := range []string{item.ImagePath, item.AudioPath} {
				if strings.TrimSpace(path) != "" {
					referenced[filepath.Clean(path)] = struct{}{}
				}
			}
		}
	}
	result := staging.CleanOrphaned(ctx, d.cfg.Paths.MediaDir, referenced, d.logger)
	if len(result.Removed) > 0 {
		d.logger.Info("orphaned media removed", logging.Int("count", len(result.Removed)))
	}
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	d.api.stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.workflow.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("narrate daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// RequestShutdown asks the owning process to stop the daemon.
func (d *Daemon) RequestShutdown() {
	d.shutdownOnce.Do(func() { close(d.shutdown) })
}

// ShutdownRequested is closed once a client asked the daemon to stop.
func (d *Daemon) ShutdownRequested() <-chan struct{} {
	return d.shutdown
}

// APIAddress returns the address the API listens on, or "" when disabled.
func (d *Daemon) APIAddress() string {
	return d.api.address()
}

// Handler returns the API handler. It is served by Start and exposed for
// embedding and tests.
func (d *Daemon) Handler() http.Handler {
	return d.api.handler
}

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// Doctor runs preflight checks and dependency lookups.
func (d *Daemon) Doctor(ctx context.Context) ([]preflight.Result, []deps.Status) {
	return preflight.RunAll(ctx, d.cfg), preflight.CheckSystemDeps(d.cfg)
}

// TestNotification sends a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.Publish(ctx, notifications.EventTest, nil); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	d.depsMu.RLock()
	dependencies := d.dependencies
	d.depsMu.RUnlock()
	if dependencies == nil {
		dependencies = preflight.CheckSystemDeps(d.cfg)
	}
	workDirs, err := staging.ListDirectories(d.cfg.Paths.WorkDir)
	if err != nil {
		d.logger.Debug("list run directories", logging.Error(err))
	}
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DatabasePath: d.store.Path(),
		LockFilePath: d.lockPath,
		LogPath:      d.logPath,
		Transport:    d.cfg.Synthesis.Transport,
		Storage:      d.cfg.Storage.Backend,
		Workflow:     d.workflow.Status(ctx),
		Dependencies: dependencies,
		WorkDirs:     workDirs,
	}
}
