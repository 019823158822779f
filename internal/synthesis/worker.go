package synthesis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"narrate/internal/logging"
	"narrate/internal/services"
)

// WorkerState is the supervised lifecycle of the synthesis worker.
type WorkerState string

const (
	WorkerStopped  WorkerState = "stopped"
	WorkerStarting WorkerState = "starting"
	WorkerReady    WorkerState = "ready"
	// WorkerUnready means the process is alive but has not raised its
	// readiness flag within the allowed window.
	WorkerUnready WorkerState = "unready"
)

// WorkerOptions configures a Worker handle.
type WorkerOptions struct {
	Command       []string
	PIDFile       string
	ReadyFile     string
	LockFile      string
	LogFile       string
	StartAttempts int
	StartInterval time.Duration
	ReadyTimeout  time.Duration
	ReadyInterval time.Duration
	StopTimeout   time.Duration
}

// WorkerStatus is a point-in-time view of the worker.
type WorkerStatus struct {
	State WorkerState `json:"state"`
	PID   int         `json:"pid,omitempty"`
	Ready bool        `json:"ready"`
}

// Worker supervises the out-of-process synthesis worker. One handle is
// created at start-up and shared by every caller; EnsureReady calls are
// serialized in-process and the launch itself is guarded by a file lock so
// two processes never start two workers.
type Worker struct {
	opts   WorkerOptions
	logger *slog.Logger

	mu sync.Mutex

	stateMu sync.RWMutex
	state   WorkerState
	childID int
	exited  chan struct{}
}

// NewWorker returns a stopped handle.
func NewWorker(opts WorkerOptions, logger *slog.Logger) *Worker {
	if opts.StartAttempts <= 0 {
		opts.StartAttempts = 60
	}
	if opts.StartInterval <= 0 {
		opts.StartInterval = time.Second
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 60 * time.Second
	}
	if opts.ReadyInterval <= 0 {
		opts.ReadyInterval = opts.StartInterval
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 10 * time.Second
	}
	if strings.TrimSpace(opts.LockFile) == "" && strings.TrimSpace(opts.PIDFile) != "" {
		opts.LockFile = opts.PIDFile + ".lock"
	}
	return &Worker{
		opts:   opts,
		logger: logging.NewComponentLogger(logger, "synthesis-worker"),
		state:  WorkerStopped,
	}
}

// State returns the last recorded lifecycle state.
func (w *Worker) State() WorkerState {
	w.stateMu.RLock()
	defer w.stateMu.RUnlock()
	return w.state
}

func (w *Worker) setState(state WorkerState) {
	w.stateMu.Lock()
	w.state = state
	w.stateMu.Unlock()
}

// Status inspects the process and readiness flag.
func (w *Worker) Status() WorkerStatus {
	pid := w.livePID()
	status := WorkerStatus{PID: pid, Ready: pid > 0 && w.readyFlag()}
	switch {
	case pid == 0:
		status.State = WorkerStopped
	case status.Ready:
		status.State = WorkerReady
	default:
		status.State = w.State()
		if status.State == WorkerStopped || status.State == WorkerReady {
			status.State = WorkerStarting
		}
	}
	return status
}

// EnsureReady returns once the worker is running and has signalled
// readiness, launching it first when no live process is found.
func (w *Worker) EnsureReady(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.livePID() == 0 {
		if err := w.start(ctx); err != nil {
			return err
		}
	}
	return w.awaitReady(ctx)
}

func (w *Worker) start(ctx context.Context) error {
	if len(w.opts.Command) == 0 || strings.TrimSpace(w.opts.Command[0]) == "" {
		w.setState(WorkerStopped)
		return services.Wrap(services.ErrWorkerStartFailed, "synthesis", "launch", "no worker command configured", nil)
	}
	if w.opts.LockFile != "" {
		lock := flock.New(w.opts.LockFile)
		locked, err := lock.TryLockContext(ctx, 100*time.Millisecond)
		if err != nil || !locked {
			if ctx.Err() != nil {
				return services.Wrap(services.ErrCancelled, "synthesis", "launch", "interrupted", ctx.Err())
			}
			return services.Wrap(services.ErrWorkerStartFailed, "synthesis", "launch", "acquire start lock", err)
		}
		defer func() { _ = lock.Unlock() }()
		if w.livePID() != 0 {
			return nil
		}
	}

	if w.opts.ReadyFile != "" {
		_ = os.Remove(w.opts.ReadyFile)
	}
	w.setState(WorkerStarting)

	cmd := exec.Command(w.opts.Command[0], w.opts.Command[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if logFile, err := openWorkerLog(w.opts.LogFile); err == nil && logFile != nil {
		cmd.Stdout = logFile
		cmd.Stderr = logFile
		defer logFile.Close()
	} else if err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, w.logger), "worker log unavailable", "worker_log_unavailable",
			logging.String(logging.FieldErrorHint, "check synthesis.worker_log permissions"),
			logging.String(logging.FieldImpact, "worker output is discarded"),
			logging.Error(err),
		)
	}
	if err := cmd.Start(); err != nil {
		w.setState(WorkerStopped)
		return services.Wrap(services.ErrWorkerStartFailed, "synthesis", "launch", strings.Join(w.opts.Command, " "), err)
	}
	pid := cmd.Process.Pid
	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
		w.clearPIDFile(pid)
	}()
	w.stateMu.Lock()
	w.childID = pid
	w.exited = exited
	w.stateMu.Unlock()

	if err := w.writePIDFile(pid); err != nil {
		logging.WarnWithContext(w.logger, "write worker pid file failed", "worker_pid_write_failed",
			logging.String(logging.FieldErrorHint, "check synthesis.pid_file permissions"),
			logging.String(logging.FieldImpact, "other processes cannot see this worker"),
			logging.Error(err),
		)
	}
	w.logger.Info("synthesis worker launched",
		logging.String(logging.FieldEventType, "worker_launched"),
		logging.Int("pid", pid),
		logging.String("command", strings.Join(w.opts.Command, " ")),
	)

	for attempt := 1; attempt <= w.opts.StartAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return services.Wrap(services.ErrCancelled, "synthesis", "launch", "interrupted", ctx.Err())
		case <-exited:
			w.setState(WorkerStopped)
			return services.Wrap(services.ErrWorkerStartFailed, "synthesis", "launch",
				fmt.Sprintf("worker pid %d exited during start-up; see %s", pid, w.opts.LogFile), nil)
		case <-time.After(w.opts.StartInterval):
		}
		if processAlive(pid) {
			return nil
		}
	}
	w.setState(WorkerStopped)
	return services.Wrap(services.ErrWorkerStartFailed, "synthesis", "launch",
		fmt.Sprintf("worker not live after %d attempts", w.opts.StartAttempts), nil)
}

func (w *Worker) awaitReady(ctx context.Context) error {
	deadline := time.Now().Add(w.opts.ReadyTimeout)
	for {
		if w.readyFlag() {
			if w.State() != WorkerReady {
				w.logger.Info("synthesis worker ready", logging.String(logging.FieldEventType, "worker_ready"))
			}
			w.setState(WorkerReady)
			return nil
		}
		if w.livePID() == 0 {
			w.setState(WorkerStopped)
			return services.Wrap(services.ErrWorkerStartFailed, "synthesis", "ready", "worker exited before signalling readiness", nil)
		}
		if !time.Now().Before(deadline) {
			w.setState(WorkerUnready)
			return services.Wrap(services.ErrWorkerNotReady, "synthesis", "ready",
				fmt.Sprintf("no readiness flag at %s after %s", w.opts.ReadyFile, w.opts.ReadyTimeout), nil)
		}
		w.setState(WorkerStarting)
		select {
		case <-ctx.Done():
			return services.Wrap(services.ErrCancelled, "synthesis", "ready", "interrupted", ctx.Err())
		case <-time.After(w.opts.ReadyInterval):
		}
	}
}

// Stop terminates the worker's process group and clears its flag files.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	pid := w.livePID()
	if pid == 0 {
		w.setState(WorkerStopped)
		w.clearPIDFile(0)
		return nil
	}
	if err := unix.Kill(-pid, unix.SIGTERM); err != nil {
		_ = unix.Kill(pid, unix.SIGTERM)
	}
	deadline := time.Now().Add(w.opts.StopTimeout)
	for processAlive(pid) && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	if processAlive(pid) {
		_ = unix.Kill(-pid, unix.SIGKILL)
		_ = unix.Kill(pid, unix.SIGKILL)
	}
	w.clearPIDFile(0)
	if w.opts.ReadyFile != "" {
		_ = os.Remove(w.opts.ReadyFile)
	}
	w.setState(WorkerStopped)
	w.logger.Info("synthesis worker stopped",
		logging.String(logging.FieldEventType, "worker_stopped"),
		logging.Int("pid", pid),
	)
	return nil
}

// livePID returns the pid of a live worker, preferring the child this
// handle launched, then the pid file. Zero means no worker is running.
func (w *Worker) livePID() int {
	w.stateMu.RLock()
	child, exited := w.childID, w.exited
	w.stateMu.RUnlock()
	if child > 0 && exited != nil {
		select {
		case <-exited:
		default:
			return child
		}
	}
	pid := w.readPIDFile()
	if pid > 0 && processAlive(pid) {
		return pid
	}
	return 0
}

func (w *Worker) readyFlag() bool {
	if w.opts.ReadyFile == "" {
		return true
	}
	_, err := os.Stat(w.opts.ReadyFile)
	return err == nil
}

func (w *Worker) readPIDFile() int {
	if w.opts.PIDFile == "" {
		return 0
	}
	data, err := os.ReadFile(w.opts.PIDFile)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}

func (w *Worker) writePIDFile(pid int) error {
	if w.opts.PIDFile == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(w.opts.PIDFile), 0o755); err != nil {
		return err
	}
	return os.WriteFile(w.opts.PIDFile, []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

// clearPIDFile removes the pid file when it still names pid (any pid when
// pid is zero).
func (w *Worker) clearPIDFile(pid int) {
	if w.opts.PIDFile == "" {
		return
	}
	if pid != 0 && w.readPIDFile() != pid {
		return
	}
	if err := os.Remove(w.opts.PIDFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		w.logger.Debug("remove worker pid file", logging.Error(err))
	}
}

func openWorkerLog(path string) (*os.File, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// processAlive probes pid with signal 0. EPERM still proves existence.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
