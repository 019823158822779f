package assembly

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"narrate/internal/artifact"
	"narrate/internal/logging"
	"narrate/internal/media/segment"
	"narrate/internal/notifications"
	"narrate/internal/services"
	"narrate/internal/statusbus"
	"narrate/internal/store"
)

// MediaProbe prepares stills and measures audio.
type MediaProbe interface {
	ResizeToFrame(ctx context.Context, input, output string) error
	ProbeDuration(ctx context.Context, audio string) (float64, error)
}

// SegmentEncoder renders and joins segments.
type SegmentEncoder interface {
	BuildSegment(ctx context.Context, in segment.Input) error
	Concat(ctx context.Context, segments []string, manifestPath, output string) error
}

// Dependencies wires an Orchestrator.
type Dependencies struct {
	Store     *store.Store
	Probe     MediaProbe
	Encoder   SegmentEncoder
	Artifacts artifact.Store
	Hub       *statusbus.Hub
	Notifier  notifications.Service
	Logger    *slog.Logger
}

// Options locate the run scratch space and lock files.
type Options struct {
	WorkDir string
	LockDir string
}

// Orchestrator runs video assembly for projects, one run per project at a time.
type Orchestrator struct {
	store     *store.Store
	probe     MediaProbe
	encoder   SegmentEncoder
	artifacts artifact.Store
	hub       *statusbus.Hub
	notifier  notifications.Service
	logger    *slog.Logger
	workDir   string
	lockDir   string
	newRunID  func() string

	mu      sync.Mutex
	running map[int64]*Run
}

// New validates deps and opts and returns an Orchestrator.
func New(deps Dependencies, opts Options) (*Orchestrator, error) {
	if deps.Store == nil || deps.Probe == nil || deps.Encoder == nil || deps.Artifacts == nil {
		return nil, errors.New("assembly: store, probe, encoder and artifact store are required")
	}
	workDir := strings.TrimSpace(opts.WorkDir)
	if workDir == "" {
		return nil, errors.New("assembly: work directory is required")
	}
	lockDir := strings.TrimSpace(opts.LockDir)
	if lockDir == "" {
		lockDir = workDir
	}
	for _, dir := range []string{workDir, lockDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("assembly: ensure %s: %w", dir, err)
		}
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notifications.NewService(nil)
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Orchestrator{
		store:     deps.Store,
		probe:     deps.Probe,
		encoder:   deps.Encoder,
		artifacts: deps.Artifacts,
		hub:       deps.Hub,
		notifier:  notifier,
		logger:    logging.NewComponentLogger(logger, "assembly"),
		workDir:   workDir,
		lockDir:   lockDir,
		newRunID:  uuid.NewString,
		running:   make(map[int64]*Run),
	}, nil
}

// Running reports whether a run for projectID is in flight in this process.
func (o *Orchestrator) Running(projectID int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.running[projectID]
	return ok
}

// Start checks that the project can be rendered, claims it, and moves its
// job to generating. The returned Run must be executed by the caller.
// Precondition failures leave the job untouched.
func (o *Orchestrator) Start(ctx context.Context, projectID int64) (*Run, error) {
	project, err := o.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	items, err := o.store.ListItems(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := checkRenderable(projectID, items); err != nil {
		return nil, err
	}

	run := &Run{
		o:       o,
		project: project,
		id:      o.newRunID(),
	}
	if err := o.claim(run); err != nil {
		return nil, err
	}
	status, err := o.store.BeginGeneration(ctx, projectID, run.id)
	if err != nil {
		run.release()
		return nil, err
	}
	o.publish(projectID, status)
	return run, nil
}

// Cancel requests cancellation of the project's job. A running job stops at
// its next checkpoint; media tools in flight are interrupted.
func (o *Orchestrator) Cancel(ctx context.Context, projectID int64) (store.JobStatus, error) {
	status, err := o.store.CancelGeneration(ctx, projectID)
	if err != nil {
		return store.JobStatus{}, err
	}
	o.publish(projectID, status)

	o.mu.Lock()
	run := o.running[projectID]
	o.mu.Unlock()
	if run != nil {
		run.abort()
	}
	return status, nil
}

// Reset returns a finished job to not_started.
func (o *Orchestrator) Reset(ctx context.Context, projectID int64) (store.JobStatus, error) {
	if o.Running(projectID) {
		return store.JobStatus{}, services.Wrap(services.ErrConflict, "assembly", "reset",
			fmt.Sprintf("project %d is still shutting down a run", projectID), nil)
	}
	status, err := o.store.ResetGeneration(ctx, projectID)
	if err != nil {
		return store.JobStatus{}, err
	}
	o.publish(projectID, status)
	return status, nil
}

func (o *Orchestrator) claim(run *Run) error {
	projectID := run.project.ID
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.running[projectID]; busy {
		return services.Wrap(services.ErrConflict, "assembly", "claim",
			fmt.Sprintf("project %d already has a run in progress", projectID), nil)
	}
	lock := flock.New(filepath.Join(o.lockDir, fmt.Sprintf("project-%d.lock", projectID)))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire project lock: %w", err)
	}
	if !locked {
		return services.Wrap(services.ErrConflict, "assembly", "claim",
			fmt.Sprintf("project %d is being generated by another process", projectID), nil)
	}
	run.lock = lock
	o.running[projectID] = run
	return nil
}

func (o *Orchestrator) publish(projectID int64, status store.JobStatus) {
	o.hub.Publish(projectID, status)
}

// Run is one claimed generation of a project.
type Run struct {
	o       *Orchestrator
	project *store.Project
	id      string
	lock    *flock.Flock

	mu       sync.Mutex
	cancel   context.CancelFunc
	aborted  bool
	released bool
}

// ID returns the run identifier recorded on the job.
func (r *Run) ID() string {
	return r.id
}

// ProjectID returns the project being generated.
func (r *Run) ProjectID() int64 {
	return r.project.ID
}

func (r *Run) abort() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aborted = true
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Run) release() {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return
	}
	r.released = true
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()

	o := r.o
	o.mu.Lock()
	if o.running[r.project.ID] == r {
		delete(o.running, r.project.ID)
	}
	o.mu.Unlock()
	if r.lock != nil {
		_ = r.lock.Unlock()
	}
}

// Execute runs every stage and records the outcome on the job. The returned
// error mirrors what was recorded; callers only need it for logging.
func (r *Run) Execute(ctx context.Context) error {
	defer r.release()

	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	aborted := r.aborted
	r.mu.Unlock()
	if aborted {
		cancel()
	}

	ctx = services.WithProjectID(ctx, r.project.ID)
	logger := logging.WithContext(ctx, r.o.logger).With(logging.String("run_id", r.id))
	started := time.Now()
	logger.Info("generation started",
		logging.String(logging.FieldEventType, "generation_start"),
		logging.String("title", r.project.Title),
	)

	items, err := r.execute(ctx, logger)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, services.ErrCancelled) {
			err = services.Wrap(services.ErrCancelled, "assembly", "run", "interrupted", err)
		}
		r.finishWithError(ctx, logger, err)
		if !errors.Is(err, services.ErrCancelled) && !errors.Is(err, services.ErrPipelineFailed) {
			err = fmt.Errorf("%w: %w", services.ErrPipelineFailed, err)
		}
		return err
	}
	logger.Info("generation completed",
		logging.String(logging.FieldEventType, "generation_complete"),
		logging.Int("items", items),
		logging.Duration("elapsed", time.Since(started)),
	)
	r.o.notify(ctx, notifications.EventGenerationCompleted, notifications.Payload{
		"title":   r.project.Title,
		"items":   items,
		"elapsed": time.Since(started),
	})
	return nil
}

func (r *Run) execute(ctx context.Context, logger *slog.Logger) (int, error) {
	o := r.o
	projectID := r.project.ID

	items, err := o.store.ListItems(ctx, projectID)
	if err != nil {
		return 0, err
	}
	if err := checkRenderable(projectID, items); err != nil {
		return 0, err
	}

	workDir, err := os.MkdirTemp(o.workDir, "run-*")
	if err != nil {
		return 0, services.Wrap(services.ErrPipelineFailed, "assembly", "workdir", "", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			logging.WarnWithContext(logger, "failed to remove run directory", "workdir_cleanup_failed",
				logging.String("path", workDir),
				logging.String(logging.FieldErrorHint, "remove the directory manually"),
				logging.String(logging.FieldImpact, "disk space is not reclaimed"),
				logging.Error(err),
			)
		}
	}()

	segments := planSegments(items, workDir)
	total := len(segments)

	prepCtx := services.WithStage(ctx, "preparation")
	for i := range segments {
		seg := &segments[i]
		if err := r.checkpoint(prepCtx); err != nil {
			return 0, err
		}
		itemCtx := services.WithItemID(prepCtx, seg.ItemID)
		if err := o.probe.ResizeToFrame(itemCtx, seg.ImagePath, seg.Resized); err != nil {
			return 0, err
		}
		duration, err := o.probe.ProbeDuration(itemCtx, seg.AudioPath)
		if err != nil {
			return 0, err
		}
		seg.Duration = duration
		if err := r.progress(prepCtx, preparationProgress(i, total),
			fmt.Sprintf("Preparing item %d of %d", i+1, total)); err != nil {
			return 0, err
		}
	}

	encodeCtx := services.WithStage(ctx, "encoding")
	for i := range segments {
		seg := &segments[i]
		if err := r.checkpoint(encodeCtx); err != nil {
			return 0, err
		}
		itemCtx := services.WithItemID(encodeCtx, seg.ItemID)
		if err := o.encoder.BuildSegment(itemCtx, segment.Input{
			Image:    seg.Resized,
			Audio:    seg.AudioPath,
			Duration: seg.Duration,
			Output:   seg.Path,
		}); err != nil {
			return 0, err
		}
		if err := r.progress(encodeCtx, encodingProgress(i, total),
			fmt.Sprintf("Encoding segment %d of %d", i+1, total)); err != nil {
			return 0, err
		}
	}

	concatCtx := services.WithStage(ctx, "concat")
	if err := r.checkpoint(concatCtx); err != nil {
		return 0, err
	}
	output := filepath.Join(workDir, "output.mp4")
	if err := o.encoder.Concat(concatCtx, segmentPaths(segments), filepath.Join(workDir, "concat_list.txt"), output); err != nil {
		return 0, err
	}
	if err := r.progress(concatCtx, concatProgress, "Finalizing video"); err != nil {
		return 0, err
	}

	attachCtx := services.WithStage(ctx, "attach")
	if err := r.checkpoint(attachCtx); err != nil {
		return 0, err
	}
	if err := r.attach(attachCtx, logger, output); err != nil {
		return 0, err
	}
	return total, nil
}

func (r *Run) attach(ctx context.Context, logger *slog.Logger, output string) error {
	o := r.o
	loc, err := o.artifacts.Publish(ctx, r.project.ID, r.id, output)
	if err != nil {
		if ctx.Err() != nil {
			return services.Wrap(services.ErrCancelled, "attach", "publish", "interrupted", ctx.Err())
		}
		return services.Wrap(services.ErrPipelineFailed, "attach", "publish", "", err)
	}
	status, err := o.store.CompleteGeneration(ctx, r.project.ID, loc.Path, loc.Key)
	if err != nil {
		if rmErr := o.artifacts.Remove(context.WithoutCancel(ctx), loc); rmErr != nil {
			logger.Debug("failed to discard unattached artifact", logging.Error(rmErr))
		}
		return err
	}
	o.publish(r.project.ID, status)

	previous := artifact.Location{Path: r.project.VideoPath, Key: r.project.VideoKey}
	if !previous.IsZero() && previous != loc {
		if err := o.artifacts.Remove(ctx, previous); err != nil {
			logging.WarnWithContext(logger, "failed to remove previous video", "artifact_cleanup_failed",
				logging.String("path", previous.Path),
				logging.String("key", previous.Key),
				logging.String(logging.FieldImpact, "the superseded video remains in storage"),
				logging.Error(err),
			)
		}
	}
	logger.Info("video attached",
		logging.String(logging.FieldEventType, "artifact_attached"),
		logging.String("path", loc.Path),
		logging.String("key", loc.Key),
	)
	return nil
}

// checkpoint aborts when the run context ended or the job was cancelled.
func (r *Run) checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return services.Wrap(services.ErrCancelled, "assembly", "checkpoint", "interrupted", err)
	}
	status, err := r.o.store.GetStatus(ctx, r.project.ID)
	if err != nil {
		return err
	}
	switch status.State {
	case store.StateGenerating:
		return nil
	case store.StateCancelled:
		return services.Wrap(services.ErrCancelled, "assembly", "checkpoint", "cancel requested", nil)
	default:
		return services.Wrap(services.ErrConflict, "assembly", "checkpoint",
			fmt.Sprintf("job left generating (now %s)", status.State), nil)
	}
}

func (r *Run) progress(ctx context.Context, value int, message string) error {
	status, err := r.o.store.UpdateProgress(ctx, r.project.ID, value, message)
	if err != nil {
		return err
	}
	r.o.publish(r.project.ID, status)
	logging.WithContext(ctx, r.o.logger).Debug("progress",
		logging.Int("progress", status.Progress),
		logging.String("message", message),
	)
	return nil
}

// finishWithError records a failed run. Cancelled jobs stay cancelled; runs
// interrupted by shutdown are marked failed with the daemon stop reason.
func (r *Run) finishWithError(ctx context.Context, logger *slog.Logger, runErr error) {
	o := r.o
	projectID := r.project.ID
	bg := context.WithoutCancel(ctx)

	reason := strings.TrimSpace(runErr.Error())
	if errors.Is(runErr, services.ErrCancelled) {
		status, err := o.store.GetStatus(bg, projectID)
		if err == nil && status.State == store.StateCancelled {
			logger.Info("generation cancelled",
				logging.String(logging.FieldEventType, "generation_cancelled"),
				logging.Int("progress", status.Progress),
			)
			o.publish(projectID, status)
			return
		}
		reason = store.DaemonStopReason
	}

	status, err := o.store.FailGeneration(bg, projectID, reason)
	if err != nil {
		if errors.Is(err, services.ErrCancelled) {
			if current, getErr := o.store.GetStatus(bg, projectID); getErr == nil {
				o.publish(projectID, current)
			}
			return
		}
		logger.Error("failed to persist generation failure", logging.Error(err))
		return
	}
	o.publish(projectID, status)
	logging.ErrorWithContext(logger, "generation failed", "generation_failed",
		logging.String(logging.FieldErrorHint, services.Hint(runErr)),
		logging.Int("progress", status.Progress),
		logging.Error(runErr),
	)
	o.notify(bg, notifications.EventGenerationFailed, notifications.Payload{
		"title": r.project.Title,
		"error": reason,
	})
}

func (o *Orchestrator) notify(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if err := o.notifier.Publish(ctx, event, payload); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, o.logger), "notification failed", "notification_failed",
			logging.String("event", string(event)),
			logging.String(logging.FieldImpact, "job outcome was not pushed"),
			logging.Error(err),
		)
	}
}
