package assembly_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"narrate/internal/artifact"
	"narrate/internal/assembly"
	"narrate/internal/config"
	"narrate/internal/media"
	"narrate/internal/media/probe"
	"narrate/internal/media/segment"
	"narrate/internal/services"
	"narrate/internal/statusbus"
	"narrate/internal/store"
	"narrate/internal/testsupport"
)

// mediaRunner stands in for ffmpeg and ffprobe: ffmpeg calls create their
// output file, ffprobe calls report a fixed duration.
type mediaRunner struct {
	mu     sync.Mutex
	calls  [][]string
	fail   func(name string, args []string) bool
	onCall func(name string, args []string)
}

func (r *mediaRunner) Run(_ context.Context, name string, args ...string) (services.CommandResult, error) {
	r.mu.Lock()
	r.calls = append(r.calls, append([]string{name}, args...))
	r.mu.Unlock()
	if r.onCall != nil {
		r.onCall(name, args)
	}
	if r.fail != nil && r.fail(name, args) {
		return services.CommandResult{Stderr: "Error while encoding: device busy", ExitCode: 1}, errors.New("exit status 1")
	}
	if name == "ffprobe" {
		return services.CommandResult{Stdout: `{"format":{"duration":"2.004"}}`}, nil
	}
	out := args[len(args)-1]
	if err := os.WriteFile(out, []byte(name+" output"), 0o644); err != nil {
		return services.CommandResult{}, err
	}
	return services.CommandResult{}, nil
}

func (r *mediaRunner) commands(binary, marker string) [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out [][]string
	for _, call := range r.calls {
		if call[0] == binary && strings.Contains(strings.Join(call, " "), marker) {
			out = append(out, call)
		}
	}
	return out
}

type harness struct {
	cfg    *config.Config
	store  *store.Store
	hub    *statusbus.Hub
	runner *mediaRunner
	orch   *assembly.Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	hub := statusbus.NewHub(128)
	runner := &mediaRunner{}
	frame := media.Frame{Width: 1920, Height: 1080, FPS: 30}

	artifacts, err := artifact.NewLocalStore(cfg.Paths.ArtifactDir)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	orch, err := assembly.New(assembly.Dependencies{
		Store:     st,
		Probe:     probe.New("ffmpeg", "ffprobe", frame, probe.WithRunner(runner)),
		Encoder:   segment.NewEncoder("ffmpeg", segment.DefaultProfile(), segment.WithRunner(runner)),
		Artifacts: artifacts,
		Hub:       hub,
	}, assembly.Options{WorkDir: cfg.Paths.WorkDir, LockDir: filepath.Join(cfg.Paths.DataDir, "locks")})
	if err != nil {
		t.Fatalf("assembly.New: %v", err)
	}
	return &harness{cfg: cfg, store: st, hub: hub, runner: runner, orch: orch}
}

func (h *harness) progressEvents(t *testing.T, projectID int64) []int {
	t.Helper()
	events, _, err := h.hub.Fetch(context.Background(), 0, projectID, false)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	out := make([]int, 0, len(events))
	for _, evt := range events {
		out = append(out, evt.Status.Progress)
	}
	return out
}

func (h *harness) assertWorkDirEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.cfg.Paths.WorkDir)
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("read work dir: %v", err)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), "run-") {
			t.Fatalf("run directory %s was not removed", entry.Name())
		}
	}
}

func (h *harness) start(t *testing.T, projectID int64) *assembly.Run {
	t.Helper()
	run, err := h.orch.Start(context.Background(), projectID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return run
}

func TestRunProducesVideoInPositionOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	project := testsupport.NewProject(t, h.store, "Trip")
	first := testsupport.AddReadyItem(t, h.cfg, h.store, project.ID, "first")
	second := testsupport.AddReadyItem(t, h.cfg, h.store, project.ID, "second")
	third := testsupport.AddReadyItem(t, h.cfg, h.store, project.ID, "third")
	if _, err := h.store.MoveItem(ctx, project.ID, third.ID, store.MoveUp); err != nil {
		t.Fatalf("MoveItem: %v", err)
	}

	run := h.start(t, project.ID)
	if err := run.Execute(ctx); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	status, err := h.store.GetStatus(ctx, project.ID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status.State != store.StateCompleted || status.Progress != 100 {
		t.Fatalf("unexpected final status %+v", status)
	}
	updated, _ := h.store.GetProject(ctx, project.ID)
	if _, err := os.Stat(updated.VideoPath); err != nil {
		t.Fatalf("expected attached video at %q: %v", updated.VideoPath, err)
	}
	if !strings.HasPrefix(updated.VideoPath, h.cfg.Paths.ArtifactDir) {
		t.Fatalf("video stored outside artifact dir: %s", updated.VideoPath)
	}

	want := []int{0, 10, 20, 30, 46, 63, 80, 90, 100}
	if got := h.progressEvents(t, project.ID); !slices.Equal(got, want) {
		t.Fatalf("progress events = %v, want %v", got, want)
	}

	encodes := h.runner.commands("ffmpeg", "libx264")
	if len(encodes) != 3 {
		t.Fatalf("expected 3 segment encodes, got %d", len(encodes))
	}
	audioOrder := []string{first.AudioPath, third.AudioPath, second.AudioPath}
	for i, call := range encodes {
		joined := strings.Join(call, " ")
		if !strings.Contains(joined, "-i "+audioOrder[i]+" ") {
			t.Fatalf("segment %d used wrong audio: %s", i, joined)
		}
		if !strings.Contains(joined, "-t 2") {
			t.Fatalf("segment %d not trimmed to probed duration: %s", i, joined)
		}
	}
	if len(h.runner.commands("ffmpeg", "concat")) != 1 {
		t.Fatal("expected exactly one concat")
	}
	h.assertWorkDirEmpty(t)
	if h.orch.Running(project.ID) {
		t.Fatal("run should be released after Execute")
	}
}

func TestStartRefusesUnrenderableProject(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	empty := testsupport.NewProject(t, h.store, "Empty")
	if _, err := h.orch.Start(ctx, empty.ID); !errors.Is(err, services.ErrPrecondition) {
		t.Fatalf("expected precondition error for empty project, got %v", err)
	}

	project := testsupport.NewProject(t, h.store, "Half done")
	testsupport.AddReadyItem(t, h.cfg, h.store, project.ID, "ready")
	if _, err := h.store.AddItem(ctx, project.ID, "no audio yet", ""); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if _, err := h.orch.Start(ctx, project.ID); !errors.Is(err, services.ErrPrecondition) {
		t.Fatalf("expected precondition error, got %v", err)
	}

	for _, id := range []int64{empty.ID, project.ID} {
		status, err := h.store.GetStatus(ctx, id)
		if err != nil {
			t.Fatalf("GetStatus: %v", err)
		}
		if status.State != store.StateNotStarted || status.Progress != 0 {
			t.Fatalf("precondition failure mutated status: %+v", status)
		}
		if events := h.progressEvents(t, id); len(events) != 0 {
			t.Fatalf("precondition failure published events: %v", events)
		}
	}
	if len(h.runner.calls) != 0 {
		t.Fatalf("no media tool should run, got %d calls", len(h.runner.calls))
	}
	h.assertWorkDirEmpty(t)

	if _, err := h.orch.Start(ctx, 999); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found for unknown project, got %v", err)
	}
}

func TestEncodeFailureKeepsProgressAndPreviousVideo(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	project := testsupport.NewProject(t, h.store, "Flaky")
	for _, text := range []string{"one", "two", "three"} {
		testsupport.AddReadyItem(t, h.cfg, h.store, project.ID, text)
	}

	if err := h.start(t, project.ID).Execute(ctx); err != nil {
		t.Fatalf("first Execute: %v", err)
	}
	previous, _ := h.store.GetProject(ctx, project.ID)
	if _, err := h.orch.Reset(ctx, project.ID); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	encodes := 0
	h.runner.fail = func(name string, args []string) bool {
		if name != "ffmpeg" || !slices.Contains(args, "libx264") {
			return false
		}
		encodes++
		return encodes == 2
	}
	err := h.start(t, project.ID).Execute(ctx)
	if !errors.Is(err, services.ErrMediaTool) {
		t.Fatalf("expected media tool error, got %v", err)
	}
	if !errors.Is(err, services.ErrPipelineFailed) {
		t.Fatalf("expected pipeline failure marker, got %v", err)
	}
	if services.Marker(err) != services.ErrMediaTool {
		t.Fatalf("expected media tool to classify the failure, got %v", services.Marker(err))
	}

	status, _ := h.store.GetStatus(ctx, project.ID)
	if status.State != store.StateFailed {
		t.Fatalf("expected failed, got %+v", status)
	}
	if status.Progress != 46 {
		t.Fatalf("expected progress frozen at 46, got %d", status.Progress)
	}
	if !strings.Contains(status.Error, "device busy") {
		t.Fatalf("expected diagnostics in stored error, got %q", status.Error)
	}
	current, _ := h.store.GetProject(ctx, project.ID)
	if current.VideoPath != previous.VideoPath {
		t.Fatalf("previous video replaced on failure: %q -> %q", previous.VideoPath, current.VideoPath)
	}
	if _, err := os.Stat(previous.VideoPath); err != nil {
		t.Fatalf("previous video should survive a failed run: %v", err)
	}
	h.assertWorkDirEmpty(t)
}

func TestRerunReplacesPreviousVideo(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	project := testsupport.NewProject(t, h.store, "Again")
	testsupport.AddReadyItem(t, h.cfg, h.store, project.ID, "only")

	if err := h.start(t, project.ID).Execute(ctx); err != nil {
		t.Fatalf("first Execute: %v", err)
	}
	first, _ := h.store.GetProject(ctx, project.ID)
	if _, err := h.orch.Reset(ctx, project.ID); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if err := h.start(t, project.ID).Execute(ctx); err != nil {
		t.Fatalf("second Execute: %v", err)
	}
	second, _ := h.store.GetProject(ctx, project.ID)
	if second.VideoPath == first.VideoPath {
		t.Fatal("expected a new artifact path per run")
	}
	if _, err := os.Stat(first.VideoPath); !os.IsNotExist(err) {
		t.Fatalf("expected superseded video removed, stat err %v", err)
	}
	if _, err := os.Stat(second.VideoPath); err != nil {
		t.Fatalf("expected new video: %v", err)
	}
}

func TestCancelStopsRunAtNextCheckpoint(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	project := testsupport.NewProject(t, h.store, "Stop me")
	for _, text := range []string{"one", "two", "three"} {
		testsupport.AddReadyItem(t, h.cfg, h.store, project.ID, text)
	}

	var once sync.Once
	h.runner.onCall = func(name string, args []string) {
		if name == "ffmpeg" && slices.Contains(args, "libx264") {
			once.Do(func() {
				if _, err := h.orch.Cancel(context.Background(), project.ID); err != nil {
					t.Errorf("Cancel: %v", err)
				}
			})
		}
	}

	err := h.start(t, project.ID).Execute(ctx)
	if !errors.Is(err, services.ErrCancelled) {
		t.Fatalf("expected cancelled, got %v", err)
	}
	status, _ := h.store.GetStatus(ctx, project.ID)
	if status.State != store.StateCancelled {
		t.Fatalf("cancelled job must stay cancelled, got %+v", status)
	}
	if status.Progress != 30 {
		t.Fatalf("expected progress left at 30, got %d", status.Progress)
	}
	if got := len(h.runner.commands("ffmpeg", "libx264")); got != 1 {
		t.Fatalf("expected no further encodes after cancel, got %d", got)
	}
	if len(h.runner.commands("ffmpeg", "concat")) != 0 {
		t.Fatal("cancelled run must not concatenate")
	}
	updated, _ := h.store.GetProject(ctx, project.ID)
	if updated.HasVideo() {
		t.Fatal("cancelled run must not attach a video")
	}
	h.assertWorkDirEmpty(t)

	if _, err := h.orch.Start(ctx, project.ID); !errors.Is(err, services.ErrCancelled) {
		t.Fatalf("cancelled project should refuse a new run until reset, got %v", err)
	}
	if _, err := h.orch.Reset(ctx, project.ID); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	h.runner.onCall = nil
	if err := h.start(t, project.ID).Execute(ctx); err != nil {
		t.Fatalf("Execute after reset: %v", err)
	}
}

func TestStartIsSingleFlight(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	project := testsupport.NewProject(t, h.store, "Busy")
	testsupport.AddReadyItem(t, h.cfg, h.store, project.ID, "only")

	run := h.start(t, project.ID)
	if _, err := h.orch.Start(ctx, project.ID); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict for second start, got %v", err)
	}
	if !h.orch.Running(project.ID) {
		t.Fatal("expected project to be running")
	}
	if err := run.Execute(ctx); err != nil {
		t.Fatalf("Execute: %v", err)
	}
}

func TestShutdownMarksRunFailed(t *testing.T) {
	h := newHarness(t)
	project := testsupport.NewProject(t, h.store, "Interrupted")
	testsupport.AddReadyItem(t, h.cfg, h.store, project.ID, "only")

	run := h.start(t, project.ID)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := run.Execute(ctx); !errors.Is(err, services.ErrCancelled) {
		t.Fatalf("expected cancellation error, got %v", err)
	}
	status, _ := h.store.GetStatus(context.Background(), project.ID)
	if status.State != store.StateFailed || status.Error != store.DaemonStopReason {
		t.Fatalf("expected failed with daemon stop reason, got %+v", status)
	}
	h.assertWorkDirEmpty(t)
}
