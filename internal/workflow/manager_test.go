package workflow_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"narrate/internal/artifact"
	"narrate/internal/assembly"
	"narrate/internal/config"
	"narrate/internal/media"
	"narrate/internal/media/probe"
	"narrate/internal/media/segment"
	"narrate/internal/notifications"
	"narrate/internal/services"
	"narrate/internal/statusbus"
	"narrate/internal/store"
	"narrate/internal/synthesis"
	"narrate/internal/testsupport"
	"narrate/internal/workflow"
)

type fakeSynthesizer struct {
	dir     string
	release chan struct{}
	err     error

	mu    sync.Mutex
	calls []synthesis.Voice
	texts []string
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, text string, voice synthesis.Voice) (synthesis.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, voice)
	f.texts = append(f.texts, text)
	n := len(f.calls)
	f.mu.Unlock()
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return synthesis.Result{}, services.Wrap(services.ErrCancelled, "synthesis", "await", "", ctx.Err())
		}
	}
	if f.err != nil {
		return synthesis.Result{}, f.err
	}
	id := strings.Repeat(string(rune('a'+n)), 16)
	out := filepath.Join(f.dir, id+".wav")
	if err := os.WriteFile(out, []byte("RIFF"), 0o644); err != nil {
		return synthesis.Result{}, err
	}
	return synthesis.Result{RequestID: id, OutputPath: out, Duration: 1.234}, nil
}

type fixedProbe struct{ duration float64 }

func (p fixedProbe) ProbeDuration(context.Context, string) (float64, error) {
	return p.duration, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (n *recordingNotifier) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	n.mu.Lock()
	n.events = append(n.events, event)
	n.mu.Unlock()
	return nil
}

func (n *recordingNotifier) seen() []notifications.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notifications.Event(nil), n.events...)
}

type managerHarness struct {
	cfg      *config.Config
	store    *store.Store
	synth    *fakeSynthesizer
	notifier *recordingNotifier
	manager  *workflow.Manager
}

func writingRunner() services.CommandFunc {
	return func(_ context.Context, name string, args ...string) (services.CommandResult, error) {
		if name == "ffprobe" {
			return services.CommandResult{Stdout: `{"format":{"duration":"1.5"}}`}, nil
		}
		return services.CommandResult{}, os.WriteFile(args[len(args)-1], []byte("data"), 0o644)
	}
}

func newManagerHarness(t *testing.T) *managerHarness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	st := testsupport.MustOpenStore(t, cfg)
	hub := statusbus.NewHub(64)
	notifier := &recordingNotifier{}
	artifacts, err := artifact.NewLocalStore(cfg.Paths.ArtifactDir)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	runner := writingRunner()
	orch, err := assembly.New(assembly.Dependencies{
		Store:     st,
		Probe:     probe.New("ffmpeg", "ffprobe", media.Frame{Width: 1920, Height: 1080, FPS: 30}, probe.WithRunner(runner)),
		Encoder:   segment.NewEncoder("ffmpeg", segment.DefaultProfile(), segment.WithRunner(runner)),
		Artifacts: artifacts,
		Hub:       hub,
		Notifier:  notifier,
	}, assembly.Options{WorkDir: cfg.Paths.WorkDir})
	if err != nil {
		t.Fatalf("assembly.New: %v", err)
	}
	synth := &fakeSynthesizer{dir: t.TempDir()}
	manager, err := workflow.NewManager(cfg, workflow.Dependencies{
		Store:        st,
		Orchestrator: orch,
		Synthesizer:  synth,
		Probe:        fixedProbe{duration: 2.5},
		Artifacts:    artifacts,
		Hub:          hub,
		Notifier:     notifier,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(manager.Stop)
	return &managerHarness{cfg: cfg, store: st, synth: synth, notifier: notifier, manager: manager}
}

func waitForState(t *testing.T, st *store.Store, projectID int64, want store.State) store.JobStatus {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		status, err := st.GetStatus(context.Background(), projectID)
		if err != nil {
			t.Fatalf("GetStatus: %v", err)
		}
		if status.State == want {
			return status
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("project %d never reached %s", projectID, want)
	return store.JobStatus{}
}

func TestSynthesizeItemAttachesAudio(t *testing.T) {
	h := newManagerHarness(t)
	ctx := context.Background()
	project := testsupport.NewProject(t, h.store, "Voices")
	item, err := h.store.AddItem(ctx, project.ID, "안녕하세요", "calm narrator")
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	outcome, err := h.manager.SynthesizeItem(ctx, project.ID, item.ID)
	if err != nil {
		t.Fatalf("SynthesizeItem: %v", err)
	}
	first := outcome.Item
	if !first.HasAudio() || first.AudioDuration != 2.5 {
		t.Fatalf("unexpected item after synthesis %+v", first)
	}
	if !strings.HasPrefix(first.AudioPath, filepath.Join(h.cfg.Paths.MediaDir, "project_")) {
		t.Fatalf("audio not stored in media dir: %s", first.AudioPath)
	}
	if h.synth.calls[0].Instruct != "calm narrator" {
		t.Fatalf("item instruct not forwarded: %+v", h.synth.calls[0])
	}
	if entries, _ := os.ReadDir(h.synth.dir); len(entries) != 0 {
		t.Fatalf("temporary synthesis output should be moved, found %d files", len(entries))
	}

	outcome, err = h.manager.SynthesizeItem(ctx, project.ID, item.ID)
	if err != nil {
		t.Fatalf("second SynthesizeItem: %v", err)
	}
	if outcome.Item.AudioPath == first.AudioPath {
		t.Fatal("expected new audio file")
	}
	if _, err := os.Stat(first.AudioPath); !os.IsNotExist(err) {
		t.Fatalf("superseded audio should be removed, stat err %v", err)
	}
}

func TestSynthesizeBlankItemIsNoop(t *testing.T) {
	h := newManagerHarness(t)
	project := testsupport.NewProject(t, h.store, "Quiet")
	item, _ := h.store.AddItem(context.Background(), project.ID, "   ", "")

	outcome, err := h.manager.SynthesizeItem(context.Background(), project.ID, item.ID)
	if err != nil {
		t.Fatalf("SynthesizeItem: %v", err)
	}
	if !outcome.Skipped || outcome.Item.HasAudio() {
		t.Fatalf("expected skipped outcome, got %+v", outcome)
	}
	if len(h.synth.calls) != 0 {
		t.Fatal("blank text must not reach the synthesizer")
	}
}

func TestSynthesisFailureIsReported(t *testing.T) {
	h := newManagerHarness(t)
	h.synth.err = services.Wrap(services.ErrWorkerReported, "synthesis", "response", "CUDA out of memory", nil)
	project := testsupport.NewProject(t, h.store, "Broken")
	item, _ := h.store.AddItem(context.Background(), project.ID, "hello", "")

	outcome, err := h.manager.SynthesizeItem(context.Background(), project.ID, item.ID)
	if !errors.Is(err, services.ErrWorkerReported) {
		t.Fatalf("expected worker error, got %v", err)
	}
	if outcome.Item == nil || outcome.Item.HasAudio() {
		t.Fatalf("item should be untouched, got %+v", outcome.Item)
	}
	events := h.notifier.seen()
	if len(events) != 1 || events[0] != notifications.EventSynthesisFailed {
		t.Fatalf("expected synthesis failure notification, got %v", events)
	}
	if h.manager.Status(context.Background()).LastError == "" {
		t.Fatal("expected last error to be recorded")
	}
}

func TestSynthesisRejectsDuplicateSubmission(t *testing.T) {
	h := newManagerHarness(t)
	h.synth.release = make(chan struct{})
	project := testsupport.NewProject(t, h.store, "Twice")
	item, _ := h.store.AddItem(context.Background(), project.ID, "hello", "")

	results, err := h.manager.SubmitSynthesis(context.Background(), project.ID, item.ID)
	if err != nil {
		t.Fatalf("SubmitSynthesis: %v", err)
	}
	if _, err := h.manager.SubmitSynthesis(context.Background(), project.ID, item.ID); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict for duplicate submission, got %v", err)
	}
	if _, err := h.manager.DeleteItem(context.Background(), project.ID, item.ID); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected delete to be refused during synthesis, got %v", err)
	}
	close(h.synth.release)
	if outcome := <-results; outcome.Err != nil {
		t.Fatalf("unexpected outcome error %v", outcome.Err)
	}
	if h.manager.Synthesizing(item.ID) {
		t.Fatal("item should be released after the task finishes")
	}
}

func TestSynthesisResubmitKeepsClaim(t *testing.T) {
	h := newManagerHarness(t)
	h.synth.release = make(chan struct{})
	ctx := context.Background()
	project := testsupport.NewProject(t, h.store, "Again")
	item, _ := h.store.AddItem(ctx, project.ID, "hello", "")

	first, err := h.manager.SubmitSynthesis(ctx, project.ID, item.ID)
	if err != nil {
		t.Fatalf("SubmitSynthesis: %v", err)
	}
	h.synth.release <- struct{}{}
	if outcome := <-first; outcome.Err != nil {
		t.Fatalf("first outcome: %v", outcome.Err)
	}

	second, err := h.manager.SubmitSynthesis(ctx, project.ID, item.ID)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if !h.manager.Synthesizing(item.ID) {
		t.Fatal("second task lost its claim")
	}
	if _, err := h.manager.SubmitSynthesis(ctx, project.ID, item.ID); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict while second task runs, got %v", err)
	}
	h.synth.release <- struct{}{}
	if outcome := <-second; outcome.Err != nil {
		t.Fatalf("second outcome: %v", outcome.Err)
	}
}

func TestGenerateRunsInBackground(t *testing.T) {
	h := newManagerHarness(t)
	ctx := context.Background()
	project := testsupport.NewProject(t, h.store, "Film")
	testsupport.AddReadyItem(t, h.cfg, h.store, project.ID, "one")
	testsupport.AddReadyItem(t, h.cfg, h.store, project.ID, "two")

	status, err := h.manager.Generate(ctx, project.ID)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if status.State != store.StateGenerating && status.State != store.StateCompleted {
		t.Fatalf("unexpected status after accept: %+v", status)
	}
	final := waitForState(t, h.store, project.ID, store.StateCompleted)
	if final.Progress != 100 {
		t.Fatalf("expected progress 100, got %d", final.Progress)
	}
}

func TestGenerateReportsPreconditionSynchronously(t *testing.T) {
	h := newManagerHarness(t)
	project := testsupport.NewProject(t, h.store, "Incomplete")
	if _, err := h.store.AddItem(context.Background(), project.ID, "no media", ""); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if _, err := h.manager.Generate(context.Background(), project.ID); !errors.Is(err, services.ErrPrecondition) {
		t.Fatalf("expected precondition error, got %v", err)
	}
}

func TestGenerateAfterStopIsRefused(t *testing.T) {
	h := newManagerHarness(t)
	project := testsupport.NewProject(t, h.store, "Late")
	testsupport.AddReadyItem(t, h.cfg, h.store, project.ID, "one")
	h.manager.Stop()
	if _, err := h.manager.Generate(context.Background(), project.ID); err == nil {
		t.Fatal("expected error after Stop")
	}
	status, _ := h.store.GetStatus(context.Background(), project.ID)
	if status.State != store.StateNotStarted {
		t.Fatalf("refused generate must not touch status, got %+v", status)
	}
}

func TestDeleteProjectRemovesMediaAndVideo(t *testing.T) {
	h := newManagerHarness(t)
	ctx := context.Background()
	project := testsupport.NewProject(t, h.store, "Gone")
	item, _ := h.store.AddItem(ctx, project.ID, "hello", "")
	withImage, err := h.manager.AttachImage(ctx, project.ID, item.ID, "photo.JPG", strings.NewReader("jpeg bytes"))
	if err != nil {
		t.Fatalf("AttachImage: %v", err)
	}
	outcome, err := h.manager.SynthesizeItem(ctx, project.ID, item.ID)
	if err != nil {
		t.Fatalf("SynthesizeItem: %v", err)
	}
	if _, err := h.manager.Generate(ctx, project.ID); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	waitForState(t, h.store, project.ID, store.StateCompleted)
	finished, _ := h.store.GetProject(ctx, project.ID)

	if _, err := h.manager.DeleteProject(ctx, project.ID); err != nil {
		t.Fatalf("DeleteProject: %v", err)
	}
	for _, path := range []string{withImage.ImagePath, outcome.Item.AudioPath, finished.VideoPath} {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Fatalf("expected %s removed, stat err %v", path, err)
		}
	}
	if _, err := h.store.GetProject(ctx, project.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected project gone, got %v", err)
	}
}

func TestAttachImageValidatesUpload(t *testing.T) {
	h := newManagerHarness(t)
	ctx := context.Background()
	project := testsupport.NewProject(t, h.store, "Pictures")
	item, _ := h.store.AddItem(ctx, project.ID, "hello", "")

	if _, err := h.manager.AttachImage(ctx, project.ID, item.ID, "notes.txt", strings.NewReader("x")); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for extension, got %v", err)
	}
	if _, err := h.manager.AttachImage(ctx, project.ID, item.ID, "empty.png", strings.NewReader("")); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for empty upload, got %v", err)
	}
	first, err := h.manager.AttachImage(ctx, project.ID, item.ID, "a.png", strings.NewReader("one"))
	if err != nil {
		t.Fatalf("AttachImage: %v", err)
	}
	second, err := h.manager.AttachImage(ctx, project.ID, item.ID, "b.png", strings.NewReader("two"))
	if err != nil {
		t.Fatalf("AttachImage: %v", err)
	}
	if _, err := os.Stat(first.ImagePath); !os.IsNotExist(err) {
		t.Fatalf("replaced image should be removed, stat err %v", err)
	}
	data, _ := os.ReadFile(second.ImagePath)
	if string(data) != "two" {
		t.Fatalf("unexpected stored image %q", data)
	}
}

func TestRecoverFailsInterruptedRuns(t *testing.T) {
	h := newManagerHarness(t)
	ctx := context.Background()
	project := testsupport.NewProject(t, h.store, "Crashed")
	if _, err := h.store.BeginGeneration(ctx, project.ID, "old-run"); err != nil {
		t.Fatalf("BeginGeneration: %v", err)
	}
	if _, err := h.store.UpdateProgress(ctx, project.ID, 42, "Encoding"); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}

	recovered, err := h.manager.Recover(ctx)
	if err != nil || recovered != 1 {
		t.Fatalf("Recover = %d, %v", recovered, err)
	}
	status, _ := h.store.GetStatus(ctx, project.ID)
	if status.State != store.StateFailed || status.Progress != 42 || status.Error != store.DaemonStopReason {
		t.Fatalf("unexpected recovered status %+v", status)
	}
}
