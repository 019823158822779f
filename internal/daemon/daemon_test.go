package daemon_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"narrate/internal/api"
	"narrate/internal/artifact"
	"narrate/internal/assembly"
	"narrate/internal/config"
	"narrate/internal/daemon"
	"narrate/internal/media"
	"narrate/internal/media/probe"
	"narrate/internal/media/segment"
	"narrate/internal/services"
	"narrate/internal/statusbus"
	"narrate/internal/store"
	"narrate/internal/synthesis"
	"narrate/internal/testsupport"
	"narrate/internal/workflow"
)

type stubSynthesizer struct {
	dir   string
	fail  atomic.Bool
	count atomic.Int64
}

func (s *stubSynthesizer) Synthesize(_ context.Context, _ string, _ synthesis.Voice) (synthesis.Result, error) {
	n := s.count.Add(1)
	if s.fail.Load() {
		return synthesis.Result{}, services.Wrap(services.ErrWorkerReported, "synthesis", "response", "model crashed", nil)
	}
	id := strings.Repeat("f", 8) + string(rune('0'+n%10))
	out := filepath.Join(s.dir, id+".wav")
	if err := os.WriteFile(out, []byte("RIFF"), 0o644); err != nil {
		return synthesis.Result{}, err
	}
	return synthesis.Result{RequestID: id, OutputPath: out, Duration: 1.5}, nil
}

type durationStub struct{}

func (durationStub) ProbeDuration(context.Context, string) (float64, error) { return 1.5, nil }

func mediaRunner() services.CommandFunc {
	return func(_ context.Context, name string, args ...string) (services.CommandResult, error) {
		if name == "ffprobe" {
			return services.CommandResult{Stdout: `{"format":{"duration":"1.5"}}`}, nil
		}
		return services.CommandResult{}, os.WriteFile(args[len(args)-1], []byte("video-bytes"), 0o644)
	}
}

type daemonHarness struct {
	cfg    *config.Config
	store  *store.Store
	synth  *stubSynthesizer
	daemon *daemon.Daemon
	server *httptest.Server
	client *api.Client
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *daemonHarness {
	t.Helper()
	return newHarnessWithConfig(t, testsupport.NewConfig(t, opts...))
}

func newHarnessWithConfig(t *testing.T, cfg *config.Config) *daemonHarness {
	t.Helper()
	cfg.Paths.APIBind = ""
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	hub := statusbus.NewHub(128)
	artifacts, err := artifact.NewLocalStore(cfg.Paths.ArtifactDir)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	runner := mediaRunner()
	orch, err := assembly.New(assembly.Dependencies{
		Store:     st,
		Probe:     probe.New("ffmpeg", "ffprobe", media.Frame{Width: 1920, Height: 1080, FPS: 30}, probe.WithRunner(runner)),
		Encoder:   segment.NewEncoder("ffmpeg", segment.DefaultProfile(), segment.WithRunner(runner)),
		Artifacts: artifacts,
		Hub:       hub,
	}, assembly.Options{WorkDir: cfg.Paths.WorkDir})
	if err != nil {
		t.Fatalf("assembly.New: %v", err)
	}
	synth := &stubSynthesizer{dir: t.TempDir()}
	mgr, err := workflow.NewManager(cfg, workflow.Dependencies{
		Store:        st,
		Orchestrator: orch,
		Synthesizer:  synth,
		Probe:        durationStub{},
		Artifacts:    artifacts,
		Hub:          hub,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	d, err := daemon.New(cfg, daemon.Dependencies{Store: st, Workflow: mgr, Hub: hub, Artifacts: artifacts})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	server := httptest.NewServer(d.Handler())
	t.Cleanup(func() {
		server.Close()
		_ = d.Close()
	})
	return &daemonHarness{
		cfg:    cfg,
		store:  st,
		synth:  synth,
		daemon: d,
		server: server,
		client: api.NewClient(server.URL, cfg.Paths.APIToken),
	}
}

func awaitTerminal(t *testing.T, client *api.Client, projectID int64) api.JobStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var last api.JobStatus
	err := client.PollStatus(ctx, projectID, 10*time.Millisecond, func(status api.JobStatus) bool {
		last = status
		return !status.Terminal()
	})
	if err != nil {
		t.Fatalf("PollStatus: %v (last %+v)", err, last)
	}
	return last
}

func TestDaemonStartStop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if !h.daemon.Status(ctx).Running {
		t.Fatal("expected daemon to report running")
	}
	if err := h.daemon.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	h.daemon.Stop()
	if h.daemon.Status(ctx).Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestDaemonLockRejectsSecondInstance(t *testing.T) {
	h := newHarness(t)
	other, err := daemon.New(h.cfg, daemon.Dependencies{
		Store:     h.store,
		Workflow:  mustManager(t, h),
		Hub:       statusbus.NewHub(8),
		Artifacts: mustLocalStore(t, h.cfg),
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := other.Start(context.Background()); err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("expected lock conflict, got %v", err)
	}
}

func mustLocalStore(t *testing.T, cfg *config.Config) *artifact.LocalStore {
	t.Helper()
	s, err := artifact.NewLocalStore(cfg.Paths.ArtifactDir)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	return s
}

func mustManager(t *testing.T, h *daemonHarness) *workflow.Manager {
	t.Helper()
	orch, err := assembly.New(assembly.Dependencies{
		Store:     h.store,
		Probe:     probe.New("ffmpeg", "ffprobe", media.Frame{Width: 1920, Height: 1080, FPS: 30}),
		Encoder:   segment.NewEncoder("ffmpeg", segment.DefaultProfile()),
		Artifacts: mustLocalStore(t, h.cfg),
		Hub:       statusbus.NewHub(8),
	}, assembly.Options{WorkDir: h.cfg.Paths.WorkDir})
	if err != nil {
		t.Fatalf("assembly.New: %v", err)
	}
	mgr, err := workflow.NewManager(h.cfg, workflow.Dependencies{
		Store:        h.store,
		Orchestrator: orch,
		Synthesizer:  h.synth,
		Probe:        durationStub{},
		Artifacts:    mustLocalStore(t, h.cfg),
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return mgr
}

func TestStartFailsInterruptedRuns(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	project := testsupport.NewProject(t, st, "Interrupted")
	if _, err := st.BeginGeneration(context.Background(), project.ID, "crashed-run"); err != nil {
		t.Fatalf("BeginGeneration: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	h := newHarnessWithConfig(t, cfg)
	status, err := h.client.JobStatus(context.Background(), project.ID)
	if err != nil {
		t.Fatalf("JobStatus: %v", err)
	}
	if status.Status.State != string(store.StateFailed) || status.Status.Error != store.DaemonStopReason {
		t.Fatalf("expected interrupted run to be failed, got %+v", status.Status)
	}
}

func TestProjectAndItemEndpoints(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	created, err := h.client.CreateProject(ctx, "")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if created.Project.Title != "New Project 1" || created.Project.Status.State != "not_started" {
		t.Fatalf("unexpected project %+v", created.Project)
	}
	pid := created.Project.ID

	first, err := h.client.AddItem(ctx, pid, "first", "")
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	second, err := h.client.AddItem(ctx, pid, "second", "whisper")
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if second.Position != first.Position+1 || second.Instruct != "whisper" {
		t.Fatalf("unexpected second item %+v", second)
	}

	text := "first, revised"
	updated, err := h.client.UpdateItem(ctx, pid, first.ID, api.ItemRequest{Content: &text})
	if err != nil {
		t.Fatalf("UpdateItem: %v", err)
	}
	if updated.Content != text {
		t.Fatalf("content not updated: %+v", updated)
	}

	moved, err := h.client.MoveItem(ctx, pid, second.ID, "up")
	if err != nil {
		t.Fatalf("MoveItem: %v", err)
	}
	if moved[0].ID != second.ID || moved[1].ID != first.ID {
		t.Fatalf("unexpected order after move %+v", moved)
	}
	if _, err := h.client.MoveItem(ctx, pid, second.ID, "sideways"); !api.IsStatus(err, http.StatusBadRequest) {
		t.Fatalf("expected 400 for bad direction, got %v", err)
	}

	withImage, err := h.client.UploadImage(ctx, pid, first.ID, "cover.png", bytes.NewReader([]byte("png-bytes")))
	if err != nil {
		t.Fatalf("UploadImage: %v", err)
	}
	if !withImage.HasImage {
		t.Fatal("expected image to be attached")
	}
	if _, err := h.client.UploadImage(ctx, pid, first.ID, "notes.txt", strings.NewReader("x")); !api.IsStatus(err, http.StatusBadRequest) {
		t.Fatalf("expected 400 for unsupported image, got %v", err)
	}

	renamed, err := h.client.RenameProject(ctx, pid, "Holiday")
	if err != nil {
		t.Fatalf("RenameProject: %v", err)
	}
	if renamed.Project.Title != "Holiday" || len(renamed.Items) != 2 {
		t.Fatalf("unexpected rename response %+v", renamed)
	}

	if err := h.client.DeleteItem(ctx, pid, second.ID); err != nil {
		t.Fatalf("DeleteItem: %v", err)
	}
	items, err := h.client.ListItems(ctx, pid)
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(items) != 1 || items[0].Position != 1 {
		t.Fatalf("expected compacted positions, got %+v", items)
	}

	if err := h.client.DeleteProject(ctx, pid); err != nil {
		t.Fatalf("DeleteProject: %v", err)
	}
	if _, err := h.client.GetProject(ctx, pid); !api.IsStatus(err, http.StatusNotFound) {
		t.Fatalf("expected 404 after delete, got %v", err)
	}
}

func TestGenerateAcceptsThenCompletes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	project := testsupport.NewProject(t, h.store, "Film")
	testsupport.AddReadyItem(t, h.cfg, h.store, project.ID, "one")
	testsupport.AddReadyItem(t, h.cfg, h.store, project.ID, "two")

	accepted, err := h.client.Generate(ctx, project.ID)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if accepted.Status.State == "not_started" {
		t.Fatalf("run should be claimed before the response, got %+v", accepted.Status)
	}

	final := awaitTerminal(t, h.client, project.ID)
	if final.State != "completed" || final.Progress != 100 {
		t.Fatalf("unexpected final status %+v", final)
	}

	var buf bytes.Buffer
	if _, err := h.client.DownloadVideo(ctx, project.ID, &buf); err != nil {
		t.Fatalf("DownloadVideo: %v", err)
	}
	if buf.String() != "video-bytes" {
		t.Fatalf("unexpected video body %q", buf.String())
	}

	if _, err := h.client.Generate(ctx, project.ID); !api.IsStatus(err, http.StatusConflict) {
		t.Fatalf("expected 409 for completed project, got %v", err)
	}
	reset, err := h.client.Reset(ctx, project.ID)
	if err != nil || reset.Status.State != "not_started" {
		t.Fatalf("Reset = %+v, %v", reset, err)
	}
}

func TestGeneratePreconditionFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	project := testsupport.NewProject(t, h.store, "Draft")
	if _, err := h.store.AddItem(ctx, project.ID, "no media yet", ""); err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	_, err := h.client.Generate(ctx, project.ID)
	if !api.IsStatus(err, http.StatusUnprocessableEntity) {
		t.Fatalf("expected 422, got %v", err)
	}
	if !strings.Contains(err.Error(), "missing image and audio") {
		t.Fatalf("expected item details in error, got %v", err)
	}
	status, _ := h.store.GetStatus(ctx, project.ID)
	if status.State != store.StateNotStarted {
		t.Fatalf("rejected generate must not change status, got %+v", status)
	}
	if _, err := h.client.DownloadVideo(ctx, project.ID, &bytes.Buffer{}); !api.IsStatus(err, http.StatusNotFound) {
		t.Fatalf("expected 404 for missing video, got %v", err)
	}
}

func TestSynthesizeReportsWorkerFailureInBody(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	project := testsupport.NewProject(t, h.store, "Voices")
	item, _ := h.store.AddItem(ctx, project.ID, "hello there", "")

	ok, err := h.client.Synthesize(ctx, project.ID, item.ID, true)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if ok.Error != "" || ok.Item == nil || !ok.Item.HasAudio {
		t.Fatalf("expected attached audio, got %+v", ok)
	}

	h.synth.fail.Store(true)
	failed, err := h.client.Synthesize(ctx, project.ID, item.ID, true)
	if err != nil {
		t.Fatalf("synthesis failure must not fail the request: %v", err)
	}
	if !strings.Contains(failed.Error, "model crashed") || failed.Hint == "" {
		t.Fatalf("expected worker error in body, got %+v", failed)
	}

	queued, err := h.client.Synthesize(ctx, project.ID, item.ID, false)
	if err != nil || !queued.Accepted {
		t.Fatalf("expected queued synthesis, got %+v, %v", queued, err)
	}
}

func TestWatchStatusStartsWithSnapshot(t *testing.T) {
	h := newHarness(t)
	project := testsupport.NewProject(t, h.store, "Stream")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var seen []api.JobStatus
	err := h.client.WatchStatus(ctx, project.ID, func(status api.JobStatus) bool {
		seen = append(seen, status)
		return false
	})
	if err != nil {
		t.Fatalf("WatchStatus: %v", err)
	}
	if len(seen) != 1 || seen[0].State != "not_started" {
		t.Fatalf("expected snapshot frame, got %+v", seen)
	}
}

func TestAuthTokenRequired(t *testing.T) {
	h := newHarness(t, testsupport.WithAPIToken("secret"))

	resp, err := http.Get(h.server.URL + "/api/projects")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	if _, err := api.NewClient(h.server.URL, "wrong").ListProjects(context.Background()); !api.IsStatus(err, http.StatusUnauthorized) {
		t.Fatalf("expected 401 with wrong token, got %v", err)
	}
	if _, err := h.client.ListProjects(context.Background()); err != nil {
		t.Fatalf("ListProjects with token: %v", err)
	}
}

func TestStopEndpointRequestsShutdown(t *testing.T) {
	h := newHarness(t)
	if _, err := h.client.StopDaemon(context.Background()); err != nil {
		t.Fatalf("StopDaemon: %v", err)
	}
	select {
	case <-h.daemon.ShutdownRequested():
	case <-time.After(time.Second):
		t.Fatal("expected shutdown request")
	}

	status, err := h.client.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Running || status.Transport != config.TransportFile || status.Storage != config.StorageLocal {
		t.Fatalf("unexpected status %+v", status)
	}
	if _, err := h.client.WorkerStatus(context.Background()); !api.IsStatus(err, http.StatusNotFound) {
		t.Fatalf("expected 404 without a managed worker, got %v", err)
	}
}
