package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

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
	count atomic.Int64
}

func (s *stubSynthesizer) Synthesize(_ context.Context, _ string, _ synthesis.Voice) (synthesis.Result, error) {
	n := s.count.Add(1)
	id := fmt.Sprintf("req%013d", n)
	out := filepath.Join(s.dir, id+".wav")
	if err := os.WriteFile(out, []byte("RIFF"), 0o644); err != nil {
		return synthesis.Result{}, err
	}
	return synthesis.Result{RequestID: id, OutputPath: out, Duration: 1.5}, nil
}

type fixedDuration struct{}

func (fixedDuration) ProbeDuration(context.Context, string) (float64, error) { return 1.5, nil }

func fakeMediaRunner() services.CommandFunc {
	return func(_ context.Context, name string, args ...string) (services.CommandResult, error) {
		if name == "ffprobe" {
			return services.CommandResult{Stdout: `{"format":{"duration":"1.5"}}`}, nil
		}
		return services.CommandResult{}, os.WriteFile(args[len(args)-1], []byte("video-bytes"), 0o644)
	}
}

type cliTestEnv struct {
	cfg        *config.Config
	store      *store.Store
	daemon     *daemon.Daemon
	configPath string
	apiAddr    string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	configPath := filepath.Join(testsupport.BaseDir(cfg), "narrate.toml")
	writeTestConfig(t, configPath, cfg)

	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	hub := statusbus.NewHub(64)
	artifacts, err := artifact.NewLocalStore(cfg.Paths.ArtifactDir)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	runner := fakeMediaRunner()
	frame := media.Frame{Width: 1920, Height: 1080, FPS: 30}
	orch, err := assembly.New(assembly.Dependencies{
		Store:     st,
		Probe:     probe.New("ffmpeg", "ffprobe", frame, probe.WithRunner(runner)),
		Encoder:   segment.NewEncoder("ffmpeg", segment.DefaultProfile(), segment.WithRunner(runner)),
		Artifacts: artifacts,
		Hub:       hub,
	}, assembly.Options{WorkDir: cfg.Paths.WorkDir})
	if err != nil {
		t.Fatalf("assembly.New: %v", err)
	}
	mgr, err := workflow.NewManager(cfg, workflow.Dependencies{
		Store:        st,
		Orchestrator: orch,
		Synthesizer:  &stubSynthesizer{dir: t.TempDir()},
		Probe:        fixedDuration{},
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
		t.Fatalf("daemon.Start: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	return &cliTestEnv{
		cfg:        cfg,
		store:      st,
		daemon:     d,
		configPath: configPath,
		apiAddr:    d.APIAddress(),
	}
}

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	return runCLI(t, append([]string{"--config", e.configPath, "--api", e.apiAddr}, args...))
}

func runCLI(t *testing.T, args []string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(`[paths]
data_dir = %q
media_dir = %q
artifact_dir = %q
work_dir = %q
log_dir = %q
api_bind = %q

[synthesis]
inbox_dir = %q
outbox_dir = %q
ready_file = %q
pid_file = %q
worker_log = %q

[workflow]
min_free_disk_mib = 0
status_poll_millis = 20
`,
		cfg.Paths.DataDir,
		cfg.Paths.MediaDir,
		cfg.Paths.ArtifactDir,
		cfg.Paths.WorkDir,
		cfg.Paths.LogDir,
		cfg.Paths.APIBind,
		cfg.Synthesis.InboxDir,
		cfg.Synthesis.OutboxDir,
		cfg.Synthesis.ReadyFile,
		cfg.Synthesis.PIDFile,
		cfg.Synthesis.WorkerLog,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
