package daemonctl_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"narrate/internal/api"
	"narrate/internal/daemonctl"
	"narrate/internal/store"
	"narrate/internal/testsupport"
)

type fakeDaemon struct {
	stopped atomic.Bool
	server  *httptest.Server
}

func newFakeDaemon(t *testing.T) *fakeDaemon {
	t.Helper()
	fd := &fakeDaemon{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(api.DaemonStatus{Running: true, PID: 4242})
	})
	mux.HandleFunc("POST /api/daemon/stop", func(w http.ResponseWriter, _ *http.Request) {
		fd.stopped.Store(true)
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(api.ActionResponse{OK: true})
	})
	fd.server = httptest.NewServer(mux)
	t.Cleanup(fd.server.Close)
	return fd
}

func deadAddress(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	return url
}

func TestEnsureStartedDetectsRunningDaemon(t *testing.T) {
	fd := newFakeDaemon(t)
	client := api.NewClient(fd.server.URL, "")

	result, err := daemonctl.EnsureStarted(context.Background(), client, "/nonexistent/narrate", daemonctl.LaunchOptions{}, time.Second)
	if err != nil {
		t.Fatalf("EnsureStarted: %v", err)
	}
	if result.State != daemonctl.StartStateAlreadyRunning || result.Launched || result.PID != 4242 {
		t.Fatalf("unexpected start result %+v", result)
	}
}

func TestEnsureStartedReportsLaunchFailure(t *testing.T) {
	client := api.NewClient(deadAddress(t), "")
	_, err := daemonctl.EnsureStarted(context.Background(), client, filepath.Join(t.TempDir(), "missing"), daemonctl.LaunchOptions{}, 100*time.Millisecond)
	if err == nil || !strings.Contains(err.Error(), "launch daemon") {
		t.Fatalf("expected launch error, got %v", err)
	}
}

func TestProcessInfoTreatsRefusedConnectionAsStopped(t *testing.T) {
	client := api.NewClient(deadAddress(t), "")
	alive, pid, err := daemonctl.ProcessInfo(context.Background(), client)
	if err != nil || alive || pid != 0 {
		t.Fatalf("ProcessInfo = %v, %d, %v", alive, pid, err)
	}
	_, statusErr := client.Status(context.Background())
	if !daemonctl.IsUnavailable(statusErr) {
		t.Fatalf("expected unavailable error, got %v", statusErr)
	}
	if daemonctl.IsUnavailable(&api.Error{StatusCode: http.StatusInternalServerError}) {
		t.Fatal("HTTP errors are not unavailability")
	}
}

func TestStopAndTerminateNotRunning(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	client := api.NewClient(deadAddress(t), "")
	if _, err := daemonctl.StopAndTerminate(context.Background(), client, cfg, 100*time.Millisecond); !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
}

func TestStopAndTerminateAcknowledged(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	fd := newFakeDaemon(t)
	client := api.NewClient(fd.server.URL, "")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for !fd.stopped.Load() {
			time.Sleep(5 * time.Millisecond)
		}
		fd.server.Close()
	}()

	result, err := daemonctl.StopAndTerminate(context.Background(), client, cfg, 2*time.Second)
	<-done
	if err != nil {
		t.Fatalf("StopAndTerminate: %v", err)
	}
	if !result.StopAcknowledged || result.ForcedKill || result.PID != 4242 {
		t.Fatalf("unexpected stop result %+v", result)
	}
}

func TestReadPIDFile(t *testing.T) {
	dir := t.TempDir()
	if pid, err := daemonctl.ReadPIDFile(filepath.Join(dir, "missing.pid")); err != nil || pid != 0 {
		t.Fatalf("missing pid file = %d, %v", pid, err)
	}
	path := filepath.Join(dir, "narrated.pid")
	if err := os.WriteFile(path, []byte("1234\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if pid, err := daemonctl.ReadPIDFile(path); err != nil || pid != 1234 {
		t.Fatalf("ReadPIDFile = %d, %v", pid, err)
	}
	if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := daemonctl.ReadPIDFile(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestForceKillRefusesCurrentProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "narrated.pid")
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := daemonctl.ForceKillProcess(path, "", 0); err == nil || !strings.Contains(err.Error(), "refusing") {
		t.Fatalf("expected refusal, got %v", err)
	}
}

func TestBuildOfflineStatusCountsProjects(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	st := testsupport.MustOpenStore(t, cfg)
	testsupport.NewProject(t, st, "a")
	done := testsupport.NewProject(t, st, "b")
	if _, err := st.BeginGeneration(context.Background(), done.ID, "run"); err != nil {
		t.Fatal(err)
	}

	status, err := daemonctl.BuildOfflineStatus(context.Background(), cfg)
	if err != nil {
		t.Fatalf("BuildOfflineStatus: %v", err)
	}
	if status.States[store.StateNotStarted] != 1 || status.States[store.StateGenerating] != 1 {
		t.Fatalf("unexpected counts %+v", status.States)
	}
	if status.Summary.MissingRequired != 0 {
		t.Fatalf("stubbed ffmpeg/ffprobe should be available, got %+v", status.Summary)
	}
}
