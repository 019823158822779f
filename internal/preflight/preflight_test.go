package preflight

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"narrate/internal/config"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess(context.Background(), "test", dir, 1)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess(context.Background(), "test", filepath.Join(t.TempDir(), "nope"), 0)
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if !strings.Contains(result.Detail, "does not exist") {
		t.Fatalf("unexpected detail %q", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess(context.Background(), "test", f, 0)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckDirectoryAccess_InsufficientSpace(t *testing.T) {
	result := CheckDirectoryAccess(context.Background(), "test", t.TempDir(), 1<<40)
	if result.Passed {
		t.Fatal("expected failure when free space is below the minimum")
	}
	if !strings.Contains(result.Detail, "MiB free") {
		t.Fatalf("unexpected detail %q", result.Detail)
	}
}

func TestCheckAMQPRequiresURL(t *testing.T) {
	if result := CheckAMQP(context.Background(), ""); result.Passed {
		t.Fatal("expected failure without url")
	}
}

func TestRunAllSelectsTransportChecks(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.MediaDir = filepath.Join(base, "media")
	cfg.Paths.WorkDir = filepath.Join(base, "work")
	cfg.Paths.ArtifactDir = filepath.Join(base, "videos")
	cfg.Synthesis.InboxDir = filepath.Join(base, "in")
	cfg.Synthesis.OutboxDir = filepath.Join(base, "out")
	cfg.Workflow.MinFreeDiskMiB = 0
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.MediaDir, cfg.Paths.WorkDir, cfg.Paths.ArtifactDir, cfg.Synthesis.InboxDir, cfg.Synthesis.OutboxDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	results := RunAll(context.Background(), &cfg)
	if len(results) != 6 {
		t.Fatalf("expected 6 checks for file transport, got %d", len(results))
	}
	for _, r := range results {
		if !r.Passed {
			t.Fatalf("check %s failed: %s", r.Name, r.Detail)
		}
	}

	cfg.Synthesis.Transport = config.TransportAMQP
	cfg.Synthesis.AMQPURL = ""
	cfg.Storage.Backend = config.StorageS3
	results = RunAll(context.Background(), &cfg)
	last := results[len(results)-1]
	if last.Name != "Message broker" || last.Passed {
		t.Fatalf("expected failing broker check last, got %+v", last)
	}
	for _, r := range results {
		if r.Name == "Artifact directory" {
			t.Fatal("artifact directory should not be checked for s3 storage")
		}
	}
}
