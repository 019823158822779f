package staging

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"narrate/internal/logging"
)

func makeDir(t *testing.T, path string, age time.Duration) {
	t.Helper()
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
	if age > 0 {
		stamp := time.Now().Add(-age)
		if err := os.Chtimes(path, stamp, stamp); err != nil {
			t.Fatalf("chtimes %s: %v", path, err)
		}
	}
}

func TestCleanStaleInvalidPaths(t *testing.T) {
	for _, dir := range []string{"", "   ", "/nonexistent/path/12345"} {
		result := CleanStale(context.Background(), dir, time.Hour, logging.NewNop())
		if len(result.Removed) != 0 || len(result.Errors) != 0 {
			t.Errorf("expected empty result for path %q", dir)
		}
	}
}

func TestCleanStaleRemovesOldRunDirectories(t *testing.T) {
	workDir := t.TempDir()
	oldRun := filepath.Join(workDir, "run-1234")
	recentRun := filepath.Join(workDir, "run-5678")
	foreign := filepath.Join(workDir, "keep-me")
	makeDir(t, oldRun, 2*time.Hour)
	makeDir(t, recentRun, 0)
	makeDir(t, foreign, 2*time.Hour)

	result := CleanStale(context.Background(), workDir, time.Hour, nil)

	if len(result.Removed) != 1 || result.Removed[0] != oldRun {
		t.Fatalf("expected only %s removed, got %v", oldRun, result.Removed)
	}
	if _, err := os.Stat(oldRun); !os.IsNotExist(err) {
		t.Error("old run directory should have been removed")
	}
	for _, keep := range []string{recentRun, foreign} {
		if _, err := os.Stat(keep); err != nil {
			t.Errorf("%s should still exist", keep)
		}
	}
}

func TestCleanStaleIgnoresFiles(t *testing.T) {
	workDir := t.TempDir()
	file := filepath.Join(workDir, "run-file")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	stamp := time.Now().Add(-2 * time.Hour)
	_ = os.Chtimes(file, stamp, stamp)

	result := CleanStale(context.Background(), workDir, time.Hour, logging.NewNop())
	if len(result.Removed) != 0 {
		t.Fatalf("expected no removals for files, got %v", result.Removed)
	}
}

func TestCleanOrphanedKeepsReferencedMedia(t *testing.T) {
	mediaDir := t.TempDir()
	projectDir := filepath.Join(mediaDir, "project_1")
	makeDir(t, projectDir, 0)
	keep := filepath.Join(projectDir, "item_1_audio_abc.wav")
	orphan := filepath.Join(projectDir, "item_1_audio_old.wav")
	upload := filepath.Join(projectDir, ".item_2_image_x.png.123.upload")
	for _, path := range []string{keep, orphan, upload} {
		if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	emptyProject := filepath.Join(mediaDir, "project_2")
	stray := filepath.Join(emptyProject, "item_9.png")
	makeDir(t, emptyProject, 0)
	if err := os.WriteFile(stray, []byte("data"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	result := CleanOrphaned(context.Background(), mediaDir, map[string]struct{}{keep: {}}, logging.NewNop())

	if len(result.Removed) != 3 {
		t.Fatalf("expected 3 removals, got %v", result.Removed)
	}
	if _, err := os.Stat(keep); err != nil {
		t.Fatalf("referenced file removed: %v", err)
	}
	if _, err := os.Stat(emptyProject); !os.IsNotExist(err) {
		t.Fatal("empty project directory should be removed")
	}
	if _, err := os.Stat(projectDir); err != nil {
		t.Fatal("project directory with referenced media should remain")
	}
}

func TestListDirectoriesReportsRunSizes(t *testing.T) {
	workDir := t.TempDir()
	run := filepath.Join(workDir, "run-abc")
	makeDir(t, run, 0)
	if err := os.WriteFile(filepath.Join(run, "segment_0.mp4"), make([]byte, 100), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	makeDir(t, filepath.Join(workDir, "other"), 0)

	dirs, err := ListDirectories(workDir)
	if err != nil {
		t.Fatalf("ListDirectories: %v", err)
	}
	if len(dirs) != 1 || dirs[0].Name != "run-abc" || dirs[0].Size != 100 {
		t.Fatalf("unexpected listing %+v", dirs)
	}
	if dirs, err := ListDirectories(filepath.Join(workDir, "missing")); err != nil || dirs != nil {
		t.Fatalf("missing dir should list nothing, got %v %v", dirs, err)
	}
}
