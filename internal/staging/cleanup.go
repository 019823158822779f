package staging

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"narrate/internal/logging"
)

// RunDirPattern matches the per-run scratch directories created under the
// work directory.
const RunDirPattern = "run-*"

// CleanResult contains the outcome of a cleanup pass.
type CleanResult struct {
	Removed []string
	Errors  []CleanupError
}

// CleanupError pairs a path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// CleanStale removes run directories under workDir older than maxAge.
// Directories that do not look like run scratch space are left alone.
func CleanStale(ctx context.Context, workDir string, maxAge time.Duration, logger *slog.Logger) CleanResult {
	result := CleanResult{}
	logger = orNop(logger)

	workDir = strings.TrimSpace(workDir)
	if workDir == "" {
		return result
	}
	entries, err := os.ReadDir(workDir)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, CleanupError{Path: workDir, Error: err})
		}
		return result
	}

	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if ctx.Err() != nil {
			return result
		}
		if !entry.IsDir() {
			continue
		}
		if ok, _ := filepath.Match(RunDirPattern, entry.Name()); !ok {
			continue
		}
		dirPath := filepath.Join(workDir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dirPath, Error: err})
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(dirPath); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dirPath, Error: err})
			logger.Warn("failed to remove stale run directory",
				logging.String("path", dirPath),
				logging.Error(err),
				logging.String(logging.FieldEventType, "workdir_cleanup_failed"),
				logging.String(logging.FieldErrorHint, "check work_dir permissions"),
				logging.String(logging.FieldImpact, "disk space not reclaimed"),
			)
			continue
		}
		result.Removed = append(result.Removed, dirPath)
		logger.Info("removed stale run directory",
			logging.String("path", dirPath),
			logging.Duration("age", time.Since(info.ModTime())),
			logging.String(logging.FieldEventType, "workdir_cleanup"),
		)
	}
	return result
}

// CleanOrphaned removes files under the project media directories of
// mediaDir that no item references. Hidden upload temporaries are included.
func CleanOrphaned(ctx context.Context, mediaDir string, referenced map[string]struct{}, logger *slog.Logger) CleanResult {
	result := CleanResult{}
	logger = orNop(logger)

	mediaDir = strings.TrimSpace(mediaDir)
	if mediaDir == "" {
		return result
	}
	projects, err := filepath.Glob(filepath.Join(mediaDir, "project_*"))
	if err != nil {
		result.Errors = append(result.Errors, CleanupError{Path: mediaDir, Error: err})
		return result
	}
	for _, dir := range projects {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				result.Errors = append(result.Errors, CleanupError{Path: dir, Error: err})
			}
			continue
		}
		for _, entry := range entries {
			if ctx.Err() != nil {
				return result
			}
			if entry.IsDir() {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			if _, ok := referenced[filepath.Clean(path)]; ok {
				continue
			}
			if err := os.Remove(path); err != nil {
				result.Errors = append(result.Errors, CleanupError{Path: path, Error: err})
				logger.Warn("failed to remove orphaned media file",
					logging.String("path", path),
					logging.Error(err),
					logging.String(logging.FieldEventType, "media_cleanup_failed"),
					logging.String(logging.FieldErrorHint, "check media_dir permissions"),
					logging.String(logging.FieldImpact, "disk space not reclaimed"),
				)
				continue
			}
			result.Removed = append(result.Removed, path)
			logger.Info("removed orphaned media file",
				logging.String("path", path),
				logging.String(logging.FieldEventType, "media_cleanup"),
			)
		}
		if empty, _ := isEmptyDir(dir); empty {
			_ = os.Remove(dir)
		}
	}
	return result
}

// DirInfo contains metadata about a run directory.
type DirInfo struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	ModTime time.Time `json:"mod_time"`
	Size    int64     `json:"size"`
}

// ListDirectories returns the run directories under workDir.
func ListDirectories(workDir string) ([]DirInfo, error) {
	workDir = strings.TrimSpace(workDir)
	if workDir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(workDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var dirs []DirInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if ok, _ := filepath.Match(RunDirPattern, entry.Name()); !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		dirPath := filepath.Join(workDir, entry.Name())
		size, _ := dirSize(dirPath)
		dirs = append(dirs, DirInfo{
			Name:    entry.Name(),
			Path:    dirPath,
			ModTime: info.ModTime(),
			Size:    size,
		})
	}
	return dirs, nil
}

// dirSize calculates the total size of a directory recursively.
func dirSize(path string) (int64, error) {
	var size int64
	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // best effort
		}
		if d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

func isEmptyDir(path string) (bool, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}

func orNop(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return logging.NewNop()
	}
	return logger
}
