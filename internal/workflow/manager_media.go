package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"narrate/internal/artifact"
	"narrate/internal/logging"
	"narrate/internal/services"
	"narrate/internal/store"
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
	".bmp":  true,
}

func (m *Manager) projectMediaDir(projectID int64) string {
	return filepath.Join(m.cfg.Paths.MediaDir, fmt.Sprintf("project_%d", projectID))
}

// AttachImage stores an uploaded image for an item, replacing any previous one.
func (m *Manager) AttachImage(ctx context.Context, projectID, itemID int64, filename string, body io.Reader) (*store.Item, error) {
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(filename)))
	if !imageExtensions[ext] {
		return nil, services.Wrap(services.ErrValidation, "media", "image",
			fmt.Sprintf("unsupported image type %q", ext), nil)
	}
	if _, err := m.store.GetItem(ctx, projectID, itemID); err != nil {
		return nil, err
	}

	dir := m.projectMediaDir(projectID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure media directory: %w", err)
	}
	dest := filepath.Join(dir, fmt.Sprintf("item_%d_image_%s%s", itemID, shortID(uuid.NewString()), ext))
	if err := writeUpload(dest, body); err != nil {
		return nil, err
	}

	previous, err := m.store.SetItemImage(ctx, projectID, itemID, dest)
	if err != nil {
		_ = os.Remove(dest)
		return nil, err
	}
	m.removeMedia(ctx, previous, dest)
	return m.store.GetItem(ctx, projectID, itemID)
}

func writeUpload(dest string, body io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*.upload")
	if err != nil {
		return fmt.Errorf("create upload: %w", err)
	}
	tmpPath := tmp.Name()
	written, err := io.Copy(tmp, body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil && written == 0 {
		err = services.Wrap(services.ErrValidation, "media", "image", "upload is empty", nil)
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		if errors.Is(err, services.ErrValidation) {
			return err
		}
		return fmt.Errorf("write upload: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("commit upload: %w", err)
	}
	return nil
}

// DeleteItem removes an item and its stored media.
func (m *Manager) DeleteItem(ctx context.Context, projectID, itemID int64) (*store.Item, error) {
	if m.Synthesizing(itemID) {
		return nil, services.Wrap(services.ErrConflict, "media", "delete item",
			fmt.Sprintf("item %d is being synthesized", itemID), nil)
	}
	removed, err := m.store.DeleteItem(ctx, projectID, itemID)
	if err != nil {
		return nil, err
	}
	m.removeMedia(ctx, removed.ImagePath, "")
	m.removeMedia(ctx, removed.AudioPath, "")
	return removed, nil
}

// DeleteProject removes a project, its items' media and its video.
func (m *Manager) DeleteProject(ctx context.Context, projectID int64) (*store.Project, error) {
	if m.orchestrator.Running(projectID) {
		return nil, services.Wrap(services.ErrConflict, "media", "delete project",
			fmt.Sprintf("project %d has a run in progress", projectID), nil)
	}
	project, items, err := m.store.DeleteProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		m.removeMedia(ctx, item.ImagePath, "")
		m.removeMedia(ctx, item.AudioPath, "")
	}
	_ = os.Remove(m.projectMediaDir(projectID))
	if loc := (artifact.Location{Path: project.VideoPath, Key: project.VideoKey}); !loc.IsZero() {
		if err := m.artifacts.Remove(ctx, loc); err != nil {
			logging.WarnWithContext(logging.WithContext(ctx, m.logger), "failed to remove project video", "artifact_cleanup_failed",
				logging.ProjectID(projectID),
				logging.String(logging.FieldImpact, "the video remains in storage"),
				logging.Error(err),
			)
		}
	}
	return project, nil
}

// removeMedia deletes a superseded media file. Paths outside the media
// directory and the file still in use are left alone.
func (m *Manager) removeMedia(ctx context.Context, path, keep string) {
	path = strings.TrimSpace(path)
	if path == "" || path == keep {
		return
	}
	rel, err := filepath.Rel(m.cfg.Paths.MediaDir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logging.WithContext(ctx, m.logger).Debug("failed to remove media file",
			logging.String("path", path),
			logging.Error(err),
		)
	}
}
