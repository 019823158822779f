package artifact

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"narrate/internal/config"
)

// Location identifies a published artifact. Path is set for local files and
// Key for object storage.
type Location struct {
	Path string `json:"path,omitempty"`
	Key  string `json:"key,omitempty"`
}

// IsZero reports whether the location names nothing.
func (l Location) IsZero() bool {
	return strings.TrimSpace(l.Path) == "" && strings.TrimSpace(l.Key) == ""
}

// Store publishes and removes final videos.
type Store interface {
	Publish(ctx context.Context, projectID int64, runID, source string) (Location, error)
	Remove(ctx context.Context, loc Location) error
}

// New returns the backend selected by cfg.Storage.Backend.
func New(cfg *config.Config, logger *slog.Logger) (Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("artifact store: config is nil")
	}
	switch cfg.Storage.Backend {
	case config.StorageS3:
		return NewS3Store(cfg.Storage, logger)
	case config.StorageLocal, "":
		return NewLocalStore(cfg.Paths.ArtifactDir)
	default:
		return nil, fmt.Errorf("artifact store: unknown backend %q", cfg.Storage.Backend)
	}
}

func objectName(projectID int64, runID string) string {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		runID = "latest"
	}
	return fmt.Sprintf("project_%d/%s.mp4", projectID, runID)
}
