package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"narrate/internal/fileutil"
)

// LocalStore keeps videos under a directory on disk.
type LocalStore struct {
	root string
}

// NewLocalStore prepares root for publishing.
func NewLocalStore(root string) (*LocalStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("artifact directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("ensure artifact directory: %w", err)
	}
	return &LocalStore{root: root}, nil
}

// Root returns the artifact directory.
func (s *LocalStore) Root() string {
	return s.root
}

// Publish copies source into the artifact directory.
func (s *LocalStore) Publish(ctx context.Context, projectID int64, runID, source string) (Location, error) {
	if err := ctx.Err(); err != nil {
		return Location{}, err
	}
	dest := filepath.Join(s.root, filepath.FromSlash(objectName(projectID, runID)))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return Location{}, fmt.Errorf("ensure project artifact directory: %w", err)
	}
	if err := fileutil.PublishFile(source, dest); err != nil {
		return Location{}, err
	}
	return Location{Path: dest}, nil
}

// Remove deletes a previously published file. Files outside the artifact
// directory are left alone.
func (s *LocalStore) Remove(_ context.Context, loc Location) error {
	path := strings.TrimSpace(loc.Path)
	if path == "" {
		return nil
	}
	rel, err := filepath.Rel(s.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("refusing to remove %s outside %s", path, s.root)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove artifact: %w", err)
	}
	_ = os.Remove(filepath.Dir(path))
	return nil
}
