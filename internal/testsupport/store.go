package testsupport

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"narrate/internal/config"
	"narrate/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewProject creates a project for tests using the provided store.
func NewProject(t testing.TB, st *store.Store, title string) *store.Project {
	t.Helper()

	project, err := st.CreateProject(context.Background(), title)
	if err != nil {
		t.Fatalf("store.CreateProject: %v", err)
	}
	return project
}

// AddReadyItem appends an item whose image and audio files exist under the
// config media directory.
func AddReadyItem(t testing.TB, cfg *config.Config, st *store.Store, projectID int64, content string) *store.Item {
	t.Helper()

	ctx := context.Background()
	item, err := st.AddItem(ctx, projectID, content, "")
	if err != nil {
		t.Fatalf("store.AddItem: %v", err)
	}
	image := filepath.Join(cfg.Paths.MediaDir, fmt.Sprintf("item_%d.png", item.ID))
	audio := filepath.Join(cfg.Paths.MediaDir, fmt.Sprintf("item_%d.wav", item.ID))
	WriteFile(t, image, 64)
	WriteFile(t, audio, 64)
	if _, err := st.SetItemImage(ctx, projectID, item.ID, image); err != nil {
		t.Fatalf("store.SetItemImage: %v", err)
	}
	if _, err := st.SetItemAudio(ctx, projectID, item.ID, audio, 1.5); err != nil {
		t.Fatalf("store.SetItemAudio: %v", err)
	}
	item, err = st.GetItem(ctx, projectID, item.ID)
	if err != nil {
		t.Fatalf("store.GetItem: %v", err)
	}
	return item
}
