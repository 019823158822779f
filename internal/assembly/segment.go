package assembly

import (
	"fmt"
	"path/filepath"
	"strings"

	"narrate/internal/services"
	"narrate/internal/store"
)

// Segment is the per-item working state of one run.
type Segment struct {
	Index     int
	ItemID    int64
	ImagePath string
	AudioPath string
	Resized   string
	Duration  float64
	Path      string
}

// Stage progress bounds.
const (
	preparationWeight = 30
	encodingStart     = 30
	encodingWeight    = 50
	concatProgress    = 90
)

func preparationProgress(index, total int) int {
	return int(float64(index+1) / float64(total) * preparationWeight)
}

func encodingProgress(index, total int) int {
	return encodingStart + int(float64(index+1)/float64(total)*encodingWeight)
}

// checkRenderable reports services.ErrPrecondition unless there is at least
// one item and every item has both image and audio.
func checkRenderable(projectID int64, items []*store.Item) error {
	if len(items) == 0 {
		return services.Wrap(services.ErrPrecondition, "assembly", "guard",
			fmt.Sprintf("project %d has no items", projectID), nil)
	}
	var missing []string
	for _, item := range items {
		if item.RenderReady() {
			continue
		}
		var parts []string
		if !item.HasImage() {
			parts = append(parts, "image")
		}
		if !item.HasAudio() {
			parts = append(parts, "audio")
		}
		missing = append(missing, fmt.Sprintf("item %d (position %d) missing %s",
			item.ID, item.Position, strings.Join(parts, " and ")))
	}
	if len(missing) > 0 {
		return services.Wrap(services.ErrPrecondition, "assembly", "guard", strings.Join(missing, "; "), nil)
	}
	return nil
}

// planSegments lays out working files for items, which must already be in
// position order.
func planSegments(items []*store.Item, workDir string) []Segment {
	segments := make([]Segment, 0, len(items))
	for i, item := range items {
		ext := strings.ToLower(filepath.Ext(item.ImagePath))
		switch ext {
		case ".jpg", ".jpeg", ".png":
		default:
			ext = ".png"
		}
		segments = append(segments, Segment{
			Index:     i,
			ItemID:    item.ID,
			ImagePath: item.ImagePath,
			AudioPath: item.AudioPath,
			Resized:   filepath.Join(workDir, fmt.Sprintf("resized_%d%s", i, ext)),
			Path:      filepath.Join(workDir, fmt.Sprintf("segment_%d.mp4", i)),
		})
	}
	return segments
}

func segmentPaths(segments []Segment) []string {
	paths := make([]string, len(segments))
	for i, seg := range segments {
		paths[i] = seg.Path
	}
	return paths
}
