package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"narrate/internal/fileutil"
	"narrate/internal/logging"
	"narrate/internal/media/probe"
	"narrate/internal/notifications"
	"narrate/internal/services"
	"narrate/internal/store"
	"narrate/internal/synthesis"
)

// SynthesisOutcome reports a finished synthesis task.
type SynthesisOutcome struct {
	Item    *store.Item   `json:"item,omitempty"`
	Skipped bool          `json:"skipped"`
	Elapsed time.Duration `json:"elapsed"`
	Err     error         `json:"-"`
}

// SubmitSynthesis queues speech synthesis for an item. The channel receives
// exactly one outcome. Items with blank text complete immediately as skipped.
func (m *Manager) SubmitSynthesis(ctx context.Context, projectID, itemID int64) (<-chan SynthesisOutcome, error) {
	item, err := m.store.GetItem(ctx, projectID, itemID)
	if err != nil {
		return nil, err
	}
	out := make(chan SynthesisOutcome, 1)
	if strings.TrimSpace(item.Content) == "" {
		out <- SynthesisOutcome{Item: item, Skipped: true}
		return out, nil
	}
	status, err := m.store.GetStatus(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if status.State == store.StateGenerating {
		return nil, services.Wrap(services.ErrConflict, "synthesis", "submit",
			fmt.Sprintf("project %d is generating a video", projectID), nil)
	}
	if err := m.claimItem(itemID); err != nil {
		return nil, err
	}

	taskCtx, done, err := m.background()
	if err != nil {
		m.releaseItem(itemID)
		return nil, err
	}
	project, err := m.store.GetProject(ctx, projectID)
	if err != nil {
		// The project only titles notifications.
		logging.WithContext(services.WithProjectID(ctx, projectID), m.logger).Warn("project lookup failed", logging.Error(err))
	}
	task := func() {
		defer done()
		outcome := m.synthesizeItem(taskCtx, project, item)
		m.releaseItem(itemID)
		out <- outcome
	}

	// Submit blocks while the pool is saturated; the caller is not kept waiting.
	go func() {
		if err := m.pool.Submit(task); err != nil {
			done()
			m.releaseItem(itemID)
			out <- SynthesisOutcome{Item: item, Err: services.Wrap(services.ErrTransient, "synthesis", "submit", "pool unavailable", err)}
		}
	}()
	return out, nil
}

// SynthesizeItem runs synthesis for an item and waits for the outcome.
// When ctx ends first the task keeps running and ctx.Err is returned.
func (m *Manager) SynthesizeItem(ctx context.Context, projectID, itemID int64) (SynthesisOutcome, error) {
	results, err := m.SubmitSynthesis(ctx, projectID, itemID)
	if err != nil {
		return SynthesisOutcome{}, err
	}
	select {
	case outcome := <-results:
		return outcome, outcome.Err
	case <-ctx.Done():
		return SynthesisOutcome{}, ctx.Err()
	}
}

func (m *Manager) synthesizeItem(ctx context.Context, project *store.Project, item *store.Item) SynthesisOutcome {
	ctx = services.WithItemID(services.WithProjectID(ctx, item.ProjectID), item.ID)
	ctx = services.WithStage(ctx, "synthesis")
	logger := logging.WithContext(ctx, m.logger)
	started := time.Now()

	attached, err := m.produceAudio(ctx, item)
	elapsed := time.Since(started)
	if err != nil {
		logging.ErrorWithContext(logger, "synthesis failed", "synthesis_failed",
			logging.Duration("elapsed", elapsed),
			logging.Error(err),
		)
		if !errors.Is(err, services.ErrCancelled) {
			m.setLastError(err)
			m.notify(context.WithoutCancel(ctx), notifications.EventSynthesisFailed, notifications.Payload{
				"title": projectTitle(project),
				"error": err.Error(),
			})
		}
		return SynthesisOutcome{Item: item, Elapsed: elapsed, Err: err}
	}
	logger.Info("audio attached",
		logging.String(logging.FieldEventType, "synthesis_complete"),
		logging.String("audio_path", attached.AudioPath),
		logging.Float64("duration_seconds", attached.AudioDuration),
		logging.Duration("elapsed", elapsed),
	)
	return SynthesisOutcome{Item: attached, Elapsed: elapsed}
}

func (m *Manager) produceAudio(ctx context.Context, item *store.Item) (*store.Item, error) {
	result, err := m.synthesizer.Synthesize(ctx, item.Content, synthesis.Voice{Instruct: item.Instruct})
	if err != nil {
		return nil, err
	}
	if result.Skipped {
		return item, nil
	}

	dest := filepath.Join(m.projectMediaDir(item.ProjectID),
		fmt.Sprintf("item_%d_audio_%s.wav", item.ID, shortID(result.RequestID)))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		_ = os.Remove(result.OutputPath)
		return nil, services.Wrap(services.ErrPipelineFailed, "synthesis", "store audio", "", err)
	}
	if err := fileutil.MoveFile(result.OutputPath, dest); err != nil {
		_ = os.Remove(result.OutputPath)
		return nil, services.Wrap(services.ErrPipelineFailed, "synthesis", "store audio", "", err)
	}

	duration, err := m.probe.ProbeDuration(ctx, dest)
	if err != nil {
		if result.Duration <= 0 {
			_ = os.Remove(dest)
			return nil, err
		}
		duration = probe.RoundDuration(result.Duration)
	}

	previous, err := m.store.SetItemAudio(ctx, item.ProjectID, item.ID, dest, duration)
	if err != nil {
		_ = os.Remove(dest)
		return nil, err
	}
	m.removeMedia(ctx, previous, dest)
	return m.store.GetItem(ctx, item.ProjectID, item.ID)
}

func (m *Manager) claimItem(itemID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.synthesizing[itemID]; busy {
		return services.Wrap(services.ErrConflict, "synthesis", "submit",
			fmt.Sprintf("item %d is already being synthesized", itemID), nil)
	}
	m.synthesizing[itemID] = struct{}{}
	return nil
}

func (m *Manager) releaseItem(itemID int64) {
	m.mu.Lock()
	delete(m.synthesizing, itemID)
	m.mu.Unlock()
}

// Synthesizing reports whether a synthesis task for itemID is queued or running.
func (m *Manager) Synthesizing(itemID int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.synthesizing[itemID]
	return ok
}

func shortID(id string) string {
	id = strings.ReplaceAll(strings.TrimSpace(id), "-", "")
	if len(id) > 12 {
		id = id[:12]
	}
	if id == "" {
		id = fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return id
}
