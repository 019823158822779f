package workflow

import (
	"context"
	"errors"

	"narrate/internal/logging"
	"narrate/internal/services"
	"narrate/internal/store"
)

// Generate validates and claims the project, then assembles its video in
// the background. The returned status is the job right after the claim.
func (m *Manager) Generate(ctx context.Context, projectID int64) (store.JobStatus, error) {
	runCtx, done, err := m.background()
	if err != nil {
		return store.JobStatus{}, err
	}
	run, err := m.orchestrator.Start(ctx, projectID)
	if err != nil {
		done()
		return store.JobStatus{}, err
	}
	status, err := m.store.GetStatus(ctx, projectID)
	if err != nil {
		status = store.JobStatus{State: store.StateGenerating, RunID: run.ID()}
	}

	go func() {
		defer done()
		if err := run.Execute(runCtx); err != nil && !errors.Is(err, services.ErrCancelled) {
			m.setLastError(err)
		}
	}()

	logging.WithContext(services.WithProjectID(ctx, projectID), m.logger).Info("generation queued",
		logging.String(logging.FieldEventType, "generation_queued"),
		logging.String("run_id", run.ID()),
	)
	return status, nil
}

// Cancel requests cancellation of a project's job.
func (m *Manager) Cancel(ctx context.Context, projectID int64) (store.JobStatus, error) {
	return m.orchestrator.Cancel(ctx, projectID)
}

// Reset returns a finished job to not_started.
func (m *Manager) Reset(ctx context.Context, projectID int64) (store.JobStatus, error) {
	return m.orchestrator.Reset(ctx, projectID)
}

// Recover fails jobs a previous process left in generating and publishes
// their new status.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	stale, err := m.store.ProjectsInState(ctx, store.StateGenerating)
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if _, err := m.store.FailInterrupted(ctx); err != nil {
		return 0, err
	}
	for _, project := range stale {
		status, err := m.store.GetStatus(ctx, project.ID)
		if err != nil {
			continue
		}
		m.hub.Publish(project.ID, status)
		logging.WarnWithContext(logging.WithContext(services.WithProjectID(ctx, project.ID), m.logger),
			"interrupted generation marked failed", "generation_interrupted",
			logging.Int("progress", status.Progress),
			logging.String(logging.FieldErrorHint, "reset the project and generate again"),
			logging.String(logging.FieldImpact, "the previous run did not finish"),
		)
	}
	return len(stale), nil
}
