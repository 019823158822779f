package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"narrate/internal/services"
)

func conflict(projectID int64, state State, action string) error {
	return services.Wrap(services.ErrConflict, "store", action,
		fmt.Sprintf("project %d is %s", projectID, state), nil)
}

func cancelled(projectID int64) error {
	return services.Wrap(services.ErrCancelled, "store", "status",
		fmt.Sprintf("project %d was cancelled", projectID), nil)
}

// GetStatus returns the current job status of a project.
func (s *Store) GetStatus(ctx context.Context, projectID int64) (JobStatus, error) {
	project, err := s.GetProject(ctx, projectID)
	if err != nil {
		return JobStatus{}, err
	}
	return project.Status, nil
}

// BeginGeneration moves a project from not_started to generating with
// progress 0. Any other current state is refused with services.ErrConflict;
// a cancelled project reports services.ErrCancelled.
func (s *Store) BeginGeneration(ctx context.Context, projectID int64, runID string) (JobStatus, error) {
	now := timestamp()
	res, err := s.execWithRetry(ctx,
		`UPDATE projects
         SET video_state = ?, video_progress = 0, video_message = ?, video_error = NULL,
             run_id = ?, status_updated_at = ?, updated_at = ?
         WHERE id = ? AND video_state = ?`,
		StateGenerating, "Starting", nullableString(runID), now, now,
		projectID, StateNotStarted,
	)
	if err != nil {
		return JobStatus{}, fmt.Errorf("begin generation: %w", err)
	}
	if err := s.explainMiss(ctx, res, projectID, "begin generation"); err != nil {
		return JobStatus{}, err
	}
	return s.GetStatus(ctx, projectID)
}

// UpdateProgress records run progress. Progress never decreases: a lower
// value than the stored one leaves the row untouched. Updates are accepted
// only while generating; a cancelled project reports services.ErrCancelled.
func (s *Store) UpdateProgress(ctx context.Context, projectID int64, progress int, message string) (JobStatus, error) {
	progress = clampProgress(progress)
	now := timestamp()
	res, err := s.execWithRetry(ctx,
		`UPDATE projects
         SET video_progress = MAX(video_progress, ?), video_message = ?, status_updated_at = ?, updated_at = ?
         WHERE id = ? AND video_state = ?`,
		progress, nullableString(message), now, now,
		projectID, StateGenerating,
	)
	if err != nil {
		return JobStatus{}, fmt.Errorf("update progress: %w", err)
	}
	if err := s.explainMiss(ctx, res, projectID, "update progress"); err != nil {
		return JobStatus{}, err
	}
	return s.GetStatus(ctx, projectID)
}

// CompleteGeneration attaches the final artifact and marks the job completed
// at progress 100. The previous artifact reference is replaced only here.
func (s *Store) CompleteGeneration(ctx context.Context, projectID int64, videoPath, videoKey string) (JobStatus, error) {
	now := timestamp()
	res, err := s.execWithRetry(ctx,
		`UPDATE projects
         SET video_state = ?, video_progress = 100, video_message = ?, video_error = NULL,
             video_path = ?, video_key = ?, status_updated_at = ?, updated_at = ?
         WHERE id = ? AND video_state = ?`,
		StateCompleted, "Completed", nullableString(videoPath), nullableString(videoKey), now, now,
		projectID, StateGenerating,
	)
	if err != nil {
		return JobStatus{}, fmt.Errorf("complete generation: %w", err)
	}
	if err := s.explainMiss(ctx, res, projectID, "complete generation"); err != nil {
		return JobStatus{}, err
	}
	return s.GetStatus(ctx, projectID)
}

// FailGeneration marks a running job failed, keeping its last progress value.
// A job cancelled in the meantime stays cancelled and services.ErrCancelled
// is returned.
func (s *Store) FailGeneration(ctx context.Context, projectID int64, reason string) (JobStatus, error) {
	now := timestamp()
	res, err := s.execWithRetry(ctx,
		`UPDATE projects
         SET video_state = ?, video_error = ?, video_message = ?, status_updated_at = ?, updated_at = ?
         WHERE id = ? AND video_state = ?`,
		StateFailed, nullableString(reason), "Failed", now, now,
		projectID, StateGenerating,
	)
	if err != nil {
		return JobStatus{}, fmt.Errorf("fail generation: %w", err)
	}
	if err := s.explainMiss(ctx, res, projectID, "fail generation"); err != nil {
		return JobStatus{}, err
	}
	return s.GetStatus(ctx, projectID)
}

// CancelGeneration moves a not_started or generating job to cancelled. The
// progress value is left as it was.
func (s *Store) CancelGeneration(ctx context.Context, projectID int64) (JobStatus, error) {
	now := timestamp()
	res, err := s.execWithRetry(ctx,
		`UPDATE projects
         SET video_state = ?, video_message = ?, status_updated_at = ?, updated_at = ?
         WHERE id = ? AND video_state IN (?, ?)`,
		StateCancelled, "Cancelled", now, now,
		projectID, StateNotStarted, StateGenerating,
	)
	if err != nil {
		return JobStatus{}, fmt.Errorf("cancel generation: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		status, getErr := s.GetStatus(ctx, projectID)
		if getErr != nil {
			return JobStatus{}, getErr
		}
		if status.State == StateCancelled {
			return status, nil
		}
		return JobStatus{}, conflict(projectID, status.State, "cancel generation")
	}
	return s.GetStatus(ctx, projectID)
}

// ResetGeneration returns a terminal job to not_started with progress 0 so a
// new run can begin. Any attached artifact stays until a later run replaces it.
func (s *Store) ResetGeneration(ctx context.Context, projectID int64) (JobStatus, error) {
	now := timestamp()
	res, err := s.execWithRetry(ctx,
		`UPDATE projects
         SET video_state = ?, video_progress = 0, video_message = NULL, video_error = NULL,
             run_id = NULL, status_updated_at = ?, updated_at = ?
         WHERE id = ? AND video_state IN (?, ?, ?, ?)`,
		StateNotStarted, now, now,
		projectID, StateNotStarted, StateCompleted, StateFailed, StateCancelled,
	)
	if err != nil {
		return JobStatus{}, fmt.Errorf("reset generation: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		status, getErr := s.GetStatus(ctx, projectID)
		if getErr != nil {
			return JobStatus{}, getErr
		}
		return JobStatus{}, conflict(projectID, status.State, "reset generation")
	}
	return s.GetStatus(ctx, projectID)
}

// FailInterrupted marks jobs left in generating by a previous process as
// failed. It returns the number of projects affected.
func (s *Store) FailInterrupted(ctx context.Context) (int64, error) {
	now := timestamp()
	res, err := s.execWithRetry(ctx,
		`UPDATE projects
         SET video_state = ?, video_error = ?, video_message = ?, status_updated_at = ?, updated_at = ?
         WHERE video_state = ?`,
		StateFailed, DaemonStopReason, "Failed", now, now, StateGenerating,
	)
	if err != nil {
		return 0, fmt.Errorf("fail interrupted runs: %w", err)
	}
	return res.RowsAffected()
}

// explainMiss turns a zero-row conditional update into the matching error.
func (s *Store) explainMiss(ctx context.Context, res sql.Result, projectID int64, action string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", action, err)
	}
	if affected > 0 {
		return nil
	}
	status, err := s.GetStatus(ctx, projectID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return err
		}
		return fmt.Errorf("%s: %w", action, err)
	}
	if status.State == StateCancelled {
		return cancelled(projectID)
	}
	return conflict(projectID, status.State, action)
}

func clampProgress(value int) int {
	switch {
	case value < 0:
		return 0
	case value > 100:
		return 100
	default:
		return value
	}
}
