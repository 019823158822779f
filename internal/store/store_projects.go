package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"narrate/internal/services"
)

// CreateProject inserts a new project. A blank title becomes "New Project N"
// where N is one more than the current project count.
func (s *Store) CreateProject(ctx context.Context, title string) (*Project, error) {
	title = strings.TrimSpace(title)
	now := timestamp()

	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if title == "" {
			var count int
			if err := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM projects").Scan(&count); err != nil {
				return fmt.Errorf("count projects: %w", err)
			}
			title = fmt.Sprintf("New Project %d", count+1)
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO projects (title, video_state, video_progress, status_updated_at, created_at, updated_at)
             VALUES (?, ?, 0, ?, ?, ?)`,
			title, StateNotStarted, now, now, now,
		)
		if err != nil {
			return fmt.Errorf("insert project: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetProject(ctx, id)
}

// GetProject fetches a project by id. A missing project yields services.ErrNotFound.
func (s *Store) GetProject(ctx context.Context, id int64) (*Project, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, "SELECT "+projectColumns+" FROM projects WHERE id = ?", id)
	project, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, projectNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return project, nil
}

// ListProjects returns every project, newest first.
func (s *Store) ListProjects(ctx context.Context) ([]*Project, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, "SELECT "+projectColumns+" FROM projects ORDER BY id DESC")
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, project)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return projects, nil
}

// RenameProject updates a project title.
func (s *Store) RenameProject(ctx context.Context, id int64, title string) (*Project, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, services.Wrap(services.ErrValidation, "store", "rename project", "title must not be empty", nil)
	}
	res, err := s.execWithRetry(ctx,
		"UPDATE projects SET title = ?, updated_at = ? WHERE id = ?",
		title, timestamp(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("rename project: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return nil, projectNotFound(id)
	}
	return s.GetProject(ctx, id)
}

// DeleteProject removes a project and its items. The returned project and
// items describe what was removed so callers can clean up stored media.
// Projects with a running job cannot be deleted.
func (s *Store) DeleteProject(ctx context.Context, id int64) (*Project, []*Item, error) {
	project, err := s.GetProject(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if project.Status.State == StateGenerating {
		return nil, nil, conflict(id, project.Status.State, "delete")
	}
	items, err := s.ListItems(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	res, err := s.execWithRetry(ctx,
		"DELETE FROM projects WHERE id = ? AND video_state <> ?",
		id, StateGenerating,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("delete project: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return nil, nil, conflict(id, StateGenerating, "delete")
	}
	return project, items, nil
}

// ProjectsInState lists projects whose job is currently in state.
func (s *Store) ProjectsInState(ctx context.Context, state State) ([]*Project, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, "SELECT "+projectColumns+" FROM projects WHERE video_state = ? ORDER BY id", state)
	if err != nil {
		return nil, fmt.Errorf("list projects by state: %w", err)
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, project)
	}
	return projects, rows.Err()
}
