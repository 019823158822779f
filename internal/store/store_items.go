package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ItemUpdate carries optional item field changes. Nil fields are left alone.
type ItemUpdate struct {
	Content  *string
	Instruct *string
}

// AddItem appends a new item at the end of the project's sequence.
func (s *Store) AddItem(ctx context.Context, projectID int64, content, instruct string) (*Item, error) {
	now := timestamp()
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := lockedProjectState(ctx, tx, projectID); err != nil {
			return err
		}
		var maxPosition sql.NullInt64
		if err := tx.QueryRowContext(ctx,
			"SELECT MAX(position) FROM media_items WHERE project_id = ?", projectID,
		).Scan(&maxPosition); err != nil {
			return fmt.Errorf("read max position: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO media_items (project_id, position, content, instruct, created_at, updated_at)
             VALUES (?, ?, ?, ?, ?, ?)`,
			projectID, maxPosition.Int64+1, content, nullableString(strings.TrimSpace(instruct)), now, now,
		)
		if err != nil {
			return fmt.Errorf("insert item: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
		return touchProject(ctx, tx, projectID, now)
	})
	if err != nil {
		return nil, err
	}
	return s.GetItem(ctx, projectID, id)
}

// GetItem fetches one item belonging to projectID.
func (s *Store) GetItem(ctx context.Context, projectID, id int64) (*Item, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx,
		"SELECT "+itemColumns+" FROM media_items WHERE id = ? AND project_id = ?", id, projectID)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, itemNotFound(projectID, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// ListItems returns the project's items in position order.
func (s *Store) ListItems(ctx context.Context, projectID int64) ([]*Item, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+itemColumns+" FROM media_items WHERE project_id = ? ORDER BY position, id", projectID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}

// UpdateItem applies text and style instruction changes.
func (s *Store) UpdateItem(ctx context.Context, projectID, id int64, update ItemUpdate) (*Item, error) {
	if update.Content == nil && update.Instruct == nil {
		return s.GetItem(ctx, projectID, id)
	}
	now := timestamp()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureItem(ctx, tx, projectID, id); err != nil {
			return err
		}
		if update.Content != nil {
			if _, err := tx.ExecContext(ctx,
				"UPDATE media_items SET content = ?, updated_at = ? WHERE id = ?", *update.Content, now, id,
			); err != nil {
				return fmt.Errorf("update item content: %w", err)
			}
		}
		if update.Instruct != nil {
			if _, err := tx.ExecContext(ctx,
				"UPDATE media_items SET instruct = ?, updated_at = ? WHERE id = ?",
				nullableString(strings.TrimSpace(*update.Instruct)), now, id,
			); err != nil {
				return fmt.Errorf("update item instruct: %w", err)
			}
		}
		return touchProject(ctx, tx, projectID, now)
	})
	if err != nil {
		return nil, err
	}
	return s.GetItem(ctx, projectID, id)
}

// DeleteItem removes an item and closes the gap in positions. The removed
// item is returned so callers can delete its media files.
func (s *Store) DeleteItem(ctx context.Context, projectID, id int64) (*Item, error) {
	removed, err := s.GetItem(ctx, projectID, id)
	if err != nil {
		return nil, err
	}
	now := timestamp()
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureIdle(ctx, tx, projectID, "delete item"); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM media_items WHERE id = ? AND project_id = ?", id, projectID); err != nil {
			return fmt.Errorf("delete item: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE media_items SET position = position - 1, updated_at = ? WHERE project_id = ? AND position > ?",
			now, projectID, removed.Position,
		); err != nil {
			return fmt.Errorf("compact positions: %w", err)
		}
		return touchProject(ctx, tx, projectID, now)
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// MoveItem swaps an item with its neighbour in the requested direction.
// Moving the first item up or the last item down is a no-op.
func (s *Store) MoveItem(ctx context.Context, projectID, id int64, dir Direction) ([]*Item, error) {
	now := timestamp()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureIdle(ctx, tx, projectID, "reorder items"); err != nil {
			return err
		}
		var position int
		err := tx.QueryRowContext(ctx,
			"SELECT position FROM media_items WHERE id = ? AND project_id = ?", id, projectID,
		).Scan(&position)
		if errors.Is(err, sql.ErrNoRows) {
			return itemNotFound(projectID, id)
		}
		if err != nil {
			return fmt.Errorf("read item position: %w", err)
		}

		query := "SELECT id, position FROM media_items WHERE project_id = ? AND position < ? ORDER BY position DESC LIMIT 1"
		if dir == MoveDown {
			query = "SELECT id, position FROM media_items WHERE project_id = ? AND position > ? ORDER BY position ASC LIMIT 1"
		}
		var neighbourID int64
		var neighbourPosition int
		err = tx.QueryRowContext(ctx, query, projectID, position).Scan(&neighbourID, &neighbourPosition)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read neighbour: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE media_items SET position = ?, updated_at = ? WHERE id = ?", neighbourPosition, now, id,
		); err != nil {
			return fmt.Errorf("move item: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE media_items SET position = ?, updated_at = ? WHERE id = ?", position, now, neighbourID,
		); err != nil {
			return fmt.Errorf("move neighbour: %w", err)
		}
		return touchProject(ctx, tx, projectID, now)
	})
	if err != nil {
		return nil, err
	}
	return s.ListItems(ctx, projectID)
}

// SetItemImage records the stored image for an item and returns the previous path.
func (s *Store) SetItemImage(ctx context.Context, projectID, id int64, path string) (string, error) {
	return s.replaceMedia(ctx, projectID, id, "image_path", path, nil)
}

// SetItemAudio records synthesized audio and its duration, returning the previous path.
func (s *Store) SetItemAudio(ctx context.Context, projectID, id int64, path string, duration float64) (string, error) {
	return s.replaceMedia(ctx, projectID, id, "audio_path", path, &duration)
}

func (s *Store) replaceMedia(ctx context.Context, projectID, id int64, column, path string, duration *float64) (string, error) {
	now := timestamp()
	var previous sql.NullString
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureIdle(ctx, tx, projectID, "replace "+strings.TrimSuffix(column, "_path")); err != nil {
			return err
		}
		err := tx.QueryRowContext(ctx,
			"SELECT "+column+" FROM media_items WHERE id = ? AND project_id = ?", id, projectID,
		).Scan(&previous)
		if errors.Is(err, sql.ErrNoRows) {
			return itemNotFound(projectID, id)
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", column, err)
		}
		if duration != nil {
			_, err = tx.ExecContext(ctx,
				"UPDATE media_items SET "+column+" = ?, audio_duration = ?, updated_at = ? WHERE id = ?",
				nullableString(path), *duration, now, id)
		} else {
			_, err = tx.ExecContext(ctx,
				"UPDATE media_items SET "+column+" = ?, updated_at = ? WHERE id = ?",
				nullableString(path), now, id)
		}
		if err != nil {
			return fmt.Errorf("update %s: %w", column, err)
		}
		return touchProject(ctx, tx, projectID, now)
	})
	if err != nil {
		return "", err
	}
	return previous.String, nil
}

func lockedProjectState(ctx context.Context, tx *sql.Tx, projectID int64) (State, error) {
	var state string
	err := tx.QueryRowContext(ctx, "SELECT video_state FROM projects WHERE id = ?", projectID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return "", projectNotFound(projectID)
	}
	if err != nil {
		return "", fmt.Errorf("read project state: %w", err)
	}
	return State(state), nil
}

// ensureIdle refuses media and ordering changes while a run is reading them.
func ensureIdle(ctx context.Context, tx *sql.Tx, projectID int64, action string) error {
	state, err := lockedProjectState(ctx, tx, projectID)
	if err != nil {
		return err
	}
	if state == StateGenerating {
		return conflict(projectID, state, action)
	}
	return nil
}

func ensureItem(ctx context.Context, tx *sql.Tx, projectID, id int64) error {
	var exists int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM media_items WHERE id = ? AND project_id = ?", id, projectID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check item: %w", err)
	}
	if exists == 0 {
		return itemNotFound(projectID, id)
	}
	return nil
}

func touchProject(ctx context.Context, tx *sql.Tx, projectID int64, now string) error {
	if _, err := tx.ExecContext(ctx, "UPDATE projects SET updated_at = ? WHERE id = ?", now, projectID); err != nil {
		return fmt.Errorf("touch project: %w", err)
	}
	return nil
}
