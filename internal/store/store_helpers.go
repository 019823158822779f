package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"narrate/internal/services"
)

const projectColumns = "id, title, video_state, video_progress, video_message, video_error, video_path, video_key, run_id, status_updated_at, created_at, updated_at"

const itemColumns = "id, project_id, position, content, instruct, image_path, audio_path, audio_duration, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(scanner rowScanner) (*Project, error) {
	var (
		project      Project
		state        string
		message      sql.NullString
		errorMessage sql.NullString
		videoPath    sql.NullString
		videoKey     sql.NullString
		runID        sql.NullString
		statusRaw    sql.NullString
		createdRaw   string
		updatedRaw   string
	)
	if err := scanner.Scan(
		&project.ID,
		&project.Title,
		&state,
		&project.Status.Progress,
		&message,
		&errorMessage,
		&videoPath,
		&videoKey,
		&runID,
		&statusRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	project.Status.State = State(state)
	project.Status.Message = message.String
	project.Status.Error = errorMessage.String
	project.Status.RunID = runID.String
	project.VideoPath = videoPath.String
	project.VideoKey = videoKey.String
	if created, err := parseTimeString(createdRaw); err == nil {
		project.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		project.UpdatedAt = updated
	}
	if statusRaw.Valid {
		if ts, err := parseTimeString(statusRaw.String); err == nil {
			project.Status.UpdatedAt = ts
		}
	}
	if project.Status.UpdatedAt.IsZero() {
		project.Status.UpdatedAt = project.UpdatedAt
	}
	return &project, nil
}

func scanItem(scanner rowScanner) (*Item, error) {
	var (
		item       Item
		instruct   sql.NullString
		imagePath  sql.NullString
		audioPath  sql.NullString
		duration   sql.NullFloat64
		createdRaw string
		updatedRaw string
	)
	if err := scanner.Scan(
		&item.ID,
		&item.ProjectID,
		&item.Position,
		&item.Content,
		&instruct,
		&imagePath,
		&audioPath,
		&duration,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	item.Instruct = instruct.String
	item.ImagePath = imagePath.String
	item.AudioPath = audioPath.String
	item.AudioDuration = duration.Float64
	if created, err := parseTimeString(createdRaw); err == nil {
		item.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		item.UpdatedAt = updated
	}
	return &item, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func projectNotFound(id int64) error {
	return services.Wrap(services.ErrNotFound, "store", "project", fmt.Sprintf("project %d does not exist", id), nil)
}

func itemNotFound(projectID, id int64) error {
	return services.Wrap(services.ErrNotFound, "store", "item", fmt.Sprintf("item %d does not exist in project %d", id, projectID), nil)
}
