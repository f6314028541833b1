package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bobarin/longform/internal/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/samber/lo"
)

const projectColumns = `
	id, user_id, channel_id, topic, target_duration_seconds, reference_urls,
	voiceover_path, filter_id, background_music_url, status, processing_progress,
	error_message, final_video_path, created_at, updated_at
`

// ListDueProjects returns projects waiting for processing plus claims that
// have not been touched since staleBefore, oldest first. A uuid.Nil userID lists
// every user's projects.
func (db *DB) ListDueProjects(ctx context.Context, userID uuid.UUID, staleBefore time.Time) ([]models.Project, error) {
	query := `
		SELECT` + projectColumns + `
		FROM longform_projects
		WHERE (status = $1 OR (status = $2 AND updated_at < $3))
		  AND ($4::uuid IS NULL OR user_id = $4)
		ORDER BY updated_at ASC
	`

	var scope *uuid.UUID
	if userID != uuid.Nil {
		scope = &userID
	}

	var projects []models.Project
	err := db.SelectContext(ctx, &projects, query,
		models.ProjectStatusPendingProcessing,
		models.ProjectStatusDownloadingClips,
		staleBefore,
		scope,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list due projects: %w", err)
	}

	return projects, nil
}

// MarkClaimed sets progress to 1 on every id so the UI shows the batch as
// picked up before the first one starts.
func (db *DB) MarkClaimed(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	query := `
		UPDATE longform_projects
		SET processing_progress = 1, updated_at = NOW()
		WHERE id = ANY($1::uuid[])
	`

	strIDs := lo.Map(ids, func(id uuid.UUID, _ int) string { return id.String() })
	if _, err := db.ExecContext(ctx, query, pq.StringArray(strIDs)); err != nil {
		return fmt.Errorf("failed to mark projects claimed: %w", err)
	}
	return nil
}

// SetStage moves a project into status with progress and clears any error.
func (db *DB) SetStage(ctx context.Context, id uuid.UUID, status models.ProjectStatus, progress int) error {
	query := `
		UPDATE longform_projects
		SET status = $2, processing_progress = $3, error_message = NULL, updated_at = NOW()
		WHERE id = $1
	`

	return db.execOne(ctx, "set stage", query, id, status, progress)
}

func (db *DB) SetProgress(ctx context.Context, id uuid.UUID, progress int) error {
	query := `
		UPDATE longform_projects
		SET processing_progress = $2, updated_at = NOW()
		WHERE id = $1
	`

	return db.execOne(ctx, "set progress", query, id, progress)
}

// FailProject records a terminal failure. Progress is left where it stopped.
func (db *DB) FailProject(ctx context.Context, id uuid.UUID, message string) error {
	query := `
		UPDATE longform_projects
		SET status = $2, error_message = $3, updated_at = NOW()
		WHERE id = $1
	`

	return db.execOne(ctx, "fail project", query, id, models.ProjectStatusFailed, message)
}

// CompleteProject hands the project to review in a single write so the final
// path never appears without the status.
func (db *DB) CompleteProject(ctx context.Context, id uuid.UUID, finalVideoPath string) error {
	query := `
		UPDATE longform_projects
		SET status = $2, final_video_path = $3, processing_progress = 100,
		    error_message = NULL, updated_at = NOW()
		WHERE id = $1
	`

	return db.execOne(ctx, "complete project", query, id, models.ProjectStatusReadyForReview, finalVideoPath)
}

func (db *DB) GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	query := `SELECT` + projectColumns + `FROM longform_projects WHERE id = $1`

	project := &models.Project{}
	err := db.GetContext(ctx, project, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	return project, nil
}

// ListProjects returns projects ordered by last update (newest first).
// Supports optional status filter, limit, and offset for pagination.
func (db *DB) ListProjects(ctx context.Context, status string, limit, offset int) ([]models.Project, error) {
	query := `
		SELECT` + projectColumns + `
		FROM longform_projects
		WHERE ($1 = '' OR status::text = $1)
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3
	`

	projects := []models.Project{}
	if err := db.SelectContext(ctx, &projects, query, status, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}

	return projects, nil
}

// ResetProject returns a failed project to the queue.
func (db *DB) ResetProject(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	query := `
		UPDATE longform_projects
		SET status = $2, processing_progress = 0, error_message = NULL,
		    final_video_path = NULL, updated_at = NOW()
		WHERE id = $1 AND status = $3
		RETURNING` + projectColumns

	project := &models.Project{}
	err := db.GetContext(ctx, project, query, id, models.ProjectStatusPendingProcessing, models.ProjectStatusFailed)
	if errors.Is(err, sql.ErrNoRows) {
		current, getErr := db.GetProject(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, current.Status, models.ProjectStatusPendingProcessing)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to reset project: %w", err)
	}

	return project, nil
}

func (db *DB) execOne(ctx context.Context, op string, query string, args ...interface{}) error {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.ErrNotFound
	}
	return nil
}
