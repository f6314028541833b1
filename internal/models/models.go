package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Enums
type ProjectStatus string

const (
	ProjectStatusDraft             ProjectStatus = "draft"
	ProjectStatusPendingProcessing ProjectStatus = "pending_processing"
	ProjectStatusDownloadingClips  ProjectStatus = "downloading_clips"
	ProjectStatusAssembling        ProjectStatus = "assembling"
	ProjectStatusReadyForReview    ProjectStatus = "ready_for_review"
	ProjectStatusUploading         ProjectStatus = "uploading"
	ProjectStatusScheduled         ProjectStatus = "scheduled"
	ProjectStatusPublished         ProjectStatus = "published"
	ProjectStatusFailed            ProjectStatus = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectStatusDraft, ProjectStatusPendingProcessing, ProjectStatusDownloadingClips,
		ProjectStatusAssembling, ProjectStatusReadyForReview, ProjectStatusUploading,
		ProjectStatusScheduled, ProjectStatusPublished, ProjectStatusFailed:
		return true
	}
	return false
}

// HasFinalVideo reports whether a project in status s may carry a final video path.
func (s ProjectStatus) HasFinalVideo() bool {
	switch s {
	case ProjectStatusReadyForReview, ProjectStatusUploading, ProjectStatusScheduled, ProjectStatusPublished:
		return true
	}
	return false
}

// CanTransition encodes the lifecycle edges. The runner owns everything up to
// ready_for_review; later edges belong to the publish pipeline and are listed
// so that store-level checks accept them.
func CanTransition(from, to ProjectStatus) bool {
	switch from {
	case ProjectStatusDraft:
		return to == ProjectStatusPendingProcessing
	case ProjectStatusPendingProcessing:
		return to == ProjectStatusDownloadingClips || to == ProjectStatusFailed
	case ProjectStatusDownloadingClips:
		// stale claims are re-claimed into the same status
		return to == ProjectStatusDownloadingClips || to == ProjectStatusAssembling || to == ProjectStatusFailed
	case ProjectStatusAssembling:
		return to == ProjectStatusReadyForReview || to == ProjectStatusFailed
	case ProjectStatusReadyForReview:
		return to == ProjectStatusUploading
	case ProjectStatusUploading:
		return to == ProjectStatusScheduled || to == ProjectStatusPublished || to == ProjectStatusFailed
	case ProjectStatusFailed:
		return to == ProjectStatusPendingProcessing
	default:
		return false
	}
}

func ValidateTransition(from, to ProjectStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// Models

// Project is one long-form video job. Only the fields the runner reads or
// writes are mapped.
type Project struct {
	ID                    uuid.UUID      `json:"id" db:"id"`
	UserID                uuid.UUID      `json:"user_id" db:"user_id"`
	ChannelID             *uuid.UUID     `json:"channel_id,omitempty" db:"channel_id"`
	Topic                 string         `json:"topic" db:"topic"`
	TargetDurationSeconds int            `json:"target_duration_seconds" db:"target_duration_seconds"`
	ReferenceURLs         pq.StringArray `json:"reference_urls" db:"reference_urls"`
	VoiceoverPath         *string        `json:"voiceover_path,omitempty" db:"voiceover_path"`
	FilterID              *string        `json:"filter_id,omitempty" db:"filter_id"`
	BackgroundMusicURL    *string        `json:"background_music_url,omitempty" db:"background_music_url"`
	Status                ProjectStatus  `json:"status" db:"status"`
	ProcessingProgress    int            `json:"processing_progress" db:"processing_progress"`
	ErrorMessage          *string        `json:"error_message,omitempty" db:"error_message"`
	FinalVideoPath        *string        `json:"final_video_path,omitempty" db:"final_video_path"`
	CreatedAt             time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at" db:"updated_at"`
}

// IsDue reports whether the poll loop should pick p up: it is waiting for
// processing, or its claim has not been touched since staleBefore. It is the
// predicate ListDueProjects evaluates in SQL.
func IsDue(p Project, staleBefore time.Time) bool {
	switch p.Status {
	case ProjectStatusPendingProcessing:
		return true
	case ProjectStatusDownloadingClips:
		return p.UpdatedAt.Before(staleBefore)
	}
	return false
}

// FinalVideoPath is the deterministic object path of a project's rendered video.
func FinalVideoPath(userID, projectID uuid.UUID) string {
	return fmt.Sprintf("%s/longform/%s/final.mp4", userID, projectID)
}

// StatusChange describes one persisted status write.
type StatusChange struct {
	ProjectID    uuid.UUID     `json:"project_id"`
	From         ProjectStatus `json:"from"`
	To           ProjectStatus `json:"to"`
	Progress     int           `json:"progress"`
	ErrorMessage *string       `json:"error_message,omitempty"`
	OccurredAt   time.Time     `json:"occurred_at"`
}

// API

type ProjectResponse struct {
	Project
	FinalVideoURL *string `json:"final_video_url,omitempty"`
}

type ListProjectsResponse struct {
	Projects []ProjectResponse `json:"projects"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

type HealthResponse struct {
	Status            string     `json:"status"`
	LastTickAt        *time.Time `json:"last_tick_at,omitempty"`
	TicksRun          int64      `json:"ticks_run"`
	TicksSkipped      int64      `json:"ticks_skipped"`
	ProjectsProcessed int64      `json:"projects_processed"`
	ProjectsFailed    int64      `json:"projects_failed"`
	PublishQueueDepth *int64     `json:"publish_queue_depth,omitempty"`
}
