package models

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestProjectStatus(t *testing.T) {
	statuses := []ProjectStatus{
		ProjectStatusDraft,
		ProjectStatusPendingProcessing,
		ProjectStatusDownloadingClips,
		ProjectStatusAssembling,
		ProjectStatusReadyForReview,
		ProjectStatusUploading,
		ProjectStatusScheduled,
		ProjectStatusPublished,
		ProjectStatusFailed,
	}

	for _, status := range statuses {
		if status == "" {
			t.Error("status should not be empty")
		}
		if !status.Valid() {
			t.Errorf("expected %s to be valid", status)
		}
	}

	if ProjectStatus("rendering").Valid() {
		t.Error("unknown status should not be valid")
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to ProjectStatus
		want     bool
	}{
		{ProjectStatusPendingProcessing, ProjectStatusDownloadingClips, true},
		{ProjectStatusDownloadingClips, ProjectStatusDownloadingClips, true},
		{ProjectStatusDownloadingClips, ProjectStatusAssembling, true},
		{ProjectStatusDownloadingClips, ProjectStatusFailed, true},
		{ProjectStatusAssembling, ProjectStatusReadyForReview, true},
		{ProjectStatusAssembling, ProjectStatusFailed, true},
		{ProjectStatusFailed, ProjectStatusPendingProcessing, true},
		{ProjectStatusReadyForReview, ProjectStatusUploading, true},
		{ProjectStatusUploading, ProjectStatusPublished, true},

		{ProjectStatusPendingProcessing, ProjectStatusAssembling, false},
		{ProjectStatusAssembling, ProjectStatusDownloadingClips, false},
		{ProjectStatusReadyForReview, ProjectStatusAssembling, false},
		{ProjectStatusPublished, ProjectStatusFailed, false},
		{ProjectStatusFailed, ProjectStatusReadyForReview, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestValidateTransition(t *testing.T) {
	if err := ValidateTransition(ProjectStatusAssembling, ProjectStatusReadyForReview); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := ValidateTransition(ProjectStatusReadyForReview, ProjectStatusDownloadingClips)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestHasFinalVideo(t *testing.T) {
	if ProjectStatusAssembling.HasFinalVideo() {
		t.Error("assembling projects have no final video yet")
	}
	if !ProjectStatusReadyForReview.HasFinalVideo() {
		t.Error("ready_for_review projects carry a final video")
	}
}

func TestIsDue(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	stale := 5 * time.Minute

	tests := []struct {
		name    string
		status  ProjectStatus
		updated time.Time
		want    bool
	}{
		{"pending", ProjectStatusPendingProcessing, now, true},
		{"fresh claim", ProjectStatusDownloadingClips, now.Add(-4 * time.Minute), false},
		{"stale claim", ProjectStatusDownloadingClips, now.Add(-6 * time.Minute), true},
		{"assembling is never re-claimed", ProjectStatusAssembling, now.Add(-time.Hour), false},
		{"draft", ProjectStatusDraft, now.Add(-time.Hour), false},
	}

	for _, tt := range tests {
		p := Project{Status: tt.status, UpdatedAt: tt.updated}
		if got := IsDue(p, now.Add(-stale)); got != tt.want {
			t.Errorf("%s: IsDue = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestFinalVideoPath(t *testing.T) {
	userID := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	projectID := uuid.MustParse("22222222-2222-2222-2222-222222222222")

	got := FinalVideoPath(userID, projectID)
	want := "11111111-1111-1111-1111-111111111111/longform/22222222-2222-2222-2222-222222222222/final.mp4"
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}

	if FinalVideoPath(userID, projectID) != got {
		t.Error("path should be deterministic")
	}
}
