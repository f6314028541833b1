package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bobarin/longform/internal/models"
	"github.com/bobarin/longform/internal/services"
	"github.com/google/uuid"
)

type statusWrite struct {
	Status   models.ProjectStatus
	Progress int
}

type fakeStore struct {
	mu sync.Mutex

	due      []models.Project
	listErr  error
	listGate chan struct{} // when set, ListDueProjects blocks until closed

	calls       []string
	staleBefore time.Time
	claimed     []uuid.UUID
	stages      []statusWrite
	progress    []int
	failedMsg   string
	finalPath   string
}

func (s *fakeStore) record(call string) {
	s.calls = append(s.calls, call)
}

func (s *fakeStore) ListDueProjects(ctx context.Context, userID uuid.UUID, staleBefore time.Time) ([]models.Project, error) {
	if s.listGate != nil {
		<-s.listGate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("list")
	s.staleBefore = staleBefore
	if s.listErr != nil {
		return nil, s.listErr
	}
	due := make([]models.Project, 0, len(s.due))
	for _, p := range s.due {
		if models.IsDue(p, staleBefore) {
			due = append(due, p)
		}
	}
	return due, nil
}

func (s *fakeStore) MarkClaimed(ctx context.Context, ids []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("claim")
	s.claimed = append(s.claimed, ids...)
	return nil
}

func (s *fakeStore) SetStage(ctx context.Context, id uuid.UUID, status models.ProjectStatus, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("stage:" + id.String() + ":" + string(status))
	s.stages = append(s.stages, statusWrite{status, progress})
	s.progress = append(s.progress, progress)
	return nil
}

func (s *fakeStore) SetProgress(ctx context.Context, id uuid.UUID, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = append(s.progress, progress)
	return nil
}

func (s *fakeStore) FailProject(ctx context.Context, id uuid.UUID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("fail")
	s.stages = append(s.stages, statusWrite{Status: models.ProjectStatusFailed})
	s.failedMsg = message
	return nil
}

func (s *fakeStore) CompleteProject(ctx context.Context, id uuid.UUID, finalVideoPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("complete")
	s.stages = append(s.stages, statusWrite{models.ProjectStatusReadyForReview, 100})
	s.progress = append(s.progress, 100)
	s.finalPath = finalVideoPath
	return nil
}

func (s *fakeStore) statuses() []models.ProjectStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ProjectStatus, len(s.stages))
	for i, st := range s.stages {
		out[i] = st.Status
	}
	return out
}

type fakeBlobs struct {
	mu          sync.Mutex
	downloadErr error
	uploadErr   error
	uploaded    []string
}

func (b *fakeBlobs) Download(ctx context.Context, remotePath, localPath string) error {
	if b.downloadErr != nil {
		return b.downloadErr
	}
	return os.WriteFile(localPath, []byte("blob:"+remotePath), 0644)
}

func (b *fakeBlobs) Upload(ctx context.Context, remotePath, localPath string) (string, error) {
	if b.uploadErr != nil {
		return "", b.uploadErr
	}
	if _, err := os.Stat(localPath); err != nil {
		return "", err
	}
	b.mu.Lock()
	b.uploaded = append(b.uploaded, remotePath)
	b.mu.Unlock()
	return remotePath, nil
}

type fakeFetcher struct {
	failing map[string]bool
	fetched []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, location, localPath string) error {
	f.fetched = append(f.fetched, location)
	if f.failing[location] {
		return errors.New("HTTP 403 for " + location)
	}
	return os.WriteFile(localPath, []byte(location), 0644)
}

type fakeMedia struct {
	voiceoverDur float64
	assembledDur float64

	extractErr error
	concatErr  error
	fitErr     error
	mixErr     error

	extracted []services.ClipRequest
	concat    []string
	fitTarget float64
	mixed     *services.MixRequest
	workDirs  map[string]bool
}

func (m *fakeMedia) Duration(ctx context.Context, path string) float64 {
	base := filepath.Base(path)
	switch {
	case strings.HasPrefix(base, "voiceover"):
		return m.voiceoverDur
	case base == "assembled.mp4":
		return m.assembledDur
	default:
		return 60
	}
}

func (m *fakeMedia) ExtractClip(ctx context.Context, req services.ClipRequest) error {
	if m.workDirs == nil {
		m.workDirs = make(map[string]bool)
	}
	m.workDirs[filepath.Dir(req.Output)] = true
	if m.extractErr != nil {
		return m.extractErr
	}
	m.extracted = append(m.extracted, req)
	return os.WriteFile(req.Output, []byte("clip"), 0644)
}

func (m *fakeMedia) Concat(ctx context.Context, clipPaths []string, outputPath string) error {
	if m.concatErr != nil {
		return m.concatErr
	}
	m.concat = clipPaths
	return os.WriteFile(outputPath, []byte("assembled"), 0644)
}

func (m *fakeMedia) FitAudio(ctx context.Context, musicPath string, target float64, outputPath string) error {
	m.fitTarget = target
	if m.fitErr != nil {
		return m.fitErr
	}
	return os.WriteFile(outputPath, []byte("music"), 0644)
}

func (m *fakeMedia) Mix(ctx context.Context, req services.MixRequest) error {
	m.mixed = &req
	if m.mixErr != nil {
		return m.mixErr
	}
	return os.WriteFile(req.Output, []byte("final"), 0644)
}

type fakeLocker struct {
	held     map[uuid.UUID]bool
	released []uuid.UUID
}

func (l *fakeLocker) AcquireClaim(ctx context.Context, projectID uuid.UUID, ttl time.Duration) (string, error) {
	if l.held[projectID] {
		return "", nil
	}
	return "token-" + projectID.String(), nil
}

func (l *fakeLocker) ReleaseClaim(ctx context.Context, projectID uuid.UUID, token string) error {
	l.released = append(l.released, projectID)
	return nil
}

type publishCall struct {
	ProjectID uuid.UUID
	FinalPath string
}

type fakeHandOff struct {
	calls []publishCall
}

func (h *fakeHandOff) EnqueuePublish(ctx context.Context, projectID, userID uuid.UUID, channelID *uuid.UUID, finalVideoPath string) error {
	h.calls = append(h.calls, publishCall{projectID, finalVideoPath})
	return nil
}

type fakeEmitter struct {
	mu      sync.Mutex
	changes []models.StatusChange
}

func (e *fakeEmitter) Emit(ctx context.Context, change models.StatusChange) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.changes = append(e.changes, change)
	return nil
}
