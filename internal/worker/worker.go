package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bobarin/longform/internal/bootstrap"
	"github.com/bobarin/longform/internal/models"
	"github.com/bobarin/longform/internal/services"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/semaphore"
)

// ProjectStore persists the pipeline-owned project fields.
type ProjectStore interface {
	ListDueProjects(ctx context.Context, userID uuid.UUID, staleBefore time.Time) ([]models.Project, error)
	MarkClaimed(ctx context.Context, ids []uuid.UUID) error
	SetStage(ctx context.Context, id uuid.UUID, status models.ProjectStatus, progress int) error
	SetProgress(ctx context.Context, id uuid.UUID, progress int) error
	FailProject(ctx context.Context, id uuid.UUID, message string) error
	CompleteProject(ctx context.Context, id uuid.UUID, finalVideoPath string) error
}

// Blobs moves files to and from the object store.
type Blobs interface {
	Download(ctx context.Context, remotePath, localPath string) error
	Upload(ctx context.Context, remotePath, localPath string) (string, error)
}

// Fetcher downloads a reference or music location to a local file.
type Fetcher interface {
	Fetch(ctx context.Context, location, localPath string) error
}

// Media is the rendering toolchain.
type Media interface {
	Duration(ctx context.Context, path string) float64
	ExtractClip(ctx context.Context, req services.ClipRequest) error
	Concat(ctx context.Context, clipPaths []string, outputPath string) error
	FitAudio(ctx context.Context, musicPath string, target float64, outputPath string) error
	Mix(ctx context.Context, req services.MixRequest) error
}

// Locker guards a project against concurrent runners.
type Locker interface {
	AcquireClaim(ctx context.Context, projectID uuid.UUID, ttl time.Duration) (string, error)
	ReleaseClaim(ctx context.Context, projectID uuid.UUID, token string) error
}

// HandOff receives projects that reached ready_for_review.
type HandOff interface {
	EnqueuePublish(ctx context.Context, projectID, userID uuid.UUID, channelID *uuid.UUID, finalVideoPath string) error
}

// Emitter publishes status changes.
type Emitter interface {
	Emit(ctx context.Context, change models.StatusChange) error
}

type Options struct {
	Store   ProjectStore
	Blobs   Blobs
	Fetcher Fetcher
	Media   Media
	Locker  Locker  // optional
	HandOff HandOff // optional
	Emitter Emitter // optional

	Runner       bootstrap.RunnerContext
	PollInterval time.Duration
	StaleAfter   time.Duration
	ClaimTTL     time.Duration
	Logger       zerolog.Logger
	Now          func() time.Time
}

// Stats is a snapshot of poll loop counters.
type Stats struct {
	LastTickAt        time.Time
	TicksRun          int64
	TicksSkipped      int64
	ProjectsProcessed int64
	ProjectsFailed    int64
}

type Worker struct {
	store   ProjectStore
	blobs   Blobs
	fetcher Fetcher
	media   Media
	locker  Locker
	handOff HandOff
	emitter Emitter

	runner       bootstrap.RunnerContext
	pollInterval time.Duration
	staleAfter   time.Duration
	claimTTL     time.Duration
	logger       zerolog.Logger
	now          func() time.Time

	// guard admits one tick at a time; a tick that cannot acquire it is dropped
	guard    *semaphore.Weighted
	inflight sync.WaitGroup

	lastTick     atomic.Int64
	ticksRun     atomic.Int64
	ticksSkipped atomic.Int64
	processed    atomic.Int64
	failed       atomic.Int64
}

func New(opts Options) *Worker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 30 * time.Second
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 5 * time.Minute
	}
	if opts.ClaimTTL <= 0 {
		opts.ClaimTTL = 2 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Worker{
		store:        opts.Store,
		blobs:        opts.Blobs,
		fetcher:      opts.Fetcher,
		media:        opts.Media,
		locker:       opts.Locker,
		handOff:      opts.HandOff,
		emitter:      opts.Emitter,
		runner:       opts.Runner,
		pollInterval: opts.PollInterval,
		staleAfter:   opts.StaleAfter,
		claimTTL:     opts.ClaimTTL,
		logger:       opts.Logger.With().Str("component", "worker").Logger(),
		now:          opts.Now,
		guard:        semaphore.NewWeighted(1),
	}
}

// Start ticks immediately and then every poll interval until ctx is done.
// On shutdown it stops launching ticks and waits for the one in flight.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info().
		Dur("interval", w.pollInterval).
		Str("user_id", w.runner.UserID.String()).
		Msg("worker started")

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.launch(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("worker shutting down, waiting for in-flight tick")
			w.inflight.Wait()
			return nil
		case <-ticker.C:
			w.launch(ctx)
		}
	}
}

func (w *Worker) launch(ctx context.Context) {
	w.inflight.Add(1)
	go func() {
		defer w.inflight.Done()
		w.Tick(ctx)
	}()
}

// Tick runs one poll cycle. It returns false without doing anything when the
// previous cycle is still running.
func (w *Worker) Tick(ctx context.Context) bool {
	if !w.guard.TryAcquire(1) {
		w.ticksSkipped.Add(1)
		w.logger.Debug().Msg("previous tick still running, skipping")
		return false
	}
	defer w.guard.Release(1)

	w.ticksRun.Add(1)
	w.lastTick.Store(w.now().UnixNano())

	projects, err := w.store.ListDueProjects(ctx, w.runner.UserID, w.now().Add(-w.staleAfter))
	if err != nil {
		w.logger.Error().Err(err).Msg("failed to list due projects")
		return true
	}
	if len(projects) == 0 {
		return true
	}

	w.logger.Info().Int("count", len(projects)).Msg("found projects to process")

	ids := lo.Map(projects, func(p models.Project, _ int) uuid.UUID { return p.ID })
	if err := w.store.MarkClaimed(ctx, ids); err != nil {
		w.logger.Warn().Err(err).Msg("failed to mark projects claimed")
	}

	for _, p := range projects {
		if ctx.Err() != nil {
			w.logger.Info().Str("project_id", p.ID.String()).Msg("shutdown requested, leaving project for next run")
			break
		}
		w.runProject(ctx, p)
	}
	return true
}

func (w *Worker) runProject(ctx context.Context, p models.Project) {
	log := w.logger.With().Str("project_id", p.ID.String()).Logger()

	if w.locker != nil {
		token, err := w.locker.AcquireClaim(ctx, p.ID, w.claimTTL)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("claim lock unavailable, processing without it")
		case token == "":
			log.Info().Msg("project claimed by another runner, skipping")
			return
		default:
			defer func() {
				if err := w.locker.ReleaseClaim(context.WithoutCancel(ctx), p.ID, token); err != nil {
					log.Warn().Err(err).Msg("failed to release claim lock")
				}
			}()
		}
	}

	// a started run finishes even if the runner is shutting down
	if err := w.Process(context.WithoutCancel(ctx), p); err != nil {
		w.failed.Add(1)
		return
	}
	w.processed.Add(1)
}

func (w *Worker) Stats() Stats {
	s := Stats{
		TicksRun:          w.ticksRun.Load(),
		TicksSkipped:      w.ticksSkipped.Load(),
		ProjectsProcessed: w.processed.Load(),
		ProjectsFailed:    w.failed.Load(),
	}
	if ns := w.lastTick.Load(); ns != 0 {
		s.LastTickAt = time.Unix(0, ns)
	}
	return s
}
