package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bobarin/longform/internal/models"
	"github.com/bobarin/longform/internal/services"
	"github.com/rs/zerolog"
)

// Progress checkpoints persisted along the pipeline.
const (
	progressClaimed        = 5
	progressRefsStart      = 10
	progressRefsSpan       = 20
	progressAssembling     = 35
	progressClipsSpan      = 35
	progressMixing         = 80
	progressUploading      = 90
	progressReadyForReview = 100
)

// run carries one project through the pipeline.
type run struct {
	w        *Worker
	project  models.Project
	dir      string
	status   models.ProjectStatus
	progress int
	log      zerolog.Logger
}

// Process runs the full pipeline for one claimed project. Any error marks the
// project failed with the error text; the work dir is always removed.
func (w *Worker) Process(ctx context.Context, p models.Project) error {
	r := &run{
		w:        w,
		project:  p,
		dir:      w.runner.WorkDir(p.ID),
		status:   p.Status,
		progress: p.ProcessingProgress,
		log:      w.logger.With().Str("project_id", p.ID.String()).Logger(),
	}
	defer services.Cleanup(r.dir)

	r.log.Info().Str("topic", p.Topic).Int("references", len(p.ReferenceURLs)).Msg("processing project")

	finalPath, err := r.execute(ctx)
	if err != nil {
		r.fail(ctx, err)
		return err
	}

	r.log.Info().Str("final_video_path", finalPath).Msg("project ready for review")

	if w.handOff != nil {
		if err := w.handOff.EnqueuePublish(ctx, p.ID, p.UserID, p.ChannelID, finalPath); err != nil {
			r.log.Warn().Err(err).Msg("failed to enqueue publish hand-off")
		}
	}
	return nil
}

func (r *run) execute(ctx context.Context) (string, error) {
	if err := r.stage(ctx, models.ProjectStatusDownloadingClips, progressClaimed); err != nil {
		return "", err
	}

	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create work dir: %w", err)
	}

	voiceover, voDur, err := r.downloadVoiceover(ctx)
	if err != nil {
		return "", err
	}

	if len(r.project.ReferenceURLs) == 0 {
		return "", fmt.Errorf("%w: project has no reference videos", models.ErrInvalidInput)
	}

	filter := r.resolveFilter()

	sources, err := r.downloadReferences(ctx)
	if err != nil {
		return "", err
	}

	if err := r.stage(ctx, models.ProjectStatusAssembling, progressAssembling); err != nil {
		return "", err
	}

	clips, err := r.renderClips(ctx, voDur, sources, filter)
	if err != nil {
		return "", err
	}

	assembled := filepath.Join(r.dir, "assembled.mp4")
	if err := r.w.media.Concat(ctx, clips, assembled); err != nil {
		return "", err
	}

	videoDur := r.w.media.Duration(ctx, assembled)
	if videoDur <= 0 {
		videoDur = voDur
	}
	r.log.Info().Int("clips", len(clips)).Float64("duration", videoDur).Msg("clips assembled")

	music := r.prepareMusic(ctx, videoDur)

	r.setProgress(ctx, progressMixing)
	final := filepath.Join(r.dir, "final.mp4")
	if err := r.w.media.Mix(ctx, services.MixRequest{
		Video:     assembled,
		Voiceover: voiceover,
		Music:     music,
		Output:    final,
	}); err != nil {
		return "", err
	}

	r.setProgress(ctx, progressUploading)
	remote, err := r.w.blobs.Upload(ctx, models.FinalVideoPath(r.project.UserID, r.project.ID), final)
	if err != nil {
		return "", err
	}

	if err := r.complete(ctx, remote); err != nil {
		return "", err
	}
	return remote, nil
}

func (r *run) downloadVoiceover(ctx context.Context) (string, float64, error) {
	remote := ""
	if r.project.VoiceoverPath != nil {
		remote = strings.TrimSpace(*r.project.VoiceoverPath)
	}
	if remote == "" {
		return "", 0, fmt.Errorf("%w: no voiceover path set", models.ErrVoiceoverMissing)
	}

	ext := filepath.Ext(remote)
	if ext == "" {
		ext = ".mp3"
	}
	local := filepath.Join(r.dir, "voiceover"+ext)

	if err := r.w.blobs.Download(ctx, strings.TrimPrefix(remote, "/"), local); err != nil {
		return "", 0, fmt.Errorf("%w: %v", models.ErrVoiceoverMissing, err)
	}

	dur := r.w.media.Duration(ctx, local)
	if dur <= 1 {
		return "", 0, fmt.Errorf("%w: voiceover duration %.2fs must exceed 1s", models.ErrInvalidInput, dur)
	}

	r.log.Info().Float64("duration", dur).Msg("voiceover downloaded")
	return local, dur, nil
}

func (r *run) resolveFilter() services.Transform {
	id := ""
	if r.project.FilterID != nil {
		id = *r.project.FilterID
	}
	if id != "" && !services.KnownFilter(id) {
		r.log.Warn().Str("filter_id", id).Msg("unknown filter, rendering without one")
	}
	return services.LookupFilter(id)
}

// downloadReferences fetches every reference independently. Failures are
// logged and skipped; only a run with zero usable sources fails.
func (r *run) downloadReferences(ctx context.Context) ([]string, error) {
	refs := r.project.ReferenceURLs
	sources := make([]string, 0, len(refs))

	for i, location := range refs {
		local := filepath.Join(r.dir, fmt.Sprintf("ref_%d.mp4", i))
		if err := r.w.fetcher.Fetch(ctx, location, local); err != nil {
			r.log.Warn().Err(err).Int("index", i).Str("url", location).Msg("reference download failed, skipping")
		} else {
			sources = append(sources, local)
		}
		r.setProgress(ctx, progressRefsStart+progressRefsSpan*(i+1)/len(refs))
	}

	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: 0 of %d succeeded", models.ErrNoSourcesDownloaded, len(refs))
	}
	if len(sources) < len(refs) {
		r.log.Warn().
			Int("downloaded", len(sources)).
			Int("requested", len(refs)).
			Msg("continuing with a subset of reference videos")
	}
	return sources, nil
}

func (r *run) renderClips(ctx context.Context, voDur float64, sources []string, filter services.Transform) ([]string, error) {
	plan, err := services.PlanClips(voDur, r.w.runner.MaxClipSeconds, len(sources))
	if err != nil {
		return nil, err
	}

	r.log.Info().
		Int("clips", len(plan)).
		Int("sources", len(sources)).
		Float64("planned_seconds", services.TotalLength(plan)).
		Float64("voiceover_seconds", voDur).
		Msg("clip plan ready")

	clips := make([]string, 0, len(plan))
	for k, c := range plan {
		out := filepath.Join(r.dir, fmt.Sprintf("clip_%03d.mp4", c.Index))
		if err := r.w.media.ExtractClip(ctx, services.ClipRequest{
			Source: sources[c.SourceIndex],
			Output: out,
			Length: c.Length,
			Filter: filter,
		}); err != nil {
			return nil, fmt.Errorf("clip %d: %w", c.Index, err)
		}
		clips = append(clips, out)
		r.setProgress(ctx, progressAssembling+progressClipsSpan*(k+1)/len(plan))
	}
	return clips, nil
}

// prepareMusic returns a fitted music bed, or "" when the project has none or
// any step fails. Music problems never fail the run.
func (r *run) prepareMusic(ctx context.Context, target float64) string {
	if r.project.BackgroundMusicURL == nil || strings.TrimSpace(*r.project.BackgroundMusicURL) == "" {
		return ""
	}
	location := strings.TrimSpace(*r.project.BackgroundMusicURL)

	ext := filepath.Ext(location)
	if ext == "" || len(ext) > 5 || strings.ContainsAny(ext, "?&=") {
		ext = ".mp3"
	}
	raw := filepath.Join(r.dir, "music_src"+ext)
	if err := r.w.fetcher.Fetch(ctx, location, raw); err != nil {
		r.log.Warn().Err(err).Msg("background music download failed, using video without music")
		return ""
	}

	fitted := filepath.Join(r.dir, "music_fit.m4a")
	if err := r.w.media.FitAudio(ctx, raw, target, fitted); err != nil {
		r.log.Warn().Err(err).Msg("background music fit failed, using video without music")
		return ""
	}
	return fitted
}

// stage persists a status change with progress and clears any previous error.
func (r *run) stage(ctx context.Context, to models.ProjectStatus, progress int) error {
	if err := models.ValidateTransition(r.status, to); err != nil {
		return err
	}
	if err := r.w.store.SetStage(ctx, r.project.ID, to, progress); err != nil {
		return fmt.Errorf("failed to set status %s: %w", to, err)
	}

	r.emit(ctx, to, progress, nil)
	r.status = to
	r.progress = progress
	return nil
}

// setProgress persists progress if it moves forward. Failures are only logged.
func (r *run) setProgress(ctx context.Context, progress int) {
	if progress <= r.progress {
		return
	}
	if err := r.w.store.SetProgress(ctx, r.project.ID, progress); err != nil {
		r.log.Warn().Err(err).Int("progress", progress).Msg("failed to update progress")
		return
	}
	r.progress = progress
}

func (r *run) complete(ctx context.Context, finalPath string) error {
	if err := models.ValidateTransition(r.status, models.ProjectStatusReadyForReview); err != nil {
		return err
	}
	if err := r.w.store.CompleteProject(ctx, r.project.ID, finalPath); err != nil {
		return fmt.Errorf("failed to mark project ready: %w", err)
	}

	r.emit(ctx, models.ProjectStatusReadyForReview, progressReadyForReview, nil)
	r.status = models.ProjectStatusReadyForReview
	r.progress = progressReadyForReview
	return nil
}

func (r *run) fail(ctx context.Context, cause error) {
	msg := cause.Error()
	r.log.Error().Err(cause).Str("status", string(r.status)).Msg("project failed")

	if err := r.w.store.FailProject(ctx, r.project.ID, msg); err != nil {
		r.log.Error().Err(err).Msg("failed to record project failure")
		return
	}
	r.emit(ctx, models.ProjectStatusFailed, r.progress, &msg)
	r.status = models.ProjectStatusFailed
}

func (r *run) emit(ctx context.Context, to models.ProjectStatus, progress int, errMsg *string) {
	if r.w.emitter == nil {
		return
	}
	change := models.StatusChange{
		ProjectID:    r.project.ID,
		From:         r.status,
		To:           to,
		Progress:     progress,
		ErrorMessage: errMsg,
		OccurredAt:   r.w.now().UTC(),
	}
	if err := r.w.emitter.Emit(ctx, change); err != nil {
		r.log.Warn().Err(err).Str("to", string(to)).Msg("failed to emit status event")
	}
}
