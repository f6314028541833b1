package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bobarin/longform/internal/models"
	"github.com/rs/zerolog"
)

// Output is 1080p landscape at 30fps
const (
	outputWidth  = 1920
	outputHeight = 1080
	videoFPS     = 30

	// Sources must be longer than this to yield a clip.
	minSourceSeconds = 2.0
	// Keeps the random start away from the last frames of a source.
	tailMarginSeconds = 0.5

	musicVolume = 0.18
)

// ---------------------------------------------------------------------------
// FFmpegService
// ---------------------------------------------------------------------------

type FFmpegOptions struct {
	FFmpegPath  string
	FFprobePath string
	Logger      zerolog.Logger
	// RandFloat returns a value in [0,1). Defaults to math/rand.
	RandFloat func() float64
}

type FFmpegService struct {
	ffmpegPath  string
	ffprobePath string
	logger      zerolog.Logger
	randFloat   func() float64
}

func NewFFmpegService(opts FFmpegOptions) *FFmpegService {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.FFprobePath == "" {
		opts.FFprobePath = "ffprobe"
	}
	if opts.RandFloat == nil {
		opts.RandFloat = rand.Float64
	}

	return &FFmpegService{
		ffmpegPath:  opts.FFmpegPath,
		ffprobePath: opts.FFprobePath,
		logger:      opts.Logger.With().Str("component", "ffmpeg").Logger(),
		randFloat:   opts.RandFloat,
	}
}

// Duration returns the container duration of a media file in seconds.
// Unreadable files and files without duration metadata report 0.
func (s *FFmpegService) Duration(ctx context.Context, path string) float64 {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}

	cmd := exec.CommandContext(ctx, s.ffprobePath, args...)
	output, err := cmd.Output()
	if err != nil {
		s.logger.Debug().Err(err).Str("path", path).Msg("ffprobe failed")
		return 0
	}

	return parseDuration(string(output))
}

// parseDuration reads ffprobe's bare duration output. "N/A" and garbage map to 0.
func parseDuration(out string) float64 {
	d, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil || math.IsNaN(d) || math.IsInf(d, 0) || d < 0 {
		return 0
	}
	return d
}

// ClipRequest describes one sub-clip to cut from a reference video.
type ClipRequest struct {
	Source string
	Output string
	Length float64
	Filter Transform
}

// ExtractClip cuts req.Length seconds from a random offset of req.Source and
// renders it letterboxed to 1920x1080 at 30fps with the filter applied and no
// audio track.
func (s *FFmpegService) ExtractClip(ctx context.Context, req ClipRequest) error {
	srcDur := s.Duration(ctx, req.Source)
	if srcDur <= minSourceSeconds {
		return fmt.Errorf("%w: %s is %.2fs", models.ErrSourceTooShort, filepath.Base(req.Source), srcDur)
	}

	start := clipStart(srcDur, req.Length, s.randFloat())

	s.logger.Debug().
		Str("source", filepath.Base(req.Source)).
		Float64("start", start).
		Float64("length", req.Length).
		Str("filter", string(req.Filter)).
		Msg("extracting clip")

	if err := s.run(ctx, extractArgs(req, start)); err != nil {
		return fmt.Errorf("%w: %v", models.ErrRenderFailed, err)
	}
	if !nonEmptyFile(req.Output) {
		return fmt.Errorf("%w: no output at %s", models.ErrRenderFailed, req.Output)
	}
	return nil
}

// clipStart maps u in [0,1) onto [0, max(0, srcDur-length-margin)].
func clipStart(srcDur, length, u float64) float64 {
	maxStart := math.Max(0, srcDur-length-tailMarginSeconds)
	if maxStart <= 0 {
		return 0
	}
	return u * maxStart
}

// buildVideoFilter scales to fit 1920x1080, pads the remainder black, applies
// the transform and forces the output frame rate.
func buildVideoFilter(t Transform) string {
	parts := []string{
		fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", outputWidth, outputHeight),
		fmt.Sprintf("pad=%d:%d:(ow-iw)/2:(oh-ih)/2:color=black", outputWidth, outputHeight),
		"setsar=1",
	}
	if !t.IsNoop() {
		parts = append(parts, string(t))
	}
	parts = append(parts, fmt.Sprintf("fps=%d", videoFPS))
	return strings.Join(parts, ",")
}

func extractArgs(req ClipRequest, start float64) []string {
	return []string{
		"-ss", formatSeconds(start),
		"-i", req.Source,
		"-t", formatSeconds(req.Length),
		"-vf", buildVideoFilter(req.Filter),
		"-an",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "20",
		"-pix_fmt", "yuv420p",
		"-r", strconv.Itoa(videoFPS),
		"-y",
		req.Output,
	}
}

// Concat joins clips losslessly with the concat demuxer. All inputs must share
// codec parameters, which ExtractClip guarantees.
func (s *FFmpegService) Concat(ctx context.Context, clipPaths []string, outputPath string) error {
	if len(clipPaths) == 0 {
		return fmt.Errorf("%w: no clips to concatenate", models.ErrConcatFailed)
	}

	listPath := filepath.Join(filepath.Dir(outputPath), "concat_list.txt")
	if err := os.WriteFile(listPath, []byte(concatList(clipPaths)), 0644); err != nil {
		return fmt.Errorf("%w: write concat list: %v", models.ErrConcatFailed, err)
	}
	defer os.Remove(listPath)

	args := []string{
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-y",
		outputPath,
	}

	if err := s.run(ctx, args); err != nil {
		return fmt.Errorf("%w: %v", models.ErrConcatFailed, err)
	}
	if !nonEmptyFile(outputPath) {
		return fmt.Errorf("%w: no output at %s", models.ErrConcatFailed, outputPath)
	}
	return nil
}

// concatList renders the demuxer list file. The demuxer resolves relative
// entries against the list's own directory, so every entry is made absolute.
// Single quotes in paths are closed, escaped and reopened.
func concatList(paths []string) string {
	var b strings.Builder
	for _, p := range paths {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(p, "'", `'\''`))
	}
	return b.String()
}

// ---------------------------------------------------------------------------
// Audio
// ---------------------------------------------------------------------------

type AudioFitMode int

const (
	AudioFitCopy AudioFitMode = iota
	AudioFitTrim
	AudioFitLoop
)

func (m AudioFitMode) String() string {
	switch m {
	case AudioFitTrim:
		return "trim"
	case AudioFitLoop:
		return "loop"
	default:
		return "copy"
	}
}

// AudioFit is the decision for bringing a music track to a target length.
// Loops counts total plays of the track and is only set for AudioFitLoop.
type AudioFit struct {
	Mode  AudioFitMode
	Loops int
}

// PlanAudioFit decides how a track of musicDur seconds reaches target seconds.
// An unknown duration (0 or less) means the track is used as is.
func PlanAudioFit(musicDur, target float64) AudioFit {
	switch {
	case musicDur <= 0:
		return AudioFit{Mode: AudioFitCopy}
	case musicDur >= target:
		return AudioFit{Mode: AudioFitTrim}
	default:
		return AudioFit{Mode: AudioFitLoop, Loops: int(math.Ceil(target / musicDur))}
	}
}

func fitAudioArgs(musicPath string, fit AudioFit, target float64, outputPath string) []string {
	var args []string
	if fit.Mode == AudioFitLoop {
		// -stream_loop counts extra plays
		args = append(args, "-stream_loop", strconv.Itoa(fit.Loops-1))
	}
	return append(args,
		"-i", musicPath,
		"-t", formatSeconds(target),
		"-vn",
		"-c:a", "aac",
		"-b:a", "192k",
		"-y",
		outputPath,
	)
}

// FitAudio loops or trims musicPath to exactly target seconds.
func (s *FFmpegService) FitAudio(ctx context.Context, musicPath string, target float64, outputPath string) error {
	fit := PlanAudioFit(s.Duration(ctx, musicPath), target)

	s.logger.Debug().
		Str("mode", fit.Mode.String()).
		Int("loops", fit.Loops).
		Float64("target", target).
		Msg("fitting background music")

	if fit.Mode == AudioFitCopy {
		return copyFile(musicPath, outputPath)
	}

	if err := s.run(ctx, fitAudioArgs(musicPath, fit, target, outputPath)); err != nil {
		return fmt.Errorf("ffmpeg fit audio failed: %w", err)
	}
	if !nonEmptyFile(outputPath) {
		return fmt.Errorf("ffmpeg fit audio produced no output at %s", outputPath)
	}
	return nil
}

// MixRequest muxes the voiceover, and optionally a ducked music bed, onto the
// silent assembled video. An empty Music means voiceover only.
type MixRequest struct {
	Video     string
	Voiceover string
	Music     string
	Output    string
}

// buildMixFilter keeps the voiceover at full volume and ducks the music bed
// under it with a sidechain compressor keyed on the voice.
// Inputs: 0 = video, 1 = voiceover, 2 = music.
func buildMixFilter() string {
	return strings.Join([]string{
		"[1:a]asplit=2[voice][key]",
		fmt.Sprintf("[2:a]volume=%.2f[bed]", musicVolume),
		"[bed][key]sidechaincompress=threshold=0.05:ratio=8:attack=20:release=400[ducked]",
		"[voice][ducked]amix=inputs=2:duration=first:dropout_transition=2:normalize=0[aout]",
	}, ";")
}

func mixArgs(req MixRequest) []string {
	args := []string{"-i", req.Video, "-i", req.Voiceover}

	if req.Music == "" {
		args = append(args, "-map", "0:v", "-map", "1:a")
	} else {
		args = append(args,
			"-i", req.Music,
			"-filter_complex", buildMixFilter(),
			"-map", "0:v",
			"-map", "[aout]",
		)
	}

	return append(args,
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", "192k",
		"-shortest",
		"-movflags", "+faststart",
		"-y",
		req.Output,
	)
}

// Mix produces the final MP4, ending at the shorter of video and voiceover.
func (s *FFmpegService) Mix(ctx context.Context, req MixRequest) error {
	s.logger.Debug().Bool("music", req.Music != "").Msg("muxing final audio")

	if err := s.run(ctx, mixArgs(req)); err != nil {
		return fmt.Errorf("%w: %v", models.ErrMuxFailed, err)
	}
	if !nonEmptyFile(req.Output) {
		return fmt.Errorf("%w: no output at %s", models.ErrMuxFailed, req.Output)
	}
	return nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// run executes ffmpeg and folds the tail of stderr into the error.
func (s *FFmpegService) run(ctx context.Context, args []string) error {
	args = append([]string{"-hide_banner", "-loglevel", "error"}, args...)

	cmd := exec.CommandContext(ctx, s.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s", err, tail(stderr.String(), 400))
	}
	return nil
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func nonEmptyFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Size() > 0
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return out.Close()
}

// tail keeps the last maxLen bytes of s for log and error output.
func tail(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// Cleanup removes temporary files and directories.
func Cleanup(paths ...string) {
	for _, path := range paths {
		os.RemoveAll(path)
	}
}
