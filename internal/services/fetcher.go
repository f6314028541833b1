package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const fetchTimeout = 10 * time.Minute

// platformHosts are page URLs that need yt-dlp to resolve the actual media.
var platformHosts = []string{
	"youtube.com",
	"youtu.be",
	"vimeo.com",
	"tiktok.com",
	"instagram.com",
	"twitter.com",
	"x.com",
	"dailymotion.com",
}

// BlobDownloader reads an object from the project bucket.
type BlobDownloader interface {
	Download(ctx context.Context, remotePath, localPath string) error
}

// Fetcher materialises a reference or music location as a local file.
// Locations may be video platform pages, direct http(s) file URLs, or object
// paths inside the bucket.
type Fetcher struct {
	blobs     BlobDownloader
	client    *http.Client
	ytdlpPath string
	logger    zerolog.Logger
}

func NewFetcher(blobs BlobDownloader, ytdlpPath string, logger zerolog.Logger) *Fetcher {
	if ytdlpPath == "" {
		ytdlpPath = "yt-dlp"
	}
	return &Fetcher{
		blobs:     blobs,
		client:    &http.Client{Timeout: fetchTimeout},
		ytdlpPath: ytdlpPath,
		logger:    logger.With().Str("component", "fetcher").Logger(),
	}
}

type sourceKind int

const (
	sourceBlob sourceKind = iota
	sourceHTTP
	sourcePlatform
)

func classifySource(location string) sourceKind {
	u, err := url.Parse(location)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return sourceBlob
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")
	for _, p := range platformHosts {
		if host == p || strings.HasSuffix(host, "."+p) {
			return sourcePlatform
		}
	}
	return sourceHTTP
}

// Fetch writes the media at location to localPath.
func (f *Fetcher) Fetch(ctx context.Context, location, localPath string) error {
	location = strings.TrimSpace(location)
	if location == "" {
		return fmt.Errorf("empty source location")
	}

	switch classifySource(location) {
	case sourcePlatform:
		return f.fetchPlatform(ctx, location, localPath)
	case sourceHTTP:
		return f.fetchHTTP(ctx, location, localPath)
	default:
		if f.blobs == nil {
			return fmt.Errorf("no blob store configured for %s", location)
		}
		return f.blobs.Download(ctx, strings.TrimPrefix(location, "/"), localPath)
	}
}

func ytdlpArgs(location, localPath string) []string {
	return []string{
		"--no-playlist",
		"--no-progress",
		"-f", "bv*[ext=mp4][height<=1080]+ba[ext=m4a]/b[ext=mp4]/bv*+ba/b",
		"--merge-output-format", "mp4",
		"-o", localPath,
		location,
	}
}

func (f *Fetcher) fetchPlatform(ctx context.Context, location, localPath string) error {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, f.ytdlpPath, ytdlpArgs(location, localPath)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("yt-dlp failed for %s: %w: %s", location, err, tail(stderr.String(), 300))
	}
	if !nonEmptyFile(localPath) {
		return fmt.Errorf("yt-dlp produced no file for %s", location)
	}
	return nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, location, localPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", location, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("download %s failed with status %d: %s", location, resp.StatusCode, string(body))
	}

	out, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", localPath, err)
	}

	n, err := io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", localPath, err)
	}
	if n == 0 {
		return fmt.Errorf("download %s returned an empty body", location)
	}

	f.logger.Debug().Str("url", location).Int64("bytes", n).Msg("downloaded source")
	return nil
}
