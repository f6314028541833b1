package storage

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bobarin/longform/internal/models"
	"github.com/rs/zerolog"
)

const (
	defaultMaxAttempts = 5
	defaultRetryBase   = time.Second
)

// transientSignatures are substrings of network errors worth another attempt.
var transientSignatures = []string{
	"connection reset",
	"econnreset",
	"timeout",
	"timed out",
	"deadline exceeded",
	"etimedout",
	"broken pipe",
	"epipe",
	"fetch failed",
}

type GatewayOptions struct {
	MaxAttempts int
	RetryBase   time.Duration
	Logger      zerolog.Logger
	// Sleep waits between upload attempts. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Gateway moves files between the work dir and the object store. Downloads
// are single-shot; uploads retry transient failures.
type Gateway struct {
	backend     Backend
	maxAttempts int
	retryBase   time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	logger      zerolog.Logger
}

func NewGateway(backend Backend, opts GatewayOptions) *Gateway {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = defaultRetryBase
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}

	return &Gateway{
		backend:     backend,
		maxAttempts: opts.MaxAttempts,
		retryBase:   opts.RetryBase,
		sleep:       opts.Sleep,
		logger:      opts.Logger.With().Str("component", "storage").Logger(),
	}
}

// Download fetches remotePath into localPath. A partial file is removed on failure.
func (g *Gateway) Download(ctx context.Context, remotePath, localPath string) error {
	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", localPath, err)
	}

	err = g.backend.Get(ctx, remotePath, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(localPath)
		return fmt.Errorf("download %s: %w", remotePath, err)
	}

	g.logger.Debug().Str("path", remotePath).Msg("downloaded object")
	return nil
}

// Upload stores localPath at remotePath and returns remotePath.
func (g *Gateway) Upload(ctx context.Context, remotePath, localPath string) (string, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", localPath, err)
	}
	contentType := ContentType(localPath)

	var lastErr error
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		lastErr = g.putFile(ctx, remotePath, localPath, info.Size(), contentType)
		if lastErr == nil {
			if attempt > 1 {
				g.logger.Info().Str("path", remotePath).Int("attempt", attempt).Msg("upload succeeded after retry")
			}
			return remotePath, nil
		}

		if !IsTransient(lastErr) {
			return "", fmt.Errorf("upload %s: %w", remotePath, lastErr)
		}
		if attempt == g.maxAttempts {
			break
		}

		delay := RetryDelay(g.retryBase, attempt)
		g.logger.Warn().
			Err(lastErr).
			Str("path", remotePath).
			Int("attempt", attempt).
			Dur("wait", delay).
			Msg("upload failed (retryable)")

		if err := g.sleep(ctx, delay); err != nil {
			return "", fmt.Errorf("upload cancelled: %w", err)
		}
	}

	return "", fmt.Errorf("%w: %s after %d attempts: %w", models.ErrTransientUpload, remotePath, g.maxAttempts, lastErr)
}

func (g *Gateway) putFile(ctx context.Context, remotePath, localPath string, size int64, contentType string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer f.Close()

	return g.backend.Put(ctx, remotePath, f, size, contentType)
}

// URL returns a time-limited link to remotePath.
func (g *Gateway) URL(ctx context.Context, remotePath string) (string, error) {
	return g.backend.URL(ctx, remotePath)
}

// RetryDelay is the wait after failed attempt n: base * n².
func RetryDelay(base time.Duration, attempt int) time.Duration {
	return base * time.Duration(attempt*attempt)
}

// IsTransient reports whether err looks like a network hiccup.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range transientSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// ContentType maps a file extension to the MIME type sent to the store.
func ContentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4":
		return "video/mp4"
	case ".mp3":
		return "audio/mpeg"
	default:
		return "application/octet-stream"
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
