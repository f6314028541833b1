package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bobarin/longform/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	putErrs  []error
	puts     int
	putTypes []string
	stored   map[string][]byte
	getErr   error
}

func (f *fakeBackend) Put(ctx context.Context, path string, body io.Reader, size int64, contentType string) error {
	f.puts++
	f.putTypes = append(f.putTypes, contentType)
	if len(f.putErrs) > 0 {
		err := f.putErrs[0]
		f.putErrs = f.putErrs[1:]
		if err != nil {
			return err
		}
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if f.stored == nil {
		f.stored = make(map[string][]byte)
	}
	f.stored[path] = data
	return nil
}

func (f *fakeBackend) Get(ctx context.Context, path string, w io.Writer) error {
	if f.getErr != nil {
		w.Write([]byte("partial"))
		return f.getErr
	}
	_, err := w.Write(f.stored[path])
	return err
}

func (f *fakeBackend) URL(ctx context.Context, path string) (string, error) {
	return "https://signed/" + path, nil
}

type sleepRecorder struct {
	waits []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return nil
}

func newTestGateway(b Backend, rec *sleepRecorder) *Gateway {
	return NewGateway(b, GatewayOptions{
		RetryBase: 100 * time.Millisecond,
		Logger:    zerolog.Nop(),
		Sleep:     rec.sleep,
	})
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestUploadRetriesTransientThenSucceeds(t *testing.T) {
	backend := &fakeBackend{putErrs: []error{
		errors.New("read tcp: connection reset by peer"),
		errors.New("net/http: request canceled (Client.Timeout exceeded)"),
		errors.New("write: broken pipe"),
		errors.New("TypeError: fetch failed"),
	}}
	rec := &sleepRecorder{}
	g := newTestGateway(backend, rec)
	local := writeTemp(t, "final.mp4", "rendered")

	path, err := g.Upload(context.Background(), "u/longform/p/final.mp4", local)

	require.NoError(t, err)
	assert.Equal(t, "u/longform/p/final.mp4", path)
	assert.Equal(t, 5, backend.puts)
	assert.Equal(t, []byte("rendered"), backend.stored[path])
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		400 * time.Millisecond,
		900 * time.Millisecond,
		1600 * time.Millisecond,
	}, rec.waits)
}

func TestUploadGivesUpAfterFiveTransientFailures(t *testing.T) {
	transient := errors.New("dial tcp: i/o timeout")
	backend := &fakeBackend{putErrs: []error{transient, transient, transient, transient, transient}}
	rec := &sleepRecorder{}
	g := newTestGateway(backend, rec)
	local := writeTemp(t, "final.mp4", "rendered")

	_, err := g.Upload(context.Background(), "final.mp4", local)

	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrTransientUpload)
	assert.ErrorIs(t, err, transient)
	assert.Equal(t, 5, backend.puts)
	assert.Len(t, rec.waits, 4)
}

func TestUploadRetriesAttemptDeadline(t *testing.T) {
	deadline := &url.Error{Op: "Put", URL: "https://store.example/object/videos/final.mp4", Err: context.DeadlineExceeded}
	backend := &fakeBackend{putErrs: []error{deadline, deadline}}
	rec := &sleepRecorder{}
	g := newTestGateway(backend, rec)
	local := writeTemp(t, "final.mp4", "rendered")

	_, err := g.Upload(context.Background(), "final.mp4", local)

	require.NoError(t, err)
	assert.Equal(t, 3, backend.puts)
	assert.Len(t, rec.waits, 2)
}

func TestUploadDoesNotRetryPermanentErrors(t *testing.T) {
	backend := &fakeBackend{putErrs: []error{errors.New("upload failed with status 403: forbidden")}}
	rec := &sleepRecorder{}
	g := newTestGateway(backend, rec)
	local := writeTemp(t, "final.mp4", "rendered")

	_, err := g.Upload(context.Background(), "final.mp4", local)

	require.Error(t, err)
	assert.NotErrorIs(t, err, models.ErrTransientUpload)
	assert.Equal(t, 1, backend.puts)
	assert.Empty(t, rec.waits)
}

func TestUploadContentType(t *testing.T) {
	backend := &fakeBackend{}
	g := newTestGateway(backend, &sleepRecorder{})

	for _, name := range []string{"a.mp4", "b.MP3", "c.wav"} {
		_, err := g.Upload(context.Background(), name, writeTemp(t, name, "x"))
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"video/mp4", "audio/mpeg", "application/octet-stream"}, backend.putTypes)
}

func TestUploadMissingFile(t *testing.T) {
	g := newTestGateway(&fakeBackend{}, &sleepRecorder{})
	_, err := g.Upload(context.Background(), "x.mp4", filepath.Join(t.TempDir(), "missing.mp4"))
	require.Error(t, err)
}

func TestUploadStopsWhenContextCancelled(t *testing.T) {
	backend := &fakeBackend{putErrs: []error{errors.New("connection reset by peer")}}
	g := NewGateway(backend, GatewayOptions{RetryBase: time.Hour, Logger: zerolog.Nop()})
	local := writeTemp(t, "final.mp4", "rendered")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Upload(ctx, "final.mp4", local)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, backend.puts)
}

func TestDownload(t *testing.T) {
	backend := &fakeBackend{stored: map[string][]byte{"u/vo.mp3": []byte("voice")}}
	g := newTestGateway(backend, &sleepRecorder{})
	local := filepath.Join(t.TempDir(), "voiceover.mp3")

	require.NoError(t, g.Download(context.Background(), "u/vo.mp3", local))

	data, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.True(t, bytes.Equal([]byte("voice"), data))
}

func TestDownloadFailureIsNotRetried(t *testing.T) {
	backend := &fakeBackend{getErr: errors.New("connection reset by peer")}
	g := newTestGateway(backend, &sleepRecorder{})
	local := filepath.Join(t.TempDir(), "voiceover.mp3")

	err := g.Download(context.Background(), "u/vo.mp3", local)

	require.Error(t, err)
	_, statErr := os.Stat(local)
	assert.True(t, os.IsNotExist(statErr), "partial download should be removed")
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{errors.New("read: connection reset by peer"), true},
		{errors.New("ECONNRESET"), true},
		{errors.New("context deadline exceeded (Client.Timeout exceeded while awaiting headers)"), true},
		{errors.New("operation timed out"), true},
		{errors.New("ETIMEDOUT"), true},
		{errors.New("write: broken pipe"), true},
		{errors.New("EPIPE"), true},
		{errors.New("fetch failed"), true},
		{&url.Error{Op: "Put", URL: "https://store.example/object/videos/final.mp4", Err: context.DeadlineExceeded}, true},
		{fmt.Errorf("upload attempt: %w", context.DeadlineExceeded), true},
		{errors.New(`Put "https://store.example/object": context deadline exceeded`), true},
		{errors.New("upload failed with status 400: bad request"), false},
		{errors.New("permission denied"), false},
		{nil, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, IsTransient(tt.err), "%v", tt.err)
	}
}

func TestRetryDelay(t *testing.T) {
	base := time.Second
	assert.Equal(t, 1*time.Second, RetryDelay(base, 1))
	assert.Equal(t, 4*time.Second, RetryDelay(base, 2))
	assert.Equal(t, 16*time.Second, RetryDelay(base, 4))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "video/mp4", ContentType("/w/final.mp4"))
	assert.Equal(t, "audio/mpeg", ContentType("track.mp3"))
	assert.Equal(t, "application/octet-stream", ContentType("notes.txt"))
	assert.Equal(t, "application/octet-stream", ContentType("noext"))
}
