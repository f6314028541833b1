package bootstrap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/bobarin/longform/internal/config"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseConfig() *config.Config {
	return &config.Config{
		RunnerAPIKey:          "runner-key",
		SupabaseURL:           "https://env.supabase.co",
		SupabaseServiceKey:    "env-key",
		SupabaseStorageBucket: "videos",
		StorageBackend:        "supabase",
		MaxClipSeconds:        10,
		WorkDir:               "/tmp/longform",
	}
}

func TestBootstrapFromEnv(t *testing.T) {
	cfg := baseConfig()
	cfg.RunnerUserID = "11111111-1111-1111-1111-111111111111"

	rc, err := Bootstrap(context.Background(), cfg, nil)

	require.NoError(t, err)
	assert.Equal(t, "https://env.supabase.co", rc.SupabaseURL)
	assert.Equal(t, "env-key", rc.ServiceKey)
	assert.Equal(t, "videos", rc.Bucket)
	assert.Equal(t, uuid.MustParse("11111111-1111-1111-1111-111111111111"), rc.UserID)
	assert.Equal(t, 10.0, rc.MaxClipSeconds)
}

func TestBootstrapMakesWorkRootAbsolute(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)

	cfg := baseConfig()
	cfg.WorkDir = "work"

	rc, err := Bootstrap(context.Background(), cfg, nil)

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(wd, "work"), rc.WorkRoot)
	assert.True(t, filepath.IsAbs(rc.WorkDir(uuid.New())))
}

func TestBootstrapWithoutUserScope(t *testing.T) {
	rc, err := Bootstrap(context.Background(), baseConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, rc.UserID)
}

func TestBootstrapExchangesKey(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"supabase_url": "https://remote.supabase.co",
			"service_key": "remote-key",
			"user_id": "22222222-2222-2222-2222-222222222222",
			"bucket": "longform"
		}`))
	}))
	defer srv.Close()

	cfg := baseConfig()
	cfg.RunnerAuthURL = srv.URL

	rc, err := Bootstrap(context.Background(), cfg, srv.Client())

	require.NoError(t, err)
	assert.Equal(t, "Bearer runner-key", gotAuth)
	assert.Equal(t, "https://remote.supabase.co", rc.SupabaseURL)
	assert.Equal(t, "remote-key", rc.ServiceKey)
	assert.Equal(t, "longform", rc.Bucket)
	assert.Equal(t, uuid.MustParse("22222222-2222-2222-2222-222222222222"), rc.UserID)
}

func TestBootstrapRejectedKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	cfg := baseConfig()
	cfg.RunnerAuthURL = srv.URL

	_, err := Bootstrap(context.Background(), cfg, srv.Client())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestBootstrapMissingCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"user_id": "22222222-2222-2222-2222-222222222222"}`))
	}))
	defer srv.Close()

	cfg := baseConfig()
	cfg.RunnerAuthURL = srv.URL

	_, err := Bootstrap(context.Background(), cfg, srv.Client())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage credentials missing")
}

func TestBootstrapInvalidUserID(t *testing.T) {
	cfg := baseConfig()
	cfg.RunnerUserID = "not-a-uuid"

	_, err := Bootstrap(context.Background(), cfg, nil)
	require.Error(t, err)
}

func TestWorkDir(t *testing.T) {
	rc := RunnerContext{WorkRoot: "/tmp/longform"}
	id := uuid.MustParse("33333333-3333-3333-3333-333333333333")
	assert.Equal(t, filepath.Join("/tmp/longform", id.String()), rc.WorkDir(id))
}
