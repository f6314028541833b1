package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/bobarin/longform/internal/config"
	"github.com/google/uuid"
)

// RunnerContext is the identity and credential set the runner works under.
// It is built once at startup and passed by value.
type RunnerContext struct {
	SupabaseURL    string
	ServiceKey     string
	UserID         uuid.UUID // uuid.Nil processes every user's projects
	Bucket         string
	MaxClipSeconds float64
	WorkRoot       string
}

// WorkDir is the per-project scratch directory.
func (rc RunnerContext) WorkDir(projectID uuid.UUID) string {
	return filepath.Join(rc.WorkRoot, projectID.String())
}

type authResponse struct {
	SupabaseURL string `json:"supabase_url"`
	ServiceKey  string `json:"service_key"`
	UserID      string `json:"user_id"`
	Bucket      string `json:"bucket"`
}

// Bootstrap resolves the RunnerContext. With RUNNER_AUTH_URL set the runner
// key is exchanged for storage credentials and a user scope; otherwise they
// come from the environment.
func Bootstrap(ctx context.Context, cfg *config.Config, client *http.Client) (RunnerContext, error) {
	workRoot, err := filepath.Abs(cfg.WorkDir)
	if err != nil {
		return RunnerContext{}, fmt.Errorf("invalid work dir %q: %w", cfg.WorkDir, err)
	}

	rc := RunnerContext{
		SupabaseURL:    cfg.SupabaseURL,
		ServiceKey:     cfg.SupabaseServiceKey,
		Bucket:         cfg.SupabaseStorageBucket,
		MaxClipSeconds: cfg.MaxClipSeconds,
		WorkRoot:       workRoot,
	}

	userID := cfg.RunnerUserID
	if cfg.RunnerAuthURL != "" {
		auth, err := exchangeKey(ctx, client, cfg.RunnerAuthURL, cfg.RunnerAPIKey)
		if err != nil {
			return RunnerContext{}, err
		}
		rc.SupabaseURL = auth.SupabaseURL
		rc.ServiceKey = auth.ServiceKey
		if auth.Bucket != "" {
			rc.Bucket = auth.Bucket
		}
		userID = auth.UserID
	}

	if userID != "" {
		id, err := uuid.Parse(userID)
		if err != nil {
			return RunnerContext{}, fmt.Errorf("invalid runner user id %q: %w", userID, err)
		}
		rc.UserID = id
	}

	if cfg.StorageBackend == "supabase" && (rc.SupabaseURL == "" || rc.ServiceKey == "") {
		return RunnerContext{}, fmt.Errorf("storage credentials missing after bootstrap")
	}

	return rc, nil
}

func exchangeKey(ctx context.Context, client *http.Client, authURL, apiKey string) (*authResponse, error) {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, authURL, strings.NewReader("{}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("runner auth request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("runner auth failed with status %d: %s", resp.StatusCode, string(body))
	}

	var auth authResponse
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return nil, fmt.Errorf("failed to parse runner auth response: %w", err)
	}

	return &auth, nil
}
