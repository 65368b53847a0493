package checkrun

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yungbote/schema-registry/internal/platform/httpx"
	"github.com/yungbote/schema-registry/internal/platform/logger"
)

type GitHubConfig struct {
	BaseURL    string
	Token      string
	MaxRetries int
}

type githubReporter struct {
	log        *logger.Logger
	baseURL    string
	token      string
	maxRetries int
	httpClient *http.Client
}

func NewGitHubReporter(cfg GitHubConfig, log *logger.Logger) (Reporter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("missing GITHUB_TOKEN")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = "https://api.github.com"
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 2
	}
	return &githubReporter{
		log:        log.With("service", "GitHubCheckRuns"),
		baseURL:    base,
		token:      strings.TrimSpace(cfg.Token),
		maxRetries: retries,
		httpClient: httpx.NewTracedClient(15 * time.Second),
	}, nil
}

type checkRunBody struct {
	Name       string         `json:"name,omitempty"`
	HeadSha    string         `json:"head_sha,omitempty"`
	Status     string         `json:"status"`
	Conclusion string         `json:"conclusion"`
	Output     checkRunOutput `json:"output"`
}

type checkRunOutput struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

func bodyFor(run Run, create bool) checkRunBody {
	b := checkRunBody{
		Status:     "completed",
		Conclusion: string(run.Conclusion),
		Output:     checkRunOutput{Title: run.Title, Summary: run.Summary},
	}
	if create {
		b.Name = run.Name
		b.HeadSha = run.Sha
	}
	return b
}

func (g *githubReporter) CreateCheckRun(ctx context.Context, run Run) (string, error) {
	var out struct {
		ID int64 `json:"id"`
	}
	path := fmt.Sprintf("/repos/%s/%s/check-runs", run.Owner(), run.Repo())
	if err := g.do(ctx, http.MethodPost, path, bodyFor(run, true), &out); err != nil {
		return "", err
	}
	return strconv.FormatInt(out.ID, 10), nil
}

func (g *githubReporter) UpdateCheckRun(ctx context.Context, id string, run Run) error {
	path := fmt.Sprintf("/repos/%s/%s/check-runs/%s", run.Owner(), run.Repo(), id)
	return g.do(ctx, http.MethodPatch, path, bodyFor(run, false), nil)
}

func (g *githubReporter) do(ctx context.Context, method, path string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, bytes.NewReader(raw))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+g.token)
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("Content-Type", "application/json")

		resp, err := g.httpClient.Do(req)
		if err == nil {
			data, readErr := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				if out == nil || readErr != nil {
					return readErr
				}
				return json.Unmarshal(data, out)
			}
			err = &httpx.StatusError{Code: resp.StatusCode, Body: string(data)}
		}
		lastErr = err
		if !httpx.IsRetryableError(err) || attempt == g.maxRetries {
			break
		}
		wait := httpx.RetryAfterDuration(resp, httpx.JitterSleep(time.Duration(attempt+1)*500*time.Millisecond), 5*time.Second)
		if err := httpx.Sleep(ctx, wait); err != nil {
			return err
		}
	}
	return fmt.Errorf("github %s %s: %w", method, path, lastErr)
}
