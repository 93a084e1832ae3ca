// Package llm provides the generative-model client used by the repair
// engine. The model runs behind an Ollama-compatible generate endpoint and is
// always invoked at temperature zero so that identical prompts produce
// identical completions.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spherical-ai/table-engine/internal/domain"
	"github.com/spherical-ai/table-engine/internal/observability"
)

const (
	defaultEndpoint = "http://localhost:11434"
	defaultModel    = "llama3.1:8b"
)

// Generator produces a completion for a prompt. The repair engine depends on
// this interface so tests can inject deterministic doubles.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Client talks to an Ollama-compatible HTTP endpoint.
type Client struct {
	endpoint   string
	model      string
	httpClient *http.Client
	retry      RetryConfig
	logger     *observability.Logger
}

// Config holds client settings.
type Config struct {
	Endpoint string
	Model    string
	Retry    RetryConfig
}

// generateRequest is the /api/generate request body. Temperature is pinned to
// zero; this is a hard contract, not a default.
type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	Seed        int     `json:"seed"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// NewClient creates a generator client.
func NewClient(cfg Config, logger *observability.Logger) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	if logger == nil {
		logger = observability.DefaultLogger()
	}
	return &Client{
		endpoint:   strings.TrimSuffix(cfg.Endpoint, "/"),
		model:      cfg.Model,
		httpClient: &http.Client{},
		retry:      cfg.Retry,
		logger:     logger,
	}
}

// Ping verifies the endpoint is reachable. Called once at startup; an
// unreachable endpoint is the single process-fatal condition and must fail
// before any jobs are scheduled.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/api/tags", nil)
	if err != nil {
		return domain.APIError("build health check request", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.APIError(fmt.Sprintf("model endpoint %s unreachable", c.endpoint), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.APIError(fmt.Sprintf("model endpoint %s returned status %d", c.endpoint, resp.StatusCode), nil)
	}
	return nil
}

// Generate sends one greedy-decoded completion request. The caller owns the
// deadline; a context timeout surfaces as ctx.Err so the repair engine can
// map it to RepairTimeout.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: false,
		Options: generateOptions{
			Temperature: 0,
			Seed:        0,
		},
	})
	if err != nil {
		return "", domain.APIError("marshal generate request", err)
	}

	resp, err := c.retryWithBackoff(ctx, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/generate", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return c.httpClient.Do(req)
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return "", domain.APIError(fmt.Sprintf("generate returned status %d: %s", resp.StatusCode, string(data)), nil)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", domain.APIError("decode generate response", err)
	}
	if out.Error != "" {
		return "", domain.APIError("model error: "+out.Error, nil)
	}
	return out.Response, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}
