package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultOllamaURL    = "http://localhost:11434"
	defaultOllamaModel  = "llama2"
	defaultHealthPath   = "/api/tags"
	defaultGeneratePath = "/api/generate"
)

// OllamaConfig holds connection and budget settings for the local backend.
type OllamaConfig struct {
	// BaseURL is the Ollama API base URL (default: http://localhost:11434).
	BaseURL string
	// Model is the fixed local model identifier (default: llama2).
	Model string
	// Params is the generation budget sent as options.num_predict/temperature.
	Params GenerationParams
	// ProbeTimeout bounds the health check (default: 2s).
	ProbeTimeout time.Duration
	// Timeout bounds a generation call (default: 60s).
	Timeout time.Duration
	// HealthPath is the probe endpoint (default: /api/tags).
	HealthPath string
	// GeneratePath is the generation endpoint (default: /api/generate).
	GeneratePath string
}

// OllamaAdapter talks to a locally hosted Ollama server over HTTP.
// It is safe for concurrent use.
type OllamaAdapter struct {
	cfg        OllamaConfig
	httpClient *http.Client
}

type ollamaOptions struct {
	NumPredict  int     `json:"num_predict"`
	Temperature float64 `json:"temperature"`
}

type ollamaGenerateRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaGenerateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	Error           string `json:"error,omitempty"`
}

// NewOllamaAdapter creates a local backend adapter, filling zero values with defaults.
func NewOllamaAdapter(cfg OllamaConfig) *OllamaAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOllamaURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultOllamaModel
	}
	cfg.Params = cfg.Params.withDefaults()
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 2 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = defaultHealthPath
	}
	if cfg.GeneratePath == "" {
		cfg.GeneratePath = defaultGeneratePath
	}

	// Deadlines come from per-call contexts so the probe and generation
	// budgets never share one.
	return &OllamaAdapter{cfg: cfg, httpClient: &http.Client{}}
}

// Name returns the adapter identifier.
func (a *OllamaAdapter) Name() string {
	return "ollama"
}

// Models returns the configured local model.
func (a *OllamaAdapter) Models() []string {
	return []string{a.cfg.Model}
}

// Model returns the fixed local model identifier.
func (a *OllamaAdapter) Model() string {
	return a.cfg.Model
}

// BaseURL returns the configured Ollama base URL.
func (a *OllamaAdapter) BaseURL() string {
	return a.cfg.BaseURL
}

// Available issues one bounded health request. Every failure mode reads as
// unavailable. Results are never cached.
func (a *OllamaAdapter) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.BaseURL+a.cfg.HealthPath, nil)
	if err != nil {
		return false
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Generate sends a non-streaming generation request. An empty model falls
// back to the configured local model.
func (a *OllamaAdapter) Generate(ctx context.Context, model string, prompt string) (*Response, error) {
	if model == "" {
		model = a.cfg.Model
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(ollamaGenerateRequest{
		Model:  model,
		Prompt: prompt,
		Stream: false,
		Options: ollamaOptions{
			NumPredict:  a.cfg.Params.MaxTokens,
			Temperature: a.cfg.Params.Temperature,
		},
	})
	if err != nil {
		return nil, &CallError{Backend: a.Name(), Model: model, Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+a.cfg.GeneratePath, bytes.NewReader(body))
	if err != nil {
		return nil, &CallError{Backend: a.Name(), Model: model, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, &CallError{Backend: a.Name(), Model: model, Temporary: true, Err: fmt.Errorf("ollama request failed: %w", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &CallError{Backend: a.Name(), Model: model, Status: resp.StatusCode, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &CallError{
			Backend: a.Name(),
			Model:   model,
			Status:  resp.StatusCode,
			Err:     fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, snippet(data, 200)),
		}
	}

	var out ollamaGenerateResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &CallError{Backend: a.Name(), Model: model, Status: resp.StatusCode, Err: fmt.Errorf("failed to parse response: %w", err)}
	}
	if out.Error != "" {
		return nil, &CallError{Backend: a.Name(), Model: model, Status: resp.StatusCode, Err: fmt.Errorf("ollama error: %s", out.Error)}
	}

	return &Response{
		Content: out.Response,
		Adapter: a.Name(),
		Model:   model,
		Usage: &Usage{
			PromptTokens:     out.PromptEvalCount,
			CompletionTokens: out.EvalCount,
			TotalTokens:      out.PromptEvalCount + out.EvalCount,
		},
	}, nil
}

func snippet(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
