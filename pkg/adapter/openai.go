package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIAdapter implements the Adapter interface for OpenAI chat models.
type OpenAIAdapter struct {
	client openai.Client
	params GenerationParams
}

// OpenAIOption configures an OpenAIAdapter.
type OpenAIOption func(*openAIOptions)

type openAIOptions struct {
	baseURL string
	params  GenerationParams
}

// WithOpenAIBaseURL points the client at an OpenAI-compatible endpoint.
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(o *openAIOptions) {
		o.baseURL = url
	}
}

// WithOpenAIParams sets the generation budget.
func WithOpenAIParams(p GenerationParams) OpenAIOption {
	return func(o *openAIOptions) {
		o.params = p
	}
}

// NewOpenAIAdapter creates a new OpenAI adapter.
func NewOpenAIAdapter(apiKey string, opts ...OpenAIOption) (*OpenAIAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}

	o := openAIOptions{params: DefaultGenerationParams()}
	for _, opt := range opts {
		opt(&o)
	}

	// The router owns retry policy; the SDK must not retry on its own.
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if o.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(o.baseURL))
	}

	client := openai.NewClient(reqOpts...)
	return &OpenAIAdapter{client: client, params: o.params.withDefaults()}, nil
}

// Name returns the adapter identifier.
func (a *OpenAIAdapter) Name() string {
	return "openai"
}

// Models returns the list of supported OpenAI models.
func (a *OpenAIAdapter) Models() []string {
	return []string{
		"gpt-4o-mini",
		"gpt-4o",
		"gpt-4-turbo",
	}
}

// Generate sends a prompt to OpenAI and returns the first choice's content.
func (a *OpenAIAdapter) Generate(ctx context.Context, model string, prompt string) (*Response, error) {
	resp, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		MaxTokens:   openai.Int(int64(a.params.MaxTokens)),
		Temperature: openai.Float(a.params.Temperature),
	})
	if err != nil {
		callErr := &CallError{Backend: a.Name(), Model: model, Err: fmt.Errorf("openai API error: %w", err)}
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			callErr.Status = apiErr.StatusCode
		}
		return nil, callErr
	}

	if len(resp.Choices) == 0 {
		return nil, &CallError{Backend: a.Name(), Model: model, Err: fmt.Errorf("openai returned no choices")}
	}

	return &Response{
		Content: resp.Choices[0].Message.Content,
		Adapter: a.Name(),
		Model:   model,
		Usage: &Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}
