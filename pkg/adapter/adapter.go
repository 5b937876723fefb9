package adapter

import "context"

// Adapter defines the interface for model backend adapters.
type Adapter interface {
	// Generate sends a prompt to the model and returns the raw response text.
	Generate(ctx context.Context, model string, prompt string) (*Response, error)

	// Name returns the adapter's identifier.
	Name() string

	// Models returns the list of supported models.
	Models() []string
}

// Prober reports whether a backend can currently take requests.
type Prober interface {
	Available(ctx context.Context) bool
}

// GenerationParams is the fixed generation budget sent with every call.
type GenerationParams struct {
	MaxTokens   int
	Temperature float64
}

// DefaultGenerationParams returns the budget used when none is configured.
func DefaultGenerationParams() GenerationParams {
	return GenerationParams{MaxTokens: 2000, Temperature: 0.7}
}

func (p GenerationParams) withDefaults() GenerationParams {
	if p.MaxTokens <= 0 {
		p.MaxTokens = 2000
	}
	if p.Temperature < 0 {
		p.Temperature = 0.7
	}
	return p
}
