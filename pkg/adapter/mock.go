package adapter

import (
	"context"
	"fmt"
	"sync"
)

// MockAdapter returns deterministic responses for local runs and tests.
// It can stand in for either backend: it also implements Prober.
type MockAdapter struct {
	name            string
	responses       map[string]string
	defaultResponse string

	// Err, when set, is returned from every Generate call.
	Err error
	// Unavailable makes Available report false.
	Unavailable bool
	Usage       *Usage

	mu      sync.Mutex
	prompts []string
	models  []string
}

// NewMockAdapter creates a mock adapter with a default response.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		name:            "mock",
		responses:       make(map[string]string),
		defaultResponse: "mock response:",
	}
}

// NewMockAdapterWithResponses creates a mock adapter with predefined responses.
func NewMockAdapterWithResponses(responses map[string]string, defaultResponse string) *MockAdapter {
	if defaultResponse == "" {
		defaultResponse = "mock response:"
	}
	if responses == nil {
		responses = make(map[string]string)
	}
	return &MockAdapter{name: "mock", responses: responses, defaultResponse: defaultResponse}
}

// Named returns the adapter with its identifier replaced.
func (a *MockAdapter) Named(name string) *MockAdapter {
	a.name = name
	return a
}

// Name returns the adapter identifier.
func (a *MockAdapter) Name() string {
	return a.name
}

// Models returns the list of supported mock models.
func (a *MockAdapter) Models() []string {
	return []string{"mock-1"}
}

// Available reports the configured availability.
func (a *MockAdapter) Available(context.Context) bool {
	return !a.Unavailable
}

// Calls returns how many times Generate was invoked.
func (a *MockAdapter) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.prompts)
}

// LastModel returns the model passed to the most recent Generate call.
func (a *MockAdapter) LastModel() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.models) == 0 {
		return ""
	}
	return a.models[len(a.models)-1]
}

// LastPrompt returns the prompt passed to the most recent Generate call.
func (a *MockAdapter) LastPrompt() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.prompts) == 0 {
		return ""
	}
	return a.prompts[len(a.prompts)-1]
}

// Generate returns a deterministic response for the prompt.
func (a *MockAdapter) Generate(ctx context.Context, model string, prompt string) (*Response, error) {
	if model == "" {
		model = "mock-1"
	}

	a.mu.Lock()
	a.prompts = append(a.prompts, prompt)
	a.models = append(a.models, model)
	a.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, &CallError{Backend: a.name, Model: model, Err: err}
	}
	if a.Err != nil {
		return nil, a.Err
	}
	if response, ok := a.responses[prompt]; ok {
		return &Response{Content: response, Adapter: a.name, Model: model, Usage: a.Usage}, nil
	}
	content := fmt.Sprintf("%s\n%s", a.defaultResponse, prompt)
	return &Response{Content: content, Adapter: a.name, Model: model, Usage: a.Usage}, nil
}
