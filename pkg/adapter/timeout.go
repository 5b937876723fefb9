package adapter

import (
	"context"
	"time"
)

// timeoutAdapter bounds every Generate call with its own deadline.
type timeoutAdapter struct {
	Adapter
	timeout time.Duration
}

// WithTimeout wraps a so that each Generate call runs under its own
// deadline. A non-positive timeout returns a unchanged.
func WithTimeout(a Adapter, timeout time.Duration) Adapter {
	if a == nil || timeout <= 0 {
		return a
	}
	return &timeoutAdapter{Adapter: a, timeout: timeout}
}

func (t *timeoutAdapter) Generate(ctx context.Context, model string, prompt string) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Adapter.Generate(ctx, model, prompt)
}
