package router

import "github.com/zen-systems/hybridgate/pkg/adapter"

// Backend identifies which of the two backends served a request.
type Backend string

const (
	// BackendRemote is the high-capacity hosted model service.
	BackendRemote Backend = "remote"
	// BackendLocal is the locally hosted model backend.
	BackendLocal Backend = "local"
)

// Request is a single routing request.
type Request struct {
	Prompt   string
	TaskType string
	// PreferredModel selects the remote model variant; empty uses the default.
	PreferredModel string
	// Fallback permits one retry on the local backend when the remote call fails.
	Fallback bool
}

// Outcome is the result of a routed request.
type Outcome struct {
	Text     string
	Backend  Backend
	Model    string
	Attempts []adapter.CallReport
	Decision *Decision
}

// Decision captures routing decision details.
type Decision struct {
	TaskType          string         `json:"task_type"`
	Classification    Classification `json:"classification"`
	LocalAvailable    bool           `json:"local_available"`
	Selected          Backend        `json:"selected"`
	Model             string         `json:"model"`
	FallbackTriggered bool           `json:"fallback_triggered"`
	Served            Backend        `json:"served,omitempty"`
	Reasons           []string       `json:"reasons,omitempty"`
}
