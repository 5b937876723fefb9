package adapter

// Usage captures normalized token usage.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CallReport captures the metadata of a single backend attempt.
type CallReport struct {
	Adapter      string `json:"adapter"`
	Model        string `json:"model"`
	Usage        Usage  `json:"usage"`
	DurationMs   int64  `json:"duration_ms"`
	FallbackUsed bool   `json:"fallback_used"`
	Error        string `json:"error,omitempty"`
	Transient    bool   `json:"transient,omitempty"`
}

// Response wraps the text a backend produced. Content is passed through
// unchanged; interpreting it is the caller's job.
type Response struct {
	Content string
	Adapter string
	Model   string
	Usage   *Usage
}
