package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/zen-systems/hybridgate/pkg/ratelimit"
	"github.com/zen-systems/hybridgate/pkg/router"
)

const maxBodyBytes = 1 << 20

type analyzeRequest struct {
	Resume         string `json:"resume"`
	JobDescription string `json:"job_description"`
	TaskType       string `json:"task_type"`
	Model          string `json:"model"`
	// Permits local fallback when the remote call fails. Defaults to true.
	UseLocalWhenPossible *bool `json:"use_local_when_possible"`
}

type analyzeResponse struct {
	Result    map[string]any `json:"result"`
	ModelUsed string         `json:"model_used"`
	Model     string         `json:"model"`
	IsLocal   bool           `json:"is_local"`
}

type generateRequest struct {
	Prompt   string `json:"prompt"`
	TaskType string `json:"task_type"`
	Model    string `json:"model"`
	Fallback *bool  `json:"fallback"`
}

type generateResponse struct {
	Response string         `json:"response"`
	Backend  router.Backend `json:"backend"`
	Model    string         `json:"model"`
}

type remoteStatus struct {
	Provider  string   `json:"provider"`
	Available bool     `json:"available"`
	Models    []string `json:"models"`
}

type localStatus struct {
	Available bool    `json:"available"`
	URL       string  `json:"url"`
	Model     *string `json:"model"`
}

type modelsStatus struct {
	Remote remoteStatus `json:"remote"`
	Local  localStatus  `json:"local"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "hybridgate"})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := decodeBody(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Resume) == "" || strings.TrimSpace(req.JobDescription) == "" || strings.TrimSpace(req.TaskType) == "" {
		writeDetail(w, http.StatusBadRequest, "resume, job_description and task_type are required")
		return
	}

	out, err := s.router.Route(r.Context(), router.Request{
		Prompt:         buildAnalysisPrompt(req.TaskType, req.Resume, req.JobDescription),
		TaskType:       req.TaskType,
		PreferredModel: s.resolveModel(req.Model),
		Fallback:       req.UseLocalWhenPossible == nil || *req.UseLocalWhenPossible,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("request_id", RequestID(r.Context())).Msg("analysis failed")
		writeDetail(w, http.StatusInternalServerError, "Analysis failed: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, analyzeResponse{
		Result:    parseResult(out.Text),
		ModelUsed: servedBy(out),
		Model:     out.Model,
		IsLocal:   out.Backend == router.BackendLocal,
	})
}

// servedBy names the backend that produced the outcome: "local" for the
// local backend, otherwise the remote provider name.
func servedBy(out *router.Outcome) string {
	if out.Backend == router.BackendLocal || len(out.Attempts) == 0 {
		return string(out.Backend)
	}
	return out.Attempts[len(out.Attempts)-1].Adapter
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decodeBody(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeDetail(w, http.StatusBadRequest, "prompt is required")
		return
	}
	fallback := req.Fallback == nil || *req.Fallback

	out, err := s.router.Route(r.Context(), router.Request{
		Prompt:         req.Prompt,
		TaskType:       req.TaskType,
		PreferredModel: s.resolveModel(req.Model),
		Fallback:       fallback,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("request_id", RequestID(r.Context())).Msg("generation failed")
		writeDetail(w, http.StatusBadGateway, "Generation failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, generateResponse{Response: out.Text, Backend: out.Backend, Model: out.Model})
}

func (s *Server) handleModelsStatus(w http.ResponseWriter, r *http.Request) {
	status := modelsStatus{Remote: remoteStatus{Models: []string{}}}
	if s.remote != nil {
		status.Remote = remoteStatus{Provider: s.remote.Name(), Available: true, Models: s.remote.Models()}
	}
	if s.local != nil {
		status.Local.URL = s.local.BaseURL()
		status.Local.Available = s.local.Available(r.Context())
		if status.Local.Available {
			model := s.local.Model()
			status.Local.Model = &model
		}
	}
	writeJSON(w, http.StatusOK, status)
}

// rateLimited resolves the caller identity and admits the request before
// calling next.
func (s *Server) rateLimited(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.identity(r)
		if err != nil {
			writeDetail(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		if s.limiter != nil {
			if err := s.limiter.Admit(r.Context(), id); err != nil {
				s.rejectAdmission(w, r, err)
				return
			}
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), id)))
	})
}

func (s *Server) rejectAdmission(w http.ResponseWriter, r *http.Request, err error) {
	var limitErr *ratelimit.LimitError
	if !errors.As(err, &limitErr) {
		s.logger.Error().Err(err).Str("request_id", RequestID(r.Context())).Msg("rate limiter unavailable")
		writeDetail(w, http.StatusServiceUnavailable, "Rate limiter unavailable. Please try again shortly.")
		return
	}
	if secs := int(limitErr.RetryAfter.Seconds()); secs > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	msg := "Too many requests. Please wait and try again."
	if limitErr.Scope == ratelimit.ScopeGlobal {
		msg = "Service busy. Please try again shortly."
	}
	writeDetail(w, http.StatusTooManyRequests, msg)
}

// parseResult returns the model output as a JSON object, or wraps the raw
// text when it is not one.
func parseResult(text string) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &obj); err == nil && obj != nil {
		return obj
	}
	return map[string]any{"raw_response": text}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return errors.New("invalid JSON body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
