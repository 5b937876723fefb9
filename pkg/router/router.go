package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/zen-systems/hybridgate/pkg/adapter"
	"github.com/zen-systems/hybridgate/pkg/logging"
)

// DefaultRemoteModel is used when a request has no preferred model.
const DefaultRemoteModel = "gpt-4o-mini"

var errRemoteNotConfigured = errors.New("remote backend not configured")

// LocalBackend is the local adapter together with its availability probe.
type LocalBackend interface {
	adapter.Adapter
	adapter.Prober
}

// Router picks a backend per request and applies the fallback policy.
// It holds no per-request state and is safe for concurrent use.
type Router struct {
	remote             adapter.Adapter
	local              LocalBackend
	classifier         *Classifier
	defaultRemoteModel string
	localModel         string
	logger             zerolog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithClassifier sets the task classifier.
func WithClassifier(c *Classifier) Option {
	return func(r *Router) {
		if c != nil {
			r.classifier = c
		}
	}
}

// WithDefaultRemoteModel sets the remote model used when a request names none.
func WithDefaultRemoteModel(model string) Option {
	return func(r *Router) {
		if model != "" {
			r.defaultRemoteModel = model
		}
	}
}

// WithLocalModel sets the fixed local model identifier.
func WithLocalModel(model string) Option {
	return func(r *Router) {
		r.localModel = model
	}
}

// WithLogger sets the logger that receives decision events.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Router) {
		r.logger = l
	}
}

// New creates a router. remote may be nil, in which case every remote
// selection fails as a backend call failure.
func New(remote adapter.Adapter, local LocalBackend, opts ...Option) *Router {
	r := &Router{
		remote:             remote,
		local:              local,
		classifier:         DefaultClassifier(),
		defaultRemoteModel: DefaultRemoteModel,
		logger:             logging.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.localModel == "" && local != nil {
		if models := local.Models(); len(models) > 0 {
			r.localModel = models[0]
		}
	}
	return r
}

// Classifier returns the router's task classifier.
func (r *Router) Classifier() *Classifier {
	return r.classifier
}

// LocalAvailable probes the local backend.
func (r *Router) LocalAvailable(ctx context.Context) bool {
	if r.local == nil {
		return false
	}
	return r.local.Available(ctx)
}

// Route selects a backend, invokes it and, if permitted, falls back once to
// the local backend. At most two backend calls are made per request.
//
// If the caller's context is done when the first call fails, fallback is
// abandoned and the failure is returned.
func (r *Router) Route(ctx context.Context, req Request) (*Outcome, error) {
	start := time.Now()

	class := r.classifier.Classify(req.TaskType)
	available := r.LocalAvailable(ctx)

	decision := &Decision{
		TaskType:       req.TaskType,
		Classification: class,
		LocalAvailable: available,
	}
	decision.Selected, decision.Model = r.selectBackend(class, available, req.PreferredModel)
	decision.Reasons = append(decision.Reasons, selectionReason(class, available, decision.Selected))

	outcome := &Outcome{Decision: decision}

	resp, report, err := r.call(ctx, decision.Selected, decision.Model, req.Prompt, false)
	outcome.Attempts = append(outcome.Attempts, report)
	if err == nil {
		r.served(outcome, decision.Selected, resp)
		r.emit(outcome, nil, start)
		return outcome, nil
	}

	if !fallbackEligible(req.Fallback, decision.Selected, available) {
		decision.Reasons = append(decision.Reasons, "fallback not permitted")
		r.emit(outcome, err, start)
		return nil, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		decision.Reasons = append(decision.Reasons, "caller context done, fallback abandoned")
		r.emit(outcome, err, start)
		return nil, err
	}

	decision.FallbackTriggered = true
	decision.Reasons = append(decision.Reasons, fmt.Sprintf("remote failed, falling back to local: %v", err))

	resp, report, err = r.call(ctx, BackendLocal, r.localModel, req.Prompt, true)
	outcome.Attempts = append(outcome.Attempts, report)
	if err != nil {
		r.emit(outcome, err, start)
		return nil, err
	}

	r.served(outcome, BackendLocal, resp)
	r.emit(outcome, nil, start)
	return outcome, nil
}

// selectBackend applies the selection rule: Simple tasks go local when it is
// available, everything else goes remote.
func (r *Router) selectBackend(class Classification, localAvailable bool, preferred string) (Backend, string) {
	if class == Simple && localAvailable {
		return BackendLocal, r.localModel
	}
	if preferred != "" {
		return BackendRemote, preferred
	}
	return BackendRemote, r.defaultRemoteModel
}

// fallbackEligible reports whether a failed first attempt may be retried on
// the local backend. Local failures are never retried.
func fallbackEligible(enabled bool, failed Backend, localAvailable bool) bool {
	return enabled && failed == BackendRemote && localAvailable
}

func (r *Router) call(ctx context.Context, backend Backend, model, prompt string, fallback bool) (*adapter.Response, adapter.CallReport, error) {
	report := adapter.CallReport{Model: model, FallbackUsed: fallback}

	var a adapter.Adapter
	switch backend {
	case BackendLocal:
		if r.local != nil {
			a = r.local
		}
	case BackendRemote:
		a = r.remote
	}
	if a == nil {
		report.Adapter = string(backend)
		err := &adapter.CallError{Backend: string(backend), Model: model, Err: errRemoteNotConfigured}
		if backend == BackendLocal {
			err.Err = errors.New("local backend not configured")
		}
		report.Error = err.Error()
		return nil, report, err
	}
	report.Adapter = a.Name()

	start := time.Now()
	resp, err := a.Generate(ctx, model, prompt)
	report.DurationMs = time.Since(start).Milliseconds()

	if err == nil && resp == nil {
		err = fmt.Errorf("%s returned empty response", a.Name())
	}
	if err != nil {
		err = adapter.WrapCallError(a.Name(), model, err)
		report.Error = err.Error()
		report.Transient = adapter.IsTransient(err)
		return nil, report, err
	}
	if resp.Usage != nil {
		report.Usage = *resp.Usage
	}
	return resp, report, nil
}

func (r *Router) served(outcome *Outcome, backend Backend, resp *adapter.Response) {
	outcome.Text = resp.Content
	outcome.Backend = backend
	outcome.Model = resp.Model
	if outcome.Model == "" {
		outcome.Model = outcome.Attempts[len(outcome.Attempts)-1].Model
	}
	outcome.Decision.Served = backend
}

// emit writes one structured event per routed request.
func (r *Router) emit(outcome *Outcome, err error, start time.Time) {
	d := outcome.Decision
	ev := r.logger.Info()
	if err != nil {
		ev = r.logger.Warn().Err(err)
	}
	ev.Str("task_type", d.TaskType).
		Str("classification", string(d.Classification)).
		Bool("local_available", d.LocalAvailable).
		Str("selected", string(d.Selected)).
		Str("model", d.Model).
		Bool("fallback_triggered", d.FallbackTriggered).
		Str("served", string(d.Served)).
		Int("attempts", len(outcome.Attempts)).
		Bool("ok", err == nil).
		Dur("latency", time.Since(start)).
		Msg("route decision")
}

func selectionReason(class Classification, localAvailable bool, selected Backend) string {
	switch {
	case selected == BackendLocal:
		return "simple task and local backend available"
	case class == Simple:
		return "simple task but local backend unavailable"
	case localAvailable:
		return "complex task requires remote backend"
	default:
		return "complex task, local backend unavailable"
	}
}
