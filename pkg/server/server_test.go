package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/zen-systems/hybridgate/pkg/adapter"
	"github.com/zen-systems/hybridgate/pkg/config"
	"github.com/zen-systems/hybridgate/pkg/ratelimit"
	"github.com/zen-systems/hybridgate/pkg/router"
)

type fakeRouter struct {
	out  *router.Outcome
	err  error
	reqs []router.Request
}

func (f *fakeRouter) Route(_ context.Context, req router.Request) (*router.Outcome, error) {
	f.reqs = append(f.reqs, req)
	return f.out, f.err
}

type fakeAdmitter struct {
	err        error
	identities []string
}

func (f *fakeAdmitter) Admit(_ context.Context, identity string) error {
	f.identities = append(f.identities, identity)
	return f.err
}

type fakeLocal struct {
	up bool
}

func (f fakeLocal) Available(context.Context) bool { return f.up }
func (f fakeLocal) Model() string                  { return "llama2" }
func (f fakeLocal) BaseURL() string                { return "http://localhost:11434" }

func testConfig() config.ServerConfig {
	return config.ServerConfig{Addr: ":0", AllowedOrigins: []string{"http://localhost:5173"}}
}

func do(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	s := New(testConfig(), &fakeRouter{}, nil)
	rec := do(t, s.Handler(), http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, map[string]any{"status": "ok", "service": "hybridgate"}, decode(t, rec))
	require.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestRequestIDIsEchoed(t *testing.T) {
	s := New(testConfig(), &fakeRouter{}, nil)
	rec := do(t, s.Handler(), http.MethodGet, "/health", nil, map[string]string{RequestIDHeader: "abc-123"})
	require.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestAnalyzeJSONResult(t *testing.T) {
	fr := &fakeRouter{out: &router.Outcome{Text: `{"summary":"good fit"}`, Backend: router.BackendLocal, Model: "llama2"}}
	s := New(testConfig(), fr, &fakeAdmitter{}, WithModelResolver(func(m string) string {
		if m == "fast" {
			return "gpt-4o-mini"
		}
		return m
	}))

	rec := do(t, s.Handler(), http.MethodPost, "/api/analyze", map[string]any{
		"resume":          "Go developer",
		"job_description": "Backend engineer",
		"task_type":       "review",
		"model":           "fast",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	require.Equal(t, map[string]any{"summary": "good fit"}, body["result"])
	require.Equal(t, "local", body["model_used"])
	require.Equal(t, "llama2", body["model"])
	require.Equal(t, true, body["is_local"])

	require.Len(t, fr.reqs, 1)
	require.Equal(t, "review", fr.reqs[0].TaskType)
	require.Equal(t, "gpt-4o-mini", fr.reqs[0].PreferredModel)
	require.True(t, fr.reqs[0].Fallback)
	require.Contains(t, fr.reqs[0].Prompt, "Go developer")
	require.Contains(t, fr.reqs[0].Prompt, "Backend engineer")
}

func TestAnalyzeRawResult(t *testing.T) {
	fr := &fakeRouter{out: &router.Outcome{
		Text:     "not json",
		Backend:  router.BackendRemote,
		Model:    "gpt-4o-mini",
		Attempts: []adapter.CallReport{{Adapter: "openai", Model: "gpt-4o-mini"}},
	}}
	s := New(testConfig(), fr, &fakeAdmitter{})

	rec := do(t, s.Handler(), http.MethodPost, "/api/analyze", map[string]any{
		"resume": "r", "job_description": "j", "task_type": "review", "use_local_when_possible": false,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	require.Equal(t, map[string]any{"raw_response": "not json"}, body["result"])
	require.Equal(t, false, body["is_local"])
	require.Equal(t, "openai", body["model_used"])
	require.Equal(t, "gpt-4o-mini", body["model"])
	require.Equal(t, "review", fr.reqs[0].TaskType)
	require.False(t, fr.reqs[0].Fallback)
}

func analyzeWithRouter(t *testing.T, remote, local *adapter.MockAdapter, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	s := New(testConfig(), router.New(remote, local), &fakeAdmitter{})
	return do(t, s.Handler(), http.MethodPost, "/api/analyze", body, nil)
}

func TestAnalyzeLocalFlagOffKeepsClassification(t *testing.T) {
	remote := adapter.NewMockAdapter().Named("openai")
	remote.Err = errors.New("remote down")
	local := adapter.NewMockAdapterWithResponses(nil, "local").Named("ollama")

	rec := analyzeWithRouter(t, remote, local, map[string]any{
		"resume": "r", "job_description": "j", "task_type": "review", "use_local_when_possible": false,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	require.Equal(t, true, body["is_local"])
	require.Equal(t, "local", body["model_used"])
	require.Equal(t, 0, remote.Calls())
	require.Equal(t, 1, local.Calls())
}

func TestAnalyzeLocalFlagOffDisablesFallback(t *testing.T) {
	remote := adapter.NewMockAdapter().Named("openai")
	remote.Err = errors.New("remote down")
	local := adapter.NewMockAdapterWithResponses(nil, "local").Named("ollama")

	rec := analyzeWithRouter(t, remote, local, map[string]any{
		"resume": "r", "job_description": "j", "task_type": "analyst", "use_local_when_possible": false,
	})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, decode(t, rec)["detail"], "Analysis failed")
	require.Equal(t, 1, remote.Calls())
	require.Equal(t, 0, local.Calls())
}

func TestAnalyzeFallbackByDefault(t *testing.T) {
	remote := adapter.NewMockAdapter().Named("openai")
	remote.Err = errors.New("remote down")
	local := adapter.NewMockAdapterWithResponses(nil, "local").Named("ollama")

	rec := analyzeWithRouter(t, remote, local, map[string]any{
		"resume": "r", "job_description": "j", "task_type": "analyst",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	require.Equal(t, true, body["is_local"])
	require.Equal(t, "local", body["model_used"])
	require.Equal(t, 1, remote.Calls())
	require.Equal(t, 1, local.Calls())
}

func TestAnalyzeValidation(t *testing.T) {
	s := New(testConfig(), &fakeRouter{}, &fakeAdmitter{})
	rec := do(t, s.Handler(), http.MethodPost, "/api/analyze", map[string]any{"resume": "r"}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyzeFailure(t *testing.T) {
	fr := &fakeRouter{err: errors.New("remote down")}
	s := New(testConfig(), fr, &fakeAdmitter{})
	rec := do(t, s.Handler(), http.MethodPost, "/api/analyze", map[string]any{
		"resume": "r", "job_description": "j", "task_type": "analyst",
	}, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "Analysis failed: remote down", decode(t, rec)["detail"])
}

func TestGenerate(t *testing.T) {
	fr := &fakeRouter{out: &router.Outcome{Text: "hi", Backend: router.BackendRemote, Model: "gpt-4o"}}
	s := New(testConfig(), fr, &fakeAdmitter{})
	rec := do(t, s.Handler(), http.MethodPost, "/api/generate", map[string]any{
		"prompt": "hello", "task_type": "analysis", "fallback": false,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, map[string]any{"response": "hi", "backend": "remote", "model": "gpt-4o"}, decode(t, rec))
	require.False(t, fr.reqs[0].Fallback)
}

func TestRateLimitedResponses(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		detail string
	}{
		{"identity", &ratelimit.LimitError{Scope: ratelimit.ScopeIdentity, RetryAfter: 12 * time.Second}, http.StatusTooManyRequests, "Too many requests. Please wait and try again."},
		{"global", &ratelimit.LimitError{Scope: ratelimit.ScopeGlobal, RetryAfter: 12 * time.Second}, http.StatusTooManyRequests, "Service busy. Please try again shortly."},
		{"store", errors.New("dial tcp: refused"), http.StatusServiceUnavailable, "Rate limiter unavailable. Please try again shortly."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fr := &fakeRouter{}
			s := New(testConfig(), fr, &fakeAdmitter{err: tc.err})
			rec := do(t, s.Handler(), http.MethodPost, "/api/generate", map[string]any{"prompt": "p"}, nil)
			require.Equal(t, tc.status, rec.Code)
			require.Equal(t, tc.detail, decode(t, rec)["detail"])
			require.Empty(t, fr.reqs)
			if tc.status == http.StatusTooManyRequests {
				require.Equal(t, "12", rec.Header().Get("Retry-After"))
			}
		})
	}
}

func TestIdentityFromHeader(t *testing.T) {
	adm := &fakeAdmitter{}
	fr := &fakeRouter{out: &router.Outcome{Text: "ok"}}
	s := New(testConfig(), fr, adm)

	do(t, s.Handler(), http.MethodPost, "/api/generate", map[string]any{"prompt": "p"}, map[string]string{"X-User-ID": "alice"})
	do(t, s.Handler(), http.MethodPost, "/api/generate", map[string]any{"prompt": "p"}, nil)
	require.Equal(t, []string{"alice", ""}, adm.identities)
}

func TestIdentityFromJWT(t *testing.T) {
	const secret = "test-secret"
	adm := &fakeAdmitter{}
	fr := &fakeRouter{out: &router.Outcome{Text: "ok"}}
	s := New(testConfig(), fr, adm, WithJWTSecret(secret))

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-42",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)

	rec := do(t, s.Handler(), http.MethodPost, "/api/generate", map[string]any{"prompt": "p"},
		map[string]string{"Authorization": "Bearer " + signed, "X-User-ID": "spoofed"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"user-42"}, adm.identities)

	bad, err := token.SignedString([]byte("other"))
	require.NoError(t, err)
	rec = do(t, s.Handler(), http.MethodPost, "/api/generate", map[string]any{"prompt": "p"},
		map[string]string{"Authorization": "Bearer " + bad})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Len(t, adm.identities, 1)
}

func TestModelsStatus(t *testing.T) {
	remote := adapter.NewMockAdapter().Named("openai")
	s := New(testConfig(), &fakeRouter{}, nil, WithRemote(remote), WithLocal(fakeLocal{up: true}))
	rec := do(t, s.Handler(), http.MethodGet, "/api/models/status", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	r := body["remote"].(map[string]any)
	require.Equal(t, "openai", r["provider"])
	require.Equal(t, true, r["available"])
	l := body["local"].(map[string]any)
	require.Equal(t, true, l["available"])
	require.Equal(t, "llama2", l["model"])

	s = New(testConfig(), &fakeRouter{}, nil, WithLocal(fakeLocal{up: false}))
	body = decode(t, do(t, s.Handler(), http.MethodGet, "/api/models/status", nil, nil))
	l = body["local"].(map[string]any)
	require.Equal(t, false, l["available"])
	require.Nil(t, l["model"])
	require.Equal(t, false, body["remote"].(map[string]any)["available"])
}

func TestCORS(t *testing.T) {
	s := New(testConfig(), &fakeRouter{}, nil)
	h := s.Handler()

	rec := do(t, h, http.MethodOptions, "/api/analyze", nil, map[string]string{
		"Origin":                        "http://localhost:5173",
		"Access-Control-Request-Method": "POST",
	})
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	rec = do(t, h, http.MethodOptions, "/api/analyze", nil, map[string]string{
		"Origin":                        "http://evil.example",
		"Access-Control-Request-Method": "POST",
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestPanicRecovery(t *testing.T) {
	s := New(testConfig(), panicRouter{}, &fakeAdmitter{})
	rec := do(t, s.Handler(), http.MethodPost, "/api/generate", map[string]any{"prompt": "p"}, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

type panicRouter struct{}

func (panicRouter) Route(context.Context, router.Request) (*router.Outcome, error) {
	panic("boom")
}

// TestEndToEndWithRedisLimiter wires the real router and limiter.
func TestEndToEndWithRedisLimiter(t *testing.T) {
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { client.Close() })

	limiter := ratelimit.New(ratelimit.NewRedisStore(client), ratelimit.Config{UserLimit: 2, GlobalLimit: 100, SafetyMargin: 5})
	remote := adapter.NewMockAdapterWithResponses(nil, "remote").Named("openai")
	local := adapter.NewMockAdapterWithResponses(nil, "local").Named("ollama")
	rt := router.New(remote, local)

	s := New(testConfig(), rt, limiter)
	h := s.Handler()
	body := map[string]any{"resume": "r", "job_description": "j", "task_type": "review"}
	hdr := map[string]string{"X-User-ID": "carol"}

	rec := do(t, h, http.MethodPost, "/api/analyze", body, hdr)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, decode(t, rec)["is_local"])
	require.Equal(t, 1, local.Calls())
	require.Equal(t, 0, remote.Calls())

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/analyze", body, hdr).Code)
	require.Equal(t, http.StatusTooManyRequests, do(t, h, http.MethodPost, "/api/analyze", body, hdr).Code)
	require.Equal(t, 2, local.Calls())
}
