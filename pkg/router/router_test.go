package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/zen-systems/hybridgate/pkg/adapter"
)

func newBackends() (*adapter.MockAdapter, *adapter.MockAdapter) {
	remote := adapter.NewMockAdapterWithResponses(nil, "remote says").Named("openai")
	local := adapter.NewMockAdapterWithResponses(nil, "local says").Named("ollama")
	return remote, local
}

func TestSimpleTaskUsesLocalWhenAvailable(t *testing.T) {
	for _, label := range DefaultSimpleTasks {
		remote, local := newBackends()
		r := New(remote, local, WithLocalModel("llama2"))

		out, err := r.Route(context.Background(), Request{Prompt: "p", TaskType: label, Fallback: true})
		require.NoError(t, err)
		require.Equal(t, BackendLocal, out.Backend, label)
		require.Equal(t, "llama2", out.Model)
		require.Equal(t, 1, local.Calls())
		require.Zero(t, remote.Calls())
	}
}

func TestSimpleTaskUsesRemoteWhenLocalDown(t *testing.T) {
	remote, local := newBackends()
	local.Unavailable = true
	r := New(remote, local)

	out, err := r.Route(context.Background(), Request{Prompt: "p", TaskType: "review"})
	require.NoError(t, err)
	require.Equal(t, BackendRemote, out.Backend)
	require.Equal(t, DefaultRemoteModel, out.Model)
	require.Zero(t, local.Calls())
}

func TestComplexTaskAlwaysRemote(t *testing.T) {
	labels := append([]string{"", "unknown-label"}, DefaultComplexTasks...)
	for _, label := range labels {
		for _, available := range []bool{true, false} {
			remote, local := newBackends()
			local.Unavailable = !available
			r := New(remote, local)

			out, err := r.Route(context.Background(), Request{Prompt: "p", TaskType: label})
			require.NoError(t, err)
			require.Equal(t, BackendRemote, out.Backend, "label=%q available=%v", label, available)
			require.Zero(t, local.Calls())
		}
	}
}

func TestPreferredRemoteModel(t *testing.T) {
	remote, local := newBackends()
	r := New(remote, local, WithDefaultRemoteModel("gpt-4o"))

	out, err := r.Route(context.Background(), Request{Prompt: "p", TaskType: "editor", PreferredModel: "gpt-4-turbo"})
	require.NoError(t, err)
	require.Equal(t, "gpt-4-turbo", remote.LastModel())
	require.Equal(t, "gpt-4-turbo", out.Model)

	_, err = r.Route(context.Background(), Request{Prompt: "p", TaskType: "editor"})
	require.NoError(t, err)
	require.Equal(t, "gpt-4o", remote.LastModel())
}

func TestRemoteFailureFallsBackToLocal(t *testing.T) {
	remote, local := newBackends()
	remote.Err = &adapter.CallError{Backend: "openai", Status: 503}
	r := New(remote, local, WithLocalModel("llama2"))

	out, err := r.Route(context.Background(), Request{Prompt: "analyze me", TaskType: "analyst", Fallback: true})
	require.NoError(t, err)
	require.Equal(t, BackendLocal, out.Backend)
	require.Equal(t, "analyze me", local.LastPrompt())
	require.True(t, out.Decision.FallbackTriggered)
	require.Len(t, out.Attempts, 2)
	require.NotEmpty(t, out.Attempts[0].Error)
	require.True(t, out.Attempts[0].Transient)
	require.True(t, out.Attempts[1].FallbackUsed)
}

func TestFallbackDisabledPropagatesRemoteFailure(t *testing.T) {
	remote, local := newBackends()
	cause := errors.New("quota exceeded")
	remote.Err = cause
	r := New(remote, local)

	out, err := r.Route(context.Background(), Request{Prompt: "p", TaskType: "editor", Fallback: false})
	require.Nil(t, out)
	require.ErrorIs(t, err, cause)
	require.ErrorIs(t, err, adapter.ErrBackendCallFailed)
	require.Zero(t, local.Calls())
}

func TestRemoteFailureWithLocalDownPropagates(t *testing.T) {
	remote, local := newBackends()
	remote.Err = errors.New("boom")
	local.Unavailable = true
	r := New(remote, local)

	_, err := r.Route(context.Background(), Request{Prompt: "p", TaskType: "editor", Fallback: true})
	require.ErrorIs(t, err, adapter.ErrBackendCallFailed)
	require.Zero(t, local.Calls())
	require.Equal(t, 1, remote.Calls())
}

func TestLocalFailureIsNotRetried(t *testing.T) {
	remote, local := newBackends()
	localErr := &adapter.CallError{Backend: "ollama", Model: "llama2", Status: 500}
	local.Err = localErr
	r := New(remote, local)

	_, err := r.Route(context.Background(), Request{Prompt: "p", TaskType: "checklist", Fallback: true})
	var callErr *adapter.CallError
	require.True(t, errors.As(err, &callErr))
	require.Same(t, localErr, callErr)
	require.Equal(t, 1, local.Calls())
	require.Zero(t, remote.Calls())
}

func TestFallbackFailureReturnsLocalError(t *testing.T) {
	remote, local := newBackends()
	remote.Err = errors.New("remote down")
	localErr := &adapter.CallError{Backend: "ollama", Status: 500}
	local.Err = localErr
	r := New(remote, local)

	_, err := r.Route(context.Background(), Request{Prompt: "p", TaskType: "editor", Fallback: true})
	var callErr *adapter.CallError
	require.True(t, errors.As(err, &callErr))
	require.Same(t, localErr, callErr)
	require.Equal(t, 1, remote.Calls())
	require.Equal(t, 1, local.Calls())
}

func TestNilRemoteFailsAndCanFallBack(t *testing.T) {
	_, local := newBackends()
	r := New(nil, local)

	out, err := r.Route(context.Background(), Request{Prompt: "p", TaskType: "editor", Fallback: true})
	require.NoError(t, err)
	require.Equal(t, BackendLocal, out.Backend)

	_, err = r.Route(context.Background(), Request{Prompt: "p", TaskType: "editor"})
	require.ErrorIs(t, err, adapter.ErrBackendCallFailed)
}

func TestCanceledContextAbandonsFallback(t *testing.T) {
	remote, local := newBackends()
	r := New(remote, local)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Route(ctx, Request{Prompt: "p", TaskType: "editor", Fallback: true})
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, err, adapter.ErrBackendCallFailed)
	require.Zero(t, local.Calls())
}

func TestMalformedContentPassesThrough(t *testing.T) {
	remote := adapter.NewMockAdapterWithResponses(map[string]string{"p": "{not json"}, "")
	_, local := newBackends()
	r := New(remote, local)

	out, err := r.Route(context.Background(), Request{Prompt: "p", TaskType: "editor", Fallback: true})
	require.NoError(t, err)
	require.Equal(t, "{not json", out.Text)
	require.Equal(t, BackendRemote, out.Backend)
	require.Zero(t, local.Calls())
}

func TestDecisionEventLogged(t *testing.T) {
	var buf bytes.Buffer
	remote, local := newBackends()
	remote.Err = errors.New("boom")
	r := New(remote, local, WithLogger(zerolog.New(&buf)))

	_, err := r.Route(context.Background(), Request{Prompt: "p", TaskType: "analyst", Fallback: true})
	require.NoError(t, err)

	var ev map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &ev))
	require.Equal(t, "route decision", ev["message"])
	require.Equal(t, "complex", ev["classification"])
	require.Equal(t, true, ev["local_available"])
	require.Equal(t, "remote", ev["selected"])
	require.Equal(t, "local", ev["served"])
	require.Equal(t, true, ev["fallback_triggered"])
	require.EqualValues(t, 2, ev["attempts"])
}
