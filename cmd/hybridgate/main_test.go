package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zen-systems/hybridgate/pkg/config"
)

func TestBuildRemote(t *testing.T) {
	cfg := config.Default()

	a, err := buildRemote(context.Background(), cfg)
	require.NoError(t, err)
	require.Nil(t, a)

	cfg.OpenAIAPIKey = "sk-test"
	a, err = buildRemote(context.Background(), cfg)
	require.NoError(t, err)
	require.Equal(t, "openai", a.Name())

	cfg.Remote.Provider = "anthropic"
	a, err = buildRemote(context.Background(), cfg)
	require.NoError(t, err)
	require.Nil(t, a)

	cfg.AnthropicAPIKey = "sk-ant-test"
	a, err = buildRemote(context.Background(), cfg)
	require.NoError(t, err)
	require.Equal(t, "anthropic", a.Name())

	cfg.Remote.Provider = "mock"
	a, err = buildRemote(context.Background(), cfg)
	require.NoError(t, err)
	require.Equal(t, "mock", a.Name())

	cfg.Remote.Provider = "deepseek"
	_, err = buildRemote(context.Background(), cfg)
	require.Error(t, err)
}

func TestNewAppWiresRouter(t *testing.T) {
	cfg := config.Default()
	cfg.Remote.Provider = "mock"
	cfg.Local.Model = "phi3"

	var logs bytes.Buffer
	a, err := newApp(context.Background(), cfg, &logs)
	require.NoError(t, err)
	require.NotNil(t, a.router)
	require.Equal(t, "phi3", a.local.Model())
	require.Equal(t, "http://localhost:11434", a.local.BaseURL())
}

func TestPrintRoutes(t *testing.T) {
	cfg := config.Default()
	cfg.Remote.Aliases = map[string]string{"fast": "gpt-4o-mini"}

	var out bytes.Buffer
	require.NoError(t, printRoutes(&out, cfg))

	text := out.String()
	require.Contains(t, text, "review")
	require.Contains(t, text, "local/llama2")
	require.Contains(t, text, "interview_prep")
	require.Contains(t, text, "remote/gpt-4o-mini")
	require.Contains(t, text, "fast")
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	require.Subset(t, names, []string{"serve", "ask", "status", "routes"})

	for _, c := range append(root.Commands(), root) {
		require.NotContains(t, c.Long, "\n\t", c.Name())
	}
}
