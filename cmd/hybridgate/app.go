package main

import (
	"context"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/zen-systems/hybridgate/pkg/adapter"
	"github.com/zen-systems/hybridgate/pkg/config"
	"github.com/zen-systems/hybridgate/pkg/logging"
	"github.com/zen-systems/hybridgate/pkg/ratelimit"
	"github.com/zen-systems/hybridgate/pkg/router"
)

// app holds the wired components shared by the subcommands.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	remote adapter.Adapter
	local  *adapter.OllamaAdapter
	router *router.Router
}

func newApp(ctx context.Context, cfg *config.Config, logOut io.Writer) (*app, error) {
	logger := logging.New(logOut, logging.Options{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})

	remote, err := buildRemote(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if remote == nil {
		logger.Warn().Str("provider", cfg.Remote.Provider).Msg("no API key for remote provider; remote calls will fail")
	}

	local := adapter.NewOllamaAdapter(adapter.OllamaConfig{
		BaseURL: cfg.Local.URL,
		Model:   cfg.Local.Model,
		Params: adapter.GenerationParams{
			MaxTokens:   cfg.Local.NumPredict,
			Temperature: cfg.Local.Temperature,
		},
		ProbeTimeout: cfg.Local.ProbeTimeout,
		Timeout:      cfg.Local.Timeout,
		HealthPath:   cfg.Local.HealthPath,
	})

	classifier := router.NewClassifier(cfg.Routing.SimpleTasks, cfg.Routing.ComplexTasks)
	r := router.New(remote, local,
		router.WithClassifier(classifier),
		router.WithDefaultRemoteModel(cfg.Remote.ResolveModel(cfg.Remote.DefaultModel)),
		router.WithLocalModel(local.Model()),
		router.WithLogger(logging.Component(logger, "router")),
	)

	return &app{cfg: cfg, logger: logger, remote: remote, local: local, router: r}, nil
}

// buildRemote creates the configured remote adapter. It returns nil without
// an error when the provider has no API key.
func buildRemote(ctx context.Context, cfg *config.Config) (adapter.Adapter, error) {
	params := adapter.GenerationParams{
		MaxTokens:   cfg.Remote.MaxTokens,
		Temperature: cfg.Remote.Temperature,
	}

	if !validProvider(cfg.Remote.Provider) {
		return nil, fmt.Errorf("unknown remote provider %q", cfg.Remote.Provider)
	}
	if !cfg.HasRemote() {
		return nil, nil
	}

	key := cfg.RemoteAPIKey()
	var (
		a   adapter.Adapter
		err error
	)
	switch cfg.Remote.Provider {
	case "mock":
		return adapter.NewMockAdapter(), nil
	case "openai":
		a, err = adapter.NewOpenAIAdapter(key,
			adapter.WithOpenAIBaseURL(cfg.Remote.BaseURL),
			adapter.WithOpenAIParams(params),
		)
	case "anthropic":
		a, err = adapter.NewAnthropicAdapter(key, params)
	case "google":
		a, err = adapter.NewGoogleAdapter(ctx, key, params)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s adapter: %w", cfg.Remote.Provider, err)
	}
	return adapter.WithTimeout(a, cfg.Remote.Timeout), nil
}

func validProvider(name string) bool {
	for _, p := range config.Providers {
		if p == name {
			return true
		}
	}
	return false
}

// dialLimiter connects to Redis and returns a limiter over it.
func dialLimiter(ctx context.Context, cfg *config.Config) (*ratelimit.Limiter, *redis.Client, error) {
	client, err := ratelimit.Dial(ctx, cfg.RateLimit.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	l := ratelimit.New(ratelimit.NewRedisStore(client), ratelimit.Config{
		UserLimit:    cfg.RateLimit.UserLimit,
		GlobalLimit:  cfg.RateLimit.GlobalLimit,
		SafetyMargin: cfg.RateLimit.SafetyMargin,
	})
	return l, client, nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
