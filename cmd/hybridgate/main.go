package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zen-systems/hybridgate/pkg/config"
	"github.com/zen-systems/hybridgate/pkg/logging"
	"github.com/zen-systems/hybridgate/pkg/ratelimit"
	"github.com/zen-systems/hybridgate/pkg/router"
	"github.com/zen-systems/hybridgate/pkg/server"
)

var configFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "hybridgate",
		Short: "Hybrid LLM router with local fallback and distributed rate limiting",
		Long: `Hybridgate routes prompts between a hosted model service and a local
Ollama backend based on task type, falls back to the local backend when
the remote call fails, and enforces per-user and global request limits
through Redis.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotEnv()
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(routesCmd())
	return rootCmd
}

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, os.Stderr)
			if err != nil {
				return err
			}

			limiter, client, err := dialLimiter(ctx, cfg)
			if err != nil {
				return fmt.Errorf("rate limiter: %w", err)
			}
			defer client.Close()

			srv := server.New(cfg.Server, a.router, limiter,
				server.WithRemote(a.remote),
				server.WithLocal(a.local),
				server.WithModelResolver(cfg.Remote.ResolveModel),
				server.WithJWTSecret(cfg.JWTSecret),
				server.WithLogger(logging.Component(a.logger, "http")),
			)

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			a.logger.Info().Msg("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}

func askCmd() *cobra.Command {
	var (
		taskType   string
		model      string
		noFallback bool
		identity   string
		showRoute  bool
	)

	cmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Route a single prompt and print the response",
		Long: `Routes the prompt by --task. Simple task types go to the local backend
when it is reachable; everything else goes to the remote provider.

With --identity the request is first admitted through the Redis rate limiter.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			a, err := newApp(ctx, cfg, os.Stderr)
			if err != nil {
				return err
			}

			if identity != "" {
				limiter, client, err := dialLimiter(ctx, cfg)
				if err != nil {
					return fmt.Errorf("rate limiter: %w", err)
				}
				defer client.Close()
				if err := limiter.Admit(ctx, identity); err != nil {
					var limitErr *ratelimit.LimitError
					if errors.As(err, &limitErr) {
						return fmt.Errorf("%w: retry in %s", err, limitErr.RetryAfter)
					}
					return err
				}
			}

			out, err := a.router.Route(ctx, router.Request{
				Prompt:         args[0],
				TaskType:       taskType,
				PreferredModel: cfg.Remote.ResolveModel(model),
				Fallback:       !noFallback,
			})
			if err != nil {
				return err
			}

			if showRoute {
				fmt.Fprintf(cmd.ErrOrStderr(), "Routed to %s/%s\n", out.Backend, out.Model)
				if out.Decision != nil && out.Decision.FallbackTriggered {
					fmt.Fprintln(cmd.ErrOrStderr(), "Remote call failed; served by local fallback")
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), out.Text)
			return nil
		},
	}

	cmd.Flags().StringVar(&taskType, "task", "", "task type label used for routing")
	cmd.Flags().StringVar(&model, "model", "", "remote model or alias")
	cmd.Flags().BoolVar(&noFallback, "no-fallback", false, "do not retry on the local backend")
	cmd.Flags().StringVar(&identity, "identity", "", "enforce rate limits for this identity")
	cmd.Flags().BoolVar(&showRoute, "show-route", true, "print the chosen backend to stderr")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show backend and rate limiter status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			a, err := newApp(ctx, cfg, io.Discard)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "COMPONENT\tSTATUS\tDETAIL")

			remoteStatus := "no key"
			remoteDetail := cfg.Remote.Provider
			if a.remote != nil {
				remoteStatus = "ready"
				remoteDetail = fmt.Sprintf("%s (%s)", a.remote.Name(), strings.Join(a.remote.Models(), ", "))
			}
			fmt.Fprintf(w, "remote\t%s\t%s\n", remoteStatus, remoteDetail)

			localStatus := "unreachable"
			if a.local.Available(ctx) {
				localStatus = "available"
			}
			fmt.Fprintf(w, "local\t%s\t%s %s\n", localStatus, a.local.BaseURL(), a.local.Model())

			redisStatus := "connected"
			pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			if _, client, err := dialLimiter(pingCtx, cfg); err != nil {
				redisStatus = "unreachable"
			} else {
				client.Close()
			}
			fmt.Fprintf(w, "redis\t%s\t%s\n", redisStatus, cfg.RateLimit.RedisURL)

			return w.Flush()
		},
	}
}

func routesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "Show the task classification table",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return printRoutes(cmd.OutOrStdout(), cfg)
		},
	}
}

func printRoutes(out io.Writer, cfg *config.Config) error {
	c := router.NewClassifier(cfg.Routing.SimpleTasks, cfg.Routing.ComplexTasks)
	localModel := cfg.Local.Model
	remoteModel := cfg.Remote.ResolveModel(cfg.Remote.DefaultModel)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TASK TYPE\tCLASS\tLOCAL UP\tLOCAL DOWN")
	for _, task := range c.SimpleTasks() {
		fmt.Fprintf(w, "%s\t%s\tlocal/%s\tremote/%s\n", task, router.Simple, localModel, remoteModel)
	}
	for _, task := range c.ComplexTasks() {
		fmt.Fprintf(w, "%s\t%s\tremote/%s\tremote/%s\n", task, router.Complex, remoteModel, remoteModel)
	}
	fmt.Fprintf(w, "*\t%s\tremote/%s\tremote/%s\n", router.Complex, remoteModel, remoteModel)

	if names := cfg.Remote.AliasNames(); len(names) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "ALIAS\tMODEL\t\t")
		for _, name := range names {
			fmt.Fprintf(w, "%s\t%s\t\t\n", name, cfg.Remote.Aliases[name])
		}
	}
	return w.Flush()
}
