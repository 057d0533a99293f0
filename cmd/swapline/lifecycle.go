package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"swapline/internal/app"
	"swapline/internal/engine"
	"swapline/internal/runner"
	"swapline/internal/server"
	swaplinesdk "swapline/sdk/go"
)

const shutdownTimeout = 15 * time.Second

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "run <hourly|daily|weekly>",
		Short:     "Run one trigger now",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{runner.TriggerHourly, runner.TriggerDaily, runner.TriggerWeekly},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				sum, err := runner.Dispatch(ctx, rt.Engine, args[0])
				if errors.Is(err, runner.ErrUnknownTrigger) {
					return err
				}
				if perr := printJSON(sum); perr != nil {
					return perr
				}
				for _, ee := range engine.EntityErrors(err) {
					slog.Warn("entity failed", "collection", ee.Collection, "id", ee.ID, "err", ee.Err)
				}
				return err
			})
		},
	}
}

func visitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "visit",
		Short: "Run the visit triggers if the last visit run is older than the visit interval",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				res, err := rt.VisitRunner().Visit(ctx)
				if perr := printJSON(res); perr != nil {
					return perr
				}
				return err
			})
		},
	}
}

func scheduleCmd() *cobra.Command {
	var runAtStart bool
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run triggers on their configured cadences until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := app.Open(cmd.Context(), viper.GetString("workspace"), slog.Default())
			if err != nil {
				return err
			}
			defer rt.Close()
			stop := startScheduler(rt, runAtStart)
			return waitForShutdown(map[string]gfshutdown.Operation{"scheduler": stop})
		},
	}
	cmd.Flags().BoolVar(&runAtStart, "run-at-start", false, "fire every trigger once on startup")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var withSchedule, insecure bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := app.Open(cmd.Context(), viper.GetString("workspace"), slog.Default())
			if err != nil {
				return err
			}
			defer rt.Close()
			authCfg := server.AuthConfig{JWTSecret: viper.GetString("jwt-secret"), Insecure: insecure}
			if authCfg.JWTSecret == "" && !insecure {
				return fmt.Errorf("SWAPLINE_JWT_SECRET (or --jwt-secret) is required for bearer auth; use --insecure for local testing")
			}
			handler, err := server.New(server.Config{Engine: rt.Engine, BasePath: basePath, Auth: authCfg, Logger: slog.Default()})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			serveErr := make(chan error, 1)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()
			ops := map[string]gfshutdown.Operation{
				"http-server": func(ctx context.Context) error { return srv.Shutdown(ctx) },
			}
			if withSchedule {
				ops["scheduler"] = startScheduler(rt, false)
			}
			fmt.Printf("Serving swapline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			// A failed listener would otherwise leave us waiting for a signal.
			select {
			case err := <-serveErr:
				if err != nil {
					return err
				}
			case <-time.After(200 * time.Millisecond):
			}
			return waitForShutdown(ops)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&withSchedule, "schedule", false, "also run the periodic scheduler")
	cmd.Flags().BoolVar(&insecure, "insecure", false, "disable API authentication")
	return cmd
}

func triggerCmd() *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "trigger <hourly|daily|weekly>",
		Short: "Run a trigger on a remote swapline server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if url == "" {
				return fmt.Errorf("--url required")
			}
			client := swaplinesdk.New(url, viper.GetString("token"))
			sum, err := client.RunTrigger(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(sum)
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "API base URL, e.g. http://127.0.0.1:8080/v0")
	cmd.Flags().String("token", "", "bearer token with triggers.run")
	_ = viper.BindPFlag("token", cmd.Flags().Lookup("token"))
	return cmd
}

// startScheduler runs the scheduler in the background and returns an
// operation that stops it and waits for the current run to finish.
func startScheduler(rt *app.Runtime, runAtStart bool) gfshutdown.Operation {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s := rt.Scheduler(runAtStart)
	s.OnRun = func(sum runner.Summary, err error) {
		if err == nil {
			slog.Debug("trigger finished", "trigger", sum.Trigger, "duration", sum.Duration)
		}
	}
	slog.Info("scheduler started", "cadences", s.Cadences)
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	return func(shutdownCtx context.Context) error {
		cancel()
		select {
		case <-done:
			return nil
		case <-shutdownCtx.Done():
			return shutdownCtx.Err()
		}
	}
}

func waitForShutdown(ops map[string]gfshutdown.Operation) error {
	wait := gfshutdown.GracefulShutdown(context.Background(), shutdownTimeout, ops)
	if code := <-wait; code != 0 {
		return fmt.Errorf("shutdown finished with exit code %d", code)
	}
	return nil
}
