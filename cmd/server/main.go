/*
main.go - Application entry point

PURPOSE:
  Starts the rent billing engine. Handles configuration, dependency
  injection, and graceful shutdown.

COMMANDS:
  serve       HTTP API plus the reconciliation scheduler
  reconcile   One time-advance scan, then exit

STARTUP SEQUENCE (serve):
  1. Load .env (optional), config.toml and RENT_* environment variables
  2. Initialize logger, store and lock backend
  3. Create rent.Service and API handler
  4. Start scheduler and HTTP server with graceful shutdown

FLAGS:
  --config   Config file (default: ./config.toml if present)
  --port     HTTP server port, overrides app.port
  --db       SQLite database path, overrides database.path
             Use ":memory:" for the in-memory store
  --as-of    (reconcile) Date to reconcile as of, YYYY-MM-DD

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (an in-flight run finishes)
  2. Stop accepting new connections
  3. Wait for active requests to complete (http.shutdown_timeout)
  4. Close store and lock connections

EXAMPLES:
  ./server serve --db="./data/rent.db"
  ./server serve --db=":memory:" --port=3000
  RENT_LOCK_BACKEND=redis ./server serve
  ./server reconcile --as-of=2024-03-01

SEE ALSO:
  - app.go: Dependency wiring
  - config/config.go: Configuration keys
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/rent-engine/api"
	"github.com/warp/rent-engine/generic"
)

func main() {
	_ = godotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "rent-engine",
		Short:         "Rent billing and reconciliation engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: ./config.toml)")

	root.AddCommand(serveCmd(&configPath), reconcileCmd(&configPath))
	return root
}

// =============================================================================
// SERVE
// =============================================================================

func serveCmd(configPath *string) *cobra.Command {
	var port, dbPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the reconciliation scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(*configPath, overrides{Port: port, DBPath: dbPath}, generic.SystemClock{})
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, app)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "HTTP server port")
	cmd.Flags().StringVar(&dbPath, "db", "", `SQLite database path (":memory:" for in-memory)`)
	return cmd
}

func serve(ctx context.Context, app *app) error {
	cfg, log := app.cfg, app.log

	scheduler := api.NewReconciliationScheduler(app.svc, log)
	scheduler.CheckInterval = cfg.Scheduler.Interval
	scheduler.Timeout = cfg.Scheduler.Timeout
	scheduler.Enabled = cfg.Scheduler.Enabled && cfg.Scheduler.Interval > 0
	scheduler.Start()
	defer scheduler.Stop()

	handler := api.NewHandler(app.svc, app.ping)
	router := api.NewRouter(handler, api.RouterOptions{
		Logger:         log,
		AllowedOrigins: cfg.HTTP.CORSAllowOrigins,
		RequestTimeout: cfg.HTTP.WriteTimeout,
	})

	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Server starting",
			zap.String("addr", server.Addr),
			zap.String("env", cfg.App.Env),
			zap.String("db", cfg.Database.Path),
			zap.String("lock", cfg.Lock.Backend),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down server")
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("Server stopped")
	return nil
}

// =============================================================================
// RECONCILE
// =============================================================================

func reconcileCmd(configPath *string) *cobra.Command {
	var asOf, dbPath string

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation scan and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			var clock generic.Clock = generic.SystemClock{}
			if asOf != "" {
				d, err := generic.ParseDate(asOf)
				if err != nil {
					return fmt.Errorf("--as-of: %w", err)
				}
				clock = generic.FixedClock{Date: d}
			}

			app, err := newApp(*configPath, overrides{DBPath: dbPath}, clock)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx := cmd.Context()
			if app.cfg.Scheduler.Timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, app.cfg.Scheduler.Timeout)
				defer cancel()
			}

			report, err := app.svc.ReconcileAll(ctx, app.svc.Today())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "as of %s: %d leases, %d invoices, %d changes, %d failed\n",
				report.AsOf, report.Leases, report.Invoices, len(report.Changes), report.Failed)
			for _, c := range report.Changes {
				fmt.Fprintf(cmd.OutOrStdout(), "  %-8s %-40s %s -> %s\n", c.Kind, c.ID, c.From, c.To)
			}
			if report.Failed > 0 {
				return fmt.Errorf("%d records failed to reconcile", report.Failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "reconcile as of this date (YYYY-MM-DD), default today")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path")
	return cmd
}
