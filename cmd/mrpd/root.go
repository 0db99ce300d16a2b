package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/AshAI-Sys/ashley-ai-sub015/cmd/mrpd/cli"
	"github.com/AshAI-Sys/ashley-ai-sub015/internal/app"
	jobmetrics "github.com/AshAI-Sys/ashley-ai-sub015/internal/jobs"
	"github.com/AshAI-Sys/ashley-ai-sub015/internal/mrp"
	"github.com/AshAI-Sys/ashley-ai-sub015/internal/observability"
	"github.com/AshAI-Sys/ashley-ai-sub015/internal/platform/cache"
	"github.com/AshAI-Sys/ashley-ai-sub015/internal/platform/db"
	"github.com/AshAI-Sys/ashley-ai-sub015/internal/shared"
	"github.com/AshAI-Sys/ashley-ai-sub015/jobs"
)

// exitError carries a command exit code through cobra.
type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// Execute runs the mrpd command tree and returns the process exit code.
// Without a subcommand it serves HTTP.
func Execute(ctx context.Context, stop context.CancelFunc, args []string) int {
	root := newRootCommand(stop)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	var exit exitError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &exit):
		return exit.code
	default:
		fmt.Fprintln(root.ErrOrStderr(), err)
		return 1
	}
}

type rootState struct {
	cfg    *app.Config
	logger *slog.Logger
}

func newRootCommand(stop context.CancelFunc) *cobra.Command {
	state := &rootState{}
	root := &cobra.Command{
		Use:           "mrpd",
		Short:         "Material requirements planning service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			state.cfg = cfg
			state.logger = app.NewLogger(cfg)
			return nil
		},
	}
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the planning HTTP API.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), stop, state.cfg, state.logger)
		},
	}
	root.RunE = serveCmd.RunE
	root.AddCommand(serveCmd, newMigrateCommand(state), newPlanCommand(state), newJobsCommand(state))
	return root
}

func newMigrateCommand(state *rootState) *cobra.Command {
	var down bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the planning schema migrations.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return db.Migrate(state.cfg.PGDSN, down, state.logger)
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "roll back all migrations")
	return cmd
}

func newPlanCommand(state *rootState) *cobra.Command {
	opts := cli.PlanOptions{}
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the requirement plan of a workspace.",
		Long:  `Exits 3 when any material is short so scripts can alert on it.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.Stdout = cmd.OutOrStdout()
			opts.Stderr = cmd.ErrOrStderr()
			rt, err := buildRuntime(cmd.Context(), state.cfg, state.logger)
			if err != nil {
				return err
			}
			defer rt.close()
			planCLI, err := cli.NewPlanCLI(rt.service)
			if err != nil {
				return err
			}
			return exitCode(planCLI.PlanCommand(cmd.Context(), opts))
		},
	}
	cmd.Flags().StringVar(&opts.Workspace, "workspace", "", "workspace id")
	cmd.Flags().StringVar(&opts.OrderID, "order", "", "limit the plan to one order")
	cmd.Flags().BoolVar(&opts.Optimize, "optimize", false, "consolidate shortfalls per supplier")
	cmd.Flags().BoolVar(&opts.JSONOutput, "json", false, "print JSON")
	cmd.Flags().StringVar(&opts.XLSXPath, "xlsx", "", "also write the plan workbook to this path")
	_ = cmd.MarkFlagRequired("workspace")
	return cmd
}

func newJobsCommand(state *rootState) *cobra.Command {
	opts := cli.JobsOptions{}
	run := func(action string) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			opts.Action = action
			opts.Stdout = cmd.OutOrStdout()
			opts.Stderr = cmd.ErrOrStderr()
			if opts.Retention == 0 {
				opts.Retention = state.cfg.IdempotencyRetention
			}
			jobsCLI, err := cli.NewJobsCLI(state.cfg.Queue())
			if err != nil {
				return err
			}
			defer func() { _ = jobsCLI.Close() }()
			return exitCode(jobsCLI.JobsCommand(cmd.Context(), opts))
		}
	}

	jobsCmd := &cobra.Command{Use: "jobs", Short: "Manage background planning jobs."}
	trigger := &cobra.Command{Use: "trigger", Short: "Enqueue a job now.", RunE: run("trigger")}
	trigger.Flags().StringVar(&opts.Job, "job", jobs.TaskPlanRefresh, "task type to enqueue")
	trigger.Flags().StringVar(&opts.Workspace, "workspace", "", "workspace id for plan refresh")
	trigger.Flags().DurationVar(&opts.Retention, "retention", 0, "retention for idempotency cleanup (default MRP_IDEMPOTENCY_RETENTION)")
	stats := &cobra.Command{Use: "stats", Short: "Show queue statistics.", RunE: run("stats")}
	jobsCmd.AddCommand(trigger, stats)
	return jobsCmd
}

func exitCode(code int) error {
	if code == 0 {
		return nil
	}
	return exitError{code: code}
}

type runtime struct {
	pool    *pgxpool.Pool
	redis   *redis.Client
	service *mrp.Service
	metrics *observability.Metrics
	close   func()
}

func buildRuntime(ctx context.Context, cfg *app.Config, logger *slog.Logger) (*runtime, error) {
	pool, err := db.New(ctx, cfg.Postgres())
	if err != nil {
		return nil, err
	}
	redisClient, err := cache.New(ctx, cfg.Redis())
	if err != nil {
		// The plan cache is optional; planning falls back to the store.
		logger.Warn("redis unavailable, plan cache disabled", slog.Any("error", err))
		redisClient = nil
	}

	metrics := observability.NewMetrics()
	deps := mrp.Dependencies{
		Audit:       shared.NewAuditLogger(pool),
		Idempotency: shared.NewIdempotencyStore(pool),
		Metrics:     jobmetrics.NewMetrics(metrics.Registerer()),
		Logger:      logger,
	}
	if redisClient != nil {
		deps.Cache = mrp.NewPlanCache(redisClient, cfg.PlanCacheTTL)
	}
	service := mrp.NewService(mrp.NewRepository(pool), cfg.MRP(), deps)

	return &runtime{
		pool:    pool,
		redis:   redisClient,
		service: service,
		metrics: metrics,
		close: func() {
			if redisClient != nil {
				if err := redisClient.Close(); err != nil {
					logger.Warn("redis close", slog.Any("error", err))
				}
			}
			pool.Close()
		},
	}, nil
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) error {
	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.close()

	inspector := asynq.NewInspector(cfg.Queue())
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	checks := map[string]app.Pinger{"postgres": rt.pool}
	if rt.redis != nil {
		checks["redis"] = app.PingFunc(func(ctx context.Context) error { return rt.redis.Ping(ctx).Err() })
	}
	router := app.NewRouter(app.RouterParams{
		Logger:     logger,
		Config:     cfg,
		MRPHandler: mrp.NewHandler(logger, rt.service),
		JobHandler: jobs.NewHandler(inspector, logger),
		Metrics:    rt.metrics,
		Checks:     checks,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("env", cfg.AppEnv))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			if stop != nil {
				stop()
			}
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
