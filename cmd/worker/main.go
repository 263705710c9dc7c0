// Command worker runs the pipeline orchestration worker: it applies schema
// migrations, executes queued job runs, sweeps live pipelines, and provides
// operational commands for triggering and inspecting pipeline runs.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"

	"github.com/VariantEffect/mavedb-api-sub004/internal/app"
	"github.com/VariantEffect/mavedb-api-sub004/internal/config"
	internaldb "github.com/VariantEffect/mavedb-api-sub004/internal/db"
	"github.com/VariantEffect/mavedb-api-sub004/internal/domain"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	os.Exit(run())
}

func run() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "worker",
		Short:         "Pipeline orchestration worker",
		Long:          "Runs and inspects persisted, dependency-aware pipeline runs.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newTriggerCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// loadConfig loads .env plus environment configuration and builds the JSON
// logger. Every subcommand starts here.
func loadConfig() (*config.Config, *slog.Logger, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, nil, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}
	return cfg, logger, nil
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app.App, func(), error) {
	writeDB, readDB, err := internaldb.OpenSQLitePair(cfg.DBPath, 4)
	if err != nil {
		return nil, nil, fmt.Errorf("open orchestration database: %w", err)
	}
	cleanup := func() {
		_ = readDB.Close()
		_ = writeDB.Close()
	}

	if err := internaldb.RunMigrations(writeDB); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}

	a, err := app.New(app.Deps{
		Cfg:             cfg,
		WriteDB:         writeDB,
		ReadDB:          readDB,
		Logger:          logger,
		SoftwareVersion: version,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return a, cleanup, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the worker pool and coordination sweeper until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			a, cleanup, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := a.Sweeper.Start(); err != nil {
				return err
			}
			defer a.Sweeper.Stop()

			logger.Info("worker serving",
				"version", version,
				"workers", cfg.WorkerCount,
				"db_path", cfg.DBPath,
			)

			err = a.Pool.Run(ctx)
			a.Queue.Close()
			logger.Info("worker shut down")
			return err
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			writeDB, err := internaldb.OpenSQLite(cfg.DBPath, "write", 0)
			if err != nil {
				return fmt.Errorf("open orchestration database: %w", err)
			}
			defer writeDB.Close() //nolint:errcheck

			if err := internaldb.RunMigrations(writeDB); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
			logger.Info("migrations applied", "db_path", cfg.DBPath)
			return nil
		},
	}
}

func newTriggerCmd() *cobra.Command {
	var (
		createdBy string
		params    []string
		wait      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "trigger <pipeline>",
		Short: "Create a pipeline run and execute it to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			a, cleanup, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			pipelineParams, err := parseParams(params)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// The queue is in-process, so the trigger command runs its own
			// pool and waits for the pipeline to reach a terminal status.
			poolCtx, cancelPool := context.WithCancel(ctx)
			poolDone := make(chan error, 1)
			go func() { poolDone <- a.Pool.Run(poolCtx) }()

			pipeline, err := a.Trigger(ctx, args[0], createdBy, pipelineParams)
			if err != nil {
				cancelPool()
				<-poolDone
				return err
			}
			fmt.Printf("pipeline %s created (correlation %s)\n", pipeline.ID, pipeline.CorrelationID)

			final, err := waitForPipeline(ctx, a, pipeline.ID, wait)
			cancelPool()
			a.Queue.Close()
			<-poolDone
			if err != nil {
				return err
			}

			fmt.Printf("pipeline %s finished: %s\n", pipeline.ID, final.Status)
			if final.Status != domain.PipelineStatusSucceeded {
				return fmt.Errorf("pipeline finished %s", final.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&createdBy, "created-by", "cli", "Principal recorded as the pipeline creator")
	cmd.Flags().StringArrayVar(&params, "param", nil, "Pipeline parameter as key=value (repeatable)")
	cmd.Flags().DurationVar(&wait, "wait", 10*time.Minute, "Maximum time to wait for completion")
	return cmd
}

func waitForPipeline(ctx context.Context, a *app.App, pipelineID string,
	wait time.Duration) (*domain.Pipeline, error) {

	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		p, err := a.Pipelines.GetByID(ctx, pipelineID)
		if err != nil {
			return nil, err
		}
		if p.Status.IsTerminal() {
			return p, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("pipeline %s still %s after %s", pipelineID, p.Status, wait)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func newStatusCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "status [pipeline-id]",
		Short: "Show recent pipelines, or one pipeline's job runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			a, cleanup, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := cmd.Context()
			if len(args) == 0 {
				pipelines, err := a.Status.ListRecentPipelines(ctx, limit)
				if err != nil {
					return err
				}
				for _, p := range pipelines {
					fmt.Printf("%s  %-10s  %-40s  %s\n",
						p.ID, p.Status, p.Name, p.CreatedAt.Format(time.RFC3339))
				}
				return nil
			}

			overview, err := a.Status.PipelineOverview(ctx, args[0])
			if err != nil {
				return err
			}
			p := overview.Pipeline
			fmt.Printf("pipeline %s (%s)\nstatus: %s  created by: %s  correlation: %s\n",
				p.ID, p.Name, p.Status, p.CreatedBy, p.CorrelationID)
			fmt.Printf("job runs: %d\n", overview.TotalJobs)
			for status, count := range overview.JobCounts {
				fmt.Printf("  %-10s %d\n", status, count)
			}

			runs, err := a.Status.ListJobRuns(ctx, args[0])
			if err != nil {
				return err
			}
			for _, jr := range runs {
				errMsg := ""
				if jr.ErrorMessage != nil {
					errMsg = "  error: " + *jr.ErrorMessage
				}
				fmt.Printf("  %s  %-10s  %s (retries %d/%d)%s\n",
					jr.ID, jr.Status, jr.JobFunction, jr.RetryCount, jr.MaxRetries, errMsg)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum pipelines to list")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the worker version",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			_, _ = fmt.Fprintf(os.Stdout, "worker version %s (commit: %s)\n", version, commit)
			return nil
		},
	}
}

// parseParams converts repeated key=value flags to a parameter bag.
func parseParams(raw []string) (map[string]any, error) {
	params := make(map[string]any, len(raw))
	for _, kv := range raw {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid --param %q: expected key=value", kv)
		}
		params[strings.TrimSpace(key)] = value
	}
	return params, nil
}
