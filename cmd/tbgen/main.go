package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/CymonMachera/OnSight-Helper/internal/cohort"
	"github.com/CymonMachera/OnSight-Helper/internal/config"
	"github.com/CymonMachera/OnSight-Helper/internal/platform/archive"
	"github.com/CymonMachera/OnSight-Helper/internal/platform/auth"
	"github.com/CymonMachera/OnSight-Helper/internal/platform/db"
	"github.com/CymonMachera/OnSight-Helper/internal/platform/middleware"
	"github.com/CymonMachera/OnSight-Helper/internal/platform/reporting"
	"github.com/CymonMachera/OnSight-Helper/internal/platform/sandbox"
	"github.com/CymonMachera/OnSight-Helper/internal/platform/sink"
	"github.com/CymonMachera/OnSight-Helper/internal/platform/telemetry"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:           "tbgen",
		Short:         "Synthetic tuberculosis cohort generator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(summaryCmd())
	rootCmd.AddCommand(schemaCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

// addCohortFlags registers the generation flags. Flags that are not set
// leave the configured value alone.
func addCohortFlags(cmd *cobra.Command) {
	cmd.Flags().Int("count", 0, "number of records to generate (default from RECORD_COUNT)")
	cmd.Flags().Float64("prevalence", 0, "probability that a record is TB-positive (default from PREVALENCE)")
	cmd.Flags().Int64("seed", 0, "random seed (default from SEED)")
}

func applyCohortFlags(cmd *cobra.Command, cfg *config.Config) error {
	if cmd.Flags().Changed("count") {
		cfg.RecordCount, _ = cmd.Flags().GetInt("count")
	}
	if cmd.Flags().Changed("prevalence") {
		cfg.Prevalence, _ = cmd.Flags().GetFloat64("prevalence")
	}
	if cmd.Flags().Changed("seed") {
		cfg.Seed, _ = cmd.Flags().GetInt64("seed")
	}
	if cmd.Flags().Lookup("output") != nil && cmd.Flags().Changed("output") {
		cfg.OutputPath, _ = cmd.Flags().GetString("output")
	}
	return cfg.Validate()
}

func generateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a synthetic cohort and write it to CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := applyCohortFlags(cmd, cfg); err != nil {
				return err
			}
			sinkNames, _ := cmd.Flags().GetStringSlice("sink")
			return runGenerate(cmd.Context(), cfg, newLogger(cfg), sinkNames)
		},
	}
	addCohortFlags(cmd)
	cmd.Flags().StringP("output", "o", "", "output CSV path (default from OUTPUT_PATH)")
	cmd.Flags().StringSlice("sink", nil, "additional sinks: postgres, sqlite, s3")
	return cmd
}

func runGenerate(ctx context.Context, cfg *config.Config, logger zerolog.Logger, sinkNames []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	extra, closeSinks, err := openSinks(ctx, cfg, sinkNames)
	if err != nil {
		return err
	}
	defer closeSinks()

	metrics := telemetry.NewMetrics()
	cohortCfg := cfg.Cohort()

	logger.Info().
		Int("records", cohortCfg.RecordCount).
		Float64("prevalence", cohortCfg.Prevalence).
		Int64("seed", cohortCfg.Seed).
		Msgf("Generating %d synthetic patients ...", cohortCfg.RecordCount)

	start := time.Now()
	c, err := cohort.Generate(ctx, cohortCfg)
	if err != nil {
		return err
	}
	metrics.ObserveCohort(c, time.Since(start))
	logger.Info().Int("positives", c.Positives()).Msg("Patient generation completed. Writing to file")

	run := sink.NewRun(cohortCfg)
	sinks := append([]sink.Sink{sink.FileSink{Path: cfg.OutputPath}}, extra...)
	if err := sink.Fanout(ctx, run, c, metrics.ObserveSinkWrite, sinks...); err != nil {
		return err
	}

	logger.Info().
		Str("run_id", run.ID.String()).
		Str("output", cfg.OutputPath).
		Int("sinks", len(sinks)).
		Msg("Process completed")
	return nil
}

// openSinks builds the requested secondary sinks. The returned func releases
// any connections they hold.
func openSinks(ctx context.Context, cfg *config.Config, names []string) ([]sink.Sink, func(), error) {
	var sinks []sink.Sink
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "":
			continue
		case "postgres":
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				closeAll()
				return nil, nil, err
			}
			closers = append(closers, pool.Close)
			if _, err := db.NewMigrator(pool, db.Migrations()).Up(ctx); err != nil {
				closeAll()
				return nil, nil, fmt.Errorf("migrate: %w", err)
			}
			sinks = append(sinks, sink.NewPostgresSink(pool))
		case "sqlite":
			s, err := sink.OpenSQLite(cfg.SQLitePath)
			if err != nil {
				closeAll()
				return nil, nil, err
			}
			closers = append(closers, func() { _ = s.Close() })
			sinks = append(sinks, s)
		case "s3":
			s, err := sink.NewS3Sink(ctx, sink.S3Config{
				Bucket:    cfg.S3Bucket,
				Region:    cfg.S3Region,
				Endpoint:  cfg.S3Endpoint,
				Prefix:    cfg.S3Prefix,
				PathStyle: cfg.S3PathStyle,
			})
			if err != nil {
				closeAll()
				return nil, nil, err
			}
			sinks = append(sinks, s)
		default:
			closeAll()
			return nil, nil, fmt.Errorf("unknown sink %q (want postgres, sqlite or s3)", name)
		}
	}
	return sinks, closeAll, nil
}

func summaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Generate a cohort in memory and print its calibration table",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := applyCohortFlags(cmd, cfg); err != nil {
				return err
			}
			c, err := cohort.Generate(cmd.Context(), cfg.Cohort())
			if err != nil {
				return err
			}
			return cohort.Summarize(c).WriteTable(cmd.OutOrStdout())
		},
	}
	addCohortFlags(cmd)
	return cmd
}

func schemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the classifier feature vector column order",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for i, name := range cohort.FeatureColumns() {
				fmt.Fprintf(out, "%2d  %s\n", i, name)
			}
			fmt.Fprintf(out, "label  %s\n", cohort.Status)
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres cohort schema",
	}

	withMigrator := func(fn func(ctx context.Context, m *db.Migrator) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()
			return fn(ctx, db.NewMigrator(pool, db.Migrations()))
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: withMigrator(func(ctx context.Context, m *db.Migrator) error {
			count, err := m.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: withMigrator(func(ctx context.Context, m *db.Migrator) error {
			statuses, err := m.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status, appliedAt := "pending", ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		}),
	})

	return cmd
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the cohort generator over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			sinkNames, _ := cmd.Flags().GetStringSlice("sink")
			return runServer(cfg, sinkNames)
		},
	}
	cmd.Flags().StringSlice("sink", nil, "sinks used when a request sets persist: postgres, sqlite, s3")
	return cmd
}

func newServer(cfg *config.Config, logger zerolog.Logger, metrics *telemetry.Metrics, sinks []sink.Sink) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders:  []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposeHeaders: []string{"X-Cohort-Run-ID", "X-Request-ID"},
	}))
	e.Use(metrics.Middleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("64K"))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/metrics", metrics.Handler())
	for _, s := range sinks {
		if p, ok := s.(db.Pinger); ok {
			e.GET("/health/"+s.Name(), db.HealthHandler(p))
		}
	}

	var guard []echo.MiddlewareFunc
	switch {
	case cfg.AuthSigningKey != "":
		guard = append(guard,
			auth.JWTMiddleware(auth.JWTConfig{
				Issuer:     cfg.AuthIssuer,
				Audience:   cfg.AuthAudience,
				SigningKey: []byte(cfg.AuthSigningKey),
			}),
			auth.RequireScope(auth.ScopeGenerate),
		)
	case cfg.IsDev():
		guard = append(guard, auth.DevAuthMiddleware())
	}

	// The archive goes last: Fanout stops at the first failing sink, so a run
	// is only listed once every external sink has accepted it.
	runs := archive.New(cfg.ArchiveMaxRuns)
	persist := append(append([]sink.Sink{}, sinks...), runs)

	apiV1 := e.Group("/api/v1")
	sandbox.NewCohortHandler(cfg.Cohort(), cfg.MaxServeRecords, logger, metrics, persist...).RegisterRoutes(apiV1, guard...)
	archive.NewHandler(runs).RegisterRoutes(apiV1, guard...)
	for _, s := range sinks {
		if pg, ok := s.(*sink.PostgresSink); ok {
			reporting.NewHandler(pg.Pool()).RegisterRoutes(apiV1, guard...)
		}
	}
	return e
}

func runServer(cfg *config.Config, sinkNames []string) error {
	logger := newLogger(cfg)
	if cfg.AuthSigningKey == "" && !cfg.IsDev() {
		logger.Warn().Msg("AUTH_SIGNING_KEY is not set; cohort generation is unauthenticated")
	}

	ctx := context.Background()
	sinks, closeSinks, err := openSinks(ctx, cfg, sinkNames)
	if err != nil {
		return err
	}
	defer closeSinks()

	e := newServer(cfg, logger, telemetry.NewMetrics(), sinks)

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
