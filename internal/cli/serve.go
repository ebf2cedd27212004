package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bryanwahyu/contract-risk/internal/application/analysis"
	"github.com/bryanwahyu/contract-risk/internal/infra/httpserver"
	"github.com/bryanwahyu/contract-risk/internal/logger"
	"github.com/bryanwahyu/contract-risk/internal/middleware"
)

const (
	shutdownTimeout = 15 * time.Second
	drainTimeout    = 30 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serve starts the HTTP API. Stale IN_PROGRESS attempts left behind by a
previous process are failed at startup and periodically afterwards.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "HTTP port (default 8080)")
	serveCmd.Flags().String("db", "", "database driver: memory, sqlite, mysql, postgres")
	serveCmd.Flags().String("db-path", "", "sqlite database file")
	serveCmd.Flags().String("failure-policy", "", "all_or_nothing or pattern_fallback")
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("database.driver", serveCmd.Flags().Lookup("db"))
	_ = viper.BindPFlag("database.path", serveCmd.Flags().Lookup("db-path"))
	_ = viper.BindPFlag("analysis.failurepolicy", serveCmd.Flags().Lookup("failure-policy"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.New(cfg, "contractrisk")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	catalog, err := buildCatalog(cfg.Analysis.PatternsFile)
	if err != nil {
		return fmt.Errorf("pattern catalog: %w", err)
	}
	be, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer be.Close()

	analyzer, err := newAnalyzer(cfg, catalog)
	if err != nil {
		return err
	}
	opts, err := serviceOptions(cfg, catalog, log)
	if err != nil {
		return err
	}
	if err := checkAnalyzerPolicy(analyzer, opts.Policy); err != nil {
		return err
	}
	if analyzer == nil {
		log.Warn("no OpenAI key configured, results are pattern-only and flagged degraded")
	}
	svc := analysis.NewService(be.repo, be.texts, analyzer, opts)

	// attempts of a previous process can never finish
	if _, err := svc.Reconcile(ctx, cfg.StaleAfter()); err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	go svc.RunReconciler(ctx, reconcileInterval(cfg.StaleAfter()), cfg.StaleAfter())

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	go limiter.Run(ctx)

	checks := make(map[string]middleware.HealthChecker, len(be.checks))
	for name, p := range be.checks {
		checks[name] = &middleware.PingChecker{Target: p}
	}
	var shuttingDown atomic.Bool

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr: addr,
		Handler: httpserver.NewRouter(svc, httpserver.Options{
			APIKeys:        cfg.Auth.APIKeys,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			RateLimiter:    limiter,
			MaxBodyBytes:   cfg.Server.MaxBodyBytes,
			Checks:         checks,
			Ready:          func() bool { return !shuttingDown.Load() },
			Logger:         log.Named("http"),
		}),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", addr, "driver", cfg.Database.Driver,
			"semantic", analyzer != nil, "patterns", catalog.Len(), "policy", opts.Policy)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
	log.Info("shutting down server...")
	shuttingDown.Store(true)

	ctx2, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Error("shutdown error", "error", err)
	}

	// running attempts finish and persist before the stores close
	ctx3, cancel3 := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel3()
	if err := svc.Close(ctx3); err != nil {
		log.Warn("analysis attempts still running at exit, they will be reconciled on next start", "error", err)
	}
	return nil
}

func reconcileInterval(staleAfter time.Duration) time.Duration {
	interval := staleAfter / 2
	if interval > 5*time.Minute {
		interval = 5 * time.Minute
	}
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}
