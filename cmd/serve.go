package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ossguard/scanguard/internal/catalogue"
	"github.com/ossguard/scanguard/internal/config"
	"github.com/ossguard/scanguard/internal/database"
	"github.com/ossguard/scanguard/internal/dispatch"
	"github.com/ossguard/scanguard/internal/httpapi"
	"github.com/ossguard/scanguard/internal/ingestion"
	"github.com/ossguard/scanguard/internal/jobcache"
	"github.com/ossguard/scanguard/internal/lookup"
	"github.com/ossguard/scanguard/internal/packageindex"
	"github.com/ossguard/scanguard/internal/report"
	"github.com/ossguard/scanguard/internal/rulesnapshot"
	"github.com/ossguard/scanguard/internal/scheduler"
	"github.com/ossguard/scanguard/internal/subscription"
	"github.com/ossguard/scanguard/internal/suppression"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scanguard scan lifecycle engine",
	Long: `Starts the HTTP server that fronts the scan lifecycle engine: job
dispatch, verdict ingestion, the rule-set snapshot, malicious-package
reporting, and read-side lookups, plus the background scheduler that keeps
the rule snapshot fresh and reaps abandoned leases.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		fmt.Println("\nShutting down scanguard gracefully...")
		cancel()
	}()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	setupServeLogger(cfg)

	db, err := database.New(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	store := catalogue.New(db)

	rules, err := rulesnapshot.New(cfg.Rules, store)
	if err != nil {
		return fmt.Errorf("configuring rule snapshot: %w", err)
	}
	if err := rules.Refresh(ctx); err != nil {
		slog.Warn("initial rule snapshot refresh failed, starting with an empty snapshot", "error", err)
	}

	leaseTimeout := time.Duration(cfg.Server.JobTimeoutSeconds) * time.Second
	cache := jobcache.New(cfg.Cache.Size, store, leaseTimeout)

	index := packageindex.New(cfg.Index)
	dispatchSvc := dispatch.New(store, cache, rules, leaseTimeout)
	ingestionSvc := ingestion.New(store, cache, index)
	reportSvc := report.New(store, index, cfg.Reporter)
	lookupSvc := lookup.New(store)
	subscriptionSvc := subscription.New(db, store)
	suppressionSvc := suppression.New(db, store)

	server := httpapi.New(dispatchSvc, ingestionSvc, reportSvc, lookupSvc, rules, subscriptionSvc, suppressionSvc)

	sched := scheduler.New(rules, cache)
	refreshInterval := time.Duration(cfg.Rules.RefreshIntervalSeconds) * time.Second
	if err := sched.Start(refreshInterval, leaseTimeout); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer sched.Stop()

	addr := cfg.Server.ListenAddr
	if addr == "" {
		addr = "127.0.0.1:8000"
	}
	srv := &http.Server{
		Addr:    addr,
		Handler: server.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	fmt.Printf("scanguard serving\n")
	fmt.Printf("  API        : http://%s\n", addr)
	fmt.Printf("  Database   : %s\n", cfg.Database.Driver)
	fmt.Printf("  Job cache  : %s\n\n", cacheDescription(cfg.Cache.Size))
	fmt.Println("Press Ctrl+C to stop gracefully.")

	slog.Info("scanguard listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func cacheDescription(size int) string {
	if size <= 1 {
		return "disabled"
	}
	return fmt.Sprintf("enabled (size %d)", size)
}

// setupServeLogger installs a process-wide slog handler writing to stdout,
// following the teacher's log/slog + io.MultiWriter construction in
// cmd/gateway.go (trimmed here to stdout-only since the engine has no
// separate run-log-directory convention of its own).
func setupServeLogger(cfg *config.Config) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	if cfg.Observability.LogLevel != "" {
		_ = level.UnmarshalText([]byte(cfg.Observability.LogLevel))
	}

	handler := slog.NewTextHandler(io.MultiWriter(os.Stdout), &slog.HandlerOptions{
		Level:     level,
		AddSource: verbose,
	})
	slog.SetDefault(slog.New(handler))
}
