// Command slotweb serves the control surface: store selection, scrape and
// consolidation jobs, progress polling and the run log.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hazyhaar/slotscrape/dbopen"
	"github.com/hazyhaar/slotscrape/internal/config"
	"github.com/hazyhaar/slotscrape/jobs"
	"github.com/hazyhaar/slotscrape/runlog"
	"github.com/hazyhaar/slotscrape/web"
)

func main() {
	configPath := flag.String("config", "", "path to slotscrape.yaml")
	listen := flag.String("listen", "", "listen address (overrides config and LISTEN_ADDR)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *listen); err != nil {
		logger.Error("slotweb: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, listen string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Web.Listen = listen
	}

	db, err := dbopen.Open(cfg.Paths.RunDB)
	if err != nil {
		return err
	}
	defer db.Close()

	runs := runlog.New(db)
	if err := runs.EnsureTable(ctx); err != nil {
		return err
	}

	runner := jobs.NewRunner(ctx, jobs.Options{
		Logger: logger,
		OnFinish: func(j jobs.Job) {
			if err := runs.Finish(context.Background(), j.ID, string(j.Status), j.Message); err != nil {
				logger.Warn("slotweb: run log finish", "job_id", j.ID, "error", err)
			}
		},
	})

	var scrapeArgs []string
	if configPath != "" {
		scrapeArgs = append(scrapeArgs, "-config", configPath)
	}
	srv := web.New(web.Config{
		StoreListPath:     cfg.Paths.StoreList,
		TempStoreListPath: cfg.Paths.TempStoreList,
		OutputDir:         cfg.Paths.OutputDir,
		CompletedPath:     cfg.Paths.CompletedStores,
		TableID:           cfg.Scrape.TableID,
		ScrapeBin:         cfg.Web.ScrapeBin,
		ScrapeArgs:        scrapeArgs,
		Logger:            logger,
	}, runner, runs)

	httpSrv := &http.Server{
		Addr:              cfg.Web.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("slotweb: listening", "addr", cfg.Web.Listen)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Info("slotweb: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("slotweb: shutdown", "error", err)
	}
	runner.Wait()
	return nil
}
