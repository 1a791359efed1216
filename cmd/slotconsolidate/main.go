// Command slotconsolidate folds the saved per-date documents of every store
// into per-store CSV datasets.
//
// Usage:
//
//	slotconsolidate                     # every store of the main list
//	slotconsolidate "Store A" "Store B" # only these stores
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hazyhaar/slotscrape/consolidate"
	"github.com/hazyhaar/slotscrape/internal/config"
	"github.com/hazyhaar/slotscrape/progress"
	"github.com/hazyhaar/slotscrape/stores"
)

func main() {
	configPath := flag.String("config", "", "path to slotscrape.yaml")
	file := flag.String("file", "", "store list CSV (default: main store list)")
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

	if err := run(ctx, logger, *configPath, *file, flag.Args()); err != nil {
		logger.Error("slotconsolidate: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, file string, names []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if file == "" {
		file = cfg.Paths.StoreList
	}
	list, err := stores.Load(file, logger)
	if err != nil {
		return err
	}

	res, err := consolidate.Run(ctx, stores.Filter(list, names), consolidate.Options{
		OutputDir:     cfg.Paths.OutputDir,
		CompletedPath: cfg.Paths.CompletedStores,
		TableID:       cfg.Scrape.TableID,
		Logger:        logger,
	}, progress.NewLineWriter(os.Stdout))
	if err != nil {
		return err
	}
	logger.Info("slotconsolidate: done", "completed", len(res.Completed), "processed", len(res.Processed))
	return nil
}
