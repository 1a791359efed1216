// Command slotscrape runs one scrape session over a store list and prints
// progress lines on stdout.
//
// Usage:
//
//	slotscrape                          # temp store list if present, else the main list
//	slotscrape -file stores.csv         # explicit list
//	slotscrape -use-temp                # the list written by the control surface
//	slotscrape -max-days-per-store 3 "Store A" "Store B"
//
// Exit codes: 0 success, 1 failure, 3 stalled session.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hazyhaar/slotscrape/internal/browser"
	"github.com/hazyhaar/slotscrape/internal/config"
	"github.com/hazyhaar/slotscrape/internal/navigator"
	"github.com/hazyhaar/slotscrape/jobs"
	"github.com/hazyhaar/slotscrape/progress"
	"github.com/hazyhaar/slotscrape/scrape"
	"github.com/hazyhaar/slotscrape/stores"
	"github.com/hazyhaar/slotscrape/watchdog"
)

type options struct {
	configPath      string
	file            string
	useTemp         bool
	maxStores       int
	maxDaysPerStore int
	attended        bool
	names           []string
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "path to slotscrape.yaml")
	flag.StringVar(&opts.file, "file", "", "store list CSV to scrape")
	flag.BoolVar(&opts.useTemp, "use-temp", false, "scrape the temporary store list")
	flag.IntVar(&opts.maxStores, "max-stores", 0, "process at most N stores (0 = all)")
	flag.IntVar(&opts.maxDaysPerStore, "max-days-per-store", 0, "keep only the N latest new dates per store (0 = all)")
	flag.BoolVar(&opts.attended, "attended", false, "wait for the operator to clear challenges by hand")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()
	opts.names = flag.Args()

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

	err := run(ctx, logger, opts)
	if err != nil {
		logger.Error("slotscrape: fatal", "error", err)
	}
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, scrape.ErrStallDetected):
		return jobs.ExitStall
	default:
		return 1
	}
}

// listPath picks the store list: -file, then -use-temp, then the temporary
// list when it exists, then the main list.
func listPath(file string, useTemp bool, paths config.PathsConfig) string {
	switch {
	case file != "":
		return file
	case useTemp:
		return paths.TempStoreList
	}
	if _, err := os.Stat(paths.TempStoreList); err == nil {
		return paths.TempStoreList
	}
	return paths.StoreList
}

func run(ctx context.Context, logger *slog.Logger, opts options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.attended {
		cfg.Scrape.Attended = true
	}
	if opts.maxStores > 0 {
		cfg.Scrape.MaxStores = opts.maxStores
	}
	if opts.maxDaysPerStore > 0 {
		cfg.Scrape.MaxDaysPerStore = opts.maxDaysPerStore
	}

	path := listPath(opts.file, opts.useTemp, cfg.Paths)
	list, err := stores.Load(path, logger)
	if err != nil {
		return err
	}
	list = stores.Filter(list, opts.names)
	if len(list) == 0 {
		return fmt.Errorf("slotscrape: no store matches %v in %s", opts.names, path)
	}
	list = stores.Limit(list, cfg.Scrape.MaxStores)
	logger.Info("slotscrape: starting", "stores", len(list), "list", path, "attended", cfg.Scrape.Attended)

	mode := browser.ModeHeadful
	if cfg.Browser.Stealth == "headless" {
		mode = browser.ModeHeadless
	}
	mgr := browser.NewManager(browser.Config{
		RemoteURL:        cfg.Browser.Remote,
		Bin:              cfg.Browser.Bin,
		Revision:         cfg.Browser.Revision,
		Mode:             mode,
		XvfbDisplay:      cfg.Browser.XvfbDisplay,
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		Logger:           logger,
	})
	defer mgr.Close()

	page, err := mgr.Start(ctx)
	if err != nil {
		return err
	}

	activity := watchdog.NewActivity()
	wd := watchdog.New(activity, mgr, watchdog.Config{
		Interval:    cfg.Scrape.WatchdogInterval,
		IdleTimeout: cfg.Scrape.IdleTimeout,
	}, logger)
	wd.Start(ctx)
	defer wd.Stop()

	nav := navigator.New(page, activity, navigator.Config{
		PageLoadTimeout: cfg.Browser.PageLoadTimeout,
		Logger:          logger,
	})

	orch := scrape.New(nav, scrape.Options{
		TableID:          cfg.Scrape.TableID,
		RenderWait:       cfg.Scrape.RenderWait,
		ChallengeWait:    cfg.Scrape.ChallengeWait,
		ChallengePoll:    cfg.Scrape.ChallengePoll,
		ChallengeCeiling: cfg.Scrape.ChallengeCeiling,
		MaxDatesPerStore: cfg.Scrape.MaxDaysPerStore,
		Attended:         cfg.Scrape.Attended,
		Prompt:           stdinPrompt(os.Stdin, os.Stderr),
		Stalled:          wd.Triggered,
		Hold:             activity.Hold,
	}, progress.NewLineWriter(os.Stdout), logger)

	sum, err := orch.Run(ctx, list)
	logger.Info("slotscrape: finished",
		"stores", sum.Stores,
		"stores_failed", sum.StoresFailed,
		"saved", sum.Saved,
		"dead_ends", sum.DeadEnds,
		"challenges_unresolved", sum.Unresolved,
		"links_missing", sum.LinksMissing,
	)
	return err
}

// stdinPrompt prints message on out and waits for a line on in.
func stdinPrompt(in io.Reader, out io.Writer) scrape.Prompter {
	lines := make(chan error, 1)
	reader := bufio.NewReader(in)
	return func(ctx context.Context, message string) error {
		fmt.Fprintf(out, "%s\nPress Enter once done.\n", message)
		go func() {
			_, err := reader.ReadString('\n')
			lines <- err
		}()
		select {
		case err := <-lines:
			if err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("slotscrape: read prompt: %w", err)
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
