// Package scrape drives a browser session through the store listing and
// date detail pages and persists one document per date.
//
// Per store the Orchestrator moves through
//
//	Listing → DiscoveringDates → ProcessingDate(d) → Listing … → StoreDone
//
// Failures are contained to the date or the store they happen in. The only
// run-fatal condition is a stall reported by the session watchdog.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/slotscrape/challenge"
	"github.com/hazyhaar/slotscrape/discovery"
	"github.com/hazyhaar/slotscrape/docstore"
	"github.com/hazyhaar/slotscrape/progress"
	"github.com/hazyhaar/slotscrape/stores"
)

// Options tunes one run. Every wait is bounded by one of these values.
type Options struct {
	// TableID identifies the data table on detail pages.
	TableID string
	// RenderWait is the pause after clicking a date link. Default: 2s.
	RenderWait time.Duration
	// ChallengeWait is the extra pause when a challenge shows up on a
	// detail page. Default: 7s.
	ChallengeWait time.Duration
	// ChallengePoll and ChallengeCeiling bound the unattended wait for a
	// listing challenge to clear. Defaults: 2s and 300s.
	ChallengePoll    time.Duration
	ChallengeCeiling time.Duration
	// MaxDatesPerStore keeps only the N latest new dates. 0 = unlimited.
	MaxDatesPerStore int

	// Attended selects the interactive challenge path; Prompt must be set.
	Attended bool
	Prompt   Prompter

	// Stalled reports whether the watchdog has fired.
	Stalled func() bool
	// Hold keeps the session watchdog quiet during an intentional wait and
	// returns the function that ends it. Default: no-op.
	Hold func(label string) (release func())
	// Sleep waits d or until ctx is done. Default: a timer select.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (o *Options) defaults() {
	if o.TableID == "" {
		o.TableID = docstore.DefaultTableID
	}
	if o.RenderWait <= 0 {
		o.RenderWait = 2 * time.Second
	}
	if o.ChallengeWait <= 0 {
		o.ChallengeWait = 7 * time.Second
	}
	if o.ChallengePoll <= 0 {
		o.ChallengePoll = 2 * time.Second
	}
	if o.ChallengeCeiling <= 0 {
		o.ChallengeCeiling = 300 * time.Second
	}
	if o.Stalled == nil {
		o.Stalled = func() bool { return false }
	}
	if o.Sleep == nil {
		o.Sleep = sleepCtx
	}
	if o.Hold == nil {
		o.Hold = func(string) func() { return func() {} }
	}
}

// Summary counts what a run did.
type Summary struct {
	Stores       int `json:"stores"`
	StoresFailed int `json:"stores_failed"`
	Dates        int `json:"dates"`
	Saved        int `json:"saved"`
	DeadEnds     int `json:"dead_ends"`
	Unresolved   int `json:"challenges_unresolved"`
	LinksMissing int `json:"links_missing"`
	DateErrors   int `json:"date_errors"`
}

// dateOutcome is how processing one date ended.
type dateOutcome int

const (
	outcomeSaved dateOutcome = iota
	outcomeDeadEnd
	outcomeChallenge
	outcomeLinkMissing
)

// Orchestrator runs the per-store state machine over one Driver.
type Orchestrator struct {
	drv    Driver
	opts   Options
	rep    progress.Reporter
	logger *slog.Logger
}

// New creates an Orchestrator. A nil reporter discards progress.
func New(drv Driver, opts Options, rep progress.Reporter, logger *slog.Logger) *Orchestrator {
	opts.defaults()
	if rep == nil {
		rep = progress.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{drv: drv, opts: opts, rep: rep, logger: logger}
}

// runState is the mutable state of one Run.
type runState struct {
	total      int
	storesDone int
	summary    Summary
}

// Run processes every store in order. It returns an error wrapping
// ErrStallDetected when the watchdog fired, ctx.Err() when ctx ended, and
// nil otherwise, whatever happened to individual dates and stores.
func (o *Orchestrator) Run(ctx context.Context, list []stores.Store) (Summary, error) {
	rs := &runState{total: len(list)}
	rs.summary.Stores = len(list)

	o.logger.Info("scrape: run start", "stores", len(list))

	for i, st := range list {
		err := o.processStore(ctx, rs, i, st)
		if err != nil {
			if o.opts.Stalled() || errors.Is(err, ErrStallDetected) {
				o.logger.Error("scrape: run aborted, stall detected", "store", st.Name, "error", err)
				return rs.summary, o.stallError(err)
			}
			if ctx.Err() != nil {
				return rs.summary, ctx.Err()
			}
			rs.summary.StoresFailed++
			o.logger.Error("scrape: store failed", "store", st.Name, "error", err)
		}
		rs.storesDone++
		o.rep.Report(progress.StoreDone(rs.storesDone, rs.total))
	}

	o.logger.Info("scrape: run done",
		"stores", rs.summary.Stores,
		"failed", rs.summary.StoresFailed,
		"saved", rs.summary.Saved,
		"dead_ends", rs.summary.DeadEnds)
	return rs.summary, nil
}

func (o *Orchestrator) stallError(err error) error {
	if errors.Is(err, ErrStallDetected) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStallDetected, err)
}

func (o *Orchestrator) processStore(ctx context.Context, rs *runState, index int, st stores.Store) error {
	log := o.logger.With("store", st.Name)
	o.rep.Report(progress.StoreStart(index+1, rs.total, st.Name))
	log.Info("scrape: store start", "index", index+1, "total", rs.total, "url", st.ListingURL)

	// Listing.
	if err := o.openListing(ctx, st, true); err != nil {
		return err
	}

	// DiscoveringDates.
	docs := docstore.New(st.SaveDir, o.logger)
	persisted, err := docs.Persisted()
	if err != nil {
		return err
	}
	listing, err := o.drv.HTML(ctx)
	if err != nil {
		return fmt.Errorf("scrape: read listing: %w", err)
	}
	dates, err := discovery.Discover(listing, persisted, o.opts.MaxDatesPerStore)
	if err != nil {
		return err
	}
	rs.summary.Dates += len(dates)
	log.Info("scrape: dates discovered", "new", len(dates), "persisted", len(persisted))

	// ProcessingDate, then back to Listing.
	for i, date := range dates {
		outcome, err := o.processDate(ctx, docs, st, date)
		if err != nil {
			if o.opts.Stalled() {
				return o.stallError(err)
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			rs.summary.DateErrors++
			log.Warn("scrape: date failed", "date", date, "error", err)
		} else {
			o.count(rs, outcome)
		}

		if err := o.openListing(ctx, st, false); err != nil {
			return err
		}

		pct := (float64(rs.storesDone) + float64(i+1)/float64(len(dates))) / float64(rs.total) * 100
		o.rep.Report(progress.Percent(int(pct), fmt.Sprintf("%s %d/%d %s", st.Name, i+1, len(dates), date)))
	}

	log.Info("scrape: store done", "dates", len(dates))
	return nil
}

func (o *Orchestrator) count(rs *runState, outcome dateOutcome) {
	switch outcome {
	case outcomeSaved:
		rs.summary.Saved++
	case outcomeDeadEnd:
		rs.summary.DeadEnds++
	case outcomeChallenge:
		rs.summary.Unresolved++
	case outcomeLinkMissing:
		rs.summary.LinksMissing++
	}
}

// openListing loads the listing page and strips ads. The first visit of a
// store also waits out a challenge; reloads between dates do not.
func (o *Orchestrator) openListing(ctx context.Context, st stores.Store, first bool) error {
	if err := o.drv.Load(ctx, st.ListingURL, "listing "+st.Name); err != nil {
		return err
	}
	if first {
		if err := o.awaitChallenge(ctx, st); err != nil {
			return err
		}
	}
	o.drv.StripAds(ctx)
	return nil
}

// awaitChallenge returns once the current page shows no challenge, the
// operator confirmed it, or the unattended ceiling elapsed.
func (o *Orchestrator) awaitChallenge(ctx context.Context, st stores.Store) error {
	html, err := o.drv.HTML(ctx)
	if err != nil {
		return fmt.Errorf("scrape: read listing: %w", err)
	}
	marker := challenge.Match(html)
	if marker == "" {
		return nil
	}
	log := o.logger.With("store", st.Name, "marker", marker)

	release := o.opts.Hold("challenge wait " + st.Name)
	defer release()

	if o.opts.Attended && o.opts.Prompt != nil {
		log.Warn("scrape: challenge on listing, waiting for operator")
		return o.opts.Prompt(ctx, fmt.Sprintf("Verification page shown for %s. Clear it in the browser.", st.Name))
	}

	attempts := int(o.opts.ChallengeCeiling / o.opts.ChallengePoll)
	if attempts < 1 {
		attempts = 1
	}
	log.Warn("scrape: challenge on listing, polling", "every", o.opts.ChallengePoll, "max", o.opts.ChallengeCeiling)
	for n := 0; n < attempts; n++ {
		if err := o.opts.Sleep(ctx, o.opts.ChallengePoll); err != nil {
			return err
		}
		html, err := o.drv.HTML(ctx)
		if err != nil {
			return fmt.Errorf("scrape: poll challenge: %w", err)
		}
		if !challenge.Detect(html) {
			log.Info("scrape: challenge cleared", "after", time.Duration(n+1)*o.opts.ChallengePoll)
			return nil
		}
	}
	log.Warn("scrape: challenge still present, continuing")
	return nil
}

func (o *Orchestrator) processDate(ctx context.Context, docs *docstore.Store, st stores.Store, date string) (dateOutcome, error) {
	log := o.logger.With("store", st.Name, "date", date)
	label := date + " " + st.Name

	found, err := o.drv.ClickDate(ctx, date, label)
	if err != nil {
		return 0, fmt.Errorf("scrape: click %s: %w", date, err)
	}
	if !found {
		log.Warn("scrape: link not found")
		return outcomeLinkMissing, nil
	}
	if err := o.drv.HandleRedirectTrap(ctx, date); err != nil {
		return 0, fmt.Errorf("scrape: redirect trap %s: %w", date, err)
	}
	o.drv.StripAds(ctx)

	if err := o.opts.Sleep(ctx, o.opts.RenderWait); err != nil {
		return 0, err
	}
	saved, html, err := o.trySave(ctx, docs, date)
	if err != nil || saved {
		return outcomeSaved, err
	}

	if challenge.Detect(html) {
		log.Warn("scrape: challenge on detail page, waiting", "wait", o.opts.ChallengeWait)
		if err := o.opts.Sleep(ctx, o.opts.ChallengeWait); err != nil {
			return 0, err
		}
		saved, _, err := o.trySave(ctx, docs, date)
		if err != nil || saved {
			return outcomeSaved, err
		}
		log.Warn("scrape: challenge not cleared, date skipped")
		return outcomeChallenge, nil
	}

	log.Warn("scrape: no table on detail page")
	return outcomeDeadEnd, nil
}

// trySave reads the current page and persists its table if present.
func (o *Orchestrator) trySave(ctx context.Context, docs *docstore.Store, date string) (bool, string, error) {
	html, err := o.drv.HTML(ctx)
	if err != nil {
		return false, "", fmt.Errorf("scrape: read detail: %w", err)
	}
	if _, err := docs.SavePage(date, html, o.opts.TableID); err != nil {
		if errors.Is(err, docstore.ErrTableNotFound) {
			return false, html, nil
		}
		return false, html, err
	}
	return true, html, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
