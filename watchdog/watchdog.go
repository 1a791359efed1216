// Package watchdog detects a stalled browser session.
//
// A Watchdog polls an Activity on a fixed interval. When no page transition
// has been recorded for IdleTimeout it marks itself triggered, terminates the
// browser and exits. The triggered flag is set before termination so that a
// driver call failing on the dead session can tell a stall from an ordinary
// page error.
package watchdog

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Terminator forcibly ends a browser session. It is the only call the
// Watchdog ever makes on the session.
type Terminator interface {
	Terminate() error
}

// TerminatorFunc adapts a function to Terminator.
type TerminatorFunc func() error

// Terminate calls f.
func (f TerminatorFunc) Terminate() error { return f() }

// State of a Watchdog.
type State int

const (
	StateArmed State = iota
	StateTriggered
)

func (s State) String() string {
	if s == StateTriggered {
		return "triggered"
	}
	return "armed"
}

// Config configures a Watchdog.
type Config struct {
	// Interval between idle checks. Default: 5s.
	Interval time.Duration
	// IdleTimeout is the longest tolerated gap between transitions.
	// Default: 120s.
	IdleTimeout time.Duration
}

func (c *Config) defaults() {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 120 * time.Second
	}
}

// Watchdog watches one browser session for one run. It is not re-armed
// once triggered.
type Watchdog struct {
	activity *Activity
	term     Terminator
	cfg      Config
	logger   *slog.Logger

	triggered atomic.Bool

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// New creates a Watchdog. Call Start or Run to arm it.
func New(activity *Activity, term Terminator, cfg Config, logger *slog.Logger) *Watchdog {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Watchdog{
		activity: activity,
		term:     term,
		cfg:      cfg,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the watchdog loop in its own goroutine.
func (w *Watchdog) Start(ctx context.Context) {
	w.startOnce.Do(func() { go w.loop(ctx) })
}

// Run runs the watchdog loop in the calling goroutine. It returns when the
// watchdog triggers, Stop is called, or ctx is done.
func (w *Watchdog) Run(ctx context.Context) {
	ran := false
	w.startOnce.Do(func() {
		ran = true
		w.loop(ctx)
	})
	if !ran {
		<-w.done
	}
}

// Stop disarms the watchdog and waits for its loop to exit. Safe to call
// more than once and after the watchdog triggered.
func (w *Watchdog) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	started := true
	w.startOnce.Do(func() {
		started = false
		close(w.done)
	})
	if started {
		<-w.done
	}
}

// Triggered reports whether a stall was detected.
func (w *Watchdog) Triggered() bool {
	return w.triggered.Load()
}

// State returns the current state.
func (w *Watchdog) State() State {
	if w.triggered.Load() {
		return StateTriggered
	}
	return StateArmed
}

func (w *Watchdog) loop(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			idle := w.activity.Idle()
			if idle < w.cfg.IdleTimeout {
				continue
			}
			w.fire(idle)
			return
		}
	}
}

func (w *Watchdog) fire(idle time.Duration) {
	if !w.triggered.CompareAndSwap(false, true) {
		return
	}
	w.logger.Error("watchdog: session stalled, terminating browser",
		"idle", idle.Round(time.Second),
		"timeout", w.cfg.IdleTimeout,
		"label", w.activity.Label())

	if err := w.term.Terminate(); err != nil {
		w.logger.Warn("watchdog: terminate failed", "error", err)
	}
}
