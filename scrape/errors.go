package scrape

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNavigationTimeout marks a page load that exceeded its timeout.
	ErrNavigationTimeout = errors.New("navigation timeout")
	// ErrNavigationFailed marks any other page load failure.
	ErrNavigationFailed = errors.New("navigation failed")
	// ErrStallDetected aborts a whole run after the watchdog killed the
	// browser session.
	ErrStallDetected = errors.New("scrape: interrupted, stalled navigation detected")
)

// NavigationError is returned by Driver.Load.
type NavigationError struct {
	Label    string
	URL      string
	Timeout  time.Duration
	TimedOut bool
	Err      error
}

func (e *NavigationError) Error() string {
	kind := ErrNavigationFailed
	if e.TimedOut {
		kind = ErrNavigationTimeout
	}
	msg := fmt.Sprintf("%s: %s (timeout %s)", kind, e.Label, e.Timeout)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind sentinel and the cause.
func (e *NavigationError) Unwrap() []error {
	kind := ErrNavigationFailed
	if e.TimedOut {
		kind = ErrNavigationTimeout
	}
	if e.Err == nil {
		return []error{kind}
	}
	return []error{kind, e.Err}
}
