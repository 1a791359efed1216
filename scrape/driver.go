package scrape

import "context"

// Driver is the browser session as seen by the Orchestrator. The rod
// implementation lives in internal/navigator.
type Driver interface {
	// Load navigates to url within the page-load timeout. label names the
	// transition in logs and errors.
	Load(ctx context.Context, url, label string) error
	// StripAds removes known ad and overlay nodes. Never fails.
	StripAds(ctx context.Context)
	// ClickDate clicks the listing link for date. It reports false when no
	// such link is listed.
	ClickDate(ctx context.Context, date, label string) (bool, error)
	// HandleRedirectTrap recovers from the ad interstitial that hijacks a
	// date link click, if it fired.
	HandleRedirectTrap(ctx context.Context, date string) error
	// HTML returns the rendered document.
	HTML(ctx context.Context) (string, error)
}

// Prompter asks an attended operator to clear a challenge by hand and
// returns once they confirm.
type Prompter func(ctx context.Context, message string) error
