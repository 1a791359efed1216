// Package navigator implements scrape.Driver on a go-rod page.
package navigator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/slotscrape/discovery"
	"github.com/hazyhaar/slotscrape/scrape"
)

// AdSelector matches the ad and overlay nodes removed by StripAds.
const AdSelector = `iframe, ins, [class*="ad"], [id*="ad"], #overlay_ads_area`

// VignetteFragment is the URL fragment left by the ad interstitial.
const VignetteFragment = "#google_vignette"

const stripAdsJS = `(sel) => { document.querySelectorAll(sel).forEach(e => e.remove()); }`

// Toucher records successful page transitions for the session watchdog.
type Toucher interface {
	Touch(label string)
}

// Config tunes the Navigator.
type Config struct {
	// PageLoadTimeout bounds every Load. Default: 60s.
	PageLoadTimeout time.Duration
	// ClickTimeout bounds locating and clicking a date link. Default: 30s.
	ClickTimeout time.Duration
	// HoverPause is the pause between hovering and clicking a link.
	// Default: 500ms.
	HoverPause time.Duration
	Logger     *slog.Logger
}

func (c *Config) defaults() {
	if c.PageLoadTimeout <= 0 {
		c.PageLoadTimeout = 60 * time.Second
	}
	if c.ClickTimeout <= 0 {
		c.ClickTimeout = 30 * time.Second
	}
	if c.HoverPause <= 0 {
		c.HoverPause = 500 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Navigator drives one rod page.
type Navigator struct {
	page     *rod.Page
	activity Toucher
	cfg      Config
}

var _ scrape.Driver = (*Navigator)(nil)

// New wraps page. activity may be nil.
func New(page *rod.Page, activity Toucher, cfg Config) *Navigator {
	cfg.defaults()
	return &Navigator{page: page, activity: activity, cfg: cfg}
}

func (n *Navigator) touch(label string) {
	if n.activity != nil {
		n.activity.Touch(label)
	}
}

// Load navigates to url and waits for the load event.
func (n *Navigator) Load(ctx context.Context, url, label string) error {
	loadCtx, cancel := context.WithTimeout(ctx, n.cfg.PageLoadTimeout)
	defer cancel()

	p := n.page.Context(loadCtx)
	err := p.Navigate(url)
	if err == nil {
		err = p.WaitLoad()
	}
	if err != nil {
		return &scrape.NavigationError{
			Label:    label,
			URL:      url,
			Timeout:  n.cfg.PageLoadTimeout,
			TimedOut: errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil,
			Err:      err,
		}
	}
	n.touch(label)
	n.cfg.Logger.Debug("navigator: loaded", "label", label, "url", url)
	return nil
}

// StripAds removes ad nodes. Failures are logged only.
func (n *Navigator) StripAds(ctx context.Context) {
	if _, err := n.page.Context(ctx).Eval(stripAdsJS, AdSelector); err != nil {
		n.cfg.Logger.Debug("navigator: strip ads", "error", err)
	}
}

// ClickDate finds the listing row for date, newest rows last, and clicks
// its first link the way a user would.
func (n *Navigator) ClickDate(ctx context.Context, date, label string) (bool, error) {
	link, err := n.findDateLink(ctx, date)
	if err != nil || link == nil {
		return false, err
	}
	if err := n.clickAndWait(ctx, link); err != nil {
		return true, fmt.Errorf("navigator: click %s: %w", label, err)
	}
	n.touch(label)
	return true, nil
}

// HandleRedirectTrap goes back and clicks the date link again when the ad
// interstitial hijacked the previous click.
func (n *Navigator) HandleRedirectTrap(ctx context.Context, date string) error {
	info, err := n.page.Context(ctx).Info()
	if err != nil {
		return fmt.Errorf("navigator: page info: %w", err)
	}
	if !strings.Contains(info.URL, VignetteFragment) {
		return nil
	}
	n.cfg.Logger.Info("navigator: ad interstitial, retrying click", "date", date)

	if err := n.page.Context(ctx).NavigateBack(); err != nil {
		return fmt.Errorf("navigator: back: %w", err)
	}
	if err := n.waitRows(ctx); err != nil {
		return fmt.Errorf("navigator: back to listing: %w", err)
	}
	link, err := n.findDateLink(ctx, date)
	if err != nil {
		return err
	}
	if link == nil {
		return fmt.Errorf("navigator: date %s gone after interstitial", date)
	}
	if err := n.clickAndWait(ctx, link); err != nil {
		return fmt.Errorf("navigator: re-click %s: %w", date, err)
	}
	n.touch("retry " + date)
	return nil
}

// HTML returns the current document.
func (n *Navigator) HTML(ctx context.Context) (string, error) {
	html, err := n.page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("navigator: html: %w", err)
	}
	return html, nil
}

func (n *Navigator) findDateLink(ctx context.Context, date string) (*rod.Element, error) {
	findCtx, cancel := context.WithTimeout(ctx, n.cfg.ClickTimeout)
	defer cancel()

	rows, err := n.page.Context(findCtx).Elements(discovery.RowSelector)
	if err != nil {
		return nil, fmt.Errorf("navigator: list rows: %w", err)
	}

	var links []*rod.Element
	var texts []string
	for _, row := range rows {
		as, err := row.Elements("a")
		if err != nil || len(as) == 0 {
			continue
		}
		text, err := as[0].Text()
		if err != nil {
			continue
		}
		links = append(links, as[0])
		texts = append(texts, text)
	}

	i := pickLink(texts, date)
	if i < 0 {
		return nil, nil
	}
	return links[i], nil
}

// waitRows waits for the listing rows to be back in the document.
func (n *Navigator) waitRows(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, n.cfg.ClickTimeout)
	defer cancel()
	_, err := n.page.Context(waitCtx).Element(discovery.RowSelector)
	return err
}

// clickAndWait clicks el and waits for the load event of the page it leads
// to, bounded by the page load timeout.
func (n *Navigator) clickAndWait(ctx context.Context, el *rod.Element) error {
	loadCtx, cancel := context.WithTimeout(ctx, n.cfg.PageLoadTimeout)
	defer cancel()

	wait := n.page.Context(loadCtx).WaitNavigation(proto.PageLifecycleEventNameLoad)
	if err := n.humanClick(ctx, el); err != nil {
		return err
	}
	wait()
	return ctx.Err()
}

func (n *Navigator) humanClick(ctx context.Context, el *rod.Element) error {
	clickCtx, cancel := context.WithTimeout(ctx, n.cfg.ClickTimeout)
	defer cancel()

	el = el.Context(clickCtx)
	if err := el.ScrollIntoView(); err != nil {
		return err
	}
	if err := el.Hover(); err != nil {
		return err
	}
	select {
	case <-time.After(n.cfg.HoverPause):
	case <-clickCtx.Done():
		return clickCtx.Err()
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

// pickLink returns the index of the last link whose text starts with the
// slash form of date, or -1.
func pickLink(texts []string, date string) int {
	prefix := discovery.SlashForm(date)
	for i := len(texts) - 1; i >= 0; i-- {
		if strings.HasPrefix(strings.TrimSpace(texts[i]), prefix) {
			return i
		}
	}
	return -1
}
