// Package discovery turns a store's listing page into the ordered list of
// dates that still need scraping.
package discovery

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// RowSelector matches one listing row; its first anchor links to a date's
// detail page.
const RowSelector = "div.date-table .table-row"

// DateLayout is the canonical date format used for file names and
// discovery results.
const DateLayout = "2006-01-02"

// ParseLinkDate converts a listing anchor text such as "2024/01/02(火)" into
// "2024-01-02". It reports false when the text does not start with a real
// calendar date.
func ParseLinkDate(text string) (string, bool) {
	s := strings.TrimSpace(text)
	if i := strings.Index(s, "("); i >= 0 {
		s = s[:i]
	}
	s = strings.ReplaceAll(strings.TrimSpace(s), "/", "-")
	if !ValidDate(s) {
		return "", false
	}
	return s, true
}

// ValidDate reports whether s is a parseable YYYY-MM-DD date.
func ValidDate(s string) bool {
	_, err := time.Parse(DateLayout, s)
	return err == nil
}

// SlashForm renders a YYYY-MM-DD date the way the site prints it in link
// text ("2024/01/02").
func SlashForm(date string) string {
	return strings.ReplaceAll(date, "-", "/")
}

// Discover parses listing HTML and returns the dates whose detail pages have
// not been persisted yet. Rows are read bottom-up because the site lists the
// most recent date last. Malformed rows are skipped.
//
// When limit > 0 only the limit chronologically latest dates are returned,
// in ascending order.
func Discover(listingHTML string, persisted map[string]bool, limit int) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(listingHTML))
	if err != nil {
		return nil, fmt.Errorf("discovery: parse listing: %w", err)
	}

	rows := doc.Find(RowSelector)
	seen := make(map[string]bool, rows.Length())
	var dates []string

	for i := rows.Length() - 1; i >= 0; i-- {
		a := rows.Eq(i).Find("a").First()
		if a.Length() == 0 {
			continue
		}
		date, ok := ParseLinkDate(a.Text())
		if !ok || persisted[date] || seen[date] {
			continue
		}
		seen[date] = true
		dates = append(dates, date)
	}

	return Limit(dates, limit), nil
}

// Limit keeps the n latest dates sorted ascending. n <= 0 returns dates
// unchanged.
func Limit(dates []string, n int) []string {
	if n <= 0 || dates == nil {
		return dates
	}
	sorted := make([]string, len(dates))
	copy(sorted, dates)
	sort.Strings(sorted)
	if len(sorted) > n {
		sorted = sorted[len(sorted)-n:]
	}
	return sorted
}
