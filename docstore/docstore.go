// Package docstore persists the data table of one detail page as a
// standalone document at {dir}/{YYYY-MM-DD}.html.
//
// The presence of that file is the only record that a date was scraped:
// nothing is written when the table is missing, so a failed date is simply
// retried on the next run.
package docstore

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/hazyhaar/slotscrape/discovery"
)

// DefaultTableID is the element id of the statistics table on detail pages.
const DefaultTableID = "all_data_table"

// ErrTableNotFound is returned when the page carries no table with the
// expected id.
var ErrTableNotFound = errors.New("docstore: table not found")

// ExtractTable returns the outer HTML of the table whose id is tableID.
func ExtractTable(html, tableID string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("docstore: parse page: %w", err)
	}
	sel := doc.Find("table#" + tableID).First()
	if sel.Length() == 0 {
		return "", ErrTableNotFound
	}
	frag, err := goquery.OuterHtml(sel)
	if err != nil {
		return "", fmt.Errorf("docstore: render table: %w", err)
	}
	return frag, nil
}

// HasTable reports whether html contains the table.
func HasTable(html, tableID string) bool {
	_, err := ExtractTable(html, tableID)
	return err == nil
}

// Store is the document directory of one store.
type Store struct {
	Dir    string
	Logger *slog.Logger
}

// New returns a Store rooted at dir.
func New(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{Dir: dir, Logger: logger}
}

// Path returns the document path for date.
func (s *Store) Path(date string) string {
	return filepath.Join(s.Dir, date+".html")
}

// Exists reports whether a document for date is already on disk.
func (s *Store) Exists(date string) bool {
	_, err := os.Stat(s.Path(date))
	return err == nil
}

// Persisted returns the set of dates that already have a document.
// A missing directory yields an empty set.
func (s *Store) Persisted() (map[string]bool, error) {
	entries, err := os.ReadDir(s.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]bool{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("docstore: read dir %s: %w", s.Dir, err)
	}
	out := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		stem, ok := strings.CutSuffix(e.Name(), ".html")
		if ok && discovery.ValidDate(stem) {
			out[stem] = true
		}
	}
	return out, nil
}

// Save writes fragment to {dir}/{date}.html. The write goes through a
// temporary file in the same directory and a rename.
func (s *Store) Save(date, fragment string) (string, error) {
	if !discovery.ValidDate(date) {
		return "", fmt.Errorf("docstore: invalid date %q", date)
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("docstore: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(s.Dir, "."+date+"-*.tmp")
	if err != nil {
		return "", fmt.Errorf("docstore: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(fragment); err != nil {
		tmp.Close()
		return "", fmt.Errorf("docstore: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("docstore: close: %w", err)
	}

	path := s.Path(date)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("docstore: rename: %w", err)
	}
	return path, nil
}

// SavePage extracts the table from a rendered page and saves it. It returns
// ErrTableNotFound without touching the filesystem when the table is absent.
func (s *Store) SavePage(date, html, tableID string) (string, error) {
	frag, err := ExtractTable(html, tableID)
	if err != nil {
		return "", err
	}
	path, err := s.Save(date, frag)
	if err != nil {
		return "", err
	}
	s.Logger.Info("docstore: saved", "date", date, "path", path, "size", len(frag))
	return path, nil
}
