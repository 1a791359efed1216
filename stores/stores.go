// Package stores loads and saves the operator-maintained store list.
//
// The list is a CSV file whose column names vary between installations.
// Load maps the header onto the canonical Store fields once, at the file
// boundary, and fails when a required field has no column.
package stores

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/japanese"
)

// Store is one scrape target.
type Store struct {
	Name       string `json:"name"`
	ListingURL string `json:"url"`
	SaveDir    string `json:"directory"`
}

// Header is the canonical column order written by Save.
var Header = []string{"store_name", "store_url", "data_directory"}

// Accepted column names per field, in priority order.
var (
	nameColumns = []string{"store_name", "name"}
	urlColumns  = []string{"store_url", "url"}
	dirColumns  = []string{"data_directory", "directory"}
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ErrEmpty is returned when a list holds no usable store.
var ErrEmpty = errors.New("stores: list is empty")

// Load reads a store list. The file may be UTF-8, UTF-8 with BOM or CP932.
func Load(path string, logger *slog.Logger) ([]Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("stores: read %s: %w", path, err)
	}
	text, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("stores: decode %s: %w", path, err)
	}
	list, err := Parse(strings.NewReader(text), logger)
	if err != nil {
		return nil, fmt.Errorf("stores: %s: %w", path, err)
	}
	return list, nil
}

func decode(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return string(data), nil
	}
	out, err := japanese.ShiftJIS.NewDecoder().Bytes(data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

type columnMap struct {
	name, url, dir int
}

func mapColumns(header []string) (columnMap, error) {
	find := func(names []string) int {
		for _, n := range names {
			for i, h := range header {
				if strings.EqualFold(strings.TrimSpace(h), n) {
					return i
				}
			}
		}
		return -1
	}
	m := columnMap{name: find(nameColumns), url: find(urlColumns), dir: find(dirColumns)}

	var missing []string
	if m.url < 0 {
		missing = append(missing, "url ("+strings.Join(urlColumns, "|")+")")
	}
	if m.dir < 0 {
		missing = append(missing, "directory ("+strings.Join(dirColumns, "|")+")")
	}
	if len(missing) > 0 {
		return m, fmt.Errorf("no column for %s in header %v", strings.Join(missing, ", "), header)
	}
	return m, nil
}

// Parse reads a store list from decoded CSV text. Rows without a URL or a
// directory are skipped; a row without a name gets "store<N>".
func Parse(r io.Reader, logger *slog.Logger) ([]Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols, err := mapColumns(header)
	if err != nil {
		return nil, err
	}

	var out []Store
	for n := 1; ; n++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", n, err)
		}
		s := Store{
			Name:       field(rec, cols.name),
			ListingURL: field(rec, cols.url),
			SaveDir:    field(rec, cols.dir),
		}
		if s.ListingURL == "" || s.SaveDir == "" {
			logger.Warn("stores: row skipped, url or directory missing", "row", n, "name", s.Name)
			continue
		}
		if s.Name == "" {
			s.Name = fmt.Sprintf("store%d", n)
		}
		s.SaveDir = filepath.FromSlash(strings.ReplaceAll(s.SaveDir, `\`, "/"))
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, ErrEmpty
	}
	return out, nil
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

// Save writes list to path with the canonical header, UTF-8 with BOM.
func Save(path string, list []Store) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("stores: mkdir: %w", err)
	}
	var buf bytes.Buffer
	buf.Write(utf8BOM)
	w := csv.NewWriter(&buf)
	w.Write(Header)
	for _, s := range list {
		w.Write([]string{s.Name, s.ListingURL, filepath.ToSlash(s.SaveDir)})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("stores: encode: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("stores: write %s: %w", path, err)
	}
	return nil
}

// Filter keeps the stores whose name is in names, preserving list order.
// An empty names returns list unchanged.
func Filter(list []Store, names []string) []Store {
	if len(names) == 0 {
		return list
	}
	var out []Store
	for _, s := range list {
		if slices.Contains(names, s.Name) {
			out = append(out, s)
		}
	}
	return out
}

// Reorder moves the stores whose directories appear in dirs to the front,
// in that order; the rest keep their relative order.
func Reorder(list []Store, dirs []string) ([]Store, int) {
	used := make([]bool, len(list))
	out := make([]Store, 0, len(list))
	for _, d := range dirs {
		for i, s := range list {
			if !used[i] && filepath.ToSlash(s.SaveDir) == filepath.ToSlash(d) {
				used[i] = true
				out = append(out, s)
				break
			}
		}
	}
	moved := len(out)
	for i, s := range list {
		if !used[i] {
			out = append(out, s)
		}
	}
	return out, moved
}

// Limit returns at most n stores; n <= 0 means no limit.
func Limit(list []Store, n int) []Store {
	if n > 0 && len(list) > n {
		return list[:n]
	}
	return list
}
