// Package consolidate turns the per-date table documents of each store into
// one per-store CSV dataset, appending only dates newer than what the
// dataset already holds.
package consolidate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/hazyhaar/slotscrape/docstore"
	"github.com/hazyhaar/slotscrape/progress"
	"github.com/hazyhaar/slotscrape/stores"
)

// Options configures a consolidation pass.
type Options struct {
	// OutputDir receives {safe name}-slotdata.csv per store.
	OutputDir string
	// CompletedPath receives the {"completed":[...],"processed":[...]}
	// summary. Empty = not written.
	CompletedPath string
	// TableID identifies the data table in saved documents.
	TableID string
	Logger  *slog.Logger
}

func (o *Options) defaults() {
	if o.TableID == "" {
		o.TableID = docstore.DefaultTableID
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Result lists the stores whose dataset was rewritten (Completed) and every
// store visited (Processed).
type Result struct {
	Completed []string `json:"completed"`
	Processed []string `json:"processed"`
}

var (
	unsafeChars = regexp.MustCompile(`[\\/*?:"<>|]`)
	dayPattern  = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
)

// SafeName strips characters that are not allowed in file names.
func SafeName(name string) string {
	return unsafeChars.ReplaceAllString(name, "")
}

// OutputPath returns the dataset path of a store.
func OutputPath(dir, storeName string) string {
	return filepath.Join(dir, SafeName(storeName)+"-slotdata.csv")
}

// Run consolidates every store in list. Store level failures are logged
// and skipped; only cancellation and output errors abort the pass.
func Run(ctx context.Context, list []stores.Store, opts Options, rep progress.Reporter) (Result, error) {
	opts.defaults()
	if rep == nil {
		rep = progress.Discard
	}
	log := opts.Logger

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("consolidate: mkdir output: %w", err)
	}

	list = dedupe(list)
	res := Result{Completed: []string{}, Processed: []string{}}
	seen := make(map[string]bool)

	for i, st := range list {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		out := OutputPath(opts.OutputDir, st.Name)
		if seen[out] {
			continue
		}
		seen[out] = true

		rep.Report(progress.StoreStart(i+1, len(list), st.Name))
		written, added, err := consolidateStore(st, out, opts.TableID)
		switch {
		case err != nil:
			log.Warn("consolidate: store failed", "store", st.Name, "error", err)
		case written:
			log.Info("consolidate: dataset updated", "store", st.Name, "rows_added", added, "path", out)
			res.Completed = append(res.Completed, st.Name)
		default:
			log.Info("consolidate: no new data", "store", st.Name)
		}
		res.Processed = append(res.Processed, st.Name)
		rep.Report(progress.StoreDone(i+1, len(list)))
	}

	if opts.CompletedPath != "" {
		if err := writeSummary(opts.CompletedPath, res); err != nil {
			return res, err
		}
	}
	return res, nil
}

func consolidateStore(st stores.Store, out, tableID string) (bool, int, error) {
	existing, err := ReadCSV(out)
	if err != nil {
		return false, 0, err
	}
	haveDay := make(map[string]bool)
	latest := ""
	for _, r := range existing {
		haveDay[r.Day] = true
		if r.Day > latest {
			latest = r.Day
		}
	}

	entries, err := os.ReadDir(st.SaveDir)
	if err != nil {
		return false, 0, fmt.Errorf("consolidate: read %s: %w", st.SaveDir, err)
	}

	var files []string
	days := make(map[string]string)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".html") {
			continue
		}
		day := dayPattern.FindString(name)
		if day == "" || haveDay[day] || (latest != "" && day <= latest) {
			continue
		}
		files = append(files, name)
		days[name] = day
	}
	sort.Strings(files)

	var added []Row
	for _, name := range files {
		rows, err := parseFile(filepath.Join(st.SaveDir, name), days[name], tableID)
		if err != nil {
			return false, 0, err
		}
		added = append(added, rows...)
	}
	if len(added) == 0 {
		return false, 0, nil
	}

	merged := Merge(existing, added)
	if err := WriteCSV(out, merged); err != nil {
		return false, 0, err
	}
	return true, len(added), nil
}

func parseFile(path, day, tableID string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("consolidate: open %s: %w", path, err)
	}
	defer f.Close()
	rows, err := ParseDocument(f, day, tableID)
	if err != nil {
		return nil, fmt.Errorf("consolidate: %s: %w", filepath.Base(path), err)
	}
	return rows, nil
}

// Merge appends added to existing, keeps the last row per (day, name,
// number) and sorts by day.
func Merge(existing, added []Row) []Row {
	all := append(append([]Row{}, existing...), added...)
	last := make(map[rowKey]int, len(all))
	for i, r := range all {
		last[r.key()] = i
	}
	out := make([]Row, 0, len(last))
	for i, r := range all {
		if last[r.key()] == i {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Day < out[b].Day })
	return out
}

func dedupe(list []stores.Store) []stores.Store {
	type key struct{ dir, name string }
	seen := make(map[key]bool, len(list))
	out := make([]stores.Store, 0, len(list))
	for _, s := range list {
		k := key{s.SaveDir, s.Name}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, s)
	}
	return out
}

func writeSummary(path string, res Result) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("consolidate: mkdir summary: %w", err)
	}
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("consolidate: encode summary: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("consolidate: write summary: %w", err)
	}
	return nil
}
