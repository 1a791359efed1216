// Package web is the HTTP control surface: store selection, scrape and
// consolidation jobs, job polling and the run log.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/slotscrape/consolidate"
	"github.com/hazyhaar/slotscrape/jobs"
	"github.com/hazyhaar/slotscrape/progress"
	"github.com/hazyhaar/slotscrape/runlog"
	"github.com/hazyhaar/slotscrape/shield"
	"github.com/hazyhaar/slotscrape/stores"
)

//go:embed static
var staticFS embed.FS

// RecentLogs is the number of run log entries served by /api/logs.
const RecentLogs = 20

// Config wires the control surface to files and binaries.
type Config struct {
	StoreListPath     string
	TempStoreListPath string
	OutputDir         string
	CompletedPath     string
	TableID           string

	// ScrapeBin is the scrape executable; ScrapeArgs are prepended to the
	// per-request arguments.
	ScrapeBin  string
	ScrapeArgs []string

	Logger *slog.Logger
}

// Server serves the control surface.
type Server struct {
	cfg    Config
	runner *jobs.Runner
	runs   *runlog.Log

	// scrapeTask builds the task of a scrape job; tests replace it.
	scrapeTask func(args []string) jobs.Task
}

// New returns a Server.
func New(cfg Config, runner *jobs.Runner, runs *runlog.Log) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{cfg: cfg, runner: runner, runs: runs}
	s.scrapeTask = func(args []string) jobs.Task {
		return jobs.CommandTask(cfg.ScrapeBin, args...)
	}
	return s
}

// Handler returns the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	for _, mw := range shield.DefaultStack() {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		f, err := staticFS.Open("static/index.html")
		if err != nil {
			http.Error(w, "not found", 404)
			return
		}
		defer f.Close()
		io.Copy(w, f)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/stores", s.listStores)
		r.Post("/stores/reorder", s.reorderStores)
		r.Post("/scrape", s.startScrape)
		r.Post("/format-offline", s.startFormat)
		r.Get("/jobs", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, 200, s.runner.List())
		})
		r.Get("/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
			job, ok := s.runner.Get(chi.URLParam(r, "id"))
			if !ok {
				writeJSON(w, 404, map[string]string{"error": "job not found"})
				return
			}
			writeJSON(w, 200, job)
		})
		r.Get("/logs", s.recentLogs)
	})
	return r
}

func (s *Server) loadStores() ([]stores.Store, error) {
	list, err := stores.Load(s.cfg.StoreListPath, s.cfg.Logger)
	if errors.Is(err, os.ErrNotExist) {
		return []stores.Store{}, nil
	}
	return list, err
}

func (s *Server) listStores(w http.ResponseWriter, r *http.Request) {
	list, err := s.loadStores()
	if err != nil {
		shield.GetLogger(r.Context()).Error("web: load stores", "error", err)
		writeError(w, 500, err)
		return
	}
	if list == nil {
		list = []stores.Store{}
	}
	writeJSON(w, 200, list)
}

func (s *Server) reorderStores(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Order []string `json:"order"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Order) == 0 {
		writeJSON(w, 400, map[string]string{"error": "invalid order"})
		return
	}
	list, err := stores.Load(s.cfg.StoreListPath, s.cfg.Logger)
	if err != nil {
		writeError(w, 500, err)
		return
	}
	list, moved := stores.Reorder(list, req.Order)
	if err := stores.Save(s.cfg.StoreListPath, list); err != nil {
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 200, map[string]any{
		"message": fmt.Sprintf("order saved (%d moved)", moved),
		"moved":   moved,
	})
}

type scrapeRequest struct {
	Stores          []string `json:"stores"`
	MaxStores       int      `json:"max_stores"`
	MaxDaysPerStore int      `json:"max_days_per_store"`
}

func (s *Server) startScrape(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, 400, err)
		return
	}
	if len(req.Stores) == 0 {
		writeJSON(w, 400, map[string]string{"error": "no stores selected"})
		return
	}

	list, err := s.loadStores()
	if err != nil {
		writeError(w, 500, err)
		return
	}
	selected := stores.Filter(list, req.Stores)
	if len(selected) == 0 {
		writeJSON(w, 400, map[string]string{"error": "selected stores not found"})
		return
	}
	if err := stores.Save(s.cfg.TempStoreListPath, selected); err != nil {
		writeError(w, 500, err)
		return
	}
	listPath, err := s.writeJobList(selected)
	if err != nil {
		writeError(w, 500, err)
		return
	}

	args := append([]string{}, s.cfg.ScrapeArgs...)
	args = append(args, "-file", listPath)
	if req.MaxStores > 0 {
		args = append(args, "-max-stores", strconv.Itoa(req.MaxStores))
	}
	if req.MaxDaysPerStore > 0 {
		args = append(args, "-max-days-per-store", strconv.Itoa(req.MaxDaysPerStore))
	}

	inner := s.scrapeTask(args)
	task := func(ctx context.Context, rep progress.Reporter) error {
		defer os.Remove(listPath)
		return inner(ctx, rep)
	}
	job, err := s.launch(r.Context(), runlog.ActionScrape, req.Stores, task)
	if err != nil {
		os.Remove(listPath)
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 202, map[string]any{
		"job_id":         job.ID,
		"status":         job.Status,
		"selected_count": len(selected),
	})
}

// writeJobList saves the selection of one scrape job to its own file next to
// the shared temp list, so concurrent jobs never read each other's stores.
func (s *Server) writeJobList(list []stores.Store) (string, error) {
	dir := filepath.Dir(s.cfg.TempStoreListPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("web: job list dir: %w", err)
	}
	f, err := os.CreateTemp(dir, "scrape-*.csv")
	if err != nil {
		return "", fmt.Errorf("web: job list: %w", err)
	}
	path := f.Name()
	f.Close()
	if err := stores.Save(path, list); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func (s *Server) startFormat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Stores []string `json:"stores"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, 400, err)
		return
	}
	list, err := s.loadStores()
	if err != nil {
		writeError(w, 500, err)
		return
	}
	targets := stores.Filter(list, req.Stores)
	if len(targets) == 0 {
		writeJSON(w, 400, map[string]string{"error": "no stores found"})
		return
	}

	opts := consolidate.Options{
		OutputDir:     s.cfg.OutputDir,
		CompletedPath: s.cfg.CompletedPath,
		TableID:       s.cfg.TableID,
		Logger:        s.cfg.Logger,
	}
	task := func(ctx context.Context, rep progress.Reporter) error {
		_, err := consolidate.Run(ctx, targets, opts, rep)
		return err
	}

	job, err := s.launch(r.Context(), runlog.ActionFormatOffline, req.Stores, task)
	if err != nil {
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 202, map[string]any{
		"job_id":         job.ID,
		"status":         job.Status,
		"selected_count": len(targets),
	})
}

// launch records the run and then starts its job.
func (s *Server) launch(ctx context.Context, action string, names []string, task jobs.Task) (jobs.Job, error) {
	job := s.runner.Enqueue(action)
	if s.runs != nil {
		if _, err := s.runs.Append(ctx, runlog.Entry{Action: action, Stores: names, JobID: job.ID, Status: string(job.Status)}); err != nil {
			s.cfg.Logger.Warn("web: run log append failed", "job_id", job.ID, "error", err)
		}
	}
	if err := s.runner.Start(job.ID, task); err != nil {
		return job, err
	}
	return job, nil
}

func (s *Server) recentLogs(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeJSON(w, 200, []runlog.Entry{})
		return
	}
	entries, err := s.runs.Recent(r.Context(), RecentLogs)
	if err != nil {
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 200, entries)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
