package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/hazyhaar/slotscrape/dbopen"
	"github.com/hazyhaar/slotscrape/jobs"
	"github.com/hazyhaar/slotscrape/progress"
	"github.com/hazyhaar/slotscrape/runlog"
	"github.com/hazyhaar/slotscrape/stores"
)

type testEnv struct {
	srv    *Server
	runner *jobs.Runner
	h      http.Handler
	cfg    Config

	mu   sync.Mutex
	args [][]string
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{
		StoreListPath:     filepath.Join(dir, "store_list.csv"),
		TempStoreListPath: filepath.Join(dir, "runtime", "temp_store_list.csv"),
		OutputDir:         filepath.Join(dir, "out"),
		CompletedPath:     filepath.Join(dir, "runtime", "completed_stores.json"),
		ScrapeBin:         "slotscrape",
	}
	list := []stores.Store{
		{Name: "Alpha", ListingURL: "https://example.test/a", SaveDir: filepath.Join(dir, "html", "a")},
		{Name: "Beta", ListingURL: "https://example.test/b", SaveDir: filepath.Join(dir, "html", "b")},
		{Name: "Gamma", ListingURL: "https://example.test/c", SaveDir: filepath.Join(dir, "html", "c")},
	}
	if err := stores.Save(cfg.StoreListPath, list); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	runs := runlog.New(dbopen.OpenMemory(t))
	if err := runs.EnsureTable(ctx); err != nil {
		t.Fatal(err)
	}
	runner := jobs.NewRunner(ctx, jobs.Options{
		OnFinish: func(j jobs.Job) {
			runs.Finish(context.Background(), j.ID, string(j.Status), j.Message)
		},
	})

	env := &testEnv{runner: runner, cfg: cfg}
	env.srv = New(cfg, runner, runs)
	env.srv.scrapeTask = func(args []string) jobs.Task {
		env.mu.Lock()
		env.args = append(env.args, args)
		env.mu.Unlock()
		return func(ctx context.Context, rep progress.Reporter) error {
			rep.Report(progress.StoreStart(1, 1, "Alpha"))
			rep.Report(progress.StoreDone(1, 1))
			return nil
		}
	}
	env.h = env.srv.Handler()
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealthAndIndex(t *testing.T) {
	e := newEnv(t)
	if rec := e.do(t, "GET", "/health", ""); rec.Code != 200 {
		t.Fatalf("health = %d", rec.Code)
	}
	rec := e.do(t, "GET", "/", "")
	if rec.Code != 200 || !strings.Contains(rec.Body.String(), "slotscrape") {
		t.Fatalf("index = %d", rec.Code)
	}
}

func TestListStores(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, "GET", "/api/stores", "")
	if rec.Code != 200 {
		t.Fatalf("code = %d", rec.Code)
	}
	got := decode[[]map[string]string](t, rec)
	if len(got) != 3 || got[0]["name"] != "Alpha" || got[0]["url"] == "" || got[0]["directory"] == "" {
		t.Errorf("stores = %v", got)
	}
}

func TestListStores_MissingFile(t *testing.T) {
	e := newEnv(t)
	os.Remove(e.cfg.StoreListPath)
	rec := e.do(t, "GET", "/api/stores", "")
	if rec.Code != 200 || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("got %d %q", rec.Code, rec.Body.String())
	}
}

func TestScrape_SubmitAndPoll(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, "POST", "/api/scrape", `{"stores":["Beta","Alpha"],"max_days_per_store":3}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("code = %d body %s", rec.Code, rec.Body.String())
	}
	resp := decode[map[string]any](t, rec)
	id, _ := resp["job_id"].(string)
	if id == "" || resp["selected_count"].(float64) != 2 {
		t.Fatalf("resp = %v", resp)
	}

	e.runner.Wait()

	job := decode[jobs.Job](t, e.do(t, "GET", "/api/jobs/"+id, ""))
	if job.Status != jobs.StatusCompleted || job.Progress != 100 || job.StoreDone != 1 {
		t.Errorf("job = %+v", job)
	}

	tmp, err := stores.Load(e.cfg.TempStoreListPath, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(tmp) != 2 || tmp[0].Name != "Alpha" || tmp[1].Name != "Beta" {
		t.Errorf("temp list = %+v", tmp)
	}

	e.mu.Lock()
	args := strings.Join(e.args[0], " ")
	e.mu.Unlock()
	if !strings.Contains(args, "-file "+filepath.Join(filepath.Dir(e.cfg.TempStoreListPath), "scrape-")) || !strings.Contains(args, "-max-days-per-store 3") {
		t.Errorf("args = %q", args)
	}
	if _, err := os.Stat(fileArg(e.args[0])); !os.IsNotExist(err) {
		t.Errorf("job list not removed after the job finished: %v", err)
	}
	if strings.Contains(args, "-max-stores") {
		t.Errorf("unexpected -max-stores in %q", args)
	}

	logs := decode[[]runlog.Entry](t, e.do(t, "GET", "/api/logs", ""))
	if len(logs) != 1 || logs[0].Action != runlog.ActionScrape || logs[0].JobID != id {
		t.Fatalf("logs = %+v", logs)
	}
	if logs[0].Status != string(jobs.StatusCompleted) {
		t.Errorf("log status = %q", logs[0].Status)
	}
}

func fileArg(args []string) string {
	for i, a := range args {
		if a == "-file" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func TestScrape_ConcurrentJobsKeepTheirSelection(t *testing.T) {
	e := newEnv(t)
	release := make(chan struct{})
	var mu sync.Mutex
	seen := map[string][]string{}
	e.srv.scrapeTask = func(args []string) jobs.Task {
		path := fileArg(args)
		return func(ctx context.Context, rep progress.Reporter) error {
			<-release
			list, err := stores.Load(path, nil)
			if err != nil {
				return err
			}
			var names []string
			for _, st := range list {
				names = append(names, st.Name)
			}
			mu.Lock()
			seen[path] = names
			mu.Unlock()
			return nil
		}
	}

	var ids []string
	for _, body := range []string{`{"stores":["Alpha"]}`, `{"stores":["Beta"]}`} {
		rec := e.do(t, "POST", "/api/scrape", body)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("code = %d body %s", rec.Code, rec.Body.String())
		}
		ids = append(ids, decode[map[string]any](t, rec)["job_id"].(string))
	}
	close(release)
	e.runner.Wait()

	for _, id := range ids {
		job, _ := e.runner.Get(id)
		if job.Status != jobs.StatusCompleted {
			t.Errorf("job %s = %+v", id, job)
		}
	}
	if len(seen) != 2 {
		t.Fatalf("jobs shared a list file: %v", seen)
	}
	var got []string
	for _, names := range seen {
		got = append(got, strings.Join(names, ","))
	}
	slices.Sort(got)
	if strings.Join(got, " ") != "Alpha Beta" {
		t.Errorf("job selections = %v", got)
	}
}

func TestScrape_Rejects(t *testing.T) {
	e := newEnv(t)
	for _, body := range []string{`{}`, `{"stores":[]}`, `{"stores":["Nope"]}`} {
		if rec := e.do(t, "POST", "/api/scrape", body); rec.Code != 400 {
			t.Errorf("body %s: code = %d", body, rec.Code)
		}
	}
	if n := len(e.runner.List()); n != 0 {
		t.Errorf("jobs = %d, want 0", n)
	}
}

func TestJobs_NotFoundAndList(t *testing.T) {
	e := newEnv(t)
	if rec := e.do(t, "GET", "/api/jobs/missing", ""); rec.Code != 404 {
		t.Errorf("code = %d", rec.Code)
	}
	e.do(t, "POST", "/api/scrape", `{"stores":["Alpha"]}`)
	e.runner.Wait()
	list := decode[[]jobs.Job](t, e.do(t, "GET", "/api/jobs", ""))
	if len(list) != 1 {
		t.Errorf("jobs = %d", len(list))
	}
}

func TestReorder(t *testing.T) {
	e := newEnv(t)
	list, _ := stores.Load(e.cfg.StoreListPath, nil)
	body, _ := json.Marshal(map[string]any{"order": []string{list[2].SaveDir, list[0].SaveDir}})

	rec := e.do(t, "POST", "/api/stores/reorder", string(body))
	if rec.Code != 200 {
		t.Fatalf("code = %d %s", rec.Code, rec.Body.String())
	}
	got, _ := stores.Load(e.cfg.StoreListPath, nil)
	if got[0].Name != "Gamma" || got[1].Name != "Alpha" || got[2].Name != "Beta" {
		t.Errorf("order = %s %s %s", got[0].Name, got[1].Name, got[2].Name)
	}
	if rec := e.do(t, "POST", "/api/stores/reorder", `{"order":[]}`); rec.Code != 400 {
		t.Errorf("empty order code = %d", rec.Code)
	}
}

func TestFormatOffline(t *testing.T) {
	e := newEnv(t)
	list, _ := stores.Load(e.cfg.StoreListPath, nil)
	doc := `<table id="all_data_table"><tr><th>h</th></tr>` +
		`<tr><td>A</td><td>1</td><td>100</td><td>+5</td><td>1</td><td>1</td></tr></table>`
	os.MkdirAll(list[0].SaveDir, 0o755)
	os.WriteFile(filepath.Join(list[0].SaveDir, "2024-02-01.html"), []byte(doc), 0o644)

	rec := e.do(t, "POST", "/api/format-offline", `{"stores":["Alpha"]}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("code = %d %s", rec.Code, rec.Body.String())
	}
	e.runner.Wait()

	if _, err := os.Stat(filepath.Join(e.cfg.OutputDir, "Alpha-slotdata.csv")); err != nil {
		t.Errorf("dataset not written: %v", err)
	}
	if _, err := os.Stat(e.cfg.CompletedPath); err != nil {
		t.Errorf("summary not written: %v", err)
	}
}
