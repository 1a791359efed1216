// Package jobs runs background scrape and consolidation jobs and tracks
// their progress for the web API.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hazyhaar/slotscrape/idgen"
	"github.com/hazyhaar/slotscrape/progress"
	"github.com/hazyhaar/slotscrape/scrape"
)

// Status is the lifecycle state of a Job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

var (
	// ErrNotFound is returned for an unknown job ID.
	ErrNotFound = errors.New("job not found")
	// ErrStarted is returned when starting a job twice.
	ErrStarted = errors.New("job already started")
	// ErrNoTask is returned when starting a job without a task.
	ErrNoTask = errors.New("job has no task")
)

// StallMessage is the failure message of a job aborted by the watchdog.
const StallMessage = "interrupted: stalled navigation detected, rerun to resume"

// Job is a snapshot of one background job.
type Job struct {
	ID           string     `json:"job_id"`
	Kind         string     `json:"kind"`
	Status       Status     `json:"status"`
	Progress     int        `json:"progress"`
	Message      string     `json:"message"`
	StoreDone    int        `json:"store_done"`
	StoreTotal   int        `json:"store_total"`
	StoreCurrent string     `json:"store_current"`
	Output       string     `json:"output"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Finished reports whether the job reached a terminal state.
func (j Job) Finished() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// Task is the work of one job. It reports progress through rep. When rep
// also implements Output(string), captured output lines may be sent there.
type Task func(ctx context.Context, rep progress.Reporter) error

// Options configures a Runner.
type Options struct {
	// NewID generates job IDs. Default: idgen.Prefixed("job_", idgen.Default).
	NewID idgen.Generator
	// OutputTail is the number of trailing output characters kept per job.
	// Default: 4000.
	OutputTail int
	// OnFinish is called once per job after it reaches a terminal state.
	OnFinish func(Job)
	Logger   *slog.Logger
	now      func() time.Time
}

func (o *Options) defaults() {
	if o.NewID == nil {
		o.NewID = idgen.Prefixed("job_", idgen.Default)
	}
	if o.OutputTail <= 0 {
		o.OutputTail = 4000
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.now == nil {
		o.now = time.Now
	}
}

// Runner is an in-memory job registry.
type Runner struct {
	ctx  context.Context
	opts Options

	mu   sync.Mutex
	jobs map[string]*Job
	wg   sync.WaitGroup
}

// NewRunner creates a Runner. Jobs are cancelled when ctx is done.
func NewRunner(ctx context.Context, opts Options) *Runner {
	opts.defaults()
	return &Runner{ctx: ctx, opts: opts, jobs: make(map[string]*Job)}
}

// Submit registers a queued job and starts task in the background.
// A task that cannot start leaves the job failed.
func (r *Runner) Submit(kind string, task Task) Job {
	j := r.Enqueue(kind)
	if err := r.Start(j.ID, task); err != nil {
		return r.finish(j.ID, err)
	}
	return j
}

// Enqueue registers a queued job without starting it, so callers can
// record the job ID before any work happens. Start it with Start.
func (r *Runner) Enqueue(kind string) Job {
	j := &Job{
		ID:        r.opts.NewID(),
		Kind:      kind,
		Status:    StatusQueued,
		Message:   "queued",
		CreatedAt: r.opts.now(),
	}
	r.mu.Lock()
	r.jobs[j.ID] = j
	snap := *j
	r.mu.Unlock()

	r.opts.Logger.Info("jobs: submitted", "job_id", j.ID, "kind", kind)
	return snap
}

// Start runs task for the queued job id in the background.
func (r *Runner) Start(id string, task Task) error {
	r.mu.Lock()
	j, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("jobs: start %s: %w", id, ErrNotFound)
	}
	if task == nil {
		r.mu.Unlock()
		return fmt.Errorf("jobs: start %s: %w", id, ErrNoTask)
	}
	if j.Status != StatusQueued {
		r.mu.Unlock()
		return fmt.Errorf("jobs: start %s: %w", id, ErrStarted)
	}
	j.Status = StatusRunning
	j.Message = "running"
	r.mu.Unlock()

	r.wg.Add(1)
	go r.run(id, task)
	return nil
}

// Get returns a snapshot of job id.
func (r *Runner) Get(id string) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// List returns snapshots of all jobs, newest first.
func (r *Runner) List() []Job {
	r.mu.Lock()
	out := make([]Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, *j)
	}
	r.mu.Unlock()
	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID > out[b].ID
		}
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})
	return out
}

// Wait blocks until every submitted job has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) run(id string, task Task) {
	defer r.wg.Done()
	r.finish(id, r.safeRun(id, task))
}

// finish moves job id to its terminal state and fires OnFinish.
func (r *Runner) finish(id string, err error) Job {
	var final Job
	r.update(id, func(j *Job) {
		now := r.opts.now()
		j.CompletedAt = &now
		switch {
		case err == nil:
			j.Status = StatusCompleted
			j.Progress = 100
			j.Message = "completed"
		case errors.Is(err, scrape.ErrStallDetected):
			j.Status = StatusFailed
			j.Message = StallMessage
		default:
			j.Status = StatusFailed
			j.Message = "failed: " + err.Error()
		}
		final = *j
	})

	if err != nil {
		r.opts.Logger.Warn("jobs: failed", "job_id", id, "error", err)
	} else {
		r.opts.Logger.Info("jobs: completed", "job_id", id)
	}
	if r.opts.OnFinish != nil {
		r.opts.OnFinish(final)
	}
	return final
}

func (r *Runner) safeRun(id string, task Task) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("jobs: task panic: %v", p)
		}
	}()
	return task(r.ctx, &reporter{r: r, id: id})
}

// update is the single mutation path for jobs.
func (r *Runner) update(id string, fn func(*Job)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[id]; ok {
		fn(j)
	}
}

type reporter struct {
	r  *Runner
	id string
}

func (rp *reporter) Report(e progress.Event) {
	rp.r.update(rp.id, func(j *Job) { apply(j, e) })
}

func (rp *reporter) Output(line string) {
	limit := rp.r.opts.OutputTail
	rp.r.update(rp.id, func(j *Job) { j.Output = appendTail(j.Output, line, limit) })
}

// apply folds e into j. Progress never decreases.
func apply(j *Job, e progress.Event) {
	switch e.Kind {
	case progress.KindStore:
		j.StoreDone = e.Done
		j.StoreTotal = e.Total
		if e.Total > 0 {
			raise(j, e.Done*100/e.Total)
		}
	case progress.KindStoreStart:
		j.StoreTotal = e.Total
		j.StoreCurrent = e.Store
		j.Message = fmt.Sprintf("processing %s (%d/%d)", e.Store, e.Done, e.Total)
	case progress.KindPercent:
		raise(j, e.Percent)
		if e.Detail != "" {
			j.Message = e.Detail
		}
	}
}

func raise(j *Job, p int) {
	if p > 100 {
		p = 100
	}
	if p > j.Progress {
		j.Progress = p
	}
}

// appendTail appends line to buf and keeps the last limit characters.
func appendTail(buf, line string, limit int) string {
	buf += line + "\n"
	r := []rune(buf)
	if len(r) > limit {
		buf = string(r[len(r)-limit:])
	}
	return buf
}
