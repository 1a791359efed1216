package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/slotscrape/progress"
	"github.com/hazyhaar/slotscrape/scrape"
)

func newRunner(t *testing.T, opts Options) *Runner {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewRunner(ctx, opts)
}

func TestRunner_Completed(t *testing.T) {
	r := newRunner(t, Options{})
	job := r.Submit("scrape", func(ctx context.Context, rep progress.Reporter) error {
		rep.Report(progress.StoreStart(1, 2, "alpha"))
		rep.Report(progress.Percent(30, "alpha 2024-01-01"))
		rep.Report(progress.StoreDone(1, 2))
		return nil
	})
	if job.Status != StatusQueued {
		t.Errorf("initial status = %s, want queued", job.Status)
	}
	if !strings.HasPrefix(job.ID, "job_") {
		t.Errorf("job id %q lacks prefix", job.ID)
	}

	r.Wait()

	got, ok := r.Get(job.ID)
	if !ok {
		t.Fatal("job not found")
	}
	if got.Status != StatusCompleted || got.Progress != 100 {
		t.Fatalf("got %s %d%%, want completed 100%%", got.Status, got.Progress)
	}
	if got.StoreDone != 1 || got.StoreTotal != 2 || got.StoreCurrent != "alpha" {
		t.Errorf("store counters: %+v", got)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
}

func TestRunner_ProgressNeverDecreases(t *testing.T) {
	r := newRunner(t, Options{})
	job := r.Submit("scrape", func(ctx context.Context, rep progress.Reporter) error {
		for _, p := range []int{10, 40, 20, 60, 5} {
			rep.Report(progress.Percent(p, ""))
		}
		rep.Report(progress.StoreDone(0, 3))
		return errors.New("boom")
	})
	r.Wait()

	got, _ := r.Get(job.ID)
	if got.Progress != 60 {
		t.Errorf("progress = %d, want 60", got.Progress)
	}
	if got.Status != StatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if !strings.Contains(got.Message, "boom") {
		t.Errorf("message = %q", got.Message)
	}
}

func TestRunner_StallMessageDistinct(t *testing.T) {
	r := newRunner(t, Options{})
	stall := r.Submit("scrape", func(ctx context.Context, rep progress.Reporter) error {
		return fmt.Errorf("run: %w", scrape.ErrStallDetected)
	})
	plain := r.Submit("scrape", func(ctx context.Context, rep progress.Reporter) error {
		return errors.New("exit status 1")
	})
	r.Wait()

	s, _ := r.Get(stall.ID)
	p, _ := r.Get(plain.ID)
	if s.Message != StallMessage {
		t.Errorf("stall message = %q", s.Message)
	}
	if p.Message == StallMessage || p.Status != StatusFailed {
		t.Errorf("plain failure = %+v", p)
	}
}

func TestRunner_PanicFailsJob(t *testing.T) {
	r := newRunner(t, Options{})
	job := r.Submit("scrape", func(ctx context.Context, rep progress.Reporter) error {
		panic("kaboom")
	})
	r.Wait()
	got, _ := r.Get(job.ID)
	if got.Status != StatusFailed || !strings.Contains(got.Message, "kaboom") {
		t.Errorf("got %+v", got)
	}
}

func TestRunner_OnFinishAndList(t *testing.T) {
	var mu sync.Mutex
	var finished []string
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	var clock sync.Mutex
	r := newRunner(t, Options{
		OnFinish: func(j Job) {
			mu.Lock()
			finished = append(finished, j.ID)
			mu.Unlock()
		},
		now: func() time.Time {
			clock.Lock()
			defer clock.Unlock()
			tick++
			return base.Add(time.Duration(tick) * time.Second)
		},
	})
	noop := func(ctx context.Context, rep progress.Reporter) error { return nil }
	first := r.Submit("scrape", noop)
	r.Wait()
	second := r.Submit("format", noop)
	r.Wait()

	list := r.List()
	if len(list) != 2 || list[0].ID != second.ID || list[1].ID != first.ID {
		t.Fatalf("List order = %v", list)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(finished) != 2 {
		t.Errorf("OnFinish calls = %d, want 2", len(finished))
	}
	if _, ok := r.Get("missing"); ok {
		t.Error("Get(missing) should report false")
	}
}

func TestAppendTail(t *testing.T) {
	buf := ""
	for i := 0; i < 10; i++ {
		buf = appendTail(buf, "ああああ", 12)
	}
	if n := len([]rune(buf)); n != 12 {
		t.Fatalf("tail length = %d runes, want 12", n)
	}
	if !strings.HasSuffix(buf, "ああああ\n") {
		t.Errorf("tail = %q", buf)
	}
}

func TestRunner_EnqueueThenStart(t *testing.T) {
	r := newRunner(t, Options{})
	job := r.Enqueue("format")
	if got, _ := r.Get(job.ID); got.Status != StatusQueued {
		t.Fatalf("status = %s, want queued", got.Status)
	}
	noop := func(ctx context.Context, rep progress.Reporter) error { return nil }
	if err := r.Start(job.ID, noop); err != nil {
		t.Fatal(err)
	}
	if err := r.Start(job.ID, noop); !errors.Is(err, ErrStarted) {
		t.Errorf("second Start: got %v, want ErrStarted", err)
	}
	if err := r.Start("nope", noop); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown Start: got %v, want ErrNotFound", err)
	}
	r.Wait()
	if got, _ := r.Get(job.ID); got.Status != StatusCompleted {
		t.Errorf("status = %s", got.Status)
	}
}

func TestRunner_SubmitWithoutTaskFails(t *testing.T) {
	var finished []Job
	r := newRunner(t, Options{OnFinish: func(j Job) { finished = append(finished, j) }})

	job := r.Submit("scrape", nil)
	if job.Status != StatusFailed || !strings.Contains(job.Message, ErrNoTask.Error()) {
		t.Fatalf("job = %+v", job)
	}
	if got, _ := r.Get(job.ID); got.Status != StatusFailed || got.CompletedAt == nil {
		t.Errorf("stored job = %+v", got)
	}
	if len(finished) != 1 || finished[0].ID != job.ID {
		t.Errorf("OnFinish = %+v", finished)
	}
	r.Wait()
}
