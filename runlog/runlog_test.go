package runlog

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/hazyhaar/slotscrape/dbopen"
)

func newLog(t *testing.T) *Log {
	t.Helper()
	l := New(dbopen.OpenMemory(t))
	if err := l.EnsureTable(context.Background()); err != nil {
		t.Fatal(err)
	}
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	l.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}
	return l
}

func TestAppendAndRecent(t *testing.T) {
	ctx := context.Background()
	l := newLog(t)

	for i := 0; i < 25; i++ {
		_, err := l.Append(ctx, Entry{
			Action: ActionScrape,
			Stores: []string{fmt.Sprintf("store%d", i)},
			JobID:  fmt.Sprintf("job_%d", i),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	got, err := l.Recent(ctx, 20)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 20 {
		t.Fatalf("len = %d, want 20", len(got))
	}
	if got[0].Stores[0] != "store5" || got[19].Stores[0] != "store24" {
		t.Errorf("window = %s..%s, want store5..store24", got[0].Stores[0], got[19].Stores[0])
	}
	if got[0].Count != 1 || got[0].ID == "" {
		t.Errorf("first entry = %+v", got[0])
	}
}

func TestFinish(t *testing.T) {
	ctx := context.Background()
	l := newLog(t)

	if _, err := l.Append(ctx, Entry{Action: ActionFormatOffline, JobID: "job_x"}); err != nil {
		t.Fatal(err)
	}
	if err := l.Finish(ctx, "job_x", "completed", "done"); err != nil {
		t.Fatal(err)
	}
	got, err := l.Recent(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d", len(got))
	}
	e := got[0]
	if e.Status != "completed" || e.Message != "done" || e.CompletedAt == nil {
		t.Errorf("entry = %+v", e)
	}
	if len(e.Stores) != 0 {
		t.Errorf("stores = %v, want empty", e.Stores)
	}
}

func TestRecent_Empty(t *testing.T) {
	got, err := newLog(t).Recent(context.Background(), 20)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("got %v, want empty non-nil slice", got)
	}
}
