// Package progress defines the structured progress events of a scrape run
// and their line encoding.
//
// In-process consumers receive Events through a Reporter. Across a process
// boundary the same events travel as stdout lines:
//
//	__PROGRESS__ store <done>/<total>
//	__PROGRESS__ store_start <current>/<total> <store_name>
//	__PROGRESS__ pct <0-100> <detail text>
package progress

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// Prefix starts every progress line.
const Prefix = "__PROGRESS__"

// Kind identifies a progress event.
type Kind string

const (
	KindStore      Kind = "store"
	KindStoreStart Kind = "store_start"
	KindPercent    Kind = "pct"
)

// Event is one progress update.
type Event struct {
	Kind Kind

	// Done and Total are set for store and store_start (Done is the
	// 1-based current store for store_start).
	Done  int
	Total int

	// Store is the store name for store_start.
	Store string

	// Percent and Detail are set for pct.
	Percent int
	Detail  string
}

// StoreDone builds a store counter event.
func StoreDone(done, total int) Event {
	return Event{Kind: KindStore, Done: done, Total: total}
}

// StoreStart builds a store start event.
func StoreStart(current, total int, name string) Event {
	return Event{Kind: KindStoreStart, Done: current, Total: total, Store: name}
}

// Percent builds a percentage event. p is clamped to 0..100.
func Percent(p int, detail string) Event {
	return Event{Kind: KindPercent, Percent: clamp(p), Detail: detail}
}

// Line encodes e without a trailing newline.
func (e Event) Line() string {
	switch e.Kind {
	case KindStore:
		return fmt.Sprintf("%s store %d/%d", Prefix, e.Done, e.Total)
	case KindStoreStart:
		return fmt.Sprintf("%s store_start %d/%d %s", Prefix, e.Done, e.Total, oneLine(e.Store))
	case KindPercent:
		return strings.TrimRight(fmt.Sprintf("%s pct %d %s", Prefix, clamp(e.Percent), oneLine(e.Detail)), " ")
	}
	return ""
}

// ParseLine decodes a progress line. It reports false for any line that is
// not a well-formed progress marker.
func ParseLine(line string) (Event, bool) {
	line = strings.TrimRight(line, "\r\n")
	rest, ok := strings.CutPrefix(line, Prefix+" ")
	if !ok {
		return Event{}, false
	}
	kind, rest, _ := strings.Cut(rest, " ")

	switch Kind(kind) {
	case KindStore:
		done, total, ok := parseRatio(strings.TrimSpace(rest))
		if !ok {
			return Event{}, false
		}
		return StoreDone(done, total), true

	case KindStoreStart:
		ratio, name, _ := strings.Cut(rest, " ")
		cur, total, ok := parseRatio(ratio)
		if !ok {
			return Event{}, false
		}
		return StoreStart(cur, total, strings.TrimSpace(name)), true

	case KindPercent:
		num, detail, _ := strings.Cut(rest, " ")
		p, err := strconv.Atoi(num)
		if err != nil || p < 0 || p > 100 {
			return Event{}, false
		}
		return Percent(p, strings.TrimSpace(detail)), true
	}
	return Event{}, false
}

func parseRatio(s string) (int, int, bool) {
	a, b, ok := strings.Cut(s, "/")
	if !ok {
		return 0, 0, false
	}
	x, err1 := strconv.Atoi(a)
	y, err2 := strconv.Atoi(b)
	if err1 != nil || err2 != nil || x < 0 || y < 0 {
		return 0, 0, false
	}
	return x, y, true
}

func clamp(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Reporter receives progress events.
type Reporter interface {
	Report(Event)
}

// Func adapts a function to Reporter.
type Func func(Event)

// Report calls f.
func (f Func) Report(e Event) { f(e) }

// Discard drops every event.
var Discard Reporter = Func(func(Event) {})

// LineWriter writes events as progress lines. Safe for concurrent use.
type LineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewLineWriter returns a Reporter writing to w.
func NewLineWriter(w io.Writer) *LineWriter {
	return &LineWriter{w: w}
}

// Report writes one line.
func (l *LineWriter) Report(e Event) {
	line := e.Line()
	if line == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	io.WriteString(l.w, line+"\n")
}
