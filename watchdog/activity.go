package watchdog

import (
	"sync"
	"sync/atomic"
	"time"
)

// Activity records the last successful page transition of a browser
// session. It is written by the session driver and read by the Watchdog.
type Activity struct {
	last atomic.Int64 // unix nanoseconds
	held atomic.Int32

	mu    sync.Mutex
	label string

	now func() time.Time
}

// NewActivity returns an Activity stamped at the current time.
func NewActivity() *Activity {
	a := &Activity{now: time.Now}
	a.Touch("start")
	return a
}

// Touch marks a transition that just completed.
func (a *Activity) Touch(label string) {
	a.last.Store(a.now().UnixNano())
	a.mu.Lock()
	a.label = label
	a.mu.Unlock()
}

// Last returns the time of the last transition.
func (a *Activity) Last() time.Time {
	return time.Unix(0, a.last.Load())
}

// Label returns the label of the last transition.
func (a *Activity) Label() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.label
}

// Idle returns how long ago the last transition happened. It is zero while
// the session is held.
func (a *Activity) Idle() time.Duration {
	if a.held.Load() > 0 {
		return 0
	}
	return a.now().Sub(a.Last())
}

// Hold marks the session busy on an intentional wait, such as an operator
// clearing a challenge. The returned release touches the session with label
// and ends the hold; calling it again is a no-op.
func (a *Activity) Hold(label string) (release func()) {
	a.held.Add(1)
	a.Touch(label)
	var once sync.Once
	return func() {
		once.Do(func() {
			a.Touch(label)
			a.held.Add(-1)
		})
	}
}
