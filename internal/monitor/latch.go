package monitor

import (
	"sync"
	"time"
)

// Latch holds a detection until it is explicitly cleared, so one accident
// produces one event no matter how many samples stay above threshold.
type Latch struct {
	mu    sync.Mutex
	set   bool
	since time.Time
}

// Trip sets the latch and reports whether it was previously open.
func (l *Latch) Trip(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.set {
		return false
	}
	l.set = true
	l.since = now
	return true
}

func (l *Latch) Clear() {
	l.mu.Lock()
	l.set = false
	l.since = time.Time{}
	l.mu.Unlock()
}

func (l *Latch) Tripped() (bool, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.set, l.since
}
