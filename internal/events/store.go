package events

import (
	"context"
	"sync"
	"time"

	"prativedak/internal/model"
)

// Store is the in-process activity feed, oldest event first.
type Store struct {
	mu    sync.RWMutex
	buf   []model.Event
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit}
}

func (s *Store) Publish(_ context.Context, ev model.Event) error {
	s.Add(ev)
	return nil
}

func (s *Store) Add(ev model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, ev)
		return
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = ev
}

// List returns the newest limit events; limit <= 0 returns all.
func (s *Store) List(limit int) []model.Event {
	return s.filter(limit, func(model.Event) bool { return true })
}

func (s *Store) ListType(t model.EventType, limit int) []model.Event {
	return s.filter(limit, func(ev model.Event) bool { return ev.Type == t })
}

func (s *Store) Session(id string) []model.Event {
	return s.filter(0, func(ev model.Event) bool { return ev.SessionID == id })
}

func (s *Store) Since(ts time.Time) []model.Event {
	return s.filter(0, func(ev model.Event) bool { return !ev.Timestamp.Before(ts) })
}

func (s *Store) filter(limit int, keep func(model.Event) bool) []model.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Event, 0)
	for i := len(s.buf) - 1; i >= 0; i-- {
		if !keep(s.buf[i]) {
			continue
		}
		out = append(out, s.buf[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}
