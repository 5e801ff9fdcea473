package metrics

import (
	"sort"
	"sync"
	"time"

	"prativedak/internal/model"
)

var channelOrder = []model.Channel{model.ChannelCall, model.ChannelSMS, model.ChannelMessaging}

// Summarize groups results by channel for display.
func Summarize(sessionID string, results []model.DispatchResult) model.DispatchSummary {
	byChannel := make(map[model.Channel]*model.ChannelSummary, len(channelOrder))
	sum := model.DispatchSummary{SessionID: sessionID}
	for _, r := range results {
		cs, ok := byChannel[r.Channel]
		if !ok {
			cs = &model.ChannelSummary{Channel: r.Channel}
			byChannel[r.Channel] = cs
		}
		cs.Attempted++
		sum.Total++
		if r.Success {
			cs.Succeeded++
			sum.Succeeded++
			if r.Automatic {
				cs.Automatic++
			}
		} else {
			cs.Failed++
		}
	}
	for _, ch := range channelOrder {
		if cs, ok := byChannel[ch]; ok {
			sum.Channels = append(sum.Channels, *cs)
			delete(byChannel, ch)
		}
	}
	rest := make([]model.ChannelSummary, 0, len(byChannel))
	for _, cs := range byChannel {
		rest = append(rest, *cs)
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i].Channel < rest[j].Channel })
	sum.Channels = append(sum.Channels, rest...)
	return sum
}

// Store keeps the latest summary per session, dropping the oldest session
// once the limit is reached.
type Store struct {
	mu        sync.RWMutex
	bySession map[string]model.DispatchSummary
	updatedAt map[string]time.Time
	limit     int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 500
	}
	return &Store{
		bySession: make(map[string]model.DispatchSummary),
		updatedAt: make(map[string]time.Time),
		limit:     limit,
	}
}

func (s *Store) Update(sessionID string, results []model.DispatchResult) model.DispatchSummary {
	sum := Summarize(sessionID, results)
	if sessionID == "" {
		return sum
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bySession[sessionID] = sum
	s.updatedAt[sessionID] = time.Now().UTC()
	if len(s.bySession) > s.limit {
		s.evictOldest()
	}
	return sum
}

func (s *Store) Get(sessionID string) (model.DispatchSummary, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum, ok := s.bySession[sessionID]
	if !ok {
		return model.DispatchSummary{}, time.Time{}, false
	}
	return sum, s.updatedAt[sessionID], true
}

// GetAll returns every summary, most recently updated first.
func (s *Store) GetAll() []model.DispatchSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.DispatchSummary, 0, len(s.bySession))
	for _, sum := range s.bySession {
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool {
		return s.updatedAt[out[i].SessionID].After(s.updatedAt[out[j].SessionID])
	})
	return out
}

func (s *Store) evictOldest() {
	var oldestSession string
	var oldest time.Time
	for id, ts := range s.updatedAt {
		if oldestSession == "" || ts.Before(oldest) {
			oldestSession = id
			oldest = ts
		}
	}
	if oldestSession != "" {
		delete(s.bySession, oldestSession)
		delete(s.updatedAt, oldestSession)
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bySession = make(map[string]model.DispatchSummary)
	s.updatedAt = make(map[string]time.Time)
}
