package monitor

import (
	"sync"

	"prativedak/internal/model"
)

const subscriptionBuffer = 8

type Subscription struct {
	C <-chan model.Detection

	c    chan model.Detection
	m    *Monitor
	id   int
	once sync.Once
}

// Subscribe registers for detections. Slow subscribers miss detections
// rather than stall the sampling loop.
func (m *Monitor) Subscribe() *Subscription {
	c := make(chan model.Detection, subscriptionBuffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSub++
	s := &Subscription{C: c, c: c, m: m, id: m.nextSub}
	m.subs[s.id] = s
	return s
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.m.mu.Lock()
		delete(s.m.subs, s.id)
		s.m.mu.Unlock()
		close(s.c)
	})
}

func (m *Monitor) broadcast(det model.Detection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		select {
		case s.c <- det:
		default:
			if m.logger != nil {
				m.logger.Warn("detection dropped for slow subscriber", "subscription", s.id, "detection_id", det.ID)
			}
		}
	}
}
