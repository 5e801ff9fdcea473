package ingest

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"prativedak/internal/model"
)

// Hub holds the latest reading of each sensor. The monitor polls it through
// the Accelerometer, Gyroscope and Location accessors.
type Hub struct {
	logger  *slog.Logger
	dedupe  *DedupeCache
	window  atomic.Int64
	mu      sync.RWMutex
	accel   *model.Vector3
	gyro    *model.Vector3
	fix     *model.LocationFix
	updated map[model.ReadingKind]time.Time
	count   atomic.Int64
}

func NewHub(dedupeWindow time.Duration, logger *slog.Logger) *Hub {
	h := &Hub{
		logger:  logger,
		dedupe:  NewDedupeCache(),
		updated: make(map[model.ReadingKind]time.Time),
	}
	h.window.Store(int64(dedupeWindow))
	return h
}

func (h *Hub) SetDedupeWindow(d time.Duration) {
	h.window.Store(int64(d))
}

// Run applies readings from in until ctx ends.
func (h *Hub) Run(ctx context.Context, in <-chan model.Reading) {
	for {
		select {
		case r := <-in:
			h.Apply(r)
		case <-ctx.Done():
			return
		}
	}
}

// Apply stores a reading and reports whether it was new.
func (h *Hub) Apply(r model.Reading) bool {
	if ttl := time.Duration(h.window.Load()); ttl > 0 {
		if h.dedupe.Seen(readingKey(r), time.Now(), ttl) {
			return false
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	switch r.Kind {
	case model.ReadingAccelerometer:
		v := r.Vector
		h.accel = &v
	case model.ReadingGyroscope:
		v := r.Vector
		h.gyro = &v
	case model.ReadingLocation:
		if r.Fix == nil {
			return false
		}
		fix := *r.Fix
		h.fix = &fix
	default:
		if h.logger != nil {
			h.logger.Debug("ignoring reading of unknown kind", "kind", r.Kind)
		}
		return false
	}
	h.updated[r.Kind] = r.Timestamp
	h.count.Add(1)
	return true
}

func (h *Hub) Accelerometer() *model.Vector3 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.accel == nil {
		return nil
	}
	v := *h.accel
	return &v
}

func (h *Hub) Gyroscope() *model.Vector3 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.gyro == nil {
		return nil
	}
	v := *h.gyro
	return &v
}

func (h *Hub) Location() *model.LocationFix {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.fix == nil {
		return nil
	}
	fix := *h.fix
	return &fix
}

type HubStatus struct {
	Readings int64                           `json:"readings"`
	Updated  map[model.ReadingKind]time.Time `json:"updated"`
}

func (h *Hub) Status() HubStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	updated := make(map[model.ReadingKind]time.Time, len(h.updated))
	for k, v := range h.updated {
		updated[k] = v
	}
	return HubStatus{Readings: h.count.Load(), Updated: updated}
}

func (h *Hub) Reset() {
	h.mu.Lock()
	h.accel, h.gyro, h.fix = nil, nil, nil
	h.updated = make(map[model.ReadingKind]time.Time)
	h.mu.Unlock()
	h.count.Store(0)
}
