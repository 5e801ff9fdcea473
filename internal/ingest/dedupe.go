package ingest

import (
	"strconv"
	"sync"
	"time"

	"prativedak/internal/model"
)

const dedupeCompactAt = 10000

// DedupeCache drops readings delivered twice, which happens when the same
// phone reports over more than one transport.
type DedupeCache struct {
	mu    sync.Mutex
	items map[string]time.Time
}

func NewDedupeCache() *DedupeCache {
	return &DedupeCache{items: make(map[string]time.Time)}
}

func (d *DedupeCache) Seen(key string, now time.Time, ttl time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ts, ok := d.items[key]; ok && now.Sub(ts) <= ttl {
		return true
	}
	d.items[key] = now
	if len(d.items) > dedupeCompactAt {
		for k, ts := range d.items {
			if now.Sub(ts) > ttl {
				delete(d.items, k)
			}
		}
	}
	return false
}

func readingKey(r model.Reading) string {
	key := string(r.Kind) + "|" + r.DeviceID + "|" + strconv.FormatInt(r.Timestamp.UnixNano(), 10)
	if r.Fix != nil {
		return key + "|" + strconv.FormatFloat(r.Fix.Latitude, 'f', 7, 64) + "|" + strconv.FormatFloat(r.Fix.Longitude, 'f', 7, 64)
	}
	return key + "|" + strconv.FormatFloat(r.Vector.X, 'g', -1, 64) +
		"|" + strconv.FormatFloat(r.Vector.Y, 'g', -1, 64) +
		"|" + strconv.FormatFloat(r.Vector.Z, 'g', -1, 64)
}
