package monitor

import "prativedak/internal/model"

// Ring keeps the most recent complete samples, oldest first.
type Ring struct {
	size    int
	samples []model.MotionSample
	head    int
}

func NewRing(size int) *Ring {
	if size <= 0 {
		size = 100
	}
	return &Ring{size: size, samples: make([]model.MotionSample, 0, size)}
}

func (r *Ring) Add(s model.MotionSample) {
	r.samples = append(r.samples, s)
	r.evict()
}

func (r *Ring) Len() int {
	return len(r.samples) - r.head
}

func (r *Ring) Snapshot() []model.MotionSample {
	out := make([]model.MotionSample, r.Len())
	copy(out, r.samples[r.head:])
	return out
}

func (r *Ring) Resize(size int) {
	if size <= 0 || size == r.size {
		return
	}
	r.size = size
	r.evict()
}

func (r *Ring) Reset() {
	r.samples = r.samples[:0]
	r.head = 0
}

func (r *Ring) evict() {
	if over := r.Len() - r.size; over > 0 {
		r.head += over
	}
	if r.head > 0 && r.head*2 >= len(r.samples) {
		r.samples = append(make([]model.MotionSample, 0, r.size), r.samples[r.head:]...)
		r.head = 0
	}
}
