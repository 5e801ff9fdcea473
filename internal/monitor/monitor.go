// Package monitor owns the sampling loop: it polls the latest sensor
// readings, classifies them against recent history and raises one
// detection per accident until the detection is cleared.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"prativedak/internal/classifier"
	"prativedak/internal/config"
	"prativedak/internal/model"
)

// Sensors exposes the latest reading of each source, nil until the first
// reading arrives.
type Sensors interface {
	Accelerometer() *model.Vector3
	Gyroscope() *model.Vector3
	Location() *model.LocationFix
}

type PermissionChecker interface {
	Granted(ctx context.Context, perm model.Permission) bool
}

type Monitor struct {
	logger  *slog.Logger
	clock   clockwork.Clock
	sensors Sensors
	perms   PermissionChecker
	cfg     atomic.Value
	latch   Latch

	mu      sync.Mutex
	running bool
	ticker  clockwork.Ticker
	stop    chan struct{}
	done    chan struct{}
	current *model.MotionSample
	history *Ring
	subs    map[int]*Subscription
	nextSub int
}

func New(cfg config.DetectionConfig, sensors Sensors, perms PermissionChecker, clock clockwork.Clock, logger *slog.Logger) *Monitor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	m := &Monitor{
		logger:  logger,
		clock:   clock,
		sensors: sensors,
		perms:   perms,
		history: NewRing(cfg.HistorySize),
		subs:    make(map[int]*Subscription),
	}
	m.cfg.Store(cfg)
	return m
}

func (m *Monitor) config() config.DetectionConfig {
	if v := m.cfg.Load(); v != nil {
		return v.(config.DetectionConfig)
	}
	return config.DefaultDetection()
}

func (m *Monitor) UpdateConfig(cfg config.DetectionConfig) {
	prev := m.config()
	m.cfg.Store(cfg)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history.Resize(cfg.HistorySize)
	if m.running && cfg.SampleInterval != prev.SampleInterval && cfg.SampleInterval > 0 {
		m.ticker.Reset(cfg.SampleInterval)
	}
}

// Start begins sampling. It returns false when location permission is
// missing and true if monitoring is (or already was) running.
func (m *Monitor) Start(ctx context.Context) bool {
	if m.perms != nil && !m.perms.Granted(ctx, model.PermissionLocation) {
		if m.logger != nil {
			m.logger.Warn("monitoring not started: location permission missing")
		}
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return true
	}
	m.running = true
	m.ticker = m.clock.NewTicker(m.config().SampleInterval)
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.loop(ctx, m.ticker, m.stop, m.done)
	if m.logger != nil {
		m.logger.Info("monitoring started", "interval", m.config().SampleInterval.String())
	}
	return true
}

// Stop ends sampling and waits for the loop to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.ticker.Stop()
	close(m.stop)
	done := m.done
	m.mu.Unlock()
	<-done
	if m.logger != nil {
		m.logger.Info("monitoring stopped")
	}
}

func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) loop(ctx context.Context, ticker clockwork.Ticker, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ticker.Chan():
			m.Poll()
		case <-stop:
			return
		case <-ctx.Done():
			m.mu.Lock()
			if m.stop == stop {
				m.running = false
				ticker.Stop()
			}
			m.mu.Unlock()
			return
		}
	}
}

// Poll takes one sample, classifies it and records it in history. It
// returns the detection when this sample tripped the latch.
func (m *Monitor) Poll() (model.Detection, bool) {
	cfg := m.config()
	now := m.clock.Now().UTC()
	sample := model.MotionSample{
		Accelerometer: m.sensors.Accelerometer(),
		Gyroscope:     m.sensors.Gyroscope(),
		Location:      m.sensors.Location(),
		Timestamp:     now,
	}

	m.mu.Lock()
	m.current = &sample
	if !sample.Complete() {
		m.mu.Unlock()
		return model.Detection{}, false
	}
	result := classifier.Classify(cfg, &sample, m.history.Snapshot())
	m.history.Add(sample)
	m.mu.Unlock()

	if !result.IsAccident || !m.latch.Trip(now) {
		return model.Detection{}, false
	}
	det := model.Detection{
		ID:             uuid.NewString(),
		Timestamp:      now,
		Classification: result,
		Sample:         sample,
	}
	if m.logger != nil {
		m.logger.Warn("accident detected",
			"detection_id", det.ID,
			"type", result.Type,
			"severity", result.Severity,
			"confidence", result.Confidence,
			"rule", result.Rule,
		)
	}
	m.broadcast(det)
	return det, true
}

// ClearAccident re-arms detection after the user dealt with the last one.
func (m *Monitor) ClearAccident() {
	m.latch.Clear()
}

func (m *Monitor) AccidentDetected() bool {
	set, _ := m.latch.Tripped()
	return set
}

// CurrentData returns the most recent sample, nil before the first poll.
func (m *Monitor) CurrentData() *model.MotionSample {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	cp := *m.current
	return &cp
}

func (m *Monitor) History() []model.MotionSample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history.Snapshot()
}

func (m *Monitor) ResetHistory() {
	m.mu.Lock()
	m.history.Reset()
	m.current = nil
	m.mu.Unlock()
}
