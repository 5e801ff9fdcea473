// Package pipeline connects the monitor to the rest of the app: detections
// go to the event feed and storage, and may open an emergency countdown.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"prativedak/internal/config"
	"prativedak/internal/events"
	"prativedak/internal/metrics"
	"prativedak/internal/model"
	"prativedak/internal/monitor"
	"prativedak/internal/sequencer"
	"prativedak/internal/storage"
	"prativedak/internal/validate"
)

var ErrNotStarted = errors.New("pipeline not started")

type Sequencer interface {
	Start(ctx context.Context, user model.User, loc *model.Location, hooks sequencer.Hooks) (string, error)
}

type Pipeline struct {
	logger    *slog.Logger
	monitor   *monitor.Monitor
	sequencer Sequencer
	validator *validate.ValidationService
	publisher events.Publisher
	store     storage.Store
	cfg       atomic.Value

	mu   sync.Mutex
	base context.Context
	last *model.Detection
}

func New(cfg config.EmergencyConfig, mon *monitor.Monitor, seq Sequencer, validator *validate.ValidationService, publisher events.Publisher, store storage.Store, logger *slog.Logger) *Pipeline {
	if validator == nil {
		validator = validate.NewValidationService()
	}
	p := &Pipeline{
		logger:    logger,
		monitor:   mon,
		sequencer: seq,
		validator: validator,
		publisher: publisher,
		store:     store,
	}
	p.cfg.Store(cfg)
	return p
}

func (p *Pipeline) UpdateConfig(cfg config.EmergencyConfig) {
	p.cfg.Store(cfg)
}

func (p *Pipeline) config() config.EmergencyConfig {
	if v := p.cfg.Load(); v != nil {
		return v.(config.EmergencyConfig)
	}
	return config.DefaultEmergency()
}

// Start subscribes to detections. ctx bounds everything the pipeline
// starts later, including countdowns requested through the API.
func (p *Pipeline) Start(ctx context.Context) {
	p.mu.Lock()
	p.base = ctx
	p.mu.Unlock()
	sub := p.monitor.Subscribe()
	go func() {
		defer sub.Close()
		for {
			select {
			case det, ok := <-sub.C:
				if !ok {
					return
				}
				p.HandleDetection(ctx, det)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (p *Pipeline) baseContext() (context.Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.base == nil {
		return nil, ErrNotStarted
	}
	return p.base, nil
}

// HandleDetection publishes and stores a detection, then opens a countdown
// for the configured profile when auto start is on.
func (p *Pipeline) HandleDetection(ctx context.Context, det model.Detection) {
	p.mu.Lock()
	d := det
	p.last = &d
	p.mu.Unlock()

	events.Emit(ctx, p.publisher, p.logger, model.EventDetection, "", det)
	if p.store != nil {
		if err := p.store.SaveDetection(ctx, det); err != nil && p.logger != nil {
			p.logger.Error("save detection failed", "detection_id", det.ID, "err", err)
		}
	}

	cfg := p.config()
	if !cfg.AutoStart || cfg.Profile == nil {
		return
	}
	id, err := p.startSequence(ctx, *cfg.Profile, locationOf(det.Sample.Location))
	if err != nil {
		if p.logger != nil {
			p.logger.Warn("auto start skipped", "detection_id", det.ID, "err", err)
		}
		return
	}
	if p.logger != nil {
		p.logger.Info("countdown opened for detection", "detection_id", det.ID, "session_id", id)
	}
}

// StartSequence validates the request and opens a countdown that outlives
// the caller's request.
func (p *Pipeline) StartSequence(user model.User, loc *model.Location) (string, error) {
	ctx, err := p.baseContext()
	if err != nil {
		return "", err
	}
	return p.startSequence(ctx, user, loc)
}

func (p *Pipeline) startSequence(ctx context.Context, user model.User, loc *model.Location) (string, error) {
	if errs := p.validator.User(&user); len(errs) > 0 {
		return "", errs
	}
	if errs := p.validator.Location(loc); len(errs) > 0 {
		return "", errs
	}
	if !loc.Known() {
		loc = nil
	}
	return p.sequencer.Start(ctx, user, loc, sequencer.Hooks{})
}

// StartMonitoring reports false when location permission is missing.
func (p *Pipeline) StartMonitoring() (bool, error) {
	ctx, err := p.baseContext()
	if err != nil {
		return false, err
	}
	wasRunning := p.monitor.Running()
	if !p.monitor.Start(ctx) {
		return false, nil
	}
	if !wasRunning {
		events.Emit(ctx, p.publisher, p.logger, model.EventMonitoringStarted, "", nil)
	}
	return true, nil
}

func (p *Pipeline) StopMonitoring() {
	wasRunning := p.monitor.Running()
	p.monitor.Stop()
	if !wasRunning {
		return
	}
	ctx, err := p.baseContext()
	if err != nil {
		ctx = context.Background()
	}
	events.Emit(context.WithoutCancel(ctx), p.publisher, p.logger, model.EventMonitoringStopped, "", nil)
}

func (p *Pipeline) LastDetection() *model.Detection {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return nil
	}
	d := *p.last
	return &d
}

func (p *Pipeline) Reset() {
	p.mu.Lock()
	p.last = nil
	p.mu.Unlock()
}

func locationOf(fix *model.LocationFix) *model.Location {
	if fix == nil {
		return nil
	}
	return &model.Location{Latitude: fix.Latitude, Longitude: fix.Longitude}
}

// Recorder keeps per-channel summaries and persists finished sessions. It
// is the sequencer's session sink.
type Recorder struct {
	summaries *metrics.Store
	store     storage.Store
	logger    *slog.Logger
}

func NewRecorder(summaries *metrics.Store, store storage.Store, logger *slog.Logger) *Recorder {
	return &Recorder{summaries: summaries, store: store, logger: logger}
}

func (r *Recorder) SessionFinished(ctx context.Context, s model.Session) {
	if s.Status == model.StatusCompleted && r.summaries != nil {
		summary := r.summaries.Update(s.ID, s.Results)
		if r.logger != nil {
			r.logger.Info("dispatch summary",
				"session_id", s.ID,
				"total", summary.Total,
				"succeeded", summary.Succeeded,
			)
		}
	}
	if r.store == nil {
		return
	}
	if err := r.store.SaveSession(ctx, s); err != nil && r.logger != nil {
		r.logger.Error("save session failed", "session_id", s.ID, "err", err)
	}
}
