// Package sequencer drives one emergency session: a cancellable countdown
// that ends in dispatch.
package sequencer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"prativedak/internal/config"
	"prativedak/internal/events"
	"prativedak/internal/model"
)

var (
	ErrDispatchInProgress = errors.New("dispatch in progress")
	ErrNotCounting        = errors.New("no countdown in progress")
)

type Dispatcher interface {
	Dispatch(ctx context.Context, user model.User, loc *model.Location) []model.DispatchResult
	CallPrimary(ctx context.Context, user model.User) []model.DispatchResult
}

// SessionSink receives every session once it is cancelled or completed.
type SessionSink interface {
	SessionFinished(ctx context.Context, s model.Session)
}

// Hooks are called from the sequencer goroutine, never while it holds its
// lock, so they may call back into the sequencer.
type Hooks struct {
	OnTick     func(secondsRemaining int)
	OnComplete func(results []model.DispatchResult)
}

type Sequencer struct {
	dispatcher Dispatcher
	sink       SessionSink
	publisher  events.Publisher
	clock      clockwork.Clock
	logger     *slog.Logger
	cfg        atomic.Value

	mu     sync.Mutex
	active *session
	last   model.SequenceState
}

type session struct {
	id        string
	user      model.User
	loc       *model.Location
	hooks     Hooks
	status    model.SequenceStatus
	remaining int
	ticker    clockwork.Ticker
	stop      chan struct{}
	halted    atomic.Bool
	started   time.Time
	finished  time.Time
	results   []model.DispatchResult
}

func New(cfg config.EmergencyConfig, dispatcher Dispatcher, sink SessionSink, publisher events.Publisher, clock clockwork.Clock, logger *slog.Logger) *Sequencer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	q := &Sequencer{
		dispatcher: dispatcher,
		sink:       sink,
		publisher:  publisher,
		clock:      clock,
		logger:     logger,
		last:       model.SequenceState{Status: model.StatusIdle},
	}
	q.cfg.Store(cfg)
	return q
}

func (q *Sequencer) UpdateConfig(cfg config.EmergencyConfig) {
	q.cfg.Store(cfg)
}

func (q *Sequencer) config() config.EmergencyConfig {
	if v := q.cfg.Load(); v != nil {
		return v.(config.EmergencyConfig)
	}
	return config.DefaultEmergency()
}

// Start opens a new session and returns its id. A countdown already in
// progress is cancelled first; a dispatch in progress is an error. OnTick
// receives the full countdown before Start returns.
func (q *Sequencer) Start(ctx context.Context, user model.User, loc *model.Location, hooks Hooks) (string, error) {
	seconds := q.config().CountdownSeconds
	if seconds <= 0 {
		seconds = 30
	}

	q.mu.Lock()
	var replaced *session
	if s := q.active; s != nil {
		if s.status == model.StatusDispatching {
			q.mu.Unlock()
			return "", ErrDispatchInProgress
		}
		q.cancelLocked(s)
		replaced = s
	}
	s := &session{
		id:        uuid.NewString(),
		user:      user,
		loc:       loc,
		hooks:     hooks,
		status:    model.StatusCounting,
		remaining: seconds,
		ticker:    q.clock.NewTicker(time.Second),
		stop:      make(chan struct{}),
		started:   q.clock.Now().UTC(),
	}
	q.active = s
	q.mu.Unlock()

	if replaced != nil {
		q.finished(ctx, replaced, model.EventSequenceCancelled)
	}
	if q.logger != nil {
		q.logger.Info("emergency countdown started", "session_id", s.id, "user_id", user.ID, "seconds", seconds)
	}
	events.Emit(ctx, q.publisher, q.logger, model.EventCountdownStarted, s.id, map[string]any{
		"user_id":  user.ID,
		"seconds":  seconds,
		"location": loc,
	})
	q.tick(ctx, s, seconds)
	go q.run(ctx, s)
	return s.id, nil
}

func (q *Sequencer) run(ctx context.Context, s *session) {
	for {
		select {
		case <-s.ticker.Chan():
			q.mu.Lock()
			if q.active != s || s.status != model.StatusCounting {
				q.mu.Unlock()
				return
			}
			s.remaining--
			remaining := s.remaining
			if remaining <= 0 {
				s.ticker.Stop()
				s.status = model.StatusDispatching
			}
			q.mu.Unlock()

			q.tick(ctx, s, remaining)
			if remaining <= 0 {
				q.dispatch(ctx, s, false)
				return
			}
		case <-s.stop:
			return
		case <-ctx.Done():
			q.mu.Lock()
			cancelled := q.active == s && s.status == model.StatusCounting
			if cancelled {
				q.cancelLocked(s)
			}
			q.mu.Unlock()
			if cancelled {
				q.finished(context.WithoutCancel(ctx), s, model.EventSequenceCancelled)
			}
			return
		}
	}
}

func (q *Sequencer) tick(ctx context.Context, s *session, remaining int) {
	q.mu.Lock()
	live := q.active == s && (s.status == model.StatusCounting || (remaining == 0 && s.status == model.StatusDispatching))
	q.mu.Unlock()
	if !live {
		return
	}
	events.Emit(ctx, q.publisher, q.logger, model.EventCountdownTick, s.id, map[string]int{"seconds_remaining": remaining})
	// publishing can block; a Cancel that landed meanwhile drops the hook
	if s.halted.Load() {
		return
	}
	if s.hooks.OnTick != nil {
		s.hooks.OnTick(remaining)
	}
}

// Cancel stops a running countdown. It reports false, and changes
// nothing, once dispatch has begun or when no session is active. Tick
// delivery checks for cancellation again right before OnTick, so only a hook
// call already under way can overlap Cancel.
func (q *Sequencer) Cancel() bool {
	q.mu.Lock()
	s := q.active
	if s == nil || s.status != model.StatusCounting {
		q.mu.Unlock()
		return false
	}
	q.cancelLocked(s)
	q.mu.Unlock()
	if q.logger != nil {
		q.logger.Info("emergency countdown cancelled", "session_id", s.id, "seconds_remaining", s.remaining)
	}
	q.finished(context.Background(), s, model.EventSequenceCancelled)
	return true
}

func (q *Sequencer) cancelLocked(s *session) {
	s.halted.Store(true)
	s.ticker.Stop()
	close(s.stop)
	s.status = model.StatusCancelled
	s.finished = q.clock.Now().UTC()
	q.active = nil
	q.last = snapshot(s)
}

// CallNow skips the rest of the countdown and places only the call to the
// primary contact.
func (q *Sequencer) CallNow(ctx context.Context) ([]model.DispatchResult, error) {
	q.mu.Lock()
	s := q.active
	if s == nil || s.status != model.StatusCounting {
		q.mu.Unlock()
		return nil, ErrNotCounting
	}
	s.halted.Store(true)
	s.ticker.Stop()
	close(s.stop)
	s.status = model.StatusDispatching
	q.mu.Unlock()
	if q.logger != nil {
		q.logger.Info("emergency call requested", "session_id", s.id, "seconds_remaining", s.remaining)
	}
	return q.dispatch(ctx, s, true), nil
}

func (q *Sequencer) dispatch(ctx context.Context, s *session, callOnly bool) []model.DispatchResult {
	// in-flight platform calls must outlive the caller
	ctx = context.WithoutCancel(ctx)
	events.Emit(ctx, q.publisher, q.logger, model.EventSequenceDispatch, s.id, map[string]bool{"call_only": callOnly})

	var results []model.DispatchResult
	if callOnly {
		results = q.dispatcher.CallPrimary(ctx, s.user)
	} else {
		results = q.dispatcher.Dispatch(ctx, s.user, s.loc)
	}

	q.mu.Lock()
	s.status = model.StatusCompleted
	s.results = results
	s.finished = q.clock.Now().UTC()
	if q.active == s {
		q.active = nil
	}
	q.last = snapshot(s)
	q.mu.Unlock()

	if q.logger != nil {
		q.logger.Info("emergency dispatch completed", "session_id", s.id, "results", len(results))
	}
	q.finished(ctx, s, model.EventSequenceCompleted)
	if s.hooks.OnComplete != nil {
		s.hooks.OnComplete(results)
	}
	return results
}

func (q *Sequencer) finished(ctx context.Context, s *session, t model.EventType) {
	state := q.sessionRecord(s)
	events.Emit(ctx, q.publisher, q.logger, t, s.id, state)
	if q.sink != nil {
		q.sink.SessionFinished(ctx, state)
	}
}

func (q *Sequencer) sessionRecord(s *session) model.Session {
	q.mu.Lock()
	defer q.mu.Unlock()
	return model.Session{
		ID:         s.id,
		UserID:     s.user.ID,
		UserName:   s.user.Name,
		Status:     s.status,
		Location:   s.loc,
		StartedAt:  s.started,
		FinishedAt: s.finished,
		Results:    append([]model.DispatchResult(nil), s.results...),
	}
}

// State returns the active session, or the last finished one.
func (q *Sequencer) State() model.SequenceState {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.active != nil {
		return snapshot(q.active)
	}
	return q.last
}

func snapshot(s *session) model.SequenceState {
	return model.SequenceState{
		SessionID:        s.id,
		CountdownSeconds: s.remaining,
		Status:           s.status,
		StartedAt:        s.started,
		FinishedAt:       s.finished,
		Results:          append([]model.DispatchResult(nil), s.results...),
	}
}
