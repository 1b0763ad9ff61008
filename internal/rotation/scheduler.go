// Package rotation keeps the published rotating code of each active session fresh.
// A Scheduler owns an explicit per-session registry; there is no package-level state,
// and stopping one session never touches another.
package rotation

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"geoattend/internal/sessioncode"
)

// Scheduler recomputes and republishes session codes on a fixed tick. Publishing
// only happens when the code actually changed, keeping republish idempotent.
type Scheduler struct {
	publisher  Publisher
	log        *zap.Logger
	tick       time.Duration
	intervalMs int64
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTick overrides the recompute tick (default 1s).
func WithTick(d time.Duration) Option {
	return func(s *Scheduler) { s.tick = d }
}

// WithInterval overrides the rotation interval in milliseconds (default 10s).
func WithInterval(ms int64) Option {
	return func(s *Scheduler) { s.intervalMs = ms }
}

// WithClock overrides the time source. Tests use this to pin buckets.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler creates a stopped scheduler; sessions are added with Start.
func NewScheduler(publisher Publisher, log *zap.Logger, opts ...Option) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Scheduler{
		publisher:  publisher,
		log:        log,
		tick:       time.Second,
		intervalMs: sessioncode.DefaultIntervalMs,
		now:        time.Now,
		entries:    make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins rotation for one session. Starting a session that is already
// rotating is a no-op. The first code publishes immediately, not on the first tick.
func (s *Scheduler) Start(ctx context.Context, sessionID, secret string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, running := s.entries[sessionID]; running {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	e := &entry{cancel: cancel, done: make(chan struct{})}
	s.entries[sessionID] = e

	go s.run(runCtx, e, sessionID, secret)
	s.log.Info("code rotation started", zap.String("session_id", sessionID))
}

func (s *Scheduler) run(ctx context.Context, e *entry, sessionID, secret string) {
	defer close(e.done)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	var published string
	publish := func() {
		code := sessioncode.Generate(secret, s.now().UnixMilli(), s.intervalMs)
		if code == published {
			return
		}
		if err := s.publisher.Publish(ctx, sessionID, code); err != nil {
			s.log.Warn("code publish failed",
				zap.String("session_id", sessionID), zap.Error(err))
			return
		}
		published = code
	}

	publish()
	for {
		select {
		case <-ticker.C:
			// A tick racing a Stop may publish one last time; that is accepted.
			publish()
		case <-ctx.Done():
			return
		}
	}
}

// Stop halts rotation for one session and waits for its loop to exit. Safe to call
// for a session that was never started, and safe to call repeatedly.
func (s *Scheduler) Stop(sessionID string) {
	s.mu.Lock()
	e, ok := s.entries[sessionID]
	if ok {
		delete(s.entries, sessionID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	e.cancel()
	<-e.done
	s.log.Info("code rotation stopped", zap.String("session_id", sessionID))
}

// StopAll halts every rotating session. Used at shutdown.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	stopped := s.entries
	s.entries = make(map[string]*entry)
	s.mu.Unlock()

	for id, e := range stopped {
		e.cancel()
		<-e.done
		s.log.Info("code rotation stopped", zap.String("session_id", id))
	}
}

// Running reports whether a session currently rotates. Test and handler helper.
func (s *Scheduler) Running(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[sessionID]
	return ok
}
