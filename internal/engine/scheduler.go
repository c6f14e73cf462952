package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/habitsync/habitsync/internal/identity"
)

const (
	defaultDebounce = time.Second
	defaultInterval = 5 * time.Minute
)

// Scheduler decides when sync cycles run: a debounced trigger coalesces
// bursts of local mutations into one cycle, and a periodic loop keeps a
// signed-in user fresh in the background. Overlap control lives in the
// engine's single-flight gate, not here; the scheduler only times
// triggers.
type Scheduler struct {
	engine   *Engine
	debounce time.Duration
	interval time.Duration

	mu           sync.Mutex
	timer        *time.Timer
	timerGen     uint64
	requestCtx   context.Context
	periodicStop context.CancelFunc
	periodicUser string
	periodicGen  uint64
	wg           sync.WaitGroup
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithDebounce overrides the debounce delay. Tests shrink it.
func WithDebounce(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.debounce = d }
}

// WithInterval overrides the periodic interval. Tests shrink it.
func WithInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.interval = d }
}

// NewScheduler creates a Scheduler driving the given engine.
func NewScheduler(e *Engine, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		engine:   e,
		debounce: defaultDebounce,
		interval: defaultInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RequestSync schedules a full cycle after the debounce delay. Repeated
// calls within the delay reset the timer, so a burst of habit taps yields
// exactly one cycle. Guests are a no-op.
func (s *Scheduler) RequestSync(ctx context.Context) {
	if identity.IsGuest(s.engine.identity.CurrentUserID()) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requestCtx = ctx
	if s.timer != nil {
		// Replace rather than Reset: a timer that already fired would be
		// re-armed by Reset and run its callback twice.
		if s.timer.Stop() {
			s.wg.Done()
		}
		s.timer = nil
	}
	// The pending cycle joins the WaitGroup now so StopPeriodic waits for
	// it; the generation check keeps a stale callback from clobbering a
	// timer armed after this one.
	s.wg.Add(1)
	s.timerGen++
	gen := s.timerGen
	s.timer = time.AfterFunc(s.debounce, func() {
		defer s.wg.Done()

		s.mu.Lock()
		if s.timerGen == gen {
			s.timer = nil
		}
		cycleCtx := s.requestCtx
		s.mu.Unlock()

		if _, err := s.engine.RunFullCycle(cycleCtx); err != nil {
			slog.Warn("debounced sync failed", "err", err)
		}
	})
}

// StartPeriodic begins the background loop for the current user: one
// immediate cycle, then one per interval. Calling it again for the same
// user is a no-op; a different user restarts the loop. The loop exits
// when the context is canceled, StopPeriodic is called, or the signed-in
// user changes.
func (s *Scheduler) StartPeriodic(ctx context.Context) {
	userID := s.engine.identity.CurrentUserID()
	if identity.IsGuest(userID) {
		return
	}

	s.mu.Lock()
	if s.periodicStop != nil && s.periodicUser == userID {
		s.mu.Unlock()
		return
	}
	if s.periodicStop != nil {
		s.periodicStop()
	}
	ctx, cancel := context.WithCancel(ctx)
	s.periodicStop = cancel
	s.periodicUser = userID
	s.periodicGen++
	gen := s.periodicGen
	s.mu.Unlock()

	s.wg.Add(1)
	go s.runPeriodic(ctx, userID, gen)
}

func (s *Scheduler) runPeriodic(ctx context.Context, userID string, gen uint64) {
	defer s.wg.Done()
	// A self-exit (context done, user change) must release the scheduler
	// slot, or StartPeriodic for the same user would no-op forever. The
	// generation check leaves a replacement loop's registration alone.
	defer func() {
		s.mu.Lock()
		if s.periodicGen == gen && s.periodicStop != nil {
			s.periodicStop()
			s.periodicStop = nil
			s.periodicUser = ""
		}
		s.mu.Unlock()
	}()
	slog.Info("periodic sync started", "user", userID, "interval", s.interval)

	if _, err := s.engine.RunFullCycle(ctx); err != nil {
		slog.Warn("periodic sync failed", "user", userID, "err", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("periodic sync stopped", "user", userID)
			return
		case <-ticker.C:
			// The signed-in user can change between ticks; a loop started
			// for one user must never sync as another.
			if s.engine.identity.CurrentUserID() != userID {
				slog.Info("user changed, stopping periodic sync", "user", userID)
				return
			}
			if _, err := s.engine.RunFullCycle(ctx); err != nil {
				slog.Warn("periodic sync failed", "user", userID, "err", err)
			}
		}
	}
}

// StopPeriodic halts the background loop and any pending debounced
// trigger, waiting for an in-progress cycle launched by the loop to
// return.
func (s *Scheduler) StopPeriodic() {
	s.mu.Lock()
	if s.periodicStop != nil {
		s.periodicStop()
		s.periodicStop = nil
		s.periodicUser = ""
	}
	if s.timer != nil {
		// Stopping before the timer fires leaves the callback's WaitGroup
		// slot unreleased; balance it here. A timer that already fired
		// releases its own slot.
		if s.timer.Stop() {
			s.wg.Done()
		}
		s.timer = nil
	}
	s.mu.Unlock()
	s.wg.Wait()
}
