// Package scheduler drives automatic suspension from a single timer. Each
// scan pass walks the live tabs, suspends the ones past the inactivity
// threshold, computes the soonest time any remaining tab becomes due, and
// schedules exactly one wake-up for that moment. Activity events feed the
// in-memory activity map so a tab the user just touched is never suspended
// prematurely.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tabnap/tabnap/internal/engine"
	"github.com/tabnap/tabnap/internal/host"
	"github.com/tabnap/tabnap/internal/metrics"
	"github.com/tabnap/tabnap/internal/registry"
	"github.com/tabnap/tabnap/internal/settings"
)

const (
	// DefaultWake is the scan interval when no tab contributed a delay.
	DefaultWake = 5 * time.Minute

	// MinDelay floors the wake delay to avoid timer storms.
	MinDelay = 5 * time.Second

	// MaxDelayFloor is the minimum ceiling applied to the wake delay, so a
	// very large threshold cannot starve responsiveness entirely.
	MaxDelayFloor = 15 * time.Minute
)

// Suspender executes a single-tab suspension. Implemented by engine.Engine.
type Suspender interface {
	Suspend(ctx context.Context, tabID int, reason registry.Reason) engine.SuspendResult
}

// Scheduler owns the activity map and the single outstanding timer.
type Scheduler struct {
	host            host.Host
	settings        *settings.Store
	suspender       Suspender
	metrics         *metrics.Metrics
	logger          zerolog.Logger
	placeholderBase string
	now             func() time.Time

	mu        sync.Mutex
	running   bool
	rerun     bool
	timer     *time.Timer
	nextDelay time.Duration
	activity  map[int]time.Time
}

// New creates a Scheduler. metrics may be nil in tests.
func New(
	h host.Host,
	st *settings.Store,
	sus Suspender,
	m *metrics.Metrics,
	placeholderBase string,
	logger zerolog.Logger,
) *Scheduler {
	return &Scheduler{
		host:            h,
		settings:        st,
		suspender:       sus,
		metrics:         m,
		logger:          logger.With().Str("component", "scheduler").Logger(),
		placeholderBase: placeholderBase,
		now:             time.Now,
		activity:        make(map[int]time.Time),
	}
}

// Configure reacts to startup and settings changes: it cancels the pending
// timer when auto-suspend is off and otherwise runs a scan, which sets up
// the next wake.
func (s *Scheduler) Configure(ctx context.Context) {
	cfg := s.settings.Current()
	if !cfg.AutoSuspend || cfg.AutoSuspendTime <= 0 {
		s.stopTimer()
		s.logger.Info().Msg("auto-suspend disabled, timer cancelled")
		return
	}
	s.Scan(ctx)
}

// Scan runs one scan pass. At most one scan executes at a time; triggers
// arriving mid-scan are coalesced into exactly one follow-up pass.
func (s *Scheduler) Scan(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.rerun = true
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	for {
		s.scanOnce(ctx)

		s.mu.Lock()
		if !s.rerun {
			s.running = false
			s.mu.Unlock()
			return
		}
		s.rerun = false
		s.mu.Unlock()
	}
}

// TabActivated stamps the newly focused tab and triggers a scan — other
// tabs may have become due while this one was in front.
func (s *Scheduler) TabActivated(ctx context.Context, tabID int) {
	s.stamp(tabID)
	s.Scan(ctx)
}

// ActivityPing stamps a tab whose page content reported user activity.
func (s *Scheduler) ActivityPing(tabID int) {
	s.stamp(tabID)
}

// TabRemoved forgets a closed tab's activity entry.
func (s *Scheduler) TabRemoved(tabID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.activity, tabID)
}

// LastActivity returns the tracked activity timestamp for a tab.
func (s *Scheduler) LastActivity(tabID int) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.activity[tabID]
	return t, ok
}

// NextDelay returns the delay of the most recently scheduled wake, or zero
// when no wake is pending.
func (s *Scheduler) NextDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer == nil {
		return 0
	}
	return s.nextDelay
}

// Stop cancels the pending timer.
func (s *Scheduler) Stop() {
	s.stopTimer()
}

// scanOnce is a single pass: suspend due tabs, compute the next wake.
func (s *Scheduler) scanOnce(ctx context.Context) {
	start := s.now()
	s.stopTimer()

	cfg := s.settings.Current()
	if !cfg.AutoSuspend || cfg.AutoSuspendTime <= 0 {
		return
	}
	threshold := cfg.Threshold()

	tabs, err := s.host.Tabs(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("tab enumeration failed, retrying at default interval")
		if s.metrics != nil {
			s.metrics.RecordError("scheduler", "enumerate")
		}
		s.scheduleIfEnabled(clampDelay(DefaultWake, threshold))
		return
	}

	now := s.now()
	next := time.Duration(-1)
	contribute := func(d time.Duration) {
		if next < 0 || d < next {
			next = d
		}
	}

	suspended := 0
	for _, tab := range tabs {
		if engine.IsPlaceholder(s.placeholderBase, tab.URL) {
			continue
		}
		inactive := now.Sub(s.seed(tab, now))

		if inactive < threshold {
			contribute(threshold - inactive)
			continue
		}

		res := s.suspender.Suspend(ctx, tab.ID, registry.ReasonAuto)
		if res.Success && (res.Replaced || res.Navigated) {
			suspended++
			continue
		}
		// Exempt (ineligible, already handled) or failed: re-check after a
		// full window instead of busy-polling it.
		contribute(threshold)
	}

	delay := DefaultWake
	if next >= 0 {
		delay = next
	}
	delay = clampDelay(delay, threshold)
	armed := s.scheduleIfEnabled(delay)

	if s.metrics != nil {
		s.metrics.ScansTotal.Inc()
		s.metrics.ScanDuration.Observe(s.now().Sub(start).Seconds())
		if armed {
			s.metrics.NextWakeSecs.Set(delay.Seconds())
		} else {
			s.metrics.NextWakeSecs.Set(0)
		}
	}
	s.logger.Debug().
		Int("tabs", len(tabs)).
		Int("suspended", suspended).
		Dur("next_wake", delay).
		Msg("scan complete")
}

// seed returns the tab's last activity, seeding it from the host's
// last-accessed time the first time the tab is observed.
func (s *Scheduler) seed(tab host.Tab, now time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if last, ok := s.activity[tab.ID]; ok {
		return last
	}
	last := tab.LastAccessed
	if last.IsZero() {
		last = now
	}
	s.activity[tab.ID] = last
	return last
}

func (s *Scheduler) stamp(tabID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activity[tabID] = s.now()
}

// scheduleIfEnabled arms the wake timer unless automatic suspension was
// turned off while the scan ran. Reports whether the timer was armed.
func (s *Scheduler) scheduleIfEnabled(delay time.Duration) bool {
	cfg := s.settings.Current()
	if !cfg.AutoSuspend || cfg.AutoSuspendTime <= 0 {
		return false
	}
	s.schedule(delay)
	return true
}

func (s *Scheduler) schedule(delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
	}
	s.nextDelay = delay
	s.timer = time.AfterFunc(delay, func() {
		s.Scan(context.Background())
	})
}

func (s *Scheduler) stopTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.nextDelay = 0
}

// clampDelay bounds a wake delay to [MinDelay, max(threshold, MaxDelayFloor)].
func clampDelay(d, threshold time.Duration) time.Duration {
	ceiling := threshold
	if ceiling < MaxDelayFloor {
		ceiling = MaxDelayFloor
	}
	if d > ceiling {
		d = ceiling
	}
	if d < MinDelay {
		d = MinDelay
	}
	return d
}
