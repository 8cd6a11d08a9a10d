package governor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Rajchodisetti/trading-journal/internal/observ"
)

// Config bounds one AdmissionController for its whole lifetime.
type Config struct {
	MaxCallsPerWindow int
	Window            time.Duration
	DailyLimit        int // 0 disables the daily cap

	// PersistTimeout bounds each synchronous store call. Defaults to 2s.
	PersistTimeout time.Duration
	// Clock defaults to SystemClock.
	Clock Clock
}

// AdmissionStats is a point-in-time snapshot for the observability surface.
type AdmissionStats struct {
	DailyCalls          int    `json:"dailyCalls"`
	DailyLimit          int    `json:"dailyLimit"`
	RecentCalls         int    `json:"recentCalls"`
	MaxCallsPerWindow   int    `json:"maxCallsPerWindow"`
	WindowMs            int64  `json:"windowMs"`
	RemainingDaily      int    `json:"remainingDaily"` // -1 when no daily cap
	CanMakeCall         bool   `json:"canMakeCall"`
	LastResetDate       string `json:"lastResetDate"`
	PersistenceDegraded bool   `json:"persistenceDegraded"`
}

type admitState int

const (
	admitOK admitState = iota
	admitWindowFull
	admitDayExhausted
)

func (s admitState) String() string {
	switch s {
	case admitOK:
		return "admitted"
	case admitWindowFull:
		return "window_exhausted"
	case admitDayExhausted:
		return "day_exhausted"
	}
	return "unknown"
}

// AdmissionController gates calls to a rate-limited provider with a trailing
// window cap and a calendar-day cap, both of which must pass.
type AdmissionController struct {
	mu    sync.Mutex
	cfg   Config
	clock Clock
	store QuotaStore

	window        []time.Time // ascending
	dailyCalls    int
	lastResetDate string
	degraded      bool

	dayWarn     rate.Sometimes
	persistWarn rate.Sometimes
}

// NewAdmissionController validates cfg and rehydrates the daily counter from
// store. A store that cannot be read is logged and the controller starts in
// memory-only mode; it is never fatal.
func NewAdmissionController(ctx context.Context, cfg Config, store QuotaStore) (*AdmissionController, error) {
	if cfg.MaxCallsPerWindow <= 0 {
		return nil, fmt.Errorf("max calls per window must be positive, got %d", cfg.MaxCallsPerWindow)
	}
	if cfg.Window <= 0 {
		return nil, fmt.Errorf("window must be positive, got %v", cfg.Window)
	}
	if cfg.DailyLimit < 0 {
		return nil, fmt.Errorf("daily limit must not be negative, got %d", cfg.DailyLimit)
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 2 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if store == nil {
		store = NewMemoryQuotaStore()
	}

	a := &AdmissionController{
		cfg:           cfg,
		clock:         cfg.Clock,
		store:         store,
		window:        make([]time.Time, 0, cfg.MaxCallsPerWindow),
		lastResetDate: dateKey(cfg.Clock.Now()),
		dayWarn:       rate.Sometimes{Interval: time.Minute},
		persistWarn:   rate.Sometimes{Interval: time.Minute},
	}

	loadCtx, cancel := context.WithTimeout(ctx, cfg.PersistTimeout)
	defer cancel()
	state, err := store.Load(loadCtx)
	switch {
	case err == nil:
		a.dailyCalls = state.DailyCalls
		if state.LastResetDate != "" {
			a.lastResetDate = state.LastResetDate
		}
		observ.Log("admission_state_restored", map[string]any{
			"daily_calls":     state.DailyCalls,
			"last_reset_date": state.LastResetDate,
		})
	case errors.Is(err, ErrQuotaStateNotFound):
		// first run
	default:
		a.degraded = true
		observ.Log("admission_state_load_failed", map[string]any{
			"error": err.Error(),
			"mode":  "memory_only",
		})
	}

	observ.Log("admission_controller_created", map[string]any{
		"max_calls_per_window": cfg.MaxCallsPerWindow,
		"window_ms":            cfg.Window.Milliseconds(),
		"daily_limit":          cfg.DailyLimit,
	})
	return a, nil
}

// CanMakeCall reports whether a call would be admitted right now. Apart
// from date rollover and window pruning it has no side effects.
func (a *AdmissionController) CanMakeCall() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	state, _ := a.checkLocked(a.clock.Now())
	return state == admitOK
}

// TryAcquire checks and records a call in one critical section. This is the
// entry point for concurrent callers.
func (a *AdmissionController) TryAcquire() bool {
	ok, _, _ := a.tryAcquire()
	return ok
}

// Acquire is TryAcquire that reports why a call was refused: a *QuotaError
// matching ErrDailyQuotaExhausted or ErrWindowExceeded. It never blocks.
func (a *AdmissionController) Acquire() error {
	ok, state, wait := a.tryAcquire()
	if ok {
		return nil
	}
	return a.refusal(state, wait)
}

// RecordCall records a call without checking. Pairing it with CanMakeCall is
// only safe when a single goroutine owns the controller; use TryAcquire
// everywhere else.
func (a *AdmissionController) RecordCall() {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.clock.Now()
	a.rollDateLocked(now)
	a.recordLocked(now)
}

// WaitForAvailability blocks until a call is admitted and records it. A full
// window is waited out and re-validated; an exhausted daily quota fails
// immediately with ErrDailyQuotaExhausted. ctx cancellation aborts the wait.
func (a *AdmissionController) WaitForAvailability(ctx context.Context) error {
	start := a.clock.Now()
	waited := false
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		ok, state, wait := a.tryAcquire()
		if ok {
			if waited {
				observ.RecordDuration("governor_admission_wait", a.clock.Now().Sub(start), nil)
			}
			return nil
		}

		if state == admitDayExhausted {
			return a.refusal(state, 0)
		}

		if wait <= 0 {
			wait = time.Millisecond
		}
		waited = true
		observ.IncCounter("governor_admission_waits_total", nil)
		if err := a.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Stats returns a snapshot; CanMakeCall is evaluated at snapshot time.
func (a *AdmissionController) Stats() AdmissionStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	state, _ := a.checkLocked(a.clock.Now())
	remaining := -1
	if a.cfg.DailyLimit > 0 {
		remaining = a.cfg.DailyLimit - a.dailyCalls
		if remaining < 0 {
			remaining = 0
		}
	}
	return AdmissionStats{
		DailyCalls:          a.dailyCalls,
		DailyLimit:          a.cfg.DailyLimit,
		RecentCalls:         len(a.window),
		MaxCallsPerWindow:   a.cfg.MaxCallsPerWindow,
		WindowMs:            a.cfg.Window.Milliseconds(),
		RemainingDaily:      remaining,
		CanMakeCall:         state == admitOK,
		LastResetDate:       a.lastResetDate,
		PersistenceDegraded: a.degraded,
	}
}

// Reset clears both counters immediately. Used by tests and operator
// overrides.
func (a *AdmissionController) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.clock.Now()
	a.window = a.window[:0]
	a.dailyCalls = 0
	a.lastResetDate = dateKey(now)
	a.persistLocked()
	observ.Log("admission_controller_reset", map[string]any{
		"date": a.lastResetDate,
	})
}

// refusal builds the caller-visible error for a refused admission.
func (a *AdmissionController) refusal(state admitState, wait time.Duration) error {
	stats := a.Stats()
	if state == admitDayExhausted {
		a.dayWarn.Do(func() {
			observ.Log("admission_daily_quota_exhausted", map[string]any{
				"daily_calls": stats.DailyCalls,
				"daily_limit": stats.DailyLimit,
				"date":        stats.LastResetDate,
			})
		})
		return &QuotaError{
			Type:       "daily",
			DailyCalls: stats.DailyCalls,
			DailyLimit: stats.DailyLimit,
			ResetDate:  stats.LastResetDate,
		}
	}
	return &QuotaError{
		Type:       "window",
		DailyCalls: stats.DailyCalls,
		DailyLimit: stats.DailyLimit,
		ResetDate:  stats.LastResetDate,
		RetryAfter: wait,
	}
}

func (a *AdmissionController) tryAcquire() (bool, admitState, time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()
	state, wait := a.checkLocked(now)
	observ.IncCounter("governor_admission_total", map[string]string{"result": state.String()})
	if state != admitOK {
		return false, state, wait
	}
	a.recordLocked(now)
	return true, state, 0
}

// checkLocked rolls the date, prunes the window and evaluates both guards.
// For a full window it also returns how long until the oldest entry ages out.
func (a *AdmissionController) checkLocked(now time.Time) (admitState, time.Duration) {
	a.rollDateLocked(now)
	a.pruneLocked(now)

	if a.cfg.DailyLimit > 0 && a.dailyCalls >= a.cfg.DailyLimit {
		return admitDayExhausted, 0
	}
	if len(a.window) >= a.cfg.MaxCallsPerWindow {
		return admitWindowFull, a.cfg.Window - now.Sub(a.window[0])
	}
	return admitOK, 0
}

func (a *AdmissionController) recordLocked(now time.Time) {
	a.window = append(a.window, now)
	a.dailyCalls++
	a.persistLocked()
	observ.SetGauge("governor_daily_calls", float64(a.dailyCalls), nil)
	observ.SetGauge("governor_window_calls", float64(len(a.window)), nil)
}

// pruneLocked drops entries at least one full window old. An entry stops
// counting exactly Window after it was recorded.
func (a *AdmissionController) pruneLocked(now time.Time) {
	drop := 0
	for drop < len(a.window) && now.Sub(a.window[drop]) >= a.cfg.Window {
		drop++
	}
	if drop > 0 {
		a.window = append(a.window[:0], a.window[drop:]...)
	}
}

func (a *AdmissionController) rollDateLocked(now time.Time) {
	today := dateKey(now)
	if today == a.lastResetDate {
		return
	}
	previous := a.lastResetDate
	previousCalls := a.dailyCalls
	a.dailyCalls = 0
	a.lastResetDate = today
	a.persistLocked()
	observ.Log("admission_daily_reset", map[string]any{
		"previous_date":  previous,
		"previous_calls": previousCalls,
		"date":           today,
	})
}

// persistLocked writes the quota synchronously. Failures flip the
// controller into degraded mode; a later successful write clears it.
func (a *AdmissionController) persistLocked() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.PersistTimeout)
	defer cancel()

	err := a.store.Save(ctx, QuotaState{DailyCalls: a.dailyCalls, LastResetDate: a.lastResetDate})
	if err != nil {
		a.degraded = true
		observ.IncCounter("governor_persist_errors_total", nil)
		a.persistWarn.Do(func() {
			observ.Log("admission_state_save_failed", map[string]any{
				"error": err.Error(),
				"mode":  "memory_only",
			})
		})
		return
	}
	if a.degraded {
		a.degraded = false
		observ.Log("admission_state_save_recovered", nil)
	}
}
