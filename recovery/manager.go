// Package recovery runs prioritized, cooldown-aware strategies that try to
// restore the conditions a failed request needs, such as connectivity, a
// fresh token or an elapsed rate-limit window.
//
// A recovery never re-runs the failed request itself. A successful result
// means conditions should have improved and the caller may retry.
package recovery

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hallucifix/go-resilience/apierror"
	"github.com/hallucifix/go-resilience/sys"
	"golang.org/x/sync/semaphore"
)

const (
	msgDisabled         = "Auto-recovery disabled"
	msgMaxConcurrent    = "Maximum concurrent recoveries reached"
	msgCooldown         = "Recovery cooldown active"
	msgStrategyCooldown = "Recovery strategy cooldown active"
	msgNoStrategy       = "No recovery strategy available"
	msgExhausted        = "All recovery strategies failed"
)

// Result is the outcome of AttemptRecovery.
type Result struct {
	Success    bool
	Message    string
	StrategyID string
	Attempts   int
	// Err is set when the recovery was refused before any strategy ran:
	// apierror.ErrCooldownActive or apierror.ErrConcurrencyLimit.
	Err error
}

// AttemptRecord is one strategy invocation kept in the history.
type AttemptRecord struct {
	ID         string        `json:"id"`
	Kind       apierror.Kind `json:"kind"`
	StrategyID string        `json:"strategy_id"`
	Success    bool          `json:"success"`
	Automatic  bool          `json:"automatic"`
	Duration   time.Duration `json:"duration"`
	Timestamp  time.Time     `json:"timestamp"`
	Message    string        `json:"message,omitempty"`
}

// Manager is the RecoveryManager.
type Manager struct {
	cfg     config
	sem     *semaphore.Weighted
	enabled atomic.Bool

	mutex        sync.Mutex
	strategies   map[apierror.Kind][]Strategy
	lastRecovery time.Time
	lastInvoked  map[string]time.Time
	history      []AttemptRecord
	rejected     map[string]int64
}

// New returns a Manager with no strategies registered.
func New(opts ...Option) *Manager {
	cfg := applyOptions(opts)
	m := &Manager{
		cfg:         cfg,
		strategies:  make(map[apierror.Kind][]Strategy),
		lastInvoked: make(map[string]time.Time),
		rejected:    make(map[string]int64),
	}
	m.enabled.Store(cfg.enabled)
	if cfg.maxConcurrent > 0 {
		m.sem = semaphore.NewWeighted(int64(cfg.maxConcurrent))
	}
	return m
}

// RegisterStrategy adds s for kind. Strategies run in descending priority;
// equal priorities keep registration order. A strategy with the same ID
// replaces the earlier one.
func (m *Manager) RegisterStrategy(kind apierror.Kind, s Strategy) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	list := m.strategies[kind]
	for i, existing := range list {
		if existing.ID == s.ID {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	list = append(list, s)
	sort.SliceStable(list, func(i, j int) bool { return list[i].Priority > list[j].Priority })
	m.strategies[kind] = list
}

// Strategies returns the strategies for kind in the order they run.
func (m *Manager) Strategies(kind apierror.Kind) []Strategy {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]Strategy(nil), m.strategies[kind]...)
}

// Recover classifies err and attempts recovery.
func (m *Manager) Recover(ctx context.Context, err error) Result {
	if err == nil {
		return Result{Success: true}
	}
	return m.AttemptRecovery(ctx, apierror.Classify(err))
}

// AttemptRecovery runs the strategies registered for e.Kind. It fails
// immediately when recovery is disabled, when the concurrency cap is reached
// or while the global cooldown is active. Otherwise each strategy whose
// conditions hold and whose own cooldown has elapsed is tried in priority
// order, repeating it while it asks to retry, until one succeeds.
func (m *Manager) AttemptRecovery(ctx context.Context, e *apierror.Error) Result {
	if e == nil {
		return Result{Success: true}
	}
	if !m.enabled.Load() {
		return Result{Message: msgDisabled}
	}
	if m.sem != nil {
		if !m.sem.TryAcquire(1) {
			m.reject("concurrency")
			m.cfg.log.Warn("%s for %s error", msgMaxConcurrent, e.Kind)
			return Result{Message: msgMaxConcurrent, Err: apierror.ErrConcurrencyLimit}
		}
		defer m.sem.Release(1)
	}

	now := m.cfg.clock.Now()
	m.mutex.Lock()
	if m.cfg.cooldown > 0 && !m.lastRecovery.IsZero() && now.Sub(m.lastRecovery) < m.cfg.cooldown {
		m.rejected["cooldown"]++
		m.mutex.Unlock()
		m.cfg.log.Debug("%s for %s error", msgCooldown, e.Kind)
		return Result{Message: msgCooldown, Err: apierror.ErrCooldownActive}
	}
	m.lastRecovery = now
	strategies := append([]Strategy(nil), m.strategies[e.Kind]...)
	m.mutex.Unlock()

	if len(strategies) == 0 {
		m.cfg.log.Debug("no strategy registered for %s errors", e.Kind)
		return Result{Message: msgNoStrategy}
	}

	rc := &Context{Kind: e.Kind, StartedAt: now}
	var eligible, coolingDown int
	var lastMessage string
	for _, s := range strategies {
		if s.Conditions != nil && !s.Conditions(e, rc) {
			m.cfg.log.Debug("skipping %s: conditions not met", s.ID)
			continue
		}
		eligible++
		if !m.claim(e.Kind, s) {
			coolingDown++
			m.cfg.log.Debug("skipping %s: cooldown active", s.ID)
			continue
		}
		for attempt := 1; attempt <= s.attempts(); attempt++ {
			out := m.invoke(ctx, e, rc, s, attempt)
			if out.Message != "" {
				lastMessage = out.Message
			}
			if out.Success {
				m.cfg.log.Info("recovered from %s error with %s after %d attempts", e.Kind, s.ID, len(rc.Attempts))
				return Result{Success: true, Message: out.Message, StrategyID: s.ID, Attempts: len(rc.Attempts)}
			}
			if !out.ShouldRetry || ctx.Err() != nil {
				break
			}
		}
		if ctx.Err() != nil {
			break
		}
	}

	res := Result{Attempts: len(rc.Attempts)}
	switch {
	case eligible == 0:
		res.Message = msgNoStrategy
	case coolingDown == eligible:
		res.Message = msgStrategyCooldown
		res.Err = apierror.ErrCooldownActive
	case lastMessage != "":
		res.Message = fmt.Sprintf("%s: %s", msgExhausted, lastMessage)
	default:
		res.Message = msgExhausted
	}
	if res.Attempts > 0 {
		m.cfg.log.Warn("recovery for %s error exhausted after %d attempts", e.Kind, res.Attempts)
	}
	return res
}

// claim checks the strategy cooldown and marks the strategy as invoked.
func (m *Manager) claim(kind apierror.Kind, s Strategy) bool {
	key := string(kind) + "/" + s.ID
	now := m.cfg.clock.Now()
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if last, ok := m.lastInvoked[key]; ok && s.Cooldown > 0 && now.Sub(last) < s.Cooldown {
		return false
	}
	m.lastInvoked[key] = now
	return true
}

func (m *Manager) invoke(ctx context.Context, e *apierror.Error, rc *Context, s Strategy, attempt int) Outcome {
	start := m.cfg.clock.Now()
	out, err := sys.SafeCall(m.cfg.log, func() (Outcome, error) {
		return s.Action(ctx, e, rc, attempt)
	})
	if err != nil {
		out.Success = false
		if out.Message == "" {
			out.Message = err.Error()
		}
	}
	duration := m.cfg.clock.Now().Sub(start)

	rec := AttemptRecord{
		ID:         uuid.NewString(),
		Kind:       e.Kind,
		StrategyID: s.ID,
		Success:    out.Success,
		Automatic:  true,
		Duration:   duration,
		Timestamp:  start,
		Message:    out.Message,
	}
	rc.Attempts = append(rc.Attempts, rec)
	m.record(rec)
	if m.cfg.tracker != nil {
		func() {
			defer sys.RecoverPanic(m.cfg.log)
			m.cfg.tracker.RecordAttempt(ctx, e, s.ID, out.Success, true, duration)
		}()
	}
	return out
}

func (m *Manager) record(rec AttemptRecord) {
	m.mutex.Lock()
	m.history = append(m.history, rec)
	if over := len(m.history) - m.cfg.historySize; over > 0 {
		m.history = append(m.history[:0], m.history[over:]...)
	}
	m.mutex.Unlock()
}

func (m *Manager) reject(reason string) {
	m.mutex.Lock()
	m.rejected[reason]++
	m.mutex.Unlock()
}

// SetEnabled turns automatic recovery on or off at runtime.
func (m *Manager) SetEnabled(enabled bool) {
	m.enabled.Store(enabled)
}

// History returns a copy of the attempt history, oldest first.
func (m *Manager) History() []AttemptRecord {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]AttemptRecord(nil), m.history...)
}

// ClearHistory drops the attempt history and the rejection counters.
func (m *Manager) ClearHistory() {
	m.mutex.Lock()
	m.history = nil
	m.rejected = make(map[string]int64)
	m.mutex.Unlock()
}
