package biz

import (
	"context"
	"sync"
	"time"

	"GuardLane/internal/model"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
)

// ReasonCircuitOpen is the error reason carried by fast-fail rejections.
// Callers use IsCircuitOpen to tell "dependency unreachable, not attempted"
// apart from "dependency attempted and failed".
const ReasonCircuitOpen = "CIRCUIT_OPEN"

// newCircuitOpenError builds the fast-fail signal for a named breaker.
func newCircuitOpenError(name string) error {
	return errors.New(503, ReasonCircuitOpen, "circuit breaker open for dependency: "+name)
}

// IsCircuitOpen reports whether err is the breaker's fast-fail signal.
func IsCircuitOpen(err error) bool {
	return errors.Reason(err) == ReasonCircuitOpen
}

// Operation is the callable a breaker gates. The operation's own error
// propagates to the caller after being recorded as a failure outcome.
type Operation func(ctx context.Context) error

// BreakerConfig tunes one circuit breaker instance.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that trips
	// the breaker from CLOSED to OPEN.
	FailureThreshold int
	// RecoveryTimeout is how long the breaker stays OPEN before the next
	// call attempt is admitted as a HALF_OPEN probe. The check is lazy:
	// evaluated at call time, not by a background timer.
	RecoveryTimeout time.Duration
	// HalfOpenMaxCalls bounds concurrent probe calls while HALF_OPEN.
	HalfOpenMaxCalls int
}

// DefaultBreakerConfig returns the tuning used when a breaker is created
// on first use without explicit configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// CircuitBreaker is a per-dependency failure tracker implementing the
// CLOSED/OPEN/HALF_OPEN state machine. All state lives in memory behind a
// mutex so the fast-fail path stays fast under load; durable storage is
// never touched on the call path.
type CircuitBreaker struct {
	name string
	cfg  BreakerConfig

	mu                  sync.Mutex
	state               model.BreakerState
	consecutiveFailures int
	halfOpenInFlight    int
	openedAt            time.Time
	lastStateChange     time.Time
	totalCalls          int64
	totalSuccesses      int64
	totalFailures       int64

	logger *log.Helper
	audit  AuditLogger
	alerts AlertService

	// now is swappable for tests.
	now func() time.Time
}

// NewCircuitBreaker creates a CLOSED breaker for the named dependency.
func NewCircuitBreaker(name string, cfg BreakerConfig, logger log.Logger, audit AuditLogger, alerts AlertService) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultBreakerConfig().RecoveryTimeout
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 1
	}

	return &CircuitBreaker{
		name:            name,
		cfg:             cfg,
		state:           model.BreakerClosed,
		lastStateChange: time.Now(),
		logger:          log.NewHelper(logger),
		audit:           audit,
		alerts:          alerts,
		now:             time.Now,
	}
}

// Name returns the dependency name this breaker guards.
func (b *CircuitBreaker) Name() string {
	return b.name
}

// Call executes op if the breaker admits it and feeds the outcome back
// into the state machine. When the breaker is fast-failing, op is never
// invoked and a distinct circuit-open error is returned.
func (b *CircuitBreaker) Call(ctx context.Context, op Operation) error {
	probe, err := b.acquire()
	if err != nil {
		return err
	}

	opErr := op(ctx)
	if opErr != nil {
		b.recordFailure(ctx, probe)
		return opErr
	}

	b.recordSuccess(ctx, probe)
	return nil
}

// acquire decides whether a call may proceed. It returns probe=true when
// the call was admitted as a HALF_OPEN trial.
func (b *CircuitBreaker) acquire() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case model.BreakerClosed:
		b.totalCalls++
		return false, nil

	case model.BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cfg.RecoveryTimeout {
			return false, newCircuitOpenError(b.name)
		}
		// Recovery timeout elapsed: this call becomes the first probe.
		b.transitionLocked(model.BreakerHalfOpen)
		b.halfOpenInFlight = 1
		b.totalCalls++
		return true, nil

	case model.BreakerHalfOpen:
		if b.halfOpenInFlight >= b.cfg.HalfOpenMaxCalls {
			return false, newCircuitOpenError(b.name)
		}
		b.halfOpenInFlight++
		b.totalCalls++
		return true, nil

	default:
		return false, newCircuitOpenError(b.name)
	}
}

// recordSuccess feeds a successful outcome into the state machine.
func (b *CircuitBreaker) recordSuccess(ctx context.Context, probe bool) {
	b.mu.Lock()

	b.totalSuccesses++
	b.consecutiveFailures = 0

	var recovered *model.CircuitRecoveredEvent
	if probe && b.state == model.BreakerHalfOpen {
		b.halfOpenInFlight--
		openFor := b.now().Sub(b.openedAt)
		b.openedAt = time.Time{}
		b.transitionLocked(model.BreakerClosed)
		recovered = &model.CircuitRecoveredEvent{
			Name:     b.name,
			OpenFor:  openFor,
			ClosedAt: b.lastStateChange,
		}
	}
	b.mu.Unlock()

	if recovered != nil {
		b.logger.Infow(
			"msg", "circuit breaker recovered",
			"breaker", b.name,
			"open_for", recovered.OpenFor.String(),
		)
		if b.audit != nil {
			b.audit.LogCircuitRecovered(ctx, b.name, recovered.OpenFor)
		}
	}
}

// recordFailure feeds a failed outcome into the state machine.
func (b *CircuitBreaker) recordFailure(ctx context.Context, probe bool) {
	b.mu.Lock()

	b.totalFailures++
	b.consecutiveFailures++

	var broken *model.CircuitBrokenEvent
	switch {
	case probe && b.state == model.BreakerHalfOpen:
		// Probe failed: back to OPEN with a fresh recovery window.
		b.halfOpenInFlight--
		b.openedAt = b.now()
		b.transitionLocked(model.BreakerOpen)
		broken = &model.CircuitBrokenEvent{
			Name:         b.name,
			FailureCount: b.consecutiveFailures,
			OpenedAt:     b.openedAt,
		}

	case b.state == model.BreakerClosed && b.consecutiveFailures >= b.cfg.FailureThreshold:
		b.openedAt = b.now()
		b.transitionLocked(model.BreakerOpen)
		broken = &model.CircuitBrokenEvent{
			Name:         b.name,
			FailureCount: b.consecutiveFailures,
			OpenedAt:     b.openedAt,
		}
	}
	b.mu.Unlock()

	if broken != nil {
		b.logger.Warnw(
			"msg", "circuit breaker opened",
			"breaker", b.name,
			"consecutive_failures", broken.FailureCount,
		)
		if b.audit != nil {
			b.audit.LogCircuitBroken(ctx, b.name, broken.FailureCount, broken.OpenedAt)
		}
		if b.alerts != nil {
			b.alerts.NotifyCircuitBroken(ctx, *broken)
		}
	}
}

// transitionLocked moves the state machine. Caller must hold b.mu.
func (b *CircuitBreaker) transitionLocked(next model.BreakerState) {
	b.state = next
	b.lastStateChange = b.now()
}

// State returns the current state, promoting OPEN to HALF_OPEN lazily
// when the recovery timeout has elapsed (mirrors what the next Call sees).
func (b *CircuitBreaker) State() model.BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == model.BreakerOpen && b.now().Sub(b.openedAt) >= b.cfg.RecoveryTimeout {
		return model.BreakerHalfOpen
	}
	return b.state
}

// Stats returns a point-in-time snapshot for monitoring.
func (b *CircuitBreaker) Stats() model.BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := model.BreakerStats{
		Name:                b.name,
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		TotalCalls:          b.totalCalls,
		TotalSuccesses:      b.totalSuccesses,
		TotalFailures:       b.totalFailures,
		LastStateChange:     b.lastStateChange,
	}
	if !b.openedAt.IsZero() {
		openedAt := b.openedAt
		stats.OpenedAt = &openedAt
	}
	return stats
}

// Reset forces the breaker back to CLOSED with zero counters. This is an
// administrative escape hatch, not automatic recovery.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	b.consecutiveFailures = 0
	b.halfOpenInFlight = 0
	b.openedAt = time.Time{}
	b.transitionLocked(model.BreakerClosed)
	b.mu.Unlock()

	b.logger.Infow("msg", "circuit breaker reset", "breaker", b.name)
}
