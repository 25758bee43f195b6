package biz

import (
	"context"
	"sort"
	"sync"

	"GuardLane/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// BreakerRegistry is the process-wide catalogue of named circuit breakers.
// It is constructed once at startup and injected wherever a breaker is
// needed; tests create their own registry for isolation.
type BreakerRegistry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker

	logger   log.Logger
	helper   *log.Helper
	audit    AuditLogger
	alerts   AlertService
	defaults BreakerConfig
}

// NewBreakerRegistry creates an empty registry with default breaker tuning.
func NewBreakerRegistry(logger log.Logger, audit AuditLogger, alerts AlertService) *BreakerRegistry {
	return &BreakerRegistry{
		breakers: make(map[string]*CircuitBreaker),
		logger:   logger,
		helper:   log.NewHelper(logger),
		audit:    audit,
		alerts:   alerts,
		defaults: DefaultBreakerConfig(),
	}
}

// Register adds a pre-built breaker under its name, replacing any existing
// breaker with the same name.
func (r *BreakerRegistry) Register(b *CircuitBreaker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers[b.Name()] = b
}

// Get returns the named breaker, or nil if it was never registered.
func (r *BreakerRegistry) Get(name string) *CircuitBreaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.breakers[name]
}

// GetOrCreate returns the named breaker, creating it with default tuning
// on first use.
func (r *BreakerRegistry) GetOrCreate(name string) *CircuitBreaker {
	r.mu.RLock()
	b := r.breakers[name]
	r.mu.RUnlock()
	if b != nil {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Re-check under the write lock: another caller may have created it.
	if b = r.breakers[name]; b != nil {
		return b
	}
	b = NewCircuitBreaker(name, r.defaults, r.logger, r.audit, r.alerts)
	r.breakers[name] = b
	return b
}

// AllStats returns a snapshot of every registered breaker, keyed by name.
func (r *BreakerRegistry) AllStats() map[string]model.BreakerStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[string]model.BreakerStats, len(r.breakers))
	for name, b := range r.breakers {
		stats[name] = b.Stats()
	}
	return stats
}

// Names returns the registered breaker names in sorted order.
func (r *BreakerRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResetAll forces every breaker back to CLOSED with zero counters and
// returns how many were reset.
func (r *BreakerRegistry) ResetAll(ctx context.Context) int {
	r.mu.RLock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.RUnlock()

	for _, b := range breakers {
		b.Reset()
	}

	r.helper.Infow("msg", "all circuit breakers reset", "count", len(breakers))
	if r.audit != nil {
		r.audit.LogBreakersReset(ctx, len(breakers))
	}
	return len(breakers)
}
