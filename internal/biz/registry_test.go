package biz

import (
	"context"
	"sync"
	"testing"
	"time"

	"GuardLane/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestRegistryGetOrCreate(t *testing.T) {
	r := NewBreakerRegistry(log.DefaultLogger, nil, nil)

	b1 := r.GetOrCreate("mysql")
	b2 := r.GetOrCreate("mysql")
	assert.Same(t, b1, b2)
	assert.Equal(t, "mysql", b1.Name())

	assert.Nil(t, r.Get("redis"))
	assert.NotNil(t, r.GetOrCreate("redis"))
}

func TestRegistryGetOrCreateConcurrent(t *testing.T) {
	r := NewBreakerRegistry(log.DefaultLogger, nil, nil)

	var wg sync.WaitGroup
	breakers := make([]*CircuitBreaker, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			breakers[n] = r.GetOrCreate("shared")
		}(i)
	}
	wg.Wait()

	for _, b := range breakers {
		assert.Same(t, breakers[0], b)
	}
}

func TestRegistryRegisterReplaces(t *testing.T) {
	r := NewBreakerRegistry(log.DefaultLogger, nil, nil)

	custom := NewCircuitBreaker("mysql", BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Second}, log.DefaultLogger, nil, nil)
	r.Register(custom)

	assert.Same(t, custom, r.GetOrCreate("mysql"))
}

func TestRegistryNamesSorted(t *testing.T) {
	r := NewBreakerRegistry(log.DefaultLogger, nil, nil)
	r.GetOrCreate("zeta")
	r.GetOrCreate("alpha")
	r.GetOrCreate("mike")

	assert.Equal(t, []string{"alpha", "mike", "zeta"}, r.Names())
}

func TestRegistryAllStats(t *testing.T) {
	r := NewBreakerRegistry(log.DefaultLogger, nil, nil)
	ctx := context.Background()

	_ = r.GetOrCreate("ok").Call(ctx, succeedingOp)
	_ = r.GetOrCreate("bad").Call(ctx, failingOp)

	stats := r.AllStats()
	require.Len(t, stats, 2)
	assert.Equal(t, int64(1), stats["ok"].TotalSuccesses)
	assert.Equal(t, int64(1), stats["bad"].TotalFailures)
}

func TestRegistryResetAll(t *testing.T) {
	audit := &mockAuditLogger{}
	audit.On("LogCircuitBroken", mock.Anything, "a", mock.Anything, mock.Anything).Return()
	audit.On("LogBreakersReset", mock.Anything, 2).Return()

	r := NewBreakerRegistry(log.DefaultLogger, audit, nil)
	ctx := context.Background()

	a := r.GetOrCreate("a")
	b := r.GetOrCreate("b")
	for i := 0; i < DefaultBreakerConfig().FailureThreshold; i++ {
		_ = a.Call(ctx, failingOp)
	}
	require.Equal(t, model.BreakerOpen, a.State())

	count := r.ResetAll(ctx)
	assert.Equal(t, 2, count)
	assert.Equal(t, model.BreakerClosed, a.State())
	assert.Equal(t, model.BreakerClosed, b.State())
	audit.AssertExpectations(t)
}
