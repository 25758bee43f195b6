package biz

import (
	"context"
	"fmt"
	"sync"
	"time"

	"GuardLane/internal/conf"
	"GuardLane/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/sync/errgroup"
)

// Handler delivers one work item to its destination. The handler's error
// is what drives the bounded-retry policy.
type Handler func(ctx context.Context, item *model.WorkItem) error

// HandlerMux routes work items to the handler registered for their
// destination. Registration happens at startup, before the worker runs.
type HandlerMux struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewHandlerMux creates an empty handler registry.
func NewHandlerMux() *HandlerMux {
	return &HandlerMux{
		handlers: make(map[string]Handler),
	}
}

// Register binds destination to h, replacing any previous binding.
func (m *HandlerMux) Register(destination string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[destination] = h
}

// Dispatch invokes the handler for the item's destination.
func (m *HandlerMux) Dispatch(ctx context.Context, item *model.WorkItem) error {
	m.mu.RLock()
	h := m.handlers[item.Destination]
	m.mu.RUnlock()

	if h == nil {
		return fmt.Errorf("no handler registered for destination %q", item.Destination)
	}
	return h(ctx, item)
}

// RetryWorker consumes scheduled retries and re-invokes the original
// handler. Multiple workers run as competing consumers; claims from the
// queue are atomic, so an item is processed by exactly one worker per
// delivery attempt. No ordering across destinations is guaranteed.
//
// Each destination's delivery is gated by a circuit breaker so a dead
// downstream fast-fails instead of burning the whole retry budget; a
// circuit-open rejection reschedules the item without consuming an
// attempt, since the handler was never invoked.
type RetryWorker struct {
	queue    RetryQueue
	dlq      *DeadLetterUsecase
	mux      *HandlerMux
	registry *BreakerRegistry
	logger   *log.Helper

	workers      int
	pollInterval time.Duration
	claimBatch   int64

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRetryWorker creates the retry worker pool.
func NewRetryWorker(c *conf.Retry, queue RetryQueue, dlq *DeadLetterUsecase, mux *HandlerMux, registry *BreakerRegistry, logger log.Logger) *RetryWorker {
	workers := 4
	pollInterval := time.Second
	if c != nil {
		if c.Workers > 0 {
			workers = int(c.Workers)
		}
		if c.PollInterval != nil && c.PollInterval.AsDuration() > 0 {
			pollInterval = c.PollInterval.AsDuration()
		}
	}

	return &RetryWorker{
		queue:        queue,
		dlq:          dlq,
		mux:          mux,
		registry:     registry,
		logger:       log.NewHelper(logger),
		workers:      workers,
		pollInterval: pollInterval,
		claimBatch:   16,
	}
}

// Start launches the worker pool. It returns immediately; workers run
// until Stop is called or ctx is cancelled.
func (w *RetryWorker) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	g, gctx := errgroup.WithContext(runCtx)
	for i := 0; i < w.workers; i++ {
		worker := i
		g.Go(func() error {
			w.runLoop(gctx, worker)
			return nil
		})
	}

	go func() {
		_ = g.Wait()
		close(w.done)
	}()

	w.logger.Infow(
		"msg", "retry worker pool started",
		"workers", w.workers,
		"poll_interval", w.pollInterval.String(),
	)
	return nil
}

// Stop shuts the pool down and waits for in-flight deliveries to finish.
func (w *RetryWorker) Stop(ctx context.Context) error {
	if w.cancel == nil {
		return nil
	}
	w.cancel()

	select {
	case <-w.done:
		w.logger.Info("retry worker pool stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runLoop is one competing consumer: claim due items, deliver, repeat.
func (w *RetryWorker) runLoop(ctx context.Context, worker int) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		items, err := w.queue.ClaimDue(ctx, time.Now(), w.claimBatch)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Warnf("worker %d failed to claim due items: %v", worker, err)
			}
			continue
		}

		for _, item := range items {
			w.deliver(ctx, item)
		}
	}
}

// deliver attempts one redelivery and routes the outcome into the
// bounded-retry policy.
func (w *RetryWorker) deliver(ctx context.Context, item *model.WorkItem) {
	breaker := w.registry.GetOrCreate("delivery:" + item.Destination)

	err := breaker.Call(ctx, func(ctx context.Context) error {
		return w.mux.Dispatch(ctx, item)
	})
	if err == nil {
		w.logger.Infow(
			"msg", "work item delivered",
			"item_id", item.ID,
			"destination", item.Destination,
			"attempt", item.Attempt,
		)
		return
	}

	if IsCircuitOpen(err) {
		// Not attempted: keep the attempt budget intact and come back
		// after the breaker's recovery window has a chance to elapse.
		readyAt := time.Now().Add(w.pollInterval * 4)
		if qErr := w.queue.Schedule(ctx, item, readyAt); qErr != nil {
			w.logger.Errorf("failed to reschedule item %s behind open circuit: %v", item.ID, qErr)
		}
		return
	}

	parked, messageID, hErr := w.dlq.HandleFailure(ctx, item, err)
	if hErr != nil {
		w.logger.Errorf("failed to record delivery failure for item %s: %v", item.ID, hErr)
		return
	}
	if parked {
		w.logger.Errorw(
			"msg", "work item exhausted retries",
			"item_id", item.ID,
			"message_id", messageID,
			"destination", item.Destination,
		)
	}
}
