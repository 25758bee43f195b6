package biz

import (
	"context"
	"errors"
	"testing"
	"time"

	"GuardLane/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestHandlerMuxDispatch(t *testing.T) {
	mux := NewHandlerMux()

	var delivered *model.WorkItem
	mux.Register("webhook", func(ctx context.Context, item *model.WorkItem) error {
		delivered = item
		return nil
	})

	item := &model.WorkItem{ID: "item-1", Destination: "webhook"}
	require.NoError(t, mux.Dispatch(context.Background(), item))
	assert.Equal(t, item, delivered)
}

func TestHandlerMuxUnknownDestination(t *testing.T) {
	mux := NewHandlerMux()

	err := mux.Dispatch(context.Background(), &model.WorkItem{ID: "item-1", Destination: "nowhere"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nowhere")
}

func newTestWorker(queue *mockRetryQueue, dlq *DeadLetterUsecase, mux *HandlerMux) *RetryWorker {
	registry := NewBreakerRegistry(log.DefaultLogger, nil, nil)
	return NewRetryWorker(nil, queue, dlq, mux, registry, log.DefaultLogger)
}

func TestDeliverSuccess(t *testing.T) {
	queue := &mockRetryQueue{}
	repo := &mockDeadLetterRepo{}
	dlq := newDLQUsecase(nil, repo, queue, &mockAuditLogger{}, &mockAlertService{})
	mux := NewHandlerMux()

	calls := 0
	mux.Register("webhook", func(ctx context.Context, item *model.WorkItem) error {
		calls++
		return nil
	})

	w := newTestWorker(queue, dlq, mux)
	item := &model.WorkItem{ID: "item-1", Destination: "webhook", Attempt: 1}
	w.deliver(context.Background(), item)

	assert.Equal(t, 1, calls)
	assert.Equal(t, int32(1), item.Attempt)
	queue.AssertNotCalled(t, "Schedule", mock.Anything, mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "Park", mock.Anything, mock.Anything)
}

func TestDeliverFailureConsumesAttempt(t *testing.T) {
	queue := &mockRetryQueue{}
	repo := &mockDeadLetterRepo{}
	dlq := newDLQUsecase(retryConf(3, time.Second, time.Minute), repo, queue, &mockAuditLogger{}, &mockAlertService{})
	mux := NewHandlerMux()
	mux.Register("webhook", func(ctx context.Context, item *model.WorkItem) error {
		return errors.New("downstream 500")
	})

	queue.On("Schedule", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	w := newTestWorker(queue, dlq, mux)
	item := &model.WorkItem{ID: "item-1", Destination: "webhook", Attempt: 0}
	w.deliver(context.Background(), item)

	assert.Equal(t, int32(1), item.Attempt)
	assert.Equal(t, "downstream 500", item.LastError)
	queue.AssertCalled(t, "Schedule", mock.Anything, item, mock.Anything)
}

func TestDeliverCircuitOpenDoesNotConsumeAttempt(t *testing.T) {
	queue := &mockRetryQueue{}
	repo := &mockDeadLetterRepo{}
	dlq := newDLQUsecase(retryConf(3, time.Second, time.Minute), repo, queue, &mockAuditLogger{}, &mockAlertService{})
	mux := NewHandlerMux()

	handlerCalls := 0
	mux.Register("webhook", func(ctx context.Context, item *model.WorkItem) error {
		handlerCalls++
		return errors.New("downstream dead")
	})

	w := newTestWorker(queue, dlq, mux)

	// Trip the destination's breaker so the next delivery fast-fails.
	breaker := w.registry.GetOrCreate("delivery:webhook")
	ctx := context.Background()
	for i := 0; i < DefaultBreakerConfig().FailureThreshold; i++ {
		_ = breaker.Call(ctx, func(ctx context.Context) error { return errors.New("fail") })
	}
	require.Equal(t, model.BreakerOpen, breaker.State())

	queue.On("Schedule", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	item := &model.WorkItem{ID: "item-1", Destination: "webhook", Attempt: 2}
	w.deliver(ctx, item)

	// The handler never ran and the attempt budget is untouched; the item
	// is only pushed back onto the queue.
	assert.Equal(t, 0, handlerCalls)
	assert.Equal(t, int32(2), item.Attempt)
	queue.AssertCalled(t, "Schedule", mock.Anything, item, mock.Anything)
	repo.AssertNotCalled(t, "Park", mock.Anything, mock.Anything)
}

func TestDeliverExhaustedRetriesParks(t *testing.T) {
	queue := &mockRetryQueue{}
	repo := &mockDeadLetterRepo{}
	audit := &mockAuditLogger{}
	alerts := &mockAlertService{}
	dlq := newDLQUsecase(retryConf(3, time.Second, time.Minute), repo, queue, audit, alerts)
	mux := NewHandlerMux()
	mux.Register("webhook", func(ctx context.Context, item *model.WorkItem) error {
		return errors.New("still broken")
	})

	repo.On("Park", mock.Anything, mock.Anything).Return(nil)
	audit.On("LogDeadLetterParked", mock.Anything, mock.Anything, "webhook", int32(3), "still broken").Return()
	alerts.On("NotifyDeadLetter", mock.Anything, mock.Anything, "webhook", "still broken", int32(3)).Return()

	w := newTestWorker(queue, dlq, mux)
	item := &model.WorkItem{ID: "item-1", Destination: "webhook", Attempt: 2}
	w.deliver(context.Background(), item)

	repo.AssertCalled(t, "Park", mock.Anything, mock.Anything)
	queue.AssertNotCalled(t, "Schedule", mock.Anything, mock.Anything, mock.Anything)
	alerts.AssertExpectations(t)
}

func TestWorkerStartStop(t *testing.T) {
	queue := &mockRetryQueue{}
	repo := &mockDeadLetterRepo{}
	dlq := newDLQUsecase(nil, repo, queue, &mockAuditLogger{}, &mockAlertService{})

	queue.On("ClaimDue", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)

	w := newTestWorker(queue, dlq, NewHandlerMux())
	w.pollInterval = 10 * time.Millisecond

	require.NoError(t, w.Start(context.Background()))
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, w.Stop(ctx))
}
