package data

import (
	"context"

	"GuardLane/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// LogAlertService implements biz.AlertService by emitting error-level
// structured log entries. Production deployments forward these to a pager
// through the log pipeline; the service itself never blocks the caller.
type LogAlertService struct {
	logger *log.Helper
}

// NewLogAlertService creates the log-backed alert sink.
func NewLogAlertService(logger log.Logger) *LogAlertService {
	return &LogAlertService{
		logger: log.NewHelper(logger),
	}
}

// NotifyCircuitBroken fires when a breaker trips to OPEN.
func (s *LogAlertService) NotifyCircuitBroken(ctx context.Context, event model.CircuitBrokenEvent) {
	s.logger.Errorw(
		"msg", "ALERT: circuit breaker open",
		"breaker", event.Name,
		"consecutive_failures", event.FailureCount,
		"opened_at", event.OpenedAt,
	)
}

// NotifyDeadLetter fires when a work item exhausts its retries.
func (s *LogAlertService) NotifyDeadLetter(ctx context.Context, messageID, destination, lastError string, attempts int32) {
	s.logger.Errorw(
		"msg", "ALERT: work item moved to dead letter store",
		"message_id", messageID,
		"destination", destination,
		"attempts", attempts,
		"last_error", lastError,
	)
}
