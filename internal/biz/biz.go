// Package biz contains business logic layer implementations.
// This layer holds the control-plane state machines: circuit breaking,
// idempotent budget accounting, dead-letter retry policy, and governance.
package biz

import (
	"GuardLane/internal/data"

	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewBreakerRegistry,
	NewBudgetUsecase,
	NewDeadLetterUsecase,
	NewHandlerMux,
	NewRetryWorker,
	NewGovernanceUsecase,
	// Import data layer providers
	data.NewBudgetRepo,
	data.NewIdempotencyStore,
	data.NewDeadLetterRepo,
	data.NewRetryQueue,
	data.NewGovernanceRepo,
	data.NewAuditLogger,
	data.NewLogAlertService,
	// Bind data layer implementations to biz layer interfaces
	wire.Bind(new(BudgetRepo), new(*data.BudgetRepo)),
	wire.Bind(new(IdempotencyStore), new(*data.IdempotencyStore)),
	wire.Bind(new(DeadLetterRepo), new(*data.DeadLetterRepo)),
	wire.Bind(new(RetryQueue), new(*data.RetryQueue)),
	wire.Bind(new(GovernanceRepo), new(*data.GovernanceRepo)),
	wire.Bind(new(AuditLogger), new(*data.AuditLoggerImpl)),
	wire.Bind(new(AlertService), new(*data.LogAlertService)),
)
