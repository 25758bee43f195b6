package data

import (
	"context"
	"regexp"
	"testing"
	"time"

	"GuardLane/internal/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupGovernanceRepo(t *testing.T) (*GovernanceRepo, sqlmock.Sqlmock) {
	t.Helper()
	gormDB, mock := setupMockDB(t)
	return NewGovernanceRepo(gormDB, log.DefaultLogger), mock
}

func ruleRows(id int64, maxPerDay int32, cooldownSeconds int64, lastUpdateAt *time.Time, version int32) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "role", "max_updates_per_day", "cooldown_seconds", "requires_human_approval",
		"last_update_at", "version", "created_at", "updated_at",
	}).AddRow(id, "planner", maxPerDay, cooldownSeconds, false, lastUpdateAt, version, now, now)
}

func expectRuleLookup(mock sqlmock.Sqlmock, rows *sqlmock.Rows) {
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `governance_rules` WHERE role = ?")).
		WithArgs("planner", 1).
		WillReturnRows(rows)
}

func expectAutoUpdateCount(mock sqlmock.Sqlmock, count int64) {
	mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM `governance_updates`")).
		WithArgs("planner", "auto", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(count))
}

func TestTryRecordAutoUpdate(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("records when checks pass and the version holds", func(t *testing.T) {
		repo, mock := setupGovernanceRepo(t)

		expectRuleLookup(mock, ruleRows(1, 5, 3600, nil, 2))
		expectAutoUpdateCount(mock, 2)
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("UPDATE `governance_rules` SET")).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `governance_updates`")).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		allowed, reason, err := repo.TryRecordAutoUpdate(ctx, "planner", now)
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Empty(t, reason)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("cooldown denies before touching the row", func(t *testing.T) {
		repo, mock := setupGovernanceRepo(t)

		recent := now.Add(-10 * time.Minute)
		expectRuleLookup(mock, ruleRows(1, 5, 3600, &recent, 2))

		allowed, reason, err := repo.TryRecordAutoUpdate(ctx, "planner", now)
		require.NoError(t, err)
		assert.False(t, allowed)
		assert.Equal(t, model.GovernanceReasonCooldown, reason)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("daily cap denies", func(t *testing.T) {
		repo, mock := setupGovernanceRepo(t)

		expectRuleLookup(mock, ruleRows(1, 5, 3600, nil, 2))
		expectAutoUpdateCount(mock, 5)

		allowed, reason, err := repo.TryRecordAutoUpdate(ctx, "planner", now)
		require.NoError(t, err)
		assert.False(t, allowed)
		assert.Equal(t, model.GovernanceReasonDailyCapReached, reason)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("sustained version conflicts deny as contention", func(t *testing.T) {
		repo, mock := setupGovernanceRepo(t)

		// Every retry observes a version that moves before its update
		// lands. The denial must name the race, not the cooldown.
		for i := 0; i < maxGovernanceRetries; i++ {
			expectRuleLookup(mock, ruleRows(1, 5, 3600, nil, int32(2+i)))
			expectAutoUpdateCount(mock, 0)
			mock.ExpectBegin()
			mock.ExpectExec(regexp.QuoteMeta("UPDATE `governance_rules` SET")).
				WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectCommit()
		}

		allowed, reason, err := repo.TryRecordAutoUpdate(ctx, "planner", now)
		require.NoError(t, err)
		assert.False(t, allowed)
		assert.Equal(t, model.GovernanceReasonContention, reason)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDecideApprovalConditionalUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("pending request transitions", func(t *testing.T) {
		repo, mock := setupGovernanceRepo(t)

		mock.ExpectExec(regexp.QuoteMeta("UPDATE `governance_approvals` SET")).
			WillReturnResult(sqlmock.NewResult(0, 1))

		decided, err := repo.DecideApproval(ctx, "app-1", model.ApprovalApproved, "alex", "lgtm")
		require.NoError(t, err)
		assert.True(t, decided)
	})

	t.Run("second decision loses", func(t *testing.T) {
		repo, mock := setupGovernanceRepo(t)

		mock.ExpectExec(regexp.QuoteMeta("UPDATE `governance_approvals` SET")).
			WillReturnResult(sqlmock.NewResult(0, 0))

		decided, err := repo.DecideApproval(ctx, "app-1", model.ApprovalRejected, "sam", "late")
		require.NoError(t, err)
		assert.False(t, decided)
	})
}
