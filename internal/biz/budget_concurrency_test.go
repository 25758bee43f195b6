package biz

import (
	"context"
	"sync"
	"testing"
	"time"

	"GuardLane/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryLedger is an in-memory BudgetRepo with the same atomicity contract
// as the MySQL implementation: the headroom check and the hold happen under
// one lock, and a duplicate request_id fails the way a unique index does.
type memoryLedger struct {
	mu           sync.Mutex
	limit        int64
	used         int64
	reserved     int64
	reservations map[string]*memoryReservation
	byRequest    map[string]*memoryReservation

	reserveApplied int
	violations     int
}

type memoryReservation struct {
	reservationID string
	requestID     string
	amount        int64
	status        string
}

func newMemoryLedger(limit int64) *memoryLedger {
	return &memoryLedger{
		limit:        limit,
		reservations: make(map[string]*memoryReservation),
		byRequest:    make(map[string]*memoryReservation),
	}
}

// checkInvariant must be called with the lock held.
func (l *memoryLedger) checkInvariant() {
	if l.used+l.reserved > l.limit || l.used < 0 || l.reserved < 0 {
		l.violations++
	}
}

func (l *memoryLedger) Reserve(ctx context.Context, tenantID, projectID, reservationID, requestID string, amount, defaultLimit int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.byRequest[requestID]; exists {
		return false, &mysql.MySQLError{Number: 1062, Message: "Duplicate entry '" + requestID + "' for key 'request_id'"}
	}
	if l.used+l.reserved+amount > l.limit {
		return false, nil
	}

	l.reserved += amount
	res := &memoryReservation{
		reservationID: reservationID,
		requestID:     requestID,
		amount:        amount,
		status:        "reserved",
	}
	l.reservations[reservationID] = res
	l.byRequest[requestID] = res
	l.reserveApplied++
	l.checkInvariant()
	return true, nil
}

func (l *memoryLedger) CommitReservation(ctx context.Context, reservationID string, actualTokens int64) (model.CommitStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	res := l.reservations[reservationID]
	if res == nil {
		return "", newStorageError(context.DeadlineExceeded)
	}
	if res.status == "committed" {
		return model.CommitStatusAlreadyCommitted, nil
	}

	actual := actualTokens
	if actual > res.amount {
		actual = res.amount
	}
	l.reserved -= res.amount
	l.used += actual
	res.status = "committed"
	l.checkInvariant()
	return model.CommitStatusCommitted, nil
}

func (l *memoryLedger) ReleaseReservation(ctx context.Context, reservationID string) (model.ReleaseStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	res := l.reservations[reservationID]
	if res == nil {
		return "", newStorageError(context.DeadlineExceeded)
	}
	if res.status == "released" {
		return model.ReleaseStatusAlreadyReleased, nil
	}

	l.reserved -= res.amount
	res.status = "released"
	l.checkInvariant()
	return model.ReleaseStatusReleased, nil
}

func (l *memoryLedger) FindReservationByRequestID(ctx context.Context, requestID string) (string, int64, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	res := l.byRequest[requestID]
	if res == nil {
		return "", 0, false, nil
	}
	return res.reservationID, res.amount, true, nil
}

func (l *memoryLedger) GetAccount(ctx context.Context, tenantID, projectID string) (*model.BudgetAccountView, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return &model.BudgetAccountView{
		TenantID:   tenantID,
		ProjectID:  projectID,
		TotalLimit: l.limit,
		Used:       l.used,
		Reserved:   l.reserved,
		Headroom:   l.limit - l.used - l.reserved,
	}, nil
}

func (l *memoryLedger) ListTransactions(ctx context.Context, tenantID, projectID string, limit int) ([]*model.BudgetTransactionView, error) {
	return nil, nil
}

// memoryIdemStore replicates the Redis claim semantics: Claim is atomic
// insert-if-absent and loses to a present claim or decision.
type memoryIdemStore struct {
	mu        sync.Mutex
	claims    map[string]struct{}
	decisions map[string]*model.BudgetDecision
}

func newMemoryIdemStore() *memoryIdemStore {
	return &memoryIdemStore{
		claims:    make(map[string]struct{}),
		decisions: make(map[string]*model.BudgetDecision),
	}
}

func (s *memoryIdemStore) GetDecision(ctx context.Context, requestID string) (*model.BudgetDecision, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.decisions[requestID]
	return d, ok, nil
}

func (s *memoryIdemStore) Claim(ctx context.Context, requestID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.decisions[requestID]; ok {
		return false, nil
	}
	if _, ok := s.claims[requestID]; ok {
		return false, nil
	}
	s.claims[requestID] = struct{}{}
	return true, nil
}

func (s *memoryIdemStore) PutDecision(ctx context.Context, requestID string, d *model.BudgetDecision, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions[requestID] = d
	delete(s.claims, requestID)
	return nil
}

func (s *memoryIdemStore) ReleaseClaim(ctx context.Context, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claims, requestID)
	return nil
}

func concurrencyUsecase(ledger *memoryLedger) *BudgetUsecase {
	return NewBudgetUsecase(nil, ledger, newMemoryIdemStore(), nil, log.DefaultLogger)
}

func TestConcurrentReservesAdmitExactlyOne(t *testing.T) {
	ledger := newMemoryLedger(1000)
	uc := concurrencyUsecase(ledger)

	// Two 600-token requests against a 1000-token account: together they
	// exceed the limit, so exactly one may win no matter the interleaving.
	decisions := make([]*model.BudgetDecision, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := validTokenRequest()
			req.RequestID = []string{"req-a", "req-b"}[i]
			req.EstimatedTokens = 600
			d, err := uc.RequestTokens(context.Background(), req)
			require.NoError(t, err)
			decisions[i] = d
		}(i)
	}
	wg.Wait()

	approved := 0
	for _, d := range decisions {
		if d.Approved {
			approved++
		} else {
			assert.Equal(t, model.ReasonInsufficientFunds, d.Reason)
		}
	}
	assert.Equal(t, 1, approved)
	assert.Equal(t, int64(600), ledger.used+ledger.reserved)
	assert.Zero(t, ledger.violations)
}

func TestLedgerInvariantHoldsUnderInterleaving(t *testing.T) {
	ledger := newMemoryLedger(2000)
	uc := concurrencyUsecase(ledger)

	// More demand than headroom, with reserves, commits, and releases all
	// racing. used + reserved must never exceed the limit at any point.
	// Commits consume capacity for good, so once used crosses 1600 no
	// further 400-token hold can be admitted.
	const workers = 32
	var wg sync.WaitGroup
	var approvedCount, declinedCount, committedTokens int64
	var mu sync.Mutex

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := validTokenRequest()
			req.RequestID = "req-" + string(rune('a'+i%26)) + string(rune('0'+i/26))
			req.EstimatedTokens = 400
			d, err := uc.RequestTokens(context.Background(), req)
			require.NoError(t, err)
			if !d.Approved {
				mu.Lock()
				declinedCount++
				mu.Unlock()
				return
			}

			mu.Lock()
			approvedCount++
			mu.Unlock()

			if i%2 == 0 {
				_, err = uc.CommitUsage(context.Background(), d.ReservationID, 200)
				require.NoError(t, err)
				mu.Lock()
				committedTokens += 200
				mu.Unlock()
			} else {
				_, err = uc.ReleaseReservation(context.Background(), d.ReservationID)
				require.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	assert.Zero(t, ledger.violations)
	assert.Positive(t, approvedCount)
	assert.Positive(t, declinedCount)
	assert.Equal(t, int64(workers), approvedCount+declinedCount)
	// Every approved hold was finalized, so nothing stays reserved and
	// used reflects exactly what was committed.
	assert.Equal(t, int64(0), ledger.reserved)
	assert.Equal(t, committedTokens, ledger.used)
	assert.LessOrEqual(t, ledger.used, int64(2000))
}

func TestConcurrentIdenticalRequestsReserveOnce(t *testing.T) {
	ledger := newMemoryLedger(1000)
	uc := concurrencyUsecase(ledger)

	// Four retransmissions of the same request race. One reserves, the
	// rest must observe that decision instead of stacking holds.
	const callers = 4
	decisions := make([]*model.BudgetDecision, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := validTokenRequest()
			req.EstimatedTokens = 600
			d, err := uc.RequestTokens(context.Background(), req)
			require.NoError(t, err)
			decisions[i] = d
		}(i)
	}
	wg.Wait()

	for _, d := range decisions {
		require.True(t, d.Approved)
		assert.Equal(t, decisions[0].ReservationID, d.ReservationID)
		assert.Equal(t, int64(600), d.Allocated)
	}
	assert.Equal(t, 1, ledger.reserveApplied)
	assert.Equal(t, int64(600), ledger.reserved)
	assert.Zero(t, ledger.violations)
}
