package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

func newSQLXMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mockDB, err := sqlmock.New()
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return sqlx.NewDb(sqlDB, "sqlmock"), mockDB
}

type SQLXStoreSuite struct {
	suite.Suite

	clock  *fakeClock
	db     *sqlx.DB
	mockDB sqlmock.Sqlmock
	store  *SQLXStore
}

func (s *SQLXStoreSuite) SetupTest() {
	s.clock = newFakeClock()
	s.db, s.mockDB = newSQLXMock(s.T())

	store, err := NewSQLXStore(s.db, Options{
		ClaimTTL:     30 * time.Second,
		CompletedTTL: 24 * time.Hour,
		Clock:        s.clock,
		Tokens:       &sequentialTokens{},
	})
	s.Require().NoError(err)
	s.store = store
}

func (s *SQLXStoreSuite) TearDownTest() {
	s.NoError(s.mockDB.ExpectationsWereMet())
}

func (s *SQLXStoreSuite) selectPattern() string {
	return regexp.QuoteMeta("SELECT state, owner_token, charge_id, amount_minor, currency, completed_at, expires_at")
}

func (s *SQLXStoreSuite) recordColumns() []string {
	return []string{"state", "owner_token", "charge_id", "amount_minor", "currency", "completed_at", "expires_at"}
}

func (s *SQLXStoreSuite) TestTryClaim_InsertsWhenAbsent() {
	now := s.clock.Now()

	s.mockDB.ExpectBegin()
	s.mockDB.ExpectQuery(s.selectPattern()).
		WithArgs("capture:key-1").
		WillReturnError(sql.ErrNoRows)
	s.mockDB.ExpectExec(regexp.QuoteMeta("INSERT INTO capture_idempotency")).
		WithArgs("capture:key-1", "token-1", now.Add(30*time.Second), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	s.mockDB.ExpectCommit()

	decision, err := s.store.TryClaim(context.Background(), "capture:key-1")
	s.Require().NoError(err)
	s.Equal(DecisionClaimed, decision.Type)
	s.Equal("token-1", decision.OwnerToken)
}

func (s *SQLXStoreSuite) TestTryClaim_ReturnsCompletedOutcome() {
	now := s.clock.Now()
	completedAt := now.Add(-time.Minute)

	rows := sqlmock.NewRows(s.recordColumns()).
		AddRow("completed", nil, "ch_abc123", int64(1299), "GBP", completedAt, now.Add(time.Hour))

	s.mockDB.ExpectBegin()
	s.mockDB.ExpectQuery(s.selectPattern()).
		WithArgs("capture:key-1").
		WillReturnRows(rows)
	s.mockDB.ExpectCommit()

	decision, err := s.store.TryClaim(context.Background(), "capture:key-1")
	s.Require().NoError(err)
	s.Equal(DecisionCompleted, decision.Type)
	s.Equal("ch_abc123", decision.Outcome.ChargeID)
	s.Equal(int64(1299), decision.Outcome.AmountMinor)
	s.Equal("GBP", decision.Outcome.Currency)
}

func (s *SQLXStoreSuite) TestTryClaim_ReportsLiveForeignClaim() {
	now := s.clock.Now()

	rows := sqlmock.NewRows(s.recordColumns()).
		AddRow("in_flight", "someone-else", nil, nil, nil, nil, now.Add(10*time.Second))

	s.mockDB.ExpectBegin()
	s.mockDB.ExpectQuery(s.selectPattern()).
		WithArgs("capture:key-1").
		WillReturnRows(rows)
	s.mockDB.ExpectCommit()

	decision, err := s.store.TryClaim(context.Background(), "capture:key-1")
	s.Require().NoError(err)
	s.Equal(DecisionInFlight, decision.Type)
}

func (s *SQLXStoreSuite) TestTryClaim_ReclaimsExpiredClaim() {
	now := s.clock.Now()

	rows := sqlmock.NewRows(s.recordColumns()).
		AddRow("in_flight", "crashed-owner", nil, nil, nil, nil, now.Add(-time.Second))

	s.mockDB.ExpectBegin()
	s.mockDB.ExpectQuery(s.selectPattern()).
		WithArgs("capture:key-1").
		WillReturnRows(rows)
	s.mockDB.ExpectExec(regexp.QuoteMeta("UPDATE capture_idempotency")).
		WithArgs("capture:key-1", "token-1", now.Add(30*time.Second), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	s.mockDB.ExpectCommit()

	decision, err := s.store.TryClaim(context.Background(), "capture:key-1")
	s.Require().NoError(err)
	s.Equal(DecisionClaimed, decision.Type)
	s.Equal("token-1", decision.OwnerToken)
}

func (s *SQLXStoreSuite) TestTryClaim_WrapsQueryError() {
	queryErr := errors.New("connection reset")

	s.mockDB.ExpectBegin()
	s.mockDB.ExpectQuery(s.selectPattern()).
		WithArgs("capture:key-1").
		WillReturnError(queryErr)
	s.mockDB.ExpectRollback()

	_, err := s.store.TryClaim(context.Background(), "capture:key-1")
	s.Require().Error(err)
	s.ErrorIs(err, queryErr)
	s.ErrorContains(err, "failed to query key")
}

func (s *SQLXStoreSuite) TestComplete_PersistsOutcome() {
	now := s.clock.Now()
	outcome := Outcome{
		ChargeID:    "ch_abc123",
		AmountMinor: 1299,
		Currency:    "GBP",
		CompletedAt: now,
	}

	s.mockDB.ExpectExec(regexp.QuoteMeta("UPDATE capture_idempotency")).
		WithArgs("capture:key-1", "token-1", "ch_abc123", int64(1299), "GBP", now.UTC(), now.Add(24*time.Hour), now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	s.NoError(s.store.Complete(context.Background(), "capture:key-1", "token-1", outcome))
}

func (s *SQLXStoreSuite) TestComplete_LostOwnership() {
	s.mockDB.ExpectExec(regexp.QuoteMeta("UPDATE capture_idempotency")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.store.Complete(context.Background(), "capture:key-1", "stale-token", Outcome{ChargeID: "ch_x"})
	s.ErrorIs(err, ErrOwnershipLost)
}

func (s *SQLXStoreSuite) TestRelease_DeletesOwnClaim() {
	s.mockDB.ExpectExec(regexp.QuoteMeta("DELETE FROM capture_idempotency")).
		WithArgs("capture:key-1", "token-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	s.NoError(s.store.Release(context.Background(), "capture:key-1", "token-1"))
}

func (s *SQLXStoreSuite) TestGet_TableDriven() {
	getErr := errors.New("query failed")

	tests := []struct {
		name      string
		setupMock func()
		assertion func(Outcome, bool, error)
	}{
		{
			name: "miss when absent",
			setupMock: func() {
				s.mockDB.ExpectQuery(s.selectPattern()).
					WillReturnError(sql.ErrNoRows)
			},
			assertion: func(_ Outcome, ok bool, err error) {
				s.Require().NoError(err)
				s.False(ok)
			},
		},
		{
			name: "wraps query errors",
			setupMock: func() {
				s.mockDB.ExpectQuery(s.selectPattern()).
					WillReturnError(getErr)
			},
			assertion: func(_ Outcome, ok bool, err error) {
				s.Require().Error(err)
				s.ErrorIs(err, getErr)
				s.False(ok)
			},
		},
		{
			name: "returns stored outcome",
			setupMock: func() {
				completedAt := s.clock.Now().Add(-time.Minute)
				rows := sqlmock.NewRows(s.recordColumns()).
					AddRow("completed", nil, "ch_abc123", int64(1299), "GBP", completedAt, s.clock.Now().Add(time.Hour))
				s.mockDB.ExpectQuery(s.selectPattern()).
					WillReturnRows(rows)
			},
			assertion: func(outcome Outcome, ok bool, err error) {
				s.Require().NoError(err)
				s.True(ok)
				s.Equal("ch_abc123", outcome.ChargeID)
			},
		},
	}

	for _, tc := range tests {
		s.Run(tc.name, func() {
			tc.setupMock()
			outcome, ok, err := s.store.Get(context.Background(), "capture:key-1")
			tc.assertion(outcome, ok, err)
		})
	}
}

func TestSQLXStoreSuite(t *testing.T) {
	suite.Run(t, new(SQLXStoreSuite))
}
