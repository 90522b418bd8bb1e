package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/snapcart/capture-api/internal/domain"
	"github.com/snapcart/capture-api/internal/domain/vo"
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

func orderRows(status string, updatedAt time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "amount_minor", "currency", "status", "updated_at"}).
		AddRow("order-1", int64(1299), "GBP", status, updatedAt)
}

type OrderRepositorySuite struct{ suite.Suite }

func (s *OrderRepositorySuite) TestGetOrder_TableDriven() {
	queryErr := errors.New("query failed")
	updatedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		setupMock func(sqlmock.Sqlmock)
		assertion func(domain.Order, error)
	}{
		{
			name: "not found",
			setupMock: func(mockDB sqlmock.Sqlmock) {
				mockDB.ExpectQuery(regexp.QuoteMeta("SELECT id, amount_minor, currency, status, updated_at")).
					WithArgs("order-1").
					WillReturnError(sql.ErrNoRows)
			},
			assertion: func(_ domain.Order, err error) {
				assert.ErrorIs(s.T(), err, vo.ErrOrderNotFound)
			},
		},
		{
			name: "wraps query errors",
			setupMock: func(mockDB sqlmock.Sqlmock) {
				mockDB.ExpectQuery(regexp.QuoteMeta("SELECT id, amount_minor, currency, status, updated_at")).
					WithArgs("order-1").
					WillReturnError(queryErr)
			},
			assertion: func(_ domain.Order, err error) {
				require.Error(s.T(), err)
				assert.ErrorContains(s.T(), err, "get order failed")
				assert.ErrorIs(s.T(), err, queryErr)
			},
		},
		{
			name: "success",
			setupMock: func(mockDB sqlmock.Sqlmock) {
				mockDB.ExpectQuery(regexp.QuoteMeta("SELECT id, amount_minor, currency, status, updated_at")).
					WithArgs("order-1").
					WillReturnRows(orderRows("unpaid", updatedAt))
			},
			assertion: func(order domain.Order, err error) {
				require.NoError(s.T(), err)
				assert.Equal(s.T(), "order-1", order.ID)
				assert.Equal(s.T(), int64(1299), order.AmountMinor)
				assert.Equal(s.T(), "GBP", order.Currency)
				assert.Equal(s.T(), domain.OrderStatusUnpaid, order.Status)
				assert.Equal(s.T(), updatedAt, order.UpdatedAt)
			},
		},
	}

	for _, tc := range tests {
		s.Run(tc.name, func() {
			db, mockDB := newSQLXMock(s.T())
			repo := NewOrderRepository(db)
			tc.setupMock(mockDB)

			order, err := repo.GetOrder(context.Background(), "order-1")
			tc.assertion(order, err)
			assert.NoError(s.T(), mockDB.ExpectationsWereMet())
		})
	}
}

func (s *OrderRepositorySuite) TestEnsureOrderExists_InsertsThenReads() {
	db, mockDB := newSQLXMock(s.T())
	repo := NewOrderRepository(db)
	updatedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mockDB.ExpectExec(regexp.QuoteMeta("INSERT INTO orders")).
		WithArgs("order-1", int64(1299), "GBP").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectQuery(regexp.QuoteMeta("SELECT id, amount_minor, currency, status, updated_at")).
		WithArgs("order-1").
		WillReturnRows(orderRows("unpaid", updatedAt))

	order, err := repo.EnsureOrderExists(context.Background(), "order-1", 1299, "GBP")
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusUnpaid, order.Status)
	s.NoError(mockDB.ExpectationsWereMet())
}

func (s *OrderRepositorySuite) TestMarkPaid_IsIdempotent() {
	db, mockDB := newSQLXMock(s.T())
	repo := NewOrderRepository(db)
	updatedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Already paid: the guarded update touches no rows and the read returns
	// the unchanged order.
	mockDB.ExpectExec(regexp.QuoteMeta("UPDATE orders")).
		WithArgs("order-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mockDB.ExpectQuery(regexp.QuoteMeta("SELECT id, amount_minor, currency, status, updated_at")).
		WithArgs("order-1").
		WillReturnRows(orderRows("paid", updatedAt))

	order, err := repo.MarkPaid(context.Background(), "order-1")
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusPaid, order.Status)
	s.NoError(mockDB.ExpectationsWereMet())
}

func (s *OrderRepositorySuite) TestRecordCharge() {
	db, mockDB := newSQLXMock(s.T())
	repo := NewOrderRepository(db)

	mockDB.ExpectExec(regexp.QuoteMeta("INSERT INTO charges")).
		WithArgs("ch_abc123", "order-1", "capture:key-1", int64(1299), "GBP").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.RecordCharge(context.Background(), domain.Charge{
		ID:             "ch_abc123",
		OrderID:        "order-1",
		IdempotencyKey: "capture:key-1",
		AmountMinor:    1299,
		Currency:       "GBP",
	})
	s.Require().NoError(err)
	s.NoError(mockDB.ExpectationsWereMet())
}

func (s *OrderRepositorySuite) TestListCharges() {
	db, mockDB := newSQLXMock(s.T())
	repo := NewOrderRepository(db)
	createdAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "order_id", "idempotency_key", "amount_minor", "currency", "created_at"}).
		AddRow("ch_abc123", "order-1", "capture:key-1", int64(1299), "GBP", createdAt)
	mockDB.ExpectQuery(regexp.QuoteMeta("SELECT id, order_id, idempotency_key, amount_minor, currency, created_at")).
		WithArgs("order-1").
		WillReturnRows(rows)

	charges, err := repo.ListCharges(context.Background(), "order-1")
	s.Require().NoError(err)
	s.Require().Len(charges, 1)
	s.Equal("ch_abc123", charges[0].ID)
	s.Equal("capture:key-1", charges[0].IdempotencyKey)
	s.NoError(mockDB.ExpectationsWereMet())
}

func TestOrderRepositorySuite(t *testing.T) {
	suite.Run(t, new(OrderRepositorySuite))
}

type MemoryOrderRepositorySuite struct {
	suite.Suite

	repo *MemoryOrderRepository
}

func (s *MemoryOrderRepositorySuite) SetupTest() {
	s.repo = NewMemoryOrderRepository()
}

func (s *MemoryOrderRepositorySuite) TestEnsureOrderExists_SeedsOnce() {
	ctx := context.Background()

	first, err := s.repo.EnsureOrderExists(ctx, "order-1", 1299, "GBP")
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusUnpaid, first.Status)

	_, err = s.repo.MarkPaid(ctx, "order-1")
	s.Require().NoError(err)

	// A repeated ensure keeps the stored order, it never reseeds.
	again, err := s.repo.EnsureOrderExists(ctx, "order-1", 500, "USD")
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusPaid, again.Status)
	s.Equal(int64(1299), again.AmountMinor)
}

func (s *MemoryOrderRepositorySuite) TestGetOrder_NotFound() {
	_, err := s.repo.GetOrder(context.Background(), "order-unknown")
	s.ErrorIs(err, vo.ErrOrderNotFound)
}

func (s *MemoryOrderRepositorySuite) TestMarkPaid_NotFound() {
	_, err := s.repo.MarkPaid(context.Background(), "order-unknown")
	s.ErrorIs(err, vo.ErrOrderNotFound)
}

func (s *MemoryOrderRepositorySuite) TestRecordCharge_DeduplicatesOnID() {
	ctx := context.Background()

	charge := domain.Charge{ID: "ch_abc123", OrderID: "order-1", AmountMinor: 1299, Currency: "GBP"}
	s.Require().NoError(s.repo.RecordCharge(ctx, charge))
	s.Require().NoError(s.repo.RecordCharge(ctx, charge))

	charges, err := s.repo.ListCharges(ctx, "order-1")
	s.Require().NoError(err)
	s.Len(charges, 1)
}

func TestMemoryOrderRepositorySuite(t *testing.T) {
	suite.Run(t, new(MemoryOrderRepositorySuite))
}

type AuthLoginRepositorySuite struct{ suite.Suite }

func (s *AuthLoginRepositorySuite) TestGetUserAuthByEmail_TableDriven() {
	queryErr := errors.New("query failed")

	tests := []struct {
		name      string
		email     string
		setupMock func(sqlmock.Sqlmock)
		assertion func(domain.UserAuth, error)
	}{
		{
			name:  "invalid when email empty",
			email: "   ",
			assertion: func(_ domain.UserAuth, err error) {
				assert.ErrorIs(s.T(), err, vo.ErrInvalidCredentials)
			},
		},
		{
			name:  "invalid when user not found",
			email: "user@example.com",
			setupMock: func(mockDB sqlmock.Sqlmock) {
				mockDB.ExpectQuery(regexp.QuoteMeta("SELECT id::text AS id, email, password_hash, status")).
					WithArgs("user@example.com").
					WillReturnError(sql.ErrNoRows)
			},
			assertion: func(_ domain.UserAuth, err error) {
				assert.ErrorIs(s.T(), err, vo.ErrInvalidCredentials)
			},
		},
		{
			name:  "wraps query errors",
			email: "user@example.com",
			setupMock: func(mockDB sqlmock.Sqlmock) {
				mockDB.ExpectQuery(regexp.QuoteMeta("SELECT id::text AS id, email, password_hash, status")).
					WithArgs("user@example.com").
					WillReturnError(queryErr)
			},
			assertion: func(_ domain.UserAuth, err error) {
				require.Error(s.T(), err)
				assert.ErrorIs(s.T(), err, queryErr)
			},
		},
		{
			name:  "invalid when status not active",
			email: "user@example.com",
			setupMock: func(mockDB sqlmock.Sqlmock) {
				rows := sqlmock.NewRows([]string{"id", "email", "password_hash", "status"}).
					AddRow("user-1", "user@example.com", "hashed", "inactive")
				mockDB.ExpectQuery(regexp.QuoteMeta("SELECT id::text AS id, email, password_hash, status")).
					WithArgs("user@example.com").
					WillReturnRows(rows)
			},
			assertion: func(_ domain.UserAuth, err error) {
				assert.ErrorIs(s.T(), err, vo.ErrInvalidCredentials)
			},
		},
		{
			name:  "success",
			email: "USER@example.com",
			setupMock: func(mockDB sqlmock.Sqlmock) {
				rows := sqlmock.NewRows([]string{"id", "email", "password_hash", "status"}).
					AddRow("user-1", "user@example.com", "hashed", "active")
				mockDB.ExpectQuery(regexp.QuoteMeta("SELECT id::text AS id, email, password_hash, status")).
					WithArgs("user@example.com").
					WillReturnRows(rows)
			},
			assertion: func(user domain.UserAuth, err error) {
				require.NoError(s.T(), err)
				assert.Equal(s.T(), "user-1", user.ID)
			},
		},
	}

	for _, tc := range tests {
		s.Run(tc.name, func() {
			db, mockDB := newSQLXMock(s.T())
			repo := NewAuthLoginRepository(db)
			if tc.setupMock != nil {
				tc.setupMock(mockDB)
			}

			user, err := repo.GetUserAuthByEmail(context.Background(), tc.email)
			tc.assertion(user, err)
			assert.NoError(s.T(), mockDB.ExpectationsWereMet())
		})
	}
}

func TestAuthLoginRepositorySuite(t *testing.T) {
	suite.Run(t, new(AuthLoginRepositorySuite))
}
