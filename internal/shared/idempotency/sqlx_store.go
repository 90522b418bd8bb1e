package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

var _ Store = (*SQLXStore)(nil)

// SQLXStore is a postgres-backed record store. The claim transition runs in
// a transaction with SELECT ... FOR UPDATE so concurrent callers serialize
// on the row; records survive process restarts.
type SQLXStore struct {
	db   *sqlx.DB
	opts Options
}

// NewSQLXStore creates a postgres-backed record store.
func NewSQLXStore(db *sqlx.DB, opts Options) (*SQLXStore, error) {
	if db == nil {
		return nil, errors.New("idempotency: db is required")
	}

	withDefaults, err := opts.withDefaults()
	if err != nil {
		return nil, fmt.Errorf("idempotency: failed to init sqlx store: %w", err)
	}

	return &SQLXStore{db: db, opts: withDefaults}, nil
}

type idempotencyRow struct {
	State       string         `db:"state"`
	OwnerToken  sql.NullString `db:"owner_token"`
	ChargeID    sql.NullString `db:"charge_id"`
	AmountMinor sql.NullInt64  `db:"amount_minor"`
	Currency    sql.NullString `db:"currency"`
	CompletedAt sql.NullTime   `db:"completed_at"`
	ExpiresAt   time.Time      `db:"expires_at"`
}

func (s *SQLXStore) TryClaim(ctx context.Context, key string) (Decision, error) {
	token, err := s.opts.Tokens.Generate(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("idempotency: failed to generate owner token: %w", err)
	}

	now := s.opts.Clock.Now()
	claimExpiry := now.Add(s.opts.ClaimTTL)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Decision{}, fmt.Errorf("idempotency: failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	const selectQuery = `
SELECT state, owner_token, charge_id, amount_minor, currency, completed_at, expires_at
FROM capture_idempotency
WHERE idempotency_key = $1
FOR UPDATE`

	var existing idempotencyRow
	err = tx.GetContext(ctx, &existing, selectQuery, key)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return Decision{}, fmt.Errorf("idempotency: failed to query key: %w", err)
		}

		const insertQuery = `
INSERT INTO capture_idempotency (
	idempotency_key, state, owner_token, expires_at, created_at, updated_at
) VALUES ($1, 'in_flight', $2, $3, $4, $4)`

		if _, insertErr := tx.ExecContext(ctx, insertQuery, key, token, claimExpiry, now); insertErr != nil {
			return Decision{}, fmt.Errorf("idempotency: failed to insert claim: %w", insertErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return Decision{}, fmt.Errorf("idempotency: failed to commit claim insert: %w", commitErr)
		}

		return Decision{Type: DecisionClaimed, OwnerToken: token}, nil
	}

	if existing.State == "completed" && existing.ExpiresAt.After(now) {
		if commitErr := tx.Commit(); commitErr != nil {
			return Decision{}, fmt.Errorf("idempotency: failed to commit completed read: %w", commitErr)
		}

		return Decision{Type: DecisionCompleted, Outcome: outcomeFromRow(existing)}, nil
	}

	if existing.State == "in_flight" && existing.ExpiresAt.After(now) {
		if commitErr := tx.Commit(); commitErr != nil {
			return Decision{}, fmt.Errorf("idempotency: failed to commit in-flight read: %w", commitErr)
		}

		return Decision{Type: DecisionInFlight}, nil
	}

	const reclaimQuery = `
UPDATE capture_idempotency
SET state = 'in_flight', owner_token = $2, charge_id = NULL, amount_minor = NULL,
	currency = NULL, completed_at = NULL, expires_at = $3, updated_at = $4
WHERE idempotency_key = $1`

	if _, updateErr := tx.ExecContext(ctx, reclaimQuery, key, token, claimExpiry, now); updateErr != nil {
		return Decision{}, fmt.Errorf("idempotency: failed to reclaim key: %w", updateErr)
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return Decision{}, fmt.Errorf("idempotency: failed to commit reclaim: %w", commitErr)
	}

	return Decision{Type: DecisionClaimed, OwnerToken: token}, nil
}

func (s *SQLXStore) Complete(ctx context.Context, key, ownerToken string, outcome Outcome) error {
	now := s.opts.Clock.Now()

	const updateQuery = `
UPDATE capture_idempotency
SET state = 'completed', owner_token = NULL, charge_id = $3, amount_minor = $4,
	currency = $5, completed_at = $6, expires_at = $7, updated_at = $8
WHERE idempotency_key = $1 AND owner_token = $2 AND state = 'in_flight' AND expires_at > $8`

	result, err := s.db.ExecContext(ctx, updateQuery,
		key,
		ownerToken,
		outcome.ChargeID,
		outcome.AmountMinor,
		outcome.Currency,
		outcome.CompletedAt.UTC(),
		now.Add(s.opts.CompletedTTL),
		now,
	)
	if err != nil {
		return fmt.Errorf("idempotency: failed to persist outcome: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("idempotency: failed to read affected rows: %w", err)
	}

	if rowsAffected == 0 {
		return ErrOwnershipLost
	}

	return nil
}

func (s *SQLXStore) Release(ctx context.Context, key, ownerToken string) error {
	const deleteQuery = `
DELETE FROM capture_idempotency
WHERE idempotency_key = $1 AND owner_token = $2 AND state = 'in_flight'`

	if _, err := s.db.ExecContext(ctx, deleteQuery, key, ownerToken); err != nil {
		return fmt.Errorf("idempotency: failed to release claim: %w", err)
	}

	return nil
}

func (s *SQLXStore) Get(ctx context.Context, key string) (Outcome, bool, error) {
	const selectQuery = `
SELECT state, owner_token, charge_id, amount_minor, currency, completed_at, expires_at
FROM capture_idempotency
WHERE idempotency_key = $1 AND state = 'completed' AND expires_at > $2`

	var row idempotencyRow
	if err := s.db.GetContext(ctx, &row, selectQuery, key, s.opts.Clock.Now()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Outcome{}, false, nil
		}
		return Outcome{}, false, fmt.Errorf("idempotency: failed to read outcome: %w", err)
	}

	return outcomeFromRow(row), true, nil
}

func outcomeFromRow(row idempotencyRow) Outcome {
	outcome := Outcome{
		ChargeID:    row.ChargeID.String,
		AmountMinor: row.AmountMinor.Int64,
		Currency:    row.Currency.String,
	}
	if row.CompletedAt.Valid {
		outcome.CompletedAt = row.CompletedAt.Time.UTC()
	}
	return outcome
}
