// README: Wallet store backed by PostgreSQL. Balance changes and ledger rows are
// always written in the same transaction.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"diomy/internal/types"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const txColumns = `id, actor_id, kind, amount, balance_before, balance_after, trip_id,
	status, method, description, created_at`

func (s *Store) Insert(ctx context.Context, t *Transaction) error {
	return insertTransaction(ctx, s.db, t)
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Transaction, error) {
	row := s.db.QueryRow(ctx, `SELECT `+txColumns+` FROM wallet_transactions WHERE id = $1`, string(id))
	t, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// Confirm credits a pending recharge to the actor balance and marks it completed.
func (s *Store) Confirm(ctx context.Context, id types.ID) (*Transaction, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var actorID string
	var amount int64
	var status string
	err = tx.QueryRow(ctx, `
		SELECT actor_id, amount, status FROM wallet_transactions
		WHERE id = $1 AND kind = 'recharge'
		FOR UPDATE`, string(id)).Scan(&actorID, &amount, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if Status(status) != StatusPending {
		return nil, ErrNotPending
	}

	var after int64
	err = tx.QueryRow(ctx, `
		UPDATE actors SET prepaid_balance = prepaid_balance + $2
		WHERE id = $1
		RETURNING prepaid_balance`, actorID, amount).Scan(&after)
	if err != nil {
		return nil, fmt.Errorf("credit balance: %w", err)
	}
	before := after - amount
	if _, err := tx.Exec(ctx, `
		UPDATE wallet_transactions
		SET status = 'completed', balance_before = $2, balance_after = $3
		WHERE id = $1`, string(id), before, after); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit top-up: %w", err)
	}
	return s.Get(ctx, id)
}

func (s *Store) Reject(ctx context.Context, id types.ID) (*Transaction, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE wallet_transactions SET status = 'rejected'
		WHERE id = $1 AND kind = 'recharge' AND status = 'pending'`, string(id))
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrNotPending
	}
	return s.Get(ctx, id)
}

// DebitCommission charges a trip commission inside the caller's transaction.
// The balance is floored at zero and a provider left with nothing is taken
// offline. Returns the balance after the debit.
func (s *Store) DebitCommission(ctx context.Context, tx pgx.Tx, providerID, tripID types.ID, amount int64) (int64, error) {
	var before int64
	err := tx.QueryRow(ctx, `SELECT prepaid_balance FROM actors WHERE id = $1 FOR UPDATE`, string(providerID)).Scan(&before)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	after := before - amount
	if after < 0 {
		after = 0
	}
	if _, err := tx.Exec(ctx, `
		UPDATE actors
		SET prepaid_balance = $2,
		    online = CASE WHEN $2 <= 0 THEN FALSE ELSE online END
		WHERE id = $1`, string(providerID), after); err != nil {
		return 0, err
	}
	trip := tripID
	err = insertTransaction(ctx, tx, &Transaction{
		ID:            types.ID(uuid.NewString()),
		ActorID:       providerID,
		Kind:          KindCommission,
		Amount:        amount,
		BalanceBefore: &before,
		BalanceAfter:  &after,
		TripID:        &trip,
		Status:        StatusCompleted,
		Description:   fmt.Sprintf("Commission for trip %s", tripID),
		CreatedAt:     time.Now(),
	})
	if err != nil {
		return 0, fmt.Errorf("commission ledger: %w", err)
	}
	return after, nil
}

func (s *Store) History(ctx context.Context, actorID types.ID, limit int) ([]Transaction, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+txColumns+` FROM wallet_transactions
		WHERE actor_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, string(actorID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *Store) Summary(ctx context.Context, actorID types.ID) (Summary, error) {
	sum := Summary{Currency: types.Currency}
	err := s.db.QueryRow(ctx, `SELECT prepaid_balance FROM actors WHERE id = $1`, string(actorID)).Scan(&sum.Balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return Summary{}, ErrNotFound
	}
	if err != nil {
		return Summary{}, err
	}
	err = s.db.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(price), 0), COALESCE(SUM(commission_amount), 0)
		FROM trips
		WHERE provider_id = $1 AND status = 'completed'`, string(actorID),
	).Scan(&sum.CompletedTrips, &sum.GrossFares, &sum.TotalCommissions)
	if err != nil {
		return Summary{}, err
	}
	sum.NetEarnings = sum.GrossFares - sum.TotalCommissions
	return sum, nil
}

func insertTransaction(ctx context.Context, db dbtx, t *Transaction) error {
	_, err := db.Exec(ctx, `
		INSERT INTO wallet_transactions (
			id, actor_id, kind, amount, balance_before, balance_after, trip_id,
			status, method, description, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		string(t.ID), string(t.ActorID), string(t.Kind), t.Amount,
		t.BalanceBefore, t.BalanceAfter, idPtr(t.TripID),
		string(t.Status), t.Method, t.Description, t.CreatedAt,
	)
	return err
}

func scanTransaction(row pgx.Row) (*Transaction, error) {
	var t Transaction
	var kind, status string
	var tripID *string
	err := row.Scan(
		&t.ID, &t.ActorID, &kind, &t.Amount, &t.BalanceBefore, &t.BalanceAfter, &tripID,
		&status, &t.Method, &t.Description, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Kind = Kind(kind)
	t.Status = Status(status)
	if tripID != nil {
		id := types.ID(*tripID)
		t.TripID = &id
	}
	return &t, nil
}

func idPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
