// README: Actor store backed by PostgreSQL.
package actor

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"diomy/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const actorColumns = `id, role, display_name, phone, reliability_score, online, validated,
	prepaid_balance, push_token, created_at`

// Upsert inserts a new actor or refreshes the editable profile fields of an
// existing one. Score, balance and validation are never touched here.
func (s *Store) Upsert(ctx context.Context, a *Actor) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO actors (id, role, display_name, phone, reliability_score, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET display_name = EXCLUDED.display_name,
		    phone = EXCLUDED.phone`,
		string(a.ID), string(a.Role), a.DisplayName, a.Phone, a.ReliabilityScore, a.CreatedAt,
	)
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Actor, error) {
	row := s.db.QueryRow(ctx, `SELECT `+actorColumns+` FROM actors WHERE id = $1`, string(id))
	a, err := scanActor(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

func (s *Store) SetOnline(ctx context.Context, id types.ID, online bool) error {
	tag, err := s.db.Exec(ctx, `UPDATE actors SET online = $2 WHERE id = $1`, string(id), online)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) SetPushToken(ctx context.Context, id types.ID, token string) error {
	tag, err := s.db.Exec(ctx, `UPDATE actors SET push_token = $2 WHERE id = $1`, string(id), token)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) SetValidated(ctx context.Context, id types.ID) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE actors SET validated = TRUE
		WHERE id = $1 AND role = 'provider'`, string(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AdjustScore applies fn to the current score under a row lock held by tx.
// The caller owns the commit.
func (s *Store) AdjustScore(ctx context.Context, tx pgx.Tx, id types.ID, fn func(old int) int) (int, error) {
	var old int
	err := tx.QueryRow(ctx, `SELECT reliability_score FROM actors WHERE id = $1 FOR UPDATE`, string(id)).Scan(&old)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	next := fn(old)
	if _, err := tx.Exec(ctx, `UPDATE actors SET reliability_score = $2 WHERE id = $1`, string(id), next); err != nil {
		return 0, err
	}
	return next, nil
}

// Eligible returns the subset of ids that can receive a new offer right now.
func (s *Store) Eligible(ctx context.Context, ids []types.ID, minBalance int64) (map[types.ID]bool, error) {
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = string(id)
	}
	rows, err := s.db.Query(ctx, `
		SELECT a.id FROM actors a
		WHERE a.id = ANY($1)
		  AND a.role = 'provider'
		  AND a.online
		  AND a.validated
		  AND a.prepaid_balance >= $2
		  AND NOT EXISTS (
		      SELECT 1 FROM trips t
		      WHERE (t.provider_id = a.id OR t.candidate_id = a.id)
		        AND t.status IN ('pending','accepted','in_progress')
		  )`, raw, minBalance)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[types.ID]bool, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[types.ID(id)] = true
	}
	return out, rows.Err()
}

func scanActor(row pgx.Row) (*Actor, error) {
	var a Actor
	var role string
	err := row.Scan(
		&a.ID, &role, &a.DisplayName, &a.Phone, &a.ReliabilityScore, &a.Online, &a.Validated,
		&a.PrepaidBalance, &a.PushToken, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Role = types.Role(role)
	return &a, nil
}
