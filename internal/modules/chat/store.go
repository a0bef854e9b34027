// README: Chat store backed by PostgreSQL. Append-only.
package chat

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"diomy/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Append(ctx context.Context, m *Message) error {
	var sender *string
	if m.SenderID != nil {
		v := string(*m.SenderID)
		sender = &v
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO chat_messages (id, trip_id, sender_id, kind, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		string(m.ID), string(m.TripID), sender, string(m.Kind), m.Content, m.CreatedAt,
	)
	return err
}

func (s *Store) List(ctx context.Context, tripID types.ID, limit int) ([]Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, trip_id, sender_id, kind, content, created_at
		FROM chat_messages
		WHERE trip_id = $1
		ORDER BY created_at, id
		LIMIT $2`, string(tripID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var sender *string
		var kind string
		if err := rows.Scan(&m.ID, &m.TripID, &sender, &kind, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		if sender != nil {
			id := types.ID(*sender)
			m.SenderID = &id
		}
		m.Kind = Kind(kind)
		out = append(out, m)
	}
	return out, rows.Err()
}
