// README: Trip store backed by PostgreSQL. Every write is a compare-and-set on
// status_version; completion shares one transaction with the commission debit,
// and cancellation and rating share one with the reliability adjustment.
package trip

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"diomy/internal/modules/reliability"
	"diomy/internal/types"
)

// CommissionLedger debits a provider inside the finalize transaction and
// returns the balance left.
type CommissionLedger interface {
	DebitCommission(ctx context.Context, tx pgx.Tx, providerID, tripID types.ID, amount int64) (int64, error)
}

// ScoreLedger rewrites an actor's reliability score inside the caller's
// transaction and returns the stored value.
type ScoreLedger interface {
	AdjustScore(ctx context.Context, tx pgx.Tx, actorID types.ID, fn func(old int) int) (int, error)
}

type Store struct {
	db     *pgxpool.Pool
	ledger CommissionLedger
	scores ScoreLedger
}

func NewStore(db *pgxpool.Pool, ledger CommissionLedger, scores ScoreLedger) *Store {
	return &Store{db: db, ledger: ledger, scores: scores}
}

const uniqueViolation = "23505"

const tripColumns = `id, service_type, status, status_version,
	requester_id, provider_id, candidate_id,
	pickup_lat, pickup_lng, dropoff_lat, dropoff_lng, destination_label,
	estimated_price, estimated_distance_m, price, commission_amount, currency,
	package_size, verification_code,
	traveled_distance_m, waiting_seconds, paused_at,
	arrived_at, proximity_notified_at,
	rating_by_requester, rating_by_provider,
	cancelled_by, cancel_reason,
	created_at, offered_at, accepted_at, started_at, completed_at, cancelled_at`

func (s *Store) Create(ctx context.Context, t *Trip) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO trips (
			id, service_type, status, status_version,
			requester_id, provider_id, candidate_id,
			pickup_lat, pickup_lng, dropoff_lat, dropoff_lng, destination_label,
			estimated_price, estimated_distance_m, currency,
			package_size, verification_code,
			created_at, offered_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7,
			$8, $9, $10, $11, $12,
			$13, $14, $15,
			$16, $17,
			$18, $19
		)`,
		string(t.ID), string(t.ServiceType), string(t.Status), t.StatusVersion,
		string(t.RequesterID), idPtr(t.ProviderID), idPtr(t.CandidateID),
		t.Pickup.Lat, t.Pickup.Lng, t.Dropoff.Lat, t.Dropoff.Lng, t.DestinationLabel,
		t.EstimatedPrice, t.EstimatedDistanceM, t.Currency,
		nullString(string(t.PackageSize)), nullString(t.VerificationCode),
		t.CreatedAt, t.OfferedAt,
	)
	return mapWriteErr(err)
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Trip, error) {
	row := s.db.QueryRow(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = $1`, string(id))
	t, err := scanTrip(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

func (s *Store) Update(ctx context.Context, t *Trip, version int) (bool, error) {
	tag, err := updateTrip(ctx, s.db, t, version)
	if err != nil {
		return false, mapWriteErr(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) Complete(ctx context.Context, t *Trip, version int) (int64, bool, error) {
	if t.ProviderID == nil || t.CommissionAmount == nil {
		return 0, false, fmt.Errorf("complete trip %s: provider and commission required", t.ID)
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, false, err
	}
	defer tx.Rollback(ctx)

	tag, err := updateTrip(ctx, tx, t, version)
	if err != nil {
		return 0, false, mapWriteErr(err)
	}
	if tag.RowsAffected() != 1 {
		return 0, false, nil
	}
	balance, err := s.ledger.DebitCommission(ctx, tx, *t.ProviderID, t.ID, *t.CommissionAmount)
	if err != nil {
		return 0, false, fmt.Errorf("debit commission: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, false, fmt.Errorf("commit finalize: %w", err)
	}
	return balance, true, nil
}

func (s *Store) AppendEvent(ctx context.Context, e *Event) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO trip_state_events (
			trip_id, from_status, to_status, actor_type, actor_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)`,
		string(e.TripID),
		string(e.FromStatus),
		string(e.ToStatus),
		e.ActorType,
		idPtr(e.ActorID),
		e.CreatedAt,
	)
	return err
}

func (s *Store) ListEvents(ctx context.Context, tripID types.ID) ([]Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, trip_id, from_status, to_status, actor_type, actor_id, created_at
		FROM trip_state_events
		WHERE trip_id = $1
		ORDER BY id`, string(tripID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var from, to string
		var actorID *string
		if err := rows.Scan(&e.ID, &e.TripID, &from, &to, &e.ActorType, &actorID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.FromStatus, e.ToStatus = Status(from), Status(to)
		e.ActorID = toID(actorID)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) HasActiveByRequester(ctx context.Context, requesterID types.ID) (bool, error) {
	row := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM trips
			WHERE requester_id = $1
			  AND status IN ('pending','accepted','in_progress')
		)`, string(requesterID),
	)
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// ActiveFor finds the non-terminal trip where actorID is requester, provider
// or the candidate of a pending offer.
func (s *Store) ActiveFor(ctx context.Context, actorID types.ID) (*Trip, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+tripColumns+` FROM trips
		WHERE (requester_id = $1 OR provider_id = $1 OR candidate_id = $1)
		  AND status IN ('pending','accepted','in_progress')
		ORDER BY created_at DESC
		LIMIT 1`, string(actorID))
	t, err := scanTrip(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

func (s *Store) LastEndedFor(ctx context.Context, actorID types.ID, since time.Time) (*Trip, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+tripColumns+` FROM trips
		WHERE (requester_id = $1 OR provider_id = $1)
		  AND status IN ('completed','cancelled')
		  AND COALESCE(completed_at, cancelled_at) > $2
		ORDER BY COALESCE(completed_at, cancelled_at) DESC
		LIMIT 1`, string(actorID), since)
	t, err := scanTrip(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

func (s *Store) ActiveForProvider(ctx context.Context, providerID types.ID) (*Trip, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+tripColumns+` FROM trips
		WHERE provider_id = $1
		  AND status IN ('accepted','in_progress')
		LIMIT 1`, string(providerID))
	t, err := scanTrip(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

func (s *Store) History(ctx context.Context, actorID types.ID, limit int) ([]Trip, error) {
	return s.list(ctx, `
		SELECT `+tripColumns+` FROM trips
		WHERE (requester_id = $1 OR provider_id = $1)
		  AND status IN ('completed','cancelled')
		ORDER BY created_at DESC
		LIMIT $2`, string(actorID), limit)
}

func (s *Store) ListExpiredOffers(ctx context.Context, offeredBefore time.Time, limit int) ([]Trip, error) {
	return s.list(ctx, `
		SELECT `+tripColumns+` FROM trips
		WHERE status = 'pending'
		  AND candidate_id IS NOT NULL
		  AND offered_at < $1
		ORDER BY offered_at
		LIMIT $2`, offeredBefore, limit)
}

// MarkArrived sets arrived_at once, while the trip is accepted.
func (s *Store) MarkArrived(ctx context.Context, id types.ID, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE trips SET arrived_at = $2
		WHERE id = $1 AND status = 'accepted' AND arrived_at IS NULL`, string(id), at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkProximityNotified sets proximity_notified_at once, for in-progress deliveries.
func (s *Store) MarkProximityNotified(ctx context.Context, id types.ID, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE trips SET proximity_notified_at = $2
		WHERE id = $1
		  AND status = 'in_progress'
		  AND service_type = 'delivery'
		  AND proximity_notified_at IS NULL`, string(id), at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) AddTraveledDistance(ctx context.Context, id types.ID, meters int64) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE trips SET traveled_distance_m = traveled_distance_m + $2
		WHERE id = $1 AND status = 'in_progress'`, string(id), meters)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) SetRating(ctx context.Context, id types.ID, rater types.Role, stars int, change ScoreChange) (bool, error) {
	var sql string
	switch rater {
	case types.RoleRequester:
		sql = `UPDATE trips SET rating_by_requester = $2
			WHERE id = $1 AND status = 'completed' AND rating_by_requester IS NULL`
	case types.RoleProvider:
		sql = `UPDATE trips SET rating_by_provider = $2
			WHERE id = $1 AND status = 'completed' AND rating_by_provider IS NULL`
	default:
		return false, ErrBadRequest
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, sql, string(id), stars)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}
	if err := s.adjust(ctx, tx, change); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit rating: %w", err)
	}
	return true, nil
}

// Cancel is Update plus the optional late-cancellation penalty, in one
// transaction.
func (s *Store) Cancel(ctx context.Context, t *Trip, version int, penalty *ScoreChange) (bool, error) {
	if penalty == nil {
		return s.Update(ctx, t, version)
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := updateTrip(ctx, tx, t, version)
	if err != nil {
		return false, mapWriteErr(err)
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}
	if err := s.adjust(ctx, tx, *penalty); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit cancel: %w", err)
	}
	return true, nil
}

func (s *Store) adjust(ctx context.Context, tx pgx.Tx, change ScoreChange) error {
	if s.scores == nil {
		return errors.New("no score ledger configured")
	}
	_, err := s.scores.AdjustScore(ctx, tx, change.ActorID, func(old int) int {
		return reliability.Apply(old, change.Event)
	})
	if err != nil {
		return fmt.Errorf("adjust score of %s: %w", change.ActorID, err)
	}
	return nil
}

func (s *Store) list(ctx context.Context, sql string, args ...any) ([]Trip, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func updateTrip(ctx context.Context, db execer, t *Trip, version int) (pgconn.CommandTag, error) {
	return db.Exec(ctx, `
		UPDATE trips
		SET status = $3,
		    status_version = status_version + 1,
		    provider_id = $4,
		    candidate_id = $5,
		    price = $6,
		    commission_amount = $7,
		    waiting_seconds = $8,
		    paused_at = $9,
		    cancelled_by = $10,
		    cancel_reason = $11,
		    offered_at = $12,
		    accepted_at = $13,
		    started_at = $14,
		    completed_at = $15,
		    cancelled_at = $16
		WHERE id = $1 AND status_version = $2`,
		string(t.ID), version,
		string(t.Status),
		idPtr(t.ProviderID), idPtr(t.CandidateID),
		t.Price, t.CommissionAmount,
		t.WaitingSeconds, t.PausedAt,
		t.CancelledBy, t.CancelReason,
		t.OfferedAt, t.AcceptedAt, t.StartedAt, t.CompletedAt, t.CancelledAt,
	)
}

func scanTrip(row pgx.Row) (*Trip, error) {
	var t Trip
	var serviceType, status string
	var providerID, candidateID, packageSize, code *string

	err := row.Scan(
		&t.ID, &serviceType, &status, &t.StatusVersion,
		&t.RequesterID, &providerID, &candidateID,
		&t.Pickup.Lat, &t.Pickup.Lng, &t.Dropoff.Lat, &t.Dropoff.Lng, &t.DestinationLabel,
		&t.EstimatedPrice, &t.EstimatedDistanceM, &t.Price, &t.CommissionAmount, &t.Currency,
		&packageSize, &code,
		&t.TraveledDistanceM, &t.WaitingSeconds, &t.PausedAt,
		&t.ArrivedAt, &t.ProximityNotifiedAt,
		&t.RatingByRequester, &t.RatingByProvider,
		&t.CancelledBy, &t.CancelReason,
		&t.CreatedAt, &t.OfferedAt, &t.AcceptedAt, &t.StartedAt, &t.CompletedAt, &t.CancelledAt,
	)
	if err != nil {
		return nil, err
	}
	t.ServiceType = types.ServiceType(serviceType)
	t.Status = Status(status)
	t.ProviderID = toID(providerID)
	t.CandidateID = toID(candidateID)
	if packageSize != nil {
		t.PackageSize = types.PackageSize(*packageSize)
	}
	if code != nil {
		t.VerificationCode = *code
	}
	return &t, nil
}

// mapWriteErr turns the one-active-trip unique indexes into ErrActiveTrip.
func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrActiveTrip, pgErr.ConstraintName)
	}
	return err
}

func idPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func toID(v *string) *types.ID {
	if v == nil {
		return nil
	}
	id := types.ID(*v)
	return &id
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
