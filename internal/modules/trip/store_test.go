package trip

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"diomy/internal/logging"
	"diomy/internal/modules/actor"
	"diomy/internal/modules/wallet"
	"diomy/internal/testutil"
	"diomy/internal/types"
)

func seedActors(t *testing.T, db *pgxpool.Pool) {
	t.Helper()
	_, err := db.Exec(context.Background(), `
		INSERT INTO actors (id, role, display_name, validated, online, prepaid_balance) VALUES
		('req', 'requester', 'Awa', FALSE, FALSE, 0),
		('req2', 'requester', 'Koffi', FALSE, FALSE, 0),
		('prov', 'provider', 'Moussa', TRUE, TRUE, 40),
		('prov2', 'provider', 'Ibrahim', TRUE, TRUE, 1000)`)
	if err != nil {
		t.Fatalf("seed actors: %v", err)
	}
}

func setupStoreService(t *testing.T) (*Service, *Store, *pgxpool.Pool) {
	t.Helper()
	db := testutil.OpenDB(t)
	seedActors(t, db)
	return newStoreService(t, db, actor.NewStore(db))
}

func newStoreService(t *testing.T, db *pgxpool.Pool, scores ScoreLedger) (*Service, *Store, *pgxpool.Pool) {
	t.Helper()
	store := NewStore(db, wallet.NewStore(db), scores)
	svc := NewService(store, Deps{
		Routes:      stubRoutes{err: errors.New("offline")},
		CancelGrace: 120 * time.Second,
		Log:         logging.Nop(),
	})
	return svc, store, db
}

func TestStore_LifecycleAndAtomicFinalize(t *testing.T) {
	svc, store, db := setupStoreService(t)
	ctx := context.Background()

	tr, err := svc.Create(ctx, CreateCommand{
		RequesterID: "req", CandidateID: "prov", ServiceType: types.ServiceTransport,
		Pickup: abidjanPickup, Dropoff: abidjanDropoff,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Accept(ctx, tr.ID, "prov"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if fired, err := svc.RecordArrival(ctx, tr.ID); err != nil || !fired {
		t.Fatalf("arrival: fired=%v err=%v", fired, err)
	}
	if fired, _ := svc.RecordArrival(ctx, tr.ID); fired {
		t.Fatal("arrival fired twice")
	}
	if _, err := svc.Start(ctx, tr.ID, "prov"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := svc.AddTraveledDistance(ctx, tr.ID, 2500); err != nil {
		t.Fatalf("odometer: %v", err)
	}

	done, err := svc.Complete(ctx, CompleteCommand{TripID: tr.ID, ProviderID: "prov"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if *done.Price != 350 || *done.CommissionAmount != 42 {
		t.Fatalf("price=%d commission=%d, want 350/42", *done.Price, *done.CommissionAmount)
	}

	var balance int64
	var online bool
	if err := db.QueryRow(ctx, `SELECT prepaid_balance, online FROM actors WHERE id = 'prov'`).Scan(&balance, &online); err != nil {
		t.Fatalf("read provider: %v", err)
	}
	if balance != 0 || online {
		t.Fatalf("balance=%d online=%v, want floored at 0 and offline", balance, online)
	}

	var before, after int64
	err = db.QueryRow(ctx, `
		SELECT balance_before, balance_after FROM wallet_transactions
		WHERE trip_id = $1 AND kind = 'commission'`, string(tr.ID)).Scan(&before, &after)
	if err != nil {
		t.Fatalf("read ledger: %v", err)
	}
	if before != 40 || after != 0 {
		t.Fatalf("ledger %d -> %d, want 40 -> 0", before, after)
	}

	events, err := store.ListEvents(ctx, tr.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 4 || events[3].ToStatus != StatusCompleted {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestStore_OneActiveTripPerRequester(t *testing.T) {
	svc, _, _ := setupStoreService(t)
	ctx := context.Background()

	cmd := CreateCommand{
		RequesterID: "req", CandidateID: "prov", ServiceType: types.ServiceTransport,
		Pickup: abidjanPickup, Dropoff: abidjanDropoff,
	}
	if _, err := svc.Create(ctx, cmd); err != nil {
		t.Fatalf("create: %v", err)
	}
	cmd.CandidateID = "prov2"
	if _, err := svc.Create(ctx, cmd); !errors.Is(err, ErrActiveTrip) {
		t.Fatalf("expected ErrActiveTrip, got %v", err)
	}
}

func TestStore_ConcurrentAcceptVsCancel(t *testing.T) {
	svc, store, _ := setupStoreService(t)
	ctx := context.Background()

	tr, err := svc.Create(ctx, CreateCommand{
		RequesterID: "req2", CandidateID: "prov2", ServiceType: types.ServiceDelivery,
		PackageSize: types.PackageSmall, Pickup: abidjanPickup, Dropoff: abidjanDropoff,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := svc.Accept(ctx, tr.ID, "prov2")
		errs <- err
	}()
	go func() {
		defer wg.Done()
		_, err := svc.Cancel(ctx, CancelCommand{TripID: tr.ID, ActorID: "req2"})
		errs <- err
	}()
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil && !errors.Is(err, ErrConflict) && !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	got, err := store.Get(ctx, tr.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusAccepted && got.Status != StatusCancelled {
		t.Fatalf("unexpected final status: %s", got.Status)
	}
}

type brokenScores struct{}

func (brokenScores) AdjustScore(context.Context, pgx.Tx, types.ID, func(int) int) (int, error) {
	return 0, errors.New("score table unavailable")
}

func readScore(t *testing.T, db *pgxpool.Pool, id string) int {
	t.Helper()
	var score int
	if err := db.QueryRow(context.Background(), `SELECT reliability_score FROM actors WHERE id = $1`, id).Scan(&score); err != nil {
		t.Fatalf("read score: %v", err)
	}
	return score
}

func completedTrip(t *testing.T, svc *Service) *Trip {
	t.Helper()
	ctx := context.Background()
	tr, err := svc.Create(ctx, CreateCommand{
		RequesterID: "req", CandidateID: "prov2", ServiceType: types.ServiceTransport,
		Pickup: abidjanPickup, Dropoff: abidjanDropoff,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Accept(ctx, tr.ID, "prov2"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := svc.RecordArrival(ctx, tr.ID); err != nil {
		t.Fatalf("arrival: %v", err)
	}
	if _, err := svc.Start(ctx, tr.ID, "prov2"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.Complete(ctx, CompleteCommand{TripID: tr.ID, ProviderID: "prov2"}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	return tr
}

func TestStore_RatingAndScoreCommitTogether(t *testing.T) {
	db := testutil.OpenDB(t)
	seedActors(t, db)
	ctx := context.Background()

	broken, _, _ := newStoreService(t, db, brokenScores{})
	tr := completedTrip(t, broken)
	if err := broken.Rate(ctx, tr.ID, "req", 1); err == nil {
		t.Fatal("expected the rating to fail with the score")
	}
	var rating *int
	if err := db.QueryRow(ctx, `SELECT rating_by_requester FROM trips WHERE id = $1`, string(tr.ID)).Scan(&rating); err != nil {
		t.Fatalf("read rating: %v", err)
	}
	if rating != nil {
		t.Fatalf("rating stored without its score change: %d", *rating)
	}

	svc, _, _ := newStoreService(t, db, actor.NewStore(db))
	if err := svc.Rate(ctx, tr.ID, "req", 1); err != nil {
		t.Fatalf("retry rate: %v", err)
	}
	if got := readScore(t, db, "prov2"); got != 95 {
		t.Fatalf("provider score = %d, want 95", got)
	}
	if err := svc.Rate(ctx, tr.ID, "req", 1); !errors.Is(err, ErrAlreadyRated) {
		t.Fatalf("expected ErrAlreadyRated, got %v", err)
	}
}

func TestStore_LateCancelPenaltyCommitsWithCancel(t *testing.T) {
	db := testutil.OpenDB(t)
	seedActors(t, db)
	ctx := context.Background()

	broken, store, _ := newStoreService(t, db, brokenScores{})
	broken.grace = 0
	tr, err := broken.Create(ctx, CreateCommand{
		RequesterID: "req2", CandidateID: "prov2", ServiceType: types.ServiceTransport,
		Pickup: abidjanPickup, Dropoff: abidjanDropoff,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := broken.Cancel(ctx, CancelCommand{TripID: tr.ID, ActorID: "req2"}); err == nil {
		t.Fatal("expected the cancel to fail with the penalty")
	}
	if got, _ := store.Get(ctx, tr.ID); got.Status != StatusPending {
		t.Fatalf("trip must stay pending, got %s", got.Status)
	}

	svc, _, _ := newStoreService(t, db, actor.NewStore(db))
	svc.grace = 0
	if _, err := svc.Cancel(ctx, CancelCommand{TripID: tr.ID, ActorID: "req2"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := readScore(t, db, "req2"); got != 98 {
		t.Fatalf("requester score = %d, want 98", got)
	}
}
