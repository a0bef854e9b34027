package actor

import (
	"context"
	"errors"
	"testing"

	"diomy/internal/logging"
	"diomy/internal/types"
)

type memRepo struct {
	actors map[types.ID]*Actor
	busy   map[types.ID]bool
}

func newMemRepo() *memRepo {
	return &memRepo{actors: map[types.ID]*Actor{}, busy: map[types.ID]bool{}}
}

func (m *memRepo) Upsert(_ context.Context, a *Actor) error {
	if cur, ok := m.actors[a.ID]; ok {
		cur.DisplayName = a.DisplayName
		cur.Phone = a.Phone
		return nil
	}
	cp := *a
	m.actors[a.ID] = &cp
	return nil
}

func (m *memRepo) Get(_ context.Context, id types.ID) (*Actor, error) {
	a, ok := m.actors[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memRepo) SetOnline(_ context.Context, id types.ID, online bool) error {
	a, ok := m.actors[id]
	if !ok {
		return ErrNotFound
	}
	a.Online = online
	return nil
}

func (m *memRepo) SetPushToken(_ context.Context, id types.ID, token string) error {
	a, ok := m.actors[id]
	if !ok {
		return ErrNotFound
	}
	a.PushToken = token
	return nil
}

func (m *memRepo) SetValidated(_ context.Context, id types.ID) error {
	a, ok := m.actors[id]
	if !ok || !a.IsProvider() {
		return ErrNotFound
	}
	a.Validated = true
	return nil
}

func (m *memRepo) Eligible(_ context.Context, ids []types.ID, minBalance int64) (map[types.ID]bool, error) {
	out := map[types.ID]bool{}
	for _, id := range ids {
		a, ok := m.actors[id]
		if !ok || !a.IsProvider() || !a.Online || !a.Validated || a.PrepaidBalance < minBalance || m.busy[id] {
			continue
		}
		out[id] = true
	}
	return out, nil
}

type recordingIndex struct{ removed []types.ID }

func (r *recordingIndex) RemoveCandidate(_ context.Context, id types.ID) error {
	r.removed = append(r.removed, id)
	return nil
}

func TestRegister(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil, logging.Nop())
	ctx := context.Background()

	a, err := svc.Register(ctx, RegisterCommand{ID: "u1", Role: types.RoleRequester, DisplayName: "  Awa "})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if a.ReliabilityScore != 100 || a.DisplayName != "Awa" {
		t.Fatalf("unexpected actor: %+v", a)
	}

	if _, err := svc.Register(ctx, RegisterCommand{ID: "u1", Role: types.RoleProvider, DisplayName: "Awa"}); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected role change to be rejected, got %v", err)
	}
	if _, err := svc.Register(ctx, RegisterCommand{ID: "u2", Role: types.RoleAdmin, DisplayName: "x"}); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected admin self-registration to be rejected, got %v", err)
	}
}

func TestGoOnline_Guards(t *testing.T) {
	repo := newMemRepo()
	repo.actors["req"] = &Actor{ID: "req", Role: types.RoleRequester}
	repo.actors["p-new"] = &Actor{ID: "p-new", Role: types.RoleProvider, PrepaidBalance: 1000}
	repo.actors["p-poor"] = &Actor{ID: "p-poor", Role: types.RoleProvider, Validated: true, PrepaidBalance: 10}
	repo.actors["p-ok"] = &Actor{ID: "p-ok", Role: types.RoleProvider, Validated: true, PrepaidBalance: 30}
	svc := NewService(repo, nil, logging.Nop())
	ctx := context.Background()

	cases := []struct {
		id   types.ID
		want error
	}{
		{"req", ErrNotProvider},
		{"p-new", ErrNotValidated},
		{"p-poor", ErrInsufficientFunds},
		{"p-ok", nil},
		{"ghost", ErrNotFound},
	}
	for _, tc := range cases {
		err := svc.GoOnline(ctx, tc.id)
		if !errors.Is(err, tc.want) {
			t.Errorf("GoOnline(%s) = %v, want %v", tc.id, err, tc.want)
		}
	}
	if !repo.actors["p-ok"].Online {
		t.Fatal("p-ok should be online")
	}
}

func TestGoOffline_RemovesFromIndex(t *testing.T) {
	repo := newMemRepo()
	repo.actors["p1"] = &Actor{ID: "p1", Role: types.RoleProvider, Online: true}
	idx := &recordingIndex{}
	svc := NewService(repo, idx, logging.Nop())

	if err := svc.GoOffline(context.Background(), "p1"); err != nil {
		t.Fatalf("offline: %v", err)
	}
	if repo.actors["p1"].Online {
		t.Fatal("expected provider offline")
	}
	if len(idx.removed) != 1 || idx.removed[0] != "p1" {
		t.Fatalf("expected index removal, got %v", idx.removed)
	}
}

func TestEligible_KeepsOrder(t *testing.T) {
	repo := newMemRepo()
	for _, id := range []types.ID{"a", "b", "c", "d"} {
		repo.actors[id] = &Actor{ID: id, Role: types.RoleProvider, Online: true, Validated: true, PrepaidBalance: 500}
	}
	repo.actors["b"].Online = false
	repo.busy["d"] = true
	svc := NewService(repo, nil, logging.Nop())

	got, err := svc.Eligible(context.Background(), []types.ID{"c", "b", "a", "d"}, 30)
	if err != nil {
		t.Fatalf("eligible: %v", err)
	}
	if len(got) != 2 || got[0] != "c" || got[1] != "a" {
		t.Fatalf("got %v, want [c a]", got)
	}
}

func TestMinOnlineBalance(t *testing.T) {
	if got := MinOnlineBalance(); got != 30 {
		t.Fatalf("MinOnlineBalance = %d, want 30", got)
	}
}
