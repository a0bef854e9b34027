package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"diomy/internal/logging"
	"diomy/internal/modules/feed"
	"diomy/internal/modules/trip"
	"diomy/internal/types"
)

type memStore struct{ msgs []Message }

func (m *memStore) Append(_ context.Context, msg *Message) error {
	m.msgs = append(m.msgs, *msg)
	return nil
}

func (m *memStore) List(_ context.Context, tripID types.ID, limit int) ([]Message, error) {
	var out []Message
	for _, msg := range m.msgs {
		if msg.TripID == tripID {
			out = append(out, msg)
		}
	}
	return out, nil
}

type tripMap map[types.ID]*trip.Trip

func (m tripMap) Get(_ context.Context, id types.ID) (*trip.Trip, error) {
	t, ok := m[id]
	if !ok {
		return nil, trip.ErrNotFound
	}
	return t, nil
}

type countingFeed struct{ to map[types.ID]int }

func (c *countingFeed) Publish(_ context.Context, r types.ID, ev feed.ChangeEvent) error {
	if ev.Table != feed.TableChatMessages {
		return errors.New("wrong table")
	}
	c.to[r]++
	return nil
}

func newTestService() (*Service, *memStore, *countingFeed) {
	prov := types.ID("prov")
	cand := types.ID("cand")
	trips := tripMap{
		"t1": {ID: "t1", RequesterID: "req", ProviderID: &prov, Status: trip.StatusAccepted},
		"t2": {ID: "t2", RequesterID: "req", CandidateID: &cand, Status: trip.StatusPending},
	}
	store := &memStore{}
	f := &countingFeed{to: map[types.ID]int{}}
	return NewService(store, trips, f, logging.Nop()), store, f
}

func TestPost(t *testing.T) {
	svc, store, f := newTestService()
	ctx := context.Background()

	msg, err := svc.Post(ctx, "t1", "req", "  I'm at the gate ")
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if msg.Content != "I'm at the gate" || msg.Kind != KindUser || *msg.SenderID != "req" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if f.to["req"] != 1 || f.to["prov"] != 1 {
		t.Fatalf("expected fan-out to both parties, got %v", f.to)
	}

	cases := []struct {
		trip    types.ID
		sender  types.ID
		content string
		want    error
	}{
		{"t1", "req", "   ", ErrEmpty},
		{"t1", "req", strings.Repeat("a", MaxContentLength+1), ErrTooLong},
		{"t1", "stranger", "hi", ErrNotParty},
		{"t2", "cand", "hi", ErrNotParty},
		{"nope", "req", "hi", trip.ErrNotFound},
	}
	for _, tc := range cases {
		if _, err := svc.Post(ctx, tc.trip, tc.sender, tc.content); !errors.Is(err, tc.want) {
			t.Errorf("Post(%s,%s) = %v, want %v", tc.trip, tc.sender, err, tc.want)
		}
	}
	if len(store.msgs) != 1 {
		t.Fatalf("rejected posts must not be stored, have %d", len(store.msgs))
	}
}

func TestPostSystemAndList(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	if err := svc.PostSystem(ctx, "t1", "Trip started."); err != nil {
		t.Fatalf("system: %v", err)
	}
	msgs, err := svc.List(ctx, "t1", "prov")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Kind != KindSystem || msgs[0].SenderID != nil {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
	if _, err := svc.List(ctx, "t1", "stranger"); !errors.Is(err, ErrNotParty) {
		t.Fatalf("expected ErrNotParty, got %v", err)
	}
}
