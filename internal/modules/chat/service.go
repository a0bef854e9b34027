// README: Chat service: party-only posting and reading, feed fan-out.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"diomy/internal/logging"
	"diomy/internal/modules/feed"
	"diomy/internal/modules/trip"
	"diomy/internal/types"
)

var (
	ErrEmpty    = errors.New("message is empty")
	ErrTooLong  = errors.New("message too long")
	ErrNotParty = errors.New("actor is not party to the trip")
)

const listLimit = 500

type Repository interface {
	Append(ctx context.Context, m *Message) error
	List(ctx context.Context, tripID types.ID, limit int) ([]Message, error)
}

// TripFinder reads the raw trip a message belongs to.
type TripFinder interface {
	Get(ctx context.Context, tripID types.ID) (*trip.Trip, error)
}

type Service struct {
	store Repository
	trips TripFinder
	feed  feed.Publisher
	log   *slog.Logger
	now   func() time.Time
}

func NewService(store Repository, trips TripFinder, pub feed.Publisher, log *slog.Logger) *Service {
	if pub == nil {
		pub = feed.Nop{}
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Service{store: store, trips: trips, feed: pub, log: log, now: time.Now}
}

func (s *Service) Post(ctx context.Context, tripID, senderID types.ID, content string) (*Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmpty
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return nil, ErrTooLong
	}
	t, err := s.trips.Get(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if _, ok := t.RoleOf(senderID); !ok {
		return nil, ErrNotParty
	}
	sender := senderID
	return s.append(ctx, t, &Message{SenderID: &sender, Kind: KindUser, Content: content})
}

// PostSystem appends a platform notice to the trip's chat.
func (s *Service) PostSystem(ctx context.Context, tripID types.ID, content string) error {
	t, err := s.trips.Get(ctx, tripID)
	if err != nil {
		return err
	}
	_, err = s.append(ctx, t, &Message{Kind: KindSystem, Content: content})
	return err
}

func (s *Service) List(ctx context.Context, tripID, viewer types.ID) ([]Message, error) {
	t, err := s.trips.Get(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if _, ok := t.RoleOf(viewer); !ok {
		return nil, ErrNotParty
	}
	return s.store.List(ctx, tripID, listLimit)
}

func (s *Service) append(ctx context.Context, t *trip.Trip, m *Message) (*Message, error) {
	m.ID = types.ID(uuid.NewString())
	m.TripID = t.ID
	m.CreatedAt = s.now()
	if err := s.store.Append(ctx, m); err != nil {
		return nil, err
	}

	ev, err := feed.NewEvent(feed.EventInsert, feed.TableChatMessages, m)
	if err != nil {
		return m, nil
	}
	recipients := []types.ID{t.RequesterID}
	if t.ProviderID != nil {
		recipients = append(recipients, *t.ProviderID)
	}
	for _, r := range recipients {
		if err := s.feed.Publish(ctx, r, ev); err != nil {
			s.log.Warn("publish chat message", "trip_id", t.ID, "recipient", r, "err", err)
		}
	}
	return m, nil
}
