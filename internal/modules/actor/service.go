// README: Actor service: registration, availability and candidate eligibility.
package actor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"diomy/internal/modules/pricing"
	"diomy/internal/modules/reliability"
	"diomy/internal/types"
)

var (
	ErrNotFound          = errors.New("actor not found")
	ErrBadRequest        = errors.New("bad request")
	ErrNotProvider       = errors.New("actor is not a provider")
	ErrNotValidated      = errors.New("provider documents not validated")
	ErrInsufficientFunds = errors.New("prepaid balance below minimum commission")
)

type Repository interface {
	Upsert(ctx context.Context, a *Actor) error
	Get(ctx context.Context, id types.ID) (*Actor, error)
	SetOnline(ctx context.Context, id types.ID, online bool) error
	SetPushToken(ctx context.Context, id types.ID, token string) error
	SetValidated(ctx context.Context, id types.ID) error
	Eligible(ctx context.Context, ids []types.ID, minBalance int64) (map[types.ID]bool, error)
}

// CandidateIndex is the geo index of online providers.
type CandidateIndex interface {
	RemoveCandidate(ctx context.Context, providerID types.ID) error
}

type Service struct {
	store Repository
	index CandidateIndex
	log   *slog.Logger
}

func NewService(store Repository, index CandidateIndex, log *slog.Logger) *Service {
	return &Service{store: store, index: index, log: log}
}

type RegisterCommand struct {
	ID          types.ID
	Role        types.Role
	DisplayName string
	Phone       string
}

func (s *Service) Register(ctx context.Context, cmd RegisterCommand) (*Actor, error) {
	name := strings.TrimSpace(cmd.DisplayName)
	if cmd.ID == "" || name == "" {
		return nil, ErrBadRequest
	}
	if cmd.Role != types.RoleRequester && cmd.Role != types.RoleProvider {
		return nil, ErrBadRequest
	}
	existing, err := s.store.Get(ctx, cmd.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if existing != nil && existing.Role != cmd.Role {
		return nil, fmt.Errorf("%w: role cannot change", ErrBadRequest)
	}
	a := &Actor{
		ID:               cmd.ID,
		Role:             cmd.Role,
		DisplayName:      name,
		Phone:            strings.TrimSpace(cmd.Phone),
		ReliabilityScore: reliability.InitialScore,
		CreatedAt:        time.Now(),
	}
	if err := s.store.Upsert(ctx, a); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, cmd.ID)
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Actor, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) PublicProfile(ctx context.Context, id types.ID) (Profile, error) {
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	return a.Profile(), nil
}

// MinOnlineBalance is the smallest commission any trip can produce.
func MinOnlineBalance() int64 {
	calc := pricing.NewCalculator()
	lo, _ := calc.MinCommission(types.ServiceTransport)
	if d, err := calc.MinCommission(types.ServiceDelivery); err == nil && d < lo {
		lo = d
	}
	return lo
}

func (s *Service) GoOnline(ctx context.Context, id types.ID) error {
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !a.IsProvider() {
		return ErrNotProvider
	}
	if !a.Validated {
		return ErrNotValidated
	}
	if a.PrepaidBalance < MinOnlineBalance() {
		return ErrInsufficientFunds
	}
	return s.store.SetOnline(ctx, id, true)
}

func (s *Service) GoOffline(ctx context.Context, id types.ID) error {
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !a.IsProvider() {
		return ErrNotProvider
	}
	if err := s.store.SetOnline(ctx, id, false); err != nil {
		return err
	}
	if s.index != nil {
		if err := s.index.RemoveCandidate(ctx, id); err != nil {
			s.log.Warn("remove candidate from index", "provider_id", id, "err", err)
		}
	}
	return nil
}

func (s *Service) SetPushToken(ctx context.Context, id types.ID, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrBadRequest
	}
	return s.store.SetPushToken(ctx, id, token)
}

// Validate marks a provider's documents as verified.
func (s *Service) Validate(ctx context.Context, id types.ID) error {
	return s.store.SetValidated(ctx, id)
}

// Eligible filters ids down to providers that may receive an offer, keeping
// the input order.
func (s *Service) Eligible(ctx context.Context, ids []types.ID, minBalance int64) ([]types.ID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ok, err := s.store.Eligible(ctx, ids, minBalance)
	if err != nil {
		return nil, fmt.Errorf("actor.Eligible: %w", err)
	}
	out := make([]types.ID, 0, len(ok))
	for _, id := range ids {
		if ok[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

// PushToken returns the device token registered by the actor, if any.
func (s *Service) PushToken(ctx context.Context, id types.ID) (string, error) {
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return a.PushToken, nil
}
