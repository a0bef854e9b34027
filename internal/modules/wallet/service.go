// README: Wallet service: manual top-up requests, ops confirmation and earnings.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"diomy/internal/types"
)

var (
	ErrNotFound   = errors.New("transaction not found")
	ErrNotPending = errors.New("transaction is not pending")
	ErrBadRequest = errors.New("bad request")
)

const (
	MinTopUp = 100
	MaxTopUp = 500_000

	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

type Repository interface {
	Insert(ctx context.Context, t *Transaction) error
	Get(ctx context.Context, id types.ID) (*Transaction, error)
	Confirm(ctx context.Context, id types.ID) (*Transaction, error)
	Reject(ctx context.Context, id types.ID) (*Transaction, error)
	History(ctx context.Context, actorID types.ID, limit int) ([]Transaction, error)
	Summary(ctx context.Context, actorID types.ID) (Summary, error)
}

type Service struct {
	store Repository
	log   *slog.Logger
}

func NewService(store Repository, log *slog.Logger) *Service {
	return &Service{store: store, log: log}
}

// RequestTopUp records a pending recharge. Funds are credited only once an
// operator confirms the mobile money transfer.
func (s *Service) RequestTopUp(ctx context.Context, actorID types.ID, amount int64, method string) (*Transaction, error) {
	if actorID == "" || amount < MinTopUp || amount > MaxTopUp {
		return nil, fmt.Errorf("%w: amount must be between %d and %d", ErrBadRequest, MinTopUp, MaxTopUp)
	}
	if !validMethod(method) {
		return nil, fmt.Errorf("%w: unknown method %q", ErrBadRequest, method)
	}
	t := &Transaction{
		ID:          types.ID(uuid.NewString()),
		ActorID:     actorID,
		Kind:        KindRecharge,
		Amount:      amount,
		Status:      StatusPending,
		Method:      method,
		Description: "Recharge via " + method,
		CreatedAt:   time.Now(),
	}
	if err := s.store.Insert(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) ConfirmTopUp(ctx context.Context, id types.ID) (*Transaction, error) {
	t, err := s.store.Confirm(ctx, id)
	if err != nil {
		return nil, err
	}
	s.log.Info("top-up confirmed", "tx_id", t.ID, "actor_id", t.ActorID, "amount", t.Amount)
	return t, nil
}

func (s *Service) RejectTopUp(ctx context.Context, id types.ID) (*Transaction, error) {
	t, err := s.store.Reject(ctx, id)
	if err != nil {
		return nil, err
	}
	s.log.Info("top-up rejected", "tx_id", t.ID, "actor_id", t.ActorID)
	return t, nil
}

func (s *Service) History(ctx context.Context, actorID types.ID, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return s.store.History(ctx, actorID, limit)
}

func (s *Service) Summary(ctx context.Context, actorID types.ID) (Summary, error) {
	return s.store.Summary(ctx, actorID)
}
