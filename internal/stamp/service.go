package stamp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultTTL is how long a request stays pending before the reaper expires it.
const DefaultTTL = 5 * time.Minute

// Transition mutates a pending request (and possibly its card) inside the
// store's transaction. It returns whether the card must be persisted.
type Transition func(req *Request, card *Card, threshold int) (touchCard bool, err error)

// Store is the durable side of the state machine. Implementations must run
// Decide atomically and only commit when the request is still pending.
type Store interface {
	CreateRequest(ctx context.Context, req *Request) (superseded int64, err error)
	FindPending(ctx context.Context, shopID, customerID string) (*Request, error)
	Decide(ctx context.Context, id string, fn Transition) (*Request, *Card, error)
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

// IDFunc generates request identifiers.
type IDFunc func() string

// Service drives stamp requests through pending -> approved|rejected|expired.
type Service struct {
	store Store
	clock clockwork.Clock
	ttl   time.Duration
	newID IDFunc
	log   *slog.Logger
}

// NewService creates a Service. A zero ttl selects DefaultTTL.
func NewService(store Store, clk clockwork.Clock, ttl time.Duration, newID IDFunc, log *slog.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &Service{
		store: store,
		clock: clk,
		ttl:   ttl,
		newID: newID,
		log:   log,
	}
}

// Approval is the outcome of an approve transition.
type Approval struct {
	Request  *Request
	Card     *Card
	Redeemed bool
}

// Create expires any pending request for the pair and inserts a new one.
func (s *Service) Create(ctx context.Context, shopID, customerID string, redeem bool) (*Request, error) {
	now := s.clock.Now().UTC()
	expiresAt := now.Add(s.ttl)
	req := &Request{
		ID:         s.newID(),
		ShopID:     shopID,
		CustomerID: customerID,
		Status:     StatusPending,
		Redeem:     redeem,
		CreatedAt:  now,
		UpdatedAt:  now,
		ExpiresAt:  &expiresAt,
	}

	superseded, err := s.store.CreateRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create stamp request: %w", err)
	}
	if superseded > 0 {
		s.log.Info("superseded pending requests", "shop_id", shopID, "customer_id", customerID, "count", superseded)
	}
	s.log.Info("stamp request created", "request_id", req.ID, "shop_id", shopID, "redeem", redeem)
	return req, nil
}

// Pending returns the live pending request for the pair.
func (s *Service) Pending(ctx context.Context, shopID, customerID string) (*Request, error) {
	return s.store.FindPending(ctx, shopID, customerID)
}

// Approve settles a pending request, awarding stamps and honouring redeem
// when the card has reached its threshold.
func (s *Service) Approve(ctx context.Context, id string, awarded int, redeem bool) (*Approval, error) {
	if awarded < 0 {
		return nil, ErrInvalidAward
	}

	now := s.clock.Now().UTC()
	var redeemed bool
	req, card, err := s.store.Decide(ctx, id, func(req *Request, card *Card, threshold int) (bool, error) {
		if req.Status != StatusPending {
			return false, ErrNotPending
		}
		req.Status = StatusApproved
		req.ExpiresAt = nil
		req.UpdatedAt = now
		req.StampsAwarded = &awarded
		redeemed = ApplyApproval(card, threshold, awarded, redeem)
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("stamp request approved",
		"request_id", id,
		"awarded", awarded,
		"redeemed", redeemed,
		"stamps", card.Stamps,
	)
	return &Approval{Request: req, Card: card, Redeemed: redeemed}, nil
}

// Reject settles a pending request without touching the card.
func (s *Service) Reject(ctx context.Context, id string) (*Request, error) {
	now := s.clock.Now().UTC()
	req, _, err := s.store.Decide(ctx, id, func(req *Request, _ *Card, _ int) (bool, error) {
		if req.Status != StatusPending {
			return false, ErrNotPending
		}
		req.Status = StatusRejected
		req.ExpiresAt = nil
		req.UpdatedAt = now
		return false, nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("stamp request rejected", "request_id", id)
	return req, nil
}

// Decision is a merchant verdict as received over HTTP.
type Decision struct {
	Status        Status
	StampsAwarded int
	Redeem        bool
}

// Decide dispatches a Decision to Approve or Reject. The Approval is nil
// for rejections.
func (s *Service) Decide(ctx context.Context, id string, d Decision) (*Request, *Approval, error) {
	switch d.Status {
	case StatusApproved:
		a, err := s.Approve(ctx, id, d.StampsAwarded, d.Redeem)
		if err != nil {
			return nil, nil, err
		}
		return a.Request, a, nil
	case StatusRejected:
		req, err := s.Reject(ctx, id)
		return req, nil, err
	default:
		return nil, nil, ErrInvalidStatus
	}
}

// ExpireStale moves every pending request past its expiry to expired.
func (s *Service) ExpireStale(ctx context.Context) (int64, error) {
	n, err := s.store.ExpireStale(ctx, s.clock.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("expire stale requests: %w", err)
	}
	return n, nil
}
