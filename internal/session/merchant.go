package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/brewstamp/brewstamp/internal/relay"
	"github.com/brewstamp/brewstamp/internal/stamp"
)

// ErrNoRequest is returned when the merchant has nothing to decide.
var ErrNoRequest = errors.New("no current request")

// MerchantEvents are called outside the controller's lock.
type MerchantEvents struct {
	OnRequest   func(relay.RequestNew)
	OnWithdrawn func(relay.RequestRejected)
}

// Merchant tracks the single request on a merchant's screen and relays
// decisions back to the customer.
type Merchant struct {
	transport Transport
	api       API
	events    MerchantEvents
	log       *slog.Logger

	mu      sync.Mutex
	current *relay.RequestNew

	unsub []func()
}

// NewMerchant subscribes to incoming requests and withdrawals on t.
func NewMerchant(t Transport, api API, events MerchantEvents, log *slog.Logger) *Merchant {
	m := &Merchant{
		transport: t,
		api:       api,
		events:    events,
		log:       log,
	}
	m.unsub = []func(){
		t.Subscribe(relay.TypeRequestNew, m.onRequest),
		t.Subscribe(relay.TypeRequestRejected, m.onWithdrawn),
	}
	return m
}

// Current returns a copy of the request on screen, or nil.
func (m *Merchant) Current() *relay.RequestNew {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	cp := *m.current
	return &cp
}

// Approve awards stamps for the current request and relays the new
// balance to the customer.
func (m *Merchant) Approve(ctx context.Context, awarded int, redeem bool) (*DecisionResult, error) {
	cur := m.Current()
	if cur == nil {
		return nil, ErrNoRequest
	}

	res, err := m.api.DecideRequest(ctx, cur.RequestID, stamp.Decision{
		Status:        stamp.StatusApproved,
		StampsAwarded: awarded,
		Redeem:        redeem,
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			m.clear(cur.RequestID)
		}
		return nil, err
	}

	msg := relay.RequestApproved{
		Type:          relay.TypeRequestApproved,
		RequestID:     cur.RequestID,
		CustomerID:    cur.CustomerID,
		StampsAwarded: awarded,
		Redeemed:      res.Redeemed,
	}
	if res.StampCard != nil {
		msg.NewStamps = res.StampCard.Stamps
		msg.NewTotalEarned = res.StampCard.TotalEarned
		msg.NewFreeRedeemed = res.StampCard.FreeRedeemed
	}
	m.transport.Send(msg)
	m.clear(cur.RequestID)
	return res, nil
}

// Reject declines the current request and tells the customer.
func (m *Merchant) Reject(ctx context.Context) error {
	cur := m.Current()
	if cur == nil {
		return ErrNoRequest
	}

	_, err := m.api.DecideRequest(ctx, cur.RequestID, stamp.Decision{Status: stamp.StatusRejected})
	if err != nil && !errors.Is(err, ErrConflict) {
		return err
	}
	m.sendRejected(cur)
	m.clear(cur.RequestID)
	return nil
}

// Close stops listening on the transport.
func (m *Merchant) Close() {
	for _, u := range m.unsub {
		u()
	}
}

func (m *Merchant) clear(requestID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil && m.current.RequestID == requestID {
		m.current = nil
	}
}

func (m *Merchant) sendRejected(req *relay.RequestNew) {
	m.transport.Send(relay.RequestRejected{
		Type:       relay.TypeRequestRejected,
		RequestID:  req.RequestID,
		CustomerID: req.CustomerID,
	})
}

func (m *Merchant) onRequest(raw []byte) {
	var msg relay.RequestNew
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}

	m.mu.Lock()
	prev := m.current
	m.current = &msg
	m.mu.Unlock()

	if prev != nil && prev.RequestID != msg.RequestID {
		// Only one request is shown at a time; the older one is declined.
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_, err := m.api.DecideRequest(ctx, prev.RequestID, stamp.Decision{Status: stamp.StatusRejected})
		cancel()
		if err != nil && !errors.Is(err, ErrConflict) {
			m.log.Warn("reject superseded request", "request_id", prev.RequestID, "error", err)
		}
		m.sendRejected(prev)
	}

	if m.events.OnRequest != nil {
		m.events.OnRequest(msg)
	}
}

func (m *Merchant) onWithdrawn(raw []byte) {
	var msg relay.RequestRejected
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}

	m.mu.Lock()
	withdrawn := m.current != nil && m.current.RequestID == msg.RequestID
	if withdrawn {
		m.current = nil
	}
	m.mu.Unlock()

	if withdrawn && m.events.OnWithdrawn != nil {
		m.events.OnWithdrawn(msg)
	}
}
