package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/brewstamp/brewstamp/internal/relay"
	"github.com/brewstamp/brewstamp/internal/stamp"
)

// DefaultWaitTimeout is how long a customer waits for a verdict before
// giving up locally.
const DefaultWaitTimeout = 3 * time.Minute

// CustomerState is the phase of the customer flow.
type CustomerState string

const (
	CustomerIdle       CustomerState = "idle"
	CustomerRequesting CustomerState = "requesting"
	CustomerWaiting    CustomerState = "waiting"
)

// CustomerConfig identifies the customer and their card.
type CustomerConfig struct {
	ShopID     string
	CustomerID string
	Name       string
	Timeout    time.Duration
}

// CustomerEvents are called outside the controller's lock.
type CustomerEvents struct {
	OnApproved func(relay.RequestApproved)
	OnRejected func(relay.RequestRejected)
	OnTimeout  func(requestID string)
}

// Customer drives one customer's request/wait cycle.
type Customer struct {
	transport Transport
	api       API
	clock     clockwork.Clock
	cfg       CustomerConfig
	events    CustomerEvents
	log       *slog.Logger

	mu        sync.Mutex
	state     CustomerState
	requestID string
	timer     clockwork.Timer
	gen       uint64

	unsub []func()
}

// NewCustomer subscribes to verdicts on t.
func NewCustomer(t Transport, api API, clk clockwork.Clock, cfg CustomerConfig, events CustomerEvents, log *slog.Logger) *Customer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultWaitTimeout
	}
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	c := &Customer{
		transport: t,
		api:       api,
		clock:     clk,
		cfg:       cfg,
		events:    events,
		log:       log,
		state:     CustomerIdle,
	}
	c.unsub = []func(){
		t.Subscribe(relay.TypeRequestApproved, c.onApproved),
		t.Subscribe(relay.TypeRequestRejected, c.onRejected),
	}
	return c
}

// State returns the current phase.
func (c *Customer) State() CustomerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RequestID returns the request being waited on, if any.
func (c *Customer) RequestID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requestID
}

// Request creates a stamp request and announces it to the merchant. A
// request still awaiting a verdict is withdrawn first. stamps and threshold
// describe the card as the customer currently sees it.
func (c *Customer) Request(ctx context.Context, redeem bool, stamps, threshold int) (*stamp.Request, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == CustomerWaiting && c.requestID != "" {
		c.withdrawLocked(ctx)
	}

	c.state = CustomerRequesting
	req, err := c.api.CreateRequest(ctx, c.cfg.ShopID, c.cfg.CustomerID, redeem)
	if err != nil {
		c.state = CustomerIdle
		return nil, err
	}

	c.transport.Send(relay.RequestNew{
		Type:         relay.TypeRequestNew,
		RequestID:    req.ID,
		CustomerID:   c.cfg.CustomerID,
		CustomerName: c.cfg.Name,
		Stamps:       stamps,
		Threshold:    threshold,
		Redeem:       redeem,
	})

	c.state = CustomerWaiting
	c.requestID = req.ID
	c.gen++
	gen := c.gen
	c.timer = c.clock.AfterFunc(c.cfg.Timeout, func() { c.expire(gen) })
	return req, nil
}

// Cancel withdraws the request being waited on.
func (c *Customer) Cancel(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != CustomerWaiting {
		return
	}
	c.withdrawLocked(ctx)
	c.state = CustomerIdle
}

// Close stops listening for verdicts.
func (c *Customer) Close() {
	for _, u := range c.unsub {
		u()
	}
	c.mu.Lock()
	c.stopTimerLocked()
	c.mu.Unlock()
}

func (c *Customer) withdrawLocked(ctx context.Context) {
	prev := c.requestID
	c.stopTimerLocked()
	c.requestID = ""

	_, err := c.api.DecideRequest(ctx, prev, stamp.Decision{Status: stamp.StatusRejected})
	if err != nil && !errors.Is(err, ErrConflict) {
		c.log.Warn("withdraw request", "request_id", prev, "error", err)
	}
	c.transport.Send(relay.RequestRejected{
		Type:       relay.TypeRequestRejected,
		RequestID:  prev,
		CustomerID: c.cfg.CustomerID,
	})
}

func (c *Customer) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.gen++
}

func (c *Customer) expire(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != CustomerWaiting {
		c.mu.Unlock()
		return
	}
	id := c.requestID
	c.state = CustomerIdle
	c.requestID = ""
	c.timer = nil
	c.mu.Unlock()

	if c.events.OnTimeout != nil {
		c.events.OnTimeout(id)
	}
}

// settle leaves the waiting state if requestID is the one being waited on.
func (c *Customer) settle(requestID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != CustomerWaiting || requestID != c.requestID {
		return false
	}
	c.stopTimerLocked()
	c.state = CustomerIdle
	c.requestID = ""
	return true
}

func (c *Customer) onApproved(raw []byte) {
	var msg relay.RequestApproved
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	if !c.settle(msg.RequestID) {
		return
	}
	if c.events.OnApproved != nil {
		c.events.OnApproved(msg)
	}
}

func (c *Customer) onRejected(raw []byte) {
	var msg relay.RequestRejected
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	if !c.settle(msg.RequestID) {
		return
	}
	if c.events.OnRejected != nil {
		c.events.OnRejected(msg)
	}
}
