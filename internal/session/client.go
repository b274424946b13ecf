package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/brewstamp/brewstamp/internal/relay"
)

// DefaultBackoff is the pause between reconnect attempts.
const DefaultBackoff = 2 * time.Second

// ErrNotConnected is returned by Wait when no connection opened in time.
var ErrNotConnected = errors.New("relay not connected")

// Handler receives the raw JSON of a message of the subscribed type.
type Handler func(raw []byte)

// Transport is what the customer and merchant flows need from a client.
type Transport interface {
	Send(msg any) bool
	Subscribe(msgType string, h Handler) (unsubscribe func())
}

// Config configures a Client.
type Config struct {
	// URL is the relay endpoint, e.g. ws://localhost:3000/_ws.
	URL      string
	Identity relay.Identity
	Backoff  time.Duration
	Dialer   *websocket.Dialer
	Clock    clockwork.Clock
}

type subscription struct {
	handler Handler
}

// Client keeps one logical relay connection open for a participant,
// reconnecting after unexpected closes until Stop is called.
type Client struct {
	cfg Config
	url string
	log *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	ready   chan struct{} // closed while conn is set
	cancel  context.CancelFunc
	done    chan struct{}
	writeMu sync.Mutex

	subsMu sync.Mutex
	subs   map[string][]*subscription

	dials atomic.Int64
}

// NewClient creates a stopped client.
func NewClient(cfg Config, log *slog.Logger) *Client {
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	u := cfg.URL
	if strings.Contains(u, "?") {
		u += "&"
	} else {
		u += "?"
	}
	u += cfg.Identity.Query().Encode()

	return &Client{
		cfg:   cfg,
		url:   u,
		log:   log,
		ready: make(chan struct{}),
		subs:  make(map[string][]*subscription),
	}
}

// Start launches the connection loop. Calling Start on a running client
// does nothing.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(ctx, c.done)
}

// Stop tears the connection down and waits for the loop to exit. No
// reconnect is attempted afterwards.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel, done, conn := c.cancel, c.done, c.conn
	c.cancel = nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if conn != nil {
		c.writeMu.Lock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		conn.Close()
	}
	<-done
}

// Connected reports whether a transport connection is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Wait blocks until a connection is open or ctx is done.
func (c *Client) Wait(ctx context.Context) error {
	c.mu.Lock()
	ready := c.ready
	c.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrNotConnected, ctx.Err())
	}
}

// Dials returns how many connection attempts have been made.
func (c *Client) Dials() int64 { return c.dials.Load() }

// Send marshals msg and writes it. It is a no-op returning false when no
// connection is open; messages are never queued.
func (c *Client) Send(msg any) bool {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return false
	}

	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Warn("marshal relay message", "error", err)
		return false
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.log.Debug("relay send failed", "error", err)
		return false
	}
	return true
}

// Subscribe registers h for msgType. Handlers run in registration order on
// the client's read goroutine. The returned func removes exactly this
// registration.
func (c *Client) Subscribe(msgType string, h Handler) func() {
	sub := &subscription{handler: h}

	c.subsMu.Lock()
	c.subs[msgType] = append(c.subs[msgType], sub)
	c.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subsMu.Lock()
			defer c.subsMu.Unlock()
			list := c.subs[msgType]
			for i, s := range list {
				if s == sub {
					c.subs[msgType] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
			if len(c.subs[msgType]) == 0 {
				delete(c.subs, msgType)
			}
		})
	}
}

func (c *Client) dispatch(msgType string, raw []byte) {
	c.subsMu.Lock()
	list := append([]*subscription(nil), c.subs[msgType]...)
	c.subsMu.Unlock()

	for _, s := range list {
		s.handler(raw)
	}
}

func (c *Client) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		c.dials.Add(1)
		conn, _, err := c.cfg.Dialer.DialContext(ctx, c.url, nil)
		if err == nil {
			if c.attach(ctx, conn) {
				c.readLoop(conn)
				c.detach()
			}
		} else if ctx.Err() == nil {
			c.log.Debug("relay dial failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-c.cfg.Clock.After(c.cfg.Backoff):
		}
	}
}

// attach publishes conn unless the client was stopped while dialling.
func (c *Client) attach(ctx context.Context, conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil {
		conn.Close()
		return false
	}
	c.conn = conn
	close(c.ready)
	return true
}

func (c *Client) detach() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	if conn != nil {
		c.ready = make(chan struct{})
	}
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env, ok := relay.ParseEnvelope(raw)
		if !ok {
			continue
		}
		c.dispatch(env.Type, raw)
	}
}
