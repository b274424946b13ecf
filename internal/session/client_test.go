package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/brewstamp/brewstamp/internal/relay"
)

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// closingServer accepts websocket connections and drops them immediately.
func closingServer(t *testing.T, accepted *atomic.Int64) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted.Add(1)
		conn.Close()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSubscribeOrderAndUnsubscribe(t *testing.T) {
	c := NewClient(Config{URL: "ws://unused"}, discardLogger())

	var got []string
	c.Subscribe("x", func([]byte) { got = append(got, "first") })
	unsub := c.Subscribe("x", func([]byte) { got = append(got, "second") })
	c.Subscribe("x", func([]byte) { got = append(got, "third") })
	c.Subscribe("y", func([]byte) { got = append(got, "other") })

	c.dispatch("x", []byte(`{"type":"x"}`))
	if strings.Join(got, ",") != "first,second,third" {
		t.Fatalf("order = %v", got)
	}

	got = nil
	unsub()
	unsub()
	c.dispatch("x", []byte(`{"type":"x"}`))
	if strings.Join(got, ",") != "first,third" {
		t.Fatalf("after unsubscribe = %v", got)
	}
}

func TestUnsubscribeRemovesOnlyOwnRegistration(t *testing.T) {
	c := NewClient(Config{URL: "ws://unused"}, discardLogger())

	calls := 0
	h := func([]byte) { calls++ }
	unsubA := c.Subscribe("x", h)
	c.Subscribe("x", h)

	unsubA()
	c.dispatch("x", nil)
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestSendWithoutConnectionIsNoop(t *testing.T) {
	c := NewClient(Config{URL: "ws://unused"}, discardLogger())
	if c.Send(relay.RequestRejected{Type: relay.TypeRequestRejected}) {
		t.Fatal("Send succeeded with no connection")
	}
	if c.Connected() {
		t.Fatal("Connected before Start")
	}
}

func TestClientReconnectsAfterBackoff(t *testing.T) {
	var accepted atomic.Int64
	srv := closingServer(t, &accepted)
	fake := clockwork.NewFakeClockAt(time.Unix(0, 0))

	c := NewClient(Config{
		URL:      wsURL(srv),
		Identity: relay.Identity{ShopCode: "shop", Role: relay.RoleMerchant},
		Clock:    fake,
	}, discardLogger())
	c.Start(context.Background())
	defer c.Stop()

	for attempt := int64(1); attempt <= 3; attempt++ {
		blockUntilTimers(t, fake, 1)
		if got := c.Dials(); got != attempt {
			t.Fatalf("dials = %d, want %d", got, attempt)
		}
		fake.Advance(time.Second)
		if got := c.Dials(); got != attempt {
			t.Fatalf("reconnected before backoff elapsed: dials = %d", got)
		}
		fake.Advance(DefaultBackoff - time.Second)
	}
	waitUntil(t, "fourth dial", func() bool { return c.Dials() == 4 })
}

func TestClientStopPreventsReconnect(t *testing.T) {
	var accepted atomic.Int64
	srv := closingServer(t, &accepted)
	fake := clockwork.NewFakeClockAt(time.Unix(0, 0))

	c := NewClient(Config{
		URL:      wsURL(srv),
		Identity: relay.Identity{ShopCode: "shop", Role: relay.RoleMerchant},
		Clock:    fake,
	}, discardLogger())
	c.Start(context.Background())
	blockUntilTimers(t, fake, 1)

	c.Stop()
	fake.Advance(10 * DefaultBackoff)
	time.Sleep(20 * time.Millisecond)

	if got := c.Dials(); got != 1 {
		t.Fatalf("dials after Stop = %d, want 1", got)
	}
	if c.Connected() {
		t.Fatal("Connected after Stop")
	}
}

func TestClientReceivesAck(t *testing.T) {
	hub := relay.NewHub(relay.NewRegistry(), "", discardLogger())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	c := NewClient(Config{
		URL:      wsURL(srv) + relay.DefaultPath,
		Identity: relay.Identity{ShopCode: "shop", Role: relay.RoleCustomer, ClientID: "c1"},
	}, discardLogger())

	acked := make(chan struct{}, 1)
	c.Subscribe(relay.TypeConnected, func([]byte) { acked <- struct{}{} })
	c.Start(context.Background())
	defer c.Stop()

	select {
	case <-acked:
	case <-time.After(5 * time.Second):
		t.Fatal("no connected ack")
	}
	if !c.Connected() {
		t.Fatal("Connected = false after ack")
	}
	if !hub.Registry().Has("shop") {
		t.Fatal("customer not registered")
	}
}

func TestWaitTimesOutWithoutServer(t *testing.T) {
	c := NewClient(Config{URL: "ws://unused"}, discardLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := c.Wait(ctx); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Wait err = %v", err)
	}
}

func TestWaitReturnsOnceConnected(t *testing.T) {
	hub := relay.NewHub(relay.NewRegistry(), "", discardLogger())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	c := NewClient(Config{
		URL:      wsURL(srv) + relay.DefaultPath,
		Identity: relay.Identity{ShopCode: "shop", Role: relay.RoleMerchant},
	}, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	waited := make(chan error, 1)
	go func() { waited <- c.Wait(ctx) }()

	c.Start(context.Background())
	defer c.Stop()

	if err := <-waited; err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !c.Connected() {
		t.Fatal("Wait returned before the connection opened")
	}
}
