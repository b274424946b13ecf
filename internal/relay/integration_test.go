package relay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func startRelay(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	h := newTestHub()
	fallback := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	srv := httptest.NewServer(h.Intercept(fallback))
	t.Cleanup(srv.Close)
	return h, srv
}

func dial(t *testing.T, srv *httptest.Server, path, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + path + "?" + query
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", u, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal %s: %v", raw, err)
	}
	return m
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRelayEndToEnd(t *testing.T) {
	h, srv := startRelay(t)

	merchant := dial(t, srv, DefaultPath, "shop=bean&role=merchant")
	if ack := readJSON(t, merchant); ack["type"] != TypeConnected || ack["role"] != "merchant" || ack["shopCode"] != "bean" {
		t.Fatalf("merchant ack = %v", ack)
	}
	customer := dial(t, srv, DefaultPath, "shop=bean&role=customer&clientId=c1")
	readJSON(t, customer)

	waitFor(t, func() bool {
		s, ok := h.Registry().Stats("bean")
		return ok && s.Merchant && s.Customers == 1
	})

	customer.WriteJSON(RequestNew{Type: TypeRequestNew, RequestID: "r1", CustomerID: "c1", CustomerName: "Ada", Stamps: 7, Threshold: 8})
	got := readJSON(t, merchant)
	if got["type"] != TypeRequestNew || got["requestId"] != "r1" || got["customerName"] != "Ada" {
		t.Fatalf("merchant received %v", got)
	}

	merchant.WriteJSON(RequestApproved{Type: TypeRequestApproved, RequestID: "r1", CustomerID: "c1", StampsAwarded: 1, NewStamps: 8, NewTotalEarned: 8})
	got = readJSON(t, customer)
	if got["type"] != TypeRequestApproved || got["newStamps"] != float64(8) {
		t.Fatalf("customer received %v", got)
	}

	customer.Close()
	merchant.Close()
	waitFor(t, func() bool { return !h.Registry().Has("bean") })
}

func TestRelayRejectsMissingParams(t *testing.T) {
	h, srv := startRelay(t)

	for _, q := range []string{"role=merchant", "shop=bean&role=customer", "shop=bean&role=owner"} {
		conn := dial(t, srv, DefaultPath, q)
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, err := conn.ReadMessage()
		if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
			t.Errorf("%s: read error = %v, want close 1008", q, err)
		}
	}
	if h.Registry().Len() != 0 {
		t.Error("rejected connection registered")
	}
}

func TestRelayIgnoresOtherPaths(t *testing.T) {
	_, srv := startRelay(t)

	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/_next/webpack-hmr?shop=bean&role=merchant"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatal("upgrade on foreign path succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusTeapot {
		t.Errorf("foreign upgrade was not passed through: %v", resp)
	}
}

func TestRelayMalformedMessageKeepsConnection(t *testing.T) {
	_, srv := startRelay(t)

	merchant := dial(t, srv, DefaultPath, "shop=bean&role=merchant")
	readJSON(t, merchant)
	customer := dial(t, srv, DefaultPath, "shop=bean&role=customer&clientId=c1")
	readJSON(t, customer)

	customer.WriteMessage(websocket.TextMessage, []byte("{not json"))
	customer.WriteJSON(map[string]string{"type": TypeRequestNew, "requestId": "r2"})

	if got := readJSON(t, merchant); got["requestId"] != "r2" {
		t.Errorf("merchant received %v", got)
	}
}

func TestRelayReconnectSupersedes(t *testing.T) {
	h, srv := startRelay(t)

	old := dial(t, srv, DefaultPath, "shop=bean&role=merchant")
	readJSON(t, old)
	fresh := dial(t, srv, DefaultPath, "shop=bean&role=merchant")
	readJSON(t, fresh)

	old.Close()
	customer := dial(t, srv, DefaultPath, "shop=bean&role=customer&clientId=c1")
	readJSON(t, customer)

	// Give the old connection's close time to be processed.
	waitFor(t, func() bool {
		s, _ := h.Registry().Stats("bean")
		return s.Merchant && s.Customers == 1
	})
	time.Sleep(50 * time.Millisecond)

	customer.WriteJSON(map[string]string{"type": TypeRequestNew, "requestId": "r3"})
	if got := readJSON(t, fresh); got["requestId"] != "r3" {
		t.Errorf("fresh merchant received %v", got)
	}
}
