package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/brewstamp/brewstamp/internal/api"
	"github.com/brewstamp/brewstamp/internal/relay"
	"github.com/brewstamp/brewstamp/internal/stamp"
	"github.com/brewstamp/brewstamp/internal/storage"
)

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("down") }

func newTestServer(t *testing.T, pinger Pinger) (*httptest.Server, *relay.Hub) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := storage.New(filepath.Join(t.TempDir(), "test.db"), storage.DefaultThreshold)
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if pinger == nil {
		pinger = store
	}

	service := stamp.NewService(store, clockwork.NewRealClock(), 0, uuid.NewString, log)
	hub := relay.NewHub(relay.NewRegistry(), "", log)
	srv := httptest.NewServer(New(api.NewHandler(service, store, api.Options{}, log), hub, pinger, log).Handler())
	t.Cleanup(srv.Close)
	return srv, hub
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "OK" {
		t.Errorf("health = %d %q", resp.StatusCode, body)
	}
}

func TestHealthStorageDown(t *testing.T) {
	srv, _ := newTestServer(t, failingPinger{})

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestUpgradeGoesToRelay(t *testing.T) {
	srv, hub := newTestServer(t, nil)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + relay.DefaultPath + "?shop=CAFE&role=merchant"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ack relay.Connected
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if ack.Type != relay.TypeConnected || ack.Role != relay.RoleMerchant {
		t.Errorf("ack = %+v", ack)
	}
	if hub.Registry().Merchant("CAFE") == nil {
		t.Error("merchant not registered")
	}
}

func TestUpgradeElsewhereReachesRouter(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/health"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("upgrade on /health succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestAPIMounted(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp, err := http.Post(srv.URL+"/api/stamp-request", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d", resp.StatusCode)
	}
}
