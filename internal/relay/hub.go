package relay

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultPath is the upgrade path relay traffic arrives on.
const DefaultPath = "/_ws"

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 64 << 10
)

// Hub accepts relay connections and forwards messages between them.
type Hub struct {
	registry *Registry
	path     string
	buffer   int
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewHub creates a hub serving upgrades on path.
func NewHub(registry *Registry, path string, log *slog.Logger) *Hub {
	if path == "" {
		path = DefaultPath
	}
	return &Hub{
		registry: registry,
		path:     path,
		buffer:   DefaultPeerBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		log: log,
	}
}

// Registry returns the hub's connection registry.
func (h *Hub) Registry() *Registry { return h.registry }

// Path returns the upgrade path.
func (h *Hub) Path() string { return h.path }

// Intercept hands websocket upgrades on the relay path to the hub and
// everything else, including upgrades on other paths, to next.
func (h *Hub) Intercept(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == h.path && websocket.IsWebSocketUpgrade(r) {
			h.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ServeHTTP upgrades the request and runs the connection until it closes.
// Connections without a valid identity are closed with 1008.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, idErr := ParseIdentity(r.URL.Query())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", "error", err)
		return
	}

	if idErr != nil {
		h.log.Info("rejecting relay connection", "reason", idErr, "remote", r.RemoteAddr)
		reason := "Missing required parameters"
		if errors.Is(idErr, ErrInvalidRole) {
			reason = "Invalid role"
		}
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		conn.Close()
		return
	}

	peer := h.Connect(id)
	h.log.Debug("relay connection opened", "shop", id.ShopCode, "role", id.Role, "client_id", id.ClientID)

	go h.writePump(conn, peer)
	h.readPump(conn, peer)
}

// Connect registers a peer for id and queues its connected acknowledgement.
func (h *Hub) Connect(id Identity) *Peer {
	peer := NewPeer(id, h.buffer)

	ack, _ := json.Marshal(Connected{Type: TypeConnected, Role: id.Role, ShopCode: id.ShopCode})
	peer.Enqueue(ack)

	var prev *Peer
	switch id.Role {
	case RoleMerchant:
		prev = h.registry.SetMerchant(id.ShopCode, peer)
	case RoleCustomer:
		prev = h.registry.SetCustomer(id.ShopCode, id.ClientID, peer)
	}
	if prev != nil {
		h.log.Debug("relay connection superseded", "shop", id.ShopCode, "role", id.Role, "client_id", id.ClientID)
	}
	return peer
}

// Disconnect deregisters peer and closes it. The other side of the channel
// is not told.
func (h *Hub) Disconnect(peer *Peer) {
	id := peer.Identity()
	switch id.Role {
	case RoleMerchant:
		h.registry.RemoveMerchant(id.ShopCode, peer)
	case RoleCustomer:
		h.registry.RemoveCustomer(id.ShopCode, id.ClientID, peer)
	}
	peer.Close()
}

// Route forwards raw from a connection with identity from to its
// recipient. Malformed, unknown, misdirected and undeliverable messages are
// dropped; the return value only reports whether a message was queued.
func (h *Hub) Route(from Identity, raw []byte) bool {
	env, ok := ParseEnvelope(raw)
	if !ok {
		return false
	}

	var target *Peer
	switch env.Type {
	case TypeRequestNew:
		if from.Role != RoleCustomer {
			return false
		}
		target = h.registry.Merchant(from.ShopCode)

	case TypeRequestApproved:
		if from.Role != RoleMerchant {
			return false
		}
		target = h.registry.Customer(from.ShopCode, env.CustomerID)

	case TypeRequestRejected:
		switch from.Role {
		case RoleMerchant:
			target = h.registry.Customer(from.ShopCode, env.CustomerID)
		case RoleCustomer:
			// A customer withdrawing its own earlier request.
			if env.CustomerID != from.ClientID {
				return false
			}
			target = h.registry.Merchant(from.ShopCode)
		}

	default:
		return false
	}

	if target == nil || !target.Enqueue(raw) {
		h.log.Debug("relay message dropped", "shop", from.ShopCode, "type", env.Type)
		return false
	}
	return true
}

func (h *Hub) readPump(conn *websocket.Conn, peer *Peer) {
	defer func() {
		h.Disconnect(peer)
		conn.Close()
	}()

	id := peer.Identity()
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("relay connection lost", "shop", id.ShopCode, "role", id.Role, "error", err)
			}
			return
		}
		h.Route(id, raw)
	}
}

func (h *Hub) writePump(conn *websocket.Conn, peer *Peer) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg := <-peer.Outbound():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-peer.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
