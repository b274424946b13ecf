package notifier

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/brewstamp/brewstamp/internal/stamp"
	"github.com/brewstamp/brewstamp/internal/storage"
)

// Sender delivers an HTML message to a chat
type Sender interface {
	SendNotification(ctx context.Context, chatID int64, text string) error
}

// Store is what the notifier reads to build an alert
type Store interface {
	GetShop(ctx context.Context, id string) (*storage.Shop, error)
	GetCustomer(ctx context.Context, id string) (*storage.Customer, error)
	GetCard(ctx context.Context, shopID, customerID string) (*stamp.Card, error)
}

// Notifier tells merchants about new stamp requests in their linked chat
type Notifier struct {
	store  Store
	sender Sender
	log    *slog.Logger
}

// New creates a new Notifier
func New(store Store, sender Sender, log *slog.Logger) *Notifier {
	return &Notifier{
		store:  store,
		sender: sender,
		log:    log,
	}
}

// StampRequested sends one alert for req if its shop has a linked chat.
// Failures are logged and dropped.
func (n *Notifier) StampRequested(ctx context.Context, req *stamp.Request) {
	shop, err := n.store.GetShop(ctx, req.ShopID)
	if errors.Is(err, storage.ErrNotFound) {
		n.log.Debug("alert for unknown shop", "shop_id", req.ShopID)
		return
	}
	if err != nil {
		n.log.Error("get shop for alert", "shop_id", req.ShopID, "error", err)
		return
	}
	if shop.AlertChatID == 0 {
		return
	}

	name := ""
	if c, err := n.store.GetCustomer(ctx, req.CustomerID); err == nil {
		name = c.Name
	}
	stamps := 0
	if card, err := n.store.GetCard(ctx, req.ShopID, req.CustomerID); err == nil {
		stamps = card.Stamps
	}

	text := formatRequestMessage(shop, req, name, stamps)
	if err := n.sender.SendNotification(ctx, shop.AlertChatID, text); err != nil {
		n.log.Error("send stamp request alert", "shop", shop.Code, "request_id", req.ID, "error", err)
		return
	}
	n.log.Debug("stamp request alert sent", "shop", shop.Code, "request_id", req.ID)
}

func formatRequestMessage(shop *storage.Shop, req *stamp.Request, name string, stamps int) string {
	who := name
	if who == "" {
		who = "Customer " + shortID(req.CustomerID, 6)
	}

	lines := []string{
		fmt.Sprintf("☕ <b>New stamp request</b> at %s", html.EscapeString(shop.Name)),
		"",
		fmt.Sprintf("👤 %s", html.EscapeString(who)),
		fmt.Sprintf("🎫 %d/%d stamps", stamps, shop.StampThreshold),
	}
	if req.Redeem {
		if stamps >= shop.StampThreshold {
			lines = append(lines, "🎁 Wants to redeem a free drink")
		} else {
			lines = append(lines, "🎁 Asked to redeem, card not full yet")
		}
	}
	lines = append(lines, "", fmt.Sprintf("<i>%s</i>", req.CreatedAt.Format("15:04")))

	return strings.Join(lines, "\n")
}

func shortID(id string, n int) string {
	if len(id) <= n {
		return id
	}
	return id[:n]
}
