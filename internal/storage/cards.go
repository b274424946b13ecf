package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/brewstamp/brewstamp/internal/stamp"
)

// --- Stamp cards ---

const selectCard = `SELECT shop_id, customer_id, stamps, total_earned, free_redeemed FROM stamp_cards`

func scanCard(row scanner) (*stamp.Card, error) {
	var c stamp.Card
	err := row.Scan(&c.ShopID, &c.CustomerID, &c.Stamps, &c.TotalEarned, &c.FreeRedeemed)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertCard(ctx context.Context, db execer, card *stamp.Card, at time.Time) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO stamp_cards (shop_id, customer_id, stamps, total_earned, free_redeemed, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(shop_id, customer_id) DO UPDATE SET
			stamps = excluded.stamps,
			total_earned = excluded.total_earned,
			free_redeemed = excluded.free_redeemed,
			updated_at = excluded.updated_at`,
		card.ShopID, card.CustomerID, card.Stamps, card.TotalEarned, card.FreeRedeemed, toMillis(at),
	)
	return err
}

// EnsureCard returns the card for a pair, creating an empty one if needed.
func (s *Storage) EnsureCard(ctx context.Context, shopID, customerID string) (*stamp.Card, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO stamp_cards (shop_id, customer_id, updated_at) VALUES (?, ?, ?)`,
		shopID, customerID, toMillis(time.Now()),
	)
	if err != nil {
		return nil, err
	}
	return s.GetCard(ctx, shopID, customerID)
}

// GetCard returns the card for a pair
func (s *Storage) GetCard(ctx context.Context, shopID, customerID string) (*stamp.Card, error) {
	return scanCard(s.db.QueryRowContext(ctx, selectCard+" WHERE shop_id = ? AND customer_id = ?", shopID, customerID))
}

// SetCard overwrites a card balance. Used for seeding and imports.
func (s *Storage) SetCard(ctx context.Context, card *stamp.Card) error {
	return upsertCard(ctx, s.db, card, time.Now())
}
