package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

// --- Shops ---

// CreateShop adds a shop. A non-positive threshold selects the default.
func (s *Storage) CreateShop(ctx context.Context, code, name string, threshold int) (*Shop, error) {
	if threshold <= 0 {
		threshold = s.defaultThreshold
	}

	shop := &Shop{
		ID:             uuid.NewString(),
		Code:           code,
		Name:           name,
		StampThreshold: threshold,
		LinkSecret:     strings.ReplaceAll(uuid.NewString(), "-", ""),
		CreatedAt:      time.Now().UTC().Truncate(time.Millisecond),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO shops (id, code, name, stamp_threshold, link_secret, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		shop.ID, shop.Code, shop.Name, shop.StampThreshold, shop.LinkSecret, toMillis(shop.CreatedAt),
	)
	if isUniqueViolation(err) {
		return nil, ErrAlreadyExists
	}
	if err != nil {
		return nil, err
	}
	return shop, nil
}

const selectShop = `SELECT id, code, name, stamp_threshold, alert_chat_id, link_secret, created_at FROM shops`

func scanShop(row scanner) (*Shop, error) {
	var sh Shop
	var chat sql.NullInt64
	var createdAt int64
	err := row.Scan(&sh.ID, &sh.Code, &sh.Name, &sh.StampThreshold, &chat, &sh.LinkSecret, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sh.AlertChatID = chat.Int64
	sh.CreatedAt = fromMillis(createdAt)
	return &sh, nil
}

// GetShop returns a shop by ID
func (s *Storage) GetShop(ctx context.Context, id string) (*Shop, error) {
	return scanShop(s.db.QueryRowContext(ctx, selectShop+" WHERE id = ?", id))
}

// GetShopByCode returns a shop by its public code
func (s *Storage) GetShopByCode(ctx context.Context, code string) (*Shop, error) {
	return scanShop(s.db.QueryRowContext(ctx, selectShop+" WHERE code = ?", code))
}

// LinkAlertChat sends the alerts of the shop holding secret to chatID.
// A shop already linked to a different chat is left alone and
// ErrAlreadyLinked is returned; relinking the same chat succeeds.
func (s *Storage) LinkAlertChat(ctx context.Context, secret string, chatID int64) (*Shop, error) {
	if secret == "" {
		return nil, ErrNotFound
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE shops SET alert_chat_id = ?
		 WHERE link_secret = ? AND (alert_chat_id IS NULL OR alert_chat_id = 0 OR alert_chat_id = ?)`,
		chatID, secret, chatID,
	)
	if err != nil {
		return nil, err
	}

	shop, err := scanShop(s.db.QueryRowContext(ctx, selectShop+" WHERE link_secret = ?", secret))
	if err != nil {
		return nil, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return nil, ErrAlreadyLinked
	}
	return shop, nil
}

// UnlinkAlertChat switches alerts off for the shop with the given code, but
// only when they currently go to chatID.
func (s *Storage) UnlinkAlertChat(ctx context.Context, code string, chatID int64) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE shops SET alert_chat_id = NULL WHERE code = ? AND alert_chat_id = ?",
		code, chatID,
	)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Customers ---

const selectCustomer = `SELECT id, cookie_id, name, email, created_at FROM customers`

func scanCustomer(row scanner) (*Customer, error) {
	var c Customer
	var name, email sql.NullString
	var createdAt int64
	err := row.Scan(&c.ID, &c.CookieID, &name, &email, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Name = name.String
	c.Email = email.String
	c.CreatedAt = fromMillis(createdAt)
	return &c, nil
}

// EnsureCustomer returns the customer for cookieID, creating it on first sight.
func (s *Storage) EnsureCustomer(ctx context.Context, cookieID string) (*Customer, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO customers (id, cookie_id, created_at) VALUES (?, ?, ?)`,
		uuid.NewString(), cookieID, toMillis(time.Now()),
	)
	if err != nil {
		return nil, err
	}
	return scanCustomer(s.db.QueryRowContext(ctx, selectCustomer+" WHERE cookie_id = ?", cookieID))
}

// GetCustomer returns a customer by ID
func (s *Storage) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	return scanCustomer(s.db.QueryRowContext(ctx, selectCustomer+" WHERE id = ?", id))
}

// UpdateCustomerDetails sets name and email; empty values are left unchanged.
func (s *Storage) UpdateCustomerDetails(ctx context.Context, id, name, email string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE customers SET
			name = COALESCE(NULLIF(?, ''), name),
			email = COALESCE(NULLIF(?, ''), email)
		 WHERE id = ?`,
		strings.TrimSpace(name), strings.TrimSpace(email), id,
	)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
