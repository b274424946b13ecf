package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/brewstamp/brewstamp/internal/stamp"
)

// --- Stamp requests ---

const selectRequest = `SELECT r.id, r.shop_id, r.customer_id, r.status, r.stamps_awarded, r.redeem,
	r.created_at, r.updated_at, r.expires_at, COALESCE(c.name, '')
	FROM stamp_requests r LEFT JOIN customers c ON c.id = r.customer_id`

func scanRequest(row scanner) (*stamp.Request, error) {
	var r stamp.Request
	var status string
	var awarded, expiresAt sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(&r.ID, &r.ShopID, &r.CustomerID, &status, &awarded, &r.Redeem,
		&createdAt, &updatedAt, &expiresAt, &r.CustomerName)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	r.Status = stamp.Status(status)
	r.CreatedAt = fromMillis(createdAt)
	r.UpdatedAt = fromMillis(updatedAt)
	if awarded.Valid {
		n := int(awarded.Int64)
		r.StampsAwarded = &n
	}
	if expiresAt.Valid {
		t := fromMillis(expiresAt.Int64)
		r.ExpiresAt = &t
	}
	return &r, nil
}

func nullableMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func nullableInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

// CreateRequest expires any pending request for the same shop and customer
// and inserts req, in one transaction. Returns how many rows were expired.
func (s *Storage) CreateRequest(ctx context.Context, req *stamp.Request) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE stamp_requests SET status = ?, expires_at = NULL, updated_at = ?
		 WHERE shop_id = ? AND customer_id = ? AND status = ?`,
		string(stamp.StatusExpired), toMillis(req.CreatedAt),
		req.ShopID, req.CustomerID, string(stamp.StatusPending),
	)
	if err != nil {
		return 0, fmt.Errorf("expire pending: %w", err)
	}
	superseded, _ := result.RowsAffected()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO stamp_requests (id, shop_id, customer_id, status, stamps_awarded, redeem, created_at, updated_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.ShopID, req.CustomerID, string(req.Status), nullableInt(req.StampsAwarded), req.Redeem,
		toMillis(req.CreatedAt), toMillis(req.UpdatedAt), nullableMillis(req.ExpiresAt),
	)
	if isUniqueViolation(err) {
		return 0, ErrAlreadyExists
	}
	if err != nil {
		return 0, fmt.Errorf("insert request: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return superseded, nil
}

// GetRequest returns a request by ID
func (s *Storage) GetRequest(ctx context.Context, id string) (*stamp.Request, error) {
	return scanRequest(s.db.QueryRowContext(ctx, selectRequest+" WHERE r.id = ?", id))
}

// FindPending returns the pending request for a shop and customer.
func (s *Storage) FindPending(ctx context.Context, shopID, customerID string) (*stamp.Request, error) {
	req, err := scanRequest(s.db.QueryRowContext(ctx,
		selectRequest+" WHERE r.shop_id = ? AND r.customer_id = ? AND r.status = ? ORDER BY r.created_at DESC LIMIT 1",
		shopID, customerID, string(stamp.StatusPending),
	))
	if errors.Is(err, ErrNotFound) {
		return nil, stamp.ErrNotFound
	}
	return req, err
}

// Decide runs fn against a pending request and its card inside one
// transaction. The request row is only rewritten while its status is still
// pending, so two concurrent decisions cannot both commit.
func (s *Storage) Decide(ctx context.Context, id string, fn stamp.Transition) (*stamp.Request, *stamp.Card, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	req, err := scanRequest(tx.QueryRowContext(ctx, selectRequest+" WHERE r.id = ?", id))
	if errors.Is(err, ErrNotFound) {
		return nil, nil, stamp.ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	if req.Status != stamp.StatusPending {
		return nil, nil, stamp.ErrNotPending
	}

	threshold := s.defaultThreshold
	err = tx.QueryRowContext(ctx, "SELECT stamp_threshold FROM shops WHERE id = ?", req.ShopID).Scan(&threshold)
	if err != nil && err != sql.ErrNoRows {
		return nil, nil, fmt.Errorf("load threshold: %w", err)
	}

	card, err := scanCard(tx.QueryRowContext(ctx, selectCard+" WHERE shop_id = ? AND customer_id = ?", req.ShopID, req.CustomerID))
	if errors.Is(err, ErrNotFound) {
		card = &stamp.Card{ShopID: req.ShopID, CustomerID: req.CustomerID}
	} else if err != nil {
		return nil, nil, fmt.Errorf("load card: %w", err)
	}

	touchCard, err := fn(req, card, threshold)
	if err != nil {
		return nil, nil, err
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE stamp_requests SET status = ?, stamps_awarded = ?, expires_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(req.Status), nullableInt(req.StampsAwarded), nullableMillis(req.ExpiresAt), toMillis(req.UpdatedAt),
		id, string(stamp.StatusPending),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("update request: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return nil, nil, stamp.ErrNotPending
	}

	if touchCard {
		if err := upsertCard(ctx, tx, card, req.UpdatedAt); err != nil {
			return nil, nil, fmt.Errorf("save card: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return req, card, nil
}

// ExpireStale moves pending requests whose expiry has passed to expired and
// clears their expiry. The rows are kept as history.
func (s *Storage) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE stamp_requests SET status = ?, expires_at = NULL, updated_at = ?
		 WHERE status = ? AND expires_at IS NOT NULL AND expires_at <= ?`,
		string(stamp.StatusExpired), toMillis(now), string(stamp.StatusPending), toMillis(now),
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// CountPending returns the number of pending requests for a pair.
func (s *Storage) CountPending(ctx context.Context, shopID, customerID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM stamp_requests WHERE shop_id = ? AND customer_id = ? AND status = ?",
		shopID, customerID, string(stamp.StatusPending),
	).Scan(&count)
	return count, err
}
