package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrAlreadyLinked = errors.New("linked to another chat")
)

// DefaultThreshold applies to shops created without one and to requests
// whose shop row has disappeared.
const DefaultThreshold = 8

// Storage handles all database operations
type Storage struct {
	db               *sql.DB
	defaultThreshold int
}

// New creates a new Storage instance and initializes the database
func New(dbPath string, defaultThreshold int) (*Storage, error) {
	// Immediate transactions take the write lock at BEGIN, which serialises
	// the read-check-write in Decide.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, err
	}

	if defaultThreshold <= 0 {
		defaultThreshold = DefaultThreshold
	}

	s := &Storage{db: db, defaultThreshold: defaultThreshold}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Storage) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS shops (
			id TEXT PRIMARY KEY,
			code TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			stamp_threshold INTEGER NOT NULL,
			alert_chat_id INTEGER,
			link_secret TEXT NOT NULL UNIQUE,
			created_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS customers (
			id TEXT PRIMARY KEY,
			cookie_id TEXT NOT NULL UNIQUE,
			name TEXT,
			email TEXT,
			created_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS stamp_requests (
			id TEXT PRIMARY KEY,
			shop_id TEXT NOT NULL,
			customer_id TEXT NOT NULL,
			status TEXT NOT NULL,
			stamps_awarded INTEGER,
			redeem INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			expires_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_pair ON stamp_requests(shop_id, customer_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_shop_status ON stamp_requests(shop_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_expires_at ON stamp_requests(expires_at)`,

		`CREATE TABLE IF NOT EXISTS stamp_cards (
			shop_id TEXT NOT NULL,
			customer_id TEXT NOT NULL,
			stamps INTEGER NOT NULL DEFAULT 0,
			total_earned INTEGER NOT NULL DEFAULT 0,
			free_redeemed INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (shop_id, customer_id)
		)`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
