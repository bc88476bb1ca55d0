package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Sentinel errors surfaced to the service layer.
var (
	ErrSessionNotFound   = errors.New("purchase session not found")
	ErrSessionExpired    = errors.New("purchase session has expired")
	ErrVoucherNotFound   = errors.New("voucher not found")
	ErrVoucherNotUsable  = errors.New("voucher cannot be used")
	ErrVoucherRegistered = errors.New("voucher already registered with a passport")
	ErrMissingPassport   = errors.New("no passport data in session")
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}
