package claimcheck

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/glimte/sedaflow-go/contracts"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore persists claimed payloads to SQLite, keeping large
// bodies out of process memory and inspectable after the fact. Use
// ":memory:" as the path for testing.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
}

// NewSQLiteStore opens (creating if needed) a SQLite-backed store at
// the given file path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS claims (
			ticket TEXT PRIMARY KEY,
			payload BLOB NOT NULL,
			stored_at TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Put implements Store. The insert is plain (no upsert): tickets are
// unique per call, and an existing entry must never be replaced.
func (s *SQLiteStore) Put(ctx context.Context, payload []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", contracts.ErrStoreClosed
	}

	ticket := NewTicket()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO claims (ticket, payload, stored_at) VALUES (?, ?, ?)
	`, ticket, payload, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("store claim: %w", err)
	}

	return ticket, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, ticket string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, contracts.ErrStoreClosed
	}

	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM claims WHERE ticket = ?`, ticket,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, contracts.ErrClaimNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load claim: %w", err)
	}

	return payload, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
