package history

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// DefaultLimit is the retention cap applied when the caller does not set one.
const DefaultLimit = 50

// ErrNotFound is returned when a record id is absent from the log.
var ErrNotFound = errors.New("history: record not found")

// Store is the bounded conversation log. Appends beyond the retention limit
// evict the oldest records.
type Store struct {
	mu    sync.Mutex
	db    *sql.DB
	limit int
	log   *zap.Logger
}

// Open opens (creating if necessary) the conversation log at path. A limit
// of zero selects DefaultLimit.
func Open(path string, limit int, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	s := &Store{db: db, limit: limit, log: logger}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			query TEXT NOT NULL,
			participants INTEGER NOT NULL,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			total_cost REAL NOT NULL DEFAULT 0,
			payload TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_created
			ON conversations(created_at DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init history schema: %w", err)
		}
	}
	return nil
}

// Append inserts a record and evicts everything beyond the retention limit,
// oldest first.
func (s *Store) Append(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", rec.ID, err)
	}

	participants := 0
	if rec.Config != nil {
		participants = rec.Config.Size()
	}

	_, err = s.db.Exec(
		`INSERT INTO conversations (id, created_at, query, participants, total_tokens, total_cost, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Timestamp.UTC().Format(time.RFC3339Nano), rec.Query,
		participants, rec.TotalTokens, rec.TotalCost, string(payload),
	)
	if err != nil {
		return fmt.Errorf("append record %s: %w", rec.ID, err)
	}

	res, err := s.db.Exec(
		`DELETE FROM conversations WHERE id IN (
			SELECT id FROM conversations
			ORDER BY created_at DESC, rowid DESC
			LIMIT -1 OFFSET ?)`,
		s.limit,
	)
	if err != nil {
		return fmt.Errorf("evict old records: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.log.Debug("evicted old conversations", zap.Int64("count", n))
	}

	s.log.Info("conversation recorded",
		zap.String("id", rec.ID),
		zap.Int("total_tokens", rec.TotalTokens))
	return nil
}

// List returns record metadata, most recent first.
func (s *Store) List() ([]Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT id, created_at, query, participants, total_tokens, total_cost
		 FROM conversations
		 ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []Metadata
	for rows.Next() {
		var m Metadata
		var created string
		if err := rows.Scan(&m.ID, &created, &m.Query, &m.Participants, &m.TotalTokens, &m.TotalCost); err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			m.Timestamp = ts
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Get loads one full record by id.
func (s *Store) Get(id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var payload string
	err := s.db.QueryRow(`SELECT payload FROM conversations WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", id, err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record %s: %w", id, err)
	}
	return &rec, nil
}

// Count returns the number of records currently retained.
func (s *Store) Count() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count conversations: %w", err)
	}
	return n, nil
}

// Clear removes all retained records.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM conversations`); err != nil {
		return fmt.Errorf("clear conversations: %w", err)
	}
	return nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
