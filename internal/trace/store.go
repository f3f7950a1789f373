// Package trace records the exchanges between the voice session and the shell tools.
package trace

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"ragagent/internal/domain"
)

// DefaultListLimit caps ListTraces when no limit is given.
const DefaultListLimit = 100

// SQLiteStore implements domain.TraceStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

var _ domain.TraceStore = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger, now: time.Now}, nil
}

// AddTrace stores t. A missing ID, timestamp, type or status is filled in.
func (s *SQLiteStore) AddTrace(ctx context.Context, t domain.CallTrace) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = s.now()
	}
	if t.MessageType == "" {
		t.MessageType = domain.TraceUser
	}
	if t.Status == "" {
		t.Status = domain.TraceSuccess
	}

	var meta []byte
	if len(t.Metadata) > 0 {
		var err error
		if meta, err = json.Marshal(t.Metadata); err != nil {
			return fmt.Errorf("marshal trace metadata: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO call_traces
		 (id, timestamp_ms, session_id, message_type, message, response_ms, token_count, confidence, status, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Timestamp.UnixMilli(), t.SessionID, string(t.MessageType), t.Message,
		t.ResponseTime, t.TokenCount, t.Confidence, string(t.Status), string(meta),
	)
	if err != nil {
		return fmt.Errorf("insert trace: %w", err)
	}
	return nil
}

// ListTraces returns up to limit traces, newest first.
func (s *SQLiteStore) ListTraces(ctx context.Context, limit int) ([]domain.CallTrace, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp_ms, session_id, message_type, message, response_ms, token_count, confidence, status, metadata
		 FROM call_traces ORDER BY timestamp_ms DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list traces: %w", err)
	}
	defer rows.Close()

	traces := []domain.CallTrace{}
	for rows.Next() {
		var (
			t        domain.CallTrace
			ts       int64
			msgType  string
			status   string
			metadata sql.NullString
		)
		if err := rows.Scan(&t.ID, &ts, &t.SessionID, &msgType, &t.Message, &t.ResponseTime, &t.TokenCount, &t.Confidence, &status, &metadata); err != nil {
			return nil, fmt.Errorf("scan trace: %w", err)
		}
		t.Timestamp = time.UnixMilli(ts).UTC()
		t.MessageType = domain.TraceMessageType(msgType)
		t.Status = domain.TraceStatus(status)
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &t.Metadata); err != nil {
				s.logger.Warn("dropping unreadable trace metadata", "id", t.ID, "error", err)
			}
		}
		traces = append(traces, t)
	}
	return traces, rows.Err()
}

// ClearTraces deletes every trace.
func (s *SQLiteStore) ClearTraces(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM call_traces`); err != nil {
		return fmt.Errorf("clear traces: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
