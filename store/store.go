package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store persists an audit trail of relayed queries. Nothing in it is ever
// fed back into a conversation.
type Store struct {
	db *sql.DB
}

// Transcript is one processed operator query.
type Transcript struct {
	ID        string           `json:"id"`
	SessionID string           `json:"session_id"`
	Query     string           `json:"query"`
	Response  string           `json:"response,omitempty"`
	Error     string           `json:"error,omitempty"`
	ToolCalls []ToolCallRecord `json:"tool_calls,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// ToolCallRecord is one tool invocation made while answering a query.
type ToolCallRecord struct {
	Tool      string `json:"tool"`
	Arguments string `json:"arguments"`
	Result    string `json:"result"`
	IsError   bool   `json:"is_error"`
}

// ToolCallCount aggregates invocations of one tool.
type ToolCallCount struct {
	Tool   string `json:"tool"`
	Total  int64  `json:"total"`
	Errors int64  `json:"errors"`
}

// busyTimeout makes a locked database wait instead of failing with SQLITE_BUSY.
const busyTimeout = "_pragma=busy_timeout(5000)"

// Open opens the database at path, or a shared in-memory database when path is empty.
func Open(path string) (*Store, error) {
	var db *sql.DB
	var err error

	if path != "" {
		db, err = sql.Open("sqlite", "file:"+path+"?"+busyTimeout)
	} else {
		db, err = sql.Open("sqlite", "file:memdb?mode=memory&cache=shared&"+busyTimeout)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serializes dashboard reads with console writes.
	db.SetMaxOpenConns(1)

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init database schema: %w", err)
	}

	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		server_path TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS transcripts (
		id TEXT PRIMARY KEY,
		session_id TEXT,
		query TEXT NOT NULL,
		response TEXT,
		error TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS tool_calls (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		transcript_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		tool TEXT NOT NULL,
		arguments TEXT,
		result TEXT,
		is_error INTEGER DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_tool_calls_transcript ON tool_calls(transcript_id);
	`
	_, err := db.Exec(schema)
	return err
}

// DB exposes the underlying connection.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// RecordSession registers a connected tool host session.
func (s *Store) RecordSession(id, serverPath string) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO sessions (id, server_path, created_at)
		VALUES (?, ?, ?)
	`, id, serverPath, time.Now())
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// RecordTranscript inserts a transcript and its tool calls in one transaction.
// ID and CreatedAt are filled in when empty.
func (s *Store) RecordTranscript(t *Transcript) error {
	if t == nil {
		return fmt.Errorf("transcript is nil")
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO transcripts (id, session_id, query, response, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, t.ID, t.SessionID, t.Query, t.Response, t.Error, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert transcript: %w", err)
	}

	for i, call := range t.ToolCalls {
		_, err = tx.Exec(`
			INSERT INTO tool_calls (transcript_id, seq, tool, arguments, result, is_error)
			VALUES (?, ?, ?, ?, ?, ?)
		`, t.ID, i, call.Tool, call.Arguments, call.Result, call.IsError)
		if err != nil {
			return fmt.Errorf("failed to insert tool call: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transcript: %w", err)
	}
	return nil
}

// Recent returns up to limit transcripts, newest first, with their tool calls.
func (s *Store) Recent(limit int) ([]Transcript, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(`
		SELECT id, COALESCE(session_id, ''), query, COALESCE(response, ''), COALESCE(error, ''), created_at
		FROM transcripts
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transcripts: %w", err)
	}
	defer rows.Close()

	var transcripts []Transcript
	for rows.Next() {
		var t Transcript
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Query, &t.Response, &t.Error, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transcript: %w", err)
		}
		transcripts = append(transcripts, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transcripts: %w", err)
	}

	for i := range transcripts {
		calls, err := s.toolCalls(transcripts[i].ID)
		if err != nil {
			return nil, err
		}
		transcripts[i].ToolCalls = calls
	}

	return transcripts, nil
}

func (s *Store) toolCalls(transcriptID string) ([]ToolCallRecord, error) {
	rows, err := s.db.Query(`
		SELECT tool, COALESCE(arguments, ''), COALESCE(result, ''), is_error
		FROM tool_calls
		WHERE transcript_id = ?
		ORDER BY seq ASC
	`, transcriptID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tool calls: %w", err)
	}
	defer rows.Close()

	var calls []ToolCallRecord
	for rows.Next() {
		var c ToolCallRecord
		if err := rows.Scan(&c.Tool, &c.Arguments, &c.Result, &c.IsError); err != nil {
			return nil, fmt.Errorf("failed to scan tool call: %w", err)
		}
		calls = append(calls, c)
	}
	return calls, rows.Err()
}

// ToolCallCounts returns per-tool invocation totals ordered by tool name.
func (s *Store) ToolCallCounts() ([]ToolCallCount, error) {
	rows, err := s.db.Query(`
		SELECT tool, COUNT(*), COALESCE(SUM(is_error), 0)
		FROM tool_calls
		GROUP BY tool
		ORDER BY tool ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tool call counts: %w", err)
	}
	defer rows.Close()

	var counts []ToolCallCount
	for rows.Next() {
		var c ToolCallCount
		if err := rows.Scan(&c.Tool, &c.Total, &c.Errors); err != nil {
			return nil, fmt.Errorf("failed to scan tool call count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}
