package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS turn_log (
	id                     INTEGER PRIMARY KEY AUTOINCREMENT,
	turn_id                TEXT NOT NULL UNIQUE,
	session_id             TEXT NOT NULL,
	message_count          INTEGER NOT NULL,
	decision               TEXT NOT NULL,
	reason                 TEXT,
	quality_score          REAL NOT NULL,
	deserves_reinforcement INTEGER NOT NULL,
	user_message           TEXT NOT NULL,
	response               TEXT,
	self_evaluation        TEXT,
	signals_json           TEXT,
	updates_json           TEXT,
	created_at             TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_turn_log_session ON turn_log (session_id, id);
`

const columns = `id, turn_id, session_id, message_count, decision, reason, quality_score,
	deserves_reinforcement, user_message, response, self_evaluation, signals_json, updates_json, created_at`

// #endregion schema

// #region store-struct
// Store is the append-only turn journal in SQLite. It is an audit trail and is never read
// back into a live session.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor
// Open opens the SQLite database at dsn and runs migrations. ":memory:" is supported.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// one connection keeps an in-memory database shared and serializes writers
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// #endregion constructor

// #region record
// NewTurnID returns a new lexically sortable turn identifier.
func NewTurnID() string {
	return ulid.Make().String()
}

// Record appends entry and returns its row id. TurnID and CreatedAt are filled when empty.
func (s *Store) Record(ctx context.Context, entry Entry) (int64, error) {
	if entry.TurnID == "" {
		entry.TurnID = NewTurnID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO turn_log (turn_id, session_id, message_count, decision, reason, quality_score,
			deserves_reinforcement, user_message, response, self_evaluation, signals_json, updates_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.TurnID,
		entry.SessionID,
		entry.MessageCount,
		string(entry.Decision),
		nullIfEmpty(entry.Reason),
		entry.QualityScore,
		boolInt(entry.DeservesReinforcement),
		entry.UserMessage,
		nullIfEmpty(entry.Response),
		nullIfEmpty(entry.SelfEvaluation),
		nullIfEmpty(entry.SignalsJSON),
		nullIfEmpty(entry.UpdatesJSON),
		entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("record turn: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("record turn id: %w", err)
	}
	return id, nil
}

// #endregion record

// #region list
// List returns up to limit entries across all sessions, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+columns+` FROM turn_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	return scanEntries(rows)
}

// ListSession returns every entry of one session, oldest first.
func (s *Store) ListSession(ctx context.Context, sessionID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+columns+` FROM turn_log WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list session %s: %w", sessionID, err)
	}
	return scanEntries(rows)
}

// Sessions returns the distinct session ids in first-seen order.
func (s *Store) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id FROM turn_log GROUP BY session_id ORDER BY MIN(id)`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                                                   Entry
			decision, createdAt                                 string
			reason, response, selfEval, signalsJSON, updatesJSON sql.NullString
			reinforce                                           int
		)
		if err := rows.Scan(&e.ID, &e.TurnID, &e.SessionID, &e.MessageCount, &decision, &reason,
			&e.QualityScore, &reinforce, &e.UserMessage, &response, &selfEval, &signalsJSON,
			&updatesJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		e.Decision = Decision(decision)
		e.Reason = reason.String
		e.DeservesReinforcement = reinforce != 0
		e.Response = response.String
		e.SelfEvaluation = selfEval.String
		e.SignalsJSON = signalsJSON.String
		e.UpdatesJSON = updatesJSON.String
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at %q: %w", createdAt, err)
		}
		e.CreatedAt = t
		out = append(out, e)
	}
	return out, rows.Err()
}

// #endregion list

// #region helpers
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// #endregion helpers
