package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "github.com/mattn/go-sqlite3"    // driver: sqlite3

	"github.com/dgallion1/retell/internal/quiz"
	"github.com/dgallion1/retell/internal/summarize"
	"github.com/dgallion1/retell/internal/verify"
)

type Driver string

const (
	DriverSQLite   Driver = "sqlite3"
	DriverPostgres Driver = "postgres"
)

// Event kinds.
const (
	KindSummary  = "summary"
	KindQuiz     = "quiz"
	KindJudgment = "judgment"
)

// Event is one archived pipeline result.
type Event struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	Kind      string          `json:"kind"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}

// Store appends pipeline results to an event table.
type Store struct {
	db     *sql.DB
	driver Driver
}

// Open opens a DB and ensures schema exists.
func Open(ctx context.Context, driver Driver, dsn string) (*Store, error) {
	var drvName string
	switch driver {
	case DriverSQLite, "sqlite":
		driver = DriverSQLite
		drvName = "sqlite3"
		if dsn == "" {
			dsn = "file:retell.db?_busy_timeout=5000"
		}
	case DriverPostgres, "pgx":
		driver = DriverPostgres
		drvName = "pgx"
		if dsn == "" {
			dsn = "postgres://localhost:5432/retell?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported archive driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schemaFor(driver)); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &Store{db: db, driver: driver}, nil
}

func schemaFor(driver Driver) string {
	if driver == DriverPostgres {
		return schemaPostgres
	}
	return schemaSQLite
}

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS events (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  id TEXT NOT NULL UNIQUE,
  session_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  data TEXT NOT NULL,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS events_session_idx ON events (session_id, seq);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS events (
  seq BIGSERIAL PRIMARY KEY,
  id TEXT NOT NULL UNIQUE,
  session_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  data TEXT NOT NULL,
  created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS events_session_idx ON events (session_id, seq);
`

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) RecordSummary(ctx context.Context, sessionID, source string, sum summarize.Summary) error {
	titles := make([]string, 0, len(sum.Chapters))
	for _, ch := range sum.Chapters {
		titles = append(titles, ch.Title)
	}
	return s.append(ctx, sessionID, KindSummary, map[string]any{
		"source":   source,
		"chapters": titles,
		"failed":   len(sum.Failed()),
		"text":     sum.Text,
	})
}

func (s *Store) RecordQuiz(ctx context.Context, sessionID string, questions []quiz.Question) error {
	return s.append(ctx, sessionID, KindQuiz, map[string]any{
		"questions": questions,
	})
}

func (s *Store) RecordJudgment(ctx context.Context, sessionID string, index int, q quiz.Question, answer string, out verify.Outcome) error {
	return s.append(ctx, sessionID, KindJudgment, map[string]any{
		"index":     index,
		"question":  q.Text,
		"expected":  q.Answer,
		"answer":    answer,
		"judgment":  out.Judgment,
		"correct":   out.Correct,
		"gave_up":   out.GaveUp,
		"completed": out.Completed,
	})
}

// History returns the newest events of a session, newest first.
func (s *Store) History(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, session_id, kind, data, created_at FROM events
		 WHERE session_id = ? ORDER BY seq DESC LIMIT ?`),
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e    Event
			data string
			ts   int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Kind, &data, &ts); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Data = json.RawMessage(data)
		e.CreatedAt = time.Unix(0, ts).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) append(ctx context.Context, sessionID, kind string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", kind, err)
	}
	_, err = s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO events (id, session_id, kind, data, created_at) VALUES (?, ?, ?, ?, ?)`),
		uuid.NewString(), sessionID, kind, string(payload), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("insert %s event: %w", kind, err)
	}
	return nil
}

// rebind turns ? placeholders into $n for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
