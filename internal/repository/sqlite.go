package repository

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"

	"github.com/xiaot623/salescall/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrate applies pending schema migrations. The migrate instance is not
// closed because its database driver would close s.db.
func (s *SQLiteStore) migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	defer src.Close()

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreatePersona inserts a persona.
func (s *SQLiteStore) CreatePersona(ctx context.Context, persona *domain.Persona) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO personas (persona_id, name, system_prompt, metadata, created_at) VALUES (?, ?, ?, ?, ?)`,
		persona.PersonaID, persona.Name, nullString(persona.SystemPrompt), nullJSON(persona.Metadata), persona.CreatedAt)
	return err
}

// GetPersona retrieves a persona by ID.
func (s *SQLiteStore) GetPersona(ctx context.Context, personaID string) (*domain.Persona, error) {
	var p domain.Persona
	var prompt, metadata sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT persona_id, name, system_prompt, metadata, created_at FROM personas WHERE persona_id = ?`,
		personaID).Scan(&p.PersonaID, &p.Name, &prompt, &metadata, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.SystemPrompt = prompt.String
	if metadata.Valid {
		p.Metadata = json.RawMessage(metadata.String)
	}
	return &p, nil
}

// ListPersonas lists personas, oldest first.
func (s *SQLiteStore) ListPersonas(ctx context.Context) ([]domain.Persona, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT persona_id, name, system_prompt, metadata, created_at FROM personas ORDER BY created_at ASC, persona_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var personas []domain.Persona
	for rows.Next() {
		var p domain.Persona
		var prompt, metadata sql.NullString
		if err := rows.Scan(&p.PersonaID, &p.Name, &prompt, &metadata, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.SystemPrompt = prompt.String
		if metadata.Valid {
			p.Metadata = json.RawMessage(metadata.String)
		}
		personas = append(personas, p)
	}
	return personas, rows.Err()
}

// SaveCall archives a call with its history and transcript. Saving the
// same session again replaces the earlier record.
func (s *SQLiteStore) SaveCall(ctx context.Context, record *domain.CallRecord) error {
	var metrics []byte
	if record.Metrics != nil {
		var err error
		metrics, err = json.Marshal(record.Metrics)
		if err != nil {
			return fmt.Errorf("marshal metrics: %w", err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM calls WHERE session_id = ?`, record.SessionID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO calls (session_id, persona_id, started_at, ended_at, end_reason, feedback, metrics) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.SessionID, nullString(record.PersonaID), record.StartedAt, record.EndedAt,
		string(record.EndReason), nullString(record.Feedback), nullJSON(metrics)); err != nil {
		return err
	}

	for i, m := range record.Messages {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO call_messages (session_id, seq, role, content) VALUES (?, ?, ?, ?)`,
			record.SessionID, i, string(m.Role), m.Content); err != nil {
			return err
		}
	}
	for i, e := range record.Transcript {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO transcript_entries (session_id, seq, speaker, text, ts) VALUES (?, ?, ?, ?, ?)`,
			record.SessionID, i, string(e.Speaker), e.Text, e.Timestamp); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetCall retrieves an archived call.
func (s *SQLiteStore) GetCall(ctx context.Context, sessionID string) (*domain.CallRecord, error) {
	var rec domain.CallRecord
	var personaID, feedback, metrics sql.NullString
	var reason string
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, persona_id, started_at, ended_at, end_reason, feedback, metrics FROM calls WHERE session_id = ?`,
		sessionID).Scan(&rec.SessionID, &personaID, &rec.StartedAt, &rec.EndedAt, &reason, &feedback, &metrics)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.PersonaID = personaID.String
	rec.Feedback = feedback.String
	rec.EndReason = domain.EndReason(reason)
	if metrics.Valid {
		var m domain.CallMetrics
		if err := json.Unmarshal([]byte(metrics.String), &m); err != nil {
			return nil, fmt.Errorf("unmarshal metrics: %w", err)
		}
		rec.Metrics = &m
	}

	if rec.Messages, err = s.getCallMessages(ctx, sessionID); err != nil {
		return nil, err
	}
	if rec.Transcript, err = s.getTranscript(ctx, sessionID); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *SQLiteStore) getCallMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content FROM call_messages WHERE session_id = ? ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		var m domain.Message
		var role string
		if err := rows.Scan(&role, &m.Content); err != nil {
			return nil, err
		}
		m.Role = domain.Role(role)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (s *SQLiteStore) getTranscript(ctx context.Context, sessionID string) ([]domain.TranscriptEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT speaker, text, ts FROM transcript_entries WHERE session_id = ? ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.TranscriptEntry
	for rows.Next() {
		var e domain.TranscriptEntry
		var speaker string
		var ts time.Time
		if err := rows.Scan(&speaker, &e.Text, &ts); err != nil {
			return nil, err
		}
		e.Speaker = domain.Speaker(speaker)
		e.Timestamp = ts
		e.Final = true
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullJSON(b []byte) sql.NullString {
	return sql.NullString{String: string(b), Valid: len(b) > 0}
}
