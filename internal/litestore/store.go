// Package litestore implements the prediction and user stores on a single SQLite
// file. It backs the lite server, which runs without PostgreSQL or Redis.
package litestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/mri-screening-server/internal/domain"
)

// timeLayout is fixed width so that text comparison orders timestamps.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const dateLayout = "2006-01-02"

// Store implements domain.PredictionStore and domain.UserStore using SQLite.
type Store struct {
	db     *sql.DB
	dbPath string
	log    *logrus.Logger
}

// Open creates the database file and schema if they don't exist.
func Open(dbPath string, logger *logrus.Logger) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	logger.WithField("path", dbPath).Info("SQLite store opened")

	return newStore(db, dbPath, logger), nil
}

func newStore(db *sql.DB, dbPath string, logger *logrus.Logger) *Store {
	return &Store{
		db:     db,
		dbPath: dbPath,
		log:    logger,
	}
}

// createSchema creates the database tables and indexes.
func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		user_type TEXT NOT NULL CHECK (user_type IN ('admin', 'doctor', 'patient')),
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		is_active INTEGER NOT NULL DEFAULT 1,
		specialization TEXT NOT NULL DEFAULT '',
		license_number TEXT NOT NULL DEFAULT '',
		experience_years INTEGER NOT NULL DEFAULT 0,
		approved_by_admin INTEGER NOT NULL DEFAULT 0,
		date_of_birth TEXT,
		gender TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS predictions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		patient_id TEXT NOT NULL REFERENCES users(id),
		doctor_id TEXT REFERENCES users(id),
		appointment_id TEXT,
		image_path TEXT NOT NULL,
		image_name TEXT NOT NULL DEFAULT '',
		prediction_result TEXT NOT NULL CHECK (prediction_result IN ('tumor_detected', 'no_tumor', 'inconclusive')),
		confidence_score REAL NOT NULL CHECK (confidence_score >= 0 AND confidence_score <= 1),
		prediction_details TEXT NOT NULL DEFAULT '{}',
		model_version TEXT NOT NULL,
		reviewed_by_doctor INTEGER NOT NULL DEFAULT 0,
		doctor_notes TEXT NOT NULL DEFAULT '',
		final_diagnosis TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending_review' CHECK (status IN ('pending_review', 'reviewed', 'confirmed')),
		created_at TEXT NOT NULL,
		reviewed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_users_user_type ON users(user_type);
	CREATE INDEX IF NOT EXISTS idx_predictions_patient ON predictions(patient_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_predictions_doctor ON predictions(doctor_id, created_at);
	`

	_, err := db.Exec(schema)
	return err
}

// Ping reports whether the database file is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.dbPath
}

// Close closes the store and releases resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// classify maps driver errors onto the domain error kinds.
func classify(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return fmt.Errorf("%s: %w", op, domain.ErrConflict)
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return fmt.Errorf("%s: %w", op, domain.NewValidationError("", "referenced user does not exist", nil))
	case strings.Contains(msg, "CHECK constraint failed"):
		return fmt.Errorf("%s: %w", op, domain.NewValidationError("", "value out of range", nil))
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStorageUnavailable, err)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
