package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/hostbot/internal/domain"
	"github.com/ashureev/hostbot/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	writeAttempts  = 3
	writeBaseDelay = 50 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository. MemoryDSN keeps the
// database in process memory.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	inMemory := dbPath == MemoryDSN

	dsn := dbPath
	if !inMemory {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn = "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if inMemory {
		// Every connection to :memory: is a separate database; pin to one.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetMaxOpenConns(8)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS profiles (
		profile_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		locale TEXT NOT NULL,
		city TEXT NOT NULL DEFAULT '',
		sources_json TEXT NOT NULL,
		knowledge_json TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS ingestions (
		ingestion_id TEXT PRIMARY KEY,
		profile_id TEXT NOT NULL,
		status TEXT NOT NULL,
		sources_json TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_ingestions_profile ON ingestions(profile_id, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetProfile retrieves a profile by ID.
func (s *SQLiteStore) GetProfile(ctx context.Context, profileID string) (*domain.Profile, error) {
	query := `
		SELECT profile_id, name, locale, city, sources_json, knowledge_json, updated_at
		FROM profiles WHERE profile_id = ?`

	profile, err := scanProfile(s.db.QueryRowContext(ctx, query, profileID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// PutProfile replaces a profile wholesale.
func (s *SQLiteStore) PutProfile(ctx context.Context, profile *domain.Profile) error {
	sourcesJSON, knowledgeJSON, err := encodeProfile(profile)
	if err != nil {
		return err
	}

	return shared.RetryOnConflict(ctx, writeAttempts, writeBaseDelay, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin profile write: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		query := `
		INSERT INTO profiles (profile_id, name, locale, city, sources_json, knowledge_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(profile_id) DO UPDATE SET
			name = excluded.name,
			locale = excluded.locale,
			city = excluded.city,
			sources_json = excluded.sources_json,
			knowledge_json = excluded.knowledge_json,
			updated_at = excluded.updated_at`

		if _, err := tx.ExecContext(ctx, query,
			profile.ID, profile.Name, profile.Locale, profile.City,
			sourcesJSON, knowledgeJSON, profile.UpdatedAt.UnixMilli(),
		); err != nil {
			return fmt.Errorf("upsert profile: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit profile write: %w", err)
		}
		return nil
	})
}

// EnsureProfile writes profile only if its ID is not present yet.
func (s *SQLiteStore) EnsureProfile(ctx context.Context, profile *domain.Profile) (bool, error) {
	sourcesJSON, knowledgeJSON, err := encodeProfile(profile)
	if err != nil {
		return false, err
	}

	query := `
	INSERT INTO profiles (profile_id, name, locale, city, sources_json, knowledge_json, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(profile_id) DO NOTHING`

	result, err := s.db.ExecContext(ctx, query,
		profile.ID, profile.Name, profile.Locale, profile.City,
		sourcesJSON, knowledgeJSON, profile.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("insert profile: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return rows > 0, nil
}

// ListProfiles returns all profiles ordered by ID.
func (s *SQLiteStore) ListProfiles(ctx context.Context) ([]*domain.Profile, error) {
	query := `
		SELECT profile_id, name, locale, city, sources_json, knowledge_json, updated_at
		FROM profiles ORDER BY profile_id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query profiles: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close profile rows", "error", closeErr)
		}
	}()

	var profiles []*domain.Profile
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, profile)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profiles: %w", err)
	}
	return profiles, nil
}

// RecordIngestion appends an ingestion audit entry.
func (s *SQLiteStore) RecordIngestion(ctx context.Context, rec *domain.IngestionRecord) error {
	sourcesJSON, err := json.Marshal(nonNil(rec.Sources))
	if err != nil {
		return fmt.Errorf("encode ingestion sources: %w", err)
	}

	query := `
	INSERT INTO ingestions (ingestion_id, profile_id, status, sources_json, detail, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	return shared.RetryOnConflict(ctx, writeAttempts, writeBaseDelay, func() error {
		if _, err := s.db.ExecContext(ctx, query,
			rec.ID, rec.ProfileID, string(rec.Status), string(sourcesJSON), rec.Detail, rec.CreatedAt.UnixMilli(),
		); err != nil {
			return fmt.Errorf("insert ingestion: %w", err)
		}
		return nil
	})
}

// ListIngestions returns recent ingestion entries for a profile, newest first.
func (s *SQLiteStore) ListIngestions(ctx context.Context, profileID string, limit int) ([]*domain.IngestionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT ingestion_id, profile_id, status, sources_json, detail, created_at
		FROM ingestions WHERE profile_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, profileID, limit)
	if err != nil {
		return nil, fmt.Errorf("query ingestions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close ingestion rows", "error", closeErr)
		}
	}()

	var records []*domain.IngestionRecord
	for rows.Next() {
		var rec domain.IngestionRecord
		var status, sourcesJSON string
		var createdAt int64
		if err := rows.Scan(&rec.ID, &rec.ProfileID, &status, &sourcesJSON, &rec.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scan ingestion row: %w", err)
		}
		if err := json.Unmarshal([]byte(sourcesJSON), &rec.Sources); err != nil {
			return nil, fmt.Errorf("decode ingestion sources: %w", err)
		}
		rec.Status = domain.IngestionStatus(status)
		rec.CreatedAt = time.UnixMilli(createdAt).UTC()
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ingestions: %w", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*domain.Profile, error) {
	var profile domain.Profile
	var sourcesJSON, knowledgeJSON string
	var updatedAt int64

	err := row.Scan(
		&profile.ID, &profile.Name, &profile.Locale, &profile.City,
		&sourcesJSON, &knowledgeJSON, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan profile row: %w", err)
	}

	if err := json.Unmarshal([]byte(sourcesJSON), &profile.Sources); err != nil {
		return nil, fmt.Errorf("decode profile sources: %w", err)
	}
	if err := json.Unmarshal([]byte(knowledgeJSON), &profile.Knowledge); err != nil {
		return nil, fmt.Errorf("decode profile knowledge: %w", err)
	}
	profile.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &profile, nil
}

func encodeProfile(profile *domain.Profile) (string, string, error) {
	sourcesJSON, err := json.Marshal(nonNil(profile.Sources))
	if err != nil {
		return "", "", fmt.Errorf("encode profile sources: %w", err)
	}
	knowledgeJSON, err := json.Marshal(profile.Knowledge)
	if err != nil {
		return "", "", fmt.Errorf("encode profile knowledge: %w", err)
	}
	return string(sourcesJSON), string(knowledgeJSON), nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Ensure SQLiteStore implements Repository.
var _ Repository = (*SQLiteStore)(nil)
