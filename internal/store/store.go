// Package store provides the profile registry and its SQLite implementation.
package store

import (
	"context"

	"github.com/ashureev/hostbot/internal/domain"
)

// MemoryDSN selects a process-local database that does not survive restarts.
const MemoryDSN = ":memory:"

// Repository defines the interface for profile and ingestion bookkeeping.
type Repository interface {
	// GetProfile retrieves a profile by ID. It returns nil, nil when absent.
	GetProfile(ctx context.Context, profileID string) (*domain.Profile, error)

	// PutProfile replaces a profile wholesale in a single transaction.
	PutProfile(ctx context.Context, profile *domain.Profile) error

	// EnsureProfile writes profile only if no entry exists for its ID.
	// It reports whether a write happened.
	EnsureProfile(ctx context.Context, profile *domain.Profile) (bool, error)

	// ListProfiles returns all profiles ordered by ID.
	ListProfiles(ctx context.Context) ([]*domain.Profile, error)

	// RecordIngestion appends an ingestion audit entry.
	RecordIngestion(ctx context.Context, rec *domain.IngestionRecord) error

	// ListIngestions returns the most recent ingestion entries for a profile, newest first.
	ListIngestions(ctx context.Context, profileID string, limit int) ([]*domain.IngestionRecord, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
