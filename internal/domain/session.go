package domain

import (
	"time"
)

// Role tags a turn in a transcript.
type Role string

const (
	// RoleSystem is the leading instruction turn.
	RoleSystem Role = "system"
	// RoleUser is a message from the guest.
	RoleUser Role = "user"
	// RoleAssistant is a model reply.
	RoleAssistant Role = "assistant"
)

// Turn is a single role-tagged message.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// IngestionStatus is the outcome of one ingestion attempt.
type IngestionStatus string

const (
	IngestionSucceeded   IngestionStatus = "succeeded"
	IngestionParseFailed IngestionStatus = "parse_failed"
	IngestionFailed      IngestionStatus = "failed"
)

// IngestionRecord is an audit entry for an ingestion attempt.
type IngestionRecord struct {
	ID        string          `json:"id"`
	ProfileID string          `json:"profileId"`
	Status    IngestionStatus `json:"status"`
	Sources   []string        `json:"sources"`
	Detail    string          `json:"detail,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}
