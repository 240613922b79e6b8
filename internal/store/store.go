// ABOUTME: Store interface and data types for chaos-relay persistence
// ABOUTME: Defines the cached agent credential and the submission audit record

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Credential is the identity issued to an agent by the coordination service.
type Credential struct {
	AgentName string // configured name; the cache key
	AgentID   string
	Token     string
	UpdatedAt time.Time
}

// SubmissionStatus records how a decision submission ended.
type SubmissionStatus string

const (
	SubmissionSucceeded SubmissionStatus = "succeeded"
	SubmissionFailed    SubmissionStatus = "failed"
	SubmissionRequeued  SubmissionStatus = "requeued"
	SubmissionSkipped   SubmissionStatus = "skipped"
)

// Submission is one audited attempt to deliver a decision for an event.
type Submission struct {
	ID         string // UUID v4
	EventID    string
	Family     string // validation, transaction, alliance
	Endpoint   string
	Status     SubmissionStatus
	HTTPStatus int // 0 when no response was received
	Attempts   int
	Error      string
	CreatedAt  time.Time
}

// SubmissionFilter narrows ListSubmissions.
type SubmissionFilter struct {
	Status *SubmissionStatus
	Since  *time.Time
	Limit  int // default 100, max 1000
}

// Store is the persistence surface used by the relay.
type Store interface {
	// SaveCredential inserts or replaces the credential for an agent name.
	SaveCredential(ctx context.Context, c *Credential) error

	// GetCredential returns the cached credential, or ErrNotFound.
	GetCredential(ctx context.Context, agentName string) (*Credential, error)

	// DeleteCredential removes a cached credential. Missing entries are not an error.
	DeleteCredential(ctx context.Context, agentName string) error

	// RecordSubmission appends a submission to the audit table.
	RecordSubmission(ctx context.Context, s *Submission) error

	// ListSubmissions returns submissions newest first.
	ListSubmissions(ctx context.Context, f SubmissionFilter) ([]Submission, error)

	// CountSubmissions returns totals keyed by status.
	CountSubmissions(ctx context.Context) (map[SubmissionStatus]int, error)

	Close() error
}
