// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows relay and credential tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu          sync.RWMutex
	credentials map[string]*Credential // keyed by agent name
	submissions []Submission

	// SaveErr, when set, is returned by SaveCredential.
	SaveErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		credentials: make(map[string]*Credential),
	}
}

// SaveCredential stores a copy of c.
func (m *MockStore) SaveCredential(ctx context.Context, c *Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SaveErr != nil {
		return m.SaveErr
	}
	c.UpdatedAt = time.Now().UTC()
	cp := *c
	m.credentials[c.AgentName] = &cp
	return nil
}

// GetCredential returns a copy of the stored credential.
func (m *MockStore) GetCredential(ctx context.Context, agentName string) (*Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.credentials[agentName]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// DeleteCredential removes the stored credential.
func (m *MockStore) DeleteCredential(ctx context.Context, agentName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.credentials, agentName)
	return nil
}

// RecordSubmission appends a submission.
func (m *MockStore) RecordSubmission(ctx context.Context, s *Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	if s.Attempts == 0 {
		s.Attempts = 1
	}
	m.submissions = append(m.submissions, *s)
	return nil
}

// ListSubmissions returns matching submissions newest first.
func (m *MockStore) ListSubmissions(ctx context.Context, f SubmissionFilter) ([]Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Submission
	for _, s := range m.submissions {
		if f.Status != nil && s.Status != *f.Status {
			continue
		}
		if f.Since != nil && s.CreatedAt.Before(*f.Since) {
			continue
		}
		out = append(out, s)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if limit := normalizeLimit(f.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountSubmissions returns totals keyed by status.
func (m *MockStore) CountSubmissions(ctx context.Context) (map[SubmissionStatus]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[SubmissionStatus]int)
	for _, s := range m.submissions {
		counts[s.Status]++
	}
	return counts, nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

// Compile-time interface checks
var (
	_ Store = (*MockStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
