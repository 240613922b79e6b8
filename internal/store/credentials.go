// ABOUTME: Credential cache persistence for registered agent identities
// ABOUTME: One row per agent name so restarts reuse the issued token

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SaveCredential inserts or replaces the credential for c.AgentName.
// Sets UpdatedAt to now.
func (s *SQLiteStore) SaveCredential(ctx context.Context, c *Credential) error {
	if c.AgentName == "" {
		return errors.New("credential agent name is required")
	}
	c.UpdatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (agent_name, agent_id, token, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(agent_name) DO UPDATE SET
			agent_id = excluded.agent_id,
			token = excluded.token,
			updated_at = excluded.updated_at
	`, c.AgentName, c.AgentID, c.Token, c.UpdatedAt.Format(timeLayout))
	if err != nil {
		return fmt.Errorf("saving credential: %w", err)
	}

	s.logger.Debug("saved credential", "agent_name", c.AgentName, "agent_id", c.AgentID)
	return nil
}

// GetCredential returns the cached credential for agentName.
func (s *SQLiteStore) GetCredential(ctx context.Context, agentName string) (*Credential, error) {
	var c Credential
	var updated string

	err := s.db.QueryRowContext(ctx, `
		SELECT agent_name, agent_id, token, updated_at
		FROM credentials
		WHERE agent_name = ?
	`, agentName).Scan(&c.AgentName, &c.AgentID, &c.Token, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying credential: %w", err)
	}

	c.UpdatedAt, err = time.Parse(timeLayout, updated)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &c, nil
}

// DeleteCredential removes the cached credential for agentName.
func (s *SQLiteStore) DeleteCredential(ctx context.Context, agentName string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE agent_name = ?`, agentName); err != nil {
		return fmt.Errorf("deleting credential: %w", err)
	}
	return nil
}
