// ABOUTME: Registers the agent with the coordination service and manages its credential
// ABOUTME: Reuses a cached credential across restarts unless told to register fresh

package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/chaos-relay/internal/chain"
	"github.com/2389/chaos-relay/internal/store"
)

// Registration errors
var (
	ErrIncompleteCredential = errors.New("registration response missing agent_id or token")
	ErrNoName               = errors.New("character name is required")
)

// Registrar submits a registration request. *chain.Client satisfies it.
type Registrar interface {
	Register(ctx context.Context, req chain.RegisterRequest) (*chain.RegisterResponse, error)
}

// Cache persists credentials across restarts. store.Store satisfies it.
type Cache interface {
	SaveCredential(ctx context.Context, c *store.Credential) error
	GetCredential(ctx context.Context, agentName string) (*store.Credential, error)
}

// Character is the identity the agent registers with.
type Character struct {
	Name        string
	Personality []string
	Style       string
	StakeAmount int64
	Role        string
}

// Request builds the registration body for the character.
func (c Character) Request() chain.RegisterRequest {
	personality := c.Personality
	if personality == nil {
		personality = []string{}
	}
	return chain.RegisterRequest{
		Name:        c.Name,
		Personality: personality,
		Style:       c.Style,
		StakeAmount: c.StakeAmount,
		Role:        c.Role,
	}
}

// Manager performs registration and publishes the result into a Cell.
type Manager struct {
	registrar Registrar
	cache     Cache // may be nil
	cell      *Cell
	logger    *slog.Logger
	now       func() time.Time
}

// NewManager creates a Manager. cache may be nil to disable persistence.
func NewManager(registrar Registrar, cache Cache, cell *Cell, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		registrar: registrar,
		cache:     cache,
		cell:      cell,
		logger:    logger.With("component", "credential"),
		now:       time.Now,
	}
}

// Cell returns the cell the manager writes to.
func (m *Manager) Cell() *Cell {
	return m.cell
}

// Register performs a fresh registration for ch. On success the credential
// is stored in the cell and written to the cache. A cache write failure is
// logged; the credential is still usable for this process.
func (m *Manager) Register(ctx context.Context, ch Character) (Credential, error) {
	if ch.Name == "" {
		return Credential{}, ErrNoName
	}

	m.logger.Info("registering agent", "name", ch.Name, "role", ch.Role, "stake", ch.StakeAmount)

	resp, err := m.registrar.Register(ctx, ch.Request())
	if err != nil {
		return Credential{}, fmt.Errorf("registering agent %q: %w", ch.Name, err)
	}

	cred := Credential{AgentID: resp.AgentID, Token: resp.Token}
	if !cred.Valid() {
		return Credential{}, ErrIncompleteCredential
	}

	m.cell.Set(cred)

	if m.cache != nil {
		if err := m.cache.SaveCredential(ctx, &store.Credential{
			AgentName: ch.Name,
			AgentID:   cred.AgentID,
			Token:     cred.Token,
		}); err != nil {
			m.logger.Warn("failed to cache credential", "name", ch.Name, "error", err)
		}
	}

	m.logger.Info("agent registered", "name", ch.Name, "agent_id", cred.AgentID)
	return cred, nil
}

// Restore loads a cached credential for name into the cell. It reports false
// when nothing usable is cached: no entry, an incomplete entry, or a JWT
// whose exp has passed.
func (m *Manager) Restore(ctx context.Context, name string) (Credential, bool, error) {
	if m.cache == nil {
		return Credential{}, false, nil
	}

	cached, err := m.cache.GetCredential(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return Credential{}, false, nil
	}
	if err != nil {
		return Credential{}, false, fmt.Errorf("loading cached credential: %w", err)
	}

	cred := Credential{AgentID: cached.AgentID, Token: cached.Token}
	if !cred.Valid() {
		return Credential{}, false, nil
	}
	if Expired(cred.Token, m.now()) {
		m.logger.Info("cached credential expired", "name", name, "agent_id", cred.AgentID)
		return Credential{}, false, nil
	}

	m.cell.Set(cred)
	m.logger.Info("restored cached credential", "name", name, "agent_id", cred.AgentID)
	return cred, true, nil
}

// EnsureRegistered makes a credential available in the cell. With reuse set
// it first tries the cache and registers only when nothing usable is there.
func (m *Manager) EnsureRegistered(ctx context.Context, ch Character, reuse bool) (Credential, error) {
	if reuse {
		cred, ok, err := m.Restore(ctx, ch.Name)
		if err != nil {
			m.logger.Warn("credential cache unavailable, registering", "error", err)
		}
		if ok {
			return cred, nil
		}
	}
	return m.Register(ctx, ch)
}
