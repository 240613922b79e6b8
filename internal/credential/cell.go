// ABOUTME: Shared credential cell read by the stream and the submission workflow
// ABOUTME: Single writer at registration, many readers; replaced wholesale

package credential

import "sync"

// Credential is the identity pair that authenticates outbound requests.
type Credential struct {
	AgentID string
	Token   string
}

// Valid reports whether both halves are present.
func (c Credential) Valid() bool {
	return c.AgentID != "" && c.Token != ""
}

// Cell holds the current credential. The zero value is an empty cell.
type Cell struct {
	mu   sync.RWMutex
	cred Credential
	set  bool
}

// NewCell creates an empty cell.
func NewCell() *Cell {
	return &Cell{}
}

// Get returns the credential and whether one is set.
func (c *Cell) Get() (Credential, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cred, c.set
}

// Set replaces the credential. An invalid credential clears the cell.
func (c *Cell) Set(cred Credential) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !cred.Valid() {
		c.cred, c.set = Credential{}, false
		return
	}
	c.cred, c.set = cred, true
}

// Clear empties the cell.
func (c *Cell) Clear() {
	c.mu.Lock()
	c.cred, c.set = Credential{}, false
	c.mu.Unlock()
}
