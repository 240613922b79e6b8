// Package credential registers the agent with the coordination service and
// holds the resulting identity.
//
// # Overview
//
// A Credential is the {agent id, token} pair issued by POST /agents/register.
// The Manager performs registration once at startup and writes the result
// into a Cell, which the stream supervisor reads when building its
// connection URL and the submission workflow reads before every POST.
//
// The SQLite credential cache is the single source of truth across restarts.
// EnsureRegistered reuses a cached credential unless its JWT exp claim has
// passed, and registers otherwise. There is no automatic re-registration
// while running: repeated authorization failures require a restart.
package credential
