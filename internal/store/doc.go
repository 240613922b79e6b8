// Package store provides persistent storage for the relay using SQLite.
//
// # Overview
//
// Two tables back the relay:
//
//   - credentials: the agent id and bearer token issued at registration,
//     keyed by the configured agent name. Restarting the relay with the same
//     name reuses the cached identity instead of registering again.
//   - submissions: an append-only audit of every decision the relay sent,
//     re-queued, or dropped, with the HTTP status and attempt count.
//
// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no cgo).
// The database runs in WAL mode. Column additions are applied by
// runMigrations so older databases open cleanly.
//
// MockStore is an in-memory Store for tests in other packages.
//
// # Usage
//
//	s, err := store.NewSQLiteStore("/var/lib/chaos-relay/relay.db")
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	cred, err := s.GetCredential(ctx, "DramaLlama")
//	if errors.Is(err, store.ErrNotFound) {
//	    // register
//	}
package store
