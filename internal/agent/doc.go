// Package agent runs one relay agent end to end.
//
// # Overview
//
// An Agent wires the pieces together:
//
//	store (SQLite) ──► credential.Manager ──► credential.Cell
//	                                              │
//	stream.Supervisor ──► relay.Pump ──► queue ──► relay.Workflow ──► chain.Client
//
// Run brings up the optional tailnet node, registers (or restores a cached
// credential), starts the status server, and then runs the supervisor, the
// pump, and the drain workflow until the context is cancelled.
//
// # Registration failure
//
// A failed registration ends Run with an error. With
// agent.listen_only_on_failure set the relay keeps the stream open without
// a credential; decision requests accumulate in the queue and are re-queued
// every cycle until a restart registers successfully.
//
// # One-shot commands
//
// Register, Submit, and NetworkStatus serve the CLI's register, propose,
// ally, and network commands without starting the stream.
package agent
