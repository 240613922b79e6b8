// Package decision produces the payloads the relay submits in response to
// decision-required events.
//
// Rules is the deterministic validator. LLM asks a text generation server
// and falls back to Rules when the model is unreachable or answers with
// something that is not a decision. Proposal payloads are built by the CLI.
package decision
