// Package chain is the HTTP client for the coordination service.
//
// Registration is unauthenticated. Every other request carries the agent's
// bearer token in Authorization and its id in X-Agent-ID:
//
//	POST /agents/register       RegisterRequest -> RegisterResponse
//	POST /agents/validate       validation decision
//	POST /transactions/propose  transaction proposal
//	POST /alliances/propose     alliance proposal
//	GET  /network/status        network summary
//
// Non-2xx replies become *APIError and unreachable hosts become
// *TransportError. IsRetryable treats transport failures, 429, and 5xx as
// worth another attempt.
package chain
