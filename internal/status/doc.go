// Package status serves the relay's local operations endpoints:
//
//   - GET /health - liveness
//   - GET /health/ready - 200 when the stream is open and a credential is set
//   - GET /status - JSON snapshot of stream, queue, and submission counters
package status
