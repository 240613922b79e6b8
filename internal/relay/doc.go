// Package relay connects the stream to the coordination service's request API.
//
// # Overview
//
// Two goroutines share the pending queue:
//
//   - Pump reads stream notifications, classifies each message, and pushes
//     decision requests onto the queue. It never performs network I/O.
//   - Workflow wakes on a fixed interval, drains the queue, and handles each
//     event in order: re-queue it if no credential is set, otherwise ask the
//     Decider for a payload and POST it to the family's endpoint.
//
// A failed submission is logged, audited, and dropped. RetryPolicy allows a
// bounded number of resubmissions for transport errors, 429, and 5xx; the
// default is a single attempt.
package relay
