// Package event classifies frames pushed by the coordination service.
//
// # Overview
//
// The service pushes three payload forms, represented by Shape:
//
//   - ShapeEnvelope: a JSON object with a "type" field
//     ({"type":"VALIDATION_REQUIRED","block_id":"b1",...})
//   - ShapeText: a plain text frame containing the marker VALIDATION_REQUIRED
//   - ShapeNested: a JSON object whose "message" string holds either of the above
//
// Classify tries a structured parse first, falls back to the text marker, and
// unwraps nested message fields. It is pure: the same bytes always produce the
// same Kind, Shape, Type, and Body.
//
// Only KindDecisionRequired events are worth queueing; everything else is
// KindUnknown and is logged by the relay before being discarded.
package event
