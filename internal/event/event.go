// ABOUTME: Inbound push event types and the classifier that derives their kind
// ABOUTME: Handles raw text, JSON envelopes, and envelopes nested in a message field

package event

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// ValidationRequired is the wire marker for a decision request, both as the
// envelope "type" value and as a substring in text pushes.
const ValidationRequired = "VALIDATION_REQUIRED"

// maxNestingDepth bounds how many message-in-message layers are unwrapped.
const maxNestingDepth = 4

// Kind is the symbolic classification of an inbound push.
type Kind string

const (
	KindDecisionRequired Kind = "decision_required"
	KindUnknown          Kind = "unknown"
)

func (k Kind) String() string { return string(k) }

// Shape records which accepted payload form a push arrived in.
type Shape string

const (
	// ShapeText is a non-JSON text frame.
	ShapeText Shape = "text"
	// ShapeEnvelope is a JSON value read directly (normally an object with "type").
	ShapeEnvelope Shape = "envelope"
	// ShapeNested is a JSON object whose "message" string carried the payload.
	ShapeNested Shape = "nested"
)

// Event is one classified inbound push. It is not modified after Classify
// returns, apart from the pump stamping ID and ReceivedAt before enqueueing.
type Event struct {
	ID         string
	Kind       Kind
	Shape      Shape
	Type       string          // envelope "type" field, empty when absent
	Raw        []byte          // frame as received
	Body       json.RawMessage // parsed object for the decision function; nil for text
	ReceivedAt time.Time
}

// Classify derives the kind of a raw frame. It never panics and never fails:
// anything it cannot interpret is KindUnknown.
func Classify(raw []byte) Event {
	ev := classify(raw, 0)
	ev.Raw = raw
	return ev
}

func classify(data []byte, depth int) Event {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || !gjson.ValidBytes(trimmed) {
		return classifyText(string(data))
	}

	res := gjson.ParseBytes(trimmed)
	switch {
	case res.IsObject():
		return classifyObject(trimmed, res, depth)
	case res.Type == gjson.String:
		// A JSON-encoded string carries text; classify what it says.
		if depth >= maxNestingDepth {
			return Event{Kind: KindUnknown, Shape: ShapeEnvelope}
		}
		return classify([]byte(res.Str), depth+1)
	default:
		return Event{Kind: KindUnknown, Shape: ShapeEnvelope}
	}
}

func classifyObject(data []byte, res gjson.Result, depth int) Event {
	body := json.RawMessage(append([]byte(nil), data...))

	if t := res.Get("type"); truthy(t) {
		ev := Event{Kind: KindUnknown, Shape: ShapeEnvelope, Type: t.String(), Body: body}
		if t.Type == gjson.String && t.Str == ValidationRequired {
			ev.Kind = KindDecisionRequired
		}
		return ev
	}

	msg := res.Get("message")
	if msg.Type != gjson.String || depth >= maxNestingDepth {
		return Event{Kind: KindUnknown, Shape: ShapeEnvelope, Body: body}
	}

	inner := classify([]byte(msg.Str), depth+1)
	ev := Event{Kind: inner.Kind, Shape: ShapeNested, Type: inner.Type, Body: inner.Body}
	if ev.Body == nil {
		// Text inside the message field; hand the outer object to the decider.
		ev.Body = body
	}
	return ev
}

// truthy reports whether a field counts as set. Absent, null, false, 0 and
// "" do not, so an empty type still falls through to the message field.
func truthy(r gjson.Result) bool {
	switch r.Type {
	case gjson.Null, gjson.False:
		return false
	case gjson.Number:
		return r.Num != 0
	case gjson.String:
		return r.Str != ""
	default:
		return r.Exists()
	}
}

func classifyText(s string) Event {
	ev := Event{Kind: KindUnknown, Shape: ShapeText}
	if strings.Contains(s, ValidationRequired) {
		ev.Kind = KindDecisionRequired
	}
	return ev
}
