// ABOUTME: Rule-based validator: approves blocks dramatic enough and raises the drama
// ABOUTME: Deterministic; used alone or as the LLM decider's fallback

package decision

import (
	"context"

	"github.com/tidwall/gjson"

	"github.com/2389/chaos-relay/internal/event"
)

// approvalThreshold is the drama level a block must exceed to be approved.
const approvalThreshold = 5

const (
	reasonApproved = "This block is full of drama! ✅"
	reasonRejected = "Not dramatic enough. ❌"
)

// Rules decides validations from the block's own drama_level.
type Rules struct{}

// Decide returns a ValidationDecision for the block carried by ev.
// Text-only events carry no block and are skipped.
func (Rules) Decide(ctx context.Context, ev event.Event) (Payload, error) {
	if len(ev.Body) == 0 {
		return Payload{}, ErrSkip
	}

	block := Block(ev.Body)
	drama := int(block.Get("drama_level").Int())
	approved := drama > approvalThreshold

	reason := reasonRejected
	if approved {
		reason = reasonApproved
	}

	return Payload{
		Family: FamilyValidation,
		Body: ValidationDecision{
			BlockID:    BlockID(block),
			Approved:   approved,
			Reason:     reason,
			DramaLevel: clampDrama(drama + 1),
		},
	}, nil
}

// Block returns the block inside an event body: the "block" object when
// present, otherwise the body itself.
func Block(body []byte) gjson.Result {
	if b := gjson.GetBytes(body, "block"); b.IsObject() {
		return b
	}
	return gjson.ParseBytes(body)
}

// BlockID returns block_id, then id, then height, or "unknown".
func BlockID(block gjson.Result) string {
	for _, path := range []string{"block_id", "id", "height"} {
		if v := block.Get(path); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return "unknown"
}

func clampDrama(level int) int {
	switch {
	case level < 1:
		return 1
	case level > 10:
		return 10
	default:
		return level
	}
}
