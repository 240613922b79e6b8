// ABOUTME: Tests for decision payload types and the rule-based validator
// ABOUTME: Checks drama thresholds, block id fallbacks, and payload validation

package decision

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chaos-relay/internal/chain"
	"github.com/2389/chaos-relay/internal/event"
)

func decide(t *testing.T, raw string) ValidationDecision {
	t.Helper()
	p, err := Rules{}.Decide(context.Background(), event.Classify([]byte(raw)))
	require.NoError(t, err)
	require.Equal(t, FamilyValidation, p.Family)
	require.NoError(t, p.Validate())
	return p.Body.(ValidationDecision)
}

func TestRules_Decide(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		blockID  string
		approved bool
		drama    int
	}{
		{"dramatic block", `{"type":"VALIDATION_REQUIRED","block_id":"b1","drama_level":7}`, "b1", true, 8},
		{"threshold is exclusive", `{"type":"VALIDATION_REQUIRED","block_id":"b2","drama_level":5}`, "b2", false, 6},
		{"drama capped at ten", `{"type":"VALIDATION_REQUIRED","block_id":"b3","drama_level":10}`, "b3", true, 10},
		{"nested block object", `{"type":"VALIDATION_REQUIRED","block":{"height":42,"drama_level":9}}`, "42", true, 10},
		{"id fallback", `{"type":"VALIDATION_REQUIRED","id":"blk-7","drama_level":1}`, "blk-7", false, 2},
		{"missing everything", `{"type":"VALIDATION_REQUIRED"}`, "unknown", false, 1},
		{"negative drama clamped", `{"type":"VALIDATION_REQUIRED","block_id":"b4","drama_level":-3}`, "b4", false, 1},
		{"nested message envelope", `{"message":"{\"type\":\"VALIDATION_REQUIRED\",\"block_id\":\"b5\",\"drama_level\":6}"}`, "b5", true, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := decide(t, tt.raw)
			assert.Equal(t, tt.blockID, d.BlockID)
			assert.Equal(t, tt.approved, d.Approved)
			assert.Equal(t, tt.drama, d.DramaLevel)
			if tt.approved {
				assert.Equal(t, reasonApproved, d.Reason)
			} else {
				assert.Equal(t, reasonRejected, d.Reason)
			}
		})
	}
}

func TestRules_TextEventSkipped(t *testing.T) {
	ev := event.Classify([]byte("heads up: VALIDATION_REQUIRED"))
	require.Equal(t, event.KindDecisionRequired, ev.Kind)

	_, err := Rules{}.Decide(context.Background(), ev)
	assert.ErrorIs(t, err, ErrSkip)
}

func TestRules_BodyMarshalsWithWireNames(t *testing.T) {
	d := decide(t, `{"type":"VALIDATION_REQUIRED","block_id":"b1","drama_level":7}`)
	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, `{"block_id":"b1","approved":true,"reason":"This block is full of drama! ✅","drama_level":8}`, string(data))
}

func TestFamily_Endpoint(t *testing.T) {
	assert.Equal(t, chain.PathValidate, FamilyValidation.Endpoint())
	assert.Equal(t, chain.PathProposeTransaction, FamilyTransaction.Endpoint())
	assert.Equal(t, chain.PathProposeAlliance, FamilyAlliance.Endpoint())
	assert.Empty(t, Family("gossip").Endpoint())
}

func TestPayload_Validate(t *testing.T) {
	tests := []struct {
		name    string
		payload Payload
		wantErr bool
	}{
		{"valid validation", Payload{FamilyValidation, ValidationDecision{BlockID: "b", DramaLevel: 3}}, false},
		{"missing block id", Payload{FamilyValidation, ValidationDecision{DramaLevel: 3}}, true},
		{"drama out of range", Payload{FamilyValidation, ValidationDecision{BlockID: "b", DramaLevel: 11}}, true},
		{"unknown family", Payload{Family("gossip"), ValidationDecision{BlockID: "b", DramaLevel: 3}}, true},
		{"nil body", Payload{FamilyValidation, nil}, true},
		{"valid transaction", Payload{FamilyTransaction, TransactionProposal{Source: "cli", Content: "x", DramaLevel: 5, Tags: []string{}}}, false},
		{"transaction missing content", Payload{FamilyTransaction, TransactionProposal{Source: "cli", DramaLevel: 5}}, true},
		{"valid alliance", Payload{FamilyAlliance, AllianceProposal{Name: "Chaos Crew", AllyIDs: []string{"a2"}, DramaCommitment: 9}}, false},
		{"alliance without allies", Payload{FamilyAlliance, AllianceProposal{Name: "Lonely"}}, true},
		{"raw map body", Payload{FamilyTransaction, map[string]any{"source": "x"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.payload.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDeciderFunc(t *testing.T) {
	var got event.Event
	d := DeciderFunc(func(ctx context.Context, ev event.Event) (Payload, error) {
		got = ev
		return Payload{Family: FamilyAlliance}, nil
	})

	p, err := d.Decide(context.Background(), event.Event{ID: "e1"})
	require.NoError(t, err)
	assert.Equal(t, FamilyAlliance, p.Family)
	assert.Equal(t, "e1", got.ID)
}
