// ABOUTME: Decision payload types and the Decider interface used by the relay
// ABOUTME: A payload names its family, which selects the submission endpoint

package decision

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/chaos-relay/internal/chain"
	"github.com/2389/chaos-relay/internal/event"
)

// ErrSkip is returned by a Decider that has nothing to submit for an event.
var ErrSkip = errors.New("no decision for event")

// Family groups payloads that share a submission endpoint.
type Family string

const (
	FamilyValidation  Family = "validation"
	FamilyTransaction Family = "transaction"
	FamilyAlliance    Family = "alliance"
)

// Endpoint returns the API path payloads of this family are posted to.
func (f Family) Endpoint() string {
	switch f {
	case FamilyValidation:
		return chain.PathValidate
	case FamilyTransaction:
		return chain.PathProposeTransaction
	case FamilyAlliance:
		return chain.PathProposeAlliance
	default:
		return ""
	}
}

// Payload is a decision ready to submit. Body is marshaled as JSON.
type Payload struct {
	Family Family
	Body   any
}

// Validate checks that the payload can be submitted.
func (p Payload) Validate() error {
	if p.Family.Endpoint() == "" {
		return fmt.Errorf("unknown decision family %q", p.Family)
	}
	if p.Body == nil {
		return errors.New("decision body is empty")
	}
	if v, ok := p.Body.(interface{ Validate() error }); ok {
		return v.Validate()
	}
	return nil
}

// Decider turns a decision-required event into a payload.
type Decider interface {
	Decide(ctx context.Context, ev event.Event) (Payload, error)
}

// DeciderFunc adapts a function to the Decider interface.
type DeciderFunc func(ctx context.Context, ev event.Event) (Payload, error)

// Decide calls f.
func (f DeciderFunc) Decide(ctx context.Context, ev event.Event) (Payload, error) {
	return f(ctx, ev)
}

// ValidationDecision is the body of POST /agents/validate.
type ValidationDecision struct {
	BlockID    string `json:"block_id"`
	Approved   bool   `json:"approved"`
	Reason     string `json:"reason"`
	DramaLevel int    `json:"drama_level"`
	MemeURL    string `json:"meme_url,omitempty"`
}

// Validate checks required fields and the drama range.
func (d ValidationDecision) Validate() error {
	if d.BlockID == "" {
		return errors.New("validation decision requires block_id")
	}
	return checkDrama(d.DramaLevel)
}

// TransactionProposal is the body of POST /transactions/propose.
type TransactionProposal struct {
	Source        string   `json:"source"`
	SourceURL     string   `json:"source_url,omitempty"`
	Content       string   `json:"content"`
	DramaLevel    int      `json:"drama_level"`
	Justification string   `json:"justification"`
	Tags          []string `json:"tags"`
}

// Validate checks required fields and the drama range.
func (p TransactionProposal) Validate() error {
	if p.Source == "" || p.Content == "" {
		return errors.New("transaction proposal requires source and content")
	}
	return checkDrama(p.DramaLevel)
}

// AllianceProposal is the body of POST /alliances/propose.
type AllianceProposal struct {
	Name            string   `json:"name"`
	Purpose         string   `json:"purpose"`
	AllyIDs         []string `json:"ally_ids"`
	DramaCommitment uint8    `json:"drama_commitment"`
}

// Validate checks required fields.
func (p AllianceProposal) Validate() error {
	if p.Name == "" {
		return errors.New("alliance proposal requires a name")
	}
	if len(p.AllyIDs) == 0 {
		return errors.New("alliance proposal requires at least one ally")
	}
	return nil
}

func checkDrama(level int) error {
	if level < 1 || level > 10 {
		return fmt.Errorf("drama_level %d out of range 1-10", level)
	}
	return nil
}
