// ABOUTME: LLM-backed validator that asks a text generation endpoint for a decision
// ABOUTME: Any failure (transport, status, unparseable reply) falls back to another Decider

package decision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/2389/chaos-relay/internal/event"
)

// GeneratePath is the text generation endpoint, relative to the LLM base URL.
const GeneratePath = "/api/generate"

const validatorPrompt = `You are %s, a validator in ChaosChain. Your style is %s.
Evaluate the block provided and return your decision as valid JSON matching this structure:
{
  "block_id": string,    // the block's "block_id" or "id", otherwise its height as a string
  "approved": boolean,
  "reason": string,      // a dramatic reason for the decision
  "drama_level": number, // 1 to 10
  "meme_url": string     // optional; omit if not applicable
}
Do not output any additional text or markdown formatting.

Block data: %s`

// Persona flavors the prompt.
type Persona struct {
	Name  string
	Style string
}

// LLM asks a generation server for validation decisions.
type LLM struct {
	baseURL  string
	client   *http.Client
	persona  Persona
	fallback Decider
	logger   *slog.Logger
}

// NewLLM creates an LLM decider. A nil fallback uses Rules.
func NewLLM(baseURL string, client *http.Client, persona Persona, fallback Decider, logger *slog.Logger) *LLM {
	if client == nil {
		client = http.DefaultClient
	}
	if fallback == nil {
		fallback = Rules{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LLM{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		client:   client,
		persona:  persona,
		fallback: fallback,
		logger:   logger.With("component", "decision.llm"),
	}
}

// Decide asks the model, falling back on any failure.
func (l *LLM) Decide(ctx context.Context, ev event.Event) (Payload, error) {
	if len(ev.Body) == 0 {
		return Payload{}, ErrSkip
	}

	block := Block(ev.Body)
	decision, err := l.generate(ctx, block.Raw)
	if err != nil {
		l.logger.Warn("llm decision failed, using fallback", "event_id", ev.ID, "error", err)
		return l.fallback.Decide(ctx, ev)
	}

	if decision.BlockID == "" {
		decision.BlockID = BlockID(block)
	}
	decision.DramaLevel = clampDrama(decision.DramaLevel)

	return Payload{Family: FamilyValidation, Body: decision}, nil
}

func (l *LLM) generate(ctx context.Context, block string) (ValidationDecision, error) {
	prompt := fmt.Sprintf(validatorPrompt, l.persona.Name, l.persona.Style, block)

	body, err := json.Marshal(map[string]string{"prompt": prompt})
	if err != nil {
		return ValidationDecision{}, fmt.Errorf("marshaling prompt: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+GeneratePath, bytes.NewReader(body))
	if err != nil {
		return ValidationDecision{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return ValidationDecision{}, fmt.Errorf("calling llm: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return ValidationDecision{}, fmt.Errorf("llm returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ValidationDecision{}, fmt.Errorf("decoding llm response: %w", err)
	}

	var decision ValidationDecision
	if err := json.Unmarshal([]byte(stripFences(out.Response)), &decision); err != nil {
		return ValidationDecision{}, fmt.Errorf("parsing llm decision: %w", err)
	}
	return decision, nil
}

// stripFences removes a surrounding ```json block if the model added one.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
