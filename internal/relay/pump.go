// ABOUTME: Connection-side consumer that classifies pushed frames and enqueues decision requests
// ABOUTME: Never touches the network; unknown pushes are logged and discarded

package relay

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/2389/chaos-relay/internal/decision"
	"github.com/2389/chaos-relay/internal/dedupe"
	"github.com/2389/chaos-relay/internal/event"
	"github.com/2389/chaos-relay/internal/queue"
	"github.com/2389/chaos-relay/internal/stream"
)

// PumpStats counts what the pump has seen.
type PumpStats struct {
	Received   int64 `json:"received"`
	Enqueued   int64 `json:"enqueued"`
	Discarded  int64 `json:"discarded"`
	Duplicates int64 `json:"duplicates"`
	Errors     int64 `json:"errors"`
}

// Pump moves stream messages into the pending queue.
type Pump struct {
	queue  *queue.Pending
	window *dedupe.Window // nil disables duplicate suppression
	logger *slog.Logger

	received   atomic.Int64
	enqueued   atomic.Int64
	discarded  atomic.Int64
	duplicates atomic.Int64
	errors     atomic.Int64

	now func() time.Time
}

// NewPump creates a pump feeding q. window may be nil.
func NewPump(q *queue.Pending, window *dedupe.Window, logger *slog.Logger) *Pump {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pump{
		queue:  q,
		window: window,
		logger: logger.With("component", "pump"),
		now:    time.Now,
	}
}

// Run consumes notifications until the feed closes or ctx is cancelled.
func (p *Pump) Run(ctx context.Context, notifications <-chan stream.Notification) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-notifications:
			if !ok {
				return nil
			}
			p.Handle(n)
		}
	}
}

// Handle processes one notification.
func (p *Pump) Handle(n stream.Notification) {
	switch n.Kind {
	case stream.NotifyMessage:
		p.Offer(n.Payload)
	case stream.NotifyError:
		p.errors.Add(1)
		p.logger.Debug("stream error", "attempt", n.Attempt, "error", n.Err)
	case stream.NotifyOpen, stream.NotifyClose:
		p.logger.Debug("stream transition", "kind", n.Kind, "attempt", n.Attempt)
	}
}

// Offer classifies raw and enqueues it if it is a decision request. It
// returns the classified event and whether it was enqueued.
func (p *Pump) Offer(raw []byte) (event.Event, bool) {
	p.received.Add(1)

	ev := event.Classify(raw)
	if ev.Kind != event.KindDecisionRequired {
		p.discarded.Add(1)
		p.logger.Info("discarding push", "kind", ev.Kind, "shape", ev.Shape, "type", ev.Type, "bytes", len(raw))
		return ev, false
	}

	if key := dedupeKey(ev); key != "" && p.window != nil && p.window.Observe(key) {
		p.duplicates.Add(1)
		p.logger.Info("suppressing duplicate decision request", "block_id", key)
		return ev, false
	}

	ev.ID = uuid.New().String()
	ev.ReceivedAt = p.now()
	p.queue.Push(ev)
	p.enqueued.Add(1)

	p.logger.Debug("enqueued decision request", "event_id", ev.ID, "shape", ev.Shape, "depth", p.queue.Len())
	return ev, true
}

// Stats returns a snapshot of the pump counters.
func (p *Pump) Stats() PumpStats {
	return PumpStats{
		Received:   p.received.Load(),
		Enqueued:   p.enqueued.Load(),
		Discarded:  p.discarded.Load(),
		Duplicates: p.duplicates.Load(),
		Errors:     p.errors.Load(),
	}
}

// dedupeKey is the block id, or empty when the event names no block.
func dedupeKey(ev event.Event) string {
	if len(ev.Body) == 0 {
		return ""
	}
	id := decision.BlockID(decision.Block(ev.Body))
	if id == "unknown" {
		return ""
	}
	return id
}
