// ABOUTME: Periodic drain cycle that decides and submits queued events in FIFO order
// ABOUTME: Gated on the credential cell; submission failures are logged, audited, and dropped

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/chaos-relay/internal/chain"
	"github.com/2389/chaos-relay/internal/credential"
	"github.com/2389/chaos-relay/internal/decision"
	"github.com/2389/chaos-relay/internal/event"
	"github.com/2389/chaos-relay/internal/queue"
	"github.com/2389/chaos-relay/internal/store"
)

// DefaultInterval is the time between drain cycles.
const DefaultInterval = 5 * time.Second

// Submitter posts an authenticated decision. *chain.Client satisfies it.
type Submitter interface {
	Submit(ctx context.Context, path, agentID, token string, body any) (json.RawMessage, error)
}

// Recorder audits submission outcomes. store.Store satisfies it.
type Recorder interface {
	RecordSubmission(ctx context.Context, s *store.Submission) error
}

// RetryPolicy controls resubmission of a failed decision within one cycle.
// Only transport failures, 429 and 5xx are retried.
type RetryPolicy struct {
	MaxAttempts int // 1 means no retry
	Backoff     time.Duration
}

// CycleReport summarizes one drain cycle.
type CycleReport struct {
	Drained   int `json:"drained"`
	Submitted int `json:"submitted"`
	Requeued  int `json:"requeued"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// WorkflowStats accumulates cycle reports.
type WorkflowStats struct {
	Cycles    int64     `json:"cycles"`
	Submitted int64     `json:"submitted"`
	Requeued  int64     `json:"requeued"`
	Failed    int64     `json:"failed"`
	Skipped   int64     `json:"skipped"`
	LastCycle time.Time `json:"last_cycle,omitzero"`
}

// WorkflowOptions configures a Workflow. Recorder may be nil.
type WorkflowOptions struct {
	Queue     *queue.Pending
	Cell      *credential.Cell
	Decider   decision.Decider
	Submitter Submitter
	Recorder  Recorder
	Interval  time.Duration
	Retry     RetryPolicy
	Logger    *slog.Logger
}

// Workflow drains the pending queue on a fixed interval.
type Workflow struct {
	queue     *queue.Pending
	cell      *credential.Cell
	decider   decision.Decider
	submitter Submitter
	recorder  Recorder
	interval  time.Duration
	retry     RetryPolicy
	logger    *slog.Logger

	// cycle serializes Tick; only one drain runs at a time.
	cycle sync.Mutex
	// requeued holds ids of events already audited as re-queued.
	requeued map[string]struct{}

	cycles    atomic.Int64
	submitted atomic.Int64
	requeues  atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
	lastCycle atomic.Int64 // unix nanos

	after func(time.Duration) <-chan time.Time
}

// NewWorkflow creates a Workflow.
func NewWorkflow(opts WorkflowOptions) *Workflow {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Retry.MaxAttempts < 1 {
		opts.Retry.MaxAttempts = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Workflow{
		queue:     opts.Queue,
		cell:      opts.Cell,
		decider:   opts.Decider,
		submitter: opts.Submitter,
		recorder:  opts.Recorder,
		interval:  opts.Interval,
		retry:     opts.Retry,
		logger:    opts.Logger.With("component", "workflow"),
		requeued:  make(map[string]struct{}),
		after:     time.After,
	}
}

// Run ticks until ctx is cancelled.
func (w *Workflow) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("drain loop started", "interval", w.interval, "max_attempts", w.retry.MaxAttempts)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick runs one drain cycle: every event queued at the start of the cycle is
// decided and submitted in order, re-queued, or dropped.
func (w *Workflow) Tick(ctx context.Context) CycleReport {
	w.cycle.Lock()
	defer w.cycle.Unlock()

	var report CycleReport
	events := w.queue.DrainAll()
	report.Drained = len(events)
	if len(events) == 0 {
		return report
	}

	w.logger.Debug("draining", "events", len(events))

	for i, ev := range events {
		if ctx.Err() != nil {
			// Shutting down; keep what was not reached.
			for _, rest := range events[i:] {
				w.queue.Push(rest)
			}
			report.Requeued += len(events) - i
			break
		}
		w.process(ctx, ev, &report)
	}

	w.cycles.Add(1)
	w.submitted.Add(int64(report.Submitted))
	w.requeues.Add(int64(report.Requeued))
	w.failed.Add(int64(report.Failed))
	w.skipped.Add(int64(report.Skipped))
	w.lastCycle.Store(time.Now().UnixNano())

	w.logger.Info("drain cycle complete",
		"drained", report.Drained,
		"submitted", report.Submitted,
		"requeued", report.Requeued,
		"failed", report.Failed,
		"skipped", report.Skipped,
	)
	return report
}

func (w *Workflow) process(ctx context.Context, ev event.Event, report *CycleReport) {
	cred, ok := w.cell.Get()
	if !ok {
		w.queue.Push(ev)
		report.Requeued++
		if _, seen := w.requeued[ev.ID]; !seen {
			w.requeued[ev.ID] = struct{}{}
			w.logger.Warn("no credential, re-queued event", "event_id", ev.ID, "kind", ev.Kind)
			w.record(ctx, ev, "", "", store.SubmissionRequeued, 0, 0, nil)
		}
		return
	}
	delete(w.requeued, ev.ID)

	payload, err := w.decider.Decide(ctx, ev)
	if errors.Is(err, decision.ErrSkip) {
		report.Skipped++
		w.logger.Info("no decision for event", "event_id", ev.ID, "shape", ev.Shape)
		w.record(ctx, ev, "", "", store.SubmissionSkipped, 0, 0, nil)
		return
	}
	if err == nil {
		err = payload.Validate()
	}
	if err != nil {
		report.Failed++
		w.logger.Error("decision failed, dropping event", "event_id", ev.ID, "kind", ev.Kind, "error", err)
		w.record(ctx, ev, payload.Family, payload.Family.Endpoint(), store.SubmissionFailed, 0, 0, err)
		return
	}

	endpoint := payload.Family.Endpoint()
	attempts, err := w.submit(ctx, endpoint, cred, payload.Body)
	if err != nil {
		report.Failed++
		w.logger.Error("submission failed, dropping event",
			"event_id", ev.ID,
			"kind", ev.Kind,
			"endpoint", endpoint,
			"attempts", attempts,
			"status", chain.StatusCode(err),
			"error", err,
		)
		if chain.IsUnauthorized(err) {
			w.logger.Error("credential rejected; restart the relay to register again", "agent_id", cred.AgentID)
		}
		w.record(ctx, ev, payload.Family, endpoint, store.SubmissionFailed, chain.StatusCode(err), attempts, err)
		return
	}

	report.Submitted++
	w.logger.Info("decision submitted", "event_id", ev.ID, "family", payload.Family, "endpoint", endpoint, "attempts", attempts)
	w.record(ctx, ev, payload.Family, endpoint, store.SubmissionSucceeded, 0, attempts, nil)
}

// submit posts body, retrying per the policy. It returns the attempts made.
func (w *Workflow) submit(ctx context.Context, endpoint string, cred credential.Credential, body any) (int, error) {
	for attempt := 1; ; attempt++ {
		_, err := w.submitter.Submit(ctx, endpoint, cred.AgentID, cred.Token, body)
		if err == nil {
			return attempt, nil
		}
		if attempt >= w.retry.MaxAttempts || !chain.IsRetryable(err) {
			return attempt, err
		}

		w.logger.Warn("submission failed, retrying",
			"endpoint", endpoint,
			"attempt", attempt,
			"backoff", w.retry.Backoff,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return attempt, err
		case <-w.after(w.retry.Backoff):
		}
	}
}

func (w *Workflow) record(ctx context.Context, ev event.Event, family decision.Family, endpoint string, status store.SubmissionStatus, httpStatus, attempts int, cause error) {
	if w.recorder == nil {
		return
	}
	sub := &store.Submission{
		EventID:    ev.ID,
		Family:     string(family),
		Endpoint:   endpoint,
		Status:     status,
		HTTPStatus: httpStatus,
		Attempts:   attempts,
	}
	if sub.Family == "" {
		sub.Family = string(decision.FamilyValidation)
	}
	if cause != nil {
		sub.Error = cause.Error()
	}
	// The audit row outlives a cancelled cycle.
	if err := w.recorder.RecordSubmission(context.WithoutCancel(ctx), sub); err != nil {
		w.logger.Warn("failed to record submission", "event_id", ev.ID, "error", err)
	}
}

// Stats returns cumulative counters.
func (w *Workflow) Stats() WorkflowStats {
	s := WorkflowStats{
		Cycles:    w.cycles.Load(),
		Submitted: w.submitted.Load(),
		Requeued:  w.requeues.Load(),
		Failed:    w.failed.Load(),
		Skipped:   w.skipped.Load(),
	}
	if ns := w.lastCycle.Load(); ns != 0 {
		s.LastCycle = time.Unix(0, ns)
	}
	return s
}
