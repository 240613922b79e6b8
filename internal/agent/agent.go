// ABOUTME: Agent orchestrator that wires the store, chain client, stream, pump, and drain workflow
// ABOUTME: Registers once at startup, then runs the relay goroutines until the context ends

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"tailscale.com/tsnet"

	"github.com/2389/chaos-relay/internal/chain"
	"github.com/2389/chaos-relay/internal/config"
	"github.com/2389/chaos-relay/internal/credential"
	"github.com/2389/chaos-relay/internal/decision"
	"github.com/2389/chaos-relay/internal/dedupe"
	"github.com/2389/chaos-relay/internal/queue"
	"github.com/2389/chaos-relay/internal/relay"
	"github.com/2389/chaos-relay/internal/status"
	"github.com/2389/chaos-relay/internal/store"
	"github.com/2389/chaos-relay/internal/stream"
)

// ErrNotRegistered is returned by Submit when no usable credential is cached.
var ErrNotRegistered = errors.New("agent is not registered; run the register command first")

// Agent owns every relay component for one configured agent identity.
type Agent struct {
	config *config.Config
	logger *slog.Logger

	store      store.Store
	chain      *chain.Client
	cell       *credential.Cell
	creds      *credential.Manager
	queue      *queue.Pending
	supervisor *stream.Supervisor
	pump       *relay.Pump
	workflow   *relay.Workflow

	tsnetServer *tsnet.Server
	tsnetOnce   sync.Once
	tsnetErr    error

	httpServer *http.Server
	startedAt  time.Time
}

// New opens the SQLite store at cfg.Database.Path and builds an Agent.
func New(cfg *config.Config, logger *slog.Logger) (*Agent, error) {
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return NewWithStore(cfg, st, logger), nil
}

// NewWithStore builds an Agent on an existing store. The Agent closes it.
func NewWithStore(cfg *config.Config, st store.Store, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}

	a := &Agent{
		config: cfg,
		logger: logger.With("component", "agent"),
		store:  st,
		cell:   credential.NewCell(),
		queue:  queue.New(),
	}

	a.chain = chain.NewClient(cfg.Chain.APIURL, a.httpClient())
	a.creds = credential.NewManager(a.chain, st, a.cell, logger)

	wsDialer := &stream.WebSocketDialer{}
	if cfg.Tailscale.Enabled {
		wsDialer.NetDialContext = a.dialContext
	}
	a.supervisor = stream.New(stream.Options{
		Dialer:         wsDialer,
		ResolveURL:     a.streamURL,
		ReconnectDelay: cfg.Relay.ReconnectDelay,
		Logger:         logger,
	})

	var window *dedupe.Window
	if cfg.Relay.DedupeWindow > 0 {
		window = dedupe.NewWindow(cfg.Relay.DedupeWindow, cfg.Relay.DedupeMaxEntries)
	}
	a.pump = relay.NewPump(a.queue, window, logger)

	a.workflow = relay.NewWorkflow(relay.WorkflowOptions{
		Queue:     a.queue,
		Cell:      a.cell,
		Decider:   a.decider(logger),
		Submitter: a.chain,
		Recorder:  st,
		Interval:  cfg.Relay.DrainInterval,
		Retry: relay.RetryPolicy{
			MaxAttempts: cfg.Submission.MaxAttempts,
			Backoff:     cfg.Submission.RetryBackoff,
		},
		Logger: logger,
	})

	return a
}

// httpClient returns the client used for every chain request.
func (a *Agent) httpClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if a.config.Tailscale.Enabled {
		transport.DialContext = a.dialContext
		transport.Proxy = nil
	}
	return &http.Client{
		Timeout:   a.config.Submission.RequestTimeout,
		Transport: transport,
	}
}

func (a *Agent) decider(logger *slog.Logger) decision.Decider {
	if a.config.Decision.Mode != config.DecisionLLM {
		return decision.Rules{}
	}
	return decision.NewLLM(
		a.config.Decision.LLMURL,
		&http.Client{Timeout: a.config.Decision.LLMTimeout},
		decision.Persona{Name: a.config.Agent.Name, Style: a.config.Agent.Style},
		decision.Rules{},
		logger,
	)
}

func (a *Agent) character() credential.Character {
	ag := a.config.Agent
	return credential.Character{
		Name:        ag.Name,
		Personality: ag.Personality,
		Style:       ag.Style,
		StakeAmount: ag.StakeAmount,
		Role:        ag.Role,
	}
}

// streamURL is re-evaluated before every dial.
func (a *Agent) streamURL() (string, error) {
	cred, _ := a.cell.Get()
	return stream.BuildURL(a.config.Chain.WSURL, cred.AgentID, cred.Token, a.config.Agent.StakeAmount)
}

// Run registers, starts the relay goroutines, and blocks until ctx is done
// or the status server fails. Registration failure is returned unless
// listen-only mode is configured.
func (a *Agent) Run(ctx context.Context) error {
	a.startedAt = time.Now()

	if err := a.ensureTailscale(ctx); err != nil {
		return err
	}

	reuse := a.config.Agent.Registration != config.RegistrationAlways
	if _, err := a.creds.EnsureRegistered(ctx, a.character(), reuse); err != nil {
		if !a.config.Agent.ListenOnlyOnFailure {
			return fmt.Errorf("registration failed: %w", err)
		}
		a.logger.Warn("registration failed, running listen-only", "error", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpErr := a.startStatusServer(ctx)

	var wg sync.WaitGroup
	run := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("component stopped", "component", name, "error", err)
			}
		}()
	}

	run("stream", func() error { return a.supervisor.Run(ctx) })
	run("pump", func() error { return a.pump.Run(ctx, a.supervisor.Notifications()) })
	run("workflow", func() error { return a.workflow.Run(ctx) })

	a.logger.Info("relay running",
		"agent", a.config.Agent.Name,
		"ws_url", a.config.Chain.WSURL,
		"api_url", a.config.Chain.APIURL,
	)

	var serverErr error
	select {
	case <-ctx.Done():
	case serverErr = <-httpErr:
		a.logger.Error("status server failed, stopping relay", "error", serverErr)
		cancel()
	}

	wg.Wait()
	shutdownErr := a.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// startStatusServer serves the status endpoints if an address is configured.
// The returned channel receives a serve error, if any.
func (a *Agent) startStatusServer(ctx context.Context) <-chan error {
	errCh := make(chan error, 1)
	addr := a.config.Status.HTTPAddr
	if addr == "" {
		return errCh
	}

	ln, err := a.listen(addr)
	if err != nil {
		errCh <- fmt.Errorf("listening on %s: %w", addr, err)
		return errCh
	}

	a.httpServer = &http.Server{
		Handler:           status.NewHandler(a, a.logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	a.logger.Info("status server listening", "addr", ln.Addr().String())

	go func() {
		if err := a.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("status server: %w", err)
		}
	}()
	return errCh
}

func (a *Agent) listen(addr string) (net.Listener, error) {
	if a.tsnetServer != nil {
		return a.tsnetServer.Listen("tcp", addr)
	}
	return net.Listen("tcp", addr)
}

// gracefulShutdown uses a fresh context since the run context is already cancelled.
func (a *Agent) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.Shutdown(ctx)
}

// Shutdown stops the status server and releases the store and tailnet node.
func (a *Agent) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down relay", "queued", a.queue.Len())

	var errs []error
	if a.httpServer != nil {
		errs = appendCloseError(errs, "HTTP shutdown", a.httpServer.Shutdown(ctx))
	}
	return errors.Join(append(errs, a.closeResources()...)...)
}

// Close releases the store and tailnet node. Used by one-shot commands.
func (a *Agent) Close() error {
	return errors.Join(a.closeResources()...)
}

func (a *Agent) closeResources() []error {
	var errs []error
	if a.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", a.tsnetServer.Close())
		a.tsnetServer = nil
	}
	if a.store != nil {
		errs = appendCloseError(errs, "store close", a.store.Close())
		a.store = nil
	}
	return errs
}

func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Register performs a registration for the configured character. With
// force unset, a usable cached credential is returned instead.
func (a *Agent) Register(ctx context.Context, force bool) (credential.Credential, error) {
	if err := a.ensureTailscale(ctx); err != nil {
		return credential.Credential{}, err
	}
	return a.creds.EnsureRegistered(ctx, a.character(), !force)
}

// Submit posts a single payload with the cached credential.
func (a *Agent) Submit(ctx context.Context, p decision.Payload) (json.RawMessage, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", p.Family, err)
	}
	if err := a.ensureTailscale(ctx); err != nil {
		return nil, err
	}

	cred, ok := a.cell.Get()
	if !ok {
		restored, found, err := a.creds.Restore(ctx, a.config.Agent.Name)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, ErrNotRegistered
		}
		cred = restored
	}

	return a.chain.Submit(ctx, p.Family.Endpoint(), cred.AgentID, cred.Token, p.Body)
}

// NetworkStatus fetches the service's network summary.
func (a *Agent) NetworkStatus(ctx context.Context) (map[string]any, error) {
	if err := a.ensureTailscale(ctx); err != nil {
		return nil, err
	}
	return a.chain.NetworkStatus(ctx)
}

// Snapshot implements status.Source.
func (a *Agent) Snapshot(ctx context.Context) status.Snapshot {
	cred, ok := a.cell.Get()
	snap := status.Snapshot{
		AgentName:     a.config.Agent.Name,
		AgentID:       cred.AgentID,
		HasCredential: ok,
		StreamState:   a.supervisor.State().String(),
		StreamAttempt: a.supervisor.Attempts(),
		QueueDepth:    a.queue.Len(),
		Pump:          a.pump.Stats(),
		Workflow:      a.workflow.Stats(),
		StartedAt:     a.startedAt,
		Uptime:        time.Since(a.startedAt).Truncate(time.Second).String(),
	}

	if a.store != nil {
		if counts, err := a.store.CountSubmissions(ctx); err == nil {
			snap.Submissions = make(map[string]int, len(counts))
			for k, v := range counts {
				snap.Submissions[string(k)] = v
			}
		}
	}
	return snap
}
