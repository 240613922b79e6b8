// ABOUTME: Connection supervisor that owns the single streaming connection to the service
// ABOUTME: Publishes typed notifications and reconnects after a fixed delay, forever

package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// DefaultReconnectDelay is the wait between a close and the next dial.
const DefaultReconnectDelay = 5 * time.Second

const defaultBufferSize = 64

var (
	// ErrMalformedFrame marks a frame that could not be delivered as a
	// message. It is reported as a NotifyError and the connection stays up.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrAlreadyRunning is returned when Run is called on a running supervisor.
	ErrAlreadyRunning = errors.New("supervisor already running")
)

// State is the lifecycle state of the current connection.
type State int32

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// NotificationKind tags a Notification.
type NotificationKind int

const (
	NotifyOpen NotificationKind = iota
	NotifyMessage
	NotifyError
	NotifyClose
)

func (k NotificationKind) String() string {
	switch k {
	case NotifyOpen:
		return "open"
	case NotifyMessage:
		return "message"
	case NotifyError:
		return "error"
	case NotifyClose:
		return "close"
	default:
		return fmt.Sprintf("NotificationKind(%d)", int(k))
	}
}

// Notification is one lifecycle or data event from the supervisor.
type Notification struct {
	Kind    NotificationKind
	Payload []byte // NotifyMessage only
	Err     error  // NotifyError, and NotifyClose when the connection failed
	Attempt int64  // connection attempt that produced it, starting at 1
	At      time.Time
}

// Conn is one established streaming session.
type Conn interface {
	// ReadMessage blocks for the next message. An error wrapping
	// ErrMalformedFrame is not fatal; any other error ends the session.
	ReadMessage() ([]byte, error)
	Close() error
}

// Dialer opens streaming sessions.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Options configures a Supervisor.
type Options struct {
	Dialer Dialer

	// ResolveURL is called before every dial so credential changes are
	// picked up on reconnect.
	ResolveURL func() (string, error)

	ReconnectDelay time.Duration
	BufferSize     int
	Logger         *slog.Logger
}

// Supervisor owns at most one connection at a time. Run is the only place
// that dials.
type Supervisor struct {
	dialer     Dialer
	resolveURL func() (string, error)
	delay      time.Duration
	logger     *slog.Logger

	notifications chan Notification
	state         atomic.Int32
	attempts      atomic.Int64
	running       atomic.Bool

	after func(time.Duration) <-chan time.Time
}

// New creates a Supervisor. Zero options take their defaults.
func New(opts Options) *Supervisor {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Supervisor{
		dialer:        opts.Dialer,
		resolveURL:    opts.ResolveURL,
		delay:         opts.ReconnectDelay,
		logger:        opts.Logger.With("component", "stream"),
		notifications: make(chan Notification, opts.BufferSize),
		after:         time.After,
	}
}

// Notifications returns the feed. It is closed when Run returns.
func (s *Supervisor) Notifications() <-chan Notification {
	return s.notifications
}

// State returns the current connection state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Attempts returns how many connection attempts have been made.
func (s *Supervisor) Attempts() int64 {
	return s.attempts.Load()
}

// Run connects and keeps reconnecting until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(s.notifications)

	for {
		s.session(ctx)

		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.logger.Info("reconnecting", "delay", s.delay, "next_attempt", s.attempts.Load()+1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.after(s.delay):
		}
	}
}

// session runs one connection attempt from dial to close.
func (s *Supervisor) session(ctx context.Context) {
	attempt := s.attempts.Add(1)
	s.state.Store(int32(StateConnecting))

	conn, err := s.dial(ctx)
	if err != nil {
		s.state.Store(int32(StateClosed))
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("connection attempt failed", "attempt", attempt, "error", err)
		s.emit(ctx, Notification{Kind: NotifyError, Err: err, Attempt: attempt})
		s.emit(ctx, Notification{Kind: NotifyClose, Err: err, Attempt: attempt})
		return
	}

	s.state.Store(int32(StateOpen))
	s.logger.Info("=== STREAM CONNECTED ===", "attempt", attempt)
	s.emit(ctx, Notification{Kind: NotifyOpen, Attempt: attempt})

	// Unblock ReadMessage when ctx is cancelled.
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	var readErr error
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			if errors.Is(err, ErrMalformedFrame) {
				s.logger.Warn("dropping malformed frame", "attempt", attempt, "error", err)
				s.emit(ctx, Notification{Kind: NotifyError, Err: err, Attempt: attempt})
				continue
			}
			readErr = err
			break
		}
		s.emit(ctx, Notification{Kind: NotifyMessage, Payload: data, Attempt: attempt})
	}

	close(done)
	conn.Close()
	s.state.Store(int32(StateClosed))

	if ctx.Err() != nil {
		s.logger.Info("=== STREAM CLOSED ===", "attempt", attempt, "reason", "shutdown")
		return
	}
	s.logger.Warn("=== STREAM CLOSED ===", "attempt", attempt, "error", readErr)
	s.emit(ctx, Notification{Kind: NotifyClose, Err: readErr, Attempt: attempt})
}

func (s *Supervisor) dial(ctx context.Context) (Conn, error) {
	url, err := s.resolveURL()
	if err != nil {
		return nil, fmt.Errorf("resolving stream url: %w", err)
	}
	conn, err := s.dialer.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dialing stream: %w", err)
	}
	return conn, nil
}

// emit delivers n. Once ctx is cancelled it only delivers if the buffer
// has room.
func (s *Supervisor) emit(ctx context.Context, n Notification) {
	n.At = time.Now()
	select {
	case s.notifications <- n:
		return
	default:
	}
	select {
	case s.notifications <- n:
	case <-ctx.Done():
	}
}
