// ABOUTME: Tests for the connection supervisor reconnect loop and notification feed
// ABOUTME: Uses a scripted fake dialer plus a real gorilla/websocket server over httptest

package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn replays scripted reads. When the script runs out it either ends
// the session (io.EOF) or blocks until closed.
type fakeConn struct {
	reads   []func() ([]byte, error)
	hold    bool
	closed  chan struct{}
	once    sync.Once
	onClose func()
}

func newFakeConn(hold bool, reads ...func() ([]byte, error)) *fakeConn {
	return &fakeConn{reads: reads, hold: hold, closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	if len(c.reads) > 0 {
		next := c.reads[0]
		c.reads = c.reads[1:]
		return next()
	}
	if c.hold {
		<-c.closed
		return nil, net.ErrClosed
	}
	return nil, io.EOF
}

func (c *fakeConn) Close() error {
	c.once.Do(func() {
		close(c.closed)
		if c.onClose != nil {
			c.onClose()
		}
	})
	return nil
}

// fakeDialer hands out connections from a factory and tracks how many are live.
type fakeDialer struct {
	mu         sync.Mutex
	urls       []string
	active     atomic.Int32
	overlapped atomic.Bool
	next       func(n int) (Conn, error)
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	d.urls = append(d.urls, url)
	n := len(d.urls)
	d.mu.Unlock()

	if d.active.Load() != 0 {
		d.overlapped.Store(true)
	}
	conn, err := d.next(n)
	if err != nil {
		return nil, err
	}
	fc := conn.(*fakeConn)
	d.active.Add(1)
	fc.onClose = func() { d.active.Add(-1) }
	return fc, nil
}

func (d *fakeDialer) dialed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}

// collect drains notifications until the feed closes.
func collect(s *Supervisor) <-chan []Notification {
	out := make(chan []Notification, 1)
	go func() {
		var all []Notification
		for n := range s.Notifications() {
			all = append(all, n)
		}
		out <- all
	}()
	return out
}

// take reads exactly n notifications or fails the test.
func take(t *testing.T, s *Supervisor, n int) []Notification {
	t.Helper()
	var got []Notification
	for len(got) < n {
		select {
		case note, ok := <-s.Notifications():
			if !ok {
				t.Fatalf("feed closed after %d notifications", len(got))
			}
			got = append(got, note)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out after %d notifications", len(got))
		}
	}
	return got
}

func kinds(ns []Notification) []NotificationKind {
	out := make([]NotificationKind, len(ns))
	for i, n := range ns {
		out[i] = n.Kind
	}
	return out
}

func staticURL(u string) func() (string, error) {
	return func() (string, error) { return u, nil }
}

func TestSupervisor_ReconnectsAfterEachClose(t *testing.T) {
	const closes = 5
	const delay = 7 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opened := make(chan struct{})
	dialer := &fakeDialer{next: func(n int) (Conn, error) {
		if n <= closes {
			return newFakeConn(false), nil
		}
		close(opened)
		return newFakeConn(true), nil
	}}

	s := New(Options{Dialer: dialer, ResolveURL: staticURL("ws://chain/api/ws"), ReconnectDelay: delay})

	var mu sync.Mutex
	var waits []time.Duration
	s.after = func(d time.Duration) <-chan time.Time {
		mu.Lock()
		waits = append(waits, d)
		mu.Unlock()
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	}

	feed := collect(s)
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	select {
	case <-opened:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not reach the final connection")
	}
	require.Eventually(t, func() bool { return s.State() == StateOpen }, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
	notifications := <-feed

	assert.Equal(t, int64(closes+1), s.Attempts())
	assert.Len(t, dialer.dialed(), closes+1)
	assert.False(t, dialer.overlapped.Load(), "two connections were live at once")
	assert.Equal(t, int32(0), dialer.active.Load())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, waits, closes)
	for _, w := range waits {
		assert.Equal(t, delay, w)
	}

	var closeCount int
	for _, n := range notifications {
		if n.Kind == NotifyClose {
			closeCount++
		}
	}
	assert.Equal(t, closes, closeCount)
	assert.Equal(t, StateClosed, s.State())
}

func TestSupervisor_DialFailureWaitsAndRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dialErr := errors.New("connection refused")
	opened := make(chan struct{})
	dialer := &fakeDialer{next: func(n int) (Conn, error) {
		if n == 1 {
			return nil, dialErr
		}
		close(opened)
		return newFakeConn(true), nil
	}}

	s := New(Options{Dialer: dialer, ResolveURL: staticURL("ws://x")})
	var waited atomic.Int32
	s.after = func(d time.Duration) <-chan time.Time {
		assert.Equal(t, DefaultReconnectDelay, d)
		waited.Add(1)
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	}

	feed := collect(s)
	go func() { _ = s.Run(ctx) }()

	<-opened
	require.Eventually(t, func() bool { return s.State() == StateOpen }, time.Second, 5*time.Millisecond)
	cancel()
	notifications := <-feed

	require.GreaterOrEqual(t, len(notifications), 3)
	assert.Equal(t, []NotificationKind{NotifyError, NotifyClose, NotifyOpen}, kinds(notifications[:3]))
	assert.ErrorIs(t, notifications[0].Err, dialErr)
	assert.Equal(t, int64(1), notifications[0].Attempt)
	assert.Equal(t, int64(2), notifications[2].Attempt)
	assert.Equal(t, int32(1), waited.Load())
}

func TestSupervisor_MalformedFrameKeepsConnection(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dialer := &fakeDialer{next: func(n int) (Conn, error) {
		if n > 1 {
			return newFakeConn(true), nil
		}
		return newFakeConn(false,
			func() ([]byte, error) { return nil, fmt.Errorf("%w: binary", ErrMalformedFrame) },
			func() ([]byte, error) { return []byte("VALIDATION_REQUIRED"), nil },
		), nil
	}}

	s := New(Options{Dialer: dialer, ResolveURL: staticURL("ws://x")})
	block := make(chan time.Time)
	s.after = func(time.Duration) <-chan time.Time { return block }

	go func() { _ = s.Run(ctx) }()
	notifications := take(t, s, 4)

	assert.Equal(t, []NotificationKind{NotifyOpen, NotifyError, NotifyMessage, NotifyClose}, kinds(notifications))
	assert.ErrorIs(t, notifications[1].Err, ErrMalformedFrame)
	assert.Equal(t, "VALIDATION_REQUIRED", string(notifications[2].Payload))
	assert.ErrorIs(t, notifications[3].Err, io.EOF)
	assert.Equal(t, int64(1), s.Attempts())
}

func TestSupervisor_ResolvesURLPerAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	resolve := func() (string, error) {
		n := calls.Add(1)
		return fmt.Sprintf("ws://x/api/ws?token=t%d", n), nil
	}

	opened := make(chan struct{})
	dialer := &fakeDialer{next: func(n int) (Conn, error) {
		if n == 2 {
			close(opened)
			return newFakeConn(true), nil
		}
		return newFakeConn(false), nil
	}}

	s := New(Options{Dialer: dialer, ResolveURL: resolve})
	s.after = func(time.Duration) <-chan time.Time {
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	}
	feed := collect(s)
	go func() { _ = s.Run(ctx) }()

	<-opened
	cancel()
	<-feed

	assert.Equal(t, []string{"ws://x/api/ws?token=t1", "ws://x/api/ws?token=t2"}, dialer.dialed())
}

func TestSupervisor_ResolveFailureCountsAsFailedAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dialer := &fakeDialer{next: func(int) (Conn, error) { return newFakeConn(true), nil }}
	s := New(Options{
		Dialer:     dialer,
		ResolveURL: func() (string, error) { return "", errors.New("no base") },
	})
	block := make(chan time.Time)
	s.after = func(time.Duration) <-chan time.Time { return block }

	go func() { _ = s.Run(ctx) }()
	notifications := take(t, s, 2)

	assert.Equal(t, []NotificationKind{NotifyError, NotifyClose}, kinds(notifications))
	assert.Contains(t, notifications[0].Err.Error(), "resolving stream url")
	assert.Empty(t, dialer.dialed())
}

func TestSupervisor_RunTwice(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(Options{
		Dialer:     &fakeDialer{next: func(int) (Conn, error) { return newFakeConn(true), nil }},
		ResolveURL: staticURL("ws://x"),
	})
	go func() { _ = s.Run(ctx) }()
	require.Eventually(t, func() bool { return s.State() == StateOpen }, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, s.Run(ctx), ErrAlreadyRunning)
}

func TestSupervisor_WebSocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	release := make(chan struct{})
	var gotQuery atomic.Value

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery.Store(r.URL.RawQuery)
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"VALIDATION_REQUIRED","block_id":"b1"}`))
		_ = ws.WriteMessage(websocket.BinaryMessage, []byte{0xff, 0xfe, 0xfd})
		_ = ws.WriteMessage(websocket.BinaryMessage, []byte("VALIDATION_REQUIRED"))
		<-release
	}))
	defer srv.Close()
	defer close(release)

	url, err := BuildURL(srv.URL, "agent-1", "tok-1", 1000)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "ws://"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(Options{Dialer: &WebSocketDialer{}, ResolveURL: staticURL(url)})
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	got := take(t, s, 4)

	assert.Equal(t, []NotificationKind{NotifyOpen, NotifyMessage, NotifyError, NotifyMessage}, kinds(got))
	assert.JSONEq(t, `{"type":"VALIDATION_REQUIRED","block_id":"b1"}`, string(got[1].Payload))
	assert.ErrorIs(t, got[2].Err, ErrMalformedFrame)
	assert.Equal(t, "VALIDATION_REQUIRED", string(got[3].Payload))
	assert.Equal(t, "agent_id=agent-1&stake=1000&token=tok-1", gotQuery.Load())

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWebSocketDialer_HandshakeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := (&WebSocketDialer{}).Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestStateAndKindStrings(t *testing.T) {
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "message", NotifyMessage.String())
	assert.Equal(t, "NotificationKind(9)", NotificationKind(9).String())
}
