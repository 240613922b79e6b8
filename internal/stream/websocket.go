// ABOUTME: gorilla/websocket implementation of the stream Dialer and Conn
// ABOUTME: Accepts text frames and UTF-8 binary frames; other binary frames are malformed

package stream

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	maxMessageBytes         = 1 << 20
)

// WebSocketDialer dials WebSocket sessions. The zero value dials over the
// host network.
type WebSocketDialer struct {
	// NetDialContext replaces the TCP dialer, e.g. with a tailnet dialer.
	NetDialContext   func(ctx context.Context, network, addr string) (net.Conn, error)
	HandshakeTimeout time.Duration
	Header           http.Header
}

// Dial performs the WebSocket handshake against url.
func (d *WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}

	dialer := websocket.Dialer{
		NetDialContext:   d.NetDialContext,
		HandshakeTimeout: timeout,
	}
	if d.NetDialContext == nil {
		dialer.Proxy = http.ProxyFromEnvironment
	}

	ws, resp, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake returned status %d: %w", resp.StatusCode, err)
		}
		return nil, err
	}
	ws.SetReadLimit(maxMessageBytes)

	return &wsConn{ws: ws}, nil
}

type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	typ, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	if typ == websocket.BinaryMessage && !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: %d-byte binary frame", ErrMalformedFrame, len(data))
	}
	return data, nil
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}
