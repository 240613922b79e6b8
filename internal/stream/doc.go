// Package stream maintains the agent's single push connection to the
// coordination service.
//
// # Overview
//
// A Supervisor dials through a Dialer, reads messages until the connection
// fails, then waits a fixed delay and dials again. There is no backoff growth
// and no attempt limit. Every lifecycle transition and every message is
// published on Notifications as a typed Notification, so the consumer never
// runs inside the read loop.
//
// The URL is re-resolved before each dial, so a credential that appears after
// startup is used on the next reconnect.
//
// WebSocketDialer is the production Dialer, built on gorilla/websocket. Its
// NetDialContext hook lets the agent route the connection over a tailnet.
package stream
