// ABOUTME: Builds the streaming endpoint URL with the credential handshake parameters
// ABOUTME: http(s) bases are rewritten to ws(s)

package stream

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// WSPath is appended to the configured stream base.
const WSPath = "/api/ws"

// BuildURL returns {base}/api/ws?token=&agent_id=&stake=. Empty token or
// agentID are omitted, which connects in listen-only mode.
func BuildURL(base, agentID, token string, stake int64) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing stream base url: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported stream url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("stream url %q has no host", base)
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + WSPath

	q := u.Query()
	if token != "" {
		q.Set("token", token)
	}
	if agentID != "" {
		q.Set("agent_id", agentID)
	}
	q.Set("stake", strconv.FormatInt(stake, 10))
	u.RawQuery = q.Encode()

	return u.String(), nil
}
