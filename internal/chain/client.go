// ABOUTME: HTTP client for the coordination service's request API
// ABOUTME: Registers agents and submits authenticated decisions as JSON POSTs

package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// API paths, relative to the configured api_url.
const (
	PathRegister           = "/agents/register"
	PathValidate           = "/agents/validate"
	PathProposeTransaction = "/transactions/propose"
	PathProposeAlliance    = "/alliances/propose"
	PathNetworkStatus      = "/network/status"
)

// HeaderAgentID carries the agent identity next to the bearer token.
const HeaderAgentID = "X-Agent-ID"

// maxErrorBody caps how much of a failed response is kept for the error.
const maxErrorBody = 4096

// ErrMissingCredential is returned when a submission is attempted without
// an agent id or token.
var ErrMissingCredential = errors.New("missing agent credential")

// RegisterRequest is the body of POST /agents/register.
type RegisterRequest struct {
	Name        string   `json:"name"`
	Personality []string `json:"personality"`
	Style       string   `json:"style"`
	StakeAmount int64    `json:"stake_amount"`
	Role        string   `json:"role"`
}

// RegisterResponse is the body returned by a successful registration.
type RegisterResponse struct {
	AgentID string `json:"agent_id"`
	Token   string `json:"token"`
}

// Client communicates with the coordination service HTTP API.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a new API client. A nil httpClient uses http.DefaultClient.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  httpClient,
	}
}

// BaseURL returns the API base the client posts to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Register creates a new agent and returns its identity and bearer token.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error) {
	var resp RegisterResponse
	if err := c.do(ctx, http.MethodPost, PathRegister, nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Submit posts a decision body to path, authenticated as the given agent.
// The response body is returned undecoded.
func (c *Client) Submit(ctx context.Context, path, agentID, token string, body any) (json.RawMessage, error) {
	if agentID == "" || token == "" {
		return nil, ErrMissingCredential
	}

	headers := map[string]string{
		"Authorization": "Bearer " + token,
		HeaderAgentID:   agentID,
	}

	var resp json.RawMessage
	if err := c.do(ctx, http.MethodPost, path, headers, body, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// NetworkStatus fetches the service's public network summary.
func (c *Client) NetworkStatus(ctx context.Context) (map[string]any, error) {
	var status map[string]any
	if err := c.do(ctx, http.MethodGet, PathNetworkStatus, nil, nil, &status); err != nil {
		return nil, err
	}
	return status, nil
}

// do performs one JSON request. out may be nil; an empty response body is
// not an error.
func (c *Client) do(ctx context.Context, method, path string, headers map[string]string, in, out any) error {
	var reader io.Reader
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return &TransportError{Endpoint: path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return handleErrorResponse(path, resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Endpoint: path, Err: fmt.Errorf("reading response: %w", err)}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], data...)
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

// handleErrorResponse extracts an APIError from a non-2xx response.
func handleErrorResponse(path string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	apiErr := &APIError{
		Endpoint:   path,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}

	// Prefer the service's own error message when it sent JSON.
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var errResp struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &errResp) == nil {
			if errResp.Error != "" {
				apiErr.Message = errResp.Error
			} else {
				apiErr.Message = errResp.Message
			}
		}
	}

	return apiErr
}
