package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
)

// Client connects to a running daemon via its Unix socket.
type Client struct {
	httpClient *http.Client
	socketPath string
	authToken  string
}

// NewClient creates a new daemon client. It reads the auth cookie
// automatically from the cookie file next to the socket.
func NewClient(socketPath, cookiePath string) (*Client, error) {
	if _, err := os.Stat(socketPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrDaemonNotRunning, socketPath)
	}

	token, err := os.ReadFile(cookiePath)
	if err != nil {
		return nil, fmt.Errorf("daemon: reading cookie file: %w", err)
	}

	return &Client{
		socketPath: socketPath,
		authToken:  strings.TrimSpace(string(token)),
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}, nil
}

// do sends an HTTP request to the daemon and returns the raw response body.
func (c *Client) do(method, path string, body io.Reader) ([]byte, int, error) {
	req, err := http.NewRequest(method, "http://daemon"+path, body)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.authToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("daemon: connecting: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return data, resp.StatusCode, nil
}

// doJSON sends a request and decodes the JSON response body directly
// into target (no envelope unwrapping).
func (c *Client) doJSON(method, path string, body io.Reader, target any) error {
	data, status, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	if status >= 400 {
		var errResp ErrorResponse
		if json.Unmarshal(data, &errResp) == nil && errResp.Error != "" {
			return fmt.Errorf("daemon: %s", errResp.Error)
		}
		return fmt.Errorf("daemon: HTTP %d", status)
	}
	if target == nil {
		return nil
	}
	return json.Unmarshal(data, target)
}

// doJSONData sends a request and decodes the {"data": ...} envelope the
// list endpoints wrap their payload in.
func (c *Client) doJSONData(method, path string, body io.Reader, target any) error {
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := c.doJSON(method, path, body, &env); err != nil {
		return err
	}
	if target == nil || env.Data == nil {
		return nil
	}
	return json.Unmarshal(env.Data, target)
}

func jsonBody(v any) io.Reader {
	b, _ := json.Marshal(v)
	return strings.NewReader(string(b))
}

// --- Query methods ---

// Status returns the daemon's status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.doJSON("GET", "/v1/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Sessions returns every session the service loop currently tracks.
func (c *Client) Sessions() ([]SessionView, error) {
	var resp []SessionView
	if err := c.doJSONData("GET", "/v1/sessions", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Peers returns the address book.
func (c *Client) Peers() ([]PeerView, error) {
	var resp []PeerView
	if err := c.doJSONData("GET", "/v1/peers", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Routes returns the routing table.
func (c *Client) Routes() ([]RouteView, error) {
	var resp []RouteView
	if err := c.doJSONData("GET", "/v1/routes", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Policy returns the seed/follow/block policy stores.
func (c *Client) Policy() (*PolicyResponse, error) {
	var resp PolicyResponse
	if err := c.doJSON("GET", "/v1/policy", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Events returns the most recently captured structured log records.
func (c *Client) Events() ([]EventView, error) {
	var resp []EventView
	if err := c.doJSONData("GET", "/v1/events", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// --- Mutation methods ---

// Connect submits a connect command for the given peer/address.
func (c *Client) Connect(peer, addr string) error {
	return c.doJSON("POST", "/v1/connect", jsonBody(ConnectRequest{Peer: peer, Addr: addr}), nil)
}

// Disconnect submits a disconnect command for the given peer.
func (c *Client) Disconnect(peer string) error {
	return c.doJSON("POST", "/v1/disconnect", jsonBody(DisconnectRequest{Peer: peer}), nil)
}

// Seed submits a seed command for the given repository/scope ("all" or
// "followed").
func (c *Client) Seed(rid, scope string) error {
	return c.doJSON("POST", "/v1/seed", jsonBody(SeedRequest{Rid: rid, Scope: scope}), nil)
}

// Unseed submits an unseed command for the given repository.
func (c *Client) Unseed(rid string) error {
	return c.doJSON("POST", "/v1/unseed", jsonBody(UnseedRequest{Rid: rid}), nil)
}

// Follow submits a follow command for the given peer.
func (c *Client) Follow(peer, alias string) error {
	return c.doJSON("POST", "/v1/follow", jsonBody(FollowRequest{Peer: peer, Alias: alias}), nil)
}
