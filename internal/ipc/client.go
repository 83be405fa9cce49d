package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

const dialTimeout = 2 * time.Second

// Client talks JSON-RPC to airecorderd over its Unix socket.
type Client struct {
	rpc *rpc.Client
}

// Dial connects to the daemon socket at path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, dialTimeout)
	if err != nil {
		return nil, err
	}
	return &Client{rpc: rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))}, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	if c == nil || c.rpc == nil {
		return nil
	}
	return c.rpc.Close()
}

func call[T any](c *Client, method string, req any) (*T, error) {
	resp := new(T)
	if err := c.rpc.Call(serviceName+"."+method, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Toggle starts a recording when idle and stops a running one.
func (c *Client) Toggle() (*ToggleResponse, error) {
	return call[ToggleResponse](c, "Toggle", ToggleRequest{})
}

func (c *Client) Start() (*StartResponse, error) {
	return call[StartResponse](c, "Start", StartRequest{})
}

// Stop ends the current recording. With wait set the reply carries the
// finished session.
func (c *Client) Stop(wait bool) (*StopResponse, error) {
	return call[StopResponse](c, "Stop", StopRequest{Wait: wait})
}

// Wait blocks until the current session finishes. A zero timeout waits
// indefinitely; WaitResponse.Done is false when the timeout won.
func (c *Client) Wait(timeout time.Duration) (*WaitResponse, error) {
	return call[WaitResponse](c, "Wait", WaitRequest{TimeoutMillis: int(timeout.Milliseconds())})
}

// Retry re-runs the merge of a failed session whose spool was preserved.
func (c *Client) Retry(sessionID string) (*RetryResponse, error) {
	return call[RetryResponse](c, "Retry", RetryRequest{SessionID: sessionID})
}

// Acknowledge clears a saved or failed session back to idle.
func (c *Client) Acknowledge() (*AcknowledgeResponse, error) {
	return call[AcknowledgeResponse](c, "Acknowledge", AcknowledgeRequest{})
}

func (c *Client) Status() (*StatusResponse, error) {
	return call[StatusResponse](c, "Status", StatusRequest{})
}
