package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/Aman-CERP/apptindex/internal/ledger"
	"github.com/Aman-CERP/apptindex/internal/search"
)

// Client talks to a running daemon. Each call opens its own connection.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient creates a new daemon client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		socketPath: cfg.SocketPath,
		timeout:    timeout,
	}
}

// Connect establishes a connection to the daemon.
func (c *Client) Connect() (net.Conn, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w", err)
	}
	return conn, nil
}

// IsRunning checks if the daemon is accepting connections.
func (c *Client) IsRunning() bool {
	conn, err := c.Connect()
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Ping checks if the daemon is responsive.
func (c *Client) Ping(ctx context.Context) error {
	var result PingResult
	if err := c.call(ctx, MethodPing, nil, &result); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}

// Status retrieves daemon and indexer status.
func (c *Client) Status(ctx context.Context) (*StatusResult, error) {
	var status StatusResult
	if err := c.call(ctx, MethodStatus, nil, &status); err != nil {
		return nil, fmt.Errorf("status failed: %w", err)
	}
	return &status, nil
}

// Search runs a query on the daemon.
func (c *Client) Search(ctx context.Context, params SearchParams) (search.Page, error) {
	if err := params.Validate(); err != nil {
		return search.Page{}, fmt.Errorf("invalid params: %w", err)
	}
	var page search.Page
	if err := c.call(ctx, MethodSearch, params, &page); err != nil {
		return search.Page{}, fmt.Errorf("search failed: %w", err)
	}
	return page, nil
}

// Notify records a mutation of appointment id.
func (c *Client) Notify(ctx context.Context, id int, kind ledger.Kind) error {
	params := NotifyParams{AppointmentID: id, Action: kind.String()}
	if _, err := params.Validate(); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	var result NotifyResult
	if err := c.call(ctx, MethodNotify, params, &result); err != nil {
		return fmt.Errorf("notify failed: %w", err)
	}
	return nil
}

// Rebuild queues a full rebuild.
func (c *Client) Rebuild(ctx context.Context) error {
	var result RebuildResult
	if err := c.call(ctx, MethodRebuild, nil, &result); err != nil {
		return fmt.Errorf("rebuild failed: %w", err)
	}
	return nil
}

// Check compares the index with the source, optionally queueing repairs.
func (c *Client) Check(ctx context.Context, repair bool) (*CheckResult, error) {
	var result CheckResult
	if err := c.call(ctx, MethodCheck, CheckParams{Repair: repair}, &result); err != nil {
		return nil, fmt.Errorf("check failed: %w", err)
	}
	return &result, nil
}

// call sends one request and decodes its result into out. A JSON-RPC
// error is returned as *Error.
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	conn, err := c.Connect()
	if err != nil {
		return err
	}
	defer conn.Close()

	// Set deadline from context or timeout
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set deadline: %w", err)
	}

	req := Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      uuid.NewString(),
	}
	if err := c.send(conn, req); err != nil {
		return err
	}

	resp, err := c.receive(conn)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	if resp.ID != req.ID {
		return fmt.Errorf("response id %q does not match request id %q", resp.ID, req.ID)
	}
	if out == nil || resp.Result == nil {
		return nil
	}

	data, err := json.Marshal(resp.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}
	return nil
}

// send encodes and writes a request to the connection.
func (c *Client) send(conn net.Conn, req Request) error {
	encoder := json.NewEncoder(conn)
	if err := encoder.Encode(req); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	return nil
}

// receive reads and decodes a response from the connection.
func (c *Client) receive(conn net.Conn) (*Response, error) {
	decoder := json.NewDecoder(conn)
	var resp Response
	if err := decoder.Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to receive response: %w", err)
	}
	return &resp, nil
}
