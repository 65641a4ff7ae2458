package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"podloop/internal/app"
)

// Client sends requests to a running daemon. Each call uses its own
// connection.
type Client struct {
	SocketPath string
	Timeout    time.Duration
}

// NewClient returns a client with a five second timeout.
func NewClient(socketPath string) *Client {
	return &Client{SocketPath: socketPath, Timeout: 5 * time.Second}
}

// Do sends req and waits for its response. A request without an id gets a
// fresh one.
func (c *Client) Do(ctx context.Context, req Request) (Response, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.SocketPath)
	if err != nil {
		return Response{}, fmt.Errorf("connect to %s: %w", c.SocketPath, err)
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	line, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}
	if _, err := conn.Write(append(line, '\n')); err != nil {
		return Response{}, fmt.Errorf("send request: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(bufio.NewReader(conn)).Decode(&resp); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.ID != "" && resp.ID != req.ID {
		return Response{}, fmt.Errorf("response id %s does not match request %s", resp.ID, req.ID)
	}
	return resp, nil
}

// Dispatch sends an action.
func (c *Client) Dispatch(ctx context.Context, a app.Action) error {
	env, err := app.MarshalAction(a)
	if err != nil {
		return fmt.Errorf("marshal action: %w", err)
	}
	var req Request
	if err := json.Unmarshal(env, &req); err != nil {
		return fmt.Errorf("marshal action: %w", err)
	}
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	return responseError(resp)
}

// Query runs a named query and decodes its data into out (which may be nil).
func (c *Client) Query(ctx context.Context, name string, args QueryArgs, out any) error {
	resp, err := c.Do(ctx, Request{Query: name, Args: args})
	if err != nil {
		return err
	}
	if err := responseError(resp); err != nil {
		return err
	}
	if out == nil || len(resp.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("decode %s result: %w", name, err)
	}
	return nil
}

func responseError(resp Response) error {
	if resp.Status == StatusOK {
		return nil
	}
	if resp.Error == ErrQueueFull.Error() {
		return ErrQueueFull
	}
	if resp.Error == "" {
		return errors.New("ipc error: unknown")
	}
	return fmt.Errorf("ipc error: %s", resp.Error)
}
