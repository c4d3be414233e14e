package uds

import (
	"context"
	"fmt"
	"net"
	"time"
)

const defaultHint = "Is the daemon running? Start it with: autosteer daemon"

type Client struct {
	socketPath string
	timeout    time.Duration
	hint       string
}

func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		timeout:    30 * time.Second,
		hint:       defaultHint,
	}
}

func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

// SetHint replaces the remediation line appended to connection errors.
func (c *Client) SetHint(hint string) {
	c.hint = hint
}

func (c *Client) SocketPath() string { return c.socketPath }

func (c *Client) Send(req *Request) (*Response, error) {
	return c.SendContext(context.Background(), req)
}

// SendContext performs one request/response exchange. The exchange is bounded
// by the client timeout and aborted when ctx is done.
func (c *Client) SendContext(ctx context.Context, req *Request) (*Response, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	if err := WriteFrame(conn, req); err != nil {
		return nil, c.ctxErr(ctx, fmt.Errorf("send request: %w", err))
	}

	var resp Response
	if err := ReadFrame(conn, &resp); err != nil {
		return nil, c.ctxErr(ctx, fmt.Errorf("read response: %w", err))
	}

	return &resp, nil
}

func (c *Client) SendCommand(command string, params any) (*Response, error) {
	return c.SendCommandContext(context.Background(), command, params)
}

func (c *Client) SendCommandContext(ctx context.Context, command string, params any) (*Response, error) {
	req, err := NewRequest(command, params)
	if err != nil {
		return nil, err
	}
	return c.SendContext(ctx, req)
}

// OpenStream sends command and, once the server acknowledges it, returns the
// connection for reading a stream of frames. The caller owns the connection.
func (c *Client) OpenStream(ctx context.Context, command string, params any) (net.Conn, error) {
	req, err := NewRequest(command, params)
	if err != nil {
		return nil, err
	}
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	_ = conn.SetDeadline(time.Now().Add(c.timeout))
	if err := WriteFrame(conn, req); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send stream request: %w", err)
	}
	var ack Response
	if err := ReadFrame(conn, &ack); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read stream ack: %w", err)
	}
	if err := ack.Err(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open stream %s: %w", command, err)
	}
	_ = conn.SetDeadline(time.Time{})
	return conn, nil
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: c.timeout}
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		if c.hint != "" {
			return nil, fmt.Errorf("failed to connect to %s: %w\n%s", c.socketPath, err, c.hint)
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", c.socketPath, err)
	}
	return conn, nil
}

func (c *Client) ctxErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w (%v)", ctxErr, err)
	}
	return err
}
