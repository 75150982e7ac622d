package upcall

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/nfscore/pkg/idmap"
)

// ClientConfig configures a Client.
type ClientConfig struct {
	// Network is "unix" or "tcp".
	Network string `mapstructure:"network" yaml:"network" validate:"omitempty,oneof=unix tcp"`

	// Address is the socket path or host:port of the resolver.
	Address string `mapstructure:"address" yaml:"address"`

	// MaxIdle is the number of connections kept open between calls.
	MaxIdle int `mapstructure:"max_idle" yaml:"max_idle" validate:"omitempty,min=0"`

	// DialTimeout bounds connection setup when the call context has no
	// earlier deadline.
	DialTimeout time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
}

// ApplyDefaults fills zero fields.
func (c *ClientConfig) ApplyDefaults() {
	if c.Network == "" {
		c.Network = "unix"
	}
	if c.MaxIdle <= 0 {
		c.MaxIdle = 4
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 2 * time.Second
	}
}

// ErrClientClosed is returned by Resolve after Close.
var ErrClientClosed = errors.New("upcall: client closed")

// Client is an idmap.Resolver that forwards requests to a resolver daemon.
// It is safe for concurrent use; each call takes its own connection.
type Client struct {
	cfg ClientConfig
	xid atomic.Uint32

	mu     sync.Mutex
	idle   []net.Conn
	closed bool
}

var _ idmap.Resolver = (*Client)(nil)

// NewClient returns a client for the resolver at cfg.Address. No
// connection is made until the first call.
func NewClient(cfg ClientConfig) *Client {
	cfg.ApplyDefaults()
	c := &Client{cfg: cfg}
	c.xid.Store(uint32(time.Now().UnixNano()))
	return c
}

func (c *Client) get(ctx context.Context) (net.Conn, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	if n := len(c.idle); n > 0 {
		conn := c.idle[n-1]
		c.idle = c.idle[:n-1]
		c.mu.Unlock()
		return conn, nil
	}
	c.mu.Unlock()

	d := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, c.cfg.Network, c.cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("dial resolver %s: %w", c.cfg.Address, err)
	}
	return conn, nil
}

func (c *Client) put(conn net.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || len(c.idle) >= c.cfg.MaxIdle {
		_ = conn.Close()
		return
	}
	c.idle = append(c.idle, conn)
}

// Resolve implements idmap.Resolver.
func (c *Client) Resolve(ctx context.Context, req idmap.Request) (idmap.Response, error) {
	conn, err := c.get(ctx)
	if err != nil {
		return idmap.Response{}, err
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.cfg.DialTimeout)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		_ = conn.Close()
		return idmap.Response{}, fmt.Errorf("set deadline: %w", err)
	}
	// Unblock the read if ctx is cancelled before the deadline.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Unix(1, 0)) })

	xid := c.xid.Add(1)
	rep, err := roundTrip(conn, callFromRequest(xid, req))
	if stop() && err == nil {
		c.put(conn)
	} else {
		_ = conn.Close()
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return idmap.Response{}, ctxErr
		}
		// The socket deadline is the context deadline, and may fire first.
		var netErr net.Error
		if _, has := ctx.Deadline(); has && errors.As(err, &netErr) && netErr.Timeout() {
			return idmap.Response{}, fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		return idmap.Response{}, err
	}

	if rep.XID != xid {
		return idmap.Response{}, fmt.Errorf("upcall: reply xid %d, want %d", rep.XID, xid)
	}
	switch rep.Status {
	case StatusOK:
		return rep.response(), nil
	case StatusNotFound:
		return idmap.Response{}, idmap.ErrNotFound
	default:
		return idmap.Response{}, fmt.Errorf("upcall: resolver status %d: %s", rep.Status, rep.Message)
	}
}

func roundTrip(conn net.Conn, c call) (reply, error) {
	var rep reply
	if err := writeMessage(conn, c); err != nil {
		return rep, err
	}
	if err := readMessage(conn, &rep); err != nil {
		return rep, fmt.Errorf("read reply: %w", err)
	}
	return rep, nil
}

// Close drops idle connections. Calls in progress finish on their own
// connections, which are then closed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for _, conn := range c.idle {
		_ = conn.Close()
	}
	c.idle = nil
	return nil
}
