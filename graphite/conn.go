package graphite

import (
	"context"
	"net"
	"strconv"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Resolver looks up the addresses of a host. *net.Resolver satisfies it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Dialer opens byte streams. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// State of the collector connection.
type State int

const (
	// Disconnected is the state before the first attempt and after close.
	Disconnected State = iota
	Connected
	// Failed means the last connect or write failed. The next cycle retries.
	Failed
)

func (s State) String() string {
	switch s {
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return "disconnected"
	}
}

// connection owns the single TCP stream to the collector. It is only used
// from the dispatcher goroutine.
type connection struct {
	host     string
	port     string
	resolver Resolver
	dialer   Dialer
	log      logrus.FieldLogger
	conn     net.Conn
	failed   bool
}

func newConnection(host string, port int, resolver Resolver, dialer Dialer, log logrus.FieldLogger) *connection {
	return &connection{
		host:     host,
		port:     strconv.Itoa(port),
		resolver: resolver,
		dialer:   dialer,
		log:      log,
	}
}

func (c *connection) State() State {
	switch {
	case c.conn != nil:
		return Connected
	case c.failed:
		return Failed
	default:
		return Disconnected
	}
}

// connect resolves the host and keeps the first address that accepts a
// connection.
func (c *connection) connect(ctx context.Context) error {
	c.failed = true
	addrs, err := c.resolver.LookupHost(ctx, c.host)
	if err != nil {
		return errors.Wrapf(ErrResolve, "%s: %v", c.host, err)
	}
	if len(addrs) == 0 {
		return errors.Wrapf(ErrResolve, "%s: no addresses", c.host)
	}

	var lastErr error
	for _, addr := range addrs {
		target := net.JoinHostPort(addr, c.port)
		conn, err := c.dialer.DialContext(ctx, "tcp", target)
		if err != nil {
			c.log.WithError(err).WithField("addr", target).Debug("collector address refused connection")
			lastErr = err
			continue
		}
		c.conn = conn
		c.failed = false
		c.log.WithField("addr", target).Info("connected to collector")
		return nil
	}
	return errors.Wrapf(ErrConnect, "%s: %v", net.JoinHostPort(c.host, c.port), lastErr)
}

// write sends msg in full. Any failure tears the connection down.
func (c *connection) write(msg []byte) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	if _, err := c.conn.Write(msg); err != nil {
		c.close()
		c.failed = true
		return errors.Wrapf(ErrWrite, "%v", err)
	}
	return nil
}

func (c *connection) close() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil {
		c.log.WithError(err).Debug("failed to close collector connection")
	}
	c.conn = nil
	c.failed = false
}
