package multiplexer

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

const testTimeout = 3 * time.Second

// waitFor polls cond until it holds or the test times out
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.After(testTimeout)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(time.Millisecond):
		}
	}
}

// startServer listens on a loopback port and serves until the test ends
// setup runs before the server loop starts
func startServer(t *testing.T, opts ServerOptions, setup ...func(*Server)) *Server {
	t.Helper()

	if opts.SelectTimeout == 0 {
		opts.SelectTimeout = 5 * time.Millisecond
	}

	s, err := Listen("127.0.0.1:0", opts)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	for _, f := range setup {
		f(s)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		if err := <-errc; err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrServerClosed) {
			t.Errorf("serve: %v", err)
		}
	})

	return s
}

func dialTCP(t *testing.T, addr net.Addr) *net.TCPConn {
	t.Helper()

	conn, err := net.DialTCP("tcp", nil, addr.(*net.TCPAddr))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	return conn
}

// A rawClient speaks the protocol without a Client
type rawClient struct {
	t     *testing.T
	sock  *PacketSocket
	queue []Event
}

func dialRaw(t *testing.T, addr net.Addr) *rawClient {
	t.Helper()

	sock, err := NewPacketSocket(dialTCP(t, addr))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sock.Close() })

	return &rawClient{t: t, sock: sock}
}

func (c *rawClient) send(e Event) {
	c.sock.Send(e.appendBinary(nil))
}

func (c *rawClient) poll() {
	c.sock.Flush()
	for _, frame := range c.sock.Recv() {
		var e Event
		if err := e.UnmarshalBinary(frame); err != nil {
			c.t.Fatalf("bad frame from server: %v", err)
		}
		c.queue = append(c.queue, e)
	}
}

// next returns the next Event sent by the server
func (c *rawClient) next() Event {
	c.t.Helper()

	deadline := time.Now().Add(testTimeout)
	for len(c.queue) == 0 {
		if time.Now().After(deadline) {
			c.t.Fatal("timed out waiting for an event")
		}
		if c.sock.Dead() {
			c.t.Fatal("connection lost while waiting for an event")
		}

		c.poll()
		time.Sleep(time.Millisecond)
	}

	e := c.queue[0]
	c.queue = c.queue[1:]
	return e
}

// expect returns the next Event and fails unless it is of kind k
func (c *rawClient) expect(k Kind) Event {
	c.t.Helper()

	e := c.next()
	if e.Kind != k {
		c.t.Fatalf("got %v, want %s", e, k)
	}

	return e
}

// waitClosed waits for the server to close the connection
func (c *rawClient) waitClosed() {
	c.t.Helper()

	waitFor(c.t, "connection to be closed", func() bool {
		c.poll()
		return c.sock.Dead()
	})
}
