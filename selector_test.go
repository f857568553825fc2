package multiplexer

import (
	"net"
	"testing"
	"time"
)

type fakeHandle struct {
	fd   int
	dead bool
}

func (h *fakeHandle) Fd() int       { return h.fd }
func (h *fakeHandle) Pending() bool { return false }
func (h *fakeHandle) Flush() int    { return 0 }
func (h *fakeHandle) Dead() bool    { return h.dead }

func newTestSelector(t *testing.T, onConnect ConnectFunc, onRead ReadFunc) *Selector {
	t.Helper()

	ln, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}

	sel, err := NewSelector(ln, onConnect, onRead)
	if err != nil {
		ln.Close()
		t.Fatal(err)
	}
	t.Cleanup(func() { sel.Close() })

	return sel
}

func TestSelectorRegister(t *testing.T) {
	sel := newTestSelector(t, nil, func(Handle) {})

	a, b, c := &fakeHandle{fd: 100}, &fakeHandle{fd: 101}, &fakeHandle{fd: 102}
	sel.Register(a)
	sel.Register(b)
	sel.Register(c)
	sel.Register(a)

	if hs := sel.Handles(); len(hs) != 3 || hs[0] != a || hs[1] != b || hs[2] != c {
		t.Fatalf("handles = %v", hs)
	}

	sel.Unregister(b)
	sel.Unregister(b)

	hs := sel.Handles()
	if len(hs) != 2 || hs[0] != a || hs[1] != c {
		t.Fatalf("handles after unregister = %v", hs)
	}
	if sel.Registered(b) {
		t.Fatal("b still registered")
	}

	sel.Unregister(c)
	if !sel.Registered(a) || sel.Registered(c) {
		t.Fatal("index out of sync")
	}
}

func TestSelectorReapsDeadHandles(t *testing.T) {
	var read []Handle
	sel := newTestSelector(t, nil, func(h Handle) { read = append(read, h) })

	alive, dead := &fakeHandle{fd: -1}, &fakeHandle{fd: -1, dead: true}
	sel.Register(alive)
	sel.Register(dead)

	if err := sel.Select(time.Millisecond); err != nil {
		t.Fatal(err)
	}

	if len(read) != 1 || read[0] != dead {
		t.Fatalf("onRead calls = %v", read)
	}
	if sel.Registered(dead) || !sel.Registered(alive) {
		t.Fatal("dead handle not unregistered")
	}
}

func TestSelectorRejectsConnection(t *testing.T) {
	connected := 0
	sel := newTestSelector(t, func(conn *net.TCPConn, addr net.Addr) Handle {
		connected++
		return nil
	}, func(Handle) {})

	c := dialRaw(t, sel.ln.Addr())

	deadline := time.Now().Add(testTimeout)
	for connected == 0 && time.Now().Before(deadline) {
		if err := sel.Select(5 * time.Millisecond); err != nil {
			t.Fatal(err)
		}
	}
	if connected != 1 {
		t.Fatalf("onConnect called %d times", connected)
	}

	c.waitClosed()
	if len(sel.Handles()) != 0 {
		t.Fatal("rejected connection registered")
	}
}

func TestSelectorDispatchesReads(t *testing.T) {
	var sock *PacketSocket
	var frames [][]byte

	sel := newTestSelector(t, func(conn *net.TCPConn, addr net.Addr) Handle {
		s, err := NewPacketSocket(conn)
		if err != nil {
			t.Error(err)
			return nil
		}
		sock = s
		return s
	}, func(h Handle) {
		frames = append(frames, h.(*PacketSocket).Recv()...)
	})

	c := dialRaw(t, sel.ln.Addr())
	c.sock.Send([]byte("ping"))
	c.sock.Send([]byte("pong"))

	deadline := time.Now().Add(testTimeout)
	for len(frames) < 2 && time.Now().Before(deadline) {
		c.sock.Flush()
		if err := sel.Select(5 * time.Millisecond); err != nil {
			t.Fatal(err)
		}
	}

	if len(frames) != 2 || string(frames[0]) != "ping" || string(frames[1]) != "pong" {
		t.Fatalf("frames = %q", frames)
	}

	c.sock.Close()
	for sel.Registered(sock) && time.Now().Before(deadline) {
		if err := sel.Select(5 * time.Millisecond); err != nil {
			t.Fatal(err)
		}
	}
	if sel.Registered(sock) {
		t.Fatal("closed connection still registered")
	}
}
