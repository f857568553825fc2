package multiplexer

import (
	"errors"
	"log"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// acceptTimeout bounds Accept calls after the listener polled readable
const acceptTimeout = 10 * time.Millisecond

// A Handle is a connection registered with a Selector
type Handle interface {
	Fd() int
	Pending() bool
	Flush() int
	Dead() bool
}

// ConnectFunc is called for every accepted connection
// Returning nil rejects the connection, the Selector closes it
type ConnectFunc func(conn *net.TCPConn, addr net.Addr) Handle

// ReadFunc is called when a Handle is readable or dead
type ReadFunc func(h Handle)

// A Selector multiplexes one listener and its accepted connections
// on a single goroutine
type Selector struct {
	ln   *net.TCPListener
	lnFd int

	handles []Handle
	index   map[Handle]int

	onConnect ConnectFunc
	onRead    ReadFunc
}

// NewSelector returns a Selector accepting connections from ln
func NewSelector(ln *net.TCPListener, onConnect ConnectFunc, onRead ReadFunc) (*Selector, error) {
	raw, err := ln.SyscallConn()
	if err != nil {
		return nil, err
	}

	s := &Selector{
		ln:        ln,
		lnFd:      -1,
		index:     make(map[Handle]int),
		onConnect: onConnect,
		onRead:    onRead,
	}

	if err := raw.Control(func(fd uintptr) { s.lnFd = int(fd) }); err != nil {
		return nil, err
	}

	return s, nil
}

// Register adds h to the Selector
func (s *Selector) Register(h Handle) {
	if _, ok := s.index[h]; ok {
		return
	}

	s.index[h] = len(s.handles)
	s.handles = append(s.handles, h)
}

// Unregister removes h from the Selector
// Removing a Handle that isn't registered does nothing
func (s *Selector) Unregister(h Handle) {
	i, ok := s.index[h]
	if !ok {
		return
	}

	delete(s.index, h)
	s.handles = append(s.handles[:i], s.handles[i+1:]...)
	for j := i; j < len(s.handles); j++ {
		s.index[s.handles[j]] = j
	}
}

// Registered reports whether h is registered
func (s *Selector) Registered(h Handle) bool {
	_, ok := s.index[h]
	return ok
}

// Handles returns the registered Handles in registration order
func (s *Selector) Handles() []Handle {
	return append([]Handle(nil), s.handles...)
}

// Select waits up to timeout for readiness and dispatches it
func (s *Selector) Select(timeout time.Duration) error {
	s.reap()

	handles := s.Handles()

	fds := make([]unix.PollFd, 0, len(handles)+1)
	fds = append(fds, unix.PollFd{Fd: int32(s.lnFd), Events: unix.POLLIN})
	for _, h := range handles {
		events := int16(unix.POLLIN)
		if h.Pending() {
			events |= unix.POLLOUT
		}
		fds = append(fds, unix.PollFd{Fd: int32(h.Fd()), Events: events})
	}

	n, err := unix.Poll(fds, int(timeout/time.Millisecond))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil
		}
		return os.NewSyscallError("poll", err)
	}
	if n == 0 {
		return nil
	}

	if fds[0].Revents&unix.POLLIN != 0 {
		s.accept()
	}

	for i, h := range handles {
		revents := fds[i+1].Revents
		if revents == 0 || !s.Registered(h) {
			continue
		}

		if revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			s.onRead(h)
		}

		if revents&unix.POLLOUT != 0 && s.Registered(h) {
			h.Flush()
		}
	}

	s.reap()
	return nil
}

func (s *Selector) accept() {
	s.ln.SetDeadline(time.Now().Add(acceptTimeout))

	conn, err := s.ln.AcceptTCP()
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return
		}

		log.Print(err)
		return
	}

	h := s.onConnect(conn, conn.RemoteAddr())
	if h == nil {
		conn.Close()
		return
	}

	s.Register(h)
}

// reap gives dead Handles to onRead once more and unregisters them
func (s *Selector) reap() {
	for _, h := range s.Handles() {
		if !h.Dead() || !s.Registered(h) {
			continue
		}

		s.onRead(h)
		s.Unregister(h)
	}
}

// Close closes the listener
func (s *Selector) Close() error {
	return s.ln.Close()
}
