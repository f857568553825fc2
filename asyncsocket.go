package multiplexer

import (
	"errors"
	"net"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/HimbeerserverDE/multiplexer/qpacket"
)

// SendSize is the largest amount of buffered data
// handed to the OS in one send call
const SendSize = 8 << 10

// An AsyncSocket performs non-blocking I/O on a TCP connection
// Errors are never returned, they set the sticky Closed and Reset flags
type AsyncSocket struct {
	conn *net.TCPConn
	raw  syscall.RawConn
	fd   int
	buf  *qpacket.ByteBuffer

	closed bool
	reset  bool
}

// NewAsyncSocket wraps conn
func NewAsyncSocket(conn *net.TCPConn) (*AsyncSocket, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return nil, err
	}

	s := &AsyncSocket{
		conn: conn,
		raw:  raw,
		fd:   -1,
		buf:  &qpacket.ByteBuffer{},
	}

	if err := raw.Control(func(fd uintptr) { s.fd = int(fd) }); err != nil {
		return nil, err
	}

	conn.SetNoDelay(true)

	return s, nil
}

// wouldBlock reports whether err just means "try again later"
func wouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR)
}

// Recv returns up to n bytes that are already available
// It returns nil if nothing is pending
func (s *AsyncSocket) Recv(n int) []byte {
	if s.closed || s.reset || n <= 0 {
		return nil
	}

	data := make([]byte, n)

	var (
		rn   int
		rerr error
	)

	err := s.raw.Read(func(fd uintptr) bool {
		rn, rerr = unix.Read(int(fd), data)
		return true
	})

	switch {
	case err != nil:
		s.reset = true
		return nil
	case rerr != nil:
		if !wouldBlock(rerr) {
			s.reset = true
		}
		return nil
	case rn == 0:
		// Orderly shutdown by the peer
		s.closed = true
		return nil
	}

	return data[:rn]
}

// Send appends data to the send buffer and writes as much
// of its head as the OS accepts, returning the number of bytes sent
// A nil data only flushes the buffer
func (s *AsyncSocket) Send(data []byte) int {
	s.buf.Write(data)

	if s.reset || !s.buf.HasValues() {
		return 0
	}

	n := s.buf.Len()
	if n > SendSize {
		n = SendSize
	}
	head, _ := s.buf.Peek(n)

	var (
		wn   int
		werr error
	)

	err := s.raw.Write(func(fd uintptr) bool {
		wn, werr = unix.Write(int(fd), head)
		return true
	})

	switch {
	case err != nil:
		s.reset = true
		return 0
	case werr != nil:
		if !wouldBlock(werr) {
			s.reset = true
		}
		return 0
	}

	s.buf.Read(wn)
	return wn
}

// Empty reports whether all buffered data has been sent
func (s *AsyncSocket) Empty() bool { return !s.buf.HasValues() }

// Closed reports whether the peer closed the connection
func (s *AsyncSocket) Closed() bool { return s.closed }

// Reset reports whether a read or write failed
func (s *AsyncSocket) Reset() bool { return s.reset }

// Fd returns the file descriptor of the connection
func (s *AsyncSocket) Fd() int { return s.fd }

// Addr returns the remote address
func (s *AsyncSocket) Addr() net.Addr { return s.conn.RemoteAddr() }

// Close closes the connection
func (s *AsyncSocket) Close() error {
	s.reset = true
	return s.conn.Close()
}
