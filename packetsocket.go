package multiplexer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
)

// RecvSize is the number of bytes a PacketSocket reads per Recv call
const RecvSize = 8 << 10

// MaxFrameSize is the largest frame payload a Framer accepts
const MaxFrameSize = 32 << 20

// maxLenGroups is the number of 7-bit groups a uint64 length can take
const maxLenGroups = binary.MaxVarintLen64

var ErrFrameTooLarge = errors.New("frame too large")

// AppendFrame appends the length prefix and payload to dst
// The length is written in 7-bit groups, least significant first,
// with the high bit set on every byte but the last
func AppendFrame(dst, payload []byte) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(payload)))
	return append(dst, payload...)
}

// A Framer reassembles frames one byte at a time
// It cannot resynchronise after an error
type Framer struct {
	length   uint64
	groups   int
	inHeader bool
	started  bool
	buf      []byte
	err      error
}

// Feed advances the Framer by one byte
// It returns the payload and true when a frame is complete
func (f *Framer) Feed(b byte) ([]byte, bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}

	if !f.started {
		f.started = true
		f.inHeader = true
		f.length = 0
		f.groups = 0
	}

	if f.inHeader {
		f.length |= uint64(b&0x7F) << (7 * f.groups)
		f.groups++

		if b&0x80 != 0 {
			if f.groups >= maxLenGroups {
				f.err = fmt.Errorf("length prefix longer than %d bytes: %w", maxLenGroups, ErrFrameTooLarge)
				return nil, false, f.err
			}
			return nil, false, nil
		}

		if f.length > MaxFrameSize {
			f.err = fmt.Errorf("%d bytes: %w", f.length, ErrFrameTooLarge)
			return nil, false, f.err
		}

		f.inHeader = false
		f.buf = make([]byte, 0, f.length)
	} else {
		f.buf = append(f.buf, b)
	}

	if uint64(len(f.buf)) < f.length {
		return nil, false, nil
	}

	frame := f.buf
	f.buf = nil
	f.started = false

	return frame, true, nil
}

// Err returns the error that stopped the Framer
func (f *Framer) Err() error { return f.err }

// Unframe splits data into frame payloads
// Trailing bytes of an incomplete frame are returned as rest
func Unframe(data []byte) (frames [][]byte, rest int, err error) {
	f := &Framer{}

	start := 0
	for i, b := range data {
		frame, ok, err := f.Feed(b)
		if err != nil {
			return frames, len(data) - start, err
		}

		if ok {
			frames = append(frames, frame)
			start = i + 1
		}
	}

	return frames, len(data) - start, nil
}

// A PacketSocket sends and receives length-prefixed frames
// over an AsyncSocket
type PacketSocket struct {
	sock   *AsyncSocket
	framer Framer
	reset  bool
}

// NewPacketSocket wraps conn
func NewPacketSocket(conn *net.TCPConn) (*PacketSocket, error) {
	sock, err := NewAsyncSocket(conn)
	if err != nil {
		return nil, err
	}

	return &PacketSocket{sock: sock}, nil
}

// Send frames payload and sends it
func (p *PacketSocket) Send(payload []byte) int {
	return p.SendRaw(AppendFrame(nil, payload))
}

// SendRaw sends bytes that are already framed
func (p *PacketSocket) SendRaw(data []byte) int {
	if p.reset {
		return 0
	}

	n := p.sock.Send(data)
	if p.sock.Reset() {
		p.reset = true
	}

	return n
}

// Flush sends buffered data
func (p *PacketSocket) Flush() int { return p.SendRaw(nil) }

// Recv returns the frames completed by the available data
func (p *PacketSocket) Recv() [][]byte {
	frames, _ := p.recv()
	return frames
}

// recv is Recv that also returns the number of bytes read
func (p *PacketSocket) recv() ([][]byte, int) {
	if p.reset {
		return nil, 0
	}

	data := p.sock.Recv(RecvSize)
	if p.sock.Reset() {
		p.reset = true
	}

	var frames [][]byte
	for _, b := range data {
		frame, ok, err := p.framer.Feed(b)
		if err != nil {
			p.reset = true
			break
		}

		if ok {
			frames = append(frames, frame)
		}
	}

	return frames, len(data)
}

// Err returns the framing error, if any
func (p *PacketSocket) Err() error { return p.framer.Err() }

// Closed reports whether the peer closed the connection
func (p *PacketSocket) Closed() bool { return p.sock.Closed() }

// Reset reports whether the connection failed
func (p *PacketSocket) Reset() bool { return p.reset }

// Dead reports whether the connection can no longer be used
func (p *PacketSocket) Dead() bool { return p.reset || p.sock.Closed() }

// Empty reports whether all buffered data has been sent
func (p *PacketSocket) Empty() bool { return p.sock.Empty() }

// Pending reports whether buffered data is waiting to be sent
func (p *PacketSocket) Pending() bool { return !p.sock.Empty() }

// Fd returns the file descriptor of the connection
func (p *PacketSocket) Fd() int { return p.sock.Fd() }

// Addr returns the remote address
func (p *PacketSocket) Addr() net.Addr { return p.sock.Addr() }

// Close closes the connection
func (p *PacketSocket) Close() error {
	p.reset = true
	return p.sock.Close()
}
