package multiplexer

import (
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HimbeerserverDE/multiplexer/qpacket"
)

var (
	ErrNoConstructor = errors.New("reconstruct received without a constructor")
	ErrNoCodec       = errors.New("no codec configured")
	ErrConnLost      = errors.New("connection lost")
)

// maxStepRecv bounds the bytes one Step reads
const maxStepRecv = 2 * MaxFrameSize

// A Constructor builds an Engine from a snapshot
type Constructor func(data []byte) (Engine, error)

// ClientOptions configure a Client
type ClientOptions struct {
	// MinStepTime is the minimum time between two Ready events
	MinStepTime time.Duration

	// Constructor replaces the Engine when a snapshot arrives
	Constructor Constructor

	// Codec encodes the values passed to SendValue
	Codec *qpacket.Codec
}

// A Client steps a local Engine in lockstep with the other
// clients of a Server
type Client struct {
	opts ClientOptions
	sock *PacketSocket

	// stepMu serialises Step and thereby the Engine
	stepMu   sync.Mutex
	buffered []Event
	dead     atomic.Bool

	mu          sync.Mutex
	outgoing    [][]byte
	engine      Engine
	id          int32
	hasID       bool
	helloRound  int32
	round       int32
	readyToStep bool
	lastStep    time.Time
	err         error

	runMu   sync.Mutex
	stop    chan struct{}
	stopped chan struct{}
}

// Dial connects to the Server at addr
func Dial(addr string, engine Engine, opts ClientOptions) (*Client, error) {
	raddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, err
	}

	conn, err := net.DialTCP("tcp", nil, raddr)
	if err != nil {
		return nil, err
	}

	c, err := NewClient(conn, engine, opts)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return c, nil
}

// NewClient returns a Client using the established connection conn
func NewClient(conn *net.TCPConn, engine Engine, opts ClientOptions) (*Client, error) {
	sock, err := NewPacketSocket(conn)
	if err != nil {
		return nil, err
	}

	return &Client{
		opts:        opts,
		sock:        sock,
		engine:      engine,
		readyToStep: true,
	}, nil
}

// Step sends a Ready event if the Client may step,
// flushes queued data and handles received events
// The Engine is stepped from here
func (c *Client) Step() error {
	c.stepMu.Lock()
	defer c.stepMu.Unlock()
	defer func() { c.dead.Store(c.sock.Dead()) }()

	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return c.err
	}

	if c.readyToStep && time.Since(c.lastStep) >= c.opts.MinStepTime {
		c.readyToStep = false
		c.lastStep = time.Now()
		c.outgoing = append(c.outgoing, Event{Kind: KindReady}.AppendFrame(nil))
	}

	outgoing := c.outgoing
	c.outgoing = nil
	c.mu.Unlock()

	for _, chunk := range outgoing {
		c.sock.SendRaw(chunk)
	}
	c.sock.Flush()

	// Reading stops with the available data, or after maxStepRecv
	// bytes so the Engine and the outgoing queue get their turn
	for read := 0; read < maxStepRecv; {
		frames, n := c.sock.recv()

		for _, frame := range frames {
			if err := c.handle(frame); err != nil {
				return c.fail(err)
			}
		}

		if n == 0 {
			break
		}
		read += n
	}

	if err := c.sock.Err(); err != nil {
		return c.fail(err)
	}

	return nil
}

func (c *Client) fail(err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err == nil {
		c.err = err
	}

	return c.err
}

func (c *Client) handle(frame []byte) error {
	var e Event
	if err := e.UnmarshalBinary(frame); err != nil {
		return err
	}

	switch e.Kind {
	case KindHello:
		c.mu.Lock()
		c.id = e.PlayerID
		c.hasID = true
		c.helloRound = e.Step
		c.mu.Unlock()
	case KindReady:
		c.mu.Lock()
		engine := c.engine
		c.mu.Unlock()

		events := c.buffered
		c.buffered = nil
		if engine != nil {
			engine.Step(e.TimeDelta, events)
		}

		c.mu.Lock()
		c.round = e.Step + 1
		// Rounds replayed from history were closed before we joined
		if e.Step >= c.helloRound {
			c.readyToStep = true
		}
		c.mu.Unlock()
	case KindPayload, KindPlayerJoined, KindPlayerLeft:
		c.buffered = append(c.buffered, e)
	case KindReconstruct:
		if c.opts.Constructor == nil {
			return ErrNoConstructor
		}

		engine, err := c.opts.Constructor(e.Data)
		if err != nil {
			return fmt.Errorf("reconstruct: %w", err)
		}

		c.buffered = nil

		c.mu.Lock()
		c.engine = engine
		c.round = e.Step
		c.mu.Unlock()
	}

	return nil
}

// SendPayload queues data for the next round
// It is safe to call from Engine.Step
func (c *Client) SendPayload(data []byte) {
	frame := Event{Kind: KindPayload, Data: data}.AppendFrame(nil)

	c.mu.Lock()
	c.outgoing = append(c.outgoing, frame)
	c.mu.Unlock()
}

// SendValue encodes vs and queues them as one payload
func (c *Client) SendValue(vs ...qpacket.Value) error {
	if c.opts.Codec == nil {
		return ErrNoCodec
	}

	var data []byte
	for _, v := range vs {
		var err error
		data, err = c.opts.Codec.Append(data, v)
		if err != nil {
			return err
		}
	}

	c.SendPayload(data)
	return nil
}

// Start runs Step in a new goroutine until Stop is called,
// Step fails or the connection is lost
func (c *Client) Start() {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if c.stop != nil {
		return
	}

	c.stop = make(chan struct{})
	c.stopped = make(chan struct{})

	go c.run(c.stop, c.stopped)
}

func (c *Client) run(stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	for {
		select {
		case <-stop:
			return
		default:
		}

		if err := c.Step(); err != nil {
			log.Print("Client step failed: ", err)
			return
		}

		if c.Reset() {
			c.fail(ErrConnLost)
			log.Print("Lost connection to ", c.sock.Addr())
			return
		}

		c.mu.Lock()
		wait := c.opts.MinStepTime - time.Since(c.lastStep)
		c.mu.Unlock()

		if wait > 10*time.Millisecond {
			wait = 10 * time.Millisecond
		}
		if wait < time.Millisecond {
			wait = time.Millisecond
		}

		select {
		case <-stop:
			return
		case <-time.After(wait):
		}
	}
}

// Stop stops the goroutine started by Start and waits for it
func (c *Client) Stop() {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if c.stop == nil {
		return
	}

	close(c.stop)
	<-c.stopped

	c.stop = nil
	c.stopped = nil
}

// Err returns the error that stopped the Client
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.err
}

// Reset reports whether the connection was found unusable by Step
func (c *Client) Reset() bool { return c.dead.Load() }

// PlayerID returns the id assigned by the Server
// The second value is false until the Hello event has arrived
func (c *Client) PlayerID() (int32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.id, c.hasID
}

// Round returns the next round the Engine will be stepped to
func (c *Client) Round() int32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.round
}

// Engine returns the current Engine
// It changes when a snapshot is received
func (c *Client) Engine() Engine {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.engine
}

func (c *Client) String() string {
	id, ok := c.PlayerID()
	if !ok {
		return "client(" + c.sock.Addr().String() + ")"
	}

	return "player " + strconv.Itoa(int(id))
}

// Close stops the Client and closes the connection
func (c *Client) Close() error {
	c.Stop()

	c.stepMu.Lock()
	defer c.stepMu.Unlock()

	err := c.sock.Close()
	c.dead.Store(true)

	return err
}
