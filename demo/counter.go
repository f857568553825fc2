// Package demo holds the Engines shared by the demo client
// and the server mirror.
package demo

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/HimbeerserverDE/multiplexer"
	"github.com/HimbeerserverDE/multiplexer/qpacket"
)

// Codec encodes the payloads and snapshots of the demo Engines
var Codec = qpacket.NewCodec(nil)

// ErrCounterRange means a snapshot holds a counter beyond int64
var ErrCounterRange = errors.New("counter out of range")

// A Counter is an Engine all players share one integer with.
// A "add" payload increments it and a "sub" payload decrements it.
type Counter struct {
	mu sync.Mutex
	n  int64

	// Output receives joins, leaves and counter changes if not nil
	Output io.Writer
}

// NewCounter returns a Counter at zero
func NewCounter(out io.Writer) *Counter {
	return &Counter{Output: out}
}

// Value returns the current counter
func (c *Counter) Value() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.n
}

func (c *Counter) Step(dt float64, events []multiplexer.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	changed := false
	for _, e := range events {
		switch e.Kind {
		case multiplexer.KindPlayerJoined, multiplexer.KindPlayerLeft:
			c.println(e)
		case multiplexer.KindPayload:
			vs, err := e.Values(Codec)
			if err != nil {
				log.Print("Player ", e.PlayerID, " sent a bad payload: ", err)
				continue
			}

			for _, v := range vs {
				switch v {
				case qpacket.Str("add"):
					c.n++
					changed = true
				case qpacket.Str("sub"):
					c.n--
					changed = true
				}
			}
		}
	}

	if changed {
		c.println("Counter:", c.n)
	}
}

// Snapshot encodes the counter as a qpacket Int
func (c *Counter) Snapshot() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := Codec.Encode(qpacket.NewInt(c.n))
	if err != nil {
		return nil
	}

	return data
}

func (c *Counter) println(a ...any) {
	if c.Output != nil {
		fmt.Fprintln(c.Output, a...)
	}
}

// CounterConstructor returns a Constructor that restores
// Counters writing to out from a Snapshot
func CounterConstructor(out io.Writer) multiplexer.Constructor {
	return func(data []byte) (multiplexer.Engine, error) {
		v, err := Codec.NewDecoder(data).Expect(qpacket.KindInt)
		if err != nil {
			return nil, err
		}

		n, ok := v.(qpacket.Int).Int64()
		if !ok {
			return nil, ErrCounterRange
		}

		c := NewCounter(out)
		c.n = n
		c.println("Counter:", n)
		return c, nil
	}
}

// NewMirror returns a fresh server mirror for the named Engine.
// An empty name means no mirror.
func NewMirror(name string) (multiplexer.Engine, error) {
	switch name {
	case "":
		return nil, nil
	case "counter":
		return NewCounter(nil), nil
	}

	return nil, fmt.Errorf("unknown mirror %q", name)
}
