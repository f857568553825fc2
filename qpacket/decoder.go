package qpacket

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"unicode/utf8"
)

// Decode errors are fatal, the stream that produced them must be discarded
var (
	ErrUnknownTag     = errors.New("unknown type byte")
	ErrUnknownSign    = errors.New("unknown integer sign byte")
	ErrUnexpectedKind = errors.New("unexpected value kind")
	ErrInvalidLength  = errors.New("invalid length")
	ErrInvalidUTF8    = errors.New("str is not valid utf-8")
	ErrCustomLength   = errors.New("custom payload length mismatch")
	ErrZeroDenom      = errors.New("float with zero denominator")
	ErrTooDeep        = errors.New("values nested too deeply")
)

// MaxDepth is the deepest nesting of lists, tuples, sets,
// floats and custom values a Decoder accepts
const MaxDepth = 512

// maxLen bounds decoded lengths and counts
const maxLen = math.MaxInt32

// A Decoder reads Values from a stream of concatenated encodings
type Decoder struct {
	reg   *Registry
	buf   *ByteBuffer
	read  int
	depth int
}

// NewDecoder returns a Decoder reading from data
func (c *Codec) NewDecoder(data []byte) *Decoder {
	return c.NewBufferDecoder(NewByteBuffer(data))
}

// NewBufferDecoder returns a Decoder reading from buf
func (c *Codec) NewBufferDecoder(buf *ByteBuffer) *Decoder {
	return &Decoder{reg: c.reg, buf: buf}
}

// Decode decodes every Value in data
func (c *Codec) Decode(data []byte) ([]Value, error) {
	d := c.NewDecoder(data)

	var r []Value
	for d.HasValues() {
		v, err := d.Value()
		if err != nil {
			return r, err
		}
		r = append(r, v)
	}

	return r, nil
}

// Feed appends data to the stream
func (d *Decoder) Feed(data []byte) { d.buf.Write(data) }

// HasValues reports whether unread bytes remain
func (d *Decoder) HasValues() bool { return d.buf.HasValues() }

// Consumed returns the number of bytes read so far
func (d *Decoder) Consumed() int { return d.read }

func (d *Decoder) readN(n int) ([]byte, error) {
	b, err := d.buf.Read(n)
	if err != nil {
		return nil, err
	}

	d.read += n
	return b, nil
}

func (d *Decoder) readByte() (uint8, error) {
	b, err := d.readN(1)
	if err != nil {
		return 0, err
	}

	return b[0], nil
}

// Expect reads a Value and fails unless it is of kind k
func (d *Decoder) Expect(k Kind) (Value, error) {
	v, err := d.Value()
	if err != nil {
		return nil, err
	}

	if v.Kind() != k {
		return nil, fmt.Errorf("want %s, got %s: %w", k, v.Kind(), ErrUnexpectedKind)
	}

	return v, nil
}

func (d *Decoder) length() (int, error) {
	v, err := d.Expect(KindInt)
	if err != nil {
		return 0, err
	}

	n, ok := v.(Int).Int64()
	if !ok || n < 0 || n > maxLen {
		return 0, fmt.Errorf("%s: %w", v.(Int), ErrInvalidLength)
	}

	return int(n), nil
}

// Value reads the next Value
func (d *Decoder) Value() (Value, error) {
	tag, err := d.readByte()
	if err != nil {
		return nil, err
	}

	k := Kind(tag)
	switch k {
	case KindFloat, KindList, KindTuple, KindSet, KindCustom:
		if d.depth >= MaxDepth {
			return nil, fmt.Errorf("%s at depth %d: %w", k, d.depth, ErrTooDeep)
		}

		d.depth++
		defer func() { d.depth-- }()
	}

	switch k {
	case KindInt:
		return d.readInt()
	case KindFloat:
		return d.readFloat()
	case KindBytes:
		b, err := d.readRaw()
		if err != nil {
			return nil, fmt.Errorf("bytes: %w", err)
		}
		return Bytes(b), nil
	case KindStr:
		b, err := d.readRaw()
		if err != nil {
			return nil, fmt.Errorf("str: %w", err)
		}
		if !utf8.Valid(b) {
			return nil, ErrInvalidUTF8
		}
		return Str(b), nil
	case KindNone:
		return None{}, nil
	case KindList:
		elems, err := d.readSeq(k)
		if err != nil {
			return nil, err
		}
		return List(elems), nil
	case KindTuple:
		elems, err := d.readSeq(k)
		if err != nil {
			return nil, err
		}
		return Tuple(elems), nil
	case KindSet:
		elems, err := d.readSeq(k)
		if err != nil {
			return nil, err
		}
		return dedup(elems), nil
	case KindCustom:
		return d.readCustom()
	}

	return nil, fmt.Errorf("0x%02x: %w", tag, ErrUnknownTag)
}

func (d *Decoder) readInt() (Value, error) {
	sign, err := d.readByte()
	if err != nil {
		return nil, fmt.Errorf("int sign: %w", err)
	}
	if sign != signPositive && sign != signNegative {
		return nil, fmt.Errorf("0x%02x: %w", sign, ErrUnknownSign)
	}

	l, err := d.readByte()
	if err != nil {
		return nil, fmt.Errorf("int length: %w", err)
	}

	mag, err := d.readN(int(l))
	if err != nil {
		return nil, fmt.Errorf("int magnitude: %w", err)
	}

	x := new(big.Int).SetBytes(mag)
	if sign == signNegative {
		x.Neg(x)
	}

	return Int{v: x}, nil
}

func (d *Decoder) readFloat() (Value, error) {
	v, err := d.Expect(KindTuple)
	if err != nil {
		return nil, fmt.Errorf("float: %w", err)
	}

	t := v.(Tuple)
	if len(t) != 2 {
		return nil, fmt.Errorf("float ratio of %d elements: %w", len(t), ErrUnexpectedKind)
	}

	num, ok1 := t[0].(Int)
	den, ok2 := t[1].(Int)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("float ratio %s/%s: %w", t[0].Kind(), t[1].Kind(), ErrUnexpectedKind)
	}
	if den.Big().Sign() == 0 {
		return nil, ErrZeroDenom
	}

	f, _ := new(big.Rat).SetFrac(num.Big(), den.Big()).Float64()
	return Float(f), nil
}

func (d *Decoder) readRaw() ([]byte, error) {
	n, err := d.length()
	if err != nil {
		return nil, err
	}

	b, err := d.readN(n)
	if err != nil {
		return nil, err
	}

	return append([]byte(nil), b...), nil
}

func (d *Decoder) readSeq(k Kind) ([]Value, error) {
	n, err := d.length()
	if err != nil {
		return nil, fmt.Errorf("%s count: %w", k, err)
	}

	// Every element takes at least one byte
	c := n
	if c > d.buf.Len() {
		c = d.buf.Len()
	}

	elems := make([]Value, 0, c)
	for i := 0; i < n; i++ {
		v, err := d.Value()
		if err != nil {
			return nil, fmt.Errorf("%s element %d: %w", k, i, err)
		}
		elems = append(elems, v)
	}

	return elems, nil
}

func (d *Decoder) readCustom() (Value, error) {
	v, err := d.Expect(KindInt)
	if err != nil {
		return nil, fmt.Errorf("custom id: %w", err)
	}

	id, ok := v.(Int).Int64()
	if !ok {
		return nil, fmt.Errorf("custom id %s: %w", v.(Int), ErrUnregistered)
	}

	n, err := d.length()
	if err != nil {
		return nil, fmt.Errorf("custom length: %w", err)
	}

	reconstruct, ok := d.reg.lookup(id)
	if !ok {
		return nil, fmt.Errorf("custom id %d: %w", id, ErrUnregistered)
	}

	start := d.read
	obj, err := reconstruct(d)
	if err != nil {
		return nil, fmt.Errorf("custom id %d: %w", id, err)
	}

	if d.read-start != n {
		return nil, fmt.Errorf("custom id %d read %d of %d bytes: %w", id, d.read-start, n, ErrCustomLength)
	}

	return Custom{Object: obj}, nil
}

func dedup(elems []Value) Set {
	s := make(Set, 0, len(elems))
outer:
	for _, elem := range elems {
		for _, seen := range s {
			if Equal(elem, seen) {
				continue outer
			}
		}
		s = append(s, elem)
	}

	return s
}
