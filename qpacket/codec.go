package qpacket

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"math/big"
	"sort"
)

var (
	ErrIntTooLarge = errors.New("integer magnitude longer than 255 bytes")
	ErrNotFinite   = errors.New("float is not finite")
)

// maxMagnitudeLen is the largest magnitude length a single length byte can hold
const maxMagnitudeLen = 0xFF

// A Codec encodes and decodes Values
// Custom objects are resolved through its Registry
type Codec struct {
	reg *Registry
}

// NewCodec returns a Codec using reg for custom objects
// A nil reg is replaced by an empty Registry
func NewCodec(reg *Registry) *Codec {
	if reg == nil {
		reg = NewRegistry()
	}

	return &Codec{reg: reg}
}

// Registry returns the Registry of the Codec
func (c *Codec) Registry() *Registry { return c.reg }

// Encode returns the encoding of v
func (c *Codec) Encode(v Value) ([]byte, error) {
	return c.Append(nil, v)
}

// Append appends the encoding of v to dst
func (c *Codec) Append(dst []byte, v Value) ([]byte, error) {
	switch v := v.(type) {
	case nil:
		return append(dst, byte(KindNone)), nil
	case Int:
		return appendInt(dst, v.v)
	case Float:
		return appendFloat(dst, float64(v))
	case Bytes:
		return appendRaw(dst, KindBytes, v)
	case Str:
		return appendRaw(dst, KindStr, []byte(v))
	case None:
		return append(dst, byte(KindNone)), nil
	case List:
		return c.appendSeq(dst, KindList, v)
	case Tuple:
		return c.appendSeq(dst, KindTuple, v)
	case Set:
		return c.appendSet(dst, v)
	case Custom:
		return c.appendCustom(dst, v.Object)
	}

	return nil, fmt.Errorf("encode %T: %w", v, ErrUnexpectedKind)
}

func appendInt(dst []byte, x *big.Int) ([]byte, error) {
	mag := new(big.Int)
	if x != nil {
		mag.Abs(x)
	}

	l := mag.BitLen()/8 + 1
	if l > maxMagnitudeLen {
		return nil, ErrIntTooLarge
	}

	sign := signPositive
	if x != nil && x.Sign() < 0 {
		sign = signNegative
	}

	dst = append(dst, byte(KindInt), sign, uint8(l))

	n := len(dst)
	dst = append(dst, make([]byte, l)...)
	mag.FillBytes(dst[n:])

	return dst, nil
}

func appendLen(dst []byte, n int) []byte {
	dst, _ = appendInt(dst, big.NewInt(int64(n)))
	return dst
}

func appendFloat(dst []byte, f float64) ([]byte, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, ErrNotFinite
	}

	r := new(big.Rat).SetFloat64(f)

	dst = append(dst, byte(KindFloat), byte(KindTuple))
	dst = appendLen(dst, 2)

	dst, err := appendInt(dst, r.Num())
	if err != nil {
		return nil, err
	}

	return appendInt(dst, r.Denom())
}

func appendRaw(dst []byte, k Kind, b []byte) ([]byte, error) {
	dst = append(dst, byte(k))
	dst = appendLen(dst, len(b))
	return append(dst, b...), nil
}

func (c *Codec) appendSeq(dst []byte, k Kind, elems []Value) ([]byte, error) {
	dst = append(dst, byte(k))
	dst = appendLen(dst, len(elems))

	var err error
	for i, elem := range elems {
		dst, err = c.Append(dst, elem)
		if err != nil {
			return nil, fmt.Errorf("%s element %d: %w", k, i, err)
		}
	}

	return dst, nil
}

// appendSet writes the unique elements of s
// sorted by their encoding so equal sets encode identically
func (c *Codec) appendSet(dst []byte, s Set) ([]byte, error) {
	encoded := make([][]byte, 0, len(s))
	for i, elem := range s {
		b, err := c.Encode(elem)
		if err != nil {
			return nil, fmt.Errorf("set element %d: %w", i, err)
		}
		encoded = append(encoded, b)
	}

	sort.Slice(encoded, func(i, j int) bool {
		return bytes.Compare(encoded[i], encoded[j]) < 0
	})

	unique := encoded[:0]
	for _, b := range encoded {
		if len(unique) > 0 && bytes.Equal(b, unique[len(unique)-1]) {
			continue
		}
		unique = append(unique, b)
	}

	dst = append(dst, byte(KindSet))
	dst = appendLen(dst, len(unique))
	for _, b := range unique {
		dst = append(dst, b...)
	}

	return dst, nil
}

func (c *Codec) appendCustom(dst []byte, obj Object) ([]byte, error) {
	if obj == nil {
		return nil, fmt.Errorf("encode custom: nil object")
	}

	id, ok := c.reg.ID(obj)
	if !ok {
		return nil, fmt.Errorf("encode %T: %w", obj, ErrUnregistered)
	}

	payload, err := c.Encode(obj.Convert())
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", obj, err)
	}

	dst = append(dst, byte(KindCustom))
	dst, err = appendInt(dst, big.NewInt(id))
	if err != nil {
		return nil, err
	}
	dst = appendLen(dst, len(payload))

	return append(dst, payload...), nil
}
