/*
Package qpacket implements a self-describing binary encoding
for integers, floats, byte strings, text, lists, tuples, sets, null
and registered custom object types.

Every encoded value is self-delimiting, so a Decoder can pull
values one at a time out of a continuous stream.
*/
package qpacket

import (
	"fmt"
	"math/big"
)

// A Kind identifies the type of an encoded value
// It is the first byte of every encoding
type Kind uint8

const (
	KindInt Kind = iota
	KindFloat
	KindBytes
	KindStr
	KindNone
	KindList
	KindTuple
	KindSet
	KindCustom
)

// Integer sign bytes
const (
	signPositive uint8 = iota
	signNegative
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBytes:
		return "bytes"
	case KindStr:
		return "str"
	case KindNone:
		return "none"
	case KindList:
		return "list"
	case KindTuple:
		return "tuple"
	case KindSet:
		return "set"
	case KindCustom:
		return "custom"
	}

	return fmt.Sprintf("kind(%d)", uint8(k))
}

// A Value is one of Int, Float, Bytes, Str, None,
// List, Tuple, Set or Custom
type Value interface {
	Kind() Kind
	value()
}

// Int is an arbitrary precision integer
type Int struct {
	v *big.Int
}

// NewInt returns an Int set to x
func NewInt(x int64) Int { return Int{v: big.NewInt(x)} }

// NewBigInt returns an Int holding a copy of x
func NewBigInt(x *big.Int) Int { return Int{v: new(big.Int).Set(x)} }

// Big returns a copy of the integer
func (i Int) Big() *big.Int {
	if i.v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(i.v)
}

// Int64 returns the integer and whether it fits into an int64
func (i Int) Int64() (int64, bool) {
	if i.v == nil {
		return 0, true
	}
	return i.v.Int64(), i.v.IsInt64()
}

func (i Int) String() string { return i.Big().String() }

// Float is transmitted as the exact ratio of two integers
type Float float64

// Bytes is a raw byte string
type Bytes []byte

// Str is UTF-8 text
type Str string

// None is the null value
type None struct{}

// List is an ordered sequence
type List []Value

// Tuple is an ordered fixed sequence
// It is a List with a different tag
type Tuple []Value

// Set is an unordered collection of unique values
type Set []Value

// Custom carries an instance of a registered type
type Custom struct {
	Object Object
}

func (Int) Kind() Kind    { return KindInt }
func (Float) Kind() Kind  { return KindFloat }
func (Bytes) Kind() Kind  { return KindBytes }
func (Str) Kind() Kind    { return KindStr }
func (None) Kind() Kind   { return KindNone }
func (List) Kind() Kind   { return KindList }
func (Tuple) Kind() Kind  { return KindTuple }
func (Set) Kind() Kind    { return KindSet }
func (Custom) Kind() Kind { return KindCustom }

func (Int) value()    {}
func (Float) value()  {}
func (Bytes) value()  {}
func (Str) value()    {}
func (None) value()   {}
func (List) value()   {}
func (Tuple) value()  {}
func (Set) value()    {}
func (Custom) value() {}
