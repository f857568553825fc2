package qpacket

import (
	"bytes"
	"fmt"
	"math/big"
	"reflect"
)

// Equal reports whether a and b hold the same value
// Sets compare regardless of order, custom objects are compared deeply
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return isNone(a) && isNone(b)
	}

	if a.Kind() != b.Kind() {
		return false
	}

	switch a := a.(type) {
	case Int:
		return a.Big().Cmp(b.(Int).Big()) == 0
	case Float:
		return a == b.(Float)
	case Bytes:
		return bytes.Equal(a, b.(Bytes))
	case Str:
		return a == b.(Str)
	case None:
		return true
	case List:
		return equalSeq(a, b.(List))
	case Tuple:
		return equalSeq(a, b.(Tuple))
	case Set:
		return equalSet(a, b.(Set))
	case Custom:
		return reflect.DeepEqual(a.Object, b.(Custom).Object)
	}

	return false
}

func isNone(v Value) bool {
	return v == nil || v.Kind() == KindNone
}

func equalSeq(a, b []Value) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}

	return true
}

func equalSet(a, b Set) bool {
	a, b = dedup(a), dedup(b)
	if len(a) != len(b) {
		return false
	}

	for _, x := range a {
		found := false
		for _, y := range b {
			if Equal(x, y) {
				found = true
				break
			}
		}

		if !found {
			return false
		}
	}

	return true
}

// From converts a native Go value into a Value
func From(x any) (Value, error) {
	switch x := x.(type) {
	case nil:
		return None{}, nil
	case Value:
		return x, nil
	case Object:
		return Custom{Object: x}, nil
	case int:
		return NewInt(int64(x)), nil
	case int8:
		return NewInt(int64(x)), nil
	case int16:
		return NewInt(int64(x)), nil
	case int32:
		return NewInt(int64(x)), nil
	case int64:
		return NewInt(x), nil
	case uint:
		return Int{v: new(big.Int).SetUint64(uint64(x))}, nil
	case uint8:
		return NewInt(int64(x)), nil
	case uint16:
		return NewInt(int64(x)), nil
	case uint32:
		return NewInt(int64(x)), nil
	case uint64:
		return Int{v: new(big.Int).SetUint64(x)}, nil
	case *big.Int:
		return NewBigInt(x), nil
	case float32:
		return Float(x), nil
	case float64:
		return Float(x), nil
	case bool:
		if x {
			return NewInt(1), nil
		}
		return NewInt(0), nil
	case string:
		return Str(x), nil
	case []byte:
		return Bytes(x), nil
	case []any:
		l := make(List, 0, len(x))
		for i, elem := range x {
			v, err := From(elem)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			l = append(l, v)
		}
		return l, nil
	}

	return nil, fmt.Errorf("convert %T: %w", x, ErrUnexpectedKind)
}
