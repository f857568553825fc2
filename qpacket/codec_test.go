package qpacket

import (
	"bytes"
	"errors"
	"math"
	"math/big"
	"testing"
)

type point struct {
	X, Y int64
}

func (p point) Convert() Value {
	return List{NewInt(p.X), NewInt(p.Y)}
}

func reconstructPoint(d *Decoder) (Object, error) {
	v, err := d.Expect(KindList)
	if err != nil {
		return nil, err
	}

	l := v.(List)
	if len(l) != 2 {
		return nil, ErrUnexpectedKind
	}

	x, _ := l[0].(Int).Int64()
	y, _ := l[1].(Int).Int64()

	return point{X: x, Y: y}, nil
}

// short reads a prefix of its own payload only
type short struct{}

func (short) Convert() Value { return List{NewInt(1), NewInt(2)} }

func reconstructShort(d *Decoder) (Object, error) {
	// Only consume the list header and the first element
	if _, err := d.readN(1); err != nil {
		return nil, err
	}
	if _, err := d.length(); err != nil {
		return nil, err
	}
	if _, err := d.Value(); err != nil {
		return nil, err
	}

	return short{}, nil
}

func testCodec(t *testing.T) *Codec {
	t.Helper()

	reg := NewRegistry()
	if err := reg.Register(LibraryID(1), point{}, reconstructPoint); err != nil {
		t.Fatalf("register point: %v", err)
	}
	if err := reg.Register(LibraryID(2), short{}, reconstructShort); err != nil {
		t.Fatalf("register short: %v", err)
	}

	return NewCodec(reg)
}

func bigPow2(n uint) *big.Int {
	return new(big.Int).Lsh(big.NewInt(1), n)
}

func TestRoundTrip(t *testing.T) {
	c := testCodec(t)

	tests := []struct {
		name string
		v    Value
	}{
		{"zero", NewInt(0)},
		{"one", NewInt(1)},
		{"minus one", NewInt(-1)},
		{"127", NewInt(127)},
		{"128", NewInt(128)},
		{"255", NewInt(255)},
		{"256", NewInt(256)},
		{"-300", NewInt(-300)},
		{"max int64", NewInt(math.MaxInt64)},
		{"min int64", NewInt(math.MinInt64)},
		{"2^200", NewBigInt(bigPow2(200))},
		{"-2^1000", NewBigInt(new(big.Int).Neg(bigPow2(1000)))},
		{"largest magnitude", NewBigInt(bigPow2(2031))},
		{"half", Float(0.5)},
		{"negative fraction", Float(-2.25)},
		{"tenth", Float(0.1)},
		{"huge float", Float(1e300)},
		{"denormal", Float(5e-324)},
		{"integral float", Float(3)},
		{"empty bytes", Bytes{}},
		{"bytes", Bytes{0x00, 0xFF, 0x10, 0x80}},
		{"empty str", Str("")},
		{"unicode str", Str("héllo wörld ✓ 日本")},
		{"none", None{}},
		{"empty list", List{}},
		{"list", List{NewInt(1), Str("two"), Float(3.5), None{}}},
		{"tuple", Tuple{NewInt(-7), Bytes("x")}},
		{"set", Set{Str("a"), NewInt(2), Tuple{NewInt(3)}}},
		{"nested", List{Tuple{List{Set{NewInt(1)}}, Str("deep")}, List{}}},
		{"custom", Custom{Object: point{X: -5, Y: 1 << 40}}},
		{"custom in list", List{Custom{Object: point{X: 1, Y: 2}}, Custom{Object: point{}}}},
		{"long bytes", Bytes(bytes.Repeat([]byte{0xAB}, 70000))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := c.Encode(tt.v)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}

			d := c.NewDecoder(b)
			got, err := d.Value()
			if err != nil {
				t.Fatalf("decode: %v", err)
			}

			if !Equal(got, tt.v) {
				t.Fatalf("decode(encode(%v)) = %v", tt.v, got)
			}

			if d.HasValues() {
				t.Fatalf("decoder left %d bytes", len(b)-d.Consumed())
			}
			if d.Consumed() != len(b) {
				t.Fatalf("consumed %d of %d bytes", d.Consumed(), len(b))
			}
		})
	}
}

func TestEncodeIntExamples(t *testing.T) {
	c := NewCodec(nil)

	tests := []struct {
		v    int64
		want []byte
	}{
		{-300, []byte{byte(KindInt), signNegative, 2, 0x01, 0x2C}},
		{0, []byte{byte(KindInt), signPositive, 1, 0x00}},
		{255, []byte{byte(KindInt), signPositive, 2, 0x00, 0xFF}},
		{127, []byte{byte(KindInt), signPositive, 1, 0x7F}},
	}

	for _, tt := range tests {
		got, err := c.Encode(NewInt(tt.v))
		if err != nil {
			t.Fatalf("encode %d: %v", tt.v, err)
		}
		if !bytes.Equal(got, tt.want) {
			t.Fatalf("encode %d = % x, want % x", tt.v, got, tt.want)
		}
	}

	v, err := c.NewDecoder([]byte{0, 1, 2, 0x01, 0x2C}).Value()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n, ok := v.(Int).Int64(); !ok || n != -300 {
		t.Fatalf("decode = %v, want -300", v)
	}
}

func TestEncodeFloatIsExactRatio(t *testing.T) {
	c := NewCodec(nil)

	got, err := c.Encode(Float(0.5))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	want := []byte{
		byte(KindFloat), byte(KindTuple),
		0, 0, 1, 2, // count
		0, 0, 1, 1, // numerator
		0, 0, 1, 2, // denominator
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("encode 0.5 = % x, want % x", got, want)
	}
}

func TestEncodeErrors(t *testing.T) {
	c := NewCodec(nil)

	tests := []struct {
		name string
		v    Value
		want error
	}{
		{"nan", Float(math.NaN()), ErrNotFinite},
		{"inf", Float(math.Inf(-1)), ErrNotFinite},
		{"too large", NewBigInt(bigPow2(2040)), ErrIntTooLarge},
		{"unregistered", Custom{Object: point{}}, ErrUnregistered},
		{"nested unregistered", List{NewInt(1), Custom{Object: point{}}}, ErrUnregistered},
	}

	for _, tt := range tests {
		if _, err := c.Encode(tt.v); !errors.Is(err, tt.want) {
			t.Errorf("%s: err = %v, want %v", tt.name, err, tt.want)
		}
	}
}

func TestStreamingDecode(t *testing.T) {
	c := testCodec(t)

	values := []Value{NewInt(42), Str("stream"), List{Float(0.25), None{}}, Custom{Object: point{X: 3, Y: 4}}}

	var stream []byte
	for _, v := range values {
		var err error
		stream, err = c.Append(stream, v)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
	}

	d := c.NewDecoder(nil)
	d.Feed(stream[:len(stream)/2])
	d.Feed(stream[len(stream)/2:])

	var got []Value
	for d.HasValues() {
		v, err := d.Value()
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		got = append(got, v)
	}

	if !equalSeq(got, values) {
		t.Fatalf("decoded %v, want %v", got, values)
	}

	all, err := c.Decode(stream)
	if err != nil {
		t.Fatalf("decode all: %v", err)
	}
	if !equalSeq(all, values) {
		t.Fatalf("decode all = %v, want %v", all, values)
	}
}

func TestSetEncodingIsCanonical(t *testing.T) {
	c := NewCodec(nil)

	a, err := c.Encode(Set{Str("b"), NewInt(1), Str("a")})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	b, err := c.Encode(Set{Str("a"), Str("b"), NewInt(1), Str("a")})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	if !bytes.Equal(a, b) {
		t.Fatalf("equal sets encode differently:\n% x\n% x", a, b)
	}

	v, err := c.NewDecoder(b).Value()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(v.(Set)) != 3 {
		t.Fatalf("decoded set has %d elements, want 3", len(v.(Set)))
	}
}

func TestDecodeErrors(t *testing.T) {
	c := testCodec(t)

	invalidUTF8, _ := c.Encode(Bytes{0xFF, 0xFE})
	invalidUTF8[0] = byte(KindStr)

	unknownID := []byte{byte(KindCustom)}
	unknownID, _ = appendInt(unknownID, big.NewInt(7))
	unknownID = appendLen(unknownID, 0)

	shortRead, err := c.Encode(Custom{Object: short{}})
	if err != nil {
		t.Fatalf("encode short: %v", err)
	}

	zeroDenom := []byte{byte(KindFloat), byte(KindTuple)}
	zeroDenom = appendLen(zeroDenom, 2)
	zeroDenom = appendLen(zeroDenom, 1)
	zeroDenom = appendLen(zeroDenom, 0)

	var tooDeep []byte
	for i := 0; i <= MaxDepth; i++ {
		tooDeep = append(tooDeep, byte(KindList))
		tooDeep = appendLen(tooDeep, 1)
	}
	tooDeep = append(tooDeep, byte(KindNone))

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"nested too deeply", tooDeep, ErrTooDeep},
		{"unknown tag", []byte{0x09}, ErrUnknownTag},
		{"unknown sign", []byte{byte(KindInt), 5, 1, 0}, ErrUnknownSign},
		{"truncated magnitude", []byte{byte(KindInt), signPositive, 2, 0x01}, ErrInsufficientData},
		{"truncated bytes", []byte{byte(KindBytes), byte(KindInt), signPositive, 1, 5, 'a'}, ErrInsufficientData},
		{"length not int", []byte{byte(KindBytes), byte(KindNone)}, ErrUnexpectedKind},
		{"negative length", []byte{byte(KindList), byte(KindInt), signNegative, 1, 1}, ErrInvalidLength},
		{"invalid utf8", invalidUTF8, ErrInvalidUTF8},
		{"unknown custom id", unknownID, ErrUnregistered},
		{"custom length mismatch", shortRead, ErrCustomLength},
		{"float not tuple", []byte{byte(KindFloat), byte(KindNone)}, ErrUnexpectedKind},
		{"float zero denominator", zeroDenom, ErrZeroDenom},
		{"empty", []byte{}, ErrInsufficientData},
	}

	for _, tt := range tests {
		_, err := c.NewDecoder(tt.data).Value()
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: err = %v, want %v", tt.name, err, tt.want)
		}
	}
}

func TestDecodeDepth(t *testing.T) {
	c := NewCodec(nil)

	// MaxDepth nested lists are fine
	var v Value = None{}
	for i := 0; i < MaxDepth; i++ {
		v = List{v}
	}
	data, err := c.Encode(v)
	if err != nil {
		t.Fatal(err)
	}

	got, err := c.NewDecoder(data).Value()
	if err != nil {
		t.Fatalf("depth %d: %v", MaxDepth, err)
	}
	if !Equal(got, v) {
		t.Fatal("nested lists changed in transit")
	}

	// A huge nesting fails without exhausting the stack
	var deep []byte
	for i := 0; i < 1000000; i++ {
		deep = append(deep, byte(KindList), byte(KindInt), signPositive, 1, 1)
	}
	deep = append(deep, byte(KindNone))

	if _, err := c.Decode(deep); !errors.Is(err, ErrTooDeep) {
		t.Fatalf("err = %v, want ErrTooDeep", err)
	}

	// Depth returns to zero once a nested value is complete
	d := c.NewDecoder(append(append([]byte(nil), deep[:5*10]...), byte(KindNone)))
	if _, err := d.Value(); err != nil {
		t.Fatal(err)
	}
	if d.depth != 0 {
		t.Fatalf("depth = %d after decoding", d.depth)
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()

	if err := reg.Register(1, point{}, reconstructPoint); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register(2, point{}, reconstructPoint); err == nil {
		t.Fatalf("registering a type twice succeeded")
	}
	if err := reg.Register(1, short{}, reconstructShort); err == nil {
		t.Fatalf("reusing an id succeeded")
	}
	if err := reg.Register(3, nil, reconstructPoint); err == nil {
		t.Fatalf("registering nil sample succeeded")
	}

	id, ok := reg.ID(point{X: 9})
	if !ok || id != 1 {
		t.Fatalf("id = %d, %v, want 1, true", id, ok)
	}

	if _, ok := reg.ID(short{}); ok {
		t.Fatalf("unregistered type has an id")
	}
}

func TestFrom(t *testing.T) {
	v, err := From([]any{1, "a", []byte{2}, nil, 0.5, uint64(math.MaxUint64), point{X: 1}})
	if err != nil {
		t.Fatalf("from: %v", err)
	}

	want := List{
		NewInt(1), Str("a"), Bytes{2}, None{}, Float(0.5),
		Int{v: new(big.Int).SetUint64(math.MaxUint64)}, Custom{Object: point{X: 1}},
	}
	if !Equal(v, want) {
		t.Fatalf("from = %v, want %v", v, want)
	}

	if _, err := From(struct{}{}); !errors.Is(err, ErrUnexpectedKind) {
		t.Fatalf("err = %v, want ErrUnexpectedKind", err)
	}
}
