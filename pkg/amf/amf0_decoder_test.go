package amf

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/ssungk/eamf/pkg/amf/stream"
)

func decodeOneAMF0(t *testing.T, data []byte) any {
	t.Helper()
	dec := NewAMF0Decoder(stream.New(data), nil)
	v, err := dec.Decode()
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestDecodeAMF0_Scalars(t *testing.T) {
	testCases := []struct {
		name     string
		data     []byte
		expected any
	}{
		{"null", []byte{0x05}, nil},
		{"undefined", []byte{0x06}, Undefined},
		{"true", []byte{0x01, 0x01}, true},
		{"false", []byte{0x01, 0x00}, false},
		{"number", []byte{0x00, 0x40, 0x0C, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}, 3.5},
		{"string", []byte{0x02, 0x00, 0x03, 'f', 'o', 'o'}, "foo"},
	}

	for _, tc := range testCases {
		v := decodeOneAMF0(t, tc.data)
		if v != tc.expected {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.expected, v)
		}
	}
}

func TestDecodeAMF0_ECMAArray(t *testing.T) {
	data := []byte{
		0x08, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x01, 'a',
		0x02, 0x00, 0x01, 'x',
		0x00, 0x00, 0x09,
	}
	v := decodeOneAMF0(t, data).(ECMAArray)
	if len(v) != 1 || v["a"] != "x" {
		t.Errorf("expected {a: x}, got %v", v)
	}
}

func TestDecodeAMF0_Object(t *testing.T) {
	data := []byte{
		0x03,
		0x00, 0x01, 'a',
		0x02, 0x00, 0x01, 'x',
		0x00, 0x00, 0x09,
	}
	v := decodeOneAMF0(t, data).(Object)
	if v["a"] != "x" {
		t.Errorf("expected {a: x}, got %v", v)
	}
}

func TestDecodeAMF0_BadObjectEnd(t *testing.T) {
	data := []byte{0x03, 0x00, 0x00, 0x42}
	dec := NewAMF0Decoder(stream.New(data), nil)
	if _, err := dec.Decode(); !errors.Is(err, ErrDecode) {
		t.Errorf("expected ErrDecode, got %v", err)
	}
}

func TestDecodeAMF0_StrictArray(t *testing.T) {
	data := []byte{
		0x0A, 0x00, 0x00, 0x00, 0x02,
		0x00, 0x3F, 0xF0, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x02, 0x00, 0x01, 'x',
	}
	v := decodeOneAMF0(t, data).([]any)
	if len(v) != 2 || v[0] != 1.0 || v[1] != "x" {
		t.Errorf("unexpected array %v", v)
	}
}

func TestDecodeAMF0_Date(t *testing.T) {
	data := []byte{
		0x0B,
		0x40, 0x8F, 0x40, 0x00, 0x00, 0x00, 0x00, 0x00,
		0xFF, 0x88, // non-UTC offsets are read and discarded
	}
	v := decodeOneAMF0(t, data).(time.Time)
	if !v.Equal(time.UnixMilli(1000)) {
		t.Errorf("expected 1970-01-01T00:00:01Z, got %v", v)
	}
}

func TestDecodeAMF0_Reference(t *testing.T) {
	obj := Object{"a": 1.0}
	data, err := EncodeAMF0Sequence([]any{obj, obj})
	if err != nil {
		t.Fatal(err)
	}
	v := decodeOneAMF0(t, data).([]any)
	first := reflect.ValueOf(v[0]).Pointer()
	second := reflect.ValueOf(v[1]).Pointer()
	if first != second {
		t.Error("reference decoded to a distinct object")
	}
}

func TestDecodeAMF0_ReferenceOutOfRange(t *testing.T) {
	dec := NewAMF0Decoder(stream.New([]byte{0x07, 0x00, 0x05}), nil)
	if _, err := dec.Decode(); !errors.Is(err, ErrDecode) {
		t.Errorf("expected ErrDecode, got %v", err)
	}
}

func TestDecodeAMF0_TypedObjectFallback(t *testing.T) {
	data := []byte{
		0x10,
		0x00, 0x07, 'o', 'r', 'g', '.', 'F', 'o', 'o',
		0x00, 0x01, 'a',
		0x02, 0x00, 0x01, 'x',
		0x00, 0x00, 0x09,
	}
	v := decodeOneAMF0(t, data).(*TypedObject)
	if v.Alias != "org.Foo" || v.Members["a"] != "x" {
		t.Errorf("unexpected typed object %+v", v)
	}
}

func TestDecodeAMF0_StrictUnknownAlias(t *testing.T) {
	data := []byte{
		0x10,
		0x00, 0x07, 'n', 'o', '.', 'S', 'u', 'c', 'h',
		0x00, 0x00, 0x09,
	}
	dec := NewAMF0Decoder(stream.New(data), nil)
	dec.Strict = true
	if _, err := dec.Decode(); !errors.Is(err, ErrUnknownClassAlias) {
		t.Errorf("expected ErrUnknownClassAlias, got %v", err)
	}
}

func TestDecodeAMF0_LongString(t *testing.T) {
	data := append([]byte{0x0C, 0x00, 0x00, 0x00, 0x03}, 'a', 'b', 'c')
	if v := decodeOneAMF0(t, data); v != "abc" {
		t.Errorf("expected abc, got %v", v)
	}
}

func TestDecodeAMF0_XMLDocument(t *testing.T) {
	data := append([]byte{0x0F, 0x00, 0x00, 0x00, 0x04}, '<', 'a', '/', '>')
	v := decodeOneAMF0(t, data).(XMLDocument)
	if string(v) != "<a/>" {
		t.Errorf("unexpected xml document %q", v)
	}
}

func TestDecodeAMF0_AMF3Upgrade(t *testing.T) {
	data := []byte{0x11, 0x04, 0x05}
	if v := decodeOneAMF0(t, data); v != 5 {
		t.Errorf("expected 5, got %v", v)
	}
}

func TestDecodeAMF0_AMF3ContextCarriedAcrossValues(t *testing.T) {
	// two upgraded values; the second is a string reference into the
	// AMF3 table built by the first
	data := []byte{
		0x11, 0x06, 0x0B, 'h', 'e', 'l', 'l', 'o',
		0x11, 0x06, 0x00,
	}
	dec := NewAMF0Decoder(stream.New(data), nil)
	first, err := dec.Decode()
	if err != nil {
		t.Fatal(err)
	}
	second, err := dec.Decode()
	if err != nil {
		t.Fatal(err)
	}
	if first != "hello" || second != "hello" {
		t.Errorf("expected two hellos, got %v and %v", first, second)
	}
}

func TestDecodeAMF0_TruncatedSeeksBack(t *testing.T) {
	dec := NewAMF0Decoder(stream.New([]byte{0x02, 0x00, 0x05, 'h'}), nil)
	_, err := dec.Decode()
	if !errors.Is(err, stream.ErrEndOfStream) {
		t.Fatalf("expected ErrEndOfStream, got %v", err)
	}
	if dec.Stream().Tell() != 0 {
		t.Errorf("cursor not restored, at %d", dec.Stream().Tell())
	}
}

func TestDecodeAMF0_UnknownMarker(t *testing.T) {
	dec := NewAMF0Decoder(stream.New([]byte{0x42}), nil)
	if _, err := dec.Decode(); !errors.Is(err, ErrDecode) {
		t.Errorf("expected ErrDecode, got %v", err)
	}
}

func TestAMF0_RoundTrip(t *testing.T) {
	values := []any{
		nil, Undefined, true, false, 3.5, "foo",
		[]any{1.0, "two", nil},
		Object{"name": "Ada"},
		ECMAArray{"k": "v"},
		time.UnixMilli(86400000).UTC(),
	}
	for _, v := range values {
		data, err := EncodeAMF0Sequence(v)
		if err != nil {
			t.Fatalf("%v: %v", v, err)
		}
		decoded, err := DecodeAMF0Sequence(data)
		if err != nil {
			t.Fatalf("%v: %v", v, err)
		}
		if len(decoded) != 1 || !reflect.DeepEqual(decoded[0], v) {
			t.Errorf("round trip changed %#v to %#v", v, decoded[0])
		}
	}
}
