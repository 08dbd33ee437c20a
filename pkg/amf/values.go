package amf

// UndefinedType is the type of the Undefined sentinel. ActionScript
// distinguishes undefined from null; Go nil maps to null, so undefined
// needs its own value.
type UndefinedType struct{}

// Undefined is the sentinel for the ActionScript undefined value.
var Undefined = UndefinedType{}

// Object is an anonymous ActionScript object: string-keyed, dynamic, no
// class alias. Distinct from ECMAArray, which uses the AMF0 associative
// array marker on the wire.
type Object map[string]any

// ECMAArray is an AMF0 associative array: string-keyed values framed with
// an advisory length hint.
type ECMAArray map[string]any

// TypedObject carries a wire class name the registry could not map to a
// host type, along with its decoded members. Encoding one writes the same
// alias back out.
type TypedObject struct {
	Alias   string
	Members Object
}

// MixedArray is an AMF3 array with both a dense part and string-keyed
// associative members.
type MixedArray struct {
	Dense []any
	Assoc map[string]any
}

// ByteArray is an AMF3 byte array. Reference-eligible by content.
type ByteArray []byte

// XMLDocument is a legacy flash.xml.XMLDocument payload, kept as opaque
// UTF-8. Framed as a long string in AMF0 and with marker 0x07 in AMF3.
type XMLDocument string

// XML is an ActionScript 3 E4X XML payload, kept as opaque UTF-8.
// Marker 0x0B in AMF3; the AMF0 encoder writes it as an XMLDocument.
type XML string

// VectorInt is an AMF3 Vector.<int>.
type VectorInt struct {
	Fixed bool
	Data  []int32
}

// VectorUint is an AMF3 Vector.<uint>.
type VectorUint struct {
	Fixed bool
	Data  []uint32
}

// VectorDouble is an AMF3 Vector.<Number>.
type VectorDouble struct {
	Fixed bool
	Data  []float64
}

// VectorObject is an AMF3 Vector.<T> of object elements. TypeName is the
// wire name of T; empty means Object.
type VectorObject struct {
	Fixed    bool
	TypeName string
	Data     []any
}

// DictEntry is one key-value pair of a Dictionary. Both sides are full
// AMF3 values.
type DictEntry struct {
	Key   any
	Value any
}

// Dictionary is an AMF3 dictionary. Entries keep insertion order; WeakKeys
// is carried on the wire but advisory for a codec.
type Dictionary struct {
	WeakKeys bool
	Entries  []DictEntry
}

// ObjectProxy wraps a value decoded through an alias registered with the
// proxy flag.
type ObjectProxy struct {
	Value any
}
