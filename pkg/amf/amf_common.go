package amf

// Version selects the wire encoding for a payload.
type Version uint8

const (
	// AMF0 is the ActionScript 1.0/2.0 encoding.
	AMF0 Version = 0
	// AMF3 is the ActionScript 3.0 encoding.
	AMF3 Version = 3
)

// AMF0 Type Markers
const (
	numberMarker      = 0x00
	booleanMarker     = 0x01
	stringMarker      = 0x02
	objectMarker      = 0x03
	movieClipMarker   = 0x04 // Not supported
	nullMarker        = 0x05
	undefinedMarker   = 0x06
	referenceMarker   = 0x07
	ecmaArrayMarker   = 0x08
	objectEndMarker   = 0x09
	strictArrayMarker = 0x0A
	dateMarker        = 0x0B
	longStringMarker  = 0x0C
	unsupportedMarker = 0x0D
	xmlDocumentMarker = 0x0F
	typedObjectMarker = 0x10
	avmPlusMarker     = 0x11 // AMF3
)

// AMF3 Type Markers
const (
	amf3UndefinedMarker    = 0x00
	amf3NullMarker         = 0x01
	amf3FalseMarker        = 0x02
	amf3TrueMarker         = 0x03
	amf3IntegerMarker      = 0x04
	amf3DoubleMarker       = 0x05
	amf3StringMarker       = 0x06
	amf3XMLDocMarker       = 0x07
	amf3DateMarker         = 0x08
	amf3ArrayMarker        = 0x09
	amf3ObjectMarker       = 0x0A
	amf3XMLMarker          = 0x0B
	amf3ByteArrayMarker    = 0x0C
	amf3VectorIntMarker    = 0x0D
	amf3VectorUintMarker   = 0x0E
	amf3VectorDoubleMarker = 0x0F
	amf3VectorObjectMarker = 0x10
	amf3DictionaryMarker   = 0x11
)

// U29 signed range. Integers outside promote to Double.
const (
	maxInt29 = 0x0FFFFFFF  // 2^28 - 1
	minInt29 = -0x10000000 // -2^28
	maxU29   = 0x1FFFFFFF  // 2^29 - 1
)

const referenceBit = 0x01

// AMF0 long string threshold: strings of 2^16 bytes or more use the
// u32-prefixed long string form.
const longStringThreshold = 0x10000
