package amf

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ssungk/eamf/pkg/amf/stream"
)

// AMF0Decoder reads AMF0 values from a ByteStream. A payload that switches
// to AMF3 via the 0x11 marker keeps one AMF3 sub-decoder whose context is
// carried across values.
type AMF0Decoder struct {
	// Strict makes an unregistered wire class name a decode failure
	// instead of falling back to TypedObject.
	Strict bool

	s    *stream.ByteStream
	ctx  *Context
	amf3 *AMF3Decoder
}

// NewAMF0Decoder creates a decoder over s. A nil context is replaced with
// a fresh one.
func NewAMF0Decoder(s *stream.ByteStream, ctx *Context) *AMF0Decoder {
	if ctx == nil {
		ctx = NewContext()
	}
	return &AMF0Decoder{s: s, ctx: ctx}
}

// Stream returns the underlying byte stream.
func (d *AMF0Decoder) Stream() *stream.ByteStream {
	return d.s
}

// Context returns the decoder's context.
func (d *AMF0Decoder) Context() *Context {
	return d.ctx
}

// Decode reads the next value. When the stream runs dry the cursor seeks
// back to the value start and stream.ErrEndOfStream is returned, so a
// caller feeding the stream incrementally can append bytes and retry.
// Post-decode processors run on the returned value.
func (d *AMF0Decoder) Decode() (any, error) {
	pos := d.s.Tell()
	v, err := d.decodeValue()
	if err != nil {
		if errors.Is(err, stream.ErrEndOfStream) {
			d.s.Seek(pos, io.SeekStart)
			return nil, stream.ErrEndOfStream
		}
		return nil, err
	}
	return finalise(v, d.ctx.Extra), nil
}

func (d *AMF0Decoder) decodeValue() (any, error) {
	marker, err := d.s.ReadByte()
	if err != nil {
		return nil, err
	}

	switch marker {
	case numberMarker:
		return d.s.ReadFloat64()
	case booleanMarker:
		b, err := d.s.ReadByte()
		if err != nil {
			return nil, err
		}
		return b != 0, nil
	case stringMarker:
		return d.readUTF()
	case objectMarker:
		return d.decodeObject()
	case nullMarker:
		return nil, nil
	case undefinedMarker:
		return Undefined, nil
	case referenceMarker:
		return d.decodeReference()
	case ecmaArrayMarker:
		return d.decodeECMAArray()
	case strictArrayMarker:
		return d.decodeStrictArray()
	case dateMarker:
		return d.decodeDate()
	case longStringMarker:
		return d.readLongUTF()
	case unsupportedMarker:
		return Undefined, nil
	case xmlDocumentMarker:
		return d.decodeXMLDocument()
	case typedObjectMarker:
		return d.decodeTypedObject()
	case avmPlusMarker:
		return d.upgrade().decodeValue()
	case movieClipMarker:
		return nil, fmt.Errorf("%w: movieclip marker is not supported", ErrDecode)
	}
	return nil, fmt.Errorf("%w: unknown amf0 marker 0x%02x", ErrDecode, marker)
}

// upgrade returns the AMF3 sub-decoder, creating it on first use. Its
// context persists for the rest of this payload.
func (d *AMF0Decoder) upgrade() *AMF3Decoder {
	if d.amf3 == nil {
		d.amf3 = NewAMF3Decoder(d.s, NewContext())
		d.amf3.Strict = d.Strict
	}
	return d.amf3
}

// ReadString reads a bare u16 length-prefixed string with no value
// marker, the form used for member names and SOL entry names.
func (d *AMF0Decoder) ReadString() (string, error) {
	return d.readUTF()
}

func (d *AMF0Decoder) readUTF() (string, error) {
	n, err := d.s.ReadUint(2)
	if err != nil {
		return "", err
	}
	s, err := d.s.ReadUTF8(int(n))
	if err != nil {
		return "", wrapUTF8(err)
	}
	return s, nil
}

func (d *AMF0Decoder) readLongUTF() (string, error) {
	n, err := d.s.ReadUint(4)
	if err != nil {
		return "", err
	}
	s, err := d.s.ReadUTF8(int(n))
	if err != nil {
		return "", wrapUTF8(err)
	}
	return s, nil
}

// readPairs consumes name-value pairs up to the 00 00 09 sentinel.
func (d *AMF0Decoder) readPairs(into map[string]any) error {
	for {
		name, err := d.readUTF()
		if err != nil {
			return err
		}
		if name == "" {
			end, err := d.s.ReadByte()
			if err != nil {
				return err
			}
			if end != objectEndMarker {
				return fmt.Errorf("%w: expected object end, got 0x%02x", ErrDecode, end)
			}
			return nil
		}
		value, err := d.decodeValue()
		if err != nil {
			return err
		}
		into[name] = value
	}
}

func (d *AMF0Decoder) decodeObject() (any, error) {
	obj := Object{}
	d.ctx.objects.add(obj)
	if err := d.readPairs(obj); err != nil {
		return nil, err
	}
	return obj, nil
}

func (d *AMF0Decoder) decodeReference() (any, error) {
	idx, err := d.s.ReadUint(2)
	if err != nil {
		return nil, err
	}
	v, ok := d.ctx.objects.get(int(idx))
	if !ok {
		return nil, fmt.Errorf("%w: reference index %d out of range", ErrDecode, idx)
	}
	return v, nil
}

func (d *AMF0Decoder) decodeECMAArray() (any, error) {
	// length hint is advisory; the sentinel terminates the body
	if _, err := d.s.ReadUint(4); err != nil {
		return nil, err
	}
	arr := ECMAArray{}
	d.ctx.objects.add(arr)
	if err := d.readPairs(arr); err != nil {
		return nil, err
	}
	return arr, nil
}

func (d *AMF0Decoder) decodeStrictArray() (any, error) {
	count, err := d.s.ReadUint(4)
	if err != nil {
		return nil, err
	}
	arr := make([]any, int(count))
	d.ctx.objects.add(arr)
	for i := range arr {
		v, err := d.decodeValue()
		if err != nil {
			return nil, err
		}
		arr[i] = v
	}
	return arr, nil
}

func (d *AMF0Decoder) decodeDate() (any, error) {
	ms, err := d.s.ReadFloat64()
	if err != nil {
		return nil, err
	}
	// timezone offset is read and discarded; dates are UTC
	if _, err := d.s.ReadInt(2); err != nil {
		return nil, err
	}
	return time.UnixMilli(int64(ms)).UTC(), nil
}

func (d *AMF0Decoder) decodeXMLDocument() (any, error) {
	n, err := d.s.ReadUint(4)
	if err != nil {
		return nil, err
	}
	b, err := d.s.Read(int(n))
	if err != nil {
		return nil, err
	}
	v, err := xmlHandler.FromString(b, d.ctx.ForbidDTD, d.ctx.ForbidEntities)
	if err != nil {
		return nil, err
	}
	if x, ok := v.(XML); ok {
		return XMLDocument(x), nil
	}
	return v, nil
}

func (d *AMF0Decoder) decodeTypedObject() (any, error) {
	name, err := d.readUTF()
	if err != nil {
		return nil, err
	}

	alias, registered := lookupAliasByName(name)
	if !registered && d.Strict {
		return nil, fmt.Errorf("%w: %q", ErrUnknownClassAlias, name)
	}

	if registered && alias.Type != nil {
		ptr := alias.newInstance()
		d.ctx.objects.add(ptr.Interface())
		attrs := make(map[string]any)
		if err := d.readPairs(attrs); err != nil {
			return nil, err
		}
		alias.applyAttrs(ptr, attrs)
		result := ptr.Interface()
		if alias.Proxy {
			return &ObjectProxy{Value: result}, nil
		}
		return result, nil
	}

	obj := &TypedObject{Alias: name, Members: Object{}}
	d.ctx.objects.add(obj)
	if err := d.readPairs(obj.Members); err != nil {
		return nil, err
	}
	return obj, nil
}

func wrapUTF8(err error) error {
	if errors.Is(err, stream.ErrInvalidUTF8) {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return err
}

// DecodeAMF0Sequence decodes every value in data. A payload that ends
// mid-value is a decode error; clean exhaustion ends the sequence.
func DecodeAMF0Sequence(data []byte) ([]any, error) {
	dec := NewAMF0Decoder(stream.New(data), nil)
	var values []any
	for {
		v, err := dec.Decode()
		if err != nil {
			if errors.Is(err, stream.ErrEndOfStream) {
				if dec.Stream().Remaining() > 0 {
					return nil, fmt.Errorf("%w: truncated value", ErrDecode)
				}
				return values, nil
			}
			return nil, err
		}
		values = append(values, v)
	}
}
