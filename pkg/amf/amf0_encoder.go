package amf

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"time"

	"github.com/ssungk/eamf/pkg/amf/stream"
)

// AMF0Encoder writes AMF0 values to a ByteStream. Complex values are
// tracked in the context's single reference table and repeat occurrences
// collapse to u16 back-references.
type AMF0Encoder struct {
	// UseAMF3 switches every value to the 0x11 upgrade marker followed by
	// an AMF3 body. The embedded AMF3 context persists across values.
	UseAMF3 bool

	s    *stream.ByteStream
	ctx  *Context
	amf3 *AMF3Encoder
}

// NewAMF0Encoder creates an encoder. A nil stream or context is replaced
// with a fresh one.
func NewAMF0Encoder(s *stream.ByteStream, ctx *Context) *AMF0Encoder {
	if s == nil {
		s = stream.New(nil)
	}
	if ctx == nil {
		ctx = NewContext()
	}
	return &AMF0Encoder{s: s, ctx: ctx}
}

// Stream returns the underlying byte stream.
func (e *AMF0Encoder) Stream() *stream.ByteStream {
	return e.s
}

// Context returns the encoder's context.
func (e *AMF0Encoder) Context() *Context {
	return e.ctx
}

// Encode writes one value. The first error aborts the value being
// written; the stream is left at the point of failure.
func (e *AMF0Encoder) Encode(v any) error {
	if e.UseAMF3 {
		if err := e.s.WriteByte(avmPlusMarker); err != nil {
			return err
		}
		return e.upgrade().Encode(v)
	}
	return e.encodeValue(v)
}

func (e *AMF0Encoder) upgrade() *AMF3Encoder {
	if e.amf3 == nil {
		e.amf3 = NewAMF3Encoder(e.s, NewContext())
	}
	return e.amf3
}

func (e *AMF0Encoder) encodeValue(v any) error {
	switch t := v.(type) {
	case nil:
		return e.s.WriteByte(nullMarker)
	case UndefinedType:
		return e.s.WriteByte(undefinedMarker)
	case bool:
		if err := e.s.WriteByte(booleanMarker); err != nil {
			return err
		}
		if t {
			return e.s.WriteByte(1)
		}
		return e.s.WriteByte(0)
	case int:
		return e.encodeNumber(float64(t))
	case int8:
		return e.encodeNumber(float64(t))
	case int16:
		return e.encodeNumber(float64(t))
	case int32:
		return e.encodeNumber(float64(t))
	case int64:
		return e.encodeNumber(float64(t))
	case uint:
		return e.encodeNumber(float64(t))
	case uint8:
		return e.encodeNumber(float64(t))
	case uint16:
		return e.encodeNumber(float64(t))
	case uint32:
		return e.encodeNumber(float64(t))
	case uint64:
		return e.encodeNumber(float64(t))
	case float32:
		return e.encodeNumber(float64(t))
	case float64:
		return e.encodeNumber(t)
	case []byte:
		return e.encodeString(string(t))
	case ByteArray:
		return e.encodeString(string(t))
	case string:
		return e.encodeString(t)
	case []any:
		return e.encodeStrictArray(t)
	case ECMAArray:
		return e.encodeECMAArray(v, map[string]any(t))
	case Object:
		return e.encodeObject(v, "", map[string]any(t))
	case map[string]any:
		return e.encodeECMAArray(v, t)
	case *MixedArray:
		return e.encodeMixedArray(t)
	case time.Time:
		return e.encodeDate(t)
	case XMLDocument:
		return e.encodeXMLDocument(string(t))
	case XML:
		return e.encodeXMLDocument(string(t))
	case *TypedObject:
		return e.encodeTypedObject(t)
	case reflect.Type:
		return fmt.Errorf("%w: class object %s", ErrEncode, t)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		generic := make([]any, rv.Len())
		for i := range generic {
			generic[i] = rv.Index(i).Interface()
		}
		return e.encodeStrictArray(generic)
	case reflect.Map:
		return e.encodeReflectedMap(rv)
	}

	// adapters outrank the generic object fallback, so custom struct
	// types can take over their own encoding
	if adapter, ok := adapterFor(v); ok {
		replacement, err := adapter(v, e)
		if err != nil {
			return err
		}
		if replacement != nil {
			return e.encodeValue(replacement)
		}
		return nil
	}

	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return e.s.WriteByte(nullMarker)
		}
		if rv.Elem().Kind() == reflect.Struct {
			return e.encodeStruct(v, rv)
		}
	case reflect.Struct:
		return e.encodeStruct(v, rv)
	}

	return fmt.Errorf("%w: %T", ErrEncode, v)
}

func (e *AMF0Encoder) encodeNumber(v float64) error {
	if err := e.s.WriteByte(numberMarker); err != nil {
		return err
	}
	return e.s.WriteFloat64(v)
}

// encodeString picks the short or long form by byte length.
func (e *AMF0Encoder) encodeString(v string) error {
	if len(v) >= longStringThreshold {
		if err := e.s.WriteByte(longStringMarker); err != nil {
			return err
		}
		if err := e.s.WriteUint(4, uint32(len(v))); err != nil {
			return err
		}
		_, err := e.s.Write([]byte(v))
		return err
	}
	if err := e.s.WriteByte(stringMarker); err != nil {
		return err
	}
	return e.writeUTF(v)
}

// WriteString writes a bare u16 length-prefixed string with no value
// marker, the form used for member names and SOL entry names.
func (e *AMF0Encoder) WriteString(v string) error {
	return e.writeUTF(v)
}

// writeUTF writes a u16 length-prefixed string with no marker.
func (e *AMF0Encoder) writeUTF(v string) error {
	if len(v) > 0xFFFF {
		return fmt.Errorf("%w: name longer than 65535 bytes", ErrEncode)
	}
	if err := e.s.WriteUint(2, uint32(len(v))); err != nil {
		return err
	}
	_, err := e.s.Write([]byte(v))
	return err
}

// writeReference emits a 0x07 back-reference when v was already written.
func (e *AMF0Encoder) writeReference(v any) (bool, error) {
	ref := e.ctx.objects.lookup(v)
	if ref < 0 || ref > 0xFFFF {
		return false, nil
	}
	if err := e.s.WriteByte(referenceMarker); err != nil {
		return false, err
	}
	return true, e.s.WriteUint(2, uint32(ref))
}

func (e *AMF0Encoder) encodeStrictArray(v []any) error {
	if done, err := e.writeReference(v); done || err != nil {
		return err
	}
	e.ctx.objects.add(v)

	if err := e.s.WriteByte(strictArrayMarker); err != nil {
		return err
	}
	if err := e.s.WriteUint(4, uint32(len(v))); err != nil {
		return err
	}
	for _, item := range v {
		if err := e.encodeValue(item); err != nil {
			return err
		}
	}
	return nil
}

// encodeECMAArray writes the associative array form. id is the original
// value for reference identity; m is its map view.
func (e *AMF0Encoder) encodeECMAArray(id any, m map[string]any) error {
	if done, err := e.writeReference(id); done || err != nil {
		return err
	}
	e.ctx.objects.add(id)

	if err := e.s.WriteByte(ecmaArrayMarker); err != nil {
		return err
	}
	if err := e.s.WriteUint(4, uint32(len(m))); err != nil {
		return err
	}
	if err := e.writePairs(m); err != nil {
		return err
	}
	return e.writeObjectEnd()
}

func (e *AMF0Encoder) encodeMixedArray(v *MixedArray) error {
	if done, err := e.writeReference(v); done || err != nil {
		return err
	}
	e.ctx.objects.add(v)

	if err := e.s.WriteByte(ecmaArrayMarker); err != nil {
		return err
	}
	if err := e.s.WriteUint(4, uint32(len(v.Dense))); err != nil {
		return err
	}
	for i, item := range v.Dense {
		if err := e.writeUTF(strconv.Itoa(i)); err != nil {
			return err
		}
		if err := e.encodeValue(item); err != nil {
			return err
		}
	}
	if err := e.writePairs(v.Assoc); err != nil {
		return err
	}
	return e.writeObjectEnd()
}

func (e *AMF0Encoder) encodeReflectedMap(rv reflect.Value) error {
	m := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		var key string
		switch k := iter.Key().Interface().(type) {
		case string:
			key = k
		case int:
			if k < 0 {
				return fmt.Errorf("%w: negative integer key %d", ErrEncode, k)
			}
			key = strconv.Itoa(k)
		default:
			return fmt.Errorf("%w: map key %T", ErrEncode, k)
		}
		m[key] = iter.Value().Interface()
	}
	return e.encodeECMAArray(rv.Interface(), m)
}

// encodeObject writes an anonymous (0x03) or typed (0x10) object body.
// id carries reference identity.
func (e *AMF0Encoder) encodeObject(id any, alias string, members map[string]any) error {
	if done, err := e.writeReference(id); done || err != nil {
		return err
	}
	e.ctx.objects.add(id)

	if alias == "" {
		if err := e.s.WriteByte(objectMarker); err != nil {
			return err
		}
	} else {
		if err := e.s.WriteByte(typedObjectMarker); err != nil {
			return err
		}
		if err := e.writeUTF(alias); err != nil {
			return err
		}
	}
	if err := e.writePairs(members); err != nil {
		return err
	}
	return e.writeObjectEnd()
}

func (e *AMF0Encoder) encodeTypedObject(v *TypedObject) error {
	if done, err := e.writeReference(v); done || err != nil {
		return err
	}
	e.ctx.objects.add(v)

	if err := e.s.WriteByte(typedObjectMarker); err != nil {
		return err
	}
	if err := e.writeUTF(v.Alias); err != nil {
		return err
	}
	if err := e.writePairs(v.Members); err != nil {
		return err
	}
	return e.writeObjectEnd()
}

// encodeStruct writes a host struct through its class alias, typed when
// the alias carries a wire name.
func (e *AMF0Encoder) encodeStruct(v any, rv reflect.Value) error {
	if done, err := e.writeReference(v); done || err != nil {
		return err
	}
	e.ctx.objects.add(v)

	alias := e.ctx.aliasForType(rv.Type())
	static, dynamic, err := alias.encodableAttrs(rv)
	if err != nil {
		return err
	}

	if alias.Alias == "" {
		if err := e.s.WriteByte(objectMarker); err != nil {
			return err
		}
	} else {
		if err := e.s.WriteByte(typedObjectMarker); err != nil {
			return err
		}
		if err := e.writeUTF(alias.Alias); err != nil {
			return err
		}
	}

	for i, name := range alias.staticMembers() {
		if err := e.writeUTF(name); err != nil {
			return err
		}
		if err := e.encodeValue(static[i]); err != nil {
			return err
		}
	}
	if err := e.writePairs(dynamic); err != nil {
		return err
	}
	return e.writeObjectEnd()
}

// writePairs writes name-value pairs in sorted key order. Go maps have no
// insertion order, so lexicographic order keeps output deterministic.
func (e *AMF0Encoder) writePairs(m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := e.writeUTF(k); err != nil {
			return err
		}
		if err := e.encodeValue(m[k]); err != nil {
			return err
		}
	}
	return nil
}

func (e *AMF0Encoder) writeObjectEnd() error {
	_, err := e.s.Write([]byte{0x00, 0x00, objectEndMarker})
	return err
}

func (e *AMF0Encoder) encodeDate(t time.Time) error {
	if err := e.s.WriteByte(dateMarker); err != nil {
		return err
	}
	ms := float64(t.UnixNano()) / 1e6
	if err := e.s.WriteFloat64(ms); err != nil {
		return err
	}
	// timezone offset in minutes; always written as UTC
	return e.s.WriteInt(2, 0)
}

// encodeXMLDocument frames the payload like a long string behind the XML
// document marker.
func (e *AMF0Encoder) encodeXMLDocument(doc string) error {
	if err := e.s.WriteByte(xmlDocumentMarker); err != nil {
		return err
	}
	if err := e.s.WriteUint(4, uint32(len(doc))); err != nil {
		return err
	}
	_, err := e.s.Write([]byte(doc))
	return err
}

// EncodeAMF0Sequence encodes a sequence of values into a byte slice.
func EncodeAMF0Sequence(values ...any) ([]byte, error) {
	enc := NewAMF0Encoder(nil, nil)
	for _, v := range values {
		if err := enc.Encode(v); err != nil {
			return nil, err
		}
	}
	return enc.Stream().Bytes(), nil
}
