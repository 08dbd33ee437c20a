package amf

import (
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/ssungk/eamf/pkg/amf/stream"
)

// AMF3Encoder writes AMF3 values to a ByteStream. Reference-eligible
// values consult the context tables before writing inline; on a miss the
// value is appended to its table first and then written, so cyclic graphs
// terminate as back-references.
type AMF3Encoder struct {
	// StringReferences disables string interning when false. Inline
	// strings are always legal on the wire; disabling only costs size.
	StringReferences bool

	s   *stream.ByteStream
	ctx *Context
}

// NewAMF3Encoder creates an encoder. A nil stream or context is replaced
// with a fresh one.
func NewAMF3Encoder(s *stream.ByteStream, ctx *Context) *AMF3Encoder {
	if s == nil {
		s = stream.New(nil)
	}
	if ctx == nil {
		ctx = NewContext()
	}
	return &AMF3Encoder{StringReferences: true, s: s, ctx: ctx}
}

// Stream returns the underlying byte stream.
func (e *AMF3Encoder) Stream() *stream.ByteStream {
	return e.s
}

// Context returns the encoder's context.
func (e *AMF3Encoder) Context() *Context {
	return e.ctx
}

// writeU29 writes v in the 1-4 byte variable-length form. The first three
// bytes carry 7 bits each, the fourth carries 8.
func (e *AMF3Encoder) writeU29(v uint32) error {
	switch {
	case v < 0x80:
		return e.s.WriteByte(byte(v))
	case v < 0x4000:
		_, err := e.s.Write([]byte{byte(v>>7) | 0x80, byte(v & 0x7F)})
		return err
	case v < 0x200000:
		_, err := e.s.Write([]byte{byte(v>>14) | 0x80, byte(v>>7&0x7F) | 0x80, byte(v & 0x7F)})
		return err
	case v <= maxU29:
		_, err := e.s.Write([]byte{byte(v>>22) | 0x80, byte(v>>15&0x7F) | 0x80, byte(v>>8&0x7F) | 0x80, byte(v)})
		return err
	}
	return fmt.Errorf("%w: U29 out of range: %d", ErrEncode, v)
}

// Encode writes one value. The first error aborts the value being
// written; the stream is left at the point of failure.
func (e *AMF3Encoder) Encode(v any) error {
	switch t := v.(type) {
	case bool:
		if t {
			return e.s.WriteByte(amf3TrueMarker)
		}
		return e.s.WriteByte(amf3FalseMarker)
	case UndefinedType:
		return e.s.WriteByte(amf3UndefinedMarker)
	case nil:
		return e.s.WriteByte(amf3NullMarker)
	case int:
		return e.encodeInteger(int64(t))
	case int8:
		return e.encodeInteger(int64(t))
	case int16:
		return e.encodeInteger(int64(t))
	case int32:
		return e.encodeInteger(int64(t))
	case int64:
		return e.encodeInteger(t)
	case uint:
		return e.encodeInteger(int64(t))
	case uint8:
		return e.encodeInteger(int64(t))
	case uint16:
		return e.encodeInteger(int64(t))
	case uint32:
		return e.encodeInteger(int64(t))
	case uint64:
		if t > maxInt29 {
			return e.encodeDouble(float64(t))
		}
		return e.encodeInteger(int64(t))
	case float32:
		return e.encodeDouble(float64(t))
	case float64:
		return e.encodeDouble(t)
	case []byte:
		return e.encodeByteArray(ByteArray(t))
	case ByteArray:
		return e.encodeByteArray(t)
	case string:
		if err := e.s.WriteByte(amf3StringMarker); err != nil {
			return err
		}
		return e.serializeString(t)
	case []any:
		return e.encodeDenseArray(t)
	case *MixedArray:
		return e.encodeMixedArray(t)
	case ECMAArray:
		return e.encodeAssocArray(v, map[string]any(t))
	case map[string]any:
		return e.encodeAssocArray(v, t)
	case Object:
		return e.encodeObjectValue(v, &traits{dynamic: true}, nil, map[string]any(t))
	case *TypedObject:
		return e.encodeObjectValue(v, &traits{className: t.Alias, dynamic: true}, nil, t.Members)
	case time.Time:
		return e.encodeDate(t)
	case XMLDocument:
		return e.encodeXMLValue(v, amf3XMLDocMarker, []byte(t))
	case XML:
		return e.encodeXMLValue(v, amf3XMLMarker, []byte(t))
	case *VectorInt:
		return e.encodeVectorInt(t)
	case *VectorUint:
		return e.encodeVectorUint(t)
	case *VectorDouble:
		return e.encodeVectorDouble(t)
	case *VectorObject:
		return e.encodeVectorObject(t)
	case *Dictionary:
		return e.encodeDictionary(t)
	case reflect.Type:
		return fmt.Errorf("%w: class object %s", ErrEncode, t)
	}

	if xmlHandler.IsXML(v) {
		b, err := xmlHandler.ToString(v)
		if err != nil {
			return err
		}
		return e.encodeXMLValue(v, amf3XMLMarker, b)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		generic := make([]any, rv.Len())
		for i := range generic {
			generic[i] = rv.Index(i).Interface()
		}
		return e.encodeDenseArray(generic)
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
			return e.Encode(replacement)
		}
		return nil
	}

	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return e.s.WriteByte(amf3NullMarker)
		}
		if rv.Elem().Kind() == reflect.Struct {
			return e.encodeStruct(v, rv)
		}
	case reflect.Struct:
		return e.encodeStruct(v, rv)
	}

	return fmt.Errorf("%w: %T", ErrEncode, v)
}

func (e *AMF3Encoder) encodeInteger(n int64) error {
	if n < minInt29 || n > maxInt29 {
		return e.encodeDouble(float64(n))
	}
	if err := e.s.WriteByte(amf3IntegerMarker); err != nil {
		return err
	}
	u := uint32(n)
	if n < 0 {
		u = uint32(n + 0x20000000)
	}
	return e.writeU29(u)
}

func (e *AMF3Encoder) encodeDouble(v float64) error {
	if err := e.s.WriteByte(amf3DoubleMarker); err != nil {
		return err
	}
	return e.s.WriteFloat64(v)
}

// WriteString writes a bare string body with no value marker, using the
// string reference table. SOL entry names use this form.
func (e *AMF3Encoder) WriteString(v string) error {
	return e.serializeString(v)
}

// serializeString writes a string body with no marker: a reference on a
// table hit, otherwise an inline header and the raw UTF-8. The empty
// string is always the inline literal 0x01 and never enters the table.
func (e *AMF3Encoder) serializeString(v string) error {
	if v == "" {
		return e.s.WriteByte(0x01)
	}
	if len(v) > maxInt29 {
		return fmt.Errorf("%w: string of %d bytes exceeds U29", ErrEncode, len(v))
	}
	if e.StringReferences {
		if ref := e.ctx.strings.lookup(v); ref >= 0 {
			return e.writeU29(uint32(ref) << 1)
		}
		e.ctx.strings.add(v)
	}
	if err := e.writeU29(uint32(len(v))<<1 | referenceBit); err != nil {
		return err
	}
	_, err := e.s.Write([]byte(v))
	return err
}

// writeObjectReference emits a back-reference when v is already in the
// object table. Otherwise v is appended, reserving its index before the
// body is written.
func (e *AMF3Encoder) writeObjectReference(v any) (bool, error) {
	if ref := e.ctx.objects.lookup(v); ref >= 0 {
		if ref > maxInt29 {
			return false, fmt.Errorf("%w: reference index %d exceeds U29", ErrReference, ref)
		}
		return true, e.writeU29(uint32(ref) << 1)
	}
	e.ctx.objects.add(v)
	return false, nil
}

func (e *AMF3Encoder) encodeDate(t time.Time) error {
	if err := e.s.WriteByte(amf3DateMarker); err != nil {
		return err
	}
	if done, err := e.writeObjectReference(t); done || err != nil {
		return err
	}
	if err := e.s.WriteByte(0x01); err != nil {
		return err
	}
	return e.s.WriteFloat64(float64(t.UnixNano()) / 1e6)
}

func (e *AMF3Encoder) encodeDenseArray(v []any) error {
	if err := e.s.WriteByte(amf3ArrayMarker); err != nil {
		return err
	}
	if done, err := e.writeObjectReference(v); done || err != nil {
		return err
	}
	if err := e.writeU29(uint32(len(v))<<1 | referenceBit); err != nil {
		return err
	}
	if err := e.s.WriteByte(0x01); err != nil { // empty assoc section
		return err
	}
	for _, item := range v {
		if err := e.Encode(item); err != nil {
			return err
		}
	}
	return nil
}

func (e *AMF3Encoder) encodeMixedArray(v *MixedArray) error {
	if err := e.s.WriteByte(amf3ArrayMarker); err != nil {
		return err
	}
	if done, err := e.writeObjectReference(v); done || err != nil {
		return err
	}
	if err := e.writeU29(uint32(len(v.Dense))<<1 | referenceBit); err != nil {
		return err
	}
	if err := e.writeAssocPairs(v.Assoc); err != nil {
		return err
	}
	for _, item := range v.Dense {
		if err := e.Encode(item); err != nil {
			return err
		}
	}
	return nil
}

// encodeAssocArray writes a string-keyed map as an array with an empty
// dense part. id carries reference identity.
func (e *AMF3Encoder) encodeAssocArray(id any, m map[string]any) error {
	if err := e.s.WriteByte(amf3ArrayMarker); err != nil {
		return err
	}
	if done, err := e.writeObjectReference(id); done || err != nil {
		return err
	}
	if err := e.writeU29(referenceBit); err != nil { // dense length 0
		return err
	}
	return e.writeAssocPairs(m)
}

// writeAssocPairs writes the associative section including its empty
// string terminator. Keys sort lexicographically: Go maps carry no
// insertion order, so sorted output is the deterministic choice.
func (e *AMF3Encoder) writeAssocPairs(m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		if k == "" {
			// an empty key is indistinguishable from the terminator
			return fmt.Errorf("%w: empty string key in associative array", ErrEncode)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := e.serializeString(k); err != nil {
			return err
		}
		if err := e.Encode(m[k]); err != nil {
			return err
		}
	}
	return e.s.WriteByte(0x01)
}

func (e *AMF3Encoder) encodeReflectedMap(rv reflect.Value) error {
	stringKeyed := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		k, ok := iter.Key().Interface().(string)
		if !ok {
			return e.encodeMapAsDictionary(rv)
		}
		stringKeyed[k] = iter.Value().Interface()
	}
	return e.encodeAssocArray(rv.Interface(), stringKeyed)
}

// encodeMapAsDictionary writes a non-string-keyed map as a Dictionary.
// Entries sort by encoded key text to keep the output stable.
func (e *AMF3Encoder) encodeMapAsDictionary(rv reflect.Value) error {
	entries := make([]DictEntry, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		entries = append(entries, DictEntry{Key: iter.Key().Interface(), Value: iter.Value().Interface()})
	}
	sort.Slice(entries, func(i, j int) bool {
		return fmt.Sprint(entries[i].Key) < fmt.Sprint(entries[j].Key)
	})
	return e.encodeDictionary(&Dictionary{Entries: entries})
}

// encodeObjectValue writes an object body for a traits descriptor with
// explicit static values and dynamic members. id carries reference
// identity.
func (e *AMF3Encoder) encodeObjectValue(id any, tr *traits, static []any, dynamic map[string]any) error {
	if err := e.s.WriteByte(amf3ObjectMarker); err != nil {
		return err
	}
	if done, err := e.writeObjectReference(id); done || err != nil {
		return err
	}
	if err := e.writeTraits(tr); err != nil {
		return err
	}
	if tr.external {
		ext, ok := id.(Externalizable)
		if !ok {
			return fmt.Errorf("%w: %T is aliased external but does not implement Externalizable", ErrEncode, id)
		}
		return ext.WriteExternal(e)
	}
	for _, v := range static {
		if err := e.Encode(v); err != nil {
			return err
		}
	}
	if tr.dynamic {
		return e.writeAssocPairs(dynamic)
	}
	return nil
}

// writeTraits emits a trait reference on a structural match, otherwise
// the inline trait definition.
func (e *AMF3Encoder) writeTraits(tr *traits) error {
	if ref := e.ctx.traits.lookup(tr); ref >= 0 {
		return e.writeU29(uint32(ref)<<2 | 0x01)
	}
	e.ctx.traits.add(tr)

	if tr.external {
		if err := e.writeU29(0x07); err != nil {
			return err
		}
		return e.serializeString(tr.className)
	}

	header := uint32(len(tr.static))<<4 | 0x03
	if tr.dynamic {
		header |= 0x08
	}
	if err := e.writeU29(header); err != nil {
		return err
	}
	if err := e.serializeString(tr.className); err != nil {
		return err
	}
	for _, name := range tr.static {
		if err := e.serializeString(name); err != nil {
			return err
		}
	}
	return nil
}

// encodeStruct writes a host struct through its class alias.
func (e *AMF3Encoder) encodeStruct(v any, rv reflect.Value) error {
	alias := e.ctx.aliasForType(rv.Type())

	tr := &traits{
		className: alias.Alias,
		dynamic:   alias.Dynamic,
		external:  alias.External,
		alias:     alias,
	}
	if alias.External {
		return e.encodeObjectValue(v, tr, nil, nil)
	}

	static, dynamic, err := alias.encodableAttrs(rv)
	if err != nil {
		return err
	}
	tr.static = alias.staticMembers()
	return e.encodeObjectValue(v, tr, static, dynamic)
}

func (e *AMF3Encoder) encodeByteArray(v ByteArray) error {
	if err := e.s.WriteByte(amf3ByteArrayMarker); err != nil {
		return err
	}
	if done, err := e.writeObjectReference(v); done || err != nil {
		return err
	}
	if err := e.writeU29(uint32(len(v))<<1 | referenceBit); err != nil {
		return err
	}
	_, err := e.s.Write(v)
	return err
}

func (e *AMF3Encoder) encodeXMLValue(id any, marker byte, body []byte) error {
	if err := e.s.WriteByte(marker); err != nil {
		return err
	}
	if done, err := e.writeObjectReference(id); done || err != nil {
		return err
	}
	if err := e.writeU29(uint32(len(body))<<1 | referenceBit); err != nil {
		return err
	}
	_, err := e.s.Write(body)
	return err
}

func (e *AMF3Encoder) writeVectorHeader(marker byte, id any, count int, fixed bool) (bool, error) {
	if err := e.s.WriteByte(marker); err != nil {
		return false, err
	}
	if done, err := e.writeObjectReference(id); done || err != nil {
		return done, err
	}
	if err := e.writeU29(uint32(count)<<1 | referenceBit); err != nil {
		return false, err
	}
	var f byte
	if fixed {
		f = 1
	}
	return false, e.s.WriteByte(f)
}

func (e *AMF3Encoder) encodeVectorInt(v *VectorInt) error {
	if done, err := e.writeVectorHeader(amf3VectorIntMarker, v, len(v.Data), v.Fixed); done || err != nil {
		return err
	}
	for _, n := range v.Data {
		if err := e.s.WriteInt(4, n); err != nil {
			return err
		}
	}
	return nil
}

func (e *AMF3Encoder) encodeVectorUint(v *VectorUint) error {
	if done, err := e.writeVectorHeader(amf3VectorUintMarker, v, len(v.Data), v.Fixed); done || err != nil {
		return err
	}
	for _, n := range v.Data {
		if err := e.s.WriteUint(4, n); err != nil {
			return err
		}
	}
	return nil
}

func (e *AMF3Encoder) encodeVectorDouble(v *VectorDouble) error {
	if done, err := e.writeVectorHeader(amf3VectorDoubleMarker, v, len(v.Data), v.Fixed); done || err != nil {
		return err
	}
	for _, n := range v.Data {
		if err := e.s.WriteFloat64(n); err != nil {
			return err
		}
	}
	return nil
}

func (e *AMF3Encoder) encodeVectorObject(v *VectorObject) error {
	if done, err := e.writeVectorHeader(amf3VectorObjectMarker, v, len(v.Data), v.Fixed); done || err != nil {
		return err
	}
	if err := e.serializeString(v.TypeName); err != nil {
		return err
	}
	for _, item := range v.Data {
		if err := e.Encode(item); err != nil {
			return err
		}
	}
	return nil
}

func (e *AMF3Encoder) encodeDictionary(v *Dictionary) error {
	if err := e.s.WriteByte(amf3DictionaryMarker); err != nil {
		return err
	}
	if done, err := e.writeObjectReference(v); done || err != nil {
		return err
	}
	if err := e.writeU29(uint32(len(v.Entries))<<1 | referenceBit); err != nil {
		return err
	}
	var weak byte
	if v.WeakKeys {
		weak = 1
	}
	if err := e.s.WriteByte(weak); err != nil {
		return err
	}
	for _, entry := range v.Entries {
		if err := e.Encode(entry.Key); err != nil {
			return err
		}
		if err := e.Encode(entry.Value); err != nil {
			return err
		}
	}
	return nil
}

// WriteUTF writes a u16 length-prefixed UTF-8 string with no marker, the
// DataOutput convention used by externalizable bodies.
func (e *AMF3Encoder) WriteUTF(s string) error {
	if len(s) > 0xFFFF {
		return fmt.Errorf("%w: utf string longer than 65535 bytes", ErrEncode)
	}
	if err := e.s.WriteUint(2, uint32(len(s))); err != nil {
		return err
	}
	_, err := e.s.Write([]byte(s))
	return err
}

// EncodeAMF3Sequence encodes a sequence of values into a byte slice.
func EncodeAMF3Sequence(values ...any) ([]byte, error) {
	enc := NewAMF3Encoder(nil, nil)
	for _, v := range values {
		if err := enc.Encode(v); err != nil {
			return nil, err
		}
	}
	return enc.Stream().Bytes(), nil
}
