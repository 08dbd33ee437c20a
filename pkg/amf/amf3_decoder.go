package amf

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ssungk/eamf/pkg/amf/stream"
)

// AMF3Decoder reads AMF3 values from a ByteStream. Complex values are
// registered in the context tables before their bodies are read, so
// back-references inside a value resolve to the identical object and
// cycles reconstruct.
type AMF3Decoder struct {
	// Strict makes an unregistered wire class name a decode failure
	// instead of falling back to TypedObject.
	Strict bool

	s   *stream.ByteStream
	ctx *Context
}

// NewAMF3Decoder creates a decoder over s. A nil context is replaced with
// a fresh one.
func NewAMF3Decoder(s *stream.ByteStream, ctx *Context) *AMF3Decoder {
	if ctx == nil {
		ctx = NewContext()
	}
	return &AMF3Decoder{s: s, ctx: ctx}
}

// Stream returns the underlying byte stream.
func (d *AMF3Decoder) Stream() *stream.ByteStream {
	return d.s
}

// Context returns the decoder's context.
func (d *AMF3Decoder) Context() *Context {
	return d.ctx
}

// Decode reads the next value. When the stream runs dry the cursor seeks
// back to the value start and stream.ErrEndOfStream is returned, so a
// caller feeding the stream incrementally can append bytes and retry.
// Post-decode processors run on the returned value.
func (d *AMF3Decoder) Decode() (any, error) {
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

func (d *AMF3Decoder) decodeValue() (any, error) {
	marker, err := d.s.ReadByte()
	if err != nil {
		return nil, err
	}

	switch marker {
	case amf3UndefinedMarker:
		return Undefined, nil
	case amf3NullMarker:
		return nil, nil
	case amf3FalseMarker:
		return false, nil
	case amf3TrueMarker:
		return true, nil
	case amf3IntegerMarker:
		return d.decodeInteger()
	case amf3DoubleMarker:
		return d.s.ReadFloat64()
	case amf3StringMarker:
		return d.readString()
	case amf3XMLDocMarker:
		return d.decodeXML(true)
	case amf3DateMarker:
		return d.decodeDate()
	case amf3ArrayMarker:
		return d.decodeArray()
	case amf3ObjectMarker:
		return d.decodeObject()
	case amf3XMLMarker:
		return d.decodeXML(false)
	case amf3ByteArrayMarker:
		return d.decodeByteArray()
	case amf3VectorIntMarker:
		return d.decodeVectorInt()
	case amf3VectorUintMarker:
		return d.decodeVectorUint()
	case amf3VectorDoubleMarker:
		return d.decodeVectorDouble()
	case amf3VectorObjectMarker:
		return d.decodeVectorObject()
	case amf3DictionaryMarker:
		return d.decodeDictionary()
	}
	return nil, fmt.Errorf("%w: unknown amf3 marker 0x%02x", ErrDecode, marker)
}

// readU29 reads the 1-4 byte variable-length form: 7 bits per byte for
// the first three, 8 bits in the fourth.
func (d *AMF3Decoder) readU29() (uint32, error) {
	var v uint32
	for i := 0; i < 3; i++ {
		b, err := d.s.ReadByte()
		if err != nil {
			return 0, err
		}
		if b < 0x80 {
			return v<<7 | uint32(b), nil
		}
		v = v<<7 | uint32(b&0x7F)
	}
	b, err := d.s.ReadByte()
	if err != nil {
		return 0, err
	}
	return v<<8 | uint32(b), nil
}

func (d *AMF3Decoder) decodeInteger() (int, error) {
	u, err := d.readU29()
	if err != nil {
		return 0, err
	}
	if u&0x10000000 != 0 {
		return int(u) - 0x20000000, nil
	}
	return int(u), nil
}

// readRefHeader splits a U29 header into its payload and inline flag.
func (d *AMF3Decoder) readRefHeader() (uint32, bool, error) {
	u, err := d.readU29()
	if err != nil {
		return 0, false, err
	}
	return u >> 1, u&referenceBit != 0, nil
}

// ReadString reads a bare string body with no value marker, honoring the
// string reference table. SOL entry names use this form.
func (d *AMF3Decoder) ReadString() (string, error) {
	return d.readString()
}

// readString reads a string body with no marker.
func (d *AMF3Decoder) readString() (string, error) {
	n, inline, err := d.readRefHeader()
	if err != nil {
		return "", err
	}
	if !inline {
		s, ok := d.ctx.strings.get(int(n))
		if !ok {
			return "", fmt.Errorf("%w: string reference %d out of range", ErrDecode, n)
		}
		return s, nil
	}
	if n == 0 {
		return "", nil
	}
	s, err := d.s.ReadUTF8(int(n))
	if err != nil {
		return "", wrapUTF8(err)
	}
	d.ctx.strings.add(s)
	return s, nil
}

func (d *AMF3Decoder) objectByRef(idx uint32) (any, error) {
	v, ok := d.ctx.objects.get(int(idx))
	if !ok {
		return nil, fmt.Errorf("%w: object reference %d out of range", ErrDecode, idx)
	}
	return v, nil
}

func (d *AMF3Decoder) decodeDate() (any, error) {
	n, inline, err := d.readRefHeader()
	if err != nil {
		return nil, err
	}
	if !inline {
		return d.objectByRef(n)
	}
	ms, err := d.s.ReadFloat64()
	if err != nil {
		return nil, err
	}
	t := time.UnixMilli(int64(ms)).UTC()
	d.ctx.objects.add(t)
	return t, nil
}

func (d *AMF3Decoder) decodeArray() (any, error) {
	n, inline, err := d.readRefHeader()
	if err != nil {
		return nil, err
	}
	if !inline {
		return d.objectByRef(n)
	}
	size := int(n)

	key, err := d.readString()
	if err != nil {
		return nil, err
	}
	if key == "" {
		// dense only; register the placeholder before reading elements so
		// self-references resolve
		arr := make([]any, size)
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

	mixed := &MixedArray{Assoc: make(map[string]any)}
	d.ctx.objects.add(mixed)
	for key != "" {
		v, err := d.decodeValue()
		if err != nil {
			return nil, err
		}
		mixed.Assoc[key] = v
		if key, err = d.readString(); err != nil {
			return nil, err
		}
	}
	mixed.Dense = make([]any, size)
	for i := range mixed.Dense {
		v, err := d.decodeValue()
		if err != nil {
			return nil, err
		}
		mixed.Dense[i] = v
	}
	return mixed, nil
}

// readTraits resolves the trait part of an object header whose object
// reference bit was already consumed. raw is the header shifted right
// once.
func (d *AMF3Decoder) readTraits(raw uint32) (*traits, error) {
	if raw&0x01 == 0 {
		tr, ok := d.ctx.traits.get(int(raw >> 1))
		if !ok {
			return nil, fmt.Errorf("%w: trait reference %d out of range", ErrDecode, raw>>1)
		}
		return tr, nil
	}

	if raw&0x03 == 0x03 {
		// externalizable
		className, err := d.readString()
		if err != nil {
			return nil, err
		}
		tr := &traits{className: className, external: true}
		if alias, ok := lookupAliasByName(className); ok {
			tr.alias = alias
		}
		d.ctx.traits.add(tr)
		return tr, nil
	}

	count := int(raw >> 3)
	tr := &traits{dynamic: raw&0x04 != 0}
	className, err := d.readString()
	if err != nil {
		return nil, err
	}
	tr.className = className
	for i := 0; i < count; i++ {
		name, err := d.readString()
		if err != nil {
			return nil, err
		}
		tr.static = append(tr.static, name)
	}
	if alias, ok := lookupAliasByName(className); ok {
		tr.alias = alias
	}
	d.ctx.traits.add(tr)
	return tr, nil
}

func (d *AMF3Decoder) decodeObject() (any, error) {
	u, err := d.readU29()
	if err != nil {
		return nil, err
	}
	if u&referenceBit == 0 {
		return d.objectByRef(u >> 1)
	}

	tr, err := d.readTraits(u >> 1)
	if err != nil {
		return nil, err
	}

	if tr.className != "" && tr.alias == nil && d.Strict {
		return nil, fmt.Errorf("%w: %q", ErrUnknownClassAlias, tr.className)
	}

	if tr.external {
		return d.decodeExternal(tr)
	}

	if tr.alias != nil && tr.alias.Type != nil {
		return d.decodeAliasedObject(tr)
	}

	// anonymous or unmapped class: dynamic members land in a map
	var members Object
	var result any
	if tr.className == "" {
		members = Object{}
		result = members
	} else {
		typed := &TypedObject{Alias: tr.className, Members: Object{}}
		members = typed.Members
		result = typed
	}
	d.ctx.objects.add(result)

	for _, name := range tr.static {
		v, err := d.decodeValue()
		if err != nil {
			return nil, err
		}
		members[name] = v
	}
	if tr.dynamic {
		if err := d.readDynamicMembers(members); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (d *AMF3Decoder) readDynamicMembers(into map[string]any) error {
	for {
		name, err := d.readString()
		if err != nil {
			return err
		}
		if name == "" {
			return nil
		}
		v, err := d.decodeValue()
		if err != nil {
			return err
		}
		into[name] = v
	}
}

func (d *AMF3Decoder) decodeExternal(tr *traits) (any, error) {
	if tr.alias == nil || tr.alias.Type == nil {
		return nil, fmt.Errorf("%w: externalizable %q", ErrUnknownClassAlias, tr.className)
	}
	ptr := tr.alias.newInstance()
	ext, ok := ptr.Interface().(Externalizable)
	if !ok {
		return nil, fmt.Errorf("%w: %q does not implement Externalizable", ErrDecode, tr.className)
	}
	d.ctx.objects.add(ptr.Interface())
	if err := ext.ReadExternal(d); err != nil {
		return nil, err
	}
	if tr.alias.Proxy {
		return &ObjectProxy{Value: ptr.Interface()}, nil
	}
	return ptr.Interface(), nil
}

func (d *AMF3Decoder) decodeAliasedObject(tr *traits) (any, error) {
	alias := tr.alias
	ptr := alias.newInstance()
	d.ctx.objects.add(ptr.Interface())

	attrs := make(map[string]any)
	for _, name := range tr.static {
		v, err := d.decodeValue()
		if err != nil {
			return nil, err
		}
		attrs[name] = v
	}
	if tr.dynamic {
		if err := d.readDynamicMembers(attrs); err != nil {
			return nil, err
		}
	}
	alias.applyAttrs(ptr, attrs)
	if alias.Proxy {
		return &ObjectProxy{Value: ptr.Interface()}, nil
	}
	return ptr.Interface(), nil
}

func (d *AMF3Decoder) decodeXML(legacy bool) (any, error) {
	n, inline, err := d.readRefHeader()
	if err != nil {
		return nil, err
	}
	if !inline {
		return d.objectByRef(n)
	}
	b, err := d.s.Read(int(n))
	if err != nil {
		return nil, err
	}
	v, err := xmlHandler.FromString(b, d.ctx.ForbidDTD, d.ctx.ForbidEntities)
	if err != nil {
		return nil, err
	}
	if legacy {
		if x, ok := v.(XML); ok {
			v = XMLDocument(x)
		}
	}
	d.ctx.objects.add(v)
	return v, nil
}

func (d *AMF3Decoder) decodeByteArray() (any, error) {
	n, inline, err := d.readRefHeader()
	if err != nil {
		return nil, err
	}
	if !inline {
		return d.objectByRef(n)
	}
	b, err := d.s.Read(int(n))
	if err != nil {
		return nil, err
	}
	// copy out of the stream's backing buffer
	ba := ByteArray(append([]byte(nil), b...))
	d.ctx.objects.add(ba)
	return ba, nil
}

func (d *AMF3Decoder) readVectorHeader() (int, bool, any, error) {
	n, inline, err := d.readRefHeader()
	if err != nil {
		return 0, false, nil, err
	}
	if !inline {
		v, err := d.objectByRef(n)
		return 0, false, v, err
	}
	f, err := d.s.ReadByte()
	if err != nil {
		return 0, false, nil, err
	}
	return int(n), f != 0, nil, nil
}

func (d *AMF3Decoder) decodeVectorInt() (any, error) {
	count, fixed, ref, err := d.readVectorHeader()
	if err != nil || ref != nil {
		return ref, err
	}
	v := &VectorInt{Fixed: fixed, Data: make([]int32, count)}
	d.ctx.objects.add(v)
	for i := range v.Data {
		n, err := d.s.ReadInt(4)
		if err != nil {
			return nil, err
		}
		v.Data[i] = n
	}
	return v, nil
}

func (d *AMF3Decoder) decodeVectorUint() (any, error) {
	count, fixed, ref, err := d.readVectorHeader()
	if err != nil || ref != nil {
		return ref, err
	}
	v := &VectorUint{Fixed: fixed, Data: make([]uint32, count)}
	d.ctx.objects.add(v)
	for i := range v.Data {
		n, err := d.s.ReadUint(4)
		if err != nil {
			return nil, err
		}
		v.Data[i] = n
	}
	return v, nil
}

func (d *AMF3Decoder) decodeVectorDouble() (any, error) {
	count, fixed, ref, err := d.readVectorHeader()
	if err != nil || ref != nil {
		return ref, err
	}
	v := &VectorDouble{Fixed: fixed, Data: make([]float64, count)}
	d.ctx.objects.add(v)
	for i := range v.Data {
		n, err := d.s.ReadFloat64()
		if err != nil {
			return nil, err
		}
		v.Data[i] = n
	}
	return v, nil
}

func (d *AMF3Decoder) decodeVectorObject() (any, error) {
	count, fixed, ref, err := d.readVectorHeader()
	if err != nil || ref != nil {
		return ref, err
	}
	v := &VectorObject{Fixed: fixed, Data: make([]any, count)}
	d.ctx.objects.add(v)
	typeName, err := d.readString()
	if err != nil {
		return nil, err
	}
	v.TypeName = typeName
	for i := range v.Data {
		item, err := d.decodeValue()
		if err != nil {
			return nil, err
		}
		v.Data[i] = item
	}
	return v, nil
}

func (d *AMF3Decoder) decodeDictionary() (any, error) {
	n, inline, err := d.readRefHeader()
	if err != nil {
		return nil, err
	}
	if !inline {
		return d.objectByRef(n)
	}
	weak, err := d.s.ReadByte()
	if err != nil {
		return nil, err
	}
	dict := &Dictionary{WeakKeys: weak != 0, Entries: make([]DictEntry, 0, n)}
	d.ctx.objects.add(dict)
	for i := 0; i < int(n); i++ {
		key, err := d.decodeValue()
		if err != nil {
			return nil, err
		}
		value, err := d.decodeValue()
		if err != nil {
			return nil, err
		}
		dict.Entries = append(dict.Entries, DictEntry{Key: key, Value: value})
	}
	return dict, nil
}

// ReadUTF reads a u16 length-prefixed UTF-8 string with no marker, the
// DataInput convention used by externalizable bodies.
func (d *AMF3Decoder) ReadUTF() (string, error) {
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

// DecodeAMF3Sequence decodes every value in data. A payload that ends
// mid-value is a decode error; clean exhaustion ends the sequence.
func DecodeAMF3Sequence(data []byte) ([]any, error) {
	dec := NewAMF3Decoder(stream.New(data), nil)
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
