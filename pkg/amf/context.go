package amf

import (
	"reflect"
	"strconv"
	"strings"
)

// refKey derives a comparable identity key for a complex value. Maps and
// slices key on their backing storage; byte arrays key on content so that
// interned literals still collapse to one reference; comparable values key
// on themselves. The second return is false for values that cannot be
// looked up, which are still table-eligible but never emit references.
func refKey(v any) (any, bool) {
	switch t := v.(type) {
	case ByteArray:
		return "\x00ba:" + string(t), true
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice:
		if rv.IsNil() {
			return nil, false
		}
		type slot struct {
			ptr  uintptr
			len  int
			kind reflect.Kind
		}
		n := 0
		if rv.Kind() == reflect.Slice {
			n = rv.Len()
		}
		return slot{rv.Pointer(), n, rv.Kind()}, true
	case reflect.Pointer, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return rv.Pointer(), true
	}
	if rv.IsValid() && rv.Comparable() {
		return v, true
	}
	return nil, false
}

// refTable assigns indices 0,1,2,... to complex values in order of first
// write or read. Every inline value is appended, lookupable or not, so
// encoder and decoder indices stay aligned.
type refTable struct {
	list  []any
	index map[any]int
}

// lookup returns the reference index for v, or -1.
func (t *refTable) lookup(v any) int {
	if t.index == nil {
		return -1
	}
	k, ok := refKey(v)
	if !ok {
		return -1
	}
	if i, ok := t.index[k]; ok {
		return i
	}
	return -1
}

// add appends v and returns its new index.
func (t *refTable) add(v any) int {
	i := len(t.list)
	t.list = append(t.list, v)
	if k, ok := refKey(v); ok {
		if t.index == nil {
			t.index = make(map[any]int)
		}
		t.index[k] = i
	}
	return i
}

// get returns the value at index i.
func (t *refTable) get(i int) (any, bool) {
	if i < 0 || i >= len(t.list) {
		return nil, false
	}
	return t.list[i], true
}

func (t *refTable) clear() {
	t.list = nil
	t.index = nil
}

// stringTable interns non-empty strings. The empty string is never a
// member; it is always encoded inline.
type stringTable struct {
	list  []string
	index map[string]int
}

func (t *stringTable) lookup(s string) int {
	if i, ok := t.index[s]; ok {
		return i
	}
	return -1
}

func (t *stringTable) add(s string) int {
	i := len(t.list)
	t.list = append(t.list, s)
	if t.index == nil {
		t.index = make(map[string]int)
	}
	t.index[s] = i
	return i
}

func (t *stringTable) get(i int) (string, bool) {
	if i < 0 || i >= len(t.list) {
		return "", false
	}
	return t.list[i], true
}

func (t *stringTable) clear() {
	t.list = nil
	t.index = nil
}

// traits is the per-class descriptor shared across instances of one class
// within a payload.
type traits struct {
	className string
	static    []string
	dynamic   bool
	external  bool
	alias     *ClassAlias // resolved host alias, nil when unregistered
}

// structural key: two writes of the same alias with the same member order
// and flags must share a trait slot.
func (t *traits) key() string {
	var b strings.Builder
	b.WriteString(t.className)
	b.WriteByte(0)
	if t.dynamic {
		b.WriteByte('d')
	}
	if t.external {
		b.WriteByte('e')
	}
	b.WriteString(strconv.Itoa(len(t.static)))
	for _, m := range t.static {
		b.WriteByte(0)
		b.WriteString(m)
	}
	return b.String()
}

type traitsTable struct {
	list  []*traits
	index map[string]int
}

func (t *traitsTable) lookup(tr *traits) int {
	if i, ok := t.index[tr.key()]; ok {
		return i
	}
	return -1
}

func (t *traitsTable) add(tr *traits) int {
	i := len(t.list)
	t.list = append(t.list, tr)
	if t.index == nil {
		t.index = make(map[string]int)
	}
	t.index[tr.key()] = i
	return i
}

func (t *traitsTable) get(i int) (*traits, bool) {
	if i < 0 || i >= len(t.list) {
		return nil, false
	}
	return t.list[i], true
}

func (t *traitsTable) clear() {
	t.list = nil
	t.index = nil
}

// Context holds the per-pass codec state: the three reference tables, the
// alias cache, and a scratch map for adapter hooks. A Context together
// with its codec and stream forms a private work set; it is not safe for
// concurrent use. Reusing one Context across calls shares references and
// is an explicit opt-in.
type Context struct {
	objects refTable
	strings stringTable
	traits  traitsTable

	aliasCache map[reflect.Type]*ClassAlias

	// Extra is scratch space for adapters and post-decode processors.
	Extra map[string]any

	// ForbidDTD and ForbidEntities control the XML collaborator on
	// decode. Both default to true.
	ForbidDTD      bool
	ForbidEntities bool
}

// NewContext creates an empty Context with the XML hardening defaults.
func NewContext() *Context {
	return &Context{
		Extra:          make(map[string]any),
		ForbidDTD:      true,
		ForbidEntities: true,
	}
}

// Clear resets all reference tables, the alias cache, and the scratch map.
func (c *Context) Clear() {
	c.objects.clear()
	c.strings.clear()
	c.traits.clear()
	c.aliasCache = nil
	c.Extra = make(map[string]any)
}

// aliasForType returns the alias for a host struct type, consulting the
// registry once and caching the result for the rest of the pass. An
// unregistered type gets an anonymous dynamic alias.
func (c *Context) aliasForType(t reflect.Type) *ClassAlias {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if a, ok := c.aliasCache[t]; ok {
		return a
	}
	a, ok := lookupAliasByType(t)
	if !ok {
		a = &ClassAlias{Type: t, Dynamic: true, Defer: true}
	}
	if c.aliasCache == nil {
		c.aliasCache = make(map[reflect.Type]*ClassAlias)
	}
	c.aliasCache[t] = a
	return a
}
