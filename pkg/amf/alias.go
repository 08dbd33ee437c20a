package amf

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Externalizable objects serialize their own AMF3 body. The codec writes
// only the trait header; everything after the class name belongs to the
// object.
type Externalizable interface {
	WriteExternal(enc *AMF3Encoder) error
	ReadExternal(dec *AMF3Decoder) error
}

// ClassAlias maps a host struct type to a wire class name and controls how
// its members cross the wire.
type ClassAlias struct {
	// Alias is the class name on the wire. Empty means anonymous.
	Alias string

	// Type is the host struct type. Nil for wire-only aliases that decode
	// into TypedObject.
	Type reflect.Type

	// StaticAttrs lists sealed member wire names in declaration order.
	// Nil with Defer set resolves from exported struct fields on first use.
	StaticAttrs []string

	// ExcludeAttrs never cross the wire in either direction.
	ExcludeAttrs []string

	// ReadonlyAttrs are encoded but never written back during decode.
	ReadonlyAttrs []string

	// SynonymAttrs renames members, host name to wire name, both
	// directions.
	SynonymAttrs map[string]string

	// Dynamic objects carry a name-value section after the sealed members.
	Dynamic bool

	// External delegates the body to the type's Externalizable
	// implementation.
	External bool

	// Proxy wraps the decoded value in an ObjectProxy.
	Proxy bool

	// Defer postpones member resolution until the alias is first used.
	Defer bool

	once     sync.Once
	fields   map[string]string // wire name -> struct field name
	excluded map[string]bool
	readonly map[string]bool
}

// compile resolves the member lists once. Safe for concurrent readers
// after registration.
func (a *ClassAlias) compile() {
	a.once.Do(func() {
		a.excluded = make(map[string]bool, len(a.ExcludeAttrs))
		for _, name := range a.ExcludeAttrs {
			a.excluded[name] = true
		}
		a.readonly = make(map[string]bool, len(a.ReadonlyAttrs))
		for _, name := range a.ReadonlyAttrs {
			a.readonly[name] = true
		}
		a.fields = make(map[string]string)

		if a.Type == nil || a.Type.Kind() != reflect.Struct {
			return
		}

		var static []string
		for i := 0; i < a.Type.NumField(); i++ {
			f := a.Type.Field(i)
			if !f.IsExported() {
				continue
			}
			wire := f.Name
			if s, ok := a.SynonymAttrs[f.Name]; ok {
				wire = s
			}
			if a.excluded[wire] || a.excluded[f.Name] {
				continue
			}
			a.fields[wire] = f.Name
			static = append(static, wire)
		}
		if a.StaticAttrs == nil {
			a.StaticAttrs = static
		}
	})
}

// staticMembers returns the sealed member wire names in declared order.
func (a *ClassAlias) staticMembers() []string {
	a.compile()
	return a.StaticAttrs
}

// fieldForWire maps a wire member name back to the struct field name.
func (a *ClassAlias) fieldForWire(wire string) (string, bool) {
	a.compile()
	name, ok := a.fields[wire]
	return name, ok
}

// encodableAttrs splits a struct value into sealed member values (in
// staticMembers order) and the remaining dynamic members.
func (a *ClassAlias) encodableAttrs(v reflect.Value) ([]any, map[string]any, error) {
	a.compile()

	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil, nil, fmt.Errorf("%w: nil %s", ErrEncode, a.Alias)
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, nil, fmt.Errorf("%w: %s is not a struct", ErrEncode, v.Type())
	}

	static := make([]any, 0, len(a.StaticAttrs))
	seen := make(map[string]bool, len(a.StaticAttrs))
	for _, wire := range a.StaticAttrs {
		field, ok := a.fields[wire]
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s has no member %q", ErrEncode, v.Type(), wire)
		}
		static = append(static, v.FieldByName(field).Interface())
		seen[wire] = true
	}

	var dynamic map[string]any
	if a.Dynamic {
		dynamic = make(map[string]any)
		for wire, field := range a.fields {
			if seen[wire] {
				continue
			}
			dynamic[wire] = v.FieldByName(field).Interface()
		}
	}
	return static, dynamic, nil
}

// applyAttrs writes decoded members into a new struct instance, skipping
// excluded and readonly members. attrs is keyed by wire name.
func (a *ClassAlias) applyAttrs(ptr reflect.Value, attrs map[string]any) {
	a.compile()
	elem := ptr.Elem()
	for wire, value := range attrs {
		if a.excluded[wire] || a.readonly[wire] {
			continue
		}
		field, ok := a.fieldForWire(wire)
		if !ok {
			continue
		}
		fv := elem.FieldByName(field)
		if !fv.CanSet() || value == nil {
			continue
		}
		rv := reflect.ValueOf(value)
		if rv.Type().AssignableTo(fv.Type()) {
			fv.Set(rv)
		} else if rv.Type().ConvertibleTo(fv.Type()) {
			fv.Set(rv.Convert(fv.Type()))
		}
	}
}

// newInstance allocates a fresh instance of the aliased type and returns a
// pointer value to it.
func (a *ClassAlias) newInstance() reflect.Value {
	return reflect.New(a.Type)
}

// The process-wide alias registry. Reads during a codec pass are
// lock-free once the alias is cached in the Context; mutation during a
// pass is caller error.
var classRegistry = struct {
	sync.RWMutex
	byName map[string]*ClassAlias
	byType map[reflect.Type]*ClassAlias
}{
	byName: make(map[string]*ClassAlias),
	byType: make(map[reflect.Type]*ClassAlias),
}

// RegisterAlias installs a class alias. A later registration for the same
// alias or type wins.
func RegisterAlias(a *ClassAlias) error {
	if a.Alias == "" && a.Type == nil {
		return fmt.Errorf("%w: alias needs a name or a type", ErrEncode)
	}
	if a.Type != nil {
		t := a.Type
		for t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		a.Type = t
	}
	if !a.Defer {
		a.compile()
	}

	classRegistry.Lock()
	defer classRegistry.Unlock()
	if a.Alias != "" {
		classRegistry.byName[a.Alias] = a
	}
	if a.Type != nil {
		classRegistry.byType[a.Type] = a
	}
	return nil
}

// RegisterClass is shorthand for registering a dynamic alias for the type
// of v under the given wire name.
func RegisterClass(v any, alias string) error {
	return RegisterAlias(&ClassAlias{
		Alias:   alias,
		Type:    reflect.TypeOf(v),
		Dynamic: true,
		Defer:   true,
	})
}

// UnregisterAlias removes an alias by wire name, reflect.Type, or an
// instance of the registered type.
func UnregisterAlias(key any) {
	classRegistry.Lock()
	defer classRegistry.Unlock()

	switch k := key.(type) {
	case string:
		if a, ok := classRegistry.byName[k]; ok {
			delete(classRegistry.byName, k)
			if a.Type != nil {
				delete(classRegistry.byType, a.Type)
			}
		}
	case reflect.Type:
		unregisterType(k)
	default:
		unregisterType(reflect.TypeOf(key))
	}
}

func unregisterType(t reflect.Type) {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if a, ok := classRegistry.byType[t]; ok {
		delete(classRegistry.byType, t)
		if a.Alias != "" {
			delete(classRegistry.byName, a.Alias)
		}
	}
}

// RegisteredAliases returns the wire names currently registered, sorted.
func RegisteredAliases() []string {
	classRegistry.RLock()
	defer classRegistry.RUnlock()
	names := make([]string, 0, len(classRegistry.byName))
	for name := range classRegistry.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupAliasByName(name string) (*ClassAlias, bool) {
	classRegistry.RLock()
	defer classRegistry.RUnlock()
	a, ok := classRegistry.byName[name]
	return a, ok
}

func lookupAliasByType(t reflect.Type) (*ClassAlias, bool) {
	classRegistry.RLock()
	defer classRegistry.RUnlock()
	a, ok := classRegistry.byType[t]
	return a, ok
}
