package amf

import (
	"reflect"
	"sync"
)

// ValueWriter is the encoder surface handed to adapter functions. Both the
// AMF0 and AMF3 encoders implement it.
type ValueWriter interface {
	// Encode writes one value in the encoder's wire version.
	Encode(v any) error
}

// AdapterFunc converts or writes a value the built-in dispatch cannot
// handle. Returning (nil, nil) means the adapter wrote the value itself
// through the ValueWriter; a non-nil replacement is re-dispatched by the
// encoder.
type AdapterFunc func(v any, enc ValueWriter) (any, error)

// MatchFunc reports whether an adapter applies to a value.
type MatchFunc func(v any) bool

type typeMapEntry struct {
	match  MatchFunc
	encode AdapterFunc
}

// PostDecodeProcessor rewrites the outermost decoded value. extra is the
// Context scratch map.
type PostDecodeProcessor func(v any, extra map[string]any) any

// The process-wide dispatch hooks. Mutation must not overlap a codec pass.
var dispatch = struct {
	sync.RWMutex
	typeMap        []typeMapEntry
	postProcessors []PostDecodeProcessor
}{}

// RegisterTypeEncoder appends an adapter consulted, in registration order,
// when the built-in encoder dispatch finds no wire type for a value.
func RegisterTypeEncoder(match MatchFunc, encode AdapterFunc) {
	dispatch.Lock()
	defer dispatch.Unlock()
	dispatch.typeMap = append(dispatch.typeMap, typeMapEntry{match, encode})
}

// RegisterTypeEncoderFor is RegisterTypeEncoder with an instance-of
// predicate for the type of prototype.
func RegisterTypeEncoderFor(prototype any, encode AdapterFunc) {
	want := reflect.TypeOf(prototype)
	RegisterTypeEncoder(func(v any) bool {
		return reflect.TypeOf(v) == want
	}, encode)
}

// RegisterPostDecodeProcessor appends a processor applied once to each
// top-level decoded value.
func RegisterPostDecodeProcessor(p PostDecodeProcessor) {
	dispatch.Lock()
	defer dispatch.Unlock()
	dispatch.postProcessors = append(dispatch.postProcessors, p)
}

// ClearDispatch removes all registered adapters and processors.
func ClearDispatch() {
	dispatch.Lock()
	defer dispatch.Unlock()
	dispatch.typeMap = nil
	dispatch.postProcessors = nil
}

// adapterFor returns the first matching adapter for v.
func adapterFor(v any) (AdapterFunc, bool) {
	dispatch.RLock()
	defer dispatch.RUnlock()
	for _, e := range dispatch.typeMap {
		if e.match(v) {
			return e.encode, true
		}
	}
	return nil, false
}

// finalise runs the post-decode processors over a top-level value.
func finalise(v any, extra map[string]any) any {
	dispatch.RLock()
	defer dispatch.RUnlock()
	for _, p := range dispatch.postProcessors {
		v = p(v, extra)
	}
	return v
}
