package amf

import "errors"

var (
	// ErrDecode reports malformed wire data: an unknown marker, a bad
	// varint, invalid UTF-8, a reference index out of range, or a trait
	// reference with no registered trait.
	ErrDecode = errors.New("amf: decode error")

	// ErrEncode reports a host value with no AMF representation.
	ErrEncode = errors.New("amf: unencodable value")

	// ErrUnknownClassAlias reports a wire class name with no registered
	// alias while the decoder runs in strict mode, and an externalizable
	// class name with no registered alias in any mode.
	ErrUnknownClassAlias = errors.New("amf: unknown class alias")

	// ErrReference reports an internal reference-table invariant
	// violation. Payloads that trigger it are unrecoverable.
	ErrReference = errors.New("amf: reference table corrupt")
)
