package amf

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// XMLHandler is the collaborator that validates and renders XML payloads.
// The codec itself treats XML as opaque UTF-8; a handler decides what a
// document value looks like in memory.
type XMLHandler interface {
	// IsXML reports whether v is an XML value this handler produced.
	IsXML(v any) bool
	// ToString flattens an XML value for the wire.
	ToString(v any) ([]byte, error)
	// FromString parses wire bytes. Handlers must reject DTDs and entity
	// definitions when the flags demand it.
	FromString(b []byte, forbidDTD, forbidEntities bool) (any, error)
}

// stringXMLHandler is the default collaborator. It keeps documents as the
// XMLDocument / XML string types, checks well-formedness, and rejects
// DTDs and entity definitions unless told otherwise.
type stringXMLHandler struct{}

func (stringXMLHandler) IsXML(v any) bool {
	switch v.(type) {
	case XMLDocument, XML:
		return true
	}
	return false
}

func (stringXMLHandler) ToString(v any) ([]byte, error) {
	switch t := v.(type) {
	case XMLDocument:
		return []byte(t), nil
	case XML:
		return []byte(t), nil
	}
	return nil, fmt.Errorf("%w: not an xml value: %T", ErrEncode, v)
}

func (stringXMLHandler) FromString(b []byte, forbidDTD, forbidEntities bool) (any, error) {
	dec := xml.NewDecoder(strings.NewReader(string(b)))
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("%w: malformed xml: %v", ErrDecode, err)
		}
		if d, ok := tok.(xml.Directive); ok {
			text := strings.ToUpper(string(d))
			if forbidDTD && strings.HasPrefix(text, "DOCTYPE") {
				return nil, fmt.Errorf("%w: DTD forbidden", ErrDecode)
			}
			if forbidEntities && strings.Contains(text, "ENTITY") {
				return nil, fmt.Errorf("%w: entity definitions forbidden", ErrDecode)
			}
		}
	}
	return XML(b), nil
}

var xmlHandler XMLHandler = stringXMLHandler{}

// SetXMLHandler replaces the XML collaborator. Pass nil to restore the
// default string-backed handler.
func SetXMLHandler(h XMLHandler) {
	if h == nil {
		h = stringXMLHandler{}
	}
	xmlHandler = h
}
