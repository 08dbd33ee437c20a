package amf

import (
	"bytes"
	"testing"

	"github.com/ssungk/eamf/pkg/amf/stream"
)

type temperature struct {
	Celsius float64
}

func TestTypeEncoder_Replacement(t *testing.T) {
	RegisterTypeEncoderFor(temperature{}, func(v any, enc ValueWriter) (any, error) {
		return v.(temperature).Celsius, nil
	})
	t.Cleanup(ClearDispatch)

	data, err := EncodeAMF3Sequence(temperature{Celsius: 3.5})
	if err != nil {
		t.Fatal(err)
	}
	expected := []byte{0x05, 0x40, 0x0C, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	if !bytes.Equal(data, expected) {
		t.Errorf("expected % x, got % x", expected, data)
	}
}

func TestTypeEncoder_DirectWrite(t *testing.T) {
	RegisterTypeEncoder(
		func(v any) bool { _, ok := v.(temperature); return ok },
		func(v any, enc ValueWriter) (any, error) {
			return nil, enc.Encode("written directly")
		},
	)
	t.Cleanup(ClearDispatch)

	data, err := EncodeAMF3Sequence(temperature{})
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := DecodeAMF3Sequence(data)
	if err != nil {
		t.Fatal(err)
	}
	if decoded[0] != "written directly" {
		t.Errorf("unexpected value %v", decoded[0])
	}
}

func TestTypeEncoder_OrderedConsultation(t *testing.T) {
	RegisterTypeEncoder(
		func(v any) bool { _, ok := v.(temperature); return ok },
		func(v any, enc ValueWriter) (any, error) { return "first", nil },
	)
	RegisterTypeEncoder(
		func(v any) bool { _, ok := v.(temperature); return ok },
		func(v any, enc ValueWriter) (any, error) { return "second", nil },
	)
	t.Cleanup(ClearDispatch)

	data, err := EncodeAMF3Sequence(temperature{})
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := DecodeAMF3Sequence(data)
	if err != nil {
		t.Fatal(err)
	}
	if decoded[0] != "first" {
		t.Errorf("expected first registered adapter to win, got %v", decoded[0])
	}
}

func TestPostDecodeProcessor_TopLevelOnly(t *testing.T) {
	calls := 0
	RegisterPostDecodeProcessor(func(v any, extra map[string]any) any {
		calls++
		return v
	})
	t.Cleanup(ClearDispatch)

	data, err := EncodeAMF3Sequence([]any{1, []any{2, 3}})
	if err != nil {
		t.Fatal(err)
	}
	dec := NewAMF3Decoder(stream.New(data), nil)
	if _, err := dec.Decode(); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("processor ran %d times, expected once for the outermost value", calls)
	}
}

func TestPostDecodeProcessor_Rewrite(t *testing.T) {
	RegisterPostDecodeProcessor(func(v any, extra map[string]any) any {
		return "rewritten"
	})
	t.Cleanup(ClearDispatch)

	decoded, err := DecodeAMF3Sequence([]byte{0x01})
	if err != nil {
		t.Fatal(err)
	}
	if decoded[0] != "rewritten" {
		t.Errorf("expected rewritten, got %v", decoded[0])
	}
}

func TestXMLHandler_RejectsDTD(t *testing.T) {
	payload := "<!DOCTYPE foo [<!ENTITY bar \"baz\">]><a>&bar;</a>"
	data, err := EncodeAMF3Sequence(XML(payload))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DecodeAMF3Sequence(data); err == nil {
		t.Fatal("expected DTD rejection")
	}
}

func TestXMLHandler_AcceptsPlainDocument(t *testing.T) {
	data, err := EncodeAMF3Sequence(XML("<a><b>text</b></a>"))
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := DecodeAMF3Sequence(data)
	if err != nil {
		t.Fatal(err)
	}
	if decoded[0] != XML("<a><b>text</b></a>") {
		t.Errorf("unexpected xml value %v", decoded[0])
	}
}
