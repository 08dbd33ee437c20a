package sol

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ssungk/eamf/pkg/amf"
)

func TestEncode_Header(t *testing.T) {
	s := New("savegame")
	data, err := Encode(s, amf.AMF3)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.HasPrefix(data, []byte{0x00, 0xBF}) {
		t.Errorf("missing magic, got % x", data[:2])
	}
	if !bytes.Equal(data[6:16], []byte("TCSO\x00\x04\x00\x00\x00\x00")) {
		t.Errorf("bad signature % x", data[6:16])
	}
	if !bytes.Equal(data[16:18], []byte{0x00, 0x08}) {
		t.Errorf("bad root name length % x", data[16:18])
	}
	if string(data[18:26]) != "savegame" {
		t.Errorf("bad root name %q", data[18:26])
	}
	if !bytes.Equal(data[26:30], []byte{0x00, 0x00, 0x00, 0x03}) {
		t.Errorf("bad padding and version % x", data[26:30])
	}

	// the u32 after the magic counts everything that follows it
	length := uint32(data[2])<<24 | uint32(data[3])<<16 | uint32(data[4])<<8 | uint32(data[5])
	if int(length) != len(data)-6 {
		t.Errorf("length field %d, expected %d", length, len(data)-6)
	}
}

func TestRoundTrip_AMF3(t *testing.T) {
	s := New("savegame")
	s.Values["level"] = 4
	s.Values["name"] = "Ada"

	data, err := Encode(s, amf.AMF3)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Name != "savegame" {
		t.Errorf("root name %q", decoded.Name)
	}
	if decoded.Values["level"] != 4 || decoded.Values["name"] != "Ada" {
		t.Errorf("unexpected values %v", decoded.Values)
	}
}

func TestRoundTrip_AMF0(t *testing.T) {
	s := New("prefs")
	s.Values["volume"] = 0.5
	s.Values["muted"] = false

	data, err := Encode(s, amf.AMF0)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Values["volume"] != 0.5 || decoded.Values["muted"] != false {
		t.Errorf("unexpected values %v", decoded.Values)
	}
}

func TestDecode_BadMagic(t *testing.T) {
	if _, err := Decode([]byte{0x01, 0x02, 0x03}); !errors.Is(err, ErrBadHeader) {
		t.Errorf("expected ErrBadHeader, got %v", err)
	}
}

func TestDecode_InconsistentLength(t *testing.T) {
	s := New("x")
	data, err := Encode(s, amf.AMF0)
	if err != nil {
		t.Fatal(err)
	}
	data = append(data, 0x00) // trailing garbage breaks the length field
	if _, err := Decode(data); !errors.Is(err, ErrBadHeader) {
		t.Errorf("expected ErrBadHeader, got %v", err)
	}
}

func TestDecode_MissingEntryPadding(t *testing.T) {
	s := New("x")
	s.Values["a"] = 1
	data, err := Encode(s, amf.AMF3)
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)-1] = 0xFF // corrupt the entry terminator
	if _, err := Decode(data); err == nil {
		t.Fatal("expected error for missing entry padding")
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "save.sol")

	s := New("savegame")
	s.Values["level"] = 4
	s.Values["name"] = "Ada"

	if err := Save(path, s, amf.AMF3); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Name != "savegame" || loaded.Values["level"] != 4 || loaded.Values["name"] != "Ada" {
		t.Errorf("unexpected load result %+v", loaded)
	}
}

func TestSave_UnencodableLeavesNoFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.sol")

	s := New("bad")
	s.Values["ch"] = make(chan int)

	if err := Save(path, s, amf.AMF3); err == nil {
		t.Fatal("expected encode error")
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Error("file exists after failed save")
	}
	// no temp files left behind either
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("leftover files after failed save: %v", entries)
	}
}

func TestSave_OverwritesAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "save.sol")

	first := New("v1")
	if err := Save(path, first, amf.AMF0); err != nil {
		t.Fatal(err)
	}
	second := New("v2")
	second.Values["k"] = "v"
	if err := Save(path, second, amf.AMF3); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Name != "v2" || loaded.Values["k"] != "v" {
		t.Errorf("unexpected load result %+v", loaded)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.sol")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
