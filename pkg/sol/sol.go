// Package sol reads and writes Local Shared Object files, the cookie-like
// containers the Flash Player keeps on disk. A SOL file is a fixed header
// followed by name-value pairs in either AMF0 or AMF3.
package sol

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/ssungk/eamf/pkg/amf"
	"github.com/ssungk/eamf/pkg/amf/stream"
)

const (
	headerVersion   = "\x00\xbf"
	headerSignature = "TCSO\x00\x04\x00\x00\x00\x00"
	paddingByte     = 0x00
)

var (
	// ErrBadHeader reports a stream that is not a SOL container.
	ErrBadHeader = errors.New("sol: bad header")
)

// SOL is a decoded Local Shared Object: a root name and its stored
// name-value pairs.
type SOL struct {
	Name   string
	Values map[string]any
}

// New creates an empty shared object with the given root name.
func New(name string) *SOL {
	return &SOL{Name: name, Values: make(map[string]any)}
}

type valueEncoder interface {
	Encode(v any) error
	WriteString(s string) error
}

type valueDecoder interface {
	Decode() (any, error)
	ReadString() (string, error)
}

// Encode serializes s into a SOL byte stream in the chosen AMF version.
func Encode(s *SOL, version amf.Version) ([]byte, error) {
	if version != amf.AMF0 && version != amf.AMF3 {
		return nil, fmt.Errorf("sol: unsupported AMF version %d", version)
	}

	bs := stream.New(nil)
	bs.Write([]byte(headerVersion))

	lengthPos := bs.Tell()
	bs.WriteUint(4, 0) // patched below

	bs.Write([]byte(headerSignature))
	bs.WriteUint(2, uint32(len(s.Name)))
	bs.Write([]byte(s.Name))
	bs.Write([]byte{paddingByte, paddingByte, paddingByte})
	bs.WriteByte(byte(version))

	var enc valueEncoder
	if version == amf.AMF3 {
		enc = amf.NewAMF3Encoder(bs, nil)
	} else {
		enc = amf.NewAMF0Encoder(bs, nil)
	}

	names := make([]string, 0, len(s.Values))
	for n := range s.Values {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, n := range names {
		if err := enc.WriteString(n); err != nil {
			return nil, err
		}
		if err := enc.Encode(s.Values[n]); err != nil {
			return nil, err
		}
		if err := bs.WriteByte(paddingByte); err != nil {
			return nil, err
		}
	}

	end := bs.Tell()
	bs.Seek(lengthPos, io.SeekStart)
	bs.WriteUint(4, uint32(end-lengthPos-4))
	bs.Seek(end, io.SeekStart)

	return bs.Bytes(), nil
}

// Decode parses a SOL byte stream, validating the header strictly.
func Decode(data []byte) (*SOL, error) {
	bs := stream.New(data)

	magic, err := bs.Read(2)
	if err != nil || string(magic) != headerVersion {
		return nil, fmt.Errorf("%w: unknown magic", ErrBadHeader)
	}

	length, err := bs.ReadUint(4)
	if err != nil {
		return nil, fmt.Errorf("%w: missing length", ErrBadHeader)
	}
	if int(length) != bs.Remaining() {
		return nil, fmt.Errorf("%w: inconsistent stream length", ErrBadHeader)
	}

	sig, err := bs.Read(len(headerSignature))
	if err != nil || string(sig) != headerSignature {
		return nil, fmt.Errorf("%w: invalid signature", ErrBadHeader)
	}

	nameLen, err := bs.ReadUint(2)
	if err != nil {
		return nil, fmt.Errorf("%w: missing root name", ErrBadHeader)
	}
	name, err := bs.ReadUTF8(int(nameLen))
	if err != nil {
		return nil, fmt.Errorf("%w: bad root name", ErrBadHeader)
	}

	pad, err := bs.Read(3)
	if err != nil || pad[0] != 0 || pad[1] != 0 || pad[2] != 0 {
		return nil, fmt.Errorf("%w: invalid padding", ErrBadHeader)
	}

	versionByte, err := bs.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: missing AMF version", ErrBadHeader)
	}

	var dec valueDecoder
	switch amf.Version(versionByte) {
	case amf.AMF3:
		dec = amf.NewAMF3Decoder(bs, nil)
	case amf.AMF0:
		dec = amf.NewAMF0Decoder(bs, nil)
	default:
		return nil, fmt.Errorf("%w: unsupported AMF version %d", ErrBadHeader, versionByte)
	}

	s := New(name)
	for !bs.AtEOF() {
		entry, err := dec.ReadString()
		if err != nil {
			return nil, err
		}
		value, err := dec.Decode()
		if err != nil {
			return nil, err
		}
		pad, err := bs.ReadByte()
		if err != nil {
			return nil, err
		}
		if pad != paddingByte {
			return nil, fmt.Errorf("%w: missing entry padding byte", amf.ErrDecode)
		}
		s.Values[entry] = value
	}
	return s, nil
}

// Save writes s to path atomically: the encoded stream lands in a
// temporary file in the same directory which is renamed over the target.
// The file handle is closed on every path.
func Save(path string, s *SOL, version amf.Version) error {
	encoded, err := Encode(s, version)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".sol-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(encoded); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// Load reads and decodes the SOL file at path. The file handle is closed
// on every path.
func Load(path string) (*SOL, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}
