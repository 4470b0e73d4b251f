package packet

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"strings"
)

const (
	// NameCapacity is the fixed size of the file name field.
	NameCapacity = 255

	// HeaderSize is the number of bytes that open every connection. Everything
	// after them is file content.
	HeaderSize = 8 + 1 + NameCapacity

	sizeOffset    = 0
	nameLenOffset = 8
	nameOffset    = 9
)

type headerError string

func (h headerError) Error() string {
	return string(h)
}

// ErrInvalidHeader is matched (with errors.Is) by every error Encode and
// Decode return.
const ErrInvalidHeader = headerError("invalid header")

// Header describes the upload that follows it on the wire.
//
//	offset 0: file size (8 bytes, big-endian)
//	offset 8: file name length (1 byte)
//	offset 9: file name (255 bytes, zero padded)
type Header struct {
	Size uint64
	Name string
}

// Encode reduces name to its basename and serializes it together with size.
func Encode(name string, size uint64) ([HeaderSize]byte, error) {
	var out [HeaderSize]byte

	name = filepath.Base(name)
	if err := ValidName(name); err != nil {
		return out, err
	}

	binary.BigEndian.PutUint64(out[sizeOffset:], size)
	out[nameLenOffset] = uint8(len(name))
	copy(out[nameOffset:], name)
	return out, nil
}

// Decode parses exactly HeaderSize bytes.
func Decode(data []byte) (Header, error) {
	if len(data) != HeaderSize {
		return Header{}, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidHeader, len(data), HeaderSize)
	}
	length := int(data[nameLenOffset])
	if length == 0 {
		return Header{}, fmt.Errorf("%w: empty file name", ErrInvalidHeader)
	}
	if length > NameCapacity {
		return Header{}, fmt.Errorf("%w: file name length %d", ErrInvalidHeader, length)
	}
	name := string(data[nameOffset : nameOffset+length])
	if err := ValidName(name); err != nil {
		return Header{}, err
	}
	return Header{
		Size: binary.BigEndian.Uint64(data[sizeOffset:]),
		Name: name,
	}, nil
}

// ValidName reports whether name may be stored as-is in a destination
// directory.
func ValidName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty file name", ErrInvalidHeader)
	case len(name) > NameCapacity:
		return fmt.Errorf("%w: file name longer than %d bytes", ErrInvalidHeader, NameCapacity)
	case strings.Contains(name, ".."):
		return fmt.Errorf("%w: file name %q contains \"..\"", ErrInvalidHeader, name)
	case name == ".":
		return fmt.Errorf("%w: file name %q", ErrInvalidHeader, name)
	case strings.ContainsAny(name, "/\x00"):
		return fmt.Errorf("%w: file name %q contains a separator or NUL", ErrInvalidHeader, name)
	}
	return nil
}

// MarshalBinary implements encoding.BinaryMarshaler with Encode.
func (h Header) MarshalBinary() ([]byte, error) {
	b, err := Encode(h.Name, h.Size)
	if err != nil {
		return nil, err
	}
	return b[:], nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler with Decode.
func (h *Header) UnmarshalBinary(data []byte) error {
	decoded, err := Decode(data)
	if err != nil {
		return err
	}
	*h = decoded
	return nil
}
