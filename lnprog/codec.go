package lnprog

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/lattice-substrate/linediff/lnerr"
)

// HeaderSize is the encoded size of the program header.
const HeaderSize = 4

// Encode serializes p as the 4-byte little-endian header followed by the code
// bytes verbatim.
func Encode(p *Program) []byte {
	out := make([]byte, HeaderSize, HeaderSize+len(p.Code))
	binary.LittleEndian.PutUint32(out, uint32(p.Header))
	return append(out, p.Code...)
}

// Decode parses a persisted program. Fewer than HeaderSize bytes is a
// CODEC_ERROR; any code length, including zero, is accepted.
func Decode(b []byte) (*Program, error) {
	if len(b) < HeaderSize {
		return nil, lnerr.New(lnerr.CodecError, -1, fmt.Sprintf("truncated header: %d bytes", len(b)))
	}
	code := make([]byte, len(b)-HeaderSize)
	copy(code, b[HeaderSize:])
	return &Program{
		Header: Header(binary.LittleEndian.Uint32(b)),
		Code:   code,
	}, nil
}

// Save writes p to path in the persisted format.
func Save(path string, p *Program) error {
	if err := os.WriteFile(path, Encode(p), 0o600); err != nil {
		return lnerr.Wrap(lnerr.InternalIO, -1, "save program", err)
	}
	return nil
}

// Load reads a persisted program from path.
func Load(path string) (*Program, error) {
	b, err := os.ReadFile(path) //nolint:gosec // replay path is explicit operator input.
	if err != nil {
		return nil, lnerr.Wrap(lnerr.CodecError, -1, "read program", err)
	}
	return Decode(b)
}
