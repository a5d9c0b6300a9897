// Package lnprog defines the line-number program data model shared by the
// reference interpreter, the device adapters, and the generators: the packed
// program header, the opcode set, LEB128 helpers, an instruction decoder, and
// the persisted test-file codec.
package lnprog

import (
	"github.com/cespare/xxhash/v2"

	"github.com/lattice-substrate/linediff/lnerr"
)

// Field masks applied by the state machine.
const (
	AddressMask = 0x0FFFFFFF
	ColumnMask  = 0x3FF
)

// CanonicalOpcodeBase is the opcode base of a DWARF v2-v5 producer that uses
// all twelve standard opcodes.
const CanonicalOpcodeBase = 13

// Header is the packed 32-bit program header, little-endian:
// bit 0 default_is_stmt, byte 1 line_base (int8), byte 2 line_range,
// byte 3 opcode_base. Bits 1-7 of byte 0 are carried but ignored.
type Header uint32

// NewHeader packs the header fields.
func NewHeader(defaultIsStmt bool, lineBase int8, lineRange, opcodeBase uint8) Header {
	var h uint32
	if defaultIsStmt {
		h = 1
	}
	h |= uint32(uint8(lineBase)) << 8
	h |= uint32(lineRange) << 16
	h |= uint32(opcodeBase) << 24
	return Header(h)
}

// DefaultIsStmt is the initial is_stmt value of every sequence.
func (h Header) DefaultIsStmt() bool { return h&1 == 1 }

// LineBase is the signed line delta base of special opcodes.
func (h Header) LineBase() int8 { return int8(uint8(h >> 8)) }

// LineRange is the divisor of special opcode arithmetic.
func (h Header) LineRange() uint8 { return uint8(h >> 16) }

// OpcodeBase is the first opcode value treated as a special opcode.
func (h Header) OpcodeBase() uint8 { return uint8(h >> 24) }

// Program is an encoded line-number program. It is not mutated after
// construction.
type Program struct {
	Header Header
	Code   []byte
}

// Validate reports header values the interpreters cannot execute.
func (p *Program) Validate() error {
	if p == nil {
		return lnerr.New(lnerr.CodecError, -1, "program is nil")
	}
	if p.Header.LineRange() == 0 {
		return lnerr.New(lnerr.CodecError, -1, "header line_range is zero")
	}
	return nil
}

// Fingerprint is a stable 64-bit hash of the encoded program.
func (p *Program) Fingerprint() uint64 {
	return xxhash.Sum64(Encode(p))
}

// Equal reports whether two programs encode to the same bytes.
func (p *Program) Equal(q *Program) bool {
	if p == nil || q == nil {
		return p == q
	}
	if p.Header != q.Header || len(p.Code) != len(q.Code) {
		return false
	}
	for i := range p.Code {
		if p.Code[i] != q.Code[i] {
			return false
		}
	}
	return true
}

// Raw returns the packed header word.
func (h Header) Raw() uint32 { return uint32(h) }

// ParseHeader unpacks a raw header word. All 32 bits are preserved.
func ParseHeader(raw uint32) Header { return Header(raw) }
