package refsim

import (
	"encoding/binary"

	"github.com/lattice-substrate/linediff/lnprog"
)

// Interpreter executes one program at a time. The zero value is unusable
// until Load is called.
type Interpreter struct {
	prog *lnprog.Program
	code []byte
	ip   int

	isStmt     bool
	lineBase   int8
	lineRange  uint8
	opcodeBase uint8

	st             State
	needsFullReset bool
	truncated      bool
}

// New returns an interpreter with no program loaded.
func New() *Interpreter {
	return &Interpreter{}
}

// Load installs p, primes the default row and rewinds to the first byte.
func (in *Interpreter) Load(p *lnprog.Program) error {
	if err := p.Validate(); err != nil {
		return err
	}
	in.prog = p
	in.code = p.Code
	in.isStmt = p.Header.DefaultIsStmt()
	in.lineBase = p.Header.LineBase()
	in.lineRange = p.Header.LineRange()
	in.opcodeBase = p.Header.OpcodeBase()
	in.truncated = false
	in.reset()
	in.ip = 0
	return nil
}

func (in *Interpreter) reset() {
	in.st = DefaultState(in.isStmt)
	in.needsFullReset = false
}

// State returns a snapshot of the current state.
func (in *Interpreter) State() State { return in.st }

// IP returns the offset of the next opcode byte.
func (in *Interpreter) IP() int { return in.ip }

// Program returns the loaded program.
func (in *Interpreter) Program() *lnprog.Program { return in.prog }

// Truncated reports whether execution ran past the end of the code.
func (in *Interpreter) Truncated() bool { return in.truncated }

// Finished reports that no further rows can be produced.
func (in *Interpreter) Finished() bool {
	return in.ip >= len(in.code) || in.st.Status == Illegal
}

// RunToRowOrIllegal steps until a row is emitted or the program is rejected.
func (in *Interpreter) RunToRowOrIllegal() Status {
	for {
		if s := in.Step(); s == EmitRow || s == Illegal {
			return s
		}
	}
}

// Resume acknowledges the current row or rejection.
func (in *Interpreter) Resume() {
	if in.needsFullReset {
		in.reset()
		return
	}
	in.st.Status = Ready
	in.st.Discriminator = 0
	in.st.BasicBlock = false
	in.st.PrologueEnd = false
	in.st.EpilogueBegin = false
}

// Step executes one instruction and returns the resulting status. Reading
// past the end of the code rejects the program.
func (in *Interpreter) Step() Status {
	op, ok := in.readU8()
	if !ok {
		return in.st.Status
	}
	s := &in.st
	switch {
	case op >= in.opcodeBase:
		adjusted := op - in.opcodeBase
		s.Address = (s.Address + uint32(adjusted/in.lineRange)) & lnprog.AddressMask
		s.Line = uint16(int32(s.Line) + int32(in.lineBase) + int32(adjusted%in.lineRange))
		s.Status = EmitRow
	case op == lnprog.OpExtended:
		in.stepExtended()
	default:
		in.stepStandard(op)
	}
	return s.Status
}

func (in *Interpreter) stepExtended() {
	s := &in.st
	if _, ok := in.readULEB(); !ok {
		return
	}
	sub, ok := in.readU8()
	if !ok {
		return
	}
	switch sub {
	case lnprog.ExtEndSequence:
		s.Status = EmitRow
		s.EndSequence = true
		in.needsFullReset = true
	case lnprog.ExtSetAddress:
		if v, ok := in.readU32(); ok {
			s.Address = v & lnprog.AddressMask
		}
	case lnprog.ExtSetDiscriminator:
		if v, ok := in.readULEB(); ok {
			s.Discriminator = uint16(v)
		}
	default:
		in.reject()
	}
}

func (in *Interpreter) stepStandard(op byte) {
	s := &in.st
	switch op {
	case lnprog.OpCopy:
		s.Status = EmitRow
	case lnprog.OpAdvancePC:
		if v, ok := in.readULEB(); ok {
			s.Address = (s.Address + v) & lnprog.AddressMask
		}
	case lnprog.OpAdvanceLine:
		if v, ok := in.readSLEB(); ok {
			s.Line = uint16(int32(int16(s.Line)) + v)
		}
	case lnprog.OpSetFile:
		if v, ok := in.readULEB(); ok {
			s.File = uint16(v)
		}
	case lnprog.OpSetColumn:
		if v, ok := in.readULEB(); ok {
			s.Column = uint16(v & lnprog.ColumnMask)
		}
	case lnprog.OpNegateStmt:
		s.IsStmt = !s.IsStmt
	case lnprog.OpSetBasicBlock:
		s.BasicBlock = true
	case lnprog.OpConstAddPC:
		adjusted := 255 - in.opcodeBase
		s.Address = (s.Address + uint32(adjusted/in.lineRange)) & lnprog.AddressMask
	case lnprog.OpFixedAdvancePC:
		if v, ok := in.readU16(); ok {
			s.Address = (s.Address + uint32(v)) & lnprog.AddressMask
		}
	case lnprog.OpSetPrologueEnd:
		s.PrologueEnd = true
	case lnprog.OpSetEpilogueBegin:
		s.EpilogueBegin = true
	case lnprog.OpSetISA:
		in.readULEB()
	default:
		in.reject()
	}
}

func (in *Interpreter) reject() {
	in.st.Status = Illegal
	in.needsFullReset = true
}

func (in *Interpreter) truncate() {
	in.ip = len(in.code)
	in.truncated = true
	in.reject()
}

func (in *Interpreter) readU8() (byte, bool) {
	if in.ip >= len(in.code) {
		in.truncate()
		return 0, false
	}
	b := in.code[in.ip]
	in.ip++
	return b, true
}

func (in *Interpreter) readU16() (uint16, bool) {
	if len(in.code)-in.ip < 2 {
		in.truncate()
		return 0, false
	}
	v := binary.LittleEndian.Uint16(in.code[in.ip:])
	in.ip += 2
	return v, true
}

func (in *Interpreter) readU32() (uint32, bool) {
	if len(in.code)-in.ip < 4 {
		in.truncate()
		return 0, false
	}
	v := binary.LittleEndian.Uint32(in.code[in.ip:])
	in.ip += 4
	return v, true
}

// readULEB accumulates seven-bit groups while the shift is below 31 and keeps
// consuming continuation bytes beyond that; the result keeps 28 bits.
func (in *Interpreter) readULEB() (uint32, bool) {
	var result uint32
	var shift uint
	for {
		b, ok := in.readU8()
		if !ok {
			return 0, false
		}
		if shift < 31 {
			result |= uint32(b&0x7f) << shift
			shift += 7
		}
		if b&0x80 == 0 {
			return result & lnprog.AddressMask, true
		}
	}
}

func (in *Interpreter) readSLEB() (int32, bool) {
	var result uint32
	var shift uint
	for {
		b, ok := in.readU8()
		if !ok {
			return 0, false
		}
		if shift < 31 {
			result |= uint32(b&0x7f) << shift
			shift += 7
		}
		if b&0x80 == 0 {
			break
		}
	}
	if shift < 31 && result&(1<<(shift-1)) != 0 {
		result |= 0xffffffff << shift
	}
	return int32(result), true
}
