package lnprog

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrTruncated reports an instruction whose operands run past the end of the
// code.
var ErrTruncated = errors.New("lnprog: truncated instruction")

// Kind classifies an opcode byte under a given opcode base.
type Kind uint8

const (
	KindSpecial Kind = iota
	KindExtended
	KindStandard
)

func (k Kind) String() string {
	switch k {
	case KindSpecial:
		return "special"
	case KindExtended:
		return "extended"
	case KindStandard:
		return "standard"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Classify applies the opcode classification order of the state machine: the
// special test comes first, so with opcode base 0 every byte is special.
func Classify(op, opcodeBase byte) Kind {
	switch {
	case op >= opcodeBase:
		return KindSpecial
	case op == OpExtended:
		return KindExtended
	default:
		return KindStandard
	}
}

// Instruction is one decoded instruction.
type Instruction struct {
	Offset int
	Len    int
	Kind   Kind
	Opcode byte
	// Sub is the extended sub-opcode.
	Sub byte
	// Operand holds the unsigned operand: ULEB128 values masked to 28 bits,
	// the raw 16-bit fixed_advance_pc delta, or the raw 32-bit set_address.
	Operand uint32
	// Delta holds the advance_line operand.
	Delta int32
	// Illegal marks an opcode the state machine rejects.
	Illegal bool
}

// DecodeInstruction decodes the instruction at code[off]. The returned
// instruction is valid up to the truncation point when the error is
// ErrTruncated.
func DecodeInstruction(code []byte, off int, opcodeBase byte) (Instruction, error) {
	if off >= len(code) {
		return Instruction{Offset: off}, ErrTruncated
	}
	op := code[off]
	ins := Instruction{Offset: off, Len: 1, Kind: Classify(op, opcodeBase), Opcode: op}
	rest := code[off+1:]

	uleb := func() bool {
		v, n, ok := DecodeULEB128(rest[ins.Len-1:])
		ins.Len += n
		ins.Operand = v
		return ok
	}

	switch ins.Kind {
	case KindSpecial:
		return ins, nil
	case KindExtended:
		_, n, ok := DecodeULEB128(rest)
		ins.Len += n
		if !ok || ins.Len > len(rest) {
			return ins, ErrTruncated
		}
		ins.Sub = rest[ins.Len-1]
		ins.Len++
		switch ins.Sub {
		case ExtEndSequence:
		case ExtSetAddress:
			if len(rest) < ins.Len-1+4 {
				ins.Len = len(rest) + 1
				return ins, ErrTruncated
			}
			ins.Operand = binary.LittleEndian.Uint32(rest[ins.Len-1:])
			ins.Len += 4
		case ExtSetDiscriminator:
			if !uleb() {
				return ins, ErrTruncated
			}
		default:
			ins.Illegal = true
		}
		return ins, nil
	}

	switch op {
	case OpAdvancePC, OpSetFile, OpSetColumn, OpSetISA:
		if !uleb() {
			return ins, ErrTruncated
		}
	case OpAdvanceLine:
		v, n, ok := DecodeSLEB128(rest)
		ins.Len += n
		ins.Delta = v
		if !ok {
			return ins, ErrTruncated
		}
	case OpFixedAdvancePC:
		if len(rest) < 2 {
			ins.Len += len(rest)
			return ins, ErrTruncated
		}
		ins.Operand = uint32(binary.LittleEndian.Uint16(rest))
		ins.Len += 2
	case OpCopy, OpNegateStmt, OpSetBasicBlock, OpConstAddPC, OpSetPrologueEnd, OpSetEpilogueBegin:
	default:
		ins.Illegal = true
	}
	return ins, nil
}

// Disassemble decodes every instruction of p in order. On truncation the
// instructions decoded so far are returned along with ErrTruncated.
func Disassemble(p *Program) ([]Instruction, error) {
	var out []Instruction
	base := p.Header.OpcodeBase()
	for off := 0; off < len(p.Code); {
		ins, err := DecodeInstruction(p.Code, off, base)
		out = append(out, ins)
		if err != nil {
			return out, err
		}
		off += ins.Len
	}
	return out, nil
}

// Mnemonic names the instruction.
func (ins Instruction) Mnemonic() string {
	switch ins.Kind {
	case KindSpecial:
		return fmt.Sprintf("special(%d)", ins.Opcode)
	case KindExtended:
		if name := ExtendedName(ins.Sub); name != "" {
			return name
		}
		return fmt.Sprintf("DW_LNE_unknown(0x%02x)", ins.Sub)
	default:
		if name := StandardName(ins.Opcode); name != "" && !ins.Illegal {
			return name
		}
		return fmt.Sprintf("DW_LNS_unknown(0x%02x)", ins.Opcode)
	}
}

func (ins Instruction) String() string {
	s := fmt.Sprintf("%04x: %s", ins.Offset, ins.Mnemonic())
	switch {
	case ins.Illegal:
		return s + " ; illegal"
	case ins.Kind == KindExtended && ins.Sub == ExtSetAddress:
		return fmt.Sprintf("%s 0x%08x", s, ins.Operand)
	case ins.Kind == KindExtended && ins.Sub == ExtSetDiscriminator:
		return fmt.Sprintf("%s %d", s, ins.Operand)
	case ins.Kind != KindStandard:
		return s
	}
	switch ins.Opcode {
	case OpAdvanceLine:
		return fmt.Sprintf("%s %d", s, ins.Delta)
	case OpAdvancePC, OpFixedAdvancePC:
		return fmt.Sprintf("%s 0x%x", s, ins.Operand)
	case OpSetFile, OpSetColumn, OpSetISA:
		return fmt.Sprintf("%s %d", s, ins.Operand)
	default:
		return s
	}
}
