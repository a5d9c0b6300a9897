package lnprog

import "encoding/binary"

// Builder assembles a program instruction by instruction. Methods chain.
type Builder struct {
	header Header
	code   []byte
}

// NewBuilder starts a program with the given header.
func NewBuilder(h Header) *Builder {
	return &Builder{header: h}
}

// Raw appends bytes verbatim.
func (b *Builder) Raw(bs ...byte) *Builder {
	b.code = append(b.code, bs...)
	return b
}

// Special appends a special opcode byte.
func (b *Builder) Special(op byte) *Builder { return b.Raw(op) }

func (b *Builder) Copy() *Builder { return b.Raw(OpCopy) }

func (b *Builder) AdvancePC(v uint32) *Builder {
	b.code = AppendULEB128(append(b.code, OpAdvancePC), v)
	return b
}

func (b *Builder) AdvanceLine(v int32) *Builder {
	b.code = AppendSLEB128(append(b.code, OpAdvanceLine), v)
	return b
}

func (b *Builder) SetFile(v uint32) *Builder {
	b.code = AppendULEB128(append(b.code, OpSetFile), v)
	return b
}

func (b *Builder) SetColumn(v uint32) *Builder {
	b.code = AppendULEB128(append(b.code, OpSetColumn), v)
	return b
}

func (b *Builder) NegateStmt() *Builder       { return b.Raw(OpNegateStmt) }
func (b *Builder) SetBasicBlock() *Builder    { return b.Raw(OpSetBasicBlock) }
func (b *Builder) ConstAddPC() *Builder       { return b.Raw(OpConstAddPC) }
func (b *Builder) SetPrologueEnd() *Builder   { return b.Raw(OpSetPrologueEnd) }
func (b *Builder) SetEpilogueBegin() *Builder { return b.Raw(OpSetEpilogueBegin) }

func (b *Builder) FixedAdvancePC(v uint16) *Builder {
	b.code = binary.LittleEndian.AppendUint16(append(b.code, OpFixedAdvancePC), v)
	return b
}

func (b *Builder) SetISA(v uint32) *Builder {
	b.code = AppendULEB128(append(b.code, OpSetISA), v)
	return b
}

// EndSequence appends DW_LNE_end_sequence.
func (b *Builder) EndSequence() *Builder {
	return b.Raw(OpExtended, 1, ExtEndSequence)
}

// SetAddress appends DW_LNE_set_address with a 4-byte operand.
func (b *Builder) SetAddress(v uint32) *Builder {
	b.code = append(b.code, OpExtended, 5, ExtSetAddress)
	b.code = binary.LittleEndian.AppendUint32(b.code, v)
	return b
}

// SetDiscriminator appends DW_LNE_set_discriminator.
func (b *Builder) SetDiscriminator(v uint32) *Builder {
	b.code = append(b.code, OpExtended)
	b.code = AppendULEB128(b.code, uint32(1+ULEB128Size(v)))
	b.code = AppendULEB128(append(b.code, ExtSetDiscriminator), v)
	return b
}

// Program returns the assembled program. The builder may keep appending;
// the returned program does not alias its buffer.
func (b *Builder) Program() *Program {
	code := make([]byte, len(b.code))
	copy(code, b.code)
	return &Program{Header: b.header, Code: code}
}
