package dut

import (
	"context"
	"errors"

	"github.com/lattice-substrate/linediff/lnprog"
	"github.com/lattice-substrate/linediff/refsim"
)

// InfoValue is the constant read from the INFO register.
const InfoValue = 0x155

// headerWritableMask selects the PROGRAM_HEADER bits that accept writes.
const headerWritableMask = 0xFFFFFF01

// Model is a register-level model of the line-table accelerator. Code bytes
// written to PROGRAM_CODE queue in a FIFO and are executed one whole
// instruction at a time while the state machine is READY.
//
// A Model is not safe for concurrent use.
type Model struct {
	// Latency is the number of STATUS reads that report BUSY after each
	// code write or acknowledgement.
	Latency int
	// Stall keeps STATUS at BUSY forever.
	Stall bool

	header         lnprog.Header
	st             refsim.State
	needsFullReset bool
	fifo           []byte
	busy           int
}

// NewModel returns a model in its power-on state.
func NewModel() *Model {
	m := &Model{}
	m.Reset()
	return m
}

// Reset returns the model to its power-on state. Latency and Stall are kept.
func (m *Model) Reset() {
	m.header = 0
	m.fifo = m.fifo[:0]
	m.busy = 0
	m.prime()
}

func (m *Model) prime() {
	m.st = refsim.DefaultState(m.header.DefaultIsStmt())
	m.needsFullReset = false
}

// Write8 implements Bus.
func (m *Model) Write8(_ context.Context, reg Reg, v uint8) error {
	m.write(reg, uint32(v), 1)
	return nil
}

// Write16 implements Bus.
func (m *Model) Write16(_ context.Context, reg Reg, v uint16) error {
	m.write(reg, uint32(v), 2)
	return nil
}

// Write32 implements Bus.
func (m *Model) Write32(_ context.Context, reg Reg, v uint32) error {
	m.write(reg, v, 4)
	return nil
}

// Read32 implements Bus.
func (m *Model) Read32(_ context.Context, reg Reg) (uint32, error) {
	regs := Pack(m.st)
	switch reg {
	case RegProgramHeader:
		return m.header.Raw(), nil
	case RegAddress:
		return regs.Address, nil
	case RegFileDiscrim:
		return regs.FileDiscrim, nil
	case RegLineColFlags:
		return regs.LineColFlags, nil
	case RegStatus:
		return uint32(m.status()), nil
	case RegInfo:
		return InfoValue, nil
	default:
		return 0, nil
	}
}

func (m *Model) status() refsim.Status {
	if m.Stall {
		return refsim.Busy
	}
	if m.busy > 0 {
		m.busy--
		return refsim.Busy
	}
	return m.st.Status
}

func (m *Model) write(reg Reg, v uint32, width int) {
	switch reg {
	case RegProgramHeader:
		mask := uint32(1)<<(8*width) - 1
		raw := (m.header.Raw() &^ mask) | (v & mask)
		m.header = lnprog.ParseHeader(raw & headerWritableMask)
		m.fifo = m.fifo[:0]
		m.prime()
	case RegProgramCode:
		for i := 0; i < width; i++ {
			m.fifo = append(m.fifo, byte(v>>(8*i)))
		}
		m.busy = m.Latency
		m.execute()
	case RegStatus:
		if m.st.Status != refsim.EmitRow && m.st.Status != refsim.Illegal {
			return
		}
		m.acknowledge()
		m.busy = m.Latency
		m.execute()
	}
}

func (m *Model) acknowledge() {
	if m.needsFullReset {
		m.prime()
		return
	}
	m.st.Status = refsim.Ready
	m.st.Discriminator = 0
	m.st.BasicBlock = false
	m.st.PrologueEnd = false
	m.st.EpilogueBegin = false
}

// execute runs buffered instructions until the FIFO holds only a partial
// instruction or the state machine leaves READY.
func (m *Model) execute() {
	for m.st.Status == refsim.Ready && len(m.fifo) > 0 {
		ins, err := lnprog.DecodeInstruction(m.fifo, 0, m.header.OpcodeBase())
		if errors.Is(err, lnprog.ErrTruncated) {
			return
		}
		m.apply(ins)
		m.fifo = m.fifo[:copy(m.fifo, m.fifo[ins.Len:])]
	}
}

func (m *Model) apply(ins lnprog.Instruction) {
	s := &m.st
	if ins.Illegal {
		s.Status = refsim.Illegal
		m.needsFullReset = true
		return
	}
	switch ins.Kind {
	case lnprog.KindSpecial:
		m.advance(ins.Opcode - m.header.OpcodeBase())
		s.Status = refsim.EmitRow
	case lnprog.KindExtended:
		switch ins.Sub {
		case lnprog.ExtEndSequence:
			s.EndSequence = true
			s.Status = refsim.EmitRow
			m.needsFullReset = true
		case lnprog.ExtSetAddress:
			s.Address = ins.Operand & lnprog.AddressMask
		case lnprog.ExtSetDiscriminator:
			s.Discriminator = uint16(ins.Operand)
		}
	default:
		switch ins.Opcode {
		case lnprog.OpCopy:
			s.Status = refsim.EmitRow
		case lnprog.OpAdvancePC, lnprog.OpFixedAdvancePC:
			s.Address = (s.Address + ins.Operand) & lnprog.AddressMask
		case lnprog.OpAdvanceLine:
			s.Line = uint16(int32(int16(s.Line)) + ins.Delta)
		case lnprog.OpSetFile:
			s.File = uint16(ins.Operand)
		case lnprog.OpSetColumn:
			s.Column = uint16(ins.Operand & lnprog.ColumnMask)
		case lnprog.OpNegateStmt:
			s.IsStmt = !s.IsStmt
		case lnprog.OpSetBasicBlock:
			s.BasicBlock = true
		case lnprog.OpConstAddPC:
			adjusted := 255 - m.header.OpcodeBase()
			if r := m.header.LineRange(); r != 0 {
				s.Address = (s.Address + uint32(adjusted/r)) & lnprog.AddressMask
			}
		case lnprog.OpSetPrologueEnd:
			s.PrologueEnd = true
		case lnprog.OpSetEpilogueBegin:
			s.EpilogueBegin = true
		case lnprog.OpSetISA:
		}
	}
}

// advance applies the special opcode arithmetic. A zero line range leaves the
// address unchanged and adds the whole adjusted value to the line.
func (m *Model) advance(adjusted uint8) {
	s := &m.st
	r := m.header.LineRange()
	opAdvance, lineAdvance := uint8(0), adjusted
	if r != 0 {
		opAdvance, lineAdvance = adjusted/r, adjusted%r
	}
	s.Address = (s.Address + uint32(opAdvance)) & lnprog.AddressMask
	s.Line = uint16(int32(s.Line) + int32(m.header.LineBase()) + int32(lineAdvance))
}
