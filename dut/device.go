// Package dut connects the harness to a device under test. A Device is
// driven one row at a time; RegisterAdapter implements Device for any
// register Bus, and Model, ProcessBus and the reference-backed device are the
// buses and devices shipped with linediff.
package dut

import (
	"context"
	"fmt"

	"github.com/lattice-substrate/linediff/lnprog"
	"github.com/lattice-substrate/linediff/refsim"
)

// Device is the contract the comparison oracle drives.
type Device interface {
	Load(ctx context.Context, p *lnprog.Program) error
	// RunToRowOrIllegal reports false when the device did not settle within
	// its poll budget.
	RunToRowOrIllegal(ctx context.Context) (bool, error)
	Resume(ctx context.Context) error
	Registers(ctx context.Context) (Registers, error)
}

// Reg is a register byte offset.
type Reg uint32

const (
	RegProgramHeader  Reg = 0x00
	RegProgramCode    Reg = 0x04
	RegAddress        Reg = 0x08
	RegFileDiscrim    Reg = 0x0C
	RegLineColFlags   Reg = 0x10
	RegStatus         Reg = 0x14
	RegInfo           Reg = 0x18
	registerWindowEnd Reg = 0x100
)

var regNames = map[Reg]string{
	RegProgramHeader: "PROGRAM_HEADER",
	RegProgramCode:   "PROGRAM_CODE",
	RegAddress:       "AM_ADDRESS",
	RegFileDiscrim:   "AM_FILE_DISCRIM",
	RegLineColFlags:  "AM_LINE_COL_FLAGS",
	RegStatus:        "STATUS",
	RegInfo:          "INFO",
}

func (r Reg) String() string {
	if name, ok := regNames[r]; ok {
		return name
	}
	return fmt.Sprintf("REG(0x%02x)", uint32(r))
}

// LINE_COL_FLAGS bit positions.
const (
	columnShift        = 16
	isStmtBit          = 26
	basicBlockBit      = 27
	endSequenceBit     = 28
	prologueEndBit     = 29
	epilogueBeginBit   = 30
	discriminatorShift = 16
)

// Registers is a snapshot of the result registers.
type Registers struct {
	Address      uint32
	FileDiscrim  uint32
	LineColFlags uint32
	Status       uint32
}

// Pack lays out a state the way the device presents it.
func Pack(s refsim.State) Registers {
	lcf := uint32(s.Line) | uint32(s.Column&lnprog.ColumnMask)<<columnShift
	lcf |= bit(s.IsStmt, isStmtBit)
	lcf |= bit(s.BasicBlock, basicBlockBit)
	lcf |= bit(s.EndSequence, endSequenceBit)
	lcf |= bit(s.PrologueEnd, prologueEndBit)
	lcf |= bit(s.EpilogueBegin, epilogueBeginBit)
	return Registers{
		Address:      s.Address & lnprog.AddressMask,
		FileDiscrim:  uint32(s.File) | uint32(s.Discriminator)<<discriminatorShift,
		LineColFlags: lcf,
		Status:       uint32(s.Status),
	}
}

// Decode unpacks the registers into a state.
func (r Registers) Decode() refsim.State {
	return refsim.State{
		Address:       r.Address,
		File:          uint16(r.FileDiscrim),
		Discriminator: uint16(r.FileDiscrim >> discriminatorShift),
		Line:          uint16(r.LineColFlags),
		Column:        uint16(r.LineColFlags>>columnShift) & lnprog.ColumnMask,
		IsStmt:        r.LineColFlags>>isStmtBit&1 == 1,
		BasicBlock:    r.LineColFlags>>basicBlockBit&1 == 1,
		EndSequence:   r.LineColFlags>>endSequenceBit&1 == 1,
		PrologueEnd:   r.LineColFlags>>prologueEndBit&1 == 1,
		EpilogueBegin: r.LineColFlags>>epilogueBeginBit&1 == 1,
		Status:        refsim.Status(r.Status),
	}
}

func bit(on bool, pos uint) uint32 {
	if on {
		return 1 << pos
	}
	return 0
}

// Bus is a memory-mapped register window.
type Bus interface {
	Write8(ctx context.Context, reg Reg, v uint8) error
	Write16(ctx context.Context, reg Reg, v uint16) error
	Write32(ctx context.Context, reg Reg, v uint32) error
	Read32(ctx context.Context, reg Reg) (uint32, error)
}
