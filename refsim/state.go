// Package refsim is the reference interpreter of the line-number state
// machine. Its observable behavior is the definition the device under test is
// checked against.
package refsim

import "fmt"

// Status is the state machine status, numbered as the STATUS register.
type Status uint8

const (
	Ready   Status = 0
	EmitRow Status = 1
	Busy    Status = 2
	Illegal Status = 3
)

func (s Status) String() string {
	switch s {
	case Ready:
		return "READY"
	case EmitRow:
		return "EMIT_ROW"
	case Busy:
		return "BUSY"
	case Illegal:
		return "ILLEGAL"
	default:
		return fmt.Sprintf("STATUS(%d)", uint8(s))
	}
}

// State is the observable interpreter state. A row is a State captured when
// Status is EmitRow.
type State struct {
	Address       uint32
	File          uint16
	Line          uint16
	Column        uint16
	IsStmt        bool
	BasicBlock    bool
	EndSequence   bool
	PrologueEnd   bool
	EpilogueBegin bool
	Discriminator uint16
	Status        Status
}

// DefaultState is the row every sequence starts from.
func DefaultState(isStmt bool) State {
	return State{File: 1, Line: 1, IsStmt: isStmt}
}

func (s State) String() string {
	flags := ""
	for _, f := range []struct {
		on   bool
		name string
	}{
		{s.IsStmt, " stmt"},
		{s.BasicBlock, " bb"},
		{s.EndSequence, " end_seq"},
		{s.PrologueEnd, " prologue_end"},
		{s.EpilogueBegin, " epilogue_begin"},
	} {
		if f.on {
			flags += f.name
		}
	}
	return fmt.Sprintf("0x%07x file=%d line=%d col=%d discrim=%d%s [%s]",
		s.Address, s.File, s.Line, s.Column, s.Discriminator, flags, s.Status)
}
