package refsim

import "github.com/lattice-substrate/linediff/lnprog"

// Table is the complete output of one program.
type Table struct {
	Rows []State
	// Rejected reports that the program ended in ILLEGAL.
	Rejected bool
	// Truncated reports that the last instruction ran past the code.
	Truncated bool
}

// RunTable executes p to completion and collects every emitted row.
func RunTable(p *lnprog.Program) (*Table, error) {
	in := New()
	if err := in.Load(p); err != nil {
		return nil, err
	}
	t := &Table{}
	for {
		if in.RunToRowOrIllegal() == EmitRow {
			t.Rows = append(t.Rows, in.State())
		}
		if in.Finished() {
			break
		}
		in.Resume()
	}
	t.Rejected = in.State().Status == Illegal
	t.Truncated = in.Truncated()
	return t, nil
}

// Range is a half-open address range [Start, End).
type Range struct {
	Start uint32
	End   uint32
}

// AddressRanges returns the address ranges covered by rows mapping to the
// given file and line. A range closes at the first following row with a
// different file or line, or at an end_sequence row.
func AddressRanges(rows []State, file, line uint16) []Range {
	var out []Range
	var start uint32
	open := false
	for _, r := range rows {
		matches := r.File == file && r.Line == line && !r.EndSequence
		if open {
			if !matches {
				out = append(out, Range{Start: start, End: r.Address})
				open = false
			}
			continue
		}
		if matches {
			start = r.Address
			open = true
		}
	}
	return out
}
