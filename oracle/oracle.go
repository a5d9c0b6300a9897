// Package oracle runs a program through the reference interpreter and a
// device in lockstep and reports the first row on which they disagree.
package oracle

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/lattice-substrate/linediff/dut"
	"github.com/lattice-substrate/linediff/lnerr"
	"github.com/lattice-substrate/linediff/lnprog"
	"github.com/lattice-substrate/linediff/refsim"
)

// Outcome is the state of a comparison.
type Outcome int

const (
	Running Outcome = iota
	Passed
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Running:
		return "RUNNING"
	case Passed:
		return "PASSED"
	case Failed:
		return "FAILED"
	default:
		return fmt.Sprintf("OUTCOME(%d)", int(o))
	}
}

type field struct {
	name string
	get  func(refsim.State) uint32
}

func flag(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// fields is the comparison order. Status is compared last so a device that
// emits where the reference rejects is still caught.
var fields = []field{
	{"address", func(s refsim.State) uint32 { return s.Address }},
	{"file", func(s refsim.State) uint32 { return uint32(s.File) }},
	{"line", func(s refsim.State) uint32 { return uint32(s.Line) }},
	{"column", func(s refsim.State) uint32 { return uint32(s.Column) }},
	{"is_stmt", func(s refsim.State) uint32 { return flag(s.IsStmt) }},
	{"basic_block_start", func(s refsim.State) uint32 { return flag(s.BasicBlock) }},
	{"end_sequence", func(s refsim.State) uint32 { return flag(s.EndSequence) }},
	{"prologue_end", func(s refsim.State) uint32 { return flag(s.PrologueEnd) }},
	{"epilogue_begin", func(s refsim.State) uint32 { return flag(s.EpilogueBegin) }},
	{"discriminator", func(s refsim.State) uint32 { return uint32(s.Discriminator) }},
	{"status", func(s refsim.State) uint32 { return uint32(s.Status) }},
}

// FieldNames lists the compared fields in comparison order.
func FieldNames() []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.name
	}
	return out
}

// FieldValue extracts the named field from s.
func FieldValue(name string, s refsim.State) (uint32, bool) {
	for _, f := range fields {
		if f.name == name {
			return f.get(s), true
		}
	}
	return 0, false
}

// Compare returns the first field on which got differs from want, or nil.
func Compare(row int, want, got refsim.State) *lnerr.Error {
	for _, f := range fields {
		if w, g := f.get(want), f.get(got); w != g {
			return lnerr.Mismatch(f.name, row, w, g)
		}
	}
	return nil
}

// Options tunes an Oracle.
type Options struct {
	// KeepRows retains every agreed row in Result.Trace.
	KeepRows bool
	Logger   *slog.Logger
}

// Result describes one comparison.
type Result struct {
	Outcome     Outcome
	Fingerprint uint64
	// Rows is the number of states both sides agreed on.
	Rows int
	// Rejected reports that the program ended in ILLEGAL on both sides.
	Rejected bool
	// Failure is set when Outcome is Failed.
	Failure *lnerr.Error
	Ref     refsim.State
	Dev     refsim.State
	Trace   []refsim.State
}

// Oracle owns a reference interpreter and drives one device.
type Oracle struct {
	ref     *refsim.Interpreter
	dev     dut.Device
	opts    Options
	log     *slog.Logger
	outcome Outcome
}

// New pairs dev with a fresh reference interpreter.
func New(dev dut.Device, opts Options) *Oracle {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Oracle{ref: refsim.New(), dev: dev, opts: opts, log: log}
}

// Outcome is the state of the most recent Run.
func (o *Oracle) Outcome() Outcome { return o.outcome }

// Run compares p on both sides. Disagreements and device timeouts are
// reported in the Result; the error is reserved for failures of the harness
// or the device link.
func (o *Oracle) Run(ctx context.Context, p *lnprog.Program) (*Result, error) {
	o.outcome = Running
	res := &Result{Outcome: Running, Fingerprint: p.Fingerprint()}
	if err := o.ref.Load(p); err != nil {
		o.outcome = Failed
		return nil, err
	}
	if err := o.dev.Load(ctx, p); err != nil {
		o.outcome = Failed
		return nil, fmt.Errorf("load device: %w", err)
	}

	for row := 0; ; row++ {
		o.ref.RunToRowOrIllegal()
		res.Ref = o.ref.State()

		settled, err := o.dev.RunToRowOrIllegal(ctx)
		if err != nil {
			o.outcome = Failed
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		if !settled {
			res.Failure = lnerr.New(lnerr.DeviceTimeout, row, "device did not settle within its poll budget")
			return o.finish(res, Failed), nil
		}
		regs, err := o.dev.Registers(ctx)
		if err != nil {
			o.outcome = Failed
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		res.Dev = regs.Decode()

		if m := Compare(row, res.Ref, res.Dev); m != nil {
			res.Failure = m
			return o.finish(res, Failed), nil
		}
		res.Rows++
		if o.opts.KeepRows {
			res.Trace = append(res.Trace, res.Ref)
		}
		o.log.Debug("row agreed", "row", row, "state", res.Ref.String())

		if o.ref.Finished() {
			res.Rejected = res.Ref.Status == refsim.Illegal
			return o.finish(res, Passed), nil
		}
		o.ref.Resume()
		if err := o.dev.Resume(ctx); err != nil {
			o.outcome = Failed
			return nil, fmt.Errorf("row %d: resume device: %w", row, err)
		}
	}
}

func (o *Oracle) finish(res *Result, outcome Outcome) *Result {
	o.outcome = outcome
	res.Outcome = outcome
	if res.Failure != nil {
		o.log.Debug("comparison failed", "error", res.Failure.Error(),
			"ref", res.Ref.String(), "dut", res.Dev.String())
	}
	return res
}
