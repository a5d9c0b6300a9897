package dut

import (
	"context"

	"github.com/lattice-substrate/linediff/lnprog"
	"github.com/lattice-substrate/linediff/refsim"
)

// ReferenceDevice is a Device backed by its own reference interpreter. Paired
// with the oracle it checks the harness against itself.
type ReferenceDevice struct {
	in *refsim.Interpreter
}

// NewReferenceDevice returns a device with no program loaded.
func NewReferenceDevice() *ReferenceDevice {
	return &ReferenceDevice{in: refsim.New()}
}

func (d *ReferenceDevice) Load(_ context.Context, p *lnprog.Program) error {
	return d.in.Load(p)
}

func (d *ReferenceDevice) RunToRowOrIllegal(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	d.in.RunToRowOrIllegal()
	return true, nil
}

func (d *ReferenceDevice) Resume(context.Context) error {
	d.in.Resume()
	return nil
}

func (d *ReferenceDevice) Registers(context.Context) (Registers, error) {
	return Pack(d.in.State()), nil
}
