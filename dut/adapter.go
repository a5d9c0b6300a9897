package dut

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/lattice-substrate/linediff/lnerr"
	"github.com/lattice-substrate/linediff/lnprog"
	"github.com/lattice-substrate/linediff/refsim"
)

// DefaultPollBudget is the number of STATUS reads a device may spend settling.
const DefaultPollBudget = 1000

// RegisterAdapter drives a register Bus as a Device. Code bytes are fed
// lazily: the adapter writes the next chunk only when the device reports
// READY.
type RegisterAdapter struct {
	bus        Bus
	pollBudget int

	code []byte
	feed int
}

// NewRegisterAdapter wraps bus. A non-positive budget selects
// DefaultPollBudget.
func NewRegisterAdapter(bus Bus, pollBudget int) *RegisterAdapter {
	if pollBudget <= 0 {
		pollBudget = DefaultPollBudget
	}
	return &RegisterAdapter{bus: bus, pollBudget: pollBudget}
}

// Load writes the program header and rewinds the code feed.
func (a *RegisterAdapter) Load(ctx context.Context, p *lnprog.Program) error {
	if err := a.bus.Write32(ctx, RegProgramHeader, p.Header.Raw()); err != nil {
		return busError("write "+RegProgramHeader.String(), err)
	}
	a.code = p.Code
	a.feed = 0
	return nil
}

// RunToRowOrIllegal feeds code until the device emits a row or rejects the
// program. Every BUSY read spends one unit of the budget; once the code is
// exhausted, every READY read does too.
func (a *RegisterAdapter) RunToRowOrIllegal(ctx context.Context) (bool, error) {
	starved := 0
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		status, settled, err := a.settle(ctx)
		if err != nil {
			return false, err
		}
		if !settled {
			return false, nil
		}
		if status == refsim.EmitRow || status == refsim.Illegal {
			return true, nil
		}
		if a.feed >= len(a.code) {
			starved++
			if starved >= a.pollBudget {
				return false, nil
			}
			continue
		}
		if err := a.writeNext(ctx); err != nil {
			return false, err
		}
	}
}

func (a *RegisterAdapter) settle(ctx context.Context) (refsim.Status, bool, error) {
	remaining := a.pollBudget
	for {
		v, err := a.bus.Read32(ctx, RegStatus)
		if err != nil {
			return 0, false, busError("read "+RegStatus.String(), err)
		}
		if v > uint32(refsim.Illegal) {
			return 0, false, lnerr.New(lnerr.DeviceIO, -1, fmt.Sprintf("unexpected STATUS value 0x%x", v))
		}
		status := refsim.Status(v)
		if status != refsim.Busy {
			return status, true, nil
		}
		remaining--
		if remaining == 0 {
			return status, false, nil
		}
	}
}

func (a *RegisterAdapter) writeNext(ctx context.Context) error {
	rest := a.code[a.feed:]
	var err error
	switch {
	case len(rest) >= 4:
		err = a.bus.Write32(ctx, RegProgramCode, binary.LittleEndian.Uint32(rest))
		a.feed += 4
	case len(rest) >= 2:
		err = a.bus.Write16(ctx, RegProgramCode, binary.LittleEndian.Uint16(rest))
		a.feed += 2
	default:
		err = a.bus.Write8(ctx, RegProgramCode, rest[0])
		a.feed++
	}
	if err != nil {
		return busError("write "+RegProgramCode.String(), err)
	}
	return nil
}

// Resume acknowledges the current row.
func (a *RegisterAdapter) Resume(ctx context.Context) error {
	if err := a.bus.Write32(ctx, RegStatus, 0); err != nil {
		return busError("write "+RegStatus.String(), err)
	}
	return nil
}

// Registers reads the result registers.
func (a *RegisterAdapter) Registers(ctx context.Context) (Registers, error) {
	var r Registers
	for _, f := range []struct {
		reg Reg
		dst *uint32
	}{
		{RegAddress, &r.Address},
		{RegFileDiscrim, &r.FileDiscrim},
		{RegLineColFlags, &r.LineColFlags},
		{RegStatus, &r.Status},
	} {
		v, err := a.bus.Read32(ctx, f.reg)
		if err != nil {
			return Registers{}, busError("read "+f.reg.String(), err)
		}
		*f.dst = v
	}
	return r, nil
}

// busError classifies a bus failure as DEVICE_IO unless it already carries a
// class or is a context error.
func busError(op string, err error) error {
	var le *lnerr.Error
	if errors.As(err, &le) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return lnerr.Wrap(lnerr.DeviceIO, -1, op, err)
}
