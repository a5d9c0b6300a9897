package campaign

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lattice-substrate/linediff/dut"
	"github.com/lattice-substrate/linediff/lnerr"
	"github.com/lattice-substrate/linediff/lnprog"
	"github.com/lattice-substrate/linediff/progen"
)

var fixedNow = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

// lineSkew reports line+1 on the second row of every program.
type lineSkew struct {
	*dut.ReferenceDevice
	row int
}

func (d *lineSkew) Load(ctx context.Context, p *lnprog.Program) error {
	d.row = 0
	return d.ReferenceDevice.Load(ctx, p)
}

func (d *lineSkew) Registers(ctx context.Context) (dut.Registers, error) {
	regs, err := d.ReferenceDevice.Registers(ctx)
	if err != nil {
		return regs, err
	}
	if d.row == 1 {
		st := regs.Decode()
		st.Line++
		regs = dut.Pack(st)
	}
	d.row++
	return regs, nil
}

func staticFactory(newDev func() dut.Device, closes *atomic.Int32) DeviceFactory {
	return func(context.Context) (dut.Device, func() error, error) {
		return newDev(), func() error {
			if closes != nil {
				closes.Add(1)
			}
			return nil
		}, nil
	}
}

func threeRowProgram() *lnprog.Program {
	return lnprog.NewBuilder(testHeader).Copy().AdvanceLine(1).Copy().EndSequence().Program()
}

func TestRunAllPass(t *testing.T) {
	var progress bytes.Buffer
	var closes atomic.Int32
	m := NewMetrics()
	sum, err := Run(context.Background(), Options{
		Source:   progen.NewRandom(20, 3),
		Factory:  staticFactory(func() dut.Device { return dut.NewRegisterAdapter(dut.NewModel(), 0) }, &closes),
		Progress: &progress,
		Metrics:  m,
		Now:      fixedNow,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Programs != 20 || sum.Passed != 20 || sum.Failure != nil {
		t.Fatalf("summary = %+v", sum)
	}
	out := progress.String()
	if !strings.HasPrefix(out, "running test 1... passed\nrunning test 2... passed\n") {
		t.Fatalf("progress = %q", out)
	}
	if !strings.HasSuffix(out, "running test 20... passed\nALL TESTS PASSED\n") {
		t.Fatalf("progress = %q", out)
	}
	if closes.Load() != 1 {
		t.Fatalf("closed %d devices, want 1", closes.Load())
	}

	var metrics bytes.Buffer
	m.WritePrometheus(&metrics)
	if !strings.Contains(metrics.String(), "linediff_programs_total 20\n") ||
		!strings.Contains(metrics.String(), "linediff_programs_passed_total 20\n") {
		t.Fatalf("metrics = %s", metrics.String())
	}
}

func TestRunFailurePersistsArtifacts(t *testing.T) {
	dir := t.TempDir()
	save := filepath.Join(dir, "test.bin")
	reportPath := filepath.Join(dir, "report.json")
	bundlePath := filepath.Join(dir, "repro.tar.gz")
	var progress bytes.Buffer

	p := threeRowProgram()
	sum, err := Run(context.Background(), Options{
		Source:     progen.NewReplay(p),
		Factory:    staticFactory(func() dut.Device { return &lineSkew{ReferenceDevice: dut.NewReferenceDevice()} }, nil),
		Seed:       9,
		DeviceName: "skew",
		SavePath:   save,
		ReportPath: reportPath,
		BundlePath: bundlePath,
		Progress:   &progress,
		Now:        fixedNow,
	})
	var le *lnerr.Error
	if !errors.As(err, &le) || le.Class != lnerr.FieldMismatch || le.Field != "line" || le.Row != 1 {
		t.Fatalf("err = %v", err)
	}
	if le.Class.ExitCode() != 1 {
		t.Fatalf("exit code = %d", le.Class.ExitCode())
	}
	if progress.String() != "running test 1...TEST FAILED\n" {
		t.Fatalf("progress = %q", progress.String())
	}
	if sum.FailedIndex != 1 || sum.PersistErr != nil {
		t.Fatalf("summary = %+v", sum)
	}

	saved, err := lnprog.Load(save)
	if err != nil || !saved.Equal(p) {
		t.Fatalf("saved program: %v", err)
	}
	report, err := LoadReport(reportPath)
	if err != nil {
		t.Fatalf("load report: %v", err)
	}
	if report.Seed != 9 || report.Device != "skew" || report.TestIndex != 1 ||
		report.GeneratedAtUTC != "2026-01-02T03:04:05Z" || *report.Want != 2 || *report.Got != 3 {
		t.Fatalf("report = %+v", report)
	}
	b, err := ReadBundle(bundlePath)
	if err != nil {
		t.Fatalf("read bundle: %v", err)
	}
	if !b.Program.Equal(p) || b.Report.ProgramSHA256 != report.ProgramSHA256 {
		t.Fatal("bundle does not match persisted artifacts")
	}
}

func TestRunStopsAtFirstFailure(t *testing.T) {
	var progress bytes.Buffer
	sum, err := Run(context.Background(), Options{
		Source:   progen.NewRandom(50, 5),
		Factory:  staticFactory(func() dut.Device { return &lineSkew{ReferenceDevice: dut.NewReferenceDevice()} }, nil),
		Progress: &progress,
	})
	if err == nil {
		t.Fatal("expected failure")
	}
	if sum.Programs == 50 {
		t.Fatal("campaign did not stop at the first failure")
	}
	if strings.Contains(progress.String(), "ALL TESTS PASSED") {
		t.Fatalf("progress = %q", progress.String())
	}
}

func TestRunParallelWorkers(t *testing.T) {
	var closes atomic.Int32
	sum, err := Run(context.Background(), Options{
		Source:  progen.NewRandom(64, 21),
		Factory: staticFactory(func() dut.Device { return dut.NewRegisterAdapter(dut.NewModel(), 0) }, &closes),
		Workers: 4,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Passed != 64 {
		t.Fatalf("passed = %d", sum.Passed)
	}
	if closes.Load() != 4 {
		t.Fatalf("closed %d devices, want 4", closes.Load())
	}
}

func TestRunDeviceTimeout(t *testing.T) {
	factory := func(context.Context) (dut.Device, func() error, error) {
		m := dut.NewModel()
		m.Stall = true
		return dut.NewRegisterAdapter(m, 10), noClose, nil
	}
	sum, err := Run(context.Background(), Options{Source: progen.NewReplay(threeRowProgram()), Factory: factory})
	var le *lnerr.Error
	if !errors.As(err, &le) || le.Class != lnerr.DeviceTimeout {
		t.Fatalf("err = %v", err)
	}
	if sum.Report == nil || sum.Report.FailureClass != string(lnerr.DeviceTimeout) {
		t.Fatalf("report = %+v", sum.Report)
	}
}

func TestRunFactoryError(t *testing.T) {
	factory := func(context.Context) (dut.Device, func() error, error) {
		return nil, nil, lnerr.New(lnerr.DeviceIO, -1, "no simulator")
	}
	_, err := Run(context.Background(), Options{Source: progen.NewRandom(1, 1), Factory: factory})
	var le *lnerr.Error
	if !errors.As(err, &le) || le.Class != lnerr.DeviceIO {
		t.Fatalf("err = %v", err)
	}
}

func TestRunRequiresSourceAndFactory(t *testing.T) {
	if _, err := Run(context.Background(), Options{Factory: staticFactory(nil, nil)}); err == nil {
		t.Fatal("expected error without source")
	}
	if _, err := Run(context.Background(), Options{Source: progen.NewRandom(1, 1)}); err == nil {
		t.Fatal("expected error without factory")
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, Options{
		Source:  progen.NewRandom(5, 1),
		Factory: staticFactory(func() dut.Device { return dut.NewReferenceDevice() }, nil),
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

func TestConfigOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Device = DeviceReference
	cfg.Workers = 2
	cfg.Seed = 77
	opts, err := cfg.Options()
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	opts.Source = progen.NewRandom(10, cfg.Seed)
	opts.SavePath = ""
	sum, err := Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Passed != 10 || opts.DeviceName != "reference" {
		t.Fatalf("summary = %+v, device = %q", sum, opts.DeviceName)
	}
}
