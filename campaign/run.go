package campaign

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lattice-substrate/linediff/lnerr"
	"github.com/lattice-substrate/linediff/lnprog"
	"github.com/lattice-substrate/linediff/oracle"
	"github.com/lattice-substrate/linediff/progen"
)

// Options configures a campaign run.
type Options struct {
	Source  progen.Source
	Factory DeviceFactory
	// Workers is the number of programs compared concurrently. With one
	// worker programs run strictly in order.
	Workers int
	// Seed and DeviceName are recorded in the failure report.
	Seed       uint32
	DeviceName string
	// SavePath, ReportPath and BundlePath receive the failing program, its
	// report and a reproduction bundle. Empty paths are skipped.
	SavePath   string
	ReportPath string
	BundlePath string
	Logger     *slog.Logger
	Metrics    *Metrics
	// Progress receives one line per program.
	Progress io.Writer
	Now      func() time.Time
}

// Summary describes a finished campaign.
type Summary struct {
	Programs int
	Passed   int
	Rejected int
	Rows     int
	// FailedIndex is the one-based number of the failing program, or 0.
	FailedIndex int
	Failure     *lnerr.Error
	Report      *Report
	// PersistErr is set when the failure artifacts could not be written.
	PersistErr error
}

type worker struct {
	oracle *oracle.Oracle
	close  func() error
}

type runner struct {
	opts Options
	log  *slog.Logger
	now  func() time.Time

	mu      sync.Mutex
	summary Summary
}

// Run compares every program of opts.Source against a reference interpreter
// and stops at the first failure. The returned error is the classified
// failure, or the error that kept the campaign from finishing.
func Run(ctx context.Context, opts Options) (*Summary, error) {
	if opts.Source == nil {
		return nil, lnerr.New(lnerr.InternalError, -1, "program source is required")
	}
	if opts.Factory == nil {
		return nil, lnerr.New(lnerr.InternalError, -1, "device factory is required")
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Progress == nil {
		opts.Progress = io.Discard
	}
	r := &runner{opts: opts, log: opts.Logger, now: opts.Now}
	if r.log == nil {
		r.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if r.now == nil {
		r.now = wallClockNow
	}

	devCtx, cancelDevices := context.WithCancel(ctx)
	defer cancelDevices()
	pool, closeAll, err := r.openWorkers(devCtx)
	if err != nil {
		return &r.summary, err
	}

	r.log.Info("campaign started", "workers", opts.Workers, "seed", opts.Seed, "device", opts.DeviceName)
	runErr := r.dispatch(ctx, pool)
	if closeErr := closeAll(); closeErr != nil && runErr == nil {
		runErr = closeErr
	}

	s := r.summary
	if s.Failure != nil {
		r.log.Error("campaign failed", "test", s.FailedIndex, "class", string(s.Failure.Class),
			"row", s.Failure.Row, "error", s.Failure.Error())
		return &s, s.Failure
	}
	if runErr != nil {
		return &s, runErr
	}
	_, _ = fmt.Fprintln(opts.Progress, "ALL TESTS PASSED")
	r.log.Info("campaign passed", "programs", s.Programs, "rows", s.Rows, "rejected", s.Rejected)
	return &s, nil
}

func (r *runner) openWorkers(ctx context.Context) (chan *worker, func() error, error) {
	pool := make(chan *worker, r.opts.Workers)
	var opened []*worker
	closeAll := func() error {
		var errs []error
		for _, w := range opened {
			if err := w.close(); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
	for i := 0; i < r.opts.Workers; i++ {
		dev, closer, err := r.opts.Factory(ctx)
		if err != nil {
			_ = closeAll()
			return nil, nil, fmt.Errorf("open device %d: %w", i, err)
		}
		w := &worker{
			oracle: oracle.New(dev, oracle.Options{Logger: r.log.With("worker", i)}),
			close:  closer,
		}
		opened = append(opened, w)
		pool <- w
	}
	return pool, closeAll, nil
}

// dispatch draws programs on the calling goroutine, so the generator is
// never shared, and hands each one to an idle worker.
func (r *runner) dispatch(ctx context.Context, pool chan *worker) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)

	var drawErr error
	for index := 1; r.opts.Source.HasNext(); index++ {
		var w *worker
		select {
		case <-gctx.Done():
		case w = <-pool:
		}
		if w == nil || gctx.Err() != nil {
			break
		}
		p, err := r.opts.Source.Next()
		if err != nil {
			pool <- w
			drawErr = fmt.Errorf("draw program %d: %w", index, err)
			break
		}
		idx := index
		g.Go(func() error {
			defer func() { pool <- w }()
			return r.compare(gctx, w, idx, p)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if drawErr != nil {
		return drawErr
	}
	return ctx.Err()
}

func (r *runner) compare(ctx context.Context, w *worker, index int, p *lnprog.Program) error {
	start := r.now()
	res, err := w.oracle.Run(ctx, p)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return err
		}
		var le *lnerr.Error
		if !errors.As(err, &le) {
			le = lnerr.Wrap(lnerr.InternalError, -1, "compare program", err)
		}
		r.fail(index, p, nil, le)
		return le
	}
	r.opts.Metrics.observe(res, lnprog.HeaderSize+len(p.Code), start)

	if res.Outcome != oracle.Passed {
		r.fail(index, p, res, res.Failure)
		return res.Failure
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.Programs++
	r.summary.Passed++
	r.summary.Rows += res.Rows
	if res.Rejected {
		r.summary.Rejected++
	}
	if r.summary.Failure == nil {
		_, _ = fmt.Fprintf(r.opts.Progress, "running test %d... passed\n", index)
	}
	return nil
}

// fail records the first failure and writes its artifacts. Later failures
// from programs already in flight are dropped.
func (r *runner) fail(index int, p *lnprog.Program, res *oracle.Result, failure *lnerr.Error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.Programs++
	if res != nil {
		r.summary.Rows += res.Rows
	}
	if r.summary.Failure != nil {
		return
	}
	_, _ = fmt.Fprintf(r.opts.Progress, "running test %d...TEST FAILED\n", index)
	r.summary.Failure = failure
	r.summary.FailedIndex = index

	report := NewReport(p, res, failure)
	report.GeneratedAtUTC = r.now().UTC().Format(time.RFC3339Nano)
	report.Seed = r.opts.Seed
	report.TestIndex = index
	report.Device = r.opts.DeviceName
	r.summary.Report = report

	if err := r.persist(p, report); err != nil {
		r.summary.PersistErr = err
		r.log.Error("persist failure artifacts", "error", err)
	}
}

func (r *runner) persist(p *lnprog.Program, report *Report) error {
	var errs []error
	if r.opts.SavePath != "" {
		if err := lnprog.Save(r.opts.SavePath, p); err != nil {
			errs = append(errs, err)
		} else {
			r.log.Info("saved failing program", "path", r.opts.SavePath)
		}
	}
	if r.opts.ReportPath != "" {
		if err := WriteReport(r.opts.ReportPath, report); err != nil {
			errs = append(errs, err)
		}
	}
	if r.opts.BundlePath != "" {
		if _, err := WriteBundle(r.opts.BundlePath, p, report); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Options derives run options from cfg. Source, Logger, Metrics and Progress
// are left for the caller.
func (c *Config) Options() (Options, error) {
	factory, err := NewDeviceFactory(c)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Factory:    factory,
		Workers:    c.Workers,
		Seed:       c.Seed,
		DeviceName: DeviceName(c),
		SavePath:   c.SavePath,
		ReportPath: c.ReportPath,
		BundlePath: c.BundlePath,
	}, nil
}

//nolint:forbidigo // default clock for report timestamps when none is injected.
func wallClockNow() time.Time {
	return time.Now()
}
