package campaign

import (
	"bytes"
	"io"
	"os"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"github.com/lattice-substrate/linediff/lnerr"
	"github.com/lattice-substrate/linediff/oracle"
)

// Metrics counts campaign progress in Prometheus text format.
type Metrics struct {
	set *metrics.Set

	programs    *metrics.Counter
	passed      *metrics.Counter
	failed      *metrics.Counter
	timeouts    *metrics.Counter
	mismatches  *metrics.Counter
	rejected    *metrics.Counter
	rows        *metrics.Counter
	programSize *metrics.Histogram
	duration    *metrics.Histogram
}

// NewMetrics registers the campaign series in a private set.
func NewMetrics() *Metrics {
	s := metrics.NewSet()
	return &Metrics{
		set:         s,
		programs:    s.NewCounter(`linediff_programs_total`),
		passed:      s.NewCounter(`linediff_programs_passed_total`),
		failed:      s.NewCounter(`linediff_programs_failed_total`),
		timeouts:    s.NewCounter(`linediff_device_timeouts_total`),
		mismatches:  s.NewCounter(`linediff_field_mismatches_total`),
		rejected:    s.NewCounter(`linediff_programs_rejected_total`),
		rows:        s.NewCounter(`linediff_rows_compared_total`),
		programSize: s.NewHistogram(`linediff_program_size_bytes`),
		duration:    s.NewHistogram(`linediff_program_duration_seconds`),
	}
}

func (m *Metrics) observe(res *oracle.Result, size int, start time.Time) {
	if m == nil {
		return
	}
	m.programs.Inc()
	m.rows.Add(res.Rows)
	m.programSize.Update(float64(size))
	m.duration.UpdateDuration(start)
	if res.Rejected {
		m.rejected.Inc()
	}
	if res.Outcome == oracle.Passed {
		m.passed.Inc()
		return
	}
	m.failed.Inc()
	if res.Failure == nil {
		return
	}
	switch res.Failure.Class {
	case lnerr.DeviceTimeout:
		m.timeouts.Inc()
	case lnerr.FieldMismatch:
		m.mismatches.Inc()
	}
}

// WritePrometheus writes every series to w.
func (m *Metrics) WritePrometheus(w io.Writer) {
	m.set.WritePrometheus(w)
}

// WriteFile writes a Prometheus text snapshot to path.
func (m *Metrics) WriteFile(path string) error {
	var buf bytes.Buffer
	m.WritePrometheus(&buf)
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return lnerr.Wrap(lnerr.InternalIO, -1, "write metrics", err)
	}
	return nil
}
