package conformance_test

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lattice-substrate/linediff/dut"
	"github.com/lattice-substrate/linediff/lnprog"
	"github.com/lattice-substrate/linediff/oracle"
	"github.com/lattice-substrate/linediff/refsim"
)

type rowVector struct {
	Address       uint32   `json:"address"`
	File          uint16   `json:"file"`
	Line          uint16   `json:"line"`
	Column        uint16   `json:"column"`
	Flags         []string `json:"flags"`
	Discriminator uint16   `json:"discriminator"`
}

type referenceVector struct {
	Name      string      `json:"name"`
	Program   string      `json:"program"`
	Rows      []rowVector `json:"rows"`
	Rejected  bool        `json:"rejected"`
	Truncated bool        `json:"truncated"`
}

func (v referenceVector) program(t *testing.T) *lnprog.Program {
	t.Helper()
	raw, err := hex.DecodeString(v.Program)
	require.NoError(t, err, "program hex")
	p, err := lnprog.Decode(raw)
	require.NoError(t, err, "decode program")
	return p
}

func loadReferenceVectors(t *testing.T) []referenceVector {
	t.Helper()

	path := filepath.Join("vectors", "reference.jsonl")
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []referenceVector
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var v referenceVector
		require.NoErrorf(t, json.Unmarshal(sc.Bytes(), &v), "%s:%d", path, line)
		out = append(out, v)
	}
	require.NoError(t, sc.Err())
	require.NotEmpty(t, out, "no vectors in %s", path)
	return out
}

func rowFromState(s refsim.State) rowVector {
	r := rowVector{
		Address:       s.Address,
		File:          s.File,
		Line:          s.Line,
		Column:        s.Column,
		Flags:         []string{},
		Discriminator: s.Discriminator,
	}
	for _, f := range []struct {
		on   bool
		name string
	}{
		{s.IsStmt, "is_stmt"},
		{s.BasicBlock, "basic_block_start"},
		{s.EndSequence, "end_sequence"},
		{s.PrologueEnd, "prologue_end"},
		{s.EpilogueBegin, "epilogue_begin"},
	} {
		if f.on {
			r.Flags = append(r.Flags, f.name)
		}
	}
	return r
}

func TestReferenceVectors(t *testing.T) {
	t.Parallel()

	for _, v := range loadReferenceVectors(t) {
		v := v
		t.Run(v.Name, func(t *testing.T) {
			t.Parallel()
			table, err := refsim.RunTable(v.program(t))
			require.NoError(t, err)

			got := make([]rowVector, 0, len(table.Rows))
			for _, s := range table.Rows {
				require.Equal(t, refsim.EmitRow, s.Status)
				got = append(got, rowFromState(s))
			}
			want := v.Rows
			if want == nil {
				want = []rowVector{}
			}
			for i := range want {
				if want[i].Flags == nil {
					want[i].Flags = []string{}
				}
			}
			require.Equal(t, want, got)
			require.Equal(t, v.Rejected, table.Rejected, "rejected")
			require.Equal(t, v.Truncated, table.Truncated, "truncated")
		})
	}
}

// A program that runs past its code starves the device of bytes, which the
// adapter reports as a timeout, so truncated vectors stay reference-only.
func TestModelAgreesOnReferenceVectors(t *testing.T) {
	t.Parallel()

	for _, latency := range []int{0, 3} {
		for _, v := range loadReferenceVectors(t) {
			if v.Truncated {
				continue
			}
			v, latency := v, latency
			t.Run(fmt.Sprintf("%s/latency_%d", v.Name, latency), func(t *testing.T) {
				t.Parallel()
				m := dut.NewModel()
				m.Latency = latency
				res, err := oracle.New(dut.NewRegisterAdapter(m, 0), oracle.Options{}).
					Run(context.Background(), v.program(t))
				require.NoError(t, err)
				require.Equalf(t, oracle.Passed, res.Outcome, "latency %d: %v", latency, res.Failure)
				require.Equal(t, len(v.Rows), res.Rows-boolInt(v.Rejected))
				require.Equal(t, v.Rejected, res.Rejected)
			})
		}
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
