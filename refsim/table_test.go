package refsim_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lattice-substrate/linediff/lnprog"
	"github.com/lattice-substrate/linediff/refsim"
)

func TestRunTable(t *testing.T) {
	p := lnprog.NewBuilder(canonical()).
		SetAddress(0x1000).
		Copy().
		AdvancePC(4).
		AdvanceLine(1).
		Copy().
		AdvancePC(8).
		EndSequence().
		SetAddress(0x2000).
		SetFile(2).
		Copy().
		AdvancePC(2).
		EndSequence().
		Program()

	table, err := refsim.RunTable(p)
	require.NoError(t, err)
	require.False(t, table.Rejected)
	require.False(t, table.Truncated)
	require.Len(t, table.Rows, 5)

	addrs := make([]uint32, len(table.Rows))
	for i, r := range table.Rows {
		addrs[i] = r.Address
	}
	require.Equal(t, []uint32{0x1000, 0x1004, 0x100c, 0x2000, 0x2002}, addrs)
	require.True(t, table.Rows[2].EndSequence)
	require.Equal(t, uint16(1), table.Rows[3].Line)
	require.Equal(t, uint16(2), table.Rows[3].File)
}

func TestRunTableStopsAtIllegal(t *testing.T) {
	p := &lnprog.Program{Header: canonical(), Code: []byte{0x01, 0x00, 0x01, 0x07, 0x01}}
	table, err := refsim.RunTable(p)
	require.NoError(t, err)
	require.Len(t, table.Rows, 1)
	require.True(t, table.Rejected)
	require.False(t, table.Truncated)
}

func TestAddressRanges(t *testing.T) {
	rows := []refsim.State{
		{Address: 0x10, File: 1, Line: 5},
		{Address: 0x14, File: 1, Line: 5},
		{Address: 0x18, File: 1, Line: 6},
		{Address: 0x20, File: 1, Line: 5},
		{Address: 0x28, File: 1, Line: 5, EndSequence: true},
		{Address: 0x30, File: 2, Line: 5},
		{Address: 0x34, File: 2, Line: 7},
	}
	require.Equal(t, []refsim.Range{{Start: 0x10, End: 0x18}, {Start: 0x20, End: 0x28}}, refsim.AddressRanges(rows, 1, 5))
	require.Equal(t, []refsim.Range{{Start: 0x30, End: 0x34}}, refsim.AddressRanges(rows, 2, 5))
	require.Empty(t, refsim.AddressRanges(rows, 3, 1))
}

func TestAddressRangesUnclosedRangeDropped(t *testing.T) {
	rows := []refsim.State{{Address: 0x10, File: 1, Line: 5}}
	require.Empty(t, refsim.AddressRanges(rows, 1, 5))
}
