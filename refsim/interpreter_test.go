package refsim_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lattice-substrate/linediff/lnprog"
	"github.com/lattice-substrate/linediff/refsim"
)

func canonical() lnprog.Header {
	return lnprog.NewHeader(true, -3, 14, 13)
}

func load(t *testing.T, p *lnprog.Program) *refsim.Interpreter {
	t.Helper()
	in := refsim.New()
	require.NoError(t, in.Load(p))
	return in
}

func TestSingleEndSequenceRow(t *testing.T) {
	p := &lnprog.Program{Header: lnprog.NewHeader(true, -5, 14, 13), Code: []byte{0x00, 0x01, 0x01}}
	in := load(t, p)

	require.Equal(t, refsim.EmitRow, in.RunToRowOrIllegal())
	want := refsim.DefaultState(true)
	want.EndSequence = true
	want.Status = refsim.EmitRow
	require.Equal(t, want, in.State())
	require.True(t, in.Finished())
	require.False(t, in.Truncated())
}

func TestSpecialOpcodeArithmetic(t *testing.T) {
	in := load(t, lnprog.NewBuilder(canonical()).Special(20).Program())

	require.Equal(t, refsim.EmitRow, in.RunToRowOrIllegal())
	st := in.State()
	require.Equal(t, uint32(0), st.Address)
	require.Equal(t, uint16(5), st.Line)
}

func TestSpecialOpcodeAddressAdvance(t *testing.T) {
	// adjusted 255-13 = 242: address += 242/14 = 17, line += -3 + 242%14 = 1.
	in := load(t, lnprog.NewBuilder(canonical()).Special(255).Program())
	in.RunToRowOrIllegal()
	require.Equal(t, uint32(17), in.State().Address)
	require.Equal(t, uint16(2), in.State().Line)
}

func TestLightweightResumeIsIdempotent(t *testing.T) {
	p := lnprog.NewBuilder(canonical()).
		SetDiscriminator(3).
		SetBasicBlock().
		SetPrologueEnd().
		SetEpilogueBegin().
		AdvanceLine(9).
		Copy().
		Copy().
		Program()
	in := load(t, p)
	require.Equal(t, refsim.EmitRow, in.RunToRowOrIllegal())
	row := in.State()
	require.Equal(t, uint16(3), row.Discriminator)
	require.True(t, row.BasicBlock && row.PrologueEnd && row.EpilogueBegin)

	in.Resume()
	once := in.State()
	in.Resume()
	require.Equal(t, once, in.State())

	require.Equal(t, refsim.Ready, once.Status)
	require.Zero(t, once.Discriminator)
	require.False(t, once.BasicBlock || once.PrologueEnd || once.EpilogueBegin)
	require.Equal(t, uint16(10), once.Line)
	require.True(t, once.IsStmt)
}

func TestFullResetAfterEndSequenceKeepsIP(t *testing.T) {
	p := lnprog.NewBuilder(canonical()).
		AdvancePC(0x40).
		NegateStmt().
		EndSequence().
		Copy().
		Program()
	in := load(t, p)
	in.RunToRowOrIllegal()
	require.True(t, in.State().EndSequence)
	require.Equal(t, uint32(0x40), in.State().Address)
	ip := in.IP()

	in.Resume()
	require.Equal(t, refsim.DefaultState(true), in.State())
	require.Equal(t, ip, in.IP())
	require.False(t, in.Finished())

	require.Equal(t, refsim.EmitRow, in.RunToRowOrIllegal())
	require.True(t, in.Finished())
}

func TestStandardOpcodes(t *testing.T) {
	p := lnprog.NewBuilder(canonical()).
		SetAddress(0xffffffff).
		AdvancePC(1).
		SetFile(0x12345).
		SetColumn(0x7ff).
		AdvanceLine(-2).
		FixedAdvancePC(0x10).
		ConstAddPC().
		SetISA(99).
		NegateStmt().
		SetDiscriminator(0x1ffff).
		Copy().
		Program()
	in := load(t, p)
	require.Equal(t, refsim.EmitRow, in.RunToRowOrIllegal())
	st := in.State()
	require.Equal(t, uint32(0x10+17), st.Address)
	require.Equal(t, uint16(0x2345), st.File)
	require.Equal(t, uint16(0x3ff), st.Column)
	require.Equal(t, uint16(0xffff), st.Line)
	require.False(t, st.IsStmt)
	require.Equal(t, uint16(0xffff), st.Discriminator)
	require.True(t, in.Finished())
}

func TestAdvanceLineWrapsUp(t *testing.T) {
	in := load(t, lnprog.NewBuilder(canonical()).AdvanceLine(0xffff).Copy().Program())
	in.RunToRowOrIllegal()
	require.Equal(t, uint16(0), in.State().Line)
}

func TestIllegalStandardOpcode(t *testing.T) {
	p := &lnprog.Program{Header: lnprog.NewHeader(false, 0, 1, 20), Code: []byte{0x0d, 0x01}}
	in := load(t, p)
	require.Equal(t, refsim.Illegal, in.RunToRowOrIllegal())
	require.True(t, in.Finished())
	require.False(t, in.Truncated())

	in.Resume()
	require.Equal(t, refsim.DefaultState(false), in.State())
}

func TestIllegalExtendedOpcode(t *testing.T) {
	p := &lnprog.Program{Header: canonical(), Code: []byte{0x00, 0x01, 0x03, 0x01}}
	in := load(t, p)
	require.Equal(t, refsim.Illegal, in.RunToRowOrIllegal())
	require.Equal(t, 3, in.IP())
}

func TestOpcodeBaseZeroMakesEveryByteSpecial(t *testing.T) {
	p := &lnprog.Program{Header: lnprog.NewHeader(true, 2, 3, 0), Code: []byte{0x00, 0x07}}
	in := load(t, p)
	require.Equal(t, refsim.EmitRow, in.RunToRowOrIllegal())
	require.Equal(t, uint16(3), in.State().Line)
	require.False(t, in.State().EndSequence)

	in.Resume()
	require.Equal(t, refsim.EmitRow, in.RunToRowOrIllegal())
	// adjusted 7: address += 7/3, line += 2 + 7%3.
	require.Equal(t, uint32(2), in.State().Address)
	require.Equal(t, uint16(6), in.State().Line)
}

func TestOverlongULEBTruncates(t *testing.T) {
	// Six groups: the sixth is consumed but not accumulated.
	p := &lnprog.Program{Header: canonical(), Code: []byte{0x02, 0x85, 0x80, 0x80, 0x80, 0x80, 0x7f, 0x01}}
	in := load(t, p)
	require.Equal(t, refsim.EmitRow, in.RunToRowOrIllegal())
	require.Equal(t, uint32(5), in.State().Address)
	require.True(t, in.Finished())
}

func TestTruncatedOperandRejects(t *testing.T) {
	cases := [][]byte{
		{0x02},
		{0x02, 0x80},
		{0x09, 0x01},
		{0x00, 0x05, 0x02, 0x00},
		{0x00},
		{},
	}
	for _, code := range cases {
		in := load(t, &lnprog.Program{Header: canonical(), Code: code})
		require.Equal(t, refsim.Illegal, in.RunToRowOrIllegal(), "code % x", code)
		require.True(t, in.Truncated(), "code % x", code)
		require.True(t, in.Finished(), "code % x", code)
	}
}

func TestLoadRejectsZeroLineRange(t *testing.T) {
	err := refsim.New().Load(&lnprog.Program{Header: lnprog.NewHeader(true, 0, 0, 13)})
	require.Error(t, err)
}

func FuzzInterpreterTerminates(f *testing.F) {
	f.Add(uint32(0x0d0efd01), []byte{0x00, 0x01, 0x01})
	f.Add(uint32(0x00010000), []byte{0x00, 0x00, 0x00})
	f.Add(uint32(0x140a0000), []byte{0x0d, 0x02, 0xff})
	f.Fuzz(func(t *testing.T, header uint32, code []byte) {
		p := &lnprog.Program{Header: lnprog.ParseHeader(header), Code: code}
		if p.Validate() != nil {
			return
		}
		table, err := refsim.RunTable(p)
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		if len(table.Rows) > len(code) {
			t.Fatalf("%d rows from %d code bytes", len(table.Rows), len(code))
		}
		for _, r := range table.Rows {
			if r.Address&^uint32(lnprog.AddressMask) != 0 || r.Column&^uint16(lnprog.ColumnMask) != 0 {
				t.Fatalf("row out of range: %v", r)
			}
		}
	})
}
