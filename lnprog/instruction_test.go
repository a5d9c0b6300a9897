package lnprog_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/lattice-substrate/linediff/lnprog"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		op, base byte
		want     lnprog.Kind
	}{
		{0x00, 13, lnprog.KindExtended},
		{0x00, 0, lnprog.KindSpecial},
		{0x01, 13, lnprog.KindStandard},
		{0x0c, 13, lnprog.KindStandard},
		{0x0d, 13, lnprog.KindSpecial},
		{0x0d, 20, lnprog.KindStandard},
		{0x05, 4, lnprog.KindSpecial},
	}
	for _, tc := range cases {
		if got := lnprog.Classify(tc.op, tc.base); got != tc.want {
			t.Errorf("Classify(0x%02x, %d) = %s, want %s", tc.op, tc.base, got, tc.want)
		}
	}
}

func TestDisassemble(t *testing.T) {
	p := lnprog.NewBuilder(lnprog.NewHeader(true, -3, 14, 13)).
		SetAddress(0x1000).
		AdvancePC(300).
		AdvanceLine(-2).
		SetFile(2).
		SetColumn(17).
		FixedAdvancePC(0x1234).
		SetDiscriminator(9).
		Special(20).
		EndSequence().
		Program()

	ins, err := lnprog.Disassemble(p)
	if err != nil {
		t.Fatalf("disassemble: %v", err)
	}
	want := []string{
		"0000: DW_LNE_set_address 0x00001000",
		"0007: DW_LNS_advance_pc 0x12c",
		"000a: DW_LNS_advance_line -2",
		"000c: DW_LNS_set_file 2",
		"000e: DW_LNS_set_column 17",
		"0010: DW_LNS_fixed_advance_pc 0x1234",
		"0013: DW_LNE_set_discriminator 9",
		"0017: special(20)",
		"0018: DW_LNE_end_sequence",
	}
	if len(ins) != len(want) {
		t.Fatalf("got %d instructions, want %d", len(ins), len(want))
	}
	total := 0
	for i := range want {
		if ins[i].String() != want[i] {
			t.Errorf("instruction %d = %q, want %q", i, ins[i].String(), want[i])
		}
		total += ins[i].Len
	}
	if total != len(p.Code) {
		t.Fatalf("lengths sum to %d, code is %d bytes", total, len(p.Code))
	}
}

func TestDecodeIllegalOpcodes(t *testing.T) {
	// Opcode base 20 leaves 13..19 as undefined standard opcodes.
	ins, err := lnprog.DecodeInstruction([]byte{0x0d}, 0, 20)
	if err != nil || !ins.Illegal || ins.Len != 1 {
		t.Fatalf("got %+v, %v", ins, err)
	}
	ins, err = lnprog.DecodeInstruction([]byte{0x00, 0x01, 0x03}, 0, 13)
	if err != nil || !ins.Illegal || ins.Sub != 0x03 || ins.Len != 3 {
		t.Fatalf("got %+v, %v", ins, err)
	}
	if !strings.Contains(ins.String(), "illegal") {
		t.Fatalf("String() = %q", ins.String())
	}
}

func TestDecodeTruncated(t *testing.T) {
	cases := [][]byte{
		{0x02, 0x80},
		{0x03},
		{0x09, 0x01},
		{0x00},
		{0x00, 0x05},
		{0x00, 0x05, 0x02, 0x01, 0x02},
		{0x00, 0x02, 0x04, 0x80},
	}
	for _, code := range cases {
		ins, err := lnprog.DecodeInstruction(code, 0, 13)
		if !errors.Is(err, lnprog.ErrTruncated) {
			t.Fatalf("% x: expected ErrTruncated, got %v", code, err)
		}
		if ins.Len > len(code) {
			t.Fatalf("% x: length %d exceeds code", code, ins.Len)
		}
	}
}

func TestDecodeOpcodeBaseZeroTreatsZeroAsSpecial(t *testing.T) {
	ins, err := lnprog.DecodeInstruction([]byte{0x00, 0x01, 0x01}, 0, 0)
	if err != nil || ins.Kind != lnprog.KindSpecial || ins.Len != 1 {
		t.Fatalf("got %+v, %v", ins, err)
	}
}
