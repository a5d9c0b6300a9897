package lnprog

// Standard opcodes.
const (
	OpExtended         byte = 0x00
	OpCopy             byte = 0x01
	OpAdvancePC        byte = 0x02
	OpAdvanceLine      byte = 0x03
	OpSetFile          byte = 0x04
	OpSetColumn        byte = 0x05
	OpNegateStmt       byte = 0x06
	OpSetBasicBlock    byte = 0x07
	OpConstAddPC       byte = 0x08
	OpFixedAdvancePC   byte = 0x09
	OpSetPrologueEnd   byte = 0x0A
	OpSetEpilogueBegin byte = 0x0B
	OpSetISA           byte = 0x0C
)

// Extended sub-opcodes understood by the state machine.
const (
	ExtEndSequence      byte = 0x01
	ExtSetAddress       byte = 0x02
	ExtSetDiscriminator byte = 0x04
)

var standardNames = [...]string{
	OpCopy:             "DW_LNS_copy",
	OpAdvancePC:        "DW_LNS_advance_pc",
	OpAdvanceLine:      "DW_LNS_advance_line",
	OpSetFile:          "DW_LNS_set_file",
	OpSetColumn:        "DW_LNS_set_column",
	OpNegateStmt:       "DW_LNS_negate_stmt",
	OpSetBasicBlock:    "DW_LNS_set_basic_block",
	OpConstAddPC:       "DW_LNS_const_add_pc",
	OpFixedAdvancePC:   "DW_LNS_fixed_advance_pc",
	OpSetPrologueEnd:   "DW_LNS_set_prologue_end",
	OpSetEpilogueBegin: "DW_LNS_set_epilogue_begin",
	OpSetISA:           "DW_LNS_set_isa",
}

// StandardName returns the DWARF mnemonic of a standard opcode, or "" when
// the value is not one of the twelve the state machine implements.
func StandardName(op byte) string {
	if int(op) >= len(standardNames) {
		return ""
	}
	return standardNames[op]
}

// ExtendedName returns the DWARF mnemonic of an extended sub-opcode, or "".
func ExtendedName(sub byte) string {
	switch sub {
	case ExtEndSequence:
		return "DW_LNE_end_sequence"
	case ExtSetAddress:
		return "DW_LNE_set_address"
	case ExtSetDiscriminator:
		return "DW_LNE_set_discriminator"
	default:
		return ""
	}
}
