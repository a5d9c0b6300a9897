package progen

import (
	"github.com/valyala/fastrand"

	"github.com/lattice-substrate/linediff/lnerr"
	"github.com/lattice-substrate/linediff/lnprog"
	"github.com/lattice-substrate/linediff/refsim"
)

// MaxInstructions bounds the body of a random program.
const MaxInstructions = 1024

// maxSealAttempts bounds how many end_sequence triples are appended to a
// program whose last instruction swallows the terminator.
const maxSealAttempts = 8

var terminator = []byte{lnprog.OpExtended, 0x01, lnprog.ExtEndSequence}

// Random yields count random programs from a seeded generator. Programs mix
// the three opcode classes with every legal extended opcode and, for half of
// the programs, occasional malformed opcodes.
type Random struct {
	rng       fastrand.RNG
	seed      uint32
	remaining int
}

// NewRandom returns a generator of count programs. Seed 0 draws a seed from
// the process entropy source; Seed reports the value in use either way.
func NewRandom(count int, seed uint32) *Random {
	for seed == 0 {
		seed = fastrand.Uint32()
	}
	r := &Random{seed: seed, remaining: count}
	r.rng.Seed(seed)
	return r
}

// Seed returns the seed the generator was started from.
func (r *Random) Seed() uint32 { return r.seed }

func (r *Random) HasNext() bool { return r.remaining > 0 }

func (r *Random) Next() (*lnprog.Program, error) {
	if r.remaining <= 0 {
		return nil, ErrExhausted
	}
	r.remaining--
	return r.Generate()
}

func (*Random) sealed() {}

// between draws uniformly from [lo, hi].
func (r *Random) between(lo, hi uint32) uint32 {
	return lo + r.rng.Uint32n(hi-lo+1)
}

// Generate draws one program without consuming the count.
func (r *Random) Generate() (*lnprog.Program, error) {
	mayBeIllegal := r.between(0, 1) == 1

	isStmt := r.between(0, 1) == 1
	lineBase := int8(uint8(r.between(0, 255)))
	lineRange := uint8(r.between(1, 255))
	var opcodeBase uint8
	switch r.between(0, 15) {
	case 0:
		opcodeBase = uint8(r.between(14, 255))
	case 1:
		opcodeBase = uint8(r.between(0, 12))
	default:
		opcodeBase = lnprog.CanonicalOpcodeBase
	}
	h := lnprog.NewHeader(isStmt, lineBase, lineRange, opcodeBase)

	n := r.between(1, MaxInstructions)
	code := make([]byte, 0, 4*n)
	for i := uint32(1); i < n; i++ {
		code = r.appendInstruction(code, opcodeBase, mayBeIllegal)
	}
	code = append(code, terminator...)
	return seal(&lnprog.Program{Header: h, Code: code})
}

func (r *Random) appendInstruction(code []byte, opcodeBase uint8, mayBeIllegal bool) []byte {
	kind := r.between(0, 15)
	switch {
	case kind < 2:
		return r.appendExtended(code, mayBeIllegal)
	case kind < 9:
		op := byte(r.between(1, 12))
		code = append(code, op)
		switch op {
		case lnprog.OpAdvancePC, lnprog.OpAdvanceLine, lnprog.OpSetFile, lnprog.OpSetColumn, lnprog.OpSetISA:
			code = r.appendLEB(code, int(r.between(1, 5)))
		case lnprog.OpFixedAdvancePC:
			code = append(code, byte(r.between(0, 255)), byte(r.between(0, 255)))
		}
		return code
	default:
		op := byte(r.between(13, 255))
		if mayBeIllegal || op >= opcodeBase {
			code = append(code, op)
		}
		return code
	}
}

func (r *Random) appendExtended(code []byte, mayBeIllegal bool) []byte {
	code = append(code, lnprog.OpExtended)
	if mayBeIllegal && r.between(0, 255) == 0 {
		code = r.appendLEB(code, int(r.between(1, 5)))
		sub := byte(r.between(3, 255))
		if sub == lnprog.ExtSetDiscriminator {
			sub = 0
		}
		return append(code, sub)
	}
	sub := byte(r.between(1, 3))
	if sub == 3 {
		sub = lnprog.ExtSetDiscriminator
	}
	lebSize := int(r.between(1, 5))
	switch sub {
	case lnprog.ExtEndSequence:
		code = append(code, 0x01, sub)
	case lnprog.ExtSetAddress:
		code = append(code, 0x05, sub)
		for i := 0; i < 4; i++ {
			code = append(code, byte(r.between(0, 255)))
		}
	default:
		// The length prefix is not checked by the state machine.
		code = append(code, byte(lebSize), sub)
		code = r.appendLEB(code, lebSize)
	}
	return code
}

// appendLEB appends a LEB128 operand of exactly groups random groups.
func (r *Random) appendLEB(code []byte, groups int) []byte {
	for i := 0; i < groups; i++ {
		b := byte(r.between(0, 127))
		if i+1 < groups {
			b |= 0x80
		}
		code = append(code, b)
	}
	return code
}

// seal appends end_sequence triples until the program no longer runs past
// the end of its code. A low opcode base turns standard opcodes into special
// ones, so their operand bytes decode as instructions that can consume the
// terminator.
func seal(p *lnprog.Program) (*lnprog.Program, error) {
	for attempt := 0; attempt <= maxSealAttempts; attempt++ {
		table, err := refsim.RunTable(p)
		if err != nil {
			return nil, err
		}
		if !table.Truncated {
			return p, nil
		}
		p.Code = append(p.Code, terminator...)
	}
	return nil, lnerr.New(lnerr.InternalError, -1, "generated program could not be sealed")
}
