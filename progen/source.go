// Package progen produces the programs a campaign compares: a single
// replayed program, or a stream of random, structurally-aware programs.
package progen

import (
	"errors"

	"github.com/lattice-substrate/linediff/lnprog"
)

// ErrExhausted is returned by Next once a source has no programs left.
var ErrExhausted = errors.New("progen: source exhausted")

// Source yields programs in order. The two implementations are Replay and
// Random.
type Source interface {
	HasNext() bool
	Next() (*lnprog.Program, error)
	sealed()
}

// Replay yields one persisted program exactly once.
type Replay struct {
	prog *lnprog.Program
}

// NewReplay wraps an already decoded program.
func NewReplay(p *lnprog.Program) *Replay {
	return &Replay{prog: p}
}

// LoadReplay reads a persisted test file.
func LoadReplay(path string) (*Replay, error) {
	p, err := lnprog.Load(path)
	if err != nil {
		return nil, err
	}
	return NewReplay(p), nil
}

func (r *Replay) HasNext() bool { return r.prog != nil }

func (r *Replay) Next() (*lnprog.Program, error) {
	if r.prog == nil {
		return nil, ErrExhausted
	}
	p := r.prog
	r.prog = nil
	return p, nil
}

func (*Replay) sealed() {}
