package bsprt

import (
	"context"

	"github.com/grailbio/base/errors"
)

// ProgramFunc is a BSP program's entry point: it receives the World
// for this peer and runs however many supersteps it needs, returning
// once its work is done. Every peer in the group runs the same
// ProgramFunc, parameterized only by w.ProcessorID().
type ProgramFunc func(ctx context.Context, w *World) error

// Program is a registered ProgramFunc, addressable across a
// machine-distributed run by a deterministic index rather than by
// value (funcs are not otherwise something bigmachine's RPC layer can
// carry). This mirrors bigslice.Func's FuncValue/Funcs registry
// (func.go), which relies on the same binary registering funcs in the
// same order on every machine.
type Program struct {
	fn    ProgramFunc
	index int
}

var programs []*Program

// RegisterProgram registers fn as a runnable BSP program and returns
// a handle addressable by transport/machine's driver. Like
// bigslice.Func, RegisterProgram must be called from package
// initialization (e.g. a package-level var) so every copy of the
// binary — driver and workers alike — registers programs in the same
// order.
func RegisterProgram(fn ProgramFunc) *Program {
	p := &Program{fn: fn, index: len(programs)}
	programs = append(programs, p)
	return p
}

// Index identifies p across a machine-distributed run.
func (p *Program) Index() int { return p.index }

// RunProgramByIndex looks up a program registered with
// RegisterProgram and runs it against w. It is called from
// transport/machine's Peer RPC handler once a peer has been
// bootstrapped with a Transport; direct callers should prefer
// RegisterProgram plus transport/machine.Group.Run.
func RunProgramByIndex(ctx context.Context, index int, w *World) error {
	if index < 0 || index >= len(programs) {
		return errors.E(errors.Fatal, "bsprt: run program: index out of range; did every process register the same programs in the same order?")
	}
	return programs[index].fn(ctx, w)
}
