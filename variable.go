package bsprt

import (
	"context"
	"unsafe"

	"github.com/bspkit/bsprt/engine"
	"github.com/grailbio/base/errors"
)

// Variable is the typed, one-image-per-process distributed variable
// of spec.md §1. Its value is ordinary Go memory owned by this
// process; reading and writing it locally is unrestricted outside of
// Sync (spec.md §5). T must be a trivially-copyable type: no
// pointers, interfaces, slices, maps, or channels, since its bytes
// are copied directly onto the wire.
type Variable[T any] struct {
	w     *World
	id    engine.VarID
	value T
}

// NewVariable registers a new Variable with World w. Every peer must
// call NewVariable the same number of times, in the same order, for
// the variable ids the engine assigns to line up across peers
// (spec.md §3 "Variable id" is per-process; this facade relies on
// symmetric registration order to make remote puts/gets addressable,
// the same assumption the source this module is modeled on makes).
func NewVariable[T any](w *World) (*Variable[T], error) {
	v := &Variable[T]{w: w}
	id, err := w.e.RegisterLocation(unsafe.Pointer(&v.value), int(unsafe.Sizeof(v.value)))
	if err != nil {
		return nil, errors.E(err, "bsprt: new variable")
	}
	v.id = id
	return v, nil
}

// Close unregisters the variable. Callers must have issued a Sync or
// Barrier since the last superstep that could have addressed it
// (spec.md §3 "Lifecycles").
func (v *Variable[T]) Close() error {
	return v.w.e.UnregisterLocation(v.id)
}

// Value returns the variable's current local value.
func (v *Variable[T]) Value() T { return v.value }

// Set assigns the variable's local value directly; it is ordinary
// local memory access and takes effect immediately (spec.md §5).
func (v *Variable[T]) Set(val T) { v.value = val }

// Put stages a write of val into the image of this variable on peer
// dst. The write becomes visible on dst at the start of the next
// superstep (or immediately, if dst is this peer and the World uses
// the self-addressed shortcut; spec.md §5).
func (v *Variable[T]) Put(ctx context.Context, dst int, val T) error {
	b := unsafe.Slice((*byte)(unsafe.Pointer(&val)), int(unsafe.Sizeof(val)))
	return v.w.e.Put(ctx, dst, v.id, 0, int(unsafe.Sizeof(val)), 1, b)
}

// FutureVariable holds the result of a Get issued against a Variable,
// valid only after the Sync that follows the Get returns (spec.md §8
// item 2).
type FutureVariable[T any] struct {
	value T
}

// Value returns the delivered value. For a get from another peer, or
// any get under the strict self mode, calling it before the matching
// Sync has completed returns the zero value of T; a self-addressed get
// under the shortcut has already filled it in when Get returns.
func (f *FutureVariable[T]) Value() T { return f.value }

// Get stages a read of the image of this variable on peer dst into a
// FutureVariable that becomes valid after the next Sync.
func (v *Variable[T]) Get(ctx context.Context, dst int) (*FutureVariable[T], error) {
	f := new(FutureVariable[T])
	dest := unsafe.Slice((*byte)(unsafe.Pointer(&f.value)), int(unsafe.Sizeof(f.value)))
	if err := v.w.e.Get(ctx, dst, v.id, 0, int(unsafe.Sizeof(f.value)), 1, dest); err != nil {
		return nil, err
	}
	return f, nil
}
