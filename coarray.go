package bsprt

import (
	"context"
	"unsafe"

	"github.com/bspkit/bsprt/engine"
	"github.com/grailbio/base/errors"
)

// Coarray is the typed, one-image-per-process fixed-length array of
// spec.md §1. Each process owns a contiguous backing array of length
// elements of type T; remote peers address individual elements by
// index, the same way spec.md §8's worked example addresses
// `zs(next(s))[1]`.
type Coarray[T any] struct {
	w      *World
	id     engine.VarID
	values []T
}

// NewCoarray registers a new Coarray of the given length with World
// w. As with Variable, every peer must call NewCoarray the same
// number of times, in the same order, so ids line up across peers.
func NewCoarray[T any](w *World, length int) (*Coarray[T], error) {
	if length <= 0 {
		return nil, errors.E(errors.Fatal, "bsprt: coarray length must be positive")
	}
	c := &Coarray[T]{w: w, values: make([]T, length)}
	id, err := w.e.RegisterLocation(unsafe.Pointer(&c.values[0]), int(unsafe.Sizeof(c.values[0])))
	if err != nil {
		return nil, errors.E(err, "bsprt: new coarray")
	}
	c.id = id
	return c, nil
}

// Close unregisters the coarray.
func (c *Coarray[T]) Close() error {
	return c.w.e.UnregisterLocation(c.id)
}

// Len returns the coarray's fixed length.
func (c *Coarray[T]) Len() int { return len(c.values) }

// At returns the local value at index i.
func (c *Coarray[T]) At(i int) T { return c.values[i] }

// SetAt assigns the local value at index i directly; it takes effect
// immediately (spec.md §5).
func (c *Coarray[T]) SetAt(i int, val T) { c.values[i] = val }

func (c *Coarray[T]) elementSize() int { return int(unsafe.Sizeof(c.values[0])) }

// PutAt stages a write of val into index i of this coarray's image on
// peer dst, becoming visible on dst at the start of the next
// superstep.
func (c *Coarray[T]) PutAt(ctx context.Context, dst, i int, val T) error {
	if i < 0 || i >= len(c.values) {
		return errors.E(errors.Fatal, "bsprt: coarray put index out of range")
	}
	b := unsafe.Slice((*byte)(unsafe.Pointer(&val)), c.elementSize())
	return c.w.e.Put(ctx, dst, c.id, i, c.elementSize(), 1, b)
}

// FutureCoarrayElem holds the result of a GetAt, valid only after the
// matching Sync returns.
type FutureCoarrayElem[T any] struct {
	value T
}

// Value returns the delivered element.
func (f *FutureCoarrayElem[T]) Value() T { return f.value }

// GetAt stages a read of index i of this coarray's image on peer dst
// into a FutureCoarrayElem that becomes valid after the next Sync.
func (c *Coarray[T]) GetAt(ctx context.Context, dst, i int) (*FutureCoarrayElem[T], error) {
	if i < 0 || i >= len(c.values) {
		return nil, errors.E(errors.Fatal, "bsprt: coarray get index out of range")
	}
	f := new(FutureCoarrayElem[T])
	dest := unsafe.Slice((*byte)(unsafe.Pointer(&f.value)), c.elementSize())
	if err := c.w.e.Get(ctx, dst, c.id, i, c.elementSize(), 1, dest); err != nil {
		return nil, err
	}
	return f, nil
}
