// Package transport defines the abstract messaging substrate the
// superstep engine is built on (spec.md §4.1). The engine never
// depends on a concrete network; it only depends on this interface,
// so the same engine runs unmodified over the in-process transport in
// package transport/local (used by tests and single-binary examples)
// or the bigmachine-backed transport in package transport/machine.
package transport

import (
	"context"

	"github.com/bspkit/bsprt/frame"
)

// A Transport provides tagged point-to-point messaging and two
// collectives over a fixed group of Size peers. Implementations must
// deliver messages sent with the same (source, destination, category)
// in the order they were sent; no ordering is guaranteed across
// different categories or different source peers.
type Transport interface {
	// Rank returns this peer's identity in [0, Size).
	Rank() int
	// Size returns the fixed number of peers in the group.
	Size() int

	// Send transmits b to dst under category cat. It returns once the
	// message has been handed to the transport; it does not wait for
	// the peer to receive it.
	Send(ctx context.Context, dst int, cat frame.Category, b []byte) error

	// Probe blocks until a message of category cat is pending for this
	// peer and returns its source and length, without consuming it.
	Probe(ctx context.Context, cat frame.Category) (src, length int, err error)

	// Recv consumes the next pending message of category cat from src
	// (as returned by the immediately preceding Probe) into buf, which
	// must be at least as large as the length Probe reported. It
	// returns the number of bytes written.
	Recv(ctx context.Context, src int, cat frame.Category, buf []byte) (int, error)

	// Barrier blocks until every peer in the group has called Barrier.
	Barrier(ctx context.Context) error

	// ReduceScatterSum is a collective in which every peer contributes
	// a slice of length Size; the caller gets back the sum of the
	// contributions at index Rank() across all peers (spec.md §4.1).
	ReduceScatterSum(ctx context.Context, contributions []int64) (int64, error)
}
