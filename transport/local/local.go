// Package local provides an in-process Transport for a fixed group of
// goroutine peers. It is the BSP engine's test and single-binary
// harness, playing the role exec/local.go plays for bigslice: no
// network, no serialization beyond what the caller already did,
// purely in-memory hand-off guarded by condition variables.
//
// It is not the single-process shared-memory backend spec.md marks
// out of scope — that backend would let a "remote" put bypass the
// wire frame entirely. This transport still moves framed bytes
// between peers' inboxes; it merely runs all peers in one process.
package local

import (
	"context"

	"github.com/bspkit/bsprt/frame"
	"github.com/bspkit/bsprt/transport"
	"github.com/bspkit/bsprt/transport/collective"
	"github.com/grailbio/base/errors"
)

const numCategories = 4

// Group is the shared state of a set of local peers. Construct one
// Group with NewGroup and obtain each peer's Transport with Peer.
type Group struct {
	size    int
	inboxes [][numCategories]*collective.Inbox // inboxes[dst][cat]

	barrier *collective.Rendezvous
	// rs backs every ReduceScatterSum call from every peer. A single
	// shared, generation-counted instance is safe to reuse across the
	// engine's successive collective calls (put counts, then get
	// counts, then message counts, every superstep) because each
	// peer issues those calls in the same fixed order and each call
	// fully completes — both rendezvous points reached — before any
	// peer's call returns.
	rs *collective.ReduceScatter
}

// NewGroup creates a Group of size peers. size must be at least 1.
func NewGroup(size int) *Group {
	if size < 1 {
		panic("local: group size must be positive")
	}
	g := &Group{
		size:    size,
		inboxes: make([][numCategories]*collective.Inbox, size),
	}
	for d := range g.inboxes {
		for c := 0; c < numCategories; c++ {
			g.inboxes[d][c] = collective.NewInbox()
		}
	}
	g.barrier = collective.NewRendezvous(size)
	g.rs = collective.NewReduceScatter(size)
	return g
}

// Peer returns the Transport for peer rank, rank in [0, Size).
func (g *Group) Peer(rank int) transport.Transport {
	if rank < 0 || rank >= g.size {
		panic("local: rank out of range")
	}
	return &peer{g: g, rank: rank}
}

type peer struct {
	g    *Group
	rank int
}

func (p *peer) Rank() int { return p.rank }
func (p *peer) Size() int { return p.g.size }

func (p *peer) Send(ctx context.Context, dst int, cat frame.Category, b []byte) error {
	if dst < 0 || dst >= p.g.size {
		return errors.E(errors.Fatal, "local: send: destination out of range")
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	p.g.inboxes[dst][cat].Push(p.rank, cp)
	return nil
}

func (p *peer) Probe(ctx context.Context, cat frame.Category) (src, length int, err error) {
	return p.g.inboxes[p.rank][cat].Probe(ctx)
}

func (p *peer) Recv(ctx context.Context, src int, cat frame.Category, buf []byte) (int, error) {
	return p.g.inboxes[p.rank][cat].Recv(src, buf)
}

func (p *peer) Barrier(ctx context.Context) error {
	return p.g.barrier.Wait(ctx)
}

func (p *peer) ReduceScatterSum(ctx context.Context, contributions []int64) (int64, error) {
	if len(contributions) != p.g.size {
		return 0, errors.E(errors.Fatal, "local: reduce_scatter_sum: wrong contribution length")
	}
	return p.g.rs.Exchange(ctx, p.rank, contributions)
}
