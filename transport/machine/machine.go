// Package machine implements the spec's abstract Transport
// (spec.md §4.1) on top of github.com/grailbio/bigmachine, the
// teacher's own mechanism for distributing work across real
// machines. Each BSP peer is a bigmachine worker running a "Peer"
// RPC service; sends are relayed by dialing the destination peer's
// machine directly (the same w.b.Dial pattern exec/bigmachine.go
// uses to read a dependency task's output from its owning machine),
// and the two collectives are brokered by the peer elected rank 0,
// reached by the others over RPC, using the same primitives
// transport/local runs in-process (package transport/collective).
package machine

import (
	"context"
	"encoding/gob"
	"fmt"

	"github.com/bspkit/bsprt"
	"github.com/bspkit/bsprt/frame"
	"github.com/bspkit/bsprt/transport"
	"github.com/bspkit/bsprt/transport/collective"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigmachine"
	"golang.org/x/sync/errgroup"
)

func init() {
	gob.Register(&Peer{})
}

const numCategories = 4

// bootstrapRequest assigns a peer its rank and the full set of peer
// addresses, once every machine in the group has reached
// bigmachine.Running.
type bootstrapRequest struct {
	Rank  int
	Addrs []string
}

// deliverRequest is the RPC body of a Send: a framed payload moving
// from Src to this peer under Cat.
type deliverRequest struct {
	Src int
	Cat frame.Category
	Payload []byte
}

// Peer is the RPC service every machine in a bsprt machine group
// runs, named "Peer" (the same way exec/bigmachine.go names its
// service "Worker"). It is both the target of other peers' Deliver
// calls and, once bootstrapped, a transport.Transport itself for
// whatever program the driver asked it to run.
type Peer struct {
	// Exported satisfies gob's requirement that a registered type have
	// at least one exported field, matching exec/bigmachine.go's
	// worker.Exported.
	Exported struct{}

	b *bigmachine.B

	rank  int
	addrs []string

	inboxes [numCategories]*collective.Inbox

	// barrierCoord and rsCoord are non-nil only on the peer elected
	// rank 0, which brokers both collectives for the whole group.
	barrierCoord *collective.Rendezvous
	rsCoord      *collective.ReduceScatter
}

// Init is called by bigmachine when the service is installed on a
// machine, mirroring worker.Init in exec/bigmachine.go. It retains b
// so the peer can later Dial other peers' machines directly.
func (p *Peer) Init(b *bigmachine.B) error {
	p.b = b
	for c := range p.inboxes {
		p.inboxes[c] = collective.NewInbox()
	}
	return nil
}

// Bootstrap assigns this peer its rank and the full peer address
// list, and, if it is rank 0, sets up the collective coordinators the
// rest of the group will reach over RPC.
func (p *Peer) Bootstrap(ctx context.Context, req bootstrapRequest, _ *struct{}) error {
	p.rank = req.Rank
	p.addrs = req.Addrs
	if p.rank == 0 {
		p.barrierCoord = collective.NewRendezvous(len(req.Addrs))
		p.rsCoord = collective.NewReduceScatter(len(req.Addrs))
	}
	return nil
}

// Deliver appends a framed payload sent from Src into this peer's
// inbox for Cat, completing the data-plane side of Send.
func (p *Peer) Deliver(ctx context.Context, req deliverRequest, _ *struct{}) error {
	if int(req.Cat) >= numCategories {
		return errors.E(errors.Fatal, fmt.Sprintf("machine: deliver: unknown category %d", req.Cat))
	}
	p.inboxes[req.Cat].Push(req.Src, req.Payload)
	return nil
}

// Arrive is called by every peer other than rank 0 to participate in
// a plain barrier brokered by rank 0.
func (p *Peer) Arrive(ctx context.Context, _ struct{}, _ *struct{}) error {
	if p.barrierCoord == nil {
		return errors.E(errors.Fatal, "machine: arrive: called on a non-coordinator peer")
	}
	return p.barrierCoord.Wait(ctx)
}

// contributeRequest carries one peer's contribution to a
// reduce-scatter-sum, brokered by rank 0.
type contributeRequest struct {
	Rank          int
	Contributions []int64
}

// Contribute is called by every peer other than rank 0 to participate
// in a reduce-scatter-sum brokered by rank 0, and returns this peer's
// resulting sum.
func (p *Peer) Contribute(ctx context.Context, req contributeRequest, sum *int64) error {
	if p.rsCoord == nil {
		return errors.E(errors.Fatal, "machine: contribute: called on a non-coordinator peer")
	}
	s, err := p.rsCoord.Exchange(ctx, req.Rank, req.Contributions)
	if err != nil {
		return err
	}
	*sum = s
	return nil
}

// dial returns a handle to peer dst's machine, usable for RetryCall,
// the same way exec/bigmachine.go dials a dependency task's owning
// machine to read its output.
func (p *Peer) dial(ctx context.Context, dst int) (*bigmachine.Machine, error) {
	if dst < 0 || dst >= len(p.addrs) {
		return nil, errors.E(errors.Fatal, fmt.Sprintf("machine: dial: peer %d out of range", dst))
	}
	return p.b.Dial(ctx, p.addrs[dst])
}

// Rank returns this peer's identity in [0, Size).
func (p *Peer) Rank() int { return p.rank }

// Size returns the fixed number of peers in the group.
func (p *Peer) Size() int { return len(p.addrs) }

// Send relays b to dst's Peer.Deliver. dst == Rank() is handled the
// same as any other destination: the call loops back through this
// peer's own machine, preserving the FIFO-per-(src,dst,cat) contract
// the abstract Transport promises.
func (p *Peer) Send(ctx context.Context, dst int, cat frame.Category, b []byte) error {
	m, err := p.dial(ctx, dst)
	if err != nil {
		return errors.E(errors.Net, err, "machine: send: dial")
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	if err := m.RetryCall(ctx, "Peer.Deliver", deliverRequest{Src: p.rank, Cat: cat, Payload: cp}, nil); err != nil {
		return errors.E(errors.Net, err, "machine: send: deliver")
	}
	return nil
}

// Probe blocks until a message of category cat is pending for this
// peer and returns its source and length.
func (p *Peer) Probe(ctx context.Context, cat frame.Category) (src, length int, err error) {
	return p.inboxes[cat].Probe(ctx)
}

// Recv consumes the next pending message of category cat from src.
func (p *Peer) Recv(ctx context.Context, src int, cat frame.Category, buf []byte) (int, error) {
	return p.inboxes[cat].Recv(src, buf)
}

// Barrier blocks until every peer in the group has called Barrier.
// Rank 0 waits on its own coordinator directly; every other peer
// reaches it over RPC via Peer.Arrive.
func (p *Peer) Barrier(ctx context.Context) error {
	if p.rank == 0 {
		return p.barrierCoord.Wait(ctx)
	}
	m, err := p.dial(ctx, 0)
	if err != nil {
		return errors.E(errors.Net, err, "machine: barrier: dial coordinator")
	}
	if err := m.RetryCall(ctx, "Peer.Arrive", struct{}{}, nil); err != nil {
		return errors.E(errors.Net, err, "machine: barrier: arrive")
	}
	return nil
}

// ReduceScatterSum is brokered the same way as Barrier: rank 0
// computes directly, everyone else calls Peer.Contribute on it.
func (p *Peer) ReduceScatterSum(ctx context.Context, contributions []int64) (int64, error) {
	if len(contributions) != p.Size() {
		return 0, errors.E(errors.Fatal, "machine: reduce_scatter_sum: wrong contribution length")
	}
	if p.rank == 0 {
		return p.rsCoord.Exchange(ctx, p.rank, contributions)
	}
	m, err := p.dial(ctx, 0)
	if err != nil {
		return 0, errors.E(errors.Net, err, "machine: reduce_scatter_sum: dial coordinator")
	}
	var sum int64
	if err := m.RetryCall(ctx, "Peer.Contribute", contributeRequest{Rank: p.rank, Contributions: contributions}, &sum); err != nil {
		return 0, errors.E(errors.Net, err, "machine: reduce_scatter_sum: contribute")
	}
	return sum, nil
}

// runRequest asks a bootstrapped peer to run the program registered
// at Index (see bsprt.RegisterProgram) to completion.
type runRequest struct {
	Index int
}

// Run executes the program registered at req.Index against a World
// built on this peer, blocking until the program returns.
func (p *Peer) Run(ctx context.Context, req runRequest, _ *struct{}) error {
	w := bsprt.NewWorld(p)
	return bsprt.RunProgramByIndex(ctx, req.Index, w)
}

var _ transport.Transport = (*Peer)(nil)

// Group is the driver-side handle to a running machine group: one
// bigmachine.Machine per peer, each running a bootstrapped Peer
// service (spec.md §3 "Process group").
type Group struct {
	b        *bigmachine.B
	machines []*bigmachine.Machine
}

// Start launches n machines under system, installs the Peer service
// on each, waits for them to reach bigmachine.Running, and bootstraps
// every peer with its rank and the full address list (spec.md §6,
// "the enclosing program initializes the Transport").
func Start(ctx context.Context, system bigmachine.System, n int, params ...bigmachine.Param) (*Group, error) {
	b := bigmachine.Start(system)
	params = append([]bigmachine.Param{bigmachine.Services{"Peer": &Peer{}}}, params...)
	machines, err := b.Start(ctx, n, params...)
	if err != nil {
		return nil, errors.E(errors.Net, err, "machine: start")
	}
	for _, m := range machines {
		<-m.Wait(bigmachine.Running)
		if err := m.Err(); err != nil {
			return nil, errors.E(errors.Net, err, fmt.Sprintf("machine: machine %s failed to start", m.Addr))
		}
	}
	addrs := make([]string, len(machines))
	for i, m := range machines {
		addrs[i] = m.Addr
	}
	for i, m := range machines {
		if err := m.RetryCall(ctx, "Peer.Bootstrap", bootstrapRequest{Rank: i, Addrs: addrs}, nil); err != nil {
			return nil, errors.E(errors.Net, err, "machine: bootstrap")
		}
	}
	log.Printf("machine: started %d peers", len(machines))
	return &Group{b: b, machines: machines}, nil
}

// Run dispatches program to every peer in the group and waits for all
// of them to finish, mirroring the fan-out errgroup pattern
// exec/bigmachine.go uses for parallel RPCs to dependency machines.
func (g *Group) Run(ctx context.Context, program *bsprt.Program) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, m := range g.machines {
		m := m
		eg.Go(func() error {
			return m.RetryCall(ctx, "Peer.Run", runRequest{Index: program.Index()}, nil)
		})
	}
	return eg.Wait()
}

// Size returns the fixed number of peers in the group.
func (g *Group) Size() int { return len(g.machines) }

// Shutdown tears down every machine in the group.
func (g *Group) Shutdown() { g.b.Shutdown() }
