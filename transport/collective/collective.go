// Package collective provides the synchronization primitives shared
// by every Transport implementation: a per-category FIFO inbox, a
// cyclic barrier, and a reusable reduce-scatter-sum, all context-aware
// so a blocked peer can be released by arriving data or by context
// cancellation. transport/local uses these directly, in-process;
// transport/machine uses them on the single peer elected coordinator
// for each collective (rank 0), reached by the others over RPC.
package collective

import (
	"context"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/sync/ctxsync"
)

// Inbox holds, for a single (destination, category) pair, the
// pending messages from every source peer. Within a source, messages
// are delivered FIFO; across sources no order is defined (spec.md
// §4.1).
type Inbox struct {
	mu    sync.Mutex
	cond  *ctxsync.Cond
	bySrc map[int][][]byte
	order []int
}

// NewInbox returns an empty Inbox.
func NewInbox() *Inbox {
	ib := &Inbox{bySrc: make(map[int][][]byte)}
	ib.cond = ctxsync.NewCond(&ib.mu)
	return ib
}

// Push enqueues b, received from src, making it visible to a
// subsequent Probe/Recv pair.
func (ib *Inbox) Push(src int, b []byte) {
	ib.mu.Lock()
	ib.bySrc[src] = append(ib.bySrc[src], b)
	ib.order = append(ib.order, src)
	ib.cond.Broadcast()
	ib.mu.Unlock()
}

// Probe blocks until a message is pending and returns its source and
// length, without consuming it.
func (ib *Inbox) Probe(ctx context.Context) (src, length int, err error) {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	for len(ib.order) == 0 {
		if err := ib.cond.Wait(ctx); err != nil {
			return 0, 0, err
		}
	}
	src = ib.order[0]
	length = len(ib.bySrc[src][0])
	return src, length, nil
}

// Recv consumes the next pending message from src, which must be the
// source most recently returned by Probe, into buf.
func (ib *Inbox) Recv(src int, buf []byte) (int, error) {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	if len(ib.order) == 0 || ib.order[0] != src {
		return 0, errors.E(errors.Fatal, "collective: recv: no probed message pending from given src")
	}
	msgs := ib.bySrc[src]
	msg := msgs[0]
	if len(buf) < len(msg) {
		return 0, errors.E(errors.Fatal, "collective: recv: destination buffer too small")
	}
	n := copy(buf, msg)
	ib.bySrc[src] = msgs[1:]
	ib.order = ib.order[1:]
	return n, nil
}

// Rendezvous is a cyclic barrier for a fixed number of participants,
// implemented with a generation counter so it can be reused across
// every superstep without explicit reset.
type Rendezvous struct {
	mu      sync.Mutex
	cond    *ctxsync.Cond
	n       int
	arrived int
	gen     int
}

// NewRendezvous returns a barrier for n participants.
func NewRendezvous(n int) *Rendezvous {
	r := &Rendezvous{n: n}
	r.cond = ctxsync.NewCond(&r.mu)
	return r
}

// Wait blocks until all n participants have called Wait for the
// current generation.
func (r *Rendezvous) Wait(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	gen := r.gen
	r.arrived++
	if r.arrived == r.n {
		r.arrived = 0
		r.gen++
		r.cond.Broadcast()
		return nil
	}
	for r.gen == gen {
		if err := r.cond.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// ReduceScatter is a reusable reduce-scatter-sum collective for a
// fixed number of participants. Each generation has two rendezvous
// points: one so every contribution is visible before any sum is
// computed, and one so the matrix is not reused for the next
// generation until every participant has read its sum.
type ReduceScatter struct {
	mu       sync.Mutex
	cond     *ctxsync.Cond
	n        int
	gen      int
	arrived  int
	departed int
	ready    bool
	matrix   [][]int64
}

// NewReduceScatter returns a reduce-scatter-sum collective for n
// participants.
func NewReduceScatter(n int) *ReduceScatter {
	rs := &ReduceScatter{n: n, matrix: make([][]int64, n)}
	rs.cond = ctxsync.NewCond(&rs.mu)
	return rs
}

// Exchange contributes contributions (one value per participant,
// indexed by destination) under the given rank, and returns the sum
// of every participant's contribution at index rank.
func (rs *ReduceScatter) Exchange(ctx context.Context, rank int, contributions []int64) (int64, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	gen := rs.gen
	cp := make([]int64, len(contributions))
	copy(cp, contributions)
	rs.matrix[rank] = cp
	rs.arrived++
	if rs.arrived == rs.n {
		rs.ready = true
		rs.cond.Broadcast()
	} else {
		for rs.gen == gen && !rs.ready {
			if err := rs.cond.Wait(ctx); err != nil {
				return 0, err
			}
		}
	}

	var sum int64
	for p := 0; p < rs.n; p++ {
		sum += rs.matrix[p][rank]
	}

	rs.departed++
	if rs.departed == rs.n {
		rs.arrived = 0
		rs.departed = 0
		rs.ready = false
		rs.matrix = make([][]int64, rs.n)
		rs.gen++
		rs.cond.Broadcast()
	} else {
		for rs.gen == gen {
			if err := rs.cond.Wait(ctx); err != nil {
				return 0, err
			}
		}
	}
	return sum, nil
}
