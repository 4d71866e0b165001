package engine

import (
	"context"
	"sync"

	"github.com/bspkit/bsprt/transport"
	"github.com/grailbio/base/errors"
)

// QueueID is a process-wide id agreed by every peer at queue creation
// time (spec.md §4.7). Queues must be constructed collectively, in
// the same order, on every peer.
type QueueID int

// Message is a single point-to-point send into a queue, carrying the
// raw bytes of its tag and content (spec.md §3 "Message frame"), and
// the rank of the peer that sent it.
type Message struct {
	From    int
	Tag     []byte
	Content []byte
}

// Queue is a per-process typed mailbox. Messages sent into a queue
// during superstep n are appended to pending and become the readable
// current batch only once Swap is called at the end of n (spec.md
// §4.7, "double-buffered at reset").
type Queue struct {
	ID                     QueueID
	TagSize, ContentSize   int

	mu      sync.Mutex
	current []Message
	pending []Message
}

func (q *Queue) enqueue(msg Message) {
	q.mu.Lock()
	q.pending = append(q.pending, msg)
	q.mu.Unlock()
}

// Swap promotes this superstep's pending messages to the readable
// batch for the next superstep and clears pending, implementing
// spec.md §4.7's double-buffering.
func (q *Queue) Swap() {
	q.mu.Lock()
	q.current = q.pending
	q.pending = nil
	q.mu.Unlock()
}

// Drain returns (and clears) the messages currently readable.
// Repeated calls within the same superstep after the first return
// nothing, matching typical single-consumer queue facades; callers
// that need to read without consuming should copy the slice before
// using it elsewhere.
func (q *Queue) Drain() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	msgs := q.current
	q.current = nil
	return msgs
}

// QueueRegistry holds every queue created by this process, keyed by
// the QueueID agreed at creation.
type QueueRegistry struct {
	mu     sync.Mutex
	nextID QueueID
	byID   map[QueueID]*Queue
}

// NewQueueRegistry returns an empty QueueRegistry.
func NewQueueRegistry() *QueueRegistry {
	return &QueueRegistry{byID: make(map[QueueID]*Queue)}
}

// create allocates a Queue with the next locally-available id. It
// does not by itself verify cross-peer agreement; callers needing
// that must use Engine.CreateQueue, which performs the collective
// check described in spec.md §9.
func (qr *QueueRegistry) create(tagSize, contentSize int) *Queue {
	qr.mu.Lock()
	defer qr.mu.Unlock()
	q := &Queue{ID: qr.nextID, TagSize: tagSize, ContentSize: contentSize}
	qr.byID[qr.nextID] = q
	qr.nextID++
	return q
}

func (qr *QueueRegistry) lookup(id QueueID) (*Queue, bool) {
	qr.mu.Lock()
	defer qr.mu.Unlock()
	q, ok := qr.byID[id]
	return q, ok
}

func (qr *QueueRegistry) all() []*Queue {
	qr.mu.Lock()
	defer qr.mu.Unlock()
	qs := make([]*Queue, 0, len(qr.byID))
	for _, q := range qr.byID {
		qs = append(qs, q)
	}
	return qs
}

// createCollective allocates a queue and verifies, via a
// reduce_scatter_sum round over the group, that every peer computed
// the same id for it. spec.md §9 leaves asymmetric queue construction
// as an open question with no detection; this implementation resolves
// it by failing the run rather than assuming symmetry (see DESIGN.md).
//
// The check is a sum, not an exact broadcast compare, so it is a
// best-effort detector: it is certain to catch any single peer
// disagreeing, but a contrived combination of disagreeing ids could
// in principle sum to the same value as universal agreement. That
// tradeoff is accepted in exchange for not introducing a dedicated
// broadcast primitive into the Transport interface.
func (qr *QueueRegistry) createCollective(ctx context.Context, t transport.Transport, tagSize, contentSize int) (*Queue, error) {
	q := qr.create(tagSize, contentSize)
	p := t.Size()
	contrib := make([]int64, p)
	for i := range contrib {
		contrib[i] = int64(q.ID)
	}
	sum, err := t.ReduceScatterSum(ctx, contrib)
	if err != nil {
		return nil, err
	}
	if sum != int64(q.ID)*int64(p) {
		return nil, errors.E(errors.Fatal, "engine: queues were constructed in different orders across peers")
	}
	return q, nil
}
