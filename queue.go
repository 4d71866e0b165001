package bsprt

import (
	"context"
	"unsafe"

	"github.com/bspkit/bsprt/engine"
)

// QueueMessage is a single delivered message from a typed Queue,
// carrying the sender's rank alongside its tag and content (spec.md
// §8's worked examples tag every delivered message with the sender's
// pid).
type QueueMessage[Tag, Content any] struct {
	From    int
	Tag     Tag
	Content Content
}

// Queue is the typed, point-to-point mailbox of spec.md §1. Messages
// sent into a queue during superstep n become readable at the start
// of n+1 (spec.md §4.7).
type Queue[Tag, Content any] struct {
	w *World
	q *engine.Queue
}

// NewQueue collectively creates a new queue for (Tag, Content)
// messages. It must be called on every peer, in the same order
// relative to other NewQueue calls, since queue ids are agreed
// collectively (spec.md §4.7, §9). A disagreement is detected and
// reported as a fatal error rather than silently assumed away
// (SPEC_FULL.md `original_source/` grounding section, item 3).
func NewQueue[Tag, Content any](ctx context.Context, w *World) (*Queue[Tag, Content], error) {
	var tag Tag
	var content Content
	q, err := w.e.CreateQueue(ctx, int(unsafe.Sizeof(tag)), int(unsafe.Sizeof(content)))
	if err != nil {
		return nil, err
	}
	return &Queue[Tag, Content]{w: w, q: q}, nil
}

// Send stages a message of tag and content to peer dst's copy of
// this queue. It becomes readable by dst via Drain at the start of
// the next superstep.
func (q *Queue[Tag, Content]) Send(ctx context.Context, dst int, tag Tag, content Content) error {
	tb := unsafe.Slice((*byte)(unsafe.Pointer(&tag)), int(unsafe.Sizeof(tag)))
	cb := unsafe.Slice((*byte)(unsafe.Pointer(&content)), int(unsafe.Sizeof(content)))
	return q.w.e.Send(ctx, dst, q.q.ID, tb, cb)
}

// Drain returns every message delivered to this queue since the last
// Sync, in the order each sender issued them, and clears the readable
// batch (spec.md §4.7, §8 item 5 "Multiplicity").
func (q *Queue[Tag, Content]) Drain() []QueueMessage[Tag, Content] {
	msgs := q.q.Drain()
	out := make([]QueueMessage[Tag, Content], len(msgs))
	for i, m := range msgs {
		out[i] = QueueMessage[Tag, Content]{
			From:    m.From,
			Tag:     *(*Tag)(unsafe.Pointer(&m.Tag[0])),
			Content: *(*Content)(unsafe.Pointer(&m.Content[0])),
		}
	}
	return out
}
