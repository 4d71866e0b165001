// Package engine implements the superstep engine described in
// spec.md §4: the registration of local memory regions, the staging
// and transport of put/get/send operations, and the sync barrier
// that gives them BSP visibility. This package is the core the rest
// of the module is built around; the root package's World, Variable,
// Coarray and Queue types are thin facades over an *Engine.
package engine

import (
	"context"
	"fmt"
	"unsafe"

	"github.com/bspkit/bsprt/frame"
	"github.com/bspkit/bsprt/stats"
	"github.com/bspkit/bsprt/transport"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/grailbio/base/status"
)

// SelfMode controls how an Engine treats put/get operations whose
// destination is the issuing peer itself (spec.md §5 "Self-addressed
// operations", §9 open question). The source this module is modeled
// on hardcodes Shortcut; DESIGN.md records the decision to keep that
// as the default while exposing Strict as a construction option.
type SelfMode int

const (
	// Shortcut applies a self-addressed put/get immediately, outside
	// any barrier. This is not strict BSP: the effect is visible to
	// the issuing peer's own subsequent reads right away, not merely
	// at the start of the next superstep.
	Shortcut SelfMode = iota
	// Strict routes self-addressed operations through the same
	// staging/dispatch path as remote ones, via the local transport's
	// loopback, so they become visible only at the next superstep.
	Strict
)

// Engine implements spec.md's superstep engine for a single peer. It
// is not safe for concurrent use: its per-superstep counters are not
// synchronized, so Put, Get, Send and Sync must be called from one
// goroutine at a time, and Sync must not overlap with any other Engine
// method call (spec.md §5 "User code must not read or mutate a
// registered region while sync is in progress").
type Engine struct {
	t        transport.Transport
	registry *Registry
	pending  *PendingGets
	queues   *QueueRegistry
	counters *counters
	selfMode SelfMode

	stats  *stats.Counters
	status *status.Group

	nextHandleSalt uint64 // not read or written by any Engine method
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithSelfMode overrides the default self-addressed put/get behavior
// (spec.md §5, §9 open question).
func WithSelfMode(m SelfMode) Option {
	return func(e *Engine) { e.selfMode = m }
}

// WithStats attaches a stats.Counters that Sync and the staging
// operations update with running byte/operation counters (a
// module-native addition; SPEC_FULL.md `original_source/` grounding
// section, item 4).
func WithStats(c *stats.Counters) Option {
	return func(e *Engine) { e.stats = c }
}

// WithStatus attaches a status.Group that Sync reports superstep
// progress into, mirroring exec/bigmachine.go's use of status.Group
// to report long-running work.
func WithStatus(g *status.Group) Option {
	return func(e *Engine) { e.status = g }
}

// New returns an Engine bound to t. t's Size is fixed for the
// Engine's lifetime (spec.md §3 "Process group").
func New(t transport.Transport, opts ...Option) *Engine {
	e := &Engine{
		t:        t,
		registry: NewRegistry(),
		pending:  NewPendingGets(),
		queues:   NewQueueRegistry(),
		counters: newCounters(t.Size()),
		selfMode: Shortcut,
		stats:    stats.NewCounters(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ActiveProcessors returns the fixed group size P.
func (e *Engine) ActiveProcessors() int { return e.t.Size() }

// ProcessorID returns this peer's rank in [0, P).
func (e *Engine) ProcessorID() int { return e.t.Rank() }

// Barrier is the plain collective barrier exposed to the facade
// layer, independent of Sync's superstep semantics.
func (e *Engine) Barrier(ctx context.Context) error {
	return e.t.Barrier(ctx)
}

// Stats returns the engine's diagnostic counters (module-native
// addition, SPEC_FULL.md `original_source/` grounding section, item 4).
func (e *Engine) Stats() *stats.Counters { return e.stats }

// RegisterLocation registers a contiguous region of elementSize-byte
// elements starting at base, returning the VarID remote peers must
// use to address it (spec.md §4.2, §6 register_location).
func (e *Engine) RegisterLocation(base unsafe.Pointer, elementSize int) (VarID, error) {
	return e.registry.Register(base, elementSize)
}

// UnregisterLocation removes the mapping for id. Callers must have
// issued a Barrier since the region's last use by any peer (spec.md
// §3 "Lifecycles").
func (e *Engine) UnregisterLocation(id VarID) error {
	return e.registry.UnregisterID(id)
}

// Put stages a one-sided write of count elements of elementSize bytes
// each, read from src, into dst's image of the region registered
// under id at element offset off (spec.md §4.3 put). If dst is this
// peer and SelfMode is Shortcut, the write is applied immediately.
func (e *Engine) Put(ctx context.Context, dst int, id VarID, off, elementSize, count int, src []byte) error {
	need := elementSize * count
	if len(src) < need {
		return errors.E(errors.Fatal, fmt.Sprintf("engine: put: source has %d bytes, need %d", len(src), need))
	}
	if dst == e.t.Rank() && e.selfMode == Shortcut {
		base, localSize, err := e.registry.ResolveRemote(id)
		if err != nil {
			return err
		}
		must.True(localSize == elementSize, "engine: put: element size mismatch for self target")
		copyInto(base, int64(off*elementSize), src[:need])
		e.stats.PutLocal()
		return nil
	}
	f := frame.PutFrame{
		TargetVarID: int(id),
		ByteOffset:  int64(off) * int64(elementSize),
		Payload:     append([]byte(nil), src[:need]...),
	}
	b, err := frame.Encode(f)
	if err != nil {
		return err
	}
	if err := e.t.Send(ctx, dst, frame.Put, b); err != nil {
		return errors.E(errors.Net, err, "engine: put: send")
	}
	e.counters.put[dst]++
	e.stats.PutSent(int64(need))
	return nil
}

// Get stages a one-sided read of count elements from dst's image of
// the region registered under id at element offset off, into dest
// (spec.md §4.3 get). dest must remain valid until the next Sync
// completes. If dst is this peer and SelfMode is Shortcut, the read
// is applied immediately and dest is already valid on return.
func (e *Engine) Get(ctx context.Context, dst int, id VarID, off, elementSize, count int, dest []byte) error {
	need := elementSize * count
	if len(dest) < need {
		return errors.E(errors.Fatal, fmt.Sprintf("engine: get: destination has %d bytes, need %d", len(dest), need))
	}
	if dst == e.t.Rank() && e.selfMode == Shortcut {
		base, localSize, err := e.registry.ResolveRemote(id)
		if err != nil {
			return err
		}
		must.True(localSize == elementSize, "engine: get: element size mismatch for self target")
		copy(dest[:need], bytesAt(base, int64(off*elementSize), need))
		e.stats.GetLocal()
		return nil
	}
	handle := e.pending.Insert(unsafe.Pointer(&dest[0]), need)
	f := frame.GetFrame{
		TargetVarID: int(id),
		ByteOffset:  int64(off) * int64(elementSize),
		ElementSize: elementSize,
		Count:       count,
		Handle:      uint64(handle),
	}
	b, err := frame.Encode(f)
	if err != nil {
		return err
	}
	if err := e.t.Send(ctx, dst, frame.Get, b); err != nil {
		return errors.E(errors.Net, err, "engine: get: send")
	}
	e.counters.get[dst]++
	e.counters.localGets++
	e.stats.GetSent()
	return nil
}

// Send stages a message of tag and content bytes into the queue with
// the given id on peer dst (spec.md §4.3 send). Delivery semantics
// match Put: the message becomes readable on dst at the start of the
// next superstep.
func (e *Engine) Send(ctx context.Context, dst int, qid QueueID, tag, content []byte) error {
	if dst == e.t.Rank() {
		q, ok := e.queues.lookup(qid)
		if !ok {
			return errors.E(errors.Fatal, fmt.Sprintf("engine: send: unknown local queue %d", qid))
		}
		q.enqueue(Message{
			From:    e.t.Rank(),
			Tag:     append([]byte(nil), tag...),
			Content: append([]byte(nil), content...),
		})
		e.stats.MessageLocal()
		return nil
	}
	f := frame.MessageFrame{
		QueueID: int(qid),
		Tag:     append([]byte(nil), tag...),
		Content: append([]byte(nil), content...),
	}
	b, err := frame.Encode(f)
	if err != nil {
		return err
	}
	if err := e.t.Send(ctx, dst, frame.Message, b); err != nil {
		return errors.E(errors.Net, err, "engine: send: send")
	}
	e.counters.msg[dst]++
	e.stats.MessageSent()
	return nil
}

// CreateQueue collectively allocates a new queue for messages whose
// tag and content are tagSize and contentSize bytes respectively
// (spec.md §4.7; must be called on every peer, in the same order).
func (e *Engine) CreateQueue(ctx context.Context, tagSize, contentSize int) (*Queue, error) {
	return e.queues.createCollective(ctx, e.t, tagSize, contentSize)
}

// Sync executes the superstep barrier protocol of spec.md §4.5,
// steps 1-8, and resets counters and queue buffers for the next
// superstep.
func (e *Engine) Sync(ctx context.Context) error {
	p := e.t.Rank()

	// Step 1: entry barrier.
	if err := e.t.Barrier(ctx); err != nil {
		return errors.E(errors.Net, err, "engine: sync: entry barrier")
	}

	// Step 2: counter exchange.
	remotePuts, err := e.t.ReduceScatterSum(ctx, e.counters.put)
	if err != nil {
		return errors.E(errors.Net, err, "engine: sync: put count exchange")
	}
	remoteGets, err := e.t.ReduceScatterSum(ctx, e.counters.get)
	if err != nil {
		return errors.E(errors.Net, err, "engine: sync: get count exchange")
	}
	remoteMsgs, err := e.t.ReduceScatterSum(ctx, e.counters.msg)
	if err != nil {
		return errors.E(errors.Net, err, "engine: sync: message count exchange")
	}
	e.counters.remotePuts = remotePuts
	e.counters.remoteGets = remoteGets
	e.counters.remoteMsgs = remoteMsgs
	if e.status != nil {
		e.status.Printf("peer %d: draining %d puts, %d gets, %d messages", p, remotePuts, remoteGets, remoteMsgs)
	}

	// Step 3: drain puts.
	for e.counters.remotePuts > 0 {
		if err := e.drainOnePut(ctx); err != nil {
			return err
		}
		e.counters.remotePuts--
	}

	// Drain messages alongside puts/gets, per spec.md §4.7's
	// implementation choice ("on a dedicated count"); this engine
	// drains them in their own pass between puts and gets.
	for e.counters.remoteMsgs > 0 {
		if err := e.drainOneMessage(ctx); err != nil {
			return err
		}
		e.counters.remoteMsgs--
	}

	// Step 4: drain gets, responding to each.
	for e.counters.remoteGets > 0 {
		if err := e.drainOneGet(ctx); err != nil {
			return err
		}
		e.counters.remoteGets--
	}

	// Step 5: mid barrier.
	if err := e.t.Barrier(ctx); err != nil {
		return errors.E(errors.Net, err, "engine: sync: mid barrier")
	}

	// Step 6: drain get-responses.
	for e.counters.localGets > 0 {
		if err := e.drainOneGetResponse(ctx); err != nil {
			return err
		}
		e.counters.localGets--
	}
	if err := e.pending.checkEmpty(); err != nil {
		return err
	}

	// Step 7: reset and swap queue buffers.
	e.counters.reset()
	for _, q := range e.queues.all() {
		q.Swap()
	}
	e.stats.SuperstepCompleted()

	// Step 8: exit barrier.
	if err := e.t.Barrier(ctx); err != nil {
		return errors.E(errors.Net, err, "engine: sync: exit barrier")
	}
	return nil
}

func (e *Engine) drainOnePut(ctx context.Context) error {
	src, length, err := e.t.Probe(ctx, frame.Put)
	if err != nil {
		return errors.E(errors.Net, err, "engine: sync: probe put")
	}
	buf := make([]byte, length)
	if _, err := e.t.Recv(ctx, src, frame.Put, buf); err != nil {
		return errors.E(errors.Net, err, "engine: sync: recv put")
	}
	var f frame.PutFrame
	if err := frame.Decode(buf, &f); err != nil {
		return err
	}
	base, elementSize, err := e.registry.ResolveRemote(VarID(f.TargetVarID))
	if err != nil {
		return errors.E(errors.Fatal, err, fmt.Sprintf("engine: sync: put from peer %d named unknown var id %d", src, f.TargetVarID))
	}
	if len(f.Payload)%elementSize != 0 {
		return errors.E(errors.Integrity, fmt.Sprintf("engine: sync: put payload length %d not a multiple of element size %d", len(f.Payload), elementSize))
	}
	copyInto(base, f.ByteOffset, f.Payload)
	e.stats.PutReceived(int64(len(f.Payload)))
	return nil
}

func (e *Engine) drainOneGet(ctx context.Context) error {
	src, length, err := e.t.Probe(ctx, frame.Get)
	if err != nil {
		return errors.E(errors.Net, err, "engine: sync: probe get")
	}
	buf := make([]byte, length)
	if _, err := e.t.Recv(ctx, src, frame.Get, buf); err != nil {
		return errors.E(errors.Net, err, "engine: sync: recv get")
	}
	var f frame.GetFrame
	if err := frame.Decode(buf, &f); err != nil {
		return err
	}
	base, elementSize, err := e.registry.ResolveRemote(VarID(f.TargetVarID))
	if err != nil {
		return errors.E(errors.Fatal, err, fmt.Sprintf("engine: sync: get from peer %d named unknown var id %d", src, f.TargetVarID))
	}
	if elementSize != f.ElementSize {
		log.Error.Printf("engine: sync: get from peer %d disagrees on element size for var %d (got %d, registered %d)", src, f.TargetVarID, f.ElementSize, elementSize)
	}
	payload := copyFrom(base, f.ByteOffset, f.ElementSize*f.Count)
	resp := frame.GetResponseFrame{Handle: f.Handle, Payload: payload}
	b, err := frame.Encode(resp)
	if err != nil {
		return err
	}
	if err := e.t.Send(ctx, src, frame.GetResponse, b); err != nil {
		return errors.E(errors.Net, err, "engine: sync: send get response")
	}
	e.stats.GetReceived()
	return nil
}

func (e *Engine) drainOneGetResponse(ctx context.Context) error {
	src, length, err := e.t.Probe(ctx, frame.GetResponse)
	if err != nil {
		return errors.E(errors.Net, err, "engine: sync: probe get response")
	}
	buf := make([]byte, length)
	if _, err := e.t.Recv(ctx, src, frame.GetResponse, buf); err != nil {
		return errors.E(errors.Net, err, "engine: sync: recv get response")
	}
	var f frame.GetResponseFrame
	if err := frame.Decode(buf, &f); err != nil {
		return err
	}
	dest, expected, ok := e.pending.Resolve(Handle(f.Handle))
	if !ok {
		return errors.E(errors.Fatal, fmt.Sprintf("engine: sync: get response from peer %d named unknown handle %d", src, f.Handle))
	}
	if len(f.Payload) != expected {
		return errors.E(errors.Integrity, fmt.Sprintf("engine: sync: get response for handle %d has %d bytes, expected %d", f.Handle, len(f.Payload), expected))
	}
	copyInto(dest, 0, f.Payload)
	return nil
}

func (e *Engine) drainOneMessage(ctx context.Context) error {
	src, length, err := e.t.Probe(ctx, frame.Message)
	if err != nil {
		return errors.E(errors.Net, err, "engine: sync: probe message")
	}
	buf := make([]byte, length)
	if _, err := e.t.Recv(ctx, src, frame.Message, buf); err != nil {
		return errors.E(errors.Net, err, "engine: sync: recv message")
	}
	var f frame.MessageFrame
	if err := frame.Decode(buf, &f); err != nil {
		return err
	}
	q, ok := e.queues.lookup(QueueID(f.QueueID))
	if !ok {
		return errors.E(errors.Fatal, fmt.Sprintf("engine: sync: message from peer %d named unknown queue %d", src, f.QueueID))
	}
	q.enqueue(Message{From: src, Tag: f.Tag, Content: f.Content})
	e.stats.MessageReceived()
	return nil
}
