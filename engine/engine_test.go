package engine

import (
	"context"
	"testing"
	"unsafe"

	"github.com/bspkit/bsprt/transport/local"
	"golang.org/x/sync/errgroup"
)

// runOnEachPeer starts one Engine per peer of a local.Group and runs
// fn concurrently on all of them, matching the driver-fan-out
// pattern transport/local's own tests use for collectives.
func runOnEachPeer(t *testing.T, p int, fn func(t *testing.T, e *Engine) error) {
	t.Helper()
	g := local.NewGroup(p)
	var eg errgroup.Group
	for i := 0; i < p; i++ {
		i := i
		eg.Go(func() error {
			e := New(g.Peer(i))
			return fn(t, e)
		})
	}
	if err := eg.Wait(); err != nil {
		t.Fatal(err)
	}
}

// TestRingPut exercises spec.md §8's "Ring put" scenario: each peer s
// puts s into a at next(s); after sync, a equals (s+P-1) mod P.
func TestRingPut(t *testing.T) {
	const p = 4
	runOnEachPeer(t, p, func(t *testing.T, e *Engine) error {
		ctx := context.Background()
		s := e.ProcessorID()
		var a int32
		id, err := e.RegisterLocation(unsafe.Pointer(&a), 4)
		if err != nil {
			return err
		}
		next := (s + 1) % p
		val := int32(s)
		src := unsafe.Slice((*byte)(unsafe.Pointer(&val)), 4)
		if err := e.Put(ctx, next, id, 0, 4, 1, src); err != nil {
			return err
		}
		if err := e.Sync(ctx); err != nil {
			return err
		}
		want := int32((s + p - 1) % p)
		if a != want {
			t.Errorf("peer %d: a = %d, want %d", s, a, want)
		}
		return nil
	})
}

// TestSelfGetConsistency exercises spec.md §8's "Self get" scenario,
// the get half of property 3.
func TestSelfGetConsistency(t *testing.T) {
	const p = 3
	runOnEachPeer(t, p, func(t *testing.T, e *Engine) error {
		ctx := context.Background()
		s := e.ProcessorID()
		var a int64 = int64(s)
		id, err := e.RegisterLocation(unsafe.Pointer(&a), 8)
		if err != nil {
			return err
		}
		var b int64
		dest := unsafe.Slice((*byte)(unsafe.Pointer(&b)), 8)
		if err := e.Get(ctx, s, id, 0, 8, 1, dest); err != nil {
			return err
		}
		if err := e.Sync(ctx); err != nil {
			return err
		}
		if b != int64(s) {
			t.Errorf("peer %d: b = %d, want %d", s, b, s)
		}
		return nil
	})
}

// TestMultiPutArray exercises spec.md §8's "Multi-put array" scenario
// and property 5 (multiplicity, in sender-issue order).
func TestMultiPutArray(t *testing.T) {
	const p = 4
	const n = 5
	runOnEachPeer(t, p, func(t *testing.T, e *Engine) error {
		ctx := context.Background()
		s := e.ProcessorID()
		xs := make([]int32, n)
		id, err := e.RegisterLocation(unsafe.Pointer(&xs[0]), 4)
		if err != nil {
			return err
		}
		next := (s + 1) % p
		for i := 0; i < n; i++ {
			val := int32(s + i)
			src := unsafe.Slice((*byte)(unsafe.Pointer(&val)), 4)
			if err := e.Put(ctx, next, id, i, 4, 1, src); err != nil {
				return err
			}
		}
		if err := e.Sync(ctx); err != nil {
			return err
		}
		prev := (s + p - 1) % p
		for i := 0; i < n; i++ {
			want := int32(prev + i)
			if xs[i] != want {
				t.Errorf("peer %d: xs[%d] = %d, want %d", s, i, xs[i], want)
			}
		}
		return nil
	})
}

// TestQueueSingleMessage exercises spec.md §8's "Single message"
// scenario.
func TestQueueSingleMessage(t *testing.T) {
	const p = 4
	runOnEachPeer(t, p, func(t *testing.T, e *Engine) error {
		ctx := context.Background()
		s := e.ProcessorID()
		q, err := e.CreateQueue(ctx, 4, 4)
		if err != nil {
			return err
		}
		next := (s + 1) % p
		tag := int32(123)
		content := int32(1337)
		tb := unsafe.Slice((*byte)(unsafe.Pointer(&tag)), 4)
		cb := unsafe.Slice((*byte)(unsafe.Pointer(&content)), 4)
		if err := e.Send(ctx, next, q.ID, tb, cb); err != nil {
			return err
		}
		if err := e.Sync(ctx); err != nil {
			return err
		}
		msgs := q.Drain()
		if len(msgs) != 1 {
			t.Fatalf("peer %d: got %d messages, want 1", s, len(msgs))
		}
		gotTag := *(*int32)(unsafe.Pointer(&msgs[0].Tag[0]))
		gotContent := *(*int32)(unsafe.Pointer(&msgs[0].Content[0]))
		if gotTag != 123 || gotContent != 1337 {
			t.Errorf("peer %d: got tag=%d content=%d, want 123,1337", s, gotTag, gotContent)
		}
		return nil
	})
}

// TestCounterResetIsIdempotent exercises spec.md §8 property 8: after
// Sync, internal counters are zero, and a Sync with no intervening
// operations is a no-op.
func TestCounterResetIsIdempotent(t *testing.T) {
	const p = 2
	runOnEachPeer(t, p, func(t *testing.T, e *Engine) error {
		ctx := context.Background()
		if err := e.Sync(ctx); err != nil {
			return err
		}
		if !e.counters.isZero() {
			t.Error("counters not zero after sync with no operations")
		}
		if err := e.Sync(ctx); err != nil {
			return err
		}
		if !e.counters.isZero() {
			t.Error("counters not zero after second no-op sync")
		}
		return nil
	})
}

// TestHeterogeneousPutThenGet exercises spec.md §8's "Heterogeneity"
// scenario: peer 0 puts to all others, then gets from all others, two
// syncs apart.
func TestHeterogeneousPutThenGet(t *testing.T) {
	const p = 4
	runOnEachPeer(t, p, func(t *testing.T, e *Engine) error {
		ctx := context.Background()
		s := e.ProcessorID()
		var a int32 = int32(s)
		id, err := e.RegisterLocation(unsafe.Pointer(&a), 4)
		if err != nil {
			return err
		}
		if s == 0 {
			for dst := 1; dst < p; dst++ {
				val := int32(100 + dst)
				src := unsafe.Slice((*byte)(unsafe.Pointer(&val)), 4)
				if err := e.Put(ctx, dst, id, 0, 4, 1, src); err != nil {
					return err
				}
			}
		}
		if err := e.Sync(ctx); err != nil {
			return err
		}
		var futures []*struct {
			dst  int
			dest int32
		}
		if s == 0 {
			for dst := 1; dst < p; dst++ {
				f := &struct {
					dst  int
					dest int32
				}{dst: dst}
				dest := unsafe.Slice((*byte)(unsafe.Pointer(&f.dest)), 4)
				if err := e.Get(ctx, dst, id, 0, 4, 1, dest); err != nil {
					return err
				}
				futures = append(futures, f)
			}
		}
		if err := e.Sync(ctx); err != nil {
			return err
		}
		if s != 0 {
			if a != int32(100+s) {
				t.Errorf("peer %d: a = %d, want %d", s, a, 100+s)
			}
			return nil
		}
		for _, f := range futures {
			if f.dest != int32(100+f.dst) {
				t.Errorf("peer 0: get from %d = %d, want %d", f.dst, f.dest, 100+f.dst)
			}
		}
		return nil
	})
}
