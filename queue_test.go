package bsprt

import (
	"context"
	"testing"

	"github.com/bspkit/bsprt/transport/local"
	"golang.org/x/sync/errgroup"
)

// TestTwoQueuesHeterogeneous exercises spec.md §8's "Two-queue
// heterogeneous" scenario and property 7 (queue isolation): two
// queues of differing element types coexist and each drains in send
// order, tagged with the sender's pid.
func TestTwoQueuesHeterogeneous(t *testing.T) {
	const p = 4
	g := local.NewGroup(p)
	ctx := context.Background()

	var eg errgroup.Group
	for i := 0; i < p; i++ {
		i := i
		eg.Go(func() error {
			w := NewWorld(g.Peer(i))
			qi, err := NewQueue[int32, int32](ctx, w)
			if err != nil {
				return err
			}
			qf, err := NewQueue[int32, float32](ctx, w)
			if err != nil {
				return err
			}
			s := w.ProcessorID()
			next := w.NextProcessor()
			ints := []int32{1337, 12345, 1230519, 5, 8}
			for _, v := range ints {
				if err := qi.Send(ctx, next, int32(s), v); err != nil {
					return err
				}
			}
			floats := []float32{1.0, 2.0, 3.0, 4.0}
			for _, v := range floats {
				if err := qf.Send(ctx, next, int32(s), v); err != nil {
					return err
				}
			}
			if err := w.Sync(ctx); err != nil {
				return err
			}

			prev := w.PrevProcessor()
			gotInts := qi.Drain()
			if len(gotInts) != len(ints) {
				t.Errorf("peer %d: got %d int messages, want %d", s, len(gotInts), len(ints))
			}
			for i, m := range gotInts {
				if m.From != prev || m.Tag != int32(prev) || m.Content != ints[i] {
					t.Errorf("peer %d: int message %d = %+v, want from=%d tag=%d content=%d", s, i, m, prev, prev, ints[i])
				}
			}
			gotFloats := qf.Drain()
			if len(gotFloats) != len(floats) {
				t.Errorf("peer %d: got %d float messages, want %d", s, len(gotFloats), len(floats))
			}
			for i, m := range gotFloats {
				if m.From != prev || m.Tag != int32(prev) || m.Content != floats[i] {
					t.Errorf("peer %d: float message %d = %+v, want from=%d tag=%d content=%v", s, i, m, prev, prev, floats[i])
				}
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		t.Fatal(err)
	}
}
