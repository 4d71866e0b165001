package local

import (
	"context"
	"testing"

	"github.com/bspkit/bsprt/frame"
	"golang.org/x/sync/errgroup"
)

func TestSendProbeRecv(t *testing.T) {
	g := NewGroup(3)
	ctx := context.Background()

	if err := g.Peer(0).Send(ctx, 2, frame.Put, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	src, n, err := g.Peer(2).Probe(ctx, frame.Put)
	if err != nil {
		t.Fatal(err)
	}
	if src != 0 || n != len("hello") {
		t.Fatalf("got src=%d n=%d, want src=0 n=%d", src, n, len("hello"))
	}
	buf := make([]byte, n)
	if _, err := g.Peer(2).Recv(ctx, src, frame.Put, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "hello" {
		t.Fatalf("got %q, want %q", buf, "hello")
	}
}

func TestFIFOPerSourceDestCategory(t *testing.T) {
	g := NewGroup(2)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := g.Peer(0).Send(ctx, 1, frame.Message, []byte{byte(i)}); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 5; i++ {
		src, n, err := g.Peer(1).Probe(ctx, frame.Message)
		if err != nil {
			t.Fatal(err)
		}
		buf := make([]byte, n)
		if _, err := g.Peer(1).Recv(ctx, src, frame.Message, buf); err != nil {
			t.Fatal(err)
		}
		if buf[0] != byte(i) {
			t.Fatalf("message %d out of order: got %d", i, buf[0])
		}
	}
}

func TestBarrierReleasesAllPeers(t *testing.T) {
	const p = 4
	g := NewGroup(p)
	var eg errgroup.Group
	for i := 0; i < p; i++ {
		i := i
		eg.Go(func() error {
			return g.Peer(i).Barrier(context.Background())
		})
	}
	if err := eg.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestReduceScatterSum(t *testing.T) {
	const p = 4
	g := NewGroup(p)
	results := make([]int64, p)
	var eg errgroup.Group
	for i := 0; i < p; i++ {
		i := i
		eg.Go(func() error {
			contrib := make([]int64, p)
			for j := range contrib {
				contrib[j] = int64(i + 1)
			}
			sum, err := g.Peer(i).ReduceScatterSum(context.Background(), contrib)
			results[i] = sum
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		t.Fatal(err)
	}
	// every peer contributes (i+1) at every index, so each peer's sum
	// is 1+2+...+p regardless of its own rank.
	want := int64(0)
	for i := 0; i < p; i++ {
		want += int64(i + 1)
	}
	for i, got := range results {
		if got != want {
			t.Errorf("peer %d: got %d, want %d", i, got, want)
		}
	}
}

func TestReduceScatterSumReusableAcrossSupersteps(t *testing.T) {
	const p = 3
	g := NewGroup(p)
	for round := 0; round < 3; round++ {
		var eg errgroup.Group
		for i := 0; i < p; i++ {
			i := i
			eg.Go(func() error {
				contrib := make([]int64, p)
				contrib[i] = 1
				_, err := g.Peer(i).ReduceScatterSum(context.Background(), contrib)
				return err
			})
		}
		if err := eg.Wait(); err != nil {
			t.Fatalf("round %d: %v", round, err)
		}
	}
}
