package stats

import (
	"sync"
	"testing"
)

func TestPutCounters(t *testing.T) {
	c := NewCounters()
	c.PutSent(4)
	c.PutSent(8)
	c.PutReceived(4)
	c.PutLocal()

	snap := c.Snapshot()
	if snap.PutsSent != 2 {
		t.Errorf("PutsSent = %d, want 2", snap.PutsSent)
	}
	if snap.PutBytesSent != 12 {
		t.Errorf("PutBytesSent = %d, want 12", snap.PutBytesSent)
	}
	if snap.PutsReceived != 1 || snap.PutBytesReceived != 4 {
		t.Errorf("PutsReceived/PutBytesReceived = %d/%d, want 1/4", snap.PutsReceived, snap.PutBytesReceived)
	}
	if snap.PutsLocal != 1 {
		t.Errorf("PutsLocal = %d, want 1", snap.PutsLocal)
	}
}

func TestGetCounters(t *testing.T) {
	c := NewCounters()
	c.GetSent()
	c.GetSent()
	c.GetReceived()
	c.GetLocal()

	snap := c.Snapshot()
	if snap.GetsSent != 2 {
		t.Errorf("GetsSent = %d, want 2", snap.GetsSent)
	}
	if snap.GetsReceived != 1 {
		t.Errorf("GetsReceived = %d, want 1", snap.GetsReceived)
	}
	if snap.GetsLocal != 1 {
		t.Errorf("GetsLocal = %d, want 1", snap.GetsLocal)
	}
}

func TestMessageCounters(t *testing.T) {
	c := NewCounters()
	c.MessageSent()
	c.MessageReceived()
	c.MessageReceived()
	c.MessageLocal()

	snap := c.Snapshot()
	if snap.MessagesSent != 1 || snap.MessagesReceived != 2 || snap.MessagesLocal != 1 {
		t.Errorf("snapshot = %+v, want sent=1 received=2 local=1", snap)
	}
}

func TestSuperstepsAccumulate(t *testing.T) {
	c := NewCounters()
	for i := 0; i < 5; i++ {
		c.SuperstepCompleted()
	}
	if got := c.Snapshot().Supersteps; got != 5 {
		t.Errorf("Supersteps = %d, want 5", got)
	}
}

// TestConcurrentCounters exercises concurrent increments against a
// live Counters: many goroutines recording puts/gets/messages
// simultaneously, none of them lost.
func TestConcurrentCounters(t *testing.T) {
	c := NewCounters()
	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.PutSent(1)
			c.GetReceived()
			c.MessageLocal()
		}()
	}
	wg.Wait()

	snap := c.Snapshot()
	if snap.PutsSent != n || snap.PutBytesSent != n {
		t.Errorf("PutsSent/PutBytesSent = %d/%d, want %d/%d", snap.PutsSent, snap.PutBytesSent, n, n)
	}
	if snap.GetsReceived != n {
		t.Errorf("GetsReceived = %d, want %d", snap.GetsReceived, n)
	}
	if snap.MessagesLocal != n {
		t.Errorf("MessagesLocal = %d, want %d", snap.MessagesLocal, n)
	}
}

func TestSnapshotString(t *testing.T) {
	c := NewCounters()
	c.SuperstepCompleted()
	c.PutSent(16)
	if s := c.Snapshot().String(); s == "" {
		t.Error("Snapshot.String() returned empty string")
	}
}
