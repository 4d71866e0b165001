// Package stats tracks the running diagnostic totals an engine.Engine
// accumulates over a bsprt run: how many puts, gets, and queue
// messages have been sent, received, or applied through the
// self-addressed shortcut, how many payload bytes have crossed the
// wire on puts and gets, and how many supersteps have completed. The
// counters exist purely for post-run reporting (World.Stats); nothing
// in the engine reads them back to make a protocol decision.
package stats

import (
	"fmt"
	"sync/atomic"
)

// Counters is the fixed set of running totals a single Engine
// accumulates across its lifetime. The zero value is ready to use.
// Every method is safe for concurrent use.
type Counters struct {
	putsSent, putsReceived, putsLocal          int64
	putBytesSent, putBytesReceived             int64
	getsSent, getsReceived, getsLocal          int64
	messagesSent, messagesReceived, messagesLocal int64
	supersteps                                 int64
}

// NewCounters returns a zeroed Counters.
func NewCounters() *Counters { return &Counters{} }

// PutSent records a put issued to a remote peer, carrying n bytes of
// payload.
func (c *Counters) PutSent(n int64) {
	atomic.AddInt64(&c.putsSent, 1)
	atomic.AddInt64(&c.putBytesSent, n)
}

// PutReceived records a put drained from a remote peer during Sync,
// carrying n bytes of payload.
func (c *Counters) PutReceived(n int64) {
	atomic.AddInt64(&c.putsReceived, 1)
	atomic.AddInt64(&c.putBytesReceived, n)
}

// PutLocal records a self-addressed put applied through the
// immediate-copy shortcut.
func (c *Counters) PutLocal() { atomic.AddInt64(&c.putsLocal, 1) }

// GetSent records a get issued to a remote peer.
func (c *Counters) GetSent() { atomic.AddInt64(&c.getsSent, 1) }

// GetReceived records a get drained from a remote peer during Sync
// and answered with a get-response.
func (c *Counters) GetReceived() { atomic.AddInt64(&c.getsReceived, 1) }

// GetLocal records a self-addressed get applied through the
// immediate-copy shortcut.
func (c *Counters) GetLocal() { atomic.AddInt64(&c.getsLocal, 1) }

// MessageSent records a queue send issued to a remote peer.
func (c *Counters) MessageSent() { atomic.AddInt64(&c.messagesSent, 1) }

// MessageReceived records a queue message drained from a remote peer
// during Sync.
func (c *Counters) MessageReceived() { atomic.AddInt64(&c.messagesReceived, 1) }

// MessageLocal records a self-addressed queue send enqueued directly.
func (c *Counters) MessageLocal() { atomic.AddInt64(&c.messagesLocal, 1) }

// SuperstepCompleted records one full Sync having returned.
func (c *Counters) SuperstepCompleted() { atomic.AddInt64(&c.supersteps, 1) }

// Snapshot is a point-in-time copy of a Counters, safe to read without
// further synchronization.
type Snapshot struct {
	PutsSent, PutsReceived, PutsLocal             int64
	PutBytesSent, PutBytesReceived                int64
	GetsSent, GetsReceived, GetsLocal             int64
	MessagesSent, MessagesReceived, MessagesLocal int64
	Supersteps                                    int64
}

// Snapshot copies out the current value of every counter.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		PutsSent:         atomic.LoadInt64(&c.putsSent),
		PutsReceived:     atomic.LoadInt64(&c.putsReceived),
		PutsLocal:        atomic.LoadInt64(&c.putsLocal),
		PutBytesSent:     atomic.LoadInt64(&c.putBytesSent),
		PutBytesReceived: atomic.LoadInt64(&c.putBytesReceived),
		GetsSent:         atomic.LoadInt64(&c.getsSent),
		GetsReceived:     atomic.LoadInt64(&c.getsReceived),
		GetsLocal:        atomic.LoadInt64(&c.getsLocal),
		MessagesSent:     atomic.LoadInt64(&c.messagesSent),
		MessagesReceived: atomic.LoadInt64(&c.messagesReceived),
		MessagesLocal:    atomic.LoadInt64(&c.messagesLocal),
		Supersteps:       atomic.LoadInt64(&c.supersteps),
	}
}

// String renders a Snapshot for post-run reporting.
func (s Snapshot) String() string {
	return fmt.Sprintf(
		"supersteps:%d puts:%d/%d/%d put-bytes:%d/%d gets:%d/%d/%d messages:%d/%d/%d",
		s.Supersteps,
		s.PutsSent, s.PutsReceived, s.PutsLocal,
		s.PutBytesSent, s.PutBytesReceived,
		s.GetsSent, s.GetsReceived, s.GetsLocal,
		s.MessagesSent, s.MessagesReceived, s.MessagesLocal,
	)
}
