package engine

import (
	"sync"
	"unsafe"

	"github.com/grailbio/base/errors"
)

// Handle is the opaque cookie a requester embeds in a Get frame so the
// eventual GetResponse can be routed back to the right destination
// without relying on the destination's address staying stable
// (spec.md §9, "Pending-get table and reply routing").
type Handle uint64

type pendingEntry struct {
	dest          unsafe.Pointer
	expectedBytes int
}

// PendingGets tracks every get this peer has issued in the current
// superstep and not yet had answered. Insertions happen only from
// local-issuer context (Engine.Get); removals only while draining
// GetResponse frames during Sync (spec.md §4.6). Between supersteps
// it is always empty.
type PendingGets struct {
	mu         sync.Mutex
	nextHandle Handle
	table      map[Handle]pendingEntry
}

// NewPendingGets returns an empty PendingGets table.
func NewPendingGets() *PendingGets {
	return &PendingGets{table: make(map[Handle]pendingEntry)}
}

// Insert allocates a fresh handle for a get whose response should be
// copied into dest, which must remain valid until the handle is
// resolved.
func (p *PendingGets) Insert(dest unsafe.Pointer, expectedBytes int) Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := p.nextHandle
	p.nextHandle++
	p.table[h] = pendingEntry{dest: dest, expectedBytes: expectedBytes}
	return h
}

// Resolve removes and returns the entry registered under h. Receiving
// a GetResponse frame with an unknown handle is a fatal protocol
// error (spec.md §4.6), so Resolve reports ok=false rather than
// silently ignoring it.
func (p *PendingGets) Resolve(h Handle) (dest unsafe.Pointer, expectedBytes int, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, found := p.table[h]
	if !found {
		return nil, 0, false
	}
	delete(p.table, h)
	return e.dest, e.expectedBytes, true
}

// Len reports the number of unresolved gets, used to verify the
// between-superstep invariant that the table is empty (spec.md §3).
func (p *PendingGets) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.table)
}

// checkEmpty returns a fatal error if the table is non-empty. It is
// called at the end of Sync to enforce spec.md §3's invariant that
// every pending-get entry is resolved between supersteps.
func (p *PendingGets) checkEmpty() error {
	if n := p.Len(); n != 0 {
		return errors.E(errors.Fatal, "engine: pending-get table not empty at superstep boundary")
	}
	return nil
}
