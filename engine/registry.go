package engine

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/grailbio/base/errors"
)

// VarID is a per-process identifier for a registered region. It is
// unique within the process that allocated it but carries no meaning
// across processes: peer A's id 3 and peer B's id 3 may name unrelated
// regions (spec.md §3 "Variable id").
type VarID int

type region struct {
	base        unsafe.Pointer
	elementSize int
}

// Registry is the bidirectional mapping between a process's local
// memory regions and its variable ids (spec.md §4.2). It enforces a
// strict 1:1 correspondence: registering an already-registered base,
// or resolving a base or id that isn't currently registered, is a
// programming error.
//
// Ids are handed out from a monotonically increasing counter that is
// never rewound, even across Unregister calls, so that a frame naming
// a stale id is always distinguishable from one naming a live region
// that merely hasn't been assigned yet (spec.md §4.2, "Ids are
// monotonically increasing and never reused").
type Registry struct {
	mu     sync.Mutex
	nextID VarID
	byBase map[unsafe.Pointer]VarID
	byID   map[VarID]region
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byBase: make(map[unsafe.Pointer]VarID),
		byID:   make(map[VarID]region),
	}
}

// Register allocates a fresh VarID for the region starting at base
// with the given element size and inserts both directions of the
// mapping. It fails if base is already registered.
func (r *Registry) Register(base unsafe.Pointer, elementSize int) (VarID, error) {
	if base == nil {
		return 0, errors.E(errors.Fatal, "registry: cannot register a nil base")
	}
	if elementSize <= 0 {
		return 0, errors.E(errors.Fatal, "registry: element size must be positive")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byBase[base]; ok {
		return 0, errors.E(errors.Precondition, "registry: base is already registered")
	}
	id := r.nextID
	r.nextID++
	r.byBase[base] = id
	r.byID[id] = region{base: base, elementSize: elementSize}
	return id, nil
}

// Unregister removes both directions of the mapping for base. Frames
// that later name the id returned by the corresponding Register are a
// protocol error (spec.md §4.2); the caller is responsible for
// ensuring (via a barrier, per spec.md §3 "Lifecycles") that no peer
// can still have such a frame in flight.
func (r *Registry) Unregister(base unsafe.Pointer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byBase[base]
	if !ok {
		return errors.E(errors.Precondition, "registry: unregister of an unknown base")
	}
	delete(r.byBase, base)
	delete(r.byID, id)
	return nil
}

// UnregisterID removes both directions of the mapping for the region
// currently registered under id. It is the id-addressed counterpart
// of Unregister, matching the engine's external unregister_location(id)
// entry point (spec.md §6).
func (r *Registry) UnregisterID(id VarID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.byID[id]
	if !ok {
		return errors.E(errors.Precondition, "registry: unregister of an unknown var id")
	}
	delete(r.byID, id)
	delete(r.byBase, reg.base)
	return nil
}

// ResolveLocal returns the id a previously registered base was
// assigned. It fails if base is not currently registered.
func (r *Registry) ResolveLocal(base unsafe.Pointer) (VarID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byBase[base]
	if !ok {
		return 0, errors.E(errors.Fatal, "registry: resolve_local: unknown base")
	}
	return id, nil
}

// ResolveRemote returns the base address and element size registered
// under id. It fails if id does not currently name a registered
// region — including a stale id from a region that has since been
// unregistered, which spec.md §4.2 requires callers to treat as a
// protocol error.
func (r *Registry) ResolveRemote(id VarID) (unsafe.Pointer, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.byID[id]
	if !ok {
		return nil, 0, errors.E(errors.Fatal, fmt.Errorf("registry: resolve_remote: unknown or stale var id %d", id))
	}
	return reg.base, reg.elementSize, nil
}
