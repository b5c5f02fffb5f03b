// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package venue

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/luxfi/geth/common"
)

// Registry maps venue ids to adapters.
//
// Readers take an immutable Snapshot once per request; admin writes copy the
// table and publish a new version, so a request never sees a half-applied
// change.
type Registry struct {
	mu    sync.Mutex // serializes writers
	owner common.Address
	snap  atomic.Pointer[Snapshot]
}

// Snapshot is one published version of a Registry
type Snapshot struct {
	Version  uint64
	adapters [MaxID + 1]Adapter
}

// Get returns the adapter for id
func (s *Snapshot) Get(id ID) (Adapter, bool) {
	if id > MaxID || s.adapters[id] == nil {
		return nil, false
	}
	return s.adapters[id], true
}

// Len returns the number of registered venues
func (s *Snapshot) Len() int {
	n := 0
	for _, a := range s.adapters {
		if a != nil {
			n++
		}
	}
	return n
}

// NewRegistry creates an empty registry administered by owner
func NewRegistry(owner common.Address) *Registry {
	r := &Registry{owner: owner}
	r.snap.Store(&Snapshot{})
	return r
}

// Snapshot returns the current version
func (r *Registry) Snapshot() *Snapshot {
	return r.snap.Load()
}

// Owner returns the administering address
func (r *Registry) Owner() common.Address {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.owner
}

// Set registers or replaces the adapter for id
func (r *Registry) Set(caller common.Address, id ID, a Adapter) error {
	if id > MaxID {
		return fmt.Errorf("venue id %d out of range", id)
	}
	if a == nil {
		return fmt.Errorf("venue %d: nil adapter", id)
	}
	return r.update(caller, func(s *Snapshot) { s.adapters[id] = a })
}

// Remove unregisters id
func (r *Registry) Remove(caller common.Address, id ID) error {
	if id > MaxID {
		return fmt.Errorf("venue id %d out of range", id)
	}
	return r.update(caller, func(s *Snapshot) { s.adapters[id] = nil })
}

// TransferOwnership hands administration to newOwner
func (r *Registry) TransferOwnership(caller, newOwner common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.owner {
		return ErrUnauthorized
	}
	r.owner = newOwner
	return nil
}

func (r *Registry) update(caller common.Address, fn func(*Snapshot)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.owner {
		return ErrUnauthorized
	}
	cur := r.snap.Load()
	next := &Snapshot{Version: cur.Version + 1, adapters: cur.adapters}
	fn(next)
	r.snap.Store(next)
	return nil
}

// Pairs maps unordered token pairs to a per-family configuration T.
// Like Registry it is copy-on-write and owner-gated.
type Pairs[T any] struct {
	mu    sync.Mutex
	owner common.Address
	snap  atomic.Pointer[pairSnapshot[T]]
}

type pairSnapshot[T any] struct {
	version uint64
	entries map[PairKey]T
}

// NewPairs creates an empty pair registry administered by owner
func NewPairs[T any](owner common.Address) *Pairs[T] {
	p := &Pairs[T]{owner: owner}
	p.snap.Store(&pairSnapshot[T]{entries: map[PairKey]T{}})
	return p
}

// Add registers cfg for the pair (a, b), replacing any previous entry
func (p *Pairs[T]) Add(caller, a, b common.Address, cfg T) error {
	key, err := NewPairKey(a, b)
	if err != nil {
		return err
	}
	return p.update(caller, func(m map[PairKey]T) { m[key] = cfg })
}

// Remove deletes the pair (a, b)
func (p *Pairs[T]) Remove(caller, a, b common.Address) error {
	key, err := NewPairKey(a, b)
	if err != nil {
		return err
	}
	return p.update(caller, func(m map[PairKey]T) { delete(m, key) })
}

// Lookup returns the config for the pair in either order
func (p *Pairs[T]) Lookup(a, b common.Address) (T, bool) {
	var zero T
	key, err := NewPairKey(a, b)
	if err != nil {
		return zero, false
	}
	cfg, ok := p.snap.Load().entries[key]
	return cfg, ok
}

// Version increases on every successful write
func (p *Pairs[T]) Version() uint64 {
	return p.snap.Load().version
}

// Len returns the number of registered pairs
func (p *Pairs[T]) Len() int {
	return len(p.snap.Load().entries)
}

func (p *Pairs[T]) update(caller common.Address, fn func(map[PairKey]T)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if caller != p.owner {
		return ErrUnauthorized
	}
	cur := p.snap.Load()
	entries := make(map[PairKey]T, len(cur.entries)+1)
	for k, v := range cur.entries {
		entries[k] = v
	}
	fn(entries)
	p.snap.Store(&pairSnapshot[T]{version: cur.version + 1, entries: entries})
	return nil
}
