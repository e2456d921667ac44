// Package deletion runs asynchronous cascade soft-deletes: it admits operations through a
// bounded gate, resolves the live subtree, applies the deletes on a worker pool and keeps a
// pollable progress record for each operation.
package deletion

import (
	"sync"
	"sync/atomic"
)

// DefaultGateCapacity is the number of delete operations allowed in flight per scope.
const DefaultGateCapacity = 5

// Scope policy names.
const (
	ScopeGlobal = "global"
	ScopeWorld  = "world"
)

// globalScopeKey is the single counter key used by the global policy.
const globalScopeKey = "*"

// ScopeFunc maps a world id to the gate counter key for that world.
type ScopeFunc func(worldID string) string

// ScopePolicy returns the ScopeFunc for a policy name; unknown names fall back to global.
func ScopePolicy(name string) ScopeFunc {
	if name == ScopeWorld {
		return func(worldID string) string { return "world:" + worldID }
	}
	return func(string) string { return globalScopeKey }
}

// Gate bounds the number of in-flight delete operations per scope key.
// Counters are lock-free; a counter never exceeds capacity and never drops below zero.
type Gate struct {
	capacity int64
	counters sync.Map // scope -> *atomic.Int64
}

// NewGate creates a gate admitting up to capacity operations per scope.
// PRE: none (capacity <= 0 selects DefaultGateCapacity)
// POST: every scope starts with zero operations in flight
func NewGate(capacity int) *Gate {
	if capacity <= 0 {
		capacity = DefaultGateCapacity
	}
	return &Gate{capacity: int64(capacity)}
}

func (g *Gate) counter(scope string) *atomic.Int64 {
	if v, ok := g.counters.Load(scope); ok {
		return v.(*atomic.Int64)
	}
	v, _ := g.counters.LoadOrStore(scope, new(atomic.Int64))
	return v.(*atomic.Int64)
}

// TryAcquire takes a slot for scope if one is free.
// PRE: none
// POST: returns true and holds one slot, or returns false and leaves the counter unchanged
func (g *Gate) TryAcquire(scope string) bool {
	c := g.counter(scope)
	if c.Add(1) > g.capacity {
		c.Add(-1)
		return false
	}
	return true
}

// Release returns a slot for scope. Releasing an idle scope is a no-op.
// PRE: the caller holds a slot acquired with TryAcquire
// POST: the counter is decremented, never below zero
func (g *Gate) Release(scope string) {
	c := g.counter(scope)
	for {
		cur := c.Load()
		if cur <= 0 {
			return
		}
		if c.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// InFlight returns the number of slots currently held for scope.
func (g *Gate) InFlight(scope string) int {
	n := g.counter(scope).Load()
	if n < 0 {
		return 0
	}
	if n > g.capacity {
		// a rejected TryAcquire is between its increment and decrement
		return int(g.capacity)
	}
	return int(n)
}

// Capacity returns the per-scope limit.
func (g *Gate) Capacity() int {
	return int(g.capacity)
}
