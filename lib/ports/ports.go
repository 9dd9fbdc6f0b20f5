// Copyright 2026 The Previewd Authors
// SPDX-License-Identifier: Apache-2.0

// Package ports tracks a bounded pool of host ports for preview sessions.
//
// The pool is process-local state: a port is owned by at most one session
// at a time and is released at session teardown. Allocation returns the
// lowest currently-free port as an implementation convenience — callers
// must not rely on any particular ordering.
package ports

import (
	"errors"
	"fmt"
	"sync"
)

// ErrPortExhausted is returned by Allocate when every port in the
// configured range is held.
var ErrPortExhausted = errors.New("port range exhausted")

// Allocator hands out ports from a fixed inclusive range. Safe for
// concurrent use from independent sessions.
type Allocator struct {
	mu        sync.Mutex
	min       int
	max       int
	allocated map[int]bool
}

// NewAllocator creates an allocator over the inclusive range [min, max].
func NewAllocator(min, max int) (*Allocator, error) {
	if min < 1 || max > 65535 || min > max {
		return nil, fmt.Errorf("invalid port range %d-%d", min, max)
	}
	return &Allocator{
		min:       min,
		max:       max,
		allocated: make(map[int]bool),
	}, nil
}

// Allocate returns the lowest currently-free port in the range, or
// ErrPortExhausted if none remain.
func (a *Allocator) Allocate() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for port := a.min; port <= a.max; port++ {
		if !a.allocated[port] {
			a.allocated[port] = true
			return port, nil
		}
	}
	return 0, ErrPortExhausted
}

// Release returns a port to the pool. Releasing an unheld port (or one
// outside the range) is a no-op.
func (a *Allocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.allocated, port)
}

// IsAllocated reports whether the port is currently held.
func (a *Allocator) IsAllocated(port int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocated[port]
}

// AllocatedCount returns the number of ports currently held.
func (a *Allocator) AllocatedCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.allocated)
}

// AvailableCount returns the number of ports currently free.
func (a *Allocator) AvailableCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.max - a.min + 1 - len(a.allocated)
}
