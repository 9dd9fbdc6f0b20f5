// Copyright 2026 The Previewd Authors
// SPDX-License-Identifier: Apache-2.0

package ports

import (
	"errors"
	"sync"
	"testing"
)

func mustAllocator(t *testing.T, min, max int) *Allocator {
	t.Helper()
	a, err := NewAllocator(min, max)
	if err != nil {
		t.Fatalf("NewAllocator(%d, %d): %v", min, max, err)
	}
	return a
}

func TestNewAllocatorInvalidRange(t *testing.T) {
	tests := []struct {
		name string
		min  int
		max  int
	}{
		{"zero_min", 0, 100},
		{"negative_min", -1, 100},
		{"min_above_max", 5000, 4000},
		{"max_too_large", 4000, 70000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewAllocator(tt.min, tt.max); err == nil {
				t.Errorf("NewAllocator(%d, %d) = nil error, want error", tt.min, tt.max)
			}
		})
	}
}

func TestAllocateLowestFree(t *testing.T) {
	a := mustAllocator(t, 4000, 4002)

	for _, want := range []int{4000, 4001, 4002} {
		port, err := a.Allocate()
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		if port != want {
			t.Errorf("Allocate = %d, want %d", port, want)
		}
	}

	if _, err := a.Allocate(); !errors.Is(err, ErrPortExhausted) {
		t.Errorf("Allocate on exhausted pool = %v, want ErrPortExhausted", err)
	}
}

func TestReleaseReusesLowest(t *testing.T) {
	a := mustAllocator(t, 4000, 4003)
	for range 4 {
		if _, err := a.Allocate(); err != nil {
			t.Fatalf("Allocate: %v", err)
		}
	}

	a.Release(4002)
	a.Release(4000)

	port, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if port != 4000 {
		t.Errorf("Allocate after release = %d, want 4000", port)
	}
}

func TestReleaseIdempotent(t *testing.T) {
	a := mustAllocator(t, 4000, 4001)
	port, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	a.Release(port)
	a.Release(port)
	a.Release(9999) // outside range, no-op

	if got := a.AllocatedCount(); got != 0 {
		t.Errorf("AllocatedCount = %d, want 0", got)
	}
}

func TestCountsConserved(t *testing.T) {
	a := mustAllocator(t, 4000, 4009)
	total := 10

	check := func(stage string) {
		t.Helper()
		if got := a.AllocatedCount() + a.AvailableCount(); got != total {
			t.Errorf("%s: allocated+available = %d, want %d", stage, got, total)
		}
	}

	check("initial")
	p1, _ := a.Allocate()
	p2, _ := a.Allocate()
	check("after two allocations")
	a.Release(p1)
	check("after one release")
	a.Release(p2)
	a.Release(p2)
	check("after double release")
}

func TestIsAllocated(t *testing.T) {
	a := mustAllocator(t, 4000, 4001)
	port, _ := a.Allocate()

	if !a.IsAllocated(port) {
		t.Errorf("IsAllocated(%d) = false, want true", port)
	}
	if a.IsAllocated(4001) {
		t.Error("IsAllocated(4001) = true, want false")
	}
	a.Release(port)
	if a.IsAllocated(port) {
		t.Errorf("IsAllocated(%d) after release = true, want false", port)
	}
}

func TestConcurrentAllocateRelease(t *testing.T) {
	a := mustAllocator(t, 4000, 4099)

	var wg sync.WaitGroup
	seen := make(chan int, 100)
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			port, err := a.Allocate()
			if err != nil {
				t.Errorf("Allocate: %v", err)
				return
			}
			seen <- port
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[int]bool)
	for port := range seen {
		if unique[port] {
			t.Errorf("port %d allocated twice", port)
		}
		unique[port] = true
	}
	if a.AvailableCount() != 0 {
		t.Errorf("AvailableCount = %d, want 0", a.AvailableCount())
	}
}
