// Copyright 2024-2026 Aiku AI

package bridge

import (
	"fmt"
	"testing"
)

func TestCheckAndAdd(t *testing.T) {
	t.Parallel()
	w := NewDedupWindow(10)

	if !w.CheckAndAdd("line_1") {
		t.Error("first occurrence should be new")
	}
	if w.CheckAndAdd("line_1") {
		t.Error("second occurrence should be a duplicate")
	}
	if !w.CheckAndAdd("discord_1") {
		t.Error("same native id under a different platform tag is a distinct event")
	}
}

func TestEvictionDropsOldestHalf(t *testing.T) {
	t.Parallel()
	const capacity = 1000
	w := NewDedupWindow(capacity)

	for i := 0; i < capacity; i++ {
		w.CheckAndAdd(fmt.Sprintf("line_%d", i))
	}
	if w.Len() != capacity {
		t.Fatalf("len before overflow: got %d, want %d", w.Len(), capacity)
	}

	// The insert that exceeds the cap triggers one eviction pass
	// removing the oldest half.
	w.CheckAndAdd("line_overflow")
	want := capacity + 1 - (capacity+1)/2
	if w.Len() != want {
		t.Fatalf("len after eviction: got %d, want %d", w.Len(), want)
	}

	// Oldest-inserted ids were evicted and count as new again.
	if !w.CheckAndAdd("line_0") {
		t.Error("oldest id should have been evicted")
	}
	// Recent ids survived.
	if w.CheckAndAdd(fmt.Sprintf("line_%d", capacity-1)) {
		t.Error("newest id should still be tracked")
	}
	if w.CheckAndAdd("line_overflow") {
		t.Error("overflow id should still be tracked")
	}
}

func TestDefaultCapacity(t *testing.T) {
	t.Parallel()
	w := NewDedupWindow(0)
	if w.capacity != DefaultDedupCapacity {
		t.Errorf("capacity: got %d, want %d", w.capacity, DefaultDedupCapacity)
	}
}
