// Copyright 2024-2026 Aiku AI

package bridge

import "sync"

// DefaultDedupCapacity matches the history cap of the webhook
// redelivery window.
const DefaultDedupCapacity = 1000

// DedupWindow suppresses reprocessing of redelivered events. It keeps a
// bounded set of composite message ids (platform tag + native id) in
// insertion order; when the cap is exceeded the oldest half is evicted
// in one pass. Eviction is approximate on purpose, not LRU.
type DedupWindow struct {
	mu       sync.Mutex
	capacity int
	seen     map[string]struct{}
	order    []string
}

// NewDedupWindow builds a window with the given capacity. A
// non-positive capacity falls back to DefaultDedupCapacity.
func NewDedupWindow(capacity int) *DedupWindow {
	if capacity <= 0 {
		capacity = DefaultDedupCapacity
	}
	return &DedupWindow{
		capacity: capacity,
		seen:     make(map[string]struct{}, capacity),
	}
}

// CheckAndAdd records id and reports whether it was new. The check and
// the insert are a single atomic step so two concurrent deliveries of
// the same event cannot both pass.
func (d *DedupWindow) CheckAndAdd(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[id]; ok {
		return false
	}
	d.seen[id] = struct{}{}
	d.order = append(d.order, id)

	if len(d.order) > d.capacity {
		evict := len(d.order) / 2
		for _, old := range d.order[:evict] {
			delete(d.seen, old)
		}
		d.order = append(d.order[:0], d.order[evict:]...)
	}
	return true
}

// Len returns the current number of tracked ids.
func (d *DedupWindow) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.order)
}
