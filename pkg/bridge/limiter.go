// Copyright 2024-2026 Aiku AI

package bridge

import (
	"sync"
	"time"
)

// BroadcastLimiter enforces a minimum interval between broadcast sends.
// It is a hard gate: a denied call is simply skipped by the caller,
// never queued or smoothed. Single-instance only; there is no
// cross-process coordination.
type BroadcastLimiter struct {
	mu          sync.Mutex
	minInterval time.Duration
	lastSent    time.Time

	now func() time.Time
}

// NewBroadcastLimiter builds a limiter with the given minimum interval.
func NewBroadcastLimiter(minInterval time.Duration) *BroadcastLimiter {
	return &BroadcastLimiter{
		minInterval: minInterval,
		now:         time.Now,
	}
}

// CanSend reports whether a broadcast is allowed now, and if so records
// the send timestamp. Check and set are one atomic step so concurrent
// callers cannot both pass inside the same interval.
func (l *BroadcastLimiter) CanSend() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSent) < l.minInterval {
		return false
	}
	l.lastSent = now
	return true
}

// LastSent returns the timestamp of the last allowed broadcast, zero if
// none has been sent.
func (l *BroadcastLimiter) LastSent() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSent
}

// NextAllowedAt returns when the next broadcast will be allowed. For
// status reporting only.
func (l *BroadcastLimiter) NextAllowedAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSent.Add(l.minInterval)
}

// MinInterval returns the configured minimum interval.
func (l *BroadcastLimiter) MinInterval() time.Duration {
	return l.minInterval
}
