// Copyright 2026 The Ghostkey Authors
// SPDX-License-Identifier: Apache-2.0

package issuance

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// sweepEvery is how many decisions pass between idle-entry sweeps.
const sweepEvery = 512

// BurstConfig configures the in-memory per-requester token bucket
// that runs ahead of the persisted window. A zero Rate disables it.
type BurstConfig struct {
	// Rate is the sustained requests per second per requester.
	Rate float64

	// Burst is the bucket size. Zero means 1.
	Burst int

	// IdleTTL is how long an idle requester's bucket is kept. Zero
	// means ten minutes.
	IdleTTL time.Duration
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// throttle is a token bucket per requester key.
type throttle struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
	hits    uint64
}

// newThrottle returns nil when cfg disables throttling. A nil throttle
// allows everything.
func newThrottle(cfg BurstConfig) *throttle {
	if cfg.Rate <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	idleTTL := cfg.IdleTTL
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &throttle{
		limit:   rate.Limit(cfg.Rate),
		burst:   burst,
		idleTTL: idleTTL,
		buckets: make(map[string]*bucket),
	}
}

// allow consumes a token for key at now. When none is available it
// returns false and the delay until one will be.
func (t *throttle) allow(key string, now time.Time) (bool, time.Duration) {
	if t == nil {
		return true, 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	b, ok := t.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.buckets[key] = b
	}
	b.lastSeen = now

	t.hits++
	if t.hits%sweepEvery == 0 {
		cutoff := now.Add(-t.idleTTL)
		for k, v := range t.buckets {
			if v.lastSeen.Before(cutoff) {
				delete(t.buckets, k)
			}
		}
	}

	reservation := b.limiter.ReserveN(now, 1)
	delay := reservation.DelayFrom(now)
	if delay == 0 {
		return true, 0
	}
	reservation.CancelAt(now)
	return false, delay
}

func (t *throttle) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buckets)
}
