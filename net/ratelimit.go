// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package net

import (
	"sync"
	"time"
)

// RateLimiter is a simple token-bucket limiter used to cap the rate of
// inbound messages and bytes a single connection may push through the
// codec, independent of whatever the OS socket buffers allow.
type RateLimiter struct {
	mtx        sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	last       time.Time
}

// NewRateLimiter returns a limiter that refills at refillRate tokens per
// second up to capacity, starting full.
func NewRateLimiter(capacity, refillRate float64) *RateLimiter {
	return &RateLimiter{
		tokens:     capacity,
		capacity:   capacity,
		refillRate: refillRate,
		last:       time.Now(),
	}
}

// Allow reports whether n tokens (e.g. bytes, or 1 per message) are
// available, consuming them if so.
func (r *RateLimiter) Allow(n float64) bool {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	now := time.Now()
	elapsed := now.Sub(r.last).Seconds()
	r.last = now

	r.tokens += elapsed * r.refillRate
	if r.tokens > r.capacity {
		r.tokens = r.capacity
	}

	if r.tokens < n {
		return false
	}
	r.tokens -= n
	return true
}
