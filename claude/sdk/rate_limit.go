// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sdk

import (
	"context"
	"sync"
	"time"
)

// RateLimiter implements token bucket rate limiting for upstream calls.
type RateLimiter struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	mu         sync.Mutex
}

// NewRateLimiter creates a new rate limiter.
// rate: requests per second
// burst: maximum burst size (bucket capacity)
func NewRateLimiter(rate, burst float64) *RateLimiter {
	return &RateLimiter{
		tokens:     burst,
		maxTokens:  burst,
		refillRate: rate,
		lastRefill: time.Now(),
	}
}

// Wait blocks until a token is available or the context is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		if r.TryAcquire() {
			return nil
		}

		// Wait for the next refill
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond * 10):
			continue
		}
	}
}

// TryAcquire attempts to acquire a token without blocking.
// Returns true if a token was acquired.
func (r *RateLimiter) TryAcquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()

	if r.tokens >= 1 {
		r.tokens--
		return true
	}
	return false
}

// refill adds tokens based on elapsed time.
func (r *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(r.lastRefill).Seconds()
	r.tokens += elapsed * r.refillRate
	if r.tokens > r.maxTokens {
		r.tokens = r.maxTokens
	}
	r.lastRefill = now
}

// Available returns the current number of available tokens.
func (r *RateLimiter) Available() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refill()
	return r.tokens
}

// SetRate dynamically updates the rate limit.
func (r *RateLimiter) SetRate(rate float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refillRate = rate
}

// PerClientRateLimiter provides per-client token buckets for callers
// that pace traffic per credential or tenant.
type PerClientRateLimiter struct {
	limiters map[string]*RateLimiter
	factory  func() *RateLimiter
	mu       sync.RWMutex
}

// NewPerClientRateLimiter creates a per-client rate limiter.
// The factory function creates a new limiter for each client.
func NewPerClientRateLimiter(factory func() *RateLimiter) *PerClientRateLimiter {
	return &PerClientRateLimiter{
		limiters: make(map[string]*RateLimiter),
		factory:  factory,
	}
}

// TryAcquire attempts to acquire a token for the given client.
func (m *PerClientRateLimiter) TryAcquire(clientID string) bool {
	return m.getLimiter(clientID).TryAcquire()
}

// Wait blocks until a token is available for the given client.
func (m *PerClientRateLimiter) Wait(ctx context.Context, clientID string) error {
	return m.getLimiter(clientID).Wait(ctx)
}

// getLimiter returns the rate limiter for a client, creating one if needed.
func (m *PerClientRateLimiter) getLimiter(clientID string) *RateLimiter {
	m.mu.RLock()
	limiter, exists := m.limiters[clientID]
	m.mu.RUnlock()

	if exists {
		return limiter
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists = m.limiters[clientID]; exists {
		return limiter
	}

	limiter = m.factory()
	m.limiters[clientID] = limiter
	return limiter
}

// RemoveClient removes a client's rate limiter.
func (m *PerClientRateLimiter) RemoveClient(clientID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.limiters, clientID)
}

// ClientCount returns the number of tracked clients.
func (m *PerClientRateLimiter) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.limiters)
}
