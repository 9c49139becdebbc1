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

package wrapper

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Rate limiting keys off the client identity: the API key owner, the
// JWT subject, or "anonymous" when auth is disabled. Redis gives a
// shared sliding window across wrapper instances; without Redis each
// process enforces its own window.

var redisClient *redis.Client

// initRedis initializes the Redis connection pool
func initRedis(redisURL string) error {
	// Parse Redis URL (format: redis://host:port or redis://host:port/db)
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Create Redis client with connection pool
	redisClient = redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Printf("✅ Redis connected: %s", opts.Addr)
	return nil
}

// checkRateLimitRedis checks rate limit using Redis with sliding window algorithm.
// Returns error if rate limit exceeded, nil if within limit.
// A zero or negative limit disables rate limiting entirely.
func checkRateLimitRedis(ctx context.Context, clientID string, limitPerMinute int) error {
	if limitPerMinute <= 0 {
		return nil
	}
	if redisClient == nil {
		// Fallback to in-memory rate limiting if Redis unavailable
		return checkRateLimit(clientID, limitPerMinute)
	}

	now := time.Now()
	key := fmt.Sprintf("ratelimit:%s", clientID)

	// Use Redis pipeline for atomic operations
	pipe := redisClient.Pipeline()

	// Remove timestamps older than 1 minute (sliding window)
	minScore := now.Add(-time.Minute).Unix()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", minScore))

	// Count requests in current window
	pipe.ZCard(ctx, key)

	// Add current request timestamp
	pipe.ZAdd(ctx, key, &redis.Z{
		Score:  float64(now.Unix()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})

	// Set expiration (cleanup old keys)
	pipe.Expire(ctx, key, 2*time.Minute)

	// Execute pipeline
	cmds, err := pipe.Exec(ctx)
	if err != nil {
		// On Redis error, fail open (allow request) and log
		log.Printf("Warning: Redis rate limit check failed for %s: %v (failing open)", clientID, err)
		return nil
	}

	// Get count from ZCARD result (index 1)
	count := cmds[1].(*redis.IntCmd).Val()

	if count > int64(limitPerMinute) {
		return fmt.Errorf("rate limit exceeded: %d requests/minute (limit: %d)", count, limitPerMinute)
	}

	return nil
}

// getRateLimitStatusRedis returns current request count and window reset time
func getRateLimitStatusRedis(ctx context.Context, clientID string) (int, time.Time, error) {
	if redisClient == nil {
		count, resetTime := getRateLimitStatus(clientID)
		return count, resetTime, nil
	}

	key := fmt.Sprintf("ratelimit:%s", clientID)
	now := time.Now()

	// Count requests in current window
	minScore := now.Add(-time.Minute).Unix()
	count, err := redisClient.ZCount(ctx, key, fmt.Sprintf("%d", minScore), "+inf").Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to get rate limit status: %w", err)
	}

	// Rate limit resets at the start of next minute
	resetTime := now.Truncate(time.Minute).Add(time.Minute)

	return int(count), resetTime, nil
}

// flushRateLimitRedis removes all rate limit data for a client (admin operation)
func flushRateLimitRedis(ctx context.Context, clientID string) error {
	if redisClient == nil {
		return fmt.Errorf("redis not initialized")
	}

	key := fmt.Sprintf("ratelimit:%s", clientID)
	if err := redisClient.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to flush rate limit data: %w", err)
	}

	return nil
}

// closeRedis closes the Redis connection (cleanup on shutdown)
func closeRedis() error {
	if redisClient != nil {
		return redisClient.Close()
	}
	return nil
}

// ============================================================
// In-Memory Fallback (single instance deployments)
// ============================================================

// RateLimitEntry tracks request counts for in-memory rate limiting.
// Each client has an entry that tracks requests within a fixed window.
// When the window expires (1 minute), the counter resets.
type RateLimitEntry struct {
	Count     int
	ResetTime time.Time
	mu        sync.Mutex
}

var rateLimitMap = make(map[string]*RateLimitEntry)
var rateLimitMu sync.RWMutex

// checkRateLimit enforces the per-minute budget in process memory
func checkRateLimit(clientID string, limitPerMinute int) error {
	now := time.Now()

	rateLimitMu.Lock()
	defer rateLimitMu.Unlock()

	entry, exists := rateLimitMap[clientID]
	if !exists {
		// First request from this client
		rateLimitMap[clientID] = &RateLimitEntry{
			Count:     1,
			ResetTime: now.Add(time.Minute),
		}
		return nil
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	// Check if rate limit window has reset
	if now.After(entry.ResetTime) {
		entry.Count = 1
		entry.ResetTime = now.Add(time.Minute)
		return nil
	}

	// Increment counter
	entry.Count++

	// Check if limit exceeded
	if entry.Count > limitPerMinute {
		return fmt.Errorf("rate limit exceeded: %d requests/minute (limit: %d)", entry.Count, limitPerMinute)
	}

	return nil
}

// getRateLimitStatus returns current rate limit status for a client
func getRateLimitStatus(clientID string) (count int, resetTime time.Time) {
	rateLimitMu.RLock()
	defer rateLimitMu.RUnlock()

	entry, exists := rateLimitMap[clientID]
	if !exists {
		return 0, time.Time{}
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	return entry.Count, entry.ResetTime
}

// resetRateLimits clears all in-memory rate limit state
func resetRateLimits() {
	rateLimitMu.Lock()
	defer rateLimitMu.Unlock()
	rateLimitMap = make(map[string]*RateLimitEntry)
}
