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

package claude

import (
	"context"
	"fmt"
	"sync"
	"time"

	"axonflow/claude-wrapper/shared/logger"
)

// Router dispatches completions across an ordered provider chain.
// The first provider is the primary; the rest are failover targets,
// tried in order when the active one fails with a recoverable error.
//
// Failover is attempted for transient upstream failures and for
// authentication failures (each transport carries its own credentials,
// so an expired token on one does not condemn the others). Request-shaped
// errors such as invalid_request or model_not_found are returned as-is:
// they would fail identically everywhere.
type Router struct {
	providers []Provider
	metrics   *routeMetricsTracker
	logger    *logger.Logger
	mu        sync.RWMutex
}

// RouteInfo describes how a single request was served.
type RouteInfo struct {
	Provider       string     `json:"provider"`
	Method         AuthMethod `json:"method"`
	Model          string     `json:"model"`
	ResponseTimeMs int64      `json:"response_time_ms"`
	TokensUsed     int        `json:"tokens_used"`
	Attempts       int        `json:"attempts"`
	FailedOver     bool       `json:"failed_over"`
}

// RouteMetrics accumulates per-provider routing counters.
type RouteMetrics struct {
	RequestCount    int64   `json:"request_count"`
	ErrorCount      int64   `json:"error_count"`
	AvgResponseTime float64 `json:"avg_response_time_ms"`
}

// ProviderRouteStatus is one provider's entry in the router status report.
type ProviderRouteStatus struct {
	Name    string            `json:"name"`
	Method  AuthMethod        `json:"method"`
	Primary bool              `json:"primary"`
	Health  HealthCheckResult `json:"health"`
	Metrics RouteMetrics      `json:"metrics"`
}

// NewRouter creates a router over the given chain. The slice order is
// the failover order.
func NewRouter(providers []Provider, log *logger.Logger) (*Router, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("at least one provider is required")
	}
	if log == nil {
		log = logger.New("claude-router")
	}

	return &Router{
		providers: providers,
		metrics:   newRouteMetricsTracker(),
		logger:    log,
	}, nil
}

// Primary returns the provider currently first in the chain.
func (r *Router) Primary() Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[0]
}

// Providers returns the chain in failover order.
func (r *Router) Providers() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, len(r.providers))
	copy(out, r.providers)
	return out
}

// Complete runs a completion through the chain, failing over on
// recoverable errors.
func (r *Router) Complete(ctx context.Context, req Request) (*Response, *RouteInfo, error) {
	chain := r.Providers()

	var lastErr error
	for i, provider := range chain {
		start := time.Now()
		resp, err := provider.Complete(ctx, req)
		if err == nil {
			latency := time.Since(start)
			r.metrics.recordSuccess(provider.Name(), latency)
			return resp, r.routeInfo(provider, resp, latency, i), nil
		}

		r.metrics.recordError(provider.Name())
		lastErr = err

		if ctx.Err() != nil {
			return nil, nil, err
		}
		if !shouldFailover(err) {
			return nil, nil, err
		}
		if i < len(chain)-1 {
			r.logger.Warn("", "", "Failing over to next provider", map[string]interface{}{
				"from":  provider.Name(),
				"to":    chain[i+1].Name(),
				"error": err.Error(),
			})
		}
	}

	return nil, nil, fmt.Errorf("all providers failed: %w", lastErr)
}

// CompleteStream runs a streaming completion through the chain. Failover
// only happens before the first chunk reaches the handler; once output
// has been delivered the stream is committed to its provider.
func (r *Router) CompleteStream(ctx context.Context, req Request, handler StreamHandler) (*Response, *RouteInfo, error) {
	chain := r.Providers()

	var lastErr error
	for i, provider := range chain {
		delivered := false
		wrapped := func(chunk StreamChunk) error {
			delivered = true
			return handler(chunk)
		}

		start := time.Now()
		resp, err := provider.CompleteStream(ctx, req, wrapped)
		if err == nil {
			latency := time.Since(start)
			r.metrics.recordSuccess(provider.Name(), latency)
			return resp, r.routeInfo(provider, resp, latency, i), nil
		}

		r.metrics.recordError(provider.Name())
		lastErr = err

		if delivered || ctx.Err() != nil || !shouldFailover(err) {
			return nil, nil, err
		}
		if i < len(chain)-1 {
			r.logger.Warn("", "", "Failing over to next provider", map[string]interface{}{
				"from":  provider.Name(),
				"to":    chain[i+1].Name(),
				"error": err.Error(),
			})
		}
	}

	return nil, nil, fmt.Errorf("all providers failed: %w", lastErr)
}

// Status reports health and routing metrics for every provider in the
// chain.
func (r *Router) Status(ctx context.Context) []ProviderRouteStatus {
	chain := r.Providers()

	statuses := make([]ProviderRouteStatus, 0, len(chain))
	for i, provider := range chain {
		s := ProviderRouteStatus{
			Name:    provider.Name(),
			Method:  provider.Method(),
			Primary: i == 0,
			Metrics: r.metrics.get(provider.Name()),
		}
		if health, err := provider.HealthCheck(ctx); err == nil && health != nil {
			s.Health = *health
		} else {
			s.Health = HealthCheckResult{
				Status:      HealthStatusUnhealthy,
				Message:     fmt.Sprintf("health check failed: %v", err),
				LastChecked: time.Now(),
			}
		}
		statuses = append(statuses, s)
	}
	return statuses
}

// Healthy reports whether any provider in the chain is usable.
func (r *Router) Healthy(ctx context.Context) bool {
	for _, provider := range r.Providers() {
		health, err := provider.HealthCheck(ctx)
		if err != nil || health == nil {
			continue
		}
		if health.Status == HealthStatusHealthy || health.Status == HealthStatusDegraded {
			return true
		}
	}
	return false
}

func (r *Router) routeInfo(p Provider, resp *Response, latency time.Duration, attempt int) *RouteInfo {
	info := &RouteInfo{
		Provider:       p.Name(),
		Method:         p.Method(),
		ResponseTimeMs: latency.Milliseconds(),
		Attempts:       attempt + 1,
		FailedOver:     attempt > 0,
	}
	if resp != nil {
		info.Model = resp.Model
		info.TokensUsed = resp.Usage.TotalTokens
	}
	return info
}

// shouldFailover reports whether an error is worth retrying on the next
// provider in the chain.
func shouldFailover(err error) bool {
	return IsRetryable(err) || IsAuthError(err)
}

// routeMetricsTracker tracks per-provider routing counters.
type routeMetricsTracker struct {
	metrics map[string]*RouteMetrics
	mu      sync.RWMutex
}

func newRouteMetricsTracker() *routeMetricsTracker {
	return &routeMetricsTracker{
		metrics: make(map[string]*RouteMetrics),
	}
}

func (t *routeMetricsTracker) recordSuccess(provider string, latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.metrics[provider]; !exists {
		t.metrics[provider] = &RouteMetrics{}
	}

	m := t.metrics[provider]
	m.RequestCount++

	// Incremental average keeps the update O(1)
	totalMs := float64(m.RequestCount-1) * m.AvgResponseTime
	totalMs += float64(latency.Milliseconds())
	m.AvgResponseTime = totalMs / float64(m.RequestCount)
}

func (t *routeMetricsTracker) recordError(provider string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.metrics[provider]; !exists {
		t.metrics[provider] = &RouteMetrics{}
	}
	t.metrics[provider].ErrorCount++
}

func (t *routeMetricsTracker) get(provider string) RouteMetrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if m, exists := t.metrics[provider]; exists {
		return *m
	}
	return RouteMetrics{}
}
