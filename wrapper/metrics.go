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
	"encoding/json"
	"log"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics
var (
	promRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "axonflow_wrapper_requests_total",
			Help: "Total number of requests processed by the wrapper",
		},
		[]string{"endpoint", "status"},
	)
	promRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "axonflow_wrapper_request_duration_milliseconds",
			Help:    "Request duration in milliseconds",
			Buckets: []float64{50, 100, 200, 500, 1000, 2000, 5000, 10000, 30000, 60000},
		},
		[]string{"endpoint"},
	)
	promTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "axonflow_wrapper_tokens_total",
			Help: "Total tokens consumed, labelled by provider, model and direction",
		},
		[]string{"provider", "model", "type"},
	)
	promFailoversTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "axonflow_wrapper_failovers_total",
			Help: "Total number of completions that failed over to a backup provider",
		},
	)
	promActiveStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "axonflow_wrapper_active_streams",
			Help: "Number of SSE streams currently open",
		},
	)
)

func init() {
	// Register Prometheus metrics
	prometheus.MustRegister(promRequestsTotal)
	prometheus.MustRegister(promRequestDuration)
	prometheus.MustRegister(promTokensTotal)
	prometheus.MustRegister(promFailoversTotal)
	prometheus.MustRegister(promActiveStreams)
}

// WrapperMetrics tracks real performance metrics for the JSON /metrics
// endpoint. Prometheus counters above serve the scrape endpoint; this
// struct serves human-readable dashboards.
type WrapperMetrics struct {
	mu sync.RWMutex

	// Request counters
	totalRequests     int64
	successRequests   int64
	failedRequests    int64
	streamingRequests int64

	// Latency tracking, last 1000 requests for percentile calculation
	lastLatencies []int64

	startTime time.Time
}

// Global metrics instance
var wrapperMetrics *WrapperMetrics

func newWrapperMetrics() *WrapperMetrics {
	return &WrapperMetrics{
		lastLatencies: make([]int64, 0, 1000),
		startTime:     time.Now(),
	}
}

// recordLatency adds a latency measurement for percentile calculation
func (m *WrapperMetrics) recordLatency(latencyMs int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.lastLatencies) >= 1000 {
		m.lastLatencies = m.lastLatencies[1:]
	}
	m.lastLatencies = append(m.lastLatencies, latencyMs)
}

// calculatePercentile calculates any percentile from latencies
func calculatePercentile(latencies []int64, percentile float64) float64 {
	if len(latencies) == 0 {
		return 0
	}

	// Make a copy to avoid modifying original
	sorted := make([]int64, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(float64(len(sorted)) * percentile)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}

	return float64(sorted[idx])
}

// calculateAverage calculates the mean latency in milliseconds
func calculateAverage(latencies []int64) float64 {
	if len(latencies) == 0 {
		return 0
	}

	var sum int64
	for _, lat := range latencies {
		sum += lat
	}
	return float64(sum) / float64(len(latencies))
}

// metricsHandler returns real-time performance metrics in JSON format
func metricsHandler(w http.ResponseWriter, r *http.Request) {
	// Safety check for nil metrics
	if wrapperMetrics == nil {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]interface{}{
			"error":     "Metrics not initialized",
			"timestamp": time.Now().UTC(),
		}); err != nil {
			log.Printf("Error encoding metrics error response: %v", err)
		}
		return
	}

	wrapperMetrics.mu.RLock()
	uptime := time.Since(wrapperMetrics.startTime).Seconds()
	totalReqs := atomic.LoadInt64(&wrapperMetrics.totalRequests)
	successReqs := atomic.LoadInt64(&wrapperMetrics.successRequests)
	failedReqs := atomic.LoadInt64(&wrapperMetrics.failedRequests)
	streamingReqs := atomic.LoadInt64(&wrapperMetrics.streamingRequests)

	p50 := calculatePercentile(wrapperMetrics.lastLatencies, 0.50)
	p95 := calculatePercentile(wrapperMetrics.lastLatencies, 0.95)
	p99 := calculatePercentile(wrapperMetrics.lastLatencies, 0.99)
	avgLatency := calculateAverage(wrapperMetrics.lastLatencies)
	wrapperMetrics.mu.RUnlock()

	rps := float64(0)
	if uptime > 0 {
		rps = float64(totalReqs) / uptime
	}

	successRate := float64(100.0)
	if totalReqs > 0 {
		successRate = float64(successReqs) * 100.0 / float64(totalReqs)
	}

	payload := map[string]interface{}{
		"wrapper_metrics": map[string]interface{}{
			"uptime_seconds":     uptime,
			"total_requests":     totalReqs,
			"success_requests":   successReqs,
			"failed_requests":    failedReqs,
			"streaming_requests": streamingReqs,
			"success_rate":       successRate,
			"rps":                rps,

			"p50_ms":         p50,
			"p95_ms":         p95,
			"p99_ms":         p99,
			"avg_latency_ms": avgLatency,
		},
		"timestamp": time.Now().UTC(),
	}

	// Token usage and session counters come from their own stores
	if usageTracker != nil {
		payload["usage"] = usageTracker.Summary()
	}
	if sessionManager != nil {
		payload["sessions"] = sessionManager.Stats()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("Error encoding metrics response: %v", err)
	}
}
