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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"axonflow/claude-wrapper/claude"
)

func TestReadinessAwareHealthHandler(t *testing.T) {
	oldReady := appReady.Load()
	defer appReady.Store(oldReady)

	appReady.Store(false)
	req := httptest.NewRequest("GET", "/health", nil)
	rr := httptest.NewRecorder()
	readinessAwareHealthHandler(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 during startup, got %d", rr.Code)
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp["status"] != "starting" {
		t.Errorf("expected status starting, got %v", resp["status"])
	}
	if resp["service"] != "claude-wrapper" {
		t.Errorf("expected service claude-wrapper, got %v", resp["service"])
	}

	appReady.Store(true)
	rr = httptest.NewRecorder()
	readinessAwareHealthHandler(rr, req)
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp["status"] != "healthy" {
		t.Errorf("expected status healthy, got %v", resp["status"])
	}
}

func TestMetricsHandler(t *testing.T) {
	setupHandlerTest(t)

	wrapperMetrics.totalRequests = 10
	wrapperMetrics.successRequests = 8
	wrapperMetrics.failedRequests = 2
	wrapperMetrics.recordLatency(100)
	wrapperMetrics.recordLatency(200)
	usageTracker.Track("anthropic", "claude-sonnet-4-20250514", 100, 50)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rr := httptest.NewRecorder()
	metricsHandler(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	wm, ok := resp["wrapper_metrics"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected wrapper_metrics object, got %v", resp)
	}
	if wm["total_requests"] != float64(10) {
		t.Errorf("expected 10 total requests, got %v", wm["total_requests"])
	}
	if wm["success_rate"] != float64(80) {
		t.Errorf("expected 80%% success rate, got %v", wm["success_rate"])
	}
	if wm["avg_latency_ms"] != float64(150) {
		t.Errorf("expected average latency 150, got %v", wm["avg_latency_ms"])
	}

	if _, ok := resp["usage"]; !ok {
		t.Error("expected usage block in metrics")
	}
	if _, ok := resp["sessions"]; !ok {
		t.Error("expected sessions block in metrics")
	}
}

func TestMetricsHandlerUninitialized(t *testing.T) {
	old := wrapperMetrics
	wrapperMetrics = nil
	defer func() { wrapperMetrics = old }()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rr := httptest.NewRecorder()
	metricsHandler(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp["error"] == nil {
		t.Error("expected error field for uninitialized metrics")
	}
}

func TestCalculatePercentile(t *testing.T) {
	latencies := []int64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}

	if p50 := calculatePercentile(latencies, 0.50); p50 != 60 {
		t.Errorf("expected p50 60, got %f", p50)
	}
	if p95 := calculatePercentile(latencies, 0.95); p95 != 100 {
		t.Errorf("expected p95 100, got %f", p95)
	}
	if p := calculatePercentile(nil, 0.95); p != 0 {
		t.Errorf("expected 0 for empty slice, got %f", p)
	}

	// The input must not be reordered
	shuffled := []int64{50, 10, 40, 20, 30}
	_ = calculatePercentile(shuffled, 0.5)
	if shuffled[0] != 50 || shuffled[1] != 10 {
		t.Error("expected percentile calculation to leave input untouched")
	}
}

func TestGetRouterCachesAndResets(t *testing.T) {
	setupHandlerTest(t)

	builds := 0
	old := buildProviders
	buildProviders = func(ctx context.Context) ([]claude.Provider, error) {
		builds++
		return []claude.Provider{&fakeClaudeProvider{}}, nil
	}
	resetRouter()
	t.Cleanup(func() {
		buildProviders = old
		resetRouter()
	})

	if _, err := getRouter(context.Background()); err != nil {
		t.Fatalf("getRouter failed: %v", err)
	}
	if _, err := getRouter(context.Background()); err != nil {
		t.Fatalf("second getRouter failed: %v", err)
	}
	if builds != 1 {
		t.Errorf("expected one provider build for cached router, got %d", builds)
	}

	resetRouter()
	if _, err := getRouter(context.Background()); err != nil {
		t.Fatalf("getRouter after reset failed: %v", err)
	}
	if builds != 2 {
		t.Errorf("expected rebuild after reset, got %d builds", builds)
	}
}

func TestGetRouterPropagatesBuildError(t *testing.T) {
	setupHandlerTest(t)
	installProviderError(t, &claude.ProviderError{
		Provider: "detector",
		Code:     claude.ErrCodeAuth,
		Message:  "nothing configured",
	})

	if _, err := getRouter(context.Background()); err == nil {
		t.Error("expected build error to propagate")
	}

	// Failed builds are not cached
	installProviders(t, &fakeClaudeProvider{})
	if _, err := getRouter(context.Background()); err != nil {
		t.Errorf("expected recovery after credentials appear: %v", err)
	}
}
