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
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"axonflow/claude-wrapper/claude"
	"axonflow/claude-wrapper/claude/auth"
	"axonflow/claude-wrapper/common/usage"
	"axonflow/claude-wrapper/session"
	"axonflow/claude-wrapper/shared/logger"
)

// Claude Wrapper - OpenAI-compatible HTTP facade over Claude
// Translates Chat Completions requests into Claude calls across the
// credential fallback chain (CLI keychain, API key, Bedrock, Vertex).

// Service state, initialized by Run
var (
	wrapperConfig  Config
	wrapperLogger  *logger.Logger
	authManager    *auth.Manager
	sessionManager *session.Manager
	usageTracker   *usage.Tracker
	usageRecorder  *usage.Recorder
	usageDB        *sql.DB
)

// Application readiness state for health checks
// This allows the health endpoint to respond immediately while initialization happens
var appReady atomic.Bool

// Global router and server - allows health checks to pass immediately while initialization happens
var (
	globalRouter *mux.Router
	globalCORS   *cors.Cors
)

// Completion router lifecycle. The router is built lazily from the
// detected credential chain so the wrapper can start with no
// credentials at all; it is rebuilt after POST /v1/auth/refresh.
var (
	routerMu     sync.Mutex
	activeRouter *claude.Router
)

// buildProviders resolves the provider failover chain. Replaceable in tests.
var buildProviders = func(ctx context.Context) ([]claude.Provider, error) {
	return authManager.Providers(ctx)
}

// getRouter returns the active completion router, building it on first
// use. Returns auth.NoCredentialsError when no credential method works.
func getRouter(ctx context.Context) (*claude.Router, error) {
	routerMu.Lock()
	defer routerMu.Unlock()

	if activeRouter != nil {
		return activeRouter, nil
	}

	providers, err := buildProviders(ctx)
	if err != nil {
		return nil, err
	}

	router, err := claude.NewRouter(providers, wrapperLogger)
	if err != nil {
		return nil, err
	}

	activeRouter = router
	return activeRouter, nil
}

// resetRouter drops the active router so the next request rebuilds it
// from a fresh credential detection.
func resetRouter() {
	routerMu.Lock()
	defer routerMu.Unlock()
	activeRouter = nil
}

// initServerImmediately starts the HTTP server immediately with just /health endpoint.
// This allows container health checks to pass during the potentially slow
// initialization phase (credential probing, database, Redis). Other routes are
// added after initialization completes. The server NEVER shuts down -
// eliminating any transition gaps that could cause health check failures.
func initServerImmediately(port string, corsOrigins []string) {
	globalRouter = mux.NewRouter()

	// CORS middleware - configured once, used for all requests
	globalCORS = cors.New(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	// Register health check immediately - responds even during initialization
	globalRouter.HandleFunc("/health", readinessAwareHealthHandler).Methods("GET")

	// Start server immediately in goroutine - health checks will pass right away
	go func() {
		handler := globalCORS.Handler(globalRouter)
		log.Printf("🚀 Claude Wrapper starting on port %s (status: starting)", port)
		if err := http.ListenAndServe(":"+port, handler); err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Small delay to ensure server is ready to accept connections
	time.Sleep(50 * time.Millisecond)
	log.Println("✅ Health endpoint ready - initialization can proceed safely")
}

// readinessAwareHealthHandler returns health status based on initialization state
func readinessAwareHealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	status := "starting"
	if appReady.Load() {
		status = "healthy"
	}
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    status,
		"service":   "claude-wrapper",
		"timestamp": time.Now().UTC(),
		"version":   "1.0.0",
	}); err != nil {
		log.Printf("Error encoding health response: %v", err)
	}
}

// Run is the exported entry point for the wrapper service.
func Run() {
	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	wrapperConfig = cfg
	wrapperLogger = logger.New("claude-wrapper")

	// Start server IMMEDIATELY with /health endpoint so container health
	// checks pass during initialization. Other routes are added after
	// initialization completes. The server NEVER shuts down.
	initServerImmediately(cfg.Port, cfg.CORSOrigins)

	// Initialize metrics
	wrapperMetrics = newWrapperMetrics()
	usageTracker = usage.NewTracker()

	// Probe the Claude credential chain. The wrapper starts even when
	// nothing is available: requests fail with 401 until credentials
	// appear and POST /v1/auth/refresh re-detects them.
	authManager = auth.NewManager(wrapperLogger)
	detectCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	detections := authManager.DetectAll(detectCtx)
	cancel()

	available := 0
	for _, d := range detections {
		if d.Available {
			available++
			log.Printf("✅ Claude credentials: %s (%s)", d.Method, d.Detail)
		} else {
			log.Printf("ℹ️  Claude credentials: %s unavailable (%s)", d.Method, d.Reason)
		}
	}
	if available == 0 {
		log.Println("⚠️  No Claude credentials detected - completions will return 401 until credentials are configured")
	}

	// Session store with TTL janitor
	sessionManager = session.NewManager(session.Config{
		TTL:             cfg.SessionTTL,
		CleanupInterval: cfg.SessionCleanupInterval,
		Logger:          wrapperLogger,
	})
	sessionManager.Start(context.Background())
	log.Printf("✅ Session store ready (ttl: %s, sweep: %s)", cfg.SessionTTL, cfg.SessionCleanupInterval)

	// PostgreSQL usage metering (optional)
	if cfg.DatabaseURL != "" {
		usageDB, err = sql.Open("postgres", cfg.DatabaseURL)
		if err == nil {
			err = usageDB.Ping()
		}
		if err != nil {
			log.Printf("⚠️  Usage metering database unavailable: %v (metering disabled)", err)
			usageDB = nil
		} else {
			log.Println("✅ Usage metering database connected")
		}
	} else {
		log.Println("ℹ️  DATABASE_URL not set - usage metering disabled")
	}
	usageRecorder = usage.NewRecorder(usageDB)

	// Redis for distributed rate limiting (optional)
	if cfg.RedisURL != "" {
		if err := initRedis(cfg.RedisURL); err != nil {
			log.Printf("Warning: Failed to initialize Redis: %v", err)
			log.Println("Falling back to in-memory rate limiting")
		} else {
			log.Println("✅ Redis rate limiting enabled")
		}
	} else if cfg.RateLimitPerMinute > 0 {
		log.Println("ℹ️  REDIS_URL not set - using in-memory rate limiting")
	}

	// Register all routes on the global router (server is already running with /health)
	// /health was registered in initServerImmediately() - now add all other routes

	// Metrics endpoint for real performance data (JSON format)
	globalRouter.HandleFunc("/metrics", metricsHandler).Methods("GET")

	// Prometheus metrics endpoint (Prometheus exposition format)
	globalRouter.Handle("/prometheus", promhttp.Handler()).Methods("GET")

	// OpenAI-compatible surface
	globalRouter.HandleFunc("/v1/models", listModelsHandler).Methods("GET")
	globalRouter.HandleFunc("/v1/models/{id}", getModelHandler).Methods("GET")
	globalRouter.HandleFunc("/v1/chat/completions", chatCompletionsHandler).Methods("POST")

	// Session management endpoints
	// /stats must be registered before the {id} routes so mux does not
	// capture "stats" as a session ID
	globalRouter.HandleFunc("/v1/sessions/stats", sessionStatsHandler).Methods("GET")
	globalRouter.HandleFunc("/v1/sessions", listSessionsHandler).Methods("GET")
	globalRouter.HandleFunc("/v1/sessions/{id}", getSessionHandler).Methods("GET")
	globalRouter.HandleFunc("/v1/sessions/{id}", deleteSessionHandler).Methods("DELETE")

	// Credential inspection endpoints
	globalRouter.HandleFunc("/v1/auth/status", authStatusHandler).Methods("GET")
	globalRouter.HandleFunc("/v1/auth/refresh", authRefreshHandler).Methods("POST")

	// OpenAI parameter compatibility report
	globalRouter.HandleFunc("/v1/compatibility", compatibilityHandler).Methods("POST")

	// Debug endpoint (only when DEBUG_MODE=true)
	if cfg.DebugMode {
		globalRouter.HandleFunc("/v1/debug/request", debugRequestHandler).Methods("POST")
		log.Println("⚠️  DEBUG_MODE enabled - /v1/debug/request is exposed")
	}

	// Mark application as ready - /health will now return "healthy"
	appReady.Store(true)
	log.Println("✅ All initialization complete - application ready")
	log.Printf("🚀 Claude Wrapper fully operational on port %s", cfg.Port)

	// Block forever - server is running in goroutine, nothing else to do
	select {}
}
