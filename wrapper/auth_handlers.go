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

	"axonflow/claude-wrapper/adapter"
	"axonflow/claude-wrapper/claude/auth"
)

// Credential inspection endpoints. These report on the UPSTREAM Claude
// credential chain, not on the wrapper's own inbound auth.

// authStatusFn resolves the credential status report. Replaceable in tests.
var authStatusFn = func(ctx context.Context) *auth.Status {
	return authManager.Status(ctx)
}

// authRefreshFn drops cached detections and the active completion
// router. Replaceable in tests.
var authRefreshFn = func() {
	authManager.Refresh()
	resetRouter()
}

// statusReport augments the upstream credential status with whether the
// wrapper itself requires inbound credentials.
type statusReport struct {
	*auth.Status
	ServerProtected bool `json:"server_protected"`
}

func newStatusReport(status *auth.Status) statusReport {
	return statusReport{
		Status:          status,
		ServerProtected: wrapperConfig.APIKey != "" || wrapperConfig.JWTSecret != "",
	}
}

// authStatusHandler serves GET /v1/auth/status
func authStatusHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := authenticateRequest(r); err != nil {
		writeOpenAIError(w, http.StatusUnauthorized, "Authentication failed: "+err.Error(), "authentication_error", "")
		return
	}

	writeJSON(w, http.StatusOK, newStatusReport(authStatusFn(r.Context())))
}

// authRefreshHandler serves POST /v1/auth/refresh. Credentials can
// appear while the wrapper runs (a login, a new env file, an instance
// role); this re-probes the chain and rebuilds the completion router.
func authRefreshHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := authenticateRequest(r); err != nil {
		writeOpenAIError(w, http.StatusUnauthorized, "Authentication failed: "+err.Error(), "authentication_error", "")
		return
	}

	authRefreshFn()
	status := authStatusFn(r.Context())

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"refreshed": true,
		"status":    newStatusReport(status),
	})
}

// compatibilityHandler serves POST /v1/compatibility. Clients submit a
// Chat Completions payload and get back which of its parameters the
// wrapper supports, ignores, or does not recognize.
func compatibilityHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := authenticateRequest(r); err != nil {
		writeOpenAIError(w, http.StatusUnauthorized, "Authentication failed: "+err.Error(), "authentication_error", "")
		return
	}

	var payload map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeOpenAIError(w, http.StatusBadRequest, "Invalid request body: "+err.Error(), "invalid_request_error", "")
		return
	}

	writeJSON(w, http.StatusOK, adapter.CheckCompatibility(payload))
}

// debugRequestHandler serves POST /v1/debug/request when DEBUG_MODE is
// enabled. It echoes how the wrapper parses and validates a request so
// client integrations can be diagnosed without burning tokens.
func debugRequestHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := authenticateRequest(r); err != nil {
		writeOpenAIError(w, http.StatusUnauthorized, "Authentication failed: "+err.Error(), "authentication_error", "")
		return
	}
	if !wrapperConfig.DebugMode {
		writeOpenAIError(w, http.StatusNotFound, "Debug endpoint is disabled", "invalid_request_error", "")
		return
	}

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeOpenAIError(w, http.StatusBadRequest, "Invalid request body: "+err.Error(), "invalid_request_error", "")
		return
	}

	headers := make(map[string]string, len(r.Header))
	for name := range r.Header {
		value := r.Header.Get(name)
		if name == "Authorization" {
			value = maskString(value)
		}
		headers[name] = value
	}

	// Re-run the chat pipeline's parse and validation steps
	validationErrors := []string{}
	var req ChatCompletionRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		validationErrors = append(validationErrors, err.Error())
	} else {
		if err := validateChatRequest(&req); err != nil {
			validationErrors = append(validationErrors, err.Error())
		}
		if _, _, err := adapter.MessagesToRequest(req.Messages); err != nil {
			validationErrors = append(validationErrors, err.Error())
		}
	}

	var payload map[string]interface{}
	compat := adapter.CheckCompatibility(nil)
	if err := json.Unmarshal(raw, &payload); err == nil {
		compat = adapter.CheckCompatibility(payload)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"method":            r.Method,
		"path":              r.URL.Path,
		"headers":           headers,
		"body":              raw,
		"valid":             len(validationErrors) == 0,
		"validation_errors": validationErrors,
		"compatibility":     compat,
	})
}
