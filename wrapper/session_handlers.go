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

	"github.com/gorilla/mux"
)

// Session management endpoints. Sessions are a wrapper extension to the
// OpenAI surface: clients pass session_id in chat requests and inspect
// or drop the stored conversations here.

// listSessionsHandler serves GET /v1/sessions
func listSessionsHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := authenticateRequest(r); err != nil {
		writeOpenAIError(w, http.StatusUnauthorized, "Authentication failed: "+err.Error(), "authentication_error", "")
		return
	}

	summaries := sessionManager.List()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": summaries,
		"count":    len(summaries),
	})
}

// sessionStatsHandler serves GET /v1/sessions/stats
func sessionStatsHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := authenticateRequest(r); err != nil {
		writeOpenAIError(w, http.StatusUnauthorized, "Authentication failed: "+err.Error(), "authentication_error", "")
		return
	}

	writeJSON(w, http.StatusOK, sessionManager.Stats())
}

// getSessionHandler serves GET /v1/sessions/{id}
func getSessionHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := authenticateRequest(r); err != nil {
		writeOpenAIError(w, http.StatusUnauthorized, "Authentication failed: "+err.Error(), "authentication_error", "")
		return
	}

	id := mux.Vars(r)["id"]
	sess := sessionManager.Get(id)
	if sess == nil {
		writeOpenAIError(w, http.StatusNotFound, "Session '"+id+"' not found", "invalid_request_error", "session_not_found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":            sess.ID,
		"messages":      sess.Messages,
		"message_count": len(sess.Messages),
		"created_at":    sess.CreatedAt,
		"last_accessed": sess.LastAccessed,
		"expires_at":    sess.ExpiresAt,
	})
}

// deleteSessionHandler serves DELETE /v1/sessions/{id}
func deleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := authenticateRequest(r); err != nil {
		writeOpenAIError(w, http.StatusUnauthorized, "Authentication failed: "+err.Error(), "authentication_error", "")
		return
	}

	id := mux.Vars(r)["id"]
	if !sessionManager.Delete(id) {
		writeOpenAIError(w, http.StatusNotFound, "Session '"+id+"' not found", "invalid_request_error", "session_not_found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":      id,
		"deleted": true,
	})
}

// writeJSON writes a JSON response body with the given status
func writeJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}
