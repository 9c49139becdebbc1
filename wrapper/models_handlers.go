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
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"axonflow/claude-wrapper/claude"
)

// modelCatalogFallbackCreated is used for models whose id carries no
// release date (Unix time of 2024-01-01).
const modelCatalogFallbackCreated = 1704067200

// listModelsHandler serves GET /v1/models in the OpenAI list shape
func listModelsHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := authenticateRequest(r); err != nil {
		writeOpenAIError(w, http.StatusUnauthorized, "Authentication failed: "+err.Error(), "authentication_error", "")
		return
	}

	ids := claude.SupportedModels()
	data := make([]ModelInfo, 0, len(ids))
	for _, id := range ids {
		data = append(data, modelInfoFor(id))
	}

	writeJSON(w, http.StatusOK, ModelList{Object: "list", Data: data})
}

// getModelHandler serves GET /v1/models/{id}
func getModelHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := authenticateRequest(r); err != nil {
		writeOpenAIError(w, http.StatusUnauthorized, "Authentication failed: "+err.Error(), "authentication_error", "")
		return
	}

	id := mux.Vars(r)["id"]
	if !claude.IsValidModel(id) {
		writeOpenAIError(w, http.StatusNotFound,
			"The model '"+id+"' does not exist or is not a Claude model", "invalid_request_error", "model_not_found")
		return
	}

	writeJSON(w, http.StatusOK, modelInfoFor(claude.ResolveModelAlias(id)))
}

func modelInfoFor(id string) ModelInfo {
	caps := claude.CapabilitiesFor(id)
	return ModelInfo{
		ID:           id,
		Object:       "model",
		Created:      modelCreatedUnix(id),
		OwnedBy:      "anthropic",
		Capabilities: &caps,
	}
}

// modelCreatedUnix derives the OpenAI "created" timestamp from the
// date suffix of a dated model id, e.g. claude-sonnet-4-20250514.
func modelCreatedUnix(id string) int64 {
	idx := strings.LastIndexAny(id, "-@")
	if idx < 0 || idx == len(id)-1 {
		return modelCatalogFallbackCreated
	}
	t, err := time.Parse("20060102", id[idx+1:])
	if err != nil {
		return modelCatalogFallbackCreated
	}
	return t.Unix()
}
