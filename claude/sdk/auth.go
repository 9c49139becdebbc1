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
	"net/http"
)

// AuthProvider provides authentication for upstream HTTP requests.
type AuthProvider interface {
	// Apply adds authentication to an HTTP request.
	Apply(req *http.Request) error
}

// APIKeyAuth places an API key in a request header.
// Anthropic's Messages API expects the key in "x-api-key".
type APIKeyAuth struct {
	key    string
	header string
}

// NewAPIKeyAuth creates an API key authenticator using the "x-api-key"
// header.
func NewAPIKeyAuth(key string) *APIKeyAuth {
	return &APIKeyAuth{
		key:    key,
		header: "x-api-key",
	}
}

// NewAPIKeyAuthWithHeader creates an API key authenticator with a custom
// header name.
func NewAPIKeyAuthWithHeader(key, headerName string) *APIKeyAuth {
	return &APIKeyAuth{
		key:    key,
		header: headerName,
	}
}

// Apply adds the API key to the request.
func (a *APIKeyAuth) Apply(req *http.Request) error {
	req.Header.Set(a.header, a.key)
	return nil
}

// BearerTokenAuth provides bearer token authentication. Used for the
// Claude CLI OAuth token and for Vertex access tokens.
type BearerTokenAuth struct {
	token string
}

// NewBearerTokenAuth creates a bearer token authenticator.
func NewBearerTokenAuth(token string) *BearerTokenAuth {
	return &BearerTokenAuth{token: token}
}

// Apply adds the bearer token to the request.
func (a *BearerTokenAuth) Apply(req *http.Request) error {
	req.Header.Set("Authorization", "Bearer "+a.token)
	return nil
}

// NoAuth is a no-op authentication provider for transports that
// authenticate at a lower layer (e.g. SigV4 inside the AWS SDK).
type NoAuth struct{}

// NewNoAuth creates a no-op authenticator.
func NewNoAuth() *NoAuth {
	return &NoAuth{}
}

// Apply does nothing.
func (a *NoAuth) Apply(req *http.Request) error {
	return nil
}

// Ensure implementations satisfy the interface.
var (
	_ AuthProvider = (*APIKeyAuth)(nil)
	_ AuthProvider = (*BearerTokenAuth)(nil)
	_ AuthProvider = (*NoAuth)(nil)
)
