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
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// setAuthConfig swaps the global config for the duration of a test.
func setAuthConfig(t *testing.T, apiKey, jwtSecret string) {
	t.Helper()
	old := wrapperConfig
	wrapperConfig = DefaultConfig()
	wrapperConfig.APIKey = apiKey
	wrapperConfig.JWTSecret = jwtSecret
	t.Cleanup(func() { wrapperConfig = old })
}

func signTestJWT(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return token
}

func TestAuthenticateRequestOpenAccess(t *testing.T) {
	setAuthConfig(t, "", "")

	req := httptest.NewRequest("POST", "/v1/chat/completions", nil)
	clientID, err := authenticateRequest(req)
	if err != nil {
		t.Fatalf("expected open access, got error: %v", err)
	}
	if clientID != anonymousClientID {
		t.Errorf("expected anonymous client, got %s", clientID)
	}

	// A header on an open wrapper is simply ignored
	req.Header.Set("Authorization", "Bearer anything")
	clientID, err = authenticateRequest(req)
	if err != nil {
		t.Fatalf("expected open access with header, got error: %v", err)
	}
	if clientID != anonymousClientID {
		t.Errorf("expected anonymous client, got %s", clientID)
	}
}

func TestAuthenticateRequestAPIKey(t *testing.T) {
	setAuthConfig(t, "sk-wrapper-secret", "")

	tests := []struct {
		name        string
		header      string
		wantClient  string
		wantErr     bool
		errContains string
	}{
		{
			name:       "valid key",
			header:     "Bearer sk-wrapper-secret",
			wantClient: "api-key",
		},
		{
			name:       "lowercase scheme accepted",
			header:     "bearer sk-wrapper-secret",
			wantClient: "api-key",
		},
		{
			name:        "wrong key",
			header:      "Bearer sk-wrong",
			wantErr:     true,
			errContains: "invalid API key",
		},
		{
			name:        "missing header",
			header:      "",
			wantErr:     true,
			errContains: "missing Authorization header",
		},
		{
			name:        "non-bearer scheme",
			header:      "Basic c2std3JhcHBlcg==",
			wantErr:     true,
			errContains: "missing Authorization header",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/v1/chat/completions", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			clientID, err := authenticateRequest(req)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("expected error containing %q, got %q", tt.errContains, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if clientID != tt.wantClient {
				t.Errorf("expected client %q, got %q", tt.wantClient, clientID)
			}
		})
	}
}

func TestAuthenticateRequestJWT(t *testing.T) {
	const secret = "test-jwt-signing-secret"
	setAuthConfig(t, "", secret)

	t.Run("subject becomes client id", func(t *testing.T) {
		token := signTestJWT(t, secret, jwt.MapClaims{"sub": "client-42"})
		req := httptest.NewRequest("POST", "/v1/chat/completions", nil)
		req.Header.Set("Authorization", "Bearer "+token)

		clientID, err := authenticateRequest(req)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if clientID != "client-42" {
			t.Errorf("expected client-42, got %s", clientID)
		}
	})

	t.Run("client_id claim fallback", func(t *testing.T) {
		token := signTestJWT(t, secret, jwt.MapClaims{"client_id": "tenant-7"})
		req := httptest.NewRequest("POST", "/v1/chat/completions", nil)
		req.Header.Set("Authorization", "Bearer "+token)

		clientID, err := authenticateRequest(req)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if clientID != "tenant-7" {
			t.Errorf("expected tenant-7, got %s", clientID)
		}
	})

	t.Run("no identity claims", func(t *testing.T) {
		token := signTestJWT(t, secret, jwt.MapClaims{"scope": "chat"})
		req := httptest.NewRequest("POST", "/v1/chat/completions", nil)
		req.Header.Set("Authorization", "Bearer "+token)

		clientID, err := authenticateRequest(req)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if clientID != "jwt-client" {
			t.Errorf("expected jwt-client, got %s", clientID)
		}
	})

	t.Run("wrong signing key rejected", func(t *testing.T) {
		token := signTestJWT(t, "some-other-secret", jwt.MapClaims{"sub": "client-42"})
		req := httptest.NewRequest("POST", "/v1/chat/completions", nil)
		req.Header.Set("Authorization", "Bearer "+token)

		if _, err := authenticateRequest(req); err == nil {
			t.Error("expected error for token signed with wrong key")
		}
	})

	t.Run("expired token rejected", func(t *testing.T) {
		token := signTestJWT(t, secret, jwt.MapClaims{
			"sub": "client-42",
			"exp": time.Now().Add(-time.Hour).Unix(),
		})
		req := httptest.NewRequest("POST", "/v1/chat/completions", nil)
		req.Header.Set("Authorization", "Bearer "+token)

		if _, err := authenticateRequest(req); err == nil {
			t.Error("expected error for expired token")
		}
	})

	t.Run("none algorithm rejected", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "client-42"}).
			SignedString(jwt.UnsafeAllowNoneSignatureType)
		if err != nil {
			t.Fatalf("failed to build unsigned token: %v", err)
		}
		req := httptest.NewRequest("POST", "/v1/chat/completions", nil)
		req.Header.Set("Authorization", "Bearer "+token)

		if _, err := authenticateRequest(req); err == nil {
			t.Error("expected unsigned token to be rejected")
		}
	})
}

func TestAuthenticateRequestBothSchemes(t *testing.T) {
	const secret = "shared-jwt-secret"
	setAuthConfig(t, "sk-static-key", secret)

	// Static key still works
	req := httptest.NewRequest("POST", "/v1/chat/completions", nil)
	req.Header.Set("Authorization", "Bearer sk-static-key")
	clientID, err := authenticateRequest(req)
	if err != nil {
		t.Fatalf("unexpected error for static key: %v", err)
	}
	if clientID != "api-key" {
		t.Errorf("expected api-key client, got %s", clientID)
	}

	// JWT works alongside it
	token := signTestJWT(t, secret, jwt.MapClaims{"sub": "jwt-user"})
	req = httptest.NewRequest("POST", "/v1/chat/completions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	clientID, err = authenticateRequest(req)
	if err != nil {
		t.Fatalf("unexpected error for JWT: %v", err)
	}
	if clientID != "jwt-user" {
		t.Errorf("expected jwt-user, got %s", clientID)
	}

	// A token that is neither fails
	req = httptest.NewRequest("POST", "/v1/chat/completions", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	if _, err := authenticateRequest(req); err == nil {
		t.Error("expected error for unrecognized token")
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{name: "missing header", header: "", want: ""},
		{name: "standard bearer", header: "Bearer abc123", want: "abc123"},
		{name: "lowercase scheme", header: "bearer abc123", want: "abc123"},
		{name: "extra whitespace", header: "Bearer  abc123", want: "abc123"},
		{name: "no token", header: "Bearer", want: ""},
		{name: "wrong scheme", header: "Basic abc123", want: ""},
		{name: "no scheme", header: "abc123", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/health", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if got := extractBearerToken(req); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestMaskString(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: "(empty)"},
		{in: "short", want: "***"},
		{in: "12345678", want: "***"},
		{in: "sk-ant-api03-abcdef", want: "sk-ant-a..."},
	}

	for _, tt := range tests {
		if got := maskString(tt.in); got != tt.want {
			t.Errorf("maskString(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
