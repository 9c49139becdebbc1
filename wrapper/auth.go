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
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Inbound authentication. This gates access to the wrapper itself and
// is independent of the upstream Claude credentials: a request that
// passes here can still fail with 401 when no Claude credential method
// is available.
//
// Two schemes are supported, both via "Authorization: Bearer <token>":
// a static API key (API_KEY) and HS256 JWTs (JWT_SECRET). When neither
// is configured the wrapper is open and clients are "anonymous".

const anonymousClientID = "anonymous"

// authenticateRequest validates the request credentials and returns
// the client identity used for logging, rate limiting and metering.
func authenticateRequest(r *http.Request) (string, error) {
	apiKey := wrapperConfig.APIKey
	jwtSecret := wrapperConfig.JWTSecret

	if apiKey == "" && jwtSecret == "" {
		return anonymousClientID, nil
	}

	token := extractBearerToken(r)
	if token == "" {
		return "", fmt.Errorf("missing Authorization header")
	}

	// Static API key comparison first: cheaper than JWT parsing
	if apiKey != "" && token == apiKey {
		return "api-key", nil
	}

	if jwtSecret != "" {
		clientID, err := validateJWT(token, []byte(jwtSecret))
		if err == nil {
			return clientID, nil
		}
		if apiKey == "" {
			return "", err
		}
	}

	return "", fmt.Errorf("invalid API key")
}

// extractBearerToken pulls the token out of the Authorization header.
// Returns empty string when the header is missing or malformed.
func extractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// validateJWT parses an HS256 token and extracts the subject claim as
// the client identity.
func validateJWT(tokenString string, secret []byte) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("invalid token: %v", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid token claims")
	}

	clientID := getClaimString(claims, "sub")
	if clientID == "" {
		clientID = getClaimString(claims, "client_id")
	}
	if clientID == "" {
		clientID = "jwt-client"
	}
	return clientID, nil
}

func getClaimString(claims jwt.MapClaims, key string) string {
	if val, ok := claims[key].(string); ok {
		return val
	}
	return ""
}

// maskString hides all but the first few characters of a secret for logging
func maskString(s string) string {
	if s == "" {
		return "(empty)"
	}
	if len(s) <= 8 {
		return "***"
	}
	return s[:8] + "..."
}
