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

package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

const (
	// credentialsFileName is the Claude CLI credential store relative to
	// the user's home directory.
	credentialsFileName = ".claude/.credentials.json"

	// keychainService is the macOS keychain item the Claude CLI writes
	// its credentials to.
	keychainService = "Claude Code-credentials"

	// tokenExpirySkew rejects tokens that expire within this window so
	// requests don't start with a token about to die mid-flight.
	tokenExpirySkew = 60 * time.Second
)

// CLICredentials holds the OAuth credentials stored by the Claude CLI.
type CLICredentials struct {
	AccessToken      string   `json:"accessToken"`
	RefreshToken     string   `json:"refreshToken"`
	ExpiresAt        int64    `json:"expiresAt"` // Unix milliseconds; 0 means no expiry recorded
	Scopes           []string `json:"scopes"`
	SubscriptionType string   `json:"subscriptionType"`
}

// credentialsFile is the on-disk shape of the CLI credential store.
type credentialsFile struct {
	ClaudeAiOauth *CLICredentials `json:"claudeAiOauth"`
}

// Expired reports whether the access token is past (or within the skew
// window of) its recorded expiry.
func (c *CLICredentials) Expired() bool {
	if c.ExpiresAt == 0 {
		return false
	}
	expiry := time.UnixMilli(c.ExpiresAt)
	return time.Now().Add(tokenExpirySkew).After(expiry)
}

// ExpiresIn returns the remaining token lifetime, or 0 when unknown.
func (c *CLICredentials) ExpiresIn() time.Duration {
	if c.ExpiresAt == 0 {
		return 0
	}
	remaining := time.Until(time.UnixMilli(c.ExpiresAt))
	if remaining < 0 {
		return 0
	}
	return remaining
}

// cliTokenSource resolves the Claude CLI OAuth token. Sources are checked
// in order: environment variable, credentials file, macOS keychain.
type cliTokenSource struct {
	credentialsPath string
	keychainLookup  func(ctx context.Context) ([]byte, error)
}

func newCLITokenSource() *cliTokenSource {
	src := &cliTokenSource{}

	if home, err := os.UserHomeDir(); err == nil {
		src.credentialsPath = filepath.Join(home, credentialsFileName)
	}

	// The keychain only holds CLI credentials on macOS
	if runtime.GOOS == "darwin" {
		src.keychainLookup = securityFindGenericPassword
	}

	return src
}

// Token returns a usable OAuth access token, or an error describing why
// none of the sources produced one.
func (s *cliTokenSource) Token(ctx context.Context) (string, error) {
	if token := os.Getenv(EnvOAuthToken); token != "" {
		return token, nil
	}

	var reasons []string

	creds, err := s.fileCredentials()
	switch {
	case err != nil:
		reasons = append(reasons, err.Error())
	case creds.AccessToken == "":
		reasons = append(reasons, "credentials file has no access token")
	case creds.Expired():
		reasons = append(reasons, "credentials file token is expired (run `claude` to refresh)")
	default:
		return creds.AccessToken, nil
	}

	if s.keychainLookup != nil {
		creds, err := s.keychainCredentials(ctx)
		switch {
		case err != nil:
			reasons = append(reasons, fmt.Sprintf("keychain lookup failed: %v", err))
		case creds.AccessToken == "":
			reasons = append(reasons, "keychain entry has no access token")
		case creds.Expired():
			reasons = append(reasons, "keychain token is expired (run `claude` to refresh)")
		default:
			return creds.AccessToken, nil
		}
	}

	return "", fmt.Errorf("%s not set; %s", EnvOAuthToken, strings.Join(reasons, "; "))
}

// fileCredentials reads and parses the CLI credentials file.
func (s *cliTokenSource) fileCredentials() (*CLICredentials, error) {
	if s.credentialsPath == "" {
		return nil, fmt.Errorf("no home directory to locate credentials file")
	}

	data, err := os.ReadFile(s.credentialsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no credentials file at %s", s.credentialsPath)
		}
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	return parseCredentials(data)
}

// keychainCredentials reads the CLI credentials from the macOS keychain.
func (s *cliTokenSource) keychainCredentials(ctx context.Context) (*CLICredentials, error) {
	data, err := s.keychainLookup(ctx)
	if err != nil {
		return nil, err
	}
	return parseCredentials(data)
}

// parseCredentials decodes the credential store JSON. The keychain and
// the file share the same shape.
func parseCredentials(data []byte) (*CLICredentials, error) {
	var file credentialsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}
	if file.ClaudeAiOauth == nil {
		return nil, fmt.Errorf("credentials are missing the claudeAiOauth section")
	}
	return file.ClaudeAiOauth, nil
}

// securityFindGenericPassword shells out to the macOS security tool for
// the CLI's keychain item.
func securityFindGenericPassword(ctx context.Context) ([]byte, error) {
	out, err := exec.CommandContext(ctx, "security", "find-generic-password", "-s", keychainService, "-w").Output()
	if err != nil {
		return nil, fmt.Errorf("security find-generic-password: %w", err)
	}
	return []byte(strings.TrimSpace(string(out))), nil
}
