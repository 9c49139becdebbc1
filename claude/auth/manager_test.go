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
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"axonflow/claude-wrapper/claude"
	"axonflow/claude-wrapper/claude/bedrock"
	"axonflow/claude-wrapper/claude/vertex"
	"axonflow/claude-wrapper/shared/logger"
)

// stubProvider satisfies claude.Provider for detection tests.
type stubProvider struct {
	name   string
	method claude.AuthMethod
}

func (p *stubProvider) Name() string              { return p.name }
func (p *stubProvider) Method() claude.AuthMethod { return p.method }
func (p *stubProvider) SupportsStreaming() bool   { return true }

func (p *stubProvider) Complete(ctx context.Context, req claude.Request) (*claude.Response, error) {
	return &claude.Response{Content: "stub"}, nil
}

func (p *stubProvider) CompleteStream(ctx context.Context, req claude.Request, handler claude.StreamHandler) (*claude.Response, error) {
	return &claude.Response{Content: "stub"}, nil
}

func (p *stubProvider) HealthCheck(ctx context.Context) (*claude.HealthCheckResult, error) {
	return &claude.HealthCheckResult{Status: claude.HealthStatusHealthy}, nil
}

type fakeKeyFetcher struct {
	key string
	err error
}

func (f *fakeKeyFetcher) APIKey(ctx context.Context, secretARN string) (string, error) {
	return f.key, f.err
}

// testManager builds a Manager with a hermetic environment, stub
// constructors, and always-succeeding cloud credential probes.
func testManager(t *testing.T) *Manager {
	t.Helper()

	for _, key := range []string{
		EnvOAuthToken, EnvAPIKey, EnvAPIKeySecretARN,
		EnvUseBedrock, EnvUseVertex, EnvVertexProject, EnvVertexRegion,
		EnvAWSRegion, EnvAWSDefaultRegion, EnvBedrockProfile,
	} {
		t.Setenv(key, "")
	}

	m := NewManager(logger.New("auth-test"))
	m.cliTokens = &cliTokenSource{
		credentialsPath: filepath.Join(t.TempDir(), "credentials.json"),
	}
	m.newAnthropicOAuth = func(token string) (claude.Provider, error) {
		return &stubProvider{name: "anthropic", method: claude.AuthMethodCLI}, nil
	}
	m.newAnthropicKey = func(key string) (claude.Provider, error) {
		return &stubProvider{name: "anthropic", method: claude.AuthMethodAPIKey}, nil
	}
	m.newBedrock = func(ctx context.Context, cfg bedrock.Config) (claude.Provider, error) {
		return &stubProvider{name: "bedrock", method: claude.AuthMethodBedrock}, nil
	}
	m.newVertex = func(ctx context.Context, cfg vertex.Config) (claude.Provider, error) {
		return &stubProvider{name: "vertex", method: claude.AuthMethodVertex}, nil
	}
	m.awsCredsProbe = func(ctx context.Context, region string) error { return nil }
	m.gcpCredsProbe = func(ctx context.Context) error { return nil }
	return m
}

func TestDetectPrefersCLI(t *testing.T) {
	m := testManager(t)
	t.Setenv(EnvOAuthToken, "sk-ant-oat01-abcdefghij")
	t.Setenv(EnvAPIKey, "sk-ant-api03-abcdefghij")

	provider, err := m.Detect(context.Background())
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if provider.Method() != claude.AuthMethodCLI {
		t.Errorf("method = %q, want %q", provider.Method(), claude.AuthMethodCLI)
	}
}

func TestDetectFallsBackToAPIKey(t *testing.T) {
	m := testManager(t)
	t.Setenv(EnvAPIKey, "sk-ant-api03-abcdefghij")

	provider, err := m.Detect(context.Background())
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if provider.Method() != claude.AuthMethodAPIKey {
		t.Errorf("method = %q, want %q", provider.Method(), claude.AuthMethodAPIKey)
	}
}

func TestDetectAPIKeyFromSecret(t *testing.T) {
	m := testManager(t)
	m.secrets = &fakeKeyFetcher{key: "sk-ant-api03-from-secret"}
	t.Setenv(EnvAPIKeySecretARN, "arn:aws:secretsmanager:us-east-1:123456789012:secret:anthropic-AbCdEf")

	provider, err := m.Detect(context.Background())
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if provider.Method() != claude.AuthMethodAPIKey {
		t.Errorf("method = %q", provider.Method())
	}

	detections := m.DetectAll(context.Background())
	if !strings.Contains(detections[1].Detail, "secret") {
		t.Errorf("detail should name the secret source, got %q", detections[1].Detail)
	}
}

func TestDetectBedrock(t *testing.T) {
	m := testManager(t)
	t.Setenv(EnvUseBedrock, "true")
	t.Setenv(EnvAWSRegion, "eu-central-1")

	provider, err := m.Detect(context.Background())
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if provider.Method() != claude.AuthMethodBedrock {
		t.Errorf("method = %q, want %q", provider.Method(), claude.AuthMethodBedrock)
	}

	detections := m.DetectAll(context.Background())
	if !strings.Contains(detections[2].Detail, "eu-central-1") {
		t.Errorf("detail should name the region, got %q", detections[2].Detail)
	}
}

func TestDetectBedrockWithoutCredentials(t *testing.T) {
	m := testManager(t)
	t.Setenv(EnvUseBedrock, "1")
	m.awsCredsProbe = func(ctx context.Context, region string) error {
		return fmt.Errorf("no EC2 IMDS role found")
	}

	detections := m.DetectAll(context.Background())
	d := detections[2]
	if d.Available {
		t.Fatal("bedrock should be unavailable without AWS credentials")
	}
	if !strings.Contains(d.Reason, "no AWS credentials resolved") {
		t.Errorf("reason = %q", d.Reason)
	}
}

func TestDetectVertex(t *testing.T) {
	m := testManager(t)
	t.Setenv(EnvUseVertex, "yes")
	t.Setenv(EnvVertexProject, "axonflow-prod")

	provider, err := m.Detect(context.Background())
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if provider.Method() != claude.AuthMethodVertex {
		t.Errorf("method = %q, want %q", provider.Method(), claude.AuthMethodVertex)
	}
}

func TestDetectVertexRequiresProject(t *testing.T) {
	m := testManager(t)
	t.Setenv(EnvUseVertex, "true")

	detections := m.DetectAll(context.Background())
	d := detections[3]
	if d.Available {
		t.Fatal("vertex should be unavailable without a project")
	}
	if !strings.Contains(d.Reason, EnvVertexProject) {
		t.Errorf("reason = %q", d.Reason)
	}
}

func TestDetectNoCredentials(t *testing.T) {
	m := testManager(t)

	_, err := m.Detect(context.Background())
	if err == nil {
		t.Fatal("expected NoCredentialsError")
	}

	var noCreds *NoCredentialsError
	if !errors.As(err, &noCreds) {
		t.Fatalf("error type = %T", err)
	}
	if len(noCreds.Failures) != 4 {
		t.Fatalf("failures = %d, want 4", len(noCreds.Failures))
	}

	msg := err.Error()
	for _, method := range []claude.AuthMethod{
		claude.AuthMethodCLI, claude.AuthMethodAPIKey,
		claude.AuthMethodBedrock, claude.AuthMethodVertex,
	} {
		if !strings.Contains(msg, string(method)) {
			t.Errorf("error should name method %q: %v", method, err)
		}
	}
}

func TestProvidersReturnsAllInOrder(t *testing.T) {
	m := testManager(t)
	t.Setenv(EnvOAuthToken, "sk-ant-oat01-abcdefghij")
	t.Setenv(EnvUseBedrock, "true")

	providers, err := m.Providers(context.Background())
	if err != nil {
		t.Fatalf("Providers() error = %v", err)
	}
	if len(providers) != 2 {
		t.Fatalf("providers = %d, want 2", len(providers))
	}
	if providers[0].Method() != claude.AuthMethodCLI {
		t.Errorf("primary method = %q", providers[0].Method())
	}
	if providers[1].Method() != claude.AuthMethodBedrock {
		t.Errorf("fallback method = %q", providers[1].Method())
	}
}

func TestStatusMasksSecrets(t *testing.T) {
	m := testManager(t)
	rawKey := "sk-ant-REDACTED"
	t.Setenv(EnvAPIKey, rawKey)

	status := m.Status(context.Background())
	if status.ActiveMethod != claude.AuthMethodAPIKey {
		t.Errorf("active method = %q", status.ActiveMethod)
	}
	if len(status.Methods) != 4 {
		t.Fatalf("methods = %d, want 4", len(status.Methods))
	}

	apiKey := status.Methods[1]
	if !apiKey.Available {
		t.Fatal("api-key method should be available")
	}
	if strings.Contains(apiKey.Detail, rawKey) {
		t.Errorf("detail leaks the raw key: %q", apiKey.Detail)
	}
	if !strings.Contains(apiKey.Detail, "...") {
		t.Errorf("detail should carry a masked key, got %q", apiKey.Detail)
	}

	cli := status.Methods[0]
	if cli.Available {
		t.Error("cli method should be unavailable")
	}
	if cli.Reason == "" {
		t.Error("unavailable method should carry a reason")
	}
}

func TestStatusNoCredentials(t *testing.T) {
	m := testManager(t)

	status := m.Status(context.Background())
	if status.ActiveMethod != claude.AuthMethodNone {
		t.Errorf("active method = %q, want %q", status.ActiveMethod, claude.AuthMethodNone)
	}
}

func TestDetectionCaching(t *testing.T) {
	m := testManager(t)
	t.Setenv(EnvAPIKey, "sk-ant-api03-abcdefghij")

	var builds int
	m.newAnthropicKey = func(key string) (claude.Provider, error) {
		builds++
		return &stubProvider{name: "anthropic", method: claude.AuthMethodAPIKey}, nil
	}

	m.DetectAll(context.Background())
	m.DetectAll(context.Background())
	if builds != 1 {
		t.Errorf("builds = %d, want 1 (cached)", builds)
	}

	m.Refresh()
	m.DetectAll(context.Background())
	if builds != 2 {
		t.Errorf("builds = %d, want 2 after Refresh", builds)
	}
}

func TestEnvTruthy(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"1", true},
		{"true", true},
		{"TRUE", true},
		{"yes", true},
		{"", false},
		{"0", false},
		{"false", false},
		{"no", false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.value), func(t *testing.T) {
			t.Setenv("WRAPPER_TEST_FLAG", tt.value)
			if got := envTruthy("WRAPPER_TEST_FLAG"); got != tt.want {
				t.Errorf("envTruthy(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestMaskSecret(t *testing.T) {
	if got := maskSecret("sk-ant-REDACTED"); got != "sk-ant-...cdef" {
		t.Errorf("maskSecret() = %q", got)
	}
	if got := maskSecret("short"); got != "***" {
		t.Errorf("maskSecret() = %q for short input", got)
	}
}
