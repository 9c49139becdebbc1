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

// Package auth discovers upstream Claude credentials and builds the
// matching transport. Methods are evaluated in a fixed fallback order:
// Claude CLI OAuth, direct API key, AWS Bedrock, Google Vertex AI. The
// first method with working credentials wins; when none work, requests
// fail with a 401 that names every method tried and why it failed.
package auth

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"golang.org/x/oauth2/google"

	"axonflow/claude-wrapper/claude"
	"axonflow/claude-wrapper/claude/anthropic"
	"axonflow/claude-wrapper/claude/bedrock"
	"axonflow/claude-wrapper/claude/vertex"
	"axonflow/claude-wrapper/shared/logger"
)

// Environment variables consulted during credential detection.
const (
	// EnvOAuthToken short-circuits CLI credential store lookups.
	EnvOAuthToken = "CLAUDE_CODE_OAUTH_TOKEN"

	// EnvAPIKey is a direct Anthropic API key.
	EnvAPIKey = "ANTHROPIC_API_KEY"

	// EnvAPIKeySecretARN points at an AWS Secrets Manager secret holding
	// the API key.
	EnvAPIKeySecretARN = "ANTHROPIC_API_KEY_SECRET_ARN"

	// EnvUseBedrock opts in to AWS Bedrock ("1", "true", "yes").
	EnvUseBedrock = "CLAUDE_CODE_USE_BEDROCK"

	// EnvUseVertex opts in to Google Vertex AI ("1", "true", "yes").
	EnvUseVertex = "CLAUDE_CODE_USE_VERTEX"

	// EnvVertexProject is the GCP project hosting the Claude models.
	EnvVertexProject = "ANTHROPIC_VERTEX_PROJECT_ID"

	// EnvVertexRegion selects the Vertex region (default us-east5).
	EnvVertexRegion = "CLOUD_ML_REGION"

	// EnvAWSRegion and EnvAWSDefaultRegion select the Bedrock region.
	EnvAWSRegion        = "AWS_REGION"
	EnvAWSDefaultRegion = "AWS_DEFAULT_REGION"

	// EnvBedrockProfile selects a Bedrock inference profile prefix
	// (eu, us, apac, global).
	EnvBedrockProfile = "BEDROCK_INFERENCE_PROFILE"
)

const (
	// detectionTTL bounds how long detection results are reused. CLI
	// tokens expire, so results can't be cached forever.
	detectionTTL = time.Minute

	// credentialProbeTimeout bounds cloud credential resolution, which
	// can touch instance metadata endpoints.
	credentialProbeTimeout = 3 * time.Second
)

// fallbackOrder is the fixed order credential methods are tried in.
var fallbackOrder = []claude.AuthMethod{
	claude.AuthMethodCLI,
	claude.AuthMethodAPIKey,
	claude.AuthMethodBedrock,
	claude.AuthMethodVertex,
}

// Detection is the outcome of evaluating one credential method.
type Detection struct {
	Method    claude.AuthMethod
	Available bool
	Detail    string // masked, human-readable summary when available
	Reason    string // failure reason when unavailable
	Provider  claude.Provider
}

// MethodStatus is the wire shape of one method on the auth status surface.
type MethodStatus struct {
	Method    claude.AuthMethod `json:"method"`
	Available bool              `json:"available"`
	Detail    string            `json:"detail,omitempty"`
	Reason    string            `json:"reason,omitempty"`
}

// Status is the auth report served on the status endpoint.
type Status struct {
	ActiveMethod claude.AuthMethod `json:"active_method"`
	Methods      []MethodStatus    `json:"methods"`
}

// MethodFailure records why one credential method was unusable.
type MethodFailure struct {
	Method claude.AuthMethod `json:"method"`
	Reason string            `json:"reason"`
}

// NoCredentialsError reports that every credential method failed. The
// HTTP layer turns this into a 401 with the full list.
type NoCredentialsError struct {
	Failures []MethodFailure
}

func (e *NoCredentialsError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s (%s)", f.Method, f.Reason))
	}
	return "no Claude credentials available; tried: " + strings.Join(parts, ", ")
}

// apiKeyFetcher is the subset of SecretStore the manager needs.
type apiKeyFetcher interface {
	APIKey(ctx context.Context, secretARN string) (string, error)
}

// Manager evaluates credential methods and caches the results.
type Manager struct {
	logger    *logger.Logger
	cliTokens *cliTokenSource

	mu       sync.Mutex
	detected []Detection
	at       time.Time

	secretsOnce sync.Once
	secrets     apiKeyFetcher
	secretsErr  error

	// Constructors and probes, swappable in tests
	newAnthropicOAuth func(token string) (claude.Provider, error)
	newAnthropicKey   func(key string) (claude.Provider, error)
	newBedrock        func(ctx context.Context, cfg bedrock.Config) (claude.Provider, error)
	newVertex         func(ctx context.Context, cfg vertex.Config) (claude.Provider, error)
	awsCredsProbe     func(ctx context.Context, region string) error
	gcpCredsProbe     func(ctx context.Context) error
}

// NewManager creates a credential manager reading from the process
// environment and the CLI credential store.
func NewManager(log *logger.Logger) *Manager {
	if log == nil {
		log = logger.New("claude-auth")
	}

	return &Manager{
		logger:    log,
		cliTokens: newCLITokenSource(),
		newAnthropicOAuth: func(token string) (claude.Provider, error) {
			return anthropic.NewWithOAuth(token)
		},
		newAnthropicKey: func(key string) (claude.Provider, error) {
			return anthropic.NewWithAPIKey(key)
		},
		newBedrock: func(ctx context.Context, cfg bedrock.Config) (claude.Provider, error) {
			return bedrock.NewProvider(ctx, cfg)
		},
		newVertex: func(ctx context.Context, cfg vertex.Config) (claude.Provider, error) {
			return vertex.NewProvider(ctx, cfg)
		},
		awsCredsProbe: probeAWSCredentials,
		gcpCredsProbe: probeGoogleCredentials,
	}
}

// DetectAll evaluates every credential method in fallback order. Results
// are cached briefly; call Refresh to force re-evaluation.
func (m *Manager) DetectAll(ctx context.Context) []Detection {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.detected != nil && time.Since(m.at) < detectionTTL {
		return m.detected
	}

	detections := make([]Detection, 0, len(fallbackOrder))
	for _, method := range fallbackOrder {
		var d Detection
		switch method {
		case claude.AuthMethodCLI:
			d = m.detectCLI(ctx)
		case claude.AuthMethodAPIKey:
			d = m.detectAPIKey(ctx)
		case claude.AuthMethodBedrock:
			d = m.detectBedrock(ctx)
		case claude.AuthMethodVertex:
			d = m.detectVertex(ctx)
		}

		if d.Available {
			m.logger.Info("", "", "Credential method available", map[string]interface{}{
				"method": string(d.Method),
				"detail": d.Detail,
			})
		} else {
			m.logger.Debug("", "", "Credential method unavailable", map[string]interface{}{
				"method": string(d.Method),
				"reason": d.Reason,
			})
		}
		detections = append(detections, d)
	}

	m.detected = detections
	m.at = time.Now()
	return detections
}

// Detect returns the first available provider in fallback order, or a
// NoCredentialsError naming every failure.
func (m *Manager) Detect(ctx context.Context) (claude.Provider, error) {
	detections := m.DetectAll(ctx)

	for _, d := range detections {
		if d.Available {
			return d.Provider, nil
		}
	}

	err := &NoCredentialsError{}
	for _, d := range detections {
		err.Failures = append(err.Failures, MethodFailure{Method: d.Method, Reason: d.Reason})
	}
	return nil, err
}

// Providers returns every available provider in fallback order. The
// router uses the first as primary and the rest as failover targets.
func (m *Manager) Providers(ctx context.Context) ([]claude.Provider, error) {
	detections := m.DetectAll(ctx)

	var providers []claude.Provider
	for _, d := range detections {
		if d.Available {
			providers = append(providers, d.Provider)
		}
	}
	if len(providers) == 0 {
		err := &NoCredentialsError{}
		for _, d := range detections {
			err.Failures = append(err.Failures, MethodFailure{Method: d.Method, Reason: d.Reason})
		}
		return nil, err
	}
	return providers, nil
}

// Status builds the auth report for the HTTP surface. Secrets in the
// detail fields are already masked.
func (m *Manager) Status(ctx context.Context) *Status {
	detections := m.DetectAll(ctx)

	status := &Status{ActiveMethod: claude.AuthMethodNone}
	for _, d := range detections {
		if d.Available && status.ActiveMethod == claude.AuthMethodNone {
			status.ActiveMethod = d.Method
		}
		status.Methods = append(status.Methods, MethodStatus{
			Method:    d.Method,
			Available: d.Available,
			Detail:    d.Detail,
			Reason:    d.Reason,
		})
	}
	return status
}

// Refresh drops cached detection results.
func (m *Manager) Refresh() {
	m.mu.Lock()
	m.detected = nil
	m.mu.Unlock()
}

func (m *Manager) detectCLI(ctx context.Context) Detection {
	d := Detection{Method: claude.AuthMethodCLI}

	token, err := m.cliTokens.Token(ctx)
	if err != nil {
		d.Reason = err.Error()
		return d
	}

	provider, err := m.newAnthropicOAuth(token)
	if err != nil {
		d.Reason = err.Error()
		return d
	}

	d.Available = true
	d.Detail = "OAuth token " + maskSecret(token)
	d.Provider = provider
	return d
}

func (m *Manager) detectAPIKey(ctx context.Context) Detection {
	d := Detection{Method: claude.AuthMethodAPIKey}

	key := os.Getenv(EnvAPIKey)
	source := EnvAPIKey

	if key == "" {
		arn := os.Getenv(EnvAPIKeySecretARN)
		if arn == "" {
			d.Reason = fmt.Sprintf("%s and %s not set", EnvAPIKey, EnvAPIKeySecretARN)
			return d
		}

		store, err := m.secretStore(ctx)
		if err != nil {
			d.Reason = fmt.Sprintf("secrets manager unavailable: %v", err)
			return d
		}

		key, err = store.APIKey(ctx, arn)
		if err != nil {
			d.Reason = err.Error()
			return d
		}
		source = "secret " + maskARN(arn)
	}

	provider, err := m.newAnthropicKey(key)
	if err != nil {
		d.Reason = err.Error()
		return d
	}

	d.Available = true
	d.Detail = fmt.Sprintf("%s from %s", maskSecret(key), source)
	d.Provider = provider
	return d
}

func (m *Manager) detectBedrock(ctx context.Context) Detection {
	d := Detection{Method: claude.AuthMethodBedrock}

	if !envTruthy(EnvUseBedrock) {
		d.Reason = EnvUseBedrock + " not set"
		return d
	}

	region := firstEnv(EnvAWSRegion, EnvAWSDefaultRegion)
	if region == "" {
		region = bedrock.DefaultRegion
	}

	probeCtx, cancel := context.WithTimeout(ctx, credentialProbeTimeout)
	defer cancel()
	if err := m.awsCredsProbe(probeCtx, region); err != nil {
		d.Reason = fmt.Sprintf("no AWS credentials resolved: %v", err)
		return d
	}

	provider, err := m.newBedrock(ctx, bedrock.Config{
		Region:           region,
		InferenceProfile: os.Getenv(EnvBedrockProfile),
	})
	if err != nil {
		d.Reason = err.Error()
		return d
	}

	d.Available = true
	d.Detail = "region " + region
	d.Provider = provider
	return d
}

func (m *Manager) detectVertex(ctx context.Context) Detection {
	d := Detection{Method: claude.AuthMethodVertex}

	if !envTruthy(EnvUseVertex) {
		d.Reason = EnvUseVertex + " not set"
		return d
	}

	project := os.Getenv(EnvVertexProject)
	if project == "" {
		d.Reason = EnvVertexProject + " not set"
		return d
	}

	probeCtx, cancel := context.WithTimeout(ctx, credentialProbeTimeout)
	defer cancel()
	if err := m.gcpCredsProbe(probeCtx); err != nil {
		d.Reason = fmt.Sprintf("no Google credentials resolved: %v", err)
		return d
	}

	region := getEnv(EnvVertexRegion, vertex.DefaultRegion)
	provider, err := m.newVertex(ctx, vertex.Config{
		Project: project,
		Region:  region,
	})
	if err != nil {
		d.Reason = err.Error()
		return d
	}

	d.Available = true
	d.Detail = fmt.Sprintf("project %s, region %s", project, region)
	d.Provider = provider
	return d
}

// secretStore lazily builds the Secrets Manager client. Built once even
// on failure so a broken AWS setup doesn't add latency to every check.
func (m *Manager) secretStore(ctx context.Context) (apiKeyFetcher, error) {
	m.secretsOnce.Do(func() {
		if m.secrets != nil {
			return
		}
		m.secrets, m.secretsErr = NewSecretStore(ctx, SecretStoreOptions{
			Region: firstEnv(EnvAWSRegion, EnvAWSDefaultRegion),
			Logger: m.logger,
		})
	})
	return m.secrets, m.secretsErr
}

// probeAWSCredentials verifies the default AWS chain can produce
// credentials.
func probeAWSCredentials(ctx context.Context, region string) error {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return err
	}
	_, err = cfg.Credentials.Retrieve(ctx)
	return err
}

// probeGoogleCredentials verifies Application Default Credentials exist.
func probeGoogleCredentials(ctx context.Context) error {
	_, err := google.FindDefaultCredentials(ctx, vertex.CloudPlatformScope)
	return err
}

// maskSecret masks a credential for logs and status output.
func maskSecret(s string) string {
	if len(s) <= 12 {
		return "***"
	}
	return s[:7] + "..." + s[len(s)-4:]
}

// getEnv returns the environment variable value or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// firstEnv returns the first non-empty environment variable value.
func firstEnv(keys ...string) string {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			return value
		}
	}
	return ""
}

// envTruthy reports whether an opt-in flag variable is set.
func envTruthy(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}
