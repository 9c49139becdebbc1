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
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"axonflow/claude-wrapper/shared/logger"
)

// secretsAPI captures the Secrets Manager operation the store uses
// (enables testing)
type secretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretStore fetches the Anthropic API key from AWS Secrets Manager
// with a short-lived cache to keep auth status checks cheap.
type SecretStore struct {
	client secretsAPI
	cache  map[string]*secretCacheEntry
	mu     sync.RWMutex
	ttl    time.Duration
	logger *logger.Logger
}

type secretCacheEntry struct {
	value     string
	expiresAt time.Time
}

// SecretStoreOptions holds options for creating a SecretStore
type SecretStoreOptions struct {
	Region   string
	CacheTTL time.Duration
	Logger   *logger.Logger
}

// NewSecretStore creates a Secrets Manager backed store. The default AWS
// credential chain supplies the client credentials.
func NewSecretStore(ctx context.Context, opts SecretStoreOptions) (*SecretStore, error) {
	log := opts.Logger
	if log == nil {
		log = logger.New("secret-store")
	}

	cfgOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		cfgOpts = append(cfgOpts, awsconfig.WithRegion(opts.Region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, cfgOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute // Cache secrets for 5 minutes by default
	}

	return &SecretStore{
		client: secretsmanager.NewFromConfig(cfg),
		cache:  make(map[string]*secretCacheEntry),
		ttl:    ttl,
		logger: log,
	}, nil
}

// APIKey retrieves the Anthropic API key stored at the given secret ARN.
// JSON secrets are searched for an api_key-style field; plain string
// secrets are returned whole.
func (s *SecretStore) APIKey(ctx context.Context, secretARN string) (string, error) {
	s.mu.RLock()
	entry, exists := s.cache[secretARN]
	s.mu.RUnlock()

	if exists && time.Now().Before(entry.expiresAt) {
		return entry.value, nil
	}

	s.logger.Info("", "", "Fetching API key from Secrets Manager", map[string]interface{}{
		"secret_arn": maskARN(secretARN),
	})

	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretARN),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get secret %s: %w", maskARN(secretARN), err)
	}

	if result.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", maskARN(secretARN))
	}

	key, err := extractAPIKey(*result.SecretString)
	if err != nil {
		return "", fmt.Errorf("secret %s: %w", maskARN(secretARN), err)
	}

	s.mu.Lock()
	s.cache[secretARN] = &secretCacheEntry{
		value:     key,
		expiresAt: time.Now().Add(s.ttl),
	}
	s.mu.Unlock()

	return key, nil
}

// Invalidate removes a secret from the cache.
func (s *SecretStore) Invalidate(secretARN string) {
	s.mu.Lock()
	delete(s.cache, secretARN)
	s.mu.Unlock()
}

// apiKeyFields are the JSON field names checked, in order, when the
// secret value is an object.
var apiKeyFields = []string{"api_key", "apiKey", "ANTHROPIC_API_KEY", "value"}

// extractAPIKey pulls the API key out of a secret value that is either a
// JSON object or the bare key itself.
func extractAPIKey(secretValue string) (string, error) {
	var fields map[string]string
	if err := json.Unmarshal([]byte(secretValue), &fields); err != nil {
		// Not JSON: the whole value is the key
		return secretValue, nil
	}

	for _, name := range apiKeyFields {
		if v := fields[name]; v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("JSON secret has no api_key field")
}

// maskARN masks the secret ARN for logging (shows only last 8 characters)
func maskARN(arn string) string {
	if len(arn) <= 12 {
		return "***"
	}
	return "..." + arn[len(arn)-8:]
}
