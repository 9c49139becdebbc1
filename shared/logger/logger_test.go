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

package logger

import (
	"bytes"
	"encoding/json"
	"log"
	"os"
	"strings"
	"testing"
	"time"
)

// parseEntry extracts the JSON entry from captured log output
func parseEntry(t *testing.T, output string) LogEntry {
	t.Helper()

	jsonStart := strings.Index(output, "{")
	if jsonStart == -1 {
		t.Fatalf("No JSON found in log output: %q", output)
	}
	jsonStr := strings.TrimSpace(output[jsonStart:])

	var entry LogEntry
	if err := json.Unmarshal([]byte(jsonStr), &entry); err != nil {
		t.Fatalf("Failed to parse JSON log: %v\nOutput: %s", err, output)
	}
	return entry
}

// TestNew tests logger initialization
func TestNew(t *testing.T) {
	tests := []struct {
		name           string
		component      string
		instanceID     string
		expectedComp   string
		expectedInstID string
	}{
		{
			name:           "with instance ID set",
			component:      "wrapper",
			instanceID:     "instance-123",
			expectedComp:   "wrapper",
			expectedInstID: "instance-123",
		},
		{
			name:           "without instance ID",
			component:      "session",
			instanceID:     "",
			expectedComp:   "session",
			expectedInstID: "unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.instanceID != "" {
				t.Setenv("INSTANCE_ID", tt.instanceID)
			} else {
				if err := os.Unsetenv("INSTANCE_ID"); err != nil {
					t.Fatalf("Failed to unset INSTANCE_ID: %v", err)
				}
			}

			logger := New(tt.component)

			if logger.Component != tt.expectedComp {
				t.Errorf("Expected component %s, got %s", tt.expectedComp, logger.Component)
			}

			if logger.InstanceID != tt.expectedInstID {
				t.Errorf("Expected instance ID %s, got %s", tt.expectedInstID, logger.InstanceID)
			}

			if logger.Container == "" {
				t.Error("Expected container to be set from hostname")
			}
		})
	}
}

// TestLogLevels tests all log level methods
func TestLogLevels(t *testing.T) {
	tests := []struct {
		name      string
		logFunc   func(*Logger, string, string, string, map[string]interface{})
		level     LogLevel
		message   string
		clientID  string
		requestID string
		fields    map[string]interface{}
	}{
		{
			name:      "Info log",
			logFunc:   (*Logger).Info,
			level:     INFO,
			message:   "Chat completion dispatched",
			clientID:  "client-123",
			requestID: "req-456",
			fields:    map[string]interface{}{"model": "claude-sonnet-4-20250514"},
		},
		{
			name:      "Error log",
			logFunc:   (*Logger).Error,
			level:     ERROR,
			message:   "Upstream request failed",
			clientID:  "client-789",
			requestID: "req-012",
			fields:    map[string]interface{}{"status_code": 502},
		},
		{
			name:      "Warn log",
			logFunc:   (*Logger).Warn,
			level:     WARN,
			message:   "Session store near capacity",
			clientID:  "client-abc",
			requestID: "req-def",
			fields:    nil,
		},
		{
			name:      "Debug log",
			logFunc:   (*Logger).Debug,
			level:     DEBUG,
			message:   "Raw upstream payload",
			clientID:  "client-xyz",
			requestID: "req-uvw",
			fields:    map[string]interface{}{"stream": true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log.SetOutput(&buf)
			defer log.SetOutput(os.Stderr)

			logger := New("test-component")
			logger.SetMinLevel(DEBUG)
			tt.logFunc(logger, tt.clientID, tt.requestID, tt.message, tt.fields)

			entry := parseEntry(t, buf.String())

			if entry.Level != tt.level {
				t.Errorf("Expected level %s, got %s", tt.level, entry.Level)
			}

			if entry.Message != tt.message {
				t.Errorf("Expected message '%s', got '%s'", tt.message, entry.Message)
			}

			if entry.ClientID != tt.clientID {
				t.Errorf("Expected client ID '%s', got '%s'", tt.clientID, entry.ClientID)
			}

			if entry.RequestID != tt.requestID {
				t.Errorf("Expected request ID '%s', got '%s'", tt.requestID, entry.RequestID)
			}

			if entry.Component != "test-component" {
				t.Errorf("Expected component 'test-component', got '%s'", entry.Component)
			}

			if _, err := time.Parse(time.RFC3339Nano, entry.Timestamp); err != nil {
				t.Errorf("Invalid timestamp format: %s", entry.Timestamp)
			}
		})
	}
}

// TestLevelFiltering tests that entries below the threshold are suppressed
func TestLevelFiltering(t *testing.T) {
	tests := []struct {
		name     string
		minLevel LogLevel
		emit     func(*Logger)
		expected bool
	}{
		{
			name:     "debug suppressed at INFO",
			minLevel: INFO,
			emit:     func(l *Logger) { l.Debug("c", "r", "hidden", nil) },
			expected: false,
		},
		{
			name:     "info emitted at INFO",
			minLevel: INFO,
			emit:     func(l *Logger) { l.Info("c", "r", "visible", nil) },
			expected: true,
		},
		{
			name:     "info suppressed at WARN",
			minLevel: WARN,
			emit:     func(l *Logger) { l.Info("c", "r", "hidden", nil) },
			expected: false,
		},
		{
			name:     "error always emitted",
			minLevel: ERROR,
			emit:     func(l *Logger) { l.Error("c", "r", "visible", nil) },
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log.SetOutput(&buf)
			defer log.SetOutput(os.Stderr)

			logger := New("test-component")
			logger.SetMinLevel(tt.minLevel)
			tt.emit(logger)

			got := strings.Contains(buf.String(), "{")
			if got != tt.expected {
				t.Errorf("Expected emitted=%v, got output %q", tt.expected, buf.String())
			}
		})
	}
}

// TestLevelFromEnv tests environment-driven level resolution
func TestLevelFromEnv(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		verbose  string
		expected LogLevel
	}{
		{name: "default is INFO", expected: INFO},
		{name: "explicit DEBUG", logLevel: "DEBUG", expected: DEBUG},
		{name: "explicit WARN", logLevel: "warn", expected: WARN},
		{name: "explicit ERROR", logLevel: "error", expected: ERROR},
		{name: "verbose wins", logLevel: "ERROR", verbose: "true", expected: DEBUG},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("LOG_LEVEL", tt.logLevel)
			t.Setenv("VERBOSE", tt.verbose)

			if got := levelFromEnv(); got != tt.expected {
				t.Errorf("Expected level %s, got %s", tt.expected, got)
			}
		})
	}
}

// TestInfoWithDuration tests the InfoWithDuration helper method
func TestInfoWithDuration(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	logger := New("test-component")
	logger.SetMinLevel(INFO)
	logger.InfoWithDuration("client-123", "req-456", "Request completed", 123.45, map[string]interface{}{
		"endpoint": "/v1/chat/completions",
	})

	entry := parseEntry(t, buf.String())

	durationMS, ok := entry.Fields["duration_ms"]
	if !ok {
		t.Error("Expected duration_ms field not found")
	}
	if durationMS != 123.45 {
		t.Errorf("Expected duration_ms 123.45, got %v", durationMS)
	}

	endpoint, ok := entry.Fields["endpoint"]
	if !ok {
		t.Error("Expected endpoint field not found")
	}
	if endpoint != "/v1/chat/completions" {
		t.Errorf("Expected endpoint '/v1/chat/completions', got %v", endpoint)
	}

	if entry.Level != INFO {
		t.Errorf("Expected INFO level, got %s", entry.Level)
	}
}

// TestErrorWithCode tests the ErrorWithCode helper method
func TestErrorWithCode(t *testing.T) {
	tests := []struct {
		name           string
		statusCode     int
		err            error
		expectError    bool
		expectedErrMsg string
	}{
		{
			name:           "with error",
			statusCode:     502,
			err:            &testError{msg: "upstream connection refused"},
			expectError:    true,
			expectedErrMsg: "upstream connection refused",
		},
		{
			name:        "without error",
			statusCode:  404,
			err:         nil,
			expectError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log.SetOutput(&buf)
			defer log.SetOutput(os.Stderr)

			logger := New("test-component")
			logger.SetMinLevel(INFO)
			logger.ErrorWithCode("client-123", "req-456", "Request failed", tt.statusCode, tt.err, nil)

			entry := parseEntry(t, buf.String())

			statusCode, ok := entry.Fields["status_code"]
			if !ok {
				t.Error("Expected status_code field not found")
			}

			statusCodeFloat, ok := statusCode.(float64)
			if !ok {
				t.Errorf("status_code is not a number: %v", statusCode)
			}
			if int(statusCodeFloat) != tt.statusCode {
				t.Errorf("Expected status_code %d, got %v", tt.statusCode, statusCode)
			}

			if tt.expectError {
				errMsg, ok := entry.Fields["error"]
				if !ok {
					t.Error("Expected error field not found")
				}
				if errMsg != tt.expectedErrMsg {
					t.Errorf("Expected error message '%s', got '%v'", tt.expectedErrMsg, errMsg)
				}
			}

			if entry.Level != ERROR {
				t.Errorf("Expected ERROR level, got %s", entry.Level)
			}
		})
	}
}

// TestJSONMarshalError tests behavior when JSON marshaling fails
func TestJSONMarshalError(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	logger := New("test-component")
	logger.SetMinLevel(INFO)

	// Channels cannot be marshaled to JSON
	ch := make(chan int)
	logger.Info("client-123", "req-456", "Test message", map[string]interface{}{
		"channel": ch,
	})

	output := buf.String()
	if !strings.Contains(output, "Failed to marshal log entry") {
		t.Error("Expected error message about JSON marshaling failure")
	}
}

// Helper type for testing errors
type testError struct {
	msg string
}

func (e *testError) Error() string {
	return e.msg
}

// BenchmarkLog benchmarks the logging performance
func BenchmarkLog(b *testing.B) {
	logger := New("benchmark-component")
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	fields := map[string]interface{}{
		"model":             "claude-sonnet-4-20250514",
		"prompt_tokens":     128,
		"completion_tokens": 512,
		"stream":            true,
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.Info("client-123", "req-456", "Processing request", fields)
	}
}
