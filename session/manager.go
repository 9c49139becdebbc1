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

// Package session provides the in-memory conversation store behind the
// wrapper's session continuity feature. Sessions are keyed by a
// client-supplied id, hold OpenAI-format message history, and expire
// after a period of inactivity. Requests without a session id never
// touch the store.
package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"axonflow/claude-wrapper/adapter"
	"axonflow/claude-wrapper/shared/logger"
)

const (
	// DefaultTTL is the inactivity window before a session expires.
	DefaultTTL = time.Hour

	// DefaultCleanupInterval is how often the janitor sweeps expired
	// sessions out of the map.
	DefaultCleanupInterval = 5 * time.Minute
)

// Session is one stored conversation. Instances returned by the Manager
// are snapshots; mutations go through Manager methods.
type Session struct {
	ID           string                `json:"id"`
	Messages     []adapter.ChatMessage `json:"messages"`
	CreatedAt    time.Time             `json:"created_at"`
	LastAccessed time.Time             `json:"last_accessed"`
	ExpiresAt    time.Time             `json:"expires_at"`
}

// Expired reports whether the session's inactivity window has passed.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Summary is the list-endpoint view of a session (no message bodies).
type Summary struct {
	ID           string    `json:"id"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Stats aggregates store counters for the stats endpoint.
type Stats struct {
	ActiveSessions  int   `json:"active_sessions"`
	TotalMessages   int   `json:"total_messages"`
	SessionsCreated int64 `json:"sessions_created"`
	SessionsExpired int64 `json:"sessions_expired"`
}

// Config configures a Manager.
type Config struct {
	// TTL is the inactivity expiry window (default: 1 hour).
	TTL time.Duration

	// CleanupInterval is the janitor sweep period (default: 5 minutes).
	CleanupInterval time.Duration

	// Logger for sweep and lifecycle events.
	Logger *logger.Logger
}

// Manager is the in-memory TTL session store.
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	ttl      time.Duration
	interval time.Duration
	logger   *logger.Logger

	created int64
	expired int64

	// now is replaceable in tests
	now func() time.Time
}

// NewManager creates a session store. Call Start to run the janitor.
func NewManager(cfg Config) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.New("session-manager")
	}

	return &Manager{
		sessions: make(map[string]*Session),
		ttl:      cfg.TTL,
		interval: cfg.CleanupInterval,
		logger:   cfg.Logger,
		now:      time.Now,
	}
}

// Start runs the janitor goroutine until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	m.logger.Info("", "", "Starting session janitor", map[string]interface{}{
		"ttl":      m.ttl.String(),
		"interval": m.interval.String(),
	})

	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				m.logger.Info("", "", "Stopping session janitor", nil)
				return
			case <-ticker.C:
				if removed := m.Sweep(); removed > 0 {
					m.logger.Info("", "", "Swept expired sessions", map[string]interface{}{
						"removed": removed,
					})
				}
			}
		}
	}()
}

// GetOrCreate returns a snapshot of the session, creating a fresh one if
// it is absent or its inactivity window has passed. Access extends the
// expiry.
func (m *Manager) GetOrCreate(id string) *Session {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	s, exists := m.sessions[id]
	if exists && s.Expired(now) {
		// Continuity is gone after the TTL; start over
		delete(m.sessions, id)
		m.expired++
		exists = false
	}
	if !exists {
		s = &Session{
			ID:        id,
			CreatedAt: now,
		}
		m.sessions[id] = s
		m.created++
	}

	s.LastAccessed = now
	s.ExpiresAt = now.Add(m.ttl)
	return snapshot(s)
}

// Get returns a snapshot of the session, or nil if it is absent or has
// expired (even before the janitor swept it). Reads do not extend the
// expiry.
func (m *Manager) Get(id string) *Session {
	now := m.now()

	m.mu.RLock()
	defer m.mu.RUnlock()

	s, exists := m.sessions[id]
	if !exists || s.Expired(now) {
		return nil
	}
	return snapshot(s)
}

// History returns the stored conversation for id, creating the session
// if needed.
func (m *Manager) History(id string) []adapter.ChatMessage {
	return m.GetOrCreate(id).Messages
}

// Append adds messages to the session, creating it if needed, and
// extends the expiry.
func (m *Manager) Append(id string, messages ...adapter.ChatMessage) {
	if len(messages) == 0 {
		return
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	s, exists := m.sessions[id]
	if exists && s.Expired(now) {
		delete(m.sessions, id)
		m.expired++
		exists = false
	}
	if !exists {
		s = &Session{
			ID:        id,
			CreatedAt: now,
		}
		m.sessions[id] = s
		m.created++
	}

	s.Messages = append(s.Messages, messages...)
	s.LastAccessed = now
	s.ExpiresAt = now.Add(m.ttl)
}

// Delete removes a session, reporting whether an active one existed.
func (m *Manager) Delete(id string) bool {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	s, exists := m.sessions[id]
	if !exists {
		return false
	}
	delete(m.sessions, id)
	if s.Expired(now) {
		m.expired++
		return false
	}
	return true
}

// List returns summaries of all active sessions, sorted by id.
func (m *Manager) List() []Summary {
	now := m.now()

	m.mu.RLock()
	defer m.mu.RUnlock()

	summaries := make([]Summary, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s.Expired(now) {
			continue
		}
		summaries = append(summaries, Summary{
			ID:           s.ID,
			MessageCount: len(s.Messages),
			CreatedAt:    s.CreatedAt,
			LastAccessed: s.LastAccessed,
			ExpiresAt:    s.ExpiresAt,
		})
	}

	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ID < summaries[j].ID })
	return summaries
}

// Stats returns store counters. Expired-but-unswept sessions count as
// inactive.
func (m *Manager) Stats() Stats {
	now := m.now()

	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		SessionsCreated: m.created,
		SessionsExpired: m.expired,
	}
	for _, s := range m.sessions {
		if s.Expired(now) {
			stats.SessionsExpired++
			continue
		}
		stats.ActiveSessions++
		stats.TotalMessages += len(s.Messages)
	}
	return stats
}

// Sweep removes expired sessions and returns how many were dropped. The
// janitor calls this on its ticker; tests call it directly.
func (m *Manager) Sweep() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, s := range m.sessions {
		if s.Expired(now) {
			delete(m.sessions, id)
			m.expired++
			removed++
		}
	}
	return removed
}

// snapshot copies a session so callers can't mutate shared state.
func snapshot(s *Session) *Session {
	copied := *s
	copied.Messages = append([]adapter.ChatMessage(nil), s.Messages...)
	return &copied
}
