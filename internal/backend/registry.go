// Package backend is the collaborator service the engine bootstraps
// against: it mints short-lived realtime credentials, serves tool
// definitions, and executes tool calls on behalf of the client.
package backend

import (
	"context"
	"errors"
	"sync"
	"time"
)

type IssuedStatus string

const (
	IssuedActive  IssuedStatus = "active"
	IssuedExpired IssuedStatus = "expired"
)

var ErrSessionUnknown = errors.New("issued session not found")

// IssuedSession tracks one credential grant. The ephemeral key itself is
// never stored here; only enough to audit activity and expire idle grants.
type IssuedSession struct {
	ID             string       `json:"session_id"`
	Deployment     string       `json:"deployment"`
	Voice          string       `json:"voice"`
	Status         IssuedStatus `json:"status"`
	ToolCalls      int          `json:"tool_calls"`
	IssuedAt       time.Time    `json:"issued_at"`
	LastActivityAt time.Time    `json:"last_activity_at"`
}

// Registry is the in-memory book of issued sessions with an inactivity
// janitor. Grants are short-lived by design; nothing is persisted.
type Registry struct {
	mu                sync.RWMutex
	sessions          map[string]*IssuedSession
	inactivityTimeout time.Duration
	onExpire          func(*IssuedSession)
}

func NewRegistry(inactivityTimeout time.Duration) *Registry {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 5 * time.Minute
	}
	return &Registry{
		sessions:          make(map[string]*IssuedSession),
		inactivityTimeout: inactivityTimeout,
	}
}

func (r *Registry) SetExpireHook(hook func(*IssuedSession)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onExpire = hook
}

// Record registers a freshly issued session under the upstream session id.
func (r *Registry) Record(id, deployment, voice string) *IssuedSession {
	now := time.Now().UTC()
	s := &IssuedSession{
		ID:             id,
		Deployment:     deployment,
		Voice:          voice,
		Status:         IssuedActive,
		IssuedAt:       now,
		LastActivityAt: now,
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[id] = s
	return cloneIssued(s)
}

func (r *Registry) Get(id string) (*IssuedSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionUnknown
	}
	return cloneIssued(s), nil
}

// RecordToolCall bumps activity for the grant that triggered a call.
// Unknown ids are fine: tool calls carry no session id on some paths.
func (r *Registry) RecordToolCall(id string) {
	if id == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.ToolCalls++
		s.LastActivityAt = time.Now().UTC()
	}
}

func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, s := range r.sessions {
		if s.Status == IssuedActive {
			count++
		}
	}
	return count
}

// StartJanitor expires idle grants in the background until ctx ends.
func (r *Registry) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.expireIdle()
			}
		}
	}()
}

func (r *Registry) expireIdle() {
	now := time.Now().UTC()
	var expired []*IssuedSession

	r.mu.Lock()
	for _, s := range r.sessions {
		if s.Status != IssuedActive {
			continue
		}
		if now.Sub(s.LastActivityAt) < r.inactivityTimeout {
			continue
		}
		s.Status = IssuedExpired
		s.LastActivityAt = now
		expired = append(expired, cloneIssued(s))
	}
	hook := r.onExpire
	r.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func cloneIssued(s *IssuedSession) *IssuedSession {
	c := *s
	return &c
}
