// Package userstore provides user/role resolver implementations for the caps
// engine. The engine only reads from these stores; role administration lives
// with whoever owns the store.
package userstore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"capdist.org/internal/caps"
)

// Memory is a map-backed resolver, used in tests and in deployments without
// a database.
type Memory struct {
	mu       sync.RWMutex
	byID     map[string]*caps.User
	byHandle map[string]*caps.User
}

var _ caps.UserResolver = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		byID:     make(map[string]*caps.User),
		byHandle: make(map[string]*caps.User),
	}
}

// Put inserts or replaces a user record.
func (m *Memory) Put(u caps.User) error {
	u.ID = strings.TrimSpace(u.ID)
	if u.ID == "" {
		return fmt.Errorf("%w: user id is required", caps.ErrInvalidInput)
	}
	u.Handle = strings.TrimSpace(u.Handle)
	u.Roles = dedupeRoles(u.Roles)

	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.byID[u.ID]; ok && prev.Handle != "" {
		delete(m.byHandle, prev.Handle)
	}
	cp := u
	m.byID[u.ID] = &cp
	if cp.Handle != "" {
		m.byHandle[cp.Handle] = &cp
	}
	return nil
}

// Remove deletes a user record and reports whether it existed.
func (m *Memory) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return false
	}
	delete(m.byID, id)
	if u.Handle != "" {
		delete(m.byHandle, u.Handle)
	}
	return true
}

// ResolveUser looks up by id first, then by handle.
func (m *Memory) ResolveUser(_ context.Context, ref string) (*caps.User, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("%w: user reference is required", caps.ErrInvalidInput)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.byID[ref]
	if !ok {
		u, ok = m.byHandle[ref]
	}
	if !ok {
		return nil, fmt.Errorf("%w: user %s", caps.ErrNotFound, ref)
	}
	cp := *u
	cp.Roles = append([]string(nil), u.Roles...)
	return &cp, nil
}

func dedupeRoles(roles []string) []string {
	var out []string
	for _, role := range roles {
		role = strings.TrimSpace(role)
		if role == "" {
			continue
		}
		seen := false
		for _, have := range out {
			if have == role {
				seen = true
				break
			}
		}
		if !seen {
			out = append(out, role)
		}
	}
	return out
}
