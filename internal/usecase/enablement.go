package usecase

import (
	"strings"
	"sync"

	"maestro/internal/domain"
)

// Enablement tracks which agents are switched off per (session,
// blueprint) pair. Absence means enabled, so a fresh session sees every
// agent. Names are case-insensitive.
type Enablement struct {
	mu       sync.RWMutex
	disabled map[string]map[string]map[string]struct{} // session → blueprint → lowercase names
}

// NewEnablement creates an empty enablement table.
func NewEnablement() *Enablement {
	return &Enablement{disabled: make(map[string]map[string]map[string]struct{})}
}

// Disable switches an agent off for one session and blueprint.
func (e *Enablement) Disable(sessionID, blueprint, name string) {
	key := strings.ToLower(name)

	e.mu.Lock()
	defer e.mu.Unlock()

	bySession, ok := e.disabled[sessionID]
	if !ok {
		bySession = make(map[string]map[string]struct{})
		e.disabled[sessionID] = bySession
	}
	set, ok := bySession[blueprint]
	if !ok {
		set = make(map[string]struct{})
		bySession[blueprint] = set
	}
	set[key] = struct{}{}
}

// Enable switches an agent back on.
func (e *Enablement) Enable(sessionID, blueprint, name string) {
	key := strings.ToLower(name)

	e.mu.Lock()
	defer e.mu.Unlock()

	if set, ok := e.disabled[sessionID][blueprint]; ok {
		delete(set, key)
	}
}

// Enabled reports whether the agent is enabled for the session.
func (e *Enablement) Enabled(sessionID, blueprint, name string) bool {
	key := strings.ToLower(name)

	e.mu.RLock()
	defer e.mu.RUnlock()

	set, ok := e.disabled[sessionID][blueprint]
	if !ok {
		return true
	}
	_, off := set[key]
	return !off
}

// EnabledAgents filters all down to the agents enabled for the session.
// The returned map is a fresh copy keyed like the input.
func (e *Enablement) EnabledAgents(sessionID, blueprint string, all map[string]*domain.AgentDescriptor) map[string]*domain.AgentDescriptor {
	e.mu.RLock()
	set := e.disabled[sessionID][blueprint]
	e.mu.RUnlock()

	out := make(map[string]*domain.AgentDescriptor, len(all))
	for name, desc := range all {
		if set != nil {
			if _, off := set[strings.ToLower(name)]; off {
				continue
			}
		}
		out[name] = desc
	}
	return out
}

// ClearSession forgets all enablement state for a session.
func (e *Enablement) ClearSession(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.disabled, sessionID)
}
