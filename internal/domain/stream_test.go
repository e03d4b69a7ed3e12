package domain

import "testing"

func TestStreamEventTerminal(t *testing.T) {
	terminal := []StreamEventType{StreamDone, StreamCancelled, StreamError}
	for _, typ := range terminal {
		if !(StreamEvent{Type: typ}).Terminal() {
			t.Errorf("%s should be terminal", typ)
		}
	}

	open := []StreamEventType{StreamMetadata, StreamContent}
	for _, typ := range open {
		if (StreamEvent{Type: typ}).Terminal() {
			t.Errorf("%s should not be terminal", typ)
		}
	}
}

func TestRoleConstants(t *testing.T) {
	roles := map[string]string{
		"system":    RoleSystem,
		"user":      RoleUser,
		"assistant": RoleAssistant,
		"tool":      RoleTool,
	}
	for expected, got := range roles {
		if got != expected {
			t.Errorf("Role %q = %q, want %q", expected, got, expected)
		}
	}
}
