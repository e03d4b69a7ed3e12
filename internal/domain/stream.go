package domain

// StreamEventType tags one event on an orchestration stream.
type StreamEventType string

const (
	// StreamMetadata announces the selected agent before any content.
	StreamMetadata StreamEventType = "metadata"
	// StreamContent carries one chunk of response text.
	StreamContent StreamEventType = "content"
	// StreamDone terminates a successful stream.
	StreamDone StreamEventType = "done"
	// StreamCancelled terminates a stream stopped by the user.
	StreamCancelled StreamEventType = "cancelled"
	// StreamError terminates a failed stream.
	StreamError StreamEventType = "error"
)

// StreamEvent is one event on an orchestration stream. Exactly one of
// StreamDone, StreamCancelled or StreamError ends every stream.
type StreamEvent struct {
	Type      StreamEventType `json:"type"`
	Agent     string          `json:"agent,omitempty"`
	Content   string          `json:"content,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Terminal reports whether this event ends the stream.
func (e StreamEvent) Terminal() bool {
	switch e.Type {
	case StreamDone, StreamCancelled, StreamError:
		return true
	}
	return false
}
