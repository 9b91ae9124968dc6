package domain

import (
	"encoding/json"
	"time"
)

// Message is a single turn in a session's conversation history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Session is one ongoing simulated call.
type Session struct {
	SessionID       string          `json:"session_id"`
	Messages        []Message       `json:"messages"`
	CreatedAt       time.Time       `json:"created_at"`
	LastActivity    time.Time       `json:"last_activity"`
	PersonaID       string          `json:"persona_id,omitempty"`
	ProfileSnapshot json.RawMessage `json:"profile_snapshot,omitempty"`
}

// Clone returns a deep copy that shares no slices with s.
func (s Session) Clone() Session {
	out := s
	out.Messages = make([]Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	if s.ProfileSnapshot != nil {
		out.ProfileSnapshot = append(json.RawMessage(nil), s.ProfileSnapshot...)
	}
	return out
}

// Persona is a stored buyer persona.
type Persona struct {
	PersonaID    string          `json:"persona_id"`
	Name         string          `json:"name"`
	SystemPrompt string          `json:"system_prompt,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// CallRecord is the archived form of a session after it leaves the store.
type CallRecord struct {
	SessionID  string            `json:"session_id"`
	PersonaID  string            `json:"persona_id,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	EndedAt    time.Time         `json:"ended_at"`
	EndReason  EndReason         `json:"end_reason"`
	Feedback   string            `json:"feedback,omitempty"`
	Messages   []Message         `json:"messages"`
	Transcript []TranscriptEntry `json:"transcript,omitempty"`
	Metrics    *CallMetrics      `json:"metrics,omitempty"`
}
