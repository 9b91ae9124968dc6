package domain

import "encoding/json"

// StartSessionRequest starts a call from a persona ID, an explicit prompt or profile data.
type StartSessionRequest struct {
	PersonaID      string          `json:"personaId,omitempty"`
	SystemPrompt   string          `json:"systemPrompt,omitempty"`
	ProfileData    json.RawMessage `json:"profileData,omitempty"`
	SimulationType string          `json:"simulationType,omitempty"`
}

// StartSessionResponse is returned after a session has been created.
type StartSessionResponse struct {
	SessionID      string `json:"sessionId"`
	InitialMessage string `json:"initialMessage"`
}

// MessageRequest is one conversational turn.
type MessageRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
	IsVoice   bool   `json:"isVoice"`
}

// EndSessionRequest ends a call.
type EndSessionRequest struct {
	SessionID string `json:"sessionId"`
}

// ConversationSummary is the short digest of an ended session.
type ConversationSummary struct {
	MessageCount int   `json:"messageCount"`
	Duration     int64 `json:"duration"` // seconds
}

// EndSessionResponse carries feedback and a digest of the ended call.
type EndSessionResponse struct {
	Success             bool                `json:"success"`
	Feedback            string              `json:"feedback"`
	ConversationSummary ConversationSummary `json:"conversationSummary"`
	CallMetrics         *CallMetrics        `json:"callMetrics,omitempty"`
	CallSummary         string              `json:"callSummary,omitempty"`
	// Recording is the live call audio as WAV, base64 in JSON.
	Recording []byte `json:"recording,omitempty"`
}

// SpeechRequest asks for text to be synthesized.
type SpeechRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

// FeedbackRequest asks for coaching feedback on a raw transcript.
type FeedbackRequest struct {
	CallTranscript string `json:"callTranscript"`
}

// FeedbackResponse carries generated coaching feedback.
type FeedbackResponse struct {
	Success  bool   `json:"success"`
	Feedback string `json:"feedback"`
}

// CreatePersonaRequest registers a persona. Without a system prompt one is
// synthesized from the descriptive fields.
type CreatePersonaRequest struct {
	Name           string   `json:"name,omitempty"`
	SystemPrompt   string   `json:"systemPrompt,omitempty"`
	LinkedInURL    string   `json:"linkedInUrl,omitempty"`
	JobTitle       string   `json:"jobTitle,omitempty"`
	CompanyName    string   `json:"companyName,omitempty"`
	Industry       string   `json:"industry,omitempty"`
	SeniorityLevel string   `json:"seniorityLevel,omitempty"`
	Keywords       []string `json:"keywords,omitempty"`
}

// ErrorResponse is the uniform failure body.
type ErrorResponse struct {
	Error string `json:"error"`
}
