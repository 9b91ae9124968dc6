// Package domain defines the core domain models for the call simulator.
package domain

// Role is the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Speaker attributes a transcript entry or a speaking turn.
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerAgent Speaker = "agent"
)

// Phase localizes a fault within a call.
type Phase string

const (
	PhaseCapture       Phase = "capture"
	PhaseTransport     Phase = "transport"
	PhaseTranscription Phase = "transcription"
	PhaseCompletion    Phase = "completion"
	PhaseSynthesis     Phase = "synthesis"
)

// ConnectionStatus is the lifecycle state of a streaming transport.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusReconnecting ConnectionStatus = "reconnecting"
	StatusFailed       ConnectionStatus = "failed"
)

// EndReason records why a session left the store.
type EndReason string

const (
	EndReasonCompleted EndReason = "completed"
	EndReasonIdle      EndReason = "idle"
)
