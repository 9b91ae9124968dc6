package domain

// Live call message types from client to server. Binary frames carry
// float32 little-endian microphone samples.
const (
	LiveTypeText    = "text"
	LiveTypeEndTurn = "end_turn"
	LiveTypeVolume  = "volume"
	LiveTypeEnd     = "end"
)

// Live call message types from server to client. Binary frames carry
// synthesized speech.
const (
	LiveTypeReady      = "ready"
	LiveTypeStatus     = "status"
	LiveTypeTranscript = "transcript"
	LiveTypeChunk      = "chunk"
	LiveTypeDone       = "done"
	LiveTypeDegraded   = "degraded"
	LiveTypeEnded      = "ended"
	LiveTypeError      = "error"
)

// Call modes reported in ready and degraded messages.
const (
	ModeVoice = "voice"
	ModeText  = "text"
)

// LiveMessage is a JSON message on the live call websocket.
type LiveMessage struct {
	Type      string `json:"type"`
	Ts        int64  `json:"ts,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	Text    string  `json:"text,omitempty"`
	Content string  `json:"content,omitempty"`
	Speaker Speaker `json:"speaker,omitempty"`
	Final   bool    `json:"final,omitempty"`
	Volume  float64 `json:"volume,omitempty"`

	Mode    string           `json:"mode,omitempty"`
	Status  ConnectionStatus `json:"status,omitempty"`
	Phase   Phase            `json:"phase,omitempty"`
	Code    string           `json:"code,omitempty"`
	Message string           `json:"message,omitempty"`

	Metrics *CallMetrics `json:"metrics,omitempty"`
	Summary string       `json:"summary,omitempty"`
}
