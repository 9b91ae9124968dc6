package domain

// ReplyEventType is the type tag of a relayed reply event.
type ReplyEventType string

const (
	ReplyEventChunk ReplyEventType = "chunk"
	ReplyEventDone  ReplyEventType = "done"
)

// ReplyEvent is one newline-delimited JSON object of a message turn response.
type ReplyEvent struct {
	Type    ReplyEventType `json:"type"`
	Content string         `json:"content"`
}
