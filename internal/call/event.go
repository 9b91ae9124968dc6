package call

import (
	"github.com/xiaot623/salescall/internal/audio"
	"github.com/xiaot623/salescall/internal/domain"
)

// Event is one input to a call's dispatch loop. The set of event types is
// closed; the loop switches over them exhaustively.
type Event interface {
	isEvent()
}

// StatusChanged reports a speech-to-text connection transition.
type StatusChanged struct {
	Status domain.ConnectionStatus
}

// AudioFrame is one captured, encoded block of microphone audio.
type AudioFrame struct {
	Frame audio.Frame
}

// TranscriptFragment is a speech-to-text result for the user's speech.
type TranscriptFragment struct {
	Text        string
	Final       bool
	SpeechFinal bool
}

// StreamChunk carries one reply event from the relay. Finished marks the end
// of the reply, with Err set when it did not complete.
type StreamChunk struct {
	Event    domain.ReplyEvent
	Finished bool
	Err      error
}

// UserText is a typed user turn.
type UserText struct {
	Text string
}

// EndTurn closes the user's current utterance and asks for a reply.
type EndTurn struct{}

// EndCall tears the call down and delivers the result on Reply.
type EndCall struct {
	Reply chan Result
}

type voiceFailed struct {
	Phase domain.Phase
	Err   error
}

func (StatusChanged) isEvent()      {}
func (AudioFrame) isEvent()         {}
func (TranscriptFragment) isEvent() {}
func (StreamChunk) isEvent()        {}
func (UserText) isEvent()           {}
func (EndTurn) isEvent()            {}
func (EndCall) isEvent()            {}
func (voiceFailed) isEvent()        {}
