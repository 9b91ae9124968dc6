// Package relay streams assistant replies for a session turn while keeping
// the session history consistent with what was delivered.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/xiaot623/salescall/internal/adapter/llm"
	"github.com/xiaot623/salescall/internal/domain"
)

// EmitFunc delivers one reply event. A non-nil error means the consumer is
// gone and the turn should stop.
type EmitFunc func(domain.ReplyEvent) error

// SessionStore is the subset of the session store a turn needs.
type SessionStore interface {
	Get(id string) (domain.Session, error)
	BeginTurn(id string) (func(), error)
	AppendUserMessage(id, content string) error
	AppendAssistantMessage(id, content string) error
}

// Observer is notified about relay activity. Any method may be a no-op.
type Observer interface {
	ChunkRelayed()
	TurnFinished(outcome string)
}

// Outcomes reported to Observer.TurnFinished.
const (
	OutcomeDone      = "done"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
)

// Relay runs one conversational turn at a time per session.
type Relay struct {
	store    SessionStore
	client   llm.Client
	model    string
	observer Observer
	logger   *zap.Logger
}

// New creates a relay.
func New(store SessionStore, client llm.Client, model string, observer Observer, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		store:    store,
		client:   client,
		model:    model,
		observer: observer,
		logger:   logger.With(zap.String("component", "relay")),
	}
}

// Reply appends userText to the session, streams the completion over the
// whole history to emit as chunk events, appends the reply as the assistant
// message and emits a single done event carrying the full text.
//
// If ctx ends or emit fails mid-stream, whatever was received so far is
// committed as the assistant message and no done event is sent. Upstream
// failures are returned as UpstreamServiceError with the completion phase.
func (r *Relay) Reply(ctx context.Context, sessionID, userText string, emit EmitFunc) (string, error) {
	if strings.TrimSpace(userText) == "" {
		return "", domain.NewValidationError("message", "message is required")
	}

	release, err := r.store.BeginTurn(sessionID)
	if err != nil {
		return "", err
	}
	defer release()

	if err := r.store.AppendUserMessage(sessionID, userText); err != nil {
		return "", err
	}
	sess, err := r.store.Get(sessionID)
	if err != nil {
		return "", err
	}

	stream, err := r.client.CreateChatCompletionStream(ctx, &llm.ChatCompletionRequest{
		Model:    r.model,
		Messages: toChatMessages(sess.Messages),
	})
	if err != nil {
		r.finish(OutcomeFailed)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", domain.NewUpstreamError(domain.PhaseCompletion, err)
	}
	defer stream.Close()

	var full strings.Builder
	for {
		delta, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			r.commitPartial(sessionID, full.String())
			if ctx.Err() != nil {
				r.finish(OutcomeCancelled)
				return full.String(), ctx.Err()
			}
			r.finish(OutcomeFailed)
			return full.String(), domain.NewUpstreamError(domain.PhaseCompletion, err)
		}

		full.WriteString(delta)
		if err := emit(domain.ReplyEvent{Type: domain.ReplyEventChunk, Content: delta}); err != nil {
			r.commitPartial(sessionID, full.String())
			r.finish(OutcomeCancelled)
			return full.String(), fmt.Errorf("deliver chunk: %w", err)
		}
		if r.observer != nil {
			r.observer.ChunkRelayed()
		}
		if ctx.Err() != nil {
			r.commitPartial(sessionID, full.String())
			r.finish(OutcomeCancelled)
			return full.String(), ctx.Err()
		}
	}

	text := full.String()
	if err := r.store.AppendAssistantMessage(sessionID, text); err != nil {
		return text, err
	}
	r.finish(OutcomeDone)
	if err := emit(domain.ReplyEvent{Type: domain.ReplyEventDone, Content: text}); err != nil {
		r.logger.Debug("done event not delivered", zap.String("session_id", sessionID), zap.Error(err))
	}
	return text, nil
}

func (r *Relay) commitPartial(sessionID, text string) {
	if text == "" {
		return
	}
	if err := r.store.AppendAssistantMessage(sessionID, text); err != nil {
		r.logger.Warn("commit partial reply", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	r.logger.Info("partial reply committed", zap.String("session_id", sessionID), zap.Int("chars", len(text)))
}

func (r *Relay) finish(outcome string) {
	if r.observer != nil {
		r.observer.TurnFinished(outcome)
	}
}

func toChatMessages(messages []domain.Message) []llm.ChatMessage {
	out := make([]llm.ChatMessage, len(messages))
	for i, m := range messages {
		out[i] = llm.ChatMessage{Role: string(m.Role), Content: m.Content}
	}
	return out
}
