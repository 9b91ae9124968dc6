package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/salescall/internal/call"
	"github.com/xiaot623/salescall/internal/domain"
	"github.com/xiaot623/salescall/internal/relay"
	"github.com/xiaot623/salescall/internal/session"
	"github.com/xiaot623/salescall/internal/transcript"
)

// StartSession resolves the persona and opens a session seeded with its
// system prompt and the prospect's opening line.
func (s *Service) StartSession(ctx context.Context, req domain.StartSessionRequest) (*domain.StartSessionResponse, error) {
	resolved, err := s.personas.Resolve(ctx, req)
	if err != nil {
		s.countUpstream(err)
		return nil, err
	}

	opening := resolved.Opening()
	sessionID := s.sessions.Create(resolved.SystemPrompt, opening,
		session.WithPersona(resolved.PersonaID),
		session.WithProfile(resolved.Profile))
	s.metrics.SessionStarted()

	s.logger.Info("session started",
		zap.String("session_id", sessionID),
		zap.String("persona_id", resolved.PersonaID))
	return &domain.StartSessionResponse{SessionID: sessionID, InitialMessage: opening}, nil
}

// SendMessage runs one turn, delivering reply events to emit. Errors
// returned before the first emit mean nothing was streamed.
func (s *Service) SendMessage(ctx context.Context, req domain.MessageRequest, emit relay.EmitFunc) error {
	if req.SessionID == "" || strings.TrimSpace(req.Message) == "" {
		return domain.NewValidationError("", "missing required fields")
	}
	_, err := s.reply(ctx, req.SessionID, req.Message, req.IsVoice, emit)
	return err
}

func (s *Service) reply(ctx context.Context, sessionID, text string, isVoice bool, emit relay.EmitFunc) (string, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return "", err
	}
	if err := s.guard.CheckMessage(ctx, text, isVoice, userTurns(sess.Messages)); err != nil {
		s.logger.Info("turn blocked", zap.String("session_id", sessionID), zap.Error(err))
		return "", err
	}
	full, err := s.relay.Reply(ctx, sessionID, text, emit)
	if err != nil {
		s.countUpstream(err)
	}
	return full, err
}

// TouchSession marks the session active.
func (s *Service) TouchSession(sessionID string) error {
	return s.sessions.Touch(sessionID)
}

// EndSession closes the session: any live call is stopped, coaching
// feedback is generated from the conversation and the call is archived.
func (s *Service) EndSession(ctx context.Context, sessionID string) (*domain.EndSessionResponse, error) {
	if sessionID == "" {
		return nil, domain.NewValidationError("sessionId", "missing session ID")
	}
	if _, err := s.sessions.Get(sessionID); err != nil {
		return nil, err
	}

	result, hasLive := s.detachLiveCall(sessionID)

	sess, err := s.sessions.Remove(sessionID)
	if err != nil {
		return nil, err
	}
	endedAt := s.now()

	feedback := s.feedbackFor(ctx, transcript.RenderMessages(sess.Messages))
	resp := &domain.EndSessionResponse{
		Success:  true,
		Feedback: feedback,
		ConversationSummary: domain.ConversationSummary{
			MessageCount: len(sess.Messages),
			Duration:     int64(endedAt.Sub(sess.CreatedAt) / time.Second),
		},
	}
	var live *call.Result
	if hasLive {
		live = &result
		metrics := result.Metrics
		resp.CallMetrics = &metrics
		resp.CallSummary = result.Summary
		resp.Recording = result.Recording
	}

	s.archive(sess, domain.EndReasonCompleted, feedback, live, endedAt)
	s.metrics.SessionEnded(domain.EndReasonCompleted)
	s.logger.Info("session ended",
		zap.String("session_id", sessionID),
		zap.Int("messages", len(sess.Messages)),
		zap.Bool("live", hasLive))
	return resp, nil
}

// HandleEvicted archives a session removed by the idle sweeper.
func (s *Service) HandleEvicted(sess domain.Session) {
	var live *call.Result
	if result, ok := s.detachLiveCall(sess.SessionID); ok {
		live = &result
	}
	s.archive(sess, domain.EndReasonIdle, "", live, s.now())
	s.metrics.SessionEnded(domain.EndReasonIdle)
}

func (s *Service) archive(sess domain.Session, reason domain.EndReason, feedback string, live *call.Result, endedAt time.Time) {
	if s.repo == nil || !s.cfg.RecordCalls {
		return
	}
	record := &domain.CallRecord{
		SessionID: sess.SessionID,
		PersonaID: sess.PersonaID,
		StartedAt: sess.CreatedAt,
		EndedAt:   endedAt,
		EndReason: reason,
		Feedback:  feedback,
		Messages:  sess.Messages,
	}
	if live != nil {
		metrics := live.Metrics
		record.Transcript = live.Transcript
		record.Metrics = &metrics
	}

	// The request context may already be gone; the archive should still land.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.repo.SaveCall(ctx, record); err != nil {
		s.logger.Error("archive call failed", zap.String("session_id", sess.SessionID), zap.Error(err))
	}
}

// GetCall returns an archived call.
func (s *Service) GetCall(ctx context.Context, sessionID string) (*domain.CallRecord, error) {
	if s.repo == nil {
		return nil, domain.ErrCallNotFound
	}
	record, err := s.repo.GetCall(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, domain.ErrCallNotFound
	}
	return record, nil
}

func (s *Service) countUpstream(err error) {
	var upstream *domain.UpstreamServiceError
	if errors.As(err, &upstream) {
		s.metrics.UpstreamError(upstream.Phase)
	}
}

func userTurns(messages []domain.Message) int {
	n := 0
	for _, m := range messages {
		if m.Role == domain.RoleUser {
			n++
		}
	}
	return n
}
