package service

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/xiaot623/salescall/internal/adapter/stt"
	"github.com/xiaot623/salescall/internal/audio"
	"github.com/xiaot623/salescall/internal/call"
	"github.com/xiaot623/salescall/internal/connection"
	"github.com/xiaot623/salescall/internal/domain"
	"github.com/xiaot623/salescall/internal/relay"
)

// LiveOptions describes the client side of a live call.
type LiveOptions struct {
	Sink call.Sink
	// Device supplies microphone samples. Nil means text turns only.
	Device audio.Device
	// Speak sends synthesized replies to the client.
	Speak bool
	Voice string
}

type liveEntry struct {
	call     *call.Call
	finished bool
	endOnce  sync.Once
}

// StartLiveCall attaches a live call to an existing session. A session
// holds at most one live call until it is ended.
func (s *Service) StartLiveCall(sessionID string, opts LiveOptions) (*call.Call, error) {
	if _, err := s.sessions.Get(sessionID); err != nil {
		return nil, err
	}

	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	if existing, ok := s.live[sessionID]; ok && !existing.finished {
		return nil, domain.ErrLiveCallActive
	}

	callOpts := call.Options{
		SessionID:  sessionID,
		Replier:    liveReplier{s: s},
		Sink:       opts.Sink,
		Voice:      opts.Voice,
		FrameSize:  s.cfg.AudioFrameSize,
		SampleRate: s.cfg.STTSampleRate,
		Record:     s.cfg.RecordCalls,
		Observer:   s.metrics,
		Logger:     s.logger,
	}
	if opts.Speak {
		callOpts.Synthesizer = s.synth
	}
	if opts.Device != nil && s.transcriptionEnabled() {
		endpoint, header, err := stt.Endpoint(stt.Options{
			URL:        s.cfg.STTURL,
			APIKey:     s.cfg.STTAPIKey,
			Model:      s.cfg.STTModel,
			SampleRate: s.cfg.STTSampleRate,
		})
		if err != nil {
			s.logger.Warn("transcription endpoint unusable, live call is text-only", zap.Error(err))
		} else {
			callOpts.Device = opts.Device
			callOpts.Dialer = &connection.WebsocketDialer{Header: header, ReadTimeout: s.cfg.WSReadTimeout}
			callOpts.Endpoint = endpoint
			callOpts.Connection = connection.Options{
				MaxAttempts:    s.cfg.ReconnectMaxAttempts,
				InitialBackoff: s.cfg.ReconnectInitialDelay,
				MaxBackoff:     s.cfg.ReconnectMaxDelay,
				PingInterval:   s.cfg.WSPingInterval,
			}
		}
	}

	c := call.New(callOpts)
	s.live[sessionID] = &liveEntry{call: c}
	s.metrics.LiveCallStarted()
	c.Start()

	s.logger.Info("live call started",
		zap.String("session_id", sessionID),
		zap.Bool("voice", callOpts.Device != nil))
	return c, nil
}

// FinishLiveCall stops the session's live call, typically because its
// client went away. The session stays open and the call's result is kept
// for EndSession.
func (s *Service) FinishLiveCall(sessionID string) {
	s.liveMu.Lock()
	entry, ok := s.live[sessionID]
	if ok {
		entry.finished = true
	}
	s.liveMu.Unlock()
	if ok {
		s.endLive(entry)
	}
}

// detachLiveCall removes the session's live call and returns its result.
func (s *Service) detachLiveCall(sessionID string) (call.Result, bool) {
	s.liveMu.Lock()
	entry, ok := s.live[sessionID]
	delete(s.live, sessionID)
	s.liveMu.Unlock()
	if !ok {
		return call.Result{}, false
	}
	return s.endLive(entry), true
}

func (s *Service) endLive(entry *liveEntry) call.Result {
	entry.endOnce.Do(s.metrics.LiveCallEnded)
	return entry.call.End()
}

func (s *Service) transcriptionEnabled() bool {
	return s.cfg.STTURL != "" && (s.cfg.IsMock() || s.cfg.STTAPIKey != "")
}

// liveReplier admits live turns through the same policy as typed ones.
type liveReplier struct {
	s *Service
}

func (r liveReplier) Reply(ctx context.Context, sessionID, userText string, emit relay.EmitFunc) (string, error) {
	return r.s.reply(ctx, sessionID, userText, true, emit)
}
