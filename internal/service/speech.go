package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/xiaot623/salescall/internal/adapter/tts"
	"github.com/xiaot623/salescall/internal/domain"
)

// Synthesize turns text into speech with the requested voice.
func (s *Service) Synthesize(ctx context.Context, req domain.SpeechRequest) (*tts.Audio, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, domain.NewValidationError("text", "text is required")
	}
	voice := req.Voice
	if voice == "" {
		voice = s.cfg.TTSVoice
	}
	if voice == "" {
		voice = tts.DefaultVoice
	}
	if err := s.guard.CheckSpeech(ctx, req.Text, voice); err != nil {
		return nil, err
	}

	clip, err := s.synth.Synthesize(ctx, req.Text, voice)
	if err != nil {
		s.metrics.UpstreamError(domain.PhaseSynthesis)
		return nil, domain.NewUpstreamError(domain.PhaseSynthesis, fmt.Errorf("synthesize speech: %w", err))
	}
	return clip, nil
}
