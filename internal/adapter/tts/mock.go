package tts

import (
	"context"

	"github.com/xiaot623/salescall/internal/audio"
)

// MockSynthesizer returns a short silent WAV clip instead of calling out.
type MockSynthesizer struct {
	SampleRate int
}

// NewMockSynthesizer creates a mock synthesizer.
func NewMockSynthesizer() *MockSynthesizer {
	return &MockSynthesizer{SampleRate: 16000}
}

// Synthesize returns 10ms of silence per character.
func (m *MockSynthesizer) Synthesize(ctx context.Context, text, voice string) (*Audio, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	samples := len(text) * m.SampleRate / 100
	return &Audio{
		Data:        audio.PCMToWAV(make([]byte, samples*2), m.SampleRate, 1),
		ContentType: "audio/wav",
	}, nil
}

// NewSynthesizer picks the mock when mock is set.
func NewSynthesizer(baseURL, apiKey, model, voice string, mock bool) Synthesizer {
	if mock {
		return NewMockSynthesizer()
	}
	return NewClient(baseURL, apiKey, model, voice, 0)
}
