package policy

import (
	"context"

	"github.com/xiaot623/salescall/internal/domain"
)

// Limits bound what a caller may ask for.
type Limits struct {
	MaxMessageChars int
	MaxTurns        int
	MaxSpeechChars  int
}

// Guard turns policy decisions into domain errors. A nil Guard admits
// everything.
type Guard struct {
	engine *Engine
	limits Limits
	voices []string
}

// NewGuard creates a guard.
func NewGuard(engine *Engine, limits Limits, voices []string) *Guard {
	return &Guard{engine: engine, limits: limits, voices: voices}
}

// CheckMessage admits a user turn. turnCount is the number of user
// messages already in the session.
func (g *Guard) CheckMessage(ctx context.Context, message string, isVoice bool, turnCount int) error {
	if g == nil {
		return nil
	}
	return g.check(ctx, map[string]interface{}{
		"action":     "message",
		"message":    message,
		"is_voice":   isVoice,
		"turn_count": turnCount,
		"limits":     g.limitsInput(),
	})
}

// CheckSpeech admits a synthesis request.
func (g *Guard) CheckSpeech(ctx context.Context, text, voice string) error {
	if g == nil {
		return nil
	}
	voices := make([]interface{}, len(g.voices))
	for i, v := range g.voices {
		voices[i] = v
	}
	return g.check(ctx, map[string]interface{}{
		"action": "speech",
		"text":   text,
		"voice":  voice,
		"voices": voices,
		"limits": g.limitsInput(),
	})
}

func (g *Guard) limitsInput() map[string]interface{} {
	return map[string]interface{}{
		"max_message_chars": g.limits.MaxMessageChars,
		"max_turns":         g.limits.MaxTurns,
		"max_speech_chars":  g.limits.MaxSpeechChars,
	}
}

func (g *Guard) check(ctx context.Context, input map[string]interface{}) error {
	if g.engine == nil {
		return nil
	}
	decision, reason, err := g.engine.Evaluate(ctx, input)
	if err != nil {
		return err
	}
	if decision == DecisionBlock {
		return &domain.PolicyError{Reason: reason}
	}
	return nil
}
