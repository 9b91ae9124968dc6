package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xiaot623/salescall/internal/adapter/llm"
	"github.com/xiaot623/salescall/internal/domain"
)

// FeedbackFallback replaces coaching feedback that could not be generated.
const FeedbackFallback = "Unable to generate feedback due to an error."

const coachInstruction = `You are an expert sales coach. Analyze the following sales call transcript and provide constructive feedback to the salesperson.
Focus on:
1. Effectiveness of questioning techniques
2. Handling of objections
3. Value proposition clarity
4. Active listening skills
5. Next steps and follow-up suggestions

Provide specific examples from the conversation and actionable advice for improvement.`

// Coach writes post-call feedback for the salesperson.
type Coach struct {
	client llm.Client
	model  string
}

// NewCoach creates a coach using model.
func NewCoach(client llm.Client, model string) *Coach {
	return &Coach{client: client, model: model}
}

// Feedback reviews a rendered transcript.
func (c *Coach) Feedback(ctx context.Context, transcript string) (string, error) {
	temperature := 0.7
	maxTokens := 1000
	resp, err := c.client.CreateChatCompletion(ctx, &llm.ChatCompletionRequest{
		Model: c.model,
		Messages: []llm.ChatMessage{
			{Role: "system", Content: coachInstruction},
			{Role: "user", Content: "Here is the transcript of a sales call. Please provide detailed feedback:\n\n" + transcript},
		},
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		return "", domain.NewUpstreamError(domain.PhaseCompletion, fmt.Errorf("generate feedback: %w", err))
	}
	feedback := strings.TrimSpace(resp.Content())
	if feedback == "" {
		return "No feedback available", nil
	}
	return feedback, nil
}

// GenerateFeedback reviews a transcript supplied by the caller.
func (s *Service) GenerateFeedback(ctx context.Context, req domain.FeedbackRequest) (string, error) {
	if strings.TrimSpace(req.CallTranscript) == "" {
		return "", domain.NewValidationError("callTranscript", "callTranscript is required")
	}
	feedback, err := s.coach.Feedback(ctx, req.CallTranscript)
	if err != nil {
		s.metrics.UpstreamError(domain.PhaseCompletion)
		return "", err
	}
	return feedback, nil
}

// feedbackFor never fails; provider errors degrade to FeedbackFallback.
func (s *Service) feedbackFor(ctx context.Context, transcript string) string {
	feedback, err := s.coach.Feedback(ctx, transcript)
	if err != nil {
		s.logger.Warn("feedback generation failed", zap.Error(err))
		s.metrics.UpstreamError(domain.PhaseCompletion)
		return FeedbackFallback
	}
	return feedback
}
