package llm

import (
	"context"
	"fmt"
	"io"
	"time"
)

// MockClient is an in-process Client that answers like a polite buyer.
type MockClient struct {
	// ChunkSize is the number of bytes per streamed increment.
	ChunkSize int
	// Delay is slept between increments.
	Delay time.Duration
}

// NewMockClient creates a new mock completion client.
func NewMockClient() *MockClient {
	return &MockClient{ChunkSize: 10}
}

// Ensure MockClient implements Client interface.
var _ Client = (*MockClient)(nil)

// CreateChatCompletion returns a mock response.
func (m *MockClient) CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	content := m.generateMockResponse(req)
	return &ChatCompletionResponse{
		ID:      fmt.Sprintf("mock-chatcmpl-%d", time.Now().UnixNano()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []Choice{{
			Index:        0,
			Message:      &ChatMessage{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
	}, nil
}

// CreateChatCompletionStream streams the mock response in fixed-size pieces.
func (m *MockClient) CreateChatCompletionStream(ctx context.Context, req *ChatCompletionRequest) (ChatStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	size := m.ChunkSize
	if size <= 0 {
		size = 10
	}
	return NewSliceStream(ctx, splitIntoChunks(m.generateMockResponse(req), size), m.Delay), nil
}

// generateMockResponse generates a mock response based on the request.
func (m *MockClient) generateMockResponse(req *ChatCompletionRequest) string {
	var lastUserMessage string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			lastUserMessage = req.Messages[i].Content
			break
		}
	}

	if lastUserMessage == "" {
		return "[MOCK] Thanks for calling. What did you want to talk about?"
	}

	return fmt.Sprintf("[MOCK] You said %q. Tell me more about how that helps my team.", truncate(lastUserMessage, 100))
}

// splitIntoChunks splits a string into chunks of approximately the given size.
func splitIntoChunks(s string, chunkSize int) []string {
	var chunks []string
	for i := 0; i < len(s); i += chunkSize {
		end := i + chunkSize
		if end > len(s) {
			end = len(s)
		}
		chunks = append(chunks, s[i:end])
	}
	return chunks
}

// truncate truncates a string to the given length.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// SliceStream replays a fixed list of increments. Useful for fakes.
type SliceStream struct {
	ctx    context.Context
	chunks []string
	delay  time.Duration
	pos    int
	err    error
	closed bool
}

// NewSliceStream creates a stream over chunks.
func NewSliceStream(ctx context.Context, chunks []string, delay time.Duration) *SliceStream {
	return &SliceStream{ctx: ctx, chunks: chunks, delay: delay}
}

// WithError makes the stream fail with err once the chunks are exhausted.
func (s *SliceStream) WithError(err error) *SliceStream {
	s.err = err
	return s
}

func (s *SliceStream) Recv() (string, error) {
	if s.closed {
		return "", io.EOF
	}
	if err := s.ctx.Err(); err != nil {
		return "", err
	}
	if s.pos >= len(s.chunks) {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	if s.delay > 0 && s.pos > 0 {
		select {
		case <-s.ctx.Done():
			return "", s.ctx.Err()
		case <-time.After(s.delay):
		}
	}
	chunk := s.chunks[s.pos]
	s.pos++
	return chunk, nil
}

func (s *SliceStream) Close() error {
	s.closed = true
	return nil
}
