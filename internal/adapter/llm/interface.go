// Package llm provides an abstraction for conversational completion clients.
package llm

import "context"

// Client defines the completion operations the call simulator needs.
type Client interface {
	// CreateChatCompletion sends a non-streaming request and returns the full reply.
	CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error)

	// CreateChatCompletionStream opens a streaming request. The caller pulls
	// increments with Recv and must Close the stream.
	CreateChatCompletionStream(ctx context.Context, req *ChatCompletionRequest) (ChatStream, error)
}

// ChatStream is a pull-based sequence of reply increments. Recv returns
// io.EOF after the last increment. Nothing is read from the upstream until
// the caller asks for the next increment.
type ChatStream interface {
	Recv() (string, error)
	Close() error
}

// Ensure HTTPClient implements Client interface.
var _ Client = (*HTTPClient)(nil)
