package llm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientCreateChatCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt","choices":[{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}]}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", time.Second)
	resp, err := client.CreateChatCompletion(context.Background(), &ChatCompletionRequest{
		Model:    "gpt",
		Messages: []ChatMessage{{Role: "user", Content: "hello"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Content())
}

func TestClientCreateChatCompletionError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"bad","type":"invalid_request_error"}}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", time.Second)
	_, err := client.CreateChatCompletion(context.Background(), &ChatCompletionRequest{Model: "gpt"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LLM API error [400]")
}

func TestClientStreamPullsIncrements(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"role\":\"assistant\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		fmt.Fprint(w, "data: not-json\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"lo\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret", time.Second)
	stream, err := client.CreateChatCompletionStream(context.Background(), &ChatCompletionRequest{Model: "gpt"})
	require.NoError(t, err)
	defer stream.Close()

	var got []string
	for {
		delta, err := stream.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, delta)
	}
	assert.Equal(t, []string{"Hel", "lo"}, got)
}

func TestClientStreamErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "bad")
	}))
	defer server.Close()

	client := NewClient(server.URL, "", time.Second)
	_, err := client.CreateChatCompletionStream(context.Background(), &ChatCompletionRequest{Model: "gpt"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestMockClientStream(t *testing.T) {
	client := NewMockClient()
	req := &ChatCompletionRequest{Messages: []ChatMessage{{Role: "user", Content: "pricing?"}}}

	full, err := client.CreateChatCompletion(context.Background(), req)
	require.NoError(t, err)

	stream, err := client.CreateChatCompletionStream(context.Background(), req)
	require.NoError(t, err)

	var text string
	for {
		delta, err := stream.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assert.LessOrEqual(t, len(delta), 10)
		text += delta
	}
	assert.Equal(t, full.Content(), text)
	assert.Contains(t, text, "pricing?")
}

func TestSliceStreamCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stream := NewSliceStream(ctx, []string{"a", "b"}, 0)

	delta, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "a", delta)

	cancel()
	_, err = stream.Recv()
	assert.ErrorIs(t, err, context.Canceled)
}
