// Package tts provides text-to-speech clients.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultVoice is used when a request names no voice.
const DefaultVoice = "alloy"

// Voices lists the voices the speech endpoint accepts.
var Voices = []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"}

// Synthesizer converts text to encoded audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (*Audio, error)
}

// Audio is a synthesized clip.
type Audio struct {
	Data        []byte
	ContentType string
}

// Client talks to an OpenAI-compatible /v1/audio/speech endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	voice      string
	httpClient *http.Client
}

// NewClient creates a new speech client.
func NewClient(baseURL, apiKey, model, voice string, timeout time.Duration) *Client {
	if model == "" {
		model = "tts-1"
	}
	if voice == "" {
		voice = DefaultVoice
	}
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		voice:      voice,
		httpClient: &http.Client{Timeout: timeout},
	}
}

var _ Synthesizer = (*Client)(nil)

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format,omitempty"`
}

// Synthesize returns mp3 audio for text.
func (c *Client) Synthesize(ctx context.Context, text, voice string) (*Audio, error) {
	if voice == "" {
		voice = c.voice
	}

	payload, err := json.Marshal(speechRequest{
		Model:          c.model,
		Input:          text,
		Voice:          voice,
		ResponseFormat: "mp3",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/audio/speech", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("tts request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("tts error: status=%d body=%s", resp.StatusCode, string(body))
	}

	return &Audio{Data: body, ContentType: "audio/mpeg"}, nil
}
