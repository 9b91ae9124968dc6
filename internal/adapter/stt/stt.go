// Package stt speaks the streaming speech-to-text wire format: binary
// linear16 audio out, JSON transcript results in.
package stt

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Options configures the streaming endpoint.
type Options struct {
	URL        string
	APIKey     string
	Model      string
	Language   string
	SampleRate int
	Encoding   string
}

// Endpoint returns the websocket URL and handshake headers for a live
// transcription session.
func Endpoint(opts Options) (string, http.Header, error) {
	u, err := url.Parse(opts.URL)
	if err != nil {
		return "", nil, fmt.Errorf("parse stt url: %w", err)
	}

	encoding := opts.Encoding
	if encoding == "" {
		encoding = "linear16"
	}
	sampleRate := opts.SampleRate
	if sampleRate == 0 {
		sampleRate = 16000
	}
	model := opts.Model
	if model == "" {
		model = "nova-2"
	}

	q := u.Query()
	q.Set("encoding", encoding)
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("channels", "1")
	q.Set("model", model)
	q.Set("interim_results", "true")
	q.Set("punctuate", "true")
	if opts.Language != "" {
		q.Set("language", opts.Language)
	}
	u.RawQuery = q.Encode()

	header := http.Header{}
	if opts.APIKey != "" {
		header.Set("Authorization", "Token "+opts.APIKey)
	}
	return u.String(), header, nil
}

// Result is one decoded transcript update.
type Result struct {
	Text string
	// IsFinal means Text will not be revised further.
	IsFinal bool
	// SpeechFinal means the speaker paused and the utterance is complete.
	SpeechFinal bool
}

type message struct {
	Type    string `json:"type"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
	IsFinal     bool `json:"is_final"`
	SpeechFinal bool `json:"speech_final"`
}

// Decode parses a server message. ok is false for messages that carry no
// transcript information, such as metadata.
func Decode(data []byte) (res Result, ok bool, err error) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Result{}, false, fmt.Errorf("decode stt message: %w", err)
	}

	switch msg.Type {
	case "Results", "":
		if len(msg.Channel.Alternatives) == 0 {
			return Result{}, false, nil
		}
		return Result{
			Text:        strings.TrimSpace(msg.Channel.Alternatives[0].Transcript),
			IsFinal:     msg.IsFinal,
			SpeechFinal: msg.SpeechFinal,
		}, true, nil
	case "UtteranceEnd":
		return Result{IsFinal: true, SpeechFinal: true}, true, nil
	default:
		return Result{}, false, nil
	}
}

// CloseStream is the control message asking the server to flush and close.
var CloseStream = []byte(`{"type":"CloseStream"}`)

// KeepAlive keeps an idle session open.
var KeepAlive = []byte(`{"type":"KeepAlive"}`)
