package stt

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xiaot623/salescall/internal/audio"
)

// MockServer is an in-process streaming endpoint that "hears" a fixed
// phrase: each loud frame reveals one more word as an interim result and
// the first quiet frame after speech finalizes the utterance.
type MockServer struct {
	Phrase    string
	Threshold float64
	Logger    *zap.Logger

	upgrader websocket.Upgrader
}

// NewMockServer creates a mock endpoint.
func NewMockServer(phrase string, logger *zap.Logger) *MockServer {
	if phrase == "" {
		phrase = "Hi, I'm calling about your quarterly reporting."
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MockServer{
		Phrase:    phrase,
		Threshold: 0.02,
		Logger:    logger.With(zap.String("component", "mock_stt")),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *MockServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Warn("upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	words := strings.Fields(s.Phrase)
	heard := 0
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if mt == websocket.TextMessage {
			if bytes.Equal(bytes.TrimSpace(data), CloseStream) {
				return
			}
			continue
		}

		loud := audio.RMS(data) >= s.Threshold
		switch {
		case loud && heard < len(words):
			heard++
			if err := s.write(conn, strings.Join(words[:heard], " "), false, false); err != nil {
				return
			}
		case !loud && heard > 0:
			if err := s.write(conn, strings.Join(words[:heard], " "), true, true); err != nil {
				return
			}
			heard = 0
		}
	}
}

func (s *MockServer) write(conn *websocket.Conn, text string, final, speechFinal bool) error {
	msg := map[string]interface{}{
		"type": "Results",
		"channel": map[string]interface{}{
			"alternatives": []map[string]interface{}{{"transcript": text, "confidence": 0.99}},
		},
		"is_final":     final,
		"speech_final": speechFinal,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
