package live

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/salescall/internal/adapter/llm"
	"github.com/xiaot623/salescall/internal/adapter/tts"
	"github.com/xiaot623/salescall/internal/config"
	"github.com/xiaot623/salescall/internal/domain"
	"github.com/xiaot623/salescall/internal/hub"
	"github.com/xiaot623/salescall/internal/persona"
	"github.com/xiaot623/salescall/internal/relay"
	"github.com/xiaot623/salescall/internal/repository"
	"github.com/xiaot623/salescall/internal/service"
	"github.com/xiaot623/salescall/internal/session"
)

type liveFixture struct {
	svc    *service.Service
	server *httptest.Server
}

func newLiveFixture(t *testing.T) *liveFixture {
	t.Helper()
	cfg := &config.Config{
		LLMModel:       "gpt-4o-mini",
		FeedbackModel:  "gpt-4o",
		TTSVoice:       tts.DefaultVoice,
		STTSampleRate:  16000,
		AudioFrameSize: 4096,
		Mode:           "MOCK",
	}
	repo, err := repository.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	client := llm.NewMockClient()
	store := session.NewStore()
	svc := service.New(cfg, service.Deps{
		Sessions:    store,
		Personas:    persona.NewProvider(repo, client, cfg.FeedbackModel, nil),
		Relay:       relay.New(store, client, cfg.LLMModel, nil, nil),
		LLM:         client,
		Synthesizer: tts.NewMockSynthesizer(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	h := hub.New(nil)
	go h.Run(ctx)

	e := echo.New()
	NewServer(cfg, svc, h, nil).RegisterRoutes(e)
	srv := httptest.NewServer(e)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return &liveFixture{svc: svc, server: srv}
}

func (f *liveFixture) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/voice-agent/live?" + query
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readUntil(t *testing.T, ws *websocket.Conn, typ string) []domain.LiveMessage {
	t.Helper()
	var seen []domain.LiveMessage
	for {
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
		var msg domain.LiveMessage
		if err := ws.ReadJSON(&msg); err != nil {
			t.Fatalf("reading until %q: %v (seen %d messages)", typ, err, len(seen))
		}
		seen = append(seen, msg)
		if msg.Type == typ {
			return seen
		}
	}
}

func TestLiveTextCall(t *testing.T) {
	f := newLiveFixture(t)
	started, err := f.svc.StartSession(context.Background(), domain.StartSessionRequest{SystemPrompt: "You are a busy VP of Sales."})
	require.NoError(t, err)

	ws := f.dial(t, "sessionId="+started.SessionID+"&mode=text&speak=false")

	ready := readUntil(t, ws, domain.LiveTypeReady)
	assert.Equal(t, domain.ModeText, ready[len(ready)-1].Mode)

	require.NoError(t, ws.WriteJSON(domain.LiveMessage{Type: domain.LiveTypeText, Text: "Do you have a minute to talk about pipeline reviews?"}))
	turn := readUntil(t, ws, domain.LiveTypeDone)

	var chunks strings.Builder
	for _, msg := range turn {
		if msg.Type == domain.LiveTypeChunk {
			chunks.WriteString(msg.Content)
		}
	}
	done := turn[len(turn)-1]
	assert.NotEmpty(t, done.Content)
	assert.Equal(t, chunks.String(), done.Content)

	require.NoError(t, ws.WriteJSON(domain.LiveMessage{Type: domain.LiveTypeEnd}))
	ended := readUntil(t, ws, domain.LiveTypeEnded)
	require.NotNil(t, ended[len(ended)-1].Metrics)

	resp, err := f.svc.EndSession(context.Background(), started.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 4, resp.ConversationSummary.MessageCount)
	assert.NotEmpty(t, resp.CallSummary)
}

func TestLiveUnknownSession(t *testing.T) {
	f := newLiveFixture(t)
	ws := f.dial(t, "sessionId=sess_missing&mode=text")

	msgs := readUntil(t, ws, domain.LiveTypeError)
	assert.Equal(t, "session_not_found", msgs[len(msgs)-1].Code)
}

func TestLiveSecondConnectionRejected(t *testing.T) {
	f := newLiveFixture(t)
	started, err := f.svc.StartSession(context.Background(), domain.StartSessionRequest{SystemPrompt: "You are a cautious procurement lead."})
	require.NoError(t, err)

	first := f.dial(t, "sessionId="+started.SessionID+"&mode=text")
	readUntil(t, first, domain.LiveTypeReady)

	second := f.dial(t, "sessionId="+started.SessionID+"&mode=text")
	msgs := readUntil(t, second, domain.LiveTypeError)
	assert.Equal(t, "live_call_active", msgs[len(msgs)-1].Code)
}
