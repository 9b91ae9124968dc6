package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/salescall/internal/adapter/llm"
	"github.com/xiaot623/salescall/internal/adapter/tts"
	"github.com/xiaot623/salescall/internal/config"
	"github.com/xiaot623/salescall/internal/domain"
	"github.com/xiaot623/salescall/internal/persona"
	"github.com/xiaot623/salescall/internal/policy"
	"github.com/xiaot623/salescall/internal/relay"
	"github.com/xiaot623/salescall/internal/repository"
	"github.com/xiaot623/salescall/internal/session"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	svc   *Service
	store *session.Store
	repo  *repository.SQLiteStore
	clock *clock
}

func testConfig() *config.Config {
	return &config.Config{
		FeedbackModel:  "gpt-4o",
		LLMModel:       "gpt-4o-mini",
		TTSVoice:       tts.DefaultVoice,
		STTSampleRate:  16000,
		AudioFrameSize: 4096,
		RecordCalls:    true,
		Mode:           "MOCK",
	}
}

func newHarness(t *testing.T, client llm.Client, guard *policy.Guard) *harness {
	t.Helper()
	cfg := testConfig()

	repo, err := repository.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	h := &harness{repo: repo, clock: &clock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}}
	h.store = session.NewStore(
		session.WithClock(h.clock.Now),
		session.WithIdleTimeout(30*time.Minute),
		session.WithOnEvict(func(sess domain.Session) { h.svc.HandleEvicted(sess) }),
	)
	h.svc = New(cfg, Deps{
		Sessions:    h.store,
		Personas:    persona.NewProvider(repo, client, cfg.FeedbackModel, nil),
		Relay:       relay.New(h.store, client, cfg.LLMModel, nil, nil),
		LLM:         client,
		Synthesizer: tts.NewMockSynthesizer(),
		Repository:  repo,
		Guard:       guard,
	})
	h.svc.now = h.clock.Now
	return h
}

type noFeedbackClient struct {
	*llm.MockClient
}

func (noFeedbackClient) CreateChatCompletion(ctx context.Context, req *llm.ChatCompletionRequest) (*llm.ChatCompletionResponse, error) {
	return nil, errors.New("LLM API error [503]: overloaded")
}

func TestCFOScenario(t *testing.T) {
	h := newHarness(t, llm.NewMockClient(), nil)
	ctx := context.Background()

	started, err := h.svc.StartSession(ctx, domain.StartSessionRequest{
		SystemPrompt: "You are Dana Price, CFO of a logistics company. You are skeptical of new spend.",
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello, this is your prospect. How can I help you today?", started.InitialMessage)

	var events []domain.ReplyEvent
	err = h.svc.SendMessage(ctx, domain.MessageRequest{
		SessionID: started.SessionID,
		Message:   "Hi, I'd like to discuss your reporting needs",
	}, func(ev domain.ReplyEvent) error {
		events = append(events, ev)
		return nil
	})
	require.NoError(t, err)

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, domain.ReplyEventDone, last.Type)
	var joined strings.Builder
	for _, ev := range events[:len(events)-1] {
		assert.Equal(t, domain.ReplyEventChunk, ev.Type)
		joined.WriteString(ev.Content)
	}
	assert.Equal(t, last.Content, joined.String())

	sess, err := h.store.Get(started.SessionID)
	require.NoError(t, err)
	require.Len(t, sess.Messages, 4)
	assert.Equal(t, domain.RoleSystem, sess.Messages[0].Role)
	assert.Equal(t, domain.RoleUser, sess.Messages[2].Role)
	assert.Equal(t, domain.RoleAssistant, sess.Messages[3].Role)
	assert.Equal(t, last.Content, sess.Messages[3].Content)

	h.clock.Advance(90 * time.Second)
	ended, err := h.svc.EndSession(ctx, started.SessionID)
	require.NoError(t, err)
	assert.True(t, ended.Success)
	assert.NotEmpty(t, ended.Feedback)
	assert.NotEqual(t, FeedbackFallback, ended.Feedback)
	assert.Equal(t, 4, ended.ConversationSummary.MessageCount)
	assert.Equal(t, int64(90), ended.ConversationSummary.Duration)
	assert.Nil(t, ended.CallMetrics)

	_, err = h.store.Get(started.SessionID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = h.svc.EndSession(ctx, started.SessionID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	record, err := h.svc.GetCall(ctx, started.SessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.EndReasonCompleted, record.EndReason)
	assert.Len(t, record.Messages, 4)
	assert.Equal(t, ended.Feedback, record.Feedback)
}

func TestStartSessionErrors(t *testing.T) {
	h := newHarness(t, llm.NewMockClient(), nil)
	ctx := context.Background()

	_, err := h.svc.StartSession(ctx, domain.StartSessionRequest{})
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = h.svc.StartSession(ctx, domain.StartSessionRequest{PersonaID: "persona_missing"})
	assert.ErrorIs(t, err, domain.ErrPersonaNotFound)
	assert.Equal(t, 0, h.store.Len())
}

func TestSendMessageErrors(t *testing.T) {
	h := newHarness(t, llm.NewMockClient(), nil)
	ctx := context.Background()
	emit := func(domain.ReplyEvent) error { return nil }

	var verr *domain.ValidationError
	assert.ErrorAs(t, h.svc.SendMessage(ctx, domain.MessageRequest{SessionID: "sess_x"}, emit), &verr)
	assert.ErrorAs(t, h.svc.SendMessage(ctx, domain.MessageRequest{Message: "hi"}, emit), &verr)

	err := h.svc.SendMessage(ctx, domain.MessageRequest{SessionID: "sess_unknown", Message: "hi"}, emit)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestPolicyBlocksTurn(t *testing.T) {
	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)
	guard := policy.NewGuard(engine, policy.Limits{MaxMessageChars: 20}, nil)
	h := newHarness(t, llm.NewMockClient(), guard)
	ctx := context.Background()

	started, err := h.svc.StartSession(ctx, domain.StartSessionRequest{SystemPrompt: "You are a CFO"})
	require.NoError(t, err)

	emitted := 0
	err = h.svc.SendMessage(ctx, domain.MessageRequest{
		SessionID: started.SessionID,
		Message:   strings.Repeat("budget ", 10),
	}, func(domain.ReplyEvent) error {
		emitted++
		return nil
	})
	var perr *domain.PolicyError
	require.ErrorAs(t, err, &perr)
	assert.Zero(t, emitted)

	sess, err := h.store.Get(started.SessionID)
	require.NoError(t, err)
	assert.Len(t, sess.Messages, 2)
}

func TestEndSessionFeedbackFallback(t *testing.T) {
	h := newHarness(t, noFeedbackClient{llm.NewMockClient()}, nil)
	ctx := context.Background()

	started, err := h.svc.StartSession(ctx, domain.StartSessionRequest{SystemPrompt: "You are a CFO"})
	require.NoError(t, err)

	ended, err := h.svc.EndSession(ctx, started.SessionID)
	require.NoError(t, err)
	assert.True(t, ended.Success)
	assert.Equal(t, FeedbackFallback, ended.Feedback)
	assert.Equal(t, 2, ended.ConversationSummary.MessageCount)

	_, err = h.svc.EndSession(ctx, "")
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestGenerateFeedback(t *testing.T) {
	ctx := context.Background()

	h := newHarness(t, llm.NewMockClient(), nil)
	feedback, err := h.svc.GenerateFeedback(ctx, domain.FeedbackRequest{CallTranscript: "Salesperson: Hi\n\nProspect: Hello"})
	require.NoError(t, err)
	assert.NotEmpty(t, feedback)

	_, err = h.svc.GenerateFeedback(ctx, domain.FeedbackRequest{})
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)

	failing := newHarness(t, noFeedbackClient{llm.NewMockClient()}, nil)
	_, err = failing.svc.GenerateFeedback(ctx, domain.FeedbackRequest{CallTranscript: "Salesperson: Hi"})
	var upstream *domain.UpstreamServiceError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, domain.PhaseCompletion, upstream.Phase)
}

func TestSynthesize(t *testing.T) {
	h := newHarness(t, llm.NewMockClient(), nil)
	ctx := context.Background()

	clip, err := h.svc.Synthesize(ctx, domain.SpeechRequest{Text: "Hello there"})
	require.NoError(t, err)
	assert.Equal(t, "audio/wav", clip.ContentType)
	assert.Greater(t, len(clip.Data), 44)

	_, err = h.svc.Synthesize(ctx, domain.SpeechRequest{Text: "  "})
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestIdleEvictionArchives(t *testing.T) {
	h := newHarness(t, llm.NewMockClient(), nil)
	ctx := context.Background()

	started, err := h.svc.StartSession(ctx, domain.StartSessionRequest{SystemPrompt: "You are a CFO"})
	require.NoError(t, err)

	h.clock.Advance(31 * time.Minute)
	assert.Equal(t, 1, h.store.Sweep())

	_, err = h.store.Get(started.SessionID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	record, err := h.svc.GetCall(ctx, started.SessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.EndReasonIdle, record.EndReason)
	assert.Empty(t, record.Feedback)

	_, err = h.svc.GetCall(ctx, "sess_never")
	assert.ErrorIs(t, err, domain.ErrCallNotFound)
}

type messageSink struct {
	mu       sync.Mutex
	messages []domain.LiveMessage
}

func (s *messageSink) SendJSON(msg domain.LiveMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return nil
}

func (s *messageSink) SendAudio([]byte) error { return nil }

func (s *messageSink) has(typ string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.Type == typ {
			return true
		}
	}
	return false
}

func TestLiveCallTextTurns(t *testing.T) {
	h := newHarness(t, llm.NewMockClient(), nil)
	ctx := context.Background()

	started, err := h.svc.StartSession(ctx, domain.StartSessionRequest{SystemPrompt: "You are a CFO"})
	require.NoError(t, err)

	_, err = h.svc.StartLiveCall("sess_unknown", LiveOptions{Sink: &messageSink{}})
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	sink := &messageSink{}
	c, err := h.svc.StartLiveCall(started.SessionID, LiveOptions{Sink: sink})
	require.NoError(t, err)

	_, err = h.svc.StartLiveCall(started.SessionID, LiveOptions{Sink: &messageSink{}})
	assert.ErrorIs(t, err, domain.ErrLiveCallActive)

	require.True(t, c.SubmitText("What does your month-end close look like?"))
	require.Eventually(t, func() bool { return sink.has(domain.LiveTypeDone) }, 2*time.Second, 5*time.Millisecond)

	ended, err := h.svc.EndSession(ctx, started.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 4, ended.ConversationSummary.MessageCount)
	require.NotNil(t, ended.CallMetrics)
	assert.Equal(t, 1, ended.CallMetrics.TurnChanges)
	assert.Contains(t, ended.CallSummary, "Turn Changes: 1")
	assert.True(t, sink.has(domain.LiveTypeEnded))

	record, err := h.svc.GetCall(ctx, started.SessionID)
	require.NoError(t, err)
	assert.Len(t, record.Transcript, 2)
	require.NotNil(t, record.Metrics)
}
