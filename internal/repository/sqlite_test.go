package repository

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/salescall/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPersonas(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	persona := &domain.Persona{
		PersonaID:    "persona_cfo",
		Name:         "Dana Price",
		SystemPrompt: "You are Dana Price, CFO of a mid-size logistics company.",
		Metadata:     json.RawMessage(`{"fullName":"Dana Price","company":"Freightly"}`),
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, store.CreatePersona(ctx, persona))
	require.NoError(t, store.CreatePersona(ctx, &domain.Persona{
		PersonaID: "persona_cto",
		Name:      "Lee Park",
		CreatedAt: persona.CreatedAt.Add(time.Minute),
	}))

	got, err := store.GetPersona(ctx, "persona_cfo")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, persona.Name, got.Name)
	assert.Equal(t, persona.SystemPrompt, got.SystemPrompt)
	assert.JSONEq(t, string(persona.Metadata), string(got.Metadata))

	missing, err := store.GetPersona(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	list, err := store.ListPersonas(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "persona_cfo", list[0].PersonaID)
	assert.Empty(t, list[1].SystemPrompt)

	assert.Error(t, store.CreatePersona(ctx, persona))
}

func TestSaveAndGetCall(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	record := &domain.CallRecord{
		SessionID: "sess_1",
		PersonaID: "persona_cfo",
		StartedAt: started,
		EndedAt:   started.Add(3 * time.Minute),
		EndReason: domain.EndReasonCompleted,
		Feedback:  "Ask more discovery questions.",
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: "You are a CFO"},
			{Role: domain.RoleAssistant, Content: "Hello"},
			{Role: domain.RoleUser, Content: "What's your budget?"},
		},
		Transcript: []domain.TranscriptEntry{
			{Speaker: domain.SpeakerUser, Text: "What's your budget?", Timestamp: started.Add(time.Second), Final: true},
		},
		Metrics: &domain.CallMetrics{
			Duration:     3 * time.Minute,
			SpeakingTime: map[domain.Speaker]time.Duration{domain.SpeakerUser: 2 * time.Second},
			TurnChanges:  1,
		},
	}
	require.NoError(t, store.SaveCall(ctx, record))

	got, err := store.GetCall(ctx, "sess_1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, record.Messages, got.Messages)
	require.Len(t, got.Transcript, 1)
	assert.Equal(t, "What's your budget?", got.Transcript[0].Text)
	assert.True(t, got.Transcript[0].Timestamp.Equal(record.Transcript[0].Timestamp))
	require.NotNil(t, got.Metrics)
	assert.Equal(t, 2*time.Second, got.Metrics.SpeakingTime[domain.SpeakerUser])
	assert.Equal(t, domain.EndReasonCompleted, got.EndReason)

	record.Feedback = "updated"
	record.Messages = record.Messages[:1]
	require.NoError(t, store.SaveCall(ctx, record))
	got, err = store.GetCall(ctx, "sess_1")
	require.NoError(t, err)
	assert.Equal(t, "updated", got.Feedback)
	assert.Len(t, got.Messages, 1)

	missing, err := store.GetCall(ctx, "sess_404")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestReopenKeepsArchive(t *testing.T) {
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "callsim.db") + "?mode=rwc"

	first, err := NewSQLiteStore(dsn)
	require.NoError(t, err)
	require.NoError(t, first.CreatePersona(ctx, &domain.Persona{PersonaID: "persona_vp", Name: "VP Sales", CreatedAt: time.Now().UTC()}))
	require.NoError(t, first.Close())

	second, err := NewSQLiteStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { second.Close() })

	got, err := second.GetPersona(ctx, "persona_vp")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "VP Sales", got.Name)
}
