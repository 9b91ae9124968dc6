package transcript

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/salescall/internal/domain"
)

func steppingClock() func() time.Time {
	t0 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	n := 0
	return func() time.Time {
		n++
		return t0.Add(time.Duration(n) * time.Second)
	}
}

func TestAssemblerReplacesAndCloses(t *testing.T) {
	a := NewAssemblerWithClock(steppingClock())

	a.Fragment(domain.SpeakerUser, "Hel")
	a.Fragment(domain.SpeakerUser, "Hello")
	assert.Empty(t, a.Entries())

	open, ok := a.Open()
	require.True(t, ok)
	assert.Equal(t, "Hello", open.Text)

	a.Fragment(domain.SpeakerAgent, "Hi")
	entries := a.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, domain.SpeakerUser, entries[0].Speaker)
	assert.Equal(t, "Hello", entries[0].Text)
	assert.True(t, entries[0].Final)

	open, ok = a.Open()
	require.True(t, ok)
	assert.Equal(t, domain.SpeakerAgent, open.Speaker)
	assert.Equal(t, "Hi", open.Text)
}

func TestAssemblerEndTurn(t *testing.T) {
	a := NewAssembler()
	a.EndTurn()
	assert.Empty(t, a.Entries())

	a.Fragment(domain.SpeakerUser, "one")
	a.EndTurn()
	a.Fragment(domain.SpeakerUser, "two")
	a.EndTurn()

	entries := a.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "one", entries[0].Text)
	assert.Equal(t, "two", entries[1].Text)
	_, ok := a.Open()
	assert.False(t, ok)
}

func TestAssemblerFinalize(t *testing.T) {
	a := NewAssemblerWithClock(steppingClock())
	a.Fragment(domain.SpeakerUser, "Hi there")
	a.Fragment(domain.SpeakerAgent, "Hello")

	entries := a.Finalize()
	require.Len(t, entries, 2)
	assert.True(t, entries[0].Timestamp.Before(entries[1].Timestamp))

	a.Fragment(domain.SpeakerUser, "ignored")
	assert.Equal(t, entries, a.Finalize())
}

func TestAssemblerIgnoresBlankFragments(t *testing.T) {
	a := NewAssembler()
	a.Fragment(domain.SpeakerUser, "Hello")
	a.Fragment(domain.SpeakerUser, "  ")
	open, _ := a.Open()
	assert.Equal(t, "Hello", open.Text)
}

func TestRender(t *testing.T) {
	entries := []domain.TranscriptEntry{
		{Speaker: domain.SpeakerUser, Text: "Hi, I'm calling about your reporting."},
		{Speaker: domain.SpeakerAgent, Text: "We already have a vendor."},
	}
	assert.Equal(t, "Salesperson: Hi, I'm calling about your reporting.\n\nProspect: We already have a vendor.", Render(entries))

	messages := []domain.Message{
		{Role: domain.RoleSystem, Content: "You are a CFO"},
		{Role: domain.RoleAssistant, Content: "Hello"},
		{Role: domain.RoleUser, Content: "Hi"},
	}
	assert.Equal(t, "Prospect: Hello\n\nSalesperson: Hi", RenderMessages(messages))
}
