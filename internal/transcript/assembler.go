// Package transcript turns incremental speech fragments into an ordered
// list of closed transcript entries.
package transcript

import (
	"strings"
	"sync"
	"time"

	"github.com/xiaot623/salescall/internal/domain"
)

// Assembler tracks at most one open entry. A fragment from the speaker of
// the open entry replaces its text; a fragment from another speaker closes
// it first. Closed entries never change.
type Assembler struct {
	mu        sync.Mutex
	now       func() time.Time
	entries   []domain.TranscriptEntry
	open      *domain.TranscriptEntry
	finalized bool
}

// NewAssembler creates an empty assembler.
func NewAssembler() *Assembler {
	return &Assembler{now: time.Now}
}

// NewAssemblerWithClock creates an assembler using now for timestamps.
func NewAssemblerWithClock(now func() time.Time) *Assembler {
	return &Assembler{now: now}
}

// Fragment records the latest cumulative text for speaker. Empty fragments
// and fragments after Finalize are ignored.
func (a *Assembler) Fragment(speaker domain.Speaker, text string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.finalized || strings.TrimSpace(text) == "" {
		return
	}

	if a.open != nil && a.open.Speaker == speaker {
		a.open.Text = text
		return
	}

	a.closeOpenLocked()
	a.open = &domain.TranscriptEntry{
		Speaker:   speaker,
		Text:      text,
		Timestamp: a.now(),
	}
}

// EndTurn closes the open entry if there is one.
func (a *Assembler) EndTurn() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closeOpenLocked()
}

// Finalize closes the open entry and ignores further input.
func (a *Assembler) Finalize() []domain.TranscriptEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.finalized {
		a.closeOpenLocked()
		a.finalized = true
	}
	return a.copyEntriesLocked()
}

// Entries returns the closed entries in the order they were closed.
func (a *Assembler) Entries() []domain.TranscriptEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.copyEntriesLocked()
}

// Open returns the open entry, if any.
func (a *Assembler) Open() (domain.TranscriptEntry, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.open == nil {
		return domain.TranscriptEntry{}, false
	}
	return *a.open, true
}

func (a *Assembler) closeOpenLocked() {
	if a.open == nil {
		return
	}
	entry := *a.open
	entry.Final = true
	a.entries = append(a.entries, entry)
	a.open = nil
}

func (a *Assembler) copyEntriesLocked() []domain.TranscriptEntry {
	out := make([]domain.TranscriptEntry, len(a.entries))
	copy(out, a.entries)
	return out
}

// Render formats entries as a coaching transcript, one paragraph per entry.
func Render(entries []domain.TranscriptEntry) string {
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(SpeakerLabel(e.Speaker))
		b.WriteString(": ")
		b.WriteString(e.Text)
	}
	return b.String()
}

// RenderMessages formats a session history the same way, skipping the
// system prompt.
func RenderMessages(messages []domain.Message) string {
	var b strings.Builder
	first := true
	for _, m := range messages {
		var label string
		switch m.Role {
		case domain.RoleUser:
			label = SpeakerLabel(domain.SpeakerUser)
		case domain.RoleAssistant:
			label = SpeakerLabel(domain.SpeakerAgent)
		default:
			continue
		}
		if !first {
			b.WriteString("\n\n")
		}
		first = false
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}

// SpeakerLabel names a speaker from the salesperson's point of view.
func SpeakerLabel(s domain.Speaker) string {
	if s == domain.SpeakerUser {
		return "Salesperson"
	}
	return "Prospect"
}
