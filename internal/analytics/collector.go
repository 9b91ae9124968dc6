// Package analytics derives speaking-time and turn metrics from speech
// activity observed during a call.
package analytics

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/xiaot623/salescall/internal/domain"
)

// DefaultSilenceThreshold is the gap after which inactivity counts as silence.
const DefaultSilenceThreshold = time.Second

// Collector accumulates call metrics. Time advancing while a speaker is
// active is attributed to that speaker when the next activity arrives.
type Collector struct {
	mu               sync.Mutex
	now              func() time.Time
	silenceThreshold time.Duration

	started      bool
	startTime    time.Time
	lastActivity time.Time
	lastSpeaker  domain.Speaker
	speaking     map[domain.Speaker]time.Duration
	turnChanges  int
	silence      time.Duration
}

// Option configures a Collector.
type Option func(*Collector)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) { c.now = now }
}

// WithSilenceThreshold overrides DefaultSilenceThreshold.
func WithSilenceThreshold(d time.Duration) Option {
	return func(c *Collector) { c.silenceThreshold = d }
}

// NewCollector creates a collector.
func NewCollector(opts ...Option) *Collector {
	c := &Collector{
		now:              time.Now,
		silenceThreshold: DefaultSilenceThreshold,
		speaking:         make(map[domain.Speaker]time.Duration),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartCall resets all counters and marks the start of the call.
func (c *Collector) StartCall() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.started = true
	c.startTime = now
	c.lastActivity = now
	c.lastSpeaker = ""
	c.speaking = make(map[domain.Speaker]time.Duration)
	c.turnChanges = 0
	c.silence = 0
}

// RecordSpeaking notes that speaker produced speech now.
func (c *Collector) RecordSpeaking(speaker domain.Speaker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}

	now := c.now()
	gap := now.Sub(c.lastActivity)
	if gap < 0 {
		gap = 0
	}

	// A long gap counts as silence and still belongs to the prior speaker's
	// turn, so the two totals may overlap.
	if gap > c.silenceThreshold {
		c.silence += gap
	}
	if c.lastSpeaker != "" {
		c.speaking[c.lastSpeaker] += gap
	}

	if c.lastSpeaker != "" && c.lastSpeaker != speaker {
		c.turnChanges++
	}

	c.lastSpeaker = speaker
	c.lastActivity = now
}

// Metrics returns a snapshot. Duration runs from StartCall to now.
func (c *Collector) Metrics() domain.CallMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	speaking := make(map[domain.Speaker]time.Duration, 2)
	speaking[domain.SpeakerUser] = c.speaking[domain.SpeakerUser]
	speaking[domain.SpeakerAgent] = c.speaking[domain.SpeakerAgent]

	var duration time.Duration
	if c.started {
		duration = c.now().Sub(c.startTime)
	}
	return domain.CallMetrics{
		Duration:        duration,
		SpeakingTime:    speaking,
		TurnChanges:     c.turnChanges,
		SilenceDuration: c.silence,
	}
}

// Summary renders metrics as a short human-readable report.
func (c *Collector) Summary() string {
	return Summarize(c.Metrics())
}

// Summarize renders m. Percentages are of the total call duration.
func Summarize(m domain.CallMetrics) string {
	minutes := int(math.Round(m.Duration.Minutes()))
	var b strings.Builder
	fmt.Fprintf(&b, "Call Duration: %d minutes\n", minutes)
	b.WriteString("Speaking Distribution:\n")
	fmt.Fprintf(&b, "- You: %d%%\n", percent(m.SpeakingTime[domain.SpeakerUser], m.Duration))
	fmt.Fprintf(&b, "- Prospect: %d%%\n", percent(m.SpeakingTime[domain.SpeakerAgent], m.Duration))
	fmt.Fprintf(&b, "- Silence: %d%%\n", percent(m.SilenceDuration, m.Duration))
	fmt.Fprintf(&b, "Turn Changes: %d", m.TurnChanges)
	return b.String()
}

func percent(part, total time.Duration) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(part) / float64(total) * 100))
}
