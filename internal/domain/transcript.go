package domain

import (
	"encoding/json"
	"time"
)

// TranscriptEntry is one speaker-attributed utterance.
type TranscriptEntry struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Final     bool      `json:"final"`
}

// CallMetrics is a read-only snapshot derived from a call's turn history.
type CallMetrics struct {
	Duration        time.Duration
	SpeakingTime    map[Speaker]time.Duration
	TurnChanges     int
	SilenceDuration time.Duration
}

type callMetricsJSON struct {
	DurationMs        int64             `json:"duration_ms"`
	SpeakingTimeMs    map[Speaker]int64 `json:"speaking_time_ms"`
	TurnChanges       int               `json:"turn_changes"`
	SilenceDurationMs int64             `json:"silence_duration_ms"`
}

// MarshalJSON encodes durations as integer milliseconds.
func (m CallMetrics) MarshalJSON() ([]byte, error) {
	out := callMetricsJSON{
		DurationMs:        m.Duration.Milliseconds(),
		SpeakingTimeMs:    make(map[Speaker]int64, len(m.SpeakingTime)),
		TurnChanges:       m.TurnChanges,
		SilenceDurationMs: m.SilenceDuration.Milliseconds(),
	}
	for k, v := range m.SpeakingTime {
		out.SpeakingTimeMs[k] = v.Milliseconds()
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (m *CallMetrics) UnmarshalJSON(data []byte) error {
	var in callMetricsJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	m.Duration = time.Duration(in.DurationMs) * time.Millisecond
	m.TurnChanges = in.TurnChanges
	m.SilenceDuration = time.Duration(in.SilenceDurationMs) * time.Millisecond
	m.SpeakingTime = make(map[Speaker]time.Duration, len(in.SpeakingTimeMs))
	for k, v := range in.SpeakingTimeMs {
		m.SpeakingTime[k] = time.Duration(v) * time.Millisecond
	}
	return nil
}
