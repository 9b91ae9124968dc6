package audio

import (
	"bytes"
	"sync"
)

// Recorder accumulates linear16 frames for the length of a call and renders
// them as a single WAV file.
type Recorder struct {
	mu         sync.Mutex
	buf        bytes.Buffer
	sampleRate int
	channels   int
	finished   []byte
}

// NewRecorder creates a recorder for the given format.
func NewRecorder(sampleRate, channels int) *Recorder {
	return &Recorder{sampleRate: sampleRate, channels: channels}
}

// Write appends linear16 PCM. Writes after Finish are dropped.
func (r *Recorder) Write(pcm []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished != nil {
		return
	}
	r.buf.Write(pcm)
}

// Finish returns the recording as WAV. Later calls return the same bytes.
func (r *Recorder) Finish() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished == nil {
		r.finished = PCMToWAV(r.buf.Bytes(), r.sampleRate, r.channels)
		r.buf.Reset()
	}
	return r.finished
}
