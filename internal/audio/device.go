package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"
)

// Constraints are the capture properties requested from a device.
type Constraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
	SampleRate       int
	Channels         int
}

// DefaultConstraints requests processed mono 16kHz input.
func DefaultConstraints() Constraints {
	return Constraints{
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
		SampleRate:       16000,
		Channels:         1,
	}
}

// Device acquires an audio input.
type Device interface {
	Open(ctx context.Context, c Constraints) (Source, error)
}

// Source is a live input. ReadSamples blocks until at least one sample is
// available and returns io.EOF when the input ends.
type Source interface {
	ReadSamples(buf []float32) (int, error)
	Close() error
}

// ErrDeviceClosed is returned by sources that were closed.
var ErrDeviceClosed = errors.New("audio device closed")

// SampleFormat is the byte layout of a raw sample stream.
type SampleFormat int

const (
	FormatFloat32LE SampleFormat = iota
	FormatInt16LE
)

// ReaderDevice reads raw samples from a stream such as a file. When
// Realtime is set reads are paced to the constraint sample rate.
type ReaderDevice struct {
	OpenReader func() (io.ReadCloser, error)
	Format     SampleFormat
	Realtime   bool
}

func (d *ReaderDevice) Open(ctx context.Context, c Constraints) (Source, error) {
	if d.OpenReader == nil {
		return nil, errors.New("no reader configured")
	}
	rc, err := d.OpenReader()
	if err != nil {
		return nil, fmt.Errorf("open audio input: %w", err)
	}
	return &readerSource{rc: rc, format: d.Format, realtime: d.Realtime, rate: c.SampleRate, start: time.Now()}, nil
}

type readerSource struct {
	rc       io.ReadCloser
	format   SampleFormat
	realtime bool
	rate     int
	start    time.Time
	read     int64
	scratch  []byte
}

func (s *readerSource) ReadSamples(buf []float32) (int, error) {
	width := 4
	if s.format == FormatInt16LE {
		width = 2
	}
	need := len(buf) * width
	if cap(s.scratch) < need {
		s.scratch = make([]byte, need)
	}
	raw := s.scratch[:need]

	n, err := io.ReadFull(s.rc, raw)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = nil
	}
	count := n / width
	for i := 0; i < count; i++ {
		if width == 4 {
			buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		} else {
			buf[i] = float32(int16(binary.LittleEndian.Uint16(raw[i*2:]))) / math.MaxInt16
		}
	}
	if count == 0 && err == nil {
		err = io.EOF
	}

	if s.realtime && s.rate > 0 && count > 0 {
		s.read += int64(count)
		due := s.start.Add(time.Duration(s.read) * time.Second / time.Duration(s.rate))
		if d := time.Until(due); d > 0 {
			time.Sleep(d)
		}
	}
	return count, err
}

func (s *readerSource) Close() error {
	return s.rc.Close()
}

// PushDevice is fed by a producer, e.g. a client streaming microphone
// samples over a websocket. A PushDevice can be opened once.
type PushDevice struct {
	mu      sync.Mutex
	samples chan []float32
	done    chan struct{}
	opened  bool
	closed  bool
	pending []float32
}

// NewPushDevice creates a push device buffering up to depth pushes.
func NewPushDevice(depth int) *PushDevice {
	if depth <= 0 {
		depth = 32
	}
	return &PushDevice{
		samples: make(chan []float32, depth),
		done:    make(chan struct{}),
	}
}

// Push queues samples without blocking. It reports false when the buffer
// is full or the device has been closed.
func (d *PushDevice) Push(samples []float32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	select {
	case d.samples <- samples:
		return true
	default:
		return false
	}
}

func (d *PushDevice) Open(ctx context.Context, c Constraints) (Source, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrDeviceClosed
	}
	if d.opened {
		return nil, errors.New("audio device busy")
	}
	d.opened = true
	return d, nil
}

func (d *PushDevice) ReadSamples(buf []float32) (int, error) {
	if len(d.pending) == 0 {
		select {
		case s, ok := <-d.samples:
			if !ok {
				return 0, io.EOF
			}
			d.pending = s
		case <-d.done:
			return 0, io.EOF
		}
	}
	n := copy(buf, d.pending)
	d.pending = d.pending[n:]
	return n, nil
}

// Close ends the stream; pending reads return io.EOF.
func (d *PushDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	close(d.done)
	return nil
}
