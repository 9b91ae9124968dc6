package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/xiaot623/salescall/internal/domain"
)

// DefaultFrameSize is the number of samples per emitted frame.
const DefaultFrameSize = 4096

// Frame is one encoded block of captured audio.
type Frame struct {
	Data     []byte
	Samples  int
	Encoding Encoding
}

// FrameSink receives frames in capture order from a single goroutine.
type FrameSink func(Frame)

// Options configures a Pipeline.
type Options struct {
	Constraints Constraints
	FrameSize   int
	Encoding    Encoding
	Sink        FrameSink
	// OnEnd is called once when capture stops on its own (input ended or failed).
	OnEnd  func(error)
	Logger *zap.Logger
}

// Pipeline turns a device into a stream of fixed-size encoded frames.
type Pipeline struct {
	device Device
	opts   Options
	logger *zap.Logger
	volume atomic.Uint64

	mu      sync.Mutex
	source  Source
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
	stopped bool

	stopOnce sync.Once
}

// NewPipeline creates a capture pipeline over device.
func NewPipeline(device Device, opts Options) *Pipeline {
	if opts.FrameSize <= 0 {
		opts.FrameSize = DefaultFrameSize
	}
	if opts.Encoding == "" {
		opts.Encoding = EncodingLinear16
	}
	if opts.Constraints.SampleRate == 0 {
		opts.Constraints = DefaultConstraints()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		device: device,
		opts:   opts,
		logger: logger.With(zap.String("component", "audio_pipeline")),
	}
	p.volume.Store(math.Float64bits(1))
	return p
}

// Initialize acquires the device and starts emitting frames to the sink.
// A failure to acquire the device is reported as a ResourceAcquisitionError.
func (p *Pipeline) Initialize(ctx context.Context) (Source, error) {
	switch p.opts.Encoding {
	case EncodingLinear16, EncodingWAV:
	default:
		return nil, fmt.Errorf("unsupported encoding %q", p.opts.Encoding)
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil, &domain.ResourceAcquisitionError{Phase: domain.PhaseCapture, Err: errors.New("pipeline stopped")}
	}
	if p.started {
		p.mu.Unlock()
		return nil, errors.New("pipeline already initialized")
	}
	p.started = true
	p.mu.Unlock()

	src, err := p.device.Open(ctx, p.opts.Constraints)
	if err != nil {
		return nil, &domain.ResourceAcquisitionError{Phase: domain.PhaseCapture, Err: err}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	// Stop may have run while the device was opening.
	if p.stopped || ctx.Err() != nil {
		_ = src.Close()
		cause := ctx.Err()
		if cause == nil {
			cause = errors.New("pipeline stopped")
		}
		return nil, &domain.ResourceAcquisitionError{Phase: domain.PhaseCapture, Err: cause}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	p.source = src
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(runCtx, src, p.done)

	p.logger.Debug("capture started",
		zap.Int("frame_size", p.opts.FrameSize),
		zap.String("encoding", string(p.opts.Encoding)))
	return src, nil
}

// SetVolume scales captured samples by v, clamped to [0, 1].
func (p *Pipeline) SetVolume(v float64) {
	v = math.Max(0, math.Min(1, v))
	p.volume.Store(math.Float64bits(v))
}

// Volume returns the current gain.
func (p *Pipeline) Volume() float64 {
	return math.Float64frombits(p.volume.Load())
}

// Stop releases the device and waits for the capture goroutine. It is safe
// to call more than once and before Initialize.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		src, cancel, done := p.source, p.cancel, p.done
		p.source, p.cancel = nil, nil
		p.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if src != nil {
			if err := src.Close(); err != nil {
				p.logger.Warn("close audio source", zap.Error(err))
			}
		}
		if done != nil {
			<-done
		}
	})
}

func (p *Pipeline) run(ctx context.Context, src Source, done chan struct{}) {
	buf := make([]float32, p.opts.FrameSize)
	filled := 0
	var endErr error
	defer func() {
		close(done)
		if ctx.Err() == nil && p.opts.OnEnd != nil {
			p.opts.OnEnd(endErr)
		}
	}()

	for ctx.Err() == nil {
		n, err := src.ReadSamples(buf[filled:])
		filled += n
		if filled == len(buf) {
			p.emit(buf[:filled])
			filled = 0
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if filled > 0 {
				p.emit(buf[:filled])
			}
			if !errors.Is(err, io.EOF) {
				endErr = err
				p.logger.Warn("capture ended", zap.Error(err))
			}
			return
		}
	}
}

func (p *Pipeline) emit(samples []float32) {
	if p.opts.Sink == nil {
		return
	}
	frame := make([]float32, len(samples))
	copy(frame, samples)
	applyGain(frame, p.Volume())

	data := Float32ToPCM16(frame)
	if p.opts.Encoding == EncodingWAV {
		data = PCMToWAV(data, p.opts.Constraints.SampleRate, p.opts.Constraints.Channels)
	}
	p.opts.Sink(Frame{Data: data, Samples: len(frame), Encoding: p.opts.Encoding})
}
