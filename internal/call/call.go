// Package call runs one live simulated call: microphone audio goes to a
// streaming speech-to-text endpoint, finished utterances are answered by
// the reply relay, and the transcript and speaking metrics are kept along
// the way.
package call

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/salescall/internal/adapter/stt"
	"github.com/xiaot623/salescall/internal/adapter/tts"
	"github.com/xiaot623/salescall/internal/analytics"
	"github.com/xiaot623/salescall/internal/audio"
	"github.com/xiaot623/salescall/internal/connection"
	"github.com/xiaot623/salescall/internal/domain"
	"github.com/xiaot623/salescall/internal/relay"
	"github.com/xiaot623/salescall/internal/transcript"
)

var errCallEnded = errors.New("call ended")

// Replier produces the prospect's answer to one user turn.
type Replier interface {
	Reply(ctx context.Context, sessionID, userText string, emit relay.EmitFunc) (string, error)
}

// Sink is the client side of the call. Implementations must be safe for
// concurrent use.
type Sink interface {
	SendJSON(msg domain.LiveMessage) error
	SendAudio(data []byte) error
}

// Observer is told about speech-to-text connection transitions.
type Observer interface {
	ConnectionStatus(status domain.ConnectionStatus)
}

// Options configures a Call. Leaving Device or Dialer nil runs the call in
// text-only mode.
type Options struct {
	SessionID string
	Replier   Replier
	Sink      Sink

	Synthesizer tts.Synthesizer
	Voice       string

	Device     audio.Device
	Dialer     connection.Dialer
	Endpoint   string
	Connection connection.Options
	FrameSize  int
	SampleRate int
	Record     bool

	Assembler *transcript.Assembler
	Collector *analytics.Collector
	Observer  Observer
	Logger    *zap.Logger
}

// Result is what a call leaves behind.
type Result struct {
	Transcript []domain.TranscriptEntry
	Metrics    domain.CallMetrics
	Summary    string
	Recording  []byte
}

// Call owns the connection manager, capture pipeline, assembler and
// collector of one live session. All state changes happen on the dispatch
// goroutine.
type Call struct {
	opts   Options
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	events    chan Event
	closing   chan struct{}
	closeOnce sync.Once
	started   atomic.Bool
	wg        sync.WaitGroup

	manager   *connection.Manager
	pipeline  *audio.Pipeline
	assembler *transcript.Assembler
	collector *analytics.Collector
	recorder  *audio.Recorder

	endOnce sync.Once
	result  Result

	// Owned by the dispatch goroutine.
	voice    bool
	replying bool
	pending  []string
	segments []string
	reply    strings.Builder
}

// New creates a call. Nothing runs until Start.
func New(opts Options) *Call {
	if opts.SampleRate == 0 {
		opts.SampleRate = 16000
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "call"), zap.String("session_id", opts.SessionID))

	ctx, cancel := context.WithCancel(context.Background())
	c := &Call{
		opts:      opts,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		events:    make(chan Event, 256),
		closing:   make(chan struct{}),
		assembler: opts.Assembler,
		collector: opts.Collector,
	}
	if c.assembler == nil {
		c.assembler = transcript.NewAssembler()
	}
	if c.collector == nil {
		c.collector = analytics.NewCollector()
	}

	if opts.Device != nil && opts.Dialer != nil {
		connOpts := opts.Connection
		connOpts.Logger = logger
		if connOpts.KeepAlive == nil {
			connOpts.KeepAlive = stt.KeepAlive
		}
		connOpts.OnStatus = func(s domain.ConnectionStatus) { c.tryPost(StatusChanged{Status: s}) }
		connOpts.OnMessage = c.onTranscriptMessage
		c.manager = connection.NewManager(opts.Dialer, connOpts)

		c.pipeline = audio.NewPipeline(opts.Device, audio.Options{
			Constraints: audio.Constraints{
				EchoCancellation: true,
				NoiseSuppression: true,
				AutoGainControl:  true,
				SampleRate:       opts.SampleRate,
				Channels:         1,
			},
			FrameSize: opts.FrameSize,
			Encoding:  audio.EncodingLinear16,
			Sink:      func(f audio.Frame) { c.post(AudioFrame{Frame: f}) },
			Logger:    logger,
		})
		if opts.Record {
			c.recorder = audio.NewRecorder(opts.SampleRate, 1)
		}
		c.voice = true
	}
	return c
}

// Start begins the call. Voice setup continues in the background; if it
// fails the call carries on in text-only mode.
func (c *Call) Start() {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	c.collector.StartCall()

	mode := domain.ModeText
	if c.voice {
		mode = domain.ModeVoice
	}
	c.send(domain.LiveMessage{Type: domain.LiveTypeReady, SessionID: c.opts.SessionID, Mode: mode})

	go c.run()

	if c.voice {
		c.wg.Add(1)
		go c.setupVoice()
	}
}

// SubmitText queues a typed user turn.
func (c *Call) SubmitText(text string) bool {
	return c.post(UserText{Text: text})
}

// EndTurn closes the user's current utterance.
func (c *Call) EndTurn() bool {
	return c.post(EndTurn{})
}

// SetVolume scales captured audio.
func (c *Call) SetVolume(v float64) {
	if c.pipeline != nil {
		c.pipeline.SetVolume(v)
	}
}

// End stops the call and returns its transcript and metrics. Later calls
// return the same result.
func (c *Call) End() Result {
	c.endOnce.Do(func() {
		c.closeOnce.Do(func() { close(c.closing) })
		if !c.started.Swap(true) {
			// Never started: tear down inline.
			c.result = c.finish()
			return
		}
		reply := make(chan Result, 1)
		c.events <- EndCall{Reply: reply}
		c.result = <-reply
	})
	return c.result
}

func (c *Call) setupVoice() {
	defer c.wg.Done()

	if err := c.manager.Connect(c.ctx, c.opts.Endpoint); err != nil {
		c.post(voiceFailed{Phase: domain.PhaseTransport, Err: err})
		return
	}
	if _, err := c.pipeline.Initialize(c.ctx); err != nil {
		c.post(voiceFailed{Phase: domain.PhaseCapture, Err: err})
	}
}

func (c *Call) onTranscriptMessage(f connection.Frame) {
	if f.Binary {
		return
	}
	res, ok, err := stt.Decode(f.Data)
	if err != nil {
		c.logger.Warn("undecodable transcription message", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	c.post(TranscriptFragment{Text: res.Text, Final: res.IsFinal, SpeechFinal: res.SpeechFinal})
}

// post delivers ev to the dispatch loop, waiting for room. It gives up once
// the call is ending.
func (c *Call) post(ev Event) bool {
	select {
	case <-c.closing:
		return false
	default:
	}
	select {
	case c.events <- ev:
		return true
	case <-c.closing:
		return false
	}
}

// tryPost never blocks; status callbacks can fire on the dispatch goroutine.
func (c *Call) tryPost(ev Event) {
	select {
	case <-c.closing:
	case c.events <- ev:
	default:
		c.logger.Warn("event queue full, dropping event")
	}
}

func (c *Call) run() {
	for ev := range c.events {
		switch e := ev.(type) {
		case StatusChanged:
			c.handleStatus(e.Status)
		case AudioFrame:
			c.handleAudio(e.Frame)
		case TranscriptFragment:
			c.handleTranscript(e)
		case StreamChunk:
			c.handleChunk(e)
		case UserText:
			c.handleUserText(e.Text)
		case EndTurn:
			c.closeUtterance()
		case voiceFailed:
			c.degrade(e.Phase, e.Err)
		case EndCall:
			e.Reply <- c.finish()
			return
		}
	}
}

func (c *Call) handleStatus(s domain.ConnectionStatus) {
	if c.opts.Observer != nil {
		c.opts.Observer.ConnectionStatus(s)
	}
	c.send(domain.LiveMessage{Type: domain.LiveTypeStatus, Status: s})
	if s == domain.StatusFailed {
		c.degrade(domain.PhaseTransport, errors.New("speech-to-text connection failed"))
	}
}

func (c *Call) handleAudio(f audio.Frame) {
	if !c.voice {
		return
	}
	c.manager.Send(connection.Frame{Binary: true, Data: f.Data})
	if c.recorder != nil {
		c.recorder.Write(f.Data)
	}
}

// handleTranscript keeps the open user entry showing every finalized
// segment of the utterance followed by the latest interim hypothesis.
func (c *Call) handleTranscript(f TranscriptFragment) {
	if f.Text != "" {
		parts := append(append([]string(nil), c.segments...), f.Text)
		current := strings.Join(parts, " ")
		c.assembler.Fragment(domain.SpeakerUser, current)
		c.collector.RecordSpeaking(domain.SpeakerUser)
		c.send(domain.LiveMessage{Type: domain.LiveTypeTranscript, Speaker: domain.SpeakerUser, Text: current})
		if f.Final {
			c.segments = append(c.segments, f.Text)
		}
	}
	if f.SpeechFinal {
		c.closeUtterance()
	}
}

func (c *Call) handleUserText(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	c.closeUtterance()
	c.assembler.Fragment(domain.SpeakerUser, text)
	c.collector.RecordSpeaking(domain.SpeakerUser)
	c.assembler.EndTurn()
	c.send(domain.LiveMessage{Type: domain.LiveTypeTranscript, Speaker: domain.SpeakerUser, Text: text, Final: true})
	c.enqueue(text)
}

func (c *Call) closeUtterance() {
	c.segments = nil
	open, ok := c.assembler.Open()
	if !ok || open.Speaker != domain.SpeakerUser {
		return
	}
	c.assembler.EndTurn()
	c.send(domain.LiveMessage{Type: domain.LiveTypeTranscript, Speaker: domain.SpeakerUser, Text: open.Text, Final: true})
	c.enqueue(open.Text)
}

func (c *Call) enqueue(text string) {
	if c.replying {
		c.pending = append(c.pending, text)
		return
	}
	c.startReply(text)
}

func (c *Call) startReply(text string) {
	c.replying = true
	c.reply.Reset()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		full, err := c.opts.Replier.Reply(c.ctx, c.opts.SessionID, text, func(ev domain.ReplyEvent) error {
			if !c.post(StreamChunk{Event: ev}) {
				return errCallEnded
			}
			return nil
		})
		if err == nil && c.opts.Synthesizer != nil {
			c.speak(full)
		}
		c.post(StreamChunk{Finished: true, Err: err})
	}()
}

func (c *Call) speak(text string) {
	clip, err := c.opts.Synthesizer.Synthesize(c.ctx, text, c.opts.Voice)
	if err != nil {
		if c.ctx.Err() == nil {
			c.logger.Warn("speech synthesis failed", zap.Error(err))
			c.send(domain.LiveMessage{Type: domain.LiveTypeError, Code: "synthesis_failed", Phase: domain.PhaseSynthesis, Message: err.Error()})
		}
		return
	}
	if err := c.opts.Sink.SendAudio(clip.Data); err != nil {
		c.logger.Debug("drop synthesized audio", zap.Error(err))
	}
}

func (c *Call) handleChunk(e StreamChunk) {
	if e.Finished {
		c.replying = false
		if open, ok := c.assembler.Open(); ok && open.Speaker == domain.SpeakerAgent {
			c.assembler.EndTurn()
		}
		if e.Err != nil && !errors.Is(e.Err, errCallEnded) && c.ctx.Err() == nil {
			c.logger.Warn("reply failed", zap.Error(e.Err))
			msg := domain.LiveMessage{Type: domain.LiveTypeError, Code: "reply_failed", Message: e.Err.Error()}
			var upstream *domain.UpstreamServiceError
			if errors.As(e.Err, &upstream) {
				msg.Phase = upstream.Phase
			}
			c.send(msg)
		}
		if len(c.pending) > 0 {
			next := c.pending[0]
			c.pending = c.pending[1:]
			c.startReply(next)
		}
		return
	}

	switch e.Event.Type {
	case domain.ReplyEventChunk:
		c.reply.WriteString(e.Event.Content)
		c.assembler.Fragment(domain.SpeakerAgent, c.reply.String())
		c.collector.RecordSpeaking(domain.SpeakerAgent)
		c.send(domain.LiveMessage{Type: domain.LiveTypeChunk, Content: e.Event.Content})
	case domain.ReplyEventDone:
		c.assembler.Fragment(domain.SpeakerAgent, e.Event.Content)
		c.assembler.EndTurn()
		c.send(domain.LiveMessage{Type: domain.LiveTypeDone, Content: e.Event.Content})
	}
}

// degrade drops the voice path and keeps the call going on text turns.
func (c *Call) degrade(phase domain.Phase, cause error) {
	if !c.voice {
		return
	}
	c.voice = false
	c.logger.Warn("voice unavailable, continuing text-only", zap.String("phase", string(phase)), zap.Error(cause))
	c.send(domain.LiveMessage{
		Type:    domain.LiveTypeDegraded,
		Mode:    domain.ModeText,
		Phase:   phase,
		Message: cause.Error(),
	})

	// Stopping the pipeline waits for its goroutine, which may be posting
	// into this loop.
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.pipeline.Stop()
		c.manager.Disconnect()
	}()
}

func (c *Call) finish() Result {
	c.cancel()
	if c.pipeline != nil {
		c.pipeline.Stop()
	}
	if c.manager != nil {
		c.manager.Disconnect()
	}
	c.wg.Wait()

	res := Result{
		Transcript: c.assembler.Finalize(),
		Metrics:    c.collector.Metrics(),
	}
	res.Summary = analytics.Summarize(res.Metrics)
	if c.recorder != nil {
		res.Recording = c.recorder.Finish()
	}

	metrics := res.Metrics
	c.send(domain.LiveMessage{Type: domain.LiveTypeEnded, SessionID: c.opts.SessionID, Metrics: &metrics, Summary: res.Summary})
	c.logger.Info("call ended",
		zap.Duration("duration", res.Metrics.Duration),
		zap.Int("entries", len(res.Transcript)),
		zap.Int("turn_changes", res.Metrics.TurnChanges))
	return res
}

func (c *Call) send(msg domain.LiveMessage) {
	if c.opts.Sink == nil {
		return
	}
	if msg.Ts == 0 {
		msg.Ts = time.Now().UnixMilli()
	}
	if err := c.opts.Sink.SendJSON(msg); err != nil {
		c.logger.Debug("drop client message", zap.String("type", msg.Type), zap.Error(err))
	}
}
