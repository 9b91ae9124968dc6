// Package connection keeps a streaming transport open, reconnecting with
// exponential backoff after unexpected closure.
package connection

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/salescall/internal/domain"
)

// Status is the connection lifecycle state.
type Status = domain.ConnectionStatus

// ErrClosed is returned by Connect after Disconnect.
var ErrClosed = errors.New("connection manager closed")

// Options configures a Manager.
type Options struct {
	// MaxAttempts is the number of consecutive reconnect attempts before
	// the manager gives up and reports failed.
	MaxAttempts    int
	InitialBackoff time.Duration
	// MaxBackoff caps the delay. Defaults to InitialBackoff * 2^MaxAttempts.
	MaxBackoff   time.Duration
	SendQueue    int
	PingInterval time.Duration
	// KeepAlive, when set, is sent as a text frame on every ping tick.
	KeepAlive   []byte
	DialTimeout time.Duration
	Scheduler   Scheduler
	Logger      *zap.Logger

	// OnStatus is called for every transition, in order, never concurrently.
	OnStatus func(Status)
	// OnMessage is called for every inbound frame from the read goroutine.
	OnMessage func(Frame)
}

// Manager owns at most one open transport at a time.
type Manager struct {
	dialer Dialer
	opts   Options
	logger *zap.Logger

	mu        sync.Mutex
	status    Status
	attempts  int
	backoff   time.Duration
	endpoint  string
	gen       uint64
	current   *link
	timer     Timer
	closed    bool
	lastErr   error
	settled   chan struct{}
	isSettled bool

	pending   []Status
	notifying bool
}

type link struct {
	t       Transport
	send    chan Frame
	done    chan struct{}
	closeMu sync.Once
}

func (l *link) close() {
	l.closeMu.Do(func() {
		close(l.done)
		_ = l.t.Close()
	})
}

// NewManager creates a manager in the disconnected state.
func NewManager(dialer Dialer, opts Options) *Manager {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = opts.InitialBackoff << uint(opts.MaxAttempts)
	}
	if opts.SendQueue <= 0 {
		opts.SendQueue = 256
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.Scheduler == nil {
		opts.Scheduler = RealScheduler{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		dialer:  dialer,
		opts:    opts,
		logger:  logger.With(zap.String("component", "connection")),
		status:  domain.StatusDisconnected,
		backoff: opts.InitialBackoff,
		settled: make(chan struct{}),
	}
}

// Connect opens a transport to endpoint and waits until it is connected,
// the reconnect budget is exhausted, or ctx ends.
func (m *Manager) Connect(ctx context.Context, endpoint string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.status == domain.StatusConnected {
		m.mu.Unlock()
		return nil
	}
	start := m.status == domain.StatusDisconnected || m.status == domain.StatusFailed
	if start {
		m.endpoint = endpoint
		m.attempts = 0
		m.backoff = m.opts.InitialBackoff
		m.lastErr = nil
		m.gen++
		if m.isSettled {
			m.settled = make(chan struct{})
			m.isSettled = false
		}
	}
	gen, settled := m.gen, m.settled
	m.mu.Unlock()

	if start {
		m.attempt(gen)
	}

	select {
	case <-settled:
	case <-ctx.Done():
		return &domain.TransportError{Endpoint: endpoint, Attempts: m.Attempts(), Err: ctx.Err()}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.status == domain.StatusConnected:
		return nil
	case m.closed:
		return ErrClosed
	default:
		err := m.lastErr
		if err == nil {
			err = errors.New(string(m.status))
		}
		return &domain.TransportError{Endpoint: endpoint, Attempts: m.attempts, Err: err}
	}
}

// Send queues f for transmission. Frames sent while not connected, or when
// the outbound queue is full, are dropped. It reports whether f was queued.
func (m *Manager) Send(f Frame) bool {
	m.mu.Lock()
	l := m.current
	status := m.status
	m.mu.Unlock()

	if status != domain.StatusConnected || l == nil {
		m.logger.Debug("dropping frame, not connected", zap.String("status", string(status)))
		return false
	}

	select {
	case <-l.done:
		return false
	default:
	}

	select {
	case l.send <- f:
		return true
	default:
		m.logger.Warn("send queue full, dropping frame", zap.Int("bytes", len(f.Data)))
		return false
	}
}

// Disconnect closes the transport and cancels any pending reconnect. It is
// safe to call any number of times.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	l := m.current
	m.current = nil
	m.transitionLocked(domain.StatusDisconnected)
	m.settleLocked()
	m.mu.Unlock()

	if l != nil {
		l.close()
	}
	m.flush()
	m.logger.Debug("disconnected")
}

// Status returns the current state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Attempts returns the number of consecutive reconnect attempts made.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Backoff returns the delay used for the latest scheduled reconnect.
func (m *Manager) Backoff() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backoff
}

func (m *Manager) attempt(gen uint64) {
	m.mu.Lock()
	if m.closed || gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	endpoint := m.endpoint
	m.transitionLocked(domain.StatusConnecting)
	m.mu.Unlock()
	m.flush()

	ctx, cancel := context.WithTimeout(context.Background(), m.opts.DialTimeout)
	t, err := m.dialer.Dial(ctx, endpoint)
	cancel()

	m.mu.Lock()
	if m.closed || gen != m.gen {
		m.mu.Unlock()
		if t != nil {
			_ = t.Close()
		}
		return
	}
	if err != nil {
		m.logger.Warn("dial failed", zap.String("endpoint", endpoint), zap.Int("attempt", m.attempts), zap.Error(err))
		m.scheduleRetryLocked(err)
		m.mu.Unlock()
		m.flush()
		return
	}

	l := &link{t: t, send: make(chan Frame, m.opts.SendQueue), done: make(chan struct{})}
	m.current = l
	m.attempts = 0
	m.backoff = m.opts.InitialBackoff
	m.lastErr = nil
	m.transitionLocked(domain.StatusConnected)
	m.settleLocked()
	m.mu.Unlock()

	m.logger.Info("connected", zap.String("endpoint", endpoint))
	go m.writePump(l, gen)
	go m.readPump(l, gen)
	m.flush()
}

// scheduleRetryLocked moves to reconnecting and schedules the next dial,
// or to failed once the attempt budget is spent.
func (m *Manager) scheduleRetryLocked(cause error) {
	m.lastErr = cause
	if m.attempts >= m.opts.MaxAttempts {
		m.transitionLocked(domain.StatusFailed)
		m.settleLocked()
		m.logger.Error("reconnect attempts exhausted", zap.Int("attempts", m.attempts), zap.Error(cause))
		return
	}

	m.attempts++
	delay := m.opts.InitialBackoff << uint(m.attempts)
	if delay > m.opts.MaxBackoff || delay <= 0 {
		delay = m.opts.MaxBackoff
	}
	m.backoff = delay
	m.transitionLocked(domain.StatusReconnecting)

	gen := m.gen
	m.timer = m.opts.Scheduler.AfterFunc(delay, func() { m.attempt(gen) })
	m.logger.Info("reconnect scheduled", zap.Int("attempt", m.attempts), zap.Duration("delay", delay))
}

func (m *Manager) handleClosure(l *link, gen uint64, cause error) {
	m.mu.Lock()
	if m.closed || gen != m.gen || m.current != l {
		m.mu.Unlock()
		return
	}
	m.current = nil
	m.gen++
	m.logger.Warn("transport closed", zap.Error(cause))
	m.scheduleRetryLocked(cause)
	m.mu.Unlock()

	l.close()
	m.flush()
}

func (m *Manager) readPump(l *link, gen uint64) {
	for {
		f, err := l.t.ReadFrame()
		if err != nil {
			m.handleClosure(l, gen, err)
			return
		}
		if m.opts.OnMessage != nil {
			m.opts.OnMessage(f)
		}
	}
}

func (m *Manager) writePump(l *link, gen uint64) {
	ticker := time.NewTicker(m.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case f := <-l.send:
			if err := l.t.WriteFrame(f); err != nil {
				m.handleClosure(l, gen, err)
				return
			}
		case <-ticker.C:
			if err := l.t.Ping(); err != nil {
				m.handleClosure(l, gen, err)
				return
			}
			if m.opts.KeepAlive != nil {
				if err := l.t.WriteFrame(Frame{Data: m.opts.KeepAlive}); err != nil {
					m.handleClosure(l, gen, err)
					return
				}
			}
		}
	}
}

func (m *Manager) transitionLocked(s Status) {
	if m.status == s {
		return
	}
	m.status = s
	m.pending = append(m.pending, s)
}

func (m *Manager) settleLocked() {
	if !m.isSettled {
		m.isSettled = true
		close(m.settled)
	}
}

// flush delivers queued transitions. Only one goroutine delivers at a time,
// so callbacks observe transitions in order and may call back into the
// manager.
func (m *Manager) flush() {
	m.mu.Lock()
	if m.notifying {
		m.mu.Unlock()
		return
	}
	m.notifying = true
	for len(m.pending) > 0 {
		s := m.pending[0]
		m.pending = m.pending[1:]
		m.mu.Unlock()
		if m.opts.OnStatus != nil {
			m.opts.OnStatus(s)
		}
		m.mu.Lock()
	}
	m.notifying = false
	m.mu.Unlock()
}
