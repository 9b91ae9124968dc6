// Package session holds live call sessions in memory.
package session

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xiaot623/salescall/internal/domain"
)

// EvictFunc receives sessions removed by the idle sweeper.
type EvictFunc func(domain.Session)

// Store is the in-memory session registry. The map lock only guards
// lookup, insert and delete; each session has its own lock for mutation
// and a turn lock held across a user-to-assistant exchange.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry

	now           func() time.Time
	idleTimeout   time.Duration
	sweepInterval time.Duration
	onEvict       EvictFunc
	logger        *zap.Logger
}

type entry struct {
	mu      sync.Mutex
	session domain.Session
	removed bool

	turn   sync.Mutex
	active atomic.Int32
}

// Option configures a Store.
type Option func(*Store)

// WithIdleTimeout sets how long a session may go untouched before eviction.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Store) { s.idleTimeout = d }
}

// WithSweepInterval sets how often Run checks for idle sessions.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Store) { s.sweepInterval = d }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithOnEvict registers a hook called for each evicted session.
func WithOnEvict(fn EvictFunc) Option {
	return func(s *Store) { s.onEvict = fn }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		sessions:      make(map[string]*entry),
		now:           time.Now,
		idleTimeout:   30 * time.Minute,
		sweepInterval: 30 * time.Second,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "session_store"))
	return s
}

// CreateOption sets optional session fields at creation.
type CreateOption func(*domain.Session)

// WithPersona records the persona the session was started from.
func WithPersona(personaID string) CreateOption {
	return func(s *domain.Session) { s.PersonaID = personaID }
}

// WithProfile keeps the raw profile data the prompt was synthesized from.
func WithProfile(profile json.RawMessage) CreateOption {
	return func(s *domain.Session) {
		if len(profile) > 0 {
			s.ProfileSnapshot = append(json.RawMessage(nil), profile...)
		}
	}
}

// Create registers a session seeded with the system prompt and the
// opening assistant line, and returns its ID.
func (s *Store) Create(systemPrompt, opening string, opts ...CreateOption) string {
	now := s.now()
	sess := domain.Session{
		SessionID: "sess_" + uuid.New().String(),
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: systemPrompt},
			{Role: domain.RoleAssistant, Content: opening},
		},
		CreatedAt:    now,
		LastActivity: now,
	}
	for _, opt := range opts {
		opt(&sess)
	}

	s.mu.Lock()
	s.sessions[sess.SessionID] = &entry{session: sess}
	s.mu.Unlock()

	s.logger.Debug("session created", zap.String("session_id", sess.SessionID))
	return sess.SessionID
}

// Get returns a copy of the session.
func (s *Store) Get(id string) (domain.Session, error) {
	var out domain.Session
	err := s.with(id, func(sess *domain.Session) {
		out = sess.Clone()
	}, false)
	return out, err
}

// AppendUserMessage appends a user message and touches the session.
func (s *Store) AppendUserMessage(id, content string) error {
	return s.append(id, domain.RoleUser, content)
}

// AppendAssistantMessage appends an assistant message and touches the session.
func (s *Store) AppendAssistantMessage(id, content string) error {
	return s.append(id, domain.RoleAssistant, content)
}

func (s *Store) append(id string, role domain.Role, content string) error {
	return s.with(id, func(sess *domain.Session) {
		sess.Messages = append(sess.Messages, domain.Message{Role: role, Content: content})
	}, true)
}

// Touch refreshes the session's last activity.
func (s *Store) Touch(id string) error {
	return s.with(id, func(*domain.Session) {}, true)
}

// BeginTurn serializes conversational turns on one session. The session is
// not evicted until release is called.
func (s *Store) BeginTurn(id string) (release func(), err error) {
	e, ok := s.lookup(id)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}

	e.active.Add(1)
	e.turn.Lock()

	e.mu.Lock()
	removed := e.removed
	e.mu.Unlock()
	if removed {
		e.turn.Unlock()
		e.active.Add(-1)
		return nil, domain.ErrSessionNotFound
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			e.turn.Unlock()
			e.active.Add(-1)
		})
	}, nil
}

// Remove deletes the session and returns its final state.
func (s *Store) Remove(id string) (domain.Session, error) {
	s.mu.Lock()
	e, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.removed = true
	return e.session.Clone(), nil
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Run evicts idle sessions until ctx is done.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep evicts every session idle for longer than the idle timeout.
// Sessions that are being mutated or are mid-turn are skipped.
func (s *Store) Sweep() int {
	now := s.now()
	var evicted []domain.Session

	s.mu.Lock()
	for id, e := range s.sessions {
		if e.active.Load() > 0 {
			continue
		}
		if !e.mu.TryLock() {
			continue
		}
		if now.Sub(e.session.LastActivity) > s.idleTimeout {
			e.removed = true
			delete(s.sessions, id)
			evicted = append(evicted, e.session.Clone())
		}
		e.mu.Unlock()
	}
	s.mu.Unlock()

	for _, sess := range evicted {
		s.logger.Info("session evicted",
			zap.String("session_id", sess.SessionID),
			zap.Time("last_activity", sess.LastActivity))
		if s.onEvict != nil {
			s.onEvict(sess)
		}
	}
	return len(evicted)
}

func (s *Store) lookup(id string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[id]
	return e, ok
}

func (s *Store) with(id string, fn func(*domain.Session), touch bool) error {
	e, ok := s.lookup(id)
	if !ok {
		return domain.ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return domain.ErrSessionNotFound
	}
	fn(&e.session)
	if touch {
		e.session.LastActivity = s.now()
	}
	return nil
}
