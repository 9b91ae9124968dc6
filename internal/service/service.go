// Package service implements the call simulator's application operations.
package service

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/salescall/internal/adapter/llm"
	"github.com/xiaot623/salescall/internal/adapter/tts"
	"github.com/xiaot623/salescall/internal/config"
	"github.com/xiaot623/salescall/internal/domain"
	"github.com/xiaot623/salescall/internal/persona"
	"github.com/xiaot623/salescall/internal/policy"
	"github.com/xiaot623/salescall/internal/relay"
	"github.com/xiaot623/salescall/internal/repository"
	"github.com/xiaot623/salescall/internal/session"
)

// Metrics receives service counters.
type Metrics interface {
	SessionStarted()
	SessionEnded(reason domain.EndReason)
	LiveCallStarted()
	LiveCallEnded()
	UpstreamError(phase domain.Phase)
	ConnectionStatus(status domain.ConnectionStatus)
}

// Deps are the collaborators a Service is built from. Repository, Guard
// and Metrics may be nil.
type Deps struct {
	Sessions    *session.Store
	Personas    *persona.Provider
	Relay       *relay.Relay
	LLM         llm.Client
	Synthesizer tts.Synthesizer
	Repository  repository.Store
	Guard       *policy.Guard
	Metrics     Metrics
	Logger      *zap.Logger
}

// Service ties sessions, personas, the reply relay and live calls together.
type Service struct {
	cfg      *config.Config
	sessions *session.Store
	personas *persona.Provider
	relay    *relay.Relay
	coach    *Coach
	synth    tts.Synthesizer
	repo     repository.Store
	guard    *policy.Guard
	metrics  Metrics
	logger   *zap.Logger
	now      func() time.Time

	liveMu sync.Mutex
	live   map[string]*liveEntry
}

// New creates a service.
func New(cfg *config.Config, deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Service{
		cfg:      cfg,
		sessions: deps.Sessions,
		personas: deps.Personas,
		relay:    deps.Relay,
		coach:    NewCoach(deps.LLM, cfg.FeedbackModel),
		synth:    deps.Synthesizer,
		repo:     deps.Repository,
		guard:    deps.Guard,
		metrics:  metrics,
		logger:   logger.With(zap.String("component", "service")),
		now:      time.Now,
		live:     make(map[string]*liveEntry),
	}
}

type nopMetrics struct{}

func (nopMetrics) SessionStarted()                          {}
func (nopMetrics) SessionEnded(domain.EndReason)            {}
func (nopMetrics) LiveCallStarted()                         {}
func (nopMetrics) LiveCallEnded()                           {}
func (nopMetrics) UpstreamError(domain.Phase)               {}
func (nopMetrics) ConnectionStatus(domain.ConnectionStatus) {}
