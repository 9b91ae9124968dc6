package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/salescall/internal/adapter/llm"
	"github.com/xiaot623/salescall/internal/adapter/tts"
	"github.com/xiaot623/salescall/internal/config"
	"github.com/xiaot623/salescall/internal/domain"
	"github.com/xiaot623/salescall/internal/hub"
	"github.com/xiaot623/salescall/internal/metrics"
	"github.com/xiaot623/salescall/internal/persona"
	"github.com/xiaot623/salescall/internal/policy"
	"github.com/xiaot623/salescall/internal/relay"
	"github.com/xiaot623/salescall/internal/repository"
	"github.com/xiaot623/salescall/internal/service"
	"github.com/xiaot623/salescall/internal/session"
	handler "github.com/xiaot623/salescall/internal/transport/http"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "callsim: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("starting call simulator",
		zap.Int("http_port", cfg.HTTPPort),
		zap.String("database", cfg.DatabaseURL),
		zap.Bool("mock", cfg.IsMock()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize store
	repo, err := repository.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	defer repo.Close()

	// Upstream providers
	llmClient := llm.NewLLMClient(cfg.LLMURL, cfg.LLMAPIKey, cfg.LLMTimeout, cfg.IsMock(), logger)
	synth := tts.NewSynthesizer(cfg.TTSURL, cfg.TTSAPIKey, cfg.TTSModel, cfg.TTSVoice, cfg.IsMock())
	if cfg.IsMock() {
		cfg.STTURL = fmt.Sprintf("ws://127.0.0.1:%d%s", cfg.HTTPPort, handler.MockSTTPath)
	}

	// Initialize policy engine
	engine, err := policy.LoadEngine(ctx, cfg.PolicyFile)
	if err != nil {
		return fmt.Errorf("initialize policy engine: %w", err)
	}
	guard := policy.NewGuard(engine, policy.Limits{MaxMessageChars: cfg.MaxMessageChars}, tts.Voices)

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector("callsim", registry, logger)

	h := hub.New(logger)
	registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "callsim",
		Name:      "live_connections",
		Help:      "Open live call websocket connections.",
	}, func() float64 { return float64(h.GetConnectionCount()) }))

	// Sessions evict into the service, which is built after the store.
	var svc *service.Service
	store := session.NewStore(
		session.WithIdleTimeout(cfg.SessionIdleTimeout),
		session.WithSweepInterval(cfg.SessionSweepInterval),
		session.WithLogger(logger),
		session.WithOnEvict(func(sess domain.Session) {
			svc.HandleEvicted(sess)
			if !h.HasActiveConnections(sess.SessionID) {
				return
			}
			_ = h.BroadcastJSON(sess.SessionID, domain.LiveMessage{
				Type:      domain.LiveTypeError,
				Ts:        time.Now().UnixMilli(),
				SessionID: sess.SessionID,
				Code:      "session_expired",
				Message:   "session ended after inactivity",
			})
			h.CloseSession(sess.SessionID)
		}),
	)

	svc = service.New(cfg, service.Deps{
		Sessions:    store,
		Personas:    persona.NewProvider(repo, llmClient, cfg.FeedbackModel, logger),
		Relay:       relay.New(store, llmClient, cfg.LLMModel, collector, logger),
		LLM:         llmClient,
		Synthesizer: synth,
		Repository:  repo,
		Guard:       guard,
		Metrics:     collector,
		Logger:      logger,
	})

	e := handler.NewServer(cfg, svc, h, collector, registry, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h.Run(gctx)
		return nil
	})
	g.Go(func() error {
		store.Run(gctx)
		return nil
	})
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		logger.Info("http server listening", zap.String("addr", addr))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down call simulator")

		// Graceful shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to shutdown http server gracefully", zap.Error(err))
		}
		return nil
	})

	err = g.Wait()
	logger.Info("call simulator stopped")
	return err
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	zcfg := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}
