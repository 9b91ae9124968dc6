package connection

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/xiaot623/salescall/internal/domain"
)

// immediateScheduler records each delay and fires at once.
type immediateScheduler struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *immediateScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	go f()
	return &manualTimer{}
}

func (s *immediateScheduler) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func TestBackoffScheduleProperty(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 50
	properties := gopter.NewProperties(params)

	properties.Property("delays double from the initial backoff until the budget is spent", prop.ForAll(
		func(maxAttempts, initialMs int) bool {
			initial := time.Duration(initialMs) * time.Millisecond
			sched := &immediateScheduler{}
			dialer := &scriptedDialer{fail: -1}
			m := NewManager(dialer, Options{
				MaxAttempts:    maxAttempts,
				InitialBackoff: initial,
				Scheduler:      sched,
			})
			defer m.Disconnect()

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := m.Connect(ctx, "ws://stt.invalid/listen"); err == nil {
				return false
			}
			if m.Status() != domain.StatusFailed || dialer.dialCount() != maxAttempts+1 {
				return false
			}

			delays := sched.recorded()
			if len(delays) != maxAttempts {
				return false
			}
			for i, d := range delays {
				if d != initial<<uint(i+1) {
					return false
				}
				if i > 0 && d < delays[i-1] {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 6),
		gen.IntRange(1, 50),
	))

	properties.TestingRun(t)
}
