package enrichment

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/wolfman30/callsync/internal/observability/metrics"
	"github.com/wolfman30/callsync/pkg/logging"
)

const defaultAttemptTimeout = 15 * time.Second

// SchedulerOption customizes a Scheduler.
type SchedulerOption func(*schedulerConfig)

type schedulerConfig struct {
	backoff        Backoff
	attemptTimeout time.Duration
	metrics        *metrics.PipelineMetrics
}

// WithBackoff replaces the default delay table.
func WithBackoff(b Backoff) SchedulerOption {
	return func(cfg *schedulerConfig) {
		if b.Initial >= 0 {
			cfg.backoff = b
		}
	}
}

// WithAttemptTimeout bounds each attempt.
func WithAttemptTimeout(d time.Duration) SchedulerOption {
	return func(cfg *schedulerConfig) {
		if d > 0 {
			cfg.attemptTimeout = d
		}
	}
}

// WithSchedulerMetrics records give-ups.
func WithSchedulerMetrics(m *metrics.PipelineMetrics) SchedulerOption {
	return func(cfg *schedulerConfig) {
		cfg.metrics = m
	}
}

func newSchedulerConfig(opts []SchedulerOption) schedulerConfig {
	cfg := schedulerConfig{
		backoff:        DefaultBackoff(),
		attemptTimeout: defaultAttemptTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Scheduler runs enrichment attempts in-process. Each scheduled call gets
// one goroutine that sleeps through the backoff table; pending sleeps are
// abandoned on Shutdown, so retries do not survive a restart.
type Scheduler struct {
	runner    Runner
	exhausted Exhaustion
	cfg       schedulerConfig
	logger    *logging.Logger

	root   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]struct{}
	closed   bool
}

// NewScheduler creates an in-process scheduler. runner and exhausted are required.
func NewScheduler(runner Runner, exhausted Exhaustion, logger *logging.Logger, opts ...SchedulerOption) *Scheduler {
	if runner == nil {
		panic("enrichment: runner cannot be nil")
	}
	if exhausted == nil {
		panic("enrichment: exhaustion registry cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	root, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		runner:    runner,
		exhausted: exhausted,
		cfg:       newSchedulerConfig(opts),
		logger:    logger,
		root:      root,
		cancel:    cancel,
		inflight:  make(map[string]struct{}),
	}
}

// Schedule starts background enrichment for callID and returns immediately.
// ctx only bounds the give-up lookup; the attempts run on the scheduler's own
// context. A call that already has a run in flight is not scheduled twice.
func (s *Scheduler) Schedule(ctx context.Context, callID string) error {
	callID = strings.TrimSpace(callID)
	if callID == "" {
		return ErrMissingCallID
	}
	logger := s.logger.ForCall(callID, "scheduler")

	exhausted, err := s.exhausted.IsExhausted(ctx, callID)
	if err != nil {
		logger.Warn("give-up lookup failed, scheduling anyway", "error", err)
	} else if exhausted {
		logger.Info("enrichment refused, retries already exhausted")
		return ErrExhausted
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSchedulerClosed
	}
	if _, ok := s.inflight[callID]; ok {
		s.mu.Unlock()
		logger.Debug("enrichment already in flight")
		return nil
	}
	s.inflight[callID] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(callID)
	return nil
}

func (s *Scheduler) run(callID string) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.inflight, callID)
		s.mu.Unlock()
	}()

	attempts := s.cfg.backoff.Attempts()
	for attempt := 1; attempt <= attempts; attempt++ {
		delay, _ := s.cfg.backoff.Delay(attempt)
		if !s.sleep(delay) {
			s.logger.ForCall(callID, "scheduler").Info("enrichment abandoned on shutdown", "attempt", attempt)
			return
		}
		outcome, err := runBounded(s.root, s.runner, callID, attempt, s.cfg.attemptTimeout)
		if err == nil && outcome.Terminal() {
			return
		}
		if s.root.Err() != nil {
			return
		}
	}
	giveUp(s.root, s.exhausted, s.cfg.metrics, s.logger, callID, attempts)
}

func (s *Scheduler) sleep(d time.Duration) bool {
	if d <= 0 {
		return s.root.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-s.root.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Shutdown stops accepting work, cancels pending sleeps and waits for
// in-flight attempts until ctx is done.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func runBounded(parent context.Context, runner Runner, callID string, attempt int, timeout time.Duration) (Outcome, error) {
	ctx := parent
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, timeout)
		defer cancel()
	}
	return runner.RunAttempt(ctx, callID, attempt)
}

func giveUp(ctx context.Context, exhausted Exhaustion, m *metrics.PipelineMetrics, logger *logging.Logger, callID string, attempts int) {
	logger = logger.ForCall(callID, "scheduler")
	m.ObserveGiveUp()
	if err := exhausted.MarkExhausted(context.WithoutCancel(ctx), callID); err != nil {
		logger.Error("failed to record give-up", "error", err)
	}
	logger.Warn("enrichment gave up, no matching conversation", "attempts", attempts)
}
