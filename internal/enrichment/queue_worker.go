package enrichment

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/wolfman30/callsync/pkg/logging"
)

// QueueScheduler schedules enrichment by enqueueing the first attempt with
// the initial backoff delay. A QueueWorker consumes it.
type QueueScheduler struct {
	queue     queueClient
	exhausted Exhaustion
	cfg       schedulerConfig
	logger    *logging.Logger
}

// NewQueueScheduler creates a durable scheduler. queue and exhausted are required.
func NewQueueScheduler(queue queueClient, exhausted Exhaustion, logger *logging.Logger, opts ...SchedulerOption) *QueueScheduler {
	if queue == nil {
		panic("enrichment: queue cannot be nil")
	}
	if exhausted == nil {
		panic("enrichment: exhaustion registry cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &QueueScheduler{queue: queue, exhausted: exhausted, cfg: newSchedulerConfig(opts), logger: logger}
}

// Schedule enqueues attempt 1 for callID.
func (s *QueueScheduler) Schedule(ctx context.Context, callID string) error {
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

	body, err := encodeAttempt(attemptPayload{CallID: callID, Attempt: 1})
	if err != nil {
		return err
	}
	return s.queue.Send(ctx, body, s.cfg.backoff.Initial)
}

// QueueWorkerOption customizes a QueueWorker.
type QueueWorkerOption func(*queueWorkerConfig)

type queueWorkerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
}

const (
	defaultQueueWorkers = 2
	defaultWaitSeconds  = 2
	maxWaitSeconds      = 20
	defaultBatchSize    = 5
	maxBatchSize        = 10
)

// WithWorkerCount sets the number of polling goroutines.
func WithWorkerCount(count int) QueueWorkerOption {
	return func(cfg *queueWorkerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the SQS long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) QueueWorkerOption {
	return func(cfg *queueWorkerConfig) {
		if seconds < 0 {
			seconds = 0
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize caps messages fetched per poll.
func WithReceiveBatchSize(size int) QueueWorkerOption {
	return func(cfg *queueWorkerConfig) {
		if size > 0 && size <= maxBatchSize {
			cfg.receiveBatchSize = size
		}
	}
}

// QueueWorker runs queued attempts. After a non-terminal attempt it enqueues
// the next one with the next backoff delay, or records a give-up once the
// table is spent. Messages are deleted only after the follow-up message is
// safely enqueued, so a crash re-runs the attempt rather than losing it.
type QueueWorker struct {
	runner    Runner
	queue     queueClient
	exhausted Exhaustion
	sched     schedulerConfig
	cfg       queueWorkerConfig
	logger    *logging.Logger
	wg        sync.WaitGroup
}

// NewQueueWorker creates a worker; call Start to begin polling.
func NewQueueWorker(runner Runner, queue queueClient, exhausted Exhaustion, logger *logging.Logger, schedOpts []SchedulerOption, opts ...QueueWorkerOption) *QueueWorker {
	if runner == nil {
		panic("enrichment: runner cannot be nil")
	}
	if queue == nil {
		panic("enrichment: queue cannot be nil")
	}
	if exhausted == nil {
		panic("enrichment: exhaustion registry cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg := queueWorkerConfig{
		workers:          defaultQueueWorkers,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &QueueWorker{
		runner:    runner,
		queue:     queue,
		exhausted: exhausted,
		sched:     newSchedulerConfig(schedOpts),
		cfg:       cfg,
		logger:    logger,
	}
}

// Start launches the polling goroutines.
func (w *QueueWorker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all polling goroutines have exited.
func (w *QueueWorker) Wait() {
	w.wg.Wait()
}

func (w *QueueWorker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("enrichment worker started", "worker_id", workerID)

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("enrichment worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			w.logger.Error("failed to receive enrichment attempts", "error", err, "worker_id", workerID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

func (w *QueueWorker) handleMessage(ctx context.Context, msg queueMessage) {
	payload, err := decodeAttempt(msg.Body)
	if err != nil {
		w.logger.Error("dropping undecodable enrichment message", "error", err, "message_id", msg.ID)
		w.delete(ctx, msg)
		return
	}
	logger := w.logger.ForCall(payload.CallID, "worker").With("attempt", payload.Attempt)

	if exhausted, err := w.exhausted.IsExhausted(ctx, payload.CallID); err == nil && exhausted {
		logger.Info("skipping attempt, retries already exhausted")
		w.delete(ctx, msg)
		return
	}

	outcome, err := runBounded(ctx, w.runner, payload.CallID, payload.Attempt, w.sched.attemptTimeout)
	if ctx.Err() != nil {
		return
	}
	if err == nil && outcome.Terminal() {
		w.delete(ctx, msg)
		return
	}

	next := payload.Attempt + 1
	delay, ok := w.sched.backoff.Delay(next)
	if !ok {
		giveUp(ctx, w.exhausted, w.sched.metrics, w.logger, payload.CallID, payload.Attempt)
		w.delete(ctx, msg)
		return
	}
	body, err := encodeAttempt(attemptPayload{CallID: payload.CallID, Attempt: next})
	if err == nil {
		err = w.queue.Send(ctx, body, delay)
	}
	if err != nil {
		logger.Error("failed to enqueue next attempt, leaving message for redelivery", "error", err)
		return
	}
	w.delete(ctx, msg)
}

func (w *QueueWorker) delete(ctx context.Context, msg queueMessage) {
	if err := w.queue.Delete(ctx, msg.ReceiptHandle); err != nil {
		w.logger.Error("failed to delete enrichment message", "error", err, "message_id", msg.ID)
	}
}
