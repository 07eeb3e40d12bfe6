package bootstrap

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/wolfman30/callsync/internal/archive"
	"github.com/wolfman30/callsync/internal/calls"
	appconfig "github.com/wolfman30/callsync/internal/config"
	"github.com/wolfman30/callsync/internal/convai"
	"github.com/wolfman30/callsync/internal/enrichment"
	"github.com/wolfman30/callsync/internal/followup"
	"github.com/wolfman30/callsync/internal/matching"
	"github.com/wolfman30/callsync/internal/notify"
	"github.com/wolfman30/callsync/internal/observability/metrics"
	"github.com/wolfman30/callsync/internal/recording"
	"github.com/wolfman30/callsync/pkg/logging"
)

// BuildBackoff turns the configured delay table into an enrichment.Backoff.
func BuildBackoff(cfg *appconfig.Config) enrichment.Backoff {
	b := enrichment.DefaultBackoff()
	if cfg == nil {
		return b
	}
	if cfg.EnrichmentInitialDelay > 0 {
		b.Initial = cfg.EnrichmentInitialDelay
	}
	if len(cfg.EnrichmentRetryDelays) > 0 {
		b.Retries = append([]time.Duration(nil), cfg.EnrichmentRetryDelays...)
	}
	return b
}

// BuildMatchParams applies MATCH_* overrides on top of the default heuristic.
func BuildMatchParams(cfg *appconfig.Config) matching.Params {
	p := matching.DefaultParams()
	if cfg == nil {
		return p
	}
	if cfg.MatchTimeWindow > 0 {
		p.TimeWindow = cfg.MatchTimeWindow
	}
	if cfg.MatchCloseTimeWindow > 0 {
		p.CloseTimeWindow = cfg.MatchCloseTimeWindow
	}
	if cfg.MatchDurationTolerance != nil {
		p = p.WithDurationTolerance(*cfg.MatchDurationTolerance)
	}
	if cfg.MatchDurationWeight > 0 {
		p.DurationWeight = cfg.MatchDurationWeight
	}
	return p
}

// SchedulerOptions returns the options shared by the in-process scheduler,
// the queue scheduler and the queue worker.
func SchedulerOptions(cfg *appconfig.Config, m *metrics.PipelineMetrics) []enrichment.SchedulerOption {
	opts := []enrichment.SchedulerOption{
		enrichment.WithBackoff(BuildBackoff(cfg)),
		enrichment.WithSchedulerMetrics(m),
	}
	if cfg != nil && cfg.EnrichmentAttemptTimeout > 0 {
		opts = append(opts, enrichment.WithAttemptTimeout(cfg.EnrichmentAttemptTimeout))
	}
	return opts
}

func enrichmentGiveUpTTL(cfg *appconfig.Config) time.Duration {
	if cfg == nil || cfg.EnrichmentGiveUpTTL <= 0 {
		return enrichment.DefaultExhaustionTTL
	}
	return cfg.EnrichmentGiveUpTTL
}

// BuildConversationClient creates the conversation analytics client.
func BuildConversationClient(cfg *appconfig.Config, logger *logging.Logger) (*convai.Client, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config is required")
	}
	return convai.New(convai.Config{
		BaseURL:        cfg.ElevenLabsBaseURL,
		APIKey:         cfg.ElevenLabsAPIKey,
		Timeout:        cfg.ElevenLabsTimeout,
		AudioProxyPath: cfg.RecordingProxyPath,
		Logger:         logger,
	})
}

// BuildEmailSender selects the notification transport from EMAIL_PROVIDER.
// "auto" prefers SendGrid, then SES. Anything unusable falls back to the stub
// sender so the pipeline still runs in development.
func BuildEmailSender(cfg *appconfig.Config, ses notify.SESAPI, logger *logging.Logger) notify.EmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg == nil {
		return notify.NewStubEmailSender(logger)
	}

	sendgrid := func() notify.EmailSender {
		if cfg.SendGridAPIKey == "" || cfg.SendGridFromEmail == "" {
			return nil
		}
		return notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger)
	}
	sesSender := func() notify.EmailSender {
		if ses == nil || cfg.SESFromEmail == "" {
			return nil
		}
		return notify.NewSESSender(ses, notify.SESConfig{
			FromEmail:        cfg.SESFromEmail,
			FromName:         cfg.SESFromName,
			ConfigurationSet: cfg.SESConfigurationSet,
		}, logger)
	}

	var sender notify.EmailSender
	switch cfg.EmailProvider {
	case "sendgrid":
		sender = sendgrid()
	case "ses":
		sender = sesSender()
	case "stub", "none", "disabled":
	default:
		if sender = sendgrid(); sender == nil {
			sender = sesSender()
		}
	}
	if sender == nil {
		logger.Warn("email delivery not configured; call summaries will only be logged", "provider", cfg.EmailProvider)
		return notify.NewStubEmailSender(logger)
	}
	return sender
}

// AWSClients are the AWS service clients built from one aws.Config. Fields
// stay nil for services the configuration does not use.
type AWSClients struct {
	SQS   *sqs.Client
	S3    *s3.Client
	SESv2 *sesv2.Client
}

// BuildAWSClients creates only the clients the configuration needs.
func BuildAWSClients(awsCfg aws.Config, cfg *appconfig.Config) AWSClients {
	var out AWSClients
	if cfg == nil {
		return out
	}
	if cfg.DurableRetries() {
		out.SQS = sqs.NewFromConfig(awsCfg)
	}
	if cfg.PayloadArchiveBucket != "" {
		out.S3 = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.UsePathStyle = cfg.AWSEndpointOverride != ""
		})
	}
	if cfg.SESFromEmail != "" {
		out.SESv2 = sesv2.NewFromConfig(awsCfg)
	}
	return out
}

// SESAPI returns the SES client as a notify.SESAPI, keeping a missing client
// an untyped nil.
func (c AWSClients) SESAPI() notify.SESAPI {
	if c.SESv2 == nil {
		return nil
	}
	return c.SESv2
}

// SQSAPI returns the SQS client as an enrichment.SQSAPI, or nil.
func (c AWSClients) SQSAPI() enrichment.SQSAPI {
	if c.SQS == nil {
		return nil
	}
	return c.SQS
}

// PipelineDeps are the collaborators of one enrichment pipeline.
type PipelineDeps struct {
	Config        *appconfig.Config
	Stores        Stores
	Conversations *convai.Client
	Archive       *archive.Store
	Email         notify.EmailSender
	Metrics       *metrics.PipelineMetrics
	Logger        *logging.Logger
}

// BuildPipeline wires writer, matcher and follow-up into an enrichment.Pipeline.
func BuildPipeline(deps PipelineDeps) (*enrichment.Pipeline, error) {
	if deps.Conversations == nil {
		return nil, errors.New("bootstrap: conversation client is required")
	}
	if deps.Stores.Calls == nil || deps.Stores.VoiceLines == nil || deps.Stores.Leads == nil {
		return nil, errors.New("bootstrap: stores are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}

	var writerOpts []enrichment.WriterOption
	if deps.Archive.Enabled() {
		writerOpts = append(writerOpts, enrichment.WithArchive(deps.Archive))
	}
	writer := enrichment.NewWriter(deps.Stores.Calls, deps.Conversations, logger, writerOpts...)

	var notifier followup.Notifier
	if deps.Email != nil {
		notifier = notify.NewCallNotifier(deps.Email, logger)
	}
	var (
		publicBaseURL   string
		links           *recording.LinkSigner
		followupTimeout time.Duration
	)
	if cfg := deps.Config; cfg != nil {
		publicBaseURL = cfg.PublicBaseURL
		links = recording.NewLinkSigner(cfg.AdminJWTSecret, cfg.RecordingLinkTTL)
		followupTimeout = cfg.FollowUpTimeout
	}
	follow := followup.NewService(
		deps.Stores.Leads,
		deps.Stores.Calls,
		deps.Stores.VoiceLines,
		notifier,
		logger,
		followup.WithPublicBaseURL(publicBaseURL),
		followup.WithRecordingLinks(links),
		followup.WithMetrics(deps.Metrics),
	)

	return enrichment.NewPipeline(
		deps.Stores.Calls,
		deps.Conversations,
		writer,
		logger,
		enrichment.WithMatchParams(BuildMatchParams(deps.Config)),
		enrichment.WithFollowUp(follow),
		enrichment.WithFollowUpTimeout(followupTimeout),
		enrichment.WithMetrics(deps.Metrics),
	), nil
}

// Scheduler is a calls.Scheduler that may hold background work to drain.
type Scheduler interface {
	calls.Scheduler
	Shutdown(ctx context.Context) error
}

type queueScheduler struct {
	*enrichment.QueueScheduler
}

// Shutdown is a no-op: queued attempts belong to the worker.
func (queueScheduler) Shutdown(context.Context) error { return nil }

// memoryQueueScheduler runs the queue path inside one process.
type memoryQueueScheduler struct {
	*enrichment.QueueScheduler
	queue  *enrichment.MemoryQueue
	worker *enrichment.QueueWorker
	cancel context.CancelFunc
}

// Shutdown stops the worker and drops delayed attempts still on the queue.
func (s memoryQueueScheduler) Shutdown(ctx context.Context) error {
	s.cancel()
	defer s.queue.Close()
	done := make(chan struct{})
	go func() {
		s.worker.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BuildScheduler returns the durable queue scheduler when a queue client is
// given, the in-process queue for ENRICHMENT_QUEUE_URL=memory://, otherwise
// the in-process timer scheduler driving runner.
func BuildScheduler(cfg *appconfig.Config, runner enrichment.Runner, sqsClient enrichment.SQSAPI, exhausted enrichment.Exhaustion, m *metrics.PipelineMetrics, logger *logging.Logger) Scheduler {
	opts := SchedulerOptions(cfg, m)
	if sqsClient != nil && cfg.DurableRetries() {
		queue := enrichment.NewSQSQueue(sqsClient, cfg.EnrichmentQueueURL)
		return queueScheduler{enrichment.NewQueueScheduler(queue, exhausted, logger, opts...)}
	}
	if cfg.MemoryQueue() {
		queue := enrichment.NewMemoryQueue(0)
		worker := enrichment.NewQueueWorker(runner, queue, exhausted, logger, opts, queueWorkerOptions(cfg)...)
		ctx, cancel := context.WithCancel(context.Background())
		worker.Start(ctx)
		return memoryQueueScheduler{
			QueueScheduler: enrichment.NewQueueScheduler(queue, exhausted, logger, opts...),
			queue:          queue,
			worker:         worker,
			cancel:         cancel,
		}
	}
	return enrichment.NewScheduler(runner, exhausted, logger, opts...)
}

func queueWorkerOptions(cfg *appconfig.Config) []enrichment.QueueWorkerOption {
	var opts []enrichment.QueueWorkerOption
	if cfg != nil && cfg.EnrichmentWorkerCount > 0 {
		opts = append(opts, enrichment.WithWorkerCount(cfg.EnrichmentWorkerCount))
	}
	return opts
}

// BuildQueueWorker wires the consumer side of durable retries.
func BuildQueueWorker(cfg *appconfig.Config, runner enrichment.Runner, sqsClient enrichment.SQSAPI, exhausted enrichment.Exhaustion, m *metrics.PipelineMetrics, logger *logging.Logger) (*enrichment.QueueWorker, error) {
	if !cfg.DurableRetries() {
		return nil, errors.New("bootstrap: an SQS ENRICHMENT_QUEUE_URL is required for the queue worker")
	}
	if sqsClient == nil {
		return nil, errors.New("bootstrap: SQS client is required for the queue worker")
	}
	queue := enrichment.NewSQSQueue(sqsClient, cfg.EnrichmentQueueURL)
	return enrichment.NewQueueWorker(runner, queue, exhausted, logger, SchedulerOptions(cfg, m), queueWorkerOptions(cfg)...), nil
}
