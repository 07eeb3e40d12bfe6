package bootstrap

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/callsync/internal/calls"
	appconfig "github.com/wolfman30/callsync/internal/config"
	"github.com/wolfman30/callsync/internal/enrichment"
	"github.com/wolfman30/callsync/internal/leads"
	"github.com/wolfman30/callsync/internal/matching"
	"github.com/wolfman30/callsync/internal/notify"
	"github.com/wolfman30/callsync/pkg/logging"
)

func TestBuildRedisClientDisabledWithoutAddr(t *testing.T) {
	if client := BuildRedisClient(context.Background(), &appconfig.Config{}, logging.Discard(), true); client != nil {
		t.Fatalf("expected nil client without REDIS_ADDR")
	}
	if client := BuildRedisClient(context.Background(), nil, nil, false); client != nil {
		t.Fatalf("expected nil client for nil config")
	}
}

func TestBuildRedisClientVerifiesPing(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &appconfig.Config{RedisAddr: mr.Addr()}

	client := BuildRedisClient(context.Background(), cfg, logging.Discard(), true)
	if client == nil {
		t.Fatalf("expected client when redis is reachable")
	}
	_ = client.Close()

	mr.Close()
	if client := BuildRedisClient(context.Background(), cfg, logging.Discard(), true); client != nil {
		t.Fatalf("expected nil client when ping fails")
	}
}

func TestBuildStoresFallsBackToMemory(t *testing.T) {
	stores := BuildStores(nil, logging.Discard(), calls.VoiceLine{ID: "line-1", AccountID: "acct-1", PhoneNumber: "+15550001111"})
	if _, ok := stores.Calls.(*calls.MemoryStore); !ok {
		t.Fatalf("expected memory call store, got %T", stores.Calls)
	}
	if _, ok := stores.Leads.(*leads.InMemoryRepository); !ok {
		t.Fatalf("expected memory lead repository, got %T", stores.Leads)
	}
	line, err := stores.VoiceLines.FindByNumber(context.Background(), "+1 (555) 000-1111")
	if err != nil || line.ID != "line-1" {
		t.Fatalf("expected seeded voice line, got %+v err=%v", line, err)
	}
}

func TestBuildStoresUsesPostgres(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	stores := BuildStores(mock, logging.Discard())
	if _, ok := stores.Calls.(*calls.PostgresStore); !ok {
		t.Fatalf("expected postgres call store, got %T", stores.Calls)
	}
	if _, ok := stores.VoiceLines.(*calls.PostgresVoiceLines); !ok {
		t.Fatalf("expected postgres voice lines, got %T", stores.VoiceLines)
	}
	if _, ok := stores.Leads.(*leads.PostgresRepository); !ok {
		t.Fatalf("expected postgres lead repository, got %T", stores.Leads)
	}
}

func TestBuildExhaustion(t *testing.T) {
	reg, err := BuildExhaustion(&appconfig.Config{}, nil, logging.Discard())
	require.NoError(t, err)
	if _, ok := reg.(*enrichment.MemoryExhaustion); !ok {
		t.Fatalf("expected memory registry without redis, got %T", reg)
	}

	mr := miniredis.RunT(t)
	client := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, logging.Discard(), false)
	defer client.Close()

	reg, err = BuildExhaustion(&appconfig.Config{EnrichmentGiveUpTTL: time.Hour}, client, logging.Discard())
	require.NoError(t, err)
	if _, ok := reg.(*enrichment.RedisExhaustion); !ok {
		t.Fatalf("expected redis registry, got %T", reg)
	}
	if err := reg.MarkExhausted(context.Background(), "CA1"); err != nil {
		t.Fatalf("mark exhausted: %v", err)
	}
	if ttl := mr.TTL("enrichment:exhausted:CA1"); ttl != time.Hour {
		t.Fatalf("expected configured ttl, got %s", ttl)
	}
}

func TestBuildExhaustionDurableRetriesRequireRedis(t *testing.T) {
	cfg := &appconfig.Config{EnrichmentQueueURL: "https://sqs.us-east-1.amazonaws.com/123/enrichment"}
	_, err := BuildExhaustion(cfg, nil, logging.Discard())
	require.ErrorIs(t, err, ErrDurableRetriesNeedRedis)

	reg, err := BuildExhaustion(&appconfig.Config{EnrichmentQueueURL: appconfig.MemoryQueueURL}, nil, logging.Discard())
	require.NoError(t, err, "the in-process queue shares one registry")
	assert.IsType(t, &enrichment.MemoryExhaustion{}, reg)
}

func TestBuildExhaustionMemoryHonoursTTL(t *testing.T) {
	reg, err := BuildExhaustion(&appconfig.Config{EnrichmentGiveUpTTL: time.Millisecond}, nil, logging.Discard())
	require.NoError(t, err)
	require.NoError(t, reg.MarkExhausted(context.Background(), "CA1"))
	require.Eventually(t, func() bool {
		done, _ := reg.IsExhausted(context.Background(), "CA1")
		return !done
	}, time.Second, 5*time.Millisecond)
}

func TestBuildBackoffAndMatchParams(t *testing.T) {
	def := BuildBackoff(nil)
	if def.Attempts() != 4 || def.Initial != 10*time.Second {
		t.Fatalf("unexpected default backoff %+v", def)
	}

	cfg := &appconfig.Config{
		EnrichmentInitialDelay: time.Second,
		EnrichmentRetryDelays:  []time.Duration{2 * time.Second},
		MatchTimeWindow:        10 * time.Minute,
		MatchDurationWeight:    3,
	}
	b := BuildBackoff(cfg)
	if b.Initial != time.Second || b.Attempts() != 2 {
		t.Fatalf("unexpected backoff %+v", b)
	}

	p := BuildMatchParams(cfg)
	if p.TimeWindow != 10*time.Minute || p.DurationWeight != 3 {
		t.Fatalf("expected overrides applied, got %+v", p)
	}
	if p.CloseTimeWindow != 120*time.Second || p.DurationTolerance != 15*time.Second {
		t.Fatalf("expected defaults kept, got %+v", p)
	}

	zero := time.Duration(0)
	cfg.MatchDurationTolerance = &zero
	strict := BuildMatchParams(cfg)
	if strict.DurationTolerance != 0 {
		t.Fatalf("expected explicit zero tolerance kept, got %s", strict.DurationTolerance)
	}
	_, _, _, ok := matching.Evaluate(
		matching.Call{CreatedAt: time.Unix(0, 0), DurationSeconds: 60},
		matching.Candidate{StartTime: time.Unix(200, 0), DurationSeconds: 61, ProviderStatus: "done"},
		strict,
	)
	if ok {
		t.Fatalf("one second of drift must fail a zero tolerance")
	}
}

type fakeSES struct{}

func (fakeSES) SendEmail(context.Context, *sesv2.SendEmailInput, ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	return &sesv2.SendEmailOutput{}, nil
}

func TestBuildEmailSender(t *testing.T) {
	logger := logging.Discard()
	tests := []struct {
		name string
		cfg  *appconfig.Config
		ses  notify.SESAPI
		want string
	}{
		{"auto prefers sendgrid", &appconfig.Config{EmailProvider: "auto", SendGridAPIKey: "key", SendGridFromEmail: "a@b.com", SESFromEmail: "c@d.com"}, fakeSES{}, "sendgrid"},
		{"auto falls back to ses", &appconfig.Config{EmailProvider: "auto", SESFromEmail: "c@d.com"}, fakeSES{}, "ses"},
		{"ses without client", &appconfig.Config{EmailProvider: "ses", SESFromEmail: "c@d.com"}, nil, "stub"},
		{"sendgrid without key", &appconfig.Config{EmailProvider: "sendgrid"}, nil, "stub"},
		{"explicitly disabled", &appconfig.Config{EmailProvider: "none", SendGridAPIKey: "key", SendGridFromEmail: "a@b.com"}, nil, "stub"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			switch BuildEmailSender(tt.cfg, tt.ses, logger).(type) {
			case *notify.SendGridSender:
				got = "sendgrid"
			case *notify.SESSender:
				got = "ses"
			case *notify.StubEmailSender:
				got = "stub"
			}
			if got != tt.want {
				t.Fatalf("expected %s sender, got %s", tt.want, got)
			}
		})
	}
}

type capturingSES struct{ input *sesv2.SendEmailInput }

func (c *capturingSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	c.input = in
	return &sesv2.SendEmailOutput{}, nil
}

func TestBuildEmailSenderPassesSESConfigurationSet(t *testing.T) {
	client := &capturingSES{}
	cfg := &appconfig.Config{EmailProvider: "ses", SESFromEmail: "calls@example.com", SESConfigurationSet: "call-summaries"}

	sender := BuildEmailSender(cfg, client, logging.Discard())
	require.NoError(t, sender.Send(context.Background(), notify.EmailMessage{To: "owner@example.com", Subject: "s", Body: "b"}))

	require.NotNil(t, client.input)
	require.NotNil(t, client.input.ConfigurationSetName)
	assert.Equal(t, "call-summaries", *client.input.ConfigurationSetName)
}

func TestAWSClientsAccessorsStayUntypedNil(t *testing.T) {
	var clients AWSClients
	if clients.SESAPI() != nil {
		t.Fatalf("expected nil SES api")
	}
	if clients.SQSAPI() != nil {
		t.Fatalf("expected nil SQS api")
	}
}

func TestBuildPipelineRequiresClient(t *testing.T) {
	if _, err := BuildPipeline(PipelineDeps{Stores: BuildStores(nil, logging.Discard())}); err == nil {
		t.Fatalf("expected error without conversation client")
	}
}

func TestBuildPipeline(t *testing.T) {
	cfg := &appconfig.Config{ElevenLabsAPIKey: "xi-key", PublicBaseURL: "https://calls.example.com"}
	client, err := BuildConversationClient(cfg, logging.Discard())
	if err != nil {
		t.Fatalf("conversation client: %v", err)
	}
	pipeline, err := BuildPipeline(PipelineDeps{
		Config:        cfg,
		Stores:        BuildStores(nil, logging.Discard()),
		Conversations: client,
		Email:         notify.NewStubEmailSender(logging.Discard()),
		Logger:        logging.Discard(),
	})
	if err != nil {
		t.Fatalf("build pipeline: %v", err)
	}
	outcome, err := pipeline.RunAttempt(context.Background(), "CA-missing", 1)
	if err != nil {
		t.Fatalf("run attempt: %v", err)
	}
	if outcome != enrichment.OutcomeNotFound {
		t.Fatalf("expected not_found for unknown call, got %s", outcome)
	}
}

func TestBuildConversationClientRequiresKey(t *testing.T) {
	if _, err := BuildConversationClient(&appconfig.Config{}, nil); err == nil {
		t.Fatalf("expected error without API key")
	}
}

type fakeSQS struct{}

func (fakeSQS) SendMessage(context.Context, *sqs.SendMessageInput, ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	return &sqs.SendMessageOutput{}, nil
}

func (fakeSQS) ReceiveMessage(context.Context, *sqs.ReceiveMessageInput, ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	return &sqs.ReceiveMessageOutput{}, nil
}

func (fakeSQS) DeleteMessage(context.Context, *sqs.DeleteMessageInput, ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	return &sqs.DeleteMessageOutput{}, nil
}

type noopRunner struct{}

func (noopRunner) RunAttempt(context.Context, string, int) (enrichment.Outcome, error) {
	return enrichment.OutcomeApplied, nil
}

func TestBuildSchedulerSelectsMode(t *testing.T) {
	logger := logging.Discard()
	exhausted := enrichment.NewMemoryExhaustion()

	inProcess := BuildScheduler(&appconfig.Config{}, noopRunner{}, nil, exhausted, nil, logger)
	if _, ok := inProcess.(*enrichment.Scheduler); !ok {
		t.Fatalf("expected in-process scheduler, got %T", inProcess)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := inProcess.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	cfg := &appconfig.Config{EnrichmentQueueURL: "https://sqs.us-east-1.amazonaws.com/123/enrichment"}
	durable := BuildScheduler(cfg, noopRunner{}, fakeSQS{}, exhausted, nil, logger)
	if _, ok := durable.(queueScheduler); !ok {
		t.Fatalf("expected queue scheduler, got %T", durable)
	}
	if err := durable.Schedule(context.Background(), "CA1"); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := durable.Shutdown(ctx); err != nil {
		t.Fatalf("queue shutdown: %v", err)
	}
}

type countingRunner struct {
	mu      sync.Mutex
	callIDs []string
}

func (r *countingRunner) RunAttempt(ctx context.Context, callID string, attempt int) (enrichment.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callIDs = append(r.callIDs, callID)
	return enrichment.OutcomeApplied, nil
}

func (r *countingRunner) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.callIDs...)
}

func TestBuildSchedulerMemoryQueue(t *testing.T) {
	cfg := &appconfig.Config{
		EnrichmentQueueURL:     appconfig.MemoryQueueURL,
		EnrichmentInitialDelay: time.Millisecond,
		EnrichmentWorkerCount:  1,
	}
	runner := &countingRunner{}
	sched := BuildScheduler(cfg, runner, fakeSQS{}, enrichment.NewMemoryExhaustion(), nil, logging.Discard())
	if _, ok := sched.(memoryQueueScheduler); !ok {
		t.Fatalf("expected memory queue scheduler, got %T", sched)
	}

	require.NoError(t, sched.Schedule(context.Background(), "CA7"))
	require.Eventually(t, func() bool {
		return len(runner.seen()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"CA7"}, runner.seen())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sched.Shutdown(ctx))
}

func TestBuildQueueWorkerRequiresQueue(t *testing.T) {
	exhausted := enrichment.NewMemoryExhaustion()
	if _, err := BuildQueueWorker(&appconfig.Config{}, noopRunner{}, fakeSQS{}, exhausted, nil, logging.Discard()); err == nil {
		t.Fatalf("expected error without queue url")
	}
	cfg := &appconfig.Config{EnrichmentQueueURL: "https://sqs.us-east-1.amazonaws.com/123/enrichment", EnrichmentWorkerCount: 3}
	if _, err := BuildQueueWorker(cfg, noopRunner{}, nil, exhausted, nil, logging.Discard()); err == nil {
		t.Fatalf("expected error without sqs client")
	}
	worker, err := BuildQueueWorker(cfg, noopRunner{}, fakeSQS{}, exhausted, nil, logging.Discard())
	if err != nil || worker == nil {
		t.Fatalf("expected worker, got %v", err)
	}
}
