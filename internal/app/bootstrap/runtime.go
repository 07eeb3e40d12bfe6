package bootstrap

import (
	"context"
	"crypto/tls"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/callsync/internal/calls"
	appconfig "github.com/wolfman30/callsync/internal/config"
	"github.com/wolfman30/callsync/internal/enrichment"
	"github.com/wolfman30/callsync/internal/leads"
	"github.com/wolfman30/callsync/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// Stores groups the persistence the pipeline needs.
type Stores struct {
	Calls      calls.Store
	VoiceLines calls.VoiceLineStore
	Leads      leads.Repository
}

// BuildStores returns Postgres-backed stores, or in-memory ones when pool is
// nil. The memory variants lose everything on restart and are meant for
// local runs.
func BuildStores(pool calls.PgxPool, logger *logging.Logger, lines ...calls.VoiceLine) Stores {
	if logger == nil {
		logger = logging.Default()
	}
	if pool == nil {
		logger.Warn("DATABASE_URL not set; using in-memory stores", "voice_lines", len(lines))
		return Stores{
			Calls:      calls.NewMemoryStore(),
			VoiceLines: calls.NewStaticVoiceLines(lines...),
			Leads:      leads.NewInMemoryRepository(),
		}
	}
	return Stores{
		Calls:      calls.NewPostgresStore(pool),
		VoiceLines: calls.NewPostgresVoiceLines(pool),
		Leads:      leads.NewPostgresRepository(pool),
	}
}

// ErrDurableRetriesNeedRedis is returned when SQS retries are configured
// without a reachable Redis. The API and the worker are separate processes
// and must see the same give-up markers.
var ErrDurableRetriesNeedRedis = errors.New("bootstrap: ENRICHMENT_QUEUE_URL requires a reachable REDIS_ADDR for give-up markers")

// BuildExhaustion picks the give-up registry: Redis when available, otherwise
// process memory with the same TTL. Durable retries refuse the memory fallback.
func BuildExhaustion(cfg *appconfig.Config, redisClient *redis.Client, logger *logging.Logger) (enrichment.Exhaustion, error) {
	if logger == nil {
		logger = logging.Default()
	}
	ttl := enrichmentGiveUpTTL(cfg)
	if redisClient == nil {
		if cfg.DurableRetries() {
			return nil, ErrDurableRetriesNeedRedis
		}
		return enrichment.NewMemoryExhaustion(enrichment.WithMemoryTTL(ttl)), nil
	}
	logger.Info("enrichment give-up markers stored in redis", "ttl", ttl.String())
	return enrichment.NewRedisExhaustion(redisClient, ttl), nil
}
