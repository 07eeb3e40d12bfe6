package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string
	DatabaseURL   string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Twilio status callbacks
	TwilioAuthToken   string
	WebhookRateLimit  float64
	WebhookRateBurst  int
	WebhookAckTimeout time.Duration

	// ElevenLabs conversation analytics
	ElevenLabsAPIKey  string
	ElevenLabsBaseURL string
	ElevenLabsTimeout time.Duration

	// Enrichment retry policy
	EnrichmentInitialDelay   time.Duration
	EnrichmentRetryDelays    []time.Duration
	EnrichmentAttemptTimeout time.Duration
	EnrichmentGiveUpTTL      time.Duration
	EnrichmentQueueURL       string
	EnrichmentWorkerCount    int

	// Matching heuristic
	MatchTimeWindow        time.Duration
	MatchCloseTimeWindow   time.Duration
	MatchDurationTolerance *time.Duration // nil keeps the matcher default
	MatchDurationWeight    float64
	RecordingProxyPath     string
	RecordingLinkTTL       time.Duration

	// Lead, note and notification work after a successful write
	FollowUpTimeout time.Duration

	// Notifications
	EmailProvider       string
	SendGridAPIKey      string
	SendGridFromEmail   string
	SendGridFromName    string
	SESFromEmail        string
	SESFromName         string
	SESConfigurationSet string

	// AWS
	AWSRegion            string
	AWSAccessKeyID       string
	AWSSecretAccessKey   string
	AWSEndpointOverride  string
	PayloadArchiveBucket string

	AdminJWTSecret string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", ""), "/"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		TwilioAuthToken:   getEnv("TWILIO_AUTH_TOKEN", ""),
		WebhookRateLimit:  getEnvAsFloat("WEBHOOK_RATE_LIMIT", 50),
		WebhookRateBurst:  getEnvAsInt("WEBHOOK_RATE_BURST", 100),
		WebhookAckTimeout: getEnvAsDuration("WEBHOOK_ACK_TIMEOUT", 5*time.Second),

		ElevenLabsAPIKey:  getEnv("ELEVENLABS_API_KEY", ""),
		ElevenLabsBaseURL: getEnv("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io/v1"),
		ElevenLabsTimeout: getEnvAsDuration("ELEVENLABS_TIMEOUT", 10*time.Second),

		EnrichmentInitialDelay:   getEnvAsDuration("ENRICHMENT_INITIAL_DELAY", 10*time.Second),
		EnrichmentRetryDelays:    getEnvAsDurations("ENRICHMENT_RETRY_DELAYS", []time.Duration{15 * time.Second, 30 * time.Second, 60 * time.Second}),
		EnrichmentAttemptTimeout: getEnvAsDuration("ENRICHMENT_ATTEMPT_TIMEOUT", 15*time.Second),
		EnrichmentGiveUpTTL:      getEnvAsDuration("ENRICHMENT_GIVEUP_TTL", 7*24*time.Hour),
		EnrichmentQueueURL:       getEnv("ENRICHMENT_QUEUE_URL", ""),
		EnrichmentWorkerCount:    getEnvAsInt("ENRICHMENT_WORKER_COUNT", 2),

		MatchTimeWindow:        getEnvAsDuration("MATCH_TIME_WINDOW", 300*time.Second),
		MatchCloseTimeWindow:   getEnvAsDuration("MATCH_CLOSE_TIME_WINDOW", 120*time.Second),
		MatchDurationTolerance: getEnvAsOptionalDuration("MATCH_DURATION_TOLERANCE"),
		MatchDurationWeight:    getEnvAsFloat("MATCH_DURATION_WEIGHT", 2),
		RecordingProxyPath:     getEnv("RECORDING_PROXY_PATH", "/api/calls/audio"),
		RecordingLinkTTL:       getEnvAsDuration("RECORDING_LINK_TTL", 72*time.Hour),

		FollowUpTimeout: getEnvAsDuration("FOLLOWUP_TIMEOUT", 30*time.Second),

		EmailProvider:       strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "auto"))),
		SendGridAPIKey:      getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail:   getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:    getEnv("SENDGRID_FROM_NAME", "Voice AI"),
		SESFromEmail:        getEnv("SES_FROM_EMAIL", ""),
		SESFromName:         getEnv("SES_FROM_NAME", "Voice AI"),
		SESConfigurationSet: getEnv("SES_CONFIGURATION_SET", ""),

		AWSRegion:            getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:       getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride:  getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		PayloadArchiveBucket: getEnv("PAYLOAD_ARCHIVE_BUCKET", ""),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
	}
}

// MemoryQueueURL runs the queue scheduler and worker inside the API process
// over a channel, for local runs.
const MemoryQueueURL = "memory://"

// DurableRetries reports whether enrichment attempts go through the SQS queue
// instead of in-process timers.
func (c *Config) DurableRetries() bool {
	if c == nil {
		return false
	}
	url := strings.TrimSpace(c.EnrichmentQueueURL)
	return url != "" && url != MemoryQueueURL
}

// MemoryQueue reports whether ENRICHMENT_QUEUE_URL selects the in-process queue.
func (c *Config) MemoryQueue() bool {
	return c != nil && strings.TrimSpace(c.EnrichmentQueueURL) == MemoryQueueURL
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsOptionalDuration returns nil when key is unset or unparsable, so
// an explicit zero can be told apart from a missing value.
func getEnvAsOptionalDuration(key string) *time.Duration {
	valueStr := strings.TrimSpace(getEnv(key, ""))
	if valueStr == "" {
		return nil
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil || value < 0 {
		return nil
	}
	return &value
}

// getEnvAsDurations parses a comma-separated list such as "15s,30s,60s".
// Any unparsable entry makes the whole value fall back to the default.
func getEnvAsDurations(key string, defaultValue []time.Duration) []time.Duration {
	valueStr := strings.TrimSpace(getEnv(key, ""))
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	out := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		d, err := time.ParseDuration(strings.TrimSpace(p))
		if err != nil || d < 0 {
			return defaultValue
		}
		out = append(out, d)
	}
	return out
}
