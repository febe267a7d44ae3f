package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	DatabaseURL       string
	EventStore        string // memory|postgres|dynamodb
	CrisisEventsTable string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	AdminJWTSecret     string
	CORSAllowedOrigins []string

	AWSRegion             string
	AWSAccessKeyID        string
	AWSSecretAccessKey    string
	AWSEndpointOverride   string
	CrisisEventsQueueURL  string
	FailsafeAlertQueueURL string
	CrisisArchiveBucket   string

	EmailProvider  string // sendgrid|ses
	SendGridAPIKey string
	AlertFromEmail string
	AlertFromName  string
	OnCallEmails   []string

	IndicatorCatalogPath    string
	ActionThreshold         string
	HistoryLookupTimeout    time.Duration
	PersistRetryMaxAttempts int
	PersistRetryBaseDelay   time.Duration
	OutboxPollInterval      time.Duration
	OutboxInline            bool
	AssessmentRateLimit     float64
	AssessmentRateBurst     int

	SLAReviewWithin  time.Duration
	SLAResolveWithin time.Duration
	SLACheckInterval time.Duration
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseURL:       getEnv("DATABASE_URL", ""),
		EventStore:        strings.ToLower(strings.TrimSpace(getEnv("EVENT_STORE", "memory"))),
		CrisisEventsTable: getEnv("CRISIS_EVENTS_TABLE", "crisis_events"),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),

		AWSRegion:             getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:        getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:    getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride:   getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		CrisisEventsQueueURL:  getEnv("CRISIS_EVENTS_QUEUE_URL", ""),
		FailsafeAlertQueueURL: getEnv("FAILSAFE_ALERT_QUEUE_URL", ""),
		CrisisArchiveBucket:   getEnv("CRISIS_ARCHIVE_BUCKET", ""),

		// On-call e-mail
		EmailProvider:  strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "sendgrid"))),
		SendGridAPIKey: getEnv("SENDGRID_API_KEY", ""),
		AlertFromEmail: getEnv("ALERT_FROM_EMAIL", ""),
		AlertFromName:  getEnv("ALERT_FROM_NAME", "Wellbeing Safety Desk"),
		OnCallEmails:   getEnvAsList("ONCALL_EMAIL"),

		// Detection and workflow
		IndicatorCatalogPath:    getEnv("INDICATOR_CATALOG_PATH", ""),
		ActionThreshold:         strings.ToUpper(strings.TrimSpace(getEnv("ACTION_THRESHOLD", "LOW"))),
		HistoryLookupTimeout:    getEnvAsDuration("HISTORY_LOOKUP_TIMEOUT", 250*time.Millisecond),
		PersistRetryMaxAttempts: getEnvAsInt("PERSIST_RETRY_MAX_ATTEMPTS", 5),
		PersistRetryBaseDelay:   getEnvAsDuration("PERSIST_RETRY_BASE_DELAY", 100*time.Millisecond),
		OutboxPollInterval:      getEnvAsDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		OutboxInline:            getEnvAsBool("OUTBOX_INLINE", true),
		AssessmentRateLimit:     getEnvAsFloat("ASSESSMENT_RATE_LIMIT", 5),
		AssessmentRateBurst:     getEnvAsInt("ASSESSMENT_RATE_BURST", 20),

		// On-call deadlines; a zero interval disables the tracker
		SLAReviewWithin:  getEnvAsDuration("SLA_REVIEW_WITHIN", 15*time.Minute),
		SLAResolveWithin: getEnvAsDuration("SLA_RESOLVE_WITHIN", 24*time.Hour),
		SLACheckInterval: getEnvAsDuration("SLA_CHECK_INTERVAL", time.Minute),
	}
}

// IsProduction reports whether ENV names a production deployment.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Env)
	return env == "production" || env == "prod"
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

// getEnvAsList splits a comma-separated variable, dropping blanks.
func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
