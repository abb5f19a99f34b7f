package config

import (
	"time"

	"github.com/joho/godotenv"
)

// Config holds the runtime configuration for the pool service and its login client.
// It supports environment-based initialization, with sensible defaults.
type Config struct {
	ServiceName string // e.g. "credpool"
	Env         string // "dev", "uat", "prod"
	LogLevel    string // "debug", "info", etc.
	Port        int

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	HTTPBodyLimit    int
	TrustedProxies   []string // enables X-Forwarded-For when set

	RedisAddr   string
	RedisDB     int
	RedisPass   string
	RedisPrefix string

	DatabaseURL         string // audit ledger; empty disables Postgres
	PGMaxConns          int
	PGMinConns          int
	PGMaxConnLifetime   time.Duration
	PGMaxConnIdleTime   time.Duration
	PGHealthCheckPeriod time.Duration

	NATSURL      string // empty disables JetStream fan-out
	NATSStream   string
	EventSubject string // prefix, event type is appended
	AMQPURL      string // empty disables RabbitMQ fan-out
	AMQPExchange string

	AWSRegion   string
	SecretName  string // optional Secrets Manager bundle overriding DSNs and JWT secret
	CacheTTL    time.Duration
	CleanupFreq time.Duration
	JWTSecret   string
	JWTIssuer   string

	DefaultCapacity int
	DefaultDomain   string
	SweepEnabled    bool
	SweepInterval   time.Duration

	RateRequestsPerSecond int
	RateBurst             int

	// Login client (cmd/credpool-login)
	PoolURL           string
	PoolToken         string
	AgentURL          string
	MaxAttempts       int
	RetryBackoff      time.Duration
	ActivationTimeout time.Duration
}

// Load loads configuration from environment variables and .env file if present.
func Load() *Config {
	// load .env silently (no error if missing)
	_ = godotenv.Load()

	return &Config{
		ServiceName: GetEnv("SERVICE_NAME", "credpool"),
		Env:         GetEnv("ENV", "dev"),
		LogLevel:    GetEnv("LOG_LEVEL", "info"),
		Port:        GetEnvInt("CREDPOOL_PORT", 9030),

		HTTPReadTimeout:  GetEnvDuration("HTTP_READ_TIMEOUT", 10*time.Second),
		HTTPWriteTimeout: GetEnvDuration("HTTP_WRITE_TIMEOUT", 10*time.Second),
		HTTPIdleTimeout:  GetEnvDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
		HTTPBodyLimit:    GetEnvInt("HTTP_BODY_LIMIT", 1*1024*1024),
		TrustedProxies:   GetEnvList("TRUSTED_PROXIES", nil),

		RedisAddr:   GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:     GetEnvInt("REDIS_DB", 0),
		RedisPass:   GetEnv("REDIS_PASS", ""),
		RedisPrefix: GetEnv("REDIS_PREFIX", "credpool"),

		DatabaseURL:         GetEnv("DATABASE_URL", ""),
		PGMaxConns:          GetEnvInt("PG_MAX_CONNS", 10),
		PGMinConns:          GetEnvInt("PG_MIN_CONNS", 2),
		PGMaxConnLifetime:   GetEnvDuration("PG_MAX_CONN_LIFETIME", 30*time.Minute),
		PGMaxConnIdleTime:   GetEnvDuration("PG_MAX_CONN_IDLE_TIME", 5*time.Minute),
		PGHealthCheckPeriod: GetEnvDuration("PG_HEALTH_CHECK_PERIOD", 1*time.Minute),

		NATSURL:      GetEnv("NATS_URL", ""),
		NATSStream:   GetEnv("NATS_STREAM", "CREDPOOL_EVENTS"),
		EventSubject: GetEnv("EVENT_SUBJECT", "evt.credpool"),
		AMQPURL:      GetEnv("AMQP_URL", ""),
		AMQPExchange: GetEnv("AMQP_EXCHANGE", "credpool.events"),

		AWSRegion:   GetEnv("AWS_REGION", "us-east-2"),
		SecretName:  GetEnv("SECRET_NAME", ""),
		CacheTTL:    GetEnvDuration("CACHE_TTL", 1*time.Hour),
		CleanupFreq: GetEnvDuration("CACHE_CLEANUP_FREQ", 10*time.Minute),
		JWTSecret:   GetEnv("JWT_SECRET", ""),
		JWTIssuer:   GetEnv("JWT_ISSUER", ""),

		DefaultCapacity: GetEnvInt("DEFAULT_CAPACITY", 4),
		DefaultDomain:   GetEnv("DEFAULT_DOMAIN", ""),
		SweepEnabled:    GetEnvBool("SWEEP_ENABLED", true),
		SweepInterval:   GetEnvDuration("SWEEP_INTERVAL", 5*time.Minute),

		RateRequestsPerSecond: GetEnvInt("RATE_RPS", 5),
		RateBurst:             GetEnvInt("RATE_BURST", 10),

		PoolURL:           GetEnv("POOL_URL", "http://localhost:9030"),
		PoolToken:         GetEnv("POOL_TOKEN", ""),
		AgentURL:          GetEnv("AGENT_URL", "ws://localhost:9040/agent"),
		MaxAttempts:       GetEnvInt("MAX_ATTEMPTS", 5),
		RetryBackoff:      GetEnvDuration("RETRY_BACKOFF", 2*time.Second),
		ActivationTimeout: GetEnvDuration("ACTIVATION_TIMEOUT", 30*time.Second),
	}
}
