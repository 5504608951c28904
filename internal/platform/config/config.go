// Package config builds runtime configuration from environment variables so
// main stays lean. Every knob has a development-safe default; production
// deployments override through the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the root configuration for the governance core.
type Config struct {
	Server         Server
	Postgres       Postgres
	Redis          Redis
	Kafka          Kafka
	DecisionPoint  DecisionPoint
	Timestamping   Timestamping
	Redaction      Redaction
	Attestation    Attestation
	EvaluationCache EvaluationCache
	Audit          Audit
}

// Server captures HTTP server level configuration. An empty OperatorJWTKey
// disables operator authentication; actor identity then comes from request
// bodies, which is acceptable only for local development.
type Server struct {
	Addr            string
	OperatorJWTKey  string
	ShutdownTimeout time.Duration
}

// Postgres configures the relational store for attestations, policies, and
// the audit chain. An empty DSN leaves the memory stores in place.
type Postgres struct {
	DSN             string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// Redis configures the token vault and evaluation cache backends. An empty
// URL leaves the memory implementations in place.
type Redis struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Kafka configures the audit stream publisher. No brokers disables streaming;
// the hash chain remains the source of truth either way.
type Kafka struct {
	Brokers    []string
	AuditTopic string
	Partitions int32
}

// DecisionPoint configures the external policy decision point. Timeouts and
// retries apply only here and to the timestamp authority; an exhausted retry
// budget surfaces as unavailable, never as a deny.
type DecisionPoint struct {
	URL             string
	Timeout         time.Duration
	MaxRetries      int
	BreakerCooldown time.Duration
}

// Timestamping configures the optional external timestamp authority.
type Timestamping struct {
	URL        string
	Timeout    time.Duration
	MaxRetries int
}

// Redaction configures the transformation engine. The master key seeds the
// vault, handle-signing, and tokenization keys through HKDF purposes.
type Redaction struct {
	MasterKey        string
	HandleTTL        time.Duration
	BatchParallelism int
}

// Attestation configures the signing service. The seal secret derives the
// AEAD key that protects stored private keys; GateEnvironment selects which
// policy deployment environment gates signing (empty evaluates policy heads).
type Attestation struct {
	SealSecret      string
	VerifyThreshold float64
	GateEnvironment string
}

// EvaluationCache bounds the policy evaluation cache.
type EvaluationCache struct {
	TTL     time.Duration
	MaxSize int
}

// Audit configures the hash-chain service: the HMAC secret attached to
// export checksums, the retry budget for contended appends, and the sample
// rate applied to operations-category stream publishing.
type Audit struct {
	ExportSecret  string
	AppendRetries int
	OpsSampleRate float64
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr:            envString("TUTELA_ADDR", ":8080"),
			OperatorJWTKey:  os.Getenv("TUTELA_OPERATOR_JWT_KEY"),
			ShutdownTimeout: envDuration("TUTELA_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Postgres: Postgres{
			DSN:             os.Getenv("TUTELA_POSTGRES_DSN"),
			MaxOpenConns:    envInt("TUTELA_POSTGRES_MAX_OPEN_CONNS", 10),
			ConnMaxLifetime: envDuration("TUTELA_POSTGRES_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: Redis{
			URL:          os.Getenv("TUTELA_REDIS_URL"),
			PoolSize:     envInt("TUTELA_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("TUTELA_REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("TUTELA_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("TUTELA_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("TUTELA_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: Kafka{
			Brokers:    envList("TUTELA_KAFKA_BROKERS"),
			AuditTopic: envString("TUTELA_KAFKA_AUDIT_TOPIC", "tutela.audit.entries"),
			Partitions: int32(envInt("TUTELA_KAFKA_AUDIT_PARTITIONS", 3)),
		},
		DecisionPoint: DecisionPoint{
			URL:             os.Getenv("TUTELA_DECISION_POINT_URL"),
			Timeout:         envDuration("TUTELA_DECISION_POINT_TIMEOUT", 3*time.Second),
			MaxRetries:      envInt("TUTELA_DECISION_POINT_RETRIES", 2),
			BreakerCooldown: envDuration("TUTELA_DECISION_POINT_BREAKER_COOLDOWN", time.Minute),
		},
		Timestamping: Timestamping{
			URL:        os.Getenv("TUTELA_TIMESTAMP_AUTHORITY_URL"),
			Timeout:    envDuration("TUTELA_TIMESTAMP_AUTHORITY_TIMEOUT", 3*time.Second),
			MaxRetries: envInt("TUTELA_TIMESTAMP_AUTHORITY_RETRIES", 2),
		},
		Redaction: Redaction{
			MasterKey:        envString("TUTELA_REDACTION_MASTER_KEY", "dev-master-key-change-in-production"),
			HandleTTL:        envDuration("TUTELA_HANDLE_TTL", 24*time.Hour),
			BatchParallelism: envInt("TUTELA_BATCH_PARALLELISM", 8),
		},
		Attestation: Attestation{
			SealSecret:      envString("TUTELA_ATTESTATION_SEAL_SECRET", "dev-seal-secret-change-in-production"),
			VerifyThreshold: envFloat("TUTELA_ATTESTATION_VERIFY_THRESHOLD", 0.8),
			GateEnvironment: os.Getenv("TUTELA_ATTESTATION_GATE_ENVIRONMENT"),
		},
		EvaluationCache: EvaluationCache{
			TTL:     envDuration("TUTELA_EVALUATION_CACHE_TTL", 5*time.Minute),
			MaxSize: envInt("TUTELA_EVALUATION_CACHE_MAX_SIZE", 1024),
		},
		Audit: Audit{
			ExportSecret:  envString("TUTELA_AUDIT_EXPORT_SECRET", "dev-export-secret-change-in-production"),
			AppendRetries: envInt("TUTELA_AUDIT_APPEND_RETRIES", 8),
			OpsSampleRate: envFloat("TUTELA_AUDIT_OPS_SAMPLE_RATE", 1.0),
		},
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
