package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr          string
	DatabaseURL   string
	SLA           time.Duration
	RiskTablePath string

	AuthSecret      string
	AllowDebugToken bool
	DebugToken      string

	SweepInterval time.Duration

	KafkaBrokers []string
	KafkaTopic   string
	S3Bucket     string
	S3Prefix     string
}

const (
	defaultAddr          = ":8072"
	defaultSLA           = 7 * 24 * time.Hour
	defaultSweepInterval = time.Minute
	defaultKafkaTopic    = "governance.audit"
)

func Load() (Config, error) {
	cfg := Config{
		Addr:            getEnv("GOVERNANCE_ADDR", defaultAddr),
		DatabaseURL:     firstNonEmpty(os.Getenv("GOVERNANCE_DATABASE_URL"), os.Getenv("DATABASE_URL")),
		SLA:             getDuration("GOVERNANCE_SLA", defaultSLA),
		RiskTablePath:   os.Getenv("GOVERNANCE_RISK_TABLE"),
		AuthSecret:      os.Getenv("GOVERNANCE_AUTH_SECRET"),
		AllowDebugToken: getBool("GOVERNANCE_ALLOW_DEBUG_TOKEN", false),
		DebugToken:      os.Getenv("GOVERNANCE_DEBUG_TOKEN"),
		SweepInterval:   getDuration("GOVERNANCE_SWEEP_INTERVAL", defaultSweepInterval),
		KafkaBrokers:    splitList(os.Getenv("GOVERNANCE_KAFKA_BROKERS")),
		KafkaTopic:      getEnv("GOVERNANCE_KAFKA_TOPIC", defaultKafkaTopic),
		S3Bucket:        os.Getenv("GOVERNANCE_AUDIT_S3_BUCKET"),
		S3Prefix:        os.Getenv("GOVERNANCE_AUDIT_S3_PREFIX"),
	}

	nodeEnv := os.Getenv("NODE_ENV")
	if nodeEnv == "production" {
		if cfg.AllowDebugToken {
			return Config{}, fmt.Errorf("GOVERNANCE_ALLOW_DEBUG_TOKEN is forbidden in production")
		}
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL or GOVERNANCE_DATABASE_URL required in production")
		}
	}
	if cfg.AuthSecret == "" && !cfg.AllowDebugToken {
		return Config{}, fmt.Errorf("GOVERNANCE_AUTH_SECRET required when debug token auth is disabled")
	}
	if cfg.SLA <= 0 {
		return Config{}, fmt.Errorf("GOVERNANCE_SLA must be positive")
	}
	// Kafka/S3 streaming is all-or-nothing: both sides of the pipeline or neither.
	if (len(cfg.KafkaBrokers) == 0) != (cfg.S3Bucket == "") {
		return Config{}, fmt.Errorf("GOVERNANCE_KAFKA_BROKERS and GOVERNANCE_AUDIT_S3_BUCKET must be set together")
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("audit streaming requires a database")
	}
	return cfg, nil
}

// StreamingEnabled reports whether the audit Kafka/S3 pipeline is configured.
func (c Config) StreamingEnabled() bool {
	return len(c.KafkaBrokers) > 0 && c.S3Bucket != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
