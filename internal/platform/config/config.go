package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"vouch/internal/enc"
	"vouch/pkg/domerr"
)

// Server captures process-level configuration.
type Server struct {
	Addr               string
	DatabaseURL        string
	Redis              RedisConfig
	KafkaBrokers       []string
	AuditTopic         string
	DerivationPoolSize int64
	ConfirmationTTL    time.Duration
	ResolverCacheTTL   time.Duration
}

// RedisConfig carries connection settings for the optional resolver cache.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	cfg := Server{
		Addr:               envOr("VOUCH_ADDR", ":8080"),
		DatabaseURL:        os.Getenv("VOUCH_DATABASE_URL"),
		AuditTopic:         envOr("VOUCH_AUDIT_TOPIC", "vouch.audit"),
		DerivationPoolSize: envInt64("VOUCH_DERIVATION_POOL", 4),
		ConfirmationTTL:    envDuration("VOUCH_CONFIRMATION_TTL", 24*time.Hour),
		ResolverCacheTTL:   envDuration("VOUCH_RESOLVER_CACHE_TTL", 5*time.Minute),
		Redis: RedisConfig{
			URL:          os.Getenv("VOUCH_REDIS_URL"),
			PoolSize:     int(envInt64("VOUCH_REDIS_POOL_SIZE", 10)),
			MinIdleConns: int(envInt64("VOUCH_REDIS_MIN_IDLE", 2)),
			DialTimeout:  envDuration("VOUCH_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("VOUCH_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("VOUCH_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
	}
	if brokers := os.Getenv("VOUCH_KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}
	return cfg
}

// Secrets holds key material every component shares: the keyed-hash salt and
// the seed of the server's issuer keypair.
type Secrets struct {
	HashSalt   []byte
	ServerSeed []byte
}

var (
	secretsOnce   sync.Once
	cachedSecrets Secrets
	secretsErr    error
)

// LoadSecrets reads secrets from the environment exactly once and caches
// them for the process lifetime. Both values are base64url strings.
func LoadSecrets() (Secrets, error) {
	secretsOnce.Do(func() {
		cachedSecrets, secretsErr = readSecrets()
	})
	return cachedSecrets, secretsErr
}

func readSecrets() (Secrets, error) {
	salt, err := requiredSecret("VOUCH_HASH_SALT")
	if err != nil {
		return Secrets{}, err
	}
	seed, err := requiredSecret("VOUCH_SERVER_SEED")
	if err != nil {
		return Secrets{}, err
	}
	return Secrets{HashSalt: salt, ServerSeed: seed}, nil
}

func requiredSecret(name string) ([]byte, error) {
	value := os.Getenv(name)
	if value == "" {
		return nil, domerr.Newf(domerr.CodeInvalidInput, "%s is not set", name)
	}
	raw, err := enc.Read(value)
	if err != nil {
		return nil, domerr.Wrap(domerr.CodeInvalidInput, name+" is not valid base64url", err)
	}
	return raw, nil
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func envInt64(name string, fallback int64) int64 {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(name string, fallback time.Duration) time.Duration {
	if v := os.Getenv(name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
