package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full process configuration, read once at startup.
type Config struct {
	Server   Server
	Database Database
	Redis    RedisConfig
	Kafka    Kafka
	Matrix   Matrix
	LogLevel string
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	RequestTimeout  time.Duration
	ServiceTokenKey string
	TokenIssuer     string
	TokenAudience   string
	// WriteRateLimit is the number of writes one caller may make per WriteRateWindow.
	WriteRateLimit  int
	WriteRateWindow time.Duration
}

// Database configures the PostgreSQL pool. An empty URL selects in-memory stores.
type Database struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	ConnMaxLife  time.Duration
}

// RedisConfig configures the Redis client. An empty URL disables Redis.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Kafka configures the placement event producer. No brokers selects the in-memory publisher.
type Kafka struct {
	Brokers []string
	Topic   string
}

// Matrix holds placement policy.
type Matrix struct {
	// Width is the default branching factor B for tiers without an explicit capacity.
	Width           int
	TiersFile       string
	OrphanPolicy    string
	MaxAttempts     int
	MaxDownline     int
	CountCacheTTL   time.Duration
	SeedRootOwnerID string
}

// OrphanPolicy values.
const (
	OrphanPolicyRoot   = "root"
	OrphanPolicyReject = "reject"
)

// FromEnv builds the configuration from environment variables so main stays lean.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr:            getString("MATRIX_ADDR", ":8080"),
			RequestTimeout:  getDuration("MATRIX_REQUEST_TIMEOUT", 15*time.Second),
			ServiceTokenKey: getString("MATRIX_SERVICE_TOKEN_KEY", "dev-service-key-change-in-production"),
			TokenIssuer:     getString("MATRIX_TOKEN_ISSUER", "identity"),
			TokenAudience:   getString("MATRIX_TOKEN_AUDIENCE", "matrix"),
		},
		Database: Database{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: getInt("DATABASE_MAX_OPEN_CONNS", 20),
			MaxIdleConns: getInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLife:  getDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: Kafka{
			Brokers: splitList(os.Getenv("KAFKA_BROKERS")),
			Topic:   getString("KAFKA_PLACEMENT_TOPIC", "matrix.position-placed"),
		},
		Matrix: Matrix{
			Width:           getInt("MATRIX_WIDTH", 2),
			TiersFile:       os.Getenv("MATRIX_TIERS_FILE"),
			OrphanPolicy:    strings.ToLower(getString("MATRIX_ORPHAN_POLICY", OrphanPolicyRoot)),
			MaxAttempts:     getInt("MATRIX_MAX_PLACEMENT_ATTEMPTS", 8),
			MaxDownline:     getInt("MATRIX_MAX_DOWNLINE_DEPTH", 10),
			CountCacheTTL:   getDuration("MATRIX_COUNT_CACHE_TTL", 10*time.Minute),
			SeedRootOwnerID: os.Getenv("MATRIX_SEED_ROOT_OWNER_ID"),
		},
		LogLevel: getString("LOG_LEVEL", "info"),
	}
}

func getString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key)))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
