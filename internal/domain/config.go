package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines infrastructure backing
	Tier Tier `json:"tier"`

	// Scoring pipeline settings
	Scoring     ScoringConfig     `json:"scoring"`
	Rules       RulesConfig       `json:"rules"`
	Geo         GeoConfig         `json:"geo"`
	ML          MLConfig          `json:"ml"`
	Velocity    VelocityConfig    `json:"velocity"`
	Idempotency IdempotencyConfig `json:"idempotency"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// ScoringConfig holds the score-fusion weights. Weights should sum to 1.0.
type ScoringConfig struct {
	MLWeight   float64 `json:"mlWeight"`
	RuleWeight float64 `json:"ruleWeight"`
}

// RulesConfig holds the builtin rule thresholds.
type RulesConfig struct {
	// Amount thresholds; a transaction above VeryLargeAmount fires both
	// amount rules.
	LargeAmount     float64 `json:"largeAmount"`
	VeryLargeAmount float64 `json:"veryLargeAmount"`

	// Velocity thresholds (exclusive: count must exceed them to fire)
	HighVelocity5m    int64 `json:"highVelocity5m"`
	ExtremeVelocity1h int64 `json:"extremeVelocity1h"`
}

// GeoConfig holds geographic anomaly settings.
type GeoConfig struct {
	// MaxSpeedKmh is the physical-plausibility threshold; required travel
	// speed above it flags impossible travel.
	MaxSpeedKmh float64 `json:"maxSpeedKmh"`
}

// MLConfig holds prediction service settings.
type MLConfig struct {
	Endpoint            string        `json:"endpoint"`
	ModelID             string        `json:"modelId"`
	Timeout             time.Duration `json:"timeout"`
	BreakerMaxFailures  int           `json:"breakerMaxFailures"`
	BreakerResetTimeout time.Duration `json:"breakerResetTimeout"`
}

// VelocityConfig holds velocity store settings.
type VelocityConfig struct {
	// Store is "memory" or "redis"
	Store string `json:"store"`

	// Redis settings (pro tier)
	RedisAddr     string `json:"redisAddr"`
	RedisPassword string `json:"-"`
	RedisDB       int    `json:"redisDB"`

	// SnapshotTTL is the read-through cache TTL for metric snapshots.
	SnapshotTTL time.Duration `json:"snapshotTTL"`
}

// IdempotencyConfig holds idempotency guard settings.
type IdempotencyConfig struct {
	// Store is "memory" or "redis"
	Store string `json:"store"`

	// Retention is how long processed markers are kept.
	Retention time.Duration `json:"retention"`

	// Redis settings (pro tier)
	RedisAddr     string `json:"redisAddr"`
	RedisPassword string `json:"-"`
	RedisDB       int    `json:"redisDB"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + in-memory stores + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Scoring: ScoringConfig{
			MLWeight:   0.6,
			RuleWeight: 0.4,
		},
		Rules: RulesConfig{
			LargeAmount:       10000,
			VeryLargeAmount:   50000,
			HighVelocity5m:    6,
			ExtremeVelocity1h: 20,
		},
		Geo: GeoConfig{
			MaxSpeedKmh: 965, // sustained commercial-flight speed
		},
		ML: MLConfig{
			ModelID:             "fraud-v1",
			Timeout:             500 * time.Millisecond,
			BreakerMaxFailures:  5,
			BreakerResetTimeout: 30 * time.Second,
		},
		Velocity: VelocityConfig{
			Store:       "memory",
			SnapshotTTL: 2 * time.Second,
		},
		Idempotency: IdempotencyConfig{
			Store:     "memory",
			Retention: 24 * time.Hour,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Velocity.Store = "redis"
	cfg.Velocity.RedisAddr = "localhost:6379"
	cfg.Idempotency.Store = "redis"
	cfg.Idempotency.RedisAddr = "localhost:6379"
	cfg.Cache = CacheConfig{
		Type:      "redis",
		RedisAddr: "localhost:6379",
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
