package infra

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/crownarena/server/internal/battle"
	"github.com/crownarena/server/internal/catalog"
	"github.com/crownarena/server/internal/matchmaking"
	"github.com/crownarena/server/internal/world"
)

const insecureSecret = "change-me-in-production"

// Config holds all application configuration parsed from environment variables.
type Config struct {
	// Database
	DatabaseURL    string `env:"DATABASE_URL"`
	PGHost         string `env:"PGHOST" envDefault:"localhost"`
	PGPort         int    `env:"PGPORT" envDefault:"5432"`
	PGUser         string `env:"PGUSER" envDefault:"arena"`
	PGPassword     string `env:"PGPASSWORD" envDefault:"arena"`
	PGDatabase     string `env:"PGDATABASE" envDefault:"arena"`
	PGMaxConns     int32  `env:"PG_MAX_CONNS" envDefault:"10"`
	DatabaseEnable bool   `env:"DATABASE_ENABLED" envDefault:"true"`
	MigrateOnStart bool   `env:"MIGRATE_ON_START" envDefault:"true"`

	// JWT
	JWTSecret string        `env:"JWT_SECRET" envDefault:"change-me-in-production"`
	JWTIssuer string        `env:"JWT_ISSUER" envDefault:"crownarena"`
	JWTExpiry time.Duration `env:"JWT_EXPIRY" envDefault:"24h"`

	// Server
	Port            int           `env:"PORT" envDefault:"3200"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`

	// Kafka
	KafkaBrokers string        `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	KafkaEnabled bool          `env:"KAFKA_ENABLED" envDefault:"false"`
	BotTopic     string        `env:"KAFKA_BOT_TOPIC" envDefault:"arena.matchmaking.bot_suggested"`
	TopicPrefix  string        `env:"KAFKA_TOPIC_PREFIX" envDefault:"arena"`
	OutboxBatch  int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`
	OutboxEvery  time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"500ms"`

	// CORS
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*"`

	// Dev
	AllowInsecureDefaults bool `env:"ALLOW_INSECURE_DEFAULTS" envDefault:"false"`

	// Transport
	MessagesPerSecond int           `env:"WS_MESSAGES_PER_SECOND" envDefault:"20"`
	ConnectAttempts   int           `env:"WS_CONNECT_ATTEMPTS_PER_MINUTE" envDefault:"30"`
	WriteWait         time.Duration `env:"WS_WRITE_WAIT" envDefault:"10s"`
	PongWait          time.Duration `env:"WS_PONG_WAIT" envDefault:"60s"`
	MaxMessageBytes   int64         `env:"WS_MAX_MESSAGE_BYTES" envDefault:"8192"`

	// World
	InactivityTimeout time.Duration `env:"INACTIVITY_TIMEOUT" envDefault:"10m"`
	SweepInterval     time.Duration `env:"SWEEP_INTERVAL" envDefault:"60s"`
	MatchInterval     time.Duration `env:"MATCHMAKING_INTERVAL" envDefault:"2s"`
	MatchCountdown    int           `env:"MATCH_COUNTDOWN" envDefault:"3"`
	TrophyDelta       int           `env:"TROPHY_DELTA" envDefault:"30"`

	// Matchmaking
	BaseTrophyTolerance    int           `env:"MM_TROPHY_TOLERANCE" envDefault:"100"`
	BaseLevelTolerance     int           `env:"MM_LEVEL_TOLERANCE" envDefault:"2"`
	RelaxAfter             time.Duration `env:"MM_RELAX_AFTER" envDefault:"30s"`
	RegionRelaxAfter       time.Duration `env:"MM_REGION_RELAX_AFTER" envDefault:"60s"`
	MaxToleranceMultiplier float64       `env:"MM_MAX_TOLERANCE_MULTIPLIER" envDefault:"3"`
	MinQuality             float64       `env:"MM_MIN_QUALITY" envDefault:"70"`
	RelaxedMinQuality      float64       `env:"MM_RELAXED_MIN_QUALITY" envDefault:"50"`
	NominalMaxWait         time.Duration `env:"MM_NOMINAL_MAX_WAIT" envDefault:"30s"`
	MaxSearchAttempts      int           `env:"MM_MAX_SEARCH_ATTEMPTS" envDefault:"3"`

	// Battle
	BattleDuration  time.Duration `env:"BATTLE_DURATION" envDefault:"180s"`
	OvertimeEnabled bool          `env:"BATTLE_OVERTIME_ENABLED" envDefault:"true"`
	Overtime        time.Duration `env:"BATTLE_OVERTIME" envDefault:"60s"`
	TickInterval    time.Duration `env:"BATTLE_TICK_INTERVAL" envDefault:"100ms"`
	TiePolicy       string        `env:"BATTLE_TIE_POLICY" envDefault:"draw"`
	DisposeGrace    time.Duration `env:"BATTLE_DISPOSE_GRACE" envDefault:"10s"`
	JoinTimeout     time.Duration `env:"BATTLE_JOIN_TIMEOUT" envDefault:"30s"`
	ReadyTimeout    time.Duration `env:"BATTLE_READY_TIMEOUT" envDefault:"20s"`

	// Card catalog
	CatalogTTL           time.Duration `env:"CATALOG_TTL" envDefault:"5m"`
	CatalogLookupTimeout time.Duration `env:"CATALOG_LOOKUP_TIMEOUT" envDefault:"200ms"`
	CatalogTopic         string        `env:"KAFKA_CATALOG_TOPIC" envDefault:"arena.catalog.card_updated"`

	// Result persistence
	ResultAttempts int           `env:"RESULT_ATTEMPTS" envDefault:"3"`
	ResultBackoff  time.Duration `env:"RESULT_BACKOFF" envDefault:"250ms"`
}

// LoadConfig parses environment variables into a Config struct.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks for insecure or inconsistent configuration.
// Set ALLOW_INSECURE_DEFAULTS=true to bypass the secret checks (local dev only).
func (c *Config) Validate() error {
	switch battle.TiePolicy(c.TiePolicy) {
	case battle.TieDraw, battle.TieHealth:
	default:
		return fmt.Errorf("BATTLE_TIE_POLICY must be %q or %q, got %q", battle.TieDraw, battle.TieHealth, c.TiePolicy)
	}
	if c.TickInterval <= 0 || c.BattleDuration <= 0 {
		return fmt.Errorf("BATTLE_TICK_INTERVAL and BATTLE_DURATION must be positive")
	}
	if c.AllowInsecureDefaults {
		return nil
	}
	if c.JWTSecret == insecureSecret {
		return fmt.Errorf("JWT_SECRET is set to the insecure default; set a strong secret or set ALLOW_INSECURE_DEFAULTS=true for local dev")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET is too short (%d chars); minimum 32 characters required", len(c.JWTSecret))
	}
	return nil
}

// DSN returns the PostgreSQL connection string, preferring DATABASE_URL if set.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.PGUser, c.PGPassword, c.PGHost, c.PGPort, c.PGDatabase)
}

// Battle derives the battle session settings.
func (c *Config) Battle() battle.Config {
	cfg := battle.DefaultConfig()
	cfg.Duration = c.BattleDuration
	cfg.Overtime = c.Overtime
	if !c.OvertimeEnabled {
		cfg.Overtime = 0
	}
	cfg.TickInterval = c.TickInterval
	cfg.TiePolicy = battle.TiePolicy(c.TiePolicy)
	cfg.Grace = c.DisposeGrace
	cfg.JoinTimeout = c.JoinTimeout
	cfg.ReadyTimeout = c.ReadyTimeout
	return cfg
}

// Matchmaking derives the matchmaker settings.
func (c *Config) Matchmaking() matchmaking.Config {
	cfg := matchmaking.DefaultConfig()
	cfg.BaseTrophyTolerance = c.BaseTrophyTolerance
	cfg.BaseLevelTolerance = c.BaseLevelTolerance
	cfg.RelaxAfter = c.RelaxAfter
	cfg.RegionRelaxAfter = c.RegionRelaxAfter
	cfg.MaxToleranceMultiplier = c.MaxToleranceMultiplier
	cfg.MinQuality = c.MinQuality
	cfg.RelaxedMinQuality = c.RelaxedMinQuality
	cfg.NominalMaxWait = c.NominalMaxWait
	cfg.MaxSearchAttempts = c.MaxSearchAttempts
	return cfg
}

// Catalog derives the card cache settings.
func (c *Config) Catalog() catalog.CacheConfig {
	return catalog.CacheConfig{TTL: c.CatalogTTL, LookupTimeout: c.CatalogLookupTimeout}
}

// World derives the world hub settings.
func (c *Config) World() world.Config {
	cfg := world.DefaultConfig()
	cfg.InactivityTimeout = c.InactivityTimeout
	cfg.SweepInterval = c.SweepInterval
	cfg.MatchInterval = c.MatchInterval
	cfg.MatchCountdown = c.MatchCountdown
	cfg.TrophyDelta = c.TrophyDelta
	return cfg
}
