package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/i474232898/temperature-monitoring/internal/common"
	"github.com/i474232898/temperature-monitoring/internal/monitoring"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Upstream kinds.
const (
	UpstreamREST     = "rest"
	UpstreamPostgres = "postgres"
)

type AppConfig struct {
	Port        string
	HTTPTimeout time.Duration

	// Upstream is the hosted database the sensors and readings come from.
	Upstream        string
	SupabaseURL     string
	SupabaseAnonKey string
	DatabaseURL     string
	DBMinConns      int
	DBMaxConns      int

	// SyncInterval controls how often readings are pulled from upstream.
	SyncInterval time.Duration
	SyncLookback time.Duration
	SyncOrgs     []string

	// Local reading store and its retention.
	StoreBackend    string
	StoreMaxHistory int           // max number of readings per sensor (0 = unlimited)
	StoreMaxAge     time.Duration // max age of readings (0 = unlimited)
	RedisAddr       string
	RedisDB         int

	// Live readings over MQTT; disabled when MQTTBrokerURL is empty.
	MQTTBrokerURL string
	MQTTClientID  string
	MQTTTopic     string

	Palette      monitoring.Palette
	DefaultRange time.Duration
	SessionTTL   time.Duration
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	cfg := &AppConfig{}
	var err error

	cfg.Port = getenvDefault("PORT", "8080")
	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", "10s"); err != nil {
		return nil, err
	}

	cfg.Upstream = strings.ToLower(getenvDefault("UPSTREAM", UpstreamREST))
	cfg.SupabaseURL = os.Getenv("SUPABASE_URL")
	cfg.SupabaseAnonKey = os.Getenv("SUPABASE_ANON_KEY")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.DBMinConns = getenvInt("DB_MIN_CONNS", 1)
	cfg.DBMaxConns = getenvInt("DB_MAX_CONNS", 4)

	// Sync interval: default 5 minutes.
	if cfg.SyncInterval, err = getenvDuration("SYNC_INTERVAL", "5m"); err != nil {
		return nil, err
	}
	if cfg.SyncLookback, err = getenvDuration("SYNC_LOOKBACK", "1h"); err != nil {
		return nil, err
	}
	cfg.SyncOrgs = common.SplitList(os.Getenv("SYNC_ORGS"))

	cfg.StoreBackend = strings.ToLower(getenvDefault("STORE_BACKEND", StoreMemory))
	cfg.StoreMaxHistory = getenvInt("STORE_MAX_HISTORY", 20000)
	if cfg.StoreMaxAge, err = getenvDuration("STORE_MAX_AGE", "168h"); err != nil {
		return nil, err
	}
	cfg.RedisAddr = getenvDefault("REDIS_ADDR", "localhost:6379")
	cfg.RedisDB = getenvInt("REDIS_DB", 0)

	cfg.MQTTBrokerURL = os.Getenv("MQTT_BROKER_URL")
	cfg.MQTTClientID = getenvDefault("MQTT_CLIENT_ID", "temperature-monitoring")
	cfg.MQTTTopic = getenvDefault("MQTT_TOPIC", "sensors/+/readings")

	cfg.Palette = monitoring.DefaultPalette
	if colors := common.SplitList(os.Getenv("CHART_PALETTE")); len(colors) > 0 {
		if cfg.Palette, err = monitoring.NewPalette(colors); err != nil {
			return nil, fmt.Errorf("invalid CHART_PALETTE: %w", err)
		}
	}
	if cfg.DefaultRange, err = getenvDuration("CHART_DEFAULT_RANGE", "6h"); err != nil {
		return nil, err
	}
	if cfg.SessionTTL, err = getenvDuration("SESSION_TTL", "30m"); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) validate() error {
	switch c.Upstream {
	case UpstreamREST:
		if c.SupabaseURL == "" {
			return fmt.Errorf("SUPABASE_URL is required when UPSTREAM=%s", UpstreamREST)
		}
	case UpstreamPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when UPSTREAM=%s", UpstreamPostgres)
		}
	default:
		return fmt.Errorf("unknown UPSTREAM %q", c.Upstream)
	}
	switch c.StoreBackend {
	case StoreMemory, StoreRedis:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.DefaultRange <= 0 {
		return fmt.Errorf("CHART_DEFAULT_RANGE must be positive")
	}
	return nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
