// Package config provides configuration management for the holder rounds service.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/holder-rounds/internal/types"
	"github.com/joho/godotenv"
)

// Holder sync interval bounds
const (
	MinHolderSyncInterval = 10 * time.Second
	MaxHolderSyncInterval = 60 * time.Second
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Chain     ChainConfig
	Game      GameConfig
	Auth      AuthConfig
	Cache     CacheConfig
	Photos    PhotoConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
	Metrics   MetricsConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port       string
	Host       string
	CORSOrigin string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// ChainConfig holds chain access configuration
type ChainConfig struct {
	RPCEndpoints         []string
	ChainID              int64
	TokenContractAddress string
	ScanFromBlock        uint64
	LogChunkSize         uint64
	FetchConcurrency     int
	RPCCooldown          time.Duration
	RPCTimeout           time.Duration
	CUBudget             int
	RewardPrivateKey     string
}

// GameConfig holds round and submission configuration
type GameConfig struct {
	RoundDuration        time.Duration
	SubmissionWindow     time.Duration
	RoundPollInterval    time.Duration
	HolderSyncInterval   time.Duration
	HolderSyncTimeout    time.Duration
	RoundTickTimeout     time.Duration
	MaxPhotoSizeMB       int
	TopHoldersLimit      int
	ApprovedGalleryLimit int
}

// AuthConfig holds wallet authentication configuration
type AuthConfig struct {
	AdminAddresses  []string
	SignatureMaxAge time.Duration
}

// CacheConfig holds cache configuration
type CacheConfig struct {
	TTL time.Duration
}

// PhotoConfig holds photo storage configuration
type PhotoConfig struct {
	CloudName     string
	APIKey        string
	APISecret     string
	Folder        string
	LocalDir      string
	PublicBaseURL string
}

// CloudinaryEnabled reports whether Cloudinary credentials are complete
func (p PhotoConfig) CloudinaryEnabled() bool {
	return p.CloudName != "" && p.APIKey != "" && p.APISecret != ""
}

// RateLimitConfig holds per-client HTTP rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env is optional in production
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port:       getEnv("SERVER_PORT", "8080"),
			Host:       getEnv("SERVER_HOST", "0.0.0.0"),
			CORSOrigin: getEnv("CORS_ORIGIN", "http://localhost:5173"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "holder_rounds"),
				User:           getEnv("POSTGRES_USER", "rounds"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
			},
			ClickHouse: ClickHouseConfig{
				Enabled:  getEnvAsBool("CLICKHOUSE_ENABLED", false),
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "holder_rounds"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
		},
		Chain: ChainConfig{
			RPCEndpoints:         getEnvAsList("RPC_ENDPOINTS", []string{"https://ethereum-rpc.publicnode.com"}),
			ChainID:              getEnvAsInt64("CHAIN_ID", 1),
			TokenContractAddress: getEnv("TOKEN_CONTRACT_ADDRESS", ""),
			ScanFromBlock:        uint64(getEnvAsInt64("HOLDER_SCAN_FROM_BLOCK", 0)),
			LogChunkSize:         uint64(getEnvAsInt64("HOLDER_LOG_CHUNK_SIZE", 5000)),
			FetchConcurrency:     getEnvAsInt("HOLDER_FETCH_CONCURRENCY", 8),
			RPCCooldown:          getEnvAsDuration("RPC_COOLDOWN", 30*time.Second),
			RPCTimeout:           getEnvAsDuration("RPC_TIMEOUT", 30*time.Second),
			CUBudget:             getEnvAsInt("RPC_CU_BUDGET", 500),
			RewardPrivateKey:     getEnv("REWARD_WALLET_PRIVATE_KEY", ""),
		},
		Game: GameConfig{
			RoundDuration:        getEnvAsDuration("ROUND_DURATION", 25*time.Minute),
			SubmissionWindow:     getEnvAsDuration("SUBMISSION_WINDOW", 3*time.Minute),
			RoundPollInterval:    getEnvAsDuration("ROUND_POLL_INTERVAL", time.Second),
			HolderSyncInterval:   getEnvAsDuration("HOLDER_SYNC_INTERVAL", 10*time.Second),
			HolderSyncTimeout:    getEnvAsDuration("HOLDER_SYNC_TIMEOUT", 2*time.Minute),
			RoundTickTimeout:     getEnvAsDuration("ROUND_TICK_TIMEOUT", 10*time.Second),
			MaxPhotoSizeMB:       getEnvAsInt("MAX_PHOTO_SIZE_MB", 10),
			TopHoldersLimit:      getEnvAsInt("TOP_HOLDERS_LIMIT", 10),
			ApprovedGalleryLimit: getEnvAsInt("APPROVED_GALLERY_LIMIT", 50),
		},
		Auth: AuthConfig{
			AdminAddresses:  normalizeList(getEnvAsList("ADMIN_ADDRESSES", nil)),
			SignatureMaxAge: getEnvAsDuration("SIGNATURE_MAX_AGE", 5*time.Minute),
		},
		Cache: CacheConfig{
			TTL: getEnvAsDuration("CACHE_TTL", 20*time.Second),
		},
		Photos: PhotoConfig{
			CloudName:     getEnv("CLOUDINARY_CLOUD_NAME", ""),
			APIKey:        getEnv("CLOUDINARY_API_KEY", ""),
			APISecret:     getEnv("CLOUDINARY_API_SECRET", ""),
			Folder:        getEnv("CLOUDINARY_FOLDER", "holder-rounds"),
			LocalDir:      getEnv("PHOTO_LOCAL_DIR", "./uploads"),
			PublicBaseURL: getEnv("PHOTO_PUBLIC_BASE_URL", "/uploads"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsFloat("RATE_LIMIT_RPS", 10),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 20),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}

	return config, nil
}

// Validate checks the configuration for values the services cannot run with
func (c *Config) Validate() error {
	if c.Game.HolderSyncInterval < MinHolderSyncInterval || c.Game.HolderSyncInterval > MaxHolderSyncInterval {
		return fmt.Errorf("HOLDER_SYNC_INTERVAL must be between %s and %s, got %s",
			MinHolderSyncInterval, MaxHolderSyncInterval, c.Game.HolderSyncInterval)
	}
	if c.Game.RoundDuration <= 0 {
		return fmt.Errorf("ROUND_DURATION must be positive, got %s", c.Game.RoundDuration)
	}
	if c.Game.SubmissionWindow <= 0 {
		return fmt.Errorf("SUBMISSION_WINDOW must be positive, got %s", c.Game.SubmissionWindow)
	}
	if c.Game.RoundPollInterval <= 0 {
		return fmt.Errorf("ROUND_POLL_INTERVAL must be positive, got %s", c.Game.RoundPollInterval)
	}
	if c.Game.HolderSyncTimeout <= 0 {
		return fmt.Errorf("HOLDER_SYNC_TIMEOUT must be positive, got %s", c.Game.HolderSyncTimeout)
	}
	if c.Game.RoundTickTimeout <= 0 {
		return fmt.Errorf("ROUND_TICK_TIMEOUT must be positive, got %s", c.Game.RoundTickTimeout)
	}
	if c.Chain.RPCTimeout <= 0 {
		return fmt.Errorf("RPC_TIMEOUT must be positive, got %s", c.Chain.RPCTimeout)
	}
	if c.Game.MaxPhotoSizeMB <= 0 {
		return fmt.Errorf("MAX_PHOTO_SIZE_MB must be positive, got %d", c.Game.MaxPhotoSizeMB)
	}
	if len(c.Chain.RPCEndpoints) == 0 {
		return fmt.Errorf("RPC_ENDPOINTS must list at least one endpoint")
	}
	if c.Chain.TokenContractAddress != "" && !types.IsValidAddress(c.Chain.TokenContractAddress) {
		return fmt.Errorf("TOKEN_CONTRACT_ADDRESS is not a valid address: %q", c.Chain.TokenContractAddress)
	}
	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 gets an environment variable as an int64 with a default value
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float64 with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a bool with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList gets a comma separated environment variable as a list
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func normalizeList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, types.NormalizeAddress(v))
	}
	return out
}
