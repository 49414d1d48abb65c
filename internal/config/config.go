// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir      string // Base directory for input datasets (one CSV per sector)
	ArtifactsDir string // Base directory for per-scenario result artifacts
	LogLevel     string
	Port         int
	DevMode      bool

	Engine *EngineConfig
	Backup *BackupConfig
}

// EngineConfig holds the forecast engine thresholds. The numeric defaults
// match the original deployment: polling clients depend on the retention
// window, and the stall threshold must stay well above the slowest observed
// sector processing time.
type EngineConfig struct {
	MaxConcurrentJobs int           // Jobs allowed in STARTING/RUNNING at once
	StallThreshold    time.Duration // RUNNING job with no update for this long is marked failed
	MaxRuntime        time.Duration // Absolute runtime ceiling for a RUNNING job
	Retention         time.Duration // Terminal jobs kept this long past their last update
	MaxAge            time.Duration // Any job older than this is deleted regardless of status
	SweepInterval     time.Duration // Cleanup sweep period
	DatasetCacheTTL   time.Duration // Input dataset cache lifetime
}

// BackupConfig holds optional S3-compatible artifact backup configuration.
// Backup is disabled unless both Endpoint and Bucket are set.
type BackupConfig struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
}

// Enabled reports whether artifact backup is configured.
func (b *BackupConfig) Enabled() bool {
	return b.Endpoint != "" && b.Bucket != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("GRIDCAST_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	artifactsDir := getEnv("GRIDCAST_ARTIFACTS_DIR", filepath.Join(absDataDir, "forecasts"))
	absArtifactsDir, err := filepath.Abs(artifactsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve artifacts directory path: %w", err)
	}
	if err := os.MkdirAll(absArtifactsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifacts directory: %w", err)
	}

	cfg := &Config{
		DataDir:      absDataDir,
		ArtifactsDir: absArtifactsDir,
		Port:         getEnvAsInt("GRIDCAST_PORT", 8090),
		DevMode:      getEnvAsBool("DEV_MODE", false),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		Engine:       loadEngineConfig(),
		Backup:       loadBackupConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Engine.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("max concurrent jobs must be positive, got %d", c.Engine.MaxConcurrentJobs)
	}
	if c.Engine.StallThreshold >= c.Engine.MaxRuntime {
		return fmt.Errorf("stall threshold (%s) must be below max runtime (%s)",
			c.Engine.StallThreshold, c.Engine.MaxRuntime)
	}
	return nil
}

// loadEngineConfig loads engine thresholds with the original deployment defaults
func loadEngineConfig() *EngineConfig {
	return &EngineConfig{
		MaxConcurrentJobs: getEnvAsInt("GRIDCAST_MAX_JOBS", 3),
		StallThreshold:    getEnvAsMinutes("GRIDCAST_STALL_MINUTES", 15),
		MaxRuntime:        getEnvAsMinutes("GRIDCAST_MAX_RUNTIME_MINUTES", 120),
		Retention:         getEnvAsMinutes("GRIDCAST_RETENTION_MINUTES", 60),
		MaxAge:            getEnvAsMinutes("GRIDCAST_MAX_AGE_MINUTES", 240),
		SweepInterval:     getEnvAsMinutes("GRIDCAST_SWEEP_MINUTES", 5),
		DatasetCacheTTL:   getEnvAsMinutes("GRIDCAST_CACHE_TTL_MINUTES", 5),
	}
}

// loadBackupConfig loads the optional S3 artifact backup settings
func loadBackupConfig() *BackupConfig {
	return &BackupConfig{
		Endpoint:  getEnv("BACKUP_S3_ENDPOINT", ""),
		Bucket:    getEnv("BACKUP_S3_BUCKET", ""),
		AccessKey: getEnv("BACKUP_S3_ACCESS_KEY", ""),
		SecretKey: getEnv("BACKUP_S3_SECRET_KEY", ""),
		Region:    getEnv("BACKUP_S3_REGION", "auto"),
	}
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsMinutes(key string, defaultMinutes int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultMinutes)) * time.Minute
}
