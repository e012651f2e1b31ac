package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
)

type Config struct {
	Server     ServerConfig     `json:"server"`
	Database   DatabaseConfig   `json:"database"`
	Redis      RedisConfig      `json:"redis"`
	Logging    LoggingConfig    `json:"logging"`
	Registry   RegistryConfig   `json:"registry"`
	Verify     VerifyConfig     `json:"verify"`
	Governance GovernanceConfig `json:"governance"`
	Validation ValidationConfig `json:"validation"`
	Approval   ApprovalConfig   `json:"approval"`
	Pipeline   PipelineConfig   `json:"pipeline"`
}

type ServerConfig struct {
	BindAddr  string `json:"bindAddr"`
	AuthToken string `json:"authToken"`
}

type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
}

// DSN renders the pgx connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type LoggingConfig struct {
	Level string `json:"level"`
}

type RegistryConfig struct {
	Host      string `json:"host"`      // e.g. registry.example.com/apps
	ImageName string `json:"imageName"` // image name pushed for every tier
}

type VerifyConfig struct {
	SourceDir  string `json:"sourceDir"`
	ReportsDir string `json:"reportsDir"`
}

type GovernanceConfig struct {
	MaxBackupAge    string   `json:"maxBackupAge"`    // e.g. "24h"
	DiskThreshold   float64  `json:"diskThreshold"`   // percent, fail above
	FreezeWeekday   string   `json:"freezeWeekday"`   // e.g. "Friday"
	FreezeAfterHour int      `json:"freezeAfterHour"` // freeze from this hour on the freeze weekday
	BlackoutDates   []string `json:"blackoutDates"`   // "2006-01-02" entries
	Waived          []string `json:"waived"`          // check kinds explicitly waived
	ScannerURL      string   `json:"scannerURL"`      // vulnerability scanner endpoint
	PrometheusURL   string   `json:"prometheusURL"`   // disk utilization source
	ConnectTimeout  string   `json:"connectTimeout"`  // target reachability dial timeout
}

type ValidationConfig struct {
	HealthRetries    int     `json:"healthRetries"`
	RetryDelay       string  `json:"retryDelay"`       // e.g. "5s"
	LatencyThreshold string  `json:"latencyThreshold"` // e.g. "500ms"
	LoadSamples      int     `json:"loadSamples"`
	LoadSuccessRatio float64 `json:"loadSuccessRatio"` // warn below, e.g. 0.9
}

type ApprovalConfig struct {
	WaitTimeout  string `json:"waitTimeout"`  // bounded wait for the approval signal
	PollInterval string `json:"pollInterval"` // decision poll period
}

type PipelineConfig struct {
	ProfilesFile string `json:"profilesFile"` // YAML tier table
	LockTTL      string `json:"lockTTL"`      // per-environment lease TTL
}

// Load builds config from env-var defaults and optionally overlays a JSON file,
// the same way every harborline binary boots.
func Load(configFile string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			BindAddr:  getEnv("SERVER_BIND_ADDR", "0.0.0.0:8080"),
			AuthToken: getEnv("SERVER_AUTH_TOKEN", ""),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "admin"),
			Password: getEnv("DB_PASSWORD", "password"),
			DBName:   getEnv("DB_NAME", "harborline"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "debug"),
		},
		Registry: RegistryConfig{
			Host:      getEnv("REGISTRY_HOST", "localhost:5000"),
			ImageName: getEnv("REGISTRY_IMAGE_NAME", "adk-service"),
		},
		Verify: VerifyConfig{
			SourceDir:  getEnv("VERIFY_SOURCE_DIR", "."),
			ReportsDir: getEnv("VERIFY_REPORTS_DIR", "reports"),
		},
		Governance: GovernanceConfig{
			MaxBackupAge:    getEnv("GOV_MAX_BACKUP_AGE", "24h"),
			DiskThreshold:   getEnvFloat("GOV_DISK_THRESHOLD", 85),
			FreezeWeekday:   getEnv("GOV_FREEZE_WEEKDAY", "Friday"),
			FreezeAfterHour: getEnvInt("GOV_FREEZE_AFTER_HOUR", 16),
			ScannerURL:      getEnv("GOV_SCANNER_URL", ""),
			PrometheusURL:   getEnv("GOV_PROMETHEUS_URL", ""),
			ConnectTimeout:  getEnv("GOV_CONNECT_TIMEOUT", "5s"),
		},
		Validation: ValidationConfig{
			HealthRetries:    getEnvInt("VALIDATE_HEALTH_RETRIES", 5),
			RetryDelay:       getEnv("VALIDATE_RETRY_DELAY", "5s"),
			LatencyThreshold: getEnv("VALIDATE_LATENCY_THRESHOLD", "500ms"),
			LoadSamples:      getEnvInt("VALIDATE_LOAD_SAMPLES", 10),
			LoadSuccessRatio: getEnvFloat("VALIDATE_LOAD_SUCCESS_RATIO", 0.9),
		},
		Approval: ApprovalConfig{
			WaitTimeout:  getEnv("APPROVAL_WAIT_TIMEOUT", "15m"),
			PollInterval: getEnv("APPROVAL_POLL_INTERVAL", "5s"),
		},
		Pipeline: PipelineConfig{
			ProfilesFile: getEnv("PIPELINE_PROFILES_FILE", "profiles.yaml"),
			LockTTL:      getEnv("PIPELINE_LOCK_TTL", "30m"),
		},
	}

	if configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			log.Err(err)
			return nil, err
		}
	}

	// fill reasonable defaults when fields omitted in file
	if cfg.Server.BindAddr == "" {
		cfg.Server.BindAddr = "0.0.0.0:8080"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "debug"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Validation.HealthRetries <= 0 {
		cfg.Validation.HealthRetries = 5
	}
	if cfg.Validation.LoadSamples <= 0 {
		cfg.Validation.LoadSamples = 10
	}
	if cfg.Validation.LoadSuccessRatio <= 0 {
		cfg.Validation.LoadSuccessRatio = 0.9
	}
	if cfg.Governance.DiskThreshold <= 0 {
		cfg.Governance.DiskThreshold = 85
	}
	if cfg.Approval.WaitTimeout == "" {
		cfg.Approval.WaitTimeout = "15m"
	}
	if cfg.Pipeline.ProfilesFile == "" {
		cfg.Pipeline.ProfilesFile = "profiles.yaml"
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filePath, err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filePath, err)
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
