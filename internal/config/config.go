package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

type Mode string

const (
	ModeDatabase Mode = "database"
	ModeDemo     Mode = "demo"
)

type Config struct {
	Profile       Profile
	Mode          Mode
	Service       ServiceConfig
	HTTP          HTTPConfig
	Database      DatabaseConfig
	Datasets      DatasetsConfig
	AI            AIConfig
	Guard         GuardConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

type DatasetsConfig struct {
	Enabled          bool
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

type AIConfig struct {
	Enabled            bool
	BaseURL            string
	APIKey             string
	Model              string
	Temperature        float64
	Timeout            time.Duration
	SummaryEnabled     bool
	SummaryModel       string
	SummaryTemperature float64
}

type GuardConfig struct {
	Dialect            string
	RowLimit           int
	AllowTables        []string
	ExcludeTables      []string
	PIIBlocklist       []string
	MaxColumnsPerTable int
	SampleRows         int
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("COPILOT_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid COPILOT_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	if raw, ok := lookup("COPILOT_MODE"); ok {
		cfg.Mode = Mode(strings.ToLower(strings.TrimSpace(raw)))
	}
	if err := applyString(lookup, "COPILOT_SERVICE_NAME", &cfg.Service.Name); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "COPILOT_HTTP_ADDR", &cfg.HTTP.Address); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "COPILOT_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "COPILOT_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "COPILOT_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "COPILOT_DB_DSN", &cfg.Database.DSN); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "COPILOT_DB_MAX_OPEN_CONNS", &cfg.Database.MaxOpenConns); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "COPILOT_DB_MAX_IDLE_CONNS", &cfg.Database.MaxIdleConns); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "COPILOT_DB_CONN_MAX_IDLE_TIME", &cfg.Database.ConnMaxIdleTime); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "COPILOT_DB_CONN_MAX_LIFETIME", &cfg.Database.ConnMaxLifetime); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "COPILOT_DATASETS_ENABLED", &cfg.Datasets.Enabled); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "COPILOT_DATASETS_ENDPOINT", &cfg.Datasets.Endpoint); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "COPILOT_DATASETS_REGION", &cfg.Datasets.Region); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "COPILOT_DATASETS_BUCKET", &cfg.Datasets.Bucket); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "COPILOT_DATASETS_ACCESS_KEY", &cfg.Datasets.AccessKeyID); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "COPILOT_DATASETS_SECRET_KEY", &cfg.Datasets.SecretAccessKey); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "COPILOT_DATASETS_USE_SSL", &cfg.Datasets.UseSSL); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "COPILOT_DATASETS_PREFIX", &cfg.Datasets.Prefix); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "COPILOT_DATASETS_AUTO_CREATE_BUCKET", &cfg.Datasets.AutoCreateBucket); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "COPILOT_AI_ENABLED", &cfg.AI.Enabled); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "COPILOT_AI_BASE_URL", &cfg.AI.BaseURL); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "COPILOT_AI_API_KEY", &cfg.AI.APIKey); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "COPILOT_AI_MODEL", &cfg.AI.Model); err != nil {
		return Config{}, err
	}
	if err := applyFloat(lookup, "COPILOT_AI_TEMPERATURE", &cfg.AI.Temperature); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "COPILOT_AI_TIMEOUT", &cfg.AI.Timeout); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "COPILOT_AI_SUMMARY_ENABLED", &cfg.AI.SummaryEnabled); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "COPILOT_AI_SUMMARY_MODEL", &cfg.AI.SummaryModel); err != nil {
		return Config{}, err
	}
	if err := applyFloat(lookup, "COPILOT_AI_SUMMARY_TEMPERATURE", &cfg.AI.SummaryTemperature); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "COPILOT_GUARD_DIALECT", &cfg.Guard.Dialect); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "COPILOT_GUARD_ROW_LIMIT", &cfg.Guard.RowLimit); err != nil {
		return Config{}, err
	}
	if err := applyStringList(lookup, "COPILOT_GUARD_ALLOW_TABLES", &cfg.Guard.AllowTables); err != nil {
		return Config{}, err
	}
	if err := applyStringList(lookup, "COPILOT_GUARD_EXCLUDE_TABLES", &cfg.Guard.ExcludeTables); err != nil {
		return Config{}, err
	}
	if err := applyStringList(lookup, "COPILOT_GUARD_PII_BLOCKLIST", &cfg.Guard.PIIBlocklist); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "COPILOT_GUARD_MAX_COLUMNS_PER_TABLE", &cfg.Guard.MaxColumnsPerTable); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "COPILOT_GUARD_SAMPLE_ROWS", &cfg.Guard.SampleRows); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "COPILOT_LOG_JSON", &cfg.Observability.LogJSON); err != nil {
		return Config{}, err
	}
	if err := applyLogLevel(lookup, "COPILOT_LOG_LEVEL", &cfg.Observability.LogLevel); err != nil {
		return Config{}, err
	}

	if !isValidMode(cfg.Mode) {
		return Config{}, fmt.Errorf("invalid COPILOT_MODE: %q", cfg.Mode)
	}
	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return Config{}, fmt.Errorf("http address is required")
	}
	if cfg.Mode == ModeDatabase && cfg.Database.DSN == "" {
		return Config{}, fmt.Errorf("database mode requires COPILOT_DB_DSN")
	}
	if cfg.Guard.RowLimit <= 0 {
		return Config{}, fmt.Errorf("guard row limit must be positive")
	}
	return cfg, nil
}

// Dialect returns the configured SQL dialect, falling back to the
// mode-appropriate default when unset.
func (c Config) Dialect() string {
	if c.Guard.Dialect != "" {
		return c.Guard.Dialect
	}
	if c.Mode == ModeDemo {
		return "duckdb"
	}
	return "postgresql"
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Mode:    ModeDemo,
		Service: ServiceConfig{Name: "sqlcopilot-api"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			DSN:             "",
			MaxOpenConns:    10,
			MaxIdleConns:    10,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Datasets: DatasetsConfig{
			Enabled:          false,
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "sqlcopilot-datasets",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			UseSSL:           false,
			Prefix:           "",
			AutoCreateBucket: true,
		},
		AI: AIConfig{
			Enabled:            false,
			BaseURL:            "https://api.openai.com",
			Model:              "gpt-4o-mini",
			Temperature:        0.0,
			Timeout:            30 * time.Second,
			SummaryEnabled:     true,
			SummaryModel:       "",
			SummaryTemperature: 0.2,
		},
		Guard: GuardConfig{
			Dialect:            "",
			RowLimit:           1000,
			AllowTables:        nil,
			ExcludeTables:      nil,
			PIIBlocklist:       []string{"email", "phone", "address"},
			MaxColumnsPerTable: 40,
			SampleRows:         5,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
	case ProfileProd:
		cfg.Mode = ModeDatabase
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Datasets.UseSSL = true
		cfg.Datasets.AutoCreateBucket = false
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func isValidMode(mode Mode) bool {
	switch mode {
	case ModeDatabase, ModeDemo:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyStringList(lookup LookupFunc, key string, dst *[]string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		values = append(values, part)
	}
	*dst = values
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
