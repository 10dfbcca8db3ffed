package app

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/kbvault/kbvault/internal/database"
	"github.com/kbvault/kbvault/internal/services"
)

// Config represents the runtime configuration for the kbvault backend.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	LogLevel        string        `mapstructure:"log_level"`
	LogFormat       string        `mapstructure:"log_format"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// ActorHeader names the header the upstream auth proxy uses to pass the user identity.
	ActorHeader string `mapstructure:"actor_header"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// StorageConfig locates the physical folder tree.
type StorageConfig struct {
	Root             string      `mapstructure:"root"`
	UncategorizedDir string      `mapstructure:"uncategorized_dir"`
	DirMode          os.FileMode `mapstructure:"dir_mode"`
}

// CacheConfig tunes the folder tree cache.
type CacheConfig struct {
	// Fingerprint is "created" (renames and moves do not refresh the tree) or "modified".
	Fingerprint string `mapstructure:"fingerprint"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Health     HealthConfig     `mapstructure:"health_check"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// HealthConfig toggles health endpoints.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// MaintenanceConfig schedules the background consistency audit and event retention.
type MaintenanceConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	AuditSchedule      string `mapstructure:"audit_schedule"`
	CleanupSchedule    string `mapstructure:"cleanup_schedule"`
	EventRetentionDays int    `mapstructure:"event_retention_days"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("KBVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Storage.Root) == "" {
		return errors.New("config: storage.root is required")
	}
	if _, err := services.ParseFingerprintMode(c.Cache.Fingerprint); err != nil {
		return fmt.Errorf("config: cache.fingerprint: %w", err)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	return nil
}

// FingerprintMode returns the validated cache fingerprint mode.
func (c CacheConfig) FingerprintMode() services.FingerprintMode {
	mode, err := services.ParseFingerprintMode(c.Fingerprint)
	if err != nil {
		return services.FingerprintCreated
	}
	return mode
}

// ConnectionConfig converts the database section into the options database.Open expects.
func (c DatabaseConfig) ConnectionConfig() database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(c.Driver)),
		Path:   strings.TrimSpace(c.Path),
		DSN:    strings.TrimSpace(c.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(c.Postgres.Host)
		dbCfg.Port = c.Postgres.Port
		dbCfg.Name = strings.TrimSpace(c.Postgres.Database)
		dbCfg.User = strings.TrimSpace(c.Postgres.Username)
		dbCfg.Password = c.Postgres.Password
	case "mysql":
		dbCfg.Host = strings.TrimSpace(c.MySQL.Host)
		dbCfg.Port = c.MySQL.Port
		dbCfg.Name = strings.TrimSpace(c.MySQL.Database)
		dbCfg.User = strings.TrimSpace(c.MySQL.Username)
		dbCfg.Password = c.MySQL.Password
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	return dbCfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.actor_header", "X-User-ID")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/kbvault.sqlite")

	v.SetDefault("storage.root", "./data/folders")
	v.SetDefault("storage.uncategorized_dir", "./data/uncategorized")
	v.SetDefault("storage.dir_mode", "0755")

	v.SetDefault("cache.fingerprint", string(services.FingerprintCreated))

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
	v.SetDefault("monitoring.health_check.enabled", true)

	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.audit_schedule", "@hourly")
	v.SetDefault("maintenance.cleanup_schedule", "@daily")
	v.SetDefault("maintenance.event_retention_days", 90)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			stringToFileModeHookFunc(),
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// stringToFileModeHookFunc parses octal permission strings such as "0750".
func stringToFileModeHookFunc() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf(os.FileMode(0)) {
			return data, nil
		}
		raw := strings.TrimPrefix(strings.TrimSpace(data.(string)), "0o")
		if raw == "" {
			return os.FileMode(0), nil
		}
		mode, err := strconv.ParseUint(raw, 8, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid file mode %q: %w", data, err)
		}
		return os.FileMode(mode), nil
	}
}
