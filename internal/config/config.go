package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"antiddos/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ANTIDDOS_"

// Load builds the configuration from defaults, the YAML file at configPath (if
// given), a .env file and ANTIDDOS_* environment variables, in that order of
// increasing precedence.
func Load(configPath string) (*models.Config, error) {
	config := models.NewDefaultConfig()

	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := loadDotEnv(os.Getenv(EnvPrefix + "ENV_FILE")); err != nil {
		return nil, err
	}
	loadFromEnvironment(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadDotEnv loads variables from path (default ".env") without overriding
// variables already present in the process environment. A missing default
// file is not an error.
func loadDotEnv(path string) error {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// deprecatedConfig mirrors removed config fields for detecting stale operator configs.
type deprecatedConfig struct {
	Security struct {
		BootstrapKey string `yaml:"bootstrap_key"`
	} `yaml:"security"`
	Storage struct {
		Database struct {
			Driver string `yaml:"driver"`
		} `yaml:"database"`
	} `yaml:"storage"`
	Gate struct {
		SettingsCacheTTL interface{} `yaml:"settings_cache_ttl"`
		Whitelist        interface{} `yaml:"whitelist_ips"`
	} `yaml:"gate"`
}

// warnDeprecatedKeys logs a warning for each removed config key found in the YAML data.
// The service continues to start normally - these keys are silently ignored by the main decoder.
func warnDeprecatedKeys(data []byte) {
	var dep deprecatedConfig
	if err := yaml.Unmarshal(data, &dep); err != nil {
		return
	}
	if dep.Security.BootstrapKey != "" {
		slog.Warn("Config key is no longer supported; list admin keys under security.api_keys.", "config_key", "security.bootstrap_key")
	}
	if dep.Storage.Database.Driver != "" {
		slog.Warn("Config key is no longer used; the driver follows storage.type.", "config_key", "storage.database.driver")
	}
	if dep.Gate.SettingsCacheTTL != nil {
		slog.Warn("Config key is no longer supported; use cache.ttl.", "config_key", "gate.settings_cache_ttl")
	}
	if dep.Gate.Whitelist != nil {
		slog.Warn("Access lists live in the stored settings; edit them via PUT /api/v1/admin/settings.", "config_key", "gate.whitelist_ips")
	}
}

func loadFromFile(config *models.Config, filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config file not found: %s", filePath)
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	warnDeprecatedKeys(data)
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

// loadFromEnvironment applies ANTIDDOS_* overrides. Malformed numeric,
// boolean and duration values are ignored with a warning.
func loadFromEnvironment(config *models.Config) {
	// Server configuration
	envInt("PORT", &config.Server.Port)
	envString("HOST", &config.Server.Host)
	envDuration("READ_TIMEOUT", &config.Server.ReadTimeout)
	envDuration("WRITE_TIMEOUT", &config.Server.WriteTimeout)
	envDuration("IDLE_TIMEOUT", &config.Server.IdleTimeout)
	envBool("TLS_ENABLED", &config.Server.TLSEnabled)
	envString("TLS_CERT_FILE", &config.Server.TLSCertFile)
	envString("TLS_KEY_FILE", &config.Server.TLSKeyFile)
	envString("UPSTREAM_URL", &config.Server.UpstreamURL)

	// Storage configuration
	envString("STORAGE_TYPE", &config.Storage.Type)
	envString("STORAGE_PATH", &config.Storage.Path)
	envString("DATABASE_DSN", &config.Storage.Database.DSN)
	envInt("DATABASE_MAX_OPEN_CONNS", &config.Storage.Database.MaxOpenConns)
	envInt("DATABASE_MAX_IDLE_CONNS", &config.Storage.Database.MaxIdleConns)
	envDuration("DATABASE_CONN_MAX_LIFETIME", &config.Storage.Database.ConnMaxLifetime)

	// Security configuration
	envBool("ENABLE_AUTH", &config.Security.EnableAuth)
	if key := os.Getenv(EnvPrefix + "ADMIN_API_KEY"); key != "" {
		config.Security.APIKeys = append(config.Security.APIKeys, models.APIKey{
			Key:         key,
			Name:        "env-admin",
			Permissions: []string{models.PermissionAdmin},
			Enabled:     true,
		})
	}
	envBool("RATE_LIMIT_ENABLED", &config.Security.RateLimit.Enabled)
	envInt("RATE_LIMIT_REQUESTS_PER_MINUTE", &config.Security.RateLimit.RequestsPerMinute)
	envInt("RATE_LIMIT_BURST_SIZE", &config.Security.RateLimit.BurstSize)

	// Logging configuration
	envString("LOG_LEVEL", &config.Logging.Level)
	envString("LOG_FORMAT", &config.Logging.Format)
	envString("LOG_OUTPUT", &config.Logging.Output)
	envString("LOG_FILE_PATH", &config.Logging.FilePath)

	// Cache configuration
	envBool("CACHE_ENABLED", &config.Cache.Enabled)
	envString("CACHE_TYPE", &config.Cache.Type)
	envDuration("CACHE_TTL", &config.Cache.TTL)
	envString("REDIS_ADDR", &config.Cache.Redis.Addr)
	envString("REDIS_PASSWORD", &config.Cache.Redis.Password)
	envInt("REDIS_DB", &config.Cache.Redis.DB)
	envInt("REDIS_POOL_SIZE", &config.Cache.Redis.PoolSize)
	envString("REDIS_KEY_PREFIX", &config.Cache.Redis.KeyPrefix)

	// Metrics and tracing
	envBool("METRICS_ENABLED", &config.Metrics.Enabled)
	envString("METRICS_PATH", &config.Metrics.Path)
	envInt("METRICS_PORT", &config.Metrics.Port)
	envBool("TRACING_ENABLED", &config.Observability.Tracing.Enabled)
	envString("TRACING_EXPORTER", &config.Observability.Tracing.Exporter)
	envString("OTLP_ENDPOINT", &config.Observability.Tracing.OTLPEndpoint)

	// Gate configuration
	envString("SERVICE_ID", &config.Gate.ServiceID)
	envString("TIMEZONE", &config.Gate.Timezone)
	envBool("TRUST_PROXY_HEADERS", &config.Gate.TrustProxyHeaders)
	envList("EXEMPT_PATH_PREFIXES", &config.Gate.ExemptPathPrefixes)
	envDuration("STORAGE_TIMEOUT", &config.Gate.StorageTimeout)
	envBool("SEED_DEFAULTS", &config.Gate.SeedDefaults)
	envBool("RETENTION_ENABLED", &config.Gate.Retention.Enabled)
	envDuration("RETENTION_INTERVAL", &config.Gate.Retention.Interval)
}

func envString(name string, dst *string) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	v := os.Getenv(EnvPrefix + name)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("Ignoring malformed environment override", "variable", EnvPrefix+name, "value", v)
		return
	}
	*dst = n
}

func envBool(name string, dst *bool) {
	v := os.Getenv(EnvPrefix + name)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("Ignoring malformed environment override", "variable", EnvPrefix+name, "value", v)
		return
	}
	*dst = b
}

func envDuration(name string, dst *time.Duration) {
	v := os.Getenv(EnvPrefix + name)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("Ignoring malformed environment override", "variable", EnvPrefix+name, "value", v)
		return
	}
	*dst = d
}

// envList reads a comma separated list. Empty items are dropped.
func envList(name string, dst *[]string) {
	v, ok := os.LookupEnv(EnvPrefix + name)
	if !ok {
		return
	}
	out := []string{}
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}

// SaveExample saves an example configuration file
func SaveExample(filePath string) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	config := models.NewDefaultConfig()
	config.Server.UpstreamURL = "http://127.0.0.1:8081"
	config.Storage.Type = models.StorageTypeSQLite
	config.Storage.Database.DSN = "file:./data/antiddos.db?_pragma=journal_mode(WAL)"
	config.Security.EnableAuth = true
	config.Security.APIKeys = []models.APIKey{
		{Key: "add_replace-with-admin-key", Name: "operator", Permissions: []string{models.PermissionAdmin}, Enabled: true},
		{Key: "add_replace-with-read-key", Name: "dashboard", Permissions: []string{models.PermissionRead}, Enabled: true},
	}
	config.Gate.TrustProxyHeaders = true

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
