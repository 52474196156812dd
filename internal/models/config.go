// Package models - Service configuration for the admission gate.
// This file defines the configuration structures for every component of the service.
//
// Configuration layout:
// - Server: listener, timeouts and the protected upstream
// - Storage: where rate records, block events and settings live
// - Security: admin API keys and admin API throttling
// - Gate: admission pipeline behaviour that is not operator-editable at runtime
//
// Operator-editable thresholds and access lists are NOT part of this file; they live in
// the settings store (see settings.go) so they can change without a restart.
package models

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Storage type constants
const (
	StorageTypeJSON     = "json"
	StorageTypeMemory   = "memory"
	StorageTypePostgres = "postgres"
	StorageTypeSQLite   = "sqlite"
)

// Cache type constants
const (
	CacheTypeMemory = "memory"
	CacheTypeRedis  = "redis"
)

// Config is the root configuration structure containing all service settings.
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`               // HTTP listener and upstream
	Storage       StorageConfig       `yaml:"storage" json:"storage"`             // Data persistence settings
	Security      SecurityConfig      `yaml:"security" json:"security"`           // Admin authentication
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`             // Logging and output configuration
	Cache         CacheConfig         `yaml:"cache" json:"cache"`                 // Settings snapshot cache
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`             // Prometheus endpoint
	Observability ObservabilityConfig `yaml:"observability" json:"observability"` // Tracing
	Gate          GateConfig          `yaml:"gate" json:"gate"`                   // Admission pipeline
}

type ServerConfig struct {
	Port         int           `yaml:"port" json:"port"`
	Host         string        `yaml:"host" json:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	TLSEnabled   bool          `yaml:"tls_enabled" json:"tls_enabled"`
	TLSCertFile  string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile   string        `yaml:"tls_key_file" json:"tls_key_file"`
	// UpstreamURL is the protected application. Empty means requests that pass the
	// gate are answered by a built-in placeholder handler.
	UpstreamURL string `yaml:"upstream_url" json:"upstream_url"`
}

type StorageConfig struct {
	Type     string         `yaml:"type" json:"type"`
	Path     string         `yaml:"path" json:"path"`
	Database DatabaseConfig `yaml:"database" json:"database"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" json:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
}

type SecurityConfig struct {
	APIKeys    []APIKey        `yaml:"api_keys" json:"api_keys"`
	EnableAuth bool            `yaml:"enable_auth" json:"enable_auth"`
	RateLimit  RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
}

// APIKey grants access to the admin API. Keys holding the admin permission also
// identify operators, whose own traffic is never subject to the gate.
type APIKey struct {
	Key         string   `yaml:"key" json:"-"`
	Name        string   `yaml:"name" json:"name"`
	Permissions []string `yaml:"permissions" json:"permissions"`
	Enabled     bool     `yaml:"enabled" json:"enabled"`
}

// RateLimitConfig throttles the admin API itself. The admin surface is exempt from
// the gate, so it carries its own token bucket.
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled" json:"enabled"`
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute"`
	BurstSize         int           `yaml:"burst_size" json:"burst_size"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

type CacheConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled"`
	Type    string        `yaml:"type" json:"type"`
	TTL     time.Duration `yaml:"ttl" json:"ttl"`
	Redis   RedisConfig   `yaml:"redis" json:"redis"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr" json:"addr"`
	Password  string `yaml:"password" json:"-"`
	DB        int    `yaml:"db" json:"db"`
	PoolSize  int    `yaml:"pool_size" json:"pool_size"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

// GateConfig controls the admission pipeline.
type GateConfig struct {
	// ServiceID scopes the operator settings in the settings store.
	ServiceID string `yaml:"service_id" json:"service_id"`
	// CoreServiceID scopes host-wide settings such as the operating timezone.
	CoreServiceID string `yaml:"core_service_id" json:"core_service_id"`
	// Timezone is used when the core settings carry no timezone.
	Timezone           string          `yaml:"timezone" json:"timezone"`
	TrustProxyHeaders  bool            `yaml:"trust_proxy_headers" json:"trust_proxy_headers"`
	ExemptPathPrefixes []string        `yaml:"exempt_path_prefixes" json:"exempt_path_prefixes"`
	StorageTimeout     time.Duration   `yaml:"storage_timeout" json:"storage_timeout"`
	SeedDefaults       bool            `yaml:"seed_defaults" json:"seed_defaults"`
	Retention          RetentionConfig `yaml:"retention" json:"retention"`
}

type RetentionConfig struct {
	Enabled          bool          `yaml:"enabled" json:"enabled"`
	Interval         time.Duration `yaml:"interval" json:"interval"`
	BlockEventMaxAge time.Duration `yaml:"block_event_max_age" json:"block_event_max_age"`
	RateRecordMaxAge time.Duration `yaml:"rate_record_max_age" json:"rate_record_max_age"`
}

// Retention lower bounds. A rate record idle for an hour resets on its next request,
// and a block event younger than a day still feeds today's statistics.
const (
	MinRateRecordMaxAge = time.Hour
	MinBlockEventMaxAge = 24 * time.Hour
)

// NewDefaultConfig creates a configuration that runs out of the box: in-memory
// storage, memory settings cache, no upstream and auth disabled.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Storage: StorageConfig{
			Type: StorageTypeMemory,
			Path: "./data/antiddos.json",
			Database: DatabaseConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
				ConnMaxIdleTime: 5 * time.Minute,
			},
		},
		Security: SecurityConfig{
			APIKeys:    []APIKey{},
			EnableAuth: false,
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 120,
				BurstSize:         20,
				CleanupInterval:   5 * time.Minute,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Cache: CacheConfig{
			Enabled: true,
			Type:    CacheTypeMemory,
			TTL:     30 * time.Second,
			Redis: RedisConfig{
				PoolSize:  10,
				KeyPrefix: "antiddos:",
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "antiddos",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "stdout",
				SampleRate: 1.0,
			},
		},
		Gate: GateConfig{
			ServiceID:          "anti-ddos",
			CoreServiceID:      "core",
			Timezone:           "UTC",
			TrustProxyHeaders:  false,
			ExemptPathPrefixes: []string{"/admin", "/api"},
			StorageTimeout:     2 * time.Second,
			SeedDefaults:       true,
			Retention: RetentionConfig{
				Enabled:          true,
				Interval:         10 * time.Minute,
				BlockEventMaxAge: 30 * 24 * time.Hour,
				RateRecordMaxAge: 2 * time.Hour,
			},
		},
	}
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("invalid storage config: %w", err)
	}

	if err := c.Security.Validate(); err != nil {
		return fmt.Errorf("invalid security config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("invalid cache config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}

	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("invalid observability config: %w", err)
	}

	if err := c.Gate.Validate(); err != nil {
		return fmt.Errorf("invalid gate config: %w", err)
	}

	return nil
}

func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}

	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}

	if sc.ReadTimeout < 0 {
		return errors.New("read timeout cannot be negative")
	}

	if sc.WriteTimeout < 0 {
		return errors.New("write timeout cannot be negative")
	}

	if sc.IdleTimeout < 0 {
		return errors.New("idle timeout cannot be negative")
	}

	if sc.TLSEnabled {
		if sc.TLSCertFile == "" {
			return errors.New("TLS cert file is required when TLS is enabled")
		}
		if sc.TLSKeyFile == "" {
			return errors.New("TLS key file is required when TLS is enabled")
		}
	}

	if sc.UpstreamURL != "" {
		u, err := url.Parse(sc.UpstreamURL)
		if err != nil {
			return fmt.Errorf("invalid upstream url: %w", err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("upstream url must be an absolute http(s) url: %s", sc.UpstreamURL)
		}
	}

	return nil
}

func (stc *StorageConfig) Validate() error {
	switch stc.Type {
	case StorageTypeMemory:
		return nil
	case StorageTypeJSON:
		if stc.Path == "" {
			return errors.New("path is required for JSON storage")
		}
	case StorageTypePostgres, StorageTypeSQLite:
		if stc.Database.DSN == "" {
			return errors.New("database DSN is required for database storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s", stc.Type)
	}
	return nil
}

func (sec *SecurityConfig) Validate() error {
	if sec.RateLimit.Enabled {
		if sec.RateLimit.RequestsPerMinute <= 0 {
			return errors.New("requests per minute must be positive")
		}
		if sec.RateLimit.BurstSize < 0 {
			return errors.New("burst size cannot be negative")
		}
	}

	for _, apiKey := range sec.APIKeys {
		if apiKey.Key == "" {
			return errors.New("API key cannot be empty")
		}
		if apiKey.Name == "" {
			return errors.New("API key name cannot be empty")
		}
	}

	if sec.EnableAuth && len(sec.APIKeys) == 0 {
		return errors.New("at least one API key is required when auth is enabled")
	}

	return nil
}

func (lc *LoggingConfig) Validate() error {
	switch lc.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}

	switch lc.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}

	switch lc.Output {
	case "stdout", "stderr", "file":
	default:
		return fmt.Errorf("invalid log output: %s", lc.Output)
	}

	if lc.Output == "file" && lc.FilePath == "" {
		return errors.New("file path is required when output is file")
	}

	return nil
}

func (cc *CacheConfig) Validate() error {
	if !cc.Enabled {
		return nil
	}

	if cc.Type != CacheTypeMemory && cc.Type != CacheTypeRedis {
		return fmt.Errorf("invalid cache type: %s", cc.Type)
	}

	if cc.TTL <= 0 {
		return errors.New("cache TTL must be positive")
	}

	if cc.Type == CacheTypeRedis && cc.Redis.Addr == "" {
		return errors.New("redis address is required when cache type is redis")
	}

	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}

	if mc.Path == "" {
		return errors.New("metrics path cannot be empty")
	}

	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}

	return nil
}

func (oc *ObservabilityConfig) Validate() error {
	if oc.ServiceName == "" {
		return errors.New("service name cannot be empty")
	}
	if !oc.Tracing.Enabled {
		return nil
	}
	switch oc.Tracing.Exporter {
	case "stdout":
	case "otlp":
		if oc.Tracing.OTLPEndpoint == "" {
			return errors.New("otlp endpoint is required for the otlp exporter")
		}
	default:
		return fmt.Errorf("invalid trace exporter: %s", oc.Tracing.Exporter)
	}
	if oc.Tracing.SampleRate < 0 || oc.Tracing.SampleRate > 1 {
		return errors.New("sample rate must be between 0 and 1")
	}
	return nil
}

func (gc *GateConfig) Validate() error {
	if gc.ServiceID == "" {
		return errors.New("service id cannot be empty")
	}
	if gc.CoreServiceID == "" {
		return errors.New("core service id cannot be empty")
	}
	if gc.Timezone != "" {
		if _, err := time.LoadLocation(gc.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", gc.Timezone, err)
		}
	}
	if gc.StorageTimeout <= 0 {
		return errors.New("storage timeout must be positive")
	}
	return gc.Retention.Validate()
}

func (rc *RetentionConfig) Validate() error {
	if !rc.Enabled {
		return nil
	}
	if rc.Interval <= 0 {
		return errors.New("retention interval must be positive")
	}
	if rc.BlockEventMaxAge < MinBlockEventMaxAge {
		return fmt.Errorf("block event max age must be at least %s", MinBlockEventMaxAge)
	}
	if rc.RateRecordMaxAge < MinRateRecordMaxAge {
		return fmt.Errorf("rate record max age must be at least %s", MinRateRecordMaxAge)
	}
	return nil
}
