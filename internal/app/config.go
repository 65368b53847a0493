package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/schema-registry/internal/artifacts"
	"github.com/yungbote/schema-registry/internal/data/db"
	"github.com/yungbote/schema-registry/internal/observability"
	"github.com/yungbote/schema-registry/internal/platform/envutil"
	"github.com/yungbote/schema-registry/internal/platform/lock"
	"github.com/yungbote/schema-registry/internal/platform/logger"
	"github.com/yungbote/schema-registry/internal/registry/orchestrator"
	"github.com/yungbote/schema-registry/internal/registry/publisher"
)

const configFileEnv = "REGISTRY_CONFIG_FILE"

const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
	BackendNone   = "none"

	EngineHTTP  = "http"
	EngineLocal = "local"
)

type Config struct {
	Port        string
	Environment string
	Version     string
	CORSOrigins []string

	Database db.Config

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	LockBackend  string
	CacheBackend string
	Lock         lock.Options
	DedupTTL     time.Duration

	CompositionEngine   string
	CompositionEndpoint string
	CompositionSecret   string
	CompositionTimeout  time.Duration
	CompositionRetries  int

	Artifacts artifacts.Config

	NotifyBackend string
	NotifyChannel string

	GitHubToken   string
	GitHubBaseURL string

	MetricsEnabled bool
	MetricsAddr    string
	SLO            observability.SLOConfig
}

type ConfigErrorCode string

const (
	ConfigErrorFile           ConfigErrorCode = "config_file"
	ConfigErrorInvalidBackend ConfigErrorCode = "invalid_backend"
	ConfigErrorMissingValue   ConfigErrorCode = "missing_value"
)

type ConfigError struct {
	Code  ConfigErrorCode
	Key   string
	Value string
	Cause error
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "invalid config"
	}
	switch e.Code {
	case ConfigErrorFile:
		return fmt.Sprintf("read %s: %v", e.Key, e.Cause)
	case ConfigErrorInvalidBackend:
		return fmt.Sprintf("invalid %s=%q", e.Key, e.Value)
	case ConfigErrorMissingValue:
		return fmt.Sprintf("%s is required (%s)", e.Key, e.Value)
	default:
		return "invalid config"
	}
}

func (e *ConfigError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// FileLookup reads a flat YAML mapping of config keys. Scalars are stringified; sequences are
// joined with commas so List keys can be written as YAML lists.
func FileLookup(path string) (envutil.Lookup, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Code: ConfigErrorFile, Key: path, Cause: err}
	}
	var doc map[string]interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, &ConfigError{Code: ConfigErrorFile, Key: path, Cause: err}
	}
	values := make(map[string]string, len(doc))
	for k, v := range doc {
		values[strings.ToUpper(strings.TrimSpace(k))] = stringify(v)
	}
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}, nil
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case []interface{}:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, stringify(item))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(t)
	}
}

// Overlay consults primary first and falls back to secondary.
func Overlay(primary, secondary envutil.Lookup) envutil.Lookup {
	return func(key string) (string, bool) {
		if v, ok := primary(key); ok && strings.TrimSpace(v) != "" {
			return v, true
		}
		if secondary == nil {
			return "", false
		}
		return secondary(key)
	}
}

// LoadConfig reads the environment, overlaid on the file named by REGISTRY_CONFIG_FILE.
func LoadConfig(log *logger.Logger) (Config, error) {
	lookup := envutil.Lookup(envutil.OSLookup)
	if path, ok := os.LookupEnv(configFileEnv); ok && strings.TrimSpace(path) != "" {
		file, err := FileLookup(strings.TrimSpace(path))
		if err != nil {
			return Config{}, err
		}
		log.Info("Loaded config file", "path", path)
		lookup = Overlay(envutil.OSLookup, file)
	}
	return ParseConfig(envutil.NewReader(lookup, log))
}

func ParseConfig(env *envutil.Reader) (Config, error) {
	defaults := lock.DefaultOptions()
	cfg := Config{
		Port:        env.String("PORT", "8080"),
		Environment: env.String("ENVIRONMENT", "development"),
		Version:     env.String("SERVICE_VERSION", "dev"),
		CORSOrigins: env.List("CORS_ALLOWED_ORIGINS"),

		Database: db.Config{
			Driver:       env.String("DATABASE_DRIVER", db.DriverPostgres),
			Host:         env.String("POSTGRES_HOST", "localhost"),
			Port:         env.String("POSTGRES_PORT", "5432"),
			User:         env.String("POSTGRES_USER", "postgres"),
			Password:     env.String("POSTGRES_PASSWORD", ""),
			Name:         env.String("POSTGRES_NAME", "registry"),
			SSLMode:      env.String("POSTGRES_SSLMODE", "disable"),
			URL:          env.String("DATABASE_DSN", ""),
			SQLitePath:   env.String("SQLITE_PATH", "registry.db"),
			MaxOpenConns: env.Int("POSTGRES_MAX_OPEN_CONNS", 20),
			MaxIdleConns: env.Int("POSTGRES_MAX_IDLE_CONNS", 5),
		},

		RedisAddr:     env.String("REDIS_ADDR", ""),
		RedisPassword: env.String("REDIS_PASSWORD", ""),
		RedisDB:       env.Int("REDIS_DB", 0),

		Lock: lock.Options{
			Retries:    env.Int("LOCK_RETRIES", defaults.Retries),
			RetryDelay: env.Duration("LOCK_RETRY_DELAY", defaults.RetryDelay),
			TTL:        env.Duration("LOCK_TTL", defaults.TTL),
		},
		DedupTTL: env.Duration("PUBLISH_DEDUP_TTL", publisher.DefaultDedupTTL),

		CompositionEngine:   strings.ToLower(env.String("COMPOSITION_ENGINE", EngineLocal)),
		CompositionEndpoint: env.String("COMPOSITION_ENDPOINT", ""),
		CompositionSecret:   env.String("COMPOSITION_SECRET", ""),
		CompositionTimeout:  env.Duration("COMPOSITION_TIMEOUT", orchestrator.DefaultTimeout),
		CompositionRetries:  env.Int("COMPOSITION_MAX_RETRIES", 2),

		Artifacts: artifacts.Config{
			Backend:      artifacts.Backend(env.String("ARTIFACT_BACKEND", "")),
			Bucket:       env.String("ARTIFACT_GCS_BUCKET", ""),
			EmulatorHost: env.String("STORAGE_EMULATOR_HOST", ""),
			Credentials:  env.String("GOOGLE_APPLICATION_CREDENTIALS", ""),
		},

		NotifyChannel: env.String("NOTIFY_REDIS_CHANNEL", "registry:schema-events"),

		GitHubToken:   env.String("GITHUB_TOKEN", ""),
		GitHubBaseURL: env.String("GITHUB_API_URL", ""),

		MetricsEnabled: env.Bool("METRICS_ENABLED", false),
		MetricsAddr:    env.String("METRICS_ADDR", ""),
		SLO:            observability.SLOConfigFrom(env),
	}

	// Shared backends follow Redis availability unless pinned.
	sharedDefault := BackendMemory
	notifyDefault := BackendNone
	if cfg.RedisAddr != "" {
		sharedDefault = BackendRedis
		notifyDefault = BackendRedis
	}
	cfg.LockBackend = strings.ToLower(env.String("LOCK_BACKEND", sharedDefault))
	cfg.CacheBackend = strings.ToLower(env.String("CACHE_BACKEND", sharedDefault))
	cfg.NotifyBackend = strings.ToLower(env.String("NOTIFY_BACKEND", notifyDefault))

	return cfg, cfg.Validate()
}

func (cfg Config) Validate() error {
	shared := []struct{ key, value string }{
		{"LOCK_BACKEND", cfg.LockBackend},
		{"CACHE_BACKEND", cfg.CacheBackend},
	}
	for _, b := range shared {
		if b.value != BackendRedis && b.value != BackendMemory {
			return &ConfigError{Code: ConfigErrorInvalidBackend, Key: b.key, Value: b.value}
		}
		if b.value == BackendRedis && cfg.RedisAddr == "" {
			return &ConfigError{Code: ConfigErrorMissingValue, Key: "REDIS_ADDR", Value: b.key + "=redis"}
		}
	}
	switch cfg.NotifyBackend {
	case BackendNone:
	case BackendRedis:
		if cfg.RedisAddr == "" {
			return &ConfigError{Code: ConfigErrorMissingValue, Key: "REDIS_ADDR", Value: "NOTIFY_BACKEND=redis"}
		}
	default:
		return &ConfigError{Code: ConfigErrorInvalidBackend, Key: "NOTIFY_BACKEND", Value: cfg.NotifyBackend}
	}
	switch cfg.CompositionEngine {
	case EngineLocal:
	case EngineHTTP:
		if cfg.CompositionEndpoint == "" {
			return &ConfigError{Code: ConfigErrorMissingValue, Key: "COMPOSITION_ENDPOINT", Value: "COMPOSITION_ENGINE=http"}
		}
	default:
		return &ConfigError{Code: ConfigErrorInvalidBackend, Key: "COMPOSITION_ENGINE", Value: cfg.CompositionEngine}
	}
	if _, err := cfg.Artifacts.Normalize(); err != nil {
		return err
	}
	return nil
}
