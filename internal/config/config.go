package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

const DefaultCronInterval = 300

type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Auth      AuthConfig
	Cluster   ClusterConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Bus       BusConfig
	WebSocket WebSocketConfig
	Scheduler SchedulerConfig
	Database  DatabaseConfig

	// Warnings collects values that were ignored while loading.
	Warnings []string
}

type ServerConfig struct {
	Port        string
	Environment string
}

type LogConfig struct {
	Level  string
	Format string
}

type AuthConfig struct {
	JWTSecret      string
	JWTExpiryHours int
}

type ClusterConfig struct {
	Kubeconfig string
	Namespace  string
	QPS        float32
	Burst      int
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

func (r RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

type RateLimitConfig struct {
	Backend   string // "memory" or "redis"
	Algorithm string // "fixed_window", "sliding_window" or "token_bucket"
}

type BusConfig struct {
	Enabled bool
	Subject string
}

type WebSocketConfig struct {
	EvictAfterFailures int
	WriteTimeout       time.Duration
	AllowedOrigins     []string
}

type SchedulerConfig struct {
	JobTimeout time.Duration
	Jobs       []CronJobConfig
}

// CronJobConfig is one entry of the boot registration list.
type CronJobConfig struct {
	Endpoint           string
	CredentialRequired bool
	IntervalSeconds    int
}

type DatabaseConfig struct {
	URL           string
	RetentionDays int
}

type cronJobSpec struct {
	envKey             string
	endpoint           string
	credentialRequired bool
}

var cronJobSpecs = []cronJobSpec{
	{"CRON_STATS_INTERVAL", "/api/v1/stats", true},
	{"CRON_K8S_HEALTH_INTERVAL", "/api/v1/k8s/health", false},
	{"CRON_BACKUPS_INTERVAL", "/api/v1/backups", true},
	{"CRON_RESTORES_INTERVAL", "/api/v1/restores", true},
	{"CRON_SCHEDULES_INTERVAL", "/api/v1/schedules", true},
	{"CRON_BACKUP_LOCATIONS_INTERVAL", "/api/v1/backup-locations", true},
	{"CRON_SNAPSHOT_LOCATIONS_INTERVAL", "/api/v1/snapshot-locations", true},
	{"CRON_REPOSITORIES_INTERVAL", "/api/v1/repositories", true},
	{"CRON_SC_MAPPING_INTERVAL", "/api/v1/storage-class-mappings", true},
	{"CRON_POD_VOLUME_BACKUPS_INTERVAL", "/api/v1/pod-volume-backups", true},
	{"CRON_POD_VOLUME_RESTORES_INTERVAL", "/api/v1/pod-volume-restores", true},
}

// Load builds the configuration from the environment. Invalid values fall back to
// their defaults and are reported in Warnings.
func Load(lookup LookupFunc) *Config {
	l := &loader{lookup: lookup}

	cfg := &Config{
		Server: ServerConfig{
			Port:        l.str("PORT", "8001"),
			Environment: l.str("ENVIRONMENT", "development"),
		},
		Log: LogConfig{
			Level:  l.str("LOG_LEVEL", "info"),
			Format: l.str("LOG_FORMAT", "text"),
		},
		Auth: AuthConfig{
			JWTSecret:      l.str("JWT_SECRET", ""),
			JWTExpiryHours: l.positiveInt("JWT_EXPIRY_HOURS", 24),
		},
		Cluster: ClusterConfig{
			Kubeconfig: l.str("KUBECONFIG", ""),
			Namespace:  l.str("VELERO_NAMESPACE", "velero"),
			QPS:        float32(l.positiveInt("K8S_CLIENT_QPS", 20)),
			Burst:      l.positiveInt("K8S_CLIENT_BURST", 30),
		},
		Redis: RedisConfig{
			Host:     l.str("REDIS_HOST", "localhost"),
			Port:     l.str("REDIS_PORT", "6379"),
			Password: l.str("REDIS_PASSWORD", ""),
			DB:       l.nonNegativeInt("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			Backend:   l.oneOf("RATE_LIMITER_BACKEND", "memory", "memory", "redis"),
			Algorithm: l.oneOf("RATE_LIMITER_ALGORITHM", "fixed_window", "fixed_window", "sliding_window", "token_bucket"),
		},
		Bus: BusConfig{
			Enabled: l.boolean("BUS_ENABLED", false),
			Subject: l.str("BUS_SUBJECT", "velero-api.requests"),
		},
		WebSocket: WebSocketConfig{
			EvictAfterFailures: l.nonNegativeInt("WS_EVICT_AFTER_FAILURES", 0),
			WriteTimeout:       time.Duration(l.positiveInt("WS_WRITE_TIMEOUT_SECONDS", 5)) * time.Second,
			AllowedOrigins:     l.list("WS_ALLOWED_ORIGINS"),
		},
		Scheduler: SchedulerConfig{
			JobTimeout: time.Duration(l.positiveInt("JOB_TIMEOUT_SECONDS", 30)) * time.Second,
		},
		Database: DatabaseConfig{
			URL:           l.str("DATABASE_URL", ""),
			RetentionDays: l.positiveInt("REQUEST_LOG_RETENTION_DAYS", 30),
		},
	}

	for _, spec := range cronJobSpecs {
		cfg.Scheduler.Jobs = append(cfg.Scheduler.Jobs, CronJobConfig{
			Endpoint:           spec.endpoint,
			CredentialRequired: spec.credentialRequired,
			IntervalSeconds:    l.positiveInt(spec.envKey, DefaultCronInterval),
		})
	}

	cfg.Warnings = l.warnings
	return cfg
}

// FromEnv loads the configuration from the process environment.
func FromEnv() *Config {
	return Load(os.LookupEnv)
}

type loader struct {
	lookup   LookupFunc
	warnings []string
}

func (l *loader) raw(key string) (string, bool) {
	v, ok := l.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (l *loader) warn(key, value, fallback string) {
	l.warnings = append(l.warnings, fmt.Sprintf("invalid value %q for %s, using %s", value, key, fallback))
}

func (l *loader) str(key, def string) string {
	if v, ok := l.raw(key); ok {
		return v
	}
	return def
}

func (l *loader) positiveInt(key string, def int) int {
	v, ok := l.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		l.warn(key, v, strconv.Itoa(def))
		return def
	}
	return n
}

func (l *loader) nonNegativeInt(key string, def int) int {
	v, ok := l.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		l.warn(key, v, strconv.Itoa(def))
		return def
	}
	return n
}

func (l *loader) boolean(key string, def bool) bool {
	v, ok := l.raw(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		l.warn(key, v, strconv.FormatBool(def))
		return def
	}
	return b
}

func (l *loader) oneOf(key, def string, allowed ...string) string {
	v, ok := l.raw(key)
	if !ok {
		return def
	}
	v = strings.ToLower(v)
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	l.warn(key, v, def)
	return def
}

func (l *loader) list(key string) []string {
	v, ok := l.raw(key)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
