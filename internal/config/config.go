package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Notification NotificationConfig
	Dispatch     DispatchConfig
	LLM          LLMConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	ChangeChannel string
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines the service token used by change-notification producers.
type AuthConfig struct {
	ServiceTokenSecret string
	ServiceTokenIssuer string
}

// NotificationConfig holds outbound notification endpoints.
type NotificationConfig struct {
	WebhookURL string
}

// DispatchConfig tunes the router, caches and the poller.
type DispatchConfig struct {
	PollIntervalSeconds     int
	CacheTTLSeconds         int
	CacheMaxEntries         int
	DedupWindowMinutes      int
	FastPathBudgetMillis    int
	DeviationThreshold      float64
	ProcessingWindowSeconds int
	RootDir                 string
	BlueprintPath           string
	KnowledgeDir            string
	// HealthURLs maps remote targets to the URL that must answer after a
	// remote command ran on them.
	HealthURLs              map[string]string
}

// LLMConfig configures the optional LLM capability.
type LLMConfig struct {
	AnthropicAPIKey string
	Model           string
	TimeoutSeconds  int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	threshold, err := strconv.ParseFloat(getEnv("DISPATCH_DEVIATION_THRESHOLD", "0.5"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid DISPATCH_DEVIATION_THRESHOLD: %w", err)
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("DISPATCH_DEVIATION_THRESHOLD must be within [0,1], got %v", threshold)
	}

	healthURLs, err := parsePairs(os.Getenv("DISPATCH_HEALTH_URLS"))
	if err != nil {
		return nil, fmt.Errorf("invalid DISPATCH_HEALTH_URLS: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "support-dispatch"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:          getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:      os.Getenv("REDIS_PASSWORD"),
			DB:            redisDB,
			ChangeChannel: getEnv("REDIS_CHANGE_CHANNEL", "support:ticket-changes"),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			ServiceTokenSecret: getEnv("AUTH_SERVICE_TOKEN_SECRET", "dev-secret"),
			ServiceTokenIssuer: getEnv("AUTH_SERVICE_TOKEN_ISSUER", "support-intake"),
		},
		Notification: NotificationConfig{
			WebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
		},
		Dispatch: DispatchConfig{
			PollIntervalSeconds:     getEnvAsInt("DISPATCH_POLL_INTERVAL_SECONDS", 30),
			CacheTTLSeconds:         getEnvAsInt("DISPATCH_CACHE_TTL_SECONDS", 300),
			CacheMaxEntries:         getEnvAsInt("DISPATCH_CACHE_MAX_ENTRIES", 100),
			DedupWindowMinutes:      getEnvAsInt("DISPATCH_DEDUP_WINDOW_MINUTES", 10),
			FastPathBudgetMillis:    getEnvAsInt("DISPATCH_FAST_PATH_BUDGET_MS", 50),
			DeviationThreshold:      threshold,
			ProcessingWindowSeconds: getEnvAsInt("DISPATCH_PROCESSING_WINDOW_SECONDS", 120),
			RootDir:                 getEnv("DISPATCH_ROOT_DIR", "."),
			BlueprintPath:           getEnv("DISPATCH_BLUEPRINT_PATH", "blueprint.yaml"),
			KnowledgeDir:            getEnv("DISPATCH_KNOWLEDGE_DIR", "knowledge"),
			HealthURLs:              healthURLs,
		},
		LLM: LLMConfig{
			AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
			Model:           getEnv("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),
			TimeoutSeconds:  getEnvAsInt("ANTHROPIC_TIMEOUT_SECONDS", 60),
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// PollInterval returns the poller period.
func (d DispatchConfig) PollInterval() time.Duration {
	return secondsOr(d.PollIntervalSeconds, 30)
}

// CacheTTL returns how long detection results stay cached.
func (d DispatchConfig) CacheTTL() time.Duration {
	return secondsOr(d.CacheTTLSeconds, 300)
}

// DedupWindow returns the trailing window used for outbound message dedup.
func (d DispatchConfig) DedupWindow() time.Duration {
	if d.DedupWindowMinutes <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(d.DedupWindowMinutes) * time.Minute
}

// FastPathBudget returns the time box of the fast pattern matcher.
func (d DispatchConfig) FastPathBudget() time.Duration {
	if d.FastPathBudgetMillis <= 0 {
		return 50 * time.Millisecond
	}
	return time.Duration(d.FastPathBudgetMillis) * time.Millisecond
}

// ProcessingWindow returns the "already being processed" heuristic window.
func (d DispatchConfig) ProcessingWindow() time.Duration {
	return secondsOr(d.ProcessingWindowSeconds, 120)
}

// Enabled reports whether an LLM backend is configured.
func (l LLMConfig) Enabled() bool {
	return l.AnthropicAPIKey != ""
}

// Timeout returns the LLM HTTP timeout.
func (l LLMConfig) Timeout() time.Duration {
	return secondsOr(l.TimeoutSeconds, 60)
}

func secondsOr(val, fallback int) time.Duration {
	if val <= 0 {
		val = fallback
	}
	return time.Duration(val) * time.Second
}

// parsePairs reads "name=value,name=value".
func parsePairs(raw string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, value, ok := strings.Cut(pair, "=")
		name, value = strings.TrimSpace(name), strings.TrimSpace(value)
		if !ok || name == "" || value == "" {
			return nil, fmt.Errorf("expected name=value, got %q", pair)
		}
		out[name] = value
	}
	return out, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
