package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures environment driven configuration values for the reaper.
type Config struct {
	SQLiteDSN         string
	RedisURL          string
	NamespacePrefix   string
	PromptAgeMinutes  int
	ReapAgeMinutes    int
	PromptCron        string
	ReapCron          string
	PageSize          int
	HTTPPort          int
	LogLevel          string
	LogFormat         string
	WorkerConcurrency int
	PassTimeout       time.Duration
}

// Environment variable names.
const (
	EnvSQLiteDSN         = "ROBIN_SQLITE_DSN"
	EnvRedisURL          = "ROBIN_REDIS_URL"
	EnvNamespacePrefix   = "ROBIN_NAMESPACE_PREFIX"
	EnvPromptAgeMinutes  = "ROBIN_PROMPT_AGE_MINUTES"
	EnvReapAgeMinutes    = "ROBIN_REAP_AGE_MINUTES"
	EnvPromptCron        = "ROBIN_PROMPT_CRON"
	EnvReapCron          = "ROBIN_REAP_CRON"
	EnvPageSize          = "ROBIN_PAGE_SIZE"
	EnvHTTPPort          = "ROBIN_HTTP_PORT"
	EnvLogLevel          = "ROBIN_LOG_LEVEL"
	EnvLogFormat         = "ROBIN_LOG_FORMAT"
	EnvWorkerConcurrency = "ROBIN_WORKER_CONCURRENCY"
	EnvPassTimeout       = "ROBIN_PASS_TIMEOUT"
)

// Load parses configuration values from the current process environment.
//
// The loader applies defaults for optional fields and reports every invalid
// entry at once with a localized message.
func Load() (Config, error) {
	cfg := Config{
		SQLiteDSN:         "file:robin.db",
		NamespacePrefix:   "/robin",
		PromptAgeMinutes:  6,
		ReapAgeMinutes:    10,
		PromptCron:        "10-59/15 * * * *",
		ReapCron:          "*/15 * * * *",
		PageSize:          100,
		HTTPPort:          8080,
		LogLevel:          "info",
		LogFormat:         "json",
		WorkerConcurrency: 2,
		PassTimeout:       10 * time.Minute,
	}

	invalid := make([]string, 0, 2)

	stringVar(EnvSQLiteDSN, &cfg.SQLiteDSN)
	stringVar(EnvRedisURL, &cfg.RedisURL)
	stringVar(EnvNamespacePrefix, &cfg.NamespacePrefix)
	stringVar(EnvPromptCron, &cfg.PromptCron)
	stringVar(EnvReapCron, &cfg.ReapCron)

	invalid = positiveIntVar(EnvPromptAgeMinutes, &cfg.PromptAgeMinutes, invalid)
	invalid = positiveIntVar(EnvReapAgeMinutes, &cfg.ReapAgeMinutes, invalid)
	invalid = positiveIntVar(EnvPageSize, &cfg.PageSize, invalid)
	invalid = positiveIntVar(EnvHTTPPort, &cfg.HTTPPort, invalid)
	invalid = positiveIntVar(EnvWorkerConcurrency, &cfg.WorkerConcurrency, invalid)

	if value := strings.TrimSpace(os.Getenv(EnvPassTimeout)); value != "" {
		timeout, err := time.ParseDuration(value)
		if err != nil || timeout <= 0 {
			invalid = append(invalid, EnvPassTimeout)
		} else {
			cfg.PassTimeout = timeout
		}
	}

	if level := strings.ToLower(strings.TrimSpace(os.Getenv(EnvLogLevel))); level != "" {
		switch level {
		case "debug", "info", "warn", "error":
			cfg.LogLevel = level
		default:
			invalid = append(invalid, EnvLogLevel)
		}
	}

	if format := strings.ToLower(strings.TrimSpace(os.Getenv(EnvLogFormat))); format != "" {
		switch format {
		case "json", "text":
			cfg.LogFormat = format
		default:
			invalid = append(invalid, EnvLogFormat)
		}
	}

	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("環境変数の値が不正です: %s", strings.Join(invalid, ", "))
	}
	if err := cfg.ValidateAges(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// ValidateAges checks that rooms are prompted before they become ripe for reaping.
func (c Config) ValidateAges() error {
	if c.PromptAgeMinutes <= 0 || c.ReapAgeMinutes <= 0 {
		return fmt.Errorf("経過時間は正の整数で指定してください: prompt=%d, reap=%d", c.PromptAgeMinutes, c.ReapAgeMinutes)
	}
	if c.ReapAgeMinutes <= c.PromptAgeMinutes {
		return fmt.Errorf("%s は %s より大きい値を指定してください: prompt=%d, reap=%d",
			EnvReapAgeMinutes, EnvPromptAgeMinutes, c.PromptAgeMinutes, c.ReapAgeMinutes)
	}
	return nil
}

// RequireRedis reports an error when no Redis URL is configured.
func (c Config) RequireRedis() error {
	if strings.TrimSpace(c.RedisURL) == "" {
		return fmt.Errorf("必須の環境変数が設定されていません: %s", EnvRedisURL)
	}
	return nil
}

func stringVar(key string, target *string) {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		*target = value
	}
}

func positiveIntVar(key string, target *int, invalid []string) []string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return invalid
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return append(invalid, key)
	}
	*target = parsed
	return invalid
}
