package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sandeepkv93/tasksched/internal/model"
)

type Config struct {
	DatabasePath    string        `mapstructure:"database_path"`
	Timezone        string        `mapstructure:"timezone"`
	MaxBackfillDays int           `mapstructure:"max_backfill_days"`
	DailyRunAt      string        `mapstructure:"daily_run_at"`
	InexactWindow   time.Duration `mapstructure:"inexact_window"`
	EngineBuffer    int           `mapstructure:"engine_buffer"`
	ExactAlarms     bool          `mapstructure:"exact_alarms"`
	LogDir          string        `mapstructure:"log_dir"`
	Debug           bool          `mapstructure:"debug"`
	HTTPAddr        string        `mapstructure:"http_addr"`
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	TelegramToken   string        `mapstructure:"telegram_token"`
	TelegramChatID  int64         `mapstructure:"telegram_chat_id"`
}

func Default() Config {
	return Config{
		DatabasePath:    "tasksched.db",
		Timezone:        "Local",
		MaxBackfillDays: 365,
		DailyRunAt:      "00:00",
		InexactWindow:   time.Minute,
		EngineBuffer:    64,
		ExactAlarms:     true,
		LogDir:          ".tasksched/logs",
		HTTPAddr:        "127.0.0.1:8085",
	}
}

// FromEnv overrides base with TASKSCHED_* variables. Unparsable values are
// ignored.
func FromEnv(base Config) Config {
	cfg := base
	if v, ok := getEnvString("TASKSCHED_DB_PATH"); ok {
		cfg.DatabasePath = v
	}
	if v, ok := getEnvString("TASKSCHED_TIMEZONE"); ok {
		cfg.Timezone = v
	}
	if v, ok := getEnvInt("TASKSCHED_MAX_BACKFILL_DAYS"); ok && v > 0 {
		cfg.MaxBackfillDays = v
	}
	if v, ok := getEnvString("TASKSCHED_DAILY_RUN_AT"); ok {
		cfg.DailyRunAt = v
	}
	if v, ok := getEnvDuration("TASKSCHED_INEXACT_WINDOW"); ok && v > 0 {
		cfg.InexactWindow = v
	}
	if v, ok := getEnvInt("TASKSCHED_ENGINE_BUFFER"); ok && v > 0 {
		cfg.EngineBuffer = v
	}
	if v, ok := getEnvBool("TASKSCHED_EXACT_ALARMS"); ok {
		cfg.ExactAlarms = v
	}
	if v, ok := getEnvString("TASKSCHED_LOG_DIR"); ok {
		cfg.LogDir = v
	}
	if v, ok := getEnvBool("TASKSCHED_DEBUG"); ok {
		cfg.Debug = v
	}
	if v, ok := getEnvString("TASKSCHED_HTTP_ADDR"); ok {
		cfg.HTTPAddr = v
	}
	if v, ok := getEnvString("TASKSCHED_REDIS_ADDR"); ok {
		cfg.RedisAddr = v
	}
	if v, ok := getEnvString("TASKSCHED_REDIS_PASSWORD"); ok {
		cfg.RedisPassword = v
	}
	if v, ok := getEnvInt("TASKSCHED_REDIS_DB"); ok && v >= 0 {
		cfg.RedisDB = v
	}
	if v, ok := getEnvString("TASKSCHED_TELEGRAM_TOKEN"); ok {
		cfg.TelegramToken = v
	}
	if v, ok := getEnvInt64("TASKSCHED_TELEGRAM_CHAT_ID"); ok {
		cfg.TelegramChatID = v
	}
	return cfg
}

// LoadFile merges a YAML file over base. Keys missing from the file keep
// their base value.
func LoadFile(path string, base Config) (Config, error) {
	cfg := base
	if _, err := os.Stat(path); err != nil {
		return cfg, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return base, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg, nil
}

// Location resolves Timezone. "Local" and "" mean the process location.
func (c Config) Location() (*time.Location, error) {
	switch strings.TrimSpace(c.Timezone) {
	case "", "Local":
		return time.Local, nil
	default:
		return time.LoadLocation(c.Timezone)
	}
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DatabasePath) == "" {
		errs = append(errs, errors.New("database_path is required"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("timezone: %w", err))
	}
	if c.MaxBackfillDays < 1 {
		errs = append(errs, fmt.Errorf("max_backfill_days must be positive, got %d", c.MaxBackfillDays))
	}
	if _, err := model.ParseTimeOfDay(c.DailyRunAt); err != nil {
		errs = append(errs, fmt.Errorf("daily_run_at: %w", err))
	}
	if c.InexactWindow < 0 {
		errs = append(errs, fmt.Errorf("inexact_window must not be negative, got %s", c.InexactWindow))
	}
	if c.EngineBuffer < 1 {
		errs = append(errs, fmt.Errorf("engine_buffer must be positive, got %d", c.EngineBuffer))
	}
	if c.TelegramToken != "" && c.TelegramChatID == 0 {
		errs = append(errs, errors.New("telegram_chat_id is required with telegram_token"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func getEnvString(name string) (string, bool) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return "", false
	}
	return raw, true
}

func getEnvInt(name string) (int, bool) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func getEnvInt64(name string) (int64, bool) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func getEnvDuration(name string) (time.Duration, bool) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return 0, false
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func getEnvBool(name string) (bool, bool) {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if raw == "" {
		return false, false
	}
	switch raw {
	case "1", "true", "yes", "y", "on":
		return true, true
	case "0", "false", "no", "n", "off":
		return false, true
	default:
		return false, false
	}
}
