package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.MaxBackfillDays != 365 || cfg.DailyRunAt != "00:00" {
		t.Fatalf("unexpected materialization defaults: %+v", cfg)
	}
	if cfg.InexactWindow != time.Minute || cfg.EngineBuffer != 64 || !cfg.ExactAlarms {
		t.Fatalf("unexpected delivery defaults: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("TASKSCHED_DB_PATH", "data/tasks.db")
	t.Setenv("TASKSCHED_TIMEZONE", "UTC")
	t.Setenv("TASKSCHED_MAX_BACKFILL_DAYS", "30")
	t.Setenv("TASKSCHED_DAILY_RUN_AT", "03:15")
	t.Setenv("TASKSCHED_INEXACT_WINDOW", "5m")
	t.Setenv("TASKSCHED_ENGINE_BUFFER", "128")
	t.Setenv("TASKSCHED_EXACT_ALARMS", "off")
	t.Setenv("TASKSCHED_DEBUG", "yes")
	t.Setenv("TASKSCHED_REDIS_ADDR", "localhost:6379")
	t.Setenv("TASKSCHED_TELEGRAM_CHAT_ID", "-1001234")

	cfg := FromEnv(Default())
	if cfg.DatabasePath != "data/tasks.db" || cfg.Timezone != "UTC" {
		t.Fatalf("unexpected storage overrides: %+v", cfg)
	}
	if cfg.MaxBackfillDays != 30 || cfg.DailyRunAt != "03:15" {
		t.Fatalf("unexpected materialization overrides: %+v", cfg)
	}
	if cfg.InexactWindow != 5*time.Minute || cfg.EngineBuffer != 128 || cfg.ExactAlarms {
		t.Fatalf("unexpected delivery overrides: %+v", cfg)
	}
	if !cfg.Debug || cfg.RedisAddr != "localhost:6379" || cfg.TelegramChatID != -1001234 {
		t.Fatalf("unexpected misc overrides: %+v", cfg)
	}
}

func TestFromEnvIgnoresBadValues(t *testing.T) {
	t.Setenv("TASKSCHED_MAX_BACKFILL_DAYS", "-4")
	t.Setenv("TASKSCHED_ENGINE_BUFFER", "lots")
	t.Setenv("TASKSCHED_EXACT_ALARMS", "maybe")
	t.Setenv("TASKSCHED_INEXACT_WINDOW", "soon")

	cfg := FromEnv(Default())
	if cfg != Default() {
		t.Fatalf("expected defaults to survive bad env values, got %+v", cfg)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "database_path: /var/lib/tasksched.db\nmax_backfill_days: 90\ninexact_window: 10m\nexact_alarms: false\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFile(path, Default())
	if err != nil {
		t.Fatalf("load file: %v", err)
	}
	if cfg.DatabasePath != "/var/lib/tasksched.db" || cfg.MaxBackfillDays != 90 {
		t.Fatalf("unexpected file values: %+v", cfg)
	}
	if cfg.InexactWindow != 10*time.Minute || cfg.ExactAlarms {
		t.Fatalf("unexpected delivery values: %+v", cfg)
	}
	if cfg.DailyRunAt != "00:00" || cfg.EngineBuffer != 64 {
		t.Fatalf("expected unset keys to keep defaults: %+v", cfg)
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"), Default()); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "empty db path", mutate: func(c *Config) { c.DatabasePath = " " }},
		{name: "bad timezone", mutate: func(c *Config) { c.Timezone = "Mars/Olympus" }},
		{name: "zero backfill", mutate: func(c *Config) { c.MaxBackfillDays = 0 }},
		{name: "bad run time", mutate: func(c *Config) { c.DailyRunAt = "24:00" }},
		{name: "zero buffer", mutate: func(c *Config) { c.EngineBuffer = 0 }},
		{name: "telegram without chat", mutate: func(c *Config) { c.TelegramToken = "token" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLocation(t *testing.T) {
	cfg := Default()
	cfg.Timezone = "UTC"
	loc, err := cfg.Location()
	if err != nil || loc != time.UTC {
		t.Fatalf("expected UTC, got %v %v", loc, err)
	}
}
