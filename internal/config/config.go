// Package config loads process configuration from defaults, an optional YAML
// file and SCHEDULER_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "SCHEDULER"

var ErrMissingToken = errors.New("SCHEDULER_HOOKS_TOKEN not set")

type Config struct {
	TasksDir    string
	FilePattern string

	Gateway   string
	HooksPath string
	Token     string

	CheckInterval   time.Duration
	TZOffset        string
	Location        *time.Location
	DispatchTimeout time.Duration
	DispatchRate    float64

	AdminAddr        string
	HistoryDB        string
	HistoryRetention time.Duration

	LogLevel  string
	LogFormat string
}

func defaults(v *viper.Viper) {
	v.SetDefault("tasks_dir", "/var/lib/hooksched")
	v.SetDefault("file_pattern", "tasks-*.json")
	v.SetDefault("gateway", "http://127.0.0.1:18789")
	v.SetDefault("hooks_path", "/hooks")
	v.SetDefault("hooks_token", "")
	v.SetDefault("check_interval", "30s")
	v.SetDefault("tz_offset", "+03:00")
	v.SetDefault("dispatch_timeout", "30s")
	v.SetDefault("dispatch_rate", 0)
	v.SetDefault("admin_addr", "")
	v.SetDefault("history_db", "")
	v.SetDefault("history_retention", "720h")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
}

// Load reads the configuration. path may be empty, in which case only
// defaults and the environment apply.
func Load(path string) (Config, error) {
	v := viper.New()
	defaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := Config{
		TasksDir:     v.GetString("tasks_dir"),
		FilePattern:  v.GetString("file_pattern"),
		Gateway:      v.GetString("gateway"),
		HooksPath:    v.GetString("hooks_path"),
		Token:        v.GetString("hooks_token"),
		TZOffset:     v.GetString("tz_offset"),
		DispatchRate: v.GetFloat64("dispatch_rate"),
		AdminAddr:    v.GetString("admin_addr"),
		HistoryDB:    v.GetString("history_db"),
		LogLevel:     v.GetString("log_level"),
		LogFormat:    v.GetString("log_format"),
	}
	for key, dst := range map[string]*time.Duration{
		"check_interval":    &cfg.CheckInterval,
		"dispatch_timeout":  &cfg.DispatchTimeout,
		"history_retention": &cfg.HistoryRetention,
	} {
		d, err := seconds(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
	}
	return cfg, cfg.resolve()
}

// seconds parses a duration setting. A bare number is a count of seconds, so
// SCHEDULER_CHECK_INTERVAL=30 means 30s.
func seconds(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(f * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}

func (c *Config) resolve() error {
	loc, err := ParseOffset(c.TZOffset)
	if err != nil {
		return err
	}
	c.Location = loc
	return nil
}

// Validate checks the settings the scheduler cannot run without.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Token) == "" {
		return ErrMissingToken
	}
	if c.CheckInterval < time.Second {
		return fmt.Errorf("check_interval must be at least 1s, got %s", c.CheckInterval)
	}
	if c.DispatchTimeout < time.Second {
		return fmt.Errorf("dispatch_timeout must be at least 1s, got %s", c.DispatchTimeout)
	}
	if c.DispatchRate < 0 {
		return fmt.Errorf("dispatch_rate must not be negative, got %v", c.DispatchRate)
	}
	if strings.TrimSpace(c.TasksDir) == "" {
		return errors.New("tasks_dir is required")
	}
	if c.Location == nil {
		return errors.New("tz_offset not resolved")
	}
	return nil
}

// ParseOffset turns "+03:00", "-0530", "+3", "UTC" or "Z" into a fixed zone.
func ParseOffset(s string) (*time.Location, error) {
	s = strings.TrimSpace(s)
	switch strings.ToUpper(s) {
	case "", "Z", "UTC":
		return time.UTC, nil
	}
	if s[0] != '+' && s[0] != '-' {
		return nil, fmt.Errorf("invalid tz_offset %q", s)
	}
	sign := 1
	if s[0] == '-' {
		sign = -1
	}
	body := s[1:]
	var hh, mm string
	switch {
	case strings.Contains(body, ":"):
		hh, mm, _ = strings.Cut(body, ":")
	case len(body) == 4:
		hh, mm = body[:2], body[2:]
	default:
		hh, mm = body, "0"
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 14 {
		return nil, fmt.Errorf("invalid tz_offset %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return nil, fmt.Errorf("invalid tz_offset %q", s)
	}
	secs := sign * (h*3600 + m*60)
	if secs == 0 {
		return time.UTC, nil
	}
	return time.FixedZone(s, secs), nil
}
