package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	BackendURL           string `json:"backend_url" yaml:"backend_url"`
	APIToken             string `json:"api_token,omitempty" yaml:"api_token,omitempty"`
	UserID               string `json:"user_id" yaml:"user_id"`
	TeamLeader           bool   `json:"team_leader" yaml:"team_leader"`
	TeamID               string `json:"team_id" yaml:"team_id"`
	PollInterval         string `json:"poll_interval" yaml:"poll_interval"`
	RefreshEvery         int    `json:"refresh_every" yaml:"refresh_every"`
	RequestTimeout       string `json:"request_timeout" yaml:"request_timeout"`
	MaxConcurrentUpdates int    `json:"max_concurrent_updates" yaml:"max_concurrent_updates"`
	Timezone             string `json:"timezone" yaml:"timezone"`
	DBPath               string `json:"db_path" yaml:"db_path"`
	WebPort              int    `json:"web_port" yaml:"web_port"`
	LogLevel             string `json:"log_level" yaml:"log_level"`
	LogFile              string `json:"log_file,omitempty" yaml:"log_file,omitempty"`
}

func Default() Config {
	return Config{
		BackendURL:           "http://localhost:8080",
		PollInterval:         "1m",
		RefreshEvery:         5,
		RequestTimeout:       "15s",
		MaxConcurrentUpdates: 4,
		Timezone:             "Local",
		WebPort:              8080,
		LogLevel:             "info",
	}
}

func DefaultConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "socius", "config.json"), nil
}

func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	return os.MkdirAll(dir, 0o755)
}

func Load(path string) (Config, error) {
	config := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return Config{}, err
	}

	if isYAML(path) {
		err = yaml.Unmarshal(data, &config)
	} else {
		err = json.Unmarshal(data, &config)
	}
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return config, nil
}

func Save(path string, cfg Config) error {
	if err := EnsureDir(path); err != nil {
		return err
	}

	var data []byte
	var err error
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func (c Config) Validate() error {
	parsed, err := url.Parse(c.BackendURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid backend_url %q", c.BackendURL)
	}
	if _, err := c.PollEvery(); err != nil {
		return err
	}
	if _, err := c.Timeout(); err != nil {
		return err
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.RefreshEvery < 0 {
		return fmt.Errorf("refresh_every must not be negative")
	}
	return nil
}

func (c Config) PollEvery() (time.Duration, error) {
	return positiveDuration("poll_interval", c.PollInterval, time.Minute)
}

func (c Config) Timeout() (time.Duration, error) {
	return positiveDuration("request_timeout", c.RequestTimeout, 15*time.Second)
}

func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func positiveDuration(name, value string, fallback time.Duration) (time.Duration, error) {
	if strings.TrimSpace(value) == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be positive", name)
	}
	return parsed, nil
}
