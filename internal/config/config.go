package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr    string   `yaml:"http_addr"`
	CORSOrigins []string `yaml:"cors_origins"`
	JWTSecret   string   `yaml:"jwt_secret"`
	// SeedSamples fills empty collections with sample records on first read.
	SeedSamples bool `yaml:"seed_samples"`

	DB DBConfig `yaml:"db"`

	OpenAIKey     string        `yaml:"openai_api_key"`
	OpenAIModel   string        `yaml:"openai_model"`
	OpenAIBaseURL string        `yaml:"openai_base_url"`
	OpenAITimeout time.Duration `yaml:"openai_timeout"`

	Monitor MonitorConfig `yaml:"monitor"`
	Log     LogConfig     `yaml:"log"`
}

type DBConfig struct {
	Driver     string `yaml:"driver"` // postgres | sqlite | memory
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	User       string `yaml:"user"`
	Password   string `yaml:"password"`
	Name       string `yaml:"name"`
	SQLitePath string `yaml:"sqlite_path"`
}

type MonitorConfig struct {
	Interval       time.Duration `yaml:"interval"`
	AlertCap       int           `yaml:"alert_cap"`
	TrendDays      int           `yaml:"trend_days"`
	ScheduleWindow time.Duration `yaml:"schedule_window"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | console
}

func Defaults() Config {
	return Config{
		HTTPAddr:    ":8080",
		CORSOrigins: []string{"*"},
		SeedSamples: true,
		DB: DBConfig{
			Driver:     "postgres",
			Port:       5432,
			SQLitePath: "compliance.db",
		},
		OpenAIModel:   "gpt-4o-mini",
		OpenAIBaseURL: "https://api.openai.com/v1",
		OpenAITimeout: 60 * time.Second,
		Monitor: MonitorConfig{
			Interval:       30 * time.Second,
			AlertCap:       50,
			TrendDays:      30,
			ScheduleWindow: 30 * 24 * time.Hour,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the config from defaults, then the YAML file at path (if any),
// then environment variables. An empty path falls back to APP_CONFIG.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		path = os.Getenv("APP_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(c *Config) {
	setString(&c.HTTPAddr, "HTTP_ADDR")
	setString(&c.JWTSecret, "JWT_SECRET")
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		c.CORSOrigins = origins
	}

	if v := os.Getenv("SEED_SAMPLES"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.SeedSamples = b
		}
	}

	setString(&c.DB.Driver, "DB_DRIVER")
	setString(&c.DB.Host, "DB_HOST")
	setString(&c.DB.User, "DB_USER")
	setString(&c.DB.Password, "DB_PASSWORD")
	setString(&c.DB.Name, "DB_NAME")
	setString(&c.DB.SQLitePath, "SQLITE_PATH")

	// Парсим DB_PORT
	if portStr := os.Getenv("DB_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			c.DB.Port = port
		}
	}

	setString(&c.OpenAIKey, "OPENAI_API_KEY")
	setString(&c.OpenAIModel, "OPENAI_MODEL")
	setString(&c.OpenAIBaseURL, "OPENAI_BASE_URL")

	if v := os.Getenv("MONITOR_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Monitor.Interval = d
		}
	}

	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")
}

func setString(dst *string, env string) {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		*dst = v
	}
}

func (c *Config) Validate() error {
	switch c.DB.Driver {
	case "postgres", "sqlite", "memory":
	default:
		return fmt.Errorf("unknown db driver %q", c.DB.Driver)
	}
	if c.JWTSecret == "" {
		return errors.New("missing required config: JWT secret (set JWT_SECRET)")
	}
	if c.Monitor.Interval <= 0 {
		return errors.New("monitor interval must be positive")
	}
	if c.Monitor.AlertCap <= 0 {
		return errors.New("monitor alert_cap must be positive")
	}
	return nil
}

// AIEnabled reports whether a real model endpoint is configured.
func (c *Config) AIEnabled() bool {
	return c.OpenAIKey != ""
}

// SQLDriver is the database/sql driver behind DB.Driver. "memory" runs on
// an in-process sqlite database that is lost on exit.
func (c *Config) SQLDriver() string {
	if c.DB.Driver == "memory" {
		return "sqlite"
	}
	return c.DB.Driver
}

func (c *Config) ConnString() string {
	switch c.DB.Driver {
	case "sqlite":
		return c.DB.SQLitePath
	case "memory":
		return ":memory:"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name,
	)
}
