package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Config is the service configuration: defaults, then the YAML file, then the environment
type Config struct {
	Server struct {
		Port        int      `yaml:"port"`
		Mode        string   `yaml:"mode"`
		CORSOrigins []string `yaml:"cors_origins"`
	} `yaml:"server"`

	API struct {
		Endpoint       string `yaml:"endpoint"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"api"`

	Conversion struct {
		MaxConcurrent int    `yaml:"max_concurrent"`
		UploadDir     string `yaml:"upload_dir"`
		MaxUploadMB   int64  `yaml:"max_upload_mb"`
		RetentionHrs  int    `yaml:"retention_hours"`
	} `yaml:"conversion"`

	Notifications struct {
		DefaultDurationMs int `yaml:"default_duration_ms"`
		SuccessDurationMs int `yaml:"success_duration_ms"`
		ErrorDurationMs   int `yaml:"error_duration_ms"`
		HistorySize       int `yaml:"history_size"`
	} `yaml:"notifications"`

	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`

	SettingsPath string `yaml:"settings_path"`
}

// Default returns the configuration used when nothing else is provided
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Port = 8080
	cfg.Server.Mode = "release"
	cfg.Server.CORSOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	cfg.API.Endpoint = "http://localhost:9000"
	cfg.API.TimeoutSeconds = 300
	cfg.Conversion.MaxConcurrent = 3
	cfg.Conversion.UploadDir = filepath.Join(os.TempDir(), "anclora-uploads")
	cfg.Conversion.MaxUploadMB = 100
	cfg.Conversion.RetentionHrs = 24
	cfg.Notifications.DefaultDurationMs = 5000
	cfg.Notifications.SuccessDurationMs = 8000
	cfg.Notifications.ErrorDurationMs = 10000
	cfg.Notifications.HistorySize = 100
	cfg.SettingsPath = defaultSettingsPath()
	return cfg
}

// Load reads the configuration. An empty path skips the YAML file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if endpoint := os.Getenv("ANCLORA_API_ENDPOINT"); endpoint != "" {
		c.API.Endpoint = endpoint
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid SERVER_PORT %q: %w", port, err)
		}
		c.Server.Port = p
	}
	if mode := os.Getenv("GIN_MODE"); mode != "" {
		c.Server.Mode = mode
	}
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		c.Server.CORSOrigins = strings.Split(origins, ",")
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		c.Database.URL = dbURL
	}
	if uploads := os.Getenv("ANCLORA_UPLOADS"); uploads != "" {
		c.Conversion.UploadDir = uploads
	}
	if maxConcurrent := os.Getenv("ANCLORA_MAX_CONCURRENT"); maxConcurrent != "" {
		n, err := strconv.Atoi(maxConcurrent)
		if err != nil {
			return fmt.Errorf("invalid ANCLORA_MAX_CONCURRENT %q: %w", maxConcurrent, err)
		}
		c.Conversion.MaxConcurrent = n
	}
	if timeout := os.Getenv("ANCLORA_API_TIMEOUT"); timeout != "" {
		n, err := strconv.Atoi(timeout)
		if err != nil {
			return fmt.Errorf("invalid ANCLORA_API_TIMEOUT %q: %w", timeout, err)
		}
		c.API.TimeoutSeconds = n
	}
	if settings := os.Getenv("ANCLORA_SETTINGS"); settings != "" {
		c.SettingsPath = settings
	}
	return nil
}

// Validate rejects values the service cannot run with
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.API.Endpoint == "" {
		return fmt.Errorf("api endpoint is required")
	}
	if c.Conversion.MaxConcurrent < 1 {
		return fmt.Errorf("conversion.max_concurrent must be at least 1")
	}
	if c.Conversion.MaxUploadMB < 1 {
		return fmt.Errorf("conversion.max_upload_mb must be at least 1")
	}
	return nil
}

// APITimeout returns the per-conversion timeout; zero means none
func (c *Config) APITimeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

// DefaultDuration, SuccessDuration and ErrorDuration are the notification auto-close delays
func (c *Config) DefaultDuration() time.Duration {
	return time.Duration(c.Notifications.DefaultDurationMs) * time.Millisecond
}

func (c *Config) SuccessDuration() time.Duration {
	return time.Duration(c.Notifications.SuccessDurationMs) * time.Millisecond
}

func (c *Config) ErrorDuration() time.Duration {
	return time.Duration(c.Notifications.ErrorDurationMs) * time.Millisecond
}

// MaxUploadBytes is the largest accepted multipart body
func (c *Config) MaxUploadBytes() int64 {
	return c.Conversion.MaxUploadMB << 20
}

// UploadRetention is how long an orphaned upload is kept; zero disables sweeping
func (c *Config) UploadRetention() time.Duration {
	return time.Duration(c.Conversion.RetentionHrs) * time.Hour
}

// UploadLocation prefers the user's saved setting over the configured directory
func (c *Config) UploadLocation() string {
	if settings, err := LoadSettings(c.SettingsPath); err == nil && settings.UploadLocation != "" {
		return settings.UploadLocation
	}
	return c.Conversion.UploadDir
}
