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

// Config holds all certbatch configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Runs    RunsConfig    `yaml:"runs"`
	Photo   PhotoConfig   `yaml:"photo"`
	Render  RenderConfig  `yaml:"render"`
	Logging LoggingConfig `yaml:"logging"`
	Storage StorageConfig `yaml:"storage"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// RunsConfig configures per-run working directories.
type RunsConfig struct {
	Root          string        `yaml:"root"`
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// PhotoConfig configures photo loading, normalization and remote retrieval.
type PhotoConfig struct {
	MaxWidth     int           `yaml:"max_width"`
	Format       string        `yaml:"format"` // jpeg, png
	JPEGQuality  int           `yaml:"jpeg_quality"`
	MaxBytes     int64         `yaml:"max_bytes"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	FetchWorkers int           `yaml:"fetch_workers"`
	DriveBaseURL string        `yaml:"drive_base_url"`
}

// RenderConfig configures certificate rendering.
type RenderConfig struct {
	Workers     int      `yaml:"workers"`
	Template    string   `yaml:"template"`
	Signature   string   `yaml:"signature"`
	Domain      string   `yaml:"domain"`
	CertPrefix  string   `yaml:"cert_prefix"`
	BadgeX      float64  `yaml:"badge_x"`
	DefaultDate string   `yaml:"default_date"`
	QRSize      int      `yaml:"qr_size"`
	Rasterizer  string   `yaml:"rasterizer"` // builtin, command
	Command     []string `yaml:"command"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, console
}

// StorageConfig enables publishing packaged artifacts to a bucket. Empty bucket disables it.
type StorageConfig struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}

// Defaults returns a Config populated with working defaults.
func Defaults() Config {
	return Config{
		Server: ServerConfig{Addr: ":8080"},
		Runs: RunsConfig{
			Root:          "temp_runs",
			TTL:           time.Hour,
			SweepInterval: 10 * time.Minute,
		},
		Photo: PhotoConfig{
			MaxWidth:     800,
			Format:       "jpeg",
			JPEGQuality:  90,
			MaxBytes:     20 << 20,
			FetchTimeout: 8 * time.Second,
			FetchWorkers: 32,
			DriveBaseURL: "https://drive.google.com",
		},
		Render: RenderConfig{
			Workers:     4,
			Template:    "templates/certificate_template.svg",
			Signature:   "signature.png",
			Domain:      "http://localhost:8080",
			CertPrefix:  "AIK",
			BadgeX:      300,
			DefaultDate: "2024",
			QRSize:      300,
			Rasterizer:  "builtin",
			Command:     []string{"rsvg-convert", "--format=png"},
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads a YAML file over Defaults and applies environment overrides.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// GetEnv reads an environment variable or returns fallback.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// ApplyEnv overrides fields from CERTBATCH_* environment variables.
func (c *Config) ApplyEnv() error {
	c.Server.Addr = GetEnv("CERTBATCH_ADDR", c.Server.Addr)
	if port, ok := os.LookupEnv("PORT"); ok && port != "" {
		c.Server.Addr = ":" + port
	}
	c.Runs.Root = GetEnv("CERTBATCH_RUNS_ROOT", c.Runs.Root)
	c.Render.Template = GetEnv("CERTBATCH_TEMPLATE", c.Render.Template)
	c.Render.Signature = GetEnv("CERTBATCH_SIGNATURE", c.Render.Signature)
	c.Render.Domain = GetEnv("CERTBATCH_DOMAIN", c.Render.Domain)
	c.Render.Rasterizer = GetEnv("CERTBATCH_RASTERIZER", c.Render.Rasterizer)
	c.Logging.Level = GetEnv("CERTBATCH_LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = GetEnv("CERTBATCH_LOG_FORMAT", c.Logging.Format)
	c.Storage.Bucket = GetEnv("CERTBATCH_BUCKET", c.Storage.Bucket)
	c.Storage.Prefix = GetEnv("CERTBATCH_BUCKET_PREFIX", c.Storage.Prefix)

	if v, ok := os.LookupEnv("CERTBATCH_RENDER_WORKERS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CERTBATCH_RENDER_WORKERS: %w", err)
		}
		c.Render.Workers = n
	}
	if v, ok := os.LookupEnv("CERTBATCH_FETCH_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CERTBATCH_FETCH_TIMEOUT: %w", err)
		}
		c.Photo.FetchTimeout = d
	}
	if v, ok := os.LookupEnv("CERTBATCH_PHOTO_MAX_WIDTH"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CERTBATCH_PHOTO_MAX_WIDTH: %w", err)
		}
		c.Photo.MaxWidth = n
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.Render.Workers <= 0 {
		errs = append(errs, errors.New("render.workers must be positive"))
	}
	if c.Photo.FetchWorkers <= 0 {
		errs = append(errs, errors.New("photo.fetch_workers must be positive"))
	}
	if c.Photo.MaxWidth <= 0 {
		errs = append(errs, errors.New("photo.max_width must be positive"))
	}
	if c.Photo.FetchTimeout <= 0 {
		errs = append(errs, errors.New("photo.fetch_timeout must be positive"))
	}
	if c.Photo.JPEGQuality < 1 || c.Photo.JPEGQuality > 100 {
		errs = append(errs, errors.New("photo.jpeg_quality must be within 1..100"))
	}
	if c.Render.QRSize <= 0 {
		errs = append(errs, errors.New("render.qr_size must be positive"))
	}
	switch strings.ToLower(c.Photo.Format) {
	case "jpeg", "jpg", "png":
	default:
		errs = append(errs, fmt.Errorf("photo.format %q is not one of jpeg, png", c.Photo.Format))
	}
	switch c.Render.Rasterizer {
	case "builtin":
	case "command":
		if len(c.Render.Command) == 0 {
			errs = append(errs, errors.New("render.command is required for the command rasterizer"))
		}
	default:
		errs = append(errs, fmt.Errorf("render.rasterizer %q is not one of builtin, command", c.Render.Rasterizer))
	}
	return errors.Join(errs...)
}
