package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`
	DataDir        string        `mapstructure:"DATA_DIR"`
	DiseaseDBDir   string        `mapstructure:"DISEASE_DB_DIR"`
	TLSCertFile    string        `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile     string        `mapstructure:"TLS_KEY_FILE"`
	TLSCAFile      string        `mapstructure:"TLS_CA_FILE"`
	TLSInsecure    bool          `mapstructure:"TLS_INSECURE"`
	MaxWorkers     int64         `mapstructure:"MAX_WORKERS"`
	MatchThreshold float64       `mapstructure:"MATCH_THRESHOLD"`
	MaxFastaBytes  int64         `mapstructure:"MAX_FASTA_BYTES"`
	MaxFrameBytes  int           `mapstructure:"MAX_FRAME_BYTES"`
	ReadTimeout    time.Duration `mapstructure:"READ_TIMEOUT"`
	AdminPort      string        `mapstructure:"ADMIN_PORT"`
	MetricsEnabled bool          `mapstructure:"METRICS_ENABLED"`
	ServerAddr     string        `mapstructure:"SERVER_ADDR"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "DATA_DIR", "DISEASE_DB_DIR",
	"TLS_CERT_FILE", "TLS_KEY_FILE", "TLS_CA_FILE", "TLS_INSECURE",
	"MAX_WORKERS", "MATCH_THRESHOLD", "MAX_FASTA_BYTES", "MAX_FRAME_BYTES",
	"READ_TIMEOUT", "ADMIN_PORT", "METRICS_ENABLED", "SERVER_ADDR",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "2020")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DATA_DIR", "data")
	v.SetDefault("DISEASE_DB_DIR", "disease_db")
	v.SetDefault("TLS_INSECURE", false)
	v.SetDefault("MAX_WORKERS", 64)
	v.SetDefault("MATCH_THRESHOLD", 0.8)
	v.SetDefault("MAX_FASTA_BYTES", 10*1024*1024)
	v.SetDefault("MAX_FRAME_BYTES", 16*1024*1024)
	v.SetDefault("READ_TIMEOUT", "30s")
	v.SetDefault("ADMIN_PORT", "")
	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("SERVER_ADDR", "localhost:2020")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ListenAddr is the address of the protocol listener.
func (c *Config) ListenAddr() string {
	return ":" + c.Port
}

// ReportPath is where disease detections are appended.
func (c *Config) ReportPath() string {
	return filepath.Join(c.DataDir, "reports", "disease_detections.csv")
}

// Level parses LOG_LEVEL, falling back to info.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Validate checks that the server configuration is usable. Outside
// development a certificate and key are mandatory, since a self-signed
// certificate is only generated for local runs.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("DATA_DIR is required")
	}
	if c.MaxWorkers <= 0 {
		return fmt.Errorf("MAX_WORKERS must be positive, got %d", c.MaxWorkers)
	}
	if c.MatchThreshold <= 0 || c.MatchThreshold > 1 {
		return fmt.Errorf("MATCH_THRESHOLD must be in (0, 1], got %v", c.MatchThreshold)
	}
	if c.MaxFastaBytes <= 0 {
		return fmt.Errorf("MAX_FASTA_BYTES must be positive, got %d", c.MaxFastaBytes)
	}
	if c.MaxFrameBytes <= 0 {
		return fmt.Errorf("MAX_FRAME_BYTES must be positive, got %d", c.MaxFrameBytes)
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("READ_TIMEOUT must be positive, got %s", c.ReadTimeout)
	}

	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return fmt.Errorf("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}
	if !c.IsDev() && c.TLSCertFile == "" {
		return fmt.Errorf("TLS_CERT_FILE and TLS_KEY_FILE are required when ENV=%q", c.Env)
	}
	if c.IsProduction() && c.TLSInsecure {
		return fmt.Errorf("TLS_INSECURE must not be enabled in production")
	}
	return nil
}
