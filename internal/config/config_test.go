package config

import (
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// isolate runs the test from an empty directory with every key cleared, so
// neither a developer .env nor the CI environment leaks in.
func isolate(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(wd) })
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != "2020" {
		t.Errorf("expected default port 2020, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Errorf("expected development env, got %s", cfg.Env)
	}
	if cfg.MaxWorkers != 64 {
		t.Errorf("expected 64 workers, got %d", cfg.MaxWorkers)
	}
	if cfg.MatchThreshold != 0.8 {
		t.Errorf("expected threshold 0.8, got %v", cfg.MatchThreshold)
	}
	if cfg.MaxFastaBytes != 10*1024*1024 {
		t.Errorf("expected 10MB fasta ceiling, got %d", cfg.MaxFastaBytes)
	}
	if cfg.ReadTimeout != 30*time.Second {
		t.Errorf("expected 30s read timeout, got %s", cfg.ReadTimeout)
	}
	if !cfg.MetricsEnabled {
		t.Error("expected metrics to be enabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	isolate(t)
	t.Setenv("PORT", "3030")
	t.Setenv("MATCH_THRESHOLD", "0.95")
	t.Setenv("READ_TIMEOUT", "5s")
	t.Setenv("MAX_WORKERS", "8")
	t.Setenv("TLS_INSECURE", "true")
	t.Setenv("METRICS_ENABLED", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "3030" || cfg.ListenAddr() != ":3030" {
		t.Errorf("port not loaded from env: %s", cfg.Port)
	}
	if cfg.MatchThreshold != 0.95 {
		t.Errorf("expected threshold 0.95, got %v", cfg.MatchThreshold)
	}
	if cfg.ReadTimeout != 5*time.Second {
		t.Errorf("expected 5s, got %s", cfg.ReadTimeout)
	}
	if cfg.MaxWorkers != 8 {
		t.Errorf("expected 8 workers, got %d", cfg.MaxWorkers)
	}
	if !cfg.TLSInsecure {
		t.Error("expected TLS_INSECURE to be true")
	}
	if cfg.MetricsEnabled {
		t.Error("expected METRICS_ENABLED=false to disable metrics")
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	isolate(t)
	if err := os.WriteFile(".env", []byte("DATA_DIR=/srv/genomic\nADMIN_PORT=9090\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DataDir != "/srv/genomic" {
		t.Errorf("expected DATA_DIR from .env, got %s", cfg.DataDir)
	}
	if cfg.AdminPort != "9090" {
		t.Errorf("expected ADMIN_PORT from .env, got %s", cfg.AdminPort)
	}
	if cfg.ReportPath() != "/srv/genomic/reports/disease_detections.csv" {
		t.Errorf("unexpected report path %s", cfg.ReportPath())
	}
}

func TestConfig_IsDev(t *testing.T) {
	c := &Config{Env: "development"}
	if !c.IsDev() {
		t.Error("expected IsDev() to return true for development")
	}

	c.Env = "production"
	if c.IsDev() {
		t.Error("expected IsDev() to return false for production")
	}
	if !c.IsProduction() {
		t.Error("expected IsProduction() to return true for production")
	}
}

func TestConfig_Level(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"WARN", zerolog.WarnLevel},
		{"", zerolog.InfoLevel},
		{"chatty", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		c := &Config{LogLevel: tt.in}
		if got := c.Level(); got != tt.want {
			t.Errorf("Level(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func validConfig() *Config {
	return &Config{
		Port:           "2020",
		Env:            "development",
		DataDir:        "data",
		MaxWorkers:     64,
		MatchThreshold: 0.8,
		MaxFastaBytes:  1024,
		MaxFrameBytes:  2048,
		ReadTimeout:    time.Second,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid development", func(c *Config) {}, false},
		{"zero workers", func(c *Config) { c.MaxWorkers = 0 }, true},
		{"threshold above one", func(c *Config) { c.MatchThreshold = 1.5 }, true},
		{"threshold zero", func(c *Config) { c.MatchThreshold = 0 }, true},
		{"no data dir", func(c *Config) { c.DataDir = "" }, true},
		{"no read timeout", func(c *Config) { c.ReadTimeout = 0 }, true},
		{"cert without key", func(c *Config) { c.TLSCertFile = "cert.pem" }, true},
		{"production without cert", func(c *Config) { c.Env = "production" }, true},
		{"production with cert", func(c *Config) {
			c.Env = "production"
			c.TLSCertFile, c.TLSKeyFile = "cert.pem", "key.pem"
		}, false},
		{"production insecure client", func(c *Config) {
			c.Env = "production"
			c.TLSCertFile, c.TLSKeyFile = "cert.pem", "key.pem"
			c.TLSInsecure = true
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
