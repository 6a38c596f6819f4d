package config

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/HerbHall/simon/internal/aggregator"
	"github.com/HerbHall/simon/internal/server"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "simon.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.ListenAddress != "0.0.0.0:9184" {
		t.Errorf("ListenAddress = %q, want %q", cfg.Server.ListenAddress, "0.0.0.0:9184")
	}
	if cfg.Collection.Interval != 5*time.Second {
		t.Errorf("Interval = %v, want 5s", cfg.Collection.Interval)
	}
	if cfg.Collection.CPUMode != "usage" {
		t.Errorf("CPUMode = %q, want usage", cfg.Collection.CPUMode)
	}
	if !cfg.Collection.Processes || !cfg.Collection.Network {
		t.Error("process and network collection should default to on")
	}
	if cfg.Metrics.Namespace != "simon" {
		t.Errorf("Namespace = %q, want simon", cfg.Metrics.Namespace)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v, want info/json", cfg.Log)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 10s", cfg.ShutdownTimeout)
	}
}

func TestLoadFile(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	path := writeConfig(t, `
server:
  listen_address: "127.0.0.1:9999"
  max_connections: 8
  scrape_rate_limit: 2.5
  basic_auth:
    prometheus: "`+string(hash)+`"
collection:
  interval: 15s
  cpu_mode: seconds
  processes: false
  ignored_interfaces: ["^lo$", "^veth"]
metrics:
  namespace: host
log:
  level: debug
  format: console
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.ListenAddress != "127.0.0.1:9999" {
		t.Errorf("ListenAddress = %q", cfg.Server.ListenAddress)
	}
	if cfg.Server.MaxConnections != 8 || cfg.Server.ScrapeRateLimit != 2.5 {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if _, ok := cfg.Server.BasicAuth["prometheus"]; !ok {
		t.Errorf("BasicAuth = %v, want prometheus user", cfg.Server.BasicAuth)
	}
	if cfg.Collection.Interval != 15*time.Second {
		t.Errorf("Interval = %v, want 15s", cfg.Collection.Interval)
	}
	if cfg.Collection.Processes {
		t.Error("Processes should be disabled by the file")
	}
	if !cfg.Collection.Network {
		t.Error("Network should keep its default")
	}
	if got := strings.Join(cfg.Collection.IgnoredInterfaces, ","); got != "^lo$,^veth" {
		t.Errorf("IgnoredInterfaces = %q", got)
	}

	if got := cfg.AggregatorConfig(); got.Namespace != "host" || got.CPUMode != aggregator.CPUModeSeconds {
		t.Errorf("AggregatorConfig() = %+v", got)
	}
	if got := cfg.SchedulerConfig(); got.Interval != 15*time.Second || got.Namespace != "host" {
		t.Errorf("SchedulerConfig() = %+v", got)
	}
	if got := cfg.SamplerConfig(); got.Processes || len(got.IgnoredInterfaces) != 2 {
		t.Errorf("SamplerConfig() = %+v", got)
	}
	if got := cfg.ServerConfig(); got.ListenAddress != "127.0.0.1:9999" || got.MaxConnections != 8 {
		t.Errorf("ServerConfig() = %+v", got)
	}
}

func TestLoadedBasicAuthIgnoresUserNameCase(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	path := writeConfig(t, `
server:
  basic_auth:
    Grafana: "`+string(hash)+`"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	h := server.New(cfg.ServerConfig(), prometheus.NewRegistry(), nil, zap.NewNop()).Handler()

	for _, user := range []string{"Grafana", "grafana", "GRAFANA"} {
		t.Run(user, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
			req.SetBasicAuth(user, "pw")
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			if w.Code != http.StatusOK {
				t.Errorf("status = %d, want 200", w.Code)
			}
		})
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
collection:
  interval: 15s
`)
	t.Setenv("SIMON_COLLECTION_INTERVAL", "30s")
	t.Setenv("SIMON_SERVER_LISTEN_ADDRESS", ":9100")
	t.Setenv("SIMON_COLLECTION_NETWORK", "false")
	t.Setenv("SIMON_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Collection.Interval != 30*time.Second {
		t.Errorf("Interval = %v, want env override 30s", cfg.Collection.Interval)
	}
	if cfg.Server.ListenAddress != ":9100" {
		t.Errorf("ListenAddress = %q, want :9100", cfg.Server.ListenAddress)
	}
	if cfg.Collection.Network {
		t.Error("Network should be disabled by env")
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want warn", cfg.Log.Level)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Load() should fail for a missing explicit config file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [unterminated")
	if _, err := Load(path); err == nil {
		t.Fatal("Load() should fail for malformed YAML")
	}
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	base, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero interval", func(c *Config) { c.Collection.Interval = 0 }, "collection.interval"},
		{"bad cpu mode", func(c *Config) { c.Collection.CPUMode = "ticks" }, "collection.cpu_mode"},
		{"bad listen address", func(c *Config) { c.Server.ListenAddress = "nohostport" }, "server.listen_address"},
		{"negative connections", func(c *Config) { c.Server.MaxConnections = -1 }, "server.max_connections"},
		{"negative rate", func(c *Config) { c.Server.ScrapeRateLimit = -1 }, "server.scrape_rate_limit"},
		{"plaintext password", func(c *Config) { c.Server.BasicAuth = map[string]string{"u": "hunter2"} }, "not a bcrypt hash"},
		{"bad interface pattern", func(c *Config) { c.Collection.IgnoredInterfaces = []string{"("} }, "collection.ignored_interfaces"},
		{"bad namespace", func(c *Config) { c.Metrics.Namespace = "9simon" }, "metrics.namespace"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"zero shutdown timeout", func(c *Config) { c.ShutdownTimeout = 0 }, "shutdown_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateReportsAllErrors(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() on zero config should fail")
	}
	var joined interface{ Unwrap() []error }
	if !errors.As(err, &joined) || len(joined.Unwrap()) < 5 {
		t.Errorf("expected several joined errors, got %v", err)
	}
}

func TestYAMLRedactsHashes(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cfg.Server.BasicAuth = map[string]string{"prometheus": "$2a$10$abcdefghijklmnopqrstuv"}

	out, err := cfg.YAML()
	if err != nil {
		t.Fatalf("YAML() error = %v", err)
	}
	if strings.Contains(string(out), "$2a$") {
		t.Error("YAML() must not print password hashes")
	}
	if cfg.Server.BasicAuth["prometheus"] == "<redacted>" {
		t.Error("YAML() must not modify the receiver")
	}

	var back struct {
		Collection struct {
			Interval string `yaml:"interval"`
		} `yaml:"collection"`
		Server struct {
			BasicAuth map[string]string `yaml:"basic_auth"`
		} `yaml:"server"`
	}
	if err := yaml.Unmarshal(out, &back); err != nil {
		t.Fatalf("unmarshal dump: %v", err)
	}
	if back.Collection.Interval != "5s" {
		t.Errorf("interval rendered as %q, want 5s", back.Collection.Interval)
	}
	if back.Server.BasicAuth["prometheus"] != "<redacted>" {
		t.Errorf("basic_auth = %v", back.Server.BasicAuth)
	}
}
