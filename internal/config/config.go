// Package config loads simon's configuration from defaults, an optional YAML
// file, an optional .env file and SIMON_* environment variables, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/HerbHall/simon/internal/aggregator"
	"github.com/HerbHall/simon/internal/sampler"
	"github.com/HerbHall/simon/internal/scheduler"
	"github.com/HerbHall/simon/internal/server"
)

// EnvPrefix is prepended to every environment override, e.g.
// SIMON_COLLECTION_INTERVAL=10s.
const EnvPrefix = "SIMON"

// Config is the complete simon configuration.
type Config struct {
	Server          ServerConfig     `mapstructure:"server" yaml:"server"`
	Collection      CollectionConfig `mapstructure:"collection" yaml:"collection"`
	Metrics         MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	Log             LogConfig        `mapstructure:"log" yaml:"log"`
	ShutdownTimeout time.Duration    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// ServerConfig holds the HTTP endpoint settings.
type ServerConfig struct {
	ListenAddress   string            `mapstructure:"listen_address" yaml:"listen_address"`
	ReadTimeout     time.Duration     `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration     `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration     `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	MaxConnections  int               `mapstructure:"max_connections" yaml:"max_connections"`
	ScrapeRateLimit float64           `mapstructure:"scrape_rate_limit" yaml:"scrape_rate_limit"`
	ScrapeBurst     int               `mapstructure:"scrape_burst" yaml:"scrape_burst"`
	BasicAuth       map[string]string `mapstructure:"basic_auth" yaml:"basic_auth,omitempty"`
}

// CollectionConfig controls what is sampled and how often.
type CollectionConfig struct {
	Interval          time.Duration `mapstructure:"interval" yaml:"interval"`
	CPUMode           string        `mapstructure:"cpu_mode" yaml:"cpu_mode"`
	Processes         bool          `mapstructure:"processes" yaml:"processes"`
	Network           bool          `mapstructure:"network" yaml:"network"`
	IgnoredInterfaces []string      `mapstructure:"ignored_interfaces" yaml:"ignored_interfaces"`
}

// MetricsConfig controls metric naming and the extra runtime collectors.
type MetricsConfig struct {
	Namespace         string `mapstructure:"namespace" yaml:"namespace"`
	RuntimeCollectors bool   `mapstructure:"runtime_collectors" yaml:"runtime_collectors"`
}

// LogConfig selects log verbosity and encoding.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

func setDefaults(v *viper.Viper) {
	srv := server.DefaultConfig()
	v.SetDefault("server.listen_address", srv.ListenAddress)
	v.SetDefault("server.read_timeout", srv.ReadTimeout)
	v.SetDefault("server.write_timeout", srv.WriteTimeout)
	v.SetDefault("server.idle_timeout", srv.IdleTimeout)
	v.SetDefault("server.max_connections", 64)
	v.SetDefault("server.scrape_rate_limit", 0)
	v.SetDefault("server.scrape_burst", 5)
	v.SetDefault("server.basic_auth", map[string]string{})

	v.SetDefault("collection.interval", scheduler.DefaultConfig().Interval)
	v.SetDefault("collection.cpu_mode", string(aggregator.CPUModeUsage))
	v.SetDefault("collection.processes", true)
	v.SetDefault("collection.network", true)
	v.SetDefault("collection.ignored_interfaces", []string{})

	v.SetDefault("metrics.namespace", aggregator.DefaultConfig().Namespace)
	v.SetDefault("metrics.runtime_collectors", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("shutdown_timeout", 10*time.Second)
}

// Load builds the configuration. An empty path searches for simon.yaml in the
// working directory and /etc/simon and silently falls back to defaults when
// none exists; an explicit path must exist.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("simon")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/simon")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

var namespacePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if _, _, err := net.SplitHostPort(c.Server.ListenAddress); err != nil {
		errs = append(errs, fmt.Errorf("server.listen_address %q: %w", c.Server.ListenAddress, err))
	}
	if c.Server.MaxConnections < 0 {
		errs = append(errs, errors.New("server.max_connections must not be negative"))
	}
	if c.Server.ScrapeRateLimit < 0 {
		errs = append(errs, errors.New("server.scrape_rate_limit must not be negative"))
	}
	for user, hash := range c.Server.BasicAuth {
		if user == "" {
			errs = append(errs, errors.New("server.basic_auth: empty user name"))
		}
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			errs = append(errs, fmt.Errorf("server.basic_auth.%s: not a bcrypt hash: %w", user, err))
		}
	}

	if c.Collection.Interval <= 0 {
		errs = append(errs, errors.New("collection.interval must be positive"))
	}
	switch aggregator.CPUMode(c.Collection.CPUMode) {
	case aggregator.CPUModeUsage, aggregator.CPUModeSeconds:
	default:
		errs = append(errs, fmt.Errorf("collection.cpu_mode %q: must be usage or seconds", c.Collection.CPUMode))
	}
	for _, pattern := range c.Collection.IgnoredInterfaces {
		if _, err := regexp.Compile(pattern); err != nil {
			errs = append(errs, fmt.Errorf("collection.ignored_interfaces %q: %w", pattern, err))
		}
	}

	if !namespacePattern.MatchString(c.Metrics.Namespace) {
		errs = append(errs, fmt.Errorf("metrics.namespace %q: must match %s", c.Metrics.Namespace, namespacePattern))
	}

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		errs = append(errs, fmt.Errorf("log.format %q: must be json or console", c.Log.Format))
	}

	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown_timeout must be positive"))
	}

	return errors.Join(errs...)
}

// YAML renders the effective configuration with password hashes redacted.
func (c *Config) YAML() ([]byte, error) {
	out := *c
	if len(c.Server.BasicAuth) > 0 {
		out.Server.BasicAuth = make(map[string]string, len(c.Server.BasicAuth))
		for user := range c.Server.BasicAuth {
			out.Server.BasicAuth[user] = "<redacted>"
		}
	}
	return yaml.Marshal(&out)
}

// SamplerConfig returns the sampler settings.
func (c *Config) SamplerConfig() sampler.Config {
	return sampler.Config{
		Processes:         c.Collection.Processes,
		Network:           c.Collection.Network,
		IgnoredInterfaces: c.Collection.IgnoredInterfaces,
	}
}

// AggregatorConfig returns the aggregator settings.
func (c *Config) AggregatorConfig() aggregator.Config {
	return aggregator.Config{
		Namespace: c.Metrics.Namespace,
		CPUMode:   aggregator.CPUMode(c.Collection.CPUMode),
	}
}

// SchedulerConfig returns the collection loop settings.
func (c *Config) SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		Interval:  c.Collection.Interval,
		Namespace: c.Metrics.Namespace,
	}
}

// ServerConfig returns the HTTP endpoint settings.
func (c *Config) ServerConfig() server.Config {
	return server.Config{
		ListenAddress:   c.Server.ListenAddress,
		ReadTimeout:     c.Server.ReadTimeout,
		WriteTimeout:    c.Server.WriteTimeout,
		IdleTimeout:     c.Server.IdleTimeout,
		MaxConnections:  c.Server.MaxConnections,
		ScrapeRateLimit: c.Server.ScrapeRateLimit,
		ScrapeBurst:     c.Server.ScrapeBurst,
		BasicAuth:       c.Server.BasicAuth,
	}
}
