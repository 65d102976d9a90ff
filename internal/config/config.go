package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fieldops/hnsync/internal/portal"
	"github.com/fieldops/hnsync/pkg/models"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration values
type Config struct {
	// Logging
	LogLevel string `yaml:"log_level"`
	JSONLog  bool   `yaml:"json_log"`

	// HTTP
	HTTPTimeout    time.Duration `yaml:"http_timeout"`
	Proxy          string        `yaml:"proxy"`
	UserAgents     []string      `yaml:"user_agents"`
	RateLimitRPS   float64       `yaml:"rate_limit_rps"`
	RateLimitBurst int           `yaml:"rate_limit_burst"`

	// Sync
	RequestLimit      int           `yaml:"request_limit"`
	MaxSecondaryPages int           `yaml:"max_secondary_pages"`
	MaxPageHops       int           `yaml:"max_page_hops"`
	PageDelay         time.Duration `yaml:"page_delay"`
	DetailWorkers     int           `yaml:"detail_workers"`
	TripReserve       int           `yaml:"trip_reserve"`
	SessionTTL        time.Duration `yaml:"session_ttl"`

	Portal PortalConfig `yaml:"portal"`

	// Storage
	DBPath      string `yaml:"db_path"`
	SecretStore string `yaml:"secret_store"`
	// SecretKey seals stored credentials. It is only read from the environment.
	SecretKey      string `yaml:"-"`
	RouteCacheSize int    `yaml:"route_cache_size"`

	// Routing provider
	DirectionsURL string `yaml:"directions_url"`
	DirectionsKey string `yaml:"directions_key"`

	ServerAddr string `yaml:"server_addr"`

	// Trips are the default trip settings for every user
	Trips models.TripSettings `yaml:"trips"`
}

// PortalConfig locates the portal pages
type PortalConfig struct {
	BaseURL    string `yaml:"base_url"`
	LoginPath  string `yaml:"login_path"`
	HomePath   string `yaml:"home_path"`
	DetailPath string `yaml:"detail_path"`
	FrameDir   string `yaml:"frame_dir"`
}

// Layout converts to the portal package's layout, filling gaps with defaults
func (p PortalConfig) Layout() portal.Config {
	return portal.Config{
		BaseURL:    p.BaseURL,
		LoginPath:  p.LoginPath,
		HomePath:   p.HomePath,
		DetailPath: p.DetailPath,
		FrameDir:   p.FrameDir,
	}.WithDefaults()
}

// Defaults returns the built-in configuration
func Defaults() *Config {
	dbPath := DefaultDBFile
	if home, err := os.UserHomeDir(); err == nil {
		dbPath = filepath.Join(home, DefaultDBFile)
	}

	layout := portal.DefaultConfig()
	return &Config{
		LogLevel:          DefaultLogLevel,
		JSONLog:           DefaultJSONLog,
		HTTPTimeout:       DefaultHTTPTimeout,
		RateLimitRPS:      DefaultRateLimitRPS,
		RateLimitBurst:    DefaultRateLimitBurst,
		RequestLimit:      DefaultRequestLimit,
		MaxSecondaryPages: DefaultMaxSecondaryPages,
		MaxPageHops:       DefaultMaxPageHops,
		PageDelay:         DefaultPageDelay,
		DetailWorkers:     DefaultDetailWorkers,
		TripReserve:       DefaultTripReserve,
		SessionTTL:        DefaultSessionTTL,
		Portal: PortalConfig{
			BaseURL:    layout.BaseURL,
			LoginPath:  layout.LoginPath,
			HomePath:   layout.HomePath,
			DetailPath: layout.DetailPath,
			FrameDir:   layout.FrameDir,
		},
		DBPath:         dbPath,
		SecretStore:    DefaultSecretStore,
		RouteCacheSize: DefaultRouteCacheSize,
		ServerAddr:     DefaultServerAddr,
		Trips: models.TripSettings{
			Cost: models.CostConfig{
				MPG:          DefaultMPG,
				GasPrice:     DefaultGasPrice,
				InstallPay:   DefaultInstallPay,
				RepairPay:    DefaultRepairPay,
				UpgradePay:   DefaultUpgradePay,
				PoleCharge:   DefaultPoleCharge,
				PoleCost:     DefaultPoleCost,
				ConcreteCost: DefaultConcreteCost,
			},
		},
	}
}

// Load builds a Config by combining defaults, an optional config file, environment variables, and CLI flags.
// Caller should pass the executing *cobra.Command so flags can be read.
func Load(cmd *cobra.Command) (*Config, error) {
	cfg := Defaults()

	path := os.Getenv(EnvPrefix + "CONFIG")
	if s := flagString(cmd, "config"); s != "" {
		path = s
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadEnv(); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}
	if err := cfg.loadFlags(cmd); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// loadFile overlays a YAML file. Keys absent from the file keep their value.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() error {
	var errs []error
	str := func(name string, dst *string) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}

	str("LOG_LEVEL", &c.LogLevel)
	str("PROXY", &c.Proxy)
	dur("TIMEOUT", &c.HTTPTimeout)
	num("REQUEST_LIMIT", &c.RequestLimit)
	num("DETAIL_WORKERS", &c.DetailWorkers)
	dur("SESSION_TTL", &c.SessionTTL)
	str("PORTAL_URL", &c.Portal.BaseURL)
	str("DB_PATH", &c.DBPath)
	str("SECRET_STORE", &c.SecretStore)
	str("SECRET_KEY", &c.SecretKey)
	str("DIRECTIONS_URL", &c.DirectionsURL)
	str("DIRECTIONS_KEY", &c.DirectionsKey)
	str("SERVER_ADDR", &c.ServerAddr)
	str("START_ADDRESS", &c.Trips.Routing.StartAddress)
	str("END_ADDRESS", &c.Trips.Routing.EndAddress)

	if v := os.Getenv(EnvPrefix + "USER_AGENTS"); v != "" {
		c.UserAgents = splitList(v)
	}
	if v := os.Getenv(EnvPrefix + "JSON_LOG"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sJSON_LOG: %w", EnvPrefix, err))
		} else {
			c.JSONLog = b
		}
	}
	return errors.Join(errs...)
}

// loadFlags applies only the flags the user actually set
func (c *Config) loadFlags(cmd *cobra.Command) error {
	if cmd == nil {
		return nil
	}

	if s := flagString(cmd, "proxy"); s != "" {
		c.Proxy = s
	}
	if s := flagString(cmd, "user-agent"); s != "" {
		c.UserAgents = []string{s}
	}
	if s := flagString(cmd, "db"); s != "" {
		c.DBPath = s
	}
	if s := flagString(cmd, "portal"); s != "" {
		c.Portal.BaseURL = s
	}
	if s := flagString(cmd, "timeout"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
		c.HTTPTimeout = d
	}
	if s := flagString(cmd, "request-limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("request-limit: %w", err)
		}
		c.RequestLimit = n
	}
	if flagString(cmd, "json") == "true" {
		c.JSONLog = true
	}
	if flagString(cmd, "quiet") == "true" {
		c.LogLevel = "error"
	}
	if flagString(cmd, "verbose") == "true" {
		c.LogLevel = "debug"
	}
	return nil
}

// flagString returns a flag's value when it was set on the command line
func flagString(cmd *cobra.Command, name string) string {
	if cmd == nil {
		return ""
	}
	f := cmd.Flags().Lookup(name)
	if f == nil || !f.Changed {
		return ""
	}
	return f.Value.String()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
