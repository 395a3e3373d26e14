// Package config loads service settings from a YAML file, then applies
// LEDGER_* environment overrides, then validates the result.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"

	GatewayNotary = "notary"
	GatewayNATS   = "nats"

	LockLocal = "local"
	LockRedis = "redis"
)

// LockExpiryMargin is the minimum headroom of lock.expiry over
// gateway.timeout for redis locks.
const LockExpiryMargin = 5 * time.Second

type Config struct {
	HTTP    HTTPConfig    `yaml:"http"`
	Store   StoreConfig   `yaml:"store"`
	Gateway GatewayConfig `yaml:"gateway"`
	Lock    LockConfig    `yaml:"lock"`
	Events  EventsConfig  `yaml:"events"`
	Ledger  LedgerConfig  `yaml:"ledger"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	MetricsAddr     string        `yaml:"metrics_addr"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// JWTSecret enables bearer auth on mutating routes when set.
	JWTSecret string `yaml:"jwt_secret"`
}

type StoreConfig struct {
	Driver       string `yaml:"driver"`
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

type GatewayConfig struct {
	Mode         string        `yaml:"mode"`
	NotarySecret string        `yaml:"notary_secret"`
	NATSURL      string        `yaml:"nats_url"`
	Subject      string        `yaml:"subject"`
	Queue        string        `yaml:"queue"`
	Timeout      time.Duration `yaml:"timeout"`
	Breaker      BreakerConfig `yaml:"breaker"`
}

type BreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

type LockConfig struct {
	Driver    string        `yaml:"driver"`
	RedisAddr string        `yaml:"redis_addr"`
	Expiry    time.Duration `yaml:"expiry"`
	Tries     int           `yaml:"tries"`
}

type EventsConfig struct {
	Workers     int    `yaml:"workers"`
	QueueSize   int    `yaml:"queue_size"`
	PublishNATS bool   `yaml:"publish_nats"`
	Subject     string `yaml:"subject"`
}

type LedgerConfig struct {
	// AllowPartialTransfer lets a transfer proceed when only one account
	// exists. A transfer where neither exists always fails.
	AllowPartialTransfer bool  `yaml:"allow_partial_transfer"`
	MaxAmount            int64 `yaml:"max_amount"`
}

func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			MetricsAddr:     ":9090",
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Driver:       StoreMemory,
			MaxOpenConns: 10,
		},
		Gateway: GatewayConfig{
			Mode:    GatewayNotary,
			Subject: "ledger.submit",
			Queue:   "ledger-notaries",
			Timeout: 10 * time.Second,
			Breaker: BreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				OpenTimeout: 30 * time.Second,
			},
		},
		Lock: LockConfig{
			Driver: LockLocal,
			Expiry: 30 * time.Second,
			Tries:  32,
		},
		Events: EventsConfig{
			Workers:   2,
			QueueSize: 1000,
			Subject:   "ledger.committed",
		},
	}
}

// Load starts from Default, merges the YAML file at path (if any) and the
// environment, and validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		if err := cfg.MergeYAML(f); err != nil {
			return nil, err
		}
	}

	if err := cfg.MergeEnv(); err != nil {
		return nil, err
	}

	if err := cfg.IsValid(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MergeYAML expands ${VAR} and ${VAR:-default} references before decoding.
// A referenced variable without a default must be set.
func (c *Config) MergeYAML(src io.Reader) error {
	raw, err := io.ReadAll(src)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	var missing []string
	expanded := os.Expand(string(raw), func(key string) string {
		if i := strings.Index(key, ":-"); i != -1 {
			if val, ok := os.LookupEnv(key[:i]); ok {
				return val
			}
			return key[i+2:]
		}
		val, ok := os.LookupEnv(key)
		if !ok {
			missing = append(missing, key)
		}
		return val
	})
	if len(missing) > 0 {
		return fmt.Errorf("config expects environment variables %v", missing)
	}

	if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	return nil
}

type envMapping func(c *Config, val string) error

var envMappings = map[string]envMapping{
	"LEDGER_HTTP_ADDR":    func(c *Config, v string) error { c.HTTP.Addr = v; return nil },
	"LEDGER_METRICS_ADDR": func(c *Config, v string) error { c.HTTP.MetricsAddr = v; return nil },
	"LEDGER_JWT_SECRET":   func(c *Config, v string) error { c.HTTP.JWTSecret = v; return nil },
	"LEDGER_STORE_DRIVER": func(c *Config, v string) error { c.Store.Driver = v; return nil },
	"LEDGER_DATABASE_URL": func(c *Config, v string) error { c.Store.DSN = v; return nil },
	"LEDGER_GATEWAY_MODE": func(c *Config, v string) error { c.Gateway.Mode = v; return nil },
	"LEDGER_NOTARY_SECRET": func(c *Config, v string) error {
		c.Gateway.NotarySecret = v
		return nil
	},
	"LEDGER_NATS_URL":    func(c *Config, v string) error { c.Gateway.NATSURL = v; return nil },
	"LEDGER_LOCK_DRIVER": func(c *Config, v string) error { c.Lock.Driver = v; return nil },
	"LEDGER_REDIS_ADDR":  func(c *Config, v string) error { c.Lock.RedisAddr = v; return nil },
	"LEDGER_ALLOW_PARTIAL_TRANSFER": func(c *Config, v string) error {
		return mapBool(&c.Ledger.AllowPartialTransfer, v)
	},
	"LEDGER_EVENT_WORKERS": func(c *Config, v string) error {
		return mapInt(&c.Events.Workers, v)
	},
	"LEDGER_REQUEST_TIMEOUT": func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		c.HTTP.RequestTimeout = d
		return nil
	},
}

// MergeEnv applies every set LEDGER_* variable and reports all bad values
// at once.
func (c *Config) MergeEnv() error {
	var errs error
	for key, apply := range envMappings {
		val, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		if err := apply(c, val); err != nil {
			errs = errors.Join(errs, fmt.Errorf("env %s: %w", key, err))
		}
	}
	return errs
}

func (c *Config) IsValid() error {
	var errs []error

	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.HTTP.RequestTimeout <= 0 {
		errs = append(errs, errors.New("http.request_timeout must be positive"))
	}

	switch c.Store.Driver {
	case StoreMemory:
	case StorePostgres:
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}

	switch c.Gateway.Mode {
	case GatewayNotary:
		if c.Gateway.NotarySecret == "" {
			errs = append(errs, errors.New("gateway.notary_secret is required in notary mode"))
		}
	case GatewayNATS:
		if c.Gateway.NATSURL == "" {
			errs = append(errs, errors.New("gateway.nats_url is required in nats mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown gateway.mode %q", c.Gateway.Mode))
	}
	if c.Gateway.Timeout <= 0 {
		errs = append(errs, errors.New("gateway.timeout must be positive"))
	}

	switch c.Lock.Driver {
	case LockLocal:
	case LockRedis:
		if c.Lock.RedisAddr == "" {
			errs = append(errs, errors.New("lock.redis_addr is required for redis locks"))
		}
		// the lock spans the ledger round trip plus the store reads and writes
		if c.Lock.Expiry < c.Gateway.Timeout+LockExpiryMargin {
			errs = append(errs, fmt.Errorf("lock.expiry %s must exceed gateway.timeout %s by at least %s",
				c.Lock.Expiry, c.Gateway.Timeout, LockExpiryMargin))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown lock.driver %q", c.Lock.Driver))
	}

	if c.Events.PublishNATS && c.Gateway.NATSURL == "" {
		errs = append(errs, errors.New("events.publish_nats needs gateway.nats_url"))
	}
	if c.Ledger.MaxAmount < 0 {
		errs = append(errs, errors.New("ledger.max_amount cannot be negative"))
	}

	return errors.Join(errs...)
}

func mapInt(tgt *int, val string) error {
	i, err := strconv.Atoi(val)
	if err != nil {
		return err
	}
	*tgt = i
	return nil
}

func mapBool(tgt *bool, val string) error {
	b, err := strconv.ParseBool(val)
	if err != nil {
		return err
	}
	*tgt = b
	return nil
}
