// Package config loads the settings used by umeboshi.Open from YAML.
//
// Every field has a default, so an empty file (or Default()) yields a
// working in-memory setup. Durations are written as Go duration strings,
// for example "15s" or "1h".
package config

import (
	"bytes"
	"io"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/petrijr/umeboshi/internal/serializer"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

// Queue backends.
const (
	QueueMemory = "memory"
	QueueRedis  = "redis"
)

// Config is the root of the YAML document.
type Config struct {
	Storage    StorageConfig  `yaml:"storage"`
	Serializer string         `yaml:"serializer"`
	Dispatch   DispatchConfig `yaml:"dispatch"`
	Redis      RedisConfig    `yaml:"redis"`
	Log        LogConfig      `yaml:"log"`
	Retry      RetryConfig    `yaml:"retry"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"`
	// DSN is the SQL data source name or Mongo URI.
	DSN string `yaml:"dsn"`
	// Database is the Mongo database name.
	Database string `yaml:"database"`
}

type DispatchConfig struct {
	Schedule         string        `yaml:"schedule"`
	BatchSize        int           `yaml:"batch_size"`
	Workers          int           `yaml:"workers"`
	LockTTL          time.Duration `yaml:"lock_ttl"`
	LockWait         time.Duration `yaml:"lock_wait"`
	ExecutionTimeout time.Duration `yaml:"execution_timeout"`
	RatePerSecond    float64       `yaml:"rate_per_second"`
	// RedispatchAfter keeps the poller from enqueueing an id again within
	// this window. Negative enqueues on every tick.
	RedispatchAfter  time.Duration `yaml:"redispatch_after"`
	Queue            string        `yaml:"queue"`
	QueueCapacity    int           `yaml:"queue_capacity"`
}

// RedisConfig is shared by the redis queue and the redis locker. When Addr
// is empty, locks are held in process memory.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type LogConfig struct {
	// Level is a zerolog level name: trace, debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is "console" or "json".
	Format string `yaml:"format"`
}

type RetryConfig struct {
	// Delay is used when a Routine asks for a retry without a time.
	Delay time.Duration `yaml:"delay"`
}

// Default returns the configuration used when nothing is specified.
func Default() Config {
	return Config{
		Storage:    StorageConfig{Driver: DriverMemory},
		Serializer: serializer.DefaultName,
		Dispatch: DispatchConfig{
			Schedule:         "@every 1s",
			BatchSize:        500,
			Workers:          4,
			LockTTL:          15 * time.Second,
			ExecutionTimeout: 300 * time.Second,
			RedispatchAfter:  15 * time.Second,
			Queue:            QueueMemory,
			QueueCapacity:    1024,
		},
		Redis: RedisConfig{Prefix: "umeboshi:"},
		Log:   LogConfig{Level: "info", Format: "console"},
		Retry: RetryConfig{Delay: time.Hour},
	}
}

// Load reads the YAML file at path over Default and validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "config: read %s", path)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, errors.Wrapf(err, "config: %s", path)
	}
	return cfg, nil
}

// Parse decodes YAML over Default and validates the result. Unknown keys
// are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, errors.Wrap(err, "config: decode yaml")
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	c.Serializer = strings.ToLower(strings.TrimSpace(c.Serializer))
	c.Dispatch.Queue = strings.ToLower(strings.TrimSpace(c.Dispatch.Queue))
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres, DriverMongo:
		if c.Storage.DSN == "" {
			return errors.Newf("storage.dsn is required for driver %q", c.Storage.Driver)
		}
	default:
		return errors.WithHintf(
			errors.Newf("storage.driver %q is not supported", c.Storage.Driver),
			"use one of: %s, %s, %s, %s", DriverMemory, DriverSQLite, DriverPostgres, DriverMongo,
		)
	}

	if _, err := serializer.Lookup(c.Serializer); err != nil {
		return errors.Wrap(err, "serializer")
	}

	d := c.Dispatch
	if d.Workers < 0 {
		return errors.Newf("dispatch.workers must be >= 0, got %d", d.Workers)
	}
	if d.LockTTL < 0 {
		return errors.Newf("dispatch.lock_ttl must be >= 0, got %s", d.LockTTL)
	}
	if d.LockWait < 0 {
		return errors.Newf("dispatch.lock_wait must be >= 0, got %s", d.LockWait)
	}
	if d.RatePerSecond < 0 {
		return errors.Newf("dispatch.rate_per_second must be >= 0, got %f", d.RatePerSecond)
	}
	if d.BatchSize == 0 {
		return errors.WithHintf(
			errors.New("dispatch.batch_size must not be 0"),
			"use a negative value to read every due event per tick",
		)
	}
	switch d.Queue {
	case QueueMemory:
	case QueueRedis:
		if c.Redis.Addr == "" {
			return errors.New("redis.addr is required when dispatch.queue is redis")
		}
	default:
		return errors.Newf("dispatch.queue %q is not supported", d.Queue)
	}

	switch c.Log.Format {
	case "console", "json":
	default:
		return errors.Newf("log.format %q is not supported", c.Log.Format)
	}

	if c.Retry.Delay < 0 {
		return errors.Newf("retry.delay must be >= 0, got %s", c.Retry.Delay)
	}
	return nil
}
