package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Security  SecurityConfig  `yaml:"security"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Session   SessionConfig   `yaml:"session"`
	Shutdown  ShutdownConfig  `yaml:"shutdown"`
	Worker    WorkerConfig    `yaml:"worker"`
	Sensor    SensorConfig    `yaml:"sensor"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds listener and storage settings.
type ServerConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
	// Engine selects the inbound transport: "fasthttp" or "nethttp".
	Engine string `yaml:"engine"`
	DBPath string `yaml:"db_path"`
}

// SecurityConfig holds api keys and rate limits.
type SecurityConfig struct {
	APIKeys struct {
		Backend []string `yaml:"backend"`
		Admin   []string `yaml:"admin"`
	} `yaml:"api_keys"`
	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
}

// PipelineConfig bounds every invocation passing through the pipeline.
type PipelineConfig struct {
	Timeout        Duration  `yaml:"timeout"`
	BodyLimit      SizeBytes `yaml:"body_limit"`
	MaxConcurrency int       `yaml:"max_concurrency"`
}

type SessionConfig struct {
	Header    string   `yaml:"header"`
	TTL       Duration `yaml:"ttl"`
	SweepCron string   `yaml:"sweep_cron"`
	// PoisonPolicy is "evict" or "repair".
	PoisonPolicy string `yaml:"poison_policy"`
}

type ShutdownConfig struct {
	DrainTimeout  Duration `yaml:"drain_timeout"`
	WorkerTimeout Duration `yaml:"worker_timeout"`
}

// WorkerConfig controls the audit queue and its consumers.
type WorkerConfig struct {
	QueueCapacity int `yaml:"queue_capacity"`
	Workers       int `yaml:"workers"`
}

// SensorConfig holds resource pressure thresholds.
type SensorConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Path           string   `yaml:"path"`
	PollInterval   Duration `yaml:"poll_interval"`
	DiskHighPct    int      `yaml:"disk_high_pct"`
	DiskLowPct     int      `yaml:"disk_low_pct"`
	MemHighPct     int      `yaml:"mem_high_pct"`
	RecoveryWindow Duration `yaml:"recovery_window"`
}

// TelemetryConfig controls slow-request reporting.
type TelemetryConfig struct {
	SlowThreshold Duration `yaml:"slow_threshold"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly strings like "64MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	v, err := ParseSize(node.Value)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s SizeBytes) Int64() int64 { return int64(s) }

func (s SizeBytes) MarshalYAML() (any, error) { return int64(s), nil }

func (s SizeBytes) String() string { return humanize.Bytes(uint64(s)) }

// ParseSize accepts "1MB", "512KiB" or a plain byte count.
func ParseSize(raw string) (SizeBytes, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return SizeBytes(i), nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		return SizeBytes(v), nil
	}
	return 0, fmt.Errorf("invalid size value: %q", raw)
}

// Duration is a wrapper around time.Duration that supports YAML parsing from strings like "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = 0
		return nil
	}
	v, err := ParseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }

func (d Duration) String() string { return time.Duration(d).String() }

// ParseDuration accepts Go duration syntax or a number of seconds.
func ParseDuration(raw string) (Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		return Duration(td), nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return Duration(time.Duration(f * float64(time.Second))), nil
	}
	return 0, fmt.Errorf("invalid duration value: %q", raw)
}
