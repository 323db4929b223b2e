package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "PIPESERVE_"

// Flags holds command-line overrides and which of them were set.
type Flags struct {
	Addr   string
	DB     string
	Config string
	Engine string
	Set    map[string]bool
}

// EffectiveConfigResult is the merged configuration plus where it came from.
type EffectiveConfigResult struct {
	Config *Config
	Addr   string
	DBPath string
	Source string // "defaults", "config", "env" or "flags"
}

// LoadDotEnv loads .env style files when present. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	existing := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// LoadConfigFile reads and parses a YAML config file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// ParseConfigFile loads the file named by flags. A missing file that was not
// explicitly requested yields an empty config and found=false.
func ParseConfigFile(flags Flags) (*Config, bool, error) {
	path := flags.Config
	if path == "" {
		path = "./config.yaml"
	}
	cfg, err := LoadConfigFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !flags.Set["config"] {
			return &Config{}, false, nil
		}
		return nil, false, err
	}
	return cfg, true, nil
}

// ApplyEnv overlays PIPESERVE_* variables read through getenv onto cfg and
// reports whether any were set.
func ApplyEnv(cfg *Config, getenv func(string) string) (bool, error) {
	used := false
	get := func(k string) string {
		v := strings.TrimSpace(getenv(envPrefix + k))
		if v != "" {
			used = true
		}
		return v
	}

	parseList := func(v string) []string {
		parts := []string{}
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				parts = append(parts, s)
			}
		}
		return parts
	}
	parseBool := func(v string) bool {
		switch strings.ToLower(v) {
		case "1", "true", "yes":
			return true
		default:
			return false
		}
	}

	var errs []error
	setInt := func(k string, dst *int) {
		if v := get(k); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, k, err))
				return
			}
			*dst = n
		}
	}
	setDuration := func(k string, dst *Duration) {
		if v := get(k); v != "" {
			d, err := ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, k, err))
				return
			}
			*dst = d
		}
	}

	if v := get("ADDR"); v != "" {
		if h, p, err := net.SplitHostPort(v); err == nil {
			cfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				cfg.Server.Port = pi
			}
		} else {
			cfg.Server.Address = v
		}
	}
	if v := get("SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	setInt("SERVER_PORT", &cfg.Server.Port)
	if v := get("SERVER_ENGINE"); v != "" {
		cfg.Server.Engine = strings.ToLower(v)
	}
	if v := get("DB_PATH"); v != "" {
		cfg.Server.DBPath = v
	}

	if v := get("API_BACKEND_KEYS"); v != "" {
		cfg.Security.APIKeys.Backend = parseList(v)
	}
	if v := get("API_ADMIN_KEYS"); v != "" {
		cfg.Security.APIKeys.Admin = parseList(v)
	}
	if v := get("RATE_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sRATE_RPS: %w", envPrefix, err))
		} else {
			cfg.Security.RateLimit.RPS = f
		}
	}
	setInt("RATE_BURST", &cfg.Security.RateLimit.Burst)

	setDuration("PIPELINE_TIMEOUT", &cfg.Pipeline.Timeout)
	if v := get("PIPELINE_BODY_LIMIT"); v != "" {
		s, err := ParseSize(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sPIPELINE_BODY_LIMIT: %w", envPrefix, err))
		} else {
			cfg.Pipeline.BodyLimit = s
		}
	}
	setInt("PIPELINE_MAX_CONCURRENCY", &cfg.Pipeline.MaxConcurrency)

	if v := get("SESSION_HEADER"); v != "" {
		cfg.Session.Header = v
	}
	setDuration("SESSION_TTL", &cfg.Session.TTL)
	if v := get("SESSION_SWEEP_CRON"); v != "" {
		cfg.Session.SweepCron = v
	}
	if v := get("SESSION_POISON_POLICY"); v != "" {
		cfg.Session.PoisonPolicy = strings.ToLower(v)
	}

	setDuration("SHUTDOWN_DRAIN_TIMEOUT", &cfg.Shutdown.DrainTimeout)
	setDuration("SHUTDOWN_WORKER_TIMEOUT", &cfg.Shutdown.WorkerTimeout)

	setInt("WORKER_QUEUE_CAPACITY", &cfg.Worker.QueueCapacity)
	setInt("WORKER_COUNT", &cfg.Worker.Workers)

	if v := get("SENSOR_ENABLED"); v != "" {
		cfg.Sensor.Enabled = parseBool(v)
	}
	if v := get("SENSOR_PATH"); v != "" {
		cfg.Sensor.Path = v
	}
	setDuration("SENSOR_POLL_INTERVAL", &cfg.Sensor.PollInterval)
	setInt("SENSOR_DISK_HIGH_PCT", &cfg.Sensor.DiskHighPct)
	setInt("SENSOR_DISK_LOW_PCT", &cfg.Sensor.DiskLowPct)
	setInt("SENSOR_MEM_HIGH_PCT", &cfg.Sensor.MemHighPct)
	setDuration("SENSOR_RECOVERY_WINDOW", &cfg.Sensor.RecoveryWindow)

	setDuration("TELEMETRY_SLOW_THRESHOLD", &cfg.Telemetry.SlowThreshold)
	if v := get("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return used, errors.Join(errs...)
}

// Load merges defaults, the config file, the environment and flags, in
// increasing order of precedence, then validates the result.
func Load(flags Flags) (EffectiveConfigResult, error) {
	cfg, found, err := ParseConfigFile(flags)
	if err != nil {
		return EffectiveConfigResult{}, err
	}
	source := "defaults"
	if found {
		source = "config"
	}
	envUsed, err := ApplyEnv(cfg, os.Getenv)
	if err != nil {
		return EffectiveConfigResult{}, err
	}
	if envUsed {
		source = "env"
	}

	if flags.Set["addr"] && flags.Addr != "" {
		host, port, err := net.SplitHostPort(flags.Addr)
		if err != nil {
			return EffectiveConfigResult{}, fmt.Errorf("invalid --addr %q: %w", flags.Addr, err)
		}
		pi, err := strconv.Atoi(port)
		if err != nil {
			return EffectiveConfigResult{}, fmt.Errorf("invalid --addr port %q: %w", port, err)
		}
		cfg.Server.Address = host
		cfg.Server.Port = pi
		source = "flags"
	}
	if flags.Set["db"] && flags.DB != "" {
		cfg.Server.DBPath = flags.DB
		source = "flags"
	}
	if flags.Set["engine"] && flags.Engine != "" {
		cfg.Server.Engine = strings.ToLower(flags.Engine)
		source = "flags"
	}

	if err := ValidateConfig(cfg); err != nil {
		return EffectiveConfigResult{}, err
	}
	return EffectiveConfigResult{
		Config: cfg,
		Addr:   cfg.Addr(),
		DBPath: cfg.Server.DBPath,
		Source: source,
	}, nil
}

// Addr returns the listen address as host:port.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Address, strconv.Itoa(c.Server.Port))
}
