package config

import (
	"fmt"

	"github.com/adhocore/gronx"
)

// ValidateConfig applies defaults and fails fast on invalid values.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	ApplyDefaults(cfg)

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", cfg.Server.Port)
	}
	switch cfg.Server.Engine {
	case EngineFastHTTP, EngineNetHTTP:
	default:
		return fmt.Errorf("server.engine must be %q or %q, got %q", EngineFastHTTP, EngineNetHTTP, cfg.Server.Engine)
	}
	if cfg.Security.RateLimit.RPS < 0 || cfg.Security.RateLimit.Burst < 0 {
		return fmt.Errorf("security.rate_limit values must not be negative")
	}
	if cfg.Pipeline.Timeout < 0 || cfg.Pipeline.BodyLimit < 0 || cfg.Pipeline.MaxConcurrency < 0 {
		return fmt.Errorf("pipeline limits must not be negative")
	}
	if cfg.Session.TTL < 0 {
		return fmt.Errorf("session.ttl must not be negative")
	}
	if !gronx.New().IsValid(cfg.Session.SweepCron) {
		return fmt.Errorf("invalid session.sweep_cron: %q is not a valid cron expression", cfg.Session.SweepCron)
	}
	switch cfg.Session.PoisonPolicy {
	case PoisonEvict, PoisonRepair:
	default:
		return fmt.Errorf("session.poison_policy must be %q or %q, got %q", PoisonEvict, PoisonRepair, cfg.Session.PoisonPolicy)
	}
	if cfg.Shutdown.DrainTimeout < 0 || cfg.Shutdown.WorkerTimeout < 0 {
		return fmt.Errorf("shutdown timeouts must not be negative")
	}
	if cfg.Worker.QueueCapacity < 0 || cfg.Worker.Workers < 0 {
		return fmt.Errorf("worker settings must not be negative")
	}
	if cfg.Sensor.DiskLowPct >= cfg.Sensor.DiskHighPct {
		return fmt.Errorf("sensor.disk_low_pct (%d) must be below disk_high_pct (%d)", cfg.Sensor.DiskLowPct, cfg.Sensor.DiskHighPct)
	}
	if cfg.Sensor.DiskHighPct > 100 || cfg.Sensor.MemHighPct > 100 {
		return fmt.Errorf("sensor percentages must be at most 100")
	}
	return nil
}
