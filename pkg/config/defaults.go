package config

import "time"

const (
	defaultAddress       = "0.0.0.0"
	defaultPort          = 8080
	defaultEngine        = EngineFastHTTP
	defaultDBPath        = "./.database"
	defaultRateRPS       = 5
	defaultRateBurst     = 10
	defaultTimeout       = 30 * time.Second
	defaultBodyLimit     = 1 << 20
	defaultConcurrency   = 256
	defaultSessionHeader = "X-Session-Token"
	defaultSessionTTL    = 30 * time.Minute
	defaultSweepCron     = "* * * * *"
	defaultPoisonPolicy  = PoisonEvict
	defaultDrainTimeout  = 10 * time.Second
	defaultWorkerTimeout = 5 * time.Second
	defaultQueueCapacity = 1024
	defaultWorkers       = 1
	// sensor defaults
	defaultSensorPollInterval   = 500 * time.Millisecond
	defaultSensorDiskHighPct    = 90
	defaultSensorDiskLowPct     = 75
	defaultSensorMemHighPct     = 90
	defaultSensorRecoveryWindow = 5 * time.Second
	defaultSlowThreshold        = 200 * time.Millisecond
	defaultLogLevel             = "info"
)

const (
	EngineFastHTTP = "fasthttp"
	EngineNetHTTP  = "nethttp"

	PoisonEvict  = "evict"
	PoisonRepair = "repair"
)

// ApplyDefaults fills every zero-valued field with its default.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.Address == "" {
		s.Address = defaultAddress
	}
	if s.Port == 0 {
		s.Port = defaultPort
	}
	if s.Engine == "" {
		s.Engine = defaultEngine
	}
	if s.DBPath == "" {
		s.DBPath = defaultDBPath
	}

	rl := &cfg.Security.RateLimit
	if rl.RPS == 0 {
		rl.RPS = defaultRateRPS
	}
	if rl.Burst == 0 {
		rl.Burst = defaultRateBurst
	}

	p := &cfg.Pipeline
	if p.Timeout == 0 {
		p.Timeout = Duration(defaultTimeout)
	}
	if p.BodyLimit == 0 {
		p.BodyLimit = defaultBodyLimit
	}
	if p.MaxConcurrency == 0 {
		p.MaxConcurrency = defaultConcurrency
	}

	ss := &cfg.Session
	if ss.Header == "" {
		ss.Header = defaultSessionHeader
	}
	if ss.TTL == 0 {
		ss.TTL = Duration(defaultSessionTTL)
	}
	if ss.SweepCron == "" {
		ss.SweepCron = defaultSweepCron
	}
	if ss.PoisonPolicy == "" {
		ss.PoisonPolicy = defaultPoisonPolicy
	}

	sd := &cfg.Shutdown
	if sd.DrainTimeout == 0 {
		sd.DrainTimeout = Duration(defaultDrainTimeout)
	}
	if sd.WorkerTimeout == 0 {
		sd.WorkerTimeout = Duration(defaultWorkerTimeout)
	}

	if cfg.Worker.QueueCapacity == 0 {
		cfg.Worker.QueueCapacity = defaultQueueCapacity
	}
	if cfg.Worker.Workers == 0 {
		cfg.Worker.Workers = defaultWorkers
	}

	sn := &cfg.Sensor
	if sn.Path == "" {
		sn.Path = "/"
	}
	if sn.PollInterval == 0 {
		sn.PollInterval = Duration(defaultSensorPollInterval)
	}
	if sn.DiskHighPct == 0 {
		sn.DiskHighPct = defaultSensorDiskHighPct
	}
	if sn.DiskLowPct == 0 {
		sn.DiskLowPct = defaultSensorDiskLowPct
	}
	if sn.MemHighPct == 0 {
		sn.MemHighPct = defaultSensorMemHighPct
	}
	if sn.RecoveryWindow == 0 {
		sn.RecoveryWindow = Duration(defaultSensorRecoveryWindow)
	}

	if cfg.Telemetry.SlowThreshold == 0 {
		cfg.Telemetry.SlowThreshold = Duration(defaultSlowThreshold)
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaultLogLevel
	}
}
