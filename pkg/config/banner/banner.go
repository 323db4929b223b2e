package banner

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"

	"pipeserve/pkg/config"
)

const art = `
 ____ ___ ____  _____ ____  _____ ______     _______
|  _ \_ _|  _ \| ____/ ___|| ____|  _ \ \   / / ____|
| |_) | || |_) |  _| \___ \|  _| | |_) \ \ / /|  _|
|  __/| ||  __/| |___ ___) | |___|  _ < \ V / | |___
|_|  |___|_|   |_____|____/|_____|_| \_\ \_/  |_____|
`

// Print writes the startup banner and a short production checklist.
func Print(w io.Writer, eff config.EffectiveConfigResult, version string) {
	cfg := eff.Config
	if cfg == nil {
		cfg = &config.Config{}
		config.ApplyDefaults(cfg)
	}
	addr := eff.Addr
	if addr == "" {
		addr = cfg.Addr()
	}
	src := eff.Source
	if src == "" {
		src = "defaults"
	}

	fmt.Fprint(w, art)
	fmt.Fprintln(w, "== Config =====================================================")
	fmt.Fprintf(w, "Listen:    %s (%s)\n", addr, cfg.Server.Engine)
	if eff.DBPath != "" {
		fmt.Fprintf(w, "DB Path:   %s\n", eff.DBPath)
	} else {
		fmt.Fprintln(w, "DB Path:   in-memory")
	}
	if version != "" {
		fmt.Fprintf(w, "Version:   %s\n", version)
	}
	fmt.Fprintf(w, "Config:    %s\n", src)
	fmt.Fprintf(w, "Pipeline:  timeout=%s body_limit=%s max_concurrency=%s\n",
		cfg.Pipeline.Timeout, humanize.IBytes(uint64(cfg.Pipeline.BodyLimit)), humanize.Comma(int64(cfg.Pipeline.MaxConcurrency)))
	fmt.Fprintf(w, "Shutdown:  drain=%s workers=%s\n", cfg.Shutdown.DrainTimeout, cfg.Shutdown.WorkerTimeout)

	fmt.Fprintln(w, "\n== Production? =================================================")
	if n := len(cfg.Security.APIKeys.Backend); n > 0 {
		fmt.Fprintf(w, "- Backend API keys: OK (%d)\n", n)
	} else {
		fmt.Fprintln(w, "- Backend API keys: MISSING (no client can open a session)")
	}
	if n := len(cfg.Security.APIKeys.Admin); n > 0 {
		fmt.Fprintf(w, "- Admin API keys: OK (%d)\n", n)
	} else {
		fmt.Fprintln(w, "- Admin API keys: MISSING (required for audit access)")
	}
	if eff.DBPath == "" {
		fmt.Fprintln(w, "- Storage: in-memory (use --db or PIPESERVE_DB_PATH)")
	}
	if cfg.Sensor.Enabled {
		fmt.Fprintf(w, "- Sensor: enabled (disk %d%%/%d%%, mem %d%%)\n", cfg.Sensor.DiskHighPct, cfg.Sensor.DiskLowPct, cfg.Sensor.MemHighPct)
	} else {
		fmt.Fprintln(w, "- Sensor: disabled")
	}
	fmt.Fprintf(w, "- Session sweep: %s (ttl %s, poisoned sessions: %s)\n", cfg.Session.SweepCron, cfg.Session.TTL, cfg.Session.PoisonPolicy)
}
