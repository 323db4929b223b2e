package banner

import (
	"bytes"
	"strings"
	"testing"

	"pipeserve/pkg/config"
)

func TestPrint(t *testing.T) {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Security.APIKeys.Backend = []string{"k1", "k2"}

	var buf bytes.Buffer
	Print(&buf, config.EffectiveConfigResult{Config: cfg, Addr: "127.0.0.1:9000", Source: "flags"}, "v1.2.3")
	out := buf.String()

	for _, want := range []string{
		"Listen:    127.0.0.1:9000 (fasthttp)",
		"DB Path:   in-memory",
		"Version:   v1.2.3",
		"Backend API keys: OK (2)",
		"Admin API keys: MISSING",
		"body_limit=1.0 MiB",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("banner missing %q:\n%s", want, out)
		}
	}
}

func TestPrintNilConfig(t *testing.T) {
	var buf bytes.Buffer
	Print(&buf, config.EffectiveConfigResult{}, "")
	if !strings.Contains(buf.String(), "Config:    defaults") {
		t.Fatalf("unexpected banner:\n%s", buf.String())
	}
}
