package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config failed validation: %v", err)
	}
	if cfg.PortRangeLow != 10001 || cfg.PortRangeHigh != 20000 {
		t.Fatalf("unexpected default port range [%d, %d]", cfg.PortRangeLow, cfg.PortRangeHigh)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "colugo.yaml")
	if err := os.WriteFile(path, []byte("log_level: debug\nport_range_low: 11000\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.PortRangeLow != 11000 {
		t.Errorf("PortRangeLow = %d, want 11000", cfg.PortRangeLow)
	}
	// unset fields keep their defaults
	if cfg.PortRangeHigh != 20000 {
		t.Errorf("PortRangeHigh = %d, want 20000 (default)", cfg.PortRangeHigh)
	}
}

func TestValidateRejectsBadPortRange(t *testing.T) {
	tests := []struct {
		name string
		low  int
		high int
	}{
		{"low below 1", 0, 20000},
		{"high above 65535", 10001, 70000},
		{"low >= high", 15000, 15000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.PortRangeLow = tt.low
			cfg.PortRangeHigh = tt.high
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestValidateRejectsNonPositiveTimeouts(t *testing.T) {
	cfg := Default()
	cfg.RequestSendTimeout = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero RequestSendTimeout")
	}
}

func TestSlogLevel(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "bogus"
	if cfg.SlogLevel().String() != "INFO" {
		t.Errorf("unrecognized level should default to info, got %s", cfg.SlogLevel())
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDefaultTimeouts(t *testing.T) {
	cfg := Default()
	if cfg.RequestSendTimeout != 1000*time.Millisecond {
		t.Errorf("RequestSendTimeout = %s, want 1000ms", cfg.RequestSendTimeout)
	}
	if cfg.DefaultReplyTimeout != 2000*time.Millisecond {
		t.Errorf("DefaultReplyTimeout = %s, want 2000ms", cfg.DefaultReplyTimeout)
	}
}
