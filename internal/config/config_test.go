package config

import (
	"errors"
	"testing"
	"time"

	"github.com/qaforge/qasandbox/internal/sberr"
)

func TestParseMemory(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"2g", 2 * 1024 * 1024 * 1024, false},
		{"512m", 512 * 1024 * 1024, false},
		{"1024", 1024, false},
		{"", 0, true},
		{"banana", 0, true},
		{"-1g", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseMemory(tt.in)
		if tt.wantErr {
			if !errors.Is(err, sberr.ErrInvalidConfig) {
				t.Errorf("ParseMemory(%q) err = %v, want ErrInvalidConfig", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseMemory(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMemory(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParseCPUs(t *testing.T) {
	got, err := ParseCPUs("1.5")
	if err != nil {
		t.Fatalf("ParseCPUs: %v", err)
	}
	if got != 1_500_000_000 {
		t.Errorf("ParseCPUs(1.5) = %d, want 1500000000", got)
	}
	if _, err := ParseCPUs("0"); !errors.Is(err, sberr.ErrInvalidConfig) {
		t.Errorf("ParseCPUs(0) err = %v, want ErrInvalidConfig", err)
	}
	if _, err := ParseCPUs("two"); !errors.Is(err, sberr.ErrInvalidConfig) {
		t.Errorf("ParseCPUs(two) err = %v, want ErrInvalidConfig", err)
	}
}

func TestDefaultEnvOverride(t *testing.T) {
	t.Setenv("QASANDBOX_BASE_DOMAIN", "qa.internal")
	t.Setenv("QASANDBOX_POOL_SIZE", "5")
	t.Setenv("QASANDBOX_GC_MAX_AGE", "2h")
	t.Setenv("QASANDBOX_ISOLATION", "strict")

	cfg := Default()
	if cfg.BaseDomain != "qa.internal" {
		t.Errorf("BaseDomain = %q", cfg.BaseDomain)
	}
	if cfg.PoolSize != 5 {
		t.Errorf("PoolSize = %d", cfg.PoolSize)
	}
	if cfg.GCMaxAge != 2*time.Hour {
		t.Errorf("GCMaxAge = %s", cfg.GCMaxAge)
	}
	if !cfg.IsolationStrict {
		t.Error("IsolationStrict should be true")
	}
}

func TestDefaultBadEnvFallsBack(t *testing.T) {
	t.Setenv("QASANDBOX_POOL_SIZE", "lots")
	if got := Default().PoolSize; got != 3 {
		t.Errorf("PoolSize = %d, want default 3", got)
	}
}
