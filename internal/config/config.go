// Package config holds orchestrator configuration, resolved from
// QASANDBOX_* environment variables with defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/docker/go-units"

	"github.com/qaforge/qasandbox/internal/sberr"
)

type Config struct {
	// Image is the container image sandboxes run.
	Image string
	// BaseDomain is the suffix of public sandbox hostnames.
	BaseDomain string
	// StorageRoot holds one bind-mounted subdirectory per sandbox.
	StorageRoot string
	// TraefikFile is the shared dynamic routing document.
	TraefikFile string
	// IngressNetwork is the shared network the reverse proxy reaches
	// sandboxes through.
	IngressNetwork string
	// InternalPort is the service port sandboxes expose to the proxy.
	InternalPort int
	// EntryPoint and CertResolver name the Traefik entry point and TLS
	// resolver referenced by generated router blocks.
	EntryPoint   string
	CertResolver string

	MemoryLimit int64
	NanoCPUs    int64
	PidsLimit   int64

	// IsolationStrict makes private-network creation failure fatal
	// instead of falling back to the shared default network.
	IsolationStrict bool

	PoolSize     int
	PoolLeaseTTL time.Duration

	GCMaxAge   time.Duration
	GCInterval time.Duration

	PortBase  int
	PortRange int
}

func Default() Config {
	return Config{
		Image:           envOrDefault("QASANDBOX_IMAGE", "qasandbox-agent:latest"),
		BaseDomain:      envOrDefault("QASANDBOX_BASE_DOMAIN", "example.com"),
		StorageRoot:     envOrDefault("QASANDBOX_STORAGE_ROOT", "/var/lib/qasandbox"),
		TraefikFile:     envOrDefault("QASANDBOX_TRAEFIK_FILE", "/etc/traefik/dynamic/qasandbox.yml"),
		IngressNetwork:  envOrDefault("QASANDBOX_INGRESS_NETWORK", "qa-ingress"),
		InternalPort:    envIntOrDefault("QASANDBOX_INTERNAL_PORT", 3000),
		EntryPoint:      envOrDefault("QASANDBOX_ENTRYPOINT", "websecure"),
		CertResolver:    envOrDefault("QASANDBOX_CERT_RESOLVER", "letsencrypt"),
		MemoryLimit:     envInt64OrDefault("QASANDBOX_MEMORY_LIMIT", 2*1024*1024*1024), // 2GB
		NanoCPUs:        envInt64OrDefault("QASANDBOX_NANO_CPUS", 2_000_000_000),       // 2 CPUs
		PidsLimit:       envInt64OrDefault("QASANDBOX_PIDS_LIMIT", 256),
		IsolationStrict: os.Getenv("QASANDBOX_ISOLATION") == "strict",
		PoolSize:        envIntOrDefault("QASANDBOX_POOL_SIZE", 3),
		PoolLeaseTTL:    envDurationOrDefault("QASANDBOX_POOL_LEASE_TTL", 30*time.Minute),
		GCMaxAge:        envDurationOrDefault("QASANDBOX_GC_MAX_AGE", 24*time.Hour),
		GCInterval:      envDurationOrDefault("QASANDBOX_GC_INTERVAL", time.Hour),
		PortBase:        envIntOrDefault("QASANDBOX_PORT_BASE", 9222),
		PortRange:       envIntOrDefault("QASANDBOX_PORT_RANGE", 100),
	}
}

// ParseMemory converts a human-readable memory limit ("2g", "512m") to
// bytes.
func ParseMemory(s string) (int64, error) {
	n, err := units.RAMInBytes(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("memory limit %q: %w", s, sberr.ErrInvalidConfig)
	}
	return n, nil
}

// ParseCPUs converts a CPU share count ("2", "0.5") to NanoCPUs.
func ParseCPUs(s string) (int64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("cpu limit %q: %w", s, sberr.ErrInvalidConfig)
	}
	return int64(f * 1e9), nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envInt64OrDefault(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOrDefault(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
