// Package config loads service configuration from VHS_* environment
// variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DatabaseURL string // VHS_DATABASE_URL (required by serve and cycle)
	HTTPAddr    string // VHS_HTTP_ADDR (default ":8080")
	GRPCAddr    string // VHS_GRPC_ADDR (default ":9090")
	NATSURL     string // VHS_NATS_URL (optional, empty = no events)
	AuthToken   string // VHS_AUTH_TOKEN (optional, empty = auth disabled)
	LogLevel    string // VHS_LOG_LEVEL (default "info")

	// Cycle settings
	CycleInterval time.Duration // VHS_CYCLE_INTERVAL (default 5m)
	FetchTimeout  time.Duration // VHS_FETCH_TIMEOUT (default 10s)
	FetchRetries  int           // VHS_FETCH_RETRIES (default 2)
	Concurrency   int           // VHS_CONCURRENCY (default 16)
	Retention     time.Duration // VHS_RETENTION (default 168h)

	// Sources
	TrustedLists  []ListSource // VHS_TRUSTED_LISTS ("name=url,name=url")
	RPCURL        string       // VHS_RPC_URL (optional validator-discovery endpoint)
	TrustFilePath string       // VHS_TRUST_FILE_PATH (default "/.well-known/pft-ledger.toml")
	FallbackFile  string       // VHS_FALLBACK_FILE (empty = built-in table)

	// Export settings
	ExportS3Bucket   string // VHS_EXPORT_S3_BUCKET (enables export when set)
	ExportS3Key      string // VHS_EXPORT_S3_KEY (default "vhs/snapshot.jsonl")
	ExportS3Region   string // VHS_EXPORT_S3_REGION (default "us-east-1")
	ExportS3Endpoint string // VHS_EXPORT_S3_ENDPOINT (custom endpoint for MinIO)
}

// ListSource is one configured trusted-list publisher.
type ListSource struct {
	Name string
	URL  string
}

// rpcSourceName is reserved for the validator-discovery source.
const rpcSourceName = "rpc"

func Load() (*Config, error) {
	c := &Config{
		DatabaseURL:      os.Getenv("VHS_DATABASE_URL"),
		HTTPAddr:         envOrDefault("VHS_HTTP_ADDR", ":8080"),
		GRPCAddr:         envOrDefault("VHS_GRPC_ADDR", ":9090"),
		NATSURL:          os.Getenv("VHS_NATS_URL"),
		AuthToken:        os.Getenv("VHS_AUTH_TOKEN"),
		LogLevel:         envOrDefault("VHS_LOG_LEVEL", "info"),
		RPCURL:           os.Getenv("VHS_RPC_URL"),
		TrustFilePath:    envOrDefault("VHS_TRUST_FILE_PATH", "/.well-known/pft-ledger.toml"),
		FallbackFile:     os.Getenv("VHS_FALLBACK_FILE"),
		ExportS3Bucket:   os.Getenv("VHS_EXPORT_S3_BUCKET"),
		ExportS3Key:      envOrDefault("VHS_EXPORT_S3_KEY", "vhs/snapshot.jsonl"),
		ExportS3Region:   envOrDefault("VHS_EXPORT_S3_REGION", "us-east-1"),
		ExportS3Endpoint: os.Getenv("VHS_EXPORT_S3_ENDPOINT"),
	}

	var err error
	if c.CycleInterval, err = durationEnv("VHS_CYCLE_INTERVAL", "5m"); err != nil {
		return nil, err
	}
	if c.FetchTimeout, err = durationEnv("VHS_FETCH_TIMEOUT", "10s"); err != nil {
		return nil, err
	}
	if c.Retention, err = durationEnv("VHS_RETENTION", "168h"); err != nil {
		return nil, err
	}
	if c.FetchRetries, err = intEnv("VHS_FETCH_RETRIES", 2, 0); err != nil {
		return nil, err
	}
	if c.Concurrency, err = intEnv("VHS_CONCURRENCY", 16, 1); err != nil {
		return nil, err
	}
	if c.TrustedLists, err = parseLists(os.Getenv("VHS_TRUSTED_LISTS")); err != nil {
		return nil, fmt.Errorf("VHS_TRUSTED_LISTS: %w", err)
	}
	if !strings.HasPrefix(c.TrustFilePath, "/") {
		return nil, fmt.Errorf("VHS_TRUST_FILE_PATH: must start with /")
	}
	return c, nil
}

// RequireDatabase reports an error when no database is configured.
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("VHS_DATABASE_URL is required")
	}
	return nil
}

// parseLists parses "name=url,name=url". Names must be unique and must not
// collide with the discovery RPC source.
func parseLists(s string) ([]ListSource, error) {
	var out []ListSource
	seen := make(map[string]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, url, ok := strings.Cut(part, "=")
		name, url = strings.TrimSpace(name), strings.TrimSpace(url)
		if !ok || name == "" || url == "" {
			return nil, fmt.Errorf("invalid entry %q, want name=url", part)
		}
		if name == rpcSourceName {
			return nil, fmt.Errorf("list name %q is reserved", name)
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate list name %q", name)
		}
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			return nil, fmt.Errorf("list %s: url must be http(s)", name)
		}
		seen[name] = true
		out = append(out, ListSource{Name: name, URL: url})
	}
	return out, nil
}

func durationEnv(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, fallback))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive", key)
	}
	return d, nil
}

func intEnv(key string, fallback, lowest int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if n < lowest {
		return 0, fmt.Errorf("%s: must be at least %d", key, lowest)
	}
	return n, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
