package config

import (
	"reflect"
	"testing"
	"time"
)

var allEnvVars = []string{
	"VHS_DATABASE_URL", "VHS_HTTP_ADDR", "VHS_GRPC_ADDR", "VHS_NATS_URL", "VHS_AUTH_TOKEN",
	"VHS_LOG_LEVEL", "VHS_CYCLE_INTERVAL", "VHS_FETCH_TIMEOUT", "VHS_FETCH_RETRIES",
	"VHS_CONCURRENCY", "VHS_RETENTION", "VHS_TRUSTED_LISTS", "VHS_RPC_URL",
	"VHS_TRUST_FILE_PATH", "VHS_FALLBACK_FILE", "VHS_EXPORT_S3_BUCKET", "VHS_EXPORT_S3_KEY",
	"VHS_EXPORT_S3_REGION", "VHS_EXPORT_S3_ENDPOINT",
}

func clearAllEnv(t *testing.T) {
	t.Helper()
	for _, key := range allEnvVars {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearAllEnv(t)

	c, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if c.HTTPAddr != ":8080" || c.GRPCAddr != ":9090" {
		t.Errorf("addresses = %q, %q", c.HTTPAddr, c.GRPCAddr)
	}
	if c.CycleInterval != 5*time.Minute || c.FetchTimeout != 10*time.Second || c.Retention != 168*time.Hour {
		t.Errorf("durations = %v, %v, %v", c.CycleInterval, c.FetchTimeout, c.Retention)
	}
	if c.FetchRetries != 2 || c.Concurrency != 16 {
		t.Errorf("retries=%d concurrency=%d", c.FetchRetries, c.Concurrency)
	}
	if c.TrustFilePath != "/.well-known/pft-ledger.toml" {
		t.Errorf("TrustFilePath = %q", c.TrustFilePath)
	}
	if c.ExportS3Key != "vhs/snapshot.jsonl" || c.ExportS3Region != "us-east-1" || c.ExportS3Bucket != "" {
		t.Errorf("export = %q %q %q", c.ExportS3Bucket, c.ExportS3Key, c.ExportS3Region)
	}
	if len(c.TrustedLists) != 0 {
		t.Errorf("TrustedLists = %v", c.TrustedLists)
	}
	if err := c.RequireDatabase(); err == nil {
		t.Error("RequireDatabase() should fail without VHS_DATABASE_URL")
	}
}

func TestLoad_Custom(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("VHS_DATABASE_URL", "postgres://db:5432/vhs")
	t.Setenv("VHS_CYCLE_INTERVAL", "30s")
	t.Setenv("VHS_FETCH_RETRIES", "0")
	t.Setenv("VHS_CONCURRENCY", "4")
	t.Setenv("VHS_TRUSTED_LISTS", "main=https://vl.example/, test = http://localhost:8000/vl")
	t.Setenv("VHS_RPC_URL", "http://localhost:5005")

	c, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if err := c.RequireDatabase(); err != nil {
		t.Errorf("RequireDatabase() = %v", err)
	}
	if c.CycleInterval != 30*time.Second || c.FetchRetries != 0 || c.Concurrency != 4 {
		t.Errorf("cycle settings = %v %d %d", c.CycleInterval, c.FetchRetries, c.Concurrency)
	}
	want := []ListSource{
		{Name: "main", URL: "https://vl.example/"},
		{Name: "test", URL: "http://localhost:8000/vl"},
	}
	if !reflect.DeepEqual(c.TrustedLists, want) {
		t.Errorf("TrustedLists = %+v, want %+v", c.TrustedLists, want)
	}
}

func TestLoad_Invalid(t *testing.T) {
	for _, tc := range []struct {
		name string
		key  string
		val  string
	}{
		{"BadInterval", "VHS_CYCLE_INTERVAL", "soon"},
		{"ZeroInterval", "VHS_CYCLE_INTERVAL", "0s"},
		{"BadTimeout", "VHS_FETCH_TIMEOUT", "-1s"},
		{"BadRetries", "VHS_FETCH_RETRIES", "-1"},
		{"ZeroConcurrency", "VHS_CONCURRENCY", "0"},
		{"ListWithoutURL", "VHS_TRUSTED_LISTS", "main"},
		{"ReservedListName", "VHS_TRUSTED_LISTS", "rpc=https://vl.example"},
		{"DuplicateList", "VHS_TRUSTED_LISTS", "a=https://x.example,a=https://y.example"},
		{"ListNotHTTP", "VHS_TRUSTED_LISTS", "a=ftp://x.example"},
		{"RelativeTrustPath", "VHS_TRUST_FILE_PATH", "pft-ledger.toml"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			clearAllEnv(t)
			t.Setenv(tc.key, tc.val)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() with %s=%q: expected error", tc.key, tc.val)
			}
		})
	}
}
