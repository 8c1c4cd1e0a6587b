package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/postfiatorg/validator-history-service/internal/model"
	"github.com/postfiatorg/validator-history-service/internal/store/memory"
)

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

func seededStore(t *testing.T) *memory.Store {
	t.Helper()
	ctx := context.Background()
	s := memory.New()
	for _, m := range []*model.Manifest{
		{SigningKey: "nB", MasterKey: "nM", Sequence: 2, SignatureVerified: true},
		{SigningKey: "nA", MasterKey: "nM", Sequence: 1, SignatureVerified: true, Domain: "example.com"},
	} {
		if err := s.UpsertManifest(ctx, m, true); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	if _, err := s.ObserveParticipants(ctx, []string{"nB", "nA", "nC"}, time.Now()); err != nil {
		t.Fatalf("observe: %v", err)
	}
	return s
}

func TestWriteJSONL_Empty(t *testing.T) {
	var buf bytes.Buffer
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := WriteJSONL(context.Background(), memory.New(), "cyc-1", now, &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := nonEmptyLines(buf.String())
	if len(lines) != 1 {
		t.Fatalf("expected 1 line (header only), got %d", len(lines))
	}
	var h header
	if err := json.Unmarshal([]byte(lines[0]), &h); err != nil {
		t.Fatalf("unmarshal header: %v", err)
	}
	if h.Version != "1" || h.Type != "header" || h.Cycle != "cyc-1" || !h.Timestamp.Equal(now) {
		t.Fatalf("unexpected header: %+v", h)
	}
	if h.ParticipantCount != 0 || h.ManifestCount != 0 {
		t.Fatalf("unexpected counts: %+v", h)
	}
}

func TestWriteJSONL_Ordering(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSONL(context.Background(), seededStore(t), "", time.Now(), &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := nonEmptyLines(buf.String())
	// 1 header + 3 participants + 2 manifests
	if len(lines) != 6 {
		t.Fatalf("expected 6 lines, got %d:\n%s", len(lines), buf.String())
	}

	var got []string
	for _, line := range lines[1:] {
		var rec struct {
			Type string `json:"type"`
			Data struct {
				SigningKey string `json:"signing_key"`
			} `json:"data"`
		}
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("unmarshal record: %v", err)
		}
		got = append(got, rec.Type+":"+rec.Data.SigningKey)
	}
	want := []string{"participant:nA", "participant:nB", "participant:nC", "manifest:nA", "manifest:nB"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("records = %v, want %v", got, want)
	}
}

type mockDestination struct {
	name string
	err  error

	mu     sync.Mutex
	writes int
	last   []byte
}

func (d *mockDestination) Name() string { return d.name }

func (d *mockDestination) Write(_ context.Context, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes++
	d.last = bytes.Clone(data)
	return d.err
}

func TestExporter_Snapshot(t *testing.T) {
	good := &mockDestination{name: "good"}
	bad := &mockDestination{name: "bad", err: errors.New("bucket gone")}
	e := NewExporter(seededStore(t), []Destination{bad, good}, slog.New(slog.DiscardHandler))

	if !e.Enabled() {
		t.Fatal("expected exporter to be enabled")
	}
	err := e.Snapshot(context.Background(), "cyc-2")
	if err == nil || !strings.Contains(err.Error(), "bad: bucket gone") {
		t.Fatalf("Snapshot() error = %v, want bad destination error", err)
	}
	if good.writes != 1 || bad.writes != 1 {
		t.Fatalf("writes = good:%d bad:%d, want 1 each", good.writes, bad.writes)
	}
	if n := len(nonEmptyLines(string(good.last))); n != 6 {
		t.Fatalf("expected 6 lines, got %d", n)
	}
}

func TestExporter_Disabled(t *testing.T) {
	var nilExporter *Exporter
	if nilExporter.Enabled() {
		t.Fatal("nil exporter should be disabled")
	}
	if NewExporter(memory.New(), nil, slog.New(slog.DiscardHandler)).Enabled() {
		t.Fatal("exporter without destinations should be disabled")
	}
}

func TestS3Destination_Write(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")

	var mu sync.Mutex
	var method, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		method, path = r.Method, r.URL.Path
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d, err := NewS3Destination(context.Background(), "snapshots", "", "us-east-1", srv.URL)
	if err != nil {
		t.Fatalf("NewS3Destination: %v", err)
	}
	if d.Name() != "s3://snapshots/"+DefaultS3Key {
		t.Fatalf("Name() = %q", d.Name())
	}
	if err := d.Write(context.Background(), []byte("{}\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if method != http.MethodPut || path != "/snapshots/"+DefaultS3Key {
		t.Fatalf("request = %s %s", method, path)
	}
}

func TestNewS3Destination_EmptyBucket(t *testing.T) {
	if _, err := NewS3Destination(context.Background(), "", "", "us-east-1", ""); err == nil {
		t.Fatal("expected error for empty bucket")
	}
}
