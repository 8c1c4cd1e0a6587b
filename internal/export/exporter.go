package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/postfiatorg/validator-history-service/internal/store"
)

// Destination is a snapshot target.
type Destination interface {
	// Name identifies the destination in logs.
	Name() string
	// Write stores the JSONL payload.
	Write(ctx context.Context, data []byte) error
}

// Exporter snapshots the store to one or more destinations.
type Exporter struct {
	store        store.Store
	destinations []Destination
	logger       *slog.Logger
}

func NewExporter(s store.Store, destinations []Destination, logger *slog.Logger) *Exporter {
	return &Exporter{store: s, destinations: destinations, logger: logger}
}

// Enabled reports whether any destination is configured.
func (e *Exporter) Enabled() bool {
	return e != nil && len(e.destinations) > 0
}

// Snapshot renders the store once and writes it to every destination. A
// failing destination does not stop the others; their errors are joined.
func (e *Exporter) Snapshot(ctx context.Context, cycle string) error {
	var buf bytes.Buffer
	if err := WriteJSONL(ctx, e.store, cycle, time.Now(), &buf); err != nil {
		return fmt.Errorf("export snapshot: %w", err)
	}
	data := buf.Bytes()

	var errs []error
	for _, dest := range e.destinations {
		if err := dest.Write(ctx, data); err != nil {
			e.logger.Error("snapshot write failed", "destination", dest.Name(), "cycle", cycle, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", dest.Name(), err))
		}
	}
	e.logger.Info("snapshot exported", "cycle", cycle, "destinations", len(e.destinations), "bytes", len(data))
	return errors.Join(errs...)
}
