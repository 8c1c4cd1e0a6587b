package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/postfiatorg/validator-history-service/internal/model"
	"github.com/postfiatorg/validator-history-service/internal/store"
)

// DefaultRetention is how long a participant survives without being seen.
const DefaultRetention = 7 * 24 * time.Hour

// Lifecycle deletes stale and revoked participants and applies the
// operator-curated fallback domains.
type Lifecycle struct {
	store     store.Store
	retention time.Duration
	fallback  map[string]string // master key -> domain
	logger    *slog.Logger
}

func NewLifecycle(s store.Store, retention time.Duration, fallback map[string]string, logger *slog.Logger) *Lifecycle {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Lifecycle{store: s, retention: retention, fallback: fallback, logger: logger}
}

// Purge deletes participants not seen within the retention window, then
// participants marked revoked.
func (l *Lifecycle) Purge(ctx context.Context, now time.Time) (model.PurgeResult, error) {
	var res model.PurgeResult
	var err error
	if res.Stale, err = l.store.PurgeStaleParticipants(ctx, now.Add(-l.retention)); err != nil {
		return res, fmt.Errorf("purge stale participants: %w", err)
	}
	if res.Revoked, err = l.store.PurgeRevokedParticipants(ctx); err != nil {
		return res, fmt.Errorf("purge revoked participants: %w", err)
	}
	l.logger.Info("participants purged", "stale", res.Stale, "revoked", res.Revoked)
	return res, nil
}

// ApplyFallback sets the fallback domain on participants of each listed
// master key that still lack a domain. The domain is recorded as
// unverified. Keys are applied independently; failures are counted.
func (l *Lifecycle) ApplyFallback(ctx context.Context) model.StepResult {
	res := model.StepResult{Step: "fallback"}
	for _, masterKey := range slices.Sorted(maps.Keys(l.fallback)) {
		domain := l.fallback[masterKey]
		n, err := l.store.ApplyFallbackDomain(ctx, masterKey, domain)
		if err != nil {
			res.Failed++
			l.logger.Warn("fallback domain not applied", "key", masterKey, "domain", domain, "err", err)
			continue
		}
		res.Succeeded++
		if n > 0 {
			l.logger.Info("fallback domain applied", "key", masterKey, "domain", domain, "participants", n)
		}
	}
	return res
}
