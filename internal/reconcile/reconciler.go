// Package reconcile applies verified manifests and trusted-list snapshots to
// the store: manifest ingestion, propagation onto participants, revocation,
// list membership and participant lifecycle.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/postfiatorg/validator-history-service/internal/events"
	"github.com/postfiatorg/validator-history-service/internal/manifest"
	"github.com/postfiatorg/validator-history-service/internal/metrics"
	"github.com/postfiatorg/validator-history-service/internal/model"
	"github.com/postfiatorg/validator-history-service/internal/store"
)

// DomainVerifier evaluates the domain claim of a decoded manifest.
type DomainVerifier interface {
	VerifyParsed(ctx context.Context, p *manifest.Parsed) model.Verdict
}

// Reconciler ingests manifests and runs the store-wide manifest passes.
type Reconciler struct {
	store     store.Store
	verifier  DomainVerifier
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewReconciler returns a Reconciler. publisher and m may be nil.
func NewReconciler(s store.Store, v DomainVerifier, publisher events.Publisher, m *metrics.Metrics, logger *slog.Logger) *Reconciler {
	if publisher == nil {
		publisher = &events.NoopPublisher{}
	}
	return &Reconciler{store: s, verifier: v, publisher: publisher, metrics: m, logger: logger}
}

// Ingest decodes and verifies a manifest and persists it keyed by
// (signing key, sequence). A manifest whose own signature fails is still
// persisted, unverified and never authoritative, and ErrSignatureInvalid is
// returned alongside it. Manifests that cannot be decoded or name no master
// key are not persisted.
func (r *Reconciler) Ingest(ctx context.Context, in manifest.Input, source string) (*model.Manifest, error) {
	p, err := manifest.Normalize(in)
	if err != nil {
		r.logger.Warn("manifest could not be decoded", "source", source, "err", err)
		return nil, err
	}

	verdict := r.verifier.VerifyParsed(ctx, p)
	m := verdict.Manifest
	if m == nil {
		err := fmt.Errorf("%w: %s", model.ErrDecode, verdict.Message)
		r.logger.Warn("manifest could not be decoded", "source", source, "err", err)
		return nil, err
	}
	if m.MasterKey == "" {
		err := fmt.Errorf("%w: manifest for %s has no master key", model.ErrIntegrity, m.SigningKey)
		r.logger.Warn("manifest dropped", "source", source, "key", m.SigningKey, "err", err)
		return nil, err
	}

	if err := r.store.UpsertManifest(ctx, m, verdict.Conclusive); err != nil {
		return nil, fmt.Errorf("store manifest %s/%d: %w", m.SigningKey, m.Sequence, err)
	}
	r.metrics.ObserveVerification(verdict.Verified)
	if err := r.publisher.Publish(ctx, events.TopicManifestIngested, events.ManifestIngested{
		Source: source, Manifest: m, Message: verdict.Message,
	}); err != nil {
		r.logger.Warn("publish failed", "topic", events.TopicManifestIngested, "err", err)
	}

	if !verdict.VerifiedManifestSignature {
		err := fmt.Errorf("%w: %s", model.ErrSignatureInvalid, verdict.Message)
		r.logger.Warn("manifest signature invalid", "source", source, "key", m.SigningKey, "seq", m.Sequence, "err", err)
		return m, err
	}
	r.logger.Debug("manifest ingested",
		"source", source, "key", m.SigningKey, "seq", m.Sequence,
		"domain", m.Domain, "domain_verified", verdict.Verified, "reason", verdict.Message)
	return m, nil
}

// Propagate mirrors manifest state onto participants.
func (r *Reconciler) Propagate(ctx context.Context) (int64, error) {
	n, err := r.store.PropagateManifests(ctx)
	if err != nil {
		return 0, fmt.Errorf("propagate manifests: %w", err)
	}
	return n, nil
}

// RevocationResult summarises a revocation pass.
type RevocationResult struct {
	Changes      []model.RevocationChange
	Ties         []model.AuthoritativeManifest
	Participants int64
}

// Revoke computes the authoritative manifest of every master key and
// applies it as one transaction, then carries the result to participants.
// Ties on the highest sequence resolve to the smallest signing key and are
// logged as integrity anomalies.
func (r *Reconciler) Revoke(ctx context.Context) (*RevocationResult, error) {
	var res RevocationResult
	err := r.store.RunInTransaction(ctx, func(tx store.Store) error {
		winners, err := tx.AuthoritativeManifests(ctx)
		if err != nil {
			return fmt.Errorf("authoritative manifests: %w", err)
		}
		for _, w := range winners {
			if w.Contenders > 1 {
				res.Ties = append(res.Ties, w)
			}
		}
		res.Changes, err = tx.ApplyManifestRevocations(ctx, winners)
		if err != nil {
			return fmt.Errorf("apply manifest revocations: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, w := range res.Ties {
		r.metrics.IncIntegrityAnomaly()
		r.logger.Warn("tied authoritative manifests",
			"master_key", w.MasterKey, "seq", w.Sequence, "winner", w.SigningKey,
			"contenders", w.Contenders, "err", model.ErrIntegrity)
	}

	revoked := 0
	for _, c := range res.Changes {
		if !c.Revoked {
			continue
		}
		revoked++
		if err := r.publisher.Publish(ctx, events.TopicManifestRevoked, events.ManifestRevoked{Change: c}); err != nil {
			r.logger.Warn("publish failed", "topic", events.TopicManifestRevoked, "err", err)
		}
	}
	r.metrics.AddRevoked(revoked)

	res.Participants, err = r.store.ApplyParticipantRevocations(ctx)
	if err != nil {
		return &res, fmt.Errorf("apply participant revocations: %w", err)
	}
	return &res, nil
}
