package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/postfiatorg/validator-history-service/internal/attestation"
	"github.com/postfiatorg/validator-history-service/internal/config"
	"github.com/postfiatorg/validator-history-service/internal/cycle"
	"github.com/postfiatorg/validator-history-service/internal/events"
	"github.com/postfiatorg/validator-history-service/internal/export"
	"github.com/postfiatorg/validator-history-service/internal/fetch"
	"github.com/postfiatorg/validator-history-service/internal/metrics"
	"github.com/postfiatorg/validator-history-service/internal/reconcile"
	"github.com/postfiatorg/validator-history-service/internal/store"
	"github.com/postfiatorg/validator-history-service/internal/unl"
)

// newVerifier returns a domain verifier. Trust files are fetched once per
// verification, without retries.
func newVerifier(cfg *config.Config) *attestation.Verifier {
	client := fetch.New(fetch.WithTimeout(cfg.FetchTimeout))
	return attestation.NewVerifier(attestation.NewHTTPFetcher(client, attestation.WithPath(cfg.TrustFilePath)))
}

// pipeline holds the assembled reconciliation components.
type pipeline struct {
	orch      *cycle.Orchestrator
	hub       *events.Hub
	publisher events.Publisher
}

func (p *pipeline) Close() error {
	return p.publisher.Close()
}

// buildPipeline wires sources, reconcilers and the orchestrator over st.
func buildPipeline(ctx context.Context, cfg *config.Config, st store.Store, reg prometheus.Registerer, withExport bool, logger *slog.Logger) (*pipeline, error) {
	listClient := fetch.New(fetch.WithTimeout(cfg.FetchTimeout), fetch.WithRetries(cfg.FetchRetries))

	var sources []unl.Source
	for _, l := range cfg.TrustedLists {
		sources = append(sources, unl.NewHTTPSource(l.Name, l.URL, listClient))
	}
	var lookup cycle.ManifestLookup
	if cfg.RPCURL != "" {
		rpc := unl.NewRPCClient(cfg.RPCURL, listClient)
		sources = append(sources, unl.NewRPCSource(rpc, cfg.Concurrency, logger))
		lookup = rpc
	}
	if len(sources) == 0 {
		logger.Warn("no trusted-list sources configured (VHS_TRUSTED_LISTS, VHS_RPC_URL)")
	}

	fallback, err := reconcile.LoadFallback(cfg.FallbackFile)
	if err != nil {
		return nil, err
	}

	hub := events.NewHub()
	var publisher events.Publisher = hub
	if cfg.NATSURL != "" {
		pub, err := events.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			return nil, fmt.Errorf("connect to NATS: %w", err)
		}
		publisher = events.Multi{hub, pub}
		logger.Info("events enabled", "nats_url", cfg.NATSURL)
	}

	var exporter *export.Exporter
	if withExport && cfg.ExportS3Bucket != "" {
		dest, err := export.NewS3Destination(ctx, cfg.ExportS3Bucket, cfg.ExportS3Key, cfg.ExportS3Region, cfg.ExportS3Endpoint)
		if err != nil {
			publisher.Close()
			return nil, err
		}
		exporter = export.NewExporter(st, []export.Destination{dest}, logger)
		logger.Info("snapshot export enabled", "destination", dest.Name())
	}

	var m *metrics.Metrics
	if reg != nil {
		m = metrics.New(reg)
	}
	orch := cycle.New(cycle.Config{
		Sources:     sources,
		Lookup:      lookup,
		Store:       st,
		Reconciler:  reconcile.NewReconciler(st, newVerifier(cfg), publisher, m, logger),
		Membership:  reconcile.NewMembership(st, logger),
		Lifecycle:   reconcile.NewLifecycle(st, cfg.Retention, fallback, logger),
		Exporter:    exporter,
		Publisher:   publisher,
		Metrics:     m,
		Logger:      logger,
		Concurrency: cfg.Concurrency,
	})
	return &pipeline{orch: orch, hub: hub, publisher: publisher}, nil
}
