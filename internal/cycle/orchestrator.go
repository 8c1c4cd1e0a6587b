// Package cycle runs the reconciliation pipeline: one cycle at a time, in a
// fixed step order, with parallel fan-out inside steps.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/postfiatorg/validator-history-service/internal/events"
	"github.com/postfiatorg/validator-history-service/internal/export"
	"github.com/postfiatorg/validator-history-service/internal/idgen"
	"github.com/postfiatorg/validator-history-service/internal/manifest"
	"github.com/postfiatorg/validator-history-service/internal/metrics"
	"github.com/postfiatorg/validator-history-service/internal/model"
	"github.com/postfiatorg/validator-history-service/internal/reconcile"
	"github.com/postfiatorg/validator-history-service/internal/store"
	"github.com/postfiatorg/validator-history-service/internal/unl"
)

// ErrCycleRunning is returned by Run while another cycle is in progress.
var ErrCycleRunning = errors.New("cycle already running")

// Step names, in execution order.
const (
	StepLists      = "lists"
	StepRefresh    = "refresh"
	StepPropagate  = "propagate"
	StepMembership = "membership"
	StepRevoke     = "revoke"
	StepPurge      = "purge"
	StepFallback   = "fallback"
	StepExport     = "export"
)

// DefaultConcurrency bounds fan-out when Config.Concurrency is unset.
const DefaultConcurrency = 16

type state int32

const (
	stateIdle state = iota
	stateRunning
)

// ManifestLookup resolves the current manifest of a signing key.
type ManifestLookup interface {
	Manifest(ctx context.Context, key string) (string, error)
}

// Config wires an Orchestrator. Lookup, Exporter, Publisher and Metrics are
// optional.
type Config struct {
	Sources     []unl.Source
	Lookup      ManifestLookup
	Store       store.Store
	Reconciler  *reconcile.Reconciler
	Membership  *reconcile.Membership
	Lifecycle   *reconcile.Lifecycle
	Exporter    *export.Exporter
	Publisher   events.Publisher
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	Concurrency int
	Now         func() time.Time
}

// Report describes one completed cycle.
type Report struct {
	ID       string             `json:"id"`
	Started  time.Time          `json:"started"`
	Finished time.Time          `json:"finished"`
	Steps    []model.StepResult `json:"steps"`
}

// Failed is the number of failed items across all steps.
func (r *Report) Failed() int {
	n := 0
	for _, s := range r.Steps {
		n += s.Failed
		if s.Err != "" {
			n++
		}
	}
	return n
}

// Step returns the result of the named step.
func (r *Report) Step(name string) (model.StepResult, bool) {
	for _, s := range r.Steps {
		if s.Step == name {
			return s, true
		}
	}
	return model.StepResult{}, false
}

// Orchestrator owns the idle/running state of the pipeline.
type Orchestrator struct {
	cfg   Config
	state atomic.Int32
	last  atomic.Pointer[Report]
}

func New(cfg Config) *Orchestrator {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Publisher == nil {
		cfg.Publisher = &events.NoopPublisher{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{cfg: cfg}
}

// Running reports whether a cycle is in progress.
func (o *Orchestrator) Running() bool {
	return state(o.state.Load()) == stateRunning
}

// LastReport returns the report of the most recent cycle, or nil.
func (o *Orchestrator) LastReport() *Report {
	return o.last.Load()
}

// Run executes one cycle. Item and step failures are recorded in the
// report and never abort the cycle; the only errors are ErrCycleRunning and
// failure to start.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	if !o.state.CompareAndSwap(int32(stateIdle), int32(stateRunning)) {
		o.cfg.Metrics.CycleSkipped()
		return nil, ErrCycleRunning
	}
	defer o.state.Store(int32(stateIdle))

	id, err := idgen.CycleID()
	if err != nil {
		return nil, fmt.Errorf("start cycle: %w", err)
	}
	r := &run{o: o, logger: o.cfg.Logger.With("cycle", id)}
	rep := &Report{ID: id, Started: o.cfg.Now()}
	o.cfg.Metrics.CycleStarted()
	r.logger.Info("cycle started")

	snapshots, res := r.ingestLists(ctx, rep.Started)
	rep.Steps = append(rep.Steps, res)
	rep.Steps = append(rep.Steps, r.refresh(ctx))
	rep.Steps = append(rep.Steps, r.propagate(ctx))
	rep.Steps = append(rep.Steps, r.membership(ctx, snapshots, rep.Started))
	rep.Steps = append(rep.Steps, r.revoke(ctx))
	rep.Steps = append(rep.Steps, r.purge(ctx, rep.Started))
	rep.Steps = append(rep.Steps, r.fallback(ctx))
	if o.cfg.Exporter.Enabled() {
		rep.Steps = append(rep.Steps, r.export(ctx, id))
	}
	for _, s := range rep.Steps {
		o.cfg.Metrics.ObserveStep(s.Step, s.Succeeded, s.Failed)
	}

	rep.Finished = o.cfg.Now()
	outcome := "ok"
	if rep.Failed() > 0 {
		outcome = "partial"
	}
	o.cfg.Metrics.CycleFinished(outcome, rep.Finished.Sub(rep.Started))
	o.last.Store(rep)

	if err := o.cfg.Publisher.Publish(ctx, events.TopicCycleCompleted, events.CycleCompleted{
		CycleID:  id,
		Started:  rep.Started,
		Duration: rep.Finished.Sub(rep.Started).String(),
		Steps:    rep.Steps,
	}); err != nil {
		r.logger.Warn("publish failed", "topic", events.TopicCycleCompleted, "err", err)
	}
	r.logger.Info("cycle finished", "outcome", outcome, "failed", rep.Failed(), "duration", rep.Finished.Sub(rep.Started))
	return rep, nil
}

// run carries per-cycle state.
type run struct {
	o      *Orchestrator
	logger *slog.Logger
}

// counter tallies item outcomes from concurrent goroutines.
type counter struct {
	succeeded atomic.Int64
	failed    atomic.Int64
}

func (c *counter) result(step string) model.StepResult {
	return model.StepResult{Step: step, Succeeded: int(c.succeeded.Load()), Failed: int(c.failed.Load())}
}

func (r *run) group(ctx context.Context) (*errgroup.Group, context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.o.cfg.Concurrency)
	return g, gctx
}

// snapshot is the membership of one source as seen in this cycle. Keys are
// signing keys; Unresolved are listed master keys with no usable manifest.
type snapshot struct {
	Keys       []string
	Unresolved []string
}

// ingestLists fetches every trusted-list source, ingests the manifests of
// all entries and marks the listed keys as seen. It returns the snapshot of
// each source that was fetched successfully. An entry whose manifest could
// not be decoded has no signing key; it is counted as failed and reported
// as unresolved.
func (r *run) ingestLists(ctx context.Context, now time.Time) (map[string]*snapshot, model.StepResult) {
	var c counter
	lists := make([]*model.TrustedList, len(r.o.cfg.Sources))
	g, gctx := r.group(ctx)
	for i, src := range r.o.cfg.Sources {
		g.Go(func() error {
			list, err := src.Fetch(gctx)
			if err != nil {
				c.failed.Add(1)
				r.logger.Warn("trusted list fetch failed", "source", src.Name(), "err", err)
				return nil
			}
			lists[i] = list
			return nil
		})
	}
	_ = g.Wait()

	snapshots := make(map[string]*snapshot)
	unresolved := make(map[string][]string)
	g, gctx = r.group(ctx)
	for _, list := range lists {
		if list == nil {
			continue
		}
		c.failed.Add(int64(len(list.Unresolved)))
		keys := make([]string, len(list.Entries))
		failed := make([]string, len(list.Entries))
		snapshots[list.Name] = &snapshot{Keys: keys, Unresolved: list.Unresolved}
		unresolved[list.Name] = failed
		for i, entry := range list.Entries {
			g.Go(func() error {
				m, err := r.o.cfg.Reconciler.Ingest(gctx, manifest.Text(entry.Manifest), list.Name)
				if err != nil {
					c.failed.Add(1)
				} else {
					c.succeeded.Add(1)
				}
				if m == nil {
					failed[i] = entry.ValidationPublicKey
					return nil
				}
				keys[i] = m.SigningKey
				return nil
			})
		}
	}
	_ = g.Wait()

	var seen []string
	for name, snap := range snapshots {
		snap.Keys = store.Dedupe(snap.Keys)
		snap.Unresolved = store.Dedupe(slices.Concat(snap.Unresolved, unresolved[name]))
		seen = append(seen, snap.Keys...)
	}
	if len(seen) == 0 {
		return snapshots, c.result(StepLists)
	}
	if _, err := r.o.cfg.Store.ObserveParticipants(ctx, seen, now); err != nil {
		res := c.result(StepLists)
		res.Err = err.Error()
		r.logger.Error("observe listed participants failed", "err", err)
		return snapshots, res
	}
	return snapshots, c.result(StepLists)
}

// refresh looks up the live manifest of every known signing key.
func (r *run) refresh(ctx context.Context) model.StepResult {
	if r.o.cfg.Lookup == nil {
		return model.StepResult{Step: StepRefresh, Skipped: true}
	}
	keys, err := r.o.cfg.Store.ListSigningKeys(ctx)
	if err != nil {
		r.logger.Error("list signing keys failed", "err", err)
		return model.StepResult{Step: StepRefresh, Err: err.Error()}
	}

	var c counter
	g, gctx := r.group(ctx)
	for _, key := range keys {
		g.Go(func() error {
			text, err := r.o.cfg.Lookup.Manifest(gctx, key)
			switch {
			case errors.Is(err, model.ErrNotFound):
				r.logger.Debug("no live manifest", "key", key)
				return nil
			case err != nil:
				c.failed.Add(1)
				r.logger.Warn("manifest lookup failed", "key", key, "err", err)
				return nil
			}
			if _, err := r.o.cfg.Reconciler.Ingest(gctx, manifest.Text(text), unl.RPCSourceName); err != nil {
				c.failed.Add(1)
				return nil
			}
			c.succeeded.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return c.result(StepRefresh)
}

func (r *run) propagate(ctx context.Context) model.StepResult {
	n, err := r.o.cfg.Reconciler.Propagate(ctx)
	if err != nil {
		r.logger.Error("propagation failed", "err", err)
		return model.StepResult{Step: StepPropagate, Err: err.Error()}
	}
	return model.StepResult{Step: StepPropagate, Succeeded: int(n)}
}

// membership applies each fetched snapshot. Sources whose fetch failed keep
// their previous membership.
func (r *run) membership(ctx context.Context, snapshots map[string]*snapshot, now time.Time) model.StepResult {
	res := model.StepResult{Step: StepMembership}
	for _, src := range r.o.cfg.Sources {
		snap, ok := snapshots[src.Name()]
		if !ok {
			continue
		}
		if _, err := r.o.cfg.Membership.Apply(ctx, src.Name(), snap.Keys, snap.Unresolved, now); err != nil {
			res.Failed++
			r.logger.Error("membership update failed", "source", src.Name(), "err", err)
			continue
		}
		res.Succeeded++
	}
	return res
}

func (r *run) revoke(ctx context.Context) model.StepResult {
	rev, err := r.o.cfg.Reconciler.Revoke(ctx)
	if err != nil {
		r.logger.Error("revocation failed", "err", err)
		return model.StepResult{Step: StepRevoke, Err: err.Error()}
	}
	return model.StepResult{Step: StepRevoke, Succeeded: len(rev.Changes) + int(rev.Participants)}
}

func (r *run) purge(ctx context.Context, now time.Time) model.StepResult {
	p, err := r.o.cfg.Lifecycle.Purge(ctx, now)
	if err != nil {
		r.logger.Error("purge failed", "err", err)
		return model.StepResult{Step: StepPurge, Err: err.Error()}
	}
	return model.StepResult{Step: StepPurge, Succeeded: int(p.Stale + p.Revoked)}
}

func (r *run) fallback(ctx context.Context) model.StepResult {
	res := r.o.cfg.Lifecycle.ApplyFallback(ctx)
	res.Step = StepFallback
	return res
}

func (r *run) export(ctx context.Context, id string) model.StepResult {
	if err := r.o.cfg.Exporter.Snapshot(ctx, id); err != nil {
		return model.StepResult{Step: StepExport, Err: err.Error()}
	}
	return model.StepResult{Step: StepExport, Succeeded: 1}
}
