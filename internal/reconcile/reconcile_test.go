package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/postfiatorg/validator-history-service/internal/attestation"
	"github.com/postfiatorg/validator-history-service/internal/events"
	"github.com/postfiatorg/validator-history-service/internal/manifest"
	"github.com/postfiatorg/validator-history-service/internal/manifest/manifesttest"
	"github.com/postfiatorg/validator-history-service/internal/model"
	"github.com/postfiatorg/validator-history-service/internal/store/memory"
)

var discard = slog.New(slog.DiscardHandler)

// trustFiles serves per-domain trust files; unknown domains fail with a
// network error.
type trustFiles struct {
	mu    sync.Mutex
	files map[string]*attestation.TrustFile
}

func (f *trustFiles) Fetch(_ context.Context, domain string) (*attestation.TrustFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.files[domain]
	if !ok {
		return nil, fmt.Errorf("%w: %s unreachable", model.ErrNetwork, domain)
	}
	return file, nil
}

func (f *trustFiles) set(domain string, entries ...attestation.TrustFileValidator) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[domain] = &attestation.TrustFile{Validators: entries, HasValidators: true}
}

func (f *trustFiles) drop(domain string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, domain)
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	events []any
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) count(topic string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, t := range p.topics {
		if t == topic {
			n++
		}
	}
	return n
}

type harness struct {
	store *memory.Store
	files *trustFiles
	pub   *recordingPublisher
	rec   *Reconciler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store: memory.New(),
		files: &trustFiles{files: map[string]*attestation.TrustFile{}},
		pub:   &recordingPublisher{},
	}
	h.rec = NewReconciler(h.store, attestation.NewVerifier(h.files), h.pub, nil, discard)
	return h
}

func (h *harness) ingest(t *testing.T, s manifesttest.Spec) *model.Manifest {
	t.Helper()
	m, err := h.rec.Ingest(context.Background(), manifest.Encoded(manifesttest.Build(t, s).Raw), "test")
	require.NoError(t, err)
	return m
}

func attest(t *testing.T, master *manifesttest.Key, domain string) attestation.TrustFileValidator {
	return attestation.TrustFileValidator{PublicKey: master.Node(t), Attestation: manifesttest.Attest(t, master, domain)}
}

func TestIngest_VerifiedDomain(t *testing.T) {
	h := newHarness(t)
	master, signing := manifesttest.NewEd25519(t), manifesttest.NewSecp256k1(t)
	h.files.set("example.com", attest(t, master, "example.com"))

	m := h.ingest(t, manifesttest.Spec{Master: master, Signing: signing, Sequence: 3, Domain: "example.com"})
	assert.True(t, m.SignatureVerified)
	assert.True(t, m.DomainVerified)

	got, err := h.store.GetManifest(context.Background(), signing.Node(t), 3)
	require.NoError(t, err)
	assert.Equal(t, master.Node(t), got.MasterKey)
	assert.Equal(t, "example.com", got.Domain)
	assert.True(t, got.DomainVerified)
	assert.False(t, got.Revoked)
	assert.Equal(t, 1, h.pub.count(events.TopicManifestIngested))
}

func TestIngest_UnverifiedDomainStillStored(t *testing.T) {
	h := newHarness(t)
	master, signing := manifesttest.NewEd25519(t), manifesttest.NewEd25519(t)
	h.files.set("example.com") // no entry for this key

	m := h.ingest(t, manifesttest.Spec{Master: master, Signing: signing, Sequence: 1, Domain: "example.com"})
	assert.True(t, m.SignatureVerified)
	assert.False(t, m.DomainVerified)
}

func TestIngest_BadSignature(t *testing.T) {
	h := newHarness(t)
	master, signing := manifesttest.NewEd25519(t), manifesttest.NewEd25519(t)
	p := manifesttest.Build(t, manifesttest.Spec{Master: master, Signing: signing, Sequence: 1, Domain: "example.com"})
	p.Signature[0] ^= 0xFF

	m, err := h.rec.Ingest(context.Background(), manifest.Encoded(manifest.Serialize(p)), "test")
	require.ErrorIs(t, err, model.ErrSignatureInvalid)
	require.NotNil(t, m)

	got, err := h.store.GetManifest(context.Background(), signing.Node(t), 1)
	require.NoError(t, err)
	assert.False(t, got.SignatureVerified)
	assert.False(t, got.DomainVerified)
}

func TestIngest_NoMasterKey(t *testing.T) {
	h := newHarness(t)
	signing := manifesttest.NewEd25519(t)
	p := manifesttest.Build(t, manifesttest.Spec{Signing: signing, Sequence: 1})

	_, err := h.rec.Ingest(context.Background(), manifest.Encoded(p.Raw), "test")
	require.ErrorIs(t, err, model.ErrIntegrity)

	all, err := h.store.ListManifests(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestIngest_Undecodable(t *testing.T) {
	h := newHarness(t)
	_, err := h.rec.Ingest(context.Background(), manifest.Text("not a manifest"), "test")
	require.ErrorIs(t, err, model.ErrDecode)
	assert.Zero(t, h.pub.count(events.TopicManifestIngested))
}

func TestIngest_NetworkFailureKeepsVerification(t *testing.T) {
	h := newHarness(t)
	master, signing := manifesttest.NewEd25519(t), manifesttest.NewEd25519(t)
	spec := manifesttest.Spec{Master: master, Signing: signing, Sequence: 1, Domain: "example.com"}
	h.files.set("example.com", attest(t, master, "example.com"))
	h.ingest(t, spec)

	h.files.drop("example.com")
	m := h.ingest(t, spec)
	assert.False(t, m.DomainVerified)

	got, err := h.store.GetManifest(context.Background(), signing.Node(t), 1)
	require.NoError(t, err)
	assert.True(t, got.DomainVerified)
}

func TestRevoke_KeyRotation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	master := manifesttest.NewEd25519(t)
	oldKey, newKey := manifesttest.NewEd25519(t), manifesttest.NewEd25519(t)

	h.ingest(t, manifesttest.Spec{Master: master, Signing: oldKey, Sequence: 1})
	h.ingest(t, manifesttest.Spec{Master: master, Signing: newKey, Sequence: 2})
	_, err := h.store.ObserveParticipants(ctx, []string{oldKey.Node(t), newKey.Node(t)}, time.Now())
	require.NoError(t, err)
	n, err := h.rec.Propagate(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	res, err := h.rec.Revoke(ctx)
	require.NoError(t, err)
	require.Len(t, res.Changes, 1)
	assert.Equal(t, oldKey.Node(t), res.Changes[0].SigningKey)
	assert.True(t, res.Changes[0].Revoked)
	assert.Empty(t, res.Ties)
	assert.EqualValues(t, 1, res.Participants)
	assert.Equal(t, 1, h.pub.count(events.TopicManifestRevoked))

	old, err := h.store.GetParticipant(ctx, oldKey.Node(t))
	require.NoError(t, err)
	assert.True(t, old.Revoked)
	cur, err := h.store.GetParticipant(ctx, newKey.Node(t))
	require.NoError(t, err)
	assert.False(t, cur.Revoked)

	// A second pass changes nothing.
	res, err = h.rec.Revoke(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Changes)
	assert.Zero(t, res.Participants)
}

func TestRevoke_TieResolvesToSmallestKey(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	master := manifesttest.NewEd25519(t)
	a, b := manifesttest.NewEd25519(t), manifesttest.NewEd25519(t)
	h.ingest(t, manifesttest.Spec{Master: master, Signing: a, Sequence: 5})
	h.ingest(t, manifesttest.Spec{Master: master, Signing: b, Sequence: 5})

	res, err := h.rec.Revoke(ctx)
	require.NoError(t, err)
	require.Len(t, res.Ties, 1)
	assert.Equal(t, 2, res.Ties[0].Contenders)

	winner, loser := a.Node(t), b.Node(t)
	if loser < winner {
		winner, loser = loser, winner
	}
	assert.Equal(t, winner, res.Ties[0].SigningKey)
	require.Len(t, res.Changes, 1)
	assert.Equal(t, loser, res.Changes[0].SigningKey)
}

func TestRevoke_ForgedManifestNeverWins(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	master := manifesttest.NewEd25519(t)
	good, forged := manifesttest.NewEd25519(t), manifesttest.NewEd25519(t)
	h.ingest(t, manifesttest.Spec{Master: master, Signing: good, Sequence: 1})

	p := manifesttest.Build(t, manifesttest.Spec{Master: master, Signing: forged, Sequence: 9})
	p.MasterSignature[0] ^= 0xFF
	p.Signature[0] ^= 0xFF
	_, err := h.rec.Ingest(ctx, manifest.Encoded(manifest.Serialize(p)), "test")
	require.ErrorIs(t, err, model.ErrSignatureInvalid)

	_, err = h.rec.Revoke(ctx)
	require.NoError(t, err)

	g, err := h.store.GetManifest(ctx, good.Node(t), 1)
	require.NoError(t, err)
	assert.False(t, g.Revoked)
	f, err := h.store.GetManifest(ctx, forged.Node(t), 9)
	require.NoError(t, err)
	assert.True(t, f.Revoked)
}

func TestMembership_Apply(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	m := NewMembership(s, discard)
	now := time.Now()

	change, err := m.Apply(ctx, "main", []string{"nA", "nB", "nA"}, nil, now)
	require.NoError(t, err)
	assert.EqualValues(t, 2, change.Tagged)

	_, err = m.Apply(ctx, "other", []string{"nC"}, nil, now)
	require.NoError(t, err)

	change, err = m.Apply(ctx, "main", []string{"nB"}, nil, now)
	require.NoError(t, err)
	assert.EqualValues(t, 0, change.Tagged)
	assert.EqualValues(t, 1, change.Cleared)

	a, err := s.GetParticipant(ctx, "nA")
	require.NoError(t, err)
	assert.Empty(t, a.ListTag)
	c, err := s.GetParticipant(ctx, "nC")
	require.NoError(t, err)
	assert.Equal(t, "other", c.ListTag)

	_, err = m.Apply(ctx, "", nil, nil, now)
	assert.Error(t, err)
}

func TestLifecycle_Purge(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	now := time.Now()
	_, err := h.store.ObserveParticipants(ctx, []string{"nStale"}, now.Add(-8*24*time.Hour))
	require.NoError(t, err)
	_, err = h.store.ObserveParticipants(ctx, []string{"nFresh"}, now.Add(-time.Hour))
	require.NoError(t, err)

	master := manifesttest.NewEd25519(t)
	oldKey, newKey := manifesttest.NewEd25519(t), manifesttest.NewEd25519(t)
	h.ingest(t, manifesttest.Spec{Master: master, Signing: oldKey, Sequence: 1})
	h.ingest(t, manifesttest.Spec{Master: master, Signing: newKey, Sequence: 2})
	_, err = h.store.ObserveParticipants(ctx, []string{oldKey.Node(t), newKey.Node(t)}, now)
	require.NoError(t, err)
	_, err = h.rec.Propagate(ctx)
	require.NoError(t, err)
	_, err = h.rec.Revoke(ctx)
	require.NoError(t, err)

	res, err := NewLifecycle(h.store, 0, nil, discard).Purge(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, model.PurgeResult{Stale: 1, Revoked: 1}, res)

	keys, err := h.store.ListSigningKeys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"nFresh", newKey.Node(t)}, keys)
}

func TestLifecycle_ApplyFallback(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	master, withDomain := manifesttest.NewEd25519(t), manifesttest.NewEd25519(t)
	other, bare := manifesttest.NewEd25519(t), manifesttest.NewEd25519(t)
	h.files.set("real.example", attest(t, master, "real.example"))
	h.ingest(t, manifesttest.Spec{Master: master, Signing: withDomain, Sequence: 1, Domain: "real.example"})
	h.ingest(t, manifesttest.Spec{Master: other, Signing: bare, Sequence: 1})
	_, err := h.store.ObserveParticipants(ctx, []string{withDomain.Node(t), bare.Node(t)}, time.Now())
	require.NoError(t, err)
	_, err = h.rec.Propagate(ctx)
	require.NoError(t, err)

	l := NewLifecycle(h.store, 0, map[string]string{
		master.Node(t): "ignored.example",
		other.Node(t):  "fallback.example",
	}, discard)
	res := l.ApplyFallback(ctx)
	assert.Equal(t, 2, res.Succeeded)
	assert.Zero(t, res.Failed)

	p, err := h.store.GetParticipant(ctx, bare.Node(t))
	require.NoError(t, err)
	assert.Equal(t, "fallback.example", p.Domain)
	assert.False(t, p.DomainVerified)
	assert.Equal(t, model.DomainSourceFallback, p.DomainSource)

	p, err = h.store.GetParticipant(ctx, withDomain.Node(t))
	require.NoError(t, err)
	assert.Equal(t, "real.example", p.Domain)
	assert.True(t, p.DomainVerified)
}

func TestParseFallback(t *testing.T) {
	key := manifesttest.NewEd25519(t).Node(t)

	got, err := ParseFallback([]byte("[domains]\n" + key + " = \"validator.example\"\n"))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{key: "validator.example"}, got)

	_, err = ParseFallback([]byte("[domains]\nnotakey = \"validator.example\"\n"))
	assert.Error(t, err)
	_, err = ParseFallback([]byte("[domains]\n" + key + " = \"\"\n"))
	assert.Error(t, err)
	_, err = ParseFallback([]byte("[domains"))
	assert.Error(t, err)

	def, err := LoadFallback("")
	require.NoError(t, err)
	assert.Empty(t, def)

	_, err = LoadFallback(t.TempDir() + "/missing.toml")
	assert.Error(t, err)
}
