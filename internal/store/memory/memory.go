// Package memory implements store.Store in process memory. It backs dry-run
// cycles and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/postfiatorg/validator-history-service/internal/model"
	"github.com/postfiatorg/validator-history-service/internal/store"
)

// Store implements store.Store with maps guarded by a mutex.
type Store struct {
	mu sync.Mutex
	st *state
}

var _ store.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{st: newState()}
}

func (s *Store) Close() error { return nil }

// RunInTransaction runs fn against a copy of the tables and publishes the
// copy only if fn succeeds. Other callers block until it finishes.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &txStore{st: s.st.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	s.st = tx.st
	return nil
}

func (s *Store) UpsertManifest(_ context.Context, m *model.Manifest, conclusive bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.upsertManifest(m, conclusive)
}

func (s *Store) GetManifest(_ context.Context, signingKey string, seq uint32) (*model.Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.getManifest(signingKey, seq)
}

func (s *Store) ListManifests(_ context.Context, masterKey string) ([]*model.Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.listManifests(masterKey), nil
}

func (s *Store) AuthoritativeManifests(_ context.Context) ([]model.AuthoritativeManifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.authoritativeManifests(), nil
}

func (s *Store) ApplyManifestRevocations(_ context.Context, winners []model.AuthoritativeManifest) ([]model.RevocationChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.applyManifestRevocations(winners), nil
}

func (s *Store) ApplyParticipantRevocations(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.applyParticipantRevocations(), nil
}

func (s *Store) ObserveParticipants(_ context.Context, keys []string, seenAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.observe(keys, seenAt), nil
}

func (s *Store) GetParticipant(_ context.Context, signingKey string) (*model.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.getParticipant(signingKey)
}

func (s *Store) ListParticipants(_ context.Context) ([]*model.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.listParticipants(), nil
}

func (s *Store) ListSigningKeys(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.sortedParticipantKeys(), nil
}

func (s *Store) PropagateManifests(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.propagate(), nil
}

func (s *Store) ReplaceListMembership(_ context.Context, tag string, keys, keepMasters []string, seenAt time.Time) (model.MembershipChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.replaceListMembership(tag, keys, keepMasters, seenAt), nil
}

func (s *Store) PurgeStaleParticipants(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.purge(func(p model.Participant) bool { return p.LastSeen.Before(cutoff) }), nil
}

func (s *Store) PurgeRevokedParticipants(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.purge(func(p model.Participant) bool { return p.Revoked }), nil
}

func (s *Store) ApplyFallbackDomain(_ context.Context, masterKey, domain string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.applyFallbackDomain(masterKey, domain), nil
}

// txStore implements store.Store over the private copy of a transaction.
type txStore struct {
	st *state
}

var _ store.Store = (*txStore)(nil)

func (s *txStore) Close() error { return nil }

// RunInTransaction flattens nested transactions into the enclosing one.
func (s *txStore) RunInTransaction(_ context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

func (s *txStore) UpsertManifest(_ context.Context, m *model.Manifest, conclusive bool) error {
	return s.st.upsertManifest(m, conclusive)
}

func (s *txStore) GetManifest(_ context.Context, signingKey string, seq uint32) (*model.Manifest, error) {
	return s.st.getManifest(signingKey, seq)
}

func (s *txStore) ListManifests(_ context.Context, masterKey string) ([]*model.Manifest, error) {
	return s.st.listManifests(masterKey), nil
}

func (s *txStore) AuthoritativeManifests(_ context.Context) ([]model.AuthoritativeManifest, error) {
	return s.st.authoritativeManifests(), nil
}

func (s *txStore) ApplyManifestRevocations(_ context.Context, winners []model.AuthoritativeManifest) ([]model.RevocationChange, error) {
	return s.st.applyManifestRevocations(winners), nil
}

func (s *txStore) ApplyParticipantRevocations(_ context.Context) (int64, error) {
	return s.st.applyParticipantRevocations(), nil
}

func (s *txStore) ObserveParticipants(_ context.Context, keys []string, seenAt time.Time) (int64, error) {
	return s.st.observe(keys, seenAt), nil
}

func (s *txStore) GetParticipant(_ context.Context, signingKey string) (*model.Participant, error) {
	return s.st.getParticipant(signingKey)
}

func (s *txStore) ListParticipants(_ context.Context) ([]*model.Participant, error) {
	return s.st.listParticipants(), nil
}

func (s *txStore) ListSigningKeys(_ context.Context) ([]string, error) {
	return s.st.sortedParticipantKeys(), nil
}

func (s *txStore) PropagateManifests(_ context.Context) (int64, error) {
	return s.st.propagate(), nil
}

func (s *txStore) ReplaceListMembership(_ context.Context, tag string, keys, keepMasters []string, seenAt time.Time) (model.MembershipChange, error) {
	return s.st.replaceListMembership(tag, keys, keepMasters, seenAt), nil
}

func (s *txStore) PurgeStaleParticipants(_ context.Context, cutoff time.Time) (int64, error) {
	return s.st.purge(func(p model.Participant) bool { return p.LastSeen.Before(cutoff) }), nil
}

func (s *txStore) PurgeRevokedParticipants(_ context.Context) (int64, error) {
	return s.st.purge(func(p model.Participant) bool { return p.Revoked }), nil
}

func (s *txStore) ApplyFallbackDomain(_ context.Context, masterKey, domain string) (int64, error) {
	return s.st.applyFallbackDomain(masterKey, domain), nil
}
