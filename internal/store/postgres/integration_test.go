//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/postfiatorg/validator-history-service/internal/model"
	"github.com/postfiatorg/validator-history-service/internal/store"
)

type StoreSuite struct {
	suite.Suite
	container testcontainers.Container
	store     *PostgresStore
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupSuite() {
	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("vhs"),
		tcpostgres.WithUsername("vhs"),
		tcpostgres.WithPassword("vhs"),
		tcpostgres.BasicWaitStrategies(),
	)
	s.Require().NoError(err)
	s.container = container

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	s.Require().NoError(err)
	s.store, err = New(ctx, url, 4)
	s.Require().NoError(err)
}

func (s *StoreSuite) TearDownSuite() {
	if s.store != nil {
		_ = s.store.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(context.Background())
	}
}

func (s *StoreSuite) SetupTest() {
	_, err := s.store.db.Exec(`TRUNCATE manifests, participants`)
	s.Require().NoError(err)
}

func (s *StoreSuite) upsert(signing, master string, seq uint32) {
	m := &model.Manifest{SigningKey: signing, MasterKey: master, Sequence: seq, SignatureVerified: true}
	s.Require().NoError(s.store.UpsertManifest(context.Background(), m, true))
}

func (s *StoreSuite) revoke() []model.RevocationChange {
	ctx := context.Background()
	var changes []model.RevocationChange
	err := s.store.RunInTransaction(ctx, func(tx store.Store) error {
		winners, err := tx.AuthoritativeManifests(ctx)
		if err != nil {
			return err
		}
		changes, err = tx.ApplyManifestRevocations(ctx, winners)
		return err
	})
	s.Require().NoError(err)
	return changes
}

func (s *StoreSuite) TestRevocationKeepsOnlyHighestSequence() {
	ctx := context.Background()
	s.upsert("nA", "M", 1)
	s.upsert("nB", "M", 3)
	s.upsert("nC", "M", 2)
	s.upsert("nD", "N", 1)
	s.revoke()

	ms, err := s.store.ListManifests(ctx, "")
	s.Require().NoError(err)
	s.Require().Len(ms, 4)
	for _, m := range ms {
		want := m.MasterKey == "M" && m.Sequence != 3
		s.Equal(want, m.Revoked, "%s/%d", m.SigningKey, m.Sequence)
	}
	s.Empty(s.revoke(), "second pass is a no-op")
}

func (s *StoreSuite) TestTieBreakSmallestSigningKey() {
	ctx := context.Background()
	s.upsert("nZ", "M", 4)
	s.upsert("nY", "M", 4)

	winners, err := s.store.AuthoritativeManifests(ctx)
	s.Require().NoError(err)
	s.Require().Len(winners, 1)
	s.Equal("nY", winners[0].SigningKey)
	s.Equal(2, winners[0].Contenders)
}

func (s *StoreSuite) TestUpsertOverwritePolicy() {
	ctx := context.Background()
	m := &model.Manifest{SigningKey: "nA", MasterKey: "M", Sequence: 1, Domain: "a.example", DomainVerified: true, SignatureVerified: true}
	s.Require().NoError(s.store.UpsertManifest(ctx, m, true))

	flaky := *m
	flaky.DomainVerified = false
	s.Require().NoError(s.store.UpsertManifest(ctx, &flaky, false))
	got, err := s.store.GetManifest(ctx, "nA", 1)
	s.Require().NoError(err)
	s.True(got.DomainVerified)

	forged := *m
	forged.SignatureVerified = false
	forged.Domain = "evil.example"
	s.Require().NoError(s.store.UpsertManifest(ctx, &forged, true))
	got, err = s.store.GetManifest(ctx, "nA", 1)
	s.Require().NoError(err)
	s.Equal("a.example", got.Domain)

	all, err := s.store.ListManifests(ctx, "")
	s.Require().NoError(err)
	s.Len(all, 1)
}

func (s *StoreSuite) TestRotationRevokesOldParticipant() {
	ctx := context.Background()
	now := time.Now()
	_, err := s.store.ObserveParticipants(ctx, []string{"nA", "nB"}, now)
	s.Require().NoError(err)
	s.upsert("nA", "M", 1)
	s.upsert("nB", "M", 2)

	_, err = s.store.PropagateManifests(ctx)
	s.Require().NoError(err)
	s.revoke()
	_, err = s.store.ApplyParticipantRevocations(ctx)
	s.Require().NoError(err)

	a, err := s.store.GetParticipant(ctx, "nA")
	s.Require().NoError(err)
	b, err := s.store.GetParticipant(ctx, "nB")
	s.Require().NoError(err)
	s.True(a.Revoked)
	s.False(b.Revoked)
	s.Equal("M", a.MasterKey)
	s.Equal("M", b.MasterKey)
}

func (s *StoreSuite) TestMembershipIsPerSource() {
	ctx := context.Background()
	now := time.Now()
	_, err := s.store.ReplaceListMembership(ctx, "L1", []string{"nA", "nB"}, nil, now)
	s.Require().NoError(err)
	_, err = s.store.ReplaceListMembership(ctx, "L2", []string{"nC"}, nil, now)
	s.Require().NoError(err)

	change, err := s.store.ReplaceListMembership(ctx, "L1", []string{"nB"}, nil, now)
	s.Require().NoError(err)
	s.Equal(int64(1), change.Cleared)

	a, _ := s.store.GetParticipant(ctx, "nA")
	c, _ := s.store.GetParticipant(ctx, "nC")
	s.Empty(a.ListTag)
	s.Equal("L2", c.ListTag)
}

func (s *StoreSuite) TestMembershipKeepsUnresolvedMasters() {
	ctx := context.Background()
	now := time.Now()
	_, err := s.store.ReplaceListMembership(ctx, "rpc", []string{"nA", "nB"}, nil, now)
	s.Require().NoError(err)
	_, err = s.store.db.Exec(`UPDATE participants SET master_key = 'MB' WHERE signing_key = 'nB'`)
	s.Require().NoError(err)

	change, err := s.store.ReplaceListMembership(ctx, "rpc", nil, []string{"MB"}, now)
	s.Require().NoError(err)
	s.Equal(int64(1), change.Cleared)

	a, _ := s.store.GetParticipant(ctx, "nA")
	b, _ := s.store.GetParticipant(ctx, "nB")
	s.Empty(a.ListTag)
	s.Equal("rpc", b.ListTag)
}

func (s *StoreSuite) TestLifecycle() {
	ctx := context.Background()
	now := time.Now()
	_, err := s.store.ObserveParticipants(ctx, []string{"nOld"}, now.Add(-8*24*time.Hour))
	s.Require().NoError(err)
	_, err = s.store.ObserveParticipants(ctx, []string{"nNew"}, now.Add(-6*24*time.Hour))
	s.Require().NoError(err)
	_, err = s.store.db.Exec(`UPDATE participants SET master_key = 'M' WHERE signing_key = 'nNew'`)
	s.Require().NoError(err)

	n, err := s.store.PurgeStaleParticipants(ctx, now.Add(-7*24*time.Hour))
	s.Require().NoError(err)
	s.Equal(int64(1), n)

	n, err = s.store.ApplyFallbackDomain(ctx, "M", "fb.example")
	s.Require().NoError(err)
	s.Equal(int64(1), n)
	p, err := s.store.GetParticipant(ctx, "nNew")
	s.Require().NoError(err)
	s.Equal("fb.example", p.Domain)
	s.False(p.DomainVerified)
	s.Equal(model.DomainSourceFallback, p.DomainSource)
}
