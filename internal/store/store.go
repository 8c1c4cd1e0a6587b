package store

import (
	"context"
	"time"

	"github.com/postfiatorg/validator-history-service/internal/model"
)

// Store defines the persistence interface for manifests and participants.
// Batch operations are set-based; each runs as a single statement or, where
// it needs two, should be called inside RunInTransaction.
type Store interface {
	// Manifests
	// UpsertManifest inserts m keyed by (SigningKey, Sequence). On conflict
	// the stored domain_verified is only replaced when conclusive is true, and
	// a row with a verified signature is never replaced by one without.
	UpsertManifest(ctx context.Context, m *model.Manifest, conclusive bool) error
	GetManifest(ctx context.Context, signingKey string, seq uint32) (*model.Manifest, error)
	ListManifests(ctx context.Context, masterKey string) ([]*model.Manifest, error) // all manifests when masterKey is empty

	// Revocation
	AuthoritativeManifests(ctx context.Context) ([]model.AuthoritativeManifest, error)
	ApplyManifestRevocations(ctx context.Context, winners []model.AuthoritativeManifest) ([]model.RevocationChange, error)
	ApplyParticipantRevocations(ctx context.Context) (int64, error)

	// Participants
	ObserveParticipants(ctx context.Context, keys []string, seenAt time.Time) (int64, error)
	GetParticipant(ctx context.Context, signingKey string) (*model.Participant, error)
	ListParticipants(ctx context.Context) ([]*model.Participant, error)
	ListSigningKeys(ctx context.Context) ([]string, error)
	PropagateManifests(ctx context.Context) (int64, error)

	// Membership
	// ReplaceListMembership tags keys with tag, creating missing participants
	// with last_seen = seenAt, and clears tag from every other participant
	// except those whose master key is in keepMasters.
	ReplaceListMembership(ctx context.Context, tag string, keys, keepMasters []string, seenAt time.Time) (model.MembershipChange, error)

	// Participant lifecycle
	PurgeStaleParticipants(ctx context.Context, cutoff time.Time) (int64, error)
	PurgeRevokedParticipants(ctx context.Context) (int64, error)
	ApplyFallbackDomain(ctx context.Context, masterKey, domain string) (int64, error)

	// Transaction support
	RunInTransaction(ctx context.Context, fn func(tx Store) error) error

	// Lifecycle
	Close() error
}

// Dedupe returns keys without blanks or duplicates, in first-seen order.
func Dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
