package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/postfiatorg/validator-history-service/internal/model"
	"github.com/postfiatorg/validator-history-service/internal/store"
)

// Membership keeps each trusted list's tag equal to its latest snapshot.
type Membership struct {
	store  store.Store
	logger *slog.Logger
}

func NewMembership(s store.Store, logger *slog.Logger) *Membership {
	return &Membership{store: s, logger: logger}
}

// Apply replaces the membership of list name with keys. Keys that dropped
// off the list lose the tag; other lists are untouched. Participants of the
// master keys in unresolved are still listed and keep whatever tag they have.
func (m *Membership) Apply(ctx context.Context, name string, keys, unresolved []string, seenAt time.Time) (model.MembershipChange, error) {
	if name == "" {
		return model.MembershipChange{}, fmt.Errorf("membership: empty list name")
	}
	change, err := m.store.ReplaceListMembership(ctx, name, keys, unresolved, seenAt)
	if err != nil {
		return change, fmt.Errorf("replace membership of %s: %w", name, err)
	}
	m.logger.Info("membership updated", "list", name, "listed", len(keys), "unresolved", len(unresolved),
		"tagged", change.Tagged, "cleared", change.Cleared)
	return change, nil
}
