package memory

import (
	"bytes"
	"cmp"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/postfiatorg/validator-history-service/internal/model"
	"github.com/postfiatorg/validator-history-service/internal/store"
)

type manifestKey struct {
	signingKey string
	seq        uint32
}

// state holds the tables. It is not safe for concurrent use; Store
// serialises access.
type state struct {
	manifests    map[manifestKey]model.Manifest
	participants map[string]model.Participant
}

func newState() *state {
	return &state{
		manifests:    make(map[manifestKey]model.Manifest),
		participants: make(map[string]model.Participant),
	}
}

func (st *state) clone() *state {
	return &state{
		manifests:    maps.Clone(st.manifests),
		participants: maps.Clone(st.participants),
	}
}

// sortedManifests returns manifests ordered by master key, sequence and
// signing key.
func (st *state) sortedManifests() []model.Manifest {
	out := slices.Collect(maps.Values(st.manifests))
	slices.SortFunc(out, func(a, b model.Manifest) int {
		return cmp.Or(
			cmp.Compare(a.MasterKey, b.MasterKey),
			cmp.Compare(a.Sequence, b.Sequence),
			cmp.Compare(a.SigningKey, b.SigningKey),
		)
	})
	return out
}

func (st *state) sortedParticipantKeys() []string {
	return slices.Sorted(maps.Keys(st.participants))
}

func (st *state) upsertManifest(m *model.Manifest, conclusive bool) error {
	if m.SigningKey == "" {
		return fmt.Errorf("upsert manifest: empty signing key")
	}
	k := manifestKey{m.SigningKey, m.Sequence}
	cur, ok := st.manifests[k]
	if !ok {
		row := *m
		row.Revoked = false
		row.Raw = bytes.Clone(m.Raw)
		st.manifests[k] = row
		return nil
	}
	if cur.SignatureVerified && !m.SignatureVerified {
		return nil
	}
	if m.MasterKey != "" {
		cur.MasterKey = m.MasterKey
	}
	cur.Domain = m.Domain
	cur.SignatureVerified = m.SignatureVerified
	if conclusive {
		cur.DomainVerified = m.DomainVerified
	}
	cur.Raw = bytes.Clone(m.Raw)
	st.manifests[k] = cur
	return nil
}

func (st *state) getManifest(signingKey string, seq uint32) (*model.Manifest, error) {
	m, ok := st.manifests[manifestKey{signingKey, seq}]
	if !ok {
		return nil, fmt.Errorf("%w: manifest %s/%d", model.ErrNotFound, signingKey, seq)
	}
	return &m, nil
}

func (st *state) listManifests(masterKey string) []*model.Manifest {
	var out []*model.Manifest
	for _, m := range st.sortedManifests() {
		if masterKey != "" && m.MasterKey != masterKey {
			continue
		}
		out = append(out, &m)
	}
	return out
}

func (st *state) authoritativeManifests() []model.AuthoritativeManifest {
	winners := make(map[string]model.AuthoritativeManifest)
	for _, m := range st.sortedManifests() {
		if !m.SignatureVerified || m.MasterKey == "" {
			continue
		}
		w, ok := winners[m.MasterKey]
		switch {
		case !ok || m.Sequence > w.Sequence:
			winners[m.MasterKey] = model.AuthoritativeManifest{
				MasterKey: m.MasterKey, SigningKey: m.SigningKey, Sequence: m.Sequence, Contenders: 1,
			}
		case m.Sequence == w.Sequence:
			// Sorted by signing key, so the first one seen stays the winner.
			w.Contenders++
			winners[m.MasterKey] = w
		}
	}
	out := slices.Collect(maps.Values(winners))
	slices.SortFunc(out, func(a, b model.AuthoritativeManifest) int {
		return cmp.Compare(a.MasterKey, b.MasterKey)
	})
	return out
}

func (st *state) applyManifestRevocations(winners []model.AuthoritativeManifest) []model.RevocationChange {
	byMaster := make(map[string]model.AuthoritativeManifest, len(winners))
	for _, w := range winners {
		byMaster[w.MasterKey] = w
	}
	var changes []model.RevocationChange
	for _, m := range st.sortedManifests() {
		var revoked bool
		if m.SignatureVerified {
			w, ok := byMaster[m.MasterKey]
			if !ok {
				continue
			}
			revoked = m.SigningKey != w.SigningKey || m.Sequence != w.Sequence
		} else {
			revoked = true
		}
		if m.Revoked == revoked {
			continue
		}
		m.Revoked = revoked
		st.manifests[manifestKey{m.SigningKey, m.Sequence}] = m
		changes = append(changes, model.RevocationChange{
			SigningKey: m.SigningKey, MasterKey: m.MasterKey, Sequence: m.Sequence, Revoked: revoked,
		})
	}
	return changes
}

// latestBySigningKey returns the highest-sequence signature-verified
// manifest of each signing key.
func (st *state) latestBySigningKey() map[string]model.Manifest {
	latest := make(map[string]model.Manifest)
	for _, m := range st.manifests {
		if !m.SignatureVerified {
			continue
		}
		if cur, ok := latest[m.SigningKey]; !ok || m.Sequence > cur.Sequence {
			latest[m.SigningKey] = m
		}
	}
	return latest
}

func (st *state) applyParticipantRevocations() int64 {
	var n int64
	latest := st.latestBySigningKey()
	for key, p := range st.participants {
		if m, ok := latest[key]; ok && p.Revoked != m.Revoked {
			p.Revoked = m.Revoked
			st.participants[key] = p
			n++
		}
	}

	live := make(map[string][]string)
	for _, m := range st.manifests {
		if m.SignatureVerified && !m.Revoked && m.MasterKey != "" {
			live[m.MasterKey] = append(live[m.MasterKey], m.SigningKey)
		}
	}
	for key, p := range st.participants {
		if p.Revoked || p.MasterKey == "" {
			continue
		}
		if slices.ContainsFunc(live[p.MasterKey], func(k string) bool { return k != key }) {
			p.Revoked = true
			st.participants[key] = p
			n++
		}
	}
	return n
}

func (st *state) observe(keys []string, seenAt time.Time) int64 {
	keys = store.Dedupe(keys)
	for _, key := range keys {
		p, ok := st.participants[key]
		if !ok {
			p = model.Participant{SigningKey: key}
		}
		if seenAt.After(p.LastSeen) {
			p.LastSeen = seenAt
		}
		st.participants[key] = p
	}
	return int64(len(keys))
}

func (st *state) getParticipant(signingKey string) (*model.Participant, error) {
	p, ok := st.participants[signingKey]
	if !ok {
		return nil, fmt.Errorf("%w: participant %s", model.ErrNotFound, signingKey)
	}
	return &p, nil
}

func (st *state) listParticipants() []*model.Participant {
	out := make([]*model.Participant, 0, len(st.participants))
	for _, key := range st.sortedParticipantKeys() {
		p := st.participants[key]
		out = append(out, &p)
	}
	return out
}

func (st *state) propagate() int64 {
	var n int64
	for key, m := range st.latestBySigningKey() {
		p, ok := st.participants[key]
		if !ok {
			continue
		}
		if m.MasterKey != "" {
			p.MasterKey = m.MasterKey
		}
		p.Revoked = m.Revoked
		if m.Domain != "" {
			p.Domain = m.Domain
			p.DomainVerified = m.DomainVerified
			p.DomainSource = model.DomainSourceManifest
		}
		st.participants[key] = p
		n++
	}
	return n
}

func (st *state) replaceListMembership(tag string, keys, keepMasters []string, seenAt time.Time) model.MembershipChange {
	change := model.MembershipChange{Tag: tag}
	listed := make(map[string]bool)
	for _, key := range store.Dedupe(keys) {
		listed[key] = true
		p, ok := st.participants[key]
		if !ok {
			p = model.Participant{SigningKey: key, LastSeen: seenAt}
		} else if p.ListTag == tag {
			continue
		}
		p.ListTag = tag
		st.participants[key] = p
		change.Tagged++
	}
	keep := make(map[string]bool, len(keepMasters))
	for _, m := range keepMasters {
		keep[m] = true
	}
	for key, p := range st.participants {
		if p.ListTag == tag && !listed[key] && !(p.MasterKey != "" && keep[p.MasterKey]) {
			p.ListTag = ""
			st.participants[key] = p
			change.Cleared++
		}
	}
	return change
}

func (st *state) purge(match func(model.Participant) bool) int64 {
	var n int64
	for key, p := range st.participants {
		if match(p) {
			delete(st.participants, key)
			n++
		}
	}
	return n
}

func (st *state) applyFallbackDomain(masterKey, domain string) int64 {
	if masterKey == "" {
		return 0
	}
	var n int64
	for key, p := range st.participants {
		if p.MasterKey != masterKey || p.Domain != "" {
			continue
		}
		p.Domain = domain
		p.DomainVerified = false
		p.DomainSource = model.DomainSourceFallback
		st.participants[key] = p
		n++
	}
	return n
}
