// Package export writes JSONL snapshots of reconciled participant and
// manifest state to external destinations.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/postfiatorg/validator-history-service/internal/store"
)

const formatVersion = "1"

// header is the first JSONL record written by WriteJSONL.
type header struct {
	Version          string    `json:"version"`
	Type             string    `json:"type"`
	Cycle            string    `json:"cycle,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
	ParticipantCount int       `json:"participant_count"`
	ManifestCount    int       `json:"manifest_count"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// WriteJSONL writes every participant, then every manifest, as JSONL to w.
// Participants are ordered by signing key; manifests by signing key and
// sequence.
func WriteJSONL(ctx context.Context, s store.Store, cycle string, now time.Time, w io.Writer) error {
	participants, err := s.ListParticipants(ctx)
	if err != nil {
		return fmt.Errorf("list participants: %w", err)
	}
	manifests, err := s.ListManifests(ctx, "")
	if err != nil {
		return fmt.Errorf("list manifests: %w", err)
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:          formatVersion,
		Type:             "header",
		Cycle:            cycle,
		Timestamp:        now.UTC(),
		ParticipantCount: len(participants),
		ManifestCount:    len(manifests),
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	for _, p := range participants {
		if err := enc.Encode(record{Type: "participant", Data: p}); err != nil {
			return fmt.Errorf("encode participant %s: %w", p.SigningKey, err)
		}
	}
	for _, m := range manifests {
		if err := enc.Encode(record{Type: "manifest", Data: m}); err != nil {
			return fmt.Errorf("encode manifest %s/%d: %w", m.SigningKey, m.Sequence, err)
		}
	}
	return nil
}
