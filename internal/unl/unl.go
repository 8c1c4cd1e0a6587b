// Package unl fetches trusted lists: publisher documents over HTTP and the
// trusted keys of a validator-discovery RPC node.
package unl

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/postfiatorg/validator-history-service/internal/fetch"
	"github.com/postfiatorg/validator-history-service/internal/model"
)

// rippleEpoch is 2000-01-01T00:00:00Z, the zero of list timestamps.
const rippleEpoch = 946684800

// Source yields the current snapshot of one named trusted list.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (*model.TrustedList, error)
}

// FromRippleTime converts list seconds to wall time.
func FromRippleTime(s uint64) time.Time {
	return time.Unix(int64(s)+rippleEpoch, 0).UTC()
}

// ToRippleTime converts wall time to list seconds.
func ToRippleTime(t time.Time) uint64 {
	return uint64(t.Unix() - rippleEpoch)
}

type document struct {
	PublicKey string       `json:"public_key"`
	Manifest  string       `json:"manifest"`
	Blob      string       `json:"blob"`
	Signature string       `json:"signature"`
	Version   int          `json:"version"`
	BlobsV2   []signedBlob `json:"blobs_v2"`
}

type signedBlob struct {
	Blob      string `json:"blob"`
	Signature string `json:"signature"`
}

type blob struct {
	Sequence   uint64            `json:"sequence"`
	Expiration uint64            `json:"expiration"`
	Effective  *uint64           `json:"effective"`
	Validators []model.ListEntry `json:"validators"`
}

// ParseList decodes a publisher document. The current form carries one or
// more blobs in blobs_v2, of which the highest-sequence blob already in
// effect at now is used; the legacy form carries a single blob. Errors wrap
// model.ErrDecode.
func ParseList(name string, data []byte, now time.Time) (*model.TrustedList, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", model.ErrDecode, name, err)
	}

	var candidates []string
	switch {
	case len(doc.BlobsV2) > 0:
		for _, b := range doc.BlobsV2 {
			candidates = append(candidates, b.Blob)
		}
	case doc.Blob != "":
		candidates = []string{doc.Blob}
	default:
		return nil, fmt.Errorf("%w: list %s: no blob found", model.ErrDecode, name)
	}

	var chosen *blob
	for i, encoded := range candidates {
		b, err := decodeBlob(encoded)
		if err != nil {
			return nil, fmt.Errorf("%w: list %s: blob %d: %v", model.ErrDecode, name, i, err)
		}
		if b.Effective != nil && FromRippleTime(*b.Effective).After(now) {
			continue
		}
		if chosen == nil || b.Sequence > chosen.Sequence {
			chosen = b
		}
	}
	if chosen == nil {
		return nil, fmt.Errorf("%w: list %s: no blob in effect yet", model.ErrDecode, name)
	}

	list := &model.TrustedList{
		Name:       name,
		Sequence:   chosen.Sequence,
		Expiration: FromRippleTime(chosen.Expiration),
		Entries:    chosen.Validators,
	}
	if chosen.Effective != nil {
		eff := FromRippleTime(*chosen.Effective)
		list.Effective = &eff
	}
	if err := Validate(list, now); err != nil {
		return nil, err
	}
	return list, nil
}

func decodeBlob(encoded string) (*blob, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("base64: %v", err)
	}
	var b blob
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("json: %v", err)
	}
	return &b, nil
}

// Validate checks the structure of a decoded list.
func Validate(list *model.TrustedList, now time.Time) error {
	return model.ValidateTrustedList(list, now)
}

// HTTPSource reads a publisher list document from a URL.
type HTTPSource struct {
	name   string
	url    string
	client *fetch.Client
	now    func() time.Time
}

// NewHTTPSource returns a source named name that fetches url.
func NewHTTPSource(name, url string, client *fetch.Client) *HTTPSource {
	return &HTTPSource{name: name, url: url, client: client, now: time.Now}
}

func (s *HTTPSource) Name() string { return s.name }

func (s *HTTPSource) Fetch(ctx context.Context) (*model.TrustedList, error) {
	body, err := s.client.Get(ctx, s.url)
	if err != nil {
		return nil, err
	}
	return ParseList(s.name, body, s.now())
}
