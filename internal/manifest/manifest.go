// Package manifest decodes validator manifests and checks their embedded
// signing-key signature.
package manifest

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/postfiatorg/validator-history-service/internal/keys"
	"github.com/postfiatorg/validator-history-service/internal/model"
)

// Parsed is a decoded manifest with raw key material.
type Parsed struct {
	Sequence        uint32
	MasterKey       []byte // empty when the manifest names no master key
	SigningKey      []byte
	Signature       []byte
	MasterSignature []byte // parsed and carried, not verified here
	Domain          string
	Raw             []byte
}

type inputKind int

const (
	kindEncoded inputKind = iota + 1
	kindText
	kindDecoded
)

// Input is one of: Encoded wire bytes, Text (hex or base64 of the wire
// bytes) or an already Decoded manifest. Normalize is the only consumer.
type Input struct {
	kind    inputKind
	raw     []byte
	text    string
	decoded model.Manifest
}

// Encoded wraps binary wire bytes.
func Encoded(raw []byte) Input { return Input{kind: kindEncoded, raw: raw} }

// Text wraps a hex or base64 rendering of the wire bytes.
func Text(s string) Input { return Input{kind: kindText, text: s} }

// Decoded wraps a manifest that was decoded elsewhere. Its Raw payload is
// re-parsed and must agree with the decoded signing key and sequence.
func Decoded(m model.Manifest) Input { return Input{kind: kindDecoded, decoded: m} }

// Normalize turns any Input into a Parsed manifest. Errors wrap
// model.ErrDecode.
func Normalize(in Input) (*Parsed, error) {
	switch in.kind {
	case kindEncoded:
		return Parse(in.raw)
	case kindText:
		raw, err := decodeText(in.text)
		if err != nil {
			return nil, err
		}
		return Parse(raw)
	case kindDecoded:
		if len(in.decoded.Raw) == 0 {
			return nil, fmt.Errorf("%w: decoded manifest carries no raw payload", model.ErrDecode)
		}
		p, err := Parse(in.decoded.Raw)
		if err != nil {
			return nil, err
		}
		signingKey, err := keys.EncodeNodePublic(p.SigningKey)
		if err != nil {
			return nil, fmt.Errorf("%w: signing key: %v", model.ErrDecode, err)
		}
		if signingKey != in.decoded.SigningKey || p.Sequence != in.decoded.Sequence {
			return nil, fmt.Errorf("%w: decoded fields disagree with raw payload", model.ErrDecode)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: empty input", model.ErrDecode)
	}
}

// decodeText accepts hex first and falls back to standard base64.
func decodeText(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty manifest text", model.ErrDecode)
	}
	if raw, err := hex.DecodeString(s); err == nil {
		return raw, nil
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: manifest is neither hex nor base64", model.ErrDecode)
	}
	return raw, nil
}

// VerifySignature checks the signing key's signature over the manifest body.
func VerifySignature(p *Parsed) error {
	if len(p.Signature) == 0 {
		return fmt.Errorf("%w: manifest is unsigned", model.ErrSignatureInvalid)
	}
	if err := keys.Verify(p.SigningKey, SigningData(p), p.Signature); err != nil {
		return fmt.Errorf("%w: %v", model.ErrSignatureInvalid, err)
	}
	return nil
}

// HasMasterKey reports whether p names a master key.
func (p *Parsed) HasMasterKey() bool {
	return len(p.MasterKey) > 0
}

// Model converts p to its persisted form. Keys are node-encoded; an
// unencodable master key is reported as absent.
func (p *Parsed) Model() (*model.Manifest, error) {
	signingKey, err := keys.EncodeNodePublic(p.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("%w: signing key: %v", model.ErrDecode, err)
	}
	m := &model.Manifest{
		SigningKey: signingKey,
		Sequence:   p.Sequence,
		Domain:     p.Domain,
		Raw:        bytes.Clone(p.Raw),
	}
	if p.HasMasterKey() {
		if masterKey, err := keys.EncodeNodePublic(p.MasterKey); err == nil {
			m.MasterKey = masterKey
		}
	}
	return m, nil
}

// Hex returns the upper-case hex text form of the wire bytes.
func (p *Parsed) Hex() string {
	return strings.ToUpper(hex.EncodeToString(p.Raw))
}
