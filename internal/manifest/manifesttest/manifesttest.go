// Package manifesttest builds signed manifests and domain attestations for
// tests.
package manifesttest

import (
	"crypto/ed25519"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/postfiatorg/validator-history-service/internal/keys"
	"github.com/postfiatorg/validator-history-service/internal/manifest"
)

// Key is a test key pair in either supported scheme.
type Key struct {
	Public []byte // 33-byte node public key
	ed     ed25519.PrivateKey
	secp   *secp256k1.PrivateKey
}

// NewEd25519 returns a fresh ed25519 key.
func NewEd25519(t testing.TB) *Key {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return &Key{Public: append([]byte{0xED}, pub...), ed: priv}
}

// NewSecp256k1 returns a fresh secp256k1 key.
func NewSecp256k1(t testing.TB) *Key {
	t.Helper()
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate secp256k1 key: %v", err)
	}
	return &Key{Public: priv.PubKey().SerializeCompressed(), secp: priv}
}

// Sign signs msg the way validators do for k's scheme.
func (k *Key) Sign(msg []byte) []byte {
	if k.ed != nil {
		return ed25519.Sign(k.ed, msg)
	}
	return ecdsa.Sign(k.secp, keys.SHA512Half(msg)).Serialize()
}

// Node returns the node-encoded public key.
func (k *Key) Node(t testing.TB) string {
	t.Helper()
	s, err := keys.EncodeNodePublic(k.Public)
	if err != nil {
		t.Fatalf("encode node key: %v", err)
	}
	return s
}

// Spec describes a manifest to build. A nil Master leaves the master key out.
type Spec struct {
	Master   *Key
	Signing  *Key
	Sequence uint32
	Domain   string
}

// Build serializes and signs a manifest with both keys.
func Build(t testing.TB, s Spec) *manifest.Parsed {
	t.Helper()
	p := &manifest.Parsed{
		Sequence:   s.Sequence,
		SigningKey: s.Signing.Public,
		Domain:     s.Domain,
	}
	if s.Master != nil {
		p.MasterKey = s.Master.Public
	}
	data := manifest.SigningData(p)
	p.Signature = s.Signing.Sign(data)
	if s.Master != nil {
		p.MasterSignature = s.Master.Sign(data)
	}
	p.Raw = manifest.Serialize(p)
	return p
}

// Hex returns the hex text form of a built manifest.
func Hex(t testing.TB, s Spec) string {
	t.Helper()
	return strings.ToUpper(hex.EncodeToString(Build(t, s).Raw))
}

// Attest returns a hex attestation of domain by master.
func Attest(t testing.TB, master *Key, domain string) string {
	t.Helper()
	msg := "[domain-attestation-blob:" + domain + ":" + master.Node(t) + "]"
	return hex.EncodeToString(master.Sign([]byte(msg)))
}
