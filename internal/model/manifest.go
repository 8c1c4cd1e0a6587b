package model

// Manifest is a persisted manifest row, keyed by (SigningKey, Sequence).
// Keys are carried in their node public key encoding ("n...").
type Manifest struct {
	SigningKey        string `json:"signing_key"`
	MasterKey         string `json:"master_key,omitempty"` // empty until a master key is extracted
	Sequence          uint32 `json:"seq"`
	Domain            string `json:"domain,omitempty"`
	DomainVerified    bool   `json:"domain_verified"`
	SignatureVerified bool   `json:"signature_verified"`
	Revoked           bool   `json:"revoked"`
	Raw               []byte `json:"-"`
}

// AuthoritativeManifest is the winning manifest of a master key group: the
// highest sequence, ties broken by the lexicographically smallest signing key.
type AuthoritativeManifest struct {
	MasterKey  string
	SigningKey string
	Sequence   uint32
	// Contenders is the number of manifests sharing the winning sequence.
	// Anything above one is an integrity anomaly.
	Contenders int
}

// RevocationChange is a manifest whose revoked flag was flipped by a
// revocation pass.
type RevocationChange struct {
	SigningKey string `json:"signing_key"`
	MasterKey  string `json:"master_key"`
	Sequence   uint32 `json:"seq"`
	Revoked    bool   `json:"revoked"`
}
