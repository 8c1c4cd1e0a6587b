package model

// Verdict is the outcome of domain attestation verification.
type Verdict struct {
	Verified                  bool      `json:"verified"`
	VerifiedManifestSignature bool      `json:"verified_manifest_signature"`
	Message                   string    `json:"message"`
	Manifest                  *Manifest `json:"manifest,omitempty"`
	// Conclusive is false when the verdict hinged on a network failure, in
	// which case it must not overwrite a previously stored verification.
	Conclusive bool `json:"conclusive"`
}
