// Package attestation verifies that the operator of a manifest's claimed
// domain controls the manifest's master key.
//
// The proof is a trust file published under the domain. Its VALIDATORS
// entries that name the master key must each carry a hex signature, under
// the master key, over AttestationMessage(domain, masterKey). Every matching
// entry must verify; a single bad entry rejects the claim.
package attestation

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/postfiatorg/validator-history-service/internal/keys"
	"github.com/postfiatorg/validator-history-service/internal/manifest"
	"github.com/postfiatorg/validator-history-service/internal/model"
)

// TrustFile is the parsed domain trust file.
type TrustFile struct {
	Validators []TrustFileValidator `toml:"VALIDATORS"`
	// HasValidators is false when the VALIDATORS key is absent, as opposed
	// to present and empty.
	HasValidators bool `toml:"-"`
}

// TrustFileValidator is one VALIDATORS entry.
type TrustFileValidator struct {
	PublicKey   string `toml:"public_key"`
	Attestation string `toml:"attestation"`
}

// TrustFileFetcher retrieves the trust file published under a domain.
type TrustFileFetcher interface {
	Fetch(ctx context.Context, domain string) (*TrustFile, error)
}

// AttestationMessage is the byte string a master key signs to attest domain.
func AttestationMessage(domain, masterKey string) []byte {
	return []byte("[domain-attestation-blob:" + domain + ":" + masterKey + "]")
}

// Verifier evaluates domain claims.
type Verifier struct {
	fetcher TrustFileFetcher
}

// NewVerifier returns a Verifier that reads trust files through fetcher.
func NewVerifier(fetcher TrustFileFetcher) *Verifier {
	return &Verifier{fetcher: fetcher}
}

// Verify decodes in and evaluates its domain claim. A manifest that cannot
// be decoded yields an error; every other outcome is a verdict.
func (v *Verifier) Verify(ctx context.Context, in manifest.Input) (model.Verdict, error) {
	p, err := manifest.Normalize(in)
	if err != nil {
		return model.Verdict{}, err
	}
	return v.VerifyParsed(ctx, p), nil
}

// VerifyParsed evaluates the domain claim of an already decoded manifest.
// The trust file is fetched only when the manifest passes the local checks.
func (v *Verifier) VerifyParsed(ctx context.Context, p *manifest.Parsed) model.Verdict {
	if verdict, done := precheck(p); done {
		return verdict
	}
	file, err := v.fetcher.Fetch(ctx, p.Domain)
	return VerifyTrustFile(p, file, err)
}

// VerifyTrustFile is the deterministic core of Verify: the same manifest and
// trust file contents always produce the same verdict. fetchErr is the
// error, if any, encountered while retrieving file.
func VerifyTrustFile(p *manifest.Parsed, file *TrustFile, fetchErr error) model.Verdict {
	verdict, done := precheck(p)
	if done {
		return verdict
	}

	if fetchErr != nil || file == nil {
		if fetchErr == nil {
			fetchErr = errors.New("empty response")
		}
		verdict.Message = fmt.Sprintf("failed to fetch trust file from %s: %v", p.Domain, fetchErr)
		// Only a network failure leaves the claim undecided; a file that
		// arrived but did not parse is conclusive.
		verdict.Conclusive = !errors.Is(fetchErr, model.ErrNetwork)
		return verdict
	}
	if !file.HasValidators {
		verdict.Message = "malformed trust file: missing VALIDATORS section"
		return verdict
	}

	var matches []TrustFileValidator
	for _, entry := range file.Validators {
		if entry.PublicKey == verdict.Manifest.MasterKey {
			matches = append(matches, entry)
		}
	}
	if len(matches) == 0 {
		verdict.Message = "no matching key in trust file"
		return verdict
	}

	msg := AttestationMessage(p.Domain, verdict.Manifest.MasterKey)
	for _, entry := range matches {
		sig, err := hex.DecodeString(entry.Attestation)
		if err != nil || keys.Verify(p.MasterKey, msg, sig) != nil {
			verdict.Message = fmt.Sprintf("invalid attestation, cannot verify %s", p.Domain)
			return verdict
		}
	}

	verdict.Verified = true
	verdict.Manifest.DomainVerified = true
	verdict.Message = p.Domain + " has been verified"
	return verdict
}

// precheck applies the checks that need no network access. done is true
// when the verdict is final; otherwise the returned verdict is the starting
// point for the trust file checks.
func precheck(p *manifest.Parsed) (model.Verdict, bool) {
	m, err := p.Model()
	if err != nil {
		return model.Verdict{Message: err.Error(), Conclusive: true}, true
	}
	if m.MasterKey == "" {
		return model.Verdict{Message: "manifest does not contain a master key", Manifest: m, Conclusive: true}, true
	}
	if err := manifest.VerifySignature(p); err != nil {
		return model.Verdict{Message: "cannot verify manifest signature", Manifest: m, Conclusive: true}, true
	}
	m.SignatureVerified = true
	if p.Domain == "" {
		return model.Verdict{VerifiedManifestSignature: true, Message: "manifest does not contain a domain", Manifest: m, Conclusive: true}, true
	}
	return model.Verdict{VerifiedManifestSignature: true, Manifest: m, Conclusive: true}, false
}

// Err maps an unverified verdict to ErrAttestationInvalid, or
// ErrSignatureInvalid when the manifest's own signature failed.
func Err(v model.Verdict) error {
	switch {
	case v.Verified:
		return nil
	case !v.VerifiedManifestSignature:
		return fmt.Errorf("%w: %s", model.ErrSignatureInvalid, v.Message)
	default:
		return fmt.Errorf("%w: %s", model.ErrAttestationInvalid, v.Message)
	}
}
