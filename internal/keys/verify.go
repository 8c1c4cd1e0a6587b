package keys

import (
	"crypto/ed25519"
	"crypto/sha512"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

var ErrBadSignature = errors.New("bad signature")

// Verify checks sig over msg with a raw node public key. ed25519 keys sign
// the message itself; secp256k1 keys sign its SHA-512-half with a
// DER-encoded ECDSA signature.
func Verify(raw, msg, sig []byte) error {
	typ, err := TypeOf(raw)
	if err != nil {
		return err
	}
	switch typ {
	case TypeEd25519:
		if !ed25519.Verify(ed25519.PublicKey(raw[1:]), msg, sig) {
			return ErrBadSignature
		}
		return nil
	default:
		pub, err := secp256k1.ParsePubKey(raw)
		if err != nil {
			return fmt.Errorf("parse secp256k1 key: %w", err)
		}
		parsed, err := ecdsa.ParseDERSignature(sig)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBadSignature, err)
		}
		if !parsed.Verify(SHA512Half(msg), pub) {
			return ErrBadSignature
		}
		return nil
	}
}

// SHA512Half returns the first 32 bytes of the SHA-512 digest of b.
func SHA512Half(b []byte) []byte {
	sum := sha512.Sum512(b)
	return sum[:32]
}
