// Package keys encodes node public keys and verifies signatures made with
// them. Keys are 33 bytes: 0xED followed by an ed25519 key, or a compressed
// secp256k1 point.
package keys

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// Size is the length of a raw node public key.
const Size = 33

const (
	nodePublicVersion = 0x1C
	ed25519Prefix     = 0xED
)

// Alphabet is the base58 alphabet used for node key encoding.
var Alphabet = base58.NewAlphabet("rpshnaf39wBUDNEGHJKLM4PQRST7VWXYZ2bcdeCg65jkm8oFqi1tuvAxyz")

var (
	ErrKeyLength = errors.New("invalid key length")
	ErrKeyType   = errors.New("unsupported key type")
	ErrChecksum  = errors.New("checksum mismatch")
)

// Type identifies the signature scheme of a raw key.
type Type string

const (
	TypeEd25519   Type = "ed25519"
	TypeSecp256k1 Type = "secp256k1"
)

// TypeOf reports the key type of a raw 33-byte key.
func TypeOf(raw []byte) (Type, error) {
	if len(raw) != Size {
		return "", fmt.Errorf("%w: %d", ErrKeyLength, len(raw))
	}
	switch raw[0] {
	case ed25519Prefix:
		return TypeEd25519, nil
	case 0x02, 0x03:
		return TypeSecp256k1, nil
	default:
		return "", fmt.Errorf("%w: prefix 0x%02X", ErrKeyType, raw[0])
	}
}

// EncodeNodePublic returns the human-readable form of a raw key.
func EncodeNodePublic(raw []byte) (string, error) {
	if _, err := TypeOf(raw); err != nil {
		return "", err
	}
	payload := make([]byte, 0, 1+Size+4)
	payload = append(payload, nodePublicVersion)
	payload = append(payload, raw...)
	payload = append(payload, checksum(payload)...)
	return base58.EncodeAlphabet(payload, Alphabet), nil
}

// DecodeNodePublic parses the human-readable form back into a raw key.
func DecodeNodePublic(s string) ([]byte, error) {
	payload, err := base58.DecodeAlphabet(s, Alphabet)
	if err != nil {
		return nil, fmt.Errorf("decode node public key: %w", err)
	}
	if len(payload) != 1+Size+4 || payload[0] != nodePublicVersion {
		return nil, fmt.Errorf("%w: not a node public key", ErrKeyLength)
	}
	body, sum := payload[:1+Size], payload[1+Size:]
	if !bytes.Equal(checksum(body), sum) {
		return nil, ErrChecksum
	}
	raw := append([]byte(nil), body[1:]...)
	if _, err := TypeOf(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func checksum(b []byte) []byte {
	first := sha256.Sum256(b)
	second := sha256.Sum256(first[:])
	return second[:4]
}
