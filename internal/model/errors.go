package model

import "errors"

var (
	ErrDecode             = errors.New("decode error")
	ErrSignatureInvalid   = errors.New("signature invalid")
	ErrAttestationInvalid = errors.New("attestation invalid")
	ErrNetwork            = errors.New("network failure")
	ErrIntegrity          = errors.New("integrity anomaly")
	ErrNotFound           = errors.New("not found")
)
