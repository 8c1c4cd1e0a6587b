package model

import "time"

// TrustedList is a validated snapshot of a named trusted-list source.
type TrustedList struct {
	Name       string      `json:"name"`
	Sequence   uint64      `json:"sequence"`
	Expiration time.Time   `json:"expiration"`
	Effective  *time.Time  `json:"effective,omitempty"`
	Entries    []ListEntry `json:"validators"`
	// Unresolved holds listed keys whose manifest could not be retrieved.
	// They are still members of the list.
	Unresolved []string `json:"-"`
}

// ListEntry is one (key, manifest) pair of a trusted list. Manifest is the
// base64 or hex text form of the wire manifest.
type ListEntry struct {
	ValidationPublicKey string `json:"validation_public_key"`
	Manifest            string `json:"manifest"`
}
