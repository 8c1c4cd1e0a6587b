package model

import "time"

// DomainSource records where a participant's domain came from.
type DomainSource string

const (
	DomainSourceNone     DomainSource = ""
	DomainSourceManifest DomainSource = "manifest"
	// DomainSourceFallback marks an operator-curated domain that was never
	// cryptographically verified.
	DomainSourceFallback DomainSource = "fallback"
)

// Participant is the reconciled trust state of one operational (signing) key.
type Participant struct {
	SigningKey     string       `json:"signing_key"`
	MasterKey      string       `json:"master_key,omitempty"`
	Domain         string       `json:"domain,omitempty"`
	DomainVerified bool         `json:"domain_verified"`
	DomainSource   DomainSource `json:"domain_source,omitempty"`
	Revoked        bool         `json:"revoked"`
	ListTag        string       `json:"list_tag,omitempty"` // name of the trusted list attesting this key
	LastSeen       time.Time    `json:"last_seen"`
}

// MembershipChange summarises one ReplaceListMembership call.
type MembershipChange struct {
	Tag     string `json:"tag"`
	Tagged  int64  `json:"tagged"`
	Cleared int64  `json:"cleared"`
}

// PurgeResult summarises the lifecycle deletions of a cycle.
type PurgeResult struct {
	Stale   int64 `json:"stale"`
	Revoked int64 `json:"revoked"`
}
