// Package idgen generates cycle identifiers backed by nanoid.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

const (
	// CyclePrefix marks reconciliation cycle IDs in logs and events.
	CyclePrefix = "cyc-"

	alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	length   = 12
)

// CycleID returns a new cycle identifier such as "cyc-4f0k2m9xq1ab".
func CycleID() (string, error) {
	return WithPrefix(CyclePrefix)
}

// WithPrefix returns a new lowercase identifier with the given prefix.
func WithPrefix(prefix string) (string, error) {
	id, err := nanoid.Generate(alphabet, length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}
