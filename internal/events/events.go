package events

import (
	"context"
	"time"

	"github.com/postfiatorg/validator-history-service/internal/model"
)

// Event topic constants
const (
	TopicManifestIngested = "vhs.manifest.ingested"
	TopicManifestRevoked  = "vhs.manifest.revoked"
	TopicCycleCompleted   = "vhs.cycle.completed"

	// TopicAll matches every topic above.
	TopicAll = "vhs.>"
)

// Event types

type ManifestIngested struct {
	Source   string          `json:"source"`
	Manifest *model.Manifest `json:"manifest"`
	Message  string          `json:"message"`
}

type ManifestRevoked struct {
	Change model.RevocationChange `json:"change"`
}

type CycleCompleted struct {
	CycleID  string             `json:"cycle_id"`
	Started  time.Time          `json:"started"`
	Duration string             `json:"duration"`
	Steps    []model.StepResult `json:"steps"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
