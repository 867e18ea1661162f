package domain

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventVersionPublished EventType = "version_published"
	EventVersionArchived  EventType = "version_archived"
	EventVersionPromoted  EventType = "version_promoted"
	EventScopeRetired     EventType = "scope_retired"
	EventScopeRestored    EventType = "scope_restored"
	EventReferenceSynced  EventType = "reference_synced"
	EventScopePurged      EventType = "scope_purged"
)

// Event reports a metadata change to subscribers such as the presentation layer.
type Event struct {
	Type       EventType  `json:"type"`
	FamilyUUID uuid.UUID  `json:"family_uuid"`
	Variant    string     `json:"variant,omitempty"`
	VersionID  *uuid.UUID `json:"version_id,omitempty"`
	Tier       Tier       `json:"tier,omitempty"`
	Origin     string     `json:"origin,omitempty"`
	At         time.Time  `json:"at"`
}
