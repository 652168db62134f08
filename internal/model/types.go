package model

import (
	"time"

	"github.com/google/uuid"
)

// ChannelOffline is the channel id reported for a character that is not
// hosted by any channel.
const ChannelOffline int32 = -1

// Fingerprint is the client machine id presented during migration.
type Fingerprint [16]byte

// SessionKey is the client key issued for a migration.
type SessionKey [8]byte

// -----------------------------------------------------------------------------
// Directory Types
// -----------------------------------------------------------------------------

// TownPortal is the mystic door a character has open, shown to party members.
type TownPortal struct {
	TownID  int32 // Town field the door leads to
	FieldID int32 // Field the door was opened in
	X       int16
	Y       int16
}

// UserRecord is the coordinator's view of one connected character.
type UserRecord struct {
	AccountID     int32
	CharacterID   int32  // Primary key
	CharacterName string // Unique among connected users
	ChannelID     int32  // Hosting channel, or ChannelOffline
	PartyID       int32  // 0 = none

	// Presentation snapshot used in party broadcasts
	Level      int16
	Job        int16
	FieldID    int32
	TownPortal TownPortal
}

// Online reports whether the record is hosted by a channel.
func (u UserRecord) Online() bool {
	return u.ChannelID != ChannelOffline
}

// -----------------------------------------------------------------------------
// Migration Types
// -----------------------------------------------------------------------------

// MigrationInfo is the self-contained description of a pending channel
// migration, as submitted by the source channel.
type MigrationInfo struct {
	AccountID   int32
	CharacterID int32
	ChannelID   int32 // Target channel
	Fingerprint Fingerprint
	SessionKey  SessionKey
}

// TransferInfo tells the source channel where to send the client.
type TransferInfo struct {
	Host [4]byte // IPv4
	Port int32
}

// -----------------------------------------------------------------------------
// Audit Types
// -----------------------------------------------------------------------------

// EventType classifies an audit event.
type EventType string

const (
	EventNodeRegistered     EventType = "node_registered"
	EventNodeUnregistered   EventType = "node_unregistered"
	EventMigrationSubmitted EventType = "migration_submitted"
	EventMigrationCompleted EventType = "migration_completed"
	EventMigrationExpired   EventType = "migration_expired"
	EventPartyCreated       EventType = "party_created"
	EventPartyDisbanded     EventType = "party_disbanded"
)

// Event is an append-only record of a cluster state transition.
type Event struct {
	ID          uuid.UUID
	Type        EventType
	OccurredAt  time.Time
	ChannelID   int32 // -1 when not applicable
	AccountID   int32
	CharacterID int32
	PartyID     int32
	Detail      string
}

// NewEvent returns an Event stamped with a fresh id and the current time.
func NewEvent(typ EventType) Event {
	return Event{
		ID:         uuid.New(),
		Type:       typ,
		OccurredAt: time.Now(),
		ChannelID:  ChannelOffline,
	}
}

// EventRecorder accepts audit events. Implementations must not block.
type EventRecorder interface {
	Record(e Event)
}

// NopRecorder discards events.
type NopRecorder struct{}

// Record implements EventRecorder.
func (NopRecorder) Record(Event) {}
