// Package protocol defines the frames exchanged between the coordinator and
// channel servers.
//
// Every frame starts with a uint16 Header. Encode* functions build complete
// frames; Read*/Write* functions handle the shared body types (UserRecord,
// MigrationInfo, PartyOp) and are used by both sides of the link.
package protocol
