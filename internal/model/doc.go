// Package model defines shared value types passed between the coordinator's
// registries, the party coordinator and the wire codec.
//
// Conventions:
//   - Channel ids are zero-based; ChannelOffline marks a character with no channel
//   - Party id 0 means "no party"
//   - Timestamps are time.Time in memory, int64 microseconds since epoch in storage
//   - IDs: int32 for game entities (wire width), uuid.UUID for audit events
package model
