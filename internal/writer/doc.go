// Package writer batches audit events into the central_events table.
//
// The trail is append-only: rows are inserted, never updated, and a replayed
// event id is ignored. Recording never blocks the caller; when the buffer is
// full the event is dropped and counted.
package writer
