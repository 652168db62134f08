// Package database connects the optional audit database.
//
// The coordinator keeps all cluster state in memory; PostgreSQL (or
// TimescaleDB) only receives the append-only central_events trail.
package database
