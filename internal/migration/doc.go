// Package migration brokers the two-phase handshake that moves a character
// between channels.
//
// The source channel submits a request keyed by (account, character). The
// target channel completes it when the client reconnects presenting the same
// fingerprint and session key. A request is consumed exactly once: success
// and a mismatched attempt both remove it. Requests older than the TTL are
// removed by a periodic sweep and treated as absent on access.
package migration
