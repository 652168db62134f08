// Package party owns party state and every membership mutation.
//
// Each Party carries its own mutex. Every operation that mutates a party, and
// any read that decides such a mutation, runs with that mutex held, and the
// resulting frames are written to the affected channels before it is
// released. Lock order is party mutex, then the coordinator index, then the
// node and user registries. No operation holds two party mutexes.
//
// Outcomes are reported to clients as notices wrapped in UserPacketReceive
// frames (see notice.go). Failure notices go to the requester only.
package party
