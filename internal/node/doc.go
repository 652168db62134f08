// Package node tracks the channel processes connected to the coordinator.
//
// A Node is created when a channel completes the initialize handshake and is
// removed on shutdown acknowledgment or transport disconnect. Users located
// on a removed channel are not touched; removal cascades nowhere.
package node
