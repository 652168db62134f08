// Package connection carries coordinator frames over WebSocket.
//
// One binary WebSocket message is one frame. The Server side accepts channel
// connections, reads each connection's frames in order on the handler
// goroutine, and writes through a per-connection queue drained by a writer
// goroutine so that a sender never blocks on a slow peer. The Client side is
// used by channel processes (and the simulator) to dial the coordinator.
package connection
