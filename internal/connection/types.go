package connection

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected     = errors.New("not connected")
	ErrStaleConnection  = errors.New("connection stale (no ping)")
	ErrAlreadyClosed    = errors.New("already closed")
	ErrAlreadyConnected = errors.New("already connected")
	ErrSlowConsumer     = errors.New("peer send queue exceeded limit")
)

// Frame is one inbound message with its local receive time.
type Frame struct {
	Data       []byte    // Opcode followed by body
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// Peer is the coordinator's handle on one accepted connection.
type Peer interface {
	// ID returns the connection id assigned on accept.
	ID() string

	// RemoteAddr returns the remote network address.
	RemoteAddr() string

	// Send queues a frame without blocking.
	Send(frame []byte) error

	// Close flushes queued frames and closes the connection.
	Close() error
}

// Handler is notified of every accepted connection.
type Handler interface {
	Open(p Peer) Session
}

// Session receives the frames of one connection, in order.
type Session interface {
	HandleFrame(frame []byte)

	// Close is called once after the connection's read loop exits.
	Close()
}

// ServerConfig configures the accepting side.
type ServerConfig struct {
	SendBuffer    int           // Initial send queue capacity per peer
	MaxPending    int           // Queued frames above which a peer is dropped (0 = unlimited)
	WriteTimeout  time.Duration // Write deadline per frame
	ReadTimeout   time.Duration // Read deadline, extended on every frame and pong
	PingInterval  time.Duration // Heartbeat ping period
	MaxFrameBytes int64         // Largest accepted frame
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		SendBuffer:    256,
		MaxPending:    4096,
		WriteTimeout:  5 * time.Second,
		ReadTimeout:   60 * time.Second,
		PingInterval:  20 * time.Second,
		MaxFrameBytes: 1 << 20,
	}
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL          string        // Coordinator URL (e.g., ws://central:8484/central)
	PingInterval time.Duration // Heartbeat ping period
	PingTimeout  time.Duration // Max time without ping/pong before considering connection stale
	WriteTimeout time.Duration // Write deadline for sends
	BufferSize   int           // Frames buffered before reading stalls
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingInterval: 20 * time.Second,
		PingTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   1024,
	}
}
