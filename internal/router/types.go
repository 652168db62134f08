package router

import (
	"errors"
	"log/slog"

	"github.com/rickgao/central/internal/connection"
	"github.com/rickgao/central/internal/migration"
	"github.com/rickgao/central/internal/node"
	"github.com/rickgao/central/internal/packet"
	"github.com/rickgao/central/internal/party"
	"github.com/rickgao/central/internal/protocol"
)

// Errors
var (
	ErrUnknownOpcode   = errors.New("unknown opcode")
	ErrNotInitialized  = errors.New("connection not initialized")
	ErrHandlerPanic    = errors.New("handler panicked")
	ErrUnexpectedFrame = errors.New("unexpected frame")
)

// Stats contains runtime statistics.
type Stats struct {
	FramesReceived int64 `json:"frames_received"`
	FramesHandled  int64 `json:"frames_handled"`
	HandlerErrors  int64 `json:"handler_errors"`
	UnknownFrames  int64 `json:"unknown_frames"`
	RejectedFrames int64 `json:"rejected_frames"`
	Panics         int64 `json:"panics"`
}

// Context carries one inbound frame through its handler.
type Context struct {
	Header protocol.Header
	Body   *packet.Reader
	Node   *node.Node // Nil until the connection has initialized

	peer    connection.Peer
	owed    []byte
	replied bool
}

// Owe registers the reply sent on the handler's behalf if it fails before
// calling Reply.
func (c *Context) Owe(frame []byte) {
	c.owed = frame
}

// Reply writes frame to the originating connection.
func (c *Context) Reply(frame []byte) error {
	c.replied = true
	return c.peer.Send(frame)
}

type handlerFunc func(s *session, c *Context) error

type handlerEntry struct {
	fn handlerFunc

	// preInit handlers run before the connection has initialized.
	preInit bool
}

// logLevel picks the level an error from a handler is reported at.
func logLevel(err error) slog.Level {
	switch {
	case errors.Is(err, party.ErrInconsistent), errors.Is(err, ErrHandlerPanic):
		return slog.LevelError
	case errors.Is(err, packet.ErrShortRead),
		errors.Is(err, packet.ErrInvalidSize),
		errors.Is(err, protocol.ErrUnknownPartyRequest),
		errors.Is(err, ErrUnknownOpcode),
		errors.Is(err, ErrNotInitialized),
		errors.Is(err, node.ErrDuplicateChannel),
		errors.Is(err, migration.ErrDuplicateMigration):
		return slog.LevelWarn
	default:
		return slog.LevelDebug
	}
}
