package router

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/rickgao/central/internal/connection"
	"github.com/rickgao/central/internal/metrics"
	"github.com/rickgao/central/internal/migration"
	"github.com/rickgao/central/internal/model"
	"github.com/rickgao/central/internal/node"
	"github.com/rickgao/central/internal/party"
	"github.com/rickgao/central/internal/protocol"
	"github.com/rickgao/central/internal/relay"
	"github.com/rickgao/central/internal/user"
)

// Deps are the components the router dispatches to.
type Deps struct {
	Nodes      *node.Registry
	Users      *user.Registry
	Migrations *migration.Coordinator
	Parties    *party.Coordinator
	Relay      *relay.Relay
	Recorder   model.EventRecorder // Optional
}

// Router dispatches frames from channel connections. It implements
// connection.Handler.
type Router struct {
	deps     Deps
	logger   *slog.Logger
	handlers map[protocol.Header]handlerEntry

	// Stats
	received atomic.Int64
	handled  atomic.Int64
	errors   atomic.Int64
	unknown  atomic.Int64
	rejected atomic.Int64
	panics   atomic.Int64
}

// New creates a Router.
func New(deps Deps, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Recorder == nil {
		deps.Recorder = model.NopRecorder{}
	}

	r := &Router{
		deps:   deps,
		logger: logger.With("component", "router"),
	}
	r.handlers = map[protocol.Header]handlerEntry{
		protocol.InitializeResult:    {fn: handleInitializeResult, preInit: true},
		protocol.ShutdownResult:      {fn: handleShutdownResult},
		protocol.MigrateRequest:      {fn: handleMigrateRequest},
		protocol.TransferRequest:     {fn: handleTransferRequest},
		protocol.UserConnect:         {fn: handleUserConnect},
		protocol.UserUpdate:          {fn: handleUserUpdate},
		protocol.UserDisconnect:      {fn: handleUserDisconnect},
		protocol.UserPacketRequest:   {fn: handleUserPacketRequest},
		protocol.UserPacketReceive:   {fn: handleUserPacketReceive},
		protocol.UserPacketBroadcast: {fn: handleUserPacketBroadcast},
		protocol.UserQueryRequest:    {fn: handleUserQueryRequest},
		protocol.PartyRequest:        {fn: handlePartyRequest},
	}
	if deps.Migrations != nil {
		deps.Migrations.OnExpire(r.abandon)
	}
	return r
}

// Open starts a session for a new connection and asks the channel to
// identify itself.
func (r *Router) Open(p connection.Peer) connection.Session {
	s := &session{
		router: r,
		peer:   p,
		logger: r.logger.With("conn_id", p.ID()),
	}
	if err := p.Send(protocol.EncodeInitializeRequest()); err != nil {
		s.logger.Warn("failed to send initialize request", "error", err)
	}
	return s
}

// RequestShutdown asks every registered channel to shut down and returns
// how many were asked.
func (r *Router) RequestShutdown() int {
	frame := protocol.EncodeShutdownRequest()
	n := 0
	for _, nd := range r.deps.Nodes.All() {
		if err := nd.Send(frame); err != nil {
			r.logger.Warn("failed to send shutdown request", "channel", nd.ChannelID, "error", err)
			continue
		}
		n++
	}
	return n
}

// AwaitChannels blocks until no channel is registered or ctx is done.
func (r *Router) AwaitChannels(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for r.deps.Nodes.Len() > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%d channels still connected: %w", r.deps.Nodes.Len(), ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

// Stats returns current statistics.
func (r *Router) Stats() Stats {
	return Stats{
		FramesReceived: r.received.Load(),
		FramesHandled:  r.handled.Load(),
		HandlerErrors:  r.errors.Load(),
		UnknownFrames:  r.unknown.Load(),
		RejectedFrames: r.rejected.Load(),
		Panics:         r.panics.Load(),
	}
}

func (r *Router) record(e model.Event) {
	r.deps.Recorder.Record(e)
}

// offline drops u from the user registry and marks it offline in its party.
func (r *Router) offline(u model.UserRecord) {
	r.deps.Users.Disconnect(u.CharacterID)
	u.ChannelID = model.ChannelOffline
	r.deps.Parties.UpdateMember(u)
}

// abandon takes a character offline when its migration expired while the
// record still points at the channel it left. A character that reconnected
// elsewhere is left alone.
func (r *Router) abandon(req migration.Request) {
	u, ok := r.deps.Users.DisconnectFrom(req.Info.CharacterID, req.SourceChannelID)
	if !ok {
		return
	}
	r.logger.Info("migration abandoned, character offline",
		"character_id", u.CharacterID,
		"source", req.SourceChannelID,
		"target", req.Info.ChannelID,
	)
	u.ChannelID = model.ChannelOffline
	r.deps.Parties.UpdateMember(u)
}

// session is the per-connection dispatch state. Its fields are only touched
// from the connection's read goroutine.
type session struct {
	router *Router
	peer   connection.Peer
	logger *slog.Logger
	node   *node.Node
}

// HandleFrame decodes and dispatches one frame.
func (s *session) HandleFrame(frame []byte) {
	r := s.router
	start := time.Now()
	r.received.Add(1)

	h, body, err := protocol.ReadHeader(frame)
	if err != nil {
		s.logger.Warn("malformed frame", "error", err)
		r.errors.Add(1)
		metrics.RecordFrame("malformed", "error", time.Since(start))
		return
	}

	entry, ok := r.handlers[h]
	if !ok {
		s.logger.Warn("dropping frame", "header", h, "error", ErrUnknownOpcode)
		r.unknown.Add(1)
		metrics.RecordFrame("unknown", "unknown", time.Since(start))
		return
	}
	if s.node == nil && !entry.preInit {
		s.logger.Warn("dropping frame", "header", h, "error", ErrNotInitialized)
		r.rejected.Add(1)
		metrics.RecordFrame(h.String(), "rejected", time.Since(start))
		return
	}

	c := &Context{Header: h, Body: body, Node: s.node, peer: s.peer}
	status := "ok"
	if err := s.dispatch(entry, c); err != nil {
		status = "error"
		r.errors.Add(1)
		s.logger.Log(context.Background(), logLevel(err), "frame handler failed", "header", h, "error", err)

		if c.owed != nil && !c.replied {
			if err := c.Reply(c.owed); err != nil {
				s.logger.Warn("failed to send failure reply", "header", h, "error", err)
			}
		}
	} else {
		r.handled.Add(1)
	}
	metrics.RecordFrame(h.String(), status, time.Since(start))
}

func (s *session) dispatch(entry handlerEntry, c *Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			s.router.panics.Add(1)
			s.logger.Error("frame handler panic", "header", c.Header, "panic", rec, "stack", string(debug.Stack()))
			err = fmt.Errorf("%v: %w", rec, ErrHandlerPanic)
		}
	}()
	return entry.fn(s, c)
}

// Close unregisters the session's channel, if it is still the registered
// one. Users on the channel are left in place.
func (s *session) Close() {
	if s.node == nil {
		return
	}
	if s.router.deps.Nodes.UnregisterNode(s.node) {
		s.logger.Warn("lost connection to channel", "channel", s.node.ChannelID)
		e := model.NewEvent(model.EventNodeUnregistered)
		e.ChannelID = s.node.ChannelID
		e.Detail = "disconnect"
		s.router.record(e)
	}
	s.node = nil
}
