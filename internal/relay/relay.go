package relay

import (
	"log/slog"

	"github.com/rickgao/central/internal/metrics"
	"github.com/rickgao/central/internal/model"
	"github.com/rickgao/central/internal/node"
	"github.com/rickgao/central/internal/protocol"
	"github.com/rickgao/central/internal/user"
)

// Relay resolves characters to their channel and writes payloads there.
type Relay struct {
	users  *user.Registry
	nodes  *node.Registry
	logger *slog.Logger
}

// New creates a Relay.
func New(users *user.Registry, nodes *node.Registry, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		users:  users,
		nodes:  nodes,
		logger: logger.With("component", "relay"),
	}
}

// SendToID delivers payload to characterID. Reports whether a frame was
// written; unknown characters and unreachable channels are dropped.
func (r *Relay) SendToID(characterID int32, payload []byte) bool {
	u, ok := r.users.ByID(characterID)
	sent := ok && r.deliver(u, payload)
	metrics.RecordRelay("id", sent)
	return sent
}

// SendToName delivers payload to the character named name.
func (r *Relay) SendToName(name string, payload []byte) bool {
	u, ok := r.users.ByName(name)
	sent := ok && r.deliver(u, payload)
	metrics.RecordRelay("name", sent)
	return sent
}

func (r *Relay) deliver(u model.UserRecord, payload []byte) bool {
	n, ok := r.nodes.Lookup(u.ChannelID)
	if !ok {
		r.logger.Debug("relay target channel not connected",
			"character_id", u.CharacterID,
			"channel", u.ChannelID,
		)
		return false
	}
	if err := n.Send(protocol.EncodeUserPacketReceive(u.CharacterID, payload)); err != nil {
		r.logger.Warn("relay delivery failed", "channel", n.ChannelID, "error", err)
		return false
	}
	return true
}

// Broadcast writes payload tagged with characterIDs to every connected
// channel; each channel delivers to the ids it hosts. Returns the number of
// channels written.
func (r *Relay) Broadcast(characterIDs []int32, payload []byte) int {
	frame := protocol.EncodeUserPacketBroadcast(characterIDs, payload)
	written := 0
	for _, n := range r.nodes.All() {
		if err := n.Send(frame); err != nil {
			r.logger.Warn("broadcast delivery failed", "channel", n.ChannelID, "error", err)
			metrics.RecordRelay("broadcast", false)
			continue
		}
		metrics.RecordRelay("broadcast", true)
		written++
	}
	return written
}

// Query returns the records of the named characters that are connected.
func (r *Relay) Query(names []string) []model.UserRecord {
	return r.users.QueryByNames(names)
}
