package node

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
)

// ErrDuplicateChannel is returned when a channel id is already registered.
var ErrDuplicateChannel = errors.New("channel already registered")

// Sender writes a fully formed frame to a connection without blocking.
type Sender interface {
	Send(frame []byte) error
}

// Node is one connected channel. Immutable once registered.
type Node struct {
	ChannelID int32
	Host      [4]byte
	Port      int32

	conn Sender
}

// New returns a Node that writes through conn.
func New(channelID int32, host [4]byte, port int32, conn Sender) *Node {
	return &Node{ChannelID: channelID, Host: host, Port: port, conn: conn}
}

// Send writes a frame to the channel.
func (n *Node) Send(frame []byte) error {
	if err := n.conn.Send(frame); err != nil {
		return fmt.Errorf("send to channel %d: %w", n.ChannelID, err)
	}
	return nil
}

// Addr returns host:port.
func (n *Node) Addr() string {
	return net.JoinHostPort(net.IP(n.Host[:]).String(), fmt.Sprint(n.Port))
}

// Registry maps channel ids to connected nodes.
type Registry struct {
	logger *slog.Logger

	mu    sync.RWMutex
	nodes map[int32]*Node
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger: logger.With("component", "node_registry"),
		nodes:  make(map[int32]*Node),
	}
}

// Register adds a node, failing if its channel id is taken.
func (r *Registry) Register(n *Node) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.nodes[n.ChannelID]; ok {
		return fmt.Errorf("channel %d: %w", n.ChannelID, ErrDuplicateChannel)
	}
	r.nodes[n.ChannelID] = n
	r.logger.Info("channel registered", "channel", n.ChannelID, "addr", n.Addr())
	return nil
}

// Unregister removes the node for channelID. Reports whether one was removed.
func (r *Registry) Unregister(channelID int32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.nodes[channelID]; !ok {
		return false
	}
	delete(r.nodes, channelID)
	r.logger.Info("channel unregistered", "channel", channelID)
	return true
}

// UnregisterNode removes n only if it is still the registered node for its id.
func (r *Registry) UnregisterNode(n *Node) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.nodes[n.ChannelID]; !ok || cur != n {
		return false
	}
	delete(r.nodes, n.ChannelID)
	r.logger.Info("channel unregistered", "channel", n.ChannelID)
	return true
}

// Lookup returns the node for channelID.
func (r *Registry) Lookup(channelID int32) (*Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.nodes[channelID]
	return n, ok
}

// All returns a snapshot of every node, sorted by channel id.
func (r *Registry) All() []*Node {
	r.mu.RLock()
	out := make([]*Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out
}

// Len returns the number of registered nodes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}
