package connection

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/central/internal/metrics"
	"github.com/rickgao/central/internal/queue"
)

// writeBatch bounds how many queued frames the writer takes at once.
const writeBatch = 64

// peer implements Peer over a server-side WebSocket connection.
type peer struct {
	id     string
	cfg    ServerConfig
	conn   *websocket.Conn
	logger *slog.Logger

	out *queue.Queue[[]byte]

	done      chan struct{}
	writeDone chan struct{}
	closeOnce sync.Once
}

func newPeer(id string, conn *websocket.Conn, cfg ServerConfig, logger *slog.Logger) *peer {
	return &peer{
		id:        id,
		cfg:       cfg,
		conn:      conn,
		logger:    logger,
		out:       queue.New[[]byte](cfg.SendBuffer),
		done:      make(chan struct{}),
		writeDone: make(chan struct{}),
	}
}

func (p *peer) start() {
	go p.writeLoop()
	go p.heartbeatLoop()
}

// ID returns the connection id.
func (p *peer) ID() string {
	return p.id
}

// RemoteAddr returns the remote network address.
func (p *peer) RemoteAddr() string {
	return p.conn.RemoteAddr().String()
}

// Send queues frame for the writer goroutine. A peer whose queue grows past
// MaxPending is disconnected.
func (p *peer) Send(frame []byte) error {
	n, ok := p.out.Push(frame)
	if !ok {
		return ErrAlreadyClosed
	}
	if p.cfg.MaxPending > 0 && n > p.cfg.MaxPending {
		p.logger.Warn("peer send queue overflow, disconnecting", "pending", n, "limit", p.cfg.MaxPending)
		metrics.PeersDropped.Inc()
		p.abort()
		return ErrSlowConsumer
	}
	return nil
}

// Close stops accepting frames, waits for queued frames to be written and
// closes the connection.
func (p *peer) Close() error {
	p.out.Close()

	select {
	case <-p.writeDone:
	case <-time.After(p.cfg.WriteTimeout):
		p.logger.Warn("peer flush timed out")
	}

	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		_ = p.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = p.conn.Close()
	})
	return err
}

// abort drops queued frames and closes the connection immediately.
func (p *peer) abort() {
	p.out.Close()
	p.closeOnce.Do(func() {
		close(p.done)
		_ = p.conn.Close()
	})
}

// writeLoop drains the send queue onto the connection.
func (p *peer) writeLoop() {
	defer close(p.writeDone)

	for {
		batch, ok := p.out.PopBatch(writeBatch)
		if !ok {
			return
		}
		for _, frame := range batch {
			select {
			case <-p.done:
				return
			default:
			}

			_ = p.conn.SetWriteDeadline(time.Now().Add(p.cfg.WriteTimeout))
			if err := p.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				p.logger.Debug("peer write failed", "error", err)
				p.abort()
				return
			}
		}
	}
}

// heartbeatLoop pings the peer; the read side extends its deadline on pong.
func (p *peer) heartbeatLoop() {
	if p.cfg.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(p.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(p.cfg.WriteTimeout)
			if err := p.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				p.logger.Debug("failed to send ping", "error", err)
			}
		}
	}
}
