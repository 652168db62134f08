package connection

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Server accepts channel connections and feeds their frames to a Handler.
type Server struct {
	cfg      ServerConfig
	handler  Handler
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu     sync.Mutex
	peers  map[string]*peer
	closed bool
}

// NewServer creates a Server. It implements http.Handler.
func NewServer(cfg ServerConfig, handler Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		handler: handler,
		logger:  logger.With("component", "connection_server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		peers: make(map[string]*peer),
	}
}

// ServeHTTP upgrades the request and runs the connection's read loop until
// it disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	id := uuid.NewString()
	logger := s.logger.With("conn_id", id)
	p := newPeer(id, conn, s.cfg, logger)

	if !s.add(p) {
		_ = conn.Close()
		return
	}
	defer s.remove(p)

	logger.Info("connection accepted", "remote", conn.RemoteAddr().String())
	p.start()

	session := s.handler.Open(p)
	s.readLoop(p, session, logger)
	session.Close()
	_ = p.Close()

	logger.Info("connection closed")
}

func (s *Server) readLoop(p *peer, session Session, logger *slog.Logger) {
	conn := p.conn
	if s.cfg.MaxFrameBytes > 0 {
		conn.SetReadLimit(s.cfg.MaxFrameBytes)
	}
	extend := func() {
		if s.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		}
	}
	extend()
	conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) && ce.Code == websocket.CloseNormalClosure {
				logger.Debug("peer closed connection")
			} else {
				select {
				case <-p.done:
				default:
					logger.Warn("connection read failed", "error", err)
				}
			}
			return
		}
		extend()

		if mt != websocket.BinaryMessage {
			logger.Warn("ignoring non-binary message", "type", mt)
			continue
		}
		session.HandleFrame(data)
	}
}

func (s *Server) add(p *peer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.peers[p.id] = p
	return true
}

func (s *Server) remove(p *peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.peers, p.id)
}

// Len returns the number of open connections.
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// Close refuses new connections and closes every open one.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	peers := make([]*peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	for _, p := range peers {
		_ = p.Close()
	}
	s.logger.Info("connection server closed", "connections", len(peers))
}
