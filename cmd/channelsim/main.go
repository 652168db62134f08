// channelsim connects to a coordinator as one channel, signs in synthetic
// characters and has them form a party, printing every frame it receives.
// Usage: go run ./cmd/channelsim -url ws://localhost:8484/central -channel 0
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rickgao/central/internal/connection"
	"github.com/rickgao/central/internal/model"
	"github.com/rickgao/central/internal/packet"
	"github.com/rickgao/central/internal/protocol"
)

func main() {
	url := flag.String("url", "ws://localhost:8484/central", "coordinator WebSocket URL")
	channelID := flag.Int("channel", 0, "channel id to register as")
	port := flag.Int("port", 7575, "port advertised to migrating clients")
	characters := flag.Int("characters", 3, "synthetic characters to sign in")
	verbose := flag.Bool("verbose", false, "log frames at debug level")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	cfg := connection.DefaultClientConfig()
	cfg.URL = *url
	client := connection.NewClient(cfg, logger)

	dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
	err := client.Connect(dialCtx)
	dialCancel()
	if err != nil {
		logger.Error("failed to connect", "url", *url, "error", err)
		os.Exit(1)
	}
	defer client.Close()

	sim := &simulator{
		client:     client,
		logger:     logger,
		channelID:  int32(*channelID),
		port:       int32(*port),
		characters: *characters,
	}

	logger.Info("connected - press Ctrl+C to stop", "url", *url, "channel", *channelID)

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutdown complete")
			return
		case err := <-client.Errors():
			logger.Error("connection error", "error", err)
			os.Exit(1)
		case f := <-client.Frames():
			if done := sim.handle(f.Data); done {
				logger.Info("coordinator requested shutdown")
				return
			}
		}
	}
}

type simulator struct {
	client     *connection.Client
	logger     *slog.Logger
	channelID  int32
	port       int32
	characters int
}

func (s *simulator) characterID(i int) int32 {
	return s.channelID*1000 + int32(i) + 1
}

// handle processes one frame and reports whether the simulator should exit.
func (s *simulator) handle(frame []byte) bool {
	h, body, err := protocol.ReadHeader(frame)
	if err != nil {
		s.logger.Warn("malformed frame", "error", err)
		return false
	}
	s.logger.Debug("frame", "header", h, "bytes", len(frame))

	switch h {
	case protocol.InitializeRequest:
		s.send(protocol.EncodeInitializeResult(s.channelID, [4]byte{127, 0, 0, 1}, s.port))
		s.signIn()
	case protocol.ShutdownRequest:
		s.send(protocol.EncodeShutdownResult(s.channelID, true))
		return true
	case protocol.PartyResult:
		characterID, partyID, index, err := protocol.ReadPartyResult(body)
		if err != nil {
			s.logger.Warn("bad party result", "error", err)
			return false
		}
		fmt.Printf("[PARTY] character=%d party=%d index=%d\n", characterID, partyID, index)
	case protocol.UserPacketReceive:
		printNotice(body)
	case protocol.UserPacketBroadcast:
		ids, payload, err := protocol.ReadUserPacketBroadcast(body)
		if err != nil {
			s.logger.Warn("bad broadcast", "error", err)
			return false
		}
		fmt.Printf("[BROADCAST] recipients=%v bytes=%d\n", ids, len(payload))
	default:
		fmt.Printf("[%s] bytes=%d\n", h, len(frame))
	}
	return false
}

// signIn connects every synthetic character, then has the first create a
// party and the rest join it.
func (s *simulator) signIn() {
	for i := 0; i < s.characters; i++ {
		id := s.characterID(i)
		s.send(protocol.EncodeUser(protocol.UserConnect, model.UserRecord{
			AccountID:     id,
			CharacterID:   id,
			CharacterName: fmt.Sprintf("sim%d_%d", s.channelID, i),
			ChannelID:     s.channelID,
			Level:         int16(10 + i),
			FieldID:       100000000,
		}))
	}
	if s.characters == 0 {
		return
	}

	boss := s.characterID(0)
	s.send(protocol.EncodePartyRequest(boss, protocol.PartyOp{Type: protocol.CreateNewParty}))
	for i := 1; i < s.characters; i++ {
		s.send(protocol.EncodePartyRequest(s.characterID(i), protocol.PartyOp{
			Type:        protocol.JoinParty,
			CharacterID: boss,
		}))
	}
	s.logger.Info("signed in characters", "count", s.characters, "party_boss", boss)
}

func (s *simulator) send(frame []byte) {
	if err := s.client.Send(frame); err != nil {
		s.logger.Error("send failed", "error", err)
	}
}

func printNotice(body *packet.Reader) {
	characterID, err := body.ReadInt()
	if err != nil {
		return
	}
	payload, err := body.ReadBlob()
	if err != nil {
		return
	}
	// Client packets start with a uint16 opcode and, for party notices, a
	// type byte.
	if len(payload) >= 3 {
		fmt.Printf("[NOTICE] character=%d opcode=0x%02X type=%d bytes=%d\n",
			characterID, uint16(payload[0])|uint16(payload[1])<<8, payload[2], len(payload))
		return
	}
	fmt.Printf("[NOTICE] character=%d bytes=%d\n", characterID, len(payload))
}
