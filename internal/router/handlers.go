package router

import (
	"errors"
	"fmt"

	"github.com/rickgao/central/internal/model"
	"github.com/rickgao/central/internal/node"
	"github.com/rickgao/central/internal/party"
	"github.com/rickgao/central/internal/protocol"
)

// -----------------------------------------------------------------------------
// Node lifecycle
// -----------------------------------------------------------------------------

func handleInitializeResult(s *session, c *Context) error {
	channelID, err := c.Body.ReadInt()
	if err != nil {
		return fmt.Errorf("channel id: %w", err)
	}
	var host [4]byte
	if err := c.Body.ReadInto(host[:]); err != nil {
		return fmt.Errorf("host: %w", err)
	}
	port, err := c.Body.ReadInt()
	if err != nil {
		return fmt.Errorf("port: %w", err)
	}

	if s.node != nil {
		return fmt.Errorf("channel %d already initialized as %d: %w", channelID, s.node.ChannelID, ErrUnexpectedFrame)
	}

	n := node.New(channelID, host, port, s.peer)
	if err := s.router.deps.Nodes.Register(n); err != nil {
		// Two processes claiming one channel id would split its users.
		_ = s.peer.Close()
		return err
	}
	s.node = n
	s.logger = s.logger.With("channel", channelID)

	e := model.NewEvent(model.EventNodeRegistered)
	e.ChannelID = channelID
	e.Detail = n.Addr()
	s.router.record(e)
	return nil
}

func handleShutdownResult(s *session, c *Context) error {
	channelID, err := c.Body.ReadInt()
	if err != nil {
		return fmt.Errorf("channel id: %w", err)
	}
	success, err := c.Body.ReadBool()
	if err != nil {
		return fmt.Errorf("success: %w", err)
	}

	if !success {
		s.logger.Error("channel failed to shut down, trying again", "reported_channel", channelID)
		return c.Reply(protocol.EncodeShutdownRequest())
	}

	if s.router.deps.Nodes.UnregisterNode(s.node) {
		s.logger.Info("channel shut down")
		e := model.NewEvent(model.EventNodeUnregistered)
		e.ChannelID = s.node.ChannelID
		e.Detail = "shutdown"
		s.router.record(e)
	}
	s.node = nil
	return nil
}

// -----------------------------------------------------------------------------
// Migration
// -----------------------------------------------------------------------------

func handleMigrateRequest(s *session, c *Context) error {
	requestID, err := c.Body.ReadInt()
	if err != nil {
		return fmt.Errorf("request id: %w", err)
	}
	c.Owe(protocol.EncodeMigrateResult(requestID, nil))

	accountID, err := c.Body.ReadInt()
	if err != nil {
		return fmt.Errorf("account id: %w", err)
	}
	characterID, err := c.Body.ReadInt()
	if err != nil {
		return fmt.Errorf("character id: %w", err)
	}
	var fp model.Fingerprint
	if err := c.Body.ReadInto(fp[:]); err != nil {
		return fmt.Errorf("fingerprint: %w", err)
	}
	var key model.SessionKey
	if err := c.Body.ReadInto(key[:]); err != nil {
		return fmt.Errorf("session key: %w", err)
	}

	info, ok := s.router.deps.Migrations.Complete(c.Node.ChannelID, accountID, characterID, fp, key)
	if !ok {
		s.logger.Info("migration rejected", "account_id", accountID, "character_id", characterID)
		return c.Reply(protocol.EncodeMigrateResult(requestID, nil))
	}
	return c.Reply(protocol.EncodeMigrateResult(requestID, &info))
}

func handleTransferRequest(s *session, c *Context) error {
	requestID, err := c.Body.ReadInt()
	if err != nil {
		return fmt.Errorf("request id: %w", err)
	}
	c.Owe(protocol.EncodeTransferResult(requestID, nil))

	info, err := protocol.ReadMigrationInfo(c.Body)
	if err != nil {
		return err
	}

	target, ok := s.router.deps.Nodes.Lookup(info.ChannelID)
	if !ok {
		s.logger.Warn("transfer to unknown channel", "target", info.ChannelID, "character_id", info.CharacterID)
		return c.Reply(protocol.EncodeTransferResult(requestID, nil))
	}
	if err := s.router.deps.Migrations.Submit(requestID, c.Node.ChannelID, info); err != nil {
		if rerr := c.Reply(protocol.EncodeTransferResult(requestID, nil)); rerr != nil {
			return errors.Join(err, rerr)
		}
		return err
	}
	return c.Reply(protocol.EncodeTransferResult(requestID, &model.TransferInfo{
		Host: target.Host,
		Port: target.Port,
	}))
}

// -----------------------------------------------------------------------------
// User location
// -----------------------------------------------------------------------------

func handleUserConnect(s *session, c *Context) error {
	u, err := protocol.ReadUserRecord(c.Body)
	if err != nil {
		return err
	}
	s.router.deps.Parties.Store(u, func(u model.UserRecord) bool {
		s.router.deps.Users.Connect(u)
		return true
	})
	s.router.deps.Parties.UpdateMember(u)
	return nil
}

func handleUserUpdate(s *session, c *Context) error {
	u, err := protocol.ReadUserRecord(c.Body)
	if err != nil {
		return err
	}
	if !s.router.deps.Parties.Store(u, s.router.deps.Users.Update) {
		s.logger.Debug("update for unknown character", "character_id", u.CharacterID)
	}
	s.router.deps.Parties.UpdateMember(u)
	return nil
}

func handleUserDisconnect(s *session, c *Context) error {
	u, err := protocol.ReadUserRecord(c.Body)
	if err != nil {
		return err
	}
	if s.router.deps.Migrations.IsMigrating(u.AccountID) {
		// The target channel's UserConnect will move the record.
		s.logger.Debug("user disconnected mid-migration", "character_id", u.CharacterID)
		return nil
	}

	s.router.offline(u)
	return nil
}

// -----------------------------------------------------------------------------
// Relay
// -----------------------------------------------------------------------------

func handleUserPacketRequest(s *session, c *Context) error {
	name, err := c.Body.ReadString()
	if err != nil {
		return fmt.Errorf("target name: %w", err)
	}
	payload, err := c.Body.ReadBlob()
	if err != nil {
		return fmt.Errorf("payload: %w", err)
	}
	s.router.deps.Relay.SendToName(name, payload)
	return nil
}

func handleUserPacketReceive(s *session, c *Context) error {
	characterID, err := c.Body.ReadInt()
	if err != nil {
		return fmt.Errorf("character id: %w", err)
	}
	payload, err := c.Body.ReadBlob()
	if err != nil {
		return fmt.Errorf("payload: %w", err)
	}
	s.router.deps.Relay.SendToID(characterID, payload)
	return nil
}

func handleUserPacketBroadcast(s *session, c *Context) error {
	ids, payload, err := protocol.ReadUserPacketBroadcast(c.Body)
	if err != nil {
		return err
	}
	s.router.deps.Relay.Broadcast(ids, payload)
	return nil
}

func handleUserQueryRequest(s *session, c *Context) error {
	requestID, err := c.Body.ReadInt()
	if err != nil {
		return fmt.Errorf("request id: %w", err)
	}
	c.Owe(protocol.EncodeUserQueryResult(requestID, nil))

	count, err := protocol.ReadCount(c.Body)
	if err != nil {
		return err
	}
	names := make([]string, 0, count)
	for i := 0; i < count; i++ {
		name, err := c.Body.ReadString()
		if err != nil {
			return fmt.Errorf("name %d: %w", i, err)
		}
		names = append(names, name)
	}
	return c.Reply(protocol.EncodeUserQueryResult(requestID, s.router.deps.Relay.Query(names)))
}

// -----------------------------------------------------------------------------
// Party
// -----------------------------------------------------------------------------

func handlePartyRequest(s *session, c *Context) error {
	characterID, err := c.Body.ReadInt()
	if err != nil {
		return fmt.Errorf("character id: %w", err)
	}
	req, err := protocol.ReadPartyRequest(c.Body)
	if err != nil {
		return err
	}

	u, ok := s.router.deps.Users.ByID(characterID)
	if !ok {
		return fmt.Errorf("%s from %d: %w", req.Type, characterID, party.ErrUserNotFound)
	}

	parties := s.router.deps.Parties
	origin := c.Node
	switch req.Type {
	case protocol.LoadParty:
		parties.Load(origin, u)
		return nil
	case protocol.CreateNewParty:
		return parties.Create(origin, u)
	case protocol.WithdrawParty:
		return parties.Withdraw(origin, u)
	case protocol.JoinParty:
		return parties.Join(origin, u, req.CharacterID)
	case protocol.InviteParty:
		return parties.Invite(origin, u, req.CharacterName)
	case protocol.KickParty:
		return parties.Kick(origin, u, req.CharacterID)
	case protocol.ChangePartyBoss:
		return parties.ChangeBoss(origin, u, req.CharacterID)
	}
	return fmt.Errorf("%s: %w", req.Type, protocol.ErrUnknownPartyRequest)
}
