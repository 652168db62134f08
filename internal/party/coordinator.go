package party

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rickgao/central/internal/metrics"
	"github.com/rickgao/central/internal/model"
	"github.com/rickgao/central/internal/node"
	"github.com/rickgao/central/internal/protocol"
	"github.com/rickgao/central/internal/user"
)

var (
	ErrPartyNotFound  = errors.New("party not found")
	ErrUserNotFound   = errors.New("user not found")
	ErrPartyFull      = errors.New("party is full")
	ErrNotBoss        = errors.New("requester is not the party boss")
	ErrNotMember      = errors.New("character is not a party member")
	ErrAlreadyInParty = errors.New("character is already in a party")
	ErrInvalidTarget  = errors.New("invalid party target")
	ErrInconsistent   = errors.New("party state inconsistent")
)

// Config holds party configuration.
type Config struct {
	Capacity int // Member slots per party (default: 6)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{Capacity: 6}
}

// Coordinator owns every live party.
type Coordinator struct {
	cfg      Config
	users    *user.Registry
	nodes    *node.Registry
	recorder model.EventRecorder
	logger   *slog.Logger

	mu      sync.RWMutex
	parties map[int32]*Party
	members map[int32]int32 // character id -> party id
	nextID  int32
}

// New creates a Coordinator. recorder may be nil.
func New(cfg Config, users *user.Registry, nodes *node.Registry, recorder model.EventRecorder, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = model.NopRecorder{}
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultConfig().Capacity
	}
	return &Coordinator{
		cfg:      cfg,
		users:    users,
		nodes:    nodes,
		recorder: recorder,
		logger:   logger.With("component", "party"),
		parties:  make(map[int32]*Party),
		members:  make(map[int32]int32),
	}
}

// -----------------------------------------------------------------------------
// Lookup
// -----------------------------------------------------------------------------

// ByID returns the party with id partyID.
func (c *Coordinator) ByID(partyID int32) (*Party, bool) {
	if partyID == 0 {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.parties[partyID]
	return p, ok
}

// ByCharacterID returns the party of characterID, following the character's
// record and falling back to the membership index.
func (c *Coordinator) ByCharacterID(characterID int32) (*Party, bool) {
	if u, ok := c.users.ByID(characterID); ok && u.PartyID != 0 {
		if p, ok := c.ByID(u.PartyID); ok {
			return p, true
		}
	}
	return c.ByID(c.PartyIDOf(characterID))
}

// Store hands u to put with PartyID taken from the membership index. The
// index is held for the duration of put, so a concurrent join or leave
// cannot be overwritten by a stale party id.
func (c *Coordinator) Store(u model.UserRecord, put func(model.UserRecord) bool) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u.PartyID = c.members[u.CharacterID]
	return put(u)
}

// PartyIDOf returns the party id characterID belongs to, or 0.
func (c *Coordinator) PartyIDOf(characterID int32) int32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.members[characterID]
}

// Len returns the number of live parties.
func (c *Coordinator) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.parties)
}

// -----------------------------------------------------------------------------
// Delivery
// -----------------------------------------------------------------------------

func (c *Coordinator) send(n *node.Node, frame []byte) {
	if err := n.Send(frame); err != nil {
		c.logger.Warn("party delivery failed", "channel", n.ChannelID, "error", err)
	}
}

func (c *Coordinator) notify(n *node.Node, characterID int32, payload []byte) {
	c.send(n, protocol.EncodeUserPacketReceive(characterID, payload))
}

// forEachMember calls fn for every member whose channel is connected.
// Requires p.mu.
func (c *Coordinator) forEachMember(p *Party, fn func(i int, m Member, n *node.Node)) {
	for i, m := range p.members {
		n, ok := c.nodes.Lookup(m.ChannelID)
		if !ok {
			continue
		}
		fn(i, m, n)
	}
}

// broadcastState sends the party-state notice to every member. Requires p.mu.
func (c *Coordinator) broadcastState(p *Party) {
	payload := loadPartyNotice(p)
	c.forEachMember(p, func(_ int, m Member, n *node.Node) {
		c.notify(n, m.CharacterID, payload)
	})
}

// -----------------------------------------------------------------------------
// Index maintenance (lock order: party mutex, then c.mu, then the user
// registry). The registry's party id is only written under c.mu.
// -----------------------------------------------------------------------------

func (c *Coordinator) syncLocked(characterID int32) {
	c.users.SetPartyID(characterID, c.members[characterID])
}

func (c *Coordinator) sync(characterID int32) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.syncLocked(characterID)
}

func (c *Coordinator) claim(characterID, partyID int32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.members[characterID]; ok {
		return false
	}
	c.members[characterID] = partyID
	c.syncLocked(characterID)
	return true
}

func (c *Coordinator) release(characterID, partyID int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.members[characterID] == partyID {
		delete(c.members, characterID)
	}
	c.syncLocked(characterID)
}

func (c *Coordinator) remove(p *Party) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.parties[p.id]; !ok || cur != p {
		return false
	}
	delete(c.parties, p.id)
	for _, m := range p.members {
		if c.members[m.CharacterID] == p.id {
			delete(c.members, m.CharacterID)
		}
		c.syncLocked(m.CharacterID)
	}
	return true
}

// lockParty returns the party characterID belongs to, locked. The caller
// must unlock.
func (c *Coordinator) lockParty(characterID int32) (*Party, bool) {
	p, ok := c.ByID(c.PartyIDOf(characterID))
	if !ok {
		return nil, false
	}
	p.mu.Lock()
	if !p.isMember(characterID) {
		p.mu.Unlock()
		return nil, false
	}
	return p, true
}

// -----------------------------------------------------------------------------
// Operations
// -----------------------------------------------------------------------------

// Create starts a new party led by u and replies on origin.
func (c *Coordinator) Create(origin *node.Node, u model.UserRecord) (err error) {
	defer func() { metrics.RecordPartyOp("create", err) }()

	p, err := c.create(origin, u)
	if err != nil {
		c.notify(origin, u.CharacterID, simpleNotice(CreateNewPartyAlreadyJoined))
		return err
	}
	p.mu.Unlock()
	return nil
}

// create allocates a party for u and returns it locked.
func (c *Coordinator) create(origin *node.Node, u model.UserRecord) (*Party, error) {
	c.mu.Lock()
	if _, ok := c.members[u.CharacterID]; ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("create party for %d: %w", u.CharacterID, ErrAlreadyInParty)
	}
	c.nextID++
	p := newParty(c.nextID, c.cfg.Capacity, u)
	p.mu.Lock()
	c.parties[p.id] = p
	c.members[u.CharacterID] = p.id
	c.syncLocked(u.CharacterID)
	c.mu.Unlock()

	c.send(origin, protocol.EncodePartyResult(u.CharacterID, p.id, 0))
	c.notify(origin, u.CharacterID, createPartyNotice(p, p.members[0]))

	c.logger.Debug("party created", "party_id", p.id, "character_id", u.CharacterID)
	e := model.NewEvent(model.EventPartyCreated)
	e.ChannelID = u.ChannelID
	e.AccountID = u.AccountID
	e.CharacterID = u.CharacterID
	e.PartyID = p.id
	c.recorder.Record(e)
	return p, nil
}

// Load replies on origin with u's party result and, when in a party, the
// party state.
func (c *Coordinator) Load(origin *node.Node, u model.UserRecord) {
	p, ok := c.lockParty(u.CharacterID)
	if !ok {
		c.send(origin, protocol.EncodePartyResult(u.CharacterID, 0, 0))
		return
	}
	defer p.mu.Unlock()

	c.send(origin, protocol.EncodePartyResult(u.CharacterID, p.id, int32(p.indexOf(u.CharacterID))))
	c.notify(origin, u.CharacterID, loadPartyNotice(p))
}

// Join adds u to the party of inviterID.
func (c *Coordinator) Join(origin *node.Node, u model.UserRecord, inviterID int32) (err error) {
	defer func() { metrics.RecordPartyOp("join", err) }()

	if c.PartyIDOf(u.CharacterID) != 0 {
		c.notify(origin, u.CharacterID, simpleNotice(JoinPartyAlreadyJoined))
		return fmt.Errorf("join by %d: %w", u.CharacterID, ErrAlreadyInParty)
	}
	p, ok := c.lockParty(inviterID)
	if !ok {
		c.notify(origin, u.CharacterID, simpleNotice(JoinPartyUnknown))
		return fmt.Errorf("join inviter %d: %w", inviterID, ErrPartyNotFound)
	}
	defer p.mu.Unlock()

	if p.full() {
		c.notify(origin, u.CharacterID, simpleNotice(JoinPartyAlreadyFull))
		return fmt.Errorf("join party %d: %w", p.id, ErrPartyFull)
	}
	if !c.claim(u.CharacterID, p.id) {
		c.notify(origin, u.CharacterID, simpleNotice(JoinPartyAlreadyJoined))
		return fmt.Errorf("join by %d: %w", u.CharacterID, ErrAlreadyInParty)
	}
	if !p.addMember(u) {
		c.release(u.CharacterID, p.id)
		c.notify(origin, u.CharacterID, simpleNotice(JoinPartyUnknown))
		return fmt.Errorf("join party %d: %w", p.id, ErrInconsistent)
	}

	joined := p.members[len(p.members)-1]
	payload := joinPartyNotice(p, joined)
	c.forEachMember(p, func(i int, m Member, n *node.Node) {
		if m.CharacterID == u.CharacterID {
			c.send(n, protocol.EncodePartyResult(m.CharacterID, p.id, int32(i)))
		}
		c.notify(n, m.CharacterID, payload)
	})
	return nil
}

// Invite relays a party invitation from inviter to the character named
// targetName, creating a party for the inviter first if needed.
func (c *Coordinator) Invite(origin *node.Node, inviter model.UserRecord, targetName string) (err error) {
	defer func() { metrics.RecordPartyOp("invite", err) }()

	p, ok := c.lockParty(inviter.CharacterID)
	if !ok {
		if p, err = c.create(origin, inviter); err != nil {
			// Lost a race with a concurrent create or join.
			if p, ok = c.lockParty(inviter.CharacterID); !ok {
				c.notify(origin, inviter.CharacterID, simpleNotice(CreateNewPartyAlreadyJoined))
				return err
			}
		}
	}
	defer p.mu.Unlock()

	if p.full() {
		c.notify(origin, inviter.CharacterID, simpleNotice(InvitePartyFull))
		return fmt.Errorf("invite to party %d: %w", p.id, ErrPartyFull)
	}

	target, ok := c.users.ByName(targetName)
	if !ok {
		c.notify(origin, inviter.CharacterID, serverMsgNotice(fmt.Sprintf("Unable to find '%s'", targetName)))
		return fmt.Errorf("invite %q: %w", targetName, ErrUserNotFound)
	}
	if target.PartyID != 0 || c.PartyIDOf(target.CharacterID) != 0 {
		c.notify(origin, inviter.CharacterID, serverMsgNotice(fmt.Sprintf("'%s' is already in a party.", targetName)))
		return fmt.Errorf("invite %q: %w", targetName, ErrAlreadyInParty)
	}
	n, ok := c.nodes.Lookup(target.ChannelID)
	if !ok {
		c.notify(origin, inviter.CharacterID, serverMsgNotice(fmt.Sprintf("Unable to find '%s'", targetName)))
		return fmt.Errorf("invite %q on channel %d: %w", targetName, target.ChannelID, ErrUserNotFound)
	}

	c.notify(n, target.CharacterID, invitePartyNotice(p.id, memberFrom(inviter)))
	return nil
}

// Withdraw removes u from its party. A boss withdrawing disbands the party.
func (c *Coordinator) Withdraw(origin *node.Node, u model.UserRecord) (err error) {
	defer func() { metrics.RecordPartyOp("withdraw", err) }()

	p, ok := c.lockParty(u.CharacterID)
	if !ok {
		c.notify(origin, u.CharacterID, simpleNotice(WithdrawPartyNotJoined))
		return fmt.Errorf("withdraw %d: %w", u.CharacterID, ErrPartyNotFound)
	}
	defer p.mu.Unlock()

	if p.bossID == u.CharacterID {
		if err := c.disband(p, u); err != nil {
			c.notify(origin, u.CharacterID, simpleNotice(WithdrawPartyUnknown))
			return err
		}
		return nil
	}

	if err := c.leave(p, u.CharacterID, false); err != nil {
		c.notify(origin, u.CharacterID, simpleNotice(WithdrawPartyUnknown))
		return err
	}
	return nil
}

// disband tears p down. Requires p.mu.
func (c *Coordinator) disband(p *Party, boss model.UserRecord) error {
	if !c.remove(p) {
		return fmt.Errorf("disband party %d: %w", p.id, ErrInconsistent)
	}
	p.disbanded = true

	payload := withdrawPartyNotice(p, memberFrom(boss), true, false)
	c.forEachMember(p, func(_ int, m Member, n *node.Node) {
		c.send(n, protocol.EncodePartyResult(m.CharacterID, 0, 0))
		c.notify(n, m.CharacterID, payload)
	})

	c.logger.Debug("party disbanded", "party_id", p.id, "boss", boss.CharacterID)
	e := model.NewEvent(model.EventPartyDisbanded)
	e.ChannelID = boss.ChannelID
	e.AccountID = boss.AccountID
	e.CharacterID = boss.CharacterID
	e.PartyID = p.id
	c.recorder.Record(e)
	return nil
}

// leave removes a non-boss member, updates the survivors and acknowledges
// the leaver. Requires p.mu.
func (c *Coordinator) leave(p *Party, characterID int32, kicked bool) error {
	gone, ok := p.removeMember(characterID)
	if !ok {
		return fmt.Errorf("remove %d from party %d: %w", characterID, p.id, ErrInconsistent)
	}
	c.release(characterID, p.id)

	payload := withdrawPartyNotice(p, gone, false, kicked)
	c.forEachMember(p, func(i int, m Member, n *node.Node) {
		c.send(n, protocol.EncodePartyResult(m.CharacterID, p.id, int32(i)))
		c.notify(n, m.CharacterID, payload)
	})
	if n, ok := c.nodes.Lookup(gone.ChannelID); ok {
		c.send(n, protocol.EncodePartyResult(gone.CharacterID, 0, 0))
		c.notify(n, gone.CharacterID, payload)
	}

	if len(p.members) == 0 {
		c.remove(p)
		p.disbanded = true
	}
	return nil
}

// Kick expels targetID from u's party. Only the boss may kick, and the boss
// cannot kick itself.
func (c *Coordinator) Kick(origin *node.Node, u model.UserRecord, targetID int32) (err error) {
	defer func() { metrics.RecordPartyOp("kick", err) }()

	p, ok := c.lockParty(u.CharacterID)
	if !ok {
		c.notify(origin, u.CharacterID, simpleNotice(KickPartyUnknown))
		return fmt.Errorf("kick by %d: %w", u.CharacterID, ErrPartyNotFound)
	}
	defer p.mu.Unlock()

	switch {
	case p.bossID != u.CharacterID:
		err = ErrNotBoss
	case targetID == p.bossID:
		err = ErrInvalidTarget
	case p.indexOf(targetID) < 0:
		err = ErrNotMember
	}
	if err != nil {
		c.notify(origin, u.CharacterID, simpleNotice(KickPartyUnknown))
		return fmt.Errorf("kick %d from party %d: %w", targetID, p.id, err)
	}

	if err := c.leave(p, targetID, true); err != nil {
		c.notify(origin, u.CharacterID, simpleNotice(KickPartyUnknown))
		return err
	}
	return nil
}

// ChangeBoss hands leadership of u's party to targetID.
func (c *Coordinator) ChangeBoss(origin *node.Node, u model.UserRecord, targetID int32) (err error) {
	defer func() { metrics.RecordPartyOp("change_boss", err) }()

	p, ok := c.lockParty(u.CharacterID)
	if !ok {
		c.notify(origin, u.CharacterID, simpleNotice(ChangePartyBossUnknown))
		return fmt.Errorf("change boss by %d: %w", u.CharacterID, ErrPartyNotFound)
	}
	defer p.mu.Unlock()

	if err := p.setBoss(u.CharacterID, targetID); err != nil {
		c.notify(origin, u.CharacterID, simpleNotice(ChangePartyBossUnknown))
		return fmt.Errorf("change boss of party %d to %d: %w", p.id, targetID, err)
	}

	payload := changeBossNotice(targetID, false)
	c.forEachMember(p, func(_ int, m Member, n *node.Node) {
		c.notify(n, m.CharacterID, payload)
	})
	return nil
}

// UpdateMember refreshes u's snapshot in its party and broadcasts the party
// state. Returns the party id, or 0 when u is not in a party.
func (c *Coordinator) UpdateMember(u model.UserRecord) int32 {
	p, ok := c.ByID(c.PartyIDOf(u.CharacterID))
	if !ok {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.disbanded || !p.updateMember(u) {
		return 0
	}
	c.sync(u.CharacterID)
	c.broadcastState(p)
	return p.id
}
