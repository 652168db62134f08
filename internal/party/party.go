package party

import (
	"sync"

	"github.com/rickgao/central/internal/model"
)

// Member is the snapshot of a party member shown to the rest of the party.
type Member struct {
	CharacterID   int32
	CharacterName string
	ChannelID     int32
	Level         int16
	Job           int16
	FieldID       int32
	TownPortal    model.TownPortal
}

func memberFrom(u model.UserRecord) Member {
	return Member{
		CharacterID:   u.CharacterID,
		CharacterName: u.CharacterName,
		ChannelID:     u.ChannelID,
		Level:         u.Level,
		Job:           u.Job,
		FieldID:       u.FieldID,
		TownPortal:    u.TownPortal,
	}
}

// Party is a bounded group of characters led by a boss.
type Party struct {
	id       int32
	capacity int

	mu        sync.Mutex
	bossID    int32
	members   []Member
	disbanded bool
}

func newParty(id int32, capacity int, boss model.UserRecord) *Party {
	return &Party{
		id:       id,
		capacity: capacity,
		bossID:   boss.CharacterID,
		members:  append(make([]Member, 0, capacity), memberFrom(boss)),
	}
}

// ID returns the party id.
func (p *Party) ID() int32 {
	return p.id
}

// BossID returns the current boss.
func (p *Party) BossID() int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bossID
}

// Members returns a copy of the member list in slot order.
func (p *Party) Members() []Member {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Member(nil), p.members...)
}

// MemberIndex returns the slot of characterID, or -1.
func (p *Party) MemberIndex(characterID int32) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.indexOf(characterID)
}

// The methods below require p.mu.

func (p *Party) indexOf(characterID int32) int {
	for i, m := range p.members {
		if m.CharacterID == characterID {
			return i
		}
	}
	return -1
}

func (p *Party) isMember(characterID int32) bool {
	return !p.disbanded && p.indexOf(characterID) >= 0
}

func (p *Party) full() bool {
	return len(p.members) >= p.capacity
}

func (p *Party) addMember(u model.UserRecord) bool {
	if p.full() || p.indexOf(u.CharacterID) >= 0 {
		return false
	}
	p.members = append(p.members, memberFrom(u))
	return true
}

// removeMember drops characterID and closes the gap, keeping the relative
// order of the survivors.
func (p *Party) removeMember(characterID int32) (Member, bool) {
	i := p.indexOf(characterID)
	if i < 0 {
		return Member{}, false
	}
	m := p.members[i]
	p.members = append(p.members[:i], p.members[i+1:]...)
	return m, true
}

func (p *Party) updateMember(u model.UserRecord) bool {
	i := p.indexOf(u.CharacterID)
	if i < 0 {
		return false
	}
	p.members[i] = memberFrom(u)
	return true
}

func (p *Party) setBoss(requesterID, targetID int32) error {
	if p.bossID != requesterID {
		return ErrNotBoss
	}
	if targetID == requesterID {
		return ErrInvalidTarget
	}
	if p.indexOf(targetID) < 0 {
		return ErrNotMember
	}
	p.bossID = targetID
	return nil
}
