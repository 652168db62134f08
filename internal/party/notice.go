package party

import (
	"github.com/rickgao/central/internal/packet"
)

// noticeOpcode is the client opcode carrying party results.
const noticeOpcode uint16 = 0x3E

// nameLength is the fixed width of a name in the party-state block.
const nameLength = 13

// NoticeType selects the client-side party result.
type NoticeType byte

const (
	InviteParty                 NoticeType = 4
	LoadPartyDone               NoticeType = 7
	CreateNewPartyDone          NoticeType = 8
	CreateNewPartyAlreadyJoined NoticeType = 9
	WithdrawPartyDone           NoticeType = 12
	WithdrawPartyNotJoined      NoticeType = 13
	WithdrawPartyUnknown        NoticeType = 14
	JoinPartyDone               NoticeType = 15
	JoinPartyAlreadyJoined      NoticeType = 17
	JoinPartyAlreadyFull        NoticeType = 18
	JoinPartyUnknown            NoticeType = 21
	InvitePartyFull             NoticeType = 22
	KickPartyUnknown            NoticeType = 29
	ChangePartyBossDone         NoticeType = 31
	ChangePartyBossUnknown      NoticeType = 33
	ServerMsg                   NoticeType = 36
)

func newNotice(t NoticeType) *packet.Writer {
	w := packet.NewWriter(32)
	w.WriteUint16(noticeOpcode)
	_ = w.WriteByte(byte(t))
	return w
}

func simpleNotice(t NoticeType) []byte {
	return newNotice(t).Bytes()
}

func serverMsgNotice(msg string) []byte {
	w := newNotice(ServerMsg)
	w.WriteBool(true)
	w.WriteString(msg)
	return w.Bytes()
}

func writeFixedString(w *packet.Writer, s string, n int) {
	buf := make([]byte, n)
	copy(buf, s)
	w.WriteBytes(buf)
}

// writePartyState encodes the party-state block. Unused slots are zero.
// Requires p.mu.
func writePartyState(w *packet.Writer, p *Party) {
	slots := make([]Member, p.capacity)
	copy(slots, p.members)

	for _, m := range slots {
		w.WriteInt(m.CharacterID)
	}
	for _, m := range slots {
		writeFixedString(w, m.CharacterName, nameLength)
	}
	for _, m := range slots {
		w.WriteInt(int32(m.Job))
	}
	for _, m := range slots {
		w.WriteInt(int32(m.Level))
	}
	for i, m := range slots {
		if i < len(p.members) {
			w.WriteInt(m.ChannelID)
		} else {
			w.WriteInt(-2)
		}
	}
	w.WriteInt(p.bossID)
	for _, m := range slots {
		w.WriteInt(m.FieldID)
	}
	for _, m := range slots {
		w.WriteInt(m.TownPortal.TownID)
		w.WriteInt(m.TownPortal.FieldID)
		w.WriteInt(int32(m.TownPortal.X))
		w.WriteInt(int32(m.TownPortal.Y))
	}
}

func loadPartyNotice(p *Party) []byte {
	w := newNotice(LoadPartyDone)
	w.WriteInt(p.id)
	writePartyState(w, p)
	return w.Bytes()
}

func createPartyNotice(p *Party, boss Member) []byte {
	w := newNotice(CreateNewPartyDone)
	w.WriteInt(p.id)
	w.WriteInt(boss.TownPortal.TownID)
	w.WriteInt(boss.TownPortal.FieldID)
	w.WriteShort(boss.TownPortal.X)
	w.WriteShort(boss.TownPortal.Y)
	return w.Bytes()
}

// withdrawPartyNotice reports that m left, was expelled, or that the party
// was disbanded by its boss.
func withdrawPartyNotice(p *Party, m Member, disbanded, kicked bool) []byte {
	w := newNotice(WithdrawPartyDone)
	w.WriteInt(p.id)
	w.WriteInt(m.CharacterID)
	w.WriteBool(!disbanded)
	if !disbanded {
		w.WriteBool(kicked)
		w.WriteString(m.CharacterName)
		writePartyState(w, p)
	}
	return w.Bytes()
}

func joinPartyNotice(p *Party, m Member) []byte {
	w := newNotice(JoinPartyDone)
	w.WriteInt(p.id)
	w.WriteString(m.CharacterName)
	writePartyState(w, p)
	return w.Bytes()
}

func invitePartyNotice(partyID int32, inviter Member) []byte {
	w := newNotice(InviteParty)
	w.WriteInt(partyID)
	w.WriteString(inviter.CharacterName)
	w.WriteInt(int32(inviter.Level))
	w.WriteInt(int32(inviter.Job))
	return w.Bytes()
}

func changeBossNotice(newBossID int32, disconnected bool) []byte {
	w := newNotice(ChangePartyBossDone)
	w.WriteInt(newBossID)
	w.WriteBool(disconnected)
	return w.Bytes()
}
