package protocol

import (
	"errors"
	"fmt"

	"github.com/rickgao/central/internal/model"
	"github.com/rickgao/central/internal/packet"
)

// ErrUnknownPartyRequest is returned when a PartyRequest carries an
// undefined variant.
var ErrUnknownPartyRequest = errors.New("unknown party request type")

// NewFrame returns a writer primed with the header.
func NewFrame(h Header) *packet.Writer {
	w := packet.NewWriter(64)
	w.WriteUint16(uint16(h))
	return w
}

// ReadHeader splits a frame into its header and a reader over the body.
func ReadHeader(frame []byte) (Header, *packet.Reader, error) {
	r := packet.NewReader(frame)
	op, err := r.ReadUint16()
	if err != nil {
		return 0, nil, fmt.Errorf("read header: %w", err)
	}
	return Header(op), r, nil
}

// WriteUserRecord encodes a UserRecord body.
func WriteUserRecord(w *packet.Writer, u model.UserRecord) {
	w.WriteInt(u.AccountID)
	w.WriteInt(u.CharacterID)
	w.WriteString(u.CharacterName)
	w.WriteInt(u.ChannelID)
	w.WriteInt(u.PartyID)
	w.WriteShort(u.Level)
	w.WriteShort(u.Job)
	w.WriteInt(u.FieldID)
	WriteTownPortal(w, u.TownPortal)
}

// ReadUserRecord decodes a UserRecord body.
func ReadUserRecord(r *packet.Reader) (model.UserRecord, error) {
	var (
		u   model.UserRecord
		err error
	)
	if u.AccountID, err = r.ReadInt(); err != nil {
		return u, fmt.Errorf("account id: %w", err)
	}
	if u.CharacterID, err = r.ReadInt(); err != nil {
		return u, fmt.Errorf("character id: %w", err)
	}
	if u.CharacterName, err = r.ReadString(); err != nil {
		return u, fmt.Errorf("character name: %w", err)
	}
	if u.ChannelID, err = r.ReadInt(); err != nil {
		return u, fmt.Errorf("channel id: %w", err)
	}
	if u.PartyID, err = r.ReadInt(); err != nil {
		return u, fmt.Errorf("party id: %w", err)
	}
	if u.Level, err = r.ReadShort(); err != nil {
		return u, fmt.Errorf("level: %w", err)
	}
	if u.Job, err = r.ReadShort(); err != nil {
		return u, fmt.Errorf("job: %w", err)
	}
	if u.FieldID, err = r.ReadInt(); err != nil {
		return u, fmt.Errorf("field id: %w", err)
	}
	if u.TownPortal, err = ReadTownPortal(r); err != nil {
		return u, err
	}
	return u, nil
}

// WriteTownPortal encodes a TownPortal.
func WriteTownPortal(w *packet.Writer, tp model.TownPortal) {
	w.WriteInt(tp.TownID)
	w.WriteInt(tp.FieldID)
	w.WriteShort(tp.X)
	w.WriteShort(tp.Y)
}

// ReadTownPortal decodes a TownPortal.
func ReadTownPortal(r *packet.Reader) (model.TownPortal, error) {
	var (
		tp  model.TownPortal
		err error
	)
	if tp.TownID, err = r.ReadInt(); err != nil {
		return tp, fmt.Errorf("town portal town: %w", err)
	}
	if tp.FieldID, err = r.ReadInt(); err != nil {
		return tp, fmt.Errorf("town portal field: %w", err)
	}
	if tp.X, err = r.ReadShort(); err != nil {
		return tp, fmt.Errorf("town portal x: %w", err)
	}
	if tp.Y, err = r.ReadShort(); err != nil {
		return tp, fmt.Errorf("town portal y: %w", err)
	}
	return tp, nil
}

// WriteMigrationInfo encodes a MigrationInfo body.
func WriteMigrationInfo(w *packet.Writer, mi model.MigrationInfo) {
	w.WriteInt(mi.AccountID)
	w.WriteInt(mi.CharacterID)
	w.WriteInt(mi.ChannelID)
	w.WriteBytes(mi.Fingerprint[:])
	w.WriteBytes(mi.SessionKey[:])
}

// ReadMigrationInfo decodes a MigrationInfo body.
func ReadMigrationInfo(r *packet.Reader) (model.MigrationInfo, error) {
	var (
		mi  model.MigrationInfo
		err error
	)
	if mi.AccountID, err = r.ReadInt(); err != nil {
		return mi, fmt.Errorf("account id: %w", err)
	}
	if mi.CharacterID, err = r.ReadInt(); err != nil {
		return mi, fmt.Errorf("character id: %w", err)
	}
	if mi.ChannelID, err = r.ReadInt(); err != nil {
		return mi, fmt.Errorf("channel id: %w", err)
	}
	if err = r.ReadInto(mi.Fingerprint[:]); err != nil {
		return mi, fmt.Errorf("fingerprint: %w", err)
	}
	if err = r.ReadInto(mi.SessionKey[:]); err != nil {
		return mi, fmt.Errorf("session key: %w", err)
	}
	return mi, nil
}

// WritePartyRequest encodes a PartyOp.
func WritePartyRequest(w *packet.Writer, req PartyOp) {
	w.WriteByte(byte(req.Type))
	switch req.Type {
	case JoinParty, KickParty, ChangePartyBoss:
		w.WriteInt(req.CharacterID)
	case InviteParty:
		w.WriteString(req.CharacterName)
	}
}

// ReadPartyRequest decodes a PartyOp.
func ReadPartyRequest(r *packet.Reader) (PartyOp, error) {
	var req PartyOp
	t, err := r.ReadByte()
	if err != nil {
		return req, fmt.Errorf("party request type: %w", err)
	}
	req.Type = PartyRequestType(t)

	switch req.Type {
	case LoadParty, CreateNewParty, WithdrawParty:
	case JoinParty, KickParty, ChangePartyBoss:
		if req.CharacterID, err = r.ReadInt(); err != nil {
			return req, fmt.Errorf("%s character id: %w", req.Type, err)
		}
	case InviteParty:
		if req.CharacterName, err = r.ReadString(); err != nil {
			return req, fmt.Errorf("%s character name: %w", req.Type, err)
		}
	default:
		return req, fmt.Errorf("%w: %d", ErrUnknownPartyRequest, t)
	}
	return req, nil
}
