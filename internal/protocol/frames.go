package protocol

import (
	"fmt"

	"github.com/rickgao/central/internal/model"
	"github.com/rickgao/central/internal/packet"
)

// -----------------------------------------------------------------------------
// Coordinator -> channel
// -----------------------------------------------------------------------------

// EncodeInitializeRequest asks a newly connected channel to identify itself.
func EncodeInitializeRequest() []byte {
	return NewFrame(InitializeRequest).Bytes()
}

// EncodeShutdownRequest asks a channel to shut down.
func EncodeShutdownRequest() []byte {
	return NewFrame(ShutdownRequest).Bytes()
}

// EncodeTransferResult answers a TransferRequest. A nil info encodes failure.
func EncodeTransferResult(requestID int32, info *model.TransferInfo) []byte {
	w := NewFrame(TransferResult)
	w.WriteInt(requestID)
	w.WriteBool(info != nil)
	if info != nil {
		w.WriteBytes(info.Host[:])
		w.WriteInt(info.Port)
	}
	return w.Bytes()
}

// EncodeMigrateResult answers a MigrateRequest. A nil info encodes failure.
func EncodeMigrateResult(requestID int32, info *model.MigrationInfo) []byte {
	w := NewFrame(MigrateResult)
	w.WriteInt(requestID)
	w.WriteBool(info != nil)
	if info != nil {
		WriteMigrationInfo(w, *info)
	}
	return w.Bytes()
}

// EncodeUserPacketReceive wraps an opaque client payload for delivery to one
// character on the receiving channel.
func EncodeUserPacketReceive(characterID int32, payload []byte) []byte {
	w := packet.NewWriter(10 + len(payload))
	w.WriteUint16(uint16(UserPacketReceive))
	w.WriteInt(characterID)
	w.WriteBlob(payload)
	return w.Bytes()
}

// EncodeUserPacketBroadcast wraps an opaque client payload tagged with the
// characters it is meant for. Receivers filter to the ids they host.
func EncodeUserPacketBroadcast(characterIDs []int32, payload []byte) []byte {
	w := packet.NewWriter(10 + 4*len(characterIDs) + len(payload))
	w.WriteUint16(uint16(UserPacketBroadcast))
	w.WriteInt(int32(len(characterIDs)))
	for _, id := range characterIDs {
		w.WriteInt(id)
	}
	w.WriteBlob(payload)
	return w.Bytes()
}

// EncodeUserQueryResult answers a UserQueryRequest.
func EncodeUserQueryResult(requestID int32, users []model.UserRecord) []byte {
	w := NewFrame(UserQueryResult)
	w.WriteInt(requestID)
	w.WriteInt(int32(len(users)))
	for _, u := range users {
		WriteUserRecord(w, u)
	}
	return w.Bytes()
}

// EncodePartyResult tells a channel a character's party id and member index.
func EncodePartyResult(characterID, partyID, memberIndex int32) []byte {
	w := NewFrame(PartyResult)
	w.WriteInt(characterID)
	w.WriteInt(partyID)
	w.WriteInt(memberIndex)
	return w.Bytes()
}

// -----------------------------------------------------------------------------
// Channel -> coordinator
// -----------------------------------------------------------------------------

// EncodeInitializeResult identifies a channel to the coordinator.
func EncodeInitializeResult(channelID int32, host [4]byte, port int32) []byte {
	w := NewFrame(InitializeResult)
	w.WriteInt(channelID)
	w.WriteBytes(host[:])
	w.WriteInt(port)
	return w.Bytes()
}

// EncodeShutdownResult acknowledges a ShutdownRequest.
func EncodeShutdownResult(channelID int32, success bool) []byte {
	w := NewFrame(ShutdownResult)
	w.WriteInt(channelID)
	w.WriteBool(success)
	return w.Bytes()
}

// EncodeTransferRequest asks the coordinator to stage a migration.
func EncodeTransferRequest(requestID int32, info model.MigrationInfo) []byte {
	w := NewFrame(TransferRequest)
	w.WriteInt(requestID)
	WriteMigrationInfo(w, info)
	return w.Bytes()
}

// EncodeMigrateRequest asks the coordinator to complete a staged migration.
func EncodeMigrateRequest(requestID, accountID, characterID int32, fp model.Fingerprint, key model.SessionKey) []byte {
	w := NewFrame(MigrateRequest)
	w.WriteInt(requestID)
	w.WriteInt(accountID)
	w.WriteInt(characterID)
	w.WriteBytes(fp[:])
	w.WriteBytes(key[:])
	return w.Bytes()
}

// EncodeUser builds a UserConnect, UserUpdate or UserDisconnect frame.
func EncodeUser(h Header, u model.UserRecord) []byte {
	w := NewFrame(h)
	WriteUserRecord(w, u)
	return w.Bytes()
}

// EncodeUserPacketRequest relays a payload to a character by name.
func EncodeUserPacketRequest(characterName string, payload []byte) []byte {
	w := NewFrame(UserPacketRequest)
	w.WriteString(characterName)
	w.WriteBlob(payload)
	return w.Bytes()
}

// EncodeUserQueryRequest asks for the records of several characters.
func EncodeUserQueryRequest(requestID int32, names []string) []byte {
	w := NewFrame(UserQueryRequest)
	w.WriteInt(requestID)
	w.WriteInt(int32(len(names)))
	for _, name := range names {
		w.WriteString(name)
	}
	return w.Bytes()
}

// EncodePartyRequest carries a party operation on behalf of a character.
func EncodePartyRequest(characterID int32, req PartyOp) []byte {
	w := NewFrame(PartyRequest)
	w.WriteInt(characterID)
	WritePartyRequest(w, req)
	return w.Bytes()
}

// -----------------------------------------------------------------------------
// Result decoders (channel side)
// -----------------------------------------------------------------------------

// ReadTransferResult decodes a TransferResult body. info is nil on failure.
func ReadTransferResult(r *packet.Reader) (requestID int32, info *model.TransferInfo, err error) {
	if requestID, err = r.ReadInt(); err != nil {
		return 0, nil, fmt.Errorf("request id: %w", err)
	}
	ok, err := r.ReadBool()
	if err != nil || !ok {
		return requestID, nil, err
	}
	var ti model.TransferInfo
	if err = r.ReadInto(ti.Host[:]); err != nil {
		return requestID, nil, fmt.Errorf("host: %w", err)
	}
	if ti.Port, err = r.ReadInt(); err != nil {
		return requestID, nil, fmt.Errorf("port: %w", err)
	}
	return requestID, &ti, nil
}

// ReadMigrateResult decodes a MigrateResult body. info is nil on failure.
func ReadMigrateResult(r *packet.Reader) (requestID int32, info *model.MigrationInfo, err error) {
	if requestID, err = r.ReadInt(); err != nil {
		return 0, nil, fmt.Errorf("request id: %w", err)
	}
	ok, err := r.ReadBool()
	if err != nil || !ok {
		return requestID, nil, err
	}
	mi, err := ReadMigrationInfo(r)
	if err != nil {
		return requestID, nil, err
	}
	return requestID, &mi, nil
}

// ReadPartyResult decodes a PartyResult body.
func ReadPartyResult(r *packet.Reader) (characterID, partyID, memberIndex int32, err error) {
	if characterID, err = r.ReadInt(); err != nil {
		return
	}
	if partyID, err = r.ReadInt(); err != nil {
		return
	}
	memberIndex, err = r.ReadInt()
	return
}

// ReadUserQueryResult decodes a UserQueryResult body.
func ReadUserQueryResult(r *packet.Reader) (int32, []model.UserRecord, error) {
	requestID, err := r.ReadInt()
	if err != nil {
		return 0, nil, fmt.Errorf("request id: %w", err)
	}
	count, err := ReadCount(r)
	if err != nil {
		return requestID, nil, err
	}
	users := make([]model.UserRecord, 0, count)
	for i := 0; i < count; i++ {
		u, err := ReadUserRecord(r)
		if err != nil {
			return requestID, nil, fmt.Errorf("user %d: %w", i, err)
		}
		users = append(users, u)
	}
	return requestID, users, nil
}

// ReadUserPacketBroadcast decodes a UserPacketBroadcast body.
func ReadUserPacketBroadcast(r *packet.Reader) ([]int32, []byte, error) {
	count, err := ReadCount(r)
	if err != nil {
		return nil, nil, err
	}
	ids := make([]int32, 0, count)
	for i := 0; i < count; i++ {
		id, err := r.ReadInt()
		if err != nil {
			return nil, nil, fmt.Errorf("character id %d: %w", i, err)
		}
		ids = append(ids, id)
	}
	payload, err := r.ReadBlob()
	if err != nil {
		return nil, nil, fmt.Errorf("payload: %w", err)
	}
	return ids, payload, nil
}

// ReadCount reads an int32 element count, rejecting values that cannot fit
// in the remaining frame (every element is at least 1 byte).
func ReadCount(r *packet.Reader) (int, error) {
	n, err := r.ReadInt()
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	if n < 0 || int(n) > r.Remaining() {
		return 0, fmt.Errorf("count %d: %w", n, packet.ErrInvalidSize)
	}
	return int(n), nil
}
