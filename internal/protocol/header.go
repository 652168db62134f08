package protocol

import "fmt"

// Header is the opcode that prefixes every coordinator frame.
type Header uint16

const (
	InitializeRequest Header = iota + 1
	InitializeResult
	ShutdownRequest
	ShutdownResult
	MigrateRequest
	MigrateResult
	TransferRequest
	TransferResult
	UserConnect
	UserUpdate
	UserDisconnect
	UserPacketRequest
	UserPacketReceive
	UserPacketBroadcast
	UserQueryRequest
	UserQueryResult
	PartyRequest
	PartyResult
)

var headerNames = map[Header]string{
	InitializeRequest:   "InitializeRequest",
	InitializeResult:    "InitializeResult",
	ShutdownRequest:     "ShutdownRequest",
	ShutdownResult:      "ShutdownResult",
	MigrateRequest:      "MigrateRequest",
	MigrateResult:       "MigrateResult",
	TransferRequest:     "TransferRequest",
	TransferResult:      "TransferResult",
	UserConnect:         "UserConnect",
	UserUpdate:          "UserUpdate",
	UserDisconnect:      "UserDisconnect",
	UserPacketRequest:   "UserPacketRequest",
	UserPacketReceive:   "UserPacketReceive",
	UserPacketBroadcast: "UserPacketBroadcast",
	UserQueryRequest:    "UserQueryRequest",
	UserQueryResult:     "UserQueryResult",
	PartyRequest:        "PartyRequest",
	PartyResult:         "PartyResult",
}

// String returns the header name, or its hex value when unknown.
func (h Header) String() string {
	if name, ok := headerNames[h]; ok {
		return name
	}
	return fmt.Sprintf("Header(0x%04X)", uint16(h))
}

// Known reports whether h is a defined header.
func (h Header) Known() bool {
	_, ok := headerNames[h]
	return ok
}

// PartyRequestType selects the PartyRequest variant.
type PartyRequestType byte

const (
	LoadParty PartyRequestType = iota
	CreateNewParty
	WithdrawParty
	JoinParty
	InviteParty
	KickParty
	ChangePartyBoss
)

func (t PartyRequestType) String() string {
	switch t {
	case LoadParty:
		return "LoadParty"
	case CreateNewParty:
		return "CreateNewParty"
	case WithdrawParty:
		return "WithdrawParty"
	case JoinParty:
		return "JoinParty"
	case InviteParty:
		return "InviteParty"
	case KickParty:
		return "KickParty"
	case ChangePartyBoss:
		return "ChangePartyBoss"
	default:
		return fmt.Sprintf("PartyRequestType(%d)", byte(t))
	}
}

// PartyOp is the decoded variant carried by a PartyRequest frame.
type PartyOp struct {
	Type          PartyRequestType
	CharacterID   int32  // Inviter (JoinParty) or target (KickParty, ChangePartyBoss)
	CharacterName string // Target (InviteParty)
}
