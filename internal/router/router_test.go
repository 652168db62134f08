package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/central/internal/connection"
	"github.com/rickgao/central/internal/migration"
	"github.com/rickgao/central/internal/model"
	"github.com/rickgao/central/internal/node"
	"github.com/rickgao/central/internal/packet"
	"github.com/rickgao/central/internal/party"
	"github.com/rickgao/central/internal/protocol"
	"github.com/rickgao/central/internal/relay"
	"github.com/rickgao/central/internal/user"
)

type fakePeer struct {
	id     string
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (p *fakePeer) ID() string         { return p.id }
func (p *fakePeer) RemoteAddr() string { return "127.0.0.1:0" }

func (p *fakePeer) Send(frame []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return connection.ErrAlreadyClosed
	}
	p.frames = append(p.frames, frame)
	return nil
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// take returns and clears the recorded frames.
func (p *fakePeer) take() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.frames
	p.frames = nil
	return out
}

// only returns the bodies of recorded frames with header h.
func (p *fakePeer) only(t *testing.T, h protocol.Header) []*packet.Reader {
	t.Helper()
	var out []*packet.Reader
	for _, f := range p.take() {
		got, body, err := protocol.ReadHeader(f)
		if err != nil {
			t.Fatalf("ReadHeader() error = %v", err)
		}
		if got == h {
			out = append(out, body)
		}
	}
	return out
}

type fixture struct {
	router     *Router
	nodes      *node.Registry
	users      *user.Registry
	migrations *migration.Coordinator
	parties    *party.Coordinator
}

func newFixture() *fixture {
	f := &fixture{
		nodes: node.NewRegistry(nil),
		users: user.NewRegistry(nil),
	}
	f.migrations = migration.New(migration.DefaultConfig(), nil, nil)
	f.parties = party.New(party.DefaultConfig(), f.users, f.nodes, nil, nil)
	f.router = New(Deps{
		Nodes:      f.nodes,
		Users:      f.users,
		Migrations: f.migrations,
		Parties:    f.parties,
		Relay:      relay.New(f.users, f.nodes, nil),
	}, nil)
	return f
}

// channel opens a session and completes the initialize handshake.
func (f *fixture) channel(t *testing.T, id int32) (*fakePeer, connection.Session) {
	t.Helper()
	p := &fakePeer{id: fmt.Sprintf("conn-%d", id)}
	s := f.router.Open(p)

	if got := p.only(t, protocol.InitializeRequest); len(got) != 1 {
		t.Fatalf("InitializeRequest frames = %d, want 1", len(got))
	}
	s.HandleFrame(protocol.EncodeInitializeResult(id, [4]byte{127, 0, 0, 1}, 7575+id))
	if _, ok := f.nodes.Lookup(id); !ok {
		t.Fatalf("channel %d not registered", id)
	}
	return p, s
}

func userRecord(id int32, name string, channel int32) model.UserRecord {
	return model.UserRecord{AccountID: id + 1000, CharacterID: id, CharacterName: name, ChannelID: channel}
}

func TestRouter_RejectsFramesBeforeInitialize(t *testing.T) {
	f := newFixture()
	p := &fakePeer{id: "early"}
	s := f.router.Open(p)

	s.HandleFrame(protocol.EncodeUser(protocol.UserConnect, userRecord(1, "a", 0)))

	if f.users.Len() != 0 {
		t.Errorf("users.Len() = %d, want 0", f.users.Len())
	}
	if got := f.router.Stats().RejectedFrames; got != 1 {
		t.Errorf("RejectedFrames = %d, want 1", got)
	}
}

func TestRouter_UnknownOpcodeKeepsConnection(t *testing.T) {
	f := newFixture()
	p, s := f.channel(t, 0)

	s.HandleFrame([]byte{0xFF, 0x7F, 1, 2, 3})
	s.HandleFrame([]byte{0x01}) // shorter than an opcode
	s.HandleFrame(protocol.EncodeUser(protocol.UserConnect, userRecord(1, "a", 0)))

	if p.isClosed() {
		t.Error("connection closed after unknown opcode")
	}
	if _, ok := f.users.ByID(1); !ok {
		t.Error("frame after unknown opcode was not handled")
	}
	stats := f.router.Stats()
	if stats.UnknownFrames != 1 {
		t.Errorf("UnknownFrames = %d, want 1", stats.UnknownFrames)
	}
	if stats.HandlerErrors != 1 {
		t.Errorf("HandlerErrors = %d, want 1", stats.HandlerErrors)
	}
}

func TestRouter_DuplicateChannelClosesConnection(t *testing.T) {
	f := newFixture()
	first, _ := f.channel(t, 1)

	second := &fakePeer{id: "dup"}
	s := f.router.Open(second)
	s.HandleFrame(protocol.EncodeInitializeResult(1, [4]byte{10, 0, 0, 9}, 9999))

	if !second.isClosed() {
		t.Error("duplicate channel connection not closed")
	}
	if first.isClosed() {
		t.Error("original channel connection closed")
	}
	n, _ := f.nodes.Lookup(1)
	if n.Port != 7576 {
		t.Errorf("registered port = %d, want 7576 (original)", n.Port)
	}

	// The rejected session's close must not evict the original.
	s.Close()
	if _, ok := f.nodes.Lookup(1); !ok {
		t.Error("original channel evicted")
	}
}

func TestRouter_SessionCloseUnregisters(t *testing.T) {
	f := newFixture()
	_, s := f.channel(t, 2)
	f.users.Connect(userRecord(1, "a", 2))

	s.Close()

	if _, ok := f.nodes.Lookup(2); ok {
		t.Error("channel still registered after disconnect")
	}
	if _, ok := f.users.ByID(1); !ok {
		t.Error("users must not be touched by channel removal")
	}
}

func TestRouter_TransferAndMigrate(t *testing.T) {
	f := newFixture()
	src, srcSession := f.channel(t, 0)
	dst, dstSession := f.channel(t, 1)

	info := model.MigrationInfo{
		AccountID:   1001,
		CharacterID: 1,
		ChannelID:   1,
		Fingerprint: model.Fingerprint{1},
		SessionKey:  model.SessionKey{2},
	}

	srcSession.HandleFrame(protocol.EncodeTransferRequest(10, info))
	results := src.only(t, protocol.TransferResult)
	if len(results) != 1 {
		t.Fatalf("TransferResult frames = %d, want 1", len(results))
	}
	id, ti, err := protocol.ReadTransferResult(results[0])
	if err != nil || id != 10 || ti == nil {
		t.Fatalf("TransferResult = %d, %+v, %v", id, ti, err)
	}
	if ti.Port != 7576 || ti.Host != [4]byte{127, 0, 0, 1} {
		t.Errorf("TransferInfo = %+v, want channel 1 address", ti)
	}

	// A second transfer for the same character fails.
	srcSession.HandleFrame(protocol.EncodeTransferRequest(11, info))
	_, ti, _ = protocol.ReadTransferResult(src.only(t, protocol.TransferResult)[0])
	if ti != nil {
		t.Error("duplicate TransferRequest succeeded")
	}

	migrate := protocol.EncodeMigrateRequest(20, info.AccountID, info.CharacterID, info.Fingerprint, info.SessionKey)
	dstSession.HandleFrame(migrate)
	_, mi, err := protocol.ReadMigrateResult(dst.only(t, protocol.MigrateResult)[0])
	if err != nil || mi == nil || *mi != info {
		t.Fatalf("MigrateResult = %+v, %v; want %+v", mi, err, info)
	}

	dstSession.HandleFrame(migrate)
	_, mi, _ = protocol.ReadMigrateResult(dst.only(t, protocol.MigrateResult)[0])
	if mi != nil {
		t.Error("migration completed twice")
	}
}

func TestRouter_TransferToUnknownChannel(t *testing.T) {
	f := newFixture()
	src, s := f.channel(t, 0)

	s.HandleFrame(protocol.EncodeTransferRequest(5, model.MigrationInfo{AccountID: 1, CharacterID: 1, ChannelID: 9}))
	_, ti, _ := protocol.ReadTransferResult(src.only(t, protocol.TransferResult)[0])
	if ti != nil {
		t.Error("transfer to unknown channel succeeded")
	}
	if f.migrations.Len() != 0 {
		t.Errorf("migrations.Len() = %d, want 0", f.migrations.Len())
	}
}

func TestRouter_TruncatedFrameSendsOwedReply(t *testing.T) {
	f := newFixture()
	p, s := f.channel(t, 0)

	w := protocol.NewFrame(protocol.MigrateRequest)
	w.WriteInt(33)
	w.WriteInt(1) // account id, then nothing
	s.HandleFrame(w.Bytes())

	results := p.only(t, protocol.MigrateResult)
	if len(results) != 1 {
		t.Fatalf("MigrateResult frames = %d, want 1", len(results))
	}
	id, mi, err := protocol.ReadMigrateResult(results[0])
	if err != nil || id != 33 || mi != nil {
		t.Errorf("owed reply = %d, %+v, %v; want 33, nil", id, mi, err)
	}
}

func TestRouter_PanicSendsOwedReply(t *testing.T) {
	f := newFixture()
	f.router.handlers[protocol.UserQueryRequest] = handlerEntry{fn: func(s *session, c *Context) error {
		c.Owe(protocol.EncodeUserQueryResult(7, nil))
		panic("boom")
	}}
	p, s := f.channel(t, 0)

	s.HandleFrame(protocol.EncodeUserQueryRequest(7, []string{"a"}))
	s.HandleFrame(protocol.EncodeUser(protocol.UserConnect, userRecord(1, "a", 0)))

	results := p.only(t, protocol.UserQueryResult)
	if len(results) != 1 {
		t.Fatalf("UserQueryResult frames = %d, want 1", len(results))
	}
	if id, users, _ := protocol.ReadUserQueryResult(results[0]); id != 7 || len(users) != 0 {
		t.Errorf("owed reply = %d, %d users; want 7, 0", id, len(users))
	}
	if f.router.Stats().Panics != 1 {
		t.Errorf("Panics = %d, want 1", f.router.Stats().Panics)
	}
	if _, ok := f.users.ByID(1); !ok {
		t.Error("dispatcher stopped handling frames after panic")
	}
}

func TestRouter_UserQuery(t *testing.T) {
	f := newFixture()
	p, s := f.channel(t, 0)
	s.HandleFrame(protocol.EncodeUser(protocol.UserConnect, userRecord(1, "Aria", 0)))
	s.HandleFrame(protocol.EncodeUser(protocol.UserConnect, userRecord(2, "Bex", 0)))

	s.HandleFrame(protocol.EncodeUserQueryRequest(3, []string{"aria", "nobody"}))
	id, users, err := protocol.ReadUserQueryResult(p.only(t, protocol.UserQueryResult)[0])
	if err != nil || id != 3 || len(users) != 1 || users[0].CharacterID != 1 {
		t.Errorf("UserQueryResult = %d, %+v, %v", id, users, err)
	}
}

func TestRouter_DisconnectMidMigrationKeepsLocation(t *testing.T) {
	f := newFixture()
	_, s := f.channel(t, 0)
	f.channel(t, 1)

	u := userRecord(1, "a", 0)
	s.HandleFrame(protocol.EncodeUser(protocol.UserConnect, u))
	s.HandleFrame(protocol.EncodeTransferRequest(1, model.MigrationInfo{AccountID: u.AccountID, CharacterID: 1, ChannelID: 1}))
	s.HandleFrame(protocol.EncodeUser(protocol.UserDisconnect, u))

	got, ok := f.users.ByID(1)
	if !ok || got.ChannelID != 0 {
		t.Errorf("record = %+v, %v; want retained on channel 0", got, ok)
	}

	v := userRecord(2, "b", 0)
	s.HandleFrame(protocol.EncodeUser(protocol.UserConnect, v))
	s.HandleFrame(protocol.EncodeUser(protocol.UserDisconnect, v))
	if _, ok := f.users.ByID(2); ok {
		t.Error("non-migrating user not removed on disconnect")
	}
}

func TestRouter_AbandonedMigrationTakesUserOffline(t *testing.T) {
	f := newFixture()
	_, s := f.channel(t, 0)
	f.channel(t, 1)

	a := userRecord(1, "a", 0)
	b := userRecord(2, "b", 0)
	s.HandleFrame(protocol.EncodeUser(protocol.UserConnect, a))
	s.HandleFrame(protocol.EncodeUser(protocol.UserConnect, b))
	s.HandleFrame(protocol.EncodePartyRequest(1, protocol.PartyOp{Type: protocol.CreateNewParty}))
	s.HandleFrame(protocol.EncodePartyRequest(2, protocol.PartyOp{Type: protocol.JoinParty, CharacterID: 1}))

	s.HandleFrame(protocol.EncodeTransferRequest(1, model.MigrationInfo{AccountID: b.AccountID, CharacterID: 2, ChannelID: 1}))
	s.HandleFrame(protocol.EncodeUser(protocol.UserDisconnect, b))
	if _, ok := f.users.ByID(2); !ok {
		t.Fatal("record dropped while migration pending")
	}

	if n := f.migrations.Sweep(time.Now().Add(time.Hour)); n != 1 {
		t.Fatalf("Sweep() = %d, want 1", n)
	}
	if _, ok := f.users.ByID(2); ok {
		t.Error("user still online after migration expired")
	}
	pt, ok := f.parties.ByCharacterID(1)
	if !ok {
		t.Fatal("party missing")
	}
	if m := pt.Members()[1]; m.CharacterID != 2 || m.ChannelID != model.ChannelOffline {
		t.Errorf("member = %+v, want character 2 offline", m)
	}
}

func TestRouter_AbandonedMigrationKeepsReconnectedUser(t *testing.T) {
	f := newFixture()
	_, src := f.channel(t, 0)
	_, dst := f.channel(t, 1)

	u := userRecord(1, "a", 0)
	src.HandleFrame(protocol.EncodeUser(protocol.UserConnect, u))
	src.HandleFrame(protocol.EncodeTransferRequest(1, model.MigrationInfo{AccountID: u.AccountID, CharacterID: 1, ChannelID: 1}))
	src.HandleFrame(protocol.EncodeUser(protocol.UserDisconnect, u))

	// Logged in on channel 1 without consuming the migration.
	dst.HandleFrame(protocol.EncodeUser(protocol.UserConnect, userRecord(1, "a", 1)))

	f.migrations.Sweep(time.Now().Add(time.Hour))
	got, ok := f.users.ByID(1)
	if !ok || got.ChannelID != 1 {
		t.Errorf("record = %+v, %v; want kept on channel 1", got, ok)
	}
}

func TestRouter_ConcurrentUpdateAndKickKeepPartyIDInSync(t *testing.T) {
	for round := 0; round < 20; round++ {
		f := newFixture()
		_, a := f.channel(t, 0)
		_, b := f.channel(t, 1)
		a.HandleFrame(protocol.EncodeUser(protocol.UserConnect, userRecord(1, "a", 0)))
		b.HandleFrame(protocol.EncodeUser(protocol.UserConnect, userRecord(2, "b", 1)))
		a.HandleFrame(protocol.EncodePartyRequest(1, protocol.PartyOp{Type: protocol.CreateNewParty}))
		b.HandleFrame(protocol.EncodePartyRequest(2, protocol.PartyOp{Type: protocol.JoinParty, CharacterID: 1}))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				b.HandleFrame(protocol.EncodeUser(protocol.UserUpdate, userRecord(2, "b", 1)))
			}
		}()
		go func() {
			defer wg.Done()
			a.HandleFrame(protocol.EncodePartyRequest(1, protocol.PartyOp{Type: protocol.KickParty, CharacterID: 2}))
		}()
		wg.Wait()

		u, _ := f.users.ByID(2)
		if u.PartyID != 0 || f.parties.PartyIDOf(2) != 0 {
			t.Fatalf("round %d: record PartyID = %d, index = %d; want both 0", round, u.PartyID, f.parties.PartyIDOf(2))
		}
	}
}

func TestRouter_DisconnectShowsMemberOffline(t *testing.T) {
	f := newFixture()
	p, s := f.channel(t, 0)
	s.HandleFrame(protocol.EncodeUser(protocol.UserConnect, userRecord(1, "a", 0)))
	s.HandleFrame(protocol.EncodeUser(protocol.UserConnect, userRecord(2, "b", 0)))
	s.HandleFrame(protocol.EncodePartyRequest(1, protocol.PartyOp{Type: protocol.CreateNewParty}))
	s.HandleFrame(protocol.EncodePartyRequest(2, protocol.PartyOp{Type: protocol.JoinParty, CharacterID: 1}))
	p.take()

	s.HandleFrame(protocol.EncodeUser(protocol.UserDisconnect, userRecord(2, "b", 0)))

	pt, ok := f.parties.ByCharacterID(1)
	if !ok {
		t.Fatal("party missing")
	}
	if m := pt.Members()[1]; m.ChannelID != model.ChannelOffline {
		t.Errorf("member channel = %d, want offline", m.ChannelID)
	}
	// The remaining online member is sent the refreshed state.
	if got := p.only(t, protocol.UserPacketReceive); len(got) != 1 {
		t.Errorf("UserPacketReceive frames = %d, want 1", len(got))
	}
}

func TestRouter_ReconnectRestoresPartyID(t *testing.T) {
	f := newFixture()
	_, s := f.channel(t, 0)
	s.HandleFrame(protocol.EncodeUser(protocol.UserConnect, userRecord(1, "a", 0)))
	s.HandleFrame(protocol.EncodePartyRequest(1, protocol.PartyOp{Type: protocol.CreateNewParty}))
	s.HandleFrame(protocol.EncodeUser(protocol.UserDisconnect, userRecord(1, "a", 0)))

	// The channel does not know the party id on reconnect.
	s.HandleFrame(protocol.EncodeUser(protocol.UserConnect, userRecord(1, "a", 0)))
	u, _ := f.users.ByID(1)
	if u.PartyID == 0 || u.PartyID != f.parties.PartyIDOf(1) {
		t.Errorf("PartyID = %d, want %d", u.PartyID, f.parties.PartyIDOf(1))
	}
}

func TestRouter_BroadcastReachesAllChannels(t *testing.T) {
	f := newFixture()
	peers := make([]*fakePeer, 3)
	var sessions []connection.Session
	for i := range peers {
		p, s := f.channel(t, int32(i))
		peers[i] = p
		sessions = append(sessions, s)
	}

	sessions[0].HandleFrame(protocol.EncodeUserPacketBroadcast([]int32{1, 2}, []byte{9}))

	for i, p := range peers {
		if got := p.only(t, protocol.UserPacketBroadcast); len(got) != 1 {
			t.Errorf("channel %d broadcast frames = %d, want 1", i, len(got))
		}
	}
}

func TestRouter_UserPacketRelay(t *testing.T) {
	f := newFixture()
	_, a := f.channel(t, 0)
	bPeer, b := f.channel(t, 1)
	b.HandleFrame(protocol.EncodeUser(protocol.UserConnect, userRecord(5, "Target", 1)))

	a.HandleFrame(protocol.EncodeUserPacketRequest("target", []byte("hello")))
	a.HandleFrame(protocol.EncodeUserPacketReceive(5, []byte("again")))

	got := bPeer.only(t, protocol.UserPacketReceive)
	if len(got) != 2 {
		t.Fatalf("UserPacketReceive frames = %d, want 2", len(got))
	}
	id, _ := got[0].ReadInt()
	payload, _ := got[0].ReadBlob()
	if id != 5 || string(payload) != "hello" {
		t.Errorf("relayed = %d %q, want 5 hello", id, payload)
	}
}

func TestRouter_PartyRequestUnknownUser(t *testing.T) {
	f := newFixture()
	p, s := f.channel(t, 0)

	s.HandleFrame(protocol.EncodePartyRequest(42, protocol.PartyOp{Type: protocol.CreateNewParty}))

	if len(p.take()) != 0 {
		t.Error("unexpected reply for unknown requester")
	}
	if f.router.Stats().HandlerErrors != 1 {
		t.Errorf("HandlerErrors = %d, want 1", f.router.Stats().HandlerErrors)
	}
}

func TestRouter_Shutdown(t *testing.T) {
	f := newFixture()
	p0, s0 := f.channel(t, 0)
	p1, s1 := f.channel(t, 1)

	if n := f.router.RequestShutdown(); n != 2 {
		t.Errorf("RequestShutdown() = %d, want 2", n)
	}
	if len(p0.only(t, protocol.ShutdownRequest)) != 1 || len(p1.only(t, protocol.ShutdownRequest)) != 1 {
		t.Fatal("ShutdownRequest not sent to every channel")
	}

	// A failed shutdown is re-requested.
	s0.HandleFrame(protocol.EncodeShutdownResult(0, false))
	if len(p0.only(t, protocol.ShutdownRequest)) != 1 {
		t.Error("ShutdownRequest not re-sent after failure")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := f.router.AwaitChannels(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("AwaitChannels() error = %v, want deadline exceeded", err)
	}

	s0.HandleFrame(protocol.EncodeShutdownResult(0, true))
	s1.HandleFrame(protocol.EncodeShutdownResult(1, true))

	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	if err := f.router.AwaitChannels(ctx2); err != nil {
		t.Errorf("AwaitChannels() error = %v", err)
	}
}

func TestLogLevel(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("x: %w", party.ErrInconsistent), "ERROR"},
		{fmt.Errorf("x: %w", packet.ErrShortRead), "WARN"},
		{fmt.Errorf("x: %w", party.ErrPartyFull), "DEBUG"},
	}
	for _, tt := range tests {
		if got := logLevel(tt.err).String(); got != tt.want {
			t.Errorf("logLevel(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
