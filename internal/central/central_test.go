package central

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/central/internal/config"
	"github.com/rickgao/central/internal/connection"
	"github.com/rickgao/central/internal/model"
	"github.com/rickgao/central/internal/packet"
	"github.com/rickgao/central/internal/protocol"
)

// harness runs a started Central behind an httptest server.
type harness struct {
	t   *testing.T
	c   *Central
	url string
}

func newHarness(t *testing.T, cfg *config.CentralConfig, opts ...Option) *harness {
	t.Helper()
	c := New(cfg, nil, opts...)
	require.NoError(t, c.Start(context.Background()))

	srv := httptest.NewServer(c.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, c.Stop(ctx))
		srv.Close()
	})
	return &harness{t: t, c: c, url: "ws" + strings.TrimPrefix(srv.URL, "http")}
}

// channel dials the coordinator and completes the initialize handshake.
func (h *harness) channel(id int32) *connection.Client {
	h.t.Helper()
	cl := connection.NewClient(connection.ClientConfig{
		URL:          h.url,
		PingInterval: time.Second,
		PingTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   64,
	}, nil)
	require.NoError(h.t, cl.Connect(context.Background()))
	h.t.Cleanup(func() { _ = cl.Close() })

	expect(h.t, cl, protocol.InitializeRequest)
	want := h.c.Channels() + 1
	require.NoError(h.t, cl.Send(protocol.EncodeInitializeResult(id, [4]byte{127, 0, 0, 1}, 8585+id)))
	require.Eventually(h.t, func() bool { return h.c.Channels() == want }, 2*time.Second, 5*time.Millisecond)
	return cl
}

// next returns the body of the next frame with header want, skipping
// others.
func next(cl *connection.Client, want protocol.Header) (*packet.Reader, error) {
	timeout := time.After(2 * time.Second)
	for {
		select {
		case f := <-cl.Frames():
			h, body, err := protocol.ReadHeader(f.Data)
			if err != nil {
				return nil, err
			}
			if h == want {
				return body, nil
			}
		case <-timeout:
			return nil, fmt.Errorf("timed out waiting for %s", want)
		}
	}
}

func expect(t *testing.T, cl *connection.Client, want protocol.Header) *packet.Reader {
	t.Helper()
	body, err := next(cl, want)
	require.NoError(t, err)
	return body
}

func TestCentral_TransferAndMigrate(t *testing.T) {
	h := newHarness(t, config.Default("test"))
	src := h.channel(0)
	dst := h.channel(1)

	u := model.UserRecord{AccountID: 100, CharacterID: 1, CharacterName: "Aria", ChannelID: 0}
	require.NoError(t, src.Send(protocol.EncodeUser(protocol.UserConnect, u)))

	info := model.MigrationInfo{AccountID: 100, CharacterID: 1, ChannelID: 1, Fingerprint: model.Fingerprint{7}, SessionKey: model.SessionKey{9}}
	require.NoError(t, src.Send(protocol.EncodeTransferRequest(5, info)))
	reqID, ti, err := protocol.ReadTransferResult(expect(t, src, protocol.TransferResult))
	require.NoError(t, err)
	assert.Equal(t, int32(5), reqID)
	require.NotNil(t, ti)
	assert.Equal(t, int32(8586), ti.Port)
	assert.Equal(t, 1, h.c.PendingMigrations())

	// The old channel drops the player; the record survives the hand-off.
	require.NoError(t, src.Send(protocol.EncodeUser(protocol.UserDisconnect, u)))
	// Frames on one connection are handled in order; a round trip on src
	// ensures the disconnect was seen before the migration completes.
	require.NoError(t, src.Send(protocol.EncodeUserQueryRequest(1, nil)))
	expect(t, src, protocol.UserQueryResult)

	require.NoError(t, dst.Send(protocol.EncodeMigrateRequest(6, 100, 1, info.Fingerprint, info.SessionKey)))
	_, mi, err := protocol.ReadMigrateResult(expect(t, dst, protocol.MigrateResult))
	require.NoError(t, err)
	require.NotNil(t, mi)
	assert.Equal(t, info, *mi)
	assert.Equal(t, 0, h.c.PendingMigrations())
	assert.Equal(t, 1, h.c.Users())

	u.ChannelID = 1
	require.NoError(t, dst.Send(protocol.EncodeUser(protocol.UserConnect, u)))

	require.NoError(t, dst.Send(protocol.EncodeUserQueryRequest(7, []string{"aria"})))
	_, users, err := protocol.ReadUserQueryResult(expect(t, dst, protocol.UserQueryResult))
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, int32(1), users[0].ChannelID)
}

func TestCentral_PartyAcrossChannels(t *testing.T) {
	h := newHarness(t, config.Default("test"))
	a := h.channel(0)
	b := h.channel(1)

	require.NoError(t, a.Send(protocol.EncodeUser(protocol.UserConnect, model.UserRecord{AccountID: 1, CharacterID: 10, CharacterName: "Boss", ChannelID: 0})))
	require.NoError(t, b.Send(protocol.EncodeUser(protocol.UserConnect, model.UserRecord{AccountID: 2, CharacterID: 20, CharacterName: "Member", ChannelID: 1})))

	require.NoError(t, a.Send(protocol.EncodePartyRequest(10, protocol.PartyOp{Type: protocol.CreateNewParty})))
	charID, partyID, idx, err := protocol.ReadPartyResult(expect(t, a, protocol.PartyResult))
	require.NoError(t, err)
	assert.Equal(t, int32(10), charID)
	assert.NotZero(t, partyID)
	assert.Equal(t, int32(0), idx)

	require.NoError(t, b.Send(protocol.EncodePartyRequest(20, protocol.PartyOp{Type: protocol.JoinParty, CharacterID: 10})))
	charID, joined, idx, err := protocol.ReadPartyResult(expect(t, b, protocol.PartyResult))
	require.NoError(t, err)
	assert.Equal(t, int32(20), charID)
	assert.Equal(t, partyID, joined)
	assert.Equal(t, int32(1), idx)

	// The boss hears about the join on the other channel.
	id, err := expect(t, a, protocol.UserPacketReceive).ReadInt()
	require.NoError(t, err)
	assert.Equal(t, int32(10), id)
	assert.Equal(t, 1, h.c.Parties())
}

func TestCentral_Shutdown(t *testing.T) {
	h := newHarness(t, config.Default("test"))
	clients := []*connection.Client{h.channel(0), h.channel(1)}

	var wg sync.WaitGroup
	for i, cl := range clients {
		wg.Add(1)
		go func(id int32, cl *connection.Client) {
			defer wg.Done()
			if _, err := next(cl, protocol.ShutdownRequest); err != nil {
				t.Errorf("channel %d: %v", id, err)
				return
			}
			if err := cl.Send(protocol.EncodeShutdownResult(id, true)); err != nil {
				t.Errorf("channel %d: %v", id, err)
			}
		}(int32(i), cl)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, h.c.Shutdown(ctx))
	wg.Wait()
	assert.Equal(t, 0, h.c.Channels())
}

func TestCentral_ShutdownTimeout(t *testing.T) {
	h := newHarness(t, config.Default("test"))
	h.channel(0)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := h.c.Shutdown(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 1, h.c.Channels())
}

func TestCentral_DisconnectUnregistersChannel(t *testing.T) {
	h := newHarness(t, config.Default("test"))
	cl := h.channel(3)
	require.NoError(t, cl.Send(protocol.EncodeUser(protocol.UserConnect, model.UserRecord{AccountID: 1, CharacterID: 1, CharacterName: "a", ChannelID: 3})))
	require.Eventually(t, func() bool { return h.c.Users() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, cl.Close())

	require.Eventually(t, func() bool { return h.c.Channels() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.c.Users(), "users are left in place when a channel drops")
	assert.Empty(t, h.c.ChannelList())
}

type countingSink struct {
	mu   sync.Mutex
	rows int
}

func (s *countingSink) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows += b.Len()
	return okResults{}
}

func (s *countingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows
}

type okResults struct{}

func (okResults) Exec() (pgconn.CommandTag, error) { return pgconn.NewCommandTag("INSERT 0 1"), nil }
func (okResults) Query() (pgx.Rows, error)         { return nil, errors.New("not supported") }
func (okResults) QueryRow() pgx.Row                { return nil }
func (okResults) Close() error                     { return nil }

func TestCentral_AuditEvents(t *testing.T) {
	cfg := config.Default("test")
	cfg.Audit.Enabled = true
	sink := &countingSink{}

	c := New(cfg, nil, WithAuditSink(sink))
	require.NoError(t, c.Start(context.Background()))
	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	h := &harness{t: t, c: c, url: "ws" + strings.TrimPrefix(srv.URL, "http")}
	h.channel(0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Stop(ctx))

	// Registered, then unregistered when Stop closes the connection.
	assert.GreaterOrEqual(t, sink.count(), 1)
	require.NotNil(t, c.Stats().Audit)
}

func TestHealthHandler(t *testing.T) {
	c := New(config.Default("test"), nil)

	rec := httptest.NewRecorder()
	c.HealthHandler(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status     string         `json:"status"`
		Components map[string]any `json:"components"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Contains(t, body.Components, "coordinator")

	rec = httptest.NewRecorder()
	c.HealthHandler(failingPinger{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")

	rec = httptest.NewRecorder()
	c.HealthHandler(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/channels", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":0`)
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }
