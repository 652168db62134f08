package migration

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/central/internal/model"
)

type eventLog struct {
	mu     sync.Mutex
	events []model.Event
}

func (l *eventLog) Record(e model.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) types() []model.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.EventType, len(l.events))
	for i, e := range l.events {
		out[i] = e.Type
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeClock, *eventLog) {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	events := &eventLog{}
	c := New(Config{TTL: 30 * time.Second, SweepInterval: 10 * time.Millisecond}, events, nil)
	c.now = clock.Now
	return c, clock, events
}

func sampleInfo() model.MigrationInfo {
	return model.MigrationInfo{
		AccountID:   100,
		CharacterID: 200,
		ChannelID:   2,
		Fingerprint: model.Fingerprint{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		SessionKey:  model.SessionKey{9, 9, 9, 9, 9, 9, 9, 9},
	}
}

func TestSubmitRejectsDuplicate(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	info := sampleInfo()

	require.NoError(t, c.Submit(1, 0, info))
	err := c.Submit(2, 0, info)
	assert.ErrorIs(t, err, ErrDuplicateMigration)
	assert.Equal(t, 1, c.Len())
}

func TestSubmitReplacesExpired(t *testing.T) {
	c, clock, _ := newTestCoordinator(t)
	info := sampleInfo()

	require.NoError(t, c.Submit(1, 0, info))
	clock.Advance(31 * time.Second)
	assert.NoError(t, c.Submit(2, 0, info))
}

func TestCompleteAtMostOnce(t *testing.T) {
	c, _, events := newTestCoordinator(t)
	info := sampleInfo()
	require.NoError(t, c.Submit(1, 0, info))

	got, ok := c.Complete(2, info.AccountID, info.CharacterID, info.Fingerprint, info.SessionKey)
	require.True(t, ok)
	assert.Equal(t, info, got)

	_, ok = c.Complete(2, info.AccountID, info.CharacterID, info.Fingerprint, info.SessionKey)
	assert.False(t, ok, "second completion must fail")
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, []model.EventType{model.EventMigrationSubmitted, model.EventMigrationCompleted}, events.types())
}

func TestCompleteMismatchConsumesRequest(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	info := sampleInfo()
	require.NoError(t, c.Submit(1, 0, info))

	badKey := info.SessionKey
	badKey[0]++
	_, ok := c.Complete(2, info.AccountID, info.CharacterID, info.Fingerprint, badKey)
	assert.False(t, ok)

	_, ok = c.Complete(2, info.AccountID, info.CharacterID, info.Fingerprint, info.SessionKey)
	assert.False(t, ok, "request must be gone after a mismatched attempt")
}

func TestCompleteIgnoresChannelMismatch(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	info := sampleInfo()
	require.NoError(t, c.Submit(1, 0, info))

	_, ok := c.Complete(5, info.AccountID, info.CharacterID, info.Fingerprint, info.SessionKey)
	assert.True(t, ok)
}

func TestCompleteExpired(t *testing.T) {
	c, clock, events := newTestCoordinator(t)
	info := sampleInfo()
	require.NoError(t, c.Submit(1, 0, info))

	clock.Advance(30 * time.Second)
	_, ok := c.Complete(2, info.AccountID, info.CharacterID, info.Fingerprint, info.SessionKey)
	assert.False(t, ok)
	assert.Contains(t, events.types(), model.EventMigrationExpired)
}

func TestIsMigrating(t *testing.T) {
	c, clock, _ := newTestCoordinator(t)
	info := sampleInfo()

	assert.False(t, c.IsMigrating(info.AccountID))
	require.NoError(t, c.Submit(1, 0, info))
	assert.True(t, c.IsMigrating(info.AccountID))
	assert.False(t, c.IsMigrating(info.AccountID+1))

	clock.Advance(time.Minute)
	assert.False(t, c.IsMigrating(info.AccountID), "expired request is not in flight")
}

func TestSweep(t *testing.T) {
	c, clock, _ := newTestCoordinator(t)
	a := sampleInfo()
	b := sampleInfo()
	b.AccountID, b.CharacterID = 101, 201

	require.NoError(t, c.Submit(1, 0, a))
	clock.Advance(20 * time.Second)
	require.NoError(t, c.Submit(2, 0, b))
	clock.Advance(15 * time.Second)

	assert.Equal(t, 1, c.Sweep(clock.Now()))
	assert.Equal(t, 1, c.Len())
	assert.True(t, c.IsMigrating(b.AccountID))
}

func TestOnExpireCalledForAbandonedRequests(t *testing.T) {
	c, clock, _ := newTestCoordinator(t)
	var got []Request
	c.OnExpire(func(req Request) { got = append(got, req) })

	a := sampleInfo()
	b := sampleInfo()
	b.AccountID, b.CharacterID = 101, 201
	require.NoError(t, c.Submit(1, 3, a))
	require.NoError(t, c.Submit(2, 4, b))
	clock.Advance(time.Minute)

	_, ok := c.Complete(2, b.AccountID, b.CharacterID, b.Fingerprint, b.SessionKey)
	assert.False(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, int32(4), got[0].SourceChannelID)

	assert.Equal(t, 1, c.Sweep(clock.Now()))
	require.Len(t, got, 2)
	assert.Equal(t, int32(3), got[1].SourceChannelID)
	assert.Equal(t, a.CharacterID, got[1].Info.CharacterID)
}

func TestOnExpireNotCalledOnCompletion(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	called := false
	c.OnExpire(func(Request) { called = true })

	info := sampleInfo()
	require.NoError(t, c.Submit(1, 0, info))
	_, ok := c.Complete(2, info.AccountID, info.CharacterID, info.Fingerprint, info.SessionKey)
	require.True(t, ok)
	assert.Equal(t, 0, c.Sweep(time.Now().Add(time.Hour)))
	assert.False(t, called)
}

func TestSweepLoop(t *testing.T) {
	c, clock, _ := newTestCoordinator(t)
	require.NoError(t, c.Submit(1, 0, sampleInfo()))
	clock.Advance(time.Minute)

	require.NoError(t, c.Start(context.Background()))
	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, c.Stop(ctx))
}

func TestConcurrentSubmitSingleWinner(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	info := sampleInfo()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(id int32) {
			defer wg.Done()
			if c.Submit(id, 0, info) == nil {
				wins.Add(1)
			}
		}(int32(i))
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}
