package relay

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mossy-p/webrtc-meet/internal/metrics"
	"github.com/mossy-p/webrtc-meet/internal/models"
	"github.com/mossy-p/webrtc-meet/internal/registry"
	"github.com/mossy-p/webrtc-meet/internal/store"
)

type fakeConn struct {
	id      string
	mu      sync.Mutex
	frames  []models.Frame
	evicted string
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Deliver(frame models.Frame) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)
	return true
}

func (f *fakeConn) Evict(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evicted = reason
}

func (f *fakeConn) evictedFor() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.evicted
}

// take returns and clears everything delivered so far
func (f *fakeConn) take() []models.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.frames
	f.frames = nil
	return out
}

func types(frames []models.Frame) []models.FrameType {
	out := make([]models.FrameType, len(frames))
	for i, f := range frames {
		out[i] = f.Type
	}
	return out
}

type fixture struct {
	hub     *Hub
	store   *store.LocalStore
	metrics *metrics.Metrics
	clock   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   store.NewLocalStore(),
		metrics: metrics.New(),
		clock:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	tick := func() time.Time {
		f.clock = f.clock.Add(time.Millisecond)
		return f.clock
	}
	f.hub = NewHub(Config{
		Registry: registry.New(registry.WithClock(tick)),
		Store:    f.store,
		Metrics:  f.metrics,
		Now:      tick,
	})
	return f
}

func (f *fixture) join(t *testing.T, room, user string) (*Session, *fakeConn) {
	t.Helper()
	conn := &fakeConn{id: "conn-" + user}
	s := f.hub.Attach(conn)
	require.NoError(t, s.Join(context.Background(), room, user))
	return s, conn
}

func offer(t *testing.T, room, target string) models.Envelope {
	t.Helper()
	env, err := models.NewEnvelope(models.SignalTypeOffer, room, target, models.SessionDescription{Type: "offer", SDP: "v=0\r\n"})
	require.NoError(t, err)
	return env
}

func candidate(t *testing.T, room, target, c string) models.Envelope {
	t.Helper()
	env, err := models.NewEnvelope(models.SignalTypeICE, room, target, models.ICECandidate{Candidate: c})
	require.NoError(t, err)
	return env
}

func TestJoinNotifiesMembers(t *testing.T) {
	f := newFixture(t)

	_, alice := f.join(t, "r1", "alice")
	frames := alice.take()
	require.Equal(t, []models.FrameType{models.FrameTypeJoined, models.FrameTypeRoomInfo}, types(frames))
	require.Equal(t, 1, frames[0].ParticipantCount)
	require.Equal(t, 1, frames[1].ParticipantCount)

	_, bob := f.join(t, "r1", "bob")
	frames = bob.take()
	require.Equal(t, []models.FrameType{models.FrameTypeJoined, models.FrameTypeRoomInfo}, types(frames))
	require.Equal(t, 2, frames[0].ParticipantCount)

	frames = alice.take()
	require.Equal(t, []models.FrameType{models.FrameTypeUserConnected, models.FrameTypeRoomInfo}, types(frames))
	require.Equal(t, "bob", frames[0].User)
	require.Equal(t, 2, frames[1].ParticipantCount)

	require.Equal(t, uint64(1), f.metrics.Get(metrics.EventRoomCreated))
}

func TestJoinValidation(t *testing.T) {
	f := newFixture(t)
	s := f.hub.Attach(&fakeConn{id: "c1"})

	err := s.Join(context.Background(), "", "alice")
	require.True(t, IsValidation(err))

	err = s.Join(context.Background(), "r1", "  ")
	require.True(t, IsValidation(err))

	require.Equal(t, 0, f.hub.Registry().Count("r1"))
}

func TestJoinAnotherRoomLeavesPrevious(t *testing.T) {
	f := newFixture(t)
	alice, _ := f.join(t, "r1", "alice")
	_, bob := f.join(t, "r1", "bob")
	bob.take()

	require.NoError(t, alice.Join(context.Background(), "r2", "alice"))

	require.Equal(t, "r2", alice.Room())
	require.Equal(t, 1, f.hub.Registry().Count("r1"))
	require.Equal(t, 1, f.hub.Registry().Count("r2"))
	frames := bob.take()
	require.Equal(t, []models.FrameType{models.FrameTypeUserDisconnected, models.FrameTypeRoomInfo}, types(frames))
	require.Equal(t, "alice", frames[0].User)
}

func TestJoinByCodeAndCapacity(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.StoreRoom(context.Background(), &models.RoomMetadata{
		ID:              "room-uuid",
		Code:            "ABCD23",
		MaxParticipants: 2,
	}))

	alice, _ := f.join(t, "ABCD23", "alice")
	require.Equal(t, "room-uuid", alice.Room())
	f.join(t, "room-uuid", "bob")

	carol := &fakeConn{id: "conn-carol"}
	err := f.hub.Attach(carol).Join(context.Background(), "ABCD23", "carol")
	require.True(t, IsValidation(err))
	require.Equal(t, 2, f.hub.Registry().Count("room-uuid"))

	n, err := f.store.PeerCount(context.Background(), "room-uuid")
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestJoinFullRoomKeepsMembership(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.StoreRoom(context.Background(), &models.RoomMetadata{
		ID:              "small",
		Code:            "SMAL23",
		MaxParticipants: 2,
	}))
	f.join(t, "small", "alice")
	f.join(t, "small", "bob")

	dave, daveConn := f.join(t, "r1", "dave")
	daveConn.take()

	err := dave.Join(context.Background(), "small", "dave")
	require.True(t, IsValidation(err))
	require.Equal(t, "r1", dave.Room())
	require.True(t, f.hub.Registry().Member("r1", "conn-dave"))
	require.Equal(t, 2, f.hub.Registry().Count("small"))

	// still able to signal in the room it already had
	env, err := models.NewEnvelope(models.SignalTypeContentStart, "r1", "", models.ContentPayload{ContentID: "abc"})
	require.NoError(t, err)
	require.NoError(t, dave.Signal(context.Background(), env))
}

func TestRemovedRoomEvictsMembers(t *testing.T) {
	f := newFixture(t)
	alice, aliceConn := f.join(t, "r1", "alice")
	_, bobConn := f.join(t, "r1", "bob")

	require.Equal(t, 2, f.hub.RemoveRoom(context.Background(), "r1", "room was deleted"))
	require.Equal(t, "room was deleted", aliceConn.evictedFor())
	require.Equal(t, "room was deleted", bobConn.evictedFor())
	require.Equal(t, uint64(1), f.metrics.Get(metrics.EventRoomDeleted))
	require.Zero(t, f.hub.RemoveRoom(context.Background(), "r1", "again"))

	// the same id is joined afresh; the evicted session is no member of it
	_, carol := f.join(t, "r1", "carol")
	carol.take()
	aliceConn.take()

	env, err := models.NewEnvelope(models.SignalTypeContentStart, "r1", "", models.ContentPayload{ContentID: "abc"})
	require.NoError(t, err)
	require.True(t, IsValidation(alice.Signal(context.Background(), env)))
	require.True(t, IsValidation(alice.Chat(context.Background(), "still here?")))
	require.Empty(t, alice.Room())
	require.Empty(t, carol.take())
	require.Equal(t, 1, f.hub.Registry().Count("r1"))

	// closing the evicted session leaves the new room alone
	alice.Close(context.Background())
	require.Empty(t, carol.take())
	require.Equal(t, 1, f.hub.Registry().Count("r1"))
}

func TestSignalBroadcastOverridesUser(t *testing.T) {
	f := newFixture(t)
	alice, _ := f.join(t, "r1", "alice")
	_, bob := f.join(t, "r1", "bob")
	_, carol := f.join(t, "r1", "carol")
	bob.take()
	carol.take()

	env := offer(t, "r1", "")
	env.User = "mallory"
	require.NoError(t, alice.Signal(context.Background(), env))

	for _, c := range []*fakeConn{bob, carol} {
		frames := c.take()
		require.Len(t, frames, 1)
		require.Equal(t, models.FrameTypeSignal, frames[0].Type)
		require.Equal(t, "alice", frames[0].Signal.User)
		require.Equal(t, models.SignalTypeOffer, frames[0].Signal.Type)
	}
	require.Equal(t, uint64(1), f.metrics.Get(metrics.EventSignalRelayed+"offer"))
}

func TestSignalTargeted(t *testing.T) {
	f := newFixture(t)
	alice, aliceConn := f.join(t, "r1", "alice")
	_, bob := f.join(t, "r1", "bob")
	_, carol := f.join(t, "r1", "carol")
	aliceConn.take()
	bob.take()
	carol.take()

	require.NoError(t, alice.Signal(context.Background(), offer(t, "r1", "carol")))

	require.Empty(t, bob.take())
	require.Empty(t, aliceConn.take())
	frames := carol.take()
	require.Len(t, frames, 1)
	require.Equal(t, "alice", frames[0].Signal.User)
	require.Equal(t, "carol", frames[0].Signal.Target)
}

func TestSignalRejections(t *testing.T) {
	f := newFixture(t)
	outsider := f.hub.Attach(&fakeConn{id: "outsider"})
	require.True(t, IsValidation(outsider.Signal(context.Background(), offer(t, "r1", ""))))

	alice, _ := f.join(t, "r1", "alice")
	_, bob := f.join(t, "r1", "bob")
	bob.take()

	tests := []struct {
		name string
		env  models.Envelope
	}{
		{name: "unknown target", env: offer(t, "r1", "nobody")},
		{name: "self target", env: offer(t, "r1", "alice")},
		{name: "other room", env: offer(t, "r2", "")},
		{name: "unknown type", env: models.Envelope{Type: "bogus", Room: "r1"}},
		{name: "empty sdp", env: models.Envelope{Type: models.SignalTypeOffer, Room: "r1", Payload: json.RawMessage(`{"type":"offer","sdp":""}`)}},
		{name: "missing content id", env: models.Envelope{Type: models.SignalTypeContentStart, Room: "r1", Payload: json.RawMessage(`{}`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := alice.Signal(context.Background(), tt.env)
			require.Error(t, err)
			require.True(t, IsValidation(err))
			require.Empty(t, bob.take())
		})
	}
}

func TestSignalOrderingPerSender(t *testing.T) {
	f := newFixture(t)
	alice, _ := f.join(t, "r1", "alice")
	_, bob := f.join(t, "r1", "bob")
	bob.take()

	want := []string{"candidate:1", "candidate:2", "candidate:3", "candidate:4", "candidate:5"}
	require.NoError(t, alice.Signal(context.Background(), offer(t, "r1", "bob")))
	for _, c := range want {
		require.NoError(t, alice.Signal(context.Background(), candidate(t, "r1", "bob", c)))
	}

	frames := bob.take()
	require.Len(t, frames, len(want)+1)
	require.Equal(t, models.SignalTypeOffer, frames[0].Signal.Type)
	for i, c := range want {
		got, err := frames[i+1].Signal.Candidate()
		require.NoError(t, err)
		require.Equal(t, c, got.Candidate)
	}
}

func TestChatReachesEveryoneAndHistory(t *testing.T) {
	f := newFixture(t)
	alice, aliceConn := f.join(t, "r1", "alice")
	_, bob := f.join(t, "r1", "bob")
	aliceConn.take()
	bob.take()

	require.True(t, IsValidation(alice.Chat(context.Background(), "   ")))
	require.NoError(t, alice.Chat(context.Background(), " hello "))

	for _, c := range []*fakeConn{aliceConn, bob} {
		frames := c.take()
		require.Len(t, frames, 1)
		require.Equal(t, models.FrameTypeChatMessage, frames[0].Type)
		require.Equal(t, "hello", frames[0].Text)
		require.Equal(t, "alice", frames[0].Sender)
		require.False(t, frames[0].Timestamp.IsZero())
	}

	_, carol := f.join(t, "r1", "carol")
	frames := carol.take()
	require.Equal(t, []models.FrameType{models.FrameTypeJoined, models.FrameTypeChatHistory, models.FrameTypeRoomInfo}, types(frames))
	require.Len(t, frames[1].Messages, 1)
	require.Equal(t, "hello", frames[1].Messages[0].Text)
}

func TestLeaveNotifiesAndDeletesEmptyRoom(t *testing.T) {
	f := newFixture(t)
	alice, aliceConn := f.join(t, "r1", "alice")
	bob, _ := f.join(t, "r1", "bob")
	aliceConn.take()

	bob.Close(context.Background())
	frames := aliceConn.take()
	require.Equal(t, []models.FrameType{models.FrameTypeUserDisconnected, models.FrameTypeRoomInfo}, types(frames))
	require.Equal(t, "bob", frames[0].User)
	require.Equal(t, 1, frames[1].ParticipantCount)

	// closing twice is harmless
	bob.Close(context.Background())
	require.Empty(t, aliceConn.take())

	alice.Leave(context.Background())
	_, ok := f.hub.Registry().Snapshot("r1")
	require.False(t, ok)
	require.Equal(t, uint64(1), f.metrics.Get(metrics.EventRoomDeleted))

	n, err := f.store.PeerCount(context.Background(), "r1")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestHandleMessageErrors(t *testing.T) {
	f := newFixture(t)
	conn := &fakeConn{id: "c1"}
	s := f.hub.Attach(conn)

	s.HandleMessage(context.Background(), []byte("{not json"))
	s.HandleMessage(context.Background(), []byte(`{"type":"dance"}`))
	s.HandleMessage(context.Background(), []byte(`{"type":"signal"}`))

	frames := conn.take()
	require.Len(t, frames, 3)
	for _, fr := range frames {
		require.Equal(t, models.FrameTypeError, fr.Type)
		require.NotEmpty(t, fr.Message)
	}
	require.Equal(t, uint64(3), f.metrics.Get(metrics.EventValidationError))
}

func TestHandleMessageRateLimit(t *testing.T) {
	reg := registry.New()
	m := metrics.New()
	hub := NewHub(Config{Registry: reg, Metrics: m, MaxMessagesPerSecond: 1})
	conn := &fakeConn{id: "c1"}
	s := hub.Attach(conn)

	s.HandleMessage(context.Background(), []byte(`{"type":"join","room":"r1","user":"alice"}`))
	s.HandleMessage(context.Background(), []byte(`{"type":"chat-message","text":"hi"}`))

	frames := conn.take()
	require.Equal(t, models.FrameTypeError, frames[len(frames)-1].Type)
	require.Equal(t, "rate limit exceeded", frames[len(frames)-1].Message)
	require.Equal(t, uint64(1), m.Get(metrics.EventRateLimited))
	require.Empty(t, reg.History("r1"))
}

func TestSweepClearsPresence(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	reg := registry.New(registry.WithClock(func() time.Time { return now }), registry.WithIdleTimeout(time.Minute))
	s := store.NewLocalStore()
	m := metrics.New()
	hub := NewHub(Config{Registry: reg, Store: s, Metrics: m})

	reg.Ensure("reserved")
	require.NoError(t, s.AddPeer(context.Background(), "reserved", "stale"))

	require.Empty(t, hub.Sweep(context.Background()))
	now = now.Add(2 * time.Minute)
	require.Equal(t, []string{"reserved"}, hub.Sweep(context.Background()))

	n, err := s.PeerCount(context.Background(), "reserved")
	require.NoError(t, err)
	require.Zero(t, n)
	require.Equal(t, uint64(1), m.Get(metrics.EventRoomSwept))
}

func TestCollect(t *testing.T) {
	f := newFixture(t)
	f.join(t, "r1", "alice")
	f.join(t, "r1", "bob")
	f.join(t, "r2", "carol")

	m := metrics.New()
	f.hub.Collect(m)
	require.Equal(t, int64(2), m.Gauges()["rooms"])
	require.Equal(t, int64(3), m.Gauges()["participants"])
}
