// Package relay validates session-control messages and routes them between
// the members of a room.
//
// Every inbound frame from one connection is handled on that connection's
// read goroutine and enqueued on each recipient's outbox before the next
// frame is read, so messages from one sender to one recipient keep their
// send order.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/mossy-p/webrtc-meet/internal/metrics"
	"github.com/mossy-p/webrtc-meet/internal/models"
	"github.com/mossy-p/webrtc-meet/internal/registry"
	"github.com/mossy-p/webrtc-meet/internal/store"
)

const (
	storeTimeout = 2 * time.Second

	maxUserLength = 64
	maxChatLength = 4000
)

// Conn is the relay's view of one client connection
type Conn interface {
	ID() string
	registry.Outbox
}

// Config wires a Hub to its collaborators
type Config struct {
	Registry *registry.Registry
	Store    store.Store
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	// MaxMessagesPerSecond limits inbound frames per connection; zero disables it
	MaxMessagesPerSecond int

	// Now replaces time.Now for chat timestamps
	Now func() time.Time
}

// Hub routes frames between connections through the room registry
type Hub struct {
	registry *registry.Registry
	store    store.Store
	metrics  *metrics.Metrics
	log      *slog.Logger
	rps      int
	now      func() time.Time
}

// NewHub creates a hub. Nil collaborators are replaced with in-process
// defaults.
func NewHub(cfg Config) *Hub {
	h := &Hub{
		registry: cfg.Registry,
		store:    cfg.Store,
		metrics:  cfg.Metrics,
		log:      cfg.Logger,
		rps:      cfg.MaxMessagesPerSecond,
		now:      cfg.Now,
	}
	if h.registry == nil {
		h.registry = registry.New()
	}
	if h.store == nil {
		h.store = store.NewLocalStore()
	}
	if h.metrics == nil {
		h.metrics = metrics.New()
	}
	if h.log == nil {
		h.log = slog.Default()
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// Registry returns the registry the hub routes through
func (h *Hub) Registry() *registry.Registry {
	return h.registry
}

// Session is the relay state of one connection. Its methods must be called
// from a single goroutine.
type Session struct {
	hub     *Hub
	conn    Conn
	room    string
	user    string
	limiter *rate.Limiter
	log     *slog.Logger
}

// Attach starts relay state for a new connection
func (h *Hub) Attach(conn Conn) *Session {
	s := &Session{
		hub:  h,
		conn: conn,
		log:  h.log.With("conn", conn.ID()),
	}
	if h.rps > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(h.rps), h.rps)
	}
	return s
}

// Room returns the room the connection has joined, or ""
func (s *Session) Room() string { return s.room }

// User returns the display name the connection joined with, or ""
func (s *Session) User() string { return s.user }

// HandleMessage decodes and dispatches one raw frame. Failures are reported
// to the sender only.
func (s *Session) HandleMessage(ctx context.Context, data []byte) {
	if s.limiter != nil && !s.limiter.Allow() {
		s.hub.metrics.Inc(metrics.EventRateLimited)
		s.reject(invalid("rate limit exceeded"))
		return
	}

	var frame models.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		s.reject(invalid("malformed message"))
		return
	}
	s.Process(ctx, frame)
}

// Process dispatches a decoded frame and reports any failure to the sender
func (s *Session) Process(ctx context.Context, frame models.Frame) {
	s.report(s.HandleFrame(ctx, frame))
}

// HandleFrame dispatches a decoded frame
func (s *Session) HandleFrame(ctx context.Context, frame models.Frame) error {
	switch frame.Type {
	case models.FrameTypeJoin:
		return s.Join(ctx, frame.Room, frame.User)
	case models.FrameTypeSignal:
		if frame.Signal == nil {
			return invalid("signal message missing envelope")
		}
		return s.Signal(ctx, *frame.Signal)
	case models.FrameTypeChatMessage:
		return s.Chat(ctx, frame.Text)
	case models.FrameTypeLeave:
		if frame.Room != "" && s.room != "" && frame.Room != s.room {
			return invalid("not a member of room %q", frame.Room)
		}
		s.Leave(ctx)
		return nil
	case "":
		return invalid("message missing type")
	default:
		return invalid("unknown message type %q", frame.Type)
	}
}

// Join places the connection in a room, replacing any earlier membership
func (s *Session) Join(ctx context.Context, roomIdentifier, user string) error {
	roomIdentifier = strings.TrimSpace(roomIdentifier)
	user = strings.TrimSpace(user)
	if roomIdentifier == "" {
		return invalid("join message missing room")
	}
	if user == "" {
		return invalid("join message missing user")
	}
	if utf8.RuneCountInString(user) > maxUserLength {
		return invalid("user name longer than %d characters", maxUserLength)
	}

	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	roomID, err := store.Resolve(sctx, s.hub.store, roomIdentifier)
	if err != nil {
		s.log.Warn("room lookup failed", "room", roomIdentifier, "error", err)
		roomID = roomIdentifier
	}

	capacity := 0
	meta, err := s.hub.store.LoadRoom(sctx, roomID)
	switch {
	case err == nil:
		capacity = meta.MaxParticipants
	case !errors.Is(err, store.ErrRoomNotFound):
		s.log.Warn("room metadata lookup failed", "room", roomID, "error", err)
	}

	// a rejected join keeps the current membership, so the old room is only
	// left once the new one has taken us
	snap, err := s.hub.registry.Join(roomID, registry.Participant{
		ConnID: s.conn.ID(),
		User:   user,
		Outbox: s.conn,
	}, capacity)
	if errors.Is(err, registry.ErrRoomFull) {
		return invalid("room is full")
	}
	if err != nil {
		return err
	}
	if s.room != "" && s.room != roomID {
		s.Leave(ctx)
	}

	s.room, s.user = roomID, user
	if snap.Created {
		s.hub.metrics.Inc(metrics.EventRoomCreated)
		s.log.Info("room created", "room", roomID)
	}
	s.log.Info("participant joined", "room", roomID, "user", user, "participants", snap.Count)

	if err := s.hub.store.AddPeer(sctx, roomID, s.conn.ID()); err != nil {
		s.log.Warn("presence mirror failed", "room", roomID, "error", err)
	}

	s.deliver(s.conn, models.Frame{
		Type:             models.FrameTypeJoined,
		Room:             roomID,
		User:             user,
		ParticipantCount: snap.Count,
	})
	if history := s.hub.registry.History(roomID); len(history) > 0 {
		s.deliver(s.conn, models.Frame{Type: models.FrameTypeChatHistory, Room: roomID, Messages: history})
	}

	connected := models.Frame{Type: models.FrameTypeUserConnected, Room: roomID, User: user}
	info := models.RoomInfoFrame(roomID, snap.Count)
	for _, p := range snap.Members {
		if p.ConnID != s.conn.ID() {
			s.deliver(p.Outbox, connected)
		}
		s.deliver(p.Outbox, info)
	}
	return nil
}

// Signal validates an envelope and delivers it to its target, or to every
// other member when it has none.
func (s *Session) Signal(_ context.Context, env models.Envelope) error {
	if !s.member() {
		return invalid("join a room before signaling")
	}
	if err := env.Validate(); err != nil {
		return invalid("%s", err.Error())
	}
	if env.Room != s.room {
		return invalid("not a member of room %q", env.Room)
	}

	env.User = s.user
	env.Room = s.room

	if env.Target != "" {
		target, ok := s.hub.registry.FindByUser(s.room, env.Target)
		if !ok {
			return invalid("target %q is not in room %q", env.Target, s.room)
		}
		if target.ConnID == s.conn.ID() {
			return invalid("cannot signal yourself")
		}
		s.deliver(target.Outbox, models.Frame{Type: models.FrameTypeSignal, Room: s.room, Signal: &env})
	} else {
		snap, ok := s.hub.registry.Snapshot(s.room)
		if !ok {
			return invalid("room %q no longer exists", s.room)
		}
		frame := models.Frame{Type: models.FrameTypeSignal, Room: s.room, Signal: &env}
		for _, p := range snap.Members {
			if p.ConnID != s.conn.ID() {
				s.deliver(p.Outbox, frame)
			}
		}
	}

	s.hub.metrics.Inc(metrics.EventSignalRelayed + string(env.Type))
	s.log.Debug("signal relayed", "room", s.room, "user", s.user, "type", env.Type, "target", env.Target)
	return nil
}

// Chat stamps a chat line with the sender's joined name, records it in the
// room history and delivers it to every member, the sender included.
func (s *Session) Chat(_ context.Context, text string) error {
	if !s.member() {
		return invalid("join a room before chatting")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return invalid("chat message missing text")
	}
	if utf8.RuneCountInString(text) > maxChatLength {
		return invalid("chat message longer than %d characters", maxChatLength)
	}

	msg := models.ChatMessage{Text: text, Sender: s.user, Timestamp: s.hub.now().UTC()}
	if !s.hub.registry.AppendChat(s.room, msg) {
		return invalid("room %q no longer exists", s.room)
	}

	snap, _ := s.hub.registry.Snapshot(s.room)
	frame := models.ChatFrame(s.room, msg)
	for _, p := range snap.Members {
		s.deliver(p.Outbox, frame)
	}
	s.hub.metrics.Inc(metrics.EventChatMessage)
	return nil
}

// member reports whether the connection still belongs to its room. A room
// removed underneath the connection clears its membership.
func (s *Session) member() bool {
	if s.room == "" {
		return false
	}
	if !s.hub.registry.Member(s.room, s.conn.ID()) {
		s.log.Debug("membership lost", "room", s.room, "user", s.user)
		s.room, s.user = "", ""
		return false
	}
	return true
}

// Leave removes the connection from its room and notifies the remaining
// members. It is a no-op when the connection has not joined.
func (s *Session) Leave(ctx context.Context) {
	if s.room == "" {
		return
	}
	roomID, user := s.room, s.user
	s.room, s.user = "", ""

	snap, ok := s.hub.registry.Leave(roomID, s.conn.ID())
	if !ok {
		return
	}
	s.log.Info("participant left", "room", roomID, "user", user, "participants", snap.Count)

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()

	if err := s.hub.store.RemovePeer(sctx, roomID, s.conn.ID()); err != nil {
		s.log.Warn("presence mirror failed", "room", roomID, "error", err)
	}

	if snap.Deleted {
		s.hub.metrics.Inc(metrics.EventRoomDeleted)
		s.log.Info("removed empty room", "room", roomID)
		if err := s.hub.store.ClearPeers(sctx, roomID); err != nil {
			s.log.Warn("presence cleanup failed", "room", roomID, "error", err)
		}
		return
	}

	disconnected := models.Frame{Type: models.FrameTypeUserDisconnected, Room: roomID, User: user}
	info := models.RoomInfoFrame(roomID, snap.Count)
	for _, p := range snap.Members {
		s.deliver(p.Outbox, disconnected)
		s.deliver(p.Outbox, info)
	}
}

// Close is called once the transport is gone
func (s *Session) Close(ctx context.Context) {
	s.Leave(ctx)
}

func (s *Session) deliver(out registry.Outbox, frame models.Frame) {
	if out == nil {
		return
	}
	if !out.Deliver(frame) {
		s.hub.metrics.Inc(metrics.EventSlowConsumer)
		s.log.Warn("dropped frame for slow consumer", "type", frame.Type)
	}
}

func (s *Session) report(err error) {
	if err == nil {
		return
	}
	if IsValidation(err) {
		s.reject(err)
		return
	}
	s.log.Error("failed to handle message", "error", err)
	s.conn.Deliver(models.Error("internal error"))
}

func (s *Session) reject(err error) {
	s.hub.metrics.Inc(metrics.EventValidationError)
	s.log.Debug("rejected message", "room", s.room, "user", s.user, "reason", err.Error())
	s.conn.Deliver(models.Error(err.Error()))
}

// RemoveRoom drops a room with everyone in it. Members are evicted with
// reason and their connections closed. It returns how many were evicted.
func (h *Hub) RemoveRoom(ctx context.Context, roomID, reason string) int {
	members, ok := h.registry.Remove(roomID)
	if !ok {
		return 0
	}
	h.metrics.Inc(metrics.EventRoomDeleted)
	h.clearPresence(ctx, roomID)
	for _, p := range members {
		if p.Outbox != nil {
			p.Outbox.Evict(reason)
		}
	}
	return len(members)
}

// Sweep runs one idle sweep and clears the presence mirror of swept rooms
func (h *Hub) Sweep(ctx context.Context) []string {
	swept := h.registry.Sweep()
	h.forgetRooms(ctx, swept)
	return swept
}

// RunSweeper sweeps idle rooms every interval until ctx is done
func (h *Hub) RunSweeper(ctx context.Context, interval time.Duration) {
	h.registry.RunSweeper(ctx, interval, func(swept []string) {
		h.forgetRooms(ctx, swept)
	})
}

func (h *Hub) forgetRooms(ctx context.Context, swept []string) {
	for _, roomID := range swept {
		h.metrics.Inc(metrics.EventRoomSwept)
		h.log.Info("swept idle room", "room", roomID)
		h.clearPresence(ctx, roomID)
	}
}

func (h *Hub) clearPresence(ctx context.Context, roomID string) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()
	if err := h.store.ClearPeers(sctx, roomID); err != nil {
		h.log.Warn("presence cleanup failed", "room", roomID, "error", err)
	}
}

// Collect refreshes registry gauges before a metrics scrape
func (h *Hub) Collect(m *metrics.Metrics) {
	rooms, participants := h.registry.Stats()
	m.SetGauge("rooms", int64(rooms))
	m.SetGauge("participants", int64(participants))
}
