// Package session runs one participant's lifetime in a room: media
// acquisition, joining through the relay, one negotiation per remote peer,
// the content floor and the final teardown.
//
// Everything that touches peers, the floor or local media runs on the
// goroutine executing Run. Connection callbacks and public commands are
// queued onto it.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/webrtc-meet/internal/callerr"
	"github.com/mossy-p/webrtc-meet/internal/floor"
	"github.com/mossy-p/webrtc-meet/internal/models"
	"github.com/mossy-p/webrtc-meet/internal/peer"
)

const eventBuffer = 256

var (
	ErrClosed         = errors.New("session closed")
	ErrAlreadyRunning = errors.New("session already running")
)

// Transport carries frames to and from the relay
type Transport interface {
	Send(frame models.Frame) error
	Incoming() <-chan models.Frame
	Close() error
}

// MediaSource provides the local camera and microphone tracks
type MediaSource interface {
	Acquire(ctx context.Context) ([]webrtc.TrackLocal, error)
	Release()
}

// DisplaySource captures content for sharing. The returned track must use
// contentID as its stream ID.
type DisplaySource interface {
	Capture(ctx context.Context, contentID string) (webrtc.TrackLocal, error)
	Release()
}

// Status is the lifecycle state reported to the Observer
type Status int

const (
	StatusConnecting Status = iota
	StatusJoined
	StatusReconnecting
	StatusFailed
	StatusClosed
)

// String returns the status name
func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusJoined:
		return "joined"
	case StatusReconnecting:
		return "reconnecting"
	case StatusFailed:
		return "failed"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Observer receives everything the session wants shown. Methods are called
// from the session goroutine and must not block.
type Observer interface {
	Status(status Status, detail string)
	Participants(count int)
	PeerJoined(user string)
	PeerLeft(user string)
	PeerName(user, name string)
	Track(user string, sink peer.Sink, track peer.RemoteTrack)
	ContentStopped(user string)
	Chat(msg models.ChatMessage, direct bool)
	Error(err error)
}

// NopObserver ignores everything
type NopObserver struct{}

func (NopObserver) Status(Status, string) {}
func (NopObserver) Participants(int) {}
func (NopObserver) PeerJoined(string) {}
func (NopObserver) PeerLeft(string) {}
func (NopObserver) PeerName(string, string) {}
func (NopObserver) Track(string, peer.Sink, peer.RemoteTrack) {}
func (NopObserver) ContentStopped(string) {}
func (NopObserver) Chat(models.ChatMessage, bool) {}
func (NopObserver) Error(error) {}

// Config wires a Session to its transport, media and observer
type Config struct {
	// Room is a room ID or short code
	Room      string
	User      string
	Transport Transport
	Factory   peer.Factory
	// Media may be nil for a receive-only participant
	Media MediaSource
	// Display may be nil where content capture is unsupported
	Display      DisplaySource
	Observer     Observer
	Logger       *slog.Logger
	NewContentID func() string
	Now          func() time.Time
}

// Session is one participant's membership in a room
type Session struct {
	cfg       Config
	transport Transport
	observer  Observer
	log       *slog.Logger
	now       func() time.Time

	events   chan peer.Event
	commands chan func()
	done     chan struct{}
	running  sync.Once
	closing  sync.Once

	// owned by the Run goroutine
	ctx     context.Context
	err     error
	room    string
	joined  bool
	local   []webrtc.TrackLocal
	content webrtc.TrackLocal
	peers   map[string]*peer.Engine
	floor   *floor.Coordinator
}

// New creates a session. Nothing happens until Run.
func New(cfg Config) *Session {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	observer := cfg.Observer
	if observer == nil {
		observer = NopObserver{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	newID := cfg.NewContentID
	if newID == nil {
		newID = uuid.NewString
	}

	s := &Session{
		cfg:       cfg,
		transport: cfg.Transport,
		observer:  observer,
		log:       log.With("user", cfg.User, "component", "session"),
		now:       now,
		events:    make(chan peer.Event, eventBuffer),
		commands:  make(chan func()),
		done:      make(chan struct{}),
		ctx:       context.Background(),
		room:      cfg.Room,
		peers:     make(map[string]*peer.Engine),
	}
	s.floor = floor.New(cfg.User, broadcaster{s}, capturer{s},
		floor.WithIDGenerator(newID),
		floor.WithLogger(log.With("user", cfg.User)),
	)
	return s
}

// Done is closed once the session has shut down
func (s *Session) Done() <-chan struct{} { return s.done }

// Run acquires local media, joins the room and processes signaling until
// ctx ends, the session is left or the relay connection is lost. Shutdown
// runs exactly once whichever way it ends.
func (s *Session) Run(ctx context.Context) error {
	first := false
	s.running.Do(func() { first = true })
	if !first {
		return ErrAlreadyRunning
	}
	defer s.shutdown()

	s.ctx = ctx
	s.observer.Status(StatusConnecting, s.cfg.Room)

	if err := s.acquireMedia(ctx); err != nil {
		s.observer.Error(err)
		s.observer.Status(StatusFailed, err.Error())
		return err
	}
	if err := s.join(); err != nil {
		s.observer.Status(StatusFailed, err.Error())
		return err
	}

	incoming := s.transport.Incoming()
	for {
		select {
		case <-s.done:
			return s.err
		default:
		}

		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return s.err
		case frame, ok := <-incoming:
			if !ok {
				err := callerr.New(callerr.ErrConnectivity, "signaling", errors.New("relay connection closed"))
				s.observer.Status(StatusFailed, err.Error())
				return err
			}
			s.handleFrame(frame)
		case ev := <-s.events:
			s.handleEvent(ev)
		case cmd := <-s.commands:
			cmd()
		}
	}
}

// call runs fn on the session goroutine and waits for its result
func (s *Session) call(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	select {
	case s.commands <- func() { errc <- fn() }:
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	// accepted commands always run to completion
	return <-errc
}

// ShareContent claims the content floor and publishes a content track to
// every peer. It returns the content ID.
func (s *Session) ShareContent(ctx context.Context) (string, error) {
	var id string
	err := s.call(ctx, func() error {
		var err error
		id, err = s.floor.Start()
		return err
	})
	return id, err
}

// StopContent ends a local share. It is a no-op when not sharing.
func (s *Session) StopContent(ctx context.Context) error {
	return s.call(ctx, func() error {
		s.floor.Stop()
		return nil
	})
}

// CaptureEnded reports that the display source stopped on its own
func (s *Session) CaptureEnded(ctx context.Context) error {
	return s.call(ctx, func() error {
		s.floor.CaptureEnded()
		return nil
	})
}

// SendChat posts a chat line through the relay to the whole room
func (s *Session) SendChat(ctx context.Context, text string) error {
	return s.call(ctx, func() error {
		if !s.joined {
			return callerr.Wrap(callerr.ErrValidation, "send chat", nil, "not joined")
		}
		return s.send(models.Frame{Type: models.FrameTypeChatMessage, Text: text})
	})
}

// SendPeerChat sends a chat line over the data channel of every connected
// peer, bypassing the relay. It fails only if no peer could be reached.
func (s *Session) SendPeerChat(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return callerr.Wrap(callerr.ErrValidation, "send peer chat", nil, "empty message")
	}
	return s.call(ctx, func() error {
		msg := models.PeerMessage{Text: text, Sender: s.cfg.User, Timestamp: s.now()}
		var lastErr error
		sent := 0
		for user, e := range s.peers {
			if err := e.SendPeerMessage(msg); err != nil {
				s.log.Debug("peer chat not delivered", "peer", user, "error", err)
				lastErr = err
				continue
			}
			sent++
		}
		if sent == 0 {
			if lastErr == nil {
				lastErr = errors.New("no connected peers")
			}
			return callerr.New(callerr.ErrConnectivity, "send peer chat", lastErr)
		}
		return nil
	})
}

// Reconnect tears every peer connection down and rejoins from scratch
func (s *Session) Reconnect(ctx context.Context) error {
	return s.call(ctx, func() error {
		return s.reconnect("requested")
	})
}

// Stats returns the current statistics report of every peer connection
func (s *Session) Stats(ctx context.Context) (map[string]webrtc.StatsReport, error) {
	var reports map[string]webrtc.StatsReport
	err := s.call(ctx, func() error {
		reports = make(map[string]webrtc.StatsReport, len(s.peers))
		for user, e := range s.peers {
			if r := e.Stats(); r != nil {
				reports[user] = r
			}
		}
		return nil
	})
	return reports, err
}

// PeerState is a snapshot of one remote peer
type PeerState struct {
	User    string
	State   peer.State
	Content string
}

// Peers returns the remote peers ordered by name
func (s *Session) Peers(ctx context.Context) ([]PeerState, error) {
	var out []PeerState
	err := s.call(ctx, func() error {
		for user, e := range s.peers {
			content, _ := s.floor.Expecting(user)
			out = append(out, PeerState{User: user, State: e.State(), Content: content})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].User < out[j].User })
		return nil
	})
	return out, err
}

// Leave shuts the session down. Calling it again is a no-op.
func (s *Session) Leave(ctx context.Context) error {
	err := s.call(ctx, func() error {
		s.shutdown()
		return nil
	})
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

func (s *Session) shutdown() {
	s.closing.Do(func() {
		s.log.Info("leaving room", "room", s.room)
		s.floor.Reset()
		s.closePeers()
		s.releaseMedia()

		if s.joined {
			if err := s.send(models.Frame{Type: models.FrameTypeLeave, Room: s.room}); err != nil {
				s.log.Debug("leave not delivered", "error", err)
			}
			s.joined = false
		}
		if err := s.transport.Close(); err != nil {
			s.log.Debug("close transport", "error", err)
		}
		close(s.done)
		s.observer.Status(StatusClosed, "")
	})
}

func (s *Session) join() error {
	s.log.Info("joining room", "room", s.cfg.Room)
	return s.send(models.Frame{Type: models.FrameTypeJoin, Room: s.cfg.Room, User: s.cfg.User})
}

func (s *Session) reconnect(reason string) error {
	s.log.Warn("reconnecting", "reason", reason)
	s.observer.Status(StatusReconnecting, reason)

	s.floor.Reset()
	for user := range s.peers {
		s.observer.PeerLeft(user)
	}
	s.closePeers()
	s.releaseMedia()
	s.joined = false

	if err := s.acquireMedia(s.ctx); err != nil {
		s.observer.Error(err)
		s.observer.Status(StatusFailed, err.Error())
		s.err = err
		s.shutdown()
		return err
	}
	return s.join()
}

func (s *Session) acquireMedia(ctx context.Context) error {
	if s.cfg.Media == nil {
		return nil
	}
	tracks, err := s.cfg.Media.Acquire(ctx)
	if err != nil {
		return callerr.New(callerr.ErrMediaAcquisition, "acquire local media", err)
	}
	s.local = tracks
	return nil
}

func (s *Session) releaseMedia() {
	if s.cfg.Media != nil && s.local != nil {
		s.cfg.Media.Release()
	}
	s.local = nil
}

func (s *Session) closePeers() {
	for user, e := range s.peers {
		e.Close()
		delete(s.peers, user)
	}
}

func (s *Session) send(frame models.Frame) error {
	if err := s.transport.Send(frame); err != nil {
		return callerr.New(callerr.ErrConnectivity, "send "+string(frame.Type), err)
	}
	return nil
}

func (s *Session) post(ev peer.Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// connect replaces any engine for user with a fresh one carrying our tracks
func (s *Session) connect(user string) (*peer.Engine, error) {
	if old, ok := s.peers[user]; ok {
		old.Close()
		delete(s.peers, user)
	}

	e, err := peer.New(peer.Config{
		Room:     s.room,
		Self:     s.cfg.User,
		Peer:     user,
		Factory:  s.cfg.Factory,
		Signaler: signaler{s},
		Post:     s.post,
		Logger:   s.log,
	})
	if err != nil {
		return nil, err
	}

	for _, t := range s.local {
		if err := e.AddTrack(t); err != nil {
			e.Close()
			return nil, err
		}
	}
	if s.content != nil {
		if err := e.AddTrack(s.content); err != nil {
			e.Close()
			return nil, err
		}
	}
	s.peers[user] = e
	return e, nil
}

func (s *Session) dropPeer(user string) {
	if e, ok := s.peers[user]; ok {
		e.Close()
		delete(s.peers, user)
	}
	if s.floor.PeerLeft(user) {
		s.observer.ContentStopped(user)
	}
	s.observer.PeerLeft(user)
}

func (s *Session) handleFrame(f models.Frame) {
	switch f.Type {
	case models.FrameTypeJoined:
		s.room = f.Room
		s.joined = true
		s.log.Info("joined room", "room", f.Room, "participants", f.ParticipantCount)
		s.observer.Status(StatusJoined, f.Room)
		s.observer.Participants(f.ParticipantCount)

	case models.FrameTypeRoomInfo:
		s.observer.Participants(f.ParticipantCount)

	case models.FrameTypeUserConnected:
		if f.User == s.cfg.User {
			return
		}
		s.observer.PeerJoined(f.User)
		e, err := s.connect(f.User)
		if err != nil {
			s.negotiationFailed(f.User, err)
			return
		}
		// ahead of the offer, so the content track is expected on arrival
		if err := s.floor.Introduce(f.User); err != nil {
			s.log.Warn("floor not announced to new peer", "peer", f.User, "error", err)
		}
		if err := e.Offer(); err != nil {
			s.negotiationFailed(f.User, err)
		}

	case models.FrameTypeUserDisconnected:
		s.dropPeer(f.User)

	case models.FrameTypeSignal:
		if f.Signal != nil {
			s.handleSignal(*f.Signal)
		}

	case models.FrameTypeChatMessage:
		if f.Text != "" {
			s.observer.Chat(f.ChatMessage(), false)
		}

	case models.FrameTypeChatHistory:
		for _, msg := range f.Messages {
			s.observer.Chat(msg, false)
		}

	case models.FrameTypeError:
		s.log.Warn("relay rejected message", "message", f.Message)
		s.observer.Error(callerr.Wrap(callerr.ErrValidation, "relay", errors.New(f.Message), ""))

	default:
		s.log.Debug("ignoring frame", "type", f.Type)
	}
}

func (s *Session) handleSignal(env models.Envelope) {
	from := env.User
	if from == "" || from == s.cfg.User {
		return
	}

	switch env.Type {
	case models.SignalTypeContentStart:
		c, err := env.Content()
		if err != nil {
			s.log.Debug("malformed content-start", "from", from, "error", err)
			return
		}
		if s.floor.HandleStart(from, c.ContentID) {
			s.observer.Status(StatusJoined, from+" took over content sharing")
		}

	case models.SignalTypeContentStop:
		if s.floor.HandleStop(from) {
			s.observer.ContentStopped(from)
		}

	case models.SignalTypeOffer:
		desc, err := env.Description()
		if err != nil {
			s.log.Debug("malformed offer", "from", from, "error", err)
			return
		}
		e, ok := s.peers[from]
		if !ok {
			if e, err = s.connect(from); err != nil {
				s.negotiationFailed(from, err)
				return
			}
		}
		if err := e.HandleOffer(desc); err != nil {
			s.negotiationFailed(from, err)
		}

	case models.SignalTypeAnswer:
		e, ok := s.peers[from]
		if !ok {
			s.log.Debug("answer from unknown peer", "from", from)
			return
		}
		desc, err := env.Description()
		if err != nil {
			s.log.Debug("malformed answer", "from", from, "error", err)
			return
		}
		if err := e.HandleAnswer(desc); err != nil {
			s.negotiationFailed(from, err)
		}

	case models.SignalTypeICE:
		e, ok := s.peers[from]
		if !ok {
			return
		}
		c, err := env.Candidate()
		if err != nil {
			s.log.Debug("malformed candidate", "from", from, "error", err)
			return
		}
		if err := e.HandleCandidate(c); err != nil {
			s.log.Debug("candidate rejected", "from", from, "error", err)
		}
	}
}

func (s *Session) negotiationFailed(user string, err error) {
	s.log.Warn("negotiation failed", "peer", user, "error", err)
	s.observer.Error(err)
}

func (s *Session) handleEvent(ev peer.Event) {
	e := ev.Engine
	if e == nil || s.peers[e.Peer()] != e {
		// from an engine that has been replaced or closed
		if ev.Kind == peer.EventDataChannel && ev.Channel != nil {
			ev.Channel.Close()
		}
		return
	}
	user := e.Peer()

	switch ev.Kind {
	case peer.EventICECandidate:
		if err := e.SendCandidate(ev.Candidate); err != nil {
			s.log.Debug("candidate not sent", "peer", user, "error", err)
		}

	case peer.EventConnectionState:
		s.log.Debug("connection state", "peer", user, "state", ev.State.String())
		if e.ConnectionStateChanged(ev.State) {
			s.observer.Error(callerr.Wrap(callerr.ErrConnectivity, "peer connection", nil, user))
			if err := s.reconnect("lost connection to " + user); err != nil {
				s.log.Error("reconnect failed", "error", err)
			}
		}

	case peer.EventTrack:
		contentID, expecting := s.floor.Expecting(user)
		sink := peer.Route(ev.Track, contentID, expecting)
		s.log.Debug("remote track", "peer", user, "kind", ev.Track.Kind.String(), "stream", ev.Track.StreamID, "sink", sink.String())
		s.observer.Track(user, sink, ev.Track)

	case peer.EventDataChannel:
		e.AttachChannel(ev.Channel)

	case peer.EventChannelOpen:
		if err := e.SendPeerMessage(models.PeerMessage{Type: models.PeerMessageTypeName, Name: s.cfg.User}); err != nil {
			s.log.Debug("name not sent", "peer", user, "error", err)
		}

	case peer.EventPeerMessage:
		m := ev.Message
		switch {
		case m.Type == models.PeerMessageTypeName:
			s.observer.PeerName(user, m.Name)
		case m.Text != "":
			sender := m.Sender
			if sender == "" {
				sender = user
			}
			ts := m.Timestamp
			if ts.IsZero() {
				ts = s.now()
			}
			s.observer.Chat(models.ChatMessage{Text: m.Text, Sender: sender, Timestamp: ts}, true)
		}
	}
}

type signaler struct{ s *Session }

func (g signaler) Signal(env models.Envelope) error {
	return g.s.send(models.Frame{Type: models.FrameTypeSignal, Room: env.Room, Signal: &env})
}

// broadcaster sends floor announcements to the room or to one member
type broadcaster struct{ s *Session }

func (b broadcaster) Broadcast(t models.SignalType, payload any) error {
	env, err := models.NewEnvelope(t, b.s.room, "", payload)
	if err != nil {
		return err
	}
	return b.s.send(models.Frame{Type: models.FrameTypeSignal, Room: b.s.room, Signal: &env})
}

func (b broadcaster) SendTo(user string, t models.SignalType, payload any) error {
	env, err := models.NewEnvelope(t, b.s.room, user, payload)
	if err != nil {
		return err
	}
	return b.s.send(models.Frame{Type: models.FrameTypeSignal, Room: b.s.room, Signal: &env})
}

// capturer publishes the content track on every peer connection
type capturer struct{ s *Session }

func (c capturer) Available() error {
	if c.s.cfg.Display == nil {
		return errors.New("no display source")
	}
	return nil
}

func (c capturer) Start(contentID string) error {
	s := c.s
	track, err := s.cfg.Display.Capture(s.ctx, contentID)
	if err != nil {
		return err
	}
	s.content = track

	for user, e := range s.peers {
		if err := e.AddTrack(track); err != nil {
			s.log.Warn("content track not added", "peer", user, "error", err)
			continue
		}
		if err := e.Renegotiate(); err != nil {
			s.negotiationFailed(user, err)
		}
	}
	return nil
}

func (c capturer) Stop(renegotiate bool) {
	s := c.s
	if s.content == nil {
		return
	}
	id := s.content.ID()
	s.content = nil

	for user, e := range s.peers {
		removed, err := e.RemoveTrack(id)
		if err != nil {
			s.log.Warn("content track not removed", "peer", user, "error", err)
		}
		if removed && renegotiate {
			if err := e.Renegotiate(); err != nil {
				s.negotiationFailed(user, err)
			}
		}
	}
	s.cfg.Display.Release()
}
