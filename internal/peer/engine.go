// Package peer runs one offer/answer negotiation per remote participant.
//
// An Engine is driven from a single goroutine. Connection callbacks never
// touch engine state directly; they are posted as Events tagged with the
// engine that produced them, so the owner can drop events from an engine it
// has already replaced.
package peer

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/webrtc-meet/internal/callerr"
	"github.com/mossy-p/webrtc-meet/internal/models"
)

const (
	// ChatLabel names the data channel that carries peer-direct chat
	ChatLabel = "chat"

	// CameraStreamID tags the local camera and microphone tracks. Content
	// tracks use their content ID as stream ID instead.
	CameraStreamID = "camera"

	maxPendingCandidates = 256
)

// ErrClosed is returned by operations on an engine that has been closed
var ErrClosed = errors.New("peer connection closed")

// State is the negotiation state of one peer
type State int

const (
	StateIdle State = iota
	StateOffering
	StateAnswering
	StateConnected
	StateFailed
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOffering:
		return "offering"
	case StateAnswering:
		return "answering"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// EventKind names an asynchronous connection event
type EventKind int

const (
	EventICECandidate EventKind = iota
	EventConnectionState
	EventTrack
	EventDataChannel
	EventChannelOpen
	EventPeerMessage
)

// Event is an asynchronous connection event bound to the engine it came from
type Event struct {
	Engine    *Engine
	Kind      EventKind
	Candidate webrtc.ICECandidateInit
	State     webrtc.PeerConnectionState
	Track     RemoteTrack
	Channel   DataChannel
	Message   models.PeerMessage
}

// Signaler delivers envelopes through the relay
type Signaler interface {
	Signal(env models.Envelope) error
}

// Config describes the peer an Engine negotiates with
type Config struct {
	Room     string
	Self     string
	Peer     string
	Factory  Factory
	Signaler Signaler
	// Post receives connection events; it is called from transport goroutines
	Post   func(Event)
	Logger *slog.Logger
}

// Engine is the negotiation state of one remote peer
type Engine struct {
	room string
	peer string
	conn Connection
	sig  Signaler
	post func(Event)
	log  *slog.Logger

	state State
	// polite peers roll back their own offer when offers collide
	polite      bool
	remoteSet   bool
	answered    bool
	renegotiate bool
	closed      bool

	pending []webrtc.ICECandidateInit
	senders map[string]Sender
	chat    DataChannel
}

// New opens a connection for cfg.Peer. Nothing is sent until Offer or
// HandleOffer is called.
func New(cfg Config) (*Engine, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	e := &Engine{
		room:    cfg.Room,
		peer:    cfg.Peer,
		sig:     cfg.Signaler,
		post:    cfg.Post,
		log:     log.With("peer", cfg.Peer),
		polite:  cfg.Self < cfg.Peer,
		senders: make(map[string]Sender),
	}

	conn, err := cfg.Factory(Handlers{
		OnICECandidate: func(c webrtc.ICECandidateInit) {
			e.emit(Event{Kind: EventICECandidate, Candidate: c})
		},
		OnConnectionState: func(s webrtc.PeerConnectionState) {
			e.emit(Event{Kind: EventConnectionState, State: s})
		},
		OnTrack: func(t RemoteTrack) {
			e.emit(Event{Kind: EventTrack, Track: t})
		},
		OnDataChannel: func(dc DataChannel) {
			// bind before the event hop so no early message is missed
			if dc.Label() == ChatLabel {
				e.bind(dc)
			}
			e.emit(Event{Kind: EventDataChannel, Channel: dc})
		},
	})
	if err != nil {
		return nil, callerr.New(callerr.ErrNegotiation, "open peer connection", err)
	}
	e.conn = conn
	return e, nil
}

// Peer returns the remote participant's user name
func (e *Engine) Peer() string { return e.peer }

// State returns the current negotiation state
func (e *Engine) State() State { return e.state }

// Polite reports whether this side yields when offers collide
func (e *Engine) Polite() bool { return e.polite }

func (e *Engine) emit(ev Event) {
	if e.post == nil {
		return
	}
	ev.Engine = e
	e.post(ev)
}

// Offer creates and sends an offer. The offering side of a fresh connection
// also opens the chat data channel. An offer requested while another is in
// flight is sent once the answer arrives.
func (e *Engine) Offer() error {
	if e.closed {
		return ErrClosed
	}
	if e.state == StateOffering {
		e.renegotiate = true
		return nil
	}

	if e.chat == nil && !e.answered {
		dc, err := e.conn.CreateDataChannel(ChatLabel)
		if err != nil {
			return callerr.New(callerr.ErrNegotiation, "create data channel", err)
		}
		e.bind(dc)
		e.AttachChannel(dc)
	}

	offer, err := e.conn.CreateOffer()
	if err != nil {
		return callerr.New(callerr.ErrNegotiation, "create offer", err)
	}
	if err := e.conn.SetLocalDescription(offer); err != nil {
		return callerr.New(callerr.ErrNegotiation, "set local offer", err)
	}

	e.state = StateOffering
	e.log.Debug("sending offer")
	return e.send(models.SignalTypeOffer, models.SessionDescription{Type: webrtc.SDPTypeOffer.String(), SDP: offer.SDP})
}

// Renegotiate re-enters the offering flow after local tracks changed
func (e *Engine) Renegotiate() error {
	return e.Offer()
}

// HandleOffer applies a remote offer and answers it. Offers are accepted in
// every state; a colliding offer is ignored by the impolite side and makes
// the polite side roll back its own.
func (e *Engine) HandleOffer(desc models.SessionDescription) error {
	if e.closed {
		return ErrClosed
	}

	if e.state == StateOffering {
		if !e.polite {
			e.log.Debug("ignoring colliding offer")
			return nil
		}
		if err := e.conn.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}); err != nil {
			return callerr.New(callerr.ErrNegotiation, "roll back local offer", err)
		}
		e.log.Debug("rolled back colliding offer")
		e.renegotiate = true
		e.state = e.stable()
	}

	prev := e.state
	e.state = StateAnswering

	if err := e.conn.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: desc.SDP}); err != nil {
		e.state = prev
		return callerr.New(callerr.ErrNegotiation, "set remote offer", err)
	}
	e.remoteSet = true
	e.answered = true
	e.flushCandidates()

	answer, err := e.conn.CreateAnswer()
	if err != nil {
		e.state = prev
		return callerr.New(callerr.ErrNegotiation, "create answer", err)
	}
	if err := e.conn.SetLocalDescription(answer); err != nil {
		e.state = prev
		return callerr.New(callerr.ErrNegotiation, "set local answer", err)
	}

	if err := e.send(models.SignalTypeAnswer, models.SessionDescription{Type: webrtc.SDPTypeAnswer.String(), SDP: answer.SDP}); err != nil {
		e.state = prev
		return err
	}
	e.state = StateConnected
	e.log.Debug("answered offer")

	return e.resumeRenegotiation()
}

// HandleAnswer applies the answer to our outstanding offer. Answers that
// arrive when no offer is outstanding are stale and ignored.
func (e *Engine) HandleAnswer(desc models.SessionDescription) error {
	if e.closed {
		return ErrClosed
	}
	if e.state != StateOffering {
		e.log.Debug("ignoring stale answer", "state", e.state)
		return nil
	}

	if err := e.conn.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: desc.SDP}); err != nil {
		// drop the offer so a later renegotiation can start over
		if rbErr := e.conn.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}); rbErr != nil {
			e.log.Debug("rollback after failed answer", "error", rbErr)
		}
		e.state = e.stable()
		return callerr.New(callerr.ErrNegotiation, "set remote answer", err)
	}
	e.remoteSet = true
	e.flushCandidates()
	e.state = StateConnected
	e.log.Debug("applied answer")

	return e.resumeRenegotiation()
}

// HandleCandidate applies a remote ICE candidate, buffering it until a
// remote description exists.
func (e *Engine) HandleCandidate(c models.ICECandidate) error {
	if e.closed {
		return ErrClosed
	}

	init := webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}

	if !e.remoteSet {
		if len(e.pending) >= maxPendingCandidates {
			e.log.Warn("dropping early ICE candidate, buffer full")
			return nil
		}
		e.pending = append(e.pending, init)
		return nil
	}

	if err := e.conn.AddICECandidate(init); err != nil {
		return callerr.New(callerr.ErrNegotiation, "add ICE candidate", err)
	}
	return nil
}

// Pending returns the number of candidates waiting for a remote description
func (e *Engine) Pending() int { return len(e.pending) }

func (e *Engine) flushCandidates() {
	for _, c := range e.pending {
		if err := e.conn.AddICECandidate(c); err != nil {
			e.log.Debug("failed to apply buffered candidate", "error", err)
		}
	}
	e.pending = nil
}

// SendCandidate forwards a locally gathered candidate to the peer
func (e *Engine) SendCandidate(c webrtc.ICECandidateInit) error {
	if e.closed {
		return ErrClosed
	}
	return e.send(models.SignalTypeICE, models.ICECandidate{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	})
}

// ConnectionStateChanged records the transport state and reports whether
// the engine has just failed.
func (e *Engine) ConnectionStateChanged(s webrtc.PeerConnectionState) bool {
	if e.closed {
		return false
	}
	switch s {
	case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed:
		if e.state == StateFailed {
			return false
		}
		e.log.Warn("peer connection lost", "state", s.String())
		e.state = StateFailed
		return true
	}
	return false
}

// AddTrack attaches a local track. Call Renegotiate afterwards once the
// connection is established.
func (e *Engine) AddTrack(track webrtc.TrackLocal) error {
	if e.closed {
		return ErrClosed
	}
	if _, ok := e.senders[track.ID()]; ok {
		return nil
	}
	sender, err := e.conn.AddTrack(track)
	if err != nil {
		return callerr.New(callerr.ErrNegotiation, "add track", err)
	}
	e.senders[track.ID()] = sender
	return nil
}

// RemoveTrack detaches a local track by ID. It reports whether the track was
// attached.
func (e *Engine) RemoveTrack(trackID string) (bool, error) {
	if e.closed {
		return false, ErrClosed
	}
	sender, ok := e.senders[trackID]
	if !ok {
		return false, nil
	}
	delete(e.senders, trackID)
	if err := e.conn.RemoveTrack(sender); err != nil {
		return true, callerr.New(callerr.ErrNegotiation, "remove track", err)
	}
	return true, nil
}

// Established reports whether an offer/answer exchange has completed
func (e *Engine) Established() bool { return e.remoteSet }

// AttachChannel adopts the chat data channel, whether we opened it or the
// peer did. Channels with other labels are closed.
func (e *Engine) AttachChannel(dc DataChannel) {
	if dc.Label() != ChatLabel {
		e.log.Debug("closing unexpected data channel", "label", dc.Label())
		dc.Close()
		return
	}
	if e.chat != nil && e.chat != dc {
		e.chat.Close()
	}
	e.chat = dc
}

// bind routes channel callbacks into events. It touches no engine state and
// may run on a transport goroutine.
func (e *Engine) bind(dc DataChannel) {
	dc.OnOpen(func() {
		e.emit(Event{Kind: EventChannelOpen})
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		var m models.PeerMessage
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			e.log.Debug("ignoring malformed data channel message", "error", err)
			return
		}
		e.emit(Event{Kind: EventPeerMessage, Message: m})
	})
}

// SendPeerMessage writes msg to the chat data channel
func (e *Engine) SendPeerMessage(msg models.PeerMessage) error {
	if e.closed {
		return ErrClosed
	}
	if e.chat == nil {
		return errors.New("chat channel not open")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return e.chat.SendText(string(data))
}

// Stats returns the connection's current statistics report
func (e *Engine) Stats() webrtc.StatsReport {
	if e.closed {
		return nil
	}
	return e.conn.GetStats()
}

// Close tears the negotiation down: the chat channel first, then the
// connection. Later calls are no-ops.
func (e *Engine) Close() {
	if e.closed {
		return
	}
	e.closed = true
	if e.chat != nil {
		if err := e.chat.Close(); err != nil {
			e.log.Debug("close data channel", "error", err)
		}
		e.chat = nil
	}
	if err := e.conn.Close(); err != nil {
		e.log.Debug("close peer connection", "error", err)
	}
	e.pending = nil
	e.senders = make(map[string]Sender)
	e.state = StateIdle
}

// Closed reports whether Close has been called
func (e *Engine) Closed() bool { return e.closed }

func (e *Engine) stable() State {
	if e.remoteSet {
		return StateConnected
	}
	return StateIdle
}

func (e *Engine) resumeRenegotiation() error {
	if !e.renegotiate {
		return nil
	}
	e.renegotiate = false
	return e.Offer()
}

func (e *Engine) send(t models.SignalType, payload any) error {
	env, err := models.NewEnvelope(t, e.room, e.peer, payload)
	if err != nil {
		return err
	}
	if err := e.sig.Signal(env); err != nil {
		return callerr.New(callerr.ErrConnectivity, "send "+string(t), err)
	}
	return nil
}

// Sink is where an inbound track is displayed
type Sink int

const (
	SinkPrimary Sink = iota
	SinkContent
)

// String returns the sink name
func (s Sink) String() string {
	if s == SinkContent {
		return "content"
	}
	return "primary"
}

// Route picks the sink for an inbound track from peer. Audio always goes to
// the primary sink. Video goes to the content sink while content is expected
// from that peer, unless the track is tagged as a camera stream.
func Route(track RemoteTrack, contentID string, expecting bool) Sink {
	if track.Kind != webrtc.RTPCodecTypeVideo || !expecting {
		return SinkPrimary
	}
	switch track.StreamID {
	case contentID:
		return SinkContent
	case CameraStreamID:
		return SinkPrimary
	default:
		// untagged tracks fall back to timing-based inference
		return SinkContent
	}
}
