package peer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/webrtc-meet/internal/models"
)

type fakeSender struct {
	track webrtc.TrackLocal
}

func (s *fakeSender) Track() webrtc.TrackLocal { return s.track }

type fakeChannel struct {
	label   string
	onOpen  func()
	onMsg   func(webrtc.DataChannelMessage)
	sent    []string
	closed  bool
	sendErr error
}

func (c *fakeChannel) Label() string { return c.label }
func (c *fakeChannel) OnOpen(f func()) { c.onOpen = f }
func (c *fakeChannel) OnMessage(f func(msg webrtc.DataChannelMessage)) { c.onMsg = f }
func (c *fakeChannel) Close() error { c.closed = true; return nil }

func (c *fakeChannel) SendText(s string) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, s)
	return nil
}

type fakeConn struct {
	h          Handlers
	offers     int
	answers    int
	local      []webrtc.SessionDescription
	remote     []webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	tracks     map[string]webrtc.TrackLocal
	channels   []*fakeChannel
	closed     bool
	failRemote error
}

func (c *fakeConn) CreateOffer() (webrtc.SessionDescription, error) {
	c.offers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%d", c.offers)}, nil
}

func (c *fakeConn) CreateAnswer() (webrtc.SessionDescription, error) {
	c.answers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("answer-%d", c.answers)}, nil
}

func (c *fakeConn) SetLocalDescription(desc webrtc.SessionDescription) error {
	c.local = append(c.local, desc)
	return nil
}

func (c *fakeConn) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if c.failRemote != nil {
		return c.failRemote
	}
	c.remote = append(c.remote, desc)
	return nil
}

func (c *fakeConn) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	if len(c.remote) == 0 {
		return errors.New("remote description not set")
	}
	c.candidates = append(c.candidates, candidate)
	return nil
}

func (c *fakeConn) AddTrack(track webrtc.TrackLocal) (Sender, error) {
	if c.tracks == nil {
		c.tracks = make(map[string]webrtc.TrackLocal)
	}
	c.tracks[track.ID()] = track
	return &fakeSender{track: track}, nil
}

func (c *fakeConn) RemoveTrack(sender Sender) error {
	delete(c.tracks, sender.Track().ID())
	return nil
}

func (c *fakeConn) CreateDataChannel(label string) (DataChannel, error) {
	ch := &fakeChannel{label: label}
	c.channels = append(c.channels, ch)
	return ch, nil
}

func (c *fakeConn) GetStats() webrtc.StatsReport { return webrtc.StatsReport{} }

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

// fakeFactory records every connection it opens
type fakeFactory struct {
	conns []*fakeConn
}

func (f *fakeFactory) open(h Handlers) (Connection, error) {
	c := &fakeConn{h: h}
	f.conns = append(f.conns, c)
	return c, nil
}

func (f *fakeFactory) last() *fakeConn { return f.conns[len(f.conns)-1] }

type recordingSignaler struct {
	mu   sync.Mutex
	sent []models.Envelope
}

func (s *recordingSignaler) Signal(env models.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, env)
	return nil
}

func (s *recordingSignaler) types() []models.SignalType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.SignalType, len(s.sent))
	for i, env := range s.sent {
		out[i] = env.Type
	}
	return out
}
