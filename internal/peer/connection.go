package peer

import (
	"errors"

	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/webrtc-meet/config"
)

// Connection is the negotiation contract of one peer connection. The pion
// adapter below implements it; tests substitute fakes.
type Connection interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	AddTrack(track webrtc.TrackLocal) (Sender, error)
	RemoveTrack(sender Sender) error
	CreateDataChannel(label string) (DataChannel, error)
	GetStats() webrtc.StatsReport
	Close() error
}

// Sender is the sending side of one local track
type Sender interface {
	Track() webrtc.TrackLocal
}

// DataChannel is the part of *webrtc.DataChannel the chat transport uses
type DataChannel interface {
	Label() string
	OnOpen(f func())
	OnMessage(f func(msg webrtc.DataChannelMessage))
	SendText(s string) error
	Close() error
}

// RemoteTrack describes an inbound track. Remote is nil for fakes.
type RemoteTrack struct {
	ID       string
	StreamID string
	Kind     webrtc.RTPCodecType
	Remote   *webrtc.TrackRemote
}

// Handlers receive the asynchronous events of a Connection. They are called
// from transport goroutines and must not block.
type Handlers struct {
	OnICECandidate    func(candidate webrtc.ICECandidateInit)
	OnConnectionState func(state webrtc.PeerConnectionState)
	OnTrack           func(track RemoteTrack)
	OnDataChannel     func(dc DataChannel)
}

// Factory opens a new Connection wired to h
type Factory func(h Handlers) (Connection, error)

// NewAPI builds a pion API with default codecs and interceptors whose
// internal logging goes through loggerFactory.
func NewAPI(loggerFactory logging.LoggerFactory) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, err
	}

	se := webrtc.SettingEngine{}
	if loggerFactory != nil {
		se.LoggerFactory = loggerFactory
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	), nil
}

// ICEServers turns the client configuration into pion ICE servers
func ICEServers(cfg *config.ClientConfig) []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if stun := cfg.GetSTUNServers(); len(stun) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: stun})
	}
	if turn := cfg.GetTURNServers(); len(turn) > 0 {
		servers = append(servers, webrtc.ICEServer{
			URLs:       turn,
			Username:   cfg.TURNUser,
			Credential: cfg.TURNPass,
		})
	}
	return servers
}

// NewPionFactory opens real pion peer connections from api
func NewPionFactory(api *webrtc.API, iceServers []webrtc.ICEServer) Factory {
	return func(h Handlers) (Connection, error) {
		pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
		if err != nil {
			return nil, err
		}
		return wrap(pc, h), nil
	}
}

type pionConnection struct {
	pc *webrtc.PeerConnection
}

func wrap(pc *webrtc.PeerConnection, h Handlers) *pionConnection {
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || h.OnICECandidate == nil {
			return
		}
		h.OnICECandidate(c.ToJSON())
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if h.OnConnectionState != nil {
			h.OnConnectionState(state)
		}
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if h.OnTrack != nil {
			h.OnTrack(RemoteTrack{
				ID:       track.ID(),
				StreamID: track.StreamID(),
				Kind:     track.Kind(),
				Remote:   track,
			})
		}
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if h.OnDataChannel != nil {
			h.OnDataChannel(dc)
		}
	})
	return &pionConnection{pc: pc}
}

func (c *pionConnection) CreateOffer() (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(nil)
}

func (c *pionConnection) CreateAnswer() (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

func (c *pionConnection) SetLocalDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(desc)
}

func (c *pionConnection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(desc)
}

func (c *pionConnection) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(candidate)
}

func (c *pionConnection) AddTrack(track webrtc.TrackLocal) (Sender, error) {
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return nil, err
	}
	return sender, nil
}

func (c *pionConnection) RemoveTrack(sender Sender) error {
	s, ok := sender.(*webrtc.RTPSender)
	if !ok {
		return errors.New("sender does not belong to a pion connection")
	}
	return c.pc.RemoveTrack(s)
}

func (c *pionConnection) CreateDataChannel(label string) (DataChannel, error) {
	ordered := true
	dc, err := c.pc.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, err
	}
	return dc, nil
}

func (c *pionConnection) GetStats() webrtc.StatsReport {
	return c.pc.GetStats()
}

func (c *pionConnection) Close() error {
	return c.pc.Close()
}
