package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"github.com/mossy-p/webrtc-meet/internal/models"
	"github.com/mossy-p/webrtc-meet/internal/peer"
)

type fakeTransport struct {
	in     chan models.Frame
	out    chan models.Frame
	closed chan struct{}
	once   sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:     make(chan models.Frame),
		out:    make(chan models.Frame, 1024),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) Send(frame models.Frame) error {
	select {
	case <-f.closed:
		return errors.New("transport closed")
	default:
	}
	f.out <- frame
	return nil
}

func (f *fakeTransport) Incoming() <-chan models.Frame { return f.in }

func (f *fakeTransport) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

type fakeChannel struct {
	mu     sync.Mutex
	label  string
	onOpen func()
	onMsg  func(webrtc.DataChannelMessage)
	sent   []string
	closed bool
}

func (c *fakeChannel) Label() string { return c.label }

func (c *fakeChannel) OnOpen(f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onOpen = f
}

func (c *fakeChannel) OnMessage(f func(webrtc.DataChannelMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMsg = f
}

func (c *fakeChannel) SendText(s string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("channel closed")
	}
	c.sent = append(c.sent, s)
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeChannel) open() {
	c.mu.Lock()
	f := c.onOpen
	c.mu.Unlock()
	f()
}

func (c *fakeChannel) receive(data string) {
	c.mu.Lock()
	f := c.onMsg
	c.mu.Unlock()
	f(webrtc.DataChannelMessage{IsString: true, Data: []byte(data)})
}

func (c *fakeChannel) sentTexts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

type fakeSender struct{ track webrtc.TrackLocal }

func (s fakeSender) Track() webrtc.TrackLocal { return s.track }

// fakeConn is mutated on the session goroutine and inspected by tests
type fakeConn struct {
	h peer.Handlers

	mu       sync.Mutex
	offers   int
	answers  int
	tracks   map[string]string
	channels []*fakeChannel
	closed   bool
}

func (c *fakeConn) CreateOffer() (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%d", c.offers)}, nil
}

func (c *fakeConn) CreateAnswer() (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.answers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("answer-%d", c.answers)}, nil
}

func (c *fakeConn) SetLocalDescription(webrtc.SessionDescription) error { return nil }

func (c *fakeConn) SetRemoteDescription(webrtc.SessionDescription) error { return nil }

func (c *fakeConn) AddICECandidate(webrtc.ICECandidateInit) error { return nil }

func (c *fakeConn) AddTrack(track webrtc.TrackLocal) (peer.Sender, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tracks == nil {
		c.tracks = make(map[string]string)
	}
	c.tracks[track.ID()] = track.StreamID()
	return fakeSender{track: track}, nil
}

func (c *fakeConn) RemoveTrack(sender peer.Sender) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tracks, sender.Track().ID())
	return nil
}

func (c *fakeConn) CreateDataChannel(label string) (peer.DataChannel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := &fakeChannel{label: label}
	c.channels = append(c.channels, ch)
	return ch, nil
}

func (c *fakeConn) GetStats() webrtc.StatsReport { return webrtc.StatsReport{} }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) trackStreams() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.tracks))
	for id, stream := range c.tracks {
		out[id] = stream
	}
	return out
}

func (c *fakeConn) channel(i int) *fakeChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channels[i]
}

type fakeFactory struct {
	mu    sync.Mutex
	conns []*fakeConn
}

func (f *fakeFactory) open(h peer.Handlers) (peer.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &fakeConn{h: h}
	f.conns = append(f.conns, c)
	return c, nil
}

func (f *fakeFactory) all() []*fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeConn(nil), f.conns...)
}

func (f *fakeFactory) last() *fakeConn {
	conns := f.all()
	return conns[len(conns)-1]
}

type fakeMedia struct {
	mu       sync.Mutex
	err      error
	acquired int
	released int
}

func (m *fakeMedia) Acquire(context.Context) ([]webrtc.TrackLocal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.acquired++
	audio, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", peer.CameraStreamID)
	if err != nil {
		return nil, err
	}
	video, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", peer.CameraStreamID)
	if err != nil {
		return nil, err
	}
	return []webrtc.TrackLocal{audio, video}, nil
}

func (m *fakeMedia) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released++
}

func (m *fakeMedia) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acquired, m.released
}

type fakeDisplay struct {
	mu       sync.Mutex
	captured []string
	released int
}

func (d *fakeDisplay) Capture(_ context.Context, contentID string) (webrtc.TrackLocal, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.captured = append(d.captured, contentID)
	return webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "content-"+contentID, contentID)
}

func (d *fakeDisplay) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.released++
}

func (d *fakeDisplay) releases() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.released
}

type trackEvent struct {
	user string
	sink peer.Sink
}

type recordingObserver struct {
	NopObserver
	mu       sync.Mutex
	statuses []Status
	joined   []string
	left     []string
	names    map[string]string
	tracks   []trackEvent
	stopped  []string
	chat     []models.ChatMessage
	direct   []bool
	errs     []error
}

func (o *recordingObserver) Status(s Status, _ string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses = append(o.statuses, s)
}

func (o *recordingObserver) PeerJoined(user string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.joined = append(o.joined, user)
}

func (o *recordingObserver) PeerLeft(user string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.left = append(o.left, user)
}

func (o *recordingObserver) PeerName(user, name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.names == nil {
		o.names = make(map[string]string)
	}
	o.names[user] = name
}

func (o *recordingObserver) Track(user string, sink peer.Sink, _ peer.RemoteTrack) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tracks = append(o.tracks, trackEvent{user: user, sink: sink})
}

func (o *recordingObserver) ContentStopped(user string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopped = append(o.stopped, user)
}

func (o *recordingObserver) Chat(msg models.ChatMessage, direct bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.chat = append(o.chat, msg)
	o.direct = append(o.direct, direct)
}

func (o *recordingObserver) Error(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errs = append(o.errs, err)
}

func (o *recordingObserver) snapshot(f func(o *recordingObserver)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	f(o)
}

// fixture runs a session for alice against fakes
type fixture struct {
	t         *testing.T
	session   *Session
	transport *fakeTransport
	factory   *fakeFactory
	media     *fakeMedia
	display   *fakeDisplay
	observer  *recordingObserver
	result    chan error
}

type fixtureOption func(*Config)

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	f := &fixture{
		t:         t,
		transport: newFakeTransport(),
		factory:   &fakeFactory{},
		media:     &fakeMedia{},
		display:   &fakeDisplay{},
		observer:  &recordingObserver{},
		result:    make(chan error, 1),
	}
	cfg := Config{
		Room:         "ABC123",
		User:         "alice",
		Transport:    f.transport,
		Factory:      f.factory.open,
		Media:        f.media,
		Display:      f.display,
		Observer:     f.observer,
		NewContentID: func() string { return "share-1" },
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	f.session = New(cfg)
	return f
}

func (f *fixture) start() {
	ctx, cancel := context.WithCancel(context.Background())
	f.t.Cleanup(cancel)
	go func() { f.result <- f.session.Run(ctx) }()
}

// startJoined runs the session and completes the join handshake
func (f *fixture) startJoined() {
	f.start()
	join := f.next()
	require.Equal(f.t, models.FrameTypeJoin, join.Type)
	f.feed(models.Frame{Type: models.FrameTypeJoined, Room: "room-1", User: "alice", ParticipantCount: 1})
}

// feed hands a frame to the session and returns once it has been received.
// Commands issued afterwards observe its effects.
func (f *fixture) feed(frame models.Frame) {
	select {
	case f.transport.in <- frame:
	case <-time.After(5 * time.Second):
		f.t.Fatalf("session did not accept %s frame", frame.Type)
	}
}

func (f *fixture) signal(from string, t models.SignalType, payload any) {
	env, err := models.NewEnvelope(t, "room-1", "alice", payload)
	require.NoError(f.t, err)
	env.User = from
	f.feed(models.Frame{Type: models.FrameTypeSignal, Room: "room-1", Signal: &env})
}

func (f *fixture) offerFrom(from string) {
	f.signal(from, models.SignalTypeOffer, models.SessionDescription{Type: "offer", SDP: "remote-offer"})
}

// next returns the next frame the session sent
func (f *fixture) next() models.Frame {
	select {
	case frame := <-f.transport.out:
		return frame
	case <-time.After(5 * time.Second):
		f.t.Fatal("session sent nothing")
		return models.Frame{}
	}
}

// drain returns every frame sent so far
func (f *fixture) drain() []models.Frame {
	var frames []models.Frame
	for {
		select {
		case frame := <-f.transport.out:
			frames = append(frames, frame)
		default:
			return frames
		}
	}
}

// sync waits for the session goroutine to finish everything queued before it
func (f *fixture) sync() []PeerState {
	peers, err := f.session.Peers(context.Background())
	require.NoError(f.t, err)
	return peers
}

func (f *fixture) wait() error {
	select {
	case err := <-f.result:
		return err
	case <-time.After(5 * time.Second):
		f.t.Fatal("session did not stop")
		return nil
	}
}

func signals(frames []models.Frame) []models.Envelope {
	var out []models.Envelope
	for _, fr := range frames {
		if fr.Type == models.FrameTypeSignal && fr.Signal != nil {
			out = append(out, *fr.Signal)
		}
	}
	return out
}

func countSignals(frames []models.Frame, t models.SignalType) int {
	n := 0
	for _, env := range signals(frames) {
		if env.Type == t {
			n++
		}
	}
	return n
}
