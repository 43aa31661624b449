// Package floor keeps the content-sharing floor of one room.
//
// There is no central arbiter. Every participant mirrors the floor from the
// content-start and content-stop messages it sees, and a holder that hears
// another participant start yields immediately. Ending a share always
// announces content-stop exactly once.
package floor

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/mossy-p/webrtc-meet/internal/callerr"
	"github.com/mossy-p/webrtc-meet/internal/models"
)

// Broadcaster announces floor changes. Broadcast reaches every other room
// member, SendTo only the named one.
type Broadcaster interface {
	Broadcast(t models.SignalType, payload any) error
	SendTo(user string, t models.SignalType, payload any) error
}

// Capturer owns the local content stream
type Capturer interface {
	// Available returns an error when content capture is not possible here
	Available() error
	// Start begins capture and publishes the content track tagged with contentID
	Start(contentID string) error
	// Stop ends capture and withdraws the content track, renegotiating with
	// peers when renegotiate is set
	Stop(renegotiate bool)
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithIDGenerator replaces the content ID generator
func WithIDGenerator(f func() string) Option {
	return func(c *Coordinator) { c.newID = f }
}

// WithLogger sets the logger floor events are written to
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// Coordinator is the local view of the floor. It is not safe for concurrent
// use.
type Coordinator struct {
	self      string
	holding   bool
	contentID string
	expecting map[string]string

	out     Broadcaster
	capture Capturer
	newID   func() string
	log     *slog.Logger
}

// New creates the floor view of participant self
func New(self string, out Broadcaster, capture Capturer, opts ...Option) *Coordinator {
	c := &Coordinator{
		self:      self,
		expecting: make(map[string]string),
		out:       out,
		capture:   capture,
		newID:     uuid.NewString,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", "floor")
	return c
}

// Start claims the floor and begins capture. The claim is announced and
// recorded before capture starts; a capture failure releases it again.
func (c *Coordinator) Start() (string, error) {
	if c.holding {
		return c.contentID, nil
	}
	if err := c.capture.Available(); err != nil {
		return "", callerr.Wrap(callerr.ErrPlatformUnsupported, "share content", err, "content capture is not supported")
	}

	id := c.newID()
	if err := c.out.Broadcast(models.SignalTypeContentStart, models.ContentPayload{ContentID: id}); err != nil {
		return "", callerr.New(callerr.ErrConnectivity, "announce content-start", err)
	}
	c.holding = true
	c.contentID = id
	c.log.Info("claimed floor", "content", id)

	if err := c.capture.Start(id); err != nil {
		c.release(false)
		return "", callerr.New(callerr.ErrMediaAcquisition, "start content capture", err)
	}
	return id, nil
}

// Stop ends a share started locally. It is a no-op without the floor.
func (c *Coordinator) Stop() {
	if !c.holding {
		return
	}
	c.log.Info("stopping share", "content", c.contentID)
	c.release(true)
}

// CaptureEnded handles the content stream ending on its own, for example
// when the captured window closes.
func (c *Coordinator) CaptureEnded() {
	if !c.holding {
		return
	}
	c.log.Info("content capture ended", "content", c.contentID)
	c.release(true)
}

// Introduce tells a participant who arrived after our content-start that we
// hold the floor, so it routes our content track correctly. It does nothing
// without the floor.
func (c *Coordinator) Introduce(user string) error {
	if !c.holding {
		return nil
	}
	if err := c.out.SendTo(user, models.SignalTypeContentStart, models.ContentPayload{ContentID: c.contentID}); err != nil {
		return callerr.New(callerr.ErrConnectivity, "announce content-start", err)
	}
	c.log.Debug("announced floor to late joiner", "peer", user, "content", c.contentID)
	return nil
}

// HandleStart records a content-start from another participant. If we hold
// the floor we yield first. It reports whether we were preempted.
func (c *Coordinator) HandleStart(from, contentID string) bool {
	if from == c.self || contentID == "" {
		return false
	}

	preempted := false
	if c.holding {
		c.log.Info("preempted", "by", from, "content", c.contentID)
		c.release(true)
		preempted = true
	}
	c.expecting[from] = contentID
	return preempted
}

// HandleStop clears the expectation for from only. It reports whether there
// was one, meaning a displayed content stream should be hidden.
func (c *Coordinator) HandleStop(from string) bool {
	if _, ok := c.expecting[from]; !ok {
		return false
	}
	delete(c.expecting, from)
	return true
}

// Expecting returns the content ID announced by user, if any
func (c *Coordinator) Expecting(user string) (string, bool) {
	id, ok := c.expecting[user]
	return id, ok
}

// PeerLeft forgets a departed participant's content. It reports whether
// there was any.
func (c *Coordinator) PeerLeft(user string) bool {
	return c.HandleStop(user)
}

// Holding returns our content ID while we hold the floor
func (c *Coordinator) Holding() (string, bool) {
	return c.contentID, c.holding
}

// Reset drops all floor state, announcing content-stop if we held the floor.
// Peer connections are assumed gone, so nothing is renegotiated.
func (c *Coordinator) Reset() {
	if c.holding {
		c.release(false)
	}
	clear(c.expecting)
}

func (c *Coordinator) release(renegotiate bool) {
	id := c.contentID
	c.holding = false
	c.contentID = ""

	c.capture.Stop(renegotiate)
	if err := c.out.Broadcast(models.SignalTypeContentStop, models.ContentPayload{ContentID: id}); err != nil {
		c.log.Warn("failed to announce content-stop", "content", id, "error", err)
	}
}
