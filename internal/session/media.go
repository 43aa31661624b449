package session

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/webrtc-meet/internal/peer"
)

// StaticMedia publishes an audio and a video track tagged as the camera
// stream without feeding them samples. Headless participants use it so
// peers still negotiate both media sections.
type StaticMedia struct {
	tracks []webrtc.TrackLocal
}

// Acquire creates the audio and camera tracks
func (m *StaticMedia) Acquire(context.Context) ([]webrtc.TrackLocal, error) {
	audio, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", peer.CameraStreamID)
	if err != nil {
		return nil, err
	}
	video, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", peer.CameraStreamID)
	if err != nil {
		return nil, err
	}
	m.tracks = []webrtc.TrackLocal{audio, video}
	return m.tracks, nil
}

// Release drops the tracks
func (m *StaticMedia) Release() { m.tracks = nil }

// StaticDisplay is a DisplaySource producing an idle VP8 content track
type StaticDisplay struct {
	track webrtc.TrackLocal
}

// Capture creates a video track tagged with contentID
func (d *StaticDisplay) Capture(_ context.Context, contentID string) (webrtc.TrackLocal, error) {
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "content-"+contentID, contentID)
	if err != nil {
		return nil, err
	}
	d.track = track
	return track, nil
}

// Release drops the content track
func (d *StaticDisplay) Release() { d.track = nil }
