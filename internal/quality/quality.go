// Package quality samples peer connection statistics and grades the link.
// It only observes; nothing here feeds back into negotiation.
package quality

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/pion/webrtc/v4"
)

// DefaultInterval is the sampling period while a call is active
const DefaultInterval = 2 * time.Second

// Level grades the connection to one peer
type Level int

const (
	LevelConnecting Level = iota
	LevelExcellent
	LevelGood
	LevelPoor
)

// String returns the label shown to the user
func (l Level) String() string {
	switch l {
	case LevelExcellent:
		return "excellent"
	case LevelGood:
		return "good"
	case LevelPoor:
		return "poor"
	default:
		return "connecting"
	}
}

// Sample is one reading of inbound video statistics
type Sample struct {
	RTT    time.Duration
	Loss   float64 // fraction of packets lost, 0..1
	Jitter time.Duration
	// Valid is false until statistics are available
	Valid bool
}

// Classify grades a sample
func Classify(s Sample) Level {
	switch {
	case !s.Valid:
		return LevelConnecting
	case s.RTT < 150*time.Millisecond && s.Loss < 0.02 && s.Jitter < 30*time.Millisecond:
		return LevelExcellent
	case s.RTT < 300*time.Millisecond && s.Loss < 0.05 && s.Jitter < 50*time.Millisecond:
		return LevelGood
	default:
		return LevelPoor
	}
}

// FromReport extracts a sample from the video remote-inbound-rtp entry of a
// stats report, falling back to local inbound-rtp video statistics when the
// peer has not reported yet.
func FromReport(report webrtc.StatsReport) Sample {
	var (
		remote  *webrtc.RemoteInboundRTPStreamStats
		inbound *webrtc.InboundRTPStreamStats
	)

	// map order is random; pick by ID so repeated samples are stable
	ids := make([]string, 0, len(report))
	for id := range report {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		switch st := report[id].(type) {
		case webrtc.RemoteInboundRTPStreamStats:
			if st.Kind == "video" && remote == nil {
				remote = &st
			}
		case webrtc.InboundRTPStreamStats:
			if st.Kind == "video" && inbound == nil {
				inbound = &st
			}
		}
	}

	switch {
	case remote != nil:
		return Sample{
			RTT:    seconds(remote.RoundTripTime),
			Loss:   lossRatio(remote.PacketsLost, remote.PacketsReceived),
			Jitter: seconds(remote.Jitter),
			Valid:  true,
		}
	case inbound != nil:
		return Sample{
			Loss:   lossRatio(inbound.PacketsLost, inbound.PacketsReceived),
			Jitter: seconds(inbound.Jitter),
			Valid:  inbound.PacketsReceived > 0,
		}
	default:
		return Sample{}
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func lossRatio(lost int32, received uint32) float64 {
	if lost <= 0 {
		return 0
	}
	total := float64(received) + float64(lost)
	return float64(lost) / total
}

// Reading is the graded sample of one peer
type Reading struct {
	Peer   string
	Sample Sample
	Level  Level
}

// Source returns the current stats report of every remote peer
type Source func(ctx context.Context) (map[string]webrtc.StatsReport, error)

// Monitor samples a Source on a fixed interval
type Monitor struct {
	source   Source
	interval time.Duration
	report   func([]Reading)
	log      *slog.Logger
}

// NewMonitor creates a monitor that hands every reading to report. A
// non-positive interval falls back to DefaultInterval.
func NewMonitor(source Source, interval time.Duration, report func([]Reading)) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		source:   source,
		interval: interval,
		report:   report,
		log:      slog.With("component", "quality"),
	}
}

// Run samples until ctx is done
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			readings, err := m.Sample(ctx)
			if err != nil {
				m.log.Debug("stats unavailable", "error", err)
				continue
			}
			if len(readings) > 0 {
				m.report(readings)
			}
		}
	}
}

// Sample takes one reading of every peer, ordered by peer name
func (m *Monitor) Sample(ctx context.Context) ([]Reading, error) {
	reports, err := m.source(ctx)
	if err != nil {
		return nil, err
	}

	readings := make([]Reading, 0, len(reports))
	for peer, report := range reports {
		s := FromReport(report)
		readings = append(readings, Reading{Peer: peer, Sample: s, Level: Classify(s)})
	}
	sort.Slice(readings, func(i, j int) bool { return readings[i].Peer < readings[j].Peer })
	return readings, nil
}
