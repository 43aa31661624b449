package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// PrometheusHandler exposes Metrics in Prometheus' text exposition format.
//
// Counters share a single metric with an `event` label; gauges share one with
// a `name` label. collect, if set, runs before each scrape so callers can
// refresh gauges from live state.
func PrometheusHandler(m *Metrics, collect func(*Metrics)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
			return
		}
		if collect != nil {
			collect(m)
		}

		escape := strings.NewReplacer("\\", "\\\\", "\"", "\\\"").Replace

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		snap := m.Snapshot()
		_, _ = fmt.Fprintln(w, "# HELP webrtc_meet_events_total Signaling event counters.")
		_, _ = fmt.Fprintln(w, "# TYPE webrtc_meet_events_total counter")
		for _, k := range sortedKeys(snap) {
			_, _ = fmt.Fprintf(w, "webrtc_meet_events_total{event=\"%s\"} %d\n", escape(k), snap[k])
		}

		gauges := m.Gauges()
		_, _ = fmt.Fprintln(w, "# HELP webrtc_meet_state Current registry state.")
		_, _ = fmt.Fprintln(w, "# TYPE webrtc_meet_state gauge")
		for _, k := range sortedKeys(gauges) {
			_, _ = fmt.Fprintf(w, "webrtc_meet_state{name=\"%s\"} %d\n", escape(k), gauges[k])
		}
	})
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
