// Package debugpage mounts the reader's status on the tsweb debug index.
package debugpage

import (
	"fmt"
	"net/http"

	"tailscale.com/tsweb"

	"github.com/banshee-data/thermocouple/internal/httputil"
	"github.com/banshee-data/thermocouple/internal/poller"
	"github.com/banshee-data/thermocouple/internal/version"
)

// Status is a point-in-time view of the reader.
type Status struct {
	Session string         `json:"session"`
	State   string         `json:"state"`
	Port    string         `json:"port"`
	Summary poller.Summary `json:"summary"`
}

// StatusFunc returns the current status. It is called from HTTP handler
// goroutines and must be safe for concurrent use.
type StatusFunc func() Status

// Attach registers the debug index on mux under /debug/ along with a
// /debug/reading JSON endpoint and, when feed is non-nil, a /debug/tail event
// stream. Access is limited by tsweb to loopback and trusted peers.
func Attach(mux *http.ServeMux, status StatusFunc, feed *Feed) {
	debug := tsweb.Debugger(mux)

	debug.KV("Build", version.String())
	debug.KVFunc("Session", func() any {
		s := status()
		return fmt.Sprintf("%s on %s (%s)", s.Session, s.Port, s.State)
	})
	debug.KVFunc("Last reading", func() any {
		return formatLast(status().Summary)
	})
	debug.KVFunc("Readings", func() any {
		s := status().Summary
		return fmt.Sprintf("%d ok, %d failed", s.Readings, s.Errors)
	})
	debug.KVFunc("Window", func() any {
		return formatWindow(status().Summary)
	})

	debug.HandleFunc("reading", "latest reading and window statistics as JSON", httputil.ReadOnly(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, status())
	}))

	if feed != nil {
		debug.KVFunc("Tail subscribers", func() any { return feed.Subscribers() })
		debug.HandleFunc("tail", "live readings as server-sent events", feed.serveTail)
	}
}

func formatLast(s poller.Summary) string {
	if s.Last == nil {
		if s.LastErr != "" {
			return "none (" + s.LastErr + ")"
		}
		return "none"
	}
	return fmt.Sprintf("%.2f °C at %s", s.Last.Celsius, s.Last.Time.Format("15:04:05.000"))
}

func formatWindow(s poller.Summary) string {
	if s.Window == 0 {
		return "empty"
	}
	return fmt.Sprintf("n=%d mean=%.2f median=%.2f sd=%.3f min=%.2f max=%.2f",
		s.Window, s.Mean, s.Median, s.StdDev, s.Min, s.Max)
}
