// Package metrics exports Prometheus collectors for the command router and
// the stream relay.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	promCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lighthouse_commands_total",
			Help: "Container commands dispatched, by command and response status",
		},
		[]string{"command", "status"},
	)
	promRuntimeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lighthouse_runtime_errors_total",
			Help: "Failed runtime calls, by operation",
		},
		[]string{"op"},
	)
	promSessionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lighthouse_stream_sessions_active",
			Help: "Stream sessions with an open upstream subscription",
		},
		[]string{"kind"},
	)
	promSessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lighthouse_stream_sessions_total",
			Help: "Stream sessions opened",
		},
		[]string{"kind"},
	)
	promChunks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lighthouse_stream_chunks_total",
			Help: "Chunks forwarded to stream clients",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		promCommands,
		promRuntimeErrors,
		promSessionsActive,
		promSessions,
		promChunks,
	)
}

// UnsupportedCommand labels every verb the router does not recognise, so
// client input never becomes a label value.
const UnsupportedCommand = "unsupported"

// IncCommand counts one dispatched command with the status it answered.
func IncCommand(command string, status int) {
	if command == "" {
		command = "inspect"
	}
	promCommands.WithLabelValues(command, strconv.Itoa(status)).Inc()
}

// IncRuntimeError counts one failed runtime call.
func IncRuntimeError(op string) {
	promRuntimeErrors.WithLabelValues(op).Inc()
}

// SessionOpened records a new stream session.
func SessionOpened(kind string) {
	promSessions.WithLabelValues(kind).Inc()
	promSessionsActive.WithLabelValues(kind).Inc()
}

// SessionClosed records a stream session whose upstream was released.
func SessionClosed(kind string) {
	promSessionsActive.WithLabelValues(kind).Dec()
}

// IncChunk counts one forwarded chunk.
func IncChunk(kind string) {
	promChunks.WithLabelValues(kind).Inc()
}

// Handler exposes the default registry in the Prometheus text format.
func Handler() http.Handler { return promhttp.Handler() }
