// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CapturePacketsTotal counts captured packets by source and decode result
	CapturePacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meter_capture_packets_total",
			Help: "Total number of packets captured",
		},
		[]string{"source", "result"},
	)

	// CaptureDropsTotal counts packets dropped before the processing loop
	CaptureDropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meter_capture_drops_total",
			Help: "Total number of packets dropped before processing",
		},
		[]string{"source"},
	)

	// CaptureRestartsTotal counts capture loop restarts by reason
	CaptureRestartsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meter_capture_restarts_total",
			Help: "Total number of capture loop restarts",
		},
		[]string{"reason"},
	)

	// ServerChangesTotal counts game server identifications
	ServerChangesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meter_server_changes_total",
			Help: "Total number of identified game server connections",
		},
	)

	// ReassemblyBufferedBytes tracks out-of-order bytes held by the TCP reassembler
	ReassemblyBufferedBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "meter_reassembly_buffered_bytes",
			Help: "Bytes buffered awaiting a contiguous run",
		},
	)

	// ReassemblyEventsTotal counts reassembler anomalies (duplicate, gap_skip, reset)
	ReassemblyEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meter_reassembly_events_total",
			Help: "Total number of reassembler events by kind",
		},
		[]string{"kind"},
	)

	// FramesTotal counts frames by result (ok, desync)
	FramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meter_frames_total",
			Help: "Total number of application frames",
		},
		[]string{"result"},
	)

	// FragmentsTotal counts fragments by type
	FragmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meter_fragments_total",
			Help: "Total number of fragments by type",
		},
		[]string{"type"},
	)

	// MessagesTotal counts decoded notify messages by method
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meter_messages_total",
			Help: "Total number of notify messages by method",
		},
		[]string{"method"},
	)

	// DecodeErrorsTotal counts messages skipped because their payload was malformed
	DecodeErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meter_decode_errors_total",
			Help: "Total number of message decode failures",
		},
		[]string{"method"},
	)

	// UnknownAttrsTotal counts attribute ids without a decoder
	UnknownAttrsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meter_unknown_attrs_total",
			Help: "Total number of unrecognised attribute ids",
		},
		[]string{"entity"},
	)

	// ApplyLatencySeconds measures encounter apply latency per event
	ApplyLatencySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "meter_apply_latency_seconds",
			Help:    "Latency of applying one event to the encounter",
			Buckets: prometheus.ExponentialBuckets(0.000001, 2, 20), // 1µs to ~1s
		},
	)

	// PersistTasksTotal counts persistence tasks by kind and result (queued, dropped, written, failed)
	PersistTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meter_persist_tasks_total",
			Help: "Total number of persistence tasks",
		},
		[]string{"kind", "result"},
	)

	// SnapshotsTotal counts emitted snapshots
	SnapshotsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meter_emit_snapshots_total",
			Help: "Total number of snapshots pushed to clients",
		},
	)

	// WSClients tracks connected WebSocket clients
	WSClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "meter_ws_clients",
			Help: "Number of connected WebSocket clients",
		},
	)

	// CommandsTotal counts control commands by method and result (ok, error)
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meter_commands_total",
			Help: "Total number of control commands handled",
		},
		[]string{"method", "result"},
	)
)
