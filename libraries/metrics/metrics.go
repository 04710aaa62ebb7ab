// Package metrics registers the Prometheus collectors the Replicator and
// Reader fleet update in-process (SPEC_FULL.md's DOMAIN STACK: metrics are
// observed, never served — there is no HTTP control surface in this
// module's scope).
//
// Grounded on actionindex/cmd/actionindex/main.go's category-based startup
// logging for naming conventions, adapted here to metric names instead.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	SequenceCurrent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "redocdc",
		Name:      "sequence_current",
		Help:      "Sequence number the replicator is currently processing.",
	})

	FileOffsetCurrent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "redocdc",
		Name:      "file_offset_bytes",
		Help:      "Confirmed-read offset within the current sequence file.",
	})

	FilesProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "redocdc",
		Name:      "files_processed_total",
		Help:      "Count of redo log files that reached a terminal status, by code.",
	}, []string{"code", "group"})

	BlockErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "redocdc",
		Name:      "block_errors_total",
		Help:      "Count of block validation failures, by kind.",
	}, []string{"kind"})

	ResetlogsBranchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "redocdc",
		Name:      "resetlogs_branches_total",
		Help:      "Count of detected resetlogs (incarnation) branches.",
	})

	RingBufferBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "redocdc",
		Name:      "ring_buffer_bytes",
		Help:      "Bytes currently held in a reader's ring buffer.",
	}, []string{"group"})

	ArchiveQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "redocdc",
		Name:      "archive_queue_depth",
		Help:      "Number of archived log files currently queued for processing.",
	})
)

// Registry is a private registry (rather than prometheus.DefaultRegisterer)
// so embedding this module in a larger process never collides with that
// process's own metric names.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		SequenceCurrent,
		FileOffsetCurrent,
		FilesProcessedTotal,
		BlockErrorsTotal,
		ResetlogsBranchesTotal,
		RingBufferBytes,
		ArchiveQueueDepth,
	)
}
