package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	FilesStagedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mrtreplay_files_staged_total",
			Help: "MRT files downloaded and staged into the master directory.",
		},
		[]string{"router", "kind"},
	)

	FilesProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mrtreplay_files_processed_total",
			Help: "MRT files fully replayed and moved to the processed directory.",
		},
		[]string{"router", "kind"},
	)

	FilesBadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mrtreplay_files_bad_total",
			Help: "MRT files retired with a .bad suffix after a malformed record.",
		},
		[]string{"router"},
	)

	BytesDownloadedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mrtreplay_bytes_downloaded_total",
			Help: "Compressed bytes fetched from the mirror.",
		},
		[]string{"router"},
	)

	ContinuityAnomaliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mrtreplay_continuity_anomalies_total",
			Help: "UPDATES files withheld or flagged for a timestamp gap.",
		},
		[]string{"router"},
	)

	RecordsDecodedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mrtreplay_records_decoded_total",
			Help: "MRT records decoded by type.",
		},
		[]string{"type"},
	)

	ParseErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mrtreplay_parse_errors_total",
			Help: "Parse failures by stage.",
		},
		[]string{"stage", "reason"},
	)

	MessagesEmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mrtreplay_messages_emitted_total",
			Help: "BMP messages written to the collector by type.",
		},
		[]string{"type"},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mrtreplay_queue_depth",
			Help: "Encoded BMP messages waiting in the forwarding queue.",
		},
	)

	CollectorReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mrtreplay_collector_reconnects_total",
			Help: "Collector session re-establishments after the first.",
		},
	)

	CollectorConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mrtreplay_collector_connected",
			Help: "Collector session established (0/1).",
		},
	)

	LastRecordTimestamp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mrtreplay_last_record_timestamp_seconds",
			Help: "MRT timestamp of the last replayed record.",
		},
		[]string{"router"},
	)
)

func Register() {
	prometheus.MustRegister(
		FilesStagedTotal,
		FilesProcessedTotal,
		FilesBadTotal,
		BytesDownloadedTotal,
		ContinuityAnomaliesTotal,
		RecordsDecodedTotal,
		ParseErrorsTotal,
		MessagesEmittedTotal,
		QueueDepth,
		CollectorReconnectsTotal,
		CollectorConnected,
		LastRecordTimestamp,
	)
}
