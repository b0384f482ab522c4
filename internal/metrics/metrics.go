package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hijackd_messages_total",
			Help: "Total messages processed by the update engine, by collector and kind.",
		},
		[]string{"collector", "kind"},
	)

	ConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hijackd_conflicts_total",
			Help: "Total conflicts produced, by collector and classification.",
		},
		[]string{"collector", "type"},
	)

	DefaultRoutesFilteredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hijackd_default_routes_filtered_total",
			Help: "Default-route announces filtered instead of installed into the RIB.",
		},
		[]string{"collector"},
	)

	RIBNodes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hijackd_rib_nodes",
			Help: "Current number of prefixes held in a collector's RIB.",
		},
		[]string{"collector"},
	)

	StaleSweepRemovedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hijackd_stale_sweep_removed_total",
			Help: "RIB entries removed by a BVIEW_END stale sweep.",
		},
		[]string{"collector"},
	)

	FileProcessDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hijackd_file_process_duration_seconds",
			Help:    "Time to decode and process one collector dump file.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		},
		[]string{"collector", "phase"},
	)

	DecodeErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hijackd_decode_errors_total",
			Help: "Records dropped by a decoder, by reason.",
		},
		[]string{"collector", "reason"},
	)

	OutputRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hijackd_output_records_total",
			Help: "Records written to output, by kind (route, default, conflict).",
		},
		[]string{"collector", "kind"},
	)

	DBWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hijackd_db_write_duration_seconds",
			Help:    "Postgres sink write latency, by operation.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"op"},
	)

	DBRowsAffectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hijackd_db_rows_affected_total",
			Help: "Postgres sink rows written, by table and operation.",
		},
		[]string{"table", "op"},
	)
)

var registerOnce sync.Once

// Register registers every collector with the default Prometheus
// registry. Safe to call more than once; only the first call takes
// effect.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			MessagesTotal,
			ConflictsTotal,
			DefaultRoutesFilteredTotal,
			RIBNodes,
			StaleSweepRemovedTotal,
			FileProcessDuration,
			DecodeErrorsTotal,
			OutputRecordsTotal,
			DBWriteDuration,
			DBRowsAffectedTotal,
		)
	})
}
