package convert

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	conversionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "udf2parquet_conversions_total",
		Help: "Conversion outcomes by status.",
	}, []string{"status"})
	rowsConvertedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "udf2parquet_rows_converted_total",
		Help: "Output rows written across all conversions.",
	})
	warningsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "udf2parquet_warnings_total",
		Help: "Record-scoped problems survived, by reason.",
	}, []string{"reason"})
	inputBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "udf2parquet_input_bytes_total",
		Help: "Container bytes consumed.",
	})
	conversionSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "udf2parquet_conversion_duration_seconds",
		Help: "Conversion latency distribution.",
	})
)

func init() {
	// Register Prometheus metrics.
	prometheus.MustRegister(
		conversionsTotal,
		rowsConvertedTotal,
		warningsTotal,
		inputBytesTotal,
		conversionSeconds,
	)
}
