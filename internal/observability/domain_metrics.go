package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	questionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlcopilot_questions_total",
			Help: "Total number of natural-language questions asked.",
		},
	)
	questionFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlcopilot_question_failures_total",
			Help: "Total number of questions that did not produce a result.",
		},
	)
	sqlRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlcopilot_sql_rejected_total",
			Help: "Total number of generated or submitted SQL statements rejected by the guard.",
		},
	)
	translateRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlcopilot_translate_retries_total",
			Help: "Total number of automatic second-attempt translations after an execution error.",
		},
	)
	queryDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqlcopilot_query_duration_seconds",
			Help:    "Execution latency of guarded queries.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)
	csvUploadsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlcopilot_csv_uploads_total",
			Help: "Total number of CSV files loaded into the demo engine.",
		},
	)
	summariesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlcopilot_summaries_total",
			Help: "Total number of result summaries produced by the model.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		questionsTotal,
		questionFailuresTotal,
		sqlRejectedTotal,
		translateRetriesTotal,
		queryDurationSeconds,
		csvUploadsTotal,
		summariesTotal,
	)
}

func ObserveQuestion(retried bool, failed bool) {
	questionsTotal.Inc()
	if retried {
		translateRetriesTotal.Inc()
	}
	if failed {
		questionFailuresTotal.Inc()
	}
}

func IncrementSQLRejected() {
	sqlRejectedTotal.Inc()
}

func ObserveQueryDuration(elapsed time.Duration) {
	queryDurationSeconds.Observe(elapsed.Seconds())
}

func IncrementCSVUpload() {
	csvUploadsTotal.Inc()
}

func IncrementSummary() {
	summariesTotal.Inc()
}
