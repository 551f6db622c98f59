package queue

import "github.com/prometheus/client_golang/prometheus"

var (
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Approximate number of jobs waiting in the queue",
		},
		[]string{"queue"},
	)
	JobsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_jobs_processed_total",
			Help: "Jobs processed by kind and result",
		},
		[]string{"queue", "kind", "result"},
	)
	JobsDead = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_jobs_dead_total",
			Help: "Jobs moved to the dead letter queue",
		},
		[]string{"queue", "kind"},
	)
	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queue_job_duration_ms",
			Help:    "Job handler duration in milliseconds",
			Buckets: []float64{10, 50, 100, 500, 1000, 5000, 15000},
		},
		[]string{"queue", "kind"},
	)
)

func init() {
	prometheus.MustRegister(QueueDepth, JobsProcessed, JobsDead, JobDuration)
}
