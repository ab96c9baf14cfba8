// Package metrics 内容流水线的 Prometheus 指标。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CombinationsGenerated 新写入的长尾组合数。
	CombinationsGenerated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "bustime",
			Name:      "combinations_generated_total",
			Help:      "Total number of longtail combinations inserted",
		},
	)

	// Verifications 核验次数，result 为 verified|failed。
	Verifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bustime",
			Name:      "verifications_total",
			Help:      "Total number of combination verifications by result",
		},
		[]string{"result"},
	)

	// ContentPublished 发布的内容页数。
	ContentPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "bustime",
			Name:      "content_published_total",
			Help:      "Total number of content pages published",
		},
	)

	// AutomationRuns 编排执行次数，status 为 success|partial_success|failed。
	AutomationRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bustime",
			Name:      "automation_runs_total",
			Help:      "Total number of orchestrator runs by status",
		},
		[]string{"status"},
	)

	// AutomationRunDuration 编排耗时。
	AutomationRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "bustime",
			Name:      "automation_run_duration_seconds",
			Help:      "Duration of orchestrator runs in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	// Alerts 告警投递结果，status 为 queued|sent|failed。
	Alerts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bustime",
			Name:      "alerts_total",
			Help:      "Total number of operator alerts by delivery status",
		},
		[]string{"status"},
	)
)

// RecordGenerated 记录新生成的组合。
func RecordGenerated(n int) {
	if n > 0 {
		CombinationsGenerated.Add(float64(n))
	}
}

// RecordVerification 记录一次核验结果。
func RecordVerification(valid bool) {
	if valid {
		Verifications.WithLabelValues("verified").Inc()
		return
	}
	Verifications.WithLabelValues("failed").Inc()
}

// RecordPublished 记录发布数量。
func RecordPublished(n int) {
	if n > 0 {
		ContentPublished.Add(float64(n))
	}
}

// RecordRun 记录一次编排执行。
func RecordRun(status string, seconds float64) {
	AutomationRuns.WithLabelValues(status).Inc()
	AutomationRunDuration.Observe(seconds)
}

// RecordAlert 记录告警状态变化。
func RecordAlert(status string) {
	Alerts.WithLabelValues(status).Inc()
}
