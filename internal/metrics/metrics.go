// Package metrics exposes the prometheus collectors for both engines.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"coursewire/internal/report"
)

var (
	ingestFeedsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coursewire",
			Subsystem: "ingest",
			Name:      "feeds_total",
			Help:      "Feeds processed by the ingestion engine.",
		},
		[]string{"status"},
	)
	ingestMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coursewire",
			Subsystem: "ingest",
			Name:      "messages_total",
			Help:      "Message mutations performed by reconciliation.",
		},
		[]string{"action"},
	)
	ingestRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "coursewire",
			Subsystem: "ingest",
			Name:      "run_duration_seconds",
			Help:      "Duration of one ingestion run.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	digestMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coursewire",
			Subsystem: "digest",
			Name:      "messages_total",
			Help:      "Messages handled by the digest engine.",
		},
		[]string{"status"},
	)
	digestEmailsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coursewire",
			Subsystem: "digest",
			Name:      "emails_total",
			Help:      "Digest emails attempted.",
		},
		[]string{"status"},
	)
	digestRunsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "coursewire",
			Subsystem: "digest",
			Name:      "runs_skipped_total",
			Help:      "Digest runs skipped because another run held the lock.",
		},
	)
	digestRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "coursewire",
			Subsystem: "digest",
			Name:      "run_duration_seconds",
			Help:      "Duration of one digest run.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

func ObserveIngestFeed(failed bool) {
	status := "success"
	if failed {
		status = "error"
	}

	ingestFeedsTotal.WithLabelValues(status).Inc()
}

func ObserveIngestRun(r *report.Run, elapsed time.Duration) {
	ingestMessagesTotal.WithLabelValues("created").Add(float64(r.Created))
	ingestMessagesTotal.WithLabelValues("updated").Add(float64(r.Updated))
	ingestMessagesTotal.WithLabelValues("removed").Add(float64(r.Removed))
	ingestRunDuration.Observe(elapsed.Seconds())
}

func ObserveDigestLockSkip() {
	digestRunsSkipped.Inc()
}

func ObserveDigestRun(r *report.Run, elapsed time.Duration) {
	digestMessagesTotal.WithLabelValues("mailed").Add(float64(r.Processed))
	digestMessagesTotal.WithLabelValues("skipped_too_old").Add(float64(r.SkippedOld))
	digestEmailsTotal.WithLabelValues("sent").Add(float64(r.Sent))
	digestEmailsTotal.WithLabelValues("failed").Add(float64(r.Failed))
	digestEmailsTotal.WithLabelValues("group_skipped").Add(float64(r.GroupSkipped))
	digestRunDuration.Observe(elapsed.Seconds())
}
