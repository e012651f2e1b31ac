// Package metrics exposes the orchestrator's Prometheus instruments.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DeploymentsTotal counts pipeline runs by environment and final status.
	DeploymentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harborline",
		Name:      "deployments_total",
		Help:      "Deployment pipeline runs by environment and final status.",
	}, []string{"environment", "status"})

	// RollbacksTotal counts rollback invocations by environment and status.
	RollbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harborline",
		Name:      "rollbacks_total",
		Help:      "Rollback invocations by environment and final status.",
	}, []string{"environment", "status"})

	// StageDuration observes per-stage wall time of pipeline runs.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "harborline",
		Name:      "stage_duration_seconds",
		Help:      "Wall time of each pipeline stage.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{"stage"})

	// GovernanceBlocksTotal counts gate refusals by check kind.
	GovernanceBlocksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harborline",
		Name:      "governance_blocks_total",
		Help:      "Deployments blocked by the governance gate, per check.",
	}, []string{"check"})

	// ApprovalWaitSeconds observes how long requests sat at the approval gate.
	ApprovalWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "harborline",
		Name:      "approval_wait_seconds",
		Help:      "Time spent waiting for a manual approval decision.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
	})
)

// ObserveStage records one stage's elapsed time.
func ObserveStage(stage string, start time.Time) {
	StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
