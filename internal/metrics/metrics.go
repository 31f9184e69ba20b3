// Package metrics provides Prometheus metrics for a maintenance run.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DrainsStarted counts container instances transitioned to DRAINING.
	DrainsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ecsroll",
			Name:      "drains_started_total",
			Help:      "Container instances transitioned to DRAINING",
		},
	)

	// DrainAttempts observes how many polls each drain took to empty.
	DrainAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ecsroll",
			Name:      "drain_poll_attempts",
			Help:      "Polling attempts until a draining instance reached zero running tasks",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
		},
	)

	// ActionsApplied counts maintenance actions by kind.
	ActionsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ecsroll",
			Name:      "actions_applied_total",
			Help:      "Maintenance actions applied to instances",
		},
		[]string{"action"},
	)

	// StepFailures counts per-instance failures by error kind.
	StepFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ecsroll",
			Name:      "step_failures_total",
			Help:      "Per-instance step failures by error kind",
		},
		[]string{"kind"},
	)

	// ClusterInstances tracks the cluster size as last observed.
	ClusterInstances = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ecsroll",
			Name:      "cluster_instances",
			Help:      "Container instances registered to the cluster as last observed",
		},
	)

	// GroupDesiredCapacity tracks the ASG desired capacity as last set
	// or observed.
	GroupDesiredCapacity = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ecsroll",
			Name:      "group_desired_capacity",
			Help:      "Auto Scaling Group desired capacity as last observed",
		},
	)
)
