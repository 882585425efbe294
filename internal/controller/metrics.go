package controller

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

const metricsNamespace = "droplet_dns_sync"

var (
	reconcileTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "reconcile_total",
		Help:      "Reconciliation cycles by result.",
	}, []string{"result"})

	reconcileDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "reconcile_duration_seconds",
		Help:      "Duration of reconciliation cycles.",
		Buckets:   prometheus.DefBuckets,
	})

	actionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "actions_total",
		Help:      "Record actions applied, by action and result.",
	}, []string{"action", "result"})

	desiredAddresses = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "desired_addresses",
		Help:      "Distinct public addresses of tagged droplets seen in the last cycle.",
	})

	managedRecords = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "managed_records",
		Help:      "Matching DNS records seen at the start of the last cycle.",
	})

	lastSuccess = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time of the last fully successful cycle.",
	})
)

func init() {
	metrics.Registry.MustRegister(
		reconcileTotal,
		reconcileDuration,
		actionsTotal,
		desiredAddresses,
		managedRecords,
		lastSuccess,
	)
}
