package scheduler

import (
	"github.com/amirphl/evoteli/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sweepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: utils.MetricsNamespace,
			Name:      "scheduler_sweeps_total",
			Help:      "Scheduler sweeps partitioned by sweep name and outcome",
		},
		[]string{"sweep", "outcome"},
	)

	alertEvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: utils.MetricsNamespace,
			Name:      "alert_evaluations_total",
			Help:      "Saved search evaluations partitioned by outcome (no_match, matched, failed)",
		},
		[]string{"outcome"},
	)

	alertEmailsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: utils.MetricsNamespace,
			Name:      "alert_emails_total",
			Help:      "Alert emails partitioned by kind and delivery outcome",
		},
		[]string{"kind", "outcome"},
	)

	audienceSyncsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: utils.MetricsNamespace,
			Name:      "audience_syncs_total",
			Help:      "Audience sync attempts partitioned by terminal status and failing stage",
		},
		[]string{"status", "stage"},
	)

	contactsUploadedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: utils.MetricsNamespace,
			Name:      "audience_contacts_uploaded_total",
			Help:      "Hashed contacts accepted by the ads platform",
		},
	)
)
