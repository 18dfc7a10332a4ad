package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProvisionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registrar_provision_total",
		Help: "Provisioning saga runs by workflow and outcome code.",
	}, []string{"workflow", "outcome"})

	CompensationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registrar_compensation_total",
		Help: "Saga compensation attempts by step and result.",
	}, []string{"step", "result"})

	ScopedQueryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registrar_scoped_query_total",
		Help: "Role-scoped list reads by resource and caller role.",
	}, []string{"resource", "role"})

	OrphanSweepTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registrar_orphan_sweep_total",
		Help: "Orphan sweep deletions by result.",
	}, []string{"result"})
)
