// Package metrics holds the prometheus collectors shared by the admission,
// lifecycle and cache packages. The HTTP collectors live in httpapi.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	AdmissionHeld = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "inferd",
			Subsystem: "admission",
			Name:      "token_held",
			Help:      "1 while an accelerator operation holds the admission token",
		},
	)

	AdmissionAcquisitions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "inferd",
			Subsystem: "admission",
			Name:      "acquisitions_total",
			Help:      "Total admission token acquisitions",
		},
	)

	AdmissionWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "inferd",
			Subsystem: "admission",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for the admission token",
			Buckets:   []float64{.001, .01, .1, .5, 1, 5, 15, 30, 60, 120, 300},
		},
	)

	ModelLoads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inferd",
			Subsystem: "model",
			Name:      "loads_total",
			Help:      "Model load attempts by result (ok, skip, error)",
		},
		[]string{"result"},
	)

	ModelUnloads = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "inferd",
			Subsystem: "model",
			Name:      "unloads_total",
			Help:      "Model unloads that released a resident model",
		},
	)

	Generations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inferd",
			Subsystem: "model",
			Name:      "generations_total",
			Help:      "Generation requests by source (accelerator, cache) and result",
		},
		[]string{"source", "result"},
	)

	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inferd",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Semantic cache lookups by result (hit, miss, error)",
		},
		[]string{"result"},
	)

	CacheWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inferd",
			Subsystem: "cache",
			Name:      "writes_total",
			Help:      "Semantic cache writes by result (ok, error)",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		AdmissionHeld,
		AdmissionAcquisitions,
		AdmissionWait,
		ModelLoads,
		ModelUnloads,
		Generations,
		CacheLookups,
		CacheWrites,
	)
}
