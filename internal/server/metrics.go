package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	beaconsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nudge_beacons_total",
			Help: "Total number of accepted beacon events by event type",
		},
		[]string{"event_type"},
	)

	beaconRejectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nudge_beacon_rejects_total",
			Help: "Total number of rejected beacon requests by reason",
		},
		[]string{"reason"},
	)
)
