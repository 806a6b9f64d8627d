package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// candidatesScanned tracks the cost of matching a refresh secret, which
	// grows with the number of live sessions system-wide.
	candidatesScanned = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "session_credential_candidates_scanned",
			Help:    "Number of stored credentials compared while matching a refresh secret",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)

	rotationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_rotations_total",
			Help: "Refresh credential rotations by outcome",
		},
		[]string{"outcome"},
	)

	loginsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_logins_total",
			Help: "Password logins by outcome",
		},
		[]string{"outcome"},
	)
)

const (
	outcomeSuccess = "success"
	outcomeNoMatch = "no_match"
	outcomeInvalid = "invalid_credentials"
	outcomeError   = "error"
)
