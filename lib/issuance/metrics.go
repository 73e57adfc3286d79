// Copyright 2026 The Ghostkey Authors
// SPDX-License-Identifier: Apache-2.0

package issuance

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/freenet/ghostkey/lib/errkind"
)

// Request outcomes, the values of the "outcome" label.
const (
	OutcomeIssued          = "issued"
	OutcomeRateLimited     = "rate_limited"
	OutcomeAlreadySigned   = "already_signed"
	OutcomePaymentDeclined = "payment_declined"
	OutcomeInvalid         = "invalid"
	OutcomeError           = "error"
)

// Metrics holds the issuance collectors.
type Metrics struct {
	requests    *prometheus.CounterVec
	signSeconds prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg. A nil
// reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ghostkey",
			Subsystem: "issuance",
			Name:      "requests_total",
			Help:      "Certificate signing requests by outcome.",
		}, []string{"outcome"}),
		signSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ghostkey",
			Subsystem: "issuance",
			Name:      "sign_seconds",
			Help:      "Time spent producing a blind signature.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.signSeconds)
	}
	return m
}

func (m *Metrics) observe(err error) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome(err)).Inc()
}

func (m *Metrics) observeSign(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.signSeconds.Observe(elapsed.Seconds())
}

func outcome(err error) string {
	if err == nil {
		return OutcomeIssued
	}
	switch errkind.Of(err) {
	case errkind.RateLimited:
		return OutcomeRateLimited
	case errkind.AlreadySigned:
		return OutcomeAlreadySigned
	case errkind.PaymentNotSuccessful, errkind.PaymentMethodMissing:
		return OutcomePaymentDeclined
	case errkind.InvalidInput, errkind.Base64Decode, errkind.Key:
		return OutcomeInvalid
	default:
		return OutcomeError
	}
}
