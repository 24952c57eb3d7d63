// internal/onboarding/metrics.go
package onboarding

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	callbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentmail_oauth_callbacks_total",
		Help: "OAuth callback outcomes per provider.",
	}, []string{"provider", "outcome"})

	provisionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentmail_provision_failures_total",
		Help: "Provisioning step failures that need ops attention.",
	}, []string{"step"})
)
