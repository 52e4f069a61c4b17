package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the auth gateway.
type Metrics struct {
	Logins          *prometheus.CounterVec
	SilentRefreshes *prometheus.CounterVec
	Logouts         prometheus.Counter
	Lockouts        prometheus.Counter
	RequestLatency  *prometheus.HistogramVec
}

// Login outcome labels.
const (
	OutcomeSuccess          = "success"
	OutcomeInvalid          = "invalid"
	OutcomeSecondFactor     = "second_factor_required"
	OutcomeLocked           = "locked"
	OutcomeTokenExpired     = "token_expired"
	OutcomeTokenInvalid     = "token_invalid"
	OutcomeNoRefreshToken   = "no_refresh_token"
)

// New creates and registers all Prometheus metrics with reg. Pass a fresh
// registry in tests to avoid duplicate-registration panics.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Logins: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reactom_logins_total",
			Help: "Login attempts by outcome",
		}, []string{"outcome"}),
		SilentRefreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reactom_silent_refreshes_total",
			Help: "Silent refresh attempts by outcome",
		}, []string{"outcome"}),
		Logouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "reactom_logouts_total",
			Help: "Logout requests handled",
		}),
		Lockouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "reactom_login_lockouts_total",
			Help: "Logins rejected by the failed-attempt lockout",
		}),
		RequestLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reactom_request_duration_ms",
			Help:    "HTTP request latency in milliseconds",
			Buckets: []float64{1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000},
		}, []string{"path"}),
	}
}
