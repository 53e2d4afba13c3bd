package obs

import "github.com/prometheus/client_golang/prometheus"

var (
	accessValidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vendoraccess_validations_total",
			Help: "Vendor access validations by decision and reason.",
		},
		[]string{"result", "reason"},
	)

	accessRisk = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "vendoraccess_risk_score",
		Help:    "Risk score of successful validations.",
		Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
	})

	accessRevocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vendoraccess_revocations_total",
			Help: "Revocation calls by scope.",
		},
		[]string{"scope"},
	)

	accessRevokedGrants = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vendoraccess_revoked_grants_total",
			Help: "Grants moved to revoked, by scope.",
		},
		[]string{"scope"},
	)

	grantsExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vendoraccess_grants_expired_total",
		Help: "Grants expired by the sweeper.",
	})

	sessionsExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vendoraccess_sessions_expired_total",
		Help: "Idle sessions expired by the sweeper.",
	})

	auditDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vendoraccess_audit_dropped_total",
		Help: "Audit entries dropped because the recorder queue was full.",
	})
)

func accessCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		accessValidations, accessRisk, accessRevocations, accessRevokedGrants,
		grantsExpired, sessionsExpired, auditDropped,
	}
}

// ObserveValidation counts one access decision.
func ObserveValidation(valid bool, reason string) {
	result := "denied"
	if valid {
		result = "allowed"
		reason = "ok"
	}
	accessValidations.WithLabelValues(result, reason).Inc()
}

// ObserveRisk records the risk score of an allowed request.
func ObserveRisk(score int) {
	accessRisk.Observe(float64(score))
}

// ObserveRevocation counts one revoke call and the grants it revoked.
func ObserveRevocation(scope string, grants int) {
	accessRevocations.WithLabelValues(scope).Inc()
	accessRevokedGrants.WithLabelValues(scope).Add(float64(grants))
}

// ObserveSweep counts grants and sessions expired by one sweep.
func ObserveSweep(grants, sessions int) {
	grantsExpired.Add(float64(grants))
	sessionsExpired.Add(float64(sessions))
}

// AuditDropped counts one entry dropped by the audit recorder.
func AuditDropped() {
	auditDropped.Inc()
}
