package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	HTTPDuration           *prometheus.HistogramVec
	ClaimDecisions         *prometheus.CounterVec
	OTPVerifications       *prometheus.CounterVec
	NotificationDeliveries *prometheus.CounterVec
	RoleDenials            prometheus.Counter
	AuditMirrorFailures    prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vouch_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
		ClaimDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vouch_claim_decisions_total",
			Help: "Purchase claim decisions by outcome",
		}, []string{"outcome"}),
		OTPVerifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vouch_otp_verifications_total",
			Help: "OTP verification attempts by result",
		}, []string{"result"}),
		NotificationDeliveries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vouch_notification_deliveries_total",
			Help: "Notification channel attempts by channel and status",
		}, []string{"channel", "status"}),
		RoleDenials: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vouch_role_denials_total",
			Help: "Privileged calls denied by the role store (including fail-closed denials)",
		}),
		AuditMirrorFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vouch_audit_mirror_failures_total",
			Help: "Audit events that could not be mirrored to Kafka",
		}),
	}
}

// NewForTesting creates metrics on a private registry so parallel test
// packages don't trip duplicate registration.
func NewForTesting() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vouch_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
		ClaimDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vouch_claim_decisions_total",
			Help: "Purchase claim decisions by outcome",
		}, []string{"outcome"}),
		OTPVerifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vouch_otp_verifications_total",
			Help: "OTP verification attempts by result",
		}, []string{"result"}),
		NotificationDeliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vouch_notification_deliveries_total",
			Help: "Notification channel attempts by channel and status",
		}, []string{"channel", "status"}),
		RoleDenials: factory.NewCounter(prometheus.CounterOpts{
			Name: "vouch_role_denials_total",
			Help: "Privileged calls denied by the role store (including fail-closed denials)",
		}),
		AuditMirrorFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "vouch_audit_mirror_failures_total",
			Help: "Audit events that could not be mirrored to Kafka",
		}),
	}
}
