// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var Registry = prometheus.NewRegistry()

var (
	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "schoolfund",
		Name:      "http_requests_total",
		Help:      "HTTP requests by route, method and status.",
	}, []string{"route", "method", "status"})

	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "schoolfund",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})

	Donations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "schoolfund",
		Name:      "donations_total",
		Help:      "Donations recorded, by kind (monetary, nonmonetary, checkout).",
	}, []string{"kind"})

	CampaignsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "schoolfund",
		Name:      "campaigns_created_total",
		Help:      "Campaigns created, by initial status.",
	}, []string{"status"})

	WebhookEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "schoolfund",
		Name:      "webhook_events_total",
		Help:      "Payment webhook events, by type and outcome.",
	}, []string{"type", "outcome"})

	EmailsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "schoolfund",
		Name:      "emails_failed_total",
		Help:      "Notification emails that could not be sent.",
	})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequests, HTTPDuration, Donations, CampaignsCreated, WebhookEvents, EmailsFailed,
	)
}
