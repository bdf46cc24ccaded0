// Package metrics holds steward's Prometheus collectors. They are registered
// with the default registry and served on the channel listener when
// metrics.enabled is set.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TokenExchanges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "steward_token_exchanges_total",
		Help: "Authorization-code exchanges by provider and result",
	}, []string{"provider", "result"})
	// Tier is "direct" or "relay".
	TokenRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "steward_token_refreshes_total",
		Help: "Refresh attempts by provider, tier and result",
	}, []string{"provider", "tier", "result"})
	RefreshesCoalesced = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "steward_token_refreshes_coalesced_total",
		Help: "Refresh calls that shared another caller's in-flight refresh",
	})
	ChannelConnections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "steward_channel_connections_total",
		Help: "Approval channel connection attempts by outcome",
	}, []string{"outcome"})
	ChannelClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "steward_channel_clients",
		Help: "Currently connected approval channel clients",
	})
	ApprovalMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "steward_approval_messages_total",
		Help: "Approval messages received",
	})
	ApprovalDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "steward_approval_decisions_total",
		Help: "Decisions taken on approval messages by status",
	}, []string{"status"})
	KeyRotations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "steward_connection_key_rotations_total",
		Help: "Connection key generations by reason",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(TokenExchanges)
	prometheus.MustRegister(TokenRefreshes)
	prometheus.MustRegister(RefreshesCoalesced)
	prometheus.MustRegister(ChannelConnections)
	prometheus.MustRegister(ChannelClients)
	prometheus.MustRegister(ApprovalMessages)
	prometheus.MustRegister(ApprovalDecisions)
	prometheus.MustRegister(KeyRotations)
}

// Handler returns an http.Handler exposing the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Result renders an error as a result label.
func Result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
