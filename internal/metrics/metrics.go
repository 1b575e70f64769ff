// Package metrics holds the prometheus collectors shared by the services.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ConnectionAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "litkit_connection_attempts_total",
			Help: "Handshake rounds against the node network by outcome.",
		},
		[]string{"outcome"},
	)

	SessionRounds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "litkit_session_rounds_total",
			Help: "Session signature rounds by outcome.",
		},
		[]string{"outcome"},
	)

	SessionCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "litkit_session_cache_total",
			Help: "Session credential cache lookups by result.",
		},
		[]string{"result"},
	)

	NodeResponses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "litkit_node_responses_total",
			Help: "Per-node session signature responses by outcome.",
		},
		[]string{"outcome"},
	)

	Mints = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "litkit_pkp_mints_total",
			Help: "Key pair mint attempts by outcome.",
		},
		[]string{"outcome"},
	)

	ToolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "litkit_tool_calls_total",
			Help: "Tool invocations by tool name and error kind.",
		},
		[]string{"tool", "kind"},
	)
)

func init() {
	prometheus.MustRegister(ConnectionAttempts, SessionRounds, SessionCache, NodeResponses, Mints, ToolCalls)
}
