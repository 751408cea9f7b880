package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type EscrowMetrics struct {
	transitions *prometheus.CounterVec
	rpcRequests *prometheus.CounterVec
}

var (
	escrowOnce     sync.Once
	escrowRegistry *EscrowMetrics
)

func Escrow() *EscrowMetrics {
	escrowOnce.Do(func() {
		escrowRegistry = &EscrowMetrics{
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "escrow_transitions_total",
				Help: "Count of contract state transitions by operation and result.",
			}, []string{"op", "result"}),
			rpcRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "escrow_rpc_requests_total",
				Help: "Count of JSON-RPC requests by method.",
			}, []string{"method"}),
		}
		prometheus.MustRegister(
			escrowRegistry.transitions,
			escrowRegistry.rpcRequests,
		)
	})
	return escrowRegistry
}

// ObserveTransition records the outcome of a state-mutating entry point.
func (m *EscrowMetrics) ObserveTransition(op string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.transitions.WithLabelValues(op, result).Inc()
}

// ObserveRPCRequest records a served JSON-RPC method call.
func (m *EscrowMetrics) ObserveRPCRequest(method string) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	m.rpcRequests.WithLabelValues(method).Inc()
}
