// Package metrics registers the Prometheus collectors every binary in the
// fabric exposes on /metrics, grounded on the teacher's run.go pattern
// of package-level vars registered in an init().
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// TasksProcessed counts AgentTask handler invocations by department and
	// outcome (completed/failed).
	TasksProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agentfabric_tasks_processed_total",
		Help: "Number of department task handler invocations.",
	}, []string{"department", "outcome"})

	// TaskDuration observes handler wall-clock time by department.
	TaskDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agentfabric_task_duration_seconds",
		Help:    "Department task handler duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"department"})

	// RequestsProcessed counts AnalysisRequest driver-loop outcomes.
	RequestsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agentfabric_requests_processed_total",
		Help: "Number of analysis requests processed by the orchestrator.",
	}, []string{"outcome"})

	// OrchestratorNodeDuration observes time spent in each graph node.
	OrchestratorNodeDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agentfabric_orchestrator_node_duration_seconds",
		Help:    "Time spent in each orchestrator graph node.",
		Buckets: prometheus.DefBuckets,
	}, []string{"node"})

	// ActionsExecuted counts Action Executor outcomes by action_type.
	ActionsExecuted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agentfabric_actions_executed_total",
		Help: "Number of proposed actions executed, by action_type and outcome.",
	}, []string{"action_type", "outcome"})

	// BrokerNacks counts messages routed to a DLQ by queue.
	BrokerNacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agentfabric_broker_nacks_total",
		Help: "Number of messages nacked to a dead-letter queue.",
	}, []string{"queue"})

	// UpdateBusDropped counts messages dropped for a subscriber whose buffer
	// is full. The per-drop request id goes to the structured
	// SUBSCRIBER_DROPPED warn log line, not a metric label, to avoid
	// unbounded label cardinality.
	UpdateBusDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "agentfabric_update_bus_dropped_total",
		Help: "Number of update bus messages dropped due to a slow subscriber.",
	})
)

func init() {
	prometheus.MustRegister(
		TasksProcessed,
		TaskDuration,
		RequestsProcessed,
		OrchestratorNodeDuration,
		ActionsExecuted,
		BrokerNacks,
		UpdateBusDropped,
	)
}
