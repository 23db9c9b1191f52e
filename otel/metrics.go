package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/waffletower/invokeai-graph/runtime"
)

// MetricsHandler records node-completion, node-error and state-completion
// counters from execution-state events, grounded directly on the
// teacher's otel/metrics.go.
type MetricsHandler struct {
	nodeCompletions metric.Int64Counter
	nodeErrors      metric.Int64Counter
	stateCompletions metric.Int64Counter
}

func NewMetricsHandler(meter metric.Meter) (*MetricsHandler, error) {
	nodeCompletions, err := meter.Int64Counter("invokeai_graph.node.completions",
		metric.WithDescription("Number of node completions"))
	if err != nil {
		return nil, err
	}

	nodeErrors, err := meter.Int64Counter("invokeai_graph.node.errors",
		metric.WithDescription("Number of node errors"))
	if err != nil {
		return nil, err
	}

	stateCompletions, err := meter.Int64Counter("invokeai_graph.state.completions",
		metric.WithDescription("Number of execution states that reached completion"))
	if err != nil {
		return nil, err
	}

	return &MetricsHandler{
		nodeCompletions:  nodeCompletions,
		nodeErrors:       nodeErrors,
		stateCompletions: stateCompletions,
	}, nil
}

// Handle implements runtime.EventHandler.
func (h *MetricsHandler) Handle(e runtime.Event) {
	ctx := context.Background()
	switch e.Kind {
	case runtime.EventNodeCompleted:
		h.nodeCompletions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("state_id", e.StateID),
		))
	case runtime.EventNodeError:
		h.nodeErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("state_id", e.StateID),
		))
	case runtime.EventStateComplete:
		h.stateCompletions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("state_id", e.StateID),
		))
	}
}
