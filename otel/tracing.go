// Package otel adapts runtime.Event into OpenTelemetry spans and
// metrics, grounded directly on the teacher's otel/tracing.go and
// otel/metrics.go, re-targeted from petalflow's node-run events to this
// engine's prepare/next/complete/error events.
package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/waffletower/invokeai-graph/runtime"
)

// TracingHandler translates execution-state events into spans: one root
// span per execution state (state_id), with one child span per
// materialized node, keyed state:node. A node span opens on
// EventNodeReady (the point the node is about to be handed to the
// external queue) and closes on EventNodeCompleted or EventNodeError.
type TracingHandler struct {
	tracer trace.Tracer

	mu        sync.RWMutex
	stateSpans map[string]trace.Span
	stateCtxs  map[string]context.Context
	nodeSpans  map[string]trace.Span
}

func NewTracingHandler(tracer trace.Tracer) *TracingHandler {
	return &TracingHandler{
		tracer:     tracer,
		stateSpans: make(map[string]trace.Span),
		stateCtxs:  make(map[string]context.Context),
		nodeSpans:  make(map[string]trace.Span),
	}
}

// Handle implements runtime.EventHandler.
func (h *TracingHandler) Handle(e runtime.Event) {
	switch e.Kind {
	case runtime.EventNodeReady:
		h.handleNodeReady(e)
	case runtime.EventNodeCompleted:
		h.handleNodeDone(e, codes.Ok, "")
	case runtime.EventNodeError:
		h.handleNodeDone(e, codes.Error, e.Err)
	case runtime.EventStateComplete:
		h.handleStateComplete(e)
	}
}

func (h *TracingHandler) rootSpan(e runtime.Event) context.Context {
	h.mu.RLock()
	ctx, ok := h.stateCtxs[e.StateID]
	h.mu.RUnlock()
	if ok {
		return ctx
	}

	ctx, span := h.tracer.Start(context.Background(), "execution_state:"+e.StateID,
		trace.WithAttributes(attribute.String("invokeai_graph.state_id", e.StateID)),
		trace.WithTimestamp(e.Time),
	)
	h.mu.Lock()
	h.stateSpans[e.StateID] = span
	h.stateCtxs[e.StateID] = ctx
	h.mu.Unlock()
	return ctx
}

func (h *TracingHandler) handleNodeReady(e runtime.Event) {
	if e.NodeID == "" {
		return
	}
	parentCtx := h.rootSpan(e)

	_, span := h.tracer.Start(parentCtx, "node:"+e.NodeID,
		trace.WithAttributes(
			attribute.String("invokeai_graph.state_id", e.StateID),
			attribute.String("invokeai_graph.node_id", e.NodeID),
			attribute.String("invokeai_graph.source_id", e.SourceID),
		),
		trace.WithTimestamp(e.Time),
	)

	key := e.StateID + ":" + e.NodeID
	h.mu.Lock()
	h.nodeSpans[key] = span
	h.mu.Unlock()
}

func (h *TracingHandler) handleNodeDone(e runtime.Event, status codes.Code, errMsg string) {
	key := e.StateID + ":" + e.NodeID
	h.mu.Lock()
	span, ok := h.nodeSpans[key]
	if ok {
		delete(h.nodeSpans, key)
	}
	h.mu.Unlock()

	if !ok {
		return
	}

	if status == codes.Error {
		span.SetStatus(status, errMsg)
		span.RecordError(spanError(errMsg), trace.WithTimestamp(e.Time))
	} else {
		span.SetStatus(status, "")
	}
	span.End(trace.WithTimestamp(e.Time))
}

func (h *TracingHandler) handleStateComplete(e runtime.Event) {
	h.mu.Lock()
	span, ok := h.stateSpans[e.StateID]
	if ok {
		delete(h.stateSpans, e.StateID)
		delete(h.stateCtxs, e.StateID)
	}
	h.mu.Unlock()

	if !ok {
		return
	}
	span.SetStatus(codes.Ok, "")
	span.End(trace.WithTimestamp(e.Time))
}

// ActiveNodeSpanContext returns the SpanContext for the active node span
// identified by stateID and nodeID, or an empty SpanContext if none.
func (h *TracingHandler) ActiveNodeSpanContext(stateID, nodeID string) trace.SpanContext {
	key := stateID + ":" + nodeID
	h.mu.RLock()
	span, ok := h.nodeSpans[key]
	h.mu.RUnlock()
	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}

type spanError string

func (e spanError) Error() string { return string(e) }
