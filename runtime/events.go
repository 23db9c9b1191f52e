// Package runtime implements the execution-state machinery that expands
// a source Graph into a materialized execution graph one ready node at a
// time (spec.md §4.4), plus the event vocabulary emitted along the way.
//
// Grounded on original_source/ldm/invoke/app/services/graph.py's
// GraphExecutionState for the algorithms, and on the teacher's
// runtime/events.go for the Event/EventKind/EventEmitter shape.
package runtime

import "time"

// EventKind discriminates the phase an Event reports on.
type EventKind string

const (
	EventNodeReady     EventKind = "node_ready"
	EventNodeStarted   EventKind = "node_started"
	EventNodeCompleted EventKind = "node_completed"
	EventNodeError     EventKind = "node_error"
	EventStateComplete EventKind = "state_complete"
)

// Event is one observable occurrence during execution-state progress.
// Builder methods mirror the teacher's With* chain so handlers can be
// constructed incrementally without a large positional literal.
type Event struct {
	Seq      uint64
	Kind     EventKind
	StateID  string
	NodeID   string
	SourceID string
	Attempt  int
	Elapsed  time.Duration
	Payload  any
	Err      string
	Time     time.Time
}

func NewEvent(kind EventKind, stateID string) Event {
	return Event{Kind: kind, StateID: stateID}
}

func (e Event) WithNode(nodeID, sourceID string) Event {
	e.NodeID = nodeID
	e.SourceID = sourceID
	return e
}

func (e Event) WithAttempt(attempt int) Event {
	e.Attempt = attempt
	return e
}

func (e Event) WithElapsed(d time.Duration) Event {
	e.Elapsed = d
	return e
}

func (e Event) WithPayload(p any) Event {
	e.Payload = p
	return e
}

func (e Event) WithError(msg string) Event {
	e.Err = msg
	return e
}

// EventHandler consumes events as they are emitted.
type EventHandler interface {
	Handle(e Event)
}

// EventHandlerFunc adapts a plain function to EventHandler.
type EventHandlerFunc func(e Event)

func (f EventHandlerFunc) Handle(e Event) { f(e) }

// MultiEventHandler fans one event out to every registered handler, in
// registration order.
type MultiEventHandler struct {
	handlers []EventHandler
}

func NewMultiEventHandler(handlers ...EventHandler) *MultiEventHandler {
	return &MultiEventHandler{handlers: handlers}
}

func (m *MultiEventHandler) Add(h EventHandler) {
	m.handlers = append(m.handlers, h)
}

func (m *MultiEventHandler) Handle(e Event) {
	for _, h := range m.handlers {
		h.Handle(e)
	}
}

// ChannelEventHandler forwards every event onto a buffered channel,
// dropping the event (rather than blocking the execution state) if the
// channel is full. Grounded on the teacher's runtime.go eventCh pattern.
type ChannelEventHandler struct {
	ch chan Event
}

func NewChannelEventHandler(buffer int) *ChannelEventHandler {
	return &ChannelEventHandler{ch: make(chan Event, buffer)}
}

func (c *ChannelEventHandler) Handle(e Event) {
	select {
	case c.ch <- e:
	default:
	}
}

func (c *ChannelEventHandler) Events() <-chan Event {
	return c.ch
}

func (c *ChannelEventHandler) Close() {
	close(c.ch)
}

// EventEmitter assigns a monotonically increasing sequence number to
// every event before handing it to the configured handler.
type EventEmitter struct {
	handler EventHandler
	seq     uint64
}

func NewEventEmitter(handler EventHandler) *EventEmitter {
	return &EventEmitter{handler: handler}
}

func (e *EventEmitter) Emit(evt Event) {
	if e.handler == nil {
		return
	}
	e.seq++
	evt.Seq = e.seq
	if evt.Time.IsZero() {
		evt.Time = time.Now()
	}
	e.handler.Handle(evt)
}
