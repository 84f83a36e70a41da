// Package audit provides the orchestrator's append-only audit trail:
// routing decisions, cache events, and dispatch outcomes, one JSON object
// per line. Appends go through a single writer goroutine with an unbounded
// in-memory queue, so no request path ever blocks on disk.
package audit

import (
	"time"
)

// EventType labels one audit record.
type EventType string

const (
	EventRoutingDecision    EventType = "routing_decision"
	EventCacheHit           EventType = "cache_hit"
	EventCacheMiss          EventType = "cache_miss"
	EventCachePopulateOK    EventType = "cache_populate_ok"
	EventCachePopulateFail  EventType = "cache_populate_fail"
	EventDispatchOK         EventType = "dispatch_ok"
	EventDispatchFail       EventType = "dispatch_fail"
	EventContinuationBypass EventType = "continuation_bypass"
	EventInvalidate         EventType = "invalidate"
	EventStreamDrop         EventType = "stream_drop"
	EventInternal           EventType = "internal"
)

// Record is one audit trail entry.
type Record struct {
	Timestamp  time.Time      `json:"timestamp"`
	CustomerID string         `json:"customer_id,omitempty"`
	ThreadID   string         `json:"thread_id,omitempty"`
	EventType  EventType      `json:"event_type"`
	Details    map[string]any `json:"details,omitempty"`
}

// Sink receives drained batches of records. FileSink is the production
// implementation; tests substitute MemorySink.
type Sink interface {
	Write(records []Record) error
}

// Auditor is the append side of the trail, implemented by Logger. Components
// hold this narrow interface so tests can pass a Logger over a MemorySink.
type Auditor interface {
	Append(r Record)
}
