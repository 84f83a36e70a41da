// Package stream turns the orchestrator's work on one request into a
// server-sent-event stream: thinking events at pipeline milestones, content
// deltas, a terminal event carrying the full response, and a [DONE]
// sentinel. A JSON collector covers stream=false requests with the same
// Emitter interface.
package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/convobank/orchestrator/pkg/audit"
)

// Pipeline step names used in thinking events.
const (
	StepAuth       = "auth"
	StepCacheCheck = "cache_check"
	StepRouting    = "routing"
	StepDispatch   = "dispatch"
)

// Thinking statuses.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Emitter receives the milestones and content of one response. Calls for a
// step arrive in in_progress → completed|failed order; deltas arrive in
// generation order and concatenate to the terminal content.
type Emitter interface {
	StepStart(step, message string)
	StepDone(step string)
	StepFailed(step, message string)
	Delta(content string)
	Terminal(content, threadID string)
	Done()
}

type thinkingEvent struct {
	Type       string `json:"type"`
	Step       string `json:"step"`
	Message    string `json:"message,omitempty"`
	Status     string `json:"status"`
	Timestamp  string `json:"timestamp"`
	DurationMS *int64 `json:"duration_ms,omitempty"`
}

type deltaPayload struct {
	Content string `json:"content"`
}

type messagePayload struct {
	Content string `json:"content"`
}

type choice struct {
	Delta   deltaPayload    `json:"delta"`
	Message *messagePayload `json:"message,omitempty"`
}

type contentEvent struct {
	Choices  []choice `json:"choices"`
	ThreadID string   `json:"threadId,omitempty"`
}

// SSEEmitter writes the event stream to an HTTP response. When the bytes
// written for one response exceed the configured cap, further thinking
// events are dropped — delta and terminal events never are — and the drop
// is audited once.
type SSEEmitter struct {
	w        io.Writer
	flusher  http.Flusher
	auditLog audit.Auditor

	customerID string
	byteCap    int

	mu           sync.Mutex
	written      int
	dropped      int
	dropAudited  bool
	stepStarted  map[string]time.Time
	tableEmitted bool
}

// NewSSE prepares an SSE emitter over the response writer and sends the
// stream headers. The writer must support flushing.
func NewSSE(w http.ResponseWriter, customerID string, byteCap int, auditLog audit.Auditor) (*SSEEmitter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &SSEEmitter{
		w:           w,
		flusher:     flusher,
		auditLog:    auditLog,
		customerID:  customerID,
		byteCap:     byteCap,
		stepStarted: make(map[string]time.Time),
	}, nil
}

func (e *SSEEmitter) StepStart(step, message string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stepStarted[step] = time.Now()
	e.thinking(thinkingEvent{
		Type:      "thinking",
		Step:      step,
		Message:   message,
		Status:    StatusInProgress,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (e *SSEEmitter) StepDone(step string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.thinking(e.stepResult(step, StatusCompleted, ""))
}

func (e *SSEEmitter) StepFailed(step, message string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.thinking(e.stepResult(step, StatusFailed, message))
}

func (e *SSEEmitter) stepResult(step, status, message string) thinkingEvent {
	ev := thinkingEvent{
		Type:      "thinking",
		Step:      step,
		Message:   message,
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if started, ok := e.stepStarted[step]; ok {
		ms := time.Since(started).Milliseconds()
		ev.DurationMS = &ms
		delete(e.stepStarted, step)
	}
	return ev
}

// thinking writes a thinking event unless the byte budget is spent.
// Caller holds e.mu.
func (e *SSEEmitter) thinking(ev thinkingEvent) {
	if e.written >= e.byteCap {
		e.dropped++
		if !e.dropAudited {
			e.dropAudited = true
			e.auditLog.Append(audit.Record{
				CustomerID: e.customerID,
				EventType:  audit.EventStreamDrop,
				Details:    map[string]any{"cap_bytes": e.byteCap},
			})
			slog.Warn("Dropping thinking events, byte cap reached",
				"customer_id", e.customerID, "cap_bytes", e.byteCap)
		}
		return
	}
	e.send(ev)
}

func (e *SSEEmitter) Delta(content string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.send(contentEvent{Choices: []choice{{Delta: deltaPayload{Content: content}}}})
}

func (e *SSEEmitter) Terminal(content, threadID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.send(contentEvent{
		Choices: []choice{{
			Delta:   deltaPayload{},
			Message: &messagePayload{Content: content},
		}},
		ThreadID: threadID,
	})
}

func (e *SSEEmitter) Done() {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, _ := fmt.Fprint(e.w, "data: [DONE]\n\n")
	e.written += n
	e.flusher.Flush()
}

// send frames one event. Caller holds e.mu.
func (e *SSEEmitter) send(payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Failed to encode stream event", "error", err)
		return
	}
	n, _ := fmt.Fprintf(e.w, "data: %s\n\n", data)
	e.written += n
	e.flusher.Flush()
}

// Collector implements Emitter for stream=false requests: milestones are
// discarded, the terminal response is kept for a plain JSON reply.
type Collector struct {
	mu       sync.Mutex
	content  string
	threadID string
	done     bool
}

func NewCollector() *Collector { return &Collector{} }

func (c *Collector) StepStart(step, message string)  {}
func (c *Collector) StepDone(step string)            {}
func (c *Collector) StepFailed(step, message string) {}
func (c *Collector) Delta(content string)            {}

func (c *Collector) Terminal(content, threadID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.content = content
	c.threadID = threadID
}

func (c *Collector) Done() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.done = true
}

// Response returns the collected terminal content and thread id.
func (c *Collector) Response() (content, threadID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.content, c.threadID
}

// TerminalEvent returns the collected response shaped as the terminal
// stream event, for stream=false replies that mirror the SSE payload.
func (c *Collector) TerminalEvent() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return contentEvent{
		Choices: []choice{{
			Delta:   deltaPayload{},
			Message: &messagePayload{Content: c.content},
		}},
		ThreadID: c.threadID,
	}
}
