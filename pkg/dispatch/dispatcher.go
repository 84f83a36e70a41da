// Package dispatch sends normalized invocations to specialist agents and
// post-processes their responses: committed-write sentinels invalidate the
// customer's cache, escalation sentinels set or clear the escalation pin.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/convobank/orchestrator/pkg/audit"
	"github.com/convobank/orchestrator/pkg/cache"
	"github.com/convobank/orchestrator/pkg/config"
	"github.com/convobank/orchestrator/pkg/models"
	"github.com/convobank/orchestrator/pkg/state"
	"github.com/convobank/orchestrator/pkg/version"
)

// ErrorKind classifies a dispatch failure for the API error envelope.
type ErrorKind string

const (
	KindAgentTimeout     ErrorKind = "agent_timeout"
	KindAgentUnavailable ErrorKind = "agent_unavailable"
)

// Error is a failed dispatch. A dispatch is a single attempt: the agents
// run long multi-step workflows, so retrying could double-execute a write.
type Error struct {
	Kind  ErrorKind
	Agent string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("dispatch to %s failed (%s): %v", e.Agent, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// invokeRequest is the wire body POSTed to {endpoint}/invoke.
type invokeRequest struct {
	Messages   []models.Message `json:"messages"`
	ThreadID   string           `json:"thread_id"`
	CustomerID string           `json:"customer_id"`
	UserEmail  string           `json:"user_email"`
	Stream     bool             `json:"stream"`
}

type invokeResponse struct {
	Response string `json:"response"`
	ThreadID string `json:"thread_id,omitempty"`
}

// Result is a successful agent response.
type Result struct {
	Text string
	// ThreadID is the agent's authoritative thread id; falls back to the
	// request's when the agent omits it.
	ThreadID string
}

// Dispatcher invokes specialist agents over HTTP.
type Dispatcher struct {
	client   *http.Client
	timeout  time.Duration
	table    *config.RoutingTable
	store    *cache.Store
	state    *state.Manager
	auditLog audit.Auditor
}

// New builds a dispatcher.
func New(cfg config.DispatchConfig, table *config.RoutingTable, store *cache.Store, stateMgr *state.Manager, auditLog audit.Auditor) *Dispatcher {
	return &Dispatcher{
		client:   &http.Client{},
		timeout:  cfg.Timeout,
		table:    table,
		store:    store,
		state:    stateMgr,
		auditLog: auditLog,
	}
}

// Dispatch invokes the agent once with the full message history, the last
// user message already rewritten by the router. On success it applies the
// response's sentinel side effects before returning.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	agent config.AgentRef,
	messages []models.Message,
	threadID string,
	principal models.Principal,
) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	body, err := json.Marshal(invokeRequest{
		Messages:   messages,
		ThreadID:   threadID,
		CustomerID: principal.CustomerID,
		UserEmail:  principal.Email,
		Stream:     false,
	})
	if err != nil {
		return Result{}, d.fail(principal, agent, KindAgentUnavailable, fmt.Errorf("encode invocation: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, agent.Endpoint+"/invoke", bytes.NewReader(body))
	if err != nil {
		return Result{}, d.fail(principal, agent, KindAgentUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.Full())

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		kind := KindAgentUnavailable
		if errors.Is(err, context.DeadlineExceeded) {
			kind = KindAgentTimeout
		}
		return Result{}, d.fail(principal, agent, kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return Result{}, d.fail(principal, agent, KindAgentUnavailable,
			fmt.Errorf("agent returned %d: %s", resp.StatusCode, snippet))
	}

	var parsed invokeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{}, d.fail(principal, agent, KindAgentUnavailable,
			fmt.Errorf("malformed agent response: %w", err))
	}

	d.applySentinels(principal, agent, parsed.Response)

	d.auditLog.Append(audit.Record{
		CustomerID: principal.CustomerID,
		ThreadID:   threadID,
		EventType:  audit.EventDispatchOK,
		Details: map[string]any{
			"agent":       agent.Name,
			"duration_ms": time.Since(start).Milliseconds(),
		},
	})

	result := Result{Text: parsed.Response, ThreadID: parsed.ThreadID}
	if result.ThreadID == "" {
		result.ThreadID = threadID
	}
	return result, nil
}

func (d *Dispatcher) fail(principal models.Principal, agent config.AgentRef, kind ErrorKind, err error) error {
	slog.Error("Agent dispatch failed",
		"agent", agent.Name, "customer_id", principal.CustomerID, "kind", string(kind), "error", err)
	d.auditLog.Append(audit.Record{
		CustomerID: principal.CustomerID,
		EventType:  audit.EventDispatchFail,
		Details: map[string]any{
			"agent": agent.Name,
			"kind":  string(kind),
			"error": err.Error(),
		},
	})
	return &Error{Kind: kind, Agent: agent.Name, Err: err}
}

// applySentinels scans the response for the configured sentinel lines. A
// committed write drops the customer's bundle so the next read repopulates;
// escalation transitions move the pin. The ledger itself is the agent's
// business — the core never undoes a write, it only stops serving stale
// reads.
func (d *Dispatcher) applySentinels(principal models.Principal, agent config.AgentRef, response string) {
	if sentinel, ok := firstSentinel(response, d.table.WriteSentinels); ok {
		if err := d.store.Invalidate(principal.CustomerID); err != nil {
			slog.Error("Cache invalidation failed",
				"customer_id", principal.CustomerID, "error", err)
		}
		d.auditLog.Append(audit.Record{
			CustomerID: principal.CustomerID,
			EventType:  audit.EventInvalidate,
			Details:    map[string]any{"trigger": sentinel, "agent": agent.Name},
		})
	}

	if sentinel, ok := firstSentinel(response, d.table.EscalationResolveSentinels); ok {
		d.state.ClearEscalation(principal.CustomerID)
		slog.Info("Escalation resolved",
			"customer_id", principal.CustomerID, "trigger", sentinel)
	} else if _, ok := firstSentinel(response, d.table.EscalationStartSentinels); ok {
		d.state.PinEscalation(principal.CustomerID, agent.Name)
		slog.Info("Escalation started",
			"customer_id", principal.CustomerID, "agent", agent.Name)
	}
}

// firstSentinel returns the first configured sentinel that starts a line of
// the response.
func firstSentinel(response string, sentinels []string) (string, bool) {
	if len(sentinels) == 0 {
		return "", false
	}
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		for _, sentinel := range sentinels {
			if strings.HasPrefix(line, sentinel) {
				return sentinel, true
			}
		}
	}
	return "", false
}
