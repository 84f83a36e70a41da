// Package services holds the conversation pipeline that the API handlers
// drive: continuation bypass, supervisor routing, agent dispatch, and state
// bookkeeping, with progress narrated through a stream emitter.
package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/convobank/orchestrator/pkg/audit"
	"github.com/convobank/orchestrator/pkg/config"
	"github.com/convobank/orchestrator/pkg/dispatch"
	"github.com/convobank/orchestrator/pkg/models"
	"github.com/convobank/orchestrator/pkg/router"
	"github.com/convobank/orchestrator/pkg/state"
	"github.com/convobank/orchestrator/pkg/stream"
)

// ConversationService executes one conversation turn end to end.
type ConversationService struct {
	router     *router.Router
	dispatcher *dispatch.Dispatcher
	detector   *router.ContinuationDetector
	state      *state.Manager
	catalog    *config.AgentCatalog
	auditLog   audit.Auditor
}

// NewConversationService wires the pipeline.
func NewConversationService(
	r *router.Router,
	d *dispatch.Dispatcher,
	detector *router.ContinuationDetector,
	stateMgr *state.Manager,
	catalog *config.AgentCatalog,
	auditLog audit.Auditor,
) *ConversationService {
	return &ConversationService{
		router:     r,
		dispatcher: d,
		detector:   detector,
		state:      stateMgr,
		catalog:    catalog,
		auditLog:   auditLog,
	}
}

// Handle runs one turn for an authenticated principal, narrating progress
// through the emitter. The emitter always sees a terminal event and [DONE],
// success or failure; the returned error additionally carries the failure
// kind for non-streaming callers.
func (s *ConversationService) Handle(
	ctx context.Context,
	principal models.Principal,
	req models.ConversationRequest,
	emitter stream.Emitter,
) error {
	lastMessage := req.LastUserMessage()
	if lastMessage == "" {
		return ErrEmptyMessage
	}

	threadID := req.ThreadID
	if threadID == "" {
		threadID = "thread_" + principal.CustomerID
	}

	emitter.StepStart(stream.StepAuth, "Verifying identity")
	emitter.StepDone(stream.StepAuth)

	// Continuation bypass: a short reply to a live conversation goes back
	// to the agent that asked, under the thread it already holds.
	if s.detector.IsContinuation(lastMessage) {
		if entry, live := s.state.Active(principal.CustomerID); live {
			return s.continueConversation(ctx, principal, req, entry, emitter)
		}
	}

	emitter.StepStart(stream.StepCacheCheck, "Checking cached data")
	emitter.StepStart(stream.StepRouting, "Selecting the right specialist")
	outcome, err := s.router.Route(ctx, principal, lastMessage)
	if err != nil {
		emitter.StepFailed(stream.StepRouting, "routing failed")
		s.failStream(emitter, threadID)
		return fmt.Errorf("route message: %w", err)
	}
	emitter.StepDone(stream.StepCacheCheck)
	emitter.StepDone(stream.StepRouting)

	if outcome.Kind == router.OutcomeCacheServe {
		stream.EmitResponse(emitter, outcome.Reply, threadID)
		return nil
	}

	messages := rewriteLastUserMessage(req.Messages, outcome.Message)
	return s.dispatchTurn(ctx, principal, outcome.Agent, messages, threadID, emitter)
}

// continueConversation bypasses the router entirely, reusing the live
// entry's agent and stored thread id.
func (s *ConversationService) continueConversation(
	ctx context.Context,
	principal models.Principal,
	req models.ConversationRequest,
	entry models.ConversationEntry,
	emitter stream.Emitter,
) error {
	s.auditLog.Append(audit.Record{
		CustomerID: principal.CustomerID,
		ThreadID:   entry.ThreadID,
		EventType:  audit.EventContinuationBypass,
		Details:    map[string]any{"agent": entry.AgentName},
	})
	slog.Debug("Continuation bypass",
		"customer_id", principal.CustomerID, "agent", entry.AgentName)

	agent, ok := s.catalog.Get(entry.AgentName)
	if !ok {
		// Catalog changed under a live conversation; fall back to the
		// stored endpoint so the continuation still lands.
		agent = config.AgentRef{Name: entry.AgentName, Endpoint: entry.AgentEndpoint}
	}
	return s.dispatchTurn(ctx, principal, agent, req.Messages, entry.ThreadID, emitter)
}

// dispatchTurn invokes the agent, updates conversation state on success,
// and emits the response.
func (s *ConversationService) dispatchTurn(
	ctx context.Context,
	principal models.Principal,
	agent config.AgentRef,
	messages []models.Message,
	threadID string,
	emitter stream.Emitter,
) error {
	emitter.StepStart(stream.StepDispatch, fmt.Sprintf("Asking %s", agent.Name))

	result, err := s.dispatcher.Dispatch(ctx, agent, messages, threadID, principal)
	if err != nil {
		emitter.StepFailed(stream.StepDispatch, "the specialist did not answer")
		s.failStream(emitter, threadID)
		return err
	}
	emitter.StepDone(stream.StepDispatch)

	s.state.Update(principal.CustomerID, agent, result.ThreadID)
	stream.EmitResponse(emitter, result.Text, result.ThreadID)
	return nil
}

// failStream closes a stream after a failure: a plain-language terminal so
// the client has something to show, then [DONE] so it unblocks.
func (s *ConversationService) failStream(emitter stream.Emitter, threadID string) {
	emitter.Terminal(
		"I couldn't complete that request right now. Please try again in a moment.",
		threadID)
	emitter.Done()
}

// Reset clears the customer's conversation state and escalation pin.
func (s *ConversationService) Reset(customerID string) {
	s.state.Clear(customerID)
	s.auditLog.Append(audit.Record{
		CustomerID: customerID,
		EventType:  audit.EventInternal,
		Details:    map[string]any{"action": "conversation_reset"},
	})
}

// rewriteLastUserMessage returns a copy of messages with the content of the
// most recent user message replaced. The router's payment rewrite applies
// to the message the agent acts on, not the history around it.
func rewriteLastUserMessage(messages []models.Message, content string) []models.Message {
	out := make([]models.Message, len(messages))
	copy(out, messages)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i].Role == models.RoleUser {
			out[i].Content = content
			break
		}
	}
	return out
}
