// Package router decides how each customer message is answered: served
// straight from the cache, or dispatched to one of the specialist agents.
// Classification is tiered — escalation pin, cache short-circuit, keyword
// scoring, LLM fallback — and every outcome is audited with its reason.
package router

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/convobank/orchestrator/pkg/audit"
	"github.com/convobank/orchestrator/pkg/cache"
	"github.com/convobank/orchestrator/pkg/config"
	"github.com/convobank/orchestrator/pkg/models"
	"github.com/convobank/orchestrator/pkg/state"
)

// OutcomeKind says whether the router answered from cache or selected an
// agent to dispatch to.
type OutcomeKind string

const (
	OutcomeCacheServe OutcomeKind = "cache_serve"
	OutcomeDispatch   OutcomeKind = "dispatch"
)

// Routing reasons recorded in the audit trail.
const (
	reasonEscalationPin = "escalation_pin"
	reasonCacheHit      = "cache_hit"
	reasonKeyword       = "keyword"
	reasonLLMPrefix     = "llm_"
	reasonDefault       = "llm_default"
)

// Outcome is one routing decision.
type Outcome struct {
	Kind OutcomeKind

	// Reply is the composed response text for cache-served outcomes.
	Reply string

	// Agent and Message are set for dispatch outcomes; Message is the last
	// user message, rewritten for the payment agent.
	Agent   config.AgentRef
	Message string

	Reason string
}

// Router is the supervisor router.
type Router struct {
	table      *config.RoutingTable
	catalog    *config.AgentCatalog
	store      *cache.Store
	state      *state.Manager
	scorer     *KeywordScorer
	classifier Classifier
	auditLog   audit.Auditor
}

// New wires a router. classifier may be nil when no LLM endpoint is
// configured; the keyword tier then falls straight through to the default.
func New(
	table *config.RoutingTable,
	catalog *config.AgentCatalog,
	store *cache.Store,
	stateMgr *state.Manager,
	classifier Classifier,
	auditLog audit.Auditor,
) *Router {
	return &Router{
		table:      table,
		catalog:    catalog,
		store:      store,
		state:      stateMgr,
		scorer:     NewKeywordScorer(table),
		classifier: classifier,
		auditLog:   auditLog,
	}
}

// Route runs the decision pipeline for one message. The first tier to
// commit wins.
func (r *Router) Route(ctx context.Context, principal models.Principal, message string) (Outcome, error) {
	// Tier 1: an active escalation pin overrides everything.
	if pinned, ok := r.state.EscalationPin(principal.CustomerID); ok {
		agent, found := r.catalog.Get(pinned)
		if !found {
			agent, found = r.catalog.ByCategory(config.CategoryEscalation)
		}
		if found {
			return r.dispatchOutcome(principal, agent, message, reasonEscalationPin, nil), nil
		}
		slog.Warn("Escalation pin set but no escalation agent configured",
			"customer_id", principal.CustomerID)
	}

	// Tier 2: cacheable read intents answer from the bundle when one is
	// valid (or lands while a populate is in flight). The short-circuit only
	// applies when the agent owning that intent's category consents to being
	// bypassed; otherwise the message dispatches like any other.
	if intent, ok := matchCacheableIntent(r.table, message); ok {
		if agent, found := r.catalog.ByCategory(config.IntentCategory(intent)); found && agent.MayUseCache {
			bundle, err := r.store.Get(ctx, principal.CustomerID)
			if err != nil {
				return Outcome{}, fmt.Errorf("cache lookup: %w", err)
			}
			if bundle != nil {
				r.auditLog.Append(audit.Record{
					CustomerID: principal.CustomerID,
					EventType:  audit.EventCacheHit,
					Details:    map[string]any{"intent": intent},
				})
				r.auditDecision(principal.CustomerID, reasonCacheHit, string(OutcomeCacheServe), nil,
					map[string]any{"intent": intent})
				return Outcome{
					Kind:   OutcomeCacheServe,
					Reply:  renderCacheReply(intent, bundle),
					Reason: reasonCacheHit,
				}, nil
			}
			r.auditLog.Append(audit.Record{
				CustomerID: principal.CustomerID,
				EventType:  audit.EventCacheMiss,
				Details:    map[string]any{"intent": intent},
			})
		}
	}

	// Tier 3: weighted keywords.
	if category, ok, scores := r.scorer.Classify(message); ok {
		if agent, found := r.catalog.ByCategory(category); found {
			return r.dispatchOutcome(principal, agent, message, reasonKeyword, scores), nil
		}
	} else if r.classifier != nil {
		// Tier 4: one bounded LLM call.
		category, err := r.classifier.Classify(ctx, message)
		if err == nil {
			if agent, found := r.catalog.ByCategory(category); found {
				return r.dispatchOutcome(principal, agent, message,
					reasonLLMPrefix+string(category), scores), nil
			}
		} else {
			slog.Debug("LLM classification failed, defaulting",
				"customer_id", principal.CustomerID, "error", err)
		}
	}

	// Default: the account agent. Catalog validation guarantees it exists.
	agent, found := r.catalog.ByCategory(config.CategoryAccount)
	if !found {
		return Outcome{}, fmt.Errorf("no agent configured for category %q", config.CategoryAccount)
	}
	return r.dispatchOutcome(principal, agent, message, reasonDefault, nil), nil
}

// dispatchOutcome finalizes a dispatch decision: payment messages are
// rewritten to carry the sender's identity inline, and the decision is
// audited with the scores that produced it.
func (r *Router) dispatchOutcome(
	principal models.Principal,
	agent config.AgentRef,
	message, reason string,
	scores map[config.Category]int,
) Outcome {
	if agent.Category == config.CategoryPayment {
		message = fmt.Sprintf("my username is %s, %s", principal.Email, message)
	}

	r.auditDecision(principal.CustomerID, reason, agent.Name, scores, nil)
	return Outcome{
		Kind:    OutcomeDispatch,
		Agent:   agent,
		Message: message,
		Reason:  reason,
	}
}

func (r *Router) auditDecision(customerID, reason, target string, scores map[config.Category]int, extra map[string]any) {
	details := map[string]any{
		"reason": reason,
		"target": target,
	}
	if len(scores) > 0 {
		flat := make(map[string]int, len(scores))
		for category, score := range scores {
			flat[string(category)] = score
		}
		details["scores"] = flat
	}
	for k, v := range extra {
		details[k] = v
	}
	r.auditLog.Append(audit.Record{
		CustomerID: customerID,
		EventType:  audit.EventRoutingDecision,
		Details:    details,
	})
}
