// Package config loads and validates the orchestrator's configuration:
// environment settings, the static agent catalog, and the routing table
// (built-in defaults with an optional YAML overlay).
package config

import (
	"fmt"
	"time"
)

// IdPConfig holds identity-provider settings for bearer token verification.
type IdPConfig struct {
	JWKSURL  string
	Issuer   string
	Audience string

	// FetchTimeout bounds one JWKS document fetch.
	FetchTimeout time.Duration
	// RefreshInterval is the fallback key-set cache lifetime when the IdP
	// response carries no Cache-Control max-age.
	RefreshInterval time.Duration
}

// ClassifierConfig holds settings for the LLM fallback classifier.
type ClassifierConfig struct {
	URL       string
	APIKey    string
	Model     string
	Timeout   time.Duration
	MaxTokens int
}

// DataServicesConfig holds the base URLs of the downstream data services the
// cache populator calls, plus the per-call deadline.
type DataServicesConfig struct {
	AccountsURL     string
	TransactionsURL string
	ContactsURL     string
	LimitsURL       string
	CallTimeout     time.Duration
}

// CacheConfig holds cache store and populator tunables.
type CacheConfig struct {
	BundleTTL        time.Duration
	WaitTimeout      time.Duration
	PollInterval     time.Duration
	SweepCutoff      time.Duration
	TransactionCount int
}

// ConversationConfig holds conversation state manager tunables.
type ConversationConfig struct {
	EntryTTL         time.Duration
	EscalationPinTTL time.Duration
}

// DispatchConfig holds agent dispatcher tunables.
type DispatchConfig struct {
	Timeout time.Duration
}

// StreamConfig holds streaming pipeline tunables.
type StreamConfig struct {
	// ThinkingDropBytes is the per-response byte budget; once exceeded,
	// thinking events are dropped (delta events never are).
	ThinkingDropBytes int
}

// Config is the fully loaded, validated orchestrator configuration.
type Config struct {
	ListenAddr string

	CacheRoot string
	AuditRoot string

	CustomerDirectoryPath string
	AgentCatalogPath      string

	IdP          IdPConfig
	Classifier   ClassifierConfig
	DataServices DataServicesConfig
	Cache        CacheConfig
	Conversation ConversationConfig
	Dispatch     DispatchConfig
	Stream       StreamConfig

	Routing      *RoutingTable
	AgentCatalog *AgentCatalog
}

// AgentConfigEntry is one entry of agents.json:
// agent_name → { base_url, category, may_use_cache }.
type AgentConfigEntry struct {
	BaseURL     string `json:"base_url"`
	Category    string `json:"category"`
	MayUseCache bool   `json:"may_use_cache"`
}

// AgentRef identifies a resolved, dispatchable agent.
type AgentRef struct {
	Name        string
	Endpoint    string
	Category    Category
	MayUseCache bool
}

// AgentCatalog is the immutable registry of configured specialist agents,
// indexed by name and by category. Built once at startup.
type AgentCatalog struct {
	byName     map[string]AgentRef
	byCategory map[Category]AgentRef
}

// NewAgentCatalog builds a catalog from parsed agents.json entries.
// Duplicate categories are rejected: agent selection is a closed mapping
// from category to exactly one endpoint.
func NewAgentCatalog(entries map[string]AgentConfigEntry) (*AgentCatalog, error) {
	cat := &AgentCatalog{
		byName:     make(map[string]AgentRef, len(entries)),
		byCategory: make(map[Category]AgentRef, len(entries)),
	}
	for name, e := range entries {
		category, ok := ParseCategory(e.Category)
		if !ok {
			return nil, NewValidationError("agent", name, "category",
				fmt.Errorf("%w: %q", ErrInvalidValue, e.Category))
		}
		ref := AgentRef{
			Name:        name,
			Endpoint:    e.BaseURL,
			Category:    category,
			MayUseCache: e.MayUseCache,
		}
		if prev, dup := cat.byCategory[category]; dup {
			return nil, NewValidationError("agent", name, "category",
				fmt.Errorf("%w: category %q already served by agent %q",
					ErrInvalidValue, category, prev.Name))
		}
		cat.byName[name] = ref
		cat.byCategory[category] = ref
	}
	return cat, nil
}

// Get returns the agent with the given name.
func (c *AgentCatalog) Get(name string) (AgentRef, bool) {
	ref, ok := c.byName[name]
	return ref, ok
}

// ByCategory returns the agent serving the given category.
func (c *AgentCatalog) ByCategory(category Category) (AgentRef, bool) {
	ref, ok := c.byCategory[category]
	return ref, ok
}

// Names returns the configured agent names (unordered).
func (c *AgentCatalog) Names() []string {
	names := make([]string, 0, len(c.byName))
	for name := range c.byName {
		names = append(names, name)
	}
	return names
}

// Len returns the number of configured agents.
func (c *AgentCatalog) Len() int {
	return len(c.byName)
}
