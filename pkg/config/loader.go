package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Environment variables consumed by Initialize. Paths default relative to the
// working directory; everything operational has a sane local default, while
// identity-provider settings must be supplied explicitly.
const (
	EnvListenAddr        = "LISTEN_ADDR"
	EnvCacheRoot         = "CACHE_ROOT"
	EnvAuditRoot         = "AUDIT_ROOT"
	EnvCustomerDirectory = "CUSTOMER_DIRECTORY"
	EnvAgentCatalog      = "AGENT_CATALOG"
	EnvRoutingTable      = "ROUTING_TABLE"
	EnvJWKSURL           = "IDP_JWKS_URL"
	EnvExpectedIssuer    = "IDP_EXPECTED_ISSUER"
	EnvExpectedAudience  = "IDP_EXPECTED_AUDIENCE"
	EnvClassifierURL     = "LLM_CLASSIFIER_URL"
	EnvClassifierKey     = "LLM_CLASSIFIER_KEY"
	EnvClassifierModel   = "LLM_CLASSIFIER_MODEL"
	EnvAccountsURL       = "ACCOUNTS_SERVICE_URL"
	EnvTransactionsURL   = "TRANSACTIONS_SERVICE_URL"
	EnvContactsURL       = "CONTACTS_SERVICE_URL"
	EnvLimitsURL         = "LIMITS_SERVICE_URL"
)

// Initialize loads, validates, and returns ready-to-use configuration.
//
// Steps performed:
//  1. Read environment settings (with defaults)
//  2. Load the agent catalog from agents.json
//  3. Build the routing table: built-in defaults, optionally overlaid from
//     a routing.yaml file named by ROUTING_TABLE
//  4. Validate everything
func Initialize(_ context.Context) (*Config, error) {
	cfg := &Config{
		ListenAddr:            getEnv(EnvListenAddr, "0.0.0.0:8080"),
		CacheRoot:             getEnv(EnvCacheRoot, "./state/cache"),
		AuditRoot:             getEnv(EnvAuditRoot, "./state/audit"),
		CustomerDirectoryPath: getEnv(EnvCustomerDirectory, "./config/customers.json"),
		AgentCatalogPath:      getEnv(EnvAgentCatalog, "./config/agents.json"),
		IdP: IdPConfig{
			JWKSURL:         os.Getenv(EnvJWKSURL),
			Issuer:          os.Getenv(EnvExpectedIssuer),
			Audience:        os.Getenv(EnvExpectedAudience),
			FetchTimeout:    10 * time.Second,
			RefreshInterval: 15 * time.Minute,
		},
		Classifier: ClassifierConfig{
			URL:       os.Getenv(EnvClassifierURL),
			APIKey:    os.Getenv(EnvClassifierKey),
			Model:     getEnv(EnvClassifierModel, "gpt-4o-mini"),
			Timeout:   3 * time.Second,
			MaxTokens: 20,
		},
		DataServices: DataServicesConfig{
			AccountsURL:     os.Getenv(EnvAccountsURL),
			TransactionsURL: os.Getenv(EnvTransactionsURL),
			ContactsURL:     os.Getenv(EnvContactsURL),
			LimitsURL:       os.Getenv(EnvLimitsURL),
			CallTimeout:     10 * time.Second,
		},
		Cache: CacheConfig{
			BundleTTL:        300 * time.Second,
			WaitTimeout:      25 * time.Second,
			PollInterval:     500 * time.Millisecond,
			SweepCutoff:      time.Hour,
			TransactionCount: 5,
		},
		Conversation: ConversationConfig{
			EntryTTL:         300 * time.Second,
			EscalationPinTTL: 30 * time.Minute,
		},
		Dispatch: DispatchConfig{
			Timeout: 300 * time.Second,
		},
		Stream: StreamConfig{
			ThinkingDropBytes: 1 << 20,
		},
	}

	catalog, err := loadAgentCatalog(cfg.AgentCatalogPath)
	if err != nil {
		return nil, err
	}
	cfg.AgentCatalog = catalog

	routing, err := loadRoutingTable(os.Getenv(EnvRoutingTable))
	if err != nil {
		return nil, err
	}
	cfg.Routing = routing

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	slog.Info("Configuration initialized",
		"listen_addr", cfg.ListenAddr,
		"agents", cfg.AgentCatalog.Len(),
		"cache_root", cfg.CacheRoot,
		"audit_root", cfg.AuditRoot,
		"classifier_enabled", cfg.Classifier.URL != "")

	return cfg, nil
}

// loadAgentCatalog reads and parses agents.json.
func loadAgentCatalog(path string) (*AgentCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewLoadError(path, fmt.Errorf("%w: %s", ErrConfigNotFound, path))
		}
		return nil, NewLoadError(path, err)
	}

	var entries map[string]AgentConfigEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidJSON, err))
	}

	catalog, err := NewAgentCatalog(entries)
	if err != nil {
		return nil, NewLoadError(path, err)
	}
	return catalog, nil
}

// loadRoutingTable returns the built-in table, overlaid section-by-section
// from the given YAML file when one is configured. Environment variables in
// the file are expanded with {{.VAR}} template syntax before parsing.
func loadRoutingTable(path string) (*RoutingTable, error) {
	table := BuiltinRoutingTable()
	if path == "" {
		return table, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewLoadError(path, fmt.Errorf("%w: %s", ErrConfigNotFound, path))
		}
		return nil, NewLoadError(path, err)
	}

	var overlay RoutingTable
	if err := yaml.Unmarshal(ExpandEnv(data), &overlay); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	// Non-empty overlay lists replace built-in ones; maps merge per key.
	if err := mergo.Merge(table, &overlay, mergo.WithOverride); err != nil {
		return nil, NewLoadError(path, err)
	}

	slog.Info("Routing table overlay applied", "path", path)
	return table, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
