package config

import (
	"fmt"
	"net/url"
)

// validate performs cross-field validation on loaded configuration.
// The classifier is optional (the router degrades to its default category);
// everything else listed here is required for the process to be useful.
func validate(cfg *Config) error {
	if cfg.AgentCatalog == nil || cfg.AgentCatalog.Len() == 0 {
		return NewValidationError("agent_catalog", cfg.AgentCatalogPath, "",
			fmt.Errorf("%w: no agents configured", ErrMissingRequiredField))
	}
	for _, name := range cfg.AgentCatalog.Names() {
		ref, _ := cfg.AgentCatalog.Get(name)
		if err := validateURL(ref.Endpoint); err != nil {
			return NewValidationError("agent", name, "base_url", err)
		}
	}

	// The account category is the router's terminal fallback; a catalog
	// without it could leave requests unroutable.
	if _, ok := cfg.AgentCatalog.ByCategory(CategoryAccount); !ok {
		return NewValidationError("agent_catalog", cfg.AgentCatalogPath, "",
			fmt.Errorf("%w: no agent serves the %q category", ErrMissingRequiredField, CategoryAccount))
	}

	if cfg.IdP.JWKSURL == "" {
		return NewValidationError("idp", "", EnvJWKSURL, ErrMissingRequiredField)
	}
	if err := validateURL(cfg.IdP.JWKSURL); err != nil {
		return NewValidationError("idp", "", EnvJWKSURL, err)
	}
	if cfg.IdP.Issuer == "" {
		return NewValidationError("idp", "", EnvExpectedIssuer, ErrMissingRequiredField)
	}
	if cfg.IdP.Audience == "" {
		return NewValidationError("idp", "", EnvExpectedAudience, ErrMissingRequiredField)
	}

	if cfg.Classifier.URL != "" {
		if err := validateURL(cfg.Classifier.URL); err != nil {
			return NewValidationError("classifier", "", EnvClassifierURL, err)
		}
	}

	for env, u := range map[string]string{
		EnvAccountsURL:     cfg.DataServices.AccountsURL,
		EnvTransactionsURL: cfg.DataServices.TransactionsURL,
		EnvContactsURL:     cfg.DataServices.ContactsURL,
		EnvLimitsURL:       cfg.DataServices.LimitsURL,
	} {
		if u == "" {
			return NewValidationError("data_services", "", env, ErrMissingRequiredField)
		}
		if err := validateURL(u); err != nil {
			return NewValidationError("data_services", "", env, err)
		}
	}

	if cfg.Cache.BundleTTL <= 0 || cfg.Cache.WaitTimeout <= 0 || cfg.Cache.PollInterval <= 0 {
		return NewValidationError("cache", "", "ttl",
			fmt.Errorf("%w: cache durations must be positive", ErrInvalidValue))
	}
	if cfg.Cache.TransactionCount <= 0 {
		return NewValidationError("cache", "", "transaction_count",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}

	if err := validateRoutingTable(cfg.Routing); err != nil {
		return err
	}

	return nil
}

// validateRoutingTable rejects overlays that would disable whole router
// stages (empty keyword table, empty continuation sets).
func validateRoutingTable(t *RoutingTable) error {
	if t == nil {
		return NewValidationError("routing", "", "", ErrMissingRequiredField)
	}
	if len(t.Keywords) == 0 {
		return NewValidationError("routing", "", "keywords",
			fmt.Errorf("%w: keyword classifier table is empty", ErrInvalidValue))
	}
	for category := range t.Keywords {
		if _, ok := ParseCategory(string(category)); !ok {
			return NewValidationError("routing", string(category), "keywords",
				fmt.Errorf("%w: unknown category", ErrInvalidValue))
		}
	}
	if len(t.Affirmations) == 0 {
		return NewValidationError("routing", "", "affirmations",
			fmt.Errorf("%w: continuation affirmation set is empty", ErrInvalidValue))
	}
	if len(t.CacheableIntents) == 0 {
		return NewValidationError("routing", "", "cacheable_intents",
			fmt.Errorf("%w: cacheable intent table is empty", ErrInvalidValue))
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidValue, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidValue)
	}
	return nil
}
