package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/convobank/orchestrator/pkg/audit"
	"github.com/convobank/orchestrator/pkg/bankdata"
	"github.com/convobank/orchestrator/pkg/config"
	"github.com/convobank/orchestrator/pkg/models"
)

// Populator assembles cache bundles from the downstream data services.
// Phase A (accounts) is serial and required; phase B (transactions,
// beneficiaries, limits) fans out concurrently and is best effort per
// dependency — a failed sub-fetch leaves an empty slice and an audit record,
// never a failed populate.
type Populator struct {
	data     *bankdata.Client
	auditLog audit.Auditor

	ttl              time.Duration
	transactionCount int
}

// NewPopulator builds a populator over the data-service client.
func NewPopulator(data *bankdata.Client, cfg config.CacheConfig, auditLog audit.Auditor) *Populator {
	return &Populator{
		data:             data,
		auditLog:         auditLog,
		ttl:              cfg.BundleTTL,
		transactionCount: cfg.TransactionCount,
	}
}

// Populate fetches and assembles one customer's bundle. An empty account
// list fails the whole populate: a bundle without a primary account cannot
// satisfy any cacheable intent.
func (p *Populator) Populate(ctx context.Context, principal models.Principal) (*models.CacheBundle, error) {
	accounts, err := p.data.ListAccounts(ctx, principal.Email)
	if err != nil {
		return nil, fmt.Errorf("accounts fetch: %w", err)
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("accounts service returned no accounts for %s", principal.Email)
	}
	primary := accounts[0]

	data := models.BundleData{
		Accounts:          accounts,
		PrimaryBalance:    primary.Balance,
		LastNTransactions: []models.Transaction{},
		Beneficiaries:     []models.Beneficiary{},
	}

	var g errgroup.Group
	g.Go(func() error {
		txns, err := p.data.RecentTransactions(ctx, primary.ID, p.transactionCount)
		if err != nil {
			p.auditSubFailure(principal.CustomerID, "transactions", err)
			return nil
		}
		data.LastNTransactions = txns
		return nil
	})
	g.Go(func() error {
		bens, err := p.data.Beneficiaries(ctx, primary.ID)
		if err != nil {
			p.auditSubFailure(principal.CustomerID, "beneficiaries", err)
			return nil
		}
		data.Beneficiaries = bens
		return nil
	})
	g.Go(func() error {
		limits, err := p.data.Limits(ctx, primary.ID)
		if err != nil {
			p.auditSubFailure(principal.CustomerID, "limits", err)
			return nil
		}
		data.Limits = limits
		return nil
	})
	_ = g.Wait()

	return &models.CacheBundle{
		CustomerID: principal.CustomerID,
		CreatedAt:  time.Now().UTC(),
		TTLSeconds: int(p.ttl.Seconds()),
		Data:       data,
	}, nil
}

func (p *Populator) auditSubFailure(customerID, dependency string, err error) {
	slog.Warn("Populate sub-fetch failed",
		"customer_id", customerID, "dependency", dependency, "error", err)
	p.auditLog.Append(audit.Record{
		CustomerID: customerID,
		EventType:  audit.EventCachePopulateFail,
		Details: map[string]any{
			"dependency": dependency,
			"error":      err.Error(),
		},
	})
}
