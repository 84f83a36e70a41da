// Package bankdata is the HTTP client for the downstream data services
// (accounts, transactions, contacts, limits). Each service exposes named
// tool calls: POST {base}/tools/{name} with a JSON argument object returning
// a JSON result. The tool contracts are fixed configuration, not discovered.
package bankdata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/convobank/orchestrator/pkg/config"
	"github.com/convobank/orchestrator/pkg/models"
	"github.com/convobank/orchestrator/pkg/version"
)

// ErrToolCall wraps every transport or protocol failure of a tool call so
// callers can distinguish "the service failed" from "the data was empty".
var ErrToolCall = errors.New("data service tool call failed")

// Client calls the downstream data services. Every call carries an
// independent deadline; the populator decides which failures are fatal.
type Client struct {
	accountsURL     string
	transactionsURL string
	contactsURL     string
	limitsURL       string
	callTimeout     time.Duration
	http            *http.Client
}

// NewClient builds a data-service client from configuration.
func NewClient(cfg config.DataServicesConfig) *Client {
	return &Client{
		accountsURL:     cfg.AccountsURL,
		transactionsURL: cfg.TransactionsURL,
		contactsURL:     cfg.ContactsURL,
		limitsURL:       cfg.LimitsURL,
		callTimeout:     cfg.CallTimeout,
		// Deadlines are per call via context; the client itself has no
		// timeout so a generous caller context is not cut short.
		http: &http.Client{},
	}
}

// call executes one named tool call and decodes the JSON result into out.
func (c *Client) call(ctx context.Context, baseURL, tool string, args any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	body, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("%w: encode %s args: %v", ErrToolCall, tool, err)
	}

	url := baseURL + "/tools/" + tool
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrToolCall, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.Full())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrToolCall, tool, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("%w: %s returned %d: %s", ErrToolCall, tool, resp.StatusCode, snippet)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s result: %v", ErrToolCall, tool, err)
	}
	return nil
}

// ListAccounts returns the customer's accounts, primary first.
func (c *Client) ListAccounts(ctx context.Context, email string) ([]models.Account, error) {
	var result struct {
		Accounts []models.Account `json:"accounts"`
	}
	args := map[string]string{"email": email}
	if err := c.call(ctx, c.accountsURL, "list_accounts", args, &result); err != nil {
		return nil, err
	}
	return result.Accounts, nil
}

// RecentTransactions returns the last n transactions on an account,
// newest first.
func (c *Client) RecentTransactions(ctx context.Context, accountID string, n int) ([]models.Transaction, error) {
	var result struct {
		Transactions []models.Transaction `json:"transactions"`
	}
	args := map[string]any{"account_id": accountID, "limit": n}
	if err := c.call(ctx, c.transactionsURL, "recent_transactions", args, &result); err != nil {
		return nil, err
	}
	return result.Transactions, nil
}

// Beneficiaries returns the saved transfer recipients for an account.
func (c *Client) Beneficiaries(ctx context.Context, accountID string) ([]models.Beneficiary, error) {
	var result struct {
		Beneficiaries []models.Beneficiary `json:"beneficiaries"`
	}
	args := map[string]string{"account_id": accountID}
	if err := c.call(ctx, c.contactsURL, "list_beneficiaries", args, &result); err != nil {
		return nil, err
	}
	return result.Beneficiaries, nil
}

// Limits returns the transfer limits on an account.
func (c *Client) Limits(ctx context.Context, accountID string) (models.LimitInfo, error) {
	var result struct {
		Limits models.LimitInfo `json:"limits"`
	}
	args := map[string]string{"account_id": accountID}
	if err := c.call(ctx, c.limitsURL, "get_limits", args, &result); err != nil {
		return models.LimitInfo{}, err
	}
	return result.Limits, nil
}
