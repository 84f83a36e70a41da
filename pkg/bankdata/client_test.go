package bankdata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convobank/orchestrator/pkg/config"
)

// newFakeService serves one tool under /tools/{name}, capturing the args it
// received and answering with the given result body.
func newFakeService(t *testing.T, tool string, result string, gotArgs *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/tools/"+tool, r.URL.Path)
		if gotArgs != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(gotArgs))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(result))
	}))
}

func newTestClient(cfg config.DataServicesConfig) *Client {
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = 2 * time.Second
	}
	return NewClient(cfg)
}

func TestListAccounts(t *testing.T) {
	var args map[string]any
	srv := newFakeService(t, "list_accounts", `{
		"accounts": [
			{"id": "acc-1", "number": "111-222-333", "holder_name": "Alice Anand",
			 "balance": {"amount": 113400.0, "currency": "THB"}},
			{"id": "acc-2", "number": "444-555-666", "holder_name": "Alice Anand",
			 "balance": {"amount": 2500.5, "currency": "THB"}}
		]
	}`, &args)
	defer srv.Close()

	c := newTestClient(config.DataServicesConfig{AccountsURL: srv.URL})
	accounts, err := c.ListAccounts(context.Background(), "alice@ex")
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "acc-1", accounts[0].ID)
	assert.Equal(t, 113400.0, accounts[0].Balance.Amount)
	assert.Equal(t, map[string]any{"email": "alice@ex"}, args)
}

func TestRecentTransactions(t *testing.T) {
	var args map[string]any
	srv := newFakeService(t, "recent_transactions", `{
		"transactions": [
			{"id": "tx-1", "posted_at": "2026-08-23T10:00:00Z",
			 "description": "Coffee", "amount": {"amount": -95.0, "currency": "THB"}}
		]
	}`, &args)
	defer srv.Close()

	c := newTestClient(config.DataServicesConfig{TransactionsURL: srv.URL})
	txns, err := c.RecentTransactions(context.Background(), "acc-1", 5)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, "Coffee", txns[0].Description)
	assert.Equal(t, "acc-1", args["account_id"])
	assert.Equal(t, float64(5), args["limit"])
}

func TestBeneficiaries(t *testing.T) {
	srv := newFakeService(t, "list_beneficiaries", `{
		"beneficiaries": [
			{"id": "b-1", "name": "Bob Boon", "account_number": "777-888-999", "bank": "KBank"}
		]
	}`, nil)
	defer srv.Close()

	c := newTestClient(config.DataServicesConfig{ContactsURL: srv.URL})
	bens, err := c.Beneficiaries(context.Background(), "acc-1")
	require.NoError(t, err)
	require.Len(t, bens, 1)
	assert.Equal(t, "Bob Boon", bens[0].Name)
}

func TestLimits(t *testing.T) {
	srv := newFakeService(t, "get_limits", `{
		"limits": {
			"per_transaction": {"amount": 50000, "currency": "THB"},
			"daily": {"amount": 200000, "currency": "THB"},
			"remaining_today": {"amount": 150000, "currency": "THB"}
		}
	}`, nil)
	defer srv.Close()

	c := newTestClient(config.DataServicesConfig{LimitsURL: srv.URL})
	limits, err := c.Limits(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.Equal(t, 200000.0, limits.Daily.Amount)
}

func TestToolCallFailures(t *testing.T) {
	t.Run("non-200 status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer srv.Close()

		c := newTestClient(config.DataServicesConfig{AccountsURL: srv.URL})
		_, err := c.ListAccounts(context.Background(), "alice@ex")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrToolCall)
	})

	t.Run("call deadline is honored", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-release
		}))
		defer srv.Close()
		defer close(release)

		c := newTestClient(config.DataServicesConfig{
			LimitsURL:   srv.URL,
			CallTimeout: 50 * time.Millisecond,
		})
		start := time.Now()
		_, err := c.Limits(context.Background(), "acc-1")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrToolCall)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("malformed result body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("not json"))
		}))
		defer srv.Close()

		c := newTestClient(config.DataServicesConfig{ContactsURL: srv.URL})
		_, err := c.Beneficiaries(context.Background(), "acc-1")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrToolCall)
	})
}
