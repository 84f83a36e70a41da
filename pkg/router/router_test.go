package router

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convobank/orchestrator/pkg/audit"
	"github.com/convobank/orchestrator/pkg/cache"
	"github.com/convobank/orchestrator/pkg/config"
	"github.com/convobank/orchestrator/pkg/models"
	"github.com/convobank/orchestrator/pkg/state"
)

type fixedClassifier struct {
	category config.Category
	err      error
	calls    int
}

func (f *fixedClassifier) Classify(ctx context.Context, message string) (config.Category, error) {
	f.calls++
	return f.category, f.err
}

type staticSource struct {
	bundle *models.CacheBundle
}

func (s *staticSource) Populate(ctx context.Context, p models.Principal) (*models.CacheBundle, error) {
	if s.bundle == nil {
		return nil, errors.New("no bundle scripted")
	}
	return s.bundle, nil
}

func testCatalog(t *testing.T) *config.AgentCatalog {
	t.Helper()
	catalog, err := config.NewAgentCatalog(map[string]config.AgentConfigEntry{
		"account-agent":     {BaseURL: "http://account.internal", Category: "account", MayUseCache: true},
		"transaction-agent": {BaseURL: "http://transaction.internal", Category: "transaction", MayUseCache: true},
		"payment-agent":     {BaseURL: "http://payment.internal", Category: "payment"},
		"product-agent":     {BaseURL: "http://product.internal", Category: "product-info"},
		"coach-agent":       {BaseURL: "http://coach.internal", Category: "money-coach"},
		"escalation-agent":  {BaseURL: "http://escalation.internal", Category: "escalation"},
	})
	require.NoError(t, err)
	return catalog
}

func fullBundle(customerID string) *models.CacheBundle {
	return &models.CacheBundle{
		CustomerID: customerID,
		CreatedAt:  time.Now().UTC(),
		TTLSeconds: 300,
		Data: models.BundleData{
			Accounts: []models.Account{{
				ID: "acc-1", Number: "111-222-333", HolderName: "Alice Anand",
				Balance: models.Money{Amount: 113400, Currency: "THB"},
			}},
			PrimaryBalance: models.Money{Amount: 113400, Currency: "THB"},
			LastNTransactions: []models.Transaction{
				{ID: "tx-1", PostedAt: time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC),
					Description: "Coffee", Amount: models.Money{Amount: -95, Currency: "THB"}},
			},
			Beneficiaries: []models.Beneficiary{},
			Limits: models.LimitInfo{
				PerTransaction: models.Money{Amount: 50000, Currency: "THB"},
				Daily:          models.Money{Amount: 200000, Currency: "THB"},
				RemainingToday: models.Money{Amount: 150000, Currency: "THB"},
			},
		},
	}
}

type routerFixture struct {
	router     *Router
	store      *cache.Store
	state      *state.Manager
	sink       *audit.MemorySink
	classifier *fixedClassifier
}

func newRouterFixture(t *testing.T, bundle *models.CacheBundle) *routerFixture {
	t.Helper()
	sink := audit.NewMemorySink()
	logger := audit.NewLogger(sink)
	logger.Start()
	t.Cleanup(logger.Shutdown)

	store, err := cache.NewStore(t.TempDir(), config.CacheConfig{
		BundleTTL:    300 * time.Second,
		WaitTimeout:  time.Second,
		PollInterval: 10 * time.Millisecond,
		SweepCutoff:  time.Hour,
	}, &staticSource{bundle: bundle}, logger)
	require.NoError(t, err)

	if bundle != nil {
		// Land the bundle through the normal populate path.
		require.Equal(t, cache.StatusScheduled, store.EnsurePopulated(models.Principal{
			CustomerID: bundle.CustomerID,
			Email:      "alice@ex",
		}))
		require.Eventually(t, func() bool {
			b, err := store.Get(context.Background(), bundle.CustomerID)
			return err == nil && b != nil
		}, time.Second, 10*time.Millisecond)
	}

	stateMgr := state.NewManager(config.ConversationConfig{
		EntryTTL:         300 * time.Second,
		EscalationPinTTL: 30 * time.Minute,
	})
	classifier := &fixedClassifier{category: config.CategoryAccount}

	return &routerFixture{
		router:     New(config.BuiltinRoutingTable(), testCatalog(t), store, stateMgr, classifier, logger),
		store:      store,
		state:      stateMgr,
		sink:       sink,
		classifier: classifier,
	}
}

func alicePrincipal() models.Principal {
	return models.Principal{Email: "alice@ex", CustomerID: "C001", DisplayName: "Alice Anand"}
}

func TestRouteCacheShortCircuit(t *testing.T) {
	ctx := context.Background()

	t.Run("balance inquiry served from the bundle", func(t *testing.T) {
		f := newRouterFixture(t, fullBundle("C001"))

		outcome, err := f.router.Route(ctx, alicePrincipal(), "What's my balance?")
		require.NoError(t, err)
		assert.Equal(t, OutcomeCacheServe, outcome.Kind)
		assert.Contains(t, outcome.Reply, "113,400.00 THB")

		require.Eventually(t, func() bool {
			return len(f.sink.ByType(audit.EventCacheHit)) == 1
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("transactions reply carries one html table", func(t *testing.T) {
		f := newRouterFixture(t, fullBundle("C001"))

		outcome, err := f.router.Route(ctx, alicePrincipal(), "show my recent transactions")
		require.NoError(t, err)
		assert.Equal(t, OutcomeCacheServe, outcome.Kind)
		assert.Equal(t, 1, strings.Count(outcome.Reply, "<table>"))
		assert.Contains(t, outcome.Reply, "Coffee")
	})

	t.Run("limits inquiry", func(t *testing.T) {
		f := newRouterFixture(t, fullBundle("C001"))

		outcome, err := f.router.Route(ctx, alicePrincipal(), "what is my daily limit")
		require.NoError(t, err)
		assert.Equal(t, OutcomeCacheServe, outcome.Kind)
		assert.Contains(t, outcome.Reply, "200,000.00 THB daily")
	})

	t.Run("write intent never short-circuits despite keyword overlap", func(t *testing.T) {
		f := newRouterFixture(t, fullBundle("C001"))

		outcome, err := f.router.Route(ctx, alicePrincipal(),
			"transfer money from my account to Bob")
		require.NoError(t, err)
		assert.Equal(t, OutcomeDispatch, outcome.Kind)
		assert.Equal(t, "payment-agent", outcome.Agent.Name)
	})

	t.Run("agent opted out of cache is never short-circuited", func(t *testing.T) {
		f := newRouterFixture(t, fullBundle("C001"))
		catalog, err := config.NewAgentCatalog(map[string]config.AgentConfigEntry{
			"account-agent": {BaseURL: "http://account.internal", Category: "account"},
		})
		require.NoError(t, err)
		f.router.catalog = catalog

		outcome, err := f.router.Route(ctx, alicePrincipal(), "What's my balance?")
		require.NoError(t, err)
		assert.Equal(t, OutcomeDispatch, outcome.Kind,
			"may_use_cache=false means the agent answers, not the bundle")
		assert.Equal(t, "account-agent", outcome.Agent.Name)
		assert.Empty(t, f.sink.ByType(audit.EventCacheHit))
	})

	t.Run("no bundle falls through to classification", func(t *testing.T) {
		f := newRouterFixture(t, nil)

		outcome, err := f.router.Route(ctx, alicePrincipal(), "What's my balance?")
		require.NoError(t, err)
		assert.Equal(t, OutcomeDispatch, outcome.Kind)
		assert.Equal(t, "account-agent", outcome.Agent.Name)

		require.Eventually(t, func() bool {
			return len(f.sink.ByType(audit.EventCacheMiss)) == 1
		}, time.Second, 10*time.Millisecond)
	})
}

func TestRouteKeywordTier(t *testing.T) {
	ctx := context.Background()

	t.Run("strong keyword signal commits without the llm", func(t *testing.T) {
		f := newRouterFixture(t, nil)

		outcome, err := f.router.Route(ctx, alicePrincipal(),
			"I was charged twice, I want a refund for that charge")
		require.NoError(t, err)
		assert.Equal(t, OutcomeDispatch, outcome.Kind)
		assert.Equal(t, "transaction-agent", outcome.Agent.Name)
		assert.Equal(t, 0, f.classifier.calls)
	})

	t.Run("payment dispatch rewrites the message", func(t *testing.T) {
		f := newRouterFixture(t, nil)

		outcome, err := f.router.Route(ctx, alicePrincipal(), "please wire 2000 to my landlord")
		require.NoError(t, err)
		assert.Equal(t, "payment-agent", outcome.Agent.Name)
		assert.Equal(t, "my username is alice@ex, please wire 2000 to my landlord", outcome.Message)
	})

	t.Run("weak signal falls through to the llm", func(t *testing.T) {
		f := newRouterFixture(t, nil)
		f.classifier.category = config.CategoryMoneyCoach

		outcome, err := f.router.Route(ctx, alicePrincipal(), "help me out here")
		require.NoError(t, err)
		assert.Equal(t, "coach-agent", outcome.Agent.Name)
		assert.Equal(t, 1, f.classifier.calls)
		assert.Equal(t, "llm_money-coach", outcome.Reason)
	})
}

func TestRouteLLMFallback(t *testing.T) {
	ctx := context.Background()

	t.Run("classifier error defaults to account", func(t *testing.T) {
		f := newRouterFixture(t, nil)
		f.classifier.err = errors.New("timeout")

		outcome, err := f.router.Route(ctx, alicePrincipal(), "hmm, not sure what I need")
		require.NoError(t, err)
		assert.Equal(t, "account-agent", outcome.Agent.Name)
		assert.Equal(t, reasonDefault, outcome.Reason)
	})

	t.Run("nil classifier defaults to account", func(t *testing.T) {
		f := newRouterFixture(t, nil)
		f.router.classifier = nil

		outcome, err := f.router.Route(ctx, alicePrincipal(), "hello there")
		require.NoError(t, err)
		assert.Equal(t, "account-agent", outcome.Agent.Name)
	})
}

func TestRouteEscalationPin(t *testing.T) {
	f := newRouterFixture(t, fullBundle("C001"))
	f.state.PinEscalation("C001", "escalation-agent")

	// Even a cacheable balance inquiry goes to the pinned agent.
	outcome, err := f.router.Route(context.Background(), alicePrincipal(), "What's my balance?")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDispatch, outcome.Kind)
	assert.Equal(t, "escalation-agent", outcome.Agent.Name)
	assert.Equal(t, reasonEscalationPin, outcome.Reason)
}

func TestRoutingDecisionsAreAudited(t *testing.T) {
	f := newRouterFixture(t, nil)

	_, err := f.router.Route(context.Background(), alicePrincipal(),
		"I want a refund for this charge, it is a duplicate transaction")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		decisions := f.sink.ByType(audit.EventRoutingDecision)
		if len(decisions) != 1 {
			return false
		}
		d := decisions[0]
		return d.Details["reason"] == reasonKeyword &&
			d.Details["target"] == "transaction-agent" &&
			d.Details["scores"] != nil
	}, time.Second, 10*time.Millisecond)
}
