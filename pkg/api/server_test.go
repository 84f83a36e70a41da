package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convobank/orchestrator/pkg/audit"
	"github.com/convobank/orchestrator/pkg/auth"
	"github.com/convobank/orchestrator/pkg/cache"
	"github.com/convobank/orchestrator/pkg/config"
	"github.com/convobank/orchestrator/pkg/dispatch"
	"github.com/convobank/orchestrator/pkg/models"
	"github.com/convobank/orchestrator/pkg/router"
	"github.com/convobank/orchestrator/pkg/services"
	"github.com/convobank/orchestrator/pkg/state"
)

type noSource struct{}

func (noSource) Populate(ctx context.Context, p models.Principal) (*models.CacheBundle, error) {
	return nil, errors.New("not scripted")
}

type slowSource struct{ delay time.Duration }

func (s slowSource) Populate(ctx context.Context, p models.Principal) (*models.CacheBundle, error) {
	time.Sleep(s.delay)
	return &models.CacheBundle{
		CustomerID: p.CustomerID,
		CreatedAt:  time.Now().UTC(),
		TTLSeconds: 300,
		Data: models.BundleData{
			Accounts:          []models.Account{{ID: "acc-1"}},
			LastNTransactions: []models.Transaction{},
			Beneficiaries:     []models.Beneficiary{},
		},
	}, nil
}

type apiFixture struct {
	server    *Server
	cacheRoot string
	state     *state.Manager
}

func newAPIFixture(t *testing.T, source cache.BundleSource) *apiFixture {
	t.Helper()

	sink := audit.NewMemorySink()
	logger := audit.NewLogger(sink)
	logger.Start()
	t.Cleanup(logger.Shutdown)

	cacheRoot := t.TempDir()
	store, err := cache.NewStore(cacheRoot, config.CacheConfig{
		BundleTTL:    300 * time.Second,
		WaitTimeout:  time.Second,
		PollInterval: 10 * time.Millisecond,
	}, source, logger)
	require.NoError(t, err)

	agent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"response": "Agent answer."})
	}))
	t.Cleanup(agent.Close)

	catalog, err := config.NewAgentCatalog(map[string]config.AgentConfigEntry{
		"account-agent":    {BaseURL: agent.URL, Category: "account", MayUseCache: true},
		"escalation-agent": {BaseURL: agent.URL, Category: "escalation"},
	})
	require.NoError(t, err)

	table := config.BuiltinRoutingTable()
	stateMgr := state.NewManager(config.ConversationConfig{
		EntryTTL:         300 * time.Second,
		EscalationPinTTL: 30 * time.Minute,
	})
	rt := router.New(table, catalog, store, stateMgr, nil, logger)
	d := dispatch.New(config.DispatchConfig{Timeout: 2 * time.Second},
		table, store, stateMgr, logger)
	service := services.NewConversationService(rt, d,
		router.NewContinuationDetector(table), stateMgr, catalog, logger)

	cfg := &config.Config{Stream: config.StreamConfig{ThinkingDropBytes: 1 << 20}}
	return &apiFixture{
		server:    NewServer(cfg, nil, service, store, logger),
		cacheRoot: cacheRoot,
		state:     stateMgr,
	}
}

func (f *apiFixture) seedBundle(t *testing.T) {
	t.Helper()
	data, err := json.Marshal(&models.CacheBundle{
		CustomerID: "C001",
		CreatedAt:  time.Now().UTC(),
		TTLSeconds: 300,
		Data: models.BundleData{
			Accounts: []models.Account{{
				ID: "acc-1", Number: "111-222-333",
				Balance: models.Money{Amount: 113400, Currency: "THB"},
			}},
			PrimaryBalance:    models.Money{Amount: 113400, Currency: "THB"},
			LastNTransactions: []models.Transaction{},
			Beneficiaries:     []models.Beneficiary{},
		},
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(f.cacheRoot, "C001.json"), data, 0o644))
}

// invoke runs a handler with an authenticated principal already on the
// context, the way the auth middleware leaves it.
func (f *apiFixture) invoke(t *testing.T, handler echo.HandlerFunc, body string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set(principalKey, models.Principal{Email: "alice@ex", CustomerID: "C001"})
	return rec, handler(c)
}

func TestChatHandlerJSON(t *testing.T) {
	t.Run("stream=false returns the terminal payload", func(t *testing.T) {
		f := newAPIFixture(t, noSource{})
		f.seedBundle(t)

		rec, err := f.invoke(t, f.server.chatHandler,
			`{"messages":[{"role":"user","content":"what is my balance"}],"stream":false}`)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, rec.Code)

		var payload struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
			ThreadID string `json:"threadId"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
		require.Len(t, payload.Choices, 1)
		assert.Contains(t, payload.Choices[0].Message.Content, "113,400.00 THB")
		assert.Equal(t, "thread_C001", payload.ThreadID)
	})

	t.Run("malformed body is a bad request", func(t *testing.T) {
		f := newAPIFixture(t, noSource{})
		_, err := f.invoke(t, f.server.chatHandler, `{broken`)
		var httpErr *echo.HTTPError
		require.ErrorAs(t, err, &httpErr)
		assert.Equal(t, http.StatusBadRequest, httpErr.Code)
	})

	t.Run("empty messages are rejected before streaming", func(t *testing.T) {
		f := newAPIFixture(t, noSource{})
		rec, err := f.invoke(t, f.server.chatHandler, `{"messages":[],"stream":true}`)
		require.ErrorIs(t, err, services.ErrEmptyMessage)
		assert.NotEqual(t, "text/event-stream", rec.Header().Get("Content-Type"))
	})
}

func TestChatHandlerSSE(t *testing.T) {
	f := newAPIFixture(t, noSource{})
	f.seedBundle(t)

	rec, err := f.invoke(t, f.server.chatHandler,
		`{"messages":[{"role":"user","content":"what is my balance"}],"stream":true}`)
	require.NoError(t, err)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, `"type":"thinking"`)
	assert.Contains(t, body, "113,400.00 THB")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(body), "data: [DONE]"))
}

func TestCacheInitializeHandler(t *testing.T) {
	t.Run("first warmup reports ok", func(t *testing.T) {
		f := newAPIFixture(t, slowSource{delay: 200 * time.Millisecond})

		rec, err := f.invoke(t, f.server.cacheInitializeHandler, "")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	})

	t.Run("second warmup while populating reports in_flight", func(t *testing.T) {
		f := newAPIFixture(t, slowSource{delay: 500 * time.Millisecond})

		_, err := f.invoke(t, f.server.cacheInitializeHandler, "")
		require.NoError(t, err)
		rec, err := f.invoke(t, f.server.cacheInitializeHandler, "")
		require.NoError(t, err)
		assert.JSONEq(t, `{"status":"in_flight"}`, rec.Body.String())
	})

	t.Run("valid bundle reports valid", func(t *testing.T) {
		f := newAPIFixture(t, noSource{})
		f.seedBundle(t)

		rec, err := f.invoke(t, f.server.cacheInitializeHandler, "")
		require.NoError(t, err)
		assert.JSONEq(t, `{"status":"valid"}`, rec.Body.String())
	})
}

func TestConversationResetHandler(t *testing.T) {
	f := newAPIFixture(t, noSource{})
	f.state.Update("C001", config.AgentRef{Name: "account-agent"}, "thread_C001")

	rec, err := f.invoke(t, f.server.conversationResetHandler, "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"reset"}`, rec.Body.String())

	_, live := f.state.Active("C001")
	assert.False(t, live)
}

func TestHealthHandler(t *testing.T) {
	f := newAPIFixture(t, noSource{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, f.server.healthHandler(c))

	var payload struct {
		Status     string            `json:"status"`
		Components map[string]string `json:"components"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "ok", payload.Status)
	assert.Equal(t, "ok", payload.Components["cache"])
	assert.Equal(t, "ok", payload.Components["audit"])
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantKind   string
	}{
		{"unknown customer", auth.ErrUnknownCustomer, http.StatusNotFound, "unknown_customer"},
		{"unauthenticated", auth.ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated"},
		{"keyset unavailable is still 401", auth.ErrKeySetUnavailable, http.StatusUnauthorized, "unauthenticated"},
		{"empty message", services.ErrEmptyMessage, http.StatusBadRequest, "bad_request"},
		{"agent timeout", &dispatch.Error{Kind: dispatch.KindAgentTimeout, Agent: "a", Err: errors.New("x")}, http.StatusGatewayTimeout, "agent_timeout"},
		{"agent unavailable", &dispatch.Error{Kind: dispatch.KindAgentUnavailable, Agent: "a", Err: errors.New("x")}, http.StatusBadGateway, "agent_unavailable"},
		{"echo http error", echo.NewHTTPError(http.StatusBadRequest, "nope"), http.StatusBadRequest, "bad_request"},
		{"anything else", errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, kind, _ := classifyError(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantKind, kind)
		})
	}
}

func TestRequireAuthRejectsMissingToken(t *testing.T) {
	f := newAPIFixture(t, noSource{})

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/chat", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := f.server.requireAuth()(func(c *echo.Context) error {
		t.Fatal("handler must not run without a token")
		return nil
	})
	err := handler(c)

	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
}
