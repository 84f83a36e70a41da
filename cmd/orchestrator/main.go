// Conversational banking orchestrator — verifies customer identity, keeps
// the per-customer data cache warm, routes each message to the right
// specialist agent, and streams the answer back.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/convobank/orchestrator/pkg/api"
	"github.com/convobank/orchestrator/pkg/audit"
	"github.com/convobank/orchestrator/pkg/auth"
	"github.com/convobank/orchestrator/pkg/bankdata"
	"github.com/convobank/orchestrator/pkg/cache"
	"github.com/convobank/orchestrator/pkg/config"
	"github.com/convobank/orchestrator/pkg/dispatch"
	"github.com/convobank/orchestrator/pkg/models"
	"github.com/convobank/orchestrator/pkg/router"
	"github.com/convobank/orchestrator/pkg/services"
	"github.com/convobank/orchestrator/pkg/state"
	"github.com/convobank/orchestrator/pkg/version"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file, continuing with existing environment")
	}

	slog.Info("Starting orchestrator", "version", version.Full())

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Initialize(ctx)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Audit trail
	auditSink, err := audit.NewFileSink(cfg.AuditRoot)
	if err != nil {
		slog.Error("Failed to open audit log", "error", err)
		os.Exit(1)
	}
	auditLog := audit.NewLogger(auditSink)
	auditLog.Start()

	// 3. Cache: data-service client, populator, store, startup sweep
	dataClient := bankdata.NewClient(cfg.DataServices)
	populator := cache.NewPopulator(dataClient, cfg.Cache, auditLog)
	store, err := cache.NewStore(cfg.CacheRoot, cfg.Cache, populator, auditLog)
	if err != nil {
		slog.Error("Failed to open cache store", "error", err)
		os.Exit(1)
	}
	if removed, err := store.Sweep(); err != nil {
		slog.Warn("Cache sweep failed", "error", err)
	} else if removed > 0 {
		slog.Info("Startup cache sweep complete", "removed", removed)
	}

	// 4. Conversation state
	stateMgr := state.NewManager(cfg.Conversation)

	// 5. Identity: customer directory, key set, resolver with cache warmup
	directory, err := auth.LoadDirectory(cfg.CustomerDirectoryPath)
	if err != nil {
		slog.Error("Failed to load customer directory", "error", err)
		os.Exit(1)
	}
	slog.Info("Customer directory loaded", "entries", directory.Len())

	keySet := auth.NewKeySet(cfg.IdP)
	resolver := auth.NewResolver(cfg.IdP, keySet, directory, func(p models.Principal) {
		store.EnsurePopulated(p)
	})

	// 6. Routing and dispatch
	var classifier router.Classifier
	if cfg.Classifier.URL != "" {
		llm, err := router.NewLLMClassifier(cfg.Classifier)
		if err != nil {
			slog.Error("Failed to create LLM classifier", "error", err)
			os.Exit(1)
		}
		classifier = llm
		slog.Info("LLM classifier enabled", "model", cfg.Classifier.Model)
	} else {
		slog.Warn("No LLM classifier configured; keyword misses route to the account agent")
	}

	rt := router.New(cfg.Routing, cfg.AgentCatalog, store, stateMgr, classifier, auditLog)
	dispatcher := dispatch.New(cfg.Dispatch, cfg.Routing, store, stateMgr, auditLog)
	service := services.NewConversationService(rt, dispatcher,
		router.NewContinuationDetector(cfg.Routing), stateMgr, cfg.AgentCatalog, auditLog)

	// 7. HTTP server
	server := api.NewServer(cfg, resolver, service, store, auditLog)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening",
			"addr", cfg.ListenAddr, "agents", cfg.AgentCatalog.Len())
		if err := server.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 8. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 9. Graceful shutdown: drain HTTP, then flush the audit trail
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP server shutdown incomplete", "error", err)
	}
	auditLog.Shutdown()
	if err := auditSink.Close(); err != nil {
		slog.Warn("Audit sink close failed", "error", err)
	}

	slog.Info("Orchestrator stopped")
}
