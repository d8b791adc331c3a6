// Command executor runs one action executor process (§4.6's Execution
// subsection). It consumes action.execute and carries out approved
// ProposedActions against one commerce backend, scoped by ACCOUNT_TYPE.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/google/uuid"

	"github.com/agentfabric/platform/internal/audit"
	"github.com/agentfabric/platform/internal/broker"
	"github.com/agentfabric/platform/internal/commerceclient"
	"github.com/agentfabric/platform/internal/config"
	"github.com/agentfabric/platform/internal/hitl"
	"github.com/agentfabric/platform/internal/logger"
	"github.com/agentfabric/platform/internal/opshttp"
	"github.com/agentfabric/platform/internal/store"
	"github.com/agentfabric/platform/internal/vault"
)

// commerceBaseURL names the one external commerce backend this spec's C3
// talks to, distinct from every other *_URL setting.
func commerceBaseURL() string {
	if v := os.Getenv("COMMERCE_API_BASE_URL"); v != "" {
		return v
	}
	return "https://api.commerce.example"
}

func main() {
	log := logger.New("executor")

	cfg, err := config.Load("executor")
	if err != nil {
		log.Error("", "", "executor: config load failed", err, nil)
		return
	}
	if cfg.AccountType == "" {
		log.Error("", "", "executor: ACCOUNT_TYPE env var must name a linked account type", nil, nil)
		return
	}

	db, err := store.Open(cfg.DatabaseURL, cfg.DatabaseMaxOpen, cfg.DatabaseMaxIdle, cfg.DatabaseConnTTL)
	if err != nil {
		log.Error("", "", "executor: db open failed", err, nil)
		return
	}
	defer db.Close()

	b, err := broker.Connect(cfg.BrokerURL, cfg.BrokerPrefetch, log)
	if err != nil {
		log.Error("", "", "executor: broker connect failed", err, nil)
		return
	}
	defer b.Close()

	auditLogger := audit.New(log)
	v := vault.New(db, cfg.CredentialEncKey)
	cache := store.NewCachedDataStore(db)

	newClient := func(userID, linkedAccountID uuid.UUID, accountName string) *commerceclient.Client {
		return commerceclient.New(userID, linkedAccountID, accountName, commerceBaseURL(), v, cache, cfg.CacheTTL)
	}

	executor := hitl.NewActionExecutor(db, b, auditLogger, log, newClient, cfg.AccountType)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ops := opshttp.New("executor."+cfg.AccountType, db, map[string]opshttp.Checker{
		"database": opshttp.DBChecker(db),
	})
	httpSrv := &http.Server{Addr: ":" + strconv.Itoa(cfg.Port), Handler: ops.Handler()}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("", "", "executor: ops http server failed", err, nil)
		}
	}()
	go func() {
		<-ctx.Done()
		_ = httpSrv.Close()
	}()

	log.Info("", "", "executor: consuming "+broker.QueueActionExecute, nil)
	if err := executor.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("", "", "executor: consume loop exited", err, nil)
	}
}
