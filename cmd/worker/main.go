// Command worker runs one department worker process (§4.3/§2 C7). Which
// department it serves is selected by the DEPARTMENT env var at startup;
// any number of instances of any department may run concurrently, per
// §5's "horizontal scale is by process count".
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/agentfabric/platform/internal/broker"
	"github.com/agentfabric/platform/internal/commerceclient"
	"github.com/agentfabric/platform/internal/config"
	"github.com/agentfabric/platform/internal/llm"
	"github.com/agentfabric/platform/internal/logger"
	"github.com/agentfabric/platform/internal/model"
	"github.com/agentfabric/platform/internal/opshttp"
	"github.com/agentfabric/platform/internal/store"
	"github.com/agentfabric/platform/internal/vault"
	"github.com/agentfabric/platform/internal/worker"
)

// commerceBaseURL is read separately from config.Config since it names
// the one external commerce backend this spec's C3 talks to, distinct
// from every other *_URL setting.
func commerceBaseURL() string {
	if v := os.Getenv("COMMERCE_API_BASE_URL"); v != "" {
		return v
	}
	return "https://api.commerce.example"
}

func main() {
	cfg, err := config.Load("worker")
	if err != nil {
		logger.New("worker").Error("", "", "worker: config load failed", err, nil)
		return
	}
	if cfg.Department == "" {
		logger.New("worker").Error("", "", "worker: DEPARTMENT env var must name a department", nil, nil)
		return
	}

	log := logger.New("worker." + cfg.Department)

	db, err := store.Open(cfg.DatabaseURL, cfg.DatabaseMaxOpen, cfg.DatabaseMaxIdle, cfg.DatabaseConnTTL)
	if err != nil {
		log.Error("", "", "worker: db open failed", err, nil)
		return
	}
	defer db.Close()

	b, err := broker.Connect(cfg.BrokerURL, cfg.BrokerPrefetch, log)
	if err != nil {
		log.Error("", "", "worker: broker connect failed", err, nil)
		return
	}
	defer b.Close()

	router := newLLMRouter(cfg, log)

	handler, err := buildHandler(cfg.Department, router, db, cfg)
	if err != nil {
		log.Error("", "", "worker: unsupported department", err, nil)
		return
	}

	queue, err := broker.DepartmentQueue(cfg.Department)
	if err != nil {
		log.Error("", "", "worker: resolve queue failed", err, nil)
		return
	}

	retryPolicy, err := worker.LoadRetryPolicy(os.Getenv("WORKER_TUNING_FILE"))
	if err != nil {
		log.Error("", "", "worker: load tuning config failed", err, nil)
		return
	}
	skeleton := worker.NewSkeleton(b, db, handler, retryPolicy, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ops := opshttp.New("worker."+cfg.Department, db, map[string]opshttp.Checker{
		"database": opshttp.DBChecker(db),
	})
	httpSrv := &http.Server{Addr: ":" + strconv.Itoa(cfg.Port), Handler: ops.Handler()}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("", "", "worker: ops http server failed", err, nil)
		}
	}()
	go func() {
		<-ctx.Done()
		_ = httpSrv.Close()
	}()

	log.Info("", "", "worker: consuming "+queue, nil)
	if err := skeleton.Run(ctx, queue); err != nil && ctx.Err() == nil {
		log.Error("", "", "worker: consume loop exited", err, nil)
	}
}

// buildHandler constructs the DepartmentHandler for department. The data
// retrieval department is the one backed by the commerce client rather
// than an LLM call (§4.1's worker skeleton note).
func buildHandler(department string, router *llm.Router, db *sql.DB, cfg *config.Config) (worker.DepartmentHandler, error) {
	switch department {
	case model.DeptDataRetrieval:
		v := vault.New(db, cfg.CredentialEncKey)
		cache := store.NewCachedDataStore(db)
		return worker.NewDataRetrievalHandler(func(ctx context.Context, msg worker.Message) (*commerceclient.Client, error) {
			return newCommerceClientForTask(ctx, db, v, cache, cfg, msg)
		}), nil
	case model.DeptQuantitative:
		return worker.NewQuantitativeHandler(router), nil
	case model.DeptQualitative:
		return worker.NewQualitativeHandler(router), nil
	case model.DeptRecommendation:
		return worker.NewRecommendationHandler(router), nil
	case model.DeptComparative:
		return worker.NewComparativeHandler(router), nil
	case model.DeptPredictive:
		return worker.NewPredictiveHandler(router), nil
	default:
		return nil, fmt.Errorf("worker: unknown department %q", department)
	}
}

// newCommerceClientForTask resolves the linked account the task's
// AnalysisRequest belongs to, then constructs a tenant-scoped commerce
// client for it — grounded on §4.5's "per-tenant handle carrying
// (user_id, account_name)".
func newCommerceClientForTask(ctx context.Context, db *sql.DB, v *vault.Vault, cache *store.CachedDataStore, cfg *config.Config, msg worker.Message) (*commerceclient.Client, error) {
	requests := store.NewRequestStore(db)
	req, err := requests.Get(ctx, msg.AnalysisRequestID)
	if err != nil {
		return nil, fmt.Errorf("worker: load analysis request %s: %w", msg.AnalysisRequestID, err)
	}

	accounts := store.NewLinkedAccountStore(db)
	account, err := accounts.Get(ctx, req.LinkedAccountID)
	if err != nil {
		return nil, err
	}

	return commerceclient.New(msg.UserID, account.ID, account.AccountName, commerceBaseURL(), v, cache, cfg.CacheTTL), nil
}

// newLLMRouter registers a Bedrock provider when AWS config resolves,
// falling back to a deterministic mock so a dev box without AWS
// credentials still boots, mirroring the teacher's degraded-provider
// registration pattern rather than failing startup outright.
func newLLMRouter(cfg *config.Config, log *logger.Logger) *llm.Router {
	provider, err := llm.NewBedrockProvider(context.Background(), cfg.BedrockRegion, cfg.BedrockModel)
	if err != nil {
		log.Warn("", "", "llm: bedrock provider unavailable, using mock", map[string]interface{}{"error": err.Error()})
		router := llm.NewRouter("mock", cfg.DefaultModels)
		router.Register(llm.NewMockProvider("mock llm output"))
		return router
	}
	router := llm.NewRouter("bedrock", cfg.DefaultModels)
	router.Register(provider)
	return router
}
