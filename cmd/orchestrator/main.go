// Command orchestrator runs the C8 driver loop: it consumes the ingest
// queue and drives each AnalysisRequest's Graph to a terminal node,
// dispatching work to department queues along the way. Exactly one
// binary type per §5's "the orchestrator is a separate process type";
// any number of instances may run.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/agentfabric/platform/internal/broker"
	"github.com/agentfabric/platform/internal/config"
	"github.com/agentfabric/platform/internal/llm"
	"github.com/agentfabric/platform/internal/logger"
	"github.com/agentfabric/platform/internal/opshttp"
	"github.com/agentfabric/platform/internal/orchestrator"
	"github.com/agentfabric/platform/internal/store"
	"github.com/agentfabric/platform/internal/updatebus"
)

func main() {
	log := logger.New("orchestrator")

	cfg, err := config.Load("orchestrator")
	if err != nil {
		log.Error("", "", "orchestrator: config load failed", err, nil)
		return
	}

	db, err := store.Open(cfg.DatabaseURL, cfg.DatabaseMaxOpen, cfg.DatabaseMaxIdle, cfg.DatabaseConnTTL)
	if err != nil {
		log.Error("", "", "orchestrator: db open failed", err, nil)
		return
	}
	defer db.Close()

	b, err := broker.Connect(cfg.BrokerURL, cfg.BrokerPrefetch, log)
	if err != nil {
		log.Error("", "", "orchestrator: broker connect failed", err, nil)
		return
	}
	defer b.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()
	bus := updatebus.New(redisClient, log)

	router := newLLMRouter(cfg, log)

	planner := orchestrator.NewPlanningEngine(router)
	aggregator := orchestrator.NewResultAggregator(router)

	driver := orchestrator.NewDriver(db, b, func(publisher orchestrator.Publisher) *orchestrator.Graph {
		return orchestrator.NewGraph(store.NewAgentTaskStore(db), publisher, planner, aggregator)
	}, bus, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ops := opshttp.New("orchestrator", db, map[string]opshttp.Checker{
		"database": opshttp.DBChecker(db),
	})
	httpSrv := &http.Server{Addr: ":" + strconv.Itoa(cfg.Port), Handler: ops.Handler()}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("", "", "orchestrator: ops http server failed", err, nil)
		}
	}()
	go func() {
		<-ctx.Done()
		_ = httpSrv.Close()
	}()

	log.Info("", "", "orchestrator: starting driver loop", nil)
	if err := driver.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("", "", "orchestrator: driver loop exited", err, nil)
	}
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
