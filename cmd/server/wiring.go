package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"taskgate/internal/automation/audit"
	"taskgate/internal/automation/catalog"
	"taskgate/internal/automation/handlers"
	amet "taskgate/internal/automation/metrics"
	"taskgate/internal/automation/parser"
	"taskgate/internal/automation/resolver"
	"taskgate/internal/automation/service/draft"
	"taskgate/internal/automation/service/gateway"
	auditstore "taskgate/internal/automation/store/audit"
	"taskgate/internal/automation/store/directory"
	draftstore "taskgate/internal/automation/store/draft"
	"taskgate/internal/automation/store/execution"
	"taskgate/internal/automation/store/policy"
	taskstore "taskgate/internal/automation/store/task"
	jwttoken "taskgate/internal/jwt_token"
	"taskgate/internal/platform/config"
	"taskgate/internal/platform/metrics"
	"taskgate/internal/platform/postgres"
	"taskgate/internal/platform/redis"
	"taskgate/internal/ratelimit/bucket"
	rlmetrics "taskgate/internal/ratelimit/metrics"
	rlmw "taskgate/internal/ratelimit/middleware"
	httptransport "taskgate/internal/transport/http"
	"taskgate/pkg/platform/circuit"
	"taskgate/pkg/platform/tx"
)

// app holds everything the HTTP layer needs plus the handles to close.
type app struct {
	drafts       *draft.Service
	gateway      *gateway.Service
	jwt          *jwttoken.JWTServiceAdapter
	httpMetrics  *metrics.Metrics
	healthChecks []httptransport.HealthCheck
	handlerKeys  []string
	rateLimit    func(http.Handler) http.Handler
	throttle     func(http.Handler) http.Handler

	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// storeSet is one backend's implementation of every store.
type storeSet struct {
	drafts     draft.Store
	tasks      taskStore
	executions gateway.ExecutionStore
	policies   gateway.PolicyStore
	chain      audit.ChainStore
	directory  interface {
		handlers.DataStore
		resolver.Directory
	}
	tx draft.Transactor
}

// taskStore covers both the draft service's and the gateway's view of tasks.
type taskStore interface {
	draft.TaskStore
	gateway.TaskStore
}

func build(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	a := &app{httpMetrics: metrics.New()}
	automationMetrics := amet.New()

	catalogs, err := loadCatalogs(cfg.Automation.CatalogPath)
	if err != nil {
		return nil, err
	}

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if db != nil {
		a.closers = append(a.closers, func() { _ = db.Close() })
		a.healthChecks = append(a.healthChecks, httptransport.HealthCheck{Name: "postgres", Check: db.PingContext})
	}

	rdb, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		a.Close()
		return nil, err
	}
	if rdb != nil {
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		a.healthChecks = append(a.healthChecks, httptransport.HealthCheck{Name: "redis", Check: rdb.Health})
	}

	stores := newStores(db)
	switch cfg.Automation.IdempotencyBackend {
	case config.BackendRedis:
		stores.executions = execution.NewRedis(rdb.Client, redisTTL(cfg))
	case config.BackendPostgres:
		stores.executions = execution.NewPostgres(db)
	}

	sink, err := auditSink(ctx, cfg, stores.chain, log, automationMetrics, a)
	if err != nil {
		a.Close()
		return nil, err
	}

	limits := parser.DefaultLimits()
	overrideLimits(&limits, cfg.Automation.Parser)
	normalizer := resolver.New(stores.directory, catalogs.Intents,
		resolver.WithLogger(log),
		resolver.WithMetrics(automationMetrics),
		resolver.WithLocation(cfg.Automation.Location()),
		resolver.WithMaxCandidates(cfg.Automation.MaxCandidates),
	)
	a.drafts = draft.New(stores.drafts, stores.tasks, normalizer, catalogs,
		draft.WithParser(parser.New(catalogs.Intents, parser.WithLimits(limits))),
		draft.WithLogger(log),
		draft.WithMetrics(automationMetrics),
		draft.WithTransactor(stores.tx),
	)

	registry := handlers.Defaults()
	a.handlerKeys = registry.Keys()
	a.gateway, err = gateway.New(gateway.Deps{
		Tasks:      stores.tasks,
		Executions: stores.executions,
		Policies:   stores.policies,
		Audit:      sink,
		Handlers:   registry,
		Data:       stores.directory,
		Catalogs:   catalogs,
	},
		gateway.WithLogger(log),
		gateway.WithMetrics(automationMetrics),
		gateway.WithBucket(cfg.Automation.IdempotencyBucket),
	)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.rateLimit = rateLimiter(cfg.RateLimit, rdb, log)
	if cfg.RateLimit.GlobalRPS > 0 {
		a.throttle = rlmw.NewGlobalThrottle(cfg.RateLimit.GlobalRPS, cfg.RateLimit.GlobalBurst, log).Middleware
	}
	a.jwt = jwttoken.NewJWTServiceAdapter(jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.JWTIssuer))
	return a, nil
}

func loadCatalogs(path string) (*catalog.Set, error) {
	if path == "" {
		return catalog.Default()
	}
	set, err := catalog.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", path, err)
	}
	return set, nil
}

// newStores picks Postgres when a database is configured and memory otherwise.
func newStores(db *sql.DB) storeSet {
	if db == nil {
		return storeSet{
			drafts:     draftstore.NewInMemory(),
			tasks:      taskstore.NewInMemory(),
			executions: execution.NewInMemory(),
			policies:   policy.NewInMemory(),
			chain:      auditstore.NewInMemory(),
			directory:  directory.NewInMemory(),
		}
	}
	return storeSet{
		drafts:     draftstore.NewPostgres(db),
		tasks:      taskstore.NewPostgres(db),
		executions: execution.NewInMemory(),
		policies:   policy.NewPostgres(db),
		chain:      auditstore.NewPostgres(db),
		directory:  directory.NewPostgres(db),
		tx:         tx.Transactor{DB: db},
	}
}

func auditSink(ctx context.Context, cfg *config.Config, chain audit.ChainStore, log *slog.Logger, m *amet.Metrics, a *app) (gateway.AuditSink, error) {
	sinks := []audit.Named{{Name: "chain", Sink: audit.NewChain(chain)}}
	if len(cfg.Kafka.Brokers) > 0 {
		client, err := audit.NewKafkaClient(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		if err := audit.EnsureTopic(ctx, client, cfg.Kafka.AuditTopic, cfg.Kafka.Partitions, cfg.Kafka.ReplicationFactor); err != nil {
			// the broker may be down at boot; the guarded sink covers it
			log.WarnContext(ctx, "audit topic check failed", "topic", cfg.Kafka.AuditTopic, "error", err)
		}
		a.healthChecks = append(a.healthChecks, httptransport.HealthCheck{Name: "kafka", Check: func(ctx context.Context) error {
			return client.Ping(ctx)
		}})
		breaker := circuit.New("audit-kafka", circuit.WithCooldown(cfg.Kafka.RetryCooldown))
		kafka := audit.NewGuarded(audit.NewKafka(client, cfg.Kafka.AuditTopic), breaker, log)
		sinks = append(sinks, audit.Named{Name: "kafka", Sink: kafka})
	}
	return audit.NewFanOut(sinks, audit.WithLogger(log), audit.WithMetrics(m)), nil
}

// rateLimiter returns nil when limiting is disabled. The Redis limiter
// degrades to a per-process window while Redis is unreachable.
func rateLimiter(cfg config.RateLimit, rdb *redis.Client, log *slog.Logger) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return nil
	}
	opts := []rlmw.Option{rlmw.WithMetrics(rlmetrics.New())}
	var primary rlmw.Limiter = bucket.NewInMemory()
	if cfg.Backend == config.BackendRedis && rdb != nil {
		primary = bucket.NewRedis(rdb.Client)
		opts = append(opts, rlmw.WithFallback(bucket.NewInMemory(),
			circuit.New("ratelimit-redis", circuit.WithCooldown(5*time.Second))))
	}
	return rlmw.New(primary, cfg.RequestsPerWindow, cfg.Window, log, opts...).PerTenant
}

// redisTTL keeps claims alive well past one bucket.
func redisTTL(cfg *config.Config) time.Duration {
	if ttl := 2 * cfg.Automation.IdempotencyBucket; ttl > execution.DefaultTTL {
		return ttl
	}
	return execution.DefaultTTL
}

func overrideLimits(l *parser.Limits, cfg config.ParserLimits) {
	set := func(dst *int, v int) {
		if v > 0 {
			*dst = v
		}
	}
	set(&l.MaxInputBytes, cfg.MaxInputBytes)
	set(&l.MaxScanBytes, cfg.MaxScanBytes)
	set(&l.MaxFencedBlocks, cfg.MaxFencedBlocks)
	set(&l.MaxKeyPositions, cfg.MaxKeyPositions)
	set(&l.MaxCandidates, cfg.MaxCandidates)
	set(&l.MaxDepth, cfg.MaxDepth)
}
