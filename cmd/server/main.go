package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"tutela/internal/attest"
	"tutela/internal/attest/timestamp"
	"tutela/internal/audit"
	jwttoken "tutela/internal/jwt_token"
	"tutela/internal/platform/config"
	"tutela/internal/platform/httpserver"
	"tutela/internal/platform/kafka"
	"tutela/internal/platform/logger"
	"tutela/internal/platform/metrics"
	"tutela/internal/platform/middleware"
	"tutela/internal/platform/postgres"
	"tutela/internal/platform/redis"
	"tutela/internal/policy"
	"tutela/internal/policy/decisionpoint"
	"tutela/internal/redact"
	httptransport "tutela/internal/transport/http"
)

const (
	operatorTokenIssuer   = "tutela"
	operatorTokenAudience = "tutela-operators"
)

// main wires stores, services, and the HTTP router, then runs the server
// until interrupted. Business rules live in the internal service packages;
// everything here is composition.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(cfg, log); err != nil {
		log.Error("tutela exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Backends are optional: an unset DSN or URL leaves the in-memory
	// implementations in place, which is how local development runs.
	db, err := postgres.Open(cfg.Postgres)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}
	pool, err := postgres.OpenPool(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		return err
	}

	rdb, err := redis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	kafkaClient, err := kafka.NewClient(cfg.Kafka)
	if err != nil {
		return err
	}
	if kafkaClient != nil {
		if err := kafka.EnsureTopic(ctx, kafkaClient, cfg.Kafka); err != nil {
			kafkaClient.Close()
			return err
		}
	}

	auditMetrics := audit.NewMetrics()
	var auditStore audit.Store = audit.NewMemoryStore()
	if pool != nil {
		auditStore = audit.NewPostgresStore(pool)
	}
	auditOpts := []audit.Option{
		audit.WithLogger(log),
		audit.WithMetrics(auditMetrics),
		audit.WithExportSecret([]byte(cfg.Audit.ExportSecret)),
		audit.WithAppendRetries(cfg.Audit.AppendRetries),
	}
	var publisher *audit.StreamPublisher
	if kafkaClient != nil {
		publisher = audit.NewStreamPublisher(kafkaClient, cfg.Kafka.AuditTopic,
			audit.WithPublisherLogger(log),
			audit.WithPublisherMetrics(auditMetrics),
			audit.WithSampler(audit.NewSampler(cfg.Audit.OpsSampleRate)),
		)
		// The publisher owns the Kafka client from here on.
		defer publisher.Close()
		auditOpts = append(auditOpts, audit.WithPublisher(publisher))
	}
	auditor := audit.NewService(auditStore, auditOpts...)

	var policyStore policy.Store = policy.NewMemoryStore()
	if db != nil {
		policyStore = policy.NewPostgresStore(db)
	}
	var cache policy.DecisionCache = policy.NewMemoryCache(cfg.EvaluationCache.MaxSize)
	if rdb != nil {
		cache = policy.NewRedisCache(rdb.Client)
	}
	policyOpts := []policy.Option{
		policy.WithLogger(log),
		policy.WithMetrics(policy.NewMetrics()),
		policy.WithCache(cache),
		policy.WithCacheTTL(cfg.EvaluationCache.TTL),
	}
	if cfg.DecisionPoint.URL != "" {
		policyOpts = append(policyOpts, policy.WithDecisionPoint(
			decisionpoint.NewHTTPClient(cfg.DecisionPoint.URL,
				decisionpoint.WithTimeout(cfg.DecisionPoint.Timeout),
				decisionpoint.WithMaxRetries(cfg.DecisionPoint.MaxRetries),
				decisionpoint.WithBreakerCooldown(cfg.DecisionPoint.BreakerCooldown),
				decisionpoint.WithLogger(log),
			)))
	}
	policies, err := policy.NewService(policyStore, auditor, policyOpts...)
	if err != nil {
		return err
	}

	var vault redact.Vault = redact.NewMemoryVault()
	if rdb != nil {
		vault = redact.NewRedisVault(rdb.Client)
	}
	redactor, err := redact.NewService([]byte(cfg.Redaction.MasterKey), vault, auditor,
		redact.WithLogger(log),
		redact.WithMetrics(redact.NewMetrics()),
		redact.WithHandleTTL(cfg.Redaction.HandleTTL),
		redact.WithBatchParallelism(cfg.Redaction.BatchParallelism),
	)
	if err != nil {
		return err
	}

	var attestStore attest.Store = attest.NewMemoryStore()
	var keyStore attest.KeyStore = attest.NewMemoryKeyStore()
	if db != nil {
		attestStore = attest.NewPostgresStore(db)
		keyStore = attest.NewPostgresKeyStore(db)
	}
	attestOpts := []attest.Option{
		attest.WithLogger(log),
		attest.WithMetrics(attest.NewMetrics()),
		attest.WithPolicyGate(policies, cfg.Attestation.GateEnvironment),
		attest.WithProtector(redactor),
		attest.WithVerifyThreshold(cfg.Attestation.VerifyThreshold),
	}
	if cfg.Timestamping.URL != "" {
		attestOpts = append(attestOpts, attest.WithTimestampAuthority(
			timestamp.NewHTTPClient(cfg.Timestamping.URL,
				timestamp.WithTimeout(cfg.Timestamping.Timeout),
				timestamp.WithMaxRetries(cfg.Timestamping.MaxRetries),
			)))
	}
	attester, err := attest.NewService([]byte(cfg.Attestation.SealSecret), attestStore, keyStore, auditor, attestOpts...)
	if err != nil {
		return err
	}

	var validator middleware.TokenValidator
	if cfg.Server.OperatorJWTKey != "" {
		validator = jwttoken.NewServiceAdapter(
			jwttoken.NewService(cfg.Server.OperatorJWTKey, operatorTokenIssuer, operatorTokenAudience))
	} else {
		log.Warn("operator authentication disabled; set TUTELA_OPERATOR_JWT_KEY outside development")
	}

	var health []httptransport.HealthCheck
	if db != nil {
		health = append(health, httptransport.HealthCheck{Name: "postgres", Check: db.PingContext})
	}
	if rdb != nil {
		health = append(health, httptransport.HealthCheck{Name: "redis", Check: rdb.Health})
	}
	if kafkaClient != nil {
		health = append(health, httptransport.HealthCheck{Name: "kafka", Check: kafkaClient.Ping})
	}

	router := httptransport.NewRouter(httptransport.Deps{
		Logger:     log,
		Metrics:    metrics.New(),
		Validator:  validator,
		Classifier: redactor,
		Redactor:   redactor,
		Attester:   attester,
		Policies:   policies,
		Auditor:    auditor,
		Health:     health,
	})
	srv := httpserver.New(cfg.Server.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	if publisher != nil {
		g.Go(func() error {
			if err := publisher.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		log.Info("tutela listening",
			"addr", cfg.Server.Addr,
			"postgres", db != nil,
			"redis", rdb != nil,
			"kafka", kafkaClient != nil,
			"operator_auth", validator != nil,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
