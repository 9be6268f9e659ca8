package main

import (
	"context"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"vouch/internal/audit"
	"vouch/internal/credential"
	"vouch/internal/enc"
	"vouch/internal/identifier"
	"vouch/internal/keys"
	"vouch/internal/platform/config"
	"vouch/internal/platform/httpserver"
	"vouch/internal/platform/logger"
	"vouch/internal/platform/metrics"
	platformredis "vouch/internal/platform/redis"
	"vouch/internal/proof"
	"vouch/internal/registration"
	httptransport "vouch/internal/transport/http"
)

// main wires dependencies and owns the process lifecycle. Business rules
// live in the internal packages; everything here is assembly.
func main() {
	cfg := config.FromEnv()
	log := logger.New("server")

	secrets, err := config.LoadSecrets()
	if err != nil {
		log.Fatalf("load secrets: %v", err)
	}
	hasher, err := enc.NewHasher(secrets.HashSalt)
	if err != nil {
		log.Fatalf("init hasher: %v", err)
	}
	issuer, err := keys.KeyPairFromSeed(secrets.ServerSeed)
	if err != nil {
		log.Fatalf("load issuer key: %v", err)
	}

	ctx := context.Background()

	identStore, credStore, pool := buildStores(ctx, cfg, log)
	if pool != nil {
		defer pool.Close()
	}

	resolverOpts := []identifier.ResolverOption{}
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Fatalf("connect redis: %v", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
		resolverOpts = append(resolverOpts,
			identifier.WithCache(identifier.NewCache(redisClient.Client, cfg.ResolverCacheTTL)))
		log.Printf("resolver cache enabled")
	}
	resolver := identifier.NewResolver(identStore, resolverOpts...)

	m := metrics.New()
	publisher := buildAudit(cfg, log)
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Printf("close audit publisher: %v", err)
		}
	}()

	chain := credential.NewChain(proof.NewCodec(resolver), resolver, credStore,
		credential.WithMetrics(m),
		credential.WithAudit(publisher),
	)
	manager := registration.NewManager(chain, &registration.LogSender{Log: logger.New("mailer")},
		hasher, issuer, cfg.ConfirmationTTL)

	handler := httptransport.NewHandler(log, manager, chain, credStore, issuer,
		keys.NewPool(cfg.DerivationPoolSize), m)
	srv := httpserver.New(cfg.Addr, httptransport.NewRouter(handler))

	log.Printf("starting vouch on %s", cfg.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("graceful shutdown failed: %v", err)
	}
}

// buildStores selects postgres-backed stores when a database URL is
// configured and falls back to in-memory stores for development.
func buildStores(ctx context.Context, cfg config.Server, log *stdlog.Logger) (identifier.Store, credential.Store, *pgxpool.Pool) {
	if cfg.DatabaseURL == "" {
		return identifier.NewInMemoryStore(), credential.NewInMemoryStore(), nil
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("ping postgres: %v", err)
	}
	return identifier.NewPostgresStore(pool), credential.NewPostgresStore(pool), pool
}

// buildAudit wires the kafka sink when brokers are configured, otherwise an
// in-memory sink so Emit always has somewhere to go.
func buildAudit(cfg config.Server, log *stdlog.Logger) *audit.Publisher {
	if len(cfg.KafkaBrokers) == 0 {
		return audit.NewPublisher(audit.NewMemorySink())
	}
	sink, err := audit.NewKafkaSink(cfg.KafkaBrokers, cfg.AuditTopic)
	if err != nil {
		log.Fatalf("connect kafka: %v", err)
	}
	return audit.NewPublisher(sink)
}
