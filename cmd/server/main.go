package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"registrar/internal/config"
	"registrar/internal/db"
	httpserver "registrar/internal/http"
	"registrar/internal/identity"
	"registrar/internal/jobs"
	"registrar/internal/orphan"
	"registrar/internal/provision"
	"registrar/internal/query"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := db.RunMigrations(cfg.DatabaseURL); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer pool.Close()
	store := db.NewStore(pool)

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer rdb.Close()
	} else {
		log.Println("redis not configured, orphan journal disabled")
	}
	journal := orphan.NewJournal(rdb)

	directory := identity.NewClient(
		cfg.IdentityBaseURL,
		cfg.IdentityAPIKey,
		cfg.IdentityTimeout,
		cfg.IdentityRateLimit,
		cfg.IdentityRateBurst,
	)

	saga := provision.NewSaga(directory, store, journal, cfg.SagaStepTimeout)
	gateway := query.NewGateway(store, cfg.PageSize)

	if cfg.OrphanSweepEnabled && rdb != nil {
		jobs.StartOrphanSweep(ctx, cfg.OrphanSweepInterval, cfg.OrphanSweepTimeout, journal, directory)
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpserver.NewServer(cfg, saga, gateway, store, journal).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("listening on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
