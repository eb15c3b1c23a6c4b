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

	"github.com/solace-app/coachsync/internal/cache"
	"github.com/solace-app/coachsync/internal/config"
	"github.com/solace-app/coachsync/internal/db"
	"github.com/solace-app/coachsync/internal/engine"
	"github.com/solace-app/coachsync/internal/feed"
	"github.com/solace-app/coachsync/internal/httpapi"
	"github.com/solace-app/coachsync/internal/producer"
	"github.com/solace-app/coachsync/internal/session"
)

func main() {
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	store, err := cache.New(rdb, cfg.CacheSealKey, engine.CacheLimit)
	if err != nil {
		log.Fatalf("cache: %v", err)
	}

	// single-node deployments run without a broker; the in-process feed
	// still drives reconciliation between sessions on this node
	var (
		pub feed.Publisher
		sub feed.Subscriber
	)
	if cfg.RabbitURL == "" {
		broker := feed.NewBroker()
		pub, sub = broker, broker
	} else {
		rf, err := feed.NewRabbitFeed(cfg.RabbitURL, cfg.FeedExchange)
		if err != nil {
			log.Fatalf("rabbit feed: %v", err)
		}
		defer rf.Close()
		pub, sub = rf, rf
	}

	repo := session.NewRepo(gdb, pub)

	reg := producer.NewRegistry()
	reg.Register("coach", func(ctx context.Context, model string) (producer.Producer, error) {
		_ = ctx
		if model == "" {
			model = cfg.CoachModel
		}
		return producer.NewCoachClient(cfg.CoachBaseURL, model), nil
	})
	prod, err := reg.Build(context.Background(), "coach", cfg.CoachModel)
	if err != nil {
		log.Fatalf("producer: %v", err)
	}

	eng := engine.New(repo, store, sub, prod, engine.Config{})

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: httpapi.NewRouter(cfg, eng),
	}

	go func() {
		log.Printf("server listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Printf("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	eng.Shutdown(ctx)
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
}
