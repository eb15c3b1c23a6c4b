package config

import (
	"encoding/hex"
	"log"
	"os"
	"strconv"
)

type Config struct {
	DBDSN     string
	JWTSecret string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// CacheSealKey protects cached snapshots at rest (hex, 32 bytes).
	CacheSealKey []byte

	// RabbitURL empty means the in-process change feed is used.
	RabbitURL    string
	FeedExchange string

	CoachBaseURL string
	CoachModel   string

	ListenAddr string
}

func Load() Config {
	// DSN demo:
	// app:apppass@tcp(127.0.0.1:3306)/coachsync?charset=utf8mb4&parseTime=true&loc=Local
	dsn := os.Getenv("DB_DSN")

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "dev-secret-change-me"
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "127.0.0.1:6379"
	}

	redisDB := 0
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			redisDB = n
		}
	}

	sealKey := make([]byte, 32)
	if v := os.Getenv("CACHE_SEAL_KEY"); v != "" {
		k, err := hex.DecodeString(v)
		if err != nil || len(k) != 32 {
			log.Fatalf("CACHE_SEAL_KEY must be 32 hex-encoded bytes")
		}
		sealKey = k
	}

	feedExchange := os.Getenv("FEED_EXCHANGE")
	if feedExchange == "" {
		feedExchange = "coachsync.sessions"
	}

	coachBaseURL := os.Getenv("COACH_BASE_URL")
	if coachBaseURL == "" {
		coachBaseURL = "http://localhost:8085"
	}
	coachModel := os.Getenv("COACH_MODEL")
	if coachModel == "" {
		coachModel = "coach-v1"
	}

	listenAddr := os.Getenv("LISTEN_ADDR")
	if listenAddr == "" {
		listenAddr = ":8080"
	}

	return Config{
		DBDSN:     dsn,
		JWTSecret: secret,

		RedisAddr:     redisAddr,
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       redisDB,

		CacheSealKey: sealKey,

		RabbitURL:    os.Getenv("RABBIT_URL"),
		FeedExchange: feedExchange,

		CoachBaseURL: coachBaseURL,
		CoachModel:   coachModel,

		ListenAddr: listenAddr,
	}
}
