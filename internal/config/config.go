package config

import (
	"time"

	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	CRDBDSN           string
	MongoURI          string
	RedisAddr         string
	RabbitURL         string
	HTTPAddr          string
	JWTPublicKey      string
	IdempotencyTTL    time.Duration
	AllocationLockTTL time.Duration
	OTLPEndpoint      string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	idempTTL, _ := time.ParseDuration(os.Getenv("IDEMPOTENCY_TTL"))
	if idempTTL == 0 {
		idempTTL = time.Hour
	}
	lockTTL, _ := time.ParseDuration(os.Getenv("ALLOCATION_LOCK_TTL"))
	if lockTTL == 0 {
		lockTTL = 5 * time.Minute
	}
	httpAddr := os.Getenv("HTTP_ADDR")
	if httpAddr == "" {
		httpAddr = ":8080"
	}

	return &Config{
		CRDBDSN:           os.Getenv("CRDB_DSN"),
		MongoURI:          os.Getenv("MONGO_URI"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RabbitURL:         os.Getenv("RABBIT_URL"),
		HTTPAddr:          httpAddr,
		JWTPublicKey:      os.Getenv("JWT_PUBLIC_KEY"),
		IdempotencyTTL:    idempTTL,
		AllocationLockTTL: lockTTL,
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}, nil
}
