package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/ticket-admission/internal/adapters/crdb"
	"github.com/robertarktes/ticket-admission/internal/adapters/rabbit"
	redisadapter "github.com/robertarktes/ticket-admission/internal/adapters/redis"
	"github.com/robertarktes/ticket-admission/internal/allocation"
	"github.com/robertarktes/ticket-admission/internal/config"
	"github.com/robertarktes/ticket-admission/internal/domain"
	"github.com/robertarktes/ticket-admission/internal/observability"
	"github.com/robertarktes/ticket-admission/internal/outbox"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger()

	pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	redisCache := redisadapter.NewCache(redisClient)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	consumer, err := rabbit.NewConsumer(conn, "allocation.rounds-closed.q", "round.closed")
	if err != nil {
		log.Fatalf("failed to create consumer: %v", err)
	}

	engine := allocation.NewEngine(repo, outbox.NewRecorder(repo), allocation.CryptoSource{}, logger)
	worker := NewAllocationWorker(engine, redisCache, cfg.AllocationLockTTL, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := worker.Run(ctx, consumer); err != nil {
			log.Fatalf("worker stopped: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown allocation worker")
}

type AllocationWorker struct {
	engine  *allocation.Engine
	redis   *redisadapter.Cache
	lockTTL time.Duration
	logger  observability.Logger
}

func NewAllocationWorker(engine *allocation.Engine, redis *redisadapter.Cache, lockTTL time.Duration, logger observability.Logger) *AllocationWorker {
	return &AllocationWorker{engine: engine, redis: redis, lockTTL: lockTTL, logger: logger}
}

type roundClosedEvent struct {
	SalesRoundID uuid.UUID `json:"sales_round_id"`
}

func (w *AllocationWorker) Run(ctx context.Context, consumer *rabbit.Consumer) error {
	deliveries, err := consumer.Consume(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			var event roundClosedEvent
			if err := json.Unmarshal(msg.Body, &event); err != nil {
				w.logger.Error("malformed round.closed event", err)
				msg.Nack(false, false)
				continue
			}
			if err := w.processRound(ctx, event.SalesRoundID); err != nil {
				w.logger.WithField("sales_round_id", event.SalesRoundID.String()).Error("allocation failed", err)
				msg.Nack(false, true)
				continue
			}
			msg.Ack(false)
		}
	}
}

func (w *AllocationWorker) processRound(ctx context.Context, roundID uuid.UUID) error {
	// Advisory lock in front of the DB status guard so duplicate
	// round.closed deliveries do not even start a transaction.
	locked, err := w.redis.AcquireAllocationLock(ctx, roundID.String(), w.lockTTL)
	if err != nil {
		return err
	}
	if !locked {
		w.logger.WithField("sales_round_id", roundID.String()).Warn("allocation already in progress")
		return nil
	}
	defer w.redis.ReleaseAllocationLock(ctx, roundID.String())

	return w.allocateWithRetry(ctx, roundID)
}

// Serialization failures roll back cleanly, so retrying here cannot violate
// the uniqueness of queue numbers.
func (w *AllocationWorker) allocateWithRetry(ctx context.Context, roundID uuid.UUID) error {
	maxRetries := 3
	var err error
	for i := 0; i < maxRetries; i++ {
		start := time.Now()
		err = w.engine.Allocate(ctx, roundID)
		observability.AllocationDuration.Observe(time.Since(start).Seconds())

		switch {
		case err == nil:
			observability.AllocationsTotal.WithLabelValues("ok").Inc()
			return nil
		case errors.Is(err, domain.ErrAlreadyAllocated):
			// Duplicate trigger; the first run won.
			observability.AllocationsTotal.WithLabelValues("already_allocated").Inc()
			return nil
		case errors.Is(err, domain.ErrSerializationFailure):
			observability.AllocationsTotal.WithLabelValues("conflict").Inc()
			backoff := time.Duration(1<<i) * time.Second
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				continue
			}
		default:
			observability.AllocationsTotal.WithLabelValues("error").Inc()
			return err
		}
	}
	return errors.Wrapf(err, "allocation failed after %d retries", maxRetries)
}
