package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/ticket-admission/internal/adapters/crdb"
	"github.com/robertarktes/ticket-admission/internal/adapters/rabbit"
	"github.com/robertarktes/ticket-admission/internal/observability"
)

// Recorder writes allocation events into the outbox table. Called inside the
// Allocation Engine's transaction, so the event commits with the queue
// numbers or not at all.
type Recorder struct {
	repo *crdb.Repository
}

func NewRecorder(repo *crdb.Repository) *Recorder {
	return &Recorder{repo: repo}
}

func (r *Recorder) RoundAllocated(ctx context.Context, roundID uuid.UUID, total int64) error {
	payload, err := json.Marshal(map[string]interface{}{
		"sales_round_id": roundID,
		"total_requests": total,
	})
	if err != nil {
		return err
	}
	return r.repo.InsertOutbox(ctx, crdb.OutboxRecord{
		ID:            uuid.New(),
		AggregateType: "sales_round",
		AggregateID:   roundID,
		EventType:     "round.allocated",
		Payload:       payload,
		DedupeKey:     uuid.New().String(),
	})
}

// Publisher relays committed outbox records to rabbit.
type Publisher struct {
	repo      *crdb.Repository
	rabbitPub *rabbit.Publisher
	logger    observability.Logger
}

func NewPublisher(repo *crdb.Repository, rabbitPub *rabbit.Publisher, logger observability.Logger) *Publisher {
	return &Publisher{repo: repo, rabbitPub: rabbitPub, logger: logger}
}

func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			records, err := p.repo.GetUnpublishedOutbox(ctx, 10)
			if err != nil {
				p.logger.Error("failed to fetch outbox records", err)
				continue
			}
			for _, rec := range records {
				msg := amqp.Publishing{
					MessageId:   rec.DedupeKey,
					ContentType: "application/json",
					Body:        rec.Payload,
				}
				if err := p.rabbitPub.Publish(ctx, rec.EventType, msg); err != nil {
					p.logger.WithField("outbox_id", rec.ID.String()).Error("failed to publish outbox record", err)
					continue
				}
				if err := p.repo.MarkPublished(ctx, rec.ID, time.Now(), rec.DedupeKey); err != nil {
					p.logger.WithField("outbox_id", rec.ID.String()).Error("failed to mark outbox record published", err)
				}
				observability.OutboxLag.Set(time.Since(rec.CreatedAt).Seconds())
			}
		}
	}
}
