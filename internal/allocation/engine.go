package allocation

import (
	"bytes"
	"context"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/ticket-admission/internal/domain"
	"github.com/robertarktes/ticket-admission/internal/observability"
)

// QueueAssignment pairs a purchase request with its drawn queue number.
type QueueAssignment struct {
	RequestID   uuid.UUID
	QueueNumber int64
}

// Store is the transactional view of purchase-request storage the engine
// needs. WithTx must provide serializable isolation and all-or-nothing
// commit; the other methods must observe the transaction carried in ctx.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	LockSalesRound(ctx context.Context, roundID uuid.UUID) (domain.SalesRound, error)
	CountBySalesRound(ctx context.Context, roundID uuid.UUID) (int64, error)
	FindBySalesRound(ctx context.Context, roundID uuid.UUID) ([]domain.PurchaseRequest, error)
	AssignQueueNumbers(ctx context.Context, assignments []QueueAssignment) error
	MarkRoundAllocated(ctx context.Context, roundID uuid.UUID) error
}

// Events records allocation outcomes for downstream consumers. An
// implementation sharing the engine's transaction makes the event atomic
// with the assignment.
type Events interface {
	RoundAllocated(ctx context.Context, roundID uuid.UUID, total int64) error
}

type Engine struct {
	store  Store
	events Events
	src    Source
	logger observability.Logger
}

func NewEngine(store Store, events Events, src Source, logger observability.Logger) *Engine {
	return &Engine{store: store, events: events, src: src, logger: logger}
}

// Allocate assigns every purchase request in the round a distinct queue
// number drawn uniformly at random from the permutation of [1, N]. All
// writes commit together or not at all, and a round can be allocated only
// once; a second call returns domain.ErrAlreadyAllocated.
func (e *Engine) Allocate(ctx context.Context, roundID uuid.UUID) error {
	var total int64

	err := e.store.WithTx(ctx, func(ctx context.Context) error {
		round, err := e.store.LockSalesRound(ctx, roundID)
		if err != nil {
			return err
		}
		if round.Status == domain.RoundStatusAllocated {
			return domain.ErrAlreadyAllocated
		}

		total, err = e.store.CountBySalesRound(ctx, roundID)
		if err != nil {
			return err
		}

		requests, err := e.store.FindBySalesRound(ctx, roundID)
		if err != nil {
			return err
		}
		if int64(len(requests)) != total {
			return errors.Wrapf(domain.ErrStorageFailure, "round %s: counted %d requests, fetched %d", roundID, total, len(requests))
		}

		// Stable id order so the permutation alone decides the outcome.
		sort.Slice(requests, func(i, j int) bool {
			return bytes.Compare(requests[i].ID[:], requests[j].ID[:]) < 0
		})

		perm := e.src.Perm(len(requests))
		assignments := make([]QueueAssignment, len(requests))
		for i, req := range requests {
			assignments[i] = QueueAssignment{RequestID: req.ID, QueueNumber: int64(perm[i]) + 1}
		}
		// Written ascending by queue number for write locality only; each
		// request is an independent row.
		sort.Slice(assignments, func(i, j int) bool {
			return assignments[i].QueueNumber < assignments[j].QueueNumber
		})

		if len(assignments) > 0 {
			if err := e.store.AssignQueueNumbers(ctx, assignments); err != nil {
				return err
			}
		}
		if err := e.events.RoundAllocated(ctx, roundID, total); err != nil {
			return err
		}
		return e.store.MarkRoundAllocated(ctx, roundID)
	})
	if err != nil {
		return err
	}

	e.logger.WithField("sales_round_id", roundID.String()).
		WithField("total_requests", total).
		Info("queue numbers allocated")
	return nil
}
