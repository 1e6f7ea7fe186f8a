package crdb

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/ticket-admission/internal/allocation"
	"github.com/robertarktes/ticket-admission/internal/domain"
)

const (
	SerializationFailureCode = "40001"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txKey struct{}

// WithTx runs fn inside a SERIALIZABLE transaction carried on the context.
// Nested calls join the ambient transaction. Serialization failures map to
// domain.ErrSerializationFailure so callers own the retry policy.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return mapSerializationFailure(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapSerializationFailure(err)
	}
	return nil
}

func txFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

func mapSerializationFailure(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == SerializationFailureCode {
		return domain.ErrSerializationFailure
	}
	return err
}

// querier is satisfied by both the pool and a pgx transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

func (r *Repository) q(ctx context.Context) querier {
	if tx := txFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

// Save inserts the request or fully replaces its mutable fields (item list,
// queue number). A request without identity gets one assigned.
func (r *Repository) Save(ctx context.Context, pr domain.PurchaseRequest) (domain.PurchaseRequest, error) {
	if pr.ID == uuid.Nil {
		pr.ID = uuid.New()
	}

	err := r.WithTx(ctx, func(ctx context.Context) error {
		q := r.q(ctx)
		_, err := q.Exec(ctx, `
			INSERT INTO purchase_requests (id, customer_id, sales_round_id, status, queue_number)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET status = $4, queue_number = $5
		`, pr.ID, pr.CustomerID, pr.SalesRoundID, pr.Status, pr.QueueNumber)
		if err != nil {
			return err
		}

		if _, err := q.Exec(ctx, `
			DELETE FROM purchase_request_items WHERE purchase_request_id = $1
		`, pr.ID); err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for i, item := range pr.Items {
			batch.Queue(`
				INSERT INTO purchase_request_items
					(purchase_request_id, position, ticket_type_id, ticket_type_name, price, quantity_requested, quantity_approved)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, pr.ID, i, item.TicketType.ID, item.TicketType.Name, item.TicketType.Price, item.QuantityRequested, item.QuantityApproved)
		}
		return q.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return domain.PurchaseRequest{}, err
	}
	return pr, nil
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (domain.PurchaseRequest, error) {
	q := r.q(ctx)

	var pr domain.PurchaseRequest
	err := q.QueryRow(ctx, `
		SELECT id, customer_id, sales_round_id, status, queue_number
		FROM purchase_requests WHERE id = $1
	`, id).Scan(&pr.ID, &pr.CustomerID, &pr.SalesRoundID, &pr.Status, &pr.QueueNumber)
	if err == pgx.ErrNoRows {
		return domain.PurchaseRequest{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.PurchaseRequest{}, err
	}

	rows, err := q.Query(ctx, `
		SELECT ticket_type_id, ticket_type_name, price, quantity_requested, quantity_approved
		FROM purchase_request_items WHERE purchase_request_id = $1 ORDER BY position
	`, id)
	if err != nil {
		return domain.PurchaseRequest{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.PurchaseRequestItem
		if err := rows.Scan(&item.TicketType.ID, &item.TicketType.Name, &item.TicketType.Price, &item.QuantityRequested, &item.QuantityApproved); err != nil {
			return domain.PurchaseRequest{}, err
		}
		pr.Items = append(pr.Items, item)
	}
	return pr, rows.Err()
}

func (r *Repository) FindBySalesRound(ctx context.Context, roundID uuid.UUID) ([]domain.PurchaseRequest, error) {
	return r.findAll(ctx, `WHERE pr.sales_round_id = $1`, roundID)
}

func (r *Repository) FindByCustomer(ctx context.Context, customerID string) ([]domain.PurchaseRequest, error) {
	return r.findAll(ctx, `WHERE pr.customer_id = $1`, customerID)
}

func (r *Repository) findAll(ctx context.Context, where string, arg any) ([]domain.PurchaseRequest, error) {
	q := r.q(ctx)

	rows, err := q.Query(ctx, `
		SELECT pr.id, pr.customer_id, pr.sales_round_id, pr.status, pr.queue_number
		FROM purchase_requests pr `+where, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []domain.PurchaseRequest
	index := make(map[uuid.UUID]int)
	for rows.Next() {
		var pr domain.PurchaseRequest
		if err := rows.Scan(&pr.ID, &pr.CustomerID, &pr.SalesRoundID, &pr.Status, &pr.QueueNumber); err != nil {
			return nil, err
		}
		index[pr.ID] = len(requests)
		requests = append(requests, pr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	itemRows, err := q.Query(ctx, `
		SELECT i.purchase_request_id, i.ticket_type_id, i.ticket_type_name, i.price, i.quantity_requested, i.quantity_approved
		FROM purchase_request_items i
		JOIN purchase_requests pr ON pr.id = i.purchase_request_id `+where+`
		ORDER BY i.purchase_request_id, i.position`, arg)
	if err != nil {
		return nil, err
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var parentID uuid.UUID
		var item domain.PurchaseRequestItem
		if err := itemRows.Scan(&parentID, &item.TicketType.ID, &item.TicketType.Name, &item.TicketType.Price, &item.QuantityRequested, &item.QuantityApproved); err != nil {
			return nil, err
		}
		if i, ok := index[parentID]; ok {
			requests[i].Items = append(requests[i].Items, item)
		}
	}
	return requests, itemRows.Err()
}

func (r *Repository) CountBySalesRound(ctx context.Context, roundID uuid.UUID) (int64, error) {
	var count int64
	err := r.q(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM purchase_requests WHERE sales_round_id = $1
	`, roundID).Scan(&count)
	return count, err
}

// DeleteAll wipes every purchase request and its items. Administrative reset
// used by test and ops tooling only.
func (r *Repository) DeleteAll(ctx context.Context) error {
	return r.WithTx(ctx, func(ctx context.Context) error {
		q := r.q(ctx)
		if _, err := q.Exec(ctx, `DELETE FROM purchase_request_items`); err != nil {
			return err
		}
		_, err := q.Exec(ctx, `DELETE FROM purchase_requests`)
		return err
	})
}

// ResolveSalesRound reads round metadata without locking it.
func (r *Repository) ResolveSalesRound(ctx context.Context, id uuid.UUID) (domain.SalesRound, error) {
	return r.salesRound(ctx, id, "")
}

// LockSalesRound reads the round under FOR UPDATE so concurrent allocations
// of the same round serialize on the row.
func (r *Repository) LockSalesRound(ctx context.Context, id uuid.UUID) (domain.SalesRound, error) {
	return r.salesRound(ctx, id, " FOR UPDATE")
}

func (r *Repository) salesRound(ctx context.Context, id uuid.UUID, suffix string) (domain.SalesRound, error) {
	var round domain.SalesRound
	err := r.q(ctx).QueryRow(ctx, `
		SELECT id, event_id, status, window_start, window_end
		FROM sales_rounds WHERE id = $1`+suffix, id).
		Scan(&round.ID, &round.EventID, &round.Status, &round.WindowStart, &round.WindowEnd)
	if err == pgx.ErrNoRows {
		return domain.SalesRound{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.SalesRound{}, err
	}
	return round, nil
}

// AssignQueueNumbers writes the drawn queue numbers in one batch. Every
// assignment must hit exactly one row.
func (r *Repository) AssignQueueNumbers(ctx context.Context, assignments []allocation.QueueAssignment) error {
	batch := &pgx.Batch{}
	for _, a := range assignments {
		batch.Queue(`
			UPDATE purchase_requests SET queue_number = $2 WHERE id = $1
		`, a.RequestID, a.QueueNumber)
	}

	results := r.q(ctx).SendBatch(ctx, batch)
	defer results.Close()

	for _, a := range assignments {
		tag, err := results.Exec()
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			return errors.Wrapf(domain.ErrStorageFailure, "queue number %d: purchase request %s missing", a.QueueNumber, a.RequestID)
		}
	}
	return nil
}

func (r *Repository) MarkRoundAllocated(ctx context.Context, roundID uuid.UUID) error {
	tag, err := r.q(ctx).Exec(ctx, `
		UPDATE sales_rounds SET status = $2 WHERE id = $1
	`, roundID, domain.RoundStatusAllocated)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
