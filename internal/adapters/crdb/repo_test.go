package crdb_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/ticket-admission/internal/adapters/crdb"
	"github.com/robertarktes/ticket-admission/internal/allocation"
	"github.com/robertarktes/ticket-admission/internal/domain"
	"github.com/robertarktes/ticket-admission/internal/observability"
	"github.com/robertarktes/ticket-admission/internal/outbox"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

type nopLogger struct{}

func (nopLogger) Info(args ...interface{})  {}
func (nopLogger) Error(args ...interface{}) {}
func (nopLogger) Debug(args ...interface{}) {}
func (nopLogger) Warn(args ...interface{})  {}
func (l nopLogger) WithField(key string, value interface{}) observability.Logger { return l }

func startRepository(t *testing.T) (*crdb.Repository, *pgxpool.Pool) {
	t.Helper()
	ctx := context.Background()

	crdbContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "cockroachdb/cockroach:v24.1.1",
			Cmd:          []string{"start-single-node", "--insecure"},
			ExposedPorts: []string{"26257/tcp"},
			WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { crdbContainer.Terminate(ctx) })

	dsn, err := crdbContainer.Endpoint(ctx, "postgresql")
	if err != nil {
		t.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, dsn+"/admission?sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, `
		CREATE DATABASE IF NOT EXISTS admission;
		CREATE TABLE IF NOT EXISTS admission.sales_rounds (
			id UUID PRIMARY KEY,
			event_id UUID,
			status TEXT CHECK (status IN ('OPEN', 'CLOSED', 'ALLOCATED')),
			window_start TIMESTAMPTZ,
			window_end TIMESTAMPTZ
		);
		CREATE TABLE IF NOT EXISTS admission.purchase_requests (
			id UUID PRIMARY KEY,
			customer_id TEXT,
			sales_round_id UUID,
			status TEXT,
			queue_number INT
		);
		CREATE TABLE IF NOT EXISTS admission.purchase_request_items (
			purchase_request_id UUID,
			position INT,
			ticket_type_id UUID,
			ticket_type_name TEXT,
			price NUMERIC,
			quantity_requested INT,
			quantity_approved INT,
			PRIMARY KEY (purchase_request_id, position)
		);
		CREATE TABLE IF NOT EXISTS admission.outbox (
			id UUID PRIMARY KEY,
			aggregate_type TEXT,
			aggregate_id UUID,
			event_type TEXT,
			payload_json JSONB,
			created_at TIMESTAMPTZ DEFAULT now(),
			published_at TIMESTAMPTZ,
			status TEXT,
			dedupe_key TEXT
		);
	`)
	if err != nil {
		t.Fatal(err)
	}

	return crdb.NewRepository(pool), pool
}

func insertSalesRound(t *testing.T, pool *pgxpool.Pool, round domain.SalesRound) {
	t.Helper()
	_, err := pool.Exec(context.Background(), `
		INSERT INTO sales_rounds (id, event_id, status, window_start, window_end)
		VALUES ($1, $2, $3, $4, $5)
	`, round.ID, round.EventID, round.Status, round.WindowStart, round.WindowEnd)
	if err != nil {
		t.Fatal(err)
	}
}

func TestRepository_SaveAndFind(t *testing.T) {
	ctx := context.Background()
	repo, pool := startRepository(t)

	round := domain.SalesRound{
		ID:          uuid.New(),
		EventID:     uuid.New(),
		Status:      domain.RoundStatusOpen,
		WindowStart: time.Now().Add(-time.Hour),
		WindowEnd:   time.Now().Add(time.Hour),
	}
	insertSalesRound(t, pool, round)

	standing := domain.TicketType{ID: uuid.New(), EventID: round.EventID, Name: "Standing", Price: 65.0}
	seated := domain.TicketType{ID: uuid.New(), EventID: round.EventID, Name: "Seated", Price: 90.0}

	pr := domain.PurchaseRequest{
		CustomerID:   "customer-1",
		SalesRoundID: round.ID,
		Status:       domain.StatusPending,
		Items: []domain.PurchaseRequestItem{
			{TicketType: standing, QuantityRequested: 2},
			{TicketType: seated, QuantityRequested: 1},
		},
	}

	saved, err := repo.Save(ctx, pr)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if saved.ID == uuid.Nil {
		t.Fatal("expected an id to be assigned")
	}

	fetched, err := repo.FindByID(ctx, saved.ID)
	if err != nil {
		t.Fatal(err)
	}
	if fetched.CustomerID != "customer-1" || fetched.SalesRoundID != round.ID {
		t.Errorf("unexpected request %+v", fetched)
	}
	if fetched.QueueNumber != nil {
		t.Errorf("expected no queue number, got %d", *fetched.QueueNumber)
	}
	if len(fetched.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(fetched.Items))
	}
	if fetched.Items[0].TicketType.Name != "Standing" || fetched.Items[0].QuantityRequested != 2 {
		t.Errorf("unexpected first item %+v", fetched.Items[0])
	}
	if fetched.Items[1].TicketType.Price != 90.0 {
		t.Errorf("unexpected second item %+v", fetched.Items[1])
	}

	// Saving again replaces the item list wholesale.
	saved.Items = []domain.PurchaseRequestItem{{TicketType: seated, QuantityRequested: 4}}
	if _, err := repo.Save(ctx, saved); err != nil {
		t.Fatal(err)
	}
	fetched, err = repo.FindByID(ctx, saved.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(fetched.Items) != 1 || fetched.Items[0].QuantityRequested != 4 {
		t.Errorf("expected single replaced item, got %+v", fetched.Items)
	}

	byRound, err := repo.FindBySalesRound(ctx, round.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(byRound) != 1 || len(byRound[0].Items) != 1 {
		t.Errorf("expected 1 request with items by round, got %+v", byRound)
	}

	byCustomer, err := repo.FindByCustomer(ctx, "customer-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(byCustomer) != 1 {
		t.Errorf("expected 1 request by customer, got %d", len(byCustomer))
	}

	count, err := repo.CountBySalesRound(ctx, round.ID)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("expected count 1, got %d", count)
	}

	if err := repo.DeleteAll(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.FindByID(ctx, saved.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected not found after reset, got %v", err)
	}
}

func TestRepository_FindByID_NotFound(t *testing.T) {
	repo, _ := startRepository(t)

	if _, err := repo.FindByID(context.Background(), uuid.New()); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	if _, err := repo.ResolveSalesRound(context.Background(), uuid.New()); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected not found round, got %v", err)
	}
}

func TestRepository_AllocateRound(t *testing.T) {
	ctx := context.Background()
	repo, pool := startRepository(t)

	round := domain.SalesRound{
		ID:          uuid.New(),
		EventID:     uuid.New(),
		Status:      domain.RoundStatusClosed,
		WindowStart: time.Now().Add(-2 * time.Hour),
		WindowEnd:   time.Now().Add(-time.Hour),
	}
	insertSalesRound(t, pool, round)

	ticketType := domain.TicketType{ID: uuid.New(), EventID: round.EventID, Name: "Standing", Price: 65.0}
	for i := 0; i < 5; i++ {
		_, err := repo.Save(ctx, domain.PurchaseRequest{
			CustomerID:   uuid.New().String(),
			SalesRoundID: round.ID,
			Status:       domain.StatusPending,
			Items:        []domain.PurchaseRequestItem{{TicketType: ticketType, QuantityRequested: 1}},
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	engine := allocation.NewEngine(repo, outbox.NewRecorder(repo), allocation.CryptoSource{}, nopLogger{})
	if err := engine.Allocate(ctx, round.ID); err != nil {
		t.Fatalf("expected allocation to succeed, got %v", err)
	}

	requests, err := repo.FindBySalesRound(ctx, round.ID)
	if err != nil {
		t.Fatal(err)
	}
	seen := make(map[int64]bool)
	for _, pr := range requests {
		if pr.QueueNumber == nil {
			t.Fatalf("request %s has no queue number", pr.ID)
		}
		if *pr.QueueNumber < 1 || *pr.QueueNumber > 5 || seen[*pr.QueueNumber] {
			t.Fatalf("queue number %d out of range or duplicated", *pr.QueueNumber)
		}
		seen[*pr.QueueNumber] = true
	}

	allocated, err := repo.ResolveSalesRound(ctx, round.ID)
	if err != nil {
		t.Fatal(err)
	}
	if allocated.Status != domain.RoundStatusAllocated {
		t.Errorf("expected round status %s, got %s", domain.RoundStatusAllocated, allocated.Status)
	}

	records, err := repo.GetUnpublishedOutbox(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].EventType != "round.allocated" {
		t.Fatalf("expected one round.allocated outbox record, got %+v", records)
	}
	if err := repo.MarkPublished(ctx, records[0].ID, time.Now(), records[0].DedupeKey); err != nil {
		t.Fatal(err)
	}
	records, err = repo.GetUnpublishedOutbox(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Errorf("expected outbox drained, got %d records", len(records))
	}

	if err := engine.Allocate(ctx, round.ID); !errors.Is(err, domain.ErrAlreadyAllocated) {
		t.Errorf("expected second allocation to fail, got %v", err)
	}
}
