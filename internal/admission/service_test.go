package admission

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/ticket-admission/internal/clock"
	"github.com/robertarktes/ticket-admission/internal/domain"
	"github.com/robertarktes/ticket-admission/internal/observability"
)

type fakeStore struct {
	requests map[uuid.UUID]domain.PurchaseRequest
}

func newFakeStore() *fakeStore {
	return &fakeStore{requests: make(map[uuid.UUID]domain.PurchaseRequest)}
}

func (s *fakeStore) Save(ctx context.Context, pr domain.PurchaseRequest) (domain.PurchaseRequest, error) {
	if pr.ID == uuid.Nil {
		pr.ID = uuid.New()
	}
	s.requests[pr.ID] = pr
	return pr, nil
}

func (s *fakeStore) FindByID(ctx context.Context, id uuid.UUID) (domain.PurchaseRequest, error) {
	pr, ok := s.requests[id]
	if !ok {
		return domain.PurchaseRequest{}, domain.ErrNotFound
	}
	return pr, nil
}

func (s *fakeStore) FindBySalesRound(ctx context.Context, roundID uuid.UUID) ([]domain.PurchaseRequest, error) {
	var out []domain.PurchaseRequest
	for _, pr := range s.requests {
		if pr.SalesRoundID == roundID {
			out = append(out, pr)
		}
	}
	return out, nil
}

func (s *fakeStore) FindByCustomer(ctx context.Context, customerID string) ([]domain.PurchaseRequest, error) {
	var out []domain.PurchaseRequest
	for _, pr := range s.requests {
		if pr.CustomerID == customerID {
			out = append(out, pr)
		}
	}
	return out, nil
}

func (s *fakeStore) DeleteAll(ctx context.Context) error {
	s.requests = make(map[uuid.UUID]domain.PurchaseRequest)
	return nil
}

type fakeRounds struct {
	rounds map[uuid.UUID]domain.SalesRound
}

func (f *fakeRounds) ResolveSalesRound(ctx context.Context, id uuid.UUID) (domain.SalesRound, error) {
	round, ok := f.rounds[id]
	if !ok {
		return domain.SalesRound{}, domain.ErrNotFound
	}
	return round, nil
}

type fakeCatalog struct {
	types map[uuid.UUID]domain.TicketType
}

func (f *fakeCatalog) ResolveTicketType(ctx context.Context, id uuid.UUID) (domain.TicketType, error) {
	ticketType, ok := f.types[id]
	if !ok {
		return domain.TicketType{}, domain.ErrNotFound
	}
	return ticketType, nil
}

type nopLogger struct{}

func (nopLogger) Info(args ...interface{})  {}
func (nopLogger) Error(args ...interface{}) {}
func (nopLogger) Debug(args ...interface{}) {}
func (nopLogger) Warn(args ...interface{})  {}
func (nopLogger) WithField(key string, value interface{}) observability.Logger {
	return nopLogger{}
}

func newTestService(now time.Time) (*Service, *fakeStore, domain.SalesRound, domain.TicketType) {
	round := domain.SalesRound{
		ID:          uuid.New(),
		EventID:     uuid.New(),
		Status:      domain.RoundStatusOpen,
		WindowStart: now.Add(-10 * time.Minute),
		WindowEnd:   now.Add(50 * time.Minute),
	}
	ticketType := domain.TicketType{ID: uuid.New(), EventID: round.EventID, Name: "GA", Price: 80.0}

	store := newFakeStore()
	svc := NewService(
		store,
		&fakeRounds{rounds: map[uuid.UUID]domain.SalesRound{round.ID: round}},
		&fakeCatalog{types: map[uuid.UUID]domain.TicketType{ticketType.ID: ticketType}},
		clock.NewFixed(now),
		nopLogger{},
	)
	return svc, store, round, ticketType
}

func TestService_Create(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, _, round, ticketType := newTestService(now)

	t.Run("create then get returns equal request", func(t *testing.T) {
		created, err := svc.Create(context.Background(), domain.NewPurchaseRequest{
			CustomerID:   "customer-1",
			SalesRoundID: round.ID,
			Items:        []domain.NewPurchaseRequestItem{{TicketTypeID: ticketType.ID, QuantityRequested: 2}},
		})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if created.ID == uuid.Nil {
			t.Fatal("expected identity assigned")
		}
		if created.QueueNumber != nil {
			t.Error("expected no queue number on creation")
		}
		for _, item := range created.Items {
			if item.QuantityApproved != 0 {
				t.Errorf("expected approved quantity 0, got %d", item.QuantityApproved)
			}
		}

		fetched, err := svc.Get(context.Background(), created.ID)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !reflect.DeepEqual(created, fetched) {
			t.Errorf("expected fetched request to equal created one:\n%+v\n%+v", created, fetched)
		}
	})

	t.Run("unknown sales round", func(t *testing.T) {
		_, err := svc.Create(context.Background(), domain.NewPurchaseRequest{
			CustomerID:   "customer-1",
			SalesRoundID: uuid.New(),
			Items:        []domain.NewPurchaseRequestItem{{TicketTypeID: ticketType.ID, QuantityRequested: 1}},
		})
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("unknown ticket type", func(t *testing.T) {
		_, err := svc.Create(context.Background(), domain.NewPurchaseRequest{
			CustomerID:   "customer-1",
			SalesRoundID: round.ID,
			Items:        []domain.NewPurchaseRequestItem{{TicketTypeID: uuid.New(), QuantityRequested: 1}},
		})
		var vErr *domain.ValidationError
		if !errors.As(err, &vErr) || vErr.Kind != domain.MissingReference {
			t.Fatalf("expected MissingReference validation error, got %v", err)
		}
	})

	t.Run("over ticket limit", func(t *testing.T) {
		_, err := svc.Create(context.Background(), domain.NewPurchaseRequest{
			CustomerID:   "customer-1",
			SalesRoundID: round.ID,
			Items:        []domain.NewPurchaseRequestItem{{TicketTypeID: ticketType.ID, QuantityRequested: 5}},
		})
		var vErr *domain.ValidationError
		if !errors.As(err, &vErr) || vErr.Kind != domain.QuantityOutOfBounds {
			t.Fatalf("expected QuantityOutOfBounds validation error, got %v", err)
		}
	})
}

func TestService_Update(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, _, round, ticketType := newTestService(now)

	created, err := svc.Create(context.Background(), domain.NewPurchaseRequest{
		CustomerID:   "customer-1",
		SalesRoundID: round.ID,
		Items:        []domain.NewPurchaseRequestItem{{TicketTypeID: ticketType.ID, QuantityRequested: 4}},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	updated, err := svc.Update(context.Background(), created.ID,
		[]domain.NewPurchaseRequestItem{{TicketTypeID: ticketType.ID, QuantityRequested: 1}})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if updated.TotalRequested() != 1 {
		t.Errorf("expected total requested 1, got %d", updated.TotalRequested())
	}
	if updated.Status != domain.StatusPending {
		t.Errorf("expected status untouched, got %s", updated.Status)
	}

	t.Run("unknown request", func(t *testing.T) {
		_, err := svc.Update(context.Background(), uuid.New(),
			[]domain.NewPurchaseRequestItem{{TicketTypeID: ticketType.ID, QuantityRequested: 1}})
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("empty replacement list", func(t *testing.T) {
		_, err := svc.Update(context.Background(), created.ID, nil)
		var vErr *domain.ValidationError
		if !errors.As(err, &vErr) || vErr.Kind != domain.EmptyRequest {
			t.Fatalf("expected EmptyRequest validation error, got %v", err)
		}
	})
}

// Round with a one-hour window; three requests with quantities 1, 2 and 3
// are admitted, a fourth asking for 5 is rejected and never enters the
// round's allocation set.
func TestService_RoundScenario(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	now := start.Add(10 * time.Minute)
	svc, _, round, ticketType := newTestService(now)

	for i, quantity := range []int{1, 2, 3} {
		_, err := svc.Create(context.Background(), domain.NewPurchaseRequest{
			CustomerID:   "customer-1",
			SalesRoundID: round.ID,
			Items:        []domain.NewPurchaseRequestItem{{TicketTypeID: ticketType.ID, QuantityRequested: quantity}},
		})
		if err != nil {
			t.Fatalf("request %d: expected no error, got %v", i, err)
		}
	}

	_, err := svc.Create(context.Background(), domain.NewPurchaseRequest{
		CustomerID:   "customer-2",
		SalesRoundID: round.ID,
		Items:        []domain.NewPurchaseRequestItem{{TicketTypeID: ticketType.ID, QuantityRequested: 5}},
	})
	var vErr *domain.ValidationError
	if !errors.As(err, &vErr) || vErr.Kind != domain.QuantityOutOfBounds {
		t.Fatalf("expected QuantityOutOfBounds validation error, got %v", err)
	}

	admitted, err := svc.ListBySalesRound(context.Background(), round.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(admitted) != 3 {
		t.Errorf("expected 3 admitted requests, got %d", len(admitted))
	}
}

func TestService_DeleteAll(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, store, round, ticketType := newTestService(now)

	_, err := svc.Create(context.Background(), domain.NewPurchaseRequest{
		CustomerID:   "customer-1",
		SalesRoundID: round.ID,
		Items:        []domain.NewPurchaseRequestItem{{TicketTypeID: ticketType.ID, QuantityRequested: 1}},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if err := svc.DeleteAll(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(store.requests) != 0 {
		t.Errorf("expected empty store, got %d requests", len(store.requests))
	}
}
