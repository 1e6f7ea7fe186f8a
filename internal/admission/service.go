package admission

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/ticket-admission/internal/clock"
	"github.com/robertarktes/ticket-admission/internal/domain"
	"github.com/robertarktes/ticket-admission/internal/observability"
	"golang.org/x/sync/errgroup"
)

// Store is the durable purchase-request collection. Save performs a full
// replace of mutable fields and assigns an identity when the request has
// none.
type Store interface {
	Save(ctx context.Context, pr domain.PurchaseRequest) (domain.PurchaseRequest, error)
	FindByID(ctx context.Context, id uuid.UUID) (domain.PurchaseRequest, error)
	FindBySalesRound(ctx context.Context, roundID uuid.UUID) ([]domain.PurchaseRequest, error)
	FindByCustomer(ctx context.Context, customerID string) ([]domain.PurchaseRequest, error)
	DeleteAll(ctx context.Context) error
}

type SalesRoundGateway interface {
	ResolveSalesRound(ctx context.Context, id uuid.UUID) (domain.SalesRound, error)
}

type TicketTypeCatalog interface {
	ResolveTicketType(ctx context.Context, id uuid.UUID) (domain.TicketType, error)
}

type Service struct {
	store   Store
	rounds  SalesRoundGateway
	catalog TicketTypeCatalog
	clock   clock.Clock
	logger  observability.Logger
}

func NewService(store Store, rounds SalesRoundGateway, catalog TicketTypeCatalog, clk clock.Clock, logger observability.Logger) *Service {
	return &Service{store: store, rounds: rounds, catalog: catalog, clock: clk, logger: logger}
}

// Create validates and persists a new purchase request submitted during an
// open sales round.
func (s *Service) Create(ctx context.Context, candidate domain.NewPurchaseRequest) (domain.PurchaseRequest, error) {
	if candidate.SalesRoundID == uuid.Nil {
		return domain.PurchaseRequest{}, &domain.ValidationError{Kind: domain.MissingReference, Field: "sales_round_id", Reason: "sales round id cannot be empty"}
	}
	round, err := s.rounds.ResolveSalesRound(ctx, candidate.SalesRoundID)
	if err != nil {
		return domain.PurchaseRequest{}, err
	}

	lookup, err := s.resolveTicketTypes(ctx, candidate.Items)
	if err != nil {
		return domain.PurchaseRequest{}, err
	}

	pr, err := domain.ValidateForCreate(candidate, round, lookup, s.clock.Now())
	if err != nil {
		return domain.PurchaseRequest{}, err
	}

	saved, err := s.store.Save(ctx, pr)
	if err != nil {
		return domain.PurchaseRequest{}, err
	}

	s.logger.WithField("purchase_request_id", saved.ID.String()).
		WithField("sales_round_id", saved.SalesRoundID.String()).
		Info("purchase request created")
	return saved, nil
}

// Update replaces the item list of an existing request while its sales round
// is still open. Status and queue number are never touched here.
func (s *Service) Update(ctx context.Context, id uuid.UUID, items []domain.NewPurchaseRequestItem) (domain.PurchaseRequest, error) {
	existing, err := s.store.FindByID(ctx, id)
	if err != nil {
		return domain.PurchaseRequest{}, err
	}
	round, err := s.rounds.ResolveSalesRound(ctx, existing.SalesRoundID)
	if err != nil {
		return domain.PurchaseRequest{}, err
	}

	lookup, err := s.resolveTicketTypes(ctx, items)
	if err != nil {
		return domain.PurchaseRequest{}, err
	}
	candidate := domain.UpdatePurchaseRequest{Items: make([]domain.PurchaseRequestItem, 0, len(items))}
	for _, item := range items {
		ticketType, _ := lookup(item.TicketTypeID)
		candidate.Items = append(candidate.Items, domain.PurchaseRequestItem{
			TicketType:        ticketType,
			QuantityRequested: item.QuantityRequested,
		})
	}

	updated, err := domain.ValidateForUpdate(candidate, existing, round, s.clock.Now())
	if err != nil {
		return domain.PurchaseRequest{}, err
	}

	saved, err := s.store.Save(ctx, updated)
	if err != nil {
		return domain.PurchaseRequest{}, err
	}

	s.logger.WithField("purchase_request_id", saved.ID.String()).Info("purchase request updated")
	return saved, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (domain.PurchaseRequest, error) {
	return s.store.FindByID(ctx, id)
}

func (s *Service) ListBySalesRound(ctx context.Context, roundID uuid.UUID) ([]domain.PurchaseRequest, error) {
	return s.store.FindBySalesRound(ctx, roundID)
}

func (s *Service) ListByCustomer(ctx context.Context, customerID string) ([]domain.PurchaseRequest, error) {
	return s.store.FindByCustomer(ctx, customerID)
}

// DeleteAll wipes every purchase request. Administrative reset only.
func (s *Service) DeleteAll(ctx context.Context) error {
	if err := s.store.DeleteAll(ctx); err != nil {
		return err
	}
	s.logger.Warn("all purchase requests deleted")
	return nil
}

// resolveTicketTypes fetches the distinct catalog entries referenced by the
// items in parallel. Unresolved ids are simply absent from the lookup; the
// validator turns that into a MissingReference.
func (s *Service) resolveTicketTypes(ctx context.Context, items []domain.NewPurchaseRequestItem) (domain.TicketTypeLookup, error) {
	ids := make(map[uuid.UUID]struct{}, len(items))
	for _, item := range items {
		if item.TicketTypeID != uuid.Nil {
			ids[item.TicketTypeID] = struct{}{}
		}
	}

	var mu sync.Mutex
	resolved := make(map[uuid.UUID]domain.TicketType, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	for id := range ids {
		id := id
		g.Go(func() error {
			ticketType, err := s.catalog.ResolveTicketType(gctx, id)
			if errors.Is(err, domain.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			mu.Lock()
			resolved[id] = ticketType
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return func(id uuid.UUID) (domain.TicketType, bool) {
		ticketType, ok := resolved[id]
		return ticketType, ok
	}, nil
}
