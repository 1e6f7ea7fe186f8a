package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/ticket-admission/internal/domain"
	"github.com/robertarktes/ticket-admission/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// CatalogRepository resolves ticket types. The catalog is read-only from the
// admission core's perspective; writes exist for seeding and ops tooling.
type CatalogRepository struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewCatalogRepository(db *mongo.Database, logger observability.Logger) *CatalogRepository {
	return &CatalogRepository{
		coll:   db.Collection("ticket_types"),
		logger: logger,
	}
}

type TicketTypeDoc struct {
	ID        uuid.UUID `bson:"_id"`
	EventID   uuid.UUID `bson:"event_id"`
	Name      string    `bson:"name"`
	Price     float64   `bson:"price"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func (c *CatalogRepository) ResolveTicketType(ctx context.Context, id uuid.UUID) (domain.TicketType, error) {
	var doc TicketTypeDoc
	err := c.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return domain.TicketType{}, domain.ErrNotFound
	}
	if err != nil {
		c.logger.Error("failed to resolve ticket type", err)
		return domain.TicketType{}, err
	}
	return domain.TicketType{
		ID:      doc.ID,
		EventID: doc.EventID,
		Name:    doc.Name,
		Price:   doc.Price,
	}, nil
}

func (c *CatalogRepository) CreateTicketType(ctx context.Context, doc TicketTypeDoc) error {
	doc.CreatedAt = time.Now()
	doc.UpdatedAt = time.Now()
	_, err := c.coll.InsertOne(ctx, doc)
	if err != nil {
		c.logger.Error("failed to create ticket type", err)
		return err
	}
	return nil
}
