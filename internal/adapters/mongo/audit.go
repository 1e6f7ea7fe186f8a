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

type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
	}
}

type AuditLog struct {
	ID         uuid.UUID `bson:"_id"`
	Action     string    `bson:"action"`
	CustomerID string    `bson:"customer_id"`
	Timestamp  time.Time `bson:"timestamp"`
	Data       bson.M    `bson:"data"`
}

func (a *AuditLogger) LogEvent(ctx context.Context, action, customerID string, data map[string]interface{}) error {
	log := AuditLog{
		ID:         uuid.New(),
		Action:     action,
		CustomerID: customerID,
		Timestamp:  time.Now(),
		Data:       bson.M(data),
	}
	_, err := a.coll.InsertOne(ctx, log)
	if err != nil {
		a.logger.Error("failed to insert audit log", err)
		return err
	}
	return nil
}

func (a *AuditLogger) LogPurchaseRequest(ctx context.Context, action string, pr domain.PurchaseRequest) error {
	data := map[string]interface{}{
		"purchase_request_id": pr.ID,
		"sales_round_id":      pr.SalesRoundID,
		"status":              pr.Status,
		"total_requested":     pr.TotalRequested(),
	}
	return a.LogEvent(ctx, action, pr.CustomerID, data)
}

func (a *AuditLogger) LogAllocation(ctx context.Context, roundID uuid.UUID) error {
	data := map[string]interface{}{
		"sales_round_id": roundID,
	}
	return a.LogEvent(ctx, "round.allocated", "", data)
}
