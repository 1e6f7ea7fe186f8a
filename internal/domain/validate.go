package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewPurchaseRequest is a customer submission before it has an identity.
// Items reference ticket types by id; the catalog resolves them.
type NewPurchaseRequest struct {
	CustomerID   string
	SalesRoundID uuid.UUID
	Items        []NewPurchaseRequestItem
}

type NewPurchaseRequestItem struct {
	TicketTypeID      uuid.UUID
	QuantityRequested int
}

// UpdatePurchaseRequest replaces the item list of an existing request. Items
// carry resolved ticket types by value.
type UpdatePurchaseRequest struct {
	Items []PurchaseRequestItem
}

// TicketTypeLookup reports the catalog entry for a ticket type id, if any.
type TicketTypeLookup func(id uuid.UUID) (TicketType, bool)

// ValidateForCreate gates a new purchase request. On success it returns a
// normalized pending request with every approved quantity reset to zero and
// no queue number. Approval is never accepted from the caller.
func ValidateForCreate(candidate NewPurchaseRequest, round SalesRound, lookup TicketTypeLookup, now time.Time) (PurchaseRequest, error) {
	if candidate.SalesRoundID == uuid.Nil {
		return PurchaseRequest{}, &ValidationError{Kind: MissingReference, Field: "sales_round_id", Reason: "sales round id cannot be empty"}
	}
	if len(candidate.Items) == 0 {
		return PurchaseRequest{}, &ValidationError{Kind: EmptyRequest, Field: "items", Reason: "there cannot be 0 item in the purchase request"}
	}

	items := make([]PurchaseRequestItem, 0, len(candidate.Items))
	for _, item := range candidate.Items {
		if item.TicketTypeID == uuid.Nil {
			return PurchaseRequest{}, &ValidationError{Kind: MissingReference, Field: "ticket_type_id", Reason: "ticket type id cannot be empty"}
		}
		ticketType, ok := lookup(item.TicketTypeID)
		if !ok {
			return PurchaseRequest{}, &ValidationError{Kind: MissingReference, Field: "ticket_type_id", Reason: fmt.Sprintf("ticket type %s does not exist", item.TicketTypeID)}
		}
		items = append(items, PurchaseRequestItem{
			TicketType:        ticketType,
			QuantityRequested: item.QuantityRequested,
		})
	}

	if !round.OpenAt(now) {
		return PurchaseRequest{}, &ValidationError{Kind: WindowClosed, Field: "sales_round_id", Reason: "request rejected due to sales round not ongoing"}
	}
	if err := checkTicketLimit(items); err != nil {
		return PurchaseRequest{}, err
	}

	return PurchaseRequest{
		CustomerID:   candidate.CustomerID,
		SalesRoundID: candidate.SalesRoundID,
		Status:       StatusPending,
		Items:        items,
	}, nil
}

// ValidateForUpdate gates a full item-list replacement on an existing
// request. Old items are discarded, approved quantities reset to zero, and
// the request's status and queue number are left untouched.
func ValidateForUpdate(candidate UpdatePurchaseRequest, existing PurchaseRequest, round SalesRound, now time.Time) (PurchaseRequest, error) {
	if existing.SalesRoundID == uuid.Nil {
		return PurchaseRequest{}, &ValidationError{Kind: MissingReference, Field: "sales_round_id", Reason: "sales round id cannot be empty"}
	}
	if len(candidate.Items) == 0 {
		return PurchaseRequest{}, &ValidationError{Kind: EmptyRequest, Field: "items", Reason: "there cannot be 0 item in the purchase request"}
	}

	items := make([]PurchaseRequestItem, 0, len(candidate.Items))
	for _, item := range candidate.Items {
		if item.TicketType.ID == uuid.Nil {
			return PurchaseRequest{}, &ValidationError{Kind: MissingReference, Field: "ticket_type_id", Reason: "ticket type cannot be empty"}
		}
		items = append(items, PurchaseRequestItem{
			TicketType:        item.TicketType,
			QuantityRequested: item.QuantityRequested,
		})
	}

	if !round.OpenAt(now) {
		return PurchaseRequest{}, &ValidationError{Kind: WindowClosed, Field: "sales_round_id", Reason: "request rejected due to sales round not ongoing"}
	}
	if err := checkTicketLimit(items); err != nil {
		return PurchaseRequest{}, err
	}

	updated := existing
	updated.Items = items
	return updated, nil
}

func checkTicketLimit(items []PurchaseRequestItem) error {
	total := 0
	for _, item := range items {
		if item.QuantityRequested <= 0 {
			return &ValidationError{Kind: QuantityOutOfBounds, Field: "items", Reason: "quantity requested must be positive"}
		}
		total += item.QuantityRequested
	}
	if total > MaxTicketsPerRequest {
		return &ValidationError{Kind: QuantityOutOfBounds, Field: "items", Reason: fmt.Sprintf("purchase request exceeds %d ticket limit", MaxTicketsPerRequest)}
	}
	return nil
}
