package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusPending = "PENDING"

	RoundStatusOpen      = "OPEN"
	RoundStatusClosed    = "CLOSED"
	RoundStatusAllocated = "ALLOCATED"
)

// MaxTicketsPerRequest caps the total quantity one purchase request may ask
// for across all of its items.
const MaxTicketsPerRequest = 4

type SalesRound struct {
	ID          uuid.UUID
	EventID     uuid.UUID
	Status      string
	WindowStart time.Time
	WindowEnd   time.Time
}

// OpenAt reports whether t falls inside the sales window, boundaries included.
func (r SalesRound) OpenAt(t time.Time) bool {
	return !t.Before(r.WindowStart) && !t.After(r.WindowEnd)
}

type TicketType struct {
	ID      uuid.UUID
	EventID uuid.UUID
	Name    string
	Price   float64
}

type PurchaseRequest struct {
	ID           uuid.UUID
	CustomerID   string
	SalesRoundID uuid.UUID
	Status       string
	QueueNumber  *int64
	Items        []PurchaseRequestItem
}

type PurchaseRequestItem struct {
	TicketType        TicketType
	QuantityRequested int
	QuantityApproved  int
}

func (p PurchaseRequest) TotalRequested() int {
	total := 0
	for _, item := range p.Items {
		total += item.QuantityRequested
	}
	return total
}
