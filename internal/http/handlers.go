package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/robertarktes/ticket-admission/internal/admission"
	"github.com/robertarktes/ticket-admission/internal/allocation"
	mongoadapter "github.com/robertarktes/ticket-admission/internal/adapters/mongo"
	"github.com/robertarktes/ticket-admission/internal/config"
	"github.com/robertarktes/ticket-admission/internal/domain"
	"github.com/robertarktes/ticket-admission/internal/idempotency"
	"github.com/robertarktes/ticket-admission/internal/observability"
)

type Handlers struct {
	cfg       *config.Config
	admission *admission.Service
	allocator *allocation.Engine
	idemp     *idempotency.Idempotency
	audit     *mongoadapter.AuditLogger
	logger    observability.Logger
}

func NewHandlers(cfg *config.Config, svc *admission.Service, allocator *allocation.Engine, idemp *idempotency.Idempotency, audit *mongoadapter.AuditLogger, logger observability.Logger) *Handlers {
	return &Handlers{
		cfg:       cfg,
		admission: svc,
		allocator: allocator,
		idemp:     idemp,
		audit:     audit,
		logger:    logger,
	}
}

type purchaseRequestItemPayload struct {
	TicketTypeID      uuid.UUID `json:"ticket_type_id"`
	QuantityRequested int       `json:"quantity_requested"`
}

func toItems(payload []purchaseRequestItemPayload) []domain.NewPurchaseRequestItem {
	items := make([]domain.NewPurchaseRequestItem, len(payload))
	for i, p := range payload {
		items[i] = domain.NewPurchaseRequestItem{
			TicketTypeID:      p.TicketTypeID,
			QuantityRequested: p.QuantityRequested,
		}
	}
	return items
}

func purchaseRequestJSON(pr domain.PurchaseRequest) map[string]interface{} {
	items := make([]map[string]interface{}, len(pr.Items))
	for i, item := range pr.Items {
		items[i] = map[string]interface{}{
			"ticket_type_id":     item.TicketType.ID,
			"ticket_type_name":   item.TicketType.Name,
			"price":              item.TicketType.Price,
			"quantity_requested": item.QuantityRequested,
			"quantity_approved":  item.QuantityApproved,
		}
	}
	resp := map[string]interface{}{
		"id":             pr.ID,
		"customer_id":    pr.CustomerID,
		"sales_round_id": pr.SalesRoundID,
		"status":         pr.Status,
		"items":          items,
	}
	if pr.QueueNumber != nil {
		resp["queue_number"] = *pr.QueueNumber
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) []byte {
	data, _ := json.Marshal(body)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
	return data
}

func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	var vErr *domain.ValidationError
	switch {
	case errors.As(err, &vErr):
		observability.ValidationRejections.WithLabelValues(string(vErr.Kind)).Inc()
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error": map[string]interface{}{
				"kind":   vErr.Kind,
				"field":  vErr.Field,
				"reason": vErr.Reason,
			},
		})
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrAlreadyAllocated):
		http.Error(w, "sales round already allocated", http.StatusConflict)
	case errors.Is(err, domain.ErrSerializationFailure):
		http.Error(w, "conflict, try again", http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *Handlers) CreatePurchaseRequest(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("Idempotency-Key")
	existing, err := h.idemp.Get(r.Context(), key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if existing != nil {
		w.WriteHeader(existing.Status)
		w.Write(existing.Result)
		return
	}

	var req struct {
		CustomerID   string                       `json:"customer_id"`
		SalesRoundID uuid.UUID                    `json:"sales_round_id"`
		Items        []purchaseRequestItemPayload `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	pr, err := h.admission.Create(r.Context(), domain.NewPurchaseRequest{
		CustomerID:   req.CustomerID,
		SalesRoundID: req.SalesRoundID,
		Items:        toItems(req.Items),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	data := writeJSON(w, http.StatusCreated, purchaseRequestJSON(pr))
	h.idemp.Set(r.Context(), key, idempotency.Response{Status: http.StatusCreated, Result: data})
	h.audit.LogPurchaseRequest(r.Context(), "purchase_request.created", pr)
}

func (h *Handlers) UpdatePurchaseRequest(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	var req struct {
		Items []purchaseRequestItemPayload `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	pr, err := h.admission.Update(r.Context(), id, toItems(req.Items))
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, purchaseRequestJSON(pr))
	h.audit.LogPurchaseRequest(r.Context(), "purchase_request.updated", pr)
}

func (h *Handlers) GetPurchaseRequest(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	pr, err := h.admission.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, purchaseRequestJSON(pr))
}

func (h *Handlers) ListPurchaseRequests(w http.ResponseWriter, r *http.Request) {
	var (
		requests []domain.PurchaseRequest
		err      error
	)
	switch {
	case r.URL.Query().Get("sales_round_id") != "":
		roundID, parseErr := uuid.Parse(r.URL.Query().Get("sales_round_id"))
		if parseErr != nil {
			http.Error(w, "invalid sales_round_id", http.StatusBadRequest)
			return
		}
		requests, err = h.admission.ListBySalesRound(r.Context(), roundID)
	case r.URL.Query().Get("customer_id") != "":
		requests, err = h.admission.ListByCustomer(r.Context(), r.URL.Query().Get("customer_id"))
	default:
		http.Error(w, "sales_round_id or customer_id required", http.StatusBadRequest)
		return
	}
	if err != nil {
		h.writeError(w, err)
		return
	}

	out := make([]map[string]interface{}, len(requests))
	for i, pr := range requests {
		out[i] = purchaseRequestJSON(pr)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"purchase_requests": out})
}

// AllocateQueueNumbers is the ops trigger for a round's allocation run; the
// allocation worker drives the same engine off round-close events.
func (h *Handlers) AllocateQueueNumbers(w http.ResponseWriter, r *http.Request) {
	roundID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	start := time.Now()
	err = h.allocator.Allocate(r.Context(), roundID)
	observability.AllocationDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		observability.AllocationsTotal.WithLabelValues("ok").Inc()
	case errors.Is(err, domain.ErrAlreadyAllocated):
		observability.AllocationsTotal.WithLabelValues("already_allocated").Inc()
	case errors.Is(err, domain.ErrSerializationFailure):
		observability.AllocationsTotal.WithLabelValues("conflict").Inc()
	default:
		observability.AllocationsTotal.WithLabelValues("error").Inc()
	}
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.audit.LogAllocation(r.Context(), roundID)
	writeJSON(w, http.StatusOK, map[string]interface{}{"sales_round_id": roundID, "status": domain.RoundStatusAllocated})
}

// ResetPurchaseRequests wipes the store. Test and ops tooling only.
func (h *Handlers) ResetPurchaseRequests(w http.ResponseWriter, r *http.Request) {
	if err := h.admission.DeleteAll(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}
