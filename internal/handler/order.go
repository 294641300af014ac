package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront-orders/internal/order"
)

// AdminUserHeader names the header carrying the acting admin.
const AdminUserHeader = "X-Admin-User"

const sseHeartbeat = 30 * time.Second

type UpdateStatusRequest struct {
	Status order.OrderStatus `json:"status" validate:"required"`
	Note   string            `json:"note,omitempty"`
}

type BulkStatusRequest struct {
	OrderIDs []uuid.UUID       `json:"orderIds" validate:"required,min=1"`
	Status   order.OrderStatus `json:"status" validate:"required"`
}

type BulkStatusResponse struct {
	Updated int           `json:"updated"`
	Orders  []order.Order `json:"orders"`
}

type AdminNoteRequest struct {
	Note string `json:"note" validate:"required"`
}

type OrderHandler struct {
	service  order.Service
	validate *validator.Validate
}

func NewOrderHandler(service order.Service) *OrderHandler {
	return &OrderHandler{
		service:  service,
		validate: validator.New(),
	}
}

func (h *OrderHandler) RegisterRoutes(router chi.Router) {
	router.Route("/orders", func(r chi.Router) {
		r.Get("/", h.handleListOrders)
		r.Post("/", h.handleCreateOrder)
		r.Get("/stats", h.handleGetStats)
		r.Get("/events", h.handleEvents)
		r.Post("/bulk-status", h.handleBulkUpdateStatus)
		r.Get("/{id}", h.handleGetOrder)
		r.Patch("/{id}", h.handleUpdateOrder)
		r.Delete("/{id}", h.handleDeleteOrder)
		r.Patch("/{id}/status", h.handleUpdateStatus)
		r.Post("/{id}/notes", h.handleAddNote)
		r.Patch("/{id}/shipping", h.handleUpdateShipping)
	})
}

func (h *OrderHandler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter, err := parseFilter(q.Get("status"), q.Get("q"), q.Get("from"), q.Get("to"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	field, dir, err := order.ParseSort(q.Get("sort"), q.Get("dir"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	var orders []order.Order
	if filter == (order.Filter{}) {
		orders, err = h.service.FetchOrders(r.Context())
	} else {
		orders, err = h.service.FilterOrders(r.Context(), filter)
	}
	if err != nil && orders == nil {
		log.Error().Err(err).Msg("Failed to list orders via service")
		respondWithError(w, mapErrorToStatusCode(err), clientMessage(err, "Failed to list orders"))
		return
	}

	respondWithResult(w, http.StatusOK, order.SortOrders(orders, field, dir), err)
}

func parseFilter(status, term, from, to string) (order.Filter, error) {
	f := order.Filter{
		Status:     order.OrderStatus(status),
		SearchTerm: strings.TrimSpace(term),
	}
	if f.Status != "" && !f.Status.Valid() {
		return order.Filter{}, fmt.Errorf("unknown status %q", status)
	}
	if from == "" && to == "" {
		return f, nil
	}

	var dr order.DateRange
	var err error
	if from != "" {
		if dr.Start, err = parseDate(from, false); err != nil {
			return order.Filter{}, fmt.Errorf("invalid from: %w", err)
		}
	}
	if to != "" {
		if dr.End, err = parseDate(to, true); err != nil {
			return order.Filter{}, fmt.Errorf("invalid to: %w", err)
		}
	}
	if !dr.Start.IsZero() && !dr.End.IsZero() && dr.End.Before(dr.Start) {
		return order.Filter{}, errors.New("to must not be before from")
	}
	f.DateRange = &dr
	return f, nil
}

// parseDate accepts RFC 3339 timestamps or plain dates. A plain end date
// covers the whole day.
func parseDate(s string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC 3339 or YYYY-MM-DD, got %q", s)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func (h *OrderHandler) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetOrderStats(r.Context())
	if err != nil && !errors.Is(err, order.ErrPersistFailed) {
		log.Error().Err(err).Msg("Failed to compute order stats via service")
		respondWithError(w, mapErrorToStatusCode(err), "Failed to compute order stats")
		return
	}
	respondWithResult(w, http.StatusOK, stats, err)
}

func (h *OrderHandler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var draft order.OrderDraft
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&draft); err != nil {
		log.Warn().Err(err).Msg("Failed to decode request body")
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request payload %v", err))
		return
	}
	if err := h.validate.Struct(draft); err != nil {
		respondWithValidationError(w, err)
		return
	}

	created, err := h.service.CreateOrder(r.Context(), draft)
	if created == nil {
		log.Error().Err(err).Msg("Failed to create order via service")
		respondWithError(w, mapErrorToStatusCode(err), clientMessage(err, "Failed to create order"))
		return
	}

	respondWithResult(w, http.StatusCreated, created, err)
}

func (h *OrderHandler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	found, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", id).Msg("Failed to get order via service")
		respondWithError(w, mapErrorToStatusCode(err), clientMessage(err, "Failed to get order"))
		return
	}
	respondWithJSON(w, http.StatusOK, found)
}

func (h *OrderHandler) handleUpdateOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	var patch order.OrderPatch
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&patch); err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request payload %v", err))
		return
	}
	patch.UpdatedBy = adminUser(r)

	updated, err := h.service.UpdateOrder(r.Context(), id, patch)
	h.respondWithOrder(w, updated, err, id, "Failed to update order")
}

func (h *OrderHandler) handleDeleteOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	err := h.service.DeleteOrder(r.Context(), id)
	if errors.Is(err, order.ErrPersistFailed) {
		w.Header().Set("Warning", persistWarning)
	} else if err != nil {
		log.Error().Err(err).Stringer("order_id", id).Msg("Failed to delete order via service")
		respondWithError(w, mapErrorToStatusCode(err), clientMessage(err, "Failed to delete order"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *OrderHandler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	var req UpdateStatusRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	updated, err := h.service.UpdateOrderStatus(r.Context(), id, req.Status, req.Note, adminUser(r))
	h.respondWithOrder(w, updated, err, id, "Failed to update order status")
}

func (h *OrderHandler) handleBulkUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req BulkStatusRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	updated, err := h.service.BulkUpdateStatus(r.Context(), req.OrderIDs, req.Status, adminUser(r))
	if err != nil && len(updated) == 0 {
		log.Error().Err(err).Int("orders", len(req.OrderIDs)).Msg("Failed to bulk update order status via service")
		respondWithError(w, mapErrorToStatusCode(err), clientMessage(err, "Failed to update orders"))
		return
	}
	if updated == nil {
		updated = []order.Order{}
	}
	respondWithResult(w, http.StatusOK, BulkStatusResponse{Updated: len(updated), Orders: updated}, err)
}

func (h *OrderHandler) handleAddNote(w http.ResponseWriter, r *http.Request) {
	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	var req AdminNoteRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	updated, err := h.service.AddAdminNote(r.Context(), id, req.Note)
	h.respondWithOrder(w, updated, err, id, "Failed to add admin note")
}

func (h *OrderHandler) handleUpdateShipping(w http.ResponseWriter, r *http.Request) {
	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	var info order.ShippingInfoPatch
	if !h.decodeAndValidate(w, r, &info) {
		return
	}

	updated, err := h.service.UpdateShippingInfo(r.Context(), id, info)
	h.respondWithOrder(w, updated, err, id, "Failed to update shipping info")
}

// handleEvents streams change events as Server-Sent Events until the client goes away.
func (h *OrderHandler) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondWithError(w, http.StatusInternalServerError, "Streaming is not supported")
		return
	}

	events := make(chan order.ChangeEvent, 16)
	unsubscribe := h.service.SubscribeToOrders(func(ev order.ChangeEvent) {
		select {
		case events <- ev:
		default:
			log.Warn().Str("change_type", string(ev.Type)).Msg("Dropping change event for slow SSE client")
		}
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev := <-events:
			data, err := json.Marshal(ev)
			if err != nil {
				log.Error().Err(err).Msg("Failed to encode change event")
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h *OrderHandler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		log.Warn().Err(err).Msg("Failed to decode request body")
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request payload %v", err))
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		respondWithValidationError(w, err)
		return false
	}
	return true
}

func (h *OrderHandler) respondWithOrder(w http.ResponseWriter, o *order.Order, err error, id uuid.UUID, fallback string) {
	if o == nil {
		log.Error().Err(err).Stringer("order_id", id).Msg(fallback + " via service")
		respondWithError(w, mapErrorToStatusCode(err), clientMessage(err, fallback))
		return
	}
	respondWithResult(w, http.StatusOK, o, err)
}

func orderIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idParam := chi.URLParam(r, "id")
	id, err := uuid.FromString(idParam)
	if err != nil {
		log.Warn().Err(err).Str("order_id", idParam).Msg("Failed to parse id parameter from URL")
		respondWithError(w, http.StatusBadRequest, "Invalid id parameter")
		return uuid.Nil, false
	}
	return id, true
}

func adminUser(r *http.Request) string {
	if u := strings.TrimSpace(r.Header.Get(AdminUserHeader)); u != "" {
		return u
	}
	return order.ActorAdmin
}
