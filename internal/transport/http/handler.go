package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/mealdash/orderflow/internal/identity"
	orderapp "github.com/mealdash/orderflow/internal/order/application"
	orderdomain "github.com/mealdash/orderflow/internal/order/domain"
	payapp "github.com/mealdash/orderflow/internal/payment/application"
	"github.com/mealdash/orderflow/internal/realtime"
	refundapp "github.com/mealdash/orderflow/internal/refund/application"
	refunddomain "github.com/mealdash/orderflow/internal/refund/domain"
	trackapp "github.com/mealdash/orderflow/internal/tracking/application"
)

// CourierPresence lets couriers join and leave the dispatch roster.
type CourierPresence interface {
	GoOnline(ctx context.Context, courierID string) error
	GoOffline(ctx context.Context, courierID string) error
}

// Handler is the thin HTTP edge: decode, resolve the principal the
// auth layer put in the headers, call a service, encode. No invariants
// live here.
type Handler struct {
	log      *slog.Logger
	orders   *orderapp.Service
	tracking *trackapp.Service
	payments *payapp.Service
	refunds  *refundapp.Service
	presence CourierPresence
	ws       *realtime.WSHandler
	tracer   trace.Tracer
}

func NewHandler(log *slog.Logger, orders *orderapp.Service, tracking *trackapp.Service, payments *payapp.Service, refunds *refundapp.Service, presence CourierPresence, ws *realtime.WSHandler) *Handler {
	return &Handler{
		log:      log,
		orders:   orders,
		tracking: tracking,
		payments: payments,
		refunds:  refunds,
		presence: presence,
		ws:       ws,
		tracer:   otel.Tracer("orderflow/transport/http"),
	}
}

func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Method(http.MethodGet, "/ws", h.ws)

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.createOrder)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getOrder)
			r.Post("/status", h.updateStatus)
			r.Post("/cancel", h.cancelOrder)
			r.Post("/reject", h.rejectOrder)
			r.Post("/assign", h.assignCourier)
			r.Post("/rating", h.rateOrder)
			r.Post("/location", h.recordLocation)
			r.Get("/tracking", h.getTracking)
			r.Get("/refunds", h.listRefunds)
		})
	})

	r.Route("/payments", func(r chi.Router) {
		r.Post("/intent", h.createIntent)
		r.Post("/notify", h.gatewayNotify)
		r.Get("/return", h.gatewayReturn)
	})

	r.Route("/couriers", func(r chi.Router) {
		r.Post("/online", h.courierOnline)
		r.Post("/offline", h.courierOffline)
	})

	r.Route("/refunds", func(r chi.Router) {
		r.Post("/", h.createRefund)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getRefund)
			r.Post("/approve", h.approveRefund)
			r.Post("/reject", h.rejectRefund)
			r.Post("/process", h.processRefund)
		})
	})

	return r
}

// The upstream auth layer resolves credentials and forwards the
// principal in these headers; the core only does role/ownership checks.
func principalFrom(r *http.Request) (identity.Principal, bool) {
	p := identity.Principal{
		ID:   r.Header.Get("X-Actor-Id"),
		Role: identity.Role(r.Header.Get("X-Actor-Role")),
	}
	switch p.Role {
	case identity.RoleCustomer, identity.RoleRestaurant, identity.RoleCourier, identity.RoleAdmin:
		return p, p.ID != ""
	}
	return identity.Principal{}, false
}

type createOrderRequest struct {
	RestaurantID  string                    `json:"restaurant_id"`
	PaymentMethod orderdomain.PaymentMethod `json:"payment_method"`
	Address       addressView               `json:"delivery_address"`
	Items         []orderItemRequest        `json:"items"`
	DiscountCents int64                     `json:"discount_cents"`
	ServiceCharge int64                     `json:"service_charge_cents"`
}

type orderItemRequest struct {
	MenuItemID string   `json:"menu_item_id"`
	Quantity   int      `json:"quantity"`
	Options    []string `json:"options,omitempty"`
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateOrder")
	defer span.End()

	p, ok := principalFrom(r)
	if !ok {
		h.unauthenticated(w)
		return
	}
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid body")
		return
	}
	items := make([]orderapp.CreateOrderItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, orderapp.CreateOrderItem{
			MenuItemID: it.MenuItemID,
			Quantity:   it.Quantity,
			Options:    it.Options,
		})
	}
	order, err := h.orders.CreateOrder(ctx, p, orderapp.CreateOrderInput{
		RestaurantID:  req.RestaurantID,
		PaymentMethod: req.PaymentMethod,
		Address: orderdomain.Address{
			Latitude:  req.Address.Latitude,
			Longitude: req.Address.Longitude,
			Street:    req.Address.Street,
			City:      req.Address.City,
		},
		Items:         items,
		DiscountCents: req.DiscountCents,
		ServiceCharge: req.ServiceCharge,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toOrderView(order))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetOrder")
	defer span.End()

	p, ok := principalFrom(r)
	if !ok {
		h.unauthenticated(w)
		return
	}
	order, err := h.orders.Get(ctx, p, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toOrderView(order))
}

type statusRequest struct {
	Status orderdomain.OrderStatus `json:"status"`
	Reason string                  `json:"reason"`
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "UpdateOrderStatus")
	defer span.End()

	p, ok := principalFrom(r)
	if !ok {
		h.unauthenticated(w)
		return
	}
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid body")
		return
	}
	order, err := h.orders.Transition(ctx, p, chi.URLParam(r, "id"), req.Status, req.Reason)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toOrderView(order))
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CancelOrder")
	defer span.End()

	p, ok := principalFrom(r)
	if !ok {
		h.unauthenticated(w)
		return
	}
	var req reasonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid body")
		return
	}
	order, err := h.orders.Cancel(ctx, p, chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toOrderView(order))
}

func (h *Handler) rejectOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "RejectOrder")
	defer span.End()

	p, ok := principalFrom(r)
	if !ok {
		h.unauthenticated(w)
		return
	}
	var req reasonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid body")
		return
	}
	order, err := h.orders.Reject(ctx, p, chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toOrderView(order))
}

type assignRequest struct {
	CourierID string `json:"courier_id"`
}

func (h *Handler) assignCourier(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "AssignCourier")
	defer span.End()

	p, ok := principalFrom(r)
	if !ok {
		h.unauthenticated(w)
		return
	}
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid body")
		return
	}
	order, err := h.orders.AssignCourier(ctx, p, chi.URLParam(r, "id"), req.CourierID)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toOrderView(order))
}

type ratingRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

func (h *Handler) rateOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "RateOrder")
	defer span.End()

	p, ok := principalFrom(r)
	if !ok {
		h.unauthenticated(w)
		return
	}
	var req ratingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid body")
		return
	}
	if err := h.orders.Rate(ctx, p, chi.URLParam(r, "id"), req.Rating, req.Comment); err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type locationRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (h *Handler) recordLocation(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "RecordLocation")
	defer span.End()

	p, ok := principalFrom(r)
	if !ok {
		h.unauthenticated(w)
		return
	}
	var req locationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid body")
		return
	}
	tr, err := h.tracking.RecordLocation(ctx, p, chi.URLParam(r, "id"), req.Latitude, req.Longitude)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toTrackingView(tr))
}

func (h *Handler) getTracking(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetTracking")
	defer span.End()

	p, ok := principalFrom(r)
	if !ok {
		h.unauthenticated(w)
		return
	}
	tr, err := h.tracking.Get(ctx, p, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toTrackingView(tr))
}

type intentRequest struct {
	OrderID     string `json:"order_id"`
	AmountCents int64  `json:"amount_cents"`
}

func (h *Handler) createIntent(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreatePaymentIntent")
	defer span.End()

	p, ok := principalFrom(r)
	if !ok {
		h.unauthenticated(w)
		return
	}
	var req intentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid body")
		return
	}
	intent, err := h.payments.CreateIntent(ctx, p, req.OrderID, req.AmountCents)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, intent)
}

// gatewayNotify is the asynchronous webhook. The gateway only
// understands its own acknowledgement codes, so every outcome —
// including verification failures — is a 200 with a code; internal
// detail stays in the logs.
func (h *Handler) gatewayNotify(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GatewayNotify")
	defer span.End()

	if err := r.ParseForm(); err != nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"code": ackError, "message": "unreadable payload"})
		return
	}
	params := make(map[string]string, len(r.Form))
	for k := range r.Form {
		params[k] = r.Form.Get(k)
	}

	if _, err := h.payments.VerifyNotification(ctx, params); err != nil {
		h.log.Warn("gateway notification rejected", "err", err)
		h.writeJSON(w, http.StatusOK, map[string]string{"code": ackFor(err), "message": "rejected"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"code": ackOK, "message": "confirmed"})
}

func (h *Handler) gatewayReturn(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GatewayReturn")
	defer span.End()

	params := make(map[string]string)
	for k := range r.URL.Query() {
		params[k] = r.URL.Query().Get(k)
	}

	res, err := h.payments.HandleReturn(ctx, params)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, returnView{
		OrderID:     res.OrderID,
		OrderNumber: res.OrderNumber,
		Outcome:     res.Outcome,
		AmountCents: res.AmountCents,
	})
}

type createRefundRequest struct {
	OrderID     string                    `json:"order_id"`
	AmountCents int64                     `json:"amount_cents"`
	Reason      string                    `json:"reason"`
	Method      refunddomain.RefundMethod `json:"method"`
}

func (h *Handler) createRefund(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateRefund")
	defer span.End()

	p, ok := principalFrom(r)
	if !ok {
		h.unauthenticated(w)
		return
	}
	var req createRefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid body")
		return
	}
	refund, err := h.refunds.Create(ctx, p, req.OrderID, req.AmountCents, req.Reason, req.Method)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toRefundView(refund))
}

func (h *Handler) getRefund(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetRefund")
	defer span.End()

	p, ok := principalFrom(r)
	if !ok {
		h.unauthenticated(w)
		return
	}
	refund, err := h.refunds.Get(ctx, p, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toRefundView(refund))
}

func (h *Handler) listRefunds(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ListRefunds")
	defer span.End()

	p, ok := principalFrom(r)
	if !ok {
		h.unauthenticated(w)
		return
	}
	refunds, err := h.refunds.ListByOrder(ctx, p, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	views := make([]refundView, 0, len(refunds))
	for _, rf := range refunds {
		views = append(views, toRefundView(rf))
	}
	h.writeJSON(w, http.StatusOK, views)
}

type approveRequest struct {
	Notes string `json:"notes"`
}

func (h *Handler) approveRefund(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ApproveRefund")
	defer span.End()

	p, ok := principalFrom(r)
	if !ok {
		h.unauthenticated(w)
		return
	}
	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid body")
		return
	}
	refund, err := h.refunds.Approve(ctx, p, chi.URLParam(r, "id"), req.Notes)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toRefundView(refund))
}

func (h *Handler) rejectRefund(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "RejectRefund")
	defer span.End()

	p, ok := principalFrom(r)
	if !ok {
		h.unauthenticated(w)
		return
	}
	var req reasonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid body")
		return
	}
	refund, err := h.refunds.Reject(ctx, p, chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toRefundView(refund))
}

func (h *Handler) processRefund(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ProcessRefund")
	defer span.End()

	p, ok := principalFrom(r)
	if !ok {
		h.unauthenticated(w)
		return
	}
	refund, err := h.refunds.Process(ctx, p, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toRefundView(refund))
}

func (h *Handler) courierOnline(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CourierOnline")
	defer span.End()

	p, ok := principalFrom(r)
	if !ok || p.Role != identity.RoleCourier {
		h.unauthenticated(w)
		return
	}
	if err := h.presence.GoOnline(ctx, p.ID); err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "online"})
}

func (h *Handler) courierOffline(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CourierOffline")
	defer span.End()

	p, ok := principalFrom(r)
	if !ok || p.Role != identity.RoleCourier {
		h.unauthenticated(w)
		return
	}
	if err := h.presence.GoOffline(ctx, p.ID); err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "offline"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("encode response", "err", err)
	}
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", "err", err)
		msg = "internal error"
	}
	h.writeJSON(w, status, map[string]string{"error": msg})
}

func (h *Handler) badRequest(w http.ResponseWriter, msg string) {
	h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

func (h *Handler) unauthenticated(w http.ResponseWriter) {
	h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing or invalid principal"})
}
